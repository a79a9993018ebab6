package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/BaSui01/taskflow/types"
)

// Loader reads a workflow document from a file or raw bytes, applies
// defaults and environment overrides, and validates the result.
//
// Usage:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("workflow.yaml").
//	    WithEnvPrefix("TASKFLOW").
//	    Load()
//
// Precedence: defaults → document → environment.
type Loader struct {
	path      string
	raw       []byte
	envPrefix string
}

// NewLoader creates a loader with no source configured.
func NewLoader() *Loader {
	return &Loader{}
}

// WithConfigPath sets the file to load. YAML and JSON are both accepted;
// yaml.v3 parses JSON as a subset of YAML.
func (l *Loader) WithConfigPath(path string) *Loader {
	l.path = path
	return l
}

// WithBytes sets an in-memory document, taking precedence over the path.
func (l *Loader) WithBytes(raw []byte) *Loader {
	l.raw = raw
	return l
}

// WithEnvPrefix enables environment overrides with the given prefix.
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// Load parses, defaults, overrides, and validates the document.
func (l *Loader) Load() (*WorkflowConfig, error) {
	raw := l.raw
	if raw == nil {
		if l.path == "" {
			return nil, types.NewError(types.ErrConfigInvalid, "no configuration source: set a path or raw bytes")
		}
		data, err := os.ReadFile(l.path)
		if err != nil {
			return nil, types.Errorf(types.ErrConfigInvalid, "read %s", l.path).WithCause(err)
		}
		raw = data
	}

	var cfg WorkflowConfig
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, types.NewError(types.ErrConfigInvalid, "parse configuration").WithCause(err)
	}

	ApplyDefaults(&cfg)

	if l.envPrefix != "" {
		l.applyEnv(&cfg)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnv overrides scalar workflow-level settings from the environment:
// <PREFIX>_PARALLEL_EXECUTION, <PREFIX>_FAILURE_STRATEGY,
// <PREFIX>_GLOBAL_TIMEOUT (seconds).
func (l *Loader) applyEnv(cfg *WorkflowConfig) {
	if v, ok := l.lookup("PARALLEL_EXECUTION"); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.ParallelExecution = b
		}
	}
	if v, ok := l.lookup("FAILURE_STRATEGY"); ok {
		cfg.FailureStrategy = FailureStrategy(strings.ToLower(v))
	}
	if v, ok := l.lookup("GLOBAL_TIMEOUT"); ok {
		if secs, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.GlobalTimeout = Seconds(secs)
		}
	}
}

func (l *Loader) lookup(key string) (string, bool) {
	return os.LookupEnv(fmt.Sprintf("%s_%s", l.envPrefix, key))
}

// Marshal serializes a validated document back to YAML. Agent and task
// order is preserved, so a load/marshal round trip is semantically stable.
func Marshal(cfg *WorkflowConfig) ([]byte, error) {
	return yaml.Marshal(cfg)
}
