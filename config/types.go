package config

import (
	"time"
)

// AgentType tags the transport variant of an agent.
type AgentType string

const (
	AgentChatLLM     AgentType = "chat_llm"
	AgentJSONRPCTool AgentType = "jsonrpc_tool"
	AgentGenericHTTP AgentType = "generic_http"
	AgentCustom      AgentType = "custom"
)

// FailureStrategy controls what happens after any task reaches FAILED.
type FailureStrategy string

const (
	StopOnFirstFailure       FailureStrategy = "stop_on_first_failure"
	ContinueOnFailure        FailureStrategy = "continue_on_failure"
	PartialCompletionAllowed FailureStrategy = "partial_completion_allowed"
)

// AuthConfig is the optional authentication bundle of an agent.
type AuthConfig struct {
	// Type is one of bearer, api_key, basic.
	Type string `yaml:"type" json:"type"`
	// Token is the bearer token (type=bearer).
	Token string `yaml:"token,omitempty" json:"token,omitempty"`
	// Key is the API key value (type=api_key).
	Key string `yaml:"key,omitempty" json:"key,omitempty"`
	// Header carries the API key header name; defaults to X-API-Key.
	Header string `yaml:"header,omitempty" json:"header,omitempty"`
	// Username and Password are the basic credentials (type=basic).
	Username string `yaml:"username,omitempty" json:"username,omitempty"`
	Password string `yaml:"password,omitempty" json:"password,omitempty"`
}

// RetryConfig bounds the retry controller for an agent or a single task.
// A task-level RetryConfig completely overrides the agent's.
type RetryConfig struct {
	// MaxAttempts is the total number of invocations, first try included.
	MaxAttempts int `yaml:"max_attempts" json:"max_attempts"`
	// InitialDelay is the backoff before the second attempt.
	InitialDelay Duration `yaml:"initial_delay" json:"initial_delay"`
	// MaxDelay caps the exponential growth.
	MaxDelay Duration `yaml:"max_delay" json:"max_delay"`
	// Multiplier is the exponential base; must be > 1.
	Multiplier float64 `yaml:"multiplier" json:"multiplier"`
	// Jitter scales each delay by a uniform factor in [0.5, 1.5].
	Jitter bool `yaml:"jitter" json:"jitter"`
}

// BreakerConfig configures the per-agent circuit breaker.
type BreakerConfig struct {
	// FailureThreshold is the consecutive-failure count that opens the breaker.
	FailureThreshold int `yaml:"failure_threshold" json:"failure_threshold"`
	// RecoveryTimeout is how long the breaker stays open before probing.
	RecoveryTimeout Duration `yaml:"recovery_timeout" json:"recovery_timeout"`
}

// AgentConfig describes one named client of an external service.
type AgentConfig struct {
	Name     string      `yaml:"name" json:"name"`
	Type     AgentType   `yaml:"type" json:"type"`
	Endpoint string      `yaml:"endpoint" json:"endpoint"`
	Auth     *AuthConfig `yaml:"auth,omitempty" json:"auth,omitempty"`
	// Timeout is the default per-invocation deadline.
	Timeout Duration       `yaml:"timeout" json:"timeout"`
	Retry   *RetryConfig   `yaml:"retry,omitempty" json:"retry,omitempty"`
	Breaker *BreakerConfig `yaml:"breaker,omitempty" json:"breaker,omitempty"`
	// MaxConcurrency caps in-flight invocations against this agent.
	// Zero means unlimited.
	MaxConcurrency int `yaml:"max_concurrency,omitempty" json:"max_concurrency,omitempty"`
	// Params holds free-form per-variant parameters (model defaults merged
	// into every chat request, the registered variant name for custom
	// agents). The generic HTTP variant does not read them; its headers
	// come from the auth bundle and the task's headers param.
	Params map[string]any `yaml:"params,omitempty" json:"params,omitempty"`
}

// TaskConfig describes one invocation of an agent action.
type TaskConfig struct {
	Name   string         `yaml:"name" json:"name"`
	Agent  string         `yaml:"agent" json:"agent"`
	Action string         `yaml:"action" json:"action"`
	Params map[string]any `yaml:"params,omitempty" json:"params,omitempty"`
	// Timeout overrides the agent's per-invocation deadline when > 0.
	Timeout Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`
	// Retry overrides the agent's retry policy entirely when present.
	Retry     *RetryConfig `yaml:"retry,omitempty" json:"retry,omitempty"`
	DependsOn []string     `yaml:"depends_on,omitempty" json:"depends_on,omitempty"`
	// ContinueOnFailure keeps dependents eligible when this task fails.
	ContinueOnFailure bool `yaml:"continue_on_failure,omitempty" json:"continue_on_failure,omitempty"`
}

// WorkflowConfig is the root configuration document.
type WorkflowConfig struct {
	Name              string          `yaml:"name" json:"name"`
	Description       string          `yaml:"description,omitempty" json:"description,omitempty"`
	Version           string          `yaml:"version,omitempty" json:"version,omitempty"`
	ParallelExecution bool            `yaml:"parallel_execution" json:"parallel_execution"`
	FailureStrategy   FailureStrategy `yaml:"failure_strategy" json:"failure_strategy"`
	// GlobalTimeout bounds the whole run. Zero means unbounded.
	GlobalTimeout Duration      `yaml:"global_timeout,omitempty" json:"global_timeout,omitempty"`
	Agents        []AgentConfig `yaml:"agents" json:"agents"`
	Tasks         []TaskConfig  `yaml:"tasks" json:"tasks"`
}

// Agent returns the agent descriptor with the given name.
func (w *WorkflowConfig) Agent(name string) (*AgentConfig, bool) {
	for i := range w.Agents {
		if w.Agents[i].Name == name {
			return &w.Agents[i], true
		}
	}
	return nil, false
}

// Task returns the task descriptor with the given name.
func (w *WorkflowConfig) Task(name string) (*TaskConfig, bool) {
	for i := range w.Tasks {
		if w.Tasks[i].Name == name {
			return &w.Tasks[i], true
		}
	}
	return nil, false
}

// EffectiveRetry resolves the retry policy for a task: the task override
// when present, else the agent policy.
func (t *TaskConfig) EffectiveRetry(agent *AgentConfig) *RetryConfig {
	if t.Retry != nil {
		return t.Retry
	}
	return agent.Retry
}

// EffectiveTimeout resolves the invocation deadline for a task.
func (t *TaskConfig) EffectiveTimeout(agent *AgentConfig) time.Duration {
	if t.Timeout > 0 {
		return t.Timeout.Std()
	}
	return agent.Timeout.Std()
}
