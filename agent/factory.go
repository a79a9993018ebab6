package agent

import (
	"sync"

	"go.uber.org/zap"

	"github.com/BaSui01/taskflow/config"
	"github.com/BaSui01/taskflow/types"
)

// Constructor builds a custom agent variant from its descriptor.
type Constructor func(cfg config.AgentConfig, logger *zap.Logger) (Agent, error)

// Factory maps agent descriptors to constructed agents. Custom variants
// register a constructor under the name carried in params["variant"].
type Factory struct {
	mu      sync.RWMutex
	customs map[string]Constructor
	logger  *zap.Logger
}

// NewFactory creates a factory.
func NewFactory(logger *zap.Logger) *Factory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Factory{
		customs: make(map[string]Constructor),
		logger:  logger,
	}
}

// RegisterCustom adds a constructor for a custom variant name.
func (f *Factory) RegisterCustom(name string, ctor Constructor) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.customs[name] = ctor
}

// Create constructs the agent for a validated descriptor.
func (f *Factory) Create(cfg config.AgentConfig) (Agent, error) {
	switch cfg.Type {
	case config.AgentChatLLM:
		return NewChatAgent(cfg, f.logger), nil
	case config.AgentJSONRPCTool:
		return NewJSONRPCAgent(cfg, f.logger), nil
	case config.AgentGenericHTTP:
		return NewHTTPAgent(cfg, f.logger), nil
	case config.AgentCustom:
		variant, _ := cfg.Params["variant"].(string)
		if variant == "" {
			return nil, types.Errorf(types.ErrConfigInvalid, "custom agent %q declares no params.variant", cfg.Name)
		}
		f.mu.RLock()
		ctor, ok := f.customs[variant]
		f.mu.RUnlock()
		if !ok {
			return nil, types.Errorf(types.ErrConfigInvalid, "custom agent variant %q is not registered", variant)
		}
		return ctor(cfg, f.logger)
	default:
		return nil, types.Errorf(types.ErrConfigInvalid, "unknown agent type %q", cfg.Type)
	}
}
