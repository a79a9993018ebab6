package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/taskflow/agent"
	"github.com/BaSui01/taskflow/config"
	"github.com/BaSui01/taskflow/resilience"
	"github.com/BaSui01/taskflow/types"
)

// AgentHandler serves one-off agent connectivity tests.
type AgentHandler struct {
	factory *agent.Factory
	logger  *zap.Logger
}

// NewAgentHandler creates the handler.
func NewAgentHandler(factory *agent.Factory, logger *zap.Logger) *AgentHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if factory == nil {
		factory = agent.NewFactory(logger)
	}
	return &AgentHandler{
		factory: factory,
		logger:  logger.With(zap.String("handler", "agent")),
	}
}

// Register wires the routes onto the mux.
func (h *AgentHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/agents/test", h.Test)
}

// TestRequest describes one probe invocation.
type TestRequest struct {
	Agent  config.AgentConfig `json:"agent"`
	Action string             `json:"action"`
	Params map[string]any     `json:"params,omitempty"`
}

// TestResponse carries the normalized probe outcome.
type TestResponse struct {
	AgentName    string                `json:"agent_name"`
	Success      bool                  `json:"success"`
	ResponseTime float64               `json:"response_time"`
	Response     *types.InvokeResponse `json:"response,omitempty"`
	Error        string                `json:"error,omitempty"`
}

// Test constructs a throwaway agent from the supplied descriptor, drives a
// single action through a fresh resilience pipeline, and returns the
// normalized response.
func (h *AgentHandler) Test(w http.ResponseWriter, r *http.Request) {
	var req TestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, types.NewError(types.ErrConfigInvalid, "request body is not an agent test").WithCause(err), h.logger)
		return
	}
	if req.Action == "" {
		WriteError(w, types.NewError(types.ErrConfigInvalid, "action is required"), h.logger)
		return
	}

	wrapper := config.WorkflowConfig{
		Name:            "agent-test",
		FailureStrategy: config.StopOnFirstFailure,
		Agents:          []config.AgentConfig{req.Agent},
		Tasks: []config.TaskConfig{{
			Name: "probe", Agent: req.Agent.Name, Action: req.Action,
		}},
	}
	config.ApplyDefaults(&wrapper)
	if err := config.Validate(&wrapper); err != nil {
		WriteError(w, err, h.logger)
		return
	}
	agentCfg := wrapper.Agents[0]

	a, err := h.factory.Create(agentCfg)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	pipeline := resilience.NewPipeline(&agentCfg, a, nil, h.logger)

	start := time.Now()
	resp, _, invokeErr := pipeline.Invoke(r.Context(), req.Action, req.Params, resilience.CallOptions{
		Timeout: agentCfg.Timeout.Std(),
	})
	elapsed := time.Since(start).Seconds()

	result := TestResponse{
		AgentName:    agentCfg.Name,
		Success:      invokeErr == nil,
		ResponseTime: elapsed,
		Response:     resp,
	}
	if invokeErr != nil {
		result.Error = invokeErr.Error()
	}
	WriteSuccess(w, result)
}
