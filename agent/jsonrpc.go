package agent

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/taskflow/config"
	"github.com/BaSui01/taskflow/types"
)

// JSONRPCAgent speaks JSON-RPC 2.0 to a tool server. The task action is the
// method name and the task params are the request params.
type JSONRPCAgent struct {
	httpBase
	nextID atomic.Int64
}

// NewJSONRPCAgent creates the jsonrpc_tool variant.
func NewJSONRPCAgent(cfg config.AgentConfig, logger *zap.Logger) *JSONRPCAgent {
	return &JSONRPCAgent{httpBase: newHTTPBase(cfg, logger)}
}

type rpcEnvelope struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// InvokeRaw posts the JSON-RPC envelope and normalizes the response: a
// response carrying an error member is a REMOTE_REJECTION, otherwise the
// result member becomes the payload (non-object results are wrapped under
// "value").
func (a *JSONRPCAgent) InvokeRaw(ctx context.Context, action string, params map[string]any) (*types.InvokeResponse, error) {
	id := a.nextID.Add(1)
	payload := map[string]any{
		"jsonrpc": "2.0",
		"id":      id,
		"method":  action,
	}
	if params != nil {
		payload["params"] = params
	}

	start := time.Now()
	status, body, _, err := a.postJSON(ctx, a.cfg.Endpoint, payload)
	latency := time.Since(start)
	if err != nil {
		return nil, err
	}
	if status < 200 || status >= 300 {
		return nil, a.statusError(status, body)
	}

	var envelope rpcEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, types.NewError(types.ErrTransportFault, "response is not a JSON-RPC envelope").WithCause(err)
	}
	if envelope.Error != nil {
		return nil, types.Errorf(types.ErrRemoteRejection, "JSON-RPC error %d: %s",
			envelope.Error.Code, envelope.Error.Message).WithHTTPStatus(status)
	}

	result := map[string]any{}
	if len(envelope.Result) > 0 {
		decoded, err := decodeObject(envelope.Result)
		if err != nil {
			return nil, types.NewError(types.ErrTransportFault, "JSON-RPC result is not valid JSON").WithCause(err)
		}
		result = decoded
	}
	return types.OK(result, latency).
		WithMetadata("status_code", status).
		WithMetadata("jsonrpc_id", id), nil
}
