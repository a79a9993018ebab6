package agent

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/taskflow/config"
	"github.com/BaSui01/taskflow/types"
)

// HTTPAgent drives an arbitrary HTTP API. The wire request is assembled
// from reserved task params: method (default POST), endpoint (path appended
// to the agent endpoint), body, query, headers.
type HTTPAgent struct {
	httpBase
}

// NewHTTPAgent creates the generic_http variant.
func NewHTTPAgent(cfg config.AgentConfig, logger *zap.Logger) *HTTPAgent {
	return &HTTPAgent{httpBase: newHTTPBase(cfg, logger)}
}

// InvokeRaw assembles and sends the request. Success is any status in
// [200, 300); JSON bodies are parsed, anything else is returned raw.
func (a *HTTPAgent) InvokeRaw(ctx context.Context, action string, params map[string]any) (*types.InvokeResponse, error) {
	method := http.MethodPost
	if m, ok := params["method"].(string); ok && m != "" {
		method = strings.ToUpper(m)
	}

	url := a.cfg.Endpoint
	if path, ok := params["endpoint"].(string); ok {
		url = joinURL(a.cfg.Endpoint, path)
	}

	var body any
	if b, ok := params["body"]; ok {
		body = b
	}

	query := stringMap(params["query"])
	headers := stringMap(params["headers"])

	start := time.Now()
	status, data, contentType, err := a.doJSON(ctx, method, url, body, query, headers)
	latency := time.Since(start)
	if err != nil {
		return nil, err
	}
	if status < 200 || status >= 300 {
		return nil, a.statusError(status, data)
	}

	var result map[string]any
	if isJSONContentType(contentType) && len(data) > 0 {
		result, err = decodeObject(data)
		if err != nil {
			return nil, types.NewError(types.ErrTransportFault, "response declared JSON but did not parse").WithCause(err)
		}
	} else {
		result = map[string]any{"raw": string(data)}
	}
	return types.OK(result, latency).
		WithMetadata("status_code", status).
		WithMetadata("method", method).
		WithMetadata("url", url), nil
}

// joinURL appends a path to the base endpoint without doubling slashes.
// Absolute URLs in the path replace the base entirely.
func joinURL(base, path string) string {
	if path == "" {
		return base
	}
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	return fmt.Sprintf("%s/%s", strings.TrimRight(base, "/"), strings.TrimLeft(path, "/"))
}

// stringMap coerces a params entry of map shape into string→string,
// stringifying scalar values.
func stringMap(v any) map[string]string {
	raw, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	out := make(map[string]string, len(raw))
	for k, val := range raw {
		switch s := val.(type) {
		case string:
			out[k] = s
		default:
			out[k] = fmt.Sprintf("%v", s)
		}
	}
	return out
}
