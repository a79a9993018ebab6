// Package agent provides the transport variants that translate a uniform
// (action, params) invocation into a wire request and normalize the
// response: a chat/completion client, a JSON-RPC 2.0 tool client, and a
// generic HTTP client. Custom variants register through the factory.
package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/taskflow/config"
	"github.com/BaSui01/taskflow/types"
)

// Agent is the uniform capability set shared by all variants.
type Agent interface {
	// Name returns the configured agent name.
	Name() string
	// InvokeRaw performs one bare wire call. Resilience behavior lives in
	// the pipeline, not here.
	InvokeRaw(ctx context.Context, action string, params map[string]any) (*types.InvokeResponse, error)
}

// httpBase carries the plumbing shared by all HTTP-speaking variants: one
// pooled client per agent, auth application, body handling, and error
// classification.
type httpBase struct {
	cfg    config.AgentConfig
	client *http.Client
	logger *zap.Logger
}

func newHTTPBase(cfg config.AgentConfig, logger *zap.Logger) httpBase {
	if logger == nil {
		logger = zap.NewNop()
	}
	return httpBase{
		cfg: cfg,
		client: &http.Client{
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 8,
				IdleConnTimeout:     90 * time.Second,
			},
			// Per-attempt deadlines come from the request context.
		},
		logger: logger.With(zap.String("agent", cfg.Name), zap.String("agent_type", string(cfg.Type))),
	}
}

func (b *httpBase) Name() string { return b.cfg.Name }

// applyAuth sets the authentication headers from the agent's bundle.
func (b *httpBase) applyAuth(req *http.Request) {
	auth := b.cfg.Auth
	if auth == nil {
		return
	}
	switch auth.Type {
	case "bearer":
		req.Header.Set("Authorization", "Bearer "+auth.Token)
	case "api_key":
		header := auth.Header
		if header == "" {
			header = "X-API-Key"
		}
		req.Header.Set(header, auth.Key)
	case "basic":
		req.SetBasicAuth(auth.Username, auth.Password)
	}
}

// postJSON sends a JSON body and returns status, body bytes, and content
// type, classifying transport errors into the taxonomy.
func (b *httpBase) postJSON(ctx context.Context, url string, payload any) (int, []byte, string, error) {
	return b.doJSON(ctx, http.MethodPost, url, payload, nil, nil)
}

// doJSON is the generalized request path used by the generic HTTP variant.
func (b *httpBase) doJSON(ctx context.Context, method, url string, payload any, query map[string]string, headers map[string]string) (int, []byte, string, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, "", types.NewError(types.ErrRemoteRejection, "request body not serializable").WithCause(err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return 0, nil, "", types.Errorf(types.ErrRemoteRejection, "invalid request for %s", url).WithCause(err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	b.applyAuth(req)
	if len(query) > 0 {
		q := req.URL.Query()
		for k, v := range query {
			q.Set(k, v)
		}
		req.URL.RawQuery = q.Encode()
	}

	b.logger.Debug("agent request",
		zap.String("method", method),
		zap.String("url", req.URL.String()))

	resp, err := b.client.Do(req)
	if err != nil {
		return 0, nil, "", b.classifyTransportError(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, "", types.NewError(types.ErrTransportFault, "reading response body").WithCause(err)
	}
	return resp.StatusCode, data, resp.Header.Get("Content-Type"), nil
}

// classifyTransportError maps client errors onto the taxonomy: deadline
// expiry is TRANSPORT_TIMEOUT, context cancellation is CANCELLED,
// everything else (connect refusal, DNS failure, reset) is TRANSPORT_FAULT.
func (b *httpBase) classifyTransportError(err error) *types.Error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return types.Errorf(types.ErrTransportTimeout, "agent %s request timed out", b.cfg.Name).WithCause(err)
	case errors.Is(err, context.Canceled):
		return types.NewError(types.ErrCancelled, "invocation cancelled").WithCause(err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return types.Errorf(types.ErrTransportTimeout, "agent %s request timed out", b.cfg.Name).WithCause(err)
	}
	return types.Errorf(types.ErrTransportFault, "agent %s transport fault", b.cfg.Name).WithCause(err)
}

// statusError classifies an HTTP status outside 2xx: 5xx is a retryable
// transport fault, anything else a remote rejection.
func (b *httpBase) statusError(status int, body []byte) *types.Error {
	snippet := trimBody(body)
	if status >= 500 {
		return types.Errorf(types.ErrTransportFault, "HTTP %d: %s", status, snippet).
			WithHTTPStatus(status)
	}
	return types.Errorf(types.ErrRemoteRejection, "HTTP %d: %s", status, snippet).
		WithHTTPStatus(status)
}

// decodeObject parses a JSON object body; non-object JSON is wrapped so the
// normalized result is always a map.
func decodeObject(data []byte) (map[string]any, error) {
	var obj map[string]any
	if err := json.Unmarshal(data, &obj); err == nil {
		return obj, nil
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("invalid JSON response: %w", err)
	}
	return map[string]any{"value": v}, nil
}

func isJSONContentType(ct string) bool {
	ct = strings.ToLower(ct)
	return strings.Contains(ct, "application/json") || strings.Contains(ct, "+json")
}

func trimBody(body []byte) string {
	const limit = 512
	s := strings.TrimSpace(string(body))
	if len(s) > limit {
		return s[:limit] + "..."
	}
	return s
}
