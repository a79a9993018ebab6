package agent

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/taskflow/config"
	"github.com/BaSui01/taskflow/types"
)

func testAgentConfig(t config.AgentType, endpoint string) config.AgentConfig {
	return config.AgentConfig{
		Name:     "test",
		Type:     t,
		Endpoint: endpoint,
		Timeout:  config.Duration(5 * time.Second),
	}
}

func TestChatAgent_MergesAgentAndTaskParams(t *testing.T) {
	var captured map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id": "cmpl-1"}`))
	}))
	defer srv.Close()

	cfg := testAgentConfig(config.AgentChatLLM, srv.URL)
	cfg.Params = map[string]any{"model": "gpt-4o-mini", "temperature": 0.2}
	a := NewChatAgent(cfg, zap.NewNop())

	resp, err := a.InvokeRaw(context.Background(), "complete", map[string]any{
		"prompt":     "hello",
		"max_tokens": float64(64),
	})
	require.NoError(t, err)
	assert.True(t, resp.Success)

	assert.Equal(t, "gpt-4o-mini", captured["model"])
	assert.Equal(t, 0.2, captured["temperature"])
	assert.Equal(t, float64(64), captured["max_tokens"])

	// The prompt is synthesized into a single user message.
	messages, ok := captured["messages"].([]any)
	require.True(t, ok, "messages missing: %v", captured)
	first := messages[0].(map[string]any)
	assert.Equal(t, "user", first["role"])
	assert.Equal(t, "hello", first["content"])
	_, hasPrompt := captured["prompt"]
	assert.False(t, hasPrompt, "raw prompt must not reach the wire")
}

func TestChatAgent_LiftsFirstChoiceContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"choices": [{"message": {"role": "assistant", "content": "42"}}],
			"usage": {"total_tokens": 7}
		}`))
	}))
	defer srv.Close()

	a := NewChatAgent(testAgentConfig(config.AgentChatLLM, srv.URL), zap.NewNop())
	resp, err := a.InvokeRaw(context.Background(), "chat_completion", map[string]any{"prompt": "q"})
	require.NoError(t, err)
	assert.Equal(t, "42", resp.Result["content"])
	// The raw body stays available alongside the lifted content.
	assert.Contains(t, resp.Result, "choices")
}

func TestChatAgent_ServerErrorIsTransportFault(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream exploded", http.StatusBadGateway)
	}))
	defer srv.Close()

	a := NewChatAgent(testAgentConfig(config.AgentChatLLM, srv.URL), zap.NewNop())
	_, err := a.InvokeRaw(context.Background(), "complete", nil)
	require.Error(t, err)
	assert.Equal(t, types.ErrTransportFault, types.GetErrorCode(err))
	assert.True(t, types.IsRetryable(err))
}

func TestChatAgent_ClientErrorIsRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad model", http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	a := NewChatAgent(testAgentConfig(config.AgentChatLLM, srv.URL), zap.NewNop())
	_, err := a.InvokeRaw(context.Background(), "complete", nil)
	require.Error(t, err)
	assert.Equal(t, types.ErrRemoteRejection, types.GetErrorCode(err))
	assert.False(t, types.IsRetryable(err))
}

func TestJSONRPCAgent_EnvelopeAndResult(t *testing.T) {
	var captured map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"jsonrpc": "2.0", "id": 1, "result": {"rows": 3}}`))
	}))
	defer srv.Close()

	a := NewJSONRPCAgent(testAgentConfig(config.AgentJSONRPCTool, srv.URL), zap.NewNop())
	resp, err := a.InvokeRaw(context.Background(), "db.query", map[string]any{"sql": "select 1"})
	require.NoError(t, err)

	assert.Equal(t, "2.0", captured["jsonrpc"])
	assert.Equal(t, "db.query", captured["method"])
	params := captured["params"].(map[string]any)
	assert.Equal(t, "select 1", params["sql"])

	assert.Equal(t, float64(3), resp.Result["rows"])
}

func TestJSONRPCAgent_ErrorMemberIsRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"jsonrpc": "2.0", "id": 1, "error": {"code": -32601, "message": "method not found"}}`))
	}))
	defer srv.Close()

	a := NewJSONRPCAgent(testAgentConfig(config.AgentJSONRPCTool, srv.URL), zap.NewNop())
	_, err := a.InvokeRaw(context.Background(), "nope", nil)
	require.Error(t, err)
	assert.Equal(t, types.ErrRemoteRejection, types.GetErrorCode(err))
	assert.Contains(t, err.Error(), "-32601")
}

func TestJSONRPCAgent_ScalarResultIsWrapped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"jsonrpc": "2.0", "id": 7, "result": 99}`))
	}))
	defer srv.Close()

	a := NewJSONRPCAgent(testAgentConfig(config.AgentJSONRPCTool, srv.URL), zap.NewNop())
	resp, err := a.InvokeRaw(context.Background(), "count", nil)
	require.NoError(t, err)
	assert.Equal(t, float64(99), resp.Result["value"])
}

func TestHTTPAgent_RequestAssembly(t *testing.T) {
	var gotMethod, gotPath, gotQuery, gotHeader string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		gotQuery = r.URL.Query().Get("limit")
		gotHeader = r.Header.Get("X-Trace")
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"created": true}`))
	}))
	defer srv.Close()

	a := NewHTTPAgent(testAgentConfig(config.AgentGenericHTTP, srv.URL), zap.NewNop())
	resp, err := a.InvokeRaw(context.Background(), "create", map[string]any{
		"method":   "PUT",
		"endpoint": "/v2/items",
		"body":     map[string]any{"kind": "widget"},
		"query":    map[string]any{"limit": 10},
		"headers":  map[string]any{"X-Trace": "abc"},
	})
	require.NoError(t, err)

	assert.Equal(t, http.MethodPut, gotMethod)
	assert.Equal(t, "/v2/items", gotPath)
	assert.Equal(t, "10", gotQuery)
	assert.Equal(t, "abc", gotHeader)
	assert.Equal(t, "widget", gotBody["kind"])
	assert.Equal(t, true, resp.Result["created"])
}

func TestHTTPAgent_NonJSONBodyReturnedRaw(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("pong"))
	}))
	defer srv.Close()

	a := NewHTTPAgent(testAgentConfig(config.AgentGenericHTTP, srv.URL), zap.NewNop())
	resp, err := a.InvokeRaw(context.Background(), "ping", nil)
	require.NoError(t, err)
	assert.Equal(t, "pong", resp.Result["raw"])
}

func TestHTTPAgent_ConnectFailureIsTransportFault(t *testing.T) {
	a := NewHTTPAgent(testAgentConfig(config.AgentGenericHTTP, "http://127.0.0.1:1"), zap.NewNop())
	_, err := a.InvokeRaw(context.Background(), "ping", nil)
	require.Error(t, err)
	assert.Equal(t, types.ErrTransportFault, types.GetErrorCode(err))
}

func TestAuthBundles(t *testing.T) {
	var auth, apiKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		apiKey = r.Header.Get("X-Service-Key")
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	t.Run("bearer", func(t *testing.T) {
		cfg := testAgentConfig(config.AgentGenericHTTP, srv.URL)
		cfg.Auth = &config.AuthConfig{Type: "bearer", Token: "tok123"}
		a := NewHTTPAgent(cfg, zap.NewNop())
		_, err := a.InvokeRaw(context.Background(), "x", nil)
		require.NoError(t, err)
		assert.Equal(t, "Bearer tok123", auth)
	})

	t.Run("api key with custom header", func(t *testing.T) {
		cfg := testAgentConfig(config.AgentGenericHTTP, srv.URL)
		cfg.Auth = &config.AuthConfig{Type: "api_key", Key: "k1", Header: "X-Service-Key"}
		a := NewHTTPAgent(cfg, zap.NewNop())
		_, err := a.InvokeRaw(context.Background(), "x", nil)
		require.NoError(t, err)
		assert.Equal(t, "k1", apiKey)
	})

	t.Run("basic", func(t *testing.T) {
		cfg := testAgentConfig(config.AgentGenericHTTP, srv.URL)
		cfg.Auth = &config.AuthConfig{Type: "basic", Username: "u", Password: "p"}
		a := NewHTTPAgent(cfg, zap.NewNop())
		_, err := a.InvokeRaw(context.Background(), "x", nil)
		require.NoError(t, err)
		want := "Basic " + base64.StdEncoding.EncodeToString([]byte("u:p"))
		assert.Equal(t, want, auth)
	})
}

func TestFactory_VariantSwitchAndCustomRegistry(t *testing.T) {
	f := NewFactory(zap.NewNop())

	chat, err := f.Create(testAgentConfig(config.AgentChatLLM, "http://x"))
	require.NoError(t, err)
	assert.IsType(t, &ChatAgent{}, chat)

	rpc, err := f.Create(testAgentConfig(config.AgentJSONRPCTool, "http://x"))
	require.NoError(t, err)
	assert.IsType(t, &JSONRPCAgent{}, rpc)

	generic, err := f.Create(testAgentConfig(config.AgentGenericHTTP, "http://x"))
	require.NoError(t, err)
	assert.IsType(t, &HTTPAgent{}, generic)

	_, err = f.Create(config.AgentConfig{Name: "c", Type: config.AgentCustom})
	require.Error(t, err, "custom without variant must fail")

	f.RegisterCustom("echo", func(cfg config.AgentConfig, logger *zap.Logger) (Agent, error) {
		return &echoAgent{name: cfg.Name}, nil
	})
	custom, err := f.Create(config.AgentConfig{
		Name: "c", Type: config.AgentCustom,
		Params: map[string]any{"variant": "echo"},
	})
	require.NoError(t, err)
	assert.Equal(t, "c", custom.Name())
}

type echoAgent struct{ name string }

func (e *echoAgent) Name() string { return e.name }
func (e *echoAgent) InvokeRaw(ctx context.Context, action string, params map[string]any) (*types.InvokeResponse, error) {
	return types.OK(map[string]any{"action": action}, 0), nil
}
