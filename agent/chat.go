package agent

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/taskflow/config"
	"github.com/BaSui01/taskflow/types"
)

// ChatAgent speaks to a chat/completion endpoint. The request body is the
// merge of agent-level params (model defaults and the like) and task
// params, with messages synthesized from a plain prompt when none are
// given.
type ChatAgent struct {
	httpBase
}

// NewChatAgent creates the chat_llm variant.
func NewChatAgent(cfg config.AgentConfig, logger *zap.Logger) *ChatAgent {
	return &ChatAgent{httpBase: newHTTPBase(cfg, logger)}
}

// InvokeRaw posts {model, messages, max_tokens, temperature, ...params} to
// the endpoint. On 2xx the parsed body is the result; for the
// chat_completion action the first choice's message content is lifted to
// the top level under "content".
func (a *ChatAgent) InvokeRaw(ctx context.Context, action string, params map[string]any) (*types.InvokeResponse, error) {
	payload := make(map[string]any, len(a.cfg.Params)+len(params))
	for k, v := range a.cfg.Params {
		payload[k] = v
	}
	for k, v := range params {
		payload[k] = v
	}
	if prompt, ok := payload["prompt"].(string); ok {
		if _, has := payload["messages"]; !has {
			payload["messages"] = []map[string]any{{"role": "user", "content": prompt}}
		}
		delete(payload, "prompt")
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

	result, err := decodeObject(body)
	if err != nil {
		return nil, types.NewError(types.ErrTransportFault, "chat response is not valid JSON").WithCause(err)
	}
	if action == "chat_completion" {
		if content, ok := firstChoiceContent(result); ok {
			result["content"] = content
		}
	}
	return types.OK(result, latency).WithMetadata("status_code", status), nil
}

// firstChoiceContent digs choices[0].message.content out of an
// OpenAI-shaped completion body.
func firstChoiceContent(body map[string]any) (string, bool) {
	choices, ok := body["choices"].([]any)
	if !ok || len(choices) == 0 {
		return "", false
	}
	choice, ok := choices[0].(map[string]any)
	if !ok {
		return "", false
	}
	message, ok := choice["message"].(map[string]any)
	if !ok {
		return "", false
	}
	content, ok := message["content"].(string)
	return content, ok
}
