// Package openai adapts the OpenAI chat completions API to the stateless
// backend protocol.
package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/go-go-golems/docagent/pkg/backend"
	"github.com/go-go-golems/docagent/pkg/conversation"
	"github.com/go-go-golems/docagent/pkg/inference/tools"
	"github.com/go-go-golems/docagent/pkg/settings"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	go_openai "github.com/sashabaranov/go-openai"
)

const Name = settings.ProviderOpenAI

type Chat struct {
	client *go_openai.Client
	model  string
}

var _ backend.ChatBackend = (*Chat)(nil)

// MakeClient builds a go-openai client from provider settings.
func MakeClient(ps settings.ProviderSettings) *go_openai.Client {
	config := go_openai.DefaultConfig(ps.APIKey)
	if ps.BaseURL != "" {
		config.BaseURL = ps.BaseURL
	}
	return go_openai.NewClientWithConfig(config)
}

func NewChat(cfg *settings.AgentConfig) (*Chat, error) {
	if cfg == nil {
		return nil, errors.New("config cannot be nil")
	}
	return &Chat{client: MakeClient(cfg.ProviderSettings()), model: cfg.Model}, nil
}

// NewChatWithClient is used when the caller already owns a client.
func NewChatWithClient(client *go_openai.Client, model string) *Chat {
	return &Chat{client: client, model: model}
}

func (c *Chat) Name() string { return Name }

func (c *Chat) Capabilities() backend.Capabilities {
	return backend.Capabilities{
		ToolRole:  true,
		ToolCalls: true,
	}
}

func (c *Chat) Complete(ctx context.Context, req *backend.ChatRequest) (resp *backend.ChatResponse, err error) {
	defer backend.Recover(Name, &err)

	oreq := MakeCompletionRequest(c.model, req)
	log.Debug().Str("component", "openai").Str("model", oreq.Model).Int("messages", len(oreq.Messages)).Int("tools", len(oreq.Tools)).Msg("sending chat completion")

	res, err := c.client.CreateChatCompletion(ctx, oreq)
	if err != nil {
		return nil, ClassifyError(err)
	}
	if len(res.Choices) == 0 {
		return nil, backend.Internal(Name, errors.New("response has no choices"))
	}
	choice := res.Choices[0]
	resp = &backend.ChatResponse{
		Text:         choice.Message.Content,
		FinishReason: string(choice.FinishReason),
		Usage: backend.Usage{
			InputTokens:  res.Usage.PromptTokens,
			OutputTokens: res.Usage.CompletionTokens,
		},
	}
	for _, tc := range choice.Message.ToolCalls {
		resp.ToolCalls = append(resp.ToolCalls, conversation.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: rawArguments(tc.Function.Arguments),
		})
	}
	if fc := choice.Message.FunctionCall; fc != nil {
		resp.FunctionCall = &conversation.ToolCall{Name: fc.Name, Arguments: rawArguments(fc.Arguments)}
	}
	return resp, nil
}

func (c *Chat) Ping(ctx context.Context) (err error) {
	defer backend.Recover(Name, &err)
	_, err = c.client.CreateChatCompletion(ctx, go_openai.ChatCompletionRequest{
		Model:     c.model,
		Messages:  []go_openai.ChatCompletionMessage{{Role: go_openai.ChatMessageRoleUser, Content: "ping"}},
		MaxTokens: 1,
	})
	if err != nil {
		return ClassifyError(err)
	}
	return nil
}

// MakeCompletionRequest converts a backend request. Tool turns keep their
// call id so every assistant tool call is answered by the matching tool
// message.
func MakeCompletionRequest(model string, req *backend.ChatRequest) go_openai.ChatCompletionRequest {
	if req.Model != "" {
		model = req.Model
	}
	msgs := make([]go_openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		msgs = append(msgs, go_openai.ChatCompletionMessage{Role: go_openai.ChatMessageRoleSystem, Content: req.System})
	}
	for _, t := range req.Messages {
		msgs = append(msgs, MessageFromTurn(t))
	}

	oreq := go_openai.ChatCompletionRequest{
		Model:     model,
		Messages:  msgs,
		MaxTokens: req.MaxTokens,
		Tools:     MakeTools(req.Tools),
	}
	if req.Temperature != nil {
		oreq.Temperature = float32(*req.Temperature)
	}
	if req.TopP != nil {
		oreq.TopP = float32(*req.TopP)
	}
	return oreq
}

func MessageFromTurn(t conversation.Turn) go_openai.ChatCompletionMessage {
	switch t.Role {
	case conversation.RoleTool:
		return go_openai.ChatCompletionMessage{
			Role:       go_openai.ChatMessageRoleTool,
			Content:    t.Text,
			ToolCallID: t.ToolCallID,
			Name:       t.ToolName,
		}
	case conversation.RoleAssistant:
		m := go_openai.ChatCompletionMessage{Role: go_openai.ChatMessageRoleAssistant, Content: t.Text}
		for _, tc := range t.ToolCalls {
			m.ToolCalls = append(m.ToolCalls, go_openai.ToolCall{
				ID:   tc.ID,
				Type: go_openai.ToolTypeFunction,
				Function: go_openai.FunctionCall{
					Name:      tc.Name,
					Arguments: tc.ArgumentString(),
				},
			})
		}
		return m
	case conversation.RoleSystem:
		return go_openai.ChatCompletionMessage{Role: go_openai.ChatMessageRoleSystem, Content: t.Text}
	default:
		return go_openai.ChatCompletionMessage{Role: go_openai.ChatMessageRoleUser, Content: t.Text}
	}
}

// MakeTools converts callable tools to function definitions. Native tools
// are not part of the chat completions API and are skipped.
func MakeTools(ts []tools.Tool) []go_openai.Tool {
	var out []go_openai.Tool
	for _, t := range ts {
		if t.Native {
			continue
		}
		out = append(out, go_openai.Tool{
			Type: go_openai.ToolTypeFunction,
			Function: &go_openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.ParametersMap(),
			},
		})
	}
	return out
}

// rawArguments keeps the payload as sent; strings that are not JSON are
// encoded so the executor can still try to repair them.
func rawArguments(s string) json.RawMessage {
	if s == "" {
		return nil
	}
	if json.Valid([]byte(s)) {
		return json.RawMessage(s)
	}
	b, _ := json.Marshal(s)
	return b
}

// ClassifyError maps go-openai errors onto backend error kinds. Errors the
// adapter cannot place are treated as internal.
func ClassifyError(err error) error {
	if err == nil {
		return nil
	}
	if backend.IsTimeout(err) || errors.Is(err, context.Canceled) {
		return err
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return backend.Unavailable(Name, err)
	}
	var apiErr *go_openai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.HTTPStatusCode >= http.StatusInternalServerError || apiErr.HTTPStatusCode == http.StatusTooManyRequests {
			return backend.Unavailable(Name, err)
		}
		return errors.Wrap(err, "openai request failed")
	}
	var reqErr *go_openai.RequestError
	if errors.As(err, &reqErr) {
		if reqErr.HTTPStatusCode >= http.StatusInternalServerError || reqErr.HTTPStatusCode == 0 {
			return backend.Unavailable(Name, err)
		}
		return errors.Wrap(err, "openai request failed")
	}
	return backend.Internal(Name, err)
}
