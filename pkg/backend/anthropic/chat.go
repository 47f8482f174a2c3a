// Package anthropic adapts the Anthropic messages API to the stateless
// backend protocol.
package anthropic

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	aoption "github.com/anthropics/anthropic-sdk-go/option"
	"github.com/go-go-golems/docagent/pkg/backend"
	"github.com/go-go-golems/docagent/pkg/conversation"
	"github.com/go-go-golems/docagent/pkg/inference/tools"
	"github.com/go-go-golems/docagent/pkg/settings"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const Name = settings.ProviderAnthropic

const defaultMaxTokens = 4096

type Chat struct {
	client anthropic.Client
	model  string
}

var _ backend.ChatBackend = (*Chat)(nil)

func NewChat(cfg *settings.AgentConfig) (*Chat, error) {
	if cfg == nil {
		return nil, errors.New("config cannot be nil")
	}
	ps := cfg.ProviderSettings()
	opts := []aoption.RequestOption{aoption.WithAPIKey(strings.TrimSpace(ps.APIKey))}
	if ps.BaseURL != "" {
		opts = append(opts, aoption.WithBaseURL(strings.TrimSpace(ps.BaseURL)))
	}
	// retries and timeouts are owned by the caller
	opts = append(opts, aoption.WithMaxRetries(0))
	return &Chat{client: anthropic.NewClient(opts...), model: cfg.Model}, nil
}

func (c *Chat) Name() string { return Name }

// Capabilities reports a tool role: tool turns are mapped onto tool_result
// blocks by makeMessages.
func (c *Chat) Capabilities() backend.Capabilities {
	return backend.Capabilities{ToolRole: true, ToolCalls: true}
}

func (c *Chat) Complete(ctx context.Context, req *backend.ChatRequest) (resp *backend.ChatResponse, err error) {
	defer backend.Recover(Name, &err)

	params := c.makeParams(req)
	log.Debug().Str("component", "anthropic").Str("model", string(params.Model)).Int("messages", len(params.Messages)).Msg("sending messages request")

	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return nil, classifyError(err)
	}
	resp = &backend.ChatResponse{
		FinishReason: string(msg.StopReason),
		Usage: backend.Usage{
			InputTokens:  int(msg.Usage.InputTokens),
			OutputTokens: int(msg.Usage.OutputTokens),
		},
	}
	var text strings.Builder
	for _, block := range msg.Content {
		switch variant := block.AsAny().(type) {
		case anthropic.TextBlock:
			text.WriteString(variant.Text)
		case anthropic.ToolUseBlock:
			resp.ToolCalls = append(resp.ToolCalls, conversation.ToolCall{
				ID:        variant.ID,
				Name:      variant.Name,
				Arguments: variant.Input,
			})
		}
	}
	resp.Text = text.String()
	return resp, nil
}

func (c *Chat) Ping(ctx context.Context) (err error) {
	defer backend.Recover(Name, &err)
	_, err = c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: 1,
		Messages:  []anthropic.MessageParam{anthropic.NewUserMessage(anthropic.NewTextBlock("ping"))},
	})
	if err != nil {
		return classifyError(err)
	}
	return nil
}

func (c *Chat) makeParams(req *backend.ChatRequest) anthropic.MessageNewParams {
	model := c.model
	if req.Model != "" {
		model = req.Model
	}
	maxTokens := int64(defaultMaxTokens)
	if req.MaxTokens > 0 {
		maxTokens = int64(req.MaxTokens)
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: maxTokens,
		Messages:  makeMessages(req.Messages),
		Tools:     makeTools(req.Tools),
	}
	if req.Temperature != nil {
		params.Temperature = anthropic.Float(*req.Temperature)
	}
	if req.TopP != nil {
		params.TopP = anthropic.Float(*req.TopP)
	}
	if s := strings.TrimSpace(req.System); s != "" {
		params.System = []anthropic.TextBlockParam{{Text: s}}
	}
	return params
}

// makeMessages folds consecutive tool turns into one user message of
// tool_result blocks following the assistant's tool_use blocks.
func makeMessages(turns []conversation.Turn) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(turns))
	var results []anthropic.ContentBlockParamUnion
	flush := func() {
		if len(results) > 0 {
			out = append(out, anthropic.NewUserMessage(results...))
			results = nil
		}
	}
	for _, t := range turns {
		switch t.Role {
		case conversation.RoleSystem:
			continue
		case conversation.RoleTool:
			results = append(results, anthropic.NewToolResultBlock(t.ToolCallID, t.Text, false))
			continue
		}
		flush()
		switch t.Role {
		case conversation.RoleAssistant:
			var blocks []anthropic.ContentBlockParamUnion
			if strings.TrimSpace(t.Text) != "" {
				blocks = append(blocks, anthropic.NewTextBlock(t.Text))
			}
			for _, tc := range t.ToolCalls {
				var input interface{} = map[string]interface{}{}
				if len(tc.Arguments) > 0 {
					_ = json.Unmarshal(tc.Arguments, &input)
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, input, tc.Name))
			}
			if len(blocks) > 0 {
				out = append(out, anthropic.NewAssistantMessage(blocks...))
			}
		default:
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(t.Text)))
		}
	}
	flush()
	return out
}

func makeTools(ts []tools.Tool) []anthropic.ToolUnionParam {
	var out []anthropic.ToolUnionParam
	for _, t := range ts {
		if t.Native {
			continue
		}
		schema := t.ParametersMap()
		var required []string
		if rs, ok := schema["required"].([]interface{}); ok {
			for _, r := range rs {
				if s, ok := r.(string); ok {
					required = append(required, s)
				}
			}
		}
		param := anthropic.ToolParam{
			Name:        t.Name,
			Description: anthropic.String(t.Description),
			InputSchema: anthropic.ToolInputSchemaParam{Type: "object", Properties: schema["properties"], Required: required},
		}
		out = append(out, anthropic.ToolUnionParam{OfTool: &param})
	}
	return out
}

func classifyError(err error) error {
	if backend.IsTimeout(err) || errors.Is(err, context.Canceled) {
		return err
	}
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode >= http.StatusInternalServerError || apiErr.StatusCode == http.StatusTooManyRequests {
			return backend.Unavailable(Name, err)
		}
		return errors.Wrap(err, "anthropic request failed")
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return backend.Unavailable(Name, err)
	}
	return backend.Internal(Name, err)
}
