// Package rawhttp is a minimal OpenAI-compatible chat completions client
// built directly on net/http. It is the fallback when the regular client
// library fails internally.
package rawhttp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-go-golems/docagent/pkg/backend"
	"github.com/go-go-golems/docagent/pkg/conversation"
	"github.com/go-go-golems/docagent/pkg/settings"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const Name = "rawhttp"

const DefaultBaseURL = "https://api.openai.com/v1"

type Client struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

var _ backend.ChatBackend = (*Client)(nil)

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.httpClient = c
	}
}

func New(ps settings.ProviderSettings, model string, opts ...Option) *Client {
	baseURL := strings.TrimRight(ps.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL:    baseURL,
		apiKey:     ps.APIKey,
		model:      model,
		httpClient: &http.Client{Timeout: 120 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Client) Name() string { return Name }

func (c *Client) Capabilities() backend.Capabilities {
	return backend.Capabilities{ToolRole: true, ToolCalls: true}
}

func (c *Client) Complete(ctx context.Context, req *backend.ChatRequest) (*backend.ChatResponse, error) {
	payload, err := json.Marshal(c.buildRequest(req))
	if err != nil {
		return nil, errors.Wrap(err, "marshal chat request")
	}

	var res chatResponse
	if err := c.do(ctx, payload, &res); err != nil {
		return nil, err
	}
	if res.Error != nil {
		return nil, errors.Errorf("chat request failed: %s", res.Error.Message)
	}
	if len(res.Choices) == 0 {
		return nil, errors.New("chat response has no choices")
	}
	msg := res.Choices[0].Message
	out := &backend.ChatResponse{
		Text:         msg.Content,
		FinishReason: res.Choices[0].FinishReason,
		Usage: backend.Usage{
			InputTokens:  res.Usage.PromptTokens,
			OutputTokens: res.Usage.CompletionTokens,
		},
	}
	for _, tc := range msg.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, conversation.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: arguments(tc.Function.Arguments),
		})
	}
	if fc := msg.FunctionCall; fc != nil && fc.Name != "" {
		out.FunctionCall = &conversation.ToolCall{Name: fc.Name, Arguments: arguments(fc.Arguments)}
	}
	return out, nil
}

func (c *Client) Ping(ctx context.Context) error {
	payload, err := json.Marshal(chatRequest{
		Model:     c.model,
		Messages:  []chatMessage{{Role: "user", Content: "ping"}},
		MaxTokens: 1,
	})
	if err != nil {
		return err
	}
	return c.do(ctx, payload, &chatResponse{})
}

func (c *Client) do(ctx context.Context, payload []byte, out interface{}) error {
	endpoint := fmt.Sprintf("%s/chat/completions", c.baseURL)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	log.Debug().Str("component", "rawhttp").Str("endpoint", endpoint).Int("bytes", len(payload)).Msg("sending chat request")
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if backend.IsTimeout(err) || errors.Is(err, context.Canceled) {
			return err
		}
		return backend.Unavailable(Name, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		err := errors.Errorf("chat request failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return backend.Unavailable(Name, err)
		}
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrap(err, "decode chat response")
	}
	return nil
}

// buildRequest reconstructs the message history inline: assistant tool
// calls are followed by one tool message per result.
func (c *Client) buildRequest(req *backend.ChatRequest) chatRequest {
	model := c.model
	if req.Model != "" {
		model = req.Model
	}
	out := chatRequest{
		Model:       model,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		TopP:        req.TopP,
	}
	if req.System != "" {
		out.Messages = append(out.Messages, chatMessage{Role: "system", Content: req.System})
	}
	for _, t := range req.Messages {
		m := chatMessage{Role: string(t.Role), Content: t.Text}
		switch t.Role {
		case conversation.RoleTool:
			m.ToolCallID = t.ToolCallID
			m.Name = t.ToolName
		case conversation.RoleAssistant:
			for _, tc := range t.ToolCalls {
				m.ToolCalls = append(m.ToolCalls, toolCall{
					ID:       tc.ID,
					Type:     "function",
					Function: functionCall{Name: tc.Name, Arguments: tc.ArgumentString()},
				})
			}
		}
		out.Messages = append(out.Messages, m)
	}
	for _, t := range req.Tools {
		if t.Native {
			continue
		}
		out.Tools = append(out.Tools, toolDef{
			Type: "function",
			Function: functionDef{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}
	return out
}

func arguments(s string) json.RawMessage {
	if s == "" {
		return nil
	}
	if json.Valid([]byte(s)) {
		return json.RawMessage(s)
	}
	b, _ := json.Marshal(s)
	return b
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Tools       []toolDef     `json:"tools,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature *float64      `json:"temperature,omitempty"`
	TopP        *float64      `json:"top_p,omitempty"`
}

type chatMessage struct {
	Role         string        `json:"role"`
	Content      string        `json:"content"`
	Name         string        `json:"name,omitempty"`
	ToolCalls    []toolCall    `json:"tool_calls,omitempty"`
	ToolCallID   string        `json:"tool_call_id,omitempty"`
	FunctionCall *functionCall `json:"function_call,omitempty"`
}

type toolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function functionCall `json:"function"`
}

type functionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type toolDef struct {
	Type     string      `json:"type"`
	Function functionDef `json:"function"`
}

type functionDef struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}
