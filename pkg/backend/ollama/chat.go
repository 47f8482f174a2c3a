// Package ollama adapts a local ollama server to the stateless backend
// protocol. The server endpoint is taken from OLLAMA_HOST.
//
// Ollama has neither a tool role nor structured tool calls: tools are
// described in the system prompt and called with <tool_call> markup.
package ollama

import (
	"context"
	"net/url"

	"github.com/go-go-golems/docagent/pkg/backend"
	"github.com/go-go-golems/docagent/pkg/conversation"
	"github.com/go-go-golems/docagent/pkg/settings"
	"github.com/jmorganca/ollama/api"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const Name = settings.ProviderOllama

type Chat struct {
	client *api.Client
	model  string
}

var _ backend.ChatBackend = (*Chat)(nil)

func NewChat(cfg *settings.AgentConfig) (*Chat, error) {
	if cfg == nil {
		return nil, errors.New("config cannot be nil")
	}
	client, err := api.ClientFromEnvironment()
	if err != nil {
		return nil, errors.Wrap(err, "could not create ollama client")
	}
	return &Chat{client: client, model: cfg.Model}, nil
}

func (c *Chat) Name() string { return Name }

func (c *Chat) Capabilities() backend.Capabilities {
	return backend.Capabilities{}
}

func (c *Chat) Complete(ctx context.Context, req *backend.ChatRequest) (resp *backend.ChatResponse, err error) {
	defer backend.Recover(Name, &err)

	model := c.model
	if req.Model != "" {
		model = req.Model
	}
	stream := false
	oreq := &api.ChatRequest{
		Model:    model,
		Messages: makeMessages(req),
		Stream:   &stream,
		Options:  map[string]interface{}{},
	}
	if req.Temperature != nil {
		oreq.Options["temperature"] = *req.Temperature
	}
	if req.TopP != nil {
		oreq.Options["top_p"] = *req.TopP
	}
	if req.MaxTokens > 0 {
		oreq.Options["num_predict"] = req.MaxTokens
	}
	log.Debug().Str("component", "ollama").Str("model", model).Int("messages", len(oreq.Messages)).Msg("sending chat request")

	text := ""
	err = c.client.Chat(ctx, oreq, func(r api.ChatResponse) error {
		text += r.Message.Content
		return nil
	})
	if err != nil {
		return nil, classifyError(err)
	}
	return &backend.ChatResponse{Text: text, FinishReason: "stop"}, nil
}

func (c *Chat) Ping(ctx context.Context) (err error) {
	defer backend.Recover(Name, &err)
	if err := c.client.Heartbeat(ctx); err != nil {
		return classifyError(err)
	}
	return nil
}

// makeMessages flattens tool exchanges into plain text since the server has
// no notion of them.
func makeMessages(req *backend.ChatRequest) []api.Message {
	msgs := make([]api.Message, 0, len(req.Messages)+1)
	if req.System != "" {
		msgs = append(msgs, api.Message{Role: "system", Content: req.System})
	}
	for _, t := range req.Messages {
		switch t.Role {
		case conversation.RoleTool:
			msgs = append(msgs, api.Message{Role: "user", Content: "Result of " + t.ToolName + ":\n" + t.Text})
		case conversation.RoleAssistant:
			content := t.Text
			for _, tc := range t.ToolCalls {
				if content != "" {
					content += "\n"
				}
				content += `<tool_call>{"name":"` + tc.Name + `","arguments":` + tc.ArgumentString() + `}</tool_call>`
			}
			msgs = append(msgs, api.Message{Role: "assistant", Content: content})
		default:
			msgs = append(msgs, api.Message{Role: string(t.Role), Content: t.Text})
		}
	}
	return msgs
}

func classifyError(err error) error {
	if backend.IsTimeout(err) || errors.Is(err, context.Canceled) {
		return err
	}
	var se api.StatusError
	if errors.As(err, &se) {
		if se.StatusCode >= 500 {
			return backend.Unavailable(Name, err)
		}
		return errors.Wrap(err, "ollama request failed")
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return backend.Unavailable(Name, err)
	}
	return backend.Internal(Name, err)
}
