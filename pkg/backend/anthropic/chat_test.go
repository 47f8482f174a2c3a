package anthropic

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-go-golems/docagent/pkg/backend"
	"github.com/go-go-golems/docagent/pkg/conversation"
	"github.com/go-go-golems/docagent/pkg/settings"
	"github.com/stretchr/testify/require"
)

func newTestChat(t *testing.T, handler http.HandlerFunc) *Chat {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	cfg, err := settings.NewAgentConfig()
	require.NoError(t, err)
	cfg.Provider = settings.ProviderAnthropic
	cfg.Model = "claude-test"
	cfg.Providers[settings.ProviderAnthropic] = settings.ProviderSettings{APIKey: "test", BaseURL: srv.URL}
	c, err := NewChat(cfg)
	require.NoError(t, err)
	return c
}

func TestCompleteMapsToolTurns(t *testing.T) {
	var got map[string]interface{}
	c := newTestChat(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/messages", r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
		  "id": "msg_1", "type": "message", "role": "assistant", "model": "claude-test",
		  "content": [
		    {"type": "text", "text": "Checking."},
		    {"type": "tool_use", "id": "tu_2", "name": "get_invoice", "input": {"id": "7"}}
		  ],
		  "stop_reason": "tool_use",
		  "usage": {"input_tokens": 10, "output_tokens": 5}
		}`)
	})

	resp, err := c.Complete(context.Background(), &backend.ChatRequest{
		System: "be brief",
		Messages: []conversation.Turn{
			conversation.UserTurn("list them"),
			conversation.AssistantTurn("", conversation.ToolCall{ID: "tu_1", Name: "list_invoice", Arguments: json.RawMessage(`{}`)}),
			conversation.ToolTurn(conversation.ToolResult{CallID: "tu_1", Name: "list_invoice", Output: "[]"}),
		},
	})
	require.NoError(t, err)
	require.Equal(t, "Checking.", resp.Text)
	require.Len(t, resp.ToolCalls, 1)
	require.Equal(t, "tu_2", resp.ToolCalls[0].ID)
	require.JSONEq(t, `{"id":"7"}`, string(resp.ToolCalls[0].Arguments))
	require.Equal(t, "tool_use", resp.FinishReason)
	require.Equal(t, 5, resp.Usage.OutputTokens)

	msgs := got["messages"].([]interface{})
	require.Len(t, msgs, 3)
	require.Equal(t, "assistant", msgs[1].(map[string]interface{})["role"])
	last := msgs[2].(map[string]interface{})
	require.Equal(t, "user", last["role"])
	block := last["content"].([]interface{})[0].(map[string]interface{})
	require.Equal(t, "tool_result", block["type"])
	require.Equal(t, "tu_1", block["tool_use_id"])
	require.NotNil(t, got["system"])
}

func TestOverloadedIsUnavailable(t *testing.T) {
	c := newTestChat(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = io.WriteString(w, `{"type":"error","error":{"type":"overloaded_error","message":"overloaded"}}`)
	})
	_, err := c.Complete(context.Background(), &backend.ChatRequest{Messages: []conversation.Turn{conversation.UserTurn("hi")}})
	require.ErrorIs(t, err, backend.ErrUnavailable)
}
