package ollama

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
	t.Setenv("OLLAMA_HOST", srv.URL)
	cfg, err := settings.NewAgentConfig()
	require.NoError(t, err)
	cfg.Provider = settings.ProviderOllama
	cfg.Model = "llama3"
	c, err := NewChat(cfg)
	require.NoError(t, err)
	return c
}

func TestCompleteFlattensToolTurns(t *testing.T) {
	var got struct {
		Model    string `json:"model"`
		Stream   bool   `json:"stream"`
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	c := newTestChat(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/chat", r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"model":"llama3","message":{"role":"assistant","content":"There are no invoices."},"done":true}`)
	})

	resp, err := c.Complete(context.Background(), &backend.ChatRequest{
		System: "tools...",
		Messages: []conversation.Turn{
			conversation.UserTurn("list invoices"),
			conversation.AssistantTurn("", conversation.ToolCall{ID: "c1", Name: "list_invoice", Arguments: json.RawMessage(`{}`)}),
			conversation.ToolTurn(conversation.ToolResult{CallID: "c1", Name: "list_invoice", Output: "[]"}),
		},
	})
	require.NoError(t, err)
	require.Equal(t, "There are no invoices.", resp.Text)

	require.Equal(t, "llama3", got.Model)
	require.False(t, got.Stream)
	require.Len(t, got.Messages, 4)
	require.Equal(t, "system", got.Messages[0].Role)
	require.Equal(t, `<tool_call>{"name":"list_invoice","arguments":{}}</tool_call>`, got.Messages[2].Content)
	require.Equal(t, "user", got.Messages[3].Role)
	require.Contains(t, got.Messages[3].Content, "list_invoice")
}

func TestCapabilitiesHaveNoToolSupport(t *testing.T) {
	c := &Chat{}
	caps := c.Capabilities()
	require.False(t, caps.ToolRole)
	require.False(t, caps.ToolCalls)
}
