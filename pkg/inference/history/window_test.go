package history

import (
	"strings"
	"testing"

	"github.com/go-go-golems/docagent/pkg/conversation"
	"github.com/stretchr/testify/require"
)

// wordCounter counts whitespace separated words.
type wordCounter struct{}

func (wordCounter) Count(text string) int { return len(strings.Fields(text)) }

func turns() []conversation.Turn {
	return []conversation.Turn{
		conversation.SystemTurn("be nice"),
		conversation.UserTurn("one two three"),
		conversation.AssistantTurn("four five"),
		conversation.UserTurn("six"),
		conversation.AssistantTurn("seven eight nine ten"),
	}
}

func TestWindowLimit(t *testing.T) {
	w := Window(turns(), 2, 0, nil)
	require.Len(t, w, 2)
	require.Equal(t, "six", w[0].Text)
	require.Equal(t, "seven eight nine ten", w[1].Text)
}

func TestWindowDropsSystemTurns(t *testing.T) {
	w := Window(turns(), 0, 0, nil)
	require.Len(t, w, 4)
	for _, turn := range w {
		require.NotEqual(t, conversation.RoleSystem, turn.Role)
	}
}

func TestWindowTokenBudget(t *testing.T) {
	// costs: 7, 6, 5, 8
	w := Window(turns(), 0, 13, wordCounter{})
	require.Len(t, w, 2)
	require.Equal(t, "six", w[0].Text)

	w = Window(turns(), 0, 1, wordCounter{})
	require.Empty(t, w)
}

func TestWindowNeverStartsWithToolResult(t *testing.T) {
	in := []conversation.Turn{
		conversation.UserTurn("list"),
		conversation.AssistantTurn("", conversation.ToolCall{ID: "c1", Name: "list_invoice"}),
		conversation.ToolTurn(conversation.ToolResult{CallID: "c1", Name: "list_invoice", Output: "[]"}),
		conversation.AssistantTurn("nothing found"),
	}
	w := Window(in, 2, 0, nil)
	require.Len(t, w, 1)
	require.Equal(t, "nothing found", w[0].Text)
}

func TestNewCounterFallsBackToDefaultEncoding(t *testing.T) {
	c, err := NewCounter("some-local-model")
	require.NoError(t, err)
	require.Greater(t, c.Count("hello world"), 0)
	require.Equal(t, 0, c.Count(""))
}
