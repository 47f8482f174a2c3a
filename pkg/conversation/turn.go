package conversation

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
	RoleSystem    Role = "system"
)

// ToolCall is one invocation requested by the model. Arguments hold the raw
// payload exactly as the backend sent it.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// NewCallID generates an id for calls the backend did not number itself.
func NewCallID() string {
	return "call_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// ArgumentString returns the raw payload, or "{}" when empty.
func (c ToolCall) ArgumentString() string {
	if len(c.Arguments) == 0 {
		return "{}"
	}
	return string(c.Arguments)
}

type ToolResult struct {
	CallID   string        `json:"call_id"`
	Name     string        `json:"name"`
	Output   string        `json:"output"`
	Success  bool          `json:"success"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
	Cached   bool          `json:"cached,omitempty"`
}

// Turn is one message in the conversation.
type Turn struct {
	Role      Role       `json:"role"`
	Text      string     `json:"text"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// ToolCallID and ToolName are only set on tool turns.
	ToolCallID string `json:"tool_call_id,omitempty"`
	ToolName   string `json:"tool_name,omitempty"`
}

func UserTurn(text string) Turn {
	return Turn{Role: RoleUser, Text: text}
}

func SystemTurn(text string) Turn {
	return Turn{Role: RoleSystem, Text: text}
}

func AssistantTurn(text string, calls ...ToolCall) Turn {
	return Turn{Role: RoleAssistant, Text: text, ToolCalls: calls}
}

func ToolTurn(res ToolResult) Turn {
	return Turn{Role: RoleTool, Text: res.Output, ToolCallID: res.CallID, ToolName: res.Name}
}

func (t Turn) HasToolCalls() bool {
	return t.Role == RoleAssistant && len(t.ToolCalls) > 0
}
