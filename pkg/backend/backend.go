// Package backend defines the two protocols the agent speaks to language
// models: a stateless request/response chat protocol and a stateful
// run-based protocol that pushes events.
package backend

import (
	"context"

	"github.com/go-go-golems/docagent/pkg/conversation"
	"github.com/go-go-golems/docagent/pkg/inference/tools"
)

// Backend is implemented by every provider adapter. Concrete adapters also
// implement ChatBackend or StatefulBackend.
type Backend interface {
	Name() string
}

// Capabilities describe what a chat backend understands natively.
type Capabilities struct {
	// ToolRole is true when tool results can be sent with the tool role.
	// Otherwise they are sent as user-authored messages.
	ToolRole bool
	// ToolCalls is true when the backend returns structured tool calls.
	// Otherwise the tool catalog and the <tool_call> markup protocol are
	// described in the system prompt.
	ToolCalls bool
	// NativeTools lists backend-hosted tools (code_interpreter, file_search).
	NativeTools []string
}

func (c Capabilities) SupportsNative(name string) bool {
	for _, n := range c.NativeTools {
		if n == name {
			return true
		}
	}
	return false
}

type ChatRequest struct {
	Model       string
	System      string
	Messages    []conversation.Turn
	Tools       []tools.Tool
	Temperature *float64
	TopP        *float64
	MaxTokens   int
}

type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// ChatResponse is the assistant message of one round trip.
type ChatResponse struct {
	Text      string
	ToolCalls []conversation.ToolCall
	// FunctionCall is the legacy single-call field some providers still fill.
	FunctionCall *conversation.ToolCall
	FinishReason string
	Usage        Usage
}

// ChatBackend is a stateless backend: the full conversation is sent with
// every request.
type ChatBackend interface {
	Backend
	Capabilities() Capabilities
	Complete(ctx context.Context, req *ChatRequest) (*ChatResponse, error)
	// Ping performs the smallest possible round trip.
	Ping(ctx context.Context) error
}

// Run identifies a run of a stateful backend.
type Run struct {
	ThreadID string
	RunID    string
}

type RunRequest struct {
	ConversationID string
	Model          string
	Instructions   string
	// Prior seeds a thread the first time a conversation is seen.
	Prior       []conversation.Turn
	UserMessage string
	Tools       []tools.Tool
	Temperature *float64
	TopP        *float64
}

type EventKind string

const (
	EventRunStarted     EventKind = "run_started"
	EventRunInProgress  EventKind = "run_in_progress"
	EventTextDone       EventKind = "text_done"
	EventRequiresAction EventKind = "requires_action"
	EventRunDone        EventKind = "run_done"
	EventRunFailed      EventKind = "run_failed"
	EventRunCancelled   EventKind = "run_cancelled"
)

// Event is pushed by a stateful backend during a run.
type Event struct {
	Kind      EventKind
	Run       Run
	Text      string
	ToolCalls []conversation.ToolCall
	Err       error
}

// Terminal reports whether no further events follow on the stream.
func (e Event) Terminal() bool {
	switch e.Kind {
	case EventRunDone, EventRunFailed, EventRunCancelled, EventRequiresAction:
		return true
	}
	return false
}

// EventStream yields the events of one run segment. Next returns io.EOF once
// the stream is exhausted.
type EventStream interface {
	Next(ctx context.Context) (Event, error)
	Close() error
}

// StatefulBackend keeps conversation state server-side. A run that requires
// action is continued by submitting every tool output in one batch, which
// yields a new sub-stream.
type StatefulBackend interface {
	Backend
	StartRun(ctx context.Context, req *RunRequest) (EventStream, error)
	SubmitToolOutputs(ctx context.Context, run Run, results []conversation.ToolResult) (EventStream, error)
	CancelRun(ctx context.Context, run Run) error
}
