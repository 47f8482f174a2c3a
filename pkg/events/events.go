package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type EventType string

const (
	// Executor lifecycle
	EventTypeToolCallExecute         EventType = "tool-call-execute"
	EventTypeToolCallExecutionResult EventType = "tool-call-execution-result"

	// Text handed to the message sink
	EventTypeText EventType = "text"

	// Stateful backend run progress
	EventTypeRunStatus EventType = "run-status"

	EventTypeSessionFinished EventType = "session-finished"
	EventTypeError           EventType = "error"
)

type Event interface {
	Type() EventType
	Metadata() EventMetadata
}

// EventMetadata identifies where an event came from.
type EventMetadata struct {
	ID             uuid.UUID `json:"id"`
	ConversationID string    `json:"conversation_id,omitempty"`
	Round          int       `json:"round,omitempty"`
	Time           time.Time `json:"time"`
}

func NewMetadata(conversationID string, round int) EventMetadata {
	return EventMetadata{
		ID:             uuid.New(),
		ConversationID: conversationID,
		Round:          round,
		Time:           time.Now(),
	}
}

func (m EventMetadata) MarshalZerologObject(e *zerolog.Event) {
	e.Str("id", m.ID.String())
	if m.ConversationID != "" {
		e.Str("conversation_id", m.ConversationID)
	}
	if m.Round > 0 {
		e.Int("round", m.Round)
	}
}

type EventImpl struct {
	Type_     EventType     `json:"type"`
	Metadata_ EventMetadata `json:"meta"`
}

func (e *EventImpl) Type() EventType         { return e.Type_ }
func (e *EventImpl) Metadata() EventMetadata { return e.Metadata_ }

func (e *EventImpl) MarshalZerologObject(ev *zerolog.Event) {
	ev.Str("type", string(e.Type_))
	ev.Object("meta", e.Metadata_)
}

type ToolCall struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Input string `json:"input"`
}

type EventToolCallExecute struct {
	EventImpl
	ToolCall ToolCall `json:"tool_call"`
}

func NewToolCallExecuteEvent(metadata EventMetadata, call ToolCall) *EventToolCallExecute {
	return &EventToolCallExecute{
		EventImpl: EventImpl{Type_: EventTypeToolCallExecute, Metadata_: metadata},
		ToolCall:  call,
	}
}

type ToolResult struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Result  string `json:"result"`
	Success bool   `json:"success"`
	Cached  bool   `json:"cached,omitempty"`
	DryRun  bool   `json:"dry_run,omitempty"`
}

type EventToolCallExecutionResult struct {
	EventImpl
	ToolResult ToolResult `json:"tool_result"`
}

func NewToolCallExecutionResultEvent(metadata EventMetadata, result ToolResult) *EventToolCallExecutionResult {
	return &EventToolCallExecutionResult{
		EventImpl:  EventImpl{Type_: EventTypeToolCallExecutionResult, Metadata_: metadata},
		ToolResult: result,
	}
}

type EventText struct {
	EventImpl
	Text string `json:"text"`
}

func NewTextEvent(metadata EventMetadata, text string) *EventText {
	return &EventText{
		EventImpl: EventImpl{Type_: EventTypeText, Metadata_: metadata},
		Text:      text,
	}
}

type EventRunStatus struct {
	EventImpl
	RunID  string `json:"run_id,omitempty"`
	Status string `json:"status"`
}

func NewRunStatusEvent(metadata EventMetadata, runID, status string) *EventRunStatus {
	return &EventRunStatus{
		EventImpl: EventImpl{Type_: EventTypeRunStatus, Metadata_: metadata},
		RunID:     runID,
		Status:    status,
	}
}

type EventSessionFinished struct {
	EventImpl
	Outcome string `json:"outcome"`
	Rounds  int    `json:"rounds"`
	Cycles  int    `json:"cycles,omitempty"`
}

func NewSessionFinishedEvent(metadata EventMetadata, outcome string, rounds, cycles int) *EventSessionFinished {
	return &EventSessionFinished{
		EventImpl: EventImpl{Type_: EventTypeSessionFinished, Metadata_: metadata},
		Outcome:   outcome,
		Rounds:    rounds,
		Cycles:    cycles,
	}
}

type EventError struct {
	EventImpl
	ErrorString string `json:"error"`
}

func NewErrorEvent(metadata EventMetadata, err error) *EventError {
	s := ""
	if err != nil {
		s = err.Error()
	}
	return &EventError{
		EventImpl:   EventImpl{Type_: EventTypeError, Metadata_: metadata},
		ErrorString: s,
	}
}

// NewEventFromJson decodes an event published by a WatermillSink.
func NewEventFromJson(b []byte) (Event, error) {
	var head EventImpl
	if err := json.Unmarshal(b, &head); err != nil {
		return nil, err
	}
	var ev Event
	switch head.Type_ {
	case EventTypeToolCallExecute:
		ev = &EventToolCallExecute{}
	case EventTypeToolCallExecutionResult:
		ev = &EventToolCallExecutionResult{}
	case EventTypeText:
		ev = &EventText{}
	case EventTypeRunStatus:
		ev = &EventRunStatus{}
	case EventTypeSessionFinished:
		ev = &EventSessionFinished{}
	case EventTypeError:
		ev = &EventError{}
	default:
		return &head, nil
	}
	if err := json.Unmarshal(b, ev); err != nil {
		return nil, err
	}
	return ev, nil
}
