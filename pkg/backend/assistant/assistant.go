// Package assistant adapts the OpenAI assistants API (threads and runs) to
// the stateful backend protocol. Runs are observed by polling and turned
// into a stream of backend events.
package assistant

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/go-go-golems/docagent/pkg/backend"
	"github.com/go-go-golems/docagent/pkg/backend/openai"
	"github.com/go-go-golems/docagent/pkg/conversation"
	"github.com/go-go-golems/docagent/pkg/inference/tools"
	"github.com/go-go-golems/docagent/pkg/settings"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	go_openai "github.com/sashabaranov/go-openai"
)

const Name = settings.ProviderAssistant

const DefaultPollInterval = 500 * time.Millisecond

type Assistant struct {
	client       *go_openai.Client
	assistantID  string
	model        string
	nativeTools  []string
	pollInterval time.Duration

	mu      sync.Mutex
	threads map[string]string          // conversation id -> thread id
	seen    map[string]map[string]bool // run id -> delivered message ids
}

var _ backend.StatefulBackend = (*Assistant)(nil)

type Option func(*Assistant)

func WithPollInterval(d time.Duration) Option {
	return func(a *Assistant) {
		if d > 0 {
			a.pollInterval = d
		}
	}
}

func New(cfg *settings.AgentConfig, opts ...Option) (*Assistant, error) {
	if cfg == nil {
		return nil, errors.New("config cannot be nil")
	}
	if cfg.AssistantID == "" {
		return nil, errors.New("assistant provider requires an assistant id")
	}
	ps := cfg.Providers[settings.ProviderAssistant]
	if ps.APIKey == "" {
		// the assistants API shares credentials with the chat API
		ps = cfg.Providers[settings.ProviderOpenAI]
	}
	a := &Assistant{
		client:       openai.MakeClient(ps),
		assistantID:  cfg.AssistantID,
		model:        cfg.Model,
		pollInterval: DefaultPollInterval,
		threads:      map[string]string{},
		seen:         map[string]map[string]bool{},
	}
	if cfg.CodeInterpreter {
		a.nativeTools = append(a.nativeTools, tools.NativeCodeInterpreter)
	}
	if cfg.FileSearch {
		a.nativeTools = append(a.nativeTools, tools.NativeFileSearch)
	}
	for _, o := range opts {
		o(a)
	}
	return a, nil
}

func (a *Assistant) Name() string { return Name }

// Capabilities reports the backend-hosted tools enabled in the config.
func (a *Assistant) Capabilities() backend.Capabilities {
	return backend.Capabilities{ToolRole: true, ToolCalls: true, NativeTools: a.nativeTools}
}

// Thread returns the thread of a conversation, if one was created.
func (a *Assistant) Thread(conversationID string) (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	id, ok := a.threads[conversationID]
	return id, ok
}

func (a *Assistant) StartRun(ctx context.Context, req *backend.RunRequest) (_ backend.EventStream, err error) {
	defer backend.Recover(Name, &err)

	threadID, err := a.ensureThread(ctx, req)
	if err != nil {
		return nil, err
	}
	if _, err := a.client.CreateMessage(ctx, threadID, go_openai.MessageRequest{
		Role:    string(go_openai.ThreadMessageRoleUser),
		Content: req.UserMessage,
	}); err != nil {
		return nil, errors.Wrap(openai.ClassifyError(err), "could not add message to thread")
	}

	rreq := go_openai.RunRequest{
		AssistantID:  a.assistantID,
		Model:        req.Model,
		Instructions: req.Instructions,
		Tools:        a.makeTools(req.Tools),
	}
	if req.Temperature != nil {
		t := float32(*req.Temperature)
		rreq.Temperature = &t
	}
	if req.TopP != nil {
		p := float32(*req.TopP)
		rreq.TopP = &p
	}
	run, err := a.client.CreateRun(ctx, threadID, rreq)
	if err != nil {
		return nil, errors.Wrap(openai.ClassifyError(err), "could not start run")
	}
	r := backend.Run{ThreadID: threadID, RunID: run.ID}
	log.Debug().Str("component", "assistant").Str("thread", threadID).Str("run", run.ID).Msg("run started")

	s := a.newStream(r)
	s.pending = append(s.pending, backend.Event{Kind: backend.EventRunStarted, Run: r})
	return s, nil
}

func (a *Assistant) SubmitToolOutputs(ctx context.Context, run backend.Run, results []conversation.ToolResult) (_ backend.EventStream, err error) {
	defer backend.Recover(Name, &err)

	outputs := make([]go_openai.ToolOutput, 0, len(results))
	for _, r := range results {
		outputs = append(outputs, go_openai.ToolOutput{ToolCallID: r.CallID, Output: r.Output})
	}
	if _, err := a.client.SubmitToolOutputs(ctx, run.ThreadID, run.RunID, go_openai.SubmitToolOutputsRequest{
		ToolOutputs: outputs,
	}); err != nil {
		return nil, errors.Wrap(openai.ClassifyError(err), "could not submit tool outputs")
	}
	return a.newStream(run), nil
}

func (a *Assistant) CancelRun(ctx context.Context, run backend.Run) (err error) {
	defer backend.Recover(Name, &err)
	if _, err := a.client.CancelRun(ctx, run.ThreadID, run.RunID); err != nil {
		return errors.Wrap(openai.ClassifyError(err), "could not cancel run")
	}
	return nil
}

// ensureThread reuses the conversation's thread or creates one seeded with
// the prior messages.
func (a *Assistant) ensureThread(ctx context.Context, req *backend.RunRequest) (string, error) {
	if id, ok := a.Thread(req.ConversationID); ok && req.ConversationID != "" {
		return id, nil
	}
	var msgs []go_openai.ThreadMessage
	for _, t := range req.Prior {
		if t.Text == "" {
			continue
		}
		switch t.Role {
		case conversation.RoleUser:
			msgs = append(msgs, go_openai.ThreadMessage{Role: go_openai.ThreadMessageRoleUser, Content: t.Text})
		case conversation.RoleAssistant:
			msgs = append(msgs, go_openai.ThreadMessage{Role: go_openai.ThreadMessageRoleAssistant, Content: t.Text})
		}
	}
	thread, err := a.client.CreateThread(ctx, go_openai.ThreadRequest{Messages: msgs})
	if err != nil {
		return "", errors.Wrap(openai.ClassifyError(err), "could not create thread")
	}
	if req.ConversationID != "" {
		a.mu.Lock()
		a.threads[req.ConversationID] = thread.ID
		a.mu.Unlock()
	}
	return thread.ID, nil
}

func (a *Assistant) makeTools(ts []tools.Tool) []go_openai.Tool {
	out := openai.MakeTools(ts)
	for _, t := range ts {
		if t.Native {
			out = append(out, go_openai.Tool{Type: go_openai.ToolType(t.Name)})
		}
	}
	return out
}

func (a *Assistant) newStream(run backend.Run) *runStream {
	return &runStream{a: a, run: run}
}

// newTexts returns the assistant messages of a run not delivered yet, oldest
// first.
func (a *Assistant) newTexts(ctx context.Context, run backend.Run) ([]string, error) {
	order := "asc"
	limit := 100
	runID := run.RunID
	list, err := a.client.ListMessage(ctx, run.ThreadID, &limit, &order, nil, nil, &runID)
	if err != nil {
		return nil, openai.ClassifyError(err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	seen := a.seen[run.RunID]
	if seen == nil {
		seen = map[string]bool{}
		a.seen[run.RunID] = seen
	}
	var texts []string
	for _, m := range list.Messages {
		if m.Role != string(go_openai.ThreadMessageRoleAssistant) || seen[m.ID] {
			continue
		}
		seen[m.ID] = true
		for _, c := range m.Content {
			if c.Text != nil && c.Text.Value != "" {
				texts = append(texts, c.Text.Value)
			}
		}
	}
	return texts, nil
}

func (a *Assistant) forget(run backend.Run) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.seen, run.RunID)
}

type runStream struct {
	a       *Assistant
	run     backend.Run
	pending []backend.Event
	last    go_openai.RunStatus
	done    bool
	closed  bool
}

func (s *runStream) Next(ctx context.Context) (ev backend.Event, err error) {
	defer backend.Recover(Name, &err)
	for {
		if len(s.pending) > 0 {
			ev = s.pending[0]
			s.pending = s.pending[1:]
			return ev, nil
		}
		if s.done || s.closed {
			return backend.Event{}, io.EOF
		}
		run, err := s.a.client.RetrieveRun(ctx, s.run.ThreadID, s.run.RunID)
		if err != nil {
			return backend.Event{}, errors.Wrap(openai.ClassifyError(err), "could not poll run")
		}
		if err := s.observe(ctx, run); err != nil {
			return backend.Event{}, err
		}
		if len(s.pending) == 0 {
			select {
			case <-ctx.Done():
				return backend.Event{}, ctx.Err()
			case <-time.After(s.a.pollInterval):
			}
		}
	}
}

func (s *runStream) observe(ctx context.Context, run go_openai.Run) error {
	status := run.Status
	defer func() { s.last = status }()

	switch status {
	case go_openai.RunStatusQueued, go_openai.RunStatusCancelling:
		return nil
	case go_openai.RunStatusInProgress:
		if s.last != go_openai.RunStatusInProgress {
			s.pending = append(s.pending, backend.Event{Kind: backend.EventRunInProgress, Run: s.run})
		}
		return nil
	}

	if err := s.flushTexts(ctx); err != nil {
		return err
	}
	s.done = true

	switch status {
	case go_openai.RunStatusRequiresAction:
		var calls []conversation.ToolCall
		if ra := run.RequiredAction; ra != nil && ra.SubmitToolOutputs != nil {
			for _, tc := range ra.SubmitToolOutputs.ToolCalls {
				calls = append(calls, conversation.ToolCall{
					ID:        tc.ID,
					Name:      tc.Function.Name,
					Arguments: []byte(tc.Function.Arguments),
				})
			}
		}
		s.pending = append(s.pending, backend.Event{Kind: backend.EventRequiresAction, Run: s.run, ToolCalls: calls})
	case go_openai.RunStatusCompleted:
		s.a.forget(s.run)
		s.pending = append(s.pending, backend.Event{Kind: backend.EventRunDone, Run: s.run})
	case go_openai.RunStatusCancelled:
		s.a.forget(s.run)
		s.pending = append(s.pending, backend.Event{Kind: backend.EventRunCancelled, Run: s.run})
	default:
		s.a.forget(s.run)
		msg := string(status)
		if run.LastError != nil && run.LastError.Message != "" {
			msg = run.LastError.Message
		}
		s.pending = append(s.pending, backend.Event{Kind: backend.EventRunFailed, Run: s.run, Err: errors.Errorf("run %s: %s", status, msg)})
	}
	return nil
}

func (s *runStream) flushTexts(ctx context.Context) error {
	texts, err := s.a.newTexts(ctx, s.run)
	if err != nil {
		return errors.Wrap(err, "could not list run messages")
	}
	for _, t := range texts {
		s.pending = append(s.pending, backend.Event{Kind: backend.EventTextDone, Run: s.run, Text: t})
	}
	return nil
}

func (s *runStream) Close() error {
	s.closed = true
	return nil
}
