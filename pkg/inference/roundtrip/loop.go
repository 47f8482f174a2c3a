// Package roundtrip drives the request, tool call, response loop against a
// stateless chat backend.
package roundtrip

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-go-golems/docagent/pkg/backend"
	"github.com/go-go-golems/docagent/pkg/conversation"
	"github.com/go-go-golems/docagent/pkg/events"
	"github.com/go-go-golems/docagent/pkg/inference/history"
	"github.com/go-go-golems/docagent/pkg/inference/toolparse"
	"github.com/go-go-golems/docagent/pkg/inference/tools"
	"github.com/go-go-golems/docagent/pkg/observability"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

type State string

const (
	StateBuildingRequest  State = "BUILDING_REQUEST"
	StateAwaitingResponse State = "AWAITING_RESPONSE"
	StateHasToolCalls     State = "HAS_TOOL_CALLS"
	StateExecutingTools   State = "EXECUTING_TOOLS"
	StateNoToolCalls      State = "NO_TOOL_CALLS"
	StateDone             State = "DONE"
	StateFailed           State = "FAILED"
	StateCancelled        State = "CANCELLED"
)

const DefaultBackendTimeout = 60 * time.Second

// Result is the outcome of one session. Text is the raw final answer, or
// the last partial content of a failed session.
type Result struct {
	Text    string
	Outcome conversation.Outcome
	Rounds  int
	Err     error
}

type Loop struct {
	backend        backend.ChatBackend
	executor       *tools.Executor
	counter        history.Counter
	backendTimeout time.Duration
	metrics        *observability.Metrics
	tracer         *observability.Tracer
}

type Option func(*Loop)

func New(opts ...Option) *Loop {
	l := &Loop{
		backendTimeout: DefaultBackendTimeout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}
	return l
}

func WithBackend(b backend.ChatBackend) Option {
	return func(l *Loop) { l.backend = b }
}

func WithExecutor(e *tools.Executor) Option {
	return func(l *Loop) { l.executor = e }
}

func WithTokenCounter(c history.Counter) Option {
	return func(l *Loop) { l.counter = c }
}

func WithBackendTimeout(d time.Duration) Option {
	return func(l *Loop) {
		if d > 0 {
			l.backendTimeout = d
		}
	}
}

func WithMetrics(m *observability.Metrics) Option {
	return func(l *Loop) { l.metrics = m }
}

func WithTracer(t *observability.Tracer) Option {
	return func(l *Loop) { l.tracer = t }
}

// Run answers userMessage within s. The session's turns before the call are
// the prior history; the user message, assistant turns and tool results of
// this run are appended to it. The session outcome is set before Run
// returns.
func (l *Loop) Run(ctx context.Context, s *conversation.Session, userMessage string) Result {
	if err := l.check(); err != nil {
		return l.fail(s, err)
	}
	start := len(s.Turns())
	s.Append(conversation.UserTurn(userMessage))
	return l.run(ctx, s, start)
}

// Resume continues a run that another client started. The turns of s from
// start on belong to the run, beginning with its user message; they are sent
// as they are and only the turns before start are windowed.
func (l *Loop) Resume(ctx context.Context, s *conversation.Session, start int) Result {
	if err := l.check(); err != nil {
		return l.fail(s, err)
	}
	if n := len(s.Turns()); start < 0 || start >= n {
		return l.fail(s, errors.Errorf("resume index %d outside of %d turns", start, n))
	}
	return l.run(ctx, s, start)
}

func (l *Loop) check() error {
	if l == nil || l.backend == nil {
		return errors.New("round trip loop has no backend")
	}
	if l.executor == nil {
		return errors.New("round trip loop has no executor")
	}
	return nil
}

func (l *Loop) run(ctx context.Context, s *conversation.Session, start int) Result {
	cfg := s.Config

	prior := s.Turns()[:start]
	historyLimit, historyTokens := 0, 0
	if cfg != nil {
		historyLimit, historyTokens = cfg.HistoryLimit, cfg.HistoryMaxTokens
	}
	window := history.Window(prior, historyLimit, historyTokens, l.counter)

	caps := l.backend.Capabilities()
	catalog := l.executor.Registry().Callable()
	system := l.systemPrompt(s, caps, catalog)

	logger := log.With().Str("component", "roundtrip").Str("conversation", s.ID).Str("backend", l.backend.Name()).Logger()

	for {
		if s.Stopped() {
			return l.cancel(s)
		}
		round, err := s.BeginRound()
		if err != nil {
			return l.roundLimit(s)
		}
		logger.Debug().Int("round", round).Str("state", string(StateBuildingRequest)).Msg("building request")

		req := &backend.ChatRequest{
			System:   system,
			Messages: append(append([]conversation.Turn(nil), window...), s.Turns()[len(prior):]...),
		}
		if cfg != nil {
			req.Model = cfg.Model
			req.Temperature = cfg.Temperature
			req.TopP = cfg.TopP
		}
		if caps.ToolCalls {
			req.Tools = catalog
		}

		logger.Debug().Int("round", round).Str("state", string(StateAwaitingResponse)).Int("messages", len(req.Messages)).Msg("sending request")
		resp, err := l.complete(ctx, s.ID, round, req)
		if err != nil {
			logger.Warn().Err(err).Int("round", round).Msg("backend request failed")
			return l.fail(s, err)
		}

		calls, text := toolparse.Extract(resp)
		if strings.TrimSpace(text) != "" {
			s.SetPartial(text)
		}
		if s.Stopped() {
			// the answer of an in-flight request is kept but not acted on
			s.Append(conversation.AssistantTurn(text, calls...))
			return l.cancel(s)
		}
		if len(calls) == 0 {
			s.Append(conversation.AssistantTurn(text))
			logger.Debug().Int("round", round).Str("state", string(StateNoToolCalls)).Msg("final answer")
			s.Finish(conversation.OutcomeSuccess)
			return Result{Text: text, Outcome: s.Outcome(), Rounds: s.Rounds()}
		}

		s.Append(conversation.AssistantTurn(text, calls...))
		if round >= s.MaxRounds() {
			logger.Warn().Str("state", string(StateFailed)).Int("max_rounds", s.MaxRounds()).Int("pending_calls", len(calls)).Msg("round limit reached with pending tool calls")
			return l.roundLimit(s)
		}

		logger.Debug().Int("round", round).Str("state", string(StateExecutingTools)).Int("calls", len(calls)).Msg("executing tools")
		results, err := l.executor.ExecuteAll(ctx, calls, s.StopRequested())
		s.Append(resultTurns(caps, results)...)
		if errors.Is(err, tools.ErrStopped) {
			return l.cancel(s)
		}
	}
}

func (l *Loop) complete(ctx context.Context, conversationID string, round int, req *backend.ChatRequest) (*backend.ChatResponse, error) {
	ctx, span := l.tracer.TraceBackendRequest(ctx, l.backend.Name(), req.Model, round)
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, l.backendTimeout)
	defer cancel()

	events.PublishEventToContext(ctx, events.NewRunStatusEvent(events.NewMetadata(conversationID, round), "", string(StateAwaitingResponse)))
	start := time.Now()
	resp, err := l.backend.Complete(ctx, req)
	status := "ok"
	switch {
	case err == nil:
	case backend.IsTimeout(err):
		status = "timeout"
		err = errors.Wrapf(err, "backend did not answer within %s", l.backendTimeout)
	default:
		status = "error"
	}
	l.metrics.BackendRequest(l.backend.Name(), req.Model, status, time.Since(start))
	if err != nil {
		observability.RecordError(span, err)
		return nil, err
	}
	if resp == nil {
		return nil, errors.New("backend returned no response")
	}
	return resp, nil
}

func (l *Loop) systemPrompt(s *conversation.Session, caps backend.Capabilities, catalog []tools.Tool) string {
	system := ""
	if s.Config != nil {
		system = s.Config.Instructions
	}
	if caps.ToolCalls || len(catalog) == 0 {
		return system
	}
	protocol := toolparse.ProtocolPrompt(catalog)
	if system == "" {
		return protocol
	}
	return system + "\n\n" + protocol
}

// resultTurns renders results with the tool role, or as user messages when
// the backend has none.
func resultTurns(caps backend.Capabilities, results []conversation.ToolResult) []conversation.Turn {
	turns := make([]conversation.Turn, 0, len(results))
	for _, r := range results {
		if caps.ToolRole {
			turns = append(turns, conversation.ToolTurn(r))
			continue
		}
		turns = append(turns, conversation.UserTurn(fmt.Sprintf("Result of tool %s (call %s):\n%s", r.Name, r.CallID, r.Output)))
	}
	return turns
}

func (l *Loop) fail(s *conversation.Session, err error) Result {
	s.Finish(conversation.OutcomeFailed)
	return Result{Text: s.Partial(), Outcome: s.Outcome(), Rounds: s.Rounds(), Err: err}
}

func (l *Loop) roundLimit(s *conversation.Session) Result {
	return l.fail(s, errors.Wrapf(conversation.ErrRoundLimit, "stopped after %d rounds", s.Rounds()))
}

func (l *Loop) cancel(s *conversation.Session) Result {
	s.Finish(conversation.OutcomeCancelled)
	return Result{Text: s.Partial(), Outcome: s.Outcome(), Rounds: s.Rounds()}
}
