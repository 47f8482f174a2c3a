// Package streaming drives sessions against a stateful backend that reports
// progress as a stream of run events.
package streaming

import (
	"context"
	"io"
	"strings"

	"github.com/go-go-golems/docagent/pkg/backend"
	"github.com/go-go-golems/docagent/pkg/conversation"
	"github.com/go-go-golems/docagent/pkg/events"
	"github.com/go-go-golems/docagent/pkg/inference/tools"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Result is the outcome of one streamed session. Cycles counts the
// requires-action rounds that were answered.
type Result struct {
	Text    string
	Outcome conversation.Outcome
	Cycles  int
	Err     error
	// Delivered is true when at least one text was pushed to the sink.
	Delivered bool
}

type Adapter struct {
	backend  backend.StatefulBackend
	executor *tools.Executor
	sink     events.MessageSink
}

type Option func(*Adapter)

func WithMessageSink(s events.MessageSink) Option {
	return func(a *Adapter) { a.sink = s }
}

func New(b backend.StatefulBackend, executor *tools.Executor, opts ...Option) *Adapter {
	a := &Adapter{
		backend:  b,
		executor: executor,
		sink:     events.NullMessageSink{},
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Run starts a run for userMessage and follows it until a terminal event.
// Text is delivered to the sink as soon as the backend reports it.
func (a *Adapter) Run(ctx context.Context, s *conversation.Session, userMessage string) Result {
	if a.backend == nil || a.executor == nil {
		return a.finish(ctx, s, 0, false, conversation.OutcomeFailed, errors.New("streaming adapter is not configured"))
	}
	logger := log.With().Str("component", "streaming").Str("conversation", s.ID).Str("backend", a.backend.Name()).Logger()

	if s.Stopped() {
		return a.finish(ctx, s, 0, false, conversation.OutcomeCancelled, nil)
	}

	req := &backend.RunRequest{
		ConversationID: s.ID,
		Prior:          s.Turns(),
		UserMessage:    userMessage,
		Tools:          a.executor.Registry().List(),
	}
	if cfg := s.Config; cfg != nil {
		req.Model = cfg.Model
		req.Instructions = cfg.Instructions
		req.Temperature = cfg.Temperature
		req.TopP = cfg.TopP
	}
	s.Append(conversation.UserTurn(userMessage))

	stream, err := a.backend.StartRun(ctx, req)
	if err != nil {
		logger.Warn().Err(err).Msg("could not start run")
		return a.finish(ctx, s, 0, false, conversation.OutcomeFailed, err)
	}

	var (
		run       backend.Run
		cycles    int
		delivered bool
	)
	defer func() {
		if stream != nil {
			_ = stream.Close()
		}
	}()

	for {
		if s.Stopped() {
			a.cancelRun(ctx, run)
			return a.finish(ctx, s, cycles, delivered, conversation.OutcomeCancelled, nil)
		}

		ev, err := stream.Next(ctx)
		if err == io.EOF {
			err = errors.New("run stream ended without a terminal event")
		}
		if err != nil {
			logger.Warn().Err(err).Int("cycles", cycles).Msg("run stream failed")
			return a.finish(ctx, s, cycles, delivered, conversation.OutcomeFailed, err)
		}
		if ev.Run.RunID != "" {
			run = ev.Run
		}
		logger.Debug().Str("event", string(ev.Kind)).Str("run", run.RunID).Msg("run event")

		switch ev.Kind {
		case backend.EventRunStarted, backend.EventRunInProgress:
			events.PublishEventToContext(ctx, events.NewRunStatusEvent(events.NewMetadata(s.ID, cycles), run.RunID, string(ev.Kind)))

		case backend.EventTextDone:
			if strings.TrimSpace(ev.Text) == "" {
				continue
			}
			s.SetPartial(ev.Text)
			s.Append(conversation.AssistantTurn(ev.Text))
			events.PublishEventToContext(ctx, events.NewTextEvent(events.NewMetadata(s.ID, cycles), ev.Text))
			if err := a.sink.Deliver(ctx, s.ID, ev.Text); err != nil {
				logger.Error().Err(err).Msg("could not deliver message")
			} else {
				delivered = true
			}

		case backend.EventRequiresAction:
			cycles++
			s.Append(conversation.AssistantTurn("", ev.ToolCalls...))
			results, err := a.executor.ExecuteAll(ctx, ev.ToolCalls, s.StopRequested())
			for _, r := range results {
				s.Append(conversation.ToolTurn(r))
			}
			if errors.Is(err, tools.ErrStopped) {
				continue
			}
			_ = stream.Close()
			stream, err = a.backend.SubmitToolOutputs(ctx, run, results)
			if err != nil {
				logger.Warn().Err(err).Int("cycles", cycles).Msg("could not submit tool outputs")
				return a.finish(ctx, s, cycles, delivered, conversation.OutcomeFailed, err)
			}

		case backend.EventRunDone:
			return a.finish(ctx, s, cycles, delivered, conversation.OutcomeSuccess, nil)

		case backend.EventRunCancelled:
			return a.finish(ctx, s, cycles, delivered, conversation.OutcomeCancelled, nil)

		case backend.EventRunFailed:
			err := ev.Err
			if err == nil {
				err = errors.New("run failed")
			}
			return a.finish(ctx, s, cycles, delivered, conversation.OutcomeFailed, err)
		}
	}
}

// cancelRun asks the backend to cancel; failures are only logged.
func (a *Adapter) cancelRun(ctx context.Context, run backend.Run) {
	if run.RunID == "" {
		return
	}
	if err := a.backend.CancelRun(context.WithoutCancel(ctx), run); err != nil {
		log.Warn().Err(err).Str("run", run.RunID).Msg("could not cancel run")
	}
}

func (a *Adapter) finish(ctx context.Context, s *conversation.Session, cycles int, delivered bool, outcome conversation.Outcome, err error) Result {
	s.Finish(outcome)
	if err != nil {
		events.PublishEventToContext(ctx, events.NewErrorEvent(events.NewMetadata(s.ID, cycles), err))
	}
	return Result{Text: s.Partial(), Outcome: s.Outcome(), Cycles: cycles, Err: err, Delivered: delivered}
}
