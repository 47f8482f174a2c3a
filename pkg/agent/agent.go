// Package agent is the entry point for running one agent session: it
// resolves the configuration, builds the tool catalog, picks a backend and
// hands the session to the matching orchestrator.
package agent

import (
	"context"
	"time"

	"github.com/go-go-golems/docagent/pkg/backend"
	"github.com/go-go-golems/docagent/pkg/backend/factory"
	"github.com/go-go-golems/docagent/pkg/conversation"
	"github.com/go-go-golems/docagent/pkg/docstore"
	"github.com/go-go-golems/docagent/pkg/events"
	"github.com/go-go-golems/docagent/pkg/filestore"
	"github.com/go-go-golems/docagent/pkg/inference/history"
	"github.com/go-go-golems/docagent/pkg/inference/normalize"
	"github.com/go-go-golems/docagent/pkg/inference/roundtrip"
	"github.com/go-go-golems/docagent/pkg/inference/streaming"
	"github.com/go-go-golems/docagent/pkg/inference/tools"
	"github.com/go-go-golems/docagent/pkg/inference/tools/dedup"
	"github.com/go-go-golems/docagent/pkg/inference/tools/filetools"
	"github.com/go-go-golems/docagent/pkg/observability"
	"github.com/go-go-golems/docagent/pkg/settings"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Messages shown to the caller instead of internal error details.
const (
	MessageUnavailable = "The assistant is currently unavailable. Please try again later."
	MessageFailed      = "The assistant could not complete your request. Please try again."
	MessageCancelled   = "The request was cancelled."
	MessageRoundLimit  = "The assistant needed too many steps to answer. Please refine your request."
)

// Request describes one user message to answer.
type Request struct {
	ConversationID string
	// Config overrides the settings source when set.
	Config      *settings.AgentConfig
	Prior       []conversation.Turn
	UserMessage string
	Attachments []filestore.Attachment
	// Variables are passed to the instruction template.
	Variables map[string]interface{}
}

// Result is what callers see. Error holds a short user-facing message; the
// underlying error is only included when the config enables debug.
type Result struct {
	Text    string
	Success bool
	Error   string
}

type Facade struct {
	source    settings.Source
	factory   factory.BackendFactory
	store     docstore.Store
	files     filestore.Store
	specs     []tools.FunctionSpec
	symbols   tools.SymbolTable
	sink      events.MessageSink
	eventSink []events.EventSink
	metrics   *observability.Metrics
	tracer    *observability.Tracer

	probeTimeout  time.Duration
	probeAttempts int

	sessions *sessionSet
}

type Option func(*Facade)

func WithSettingsSource(s settings.Source) Option {
	return func(f *Facade) { f.source = s }
}

func WithBackendFactory(bf factory.BackendFactory) Option {
	return func(f *Facade) { f.factory = bf }
}

func WithFileStore(fs filestore.Store) Option {
	return func(f *Facade) { f.files = fs }
}

// WithFunctionSpecs sets the catalog declarations and the symbol table
// custom specs are resolved against.
func WithFunctionSpecs(specs []tools.FunctionSpec, symbols tools.SymbolTable) Option {
	return func(f *Facade) {
		f.specs = specs
		f.symbols = symbols
	}
}

func WithMessageSink(s events.MessageSink) Option {
	return func(f *Facade) { f.sink = s }
}

func WithEventSinks(sinks ...events.EventSink) Option {
	return func(f *Facade) { f.eventSink = append(f.eventSink, sinks...) }
}

func WithMetrics(m *observability.Metrics) Option {
	return func(f *Facade) { f.metrics = m }
}

func WithTracer(t *observability.Tracer) Option {
	return func(f *Facade) { f.tracer = t }
}

func WithProbe(timeout time.Duration, attempts int) Option {
	return func(f *Facade) {
		f.probeTimeout = timeout
		f.probeAttempts = attempts
	}
}

func New(store docstore.Store, opts ...Option) *Facade {
	f := &Facade{
		store:         store,
		factory:       factory.NewStandardBackendFactory(),
		sink:          events.NullMessageSink{},
		probeTimeout:  DefaultProbeTimeout,
		probeAttempts: DefaultProbeAttempts,
		sessions:      newSessionSet(),
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

// Stop signals the sessions of a conversation. Stopping a conversation with
// nothing running is a no-op.
func (f *Facade) Stop(conversationID string) {
	n := f.sessions.stop(conversationID)
	log.Debug().Str("component", "agent").Str("conversation", conversationID).Int("sessions", n).Msg("stop requested")
}

// Running reports whether a session of the conversation is in flight.
func (f *Facade) Running(conversationID string) bool {
	return f.sessions.running(conversationID)
}

// Run answers req and blocks until the session ends.
func (f *Facade) Run(ctx context.Context, req Request) Result {
	logger := log.With().Str("component", "agent").Str("conversation", req.ConversationID).Logger()
	ctx = events.WithEventSinks(ctx, f.eventSink...)

	cfg, err := f.resolveConfig(ctx, req)
	if err != nil {
		logger.Error().Err(err).Msg("could not resolve agent settings")
		return failure(MessageFailed, err, false)
	}
	ctx, span := f.tracer.TraceSession(ctx, req.ConversationID, cfg.Provider)
	defer span.End()

	b, err := f.factory.CreateBackend(cfg)
	if err != nil {
		logger.Error().Err(err).Str("provider", cfg.Provider).Msg("could not create backend")
		observability.RecordError(span, err)
		return failure(MessageUnavailable, err, cfg.Debug)
	}

	registry, err := f.buildRegistry(cfg, b, req.Attachments, logger)
	if err != nil {
		logger.Error().Err(err).Msg("could not build tool registry")
		return failure(MessageFailed, err, cfg.Debug)
	}
	executor := tools.NewExecutor(registry, f.store,
		tools.WithAllowWrite(cfg.AllowWrite),
		tools.WithDedupCache(dedup.New(cfg.DedupTTL, dedup.DefaultMaxSize)),
		tools.WithTimeout(cfg.ToolTimeout),
		tools.WithParallelReads(cfg.ParallelReads, 4),
		tools.WithConversationID(req.ConversationID),
		tools.WithMetrics(f.metrics),
		tools.WithTracer(f.tracer),
	)

	s := conversation.NewSession(req.ConversationID, cfg, req.Prior)
	f.sessions.add(s)
	defer func() { f.sessions.remove(s) }()
	f.metrics.SessionStarted()

	logger.Info().
		Str("provider", cfg.Provider).
		Str("backend", b.Name()).
		Int("tools", registry.Len()).
		Bool("allow_write", cfg.AllowWrite).
		Msg("starting session")

	switch bk := b.(type) {
	case backend.StatefulBackend:
		sink := events.MessageSinkFunc(func(ctx context.Context, conversationID string, text string) error {
			return f.sink.Deliver(ctx, conversationID, normalize.Normalize(text))
		})
		res := streaming.New(bk, executor, streaming.WithMessageSink(sink)).Run(ctx, s, req.UserMessage)
		if errors.Is(res.Err, backend.ErrInternal) && !s.Stopped() {
			if fs, fres, ok := f.fallback(ctx, s, cfg, executor, req, res.Err, logger); ok {
				return f.deliver(ctx, f.finishedRoundTrip(ctx, fs, fres, cfg, logger), fs, logger)
			}
		}
		f.finished(ctx, s, "streaming", res.Cycles)
		return f.result(s, res.Text, res.Err, cfg.Debug, logger)

	case backend.ChatBackend:
		return f.runStateless(ctx, s, cfg, bk, executor, req, logger)

	default:
		err := errors.Wrapf(backend.ErrUnsupportedProvider, "backend %s has no usable protocol", b.Name())
		s.Finish(conversation.OutcomeFailed)
		f.finished(ctx, s, "none", 0)
		return failure(MessageUnavailable, err, cfg.Debug)
	}
}

func (f *Facade) runStateless(
	ctx context.Context,
	s *conversation.Session,
	cfg *settings.AgentConfig,
	b backend.ChatBackend,
	executor *tools.Executor,
	req Request,
	logger zerolog.Logger,
) Result {
	useFallback := false
	if cfg.Provider == f.factory.DefaultProvider() {
		if err := probe(ctx, b, f.probeTimeout, f.probeAttempts); err != nil {
			if !errors.Is(err, backend.ErrInternal) {
				logger.Warn().Err(err).Str("backend", b.Name()).Msg("connectivity probe failed")
				s.Finish(conversation.OutcomeFailed)
				f.finished(ctx, s, "roundtrip", 0)
				return failure(MessageUnavailable, err, cfg.Debug)
			}
			logger.Warn().Err(err).Msg("connectivity probe failed inside the client library")
			useFallback = true
		}
	}

	var res roundtrip.Result
	if !useFallback {
		res = f.loop(cfg, b, executor).Run(ctx, s, req.UserMessage)
		useFallback = errors.Is(res.Err, backend.ErrInternal) && !s.Stopped()
	}
	if useFallback {
		if fs, fres, ok := f.fallback(ctx, s, cfg, executor, req, res.Err, logger); ok {
			s, res = fs, fres
		} else if res.Err == nil {
			res.Err = errors.Wrap(backend.ErrInternal, "no fallback client for provider "+cfg.Provider)
			s.Finish(conversation.OutcomeFailed)
		}
	}
	return f.deliver(ctx, f.finishedRoundTrip(ctx, s, res, cfg, logger), s, logger)
}

// fallback continues the exchange of s on the hand-rolled client after the
// client library failed. Tool calls the primary client already completed
// are carried over with their results, so the fallback does not request
// them again. The returned session replaces s in the session set.
func (f *Facade) fallback(
	ctx context.Context,
	s *conversation.Session,
	cfg *settings.AgentConfig,
	executor *tools.Executor,
	req Request,
	cause error,
	logger zerolog.Logger,
) (*conversation.Session, roundtrip.Result, bool) {
	fb, ok := f.factory.CreateFallback(cfg)
	if !ok {
		return s, roundtrip.Result{}, false
	}
	logger.Warn().Err(cause).Str("fallback", fb.Name()).Msg("client library failed, retrying with the fallback client")
	f.metrics.Fallback()

	fs := conversation.NewSession(req.ConversationID, cfg, req.Prior)
	fs.Append(conversation.UserTurn(req.UserMessage))
	fs.Append(completedTurns(s.Turns()[len(req.Prior):])...)
	f.sessions.add(fs)
	f.sessions.remove(s)
	if s.Stopped() {
		fs.Stop()
	}
	res := f.loop(cfg, fb, executor).Resume(ctx, fs, len(req.Prior))
	f.sessions.remove(fs)
	return fs, res, true
}

// completedTurns drops the user message that opens a run and a trailing
// assistant turn whose calls never got results.
func completedTurns(run []conversation.Turn) []conversation.Turn {
	if len(run) > 0 && run[0].Role == conversation.RoleUser {
		run = run[1:]
	}
	if n := len(run); n > 0 && run[n-1].HasToolCalls() {
		run = run[:n-1]
	}
	return run
}

func (f *Facade) finishedRoundTrip(ctx context.Context, s *conversation.Session, res roundtrip.Result, cfg *settings.AgentConfig, logger zerolog.Logger) Result {
	f.finished(ctx, s, "roundtrip", s.Rounds())
	return f.result(s, res.Text, res.Err, cfg.Debug, logger)
}

// deliver hands a successful answer to the message sink once.
func (f *Facade) deliver(ctx context.Context, out Result, s *conversation.Session, logger zerolog.Logger) Result {
	if out.Success && out.Text != "" {
		if err := f.sink.Deliver(ctx, s.ID, out.Text); err != nil {
			logger.Error().Err(err).Msg("could not deliver message")
		}
	}
	return out
}

func (f *Facade) loop(cfg *settings.AgentConfig, b backend.ChatBackend, executor *tools.Executor) *roundtrip.Loop {
	opts := []roundtrip.Option{
		roundtrip.WithBackend(b),
		roundtrip.WithExecutor(executor),
		roundtrip.WithBackendTimeout(cfg.BackendTimeout),
		roundtrip.WithMetrics(f.metrics),
		roundtrip.WithTracer(f.tracer),
	}
	if cfg.HistoryMaxTokens > 0 {
		counter, err := history.NewCounter(cfg.Model)
		if err != nil {
			log.Warn().Err(err).Str("model", cfg.Model).Msg("no tokenizer, history is limited by turn count only")
		} else {
			opts = append(opts, roundtrip.WithTokenCounter(counter))
		}
	}
	return roundtrip.New(opts...)
}

func (f *Facade) resolveConfig(ctx context.Context, req Request) (*settings.AgentConfig, error) {
	var cfg *settings.AgentConfig
	switch {
	case req.Config != nil:
		cfg = req.Config.Clone()
	case f.source != nil:
		c, err := f.source.AgentConfig(ctx, req.ConversationID)
		if err != nil {
			return nil, err
		}
		cfg = c
	default:
		return nil, errors.New("no agent config and no settings source")
	}
	if err := cfg.ApplyDefaults(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid agent settings")
	}
	instructions, err := cfg.RenderInstructions(req.Variables)
	if err != nil {
		return nil, err
	}
	cfg.Instructions = instructions
	return cfg, nil
}

func (f *Facade) buildRegistry(cfg *settings.AgentConfig, b backend.Backend, attachments []filestore.Attachment, logger zerolog.Logger) (*tools.Registry, error) {
	opts := []tools.BuildOption{
		tools.WithSymbols(f.symbols),
		tools.WithEnabled(cfg.ToolEnabled),
	}
	fileTools, err := filetools.Tools(attachments, f.files)
	if err != nil {
		return nil, err
	}
	opts = append(opts, tools.WithTools(fileTools...))
	if c, ok := b.(interface{ Capabilities() backend.Capabilities }); ok {
		opts = append(opts, tools.WithNativeTools(c.Capabilities().NativeTools...))
	}

	registry, report := tools.Build(f.specs, opts...)
	if len(report.Skipped) > 0 {
		logger.Warn().Str("skipped", report.String()).Msg("some tools were not registered")
	}
	return registry, nil
}

func (f *Facade) finished(ctx context.Context, s *conversation.Session, adapter string, rounds int) {
	f.metrics.SessionFinished(adapter, string(s.Outcome()), rounds)
	cycles := 0
	if adapter == "streaming" {
		cycles, rounds = rounds, 0
	}
	events.PublishEventToContext(ctx, events.NewSessionFinishedEvent(events.NewMetadata(s.ID, rounds), string(s.Outcome()), rounds, cycles))
}

func (f *Facade) result(s *conversation.Session, text string, err error, debug bool, logger zerolog.Logger) Result {
	switch s.Outcome() {
	case conversation.OutcomeSuccess:
		return Result{Text: normalize.Normalize(text), Success: true}
	case conversation.OutcomeCancelled:
		logger.Info().Msg("session cancelled")
		return Result{Text: normalizePartial(text), Error: MessageCancelled}
	}

	msg := MessageFailed
	switch {
	case errors.Is(err, conversation.ErrRoundLimit):
		msg = MessageRoundLimit
	case errors.Is(err, backend.ErrUnavailable), errors.Is(err, backend.ErrInternal):
		msg = MessageUnavailable
	}
	logger.Error().Err(err).Int("rounds", s.Rounds()).Msg("session failed")
	out := failure(msg, err, debug)
	out.Text = normalizePartial(text)
	return out
}

func normalizePartial(text string) string {
	if text == "" {
		return ""
	}
	return normalize.Normalize(text)
}

func failure(msg string, err error, debug bool) Result {
	if debug && err != nil {
		msg = msg + " (" + err.Error() + ")"
	}
	return Result{Error: msg}
}
