package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/go-go-golems/docagent/pkg/conversation"
	"github.com/go-go-golems/docagent/pkg/docstore"
	"github.com/go-go-golems/docagent/pkg/events"
	"github.com/go-go-golems/docagent/pkg/inference/tools/dedup"
	"github.com/go-go-golems/docagent/pkg/observability"
	"github.com/google/uuid"
	"github.com/kaptinlin/jsonrepair"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

var (
	ErrStopped = errors.New("session stopped")
	// ErrNoScopes is reported when a dry run is needed but the store cannot
	// open scopes. The write is refused rather than applied.
	ErrNoScopes = errors.New("document store does not support scopes")
)

// Executor runs tool calls for one session.
type Executor struct {
	registry   *Registry
	store      docstore.Store
	allowWrite bool
	cache      *dedup.Cache

	timeout       time.Duration
	parallelReads bool
	maxParallel   int

	conversationID string
	metrics        *observability.Metrics
	tracer         *observability.Tracer
}

type ExecutorOption func(*Executor)

func WithAllowWrite(allow bool) ExecutorOption {
	return func(e *Executor) { e.allowWrite = allow }
}

func WithDedupCache(c *dedup.Cache) ExecutorOption {
	return func(e *Executor) { e.cache = c }
}

func WithTimeout(d time.Duration) ExecutorOption {
	return func(e *Executor) { e.timeout = d }
}

// WithParallelReads lets ExecuteAll run batches of read-only calls concurrently.
func WithParallelReads(enabled bool, maxParallel int) ExecutorOption {
	return func(e *Executor) {
		e.parallelReads = enabled
		e.maxParallel = maxParallel
	}
}

func WithConversationID(id string) ExecutorOption {
	return func(e *Executor) { e.conversationID = id }
}

func WithMetrics(m *observability.Metrics) ExecutorOption {
	return func(e *Executor) { e.metrics = m }
}

func WithTracer(t *observability.Tracer) ExecutorOption {
	return func(e *Executor) { e.tracer = t }
}

func NewExecutor(registry *Registry, store docstore.Store, opts ...ExecutorOption) *Executor {
	e := &Executor{
		registry:    registry,
		store:       store,
		timeout:     30 * time.Second,
		maxParallel: 4,
	}
	for _, o := range opts {
		o(e)
	}
	if e.cache == nil {
		e.cache = dedup.New(dedup.DefaultTTL, dedup.DefaultMaxSize)
	}
	return e
}

func (e *Executor) Registry() *Registry {
	return e.registry
}

// Execute runs one call. It never returns an error: failures, including
// panics in bindings, come back as an unsuccessful result.
func (e *Executor) Execute(ctx context.Context, call conversation.ToolCall) (res conversation.ToolResult) {
	start := time.Now()
	if call.ID == "" {
		call.ID = conversation.NewCallID()
	}
	res = conversation.ToolResult{CallID: call.ID, Name: call.Name}

	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Str("tool", call.Name).
				Interface("panic", r).
				Str("stack", string(debug.Stack())).
				Msg("tool binding panicked")
			res = failed(call, fmt.Sprintf("tool %s panicked: %v", call.Name, r))
		}
		res.Duration = time.Since(start)
	}()

	payload := call.ArgumentString()
	key := dedup.Key(call.Name, payload)
	if cached, ok := e.cache.Get(key); ok {
		log.Debug().Str("tool", call.Name).Str("call_id", call.ID).Msg("dedup hit")
		e.metrics.DedupHit(call.Name)
		cached.CallID = call.ID
		cached.Cached = true
		e.publishResult(ctx, cached, false)
		return cached
	}

	tool, ok := e.registry.Lookup(call.Name)
	if !ok {
		e.metrics.ToolExecuted(call.Name, "not_found", time.Since(start))
		res = failed(call, fmt.Sprintf("tool not found: %s", call.Name))
		e.publishResult(ctx, res, false)
		return res
	}
	if tool.Native || tool.Binding == nil {
		res = failed(call, fmt.Sprintf("tool %s is executed by the backend", call.Name))
		e.publishResult(ctx, res, false)
		return res
	}

	args := parseArguments(call.Name, call.Arguments)
	if err := tool.ValidateArguments(args); err != nil {
		log.Warn().Err(err).Str("tool", call.Name).Msg("invalid tool arguments, using empty object")
		args = map[string]interface{}{}
	}
	for k, v := range tool.ExtraArgs {
		args[k] = v
	}

	dryRun := e.needsDryRun(tool)
	masked, _ := json.Marshal(args)
	events.PublishEventToContext(ctx, events.NewToolCallExecuteEvent(
		events.NewMetadata(e.conversationID, 0),
		events.ToolCall{ID: call.ID, Name: call.Name, Input: string(masked)},
	))

	ctx = WithCurrentToolCall(ctx, call)
	ctx, span := e.tracer.TraceToolExecution(ctx, call.Name, dryRun)
	defer span.End()
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	out, err := e.invoke(ctx, tool, args, dryRun)
	if err != nil {
		observability.RecordError(span, err)
		e.metrics.ToolExecuted(call.Name, "error", time.Since(start))
		res = failed(call, err.Error())
		e.publishResult(ctx, res, dryRun)
		return res
	}

	res.Output = serialize(out)
	res.Success = true
	e.cache.Put(key, res)
	e.metrics.ToolExecuted(call.Name, "success", time.Since(start))
	e.publishResult(ctx, res, dryRun)
	return res
}

func (e *Executor) needsDryRun(tool Tool) bool {
	return tool.RequiresWrite && !e.allowWrite
}

// invoke applies the write isolation policy. Writes without permission run
// inside a scope that is discarded on every path, panics included.
func (e *Executor) invoke(ctx context.Context, tool Tool, args map[string]interface{}, dryRun bool) (interface{}, error) {
	if !dryRun {
		return tool.Binding(ctx, e.store, args)
	}

	ts, ok := e.store.(docstore.TransactionalStore)
	if !ok {
		return nil, ErrNoScopes
	}
	name := "dryrun_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	scope, err := ts.BeginScope(ctx, name)
	if err != nil {
		return nil, errors.Wrap(err, "could not open dry-run scope")
	}
	defer func() {
		if derr := scope.Discard(); derr != nil {
			log.Error().Err(derr).Str("scope", name).Msg("could not discard dry-run scope")
		}
	}()

	e.metrics.DryRun(tool.Name)
	log.Debug().Str("tool", tool.Name).Str("scope", name).Msg("executing write tool as dry run")
	return tool.Binding(withDryRun(ctx), scope.Store(), args)
}

// ExecuteAll runs the calls of one round and returns their results in call
// order. The stop channel is checked before each dispatch; when it fires
// the results gathered so far are returned with ErrStopped.
func (e *Executor) ExecuteAll(ctx context.Context, calls []conversation.ToolCall, stop <-chan struct{}) ([]conversation.ToolResult, error) {
	if e.parallelReads && len(calls) > 1 && e.allReadOnly(calls) {
		if stopped(stop) {
			return nil, ErrStopped
		}
		return e.executeParallel(ctx, calls), nil
	}

	results := make([]conversation.ToolResult, 0, len(calls))
	for _, c := range calls {
		if stopped(stop) {
			return results, ErrStopped
		}
		results = append(results, e.Execute(ctx, c))
	}
	return results, nil
}

func (e *Executor) allReadOnly(calls []conversation.ToolCall) bool {
	for _, c := range calls {
		t, ok := e.registry.Lookup(c.Name)
		if !ok || t.RequiresWrite {
			return false
		}
	}
	return true
}

func (e *Executor) executeParallel(ctx context.Context, calls []conversation.ToolCall) []conversation.ToolResult {
	results := make([]conversation.ToolResult, len(calls))
	eg := errgroup.Group{}
	if e.maxParallel > 0 {
		eg.SetLimit(e.maxParallel)
	}
	for i, c := range calls {
		i, c := i, c
		eg.Go(func() error {
			results[i] = e.Execute(ctx, c)
			return nil
		})
	}
	_ = eg.Wait()
	return results
}

func (e *Executor) publishResult(ctx context.Context, res conversation.ToolResult, dryRun bool) {
	events.PublishEventToContext(ctx, events.NewToolCallExecutionResultEvent(
		events.NewMetadata(e.conversationID, 0),
		events.ToolResult{
			ID:      res.CallID,
			Name:    res.Name,
			Result:  res.Output,
			Success: res.Success,
			Cached:  res.Cached,
			DryRun:  dryRun,
		},
	))
}

func stopped(stop <-chan struct{}) bool {
	if stop == nil {
		return false
	}
	select {
	case <-stop:
		return true
	default:
		return false
	}
}

func failed(call conversation.ToolCall, msg string) conversation.ToolResult {
	return conversation.ToolResult{
		CallID:  call.ID,
		Name:    call.Name,
		Output:  "Error: " + msg,
		Success: false,
		Error:   msg,
	}
}

// parseArguments decodes the payload into an object. Broken JSON goes
// through jsonrepair; anything still unusable becomes an empty object.
func parseArguments(tool string, raw json.RawMessage) map[string]interface{} {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return map[string]interface{}{}
	}

	var args map[string]interface{}
	if err := json.Unmarshal(trimmed, &args); err == nil && args != nil {
		return args
	}

	// some backends double encode the payload as a JSON string
	var inner string
	if err := json.Unmarshal(trimmed, &inner); err == nil {
		if err := json.Unmarshal([]byte(inner), &args); err == nil && args != nil {
			return args
		}
		trimmed = []byte(inner)
	}

	repaired, err := jsonrepair.JSONRepair(string(trimmed))
	if err == nil {
		if err := json.Unmarshal([]byte(repaired), &args); err == nil && args != nil {
			log.Debug().Str("tool", tool).Msg("repaired malformed tool arguments")
			return args
		}
	}

	log.Warn().Str("tool", tool).Str("payload", string(raw)).Msg("could not parse tool arguments, using empty object")
	return map[string]interface{}{}
}

// serialize renders a binding's return value. Strings pass through as-is.
func serialize(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case string:
		return x
	case []byte:
		return string(x)
	case json.RawMessage:
		return string(x)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}
