package tools

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-go-golems/docagent/pkg/conversation"
	"github.com/go-go-golems/docagent/pkg/docstore"
	"github.com/go-go-golems/docagent/pkg/docstore/sqlitestore"
	"github.com/go-go-golems/docagent/pkg/events"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) *sqlitestore.Store {
	t.Helper()
	s, err := sqlitestore.New(filepath.Join(t.TempDir(), "docs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func invoiceRegistry(t *testing.T, symbols SymbolTable) *Registry {
	t.Helper()
	specs := []FunctionSpec{
		{Kind: KindRead, Handler: HandlerGet, RecordType: "invoice"},
		{Kind: KindRead, Handler: HandlerList, RecordType: "invoice"},
		{Kind: KindWrite, Handler: HandlerCreate, RecordType: "invoice"},
		{Kind: KindWrite, Handler: HandlerDelete, RecordType: "invoice"},
	}
	for name := range symbols {
		specs = append(specs, FunctionSpec{Kind: KindCustom, Name: name, RequiresWrite: name == "explode"})
	}
	reg, report := Build(specs, WithSymbols(symbols))
	require.Empty(t, report.Skipped)
	return reg
}

func call(name, args string) conversation.ToolCall {
	return conversation.ToolCall{ID: conversation.NewCallID(), Name: name, Arguments: json.RawMessage(args)}
}

func TestDryRunLeavesStoreUnchanged(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	exec := NewExecutor(invoiceRegistry(t, nil), store, WithAllowWrite(false))

	before, err := store.Count(ctx, "invoice")
	require.NoError(t, err)

	res := exec.Execute(ctx, call("create_invoice", `{"fields":{"customer":"acme","total":10}}`))
	require.True(t, res.Success, res.Error)

	var rec docstore.Record
	require.NoError(t, json.Unmarshal([]byte(res.Output), &rec))
	require.NotEmpty(t, rec.ID)
	require.Equal(t, "acme", rec.Fields["customer"])

	after, err := store.Count(ctx, "invoice")
	require.NoError(t, err)
	require.Equal(t, before, after)

	_, err = store.Get(ctx, "invoice", rec.ID)
	require.ErrorIs(t, err, docstore.ErrNotFound)
}

func TestAllowWritePersists(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	exec := NewExecutor(invoiceRegistry(t, nil), store, WithAllowWrite(true))

	res := exec.Execute(ctx, call("create_invoice", `{"fields":{"customer":"acme"}}`))
	require.True(t, res.Success, res.Error)

	n, err := store.Count(ctx, "invoice")
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestReadToolsRunAgainstLiveStore(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	rec, err := store.Create(ctx, "invoice", map[string]interface{}{"customer": "acme"})
	require.NoError(t, err)

	exec := NewExecutor(invoiceRegistry(t, nil), store)
	res := exec.Execute(ctx, call("get_invoice", `{"id":"`+rec.ID+`"}`))
	require.True(t, res.Success, res.Error)
	require.Contains(t, res.Output, "acme")

	res = exec.Execute(ctx, call("list_invoice", `{"filters":{"customer":"acme"}}`))
	require.True(t, res.Success, res.Error)
	require.Contains(t, res.Output, `"count":1`)
}

func TestDedupExecutesOnce(t *testing.T) {
	ctx := context.Background()
	var calls int32
	symbols := SymbolTable{
		"counter": func(context.Context, docstore.Store, map[string]interface{}) (interface{}, error) {
			n := atomic.AddInt32(&calls, 1)
			return map[string]interface{}{"n": n}, nil
		},
	}
	exec := NewExecutor(invoiceRegistry(t, symbols), newStore(t))

	first := exec.Execute(ctx, call("counter", `{"a":1}`))
	second := exec.Execute(ctx, call("counter", `{"a":1}`))
	require.Equal(t, int32(1), atomic.LoadInt32(&calls))
	require.Equal(t, first.Output, second.Output)
	require.True(t, second.Cached)
	require.NotEqual(t, first.CallID, second.CallID)

	exec.Execute(ctx, call("counter", `{"a":2}`))
	require.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestUnknownTool(t *testing.T) {
	exec := NewExecutor(invoiceRegistry(t, nil), newStore(t))
	res := exec.Execute(context.Background(), call("doStuff", `{}`))
	require.False(t, res.Success)
	require.Contains(t, res.Output, "tool not found: doStuff")
}

func TestPanicInDryRunIsContained(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	symbols := SymbolTable{
		"explode": func(ctx context.Context, s docstore.Store, _ map[string]interface{}) (interface{}, error) {
			if _, err := s.Create(ctx, "invoice", nil); err != nil {
				return nil, err
			}
			panic("kaboom")
		},
	}
	exec := NewExecutor(invoiceRegistry(t, symbols), store)

	res := exec.Execute(ctx, call("explode", `{}`))
	require.False(t, res.Success)
	require.Contains(t, res.Error, "kaboom")

	n, err := store.Count(ctx, "invoice")
	require.NoError(t, err)
	require.Equal(t, 0, n)

	// the store is still usable for further dry runs
	res = exec.Execute(ctx, call("create_invoice", `{"fields":{}}`))
	require.True(t, res.Success, res.Error)
}

func TestMalformedArguments(t *testing.T) {
	ctx := context.Background()
	var seen []map[string]interface{}
	symbols := SymbolTable{
		"echo": func(_ context.Context, _ docstore.Store, args map[string]interface{}) (interface{}, error) {
			seen = append(seen, args)
			return "ok", nil
		},
	}
	exec := NewExecutor(invoiceRegistry(t, symbols), newStore(t))

	require.True(t, exec.Execute(ctx, call("echo", `{"x": 1,}`)).Success)
	require.True(t, exec.Execute(ctx, call("echo", `"{\"y\":2}"`)).Success)
	require.True(t, exec.Execute(ctx, call("echo", ``)).Success)

	require.Len(t, seen, 3)
	require.Equal(t, 1.0, seen[0]["x"])
	require.Equal(t, 2.0, seen[1]["y"])
	require.Empty(t, seen[2])
}

func TestInvalidArgumentsBecomeEmptyObject(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	exec := NewExecutor(invoiceRegistry(t, nil), store)

	// id must be a string; the call falls back to {} and the handler rejects it
	res := exec.Execute(ctx, call("get_invoice", `{"id": 42}`))
	require.False(t, res.Success)
	require.Contains(t, res.Error, "id is required")
}

type plainStore struct{ docstore.Store }

func TestDryRunWithoutScopesIsRefused(t *testing.T) {
	store := newStore(t)
	exec := NewExecutor(invoiceRegistry(t, nil), plainStore{store})

	res := exec.Execute(context.Background(), call("create_invoice", `{"fields":{}}`))
	require.False(t, res.Success)
	require.Contains(t, res.Error, ErrNoScopes.Error())
}

func TestExecuteAllStopsBeforeDispatch(t *testing.T) {
	exec := NewExecutor(invoiceRegistry(t, nil), newStore(t))
	stop := make(chan struct{})
	close(stop)

	results, err := exec.ExecuteAll(context.Background(), []conversation.ToolCall{call("list_invoice", `{}`)}, stop)
	require.ErrorIs(t, err, ErrStopped)
	require.Empty(t, results)
}

func TestExecuteAllParallelPreservesOrder(t *testing.T) {
	ctx := context.Background()
	symbols := SymbolTable{
		"slow": func(_ context.Context, _ docstore.Store, args map[string]interface{}) (interface{}, error) {
			d := time.Duration(args["ms"].(float64)) * time.Millisecond
			time.Sleep(d)
			return args["ms"], nil
		},
	}
	exec := NewExecutor(invoiceRegistry(t, symbols), newStore(t), WithParallelReads(true, 3))

	calls := []conversation.ToolCall{
		call("slow", `{"ms":30}`),
		call("slow", `{"ms":1}`),
		call("slow", `{"ms":10}`),
	}
	results, err := exec.ExecuteAll(ctx, calls, nil)
	require.NoError(t, err)
	require.Len(t, results, 3)
	for i, r := range results {
		require.Equal(t, calls[i].ID, r.CallID)
	}
	require.Equal(t, "30", results[0].Output)
	require.Equal(t, "1", results[1].Output)
}

type recordingSink struct{ types []events.EventType }

func (r *recordingSink) PublishEvent(e events.Event) error {
	r.types = append(r.types, e.Type())
	return nil
}

func TestExecutorPublishesEvents(t *testing.T) {
	sink := &recordingSink{}
	ctx := events.WithEventSinks(context.Background(), sink)
	exec := NewExecutor(invoiceRegistry(t, nil), newStore(t))

	exec.Execute(ctx, call("list_invoice", `{}`))
	require.Equal(t, []events.EventType{
		events.EventTypeToolCallExecute,
		events.EventTypeToolCallExecutionResult,
	}, sink.types)
}
