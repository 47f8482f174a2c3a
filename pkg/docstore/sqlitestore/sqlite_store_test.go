package sqlitestore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/go-go-golems/docagent/pkg/docstore"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, options ...Option) *Store {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "records.db")
	s, err := New(dsn, options...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestCRUD(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	rec, err := s.Create(ctx, "invoice", map[string]interface{}{"customer": "acme", "total": 12.5})
	require.NoError(t, err)
	require.NotEmpty(t, rec.ID)

	got, err := s.Get(ctx, "invoice", rec.ID)
	require.NoError(t, err)
	require.Equal(t, "acme", got.Fields["customer"])
	require.Equal(t, 12.5, got.Fields["total"])

	updated, err := s.Update(ctx, "invoice", rec.ID, map[string]interface{}{"total": 20.0})
	require.NoError(t, err)
	require.Equal(t, "acme", updated.Fields["customer"])
	require.Equal(t, 20.0, updated.Fields["total"])

	n, err := s.Count(ctx, "invoice")
	require.NoError(t, err)
	require.Equal(t, 1, n)

	require.NoError(t, s.Delete(ctx, "invoice", rec.ID))
	_, err = s.Get(ctx, "invoice", rec.ID)
	require.ErrorIs(t, err, docstore.ErrNotFound)
	require.ErrorIs(t, s.Delete(ctx, "invoice", rec.ID), docstore.ErrNotFound)
}

func TestListFilters(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	for _, c := range []map[string]interface{}{
		{"customer": "acme", "paid": true},
		{"customer": "acme", "paid": false},
		{"customer": "globex", "paid": true},
	} {
		_, err := s.Create(ctx, "invoice", c)
		require.NoError(t, err)
	}
	_, err := s.Create(ctx, "note", map[string]interface{}{"customer": "acme"})
	require.NoError(t, err)

	all, err := s.List(ctx, "invoice", docstore.ListOptions{})
	require.NoError(t, err)
	require.Len(t, all, 3)

	acme, err := s.List(ctx, "invoice", docstore.ListOptions{Filters: map[string]interface{}{"customer": "acme"}})
	require.NoError(t, err)
	require.Len(t, acme, 2)

	paid, err := s.List(ctx, "invoice", docstore.ListOptions{Filters: map[string]interface{}{"customer": "acme", "paid": true}})
	require.NoError(t, err)
	require.Len(t, paid, 1)

	limited, err := s.List(ctx, "invoice", docstore.ListOptions{Limit: 2})
	require.NoError(t, err)
	require.Len(t, limited, 2)

	_, err = s.List(ctx, "invoice", docstore.ListOptions{Filters: map[string]interface{}{"x') OR 1=1 --": 1}})
	require.Error(t, err)
}

func TestScopeDiscardLeavesStoreUnchanged(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	existing, err := s.Create(ctx, "invoice", map[string]interface{}{"customer": "acme"})
	require.NoError(t, err)

	sc, err := s.BeginScope(ctx, "dryrun_1")
	require.NoError(t, err)
	require.Equal(t, "dryrun_1", sc.Name())

	created, err := sc.Store().Create(ctx, "invoice", map[string]interface{}{"customer": "initech"})
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)

	_, err = sc.Store().Update(ctx, "invoice", existing.ID, map[string]interface{}{"customer": "changed"})
	require.NoError(t, err)

	inScope, err := sc.Store().Count(ctx, "invoice")
	require.NoError(t, err)
	require.Equal(t, 2, inScope)

	require.NoError(t, sc.Discard())
	require.ErrorIs(t, sc.Discard(), docstore.ErrScopeClosed)

	n, err := s.Count(ctx, "invoice")
	require.NoError(t, err)
	require.Equal(t, 1, n)

	got, err := s.Get(ctx, "invoice", existing.ID)
	require.NoError(t, err)
	require.Equal(t, "acme", got.Fields["customer"])
}

func TestNestedScopes(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	outer, err := s.BeginScope(ctx, "outer")
	require.NoError(t, err)
	_, err = outer.Store().Create(ctx, "note", nil)
	require.NoError(t, err)

	ts, ok := outer.Store().(docstore.TransactionalStore)
	require.True(t, ok)
	inner, err := ts.BeginScope(ctx, "inner")
	require.NoError(t, err)
	_, err = inner.Store().Create(ctx, "note", nil)
	require.NoError(t, err)
	require.NoError(t, inner.Discard())

	n, err := outer.Store().Count(ctx, "note")
	require.NoError(t, err)
	require.Equal(t, 1, n)

	require.NoError(t, outer.Discard())
	n, err = s.Count(ctx, "note")
	require.NoError(t, err)
	require.Equal(t, 0, n)
}

func TestScopeNameValidation(t *testing.T) {
	s := newTestStore(t)
	_, err := s.BeginScope(context.Background(), `bad"name`)
	require.Error(t, err)
}

func TestAuthorizer(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, WithAuthorizer(docstore.DenyWrites))

	_, err := s.Create(ctx, "invoice", nil)
	require.ErrorIs(t, err, docstore.ErrPermissionDenied)

	_, err = s.List(ctx, "invoice", docstore.ListOptions{})
	require.NoError(t, err)
}

func TestPureGoDriver(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, WithDriver(DriverPure))

	sc, err := s.BeginScope(ctx, "dryrun_pure")
	require.NoError(t, err)
	_, err = sc.Store().Create(ctx, "invoice", map[string]interface{}{"n": 1})
	require.NoError(t, err)
	require.NoError(t, sc.Discard())

	n, err := s.Count(ctx, "invoice")
	require.NoError(t, err)
	require.Equal(t, 0, n)
}

func TestInMemoryDatabaseScopes(t *testing.T) {
	for _, driver := range []string{DriverCGO, DriverPure} {
		t.Run(driver, func(t *testing.T) {
			ctx := context.Background()
			s, err := New(":memory:", WithDriver(driver))
			require.NoError(t, err)
			t.Cleanup(func() { _ = s.Close() })

			_, err = s.Create(ctx, "invoice", map[string]interface{}{"n": 1})
			require.NoError(t, err)

			sc, err := s.BeginScope(ctx, "dryrun_memory")
			require.NoError(t, err)
			_, err = sc.Store().Create(ctx, "invoice", map[string]interface{}{"n": 2})
			require.NoError(t, err)
			n, err := sc.Store().Count(ctx, "invoice")
			require.NoError(t, err)
			require.Equal(t, 2, n)
			require.NoError(t, sc.Discard())

			n, err = s.Count(ctx, "invoice")
			require.NoError(t, err)
			require.Equal(t, 1, n)
		})
	}
}

func TestInMemoryDatabasesAreSeparate(t *testing.T) {
	ctx := context.Background()
	a, err := New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	b, err := New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })

	_, err = a.Create(ctx, "note", nil)
	require.NoError(t, err)
	n, err := b.Count(ctx, "note")
	require.NoError(t, err)
	require.Equal(t, 0, n)
}
