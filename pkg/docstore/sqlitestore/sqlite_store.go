package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-go-golems/docagent/pkg/docstore"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

const (
	// DriverCGO is github.com/mattn/go-sqlite3.
	DriverCGO = "sqlite3"
	// DriverPure is modernc.org/sqlite.
	DriverPure = "sqlite"
)

const recordsSchemaV1 = `
CREATE TABLE IF NOT EXISTS records (
    id TEXT PRIMARY KEY,
    record_type TEXT NOT NULL,
    fields_json TEXT NOT NULL,
    created_at_ms INTEGER NOT NULL DEFAULT 0,
    updated_at_ms INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS records_type_idx ON records(record_type, created_at_ms);
`

var fieldNameRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

type Option func(*Store)

func WithDriver(driver string) Option {
	return func(s *Store) { s.driver = driver }
}

func WithAuthorizer(a docstore.Authorizer) Option {
	return func(s *Store) { s.authorize = a }
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Store keeps records as JSON rows in SQLite. Scopes are savepoints on a
// connection pinned for the lifetime of the scope.
type Store struct {
	records

	driver string
	dsn    string
	db     *sql.DB

	mu     sync.Mutex
	closed bool
}

var _ docstore.TransactionalStore = (*Store)(nil)

func New(dsn string, options ...Option) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("sqlite document store: empty dsn")
	}

	s := &Store{
		driver: DriverCGO,
		dsn:    memoryDSN(dsn),
	}
	s.authorize = docstore.AllowAll
	s.now = time.Now
	for _, o := range options {
		o(s)
	}

	db, err := sql.Open(s.driver, s.dsn)
	if err != nil {
		return nil, errors.Wrapf(err, "could not open %s database", s.driver)
	}
	s.db = db
	s.q = db

	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// memoryDSN gives a plain in-memory database a private shared cache name.
// Every connection to ":memory:" opens its own empty database, and scopes run
// on a connection of their own.
func memoryDSN(dsn string) string {
	switch dsn {
	case ":memory:", "file::memory:":
		return "file:docagent_" + strings.ReplaceAll(uuid.NewString(), "-", "") + "?mode=memory&cache=shared"
	}
	return dsn
}

func (s *Store) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, recordsSchemaV1); err != nil {
		return errors.Wrap(err, "could not migrate records schema")
	}
	return nil
}

func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// BeginScope pins a connection and opens a savepoint on it.
func (s *Store) BeginScope(ctx context.Context, name string) (docstore.Scope, error) {
	if err := validateScopeName(name); err != nil {
		return nil, err
	}
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "could not pin connection for scope")
	}
	if _, err := conn.ExecContext(ctx, "SAVEPOINT "+quoteIdent(name)); err != nil {
		_ = conn.Close()
		return nil, errors.Wrapf(err, "could not open savepoint %s", name)
	}
	log.Debug().Str("scope", name).Msg("opened document store scope")

	return &scope{
		name: name,
		conn: conn,
		records: records{
			q:         conn,
			authorize: s.authorize,
			now:       s.now,
		},
		ownsConn: true,
	}, nil
}

type scope struct {
	records

	name     string
	conn     *sql.Conn
	ownsConn bool

	mu        sync.Mutex
	discarded bool
}

func (sc *scope) Name() string          { return sc.name }
func (sc *scope) Store() docstore.Store { return sc }

// BeginScope on a scope nests another savepoint on the same connection.
func (sc *scope) BeginScope(ctx context.Context, name string) (docstore.Scope, error) {
	if err := validateScopeName(name); err != nil {
		return nil, err
	}
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if sc.discarded {
		return nil, docstore.ErrScopeClosed
	}
	if _, err := sc.conn.ExecContext(ctx, "SAVEPOINT "+quoteIdent(name)); err != nil {
		return nil, errors.Wrapf(err, "could not open savepoint %s", name)
	}
	return &scope{
		name:    name,
		conn:    sc.conn,
		records: sc.records,
	}, nil
}

// Discard rolls the savepoint back and releases it. It runs on a background
// context so a cancelled request still cleans up.
func (sc *scope) Discard() error {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if sc.discarded {
		return docstore.ErrScopeClosed
	}
	sc.discarded = true

	ctx := context.Background()
	ident := quoteIdent(sc.name)
	var errs []string
	if _, err := sc.conn.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+ident); err != nil {
		errs = append(errs, err.Error())
	}
	if _, err := sc.conn.ExecContext(ctx, "RELEASE SAVEPOINT "+ident); err != nil {
		errs = append(errs, err.Error())
	}
	if sc.ownsConn {
		if err := sc.conn.Close(); err != nil {
			errs = append(errs, err.Error())
		}
	}
	log.Debug().Str("scope", sc.name).Msg("discarded document store scope")
	if len(errs) > 0 {
		return errors.Errorf("discard scope %s: %s", sc.name, strings.Join(errs, "; "))
	}
	return nil
}

var _ docstore.TransactionalStore = (*scope)(nil)

// records implements docstore.Store against any querier.
type records struct {
	q         querier
	authorize docstore.Authorizer
	now       func() time.Time
}

func (r records) check(ctx context.Context, op docstore.Operation, recordType string) error {
	if recordType == "" {
		return errors.New("record type must not be empty")
	}
	if r.authorize == nil {
		return nil
	}
	return r.authorize(ctx, op, recordType)
}

func (r records) Get(ctx context.Context, recordType string, id string) (*docstore.Record, error) {
	if err := r.check(ctx, docstore.OpRead, recordType); err != nil {
		return nil, err
	}
	row := r.q.QueryRowContext(ctx,
		`SELECT id, record_type, fields_json, created_at_ms, updated_at_ms FROM records WHERE record_type = ? AND id = ?`,
		recordType, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(docstore.ErrNotFound, "%s %s", recordType, id)
	}
	return rec, err
}

func (r records) List(ctx context.Context, recordType string, opts docstore.ListOptions) ([]*docstore.Record, error) {
	if err := r.check(ctx, docstore.OpRead, recordType); err != nil {
		return nil, err
	}

	var sb strings.Builder
	sb.WriteString(`SELECT id, record_type, fields_json, created_at_ms, updated_at_ms FROM records WHERE record_type = ?`)
	args := []interface{}{recordType}
	for _, k := range sortedKeys(opts.Filters) {
		if k == "id" {
			sb.WriteString(" AND id = ?")
			args = append(args, opts.Filters[k])
			continue
		}
		if !fieldNameRe.MatchString(k) {
			return nil, errors.Errorf("invalid filter field %q", k)
		}
		sb.WriteString(" AND json_extract(fields_json, '$." + k + "') = ?")
		args = append(args, filterValue(opts.Filters[k]))
	}
	sb.WriteString(" ORDER BY created_at_ms, id")
	if opts.Limit > 0 {
		sb.WriteString(" LIMIT ? OFFSET ?")
		args = append(args, opts.Limit, opts.Offset)
	}

	rows, err := r.q.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, errors.Wrap(err, "could not list records")
	}
	defer func() { _ = rows.Close() }()

	out := []*docstore.Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r records) Create(ctx context.Context, recordType string, fields map[string]interface{}) (*docstore.Record, error) {
	if err := r.check(ctx, docstore.OpCreate, recordType); err != nil {
		return nil, err
	}
	if fields == nil {
		fields = map[string]interface{}{}
	}
	payload, err := json.Marshal(fields)
	if err != nil {
		return nil, errors.Wrap(err, "could not encode record fields")
	}
	now := r.now()
	id := uuid.NewString()
	_, err = r.q.ExecContext(ctx,
		`INSERT INTO records (id, record_type, fields_json, created_at_ms, updated_at_ms) VALUES (?, ?, ?, ?, ?)`,
		id, recordType, string(payload), now.UnixMilli(), now.UnixMilli())
	if err != nil {
		return nil, errors.Wrapf(err, "could not create %s", recordType)
	}
	return &docstore.Record{
		ID:        id,
		Type:      recordType,
		Fields:    fields,
		CreatedAt: time.UnixMilli(now.UnixMilli()),
		UpdatedAt: time.UnixMilli(now.UnixMilli()),
	}, nil
}

// Update merges fields into the stored record.
func (r records) Update(ctx context.Context, recordType string, id string, fields map[string]interface{}) (*docstore.Record, error) {
	if err := r.check(ctx, docstore.OpUpdate, recordType); err != nil {
		return nil, err
	}
	row := r.q.QueryRowContext(ctx,
		`SELECT id, record_type, fields_json, created_at_ms, updated_at_ms FROM records WHERE record_type = ? AND id = ?`,
		recordType, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(docstore.ErrNotFound, "%s %s", recordType, id)
	}
	if err != nil {
		return nil, err
	}
	for k, v := range fields {
		rec.Fields[k] = v
	}
	payload, err := json.Marshal(rec.Fields)
	if err != nil {
		return nil, errors.Wrap(err, "could not encode record fields")
	}
	now := r.now()
	if _, err := r.q.ExecContext(ctx,
		`UPDATE records SET fields_json = ?, updated_at_ms = ? WHERE record_type = ? AND id = ?`,
		string(payload), now.UnixMilli(), recordType, id); err != nil {
		return nil, errors.Wrapf(err, "could not update %s %s", recordType, id)
	}
	rec.UpdatedAt = time.UnixMilli(now.UnixMilli())
	return rec, nil
}

func (r records) Delete(ctx context.Context, recordType string, id string) error {
	if err := r.check(ctx, docstore.OpDelete, recordType); err != nil {
		return err
	}
	res, err := r.q.ExecContext(ctx, `DELETE FROM records WHERE record_type = ? AND id = ?`, recordType, id)
	if err != nil {
		return errors.Wrapf(err, "could not delete %s %s", recordType, id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return errors.Wrapf(docstore.ErrNotFound, "%s %s", recordType, id)
	}
	return nil
}

func (r records) Count(ctx context.Context, recordType string) (int, error) {
	if err := r.check(ctx, docstore.OpRead, recordType); err != nil {
		return 0, err
	}
	var n int
	err := r.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM records WHERE record_type = ?`, recordType).Scan(&n)
	if err != nil {
		return 0, errors.Wrap(err, "could not count records")
	}
	return n, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(s scanner) (*docstore.Record, error) {
	var (
		rec       docstore.Record
		payload   string
		createdMs int64
		updatedMs int64
	)
	if err := s.Scan(&rec.ID, &rec.Type, &payload, &createdMs, &updatedMs); err != nil {
		return nil, err
	}
	rec.Fields = map[string]interface{}{}
	if err := json.Unmarshal([]byte(payload), &rec.Fields); err != nil {
		return nil, errors.Wrapf(err, "corrupt fields for record %s", rec.ID)
	}
	rec.CreatedAt = time.UnixMilli(createdMs)
	rec.UpdatedAt = time.UnixMilli(updatedMs)
	return &rec, nil
}

// filterValue maps JSON-ish Go values onto what json_extract returns.
func filterValue(v interface{}) interface{} {
	switch x := v.(type) {
	case bool:
		if x {
			return 1
		}
		return 0
	case nil:
		return nil
	case string, int, int64, float64, float32, int32:
		return x
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprintf("%v", x)
		}
		return string(b)
	}
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func validateScopeName(name string) error {
	if !fieldNameRe.MatchString(name) {
		return errors.Errorf("invalid scope name %q", name)
	}
	return nil
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
