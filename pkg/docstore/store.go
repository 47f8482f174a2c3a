package docstore

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

var (
	ErrNotFound         = errors.New("record not found")
	ErrPermissionDenied = errors.New("permission denied")
	ErrScopeClosed      = errors.New("scope already discarded")
)

// Record is one stored document of a given type.
type Record struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	Fields    map[string]interface{} `json:"fields"`
	CreatedAt time.Time              `json:"created_at"`
	UpdatedAt time.Time              `json:"updated_at"`
}

// ListOptions restricts a List call. Filters match top-level fields by equality.
type ListOptions struct {
	Filters map[string]interface{}
	Limit   int
	Offset  int
}

// Store is the CRUD surface tool bindings operate on.
type Store interface {
	Get(ctx context.Context, recordType string, id string) (*Record, error)
	List(ctx context.Context, recordType string, opts ListOptions) ([]*Record, error)
	Create(ctx context.Context, recordType string, fields map[string]interface{}) (*Record, error)
	Update(ctx context.Context, recordType string, id string, fields map[string]interface{}) (*Record, error)
	Delete(ctx context.Context, recordType string, id string) error
	Count(ctx context.Context, recordType string) (int, error)
}

// Scope is a nested transaction opened by BeginScope. Everything written
// through Store() is thrown away by Discard.
type Scope interface {
	Name() string
	Store() Store
	Discard() error
}

// TransactionalStore can open named nested scopes.
type TransactionalStore interface {
	Store
	BeginScope(ctx context.Context, name string) (Scope, error)
}

type Operation string

const (
	OpRead   Operation = "read"
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// Authorizer is consulted before every operation. A non-nil error rejects it.
type Authorizer func(ctx context.Context, op Operation, recordType string) error

// AllowAll is the default Authorizer.
func AllowAll(context.Context, Operation, string) error { return nil }

// DenyWrites rejects every mutating operation.
func DenyWrites(_ context.Context, op Operation, recordType string) error {
	if op == OpRead {
		return nil
	}
	return errors.Wrapf(ErrPermissionDenied, "%s on %s", op, recordType)
}
