package backend

import (
	"context"
	"fmt"
	"net"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

var (
	// ErrInternal marks failures inside a client library: panics or error
	// classes the adapter does not recognize.
	ErrInternal = errors.New("backend internal error")
	// ErrUnavailable marks a backend that could not be reached.
	ErrUnavailable = errors.New("backend unavailable")
	// ErrUnsupportedProvider is returned by factories for unknown providers.
	ErrUnsupportedProvider = errors.New("unsupported provider")
)

// Error attaches a classification to an error returned by a provider.
type Error struct {
	Provider string
	Kind     error
	Err      error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Provider, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Provider, e.Kind, e.Err)
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func Internal(provider string, err error) error {
	return &Error{Provider: provider, Kind: ErrInternal, Err: err}
}

func Unavailable(provider string, err error) error {
	return &Error{Provider: provider, Kind: ErrUnavailable, Err: err}
}

// IsTimeout reports whether err is a deadline or network timeout.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// Recover turns a panic in a client library into an ErrInternal error.
// It must be deferred directly:
//
//	defer backend.Recover("openai", &err)
func Recover(provider string, err *error) {
	if r := recover(); r != nil {
		log.Error().Str("component", "backend").Str("provider", provider).Interface("panic", r).Msg("client library panicked")
		*err = Internal(provider, errors.Errorf("panic: %v", r))
	}
}
