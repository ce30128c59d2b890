// Package store defines the replicated document store the admission engine
// runs on, and its Badger, Redis and MySQL implementations.  Documents are
// opaque byte slices (JSON in practice) addressed by slash-separated paths.
package store

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned by Read when no document exists at the path.
	ErrNotFound = errors.New("document not found")

	// ErrAborted is returned by an UpdateFunc to abandon a transaction
	// without writing.  TransactionalUpdate reports it as an uncommitted
	// result, not as an error.
	ErrAborted = errors.New("transaction aborted")

	// ErrUnavailable marks a transient failure talking to the backend.
	// Callers may retry.
	ErrUnavailable = errors.New("store unavailable")

	// ErrPermissionDenied marks a request the backend's access rules
	// rejected.  Callers treat it as "feature unavailable" and fall back.
	ErrPermissionDenied = errors.New("permission denied")
)

// UpdateFunc computes the next value of a document from its current
// value.  current is nil when the document is absent.  Returning
// ErrAborted abandons the transaction.  The function may be invoked
// several times when writers conflict, so it must not have side effects.
type UpdateFunc func(current []byte) (next []byte, err error)

// TxResult is the outcome of TransactionalUpdate.  Value holds the
// committed document, or the current one when the update was aborted.
type TxResult struct {
	Committed bool
	Value     []byte
}

// Change is delivered to subscribers after a write commits.  Deleted is
// reserved for backends that can observe removals.
type Change struct {
	Path    string
	Value   []byte
	Deleted bool
}

// Unsubscribe stops a subscription.  It is safe to call more than once.
type Unsubscribe func()

// Store is the set of primitives the engine needs from its backend.
type Store interface {
	Read(ctx context.Context, path string) ([]byte, error)
	List(ctx context.Context, prefix string) (map[string][]byte, error)
	TransactionalUpdate(ctx context.Context, path string, fn UpdateFunc) (TxResult, error)
	AtomicMultiWrite(ctx context.Context, writes map[string][]byte) error
	Subscribe(ctx context.Context, prefix string, onChange func(Change)) (Unsubscribe, error)
	Close() error
}

// IsTransient reports whether err is a retryable backend failure.
func IsTransient(err error) bool { return errors.Is(err, ErrUnavailable) }

// IsPermissionDenied reports whether err came from the backend's access rules.
func IsPermissionDenied(err error) bool { return errors.Is(err, ErrPermissionDenied) }

// backendError tags a driver error with one of the sentinel classes while
// keeping the original error in the chain.
type backendError struct {
	class error
	err   error
}

func (e *backendError) Error() string { return e.class.Error() + ": " + e.err.Error() }

func (e *backendError) Is(target error) bool { return target == e.class }

func (e *backendError) Unwrap() error { return e.err }

func unavailable(err error) error { return &backendError{class: ErrUnavailable, err: err} }

func denied(err error) error { return &backendError{class: ErrPermissionDenied, err: err} }
