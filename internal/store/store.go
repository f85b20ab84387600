package store

import (
	"context"
	"errors"
)

// ErrNotFound indicates the requested record is missing.
var ErrNotFound = errors.New("store: not found")

type transientError struct {
	err error
}

func (t transientError) Error() string { return t.err.Error() }
func (t transientError) Unwrap() error { return t.err }

// NewTransientError marks err as retryable.
func NewTransientError(err error) error {
	if err == nil {
		return nil
	}
	return transientError{err: err}
}

// IsTransient reports whether err was marked as retryable.
func IsTransient(err error) bool {
	var te transientError
	return errors.As(err, &te)
}

// Fields holds one record's field map as raw bytes per field.
type Fields map[string][]byte

// Clone returns a deep copy of the field map.
func (f Fields) Clone() Fields {
	if f == nil {
		return nil
	}
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = append([]byte(nil), v...)
	}
	return out
}

// ListKeysOptions guides a keys-only page read. StartAfter is the
// opaque cursor returned by a previous page; callers must not parse
// or fabricate it.
type ListKeysOptions struct {
	StartAfter string
	Limit      int
}

// KeysPage is one page of keys in ascending lexical order.
// NextStartAfter resumes the scan when Truncated is true.
type KeysPage struct {
	Keys           []string
	NextStartAfter string
	Truncated      bool
}

// Client is the store capability the driver consumes. Implementations
// must be safe for concurrent use; the deletion engine shares one
// client across its worker pool.
type Client interface {
	// ListKeys returns one page of keys for collection, resuming from
	// opts.StartAfter and limited by opts.Limit when > 0.
	ListKeys(ctx context.Context, collection string, opts ListKeysOptions) (*KeysPage, error)
	// DeleteMulti removes the supplied keys in one batched call.
	// Missing keys are not an error.
	DeleteMulti(ctx context.Context, collection string, keys []string) error
	// PutRecord writes a record's field map under key.
	PutRecord(ctx context.Context, collection, key string, fields Fields) error
	// GetRecord fetches a record's field map, or ErrNotFound.
	GetRecord(ctx context.Context, collection, key string) (Fields, error)
	// Close releases client resources.
	Close() error
}
