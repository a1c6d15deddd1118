// Package store defines the keyed state storage the ledger runs on.
//
// Keys are plain strings so they can sit in maps before they reach a backend;
// they carry arbitrary bytes. Every mutating operation runs inside Update,
// which is the transaction boundary: writes staged by the callback become
// visible to its own later reads, and are applied all-or-nothing.
package store

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned by Load when a key is absent.
	ErrNotFound = errors.New("store: not found")
	// ErrConflict is returned by Update when a concurrent writer kept
	// invalidating the transaction and the retry budget ran out.
	ErrConflict = errors.New("store: transaction conflict")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("store: closed")
)

// Reader is the read half of the state contract.
type Reader interface {
	// Load returns the value at key or ErrNotFound.
	Load(ctx context.Context, key string) ([]byte, error)
	// MayLoad returns the value at key and whether it exists. Absence is not an error.
	MayLoad(ctx context.Context, key string) ([]byte, bool, error)
}

// Tx is a Reader that can also stage writes.
type Tx interface {
	Reader
	Save(ctx context.Context, key string, value []byte) error
}

// Store is a transactional key-value store.
type Store interface {
	// View runs fn against a consistent read-only view: every read sees the
	// same committed state. Like Update, fn may be invoked more than once.
	View(ctx context.Context, fn func(Reader) error) error
	// Update runs fn in a transaction. Staged writes are committed only if fn
	// returns nil. fn may be invoked more than once and must not keep state
	// between invocations.
	Update(ctx context.Context, fn func(Tx) error) error
	Ping(ctx context.Context) error
	Close() error
}

// GetFunc reads a single key from a backend, returning ErrNotFound when absent.
type GetFunc func(ctx context.Context, key string) ([]byte, error)

type reader struct{ get GetFunc }

// NewReader adapts a GetFunc into a Reader.
func NewReader(get GetFunc) Reader { return reader{get: get} }

func (r reader) Load(ctx context.Context, key string) ([]byte, error) {
	return r.get(ctx, key)
}

func (r reader) MayLoad(ctx context.Context, key string) ([]byte, bool, error) {
	return mayLoad(ctx, r.get, key)
}

func mayLoad(ctx context.Context, get GetFunc, key string) ([]byte, bool, error) {
	v, err := get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}
