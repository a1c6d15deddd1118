// Package pebblestore implements store.Store on an embedded Pebble database.
//
// Writers are serialized; each Update runs on an indexed batch so the
// callback reads its own writes, and the batch is committed synchronously
// only when the callback succeeds.
package pebblestore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"

	"github.com/0gfoundation/0g-invoice-ledger/internal/store"
)

type Store struct {
	mu     sync.RWMutex // writers exclusive, readers shared
	db     *pebble.DB
	closed bool
}

type Option func(*pebble.Options)

// WithFS swaps the filesystem, e.g. vfs.NewMem() in tests.
func WithFS(fs vfs.FS) Option { return func(o *pebble.Options) { o.FS = fs } }

func Open(path string, opts ...Option) (*Store, error) {
	po := &pebble.Options{}
	for _, o := range opts {
		o(po)
	}
	db, err := pebble.Open(path, po)
	if err != nil {
		return nil, fmt.Errorf("open pebble %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

type pebbleGetter interface {
	Get(key []byte) ([]byte, io.Closer, error)
}

// get copies the value out; Pebble's slice is only valid until the closer runs.
func get(r pebbleGetter, key string) ([]byte, error) {
	v, closer, err := r.Get([]byte(key))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	defer closer.Close()
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (s *Store) View(ctx context.Context, fn func(store.Reader) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return store.ErrClosed
	}
	snap := s.db.NewSnapshot()
	defer snap.Close()
	return fn(store.NewReader(func(ctx context.Context, k string) ([]byte, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return get(snap, k)
	}))
}

func (s *Store) Update(ctx context.Context, fn func(store.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return store.ErrClosed
	}

	b := s.db.NewIndexedBatch()
	defer b.Close()

	if err := fn(&tx{b: b}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if b.Empty() {
		return nil
	}
	return b.Commit(pebble.Sync)
}

func (s *Store) Ping(context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return store.ErrClosed
	}
	return nil
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

type tx struct{ b *pebble.Batch }

func (t *tx) Load(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return get(t.b, key)
}

func (t *tx) MayLoad(ctx context.Context, key string) ([]byte, bool, error) {
	v, err := t.Load(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

func (t *tx) Save(_ context.Context, key string, value []byte) error {
	if value == nil {
		return errors.New("store: nil value")
	}
	return t.b.Set([]byte(key), value, nil)
}
