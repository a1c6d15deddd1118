// Package redisstore implements store.Store on Redis.
//
// Update is an optimistic transaction: every key is WATCHed before it is
// read, and the staged writes go out in a single MULTI/EXEC. If another
// client touched a watched key in between, EXEC aborts and the whole
// callback is run again after a jittered backoff. Writers sharing one Store
// take turns on a mutex, so WATCH conflicts only come from other processes.
//
// View uses the same mechanism: every key it reads is WATCHed and the read
// is confirmed by an EXEC, so a view never mixes states from before and
// after another client's commit.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/0gfoundation/0g-invoice-ledger/internal/store"
)

const (
	defaultMaxRetries = 16
	baseBackoff       = 2 * time.Millisecond
	maxBackoff        = 100 * time.Millisecond
)

type Store struct {
	rdb        *redis.Client
	prefix     string
	maxRetries int

	// Update holds mu exclusively, View shares it.
	mu sync.RWMutex
}

type Option func(*Store)

// WithPrefix namespaces every key, e.g. "ledger:".
func WithPrefix(p string) Option { return func(s *Store) { s.prefix = p } }

// WithMaxRetries bounds how often Update re-runs after a WATCH conflict.
func WithMaxRetries(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxRetries = n
		}
	}
}

func New(rdb *redis.Client, opts ...Option) *Store {
	s := &Store{rdb: rdb, maxRetries: defaultMaxRetries}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Store) key(k string) string { return s.prefix + k }

func (s *Store) View(ctx context.Context, fn func(store.Reader) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.retry(ctx, func() error {
		return s.rdb.Watch(ctx, func(tx *redis.Tx) error {
			if err := fn(store.NewReader(s.watchedGet(tx))); err != nil {
				return err
			}
			// EXEC fails with TxFailedErr if anything read above has changed.
			_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Ping(ctx)
				return nil
			})
			return err
		})
	})
}

func (s *Store) Update(ctx context.Context, fn func(store.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.retry(ctx, func() error {
		return s.rdb.Watch(ctx, func(tx *redis.Tx) error {
			ov := store.NewOverlay(s.watchedGet(tx))
			if err := fn(ov); err != nil {
				return err
			}
			writes := ov.Writes()
			if len(writes) == 0 {
				return nil
			}
			_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				for _, w := range writes {
					pipe.Set(ctx, s.key(w.Key), w.Value, 0)
				}
				return nil
			})
			return err
		})
	})
}

// retry re-runs attempt while it fails with a WATCH conflict, backing off
// between attempts, up to maxRetries times.
func (s *Store) retry(ctx context.Context, attempt func() error) error {
	for i := 0; i < s.maxRetries; i++ {
		if i > 0 {
			if err := sleep(ctx, backoff(i)); err != nil {
				return err
			}
		}
		err := attempt()
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return store.ErrConflict
}

func (s *Store) watchedGet(tx *redis.Tx) store.GetFunc {
	return func(ctx context.Context, k string) ([]byte, error) {
		full := s.key(k)
		if err := tx.Watch(ctx, full).Err(); err != nil {
			return nil, fmt.Errorf("watch: %w", err)
		}
		return get(ctx, tx, full)
	}
}

// backoff doubles from baseBackoff up to maxBackoff; the wait is drawn from
// the upper half of that window.
func backoff(attempt int) time.Duration {
	d := baseBackoff << min(attempt-1, 6)
	d = min(d, maxBackoff)
	return d/2 + rand.N(d/2+1)
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

// Close is a no-op: the Redis client is owned by the caller.
func (s *Store) Close() error { return nil }

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func get(ctx context.Context, c getter, key string) ([]byte, error) {
	v, err := c.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return v, nil
}
