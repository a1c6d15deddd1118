package events

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const maxBatchSize = 50

// Sink receives batches of events. An error that reports Permanent() == true
// sends the batch to the dead-letter list instead of retrying it.
type Sink interface {
	Deliver(ctx context.Context, batch []Event) error
}

// Counters is satisfied by *metrics.Metrics.
type Counters interface {
	EventsDelivered(n int)
	EventsDeadLettered(n int)
}

type permanent interface{ Permanent() bool }

// IsPermanent reports whether retrying err would fail the same way.
func IsPermanent(err error) bool {
	var p permanent
	return errors.As(err, &p) && p.Permanent()
}

// DLQKey is the dead-letter list paired with queueKey.
func DLQKey(queueKey string) string { return queueKey + ":dlq" }

// ProcessingKey is the list holding the batch consumer has claimed from queueKey.
func ProcessingKey(queueKey, consumer string) string {
	return queueKey + ":processing:" + consumer
}

// Relay moves events from the queue to a Sink. Several relays may share one
// queue: each claims its batch atomically into its own processing list, and
// the list is cleared only once the batch is delivered or dead-lettered.
// Events keep their queue order within a relay, not across relays.
type Relay struct {
	rdb          *redis.Client
	queueKey     string
	processing   string
	consumer     string
	sink         Sink
	counters     Counters
	claimTimeout time.Duration
	backoff      time.Duration
	log          *zap.Logger
}

type RelayOption func(*Relay)

func WithCounters(c Counters) RelayOption { return func(r *Relay) { r.counters = c } }

// WithConsumer names the relay's processing list. A stable name lets a
// restarted relay pick up the batch it was holding when it died.
func WithConsumer(name string) RelayOption {
	return func(r *Relay) {
		if name != "" {
			r.consumer = name
		}
	}
}

// WithTimings sets how long a claim blocks on an empty queue and how long to
// back off after a transient delivery failure.
func WithTimings(claim, backoff time.Duration) RelayOption {
	return func(r *Relay) { r.claimTimeout, r.backoff = claim, backoff }
}

func NewRelay(rdb *redis.Client, queueKey string, sink Sink, log *zap.Logger, opts ...RelayOption) *Relay {
	r := &Relay{
		rdb:          rdb,
		queueKey:     queueKey,
		consumer:     uuid.NewString(),
		sink:         sink,
		claimTimeout: 5 * time.Second,
		backoff:      5 * time.Second,
		log:          log,
	}
	for _, o := range opts {
		o(r)
	}
	r.processing = ProcessingKey(queueKey, r.consumer)
	return r
}

// Run is the relay loop: claim a batch → deliver → clear or dead-letter.
// A batch left in the processing list (a transient failure, or a previous run
// under the same consumer name) is retried before anything new is claimed.
// On cancellation the held batch goes back to the head of the queue and Run
// returns nil.
func (r *Relay) Run(ctx context.Context) error {
	r.log.Info("event relay started", zap.String("queue", r.queueKey), zap.String("consumer", r.consumer))

	for {
		if ctx.Err() != nil {
			r.release(context.WithoutCancel(ctx))
			r.log.Info("event relay stopped")
			return nil
		}

		raws, err := r.rdb.LRange(ctx, r.processing, 0, -1).Result()
		if err != nil {
			if ctx.Err() == nil {
				r.log.Error("relay: LRANGE processing", zap.Error(err))
				r.sleep(ctx, time.Second)
			}
			continue
		}
		if len(raws) == 0 {
			if raws, err = r.claim(ctx); err != nil {
				if ctx.Err() == nil {
					r.log.Error("relay: claim", zap.Error(err))
					r.sleep(ctx, time.Second)
				}
				continue
			}
			if len(raws) == 0 {
				continue
			}
		}

		r.deliver(ctx, raws)
	}
}

// claim blocks until the queue has an item, then moves up to maxBatchSize
// items into the processing list and returns them in order.
func (r *Relay) claim(ctx context.Context) ([]string, error) {
	err := r.rdb.BLMove(ctx, r.queueKey, r.processing, "LEFT", "RIGHT", r.claimTimeout).Err()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	// Each LMOVE is atomic; an empty queue just answers nil.
	_, err = r.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i := 1; i < maxBatchSize; i++ {
			pipe.LMove(ctx, r.queueKey, r.processing, "LEFT", "RIGHT")
		}
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		r.log.Warn("relay: partial claim", zap.Error(err))
	}
	// The processing list is the record of what this relay holds.
	return r.rdb.LRange(ctx, r.processing, 0, -1).Result()
}

func (r *Relay) deliver(ctx context.Context, raws []string) {
	batch := make([]Event, 0, len(raws))
	var bad []string
	for _, raw := range raws {
		var ev Event
		if err := json.Unmarshal([]byte(raw), &ev); err != nil {
			r.log.Error("relay: unmarshal event", zap.String("raw", raw), zap.Error(err))
			bad = append(bad, raw)
			continue
		}
		batch = append(batch, ev)
	}

	var err error
	if len(batch) > 0 {
		err = r.sink.Deliver(ctx, batch)
	}
	switch {
	case err == nil:
		r.settle(ctx, bad)
		if len(batch) > 0 {
			r.log.Info("events delivered", zap.Int("count", len(batch)))
			if r.counters != nil {
				r.counters.EventsDelivered(len(batch))
			}
		}

	case IsPermanent(err):
		r.log.Error("relay: events rejected by sink", zap.Int("count", len(raws)), zap.Error(err))
		r.settle(ctx, raws)

	default:
		// The batch stays in the processing list and is retried as is.
		r.log.Warn("relay: delivery failed, will retry", zap.Int("count", len(batch)), zap.Error(err))
		r.sleep(ctx, r.backoff)
	}
}

// settle clears the processing list, moving deadLetters to the DLQ in the
// same transaction.
func (r *Relay) settle(ctx context.Context, deadLetters []string) {
	ctx = context.WithoutCancel(ctx)
	_, err := r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if len(deadLetters) > 0 {
			vals := make([]any, len(deadLetters))
			for i, raw := range deadLetters {
				vals[i] = raw
			}
			pipe.RPush(ctx, DLQKey(r.queueKey), vals...)
		}
		pipe.Del(ctx, r.processing)
		return nil
	})
	if err != nil {
		// The batch stays claimed and will be delivered again.
		r.log.Error("relay: settle batch", zap.Int("dead_letters", len(deadLetters)), zap.Error(err))
		return
	}
	if len(deadLetters) > 0 && r.counters != nil {
		r.counters.EventsDeadLettered(len(deadLetters))
	}
}

// release hands the held batch back to the head of the queue, keeping order.
func (r *Relay) release(ctx context.Context) {
	n := 0
	for {
		err := r.rdb.LMove(ctx, r.processing, r.queueKey, "RIGHT", "LEFT").Err()
		if errors.Is(err, redis.Nil) {
			break
		}
		if err != nil {
			r.log.Error("relay: release batch", zap.String("processing", r.processing), zap.Error(err))
			return
		}
		n++
	}
	if n > 0 {
		r.log.Info("relay: batch returned to queue", zap.Int("count", n))
	}
}

func (r *Relay) sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
