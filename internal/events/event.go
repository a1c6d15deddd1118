// Package events queues the attributes of committed ledger calls in Redis and
// relays them to an external observer.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"

	"github.com/0gfoundation/0g-invoice-ledger/internal/ledger"
)

// Event is one committed execute call, as queued and delivered (fields sorted).
type Event struct {
	Action     string             `json:"action"`
	Attributes []ledger.Attribute `json:"attributes"`
	Sender     string             `json:"sender"`
	Timestamp  int64              `json:"timestamp"`
}

// FromResponse builds the event for a successful call by sender.
func FromResponse(sender common.Address, resp *ledger.Response, at time.Time) Event {
	action, _ := resp.Attr("action")
	return Event{
		Action:     action,
		Attributes: resp.Attributes,
		Sender:     sender.Hex(),
		Timestamp:  at.Unix(),
	}
}

// Publisher pushes events onto the relay queue.
type Publisher struct {
	rdb      *redis.Client
	queueKey string
}

func NewPublisher(rdb *redis.Client, queueKey string) *Publisher {
	return &Publisher{rdb: rdb, queueKey: queueKey}
}

// Publish appends ev to the queue. The call it describes is already committed,
// so the caller reports a failure but must not undo anything.
func (p *Publisher) Publish(ctx context.Context, ev Event) error {
	raw, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := p.rdb.RPush(ctx, p.queueKey, string(raw)).Err(); err != nil {
		return fmt.Errorf("push event: %w", err)
	}
	return nil
}
