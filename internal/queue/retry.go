// Package queue persists failed status callbacks for later replay.
//
// Twilio occasionally posts a delivery callback before the data store has
// made the dispatched request visible to search.  Rather than drop the
// event, the webhook pushes it here and a scheduled job replays it.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const queueKey = "callback_retry_queue"

// DefaultMaxRetries bounds replay attempts per event.
const DefaultMaxRetries = 3

// ErrRetriesExhausted is terminal: the event is logged and dropped.
var ErrRetriesExhausted = errors.New("queue: callback retries exhausted")

// StatusEvent is the serialized form of a delivery-status callback.
type StatusEvent struct {
	SID          string `json:"sid"`
	Status       string `json:"status"`
	AttemptCount int    `json:"attempt_count"`
	MaxRetries   int    `json:"max_retries"`
}

// RetryQueue is a FIFO of StatusEvents in redis.
type RetryQueue struct {
	rdb        *redis.Client
	maxRetries int
}

func New(rdb *redis.Client, maxRetries int) *RetryQueue {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	return &RetryQueue{rdb: rdb, maxRetries: maxRetries}
}

// Push enqueues the event for another attempt.  Fails with
// ErrRetriesExhausted once the attempt count passes the bound.
func (q *RetryQueue) Push(ctx context.Context, ev StatusEvent) error {
	if ev.MaxRetries == 0 {
		ev.MaxRetries = q.maxRetries
	}
	if ev.AttemptCount > ev.MaxRetries {
		return fmt.Errorf("%w: sid=%s attempts=%d", ErrRetriesExhausted, ev.SID, ev.AttemptCount)
	}
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return q.rdb.LPush(ctx, queueKey, b).Err()
}

// Pop dequeues the oldest event, or returns nil when the queue is empty.
func (q *RetryQueue) Pop(ctx context.Context) (*StatusEvent, error) {
	raw, err := q.rdb.RPop(ctx, queueKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var ev StatusEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return nil, err
	}
	return &ev, nil
}

// Len reports the queue depth.
func (q *RetryQueue) Len(ctx context.Context) (int64, error) {
	return q.rdb.LLen(ctx, queueKey).Result()
}
