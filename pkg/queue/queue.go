// Package queue implements the peak-time admission queue: an ordered
// set keyed by submission timestamp that gates saga progress when
// in-flight work exceeds a threshold.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	queueKey    = "admission:queue"
	inflightKey = "admission:inflight"
)

// Commands is the subset of redis commands the queue needs.
// *redis.Client satisfies it.
type Commands interface {
	ZAdd(ctx context.Context, key string, members ...redis.Z) *redis.IntCmd
	ZRank(ctx context.Context, key, member string) *redis.IntCmd
	ZCard(ctx context.Context, key string) *redis.IntCmd
	ZPopMin(ctx context.Context, key string, count ...int64) *redis.ZSliceCmd
	Incr(ctx context.Context, key string) *redis.IntCmd
	Decr(ctx context.Context, key string) *redis.IntCmd
	Get(ctx context.Context, key string) *redis.StringCmd
}

// ErrNotQueued is returned by Status for an order not in the queue.
var ErrNotQueued = errors.New("order not in admission queue")

// Status is what the caller polls while waiting. EstimatedWait is
// serialized in milliseconds.
type Status struct {
	OrderID       string        `json:"orderId"`
	Rank          int64         `json:"rank"`
	Size          int64         `json:"size"`
	EstimatedWait time.Duration `json:"-"`
}

// MarshalJSON renders the wait as milliseconds for API clients.
func (s Status) MarshalJSON() ([]byte, error) {
	type alias Status
	return json.Marshal(struct {
		alias
		EstimatedWaitMs int64 `json:"estimatedWaitMs"`
	}{alias(s), s.EstimatedWait.Milliseconds()})
}

// Queue is the redis-backed ordered set. Score is the submission
// timestamp in unix milliseconds, so ZPopMin yields strict FIFO; equal
// timestamps tie-break lexically by order id, which is stable.
type Queue struct {
	rdb       Commands
	threshold int64
	interval  time.Duration
}

// New creates a queue. threshold is the in-flight count that activates
// queueing; interval is the dequeue cadence used for wait estimates.
func New(rdb Commands, threshold int, interval time.Duration) *Queue {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	return &Queue{rdb: rdb, threshold: int64(threshold), interval: interval}
}

// Active reports whether new orders must queue: in-flight work is at
// the threshold, or earlier orders are still waiting (joining behind
// them keeps FIFO fairness).
func (q *Queue) Active(ctx context.Context) (bool, error) {
	size, err := q.rdb.ZCard(ctx, queueKey).Result()
	if err != nil {
		return false, fmt.Errorf("failed to read queue size: %w", err)
	}
	if size > 0 {
		return true, nil
	}

	inflight, err := q.inflight(ctx)
	if err != nil {
		return false, err
	}
	return inflight >= q.threshold, nil
}

// Enqueue adds the order keyed by its submission time.
func (q *Queue) Enqueue(ctx context.Context, orderID string, submittedAt time.Time) error {
	err := q.rdb.ZAdd(ctx, queueKey, redis.Z{
		Score:  float64(submittedAt.UnixMilli()),
		Member: orderID,
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to enqueue order %s: %w", orderID, err)
	}
	return nil
}

// PopMin removes and returns the order with the smallest score along
// with its submission time. An empty queue returns ("", zero, nil).
func (q *Queue) PopMin(ctx context.Context) (string, time.Time, error) {
	entries, err := q.rdb.ZPopMin(ctx, queueKey, 1).Result()
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to pop admission queue: %w", err)
	}
	if len(entries) == 0 {
		return "", time.Time{}, nil
	}
	member, _ := entries[0].Member.(string)
	return member, time.UnixMilli(int64(entries[0].Score)), nil
}

// Status returns the caller's rank, the queue size, and the estimated
// wait (rank × dequeue interval).
func (q *Queue) Status(ctx context.Context, orderID string) (*Status, error) {
	rank, err := q.rdb.ZRank(ctx, queueKey, orderID).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotQueued
		}
		return nil, fmt.Errorf("failed to rank order %s: %w", orderID, err)
	}

	size, err := q.rdb.ZCard(ctx, queueKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read queue size: %w", err)
	}

	return &Status{
		OrderID:       orderID,
		Rank:          rank,
		Size:          size,
		EstimatedWait: time.Duration(rank) * q.interval,
	}, nil
}

// Size returns the current queue depth.
func (q *Queue) Size(ctx context.Context) (int64, error) {
	size, err := q.rdb.ZCard(ctx, queueKey).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read queue size: %w", err)
	}
	return size, nil
}

// IncInflight counts one accepted order; DecInflight is called when its
// saga reaches a terminal state.
func (q *Queue) IncInflight(ctx context.Context) error {
	return q.rdb.Incr(ctx, inflightKey).Err()
}

// DecInflight decrements the in-flight counter.
func (q *Queue) DecInflight(ctx context.Context) error {
	return q.rdb.Decr(ctx, inflightKey).Err()
}

func (q *Queue) inflight(ctx context.Context) (int64, error) {
	v, err := q.rdb.Get(ctx, inflightKey).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read inflight counter: %w", err)
	}
	return v, nil
}
