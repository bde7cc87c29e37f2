package locking

import (
	"context"
	"fmt"
)

// FencingCounter issues monotonically increasing tokens per contended
// resource. A writer obtains a token before a guarded write; the
// conditional update in storage rejects any write whose token is not
// strictly greater than the last applied one. The counter is backed by
// redis INCR, durable across restarts with persistence enabled.
type FencingCounter struct {
	rdb Commands
}

// NewFencingCounter creates a FencingCounter.
func NewFencingCounter(rdb Commands) *FencingCounter {
	return &FencingCounter{rdb: rdb}
}

// Next returns the next fencing token for the resource. Tokens are
// never reused; two writers can hold tokens concurrently and the store
// settles who wins.
func (c *FencingCounter) Next(ctx context.Context, resource string) (int64, error) {
	token, err := c.rdb.Incr(ctx, "fence:"+resource).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to obtain fencing token for %s: %w", resource, err)
	}
	return token, nil
}
