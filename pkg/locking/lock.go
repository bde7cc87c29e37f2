package locking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Commands is the subset of redis commands this package issues.
// *redis.Client satisfies it; tests substitute an in-memory fake built
// on redis.NewBoolResult and friends.
type Commands interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Incr(ctx context.Context, key string) *redis.IntCmd
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
}

// ErrNotAcquired is returned when the wait budget elapses before the
// lock frees up.
var ErrNotAcquired = errors.New("lock not acquired within wait budget")

// releaseScript deletes the key only when this caller still owns it, so
// an expired lease never releases the next owner's lock.
const releaseScript = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// Locker is a best-effort advisory lease over redis. It reduces
// contention on guarded sections; it is never the correctness
// mechanism — the fencing counter and conditional writes are.
type Locker struct {
	rdb Commands
}

// NewLocker creates a Locker.
func NewLocker(rdb Commands) *Locker {
	return &Locker{rdb: rdb}
}

// Lease is one held advisory lock.
type Lease struct {
	rdb   Commands
	key   string
	token string
}

// TryLock attempts to take the lease, polling until the wait budget is
// spent. Returns ErrNotAcquired when the budget elapses.
func (l *Locker) TryLock(ctx context.Context, key string, wait, lease time.Duration) (*Lease, error) {
	token := uuid.New().String()
	redisKey := "lock:" + key
	deadline := time.Now().Add(wait)

	for {
		ok, err := l.rdb.SetNX(ctx, redisKey, token, lease).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to acquire lock %s: %w", key, err)
		}
		if ok {
			return &Lease{rdb: l.rdb, key: redisKey, token: token}, nil
		}
		if time.Now().After(deadline) {
			return nil, ErrNotAcquired
		}

		select {
		case <-time.After(50 * time.Millisecond):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Unlock releases the lease if this caller still holds it. Releasing an
// already-expired lease is not an error.
func (le *Lease) Unlock(ctx context.Context) error {
	if err := le.rdb.Eval(ctx, releaseScript, []string{le.key}, le.token).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("failed to release lock %s: %w", le.key, err)
	}
	return nil
}
