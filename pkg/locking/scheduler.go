package locking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// extendScript re-arms the key's TTL only while this caller owns it,
// used to hold a short job's lock through lockAtLeastFor.
const extendScript = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0
`

// Scheduler provides the leader lock for scheduled singleton jobs (the
// outbox relay, the queue dequeuer, the warmers, the retention jobs).
// At most one process-group instance runs a given job per tick.
// Correctness of those jobs never depends on this: a duplicate run only
// produces duplicate deliveries, which the idempotency ledger absorbs.
type Scheduler struct {
	rdb   Commands
	owner string
}

// NewScheduler creates a Scheduler. Each process gets a unique owner
// identity so releases cannot free another instance's lease.
func NewScheduler(rdb Commands) *Scheduler {
	return &Scheduler{rdb: rdb, owner: uuid.New().String()}
}

// Acquire tries to take the job's leader lock. On success it returns a
// release function the job calls when its body finishes; otherwise ok
// is false and the caller skips this tick.
//
// lockAtMostFor bounds how long a crashed holder orphans the lease.
// lockAtLeastFor keeps the lease held after a very short body, avoiding
// re-acquisition storms across instances within one interval.
func (s *Scheduler) Acquire(ctx context.Context, name string, lockAtMostFor, lockAtLeastFor time.Duration) (release func(), ok bool, err error) {
	key := "sched:" + name
	start := time.Now()

	acquired, err := s.rdb.SetNX(ctx, key, s.owner, lockAtMostFor).Result()
	if err != nil {
		return nil, false, fmt.Errorf("failed to acquire leader lock %s: %w", name, err)
	}
	if !acquired {
		return nil, false, nil
	}

	release = func() {
		// Release must not inherit the job's (possibly cancelled)
		// context, or a timed-out job would orphan its lease for the
		// full lockAtMostFor.
		rctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		if held := time.Since(start); held < lockAtLeastFor {
			remaining := lockAtLeastFor - held
			_ = s.rdb.Eval(rctx, extendScript, []string{key}, s.owner, remaining.Milliseconds()).Err()
			return
		}
		if err := s.rdb.Eval(rctx, releaseScript, []string{key}, s.owner).Err(); err != nil && !errors.Is(err, redis.Nil) {
			// Lease will expire on its own at lockAtMostFor.
			_ = err
		}
	}
	return release, true, nil
}
