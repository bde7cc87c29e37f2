/*
Package locking provides the three coordination primitives of the GoEats
control plane: an advisory lease lock, a fencing counter, and the leader
lock for scheduled singleton jobs.

# Lease locks are not mutual exclusion

A lease can be held by two writers at once — a stop-the-world pause or
clock skew lets a lease expire while its holder still believes it owns
it. The Locker therefore only reduces contention. Correctness of guarded
writes comes from fencing: a writer takes a token from FencingCounter
before writing, and the store's conditional update rejects any write
whose token is not strictly greater than the last applied one
(storage.DeliveryStore.ApplyFenced). A rejected write surfaces as a
StaleLock error to the caller.

# Leader lock

Scheduler.Acquire wraps the periodic body of the outbox relay, the
admission-queue dequeuer, the cache warmers and the retention jobs:

	release, ok, err := sched.Acquire(ctx, "outbox-relay", lockAtMostFor, lockAtLeastFor)
	if err != nil || !ok {
		return // another instance runs this tick
	}
	defer release()

lockAtMostFor bounds orphaned leases after a crash; lockAtLeastFor keeps
a very short job's lease held so the other instances do not storm the
lock within the same interval. Singleton execution here is a throughput
concern, not a correctness one: a duplicate relay run produces duplicate
deliveries, which consumers absorb through the idempotency ledger.
*/
package locking
