package queue

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSortedSet implements Commands with an in-memory sorted set and
// counter, mirroring ZSET semantics (score order, lexical tie-break).
type fakeSortedSet struct {
	mu       sync.Mutex
	entries  map[string]float64
	inflight int64
}

func newFakeSortedSet() *fakeSortedSet {
	return &fakeSortedSet{entries: make(map[string]float64)}
}

func (f *fakeSortedSet) sorted() []string {
	members := make([]string, 0, len(f.entries))
	for m := range f.entries {
		members = append(members, m)
	}
	sort.Slice(members, func(i, j int) bool {
		si, sj := f.entries[members[i]], f.entries[members[j]]
		if si != sj {
			return si < sj
		}
		return members[i] < members[j]
	})
	return members
}

func (f *fakeSortedSet) ZAdd(ctx context.Context, key string, members ...redis.Z) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	added := int64(0)
	for _, m := range members {
		member := m.Member.(string)
		if _, ok := f.entries[member]; !ok {
			added++
		}
		f.entries[member] = m.Score
	}
	return redis.NewIntResult(added, nil)
}

func (f *fakeSortedSet) ZRank(ctx context.Context, key, member string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, m := range f.sorted() {
		if m == member {
			return redis.NewIntResult(int64(i), nil)
		}
	}
	return redis.NewIntResult(0, redis.Nil)
}

func (f *fakeSortedSet) ZCard(ctx context.Context, key string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	return redis.NewIntResult(int64(len(f.entries)), nil)
}

func (f *fakeSortedSet) ZPopMin(ctx context.Context, key string, count ...int64) *redis.ZSliceCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	members := f.sorted()
	if len(members) == 0 {
		return redis.NewZSliceCmdResult([]redis.Z{}, nil)
	}
	m := members[0]
	z := redis.Z{Score: f.entries[m], Member: m}
	delete(f.entries, m)
	return redis.NewZSliceCmdResult([]redis.Z{z}, nil)
}

func (f *fakeSortedSet) Incr(ctx context.Context, key string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inflight++
	return redis.NewIntResult(f.inflight, nil)
}

func (f *fakeSortedSet) Decr(ctx context.Context, key string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inflight--
	return redis.NewIntResult(f.inflight, nil)
}

func (f *fakeSortedSet) Get(ctx context.Context, key string) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	return redis.NewStringResult(fmt.Sprint(f.inflight), nil)
}

// TestFIFOBySubmissionTime: pops come back in submission order
// regardless of enqueue order.
func TestFIFOBySubmissionTime(t *testing.T) {
	rdb := newFakeSortedSet()
	q := New(rdb, 50, 500*time.Millisecond)
	ctx := context.Background()

	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, q.Enqueue(ctx, "order-c", base.Add(2*time.Second)))
	require.NoError(t, q.Enqueue(ctx, "order-a", base))
	require.NoError(t, q.Enqueue(ctx, "order-b", base.Add(time.Second)))

	var popped []string
	for {
		id, submittedAt, err := q.PopMin(ctx)
		require.NoError(t, err)
		if id == "" {
			break
		}
		assert.False(t, submittedAt.IsZero())
		popped = append(popped, id)
	}
	assert.Equal(t, []string{"order-a", "order-b", "order-c"}, popped)
}

// TestActivation: the queue activates at the in-flight threshold and
// stays active while entries remain, so late arrivals queue behind
// earlier ones.
func TestActivation(t *testing.T) {
	rdb := newFakeSortedSet()
	q := New(rdb, 3, 500*time.Millisecond)
	ctx := context.Background()

	active, err := q.Active(ctx)
	require.NoError(t, err)
	assert.False(t, active)

	for i := 0; i < 3; i++ {
		require.NoError(t, q.IncInflight(ctx))
	}
	active, err = q.Active(ctx)
	require.NoError(t, err)
	assert.True(t, active, "threshold reached")

	// Load drains but one order still waits: stay active.
	require.NoError(t, q.Enqueue(ctx, "order-1", time.Now()))
	for i := 0; i < 3; i++ {
		require.NoError(t, q.DecInflight(ctx))
	}
	active, err = q.Active(ctx)
	require.NoError(t, err)
	assert.True(t, active, "non-empty queue keeps the gate closed")

	_, _, err = q.PopMin(ctx)
	require.NoError(t, err)
	active, err = q.Active(ctx)
	require.NoError(t, err)
	assert.False(t, active)
}

// TestStatusRankAndEstimate: rank reflects position, wait scales with
// rank and the dequeue interval, and rank decreases after a pop.
func TestStatusRankAndEstimate(t *testing.T) {
	rdb := newFakeSortedSet()
	interval := 500 * time.Millisecond
	q := New(rdb, 50, interval)
	ctx := context.Background()

	base := time.Now()
	for i := 0; i < 3; i++ {
		require.NoError(t, q.Enqueue(ctx, fmt.Sprintf("order-%d", i), base.Add(time.Duration(i)*time.Second)))
	}

	st, err := q.Status(ctx, "order-2")
	require.NoError(t, err)
	assert.Equal(t, int64(2), st.Rank)
	assert.Equal(t, int64(3), st.Size)
	assert.Equal(t, 2*interval, st.EstimatedWait)

	_, _, err = q.PopMin(ctx)
	require.NoError(t, err)

	st, err = q.Status(ctx, "order-2")
	require.NoError(t, err)
	assert.Equal(t, int64(1), st.Rank, "rank decreases as the dequeuer drains")
}

func TestStatusNotQueued(t *testing.T) {
	q := New(newFakeSortedSet(), 50, 500*time.Millisecond)

	_, err := q.Status(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotQueued)
}
