package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"

	"github.com/ressKim-io/goeats/pkg/broker"
	"github.com/ressKim-io/goeats/pkg/locking"
	"github.com/ressKim-io/goeats/pkg/log"
	"github.com/ressKim-io/goeats/pkg/metrics"
	"github.com/ressKim-io/goeats/pkg/storage"
)

const lockName = "outbox-relay"

// Config configures the relay.
type Config struct {
	Interval       time.Duration // tick interval, default 1s
	BatchSize      int           // records per tick, default 200
	LockAtMostFor  time.Duration // leader lease upper bound
	LockAtLeastFor time.Duration // leader lease lower bound
}

// Relay drains the outbox: every tick, under the leader lock, it reads
// unpublished records in creation order, publishes each keyed by its
// aggregate id, and marks it published. Delivery is at-least-once; a
// crash between publish and mark produces a duplicate the consumers'
// idempotency ledger absorbs.
type Relay struct {
	db        *sqlx.DB
	store     *storage.OutboxStore
	publisher broker.Publisher
	sched     *locking.Scheduler
	cfg       Config
	logger    zerolog.Logger
	stopCh    chan struct{}
	doneCh    chan struct{}
}

// NewRelay creates a relay.
func NewRelay(db *sqlx.DB, store *storage.OutboxStore, publisher broker.Publisher, sched *locking.Scheduler, cfg Config) *Relay {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 200
	}
	if cfg.LockAtMostFor <= 0 {
		cfg.LockAtMostFor = 30 * time.Second
	}

	return &Relay{
		db:        db,
		store:     store,
		publisher: publisher,
		sched:     sched,
		cfg:       cfg,
		logger:    log.WithComponent("outbox-relay"),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// Start begins the relay loop
func (r *Relay) Start() {
	go r.run()
}

// Stop stops the relay and waits for the loop to exit.
func (r *Relay) Stop() {
	close(r.stopCh)
	<-r.doneCh
}

func (r *Relay) run() {
	defer close(r.doneCh)

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	r.logger.Info().Dur("interval", r.cfg.Interval).Msg("Outbox relay started")

	for {
		select {
		case <-ticker.C:
			if err := r.tick(); err != nil {
				r.logger.Error().Err(err).Msg("Relay tick failed")
			}
		case <-r.stopCh:
			r.logger.Info().Msg("Outbox relay stopped")
			return
		}
	}
}

// tick runs one leader-locked drain pass.
func (r *Relay) tick() error {
	timer := metrics.NewTimer()
	defer func() {
		timer.ObserveDuration(metrics.RelayTickDuration)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.LockAtMostFor)
	defer cancel()

	release, ok, err := r.sched.Acquire(ctx, lockName, r.cfg.LockAtMostFor, r.cfg.LockAtLeastFor)
	if err != nil {
		return fmt.Errorf("leader lock: %w", err)
	}
	if !ok {
		// Another instance holds the relay this tick.
		return nil
	}
	defer release()

	return r.drain(ctx)
}

// drain publishes one batch. On any publish failure it stops at the
// failed record: a later success would permanently reorder earlier
// unpublished records of the same aggregate. The next tick retries from
// the failed record.
func (r *Relay) drain(ctx context.Context) error {
	records, err := r.store.FetchUnpublished(ctx, r.db, r.cfg.BatchSize)
	if err != nil {
		return err
	}
	metrics.OutboxPendingRecords.Set(float64(len(records)))
	if len(records) == 0 {
		return nil
	}

	published := 0
	for i := range records {
		rec := &records[i]
		binding := broker.BindingFor(rec.EventType)

		err := r.publisher.Publish(ctx, binding, rec.AggregateID, rec.Payload,
			broker.Header{Key: "x-event-type", Value: rec.EventType},
			broker.Header{Key: "x-aggregate-type", Value: rec.AggregateType},
		)
		if err != nil {
			metrics.OutboxPublishFailuresTotal.Inc()
			r.logger.Warn().
				Err(err).
				Int64("record_id", rec.ID).
				Str("event_type", rec.EventType).
				Str("aggregate_id", rec.AggregateID).
				Int("published_before_failure", published).
				Msg("Publish failed, stopping batch")
			return nil
		}

		if err := r.store.MarkPublished(ctx, r.db, rec.ID); err != nil {
			// The event is out but the flag is not set; the next tick
			// re-publishes and consumers dedupe. Stop here so order
			// holds.
			r.logger.Error().Err(err).Int64("record_id", rec.ID).Msg("Mark-published failed, stopping batch")
			return nil
		}

		metrics.OutboxPublishedTotal.Inc()
		published++
	}

	r.logger.Debug().Int("published", published).Msg("Relay batch complete")
	return nil
}
