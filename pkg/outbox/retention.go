package outbox

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/robfig/cron/v3"

	"github.com/ressKim-io/goeats/pkg/idempotency"
	"github.com/ressKim-io/goeats/pkg/locking"
	"github.com/ressKim-io/goeats/pkg/log"
	"github.com/ressKim-io/goeats/pkg/storage"
)

// RetentionConfig configures the cleanup schedules.
type RetentionConfig struct {
	// OutboxRetention is how long published outbox rows are kept.
	OutboxRetention time.Duration
	// LedgerRetention is how long processed-event rows are kept. Must
	// exceed the broker's maximum redelivery window.
	LedgerRetention time.Duration
}

// Retention prunes published outbox rows and aged idempotency-ledger
// rows on an hourly schedule, under the leader lock so one instance
// does the work. The relay itself never deletes.
type Retention struct {
	db     *sqlx.DB
	outbox *storage.OutboxStore
	ledger *idempotency.Ledger
	sched  *locking.Scheduler
	cfg    RetentionConfig
	cron   *cron.Cron
}

// NewRetention creates the retention job.
func NewRetention(db *sqlx.DB, outbox *storage.OutboxStore, ledger *idempotency.Ledger, sched *locking.Scheduler, cfg RetentionConfig) *Retention {
	if cfg.OutboxRetention <= 0 {
		cfg.OutboxRetention = 7 * 24 * time.Hour
	}
	if cfg.LedgerRetention <= 0 {
		cfg.LedgerRetention = 14 * 24 * time.Hour
	}

	return &Retention{
		db:     db,
		outbox: outbox,
		ledger: ledger,
		sched:  sched,
		cfg:    cfg,
		cron:   cron.New(),
	}
}

// Start schedules the hourly cleanup.
func (r *Retention) Start() {
	_, _ = r.cron.AddFunc("@hourly", r.runOnce)
	r.cron.Start()
}

// Stop stops the schedule; a running cleanup finishes.
func (r *Retention) Stop() {
	<-r.cron.Stop().Done()
}

func (r *Retention) runOnce() {
	logger := log.WithComponent("retention")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	release, ok, err := r.sched.Acquire(ctx, "retention", 5*time.Minute, 10*time.Second)
	if err != nil {
		logger.Error().Err(err).Msg("Leader lock failed")
		return
	}
	if !ok {
		return
	}
	defer release()

	if n, err := r.outbox.DeletePublishedBefore(ctx, r.db, time.Now().Add(-r.cfg.OutboxRetention)); err != nil {
		logger.Error().Err(err).Msg("Outbox cleanup failed")
	} else if n > 0 {
		logger.Info().Int64("deleted", n).Msg("Pruned published outbox rows")
	}

	if n, err := r.ledger.DeleteOlderThan(ctx, r.db, time.Now().Add(-r.cfg.LedgerRetention)); err != nil {
		logger.Error().Err(err).Msg("Ledger cleanup failed")
	} else if n > 0 {
		logger.Info().Int64("deleted", n).Msg("Pruned processed-event rows")
	}
}
