package queue

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/ressKim-io/goeats/pkg/locking"
	"github.com/ressKim-io/goeats/pkg/log"
	"github.com/ressKim-io/goeats/pkg/metrics"
)

// ProcessFunc releases one queued order to proceed. The saga was
// already started when the order was accepted, so this is the barrier
// that admits follow-on work.
type ProcessFunc func(ctx context.Context, orderID string) error

// Dequeuer pops one order per interval under the leader lock and hands
// it to the processor. A failed order is re-enqueued at the tail rather
// than lost.
type Dequeuer struct {
	queue   *Queue
	sched   *locking.Scheduler
	process ProcessFunc
	logger  zerolog.Logger
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewDequeuer creates a dequeuer.
func NewDequeuer(q *Queue, sched *locking.Scheduler, process ProcessFunc) *Dequeuer {
	return &Dequeuer{
		queue:   q,
		sched:   sched,
		process: process,
		logger:  log.WithComponent("queue-dequeuer"),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

// Start begins the dequeue loop
func (d *Dequeuer) Start() {
	go d.run()
}

// Stop stops the dequeuer and waits for the loop to exit.
func (d *Dequeuer) Stop() {
	close(d.stopCh)
	<-d.doneCh
}

func (d *Dequeuer) run() {
	defer close(d.doneCh)

	ticker := time.NewTicker(d.queue.interval)
	defer ticker.Stop()

	d.logger.Info().Dur("interval", d.queue.interval).Msg("Dequeuer started")

	for {
		select {
		case <-ticker.C:
			if err := d.tick(); err != nil {
				d.logger.Error().Err(err).Msg("Dequeue tick failed")
			}
		case <-d.stopCh:
			d.logger.Info().Msg("Dequeuer stopped")
			return
		}
	}
}

func (d *Dequeuer) tick() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	release, ok, err := d.sched.Acquire(ctx, "queue-dequeuer", 10*time.Second, 100*time.Millisecond)
	if err != nil || !ok {
		return err
	}
	defer release()

	orderID, submittedAt, err := d.queue.PopMin(ctx)
	if err != nil {
		return err
	}
	if orderID == "" {
		metrics.QueueDepth.Set(0)
		return nil
	}

	metrics.QueueWaitDuration.Observe(time.Since(submittedAt).Seconds())
	if size, err := d.queue.Size(ctx); err == nil {
		metrics.QueueDepth.Set(float64(size))
	}

	if err := d.process(ctx, orderID); err != nil {
		d.logger.Warn().Err(err).Str("order_id", orderID).Msg("Processing failed, re-enqueueing")
		// Tail of the queue: a stuck order must not starve the rest.
		if reErr := d.queue.Enqueue(ctx, orderID, time.Now()); reErr != nil {
			d.logger.Error().Err(reErr).Str("order_id", orderID).Msg("Re-enqueue failed, order dropped from queue")
		}
		return nil
	}

	d.logger.Debug().Str("order_id", orderID).Msg("Order released from queue")
	return nil
}
