package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/ressKim-io/goeats/pkg/broker"
	"github.com/ressKim-io/goeats/pkg/cache"
	"github.com/ressKim-io/goeats/pkg/idempotency"
	"github.com/ressKim-io/goeats/pkg/locking"
	"github.com/ressKim-io/goeats/pkg/metrics"
	"github.com/ressKim-io/goeats/pkg/notify"
	"github.com/ressKim-io/goeats/pkg/order"
	"github.com/ressKim-io/goeats/pkg/outbox"
	"github.com/ressKim-io/goeats/pkg/queue"
	"github.com/ressKim-io/goeats/pkg/ratelimit"
	"github.com/ressKim-io/goeats/pkg/resilience"
	"github.com/ressKim-io/goeats/pkg/saga"
	"github.com/ressKim-io/goeats/pkg/storage"
	"github.com/ressKim-io/goeats/pkg/store"
)

var orderCmd = &cobra.Command{
	Use:   "order",
	Short: "Run the order orchestration service",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		db, err := openPostgres(cfg.Postgres)
		if err != nil {
			return err
		}
		defer db.Close()

		rdb, err := openRedis(cfg.Redis)
		if err != nil {
			return err
		}
		defer rdb.Close()

		publisher := broker.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.TopicPrefix)
		defer publisher.Close()
		metrics.RegisterComponent("broker", true, "")

		sched := locking.NewScheduler(rdb)
		outboxStore := storage.NewOutboxStore()
		ledger := idempotency.NewLedger()

		resCfg := resilience.Config{
			RetryAttempts:    cfg.Resilience.RetryAttempts,
			RetryBaseDelay:   cfg.Resilience.RetryBaseDelay,
			BreakerWindow:    cfg.Resilience.BreakerWindow,
			BreakerThreshold: cfg.Resilience.BreakerThreshold,
			BreakerOpenFor:   cfg.Resilience.BreakerOpenFor,
			BulkheadLimit:    int64(cfg.Resilience.BulkheadLimit),
			BulkheadWait:     cfg.Resilience.BulkheadWait,
			CallTimeout:      cfg.Resilience.CallTimeout,
		}

		storeSvc := store.NewService(db, storage.NewCatalogStore(), cache.NewClient(rdb), resCfg)
		warmer := store.NewWarmer(storeSvc, sched)
		go warmer.Run(context.Background())

		q := queue.New(rdb, cfg.Queue.InflightThreshold, cfg.Queue.DequeueInterval)
		notifier := notify.NewNotifier()
		notifier.Start()
		defer notifier.Stop()

		orch := saga.NewOrchestrator(db, storage.NewSagaStore(), storage.NewOrderStore(), outboxStore, ledger, notifier, q)
		orderSvc := order.NewService(db, storage.NewOrderStore(), orch, storeSvc, q, rdb)

		relay := outbox.NewRelay(db, outboxStore, publisher, sched, outbox.Config{
			Interval:       cfg.Relay.Interval,
			BatchSize:      cfg.Relay.BatchSize,
			LockAtMostFor:  cfg.Relay.LockAtMostFor,
			LockAtLeastFor: cfg.Relay.LockAtLeastFor,
		})
		relay.Start()
		defer relay.Stop()

		retention := outbox.NewRetention(db, outboxStore, ledger, sched, outbox.RetentionConfig{
			OutboxRetention: cfg.Relay.Retention,
		})
		retention.Start()
		defer retention.Stop()

		dequeuer := queue.NewDequeuer(q, sched, orderSvc.ProcessQueuedOrder)
		dequeuer.Start()
		defer dequeuer.Stop()

		replies := broker.NewKafkaConsumer(broker.ConsumerConfig{
			Brokers:     cfg.Kafka.Brokers,
			GroupID:     "order-service",
			Binding:     broker.BindingSagaReplies,
			TopicPrefix: cfg.Kafka.TopicPrefix,
			MaxAttempts: cfg.Kafka.ConsumerRetry,
		}, saga.ReplyHandler(orch))
		replies.Start()
		defer replies.Stop()

		limiter := ratelimit.NewLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)
		stopCleanup := limiter.StartCleanup(0)
		defer stopCleanup()

		stopHTTP := runHTTPServer(cfg.HTTP.Addr, order.NewHandler(orderSvc, notifier, limiter))
		stopMetrics := runMetricsServer(cfg.HTTP.MetricsAddr)

		waitForSignal()

		ctx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		stopHTTP(ctx)
		stopMetrics(ctx)
		return nil
	},
}
