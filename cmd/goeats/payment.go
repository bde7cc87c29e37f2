package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/ressKim-io/goeats/pkg/broker"
	"github.com/ressKim-io/goeats/pkg/idempotency"
	"github.com/ressKim-io/goeats/pkg/locking"
	"github.com/ressKim-io/goeats/pkg/metrics"
	"github.com/ressKim-io/goeats/pkg/outbox"
	"github.com/ressKim-io/goeats/pkg/payment"
	"github.com/ressKim-io/goeats/pkg/resilience"
	"github.com/ressKim-io/goeats/pkg/storage"
)

var paymentCmd = &cobra.Command{
	Use:   "payment",
	Short: "Run the payment service",
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

		svc := payment.NewService(db, storage.NewPaymentStore(), outboxStore, ledger,
			payment.NewStubGateway(), resilience.Config{
				RetryAttempts:    cfg.Resilience.RetryAttempts,
				RetryBaseDelay:   cfg.Resilience.RetryBaseDelay,
				BreakerWindow:    cfg.Resilience.BreakerWindow,
				BreakerThreshold: cfg.Resilience.BreakerThreshold,
				BreakerOpenFor:   cfg.Resilience.BreakerOpenFor,
				BulkheadLimit:    int64(cfg.Resilience.BulkheadLimit),
				BulkheadWait:     cfg.Resilience.BulkheadWait,
				CallTimeout:      cfg.Resilience.CallTimeout,
			})

		commands := broker.NewKafkaConsumer(broker.ConsumerConfig{
			Brokers:     cfg.Kafka.Brokers,
			GroupID:     "payment-service",
			Binding:     broker.BindingPaymentCommands,
			TopicPrefix: cfg.Kafka.TopicPrefix,
			MaxAttempts: cfg.Kafka.ConsumerRetry,
		}, svc.Handler())
		commands.Start()
		defer commands.Stop()

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

		stopMetrics := runMetricsServer(cfg.HTTP.MetricsAddr)

		waitForSignal()

		ctx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		stopMetrics(ctx)
		return nil
	},
}
