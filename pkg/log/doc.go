/*
Package log provides structured logging for GoEats using zerolog.

The log package wraps the zerolog library to provide JSON-structured logging
with component-specific loggers, configurable log levels, and helper
functions for common logging patterns. All logs include timestamps and
support filtering by severity level for production debugging.

# Usage

Initializing the logger:

	import "github.com/ressKim-io/goeats/pkg/log"

	// JSON output (production)
	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     os.Stdout,
	})

Component loggers:

	relayLog := log.WithComponent("outbox-relay")
	relayLog.Info().Int("batch", 200).Msg("tick complete")

	sagaLog := log.WithComponent("saga").
		With().Str("saga_id", sagaID).Str("order_id", orderID).Logger()
	sagaLog.Error().Err(err).Msg("transition rejected")

Structured fields over string concatenation; always .Err(err) for errors.

# Integration Points

  - pkg/saga: logs step transitions and compensation decisions
  - pkg/outbox: logs relay batches and publish failures
  - pkg/queue: the dequeuer logs releases and re-enqueue failures
  - pkg/order, pkg/payment, pkg/delivery: request/handler logging
*/
package log
