package saga

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ressKim-io/goeats/pkg/broker"
	"github.com/ressKim-io/goeats/pkg/types"
)

// ReplyHandler routes the single saga-reply binding to the right
// orchestrator entry point based on the step name the reply carries.
// Wire it as the handler of a broker consumer on BindingSagaReplies.
func ReplyHandler(o *Orchestrator) broker.Handler {
	return func(ctx context.Context, msg *broker.Message) error {
		var reply types.SagaReply
		if err := json.Unmarshal(msg.Value, &reply); err != nil {
			return fmt.Errorf("malformed saga reply: %w", err)
		}
		if reply.EventID == "" || reply.SagaID == "" {
			return fmt.Errorf("saga reply missing eventId or sagaId")
		}

		switch reply.StepName {
		case types.StepNamePayment:
			return o.OnPaymentResult(ctx, &reply)
		case types.StepNameDelivery:
			return o.OnDeliveryResult(ctx, &reply)
		case types.StepNamePaymentCompensate:
			return o.OnCompensationResult(ctx, &reply)
		default:
			return fmt.Errorf("unknown saga step %q", reply.StepName)
		}
	}
}
