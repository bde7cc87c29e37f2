package saga

import (
	"time"

	"github.com/ressKim-io/goeats/pkg/apperr"
	"github.com/ressKim-io/goeats/pkg/types"
)

// TypeOrderProcessing tags the one saga type this orchestrator drives.
const TypeOrderProcessing = "ORDER_PROCESSING"

// transitions is the step machine. A step may only move to one of its
// listed targets; everything else fails loudly. COMPLETED and FAILED
// are terminal.
var transitions = map[types.SagaStep][]types.SagaStep{
	types.StepPaymentPending:      {types.StepPaymentCompleted, types.StepFailed},
	types.StepPaymentCompleted:    {types.StepDeliveryPending},
	types.StepDeliveryPending:     {types.StepCompleted, types.StepCompensatingPayment},
	types.StepCompensatingPayment: {types.StepFailed},
	types.StepCompleted:           {},
	types.StepFailed:              {},
}

// CanTransition reports whether from → to is a legal step transition.
func CanTransition(from, to types.SagaStep) bool {
	for _, t := range transitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// Transition moves the saga to the target step, deriving the saga
// status from the step, or returns InvalidStateTransition. It mutates
// only the in-memory state; the caller persists inside its transaction.
func Transition(s *types.SagaState, to types.SagaStep, now time.Time) error {
	if !CanTransition(s.Step, to) {
		return apperr.Newf(apperr.KindInvalidStateTransition,
			"saga %s: illegal step transition %s -> %s", s.ID, s.Step, to)
	}

	s.Step = to
	s.UpdatedAt = now

	switch to {
	case types.StepCompleted:
		s.Status = types.SagaStatusCompleted
	case types.StepFailed:
		s.Status = types.SagaStatusFailed
	case types.StepCompensatingPayment:
		s.Status = types.SagaStatusCompensating
	default:
		s.Status = types.SagaStatusStarted
	}
	return nil
}

// Terminal reports whether the saga can move no further.
func Terminal(s *types.SagaState) bool {
	return len(transitions[s.Step]) == 0
}

// NewState creates the initial saga state for an order: STARTED at
// PAYMENT_PENDING.
func NewState(sagaID, orderID string, now time.Time) *types.SagaState {
	return &types.SagaState{
		ID:        sagaID,
		Type:      TypeOrderProcessing,
		OrderID:   orderID,
		Status:    types.SagaStatusStarted,
		Step:      types.StepPaymentPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}
