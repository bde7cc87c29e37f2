package types

import (
	"time"
)

// Event type tags. The outbox relay resolves these to broker bindings;
// the tag travels with the message so consumers can route without
// inspecting the payload.
const (
	EventOrderCreated      = "OrderCreated"
	EventOrderCancelled    = "OrderCancelled"
	EventPaymentCompleted  = "PaymentCompleted"
	EventPaymentFailed     = "PaymentFailed"
	EventDeliveryStatus    = "DeliveryStatus"
	EventProcessPayment    = "ProcessPayment"
	EventCompensatePayment = "CompensatePayment"
	EventCreateDelivery    = "CreateDelivery"
	EventSagaReply         = "SagaReply"
)

// SagaStepName identifies which saga step a reply belongs to.
type SagaStepName string

const (
	StepNamePayment           SagaStepName = "PAYMENT"
	StepNameDelivery          SagaStepName = "DELIVERY"
	StepNamePaymentCompensate SagaStepName = "PAYMENT_COMPENSATE"
)

// PaymentCommandType selects the payment operation
type PaymentCommandType string

const (
	PaymentCommandProcess    PaymentCommandType = "PROCESS"
	PaymentCommandCompensate PaymentCommandType = "COMPENSATE"
)

// PaymentCommand instructs the payment service to charge or refund.
type PaymentCommand struct {
	EventID string             `json:"eventId"`
	SagaID  string             `json:"sagaId"`
	OrderID string             `json:"orderId"`
	Type    PaymentCommandType `json:"type"`
	Amount  int64              `json:"amount"`
	Method  string             `json:"method"`
	SentAt  time.Time          `json:"sentAt"`
}

// DeliveryCommand instructs the delivery service to create a delivery.
type DeliveryCommand struct {
	EventID string    `json:"eventId"`
	SagaID  string    `json:"sagaId"`
	OrderID string    `json:"orderId"`
	Address string    `json:"address"`
	SentAt  time.Time `json:"sentAt"`
}

// SagaReply is the single reply envelope all step handlers send back to
// the orchestrator. StepName routes it to the matching handler.
type SagaReply struct {
	EventID  string       `json:"eventId"`
	SagaID   string       `json:"sagaId"`
	OrderID  string       `json:"orderId"`
	StepName SagaStepName `json:"stepName"`
	Success  bool         `json:"success"`
	Reason   string       `json:"reason,omitempty"`
	SentAt   time.Time    `json:"sentAt"`
}

// OrderEvent is published on order lifecycle transitions for
// choreography-compatible listeners and the realtime notifier path.
type OrderEvent struct {
	EventID string      `json:"eventId"`
	OrderID string      `json:"orderId"`
	UserID  int64       `json:"userId"`
	StoreID int64       `json:"storeId"`
	Amount  int64       `json:"amount"`
	Status  OrderStatus `json:"status"`
	SentAt  time.Time   `json:"sentAt"`
}

// DeliveryStatusEvent is published by the delivery service on each
// delivery transition.
type DeliveryStatusEvent struct {
	EventID string         `json:"eventId"`
	OrderID string         `json:"orderId"`
	Status  DeliveryStatus `json:"status"`
	RiderID string         `json:"riderId,omitempty"`
	SentAt  time.Time      `json:"sentAt"`
}
