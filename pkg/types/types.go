package types

import (
	"time"
)

// OrderStatus represents the lifecycle state of an order
type OrderStatus string

const (
	OrderStatusCreated        OrderStatus = "CREATED"
	OrderStatusPaymentPending OrderStatus = "PAYMENT_PENDING"
	OrderStatusPaid           OrderStatus = "PAID"
	OrderStatusPreparing      OrderStatus = "PREPARING"
	OrderStatusDelivering     OrderStatus = "DELIVERING"
	OrderStatusDelivered      OrderStatus = "DELIVERED"
	OrderStatusCancelled      OrderStatus = "CANCELLED"
)

// Cancellable reports whether an order in this status may still be
// cancelled by the user. Orders already handed to a rider are not.
func (s OrderStatus) Cancellable() bool {
	switch s {
	case OrderStatusCreated, OrderStatusPaymentPending, OrderStatusPaid:
		return true
	}
	return false
}

// Order is the aggregate root of the ordering domain. References to user
// and store are identifiers only; there are no cross-service foreign keys.
type Order struct {
	ID            string      `db:"id"`
	UserID        int64       `db:"user_id"`
	StoreID       int64       `db:"store_id"`
	Items         []OrderItem `db:"-"`
	TotalAmount   int64       `db:"total_amount"`
	Status        OrderStatus `db:"status"`
	Address       string      `db:"address"`
	PaymentMethod string      `db:"payment_method"`
	CreatedAt     time.Time   `db:"created_at"`
	Version       int64       `db:"version"`
}

// OrderItem is an order line with the menu price captured at order time,
// so a later menu price change never alters a placed order.
type OrderItem struct {
	OrderID       string `db:"order_id"`
	MenuID        int64  `db:"menu_id"`
	Quantity      int    `db:"quantity"`
	PriceSnapshot int64  `db:"price_snapshot"`
}

// SagaStatus represents the overall state of a saga instance
type SagaStatus string

const (
	SagaStatusStarted      SagaStatus = "STARTED"
	SagaStatusCompensating SagaStatus = "COMPENSATING"
	SagaStatusCompleted    SagaStatus = "COMPLETED"
	SagaStatusFailed       SagaStatus = "FAILED"
)

// SagaStep is the current position of a saga in its step machine.
// Transitions between steps are validated by pkg/saga; only the
// orchestrator writes this field.
type SagaStep string

const (
	StepPaymentPending      SagaStep = "PAYMENT_PENDING"
	StepPaymentCompleted    SagaStep = "PAYMENT_COMPLETED"
	StepDeliveryPending     SagaStep = "DELIVERY_PENDING"
	StepCompensatingPayment SagaStep = "COMPENSATING_PAYMENT"
	StepCompleted           SagaStep = "COMPLETED"
	StepFailed              SagaStep = "FAILED"
)

// SagaState is the persisted state of one order-processing saga.
type SagaState struct {
	ID            string     `db:"id"`
	Type          string     `db:"saga_type"`
	OrderID       string     `db:"order_id"`
	Status        SagaStatus `db:"status"`
	Step          SagaStep   `db:"step"`
	FailureReason *string    `db:"failure_reason"`
	CreatedAt     time.Time  `db:"created_at"`
	UpdatedAt     time.Time  `db:"updated_at"`
}

// PaymentStatus represents the state of a payment
type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "PENDING"
	PaymentStatusCompleted PaymentStatus = "COMPLETED"
	PaymentStatusFailed    PaymentStatus = "FAILED"
	PaymentStatusRefunded  PaymentStatus = "REFUNDED"
)

// Payment is owned by the payment service; at most one row per order.
type Payment struct {
	ID             string        `db:"id"`
	OrderID        string        `db:"order_id"`
	Amount         int64         `db:"amount"`
	Method         string        `db:"method"`
	Status         PaymentStatus `db:"status"`
	IdempotencyKey *string       `db:"idempotency_key"`
	CreatedAt      time.Time     `db:"created_at"`
	Version        int64         `db:"version"`
}

// DeliveryStatus represents the state of a delivery
type DeliveryStatus string

const (
	DeliveryStatusWaiting       DeliveryStatus = "WAITING"
	DeliveryStatusRiderAssigned DeliveryStatus = "RIDER_ASSIGNED"
	DeliveryStatusPickedUp      DeliveryStatus = "PICKED_UP"
	DeliveryStatusDelivering    DeliveryStatus = "DELIVERING"
	DeliveryStatusDelivered     DeliveryStatus = "DELIVERED"
	DeliveryStatusCancelled     DeliveryStatus = "CANCELLED"
)

// Delivery is owned by the delivery service. LastFencingToken records the
// highest fencing token ever applied to the row; the conditional writer in
// pkg/storage rejects writes carrying a token that is not greater.
type Delivery struct {
	ID               string         `db:"id"`
	OrderID          string         `db:"order_id"`
	Status           DeliveryStatus `db:"status"`
	RiderID          *string        `db:"rider_id"`
	EstimatedArrival *time.Time     `db:"estimated_arrival"`
	LastFencingToken *int64         `db:"last_fencing_token"`
	CreatedAt        time.Time      `db:"created_at"`
	Version          int64          `db:"version"`
}

// Store is the read model the order flow validates against.
type Store struct {
	ID   int64  `db:"id"`
	Name string `db:"name"`
	Open bool   `db:"open"`
}

// Menu belongs to a store; Price is the current price, snapshotted into
// OrderItem at order time.
type Menu struct {
	ID      int64  `db:"id"`
	StoreID int64  `db:"store_id"`
	Name    string `db:"name"`
	Price   int64  `db:"price"`
}

// OutboxRecord is one durable pending event, appended in the same
// transaction as the business write it describes. AggregateID doubles as
// the broker message key so per-aggregate order survives partitioning.
type OutboxRecord struct {
	ID            int64      `db:"id"`
	AggregateType string     `db:"aggregate_type"`
	AggregateID   string     `db:"aggregate_id"`
	EventType     string     `db:"event_type"`
	Payload       []byte     `db:"payload"`
	Published     bool       `db:"published"`
	CreatedAt     time.Time  `db:"created_at"`
	PublishedAt   *time.Time `db:"published_at"`
}

// ProcessedEvent marks an event identifier as applied. The row is inserted
// in the same transaction as the consumer's business effect and never
// mutated afterwards.
type ProcessedEvent struct {
	EventID     string    `db:"event_id"`
	ProcessedAt time.Time `db:"processed_at"`
}
