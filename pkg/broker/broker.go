package broker

import (
	"context"

	"github.com/ressKim-io/goeats/pkg/types"
)

// Logical binding names. The broker choice is abstracted behind these:
// the same core runs over a different broker by swapping the Publisher
// and Consumer implementations, configuration only.
const (
	BindingOrderEvents         = "orderEvents-out-0"
	BindingPaymentEvents       = "paymentEvents-out-0"
	BindingPaymentFailedEvents = "paymentFailedEvents-out-0"
	BindingDeliveryEvents      = "deliveryEvents-out-0"
	BindingPaymentCommands     = "paymentCommands-out-0"
	BindingDeliveryCommands    = "deliveryCommands-out-0"
	BindingSagaReplies         = "sagaReplies-out-0"

	// BindingUnknownEvents receives records whose event type has no
	// binding, for monitoring rather than silent loss.
	BindingUnknownEvents = "unknownEvents"
)

// bindings is the fixed event-type → binding table the relay resolves
// against.
var bindings = map[string]string{
	types.EventOrderCreated:      BindingOrderEvents,
	types.EventOrderCancelled:    BindingOrderEvents,
	types.EventPaymentCompleted:  BindingPaymentEvents,
	types.EventPaymentFailed:     BindingPaymentFailedEvents,
	types.EventDeliveryStatus:    BindingDeliveryEvents,
	types.EventProcessPayment:    BindingPaymentCommands,
	types.EventCompensatePayment: BindingPaymentCommands,
	types.EventCreateDelivery:    BindingDeliveryCommands,
	types.EventSagaReply:         BindingSagaReplies,
}

// BindingFor resolves an event type to its binding. Unknown types route
// to BindingUnknownEvents.
func BindingFor(eventType string) string {
	if b, ok := bindings[eventType]; ok {
		return b
	}
	return BindingUnknownEvents
}

// Header is an opaque message header.
type Header struct {
	Key   string
	Value string
}

// Message is one inbound broker message handed to a Handler.
type Message struct {
	Binding string
	Key     string
	Value   []byte
	Headers []Header
}

// HeaderValue returns the first header with the given key, or "".
func (m *Message) HeaderValue(key string) string {
	for _, h := range m.Headers {
		if h.Key == key {
			return h.Value
		}
	}
	return ""
}

// Publisher publishes a message to a logical binding. The key is the
// aggregate identifier; implementations must use it as the partitioning
// key so per-aggregate order is preserved downstream.
type Publisher interface {
	Publish(ctx context.Context, binding, key string, value []byte, headers ...Header) error
	Close() error
}

// Handler processes one inbound message. Returning an error triggers
// redelivery; after the configured attempt budget the message moves to
// the binding's dead-letter topic.
type Handler func(ctx context.Context, msg *Message) error
