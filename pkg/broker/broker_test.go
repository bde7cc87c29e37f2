package broker

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ressKim-io/goeats/pkg/types"
)

func TestBindingFor(t *testing.T) {
	tests := []struct {
		eventType string
		binding   string
	}{
		{types.EventOrderCreated, BindingOrderEvents},
		{types.EventOrderCancelled, BindingOrderEvents},
		{types.EventPaymentCompleted, BindingPaymentEvents},
		{types.EventPaymentFailed, BindingPaymentFailedEvents},
		{types.EventDeliveryStatus, BindingDeliveryEvents},
		{types.EventProcessPayment, BindingPaymentCommands},
		{types.EventCompensatePayment, BindingPaymentCommands},
		{types.EventCreateDelivery, BindingDeliveryCommands},
		{types.EventSagaReply, BindingSagaReplies},
	}

	for _, tt := range tests {
		t.Run(tt.eventType, func(t *testing.T) {
			assert.Equal(t, tt.binding, BindingFor(tt.eventType))
		})
	}
}

// Unknown types must surface on a monitored binding, never vanish.
func TestBindingForUnknownType(t *testing.T) {
	assert.Equal(t, BindingUnknownEvents, BindingFor("SomethingNew"))
	assert.Equal(t, BindingUnknownEvents, BindingFor(""))
}

func TestMessageHeaderValue(t *testing.T) {
	msg := &Message{Headers: []Header{
		{Key: "x-event-type", Value: "ProcessPayment"},
		{Key: "x-aggregate-type", Value: "Order"},
	}}

	assert.Equal(t, "ProcessPayment", msg.HeaderValue("x-event-type"))
	assert.Equal(t, "", msg.HeaderValue("missing"))
}
