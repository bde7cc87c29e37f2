package notify

import (
	"sync"
	"time"

	"github.com/ressKim-io/goeats/pkg/types"
)

// StatusEvent is one order-status transition pushed to listeners.
type StatusEvent struct {
	OrderID string            `json:"orderId"`
	Status  types.OrderStatus `json:"status"`
	At      time.Time         `json:"at"`
}

// Subscriber is a channel that receives status events
type Subscriber chan *StatusEvent

// Notifier broadcasts order-status transitions to connected listeners.
// Fire-and-forget: no delivery guarantee, no backlog; a slow subscriber
// skips events rather than blocking the orchestrator. The durable path
// is the outbox, never this.
type Notifier struct {
	subscribers map[Subscriber]bool
	mu          sync.RWMutex
	eventCh     chan *StatusEvent
	stopCh      chan struct{}
}

// NewNotifier creates a new notifier
func NewNotifier() *Notifier {
	return &Notifier{
		subscribers: make(map[Subscriber]bool),
		eventCh:     make(chan *StatusEvent, 100), // Buffer up to 100 events
		stopCh:      make(chan struct{}),
	}
}

// Start begins the distribution loop
func (n *Notifier) Start() {
	go n.run()
}

// Stop stops the notifier
func (n *Notifier) Stop() {
	close(n.stopCh)
}

// Subscribe creates a new subscription and returns a channel
func (n *Notifier) Subscribe() Subscriber {
	n.mu.Lock()
	defer n.mu.Unlock()

	sub := make(Subscriber, 50) // Buffer per subscriber
	n.subscribers[sub] = true
	return sub
}

// Unsubscribe removes a subscription
func (n *Notifier) Unsubscribe(sub Subscriber) {
	n.mu.Lock()
	defer n.mu.Unlock()

	delete(n.subscribers, sub)
	close(sub)
}

// Publish emits one transition to all subscribers. Called by the
// orchestrator's handlers after their transaction commits.
func (n *Notifier) Publish(orderID string, status types.OrderStatus) {
	event := &StatusEvent{OrderID: orderID, Status: status, At: time.Now()}

	select {
	case n.eventCh <- event:
	case <-n.stopCh:
	default:
		// Event channel full; realtime updates are best effort.
	}
}

func (n *Notifier) run() {
	for {
		select {
		case event := <-n.eventCh:
			n.broadcast(event)
		case <-n.stopCh:
			return
		}
	}
}

func (n *Notifier) broadcast(event *StatusEvent) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	for sub := range n.subscribers {
		select {
		case sub <- event:
		default:
			// Subscriber buffer full, skip
		}
	}
}

// SubscriberCount returns the number of active subscribers
func (n *Notifier) SubscriberCount() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.subscribers)
}
