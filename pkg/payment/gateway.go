package payment

import (
	"context"
	"errors"
	"sync"
)

// Gateway is the external payment processor. Charge and Refund take an
// idempotency key (the command's event id) so a redelivered command
// never charges twice even if it reaches the processor twice.
type Gateway interface {
	Charge(ctx context.Context, idempotencyKey, orderID string, amount int64, method string) error
	Refund(ctx context.Context, idempotencyKey, orderID string, amount int64) error
}

// ErrDeclined is returned by a gateway for a business decline, as
// opposed to a transport failure. Declines terminate the saga; they are
// never retried.
var ErrDeclined = errors.New("payment declined")

// StubGateway is the deterministic in-process gateway used in local
// runs and tests. It remembers idempotency keys and declines when
// ShouldDecline says so.
type StubGateway struct {
	// ShouldDecline lets tests pick outcomes per order. Nil approves
	// everything.
	ShouldDecline func(orderID string, amount int64) bool

	mu   sync.Mutex
	seen map[string]error
}

// NewStubGateway creates a StubGateway.
func NewStubGateway() *StubGateway {
	return &StubGateway{seen: make(map[string]error)}
}

// Charge approves or declines deterministically, idempotent per key.
func (g *StubGateway) Charge(ctx context.Context, idempotencyKey, orderID string, amount int64, method string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if result, ok := g.seen[idempotencyKey]; ok {
		return result
	}

	var result error
	if g.ShouldDecline != nil && g.ShouldDecline(orderID, amount) {
		result = ErrDeclined
	}
	g.seen[idempotencyKey] = result
	return result
}

// Refund always succeeds, idempotent per key.
func (g *StubGateway) Refund(ctx context.Context, idempotencyKey, orderID string, amount int64) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if result, ok := g.seen[idempotencyKey]; ok {
		return result
	}
	g.seen[idempotencyKey] = nil
	return nil
}
