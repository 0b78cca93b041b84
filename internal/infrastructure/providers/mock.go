package providers

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	domainErrors "github.com/cassiomorais/invoicing/internal/domain/errors"
	"github.com/google/uuid"
)

// MockGateway is an in-memory gateway for local runs and tests. Checkouts stay
// "pending" until SetStatus is called.
type MockGateway struct {
	name        string
	failureRate float64 // 0.0 to 1.0
	latency     time.Duration
	timeoutRate float64 // 0.0 to 1.0

	mu        sync.Mutex
	checkouts map[string]*CheckoutStatus
}

type MockGatewayOption func(*MockGateway)

func WithFailureRate(rate float64) MockGatewayOption {
	return func(g *MockGateway) { g.failureRate = rate }
}

func WithLatency(d time.Duration) MockGatewayOption {
	return func(g *MockGateway) { g.latency = d }
}

func WithTimeoutRate(rate float64) MockGatewayOption {
	return func(g *MockGateway) { g.timeoutRate = rate }
}

func NewMockGateway(name string, opts ...MockGatewayOption) *MockGateway {
	g := &MockGateway{
		name:      name,
		latency:   50 * time.Millisecond,
		checkouts: make(map[string]*CheckoutStatus),
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

func (g *MockGateway) Name() string { return g.name }

func (g *MockGateway) CreateCheckout(ctx context.Context, req CheckoutRequest) (*CheckoutResult, error) {
	if err := g.simulate(ctx); err != nil {
		return nil, err
	}

	id := fmt.Sprintf("%s_chk_%s", g.name, uuid.New().String()[:8])
	g.mu.Lock()
	g.checkouts[id] = &CheckoutStatus{
		CheckoutID:    id,
		Status:        "pending",
		InvoiceID:     req.InvoiceID,
		Amount:        req.Amount.StringFixed(2),
		Currency:      req.Currency,
		PaymentMethod: ChargilyPaymentMethod(req.PaymentMethod),
		UpdatedAt:     time.Now().UTC(),
	}
	g.mu.Unlock()

	return &CheckoutResult{
		CheckoutID: id,
		PaymentURL: "https://pay.mock.local/checkout/" + id,
		Status:     "pending",
	}, nil
}

func (g *MockGateway) GetCheckout(ctx context.Context, checkoutID string) (*CheckoutStatus, error) {
	if err := g.simulate(ctx); err != nil {
		return nil, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	c, ok := g.checkouts[checkoutID]
	if !ok {
		return nil, &domainErrors.GatewayError{
			Kind:       domainErrors.GatewayRejectedRequest,
			Provider:   g.name,
			StatusCode: 404,
			Message:    "checkout not found",
		}
	}
	out := *c
	return &out, nil
}

func (g *MockGateway) ExpireCheckout(ctx context.Context, checkoutID string) error {
	if err := g.simulate(ctx); err != nil {
		return err
	}
	if !g.SetStatus(checkoutID, "expired") {
		return &domainErrors.GatewayError{
			Kind:       domainErrors.GatewayRejectedRequest,
			Provider:   g.name,
			StatusCode: 404,
			Message:    "checkout not found",
		}
	}
	return nil
}

// SetStatus moves a mock checkout to a new gateway status.
func (g *MockGateway) SetStatus(checkoutID, status string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	c, ok := g.checkouts[checkoutID]
	if !ok {
		return false
	}
	c.Status = status
	c.UpdatedAt = time.Now().UTC()
	return true
}

func (g *MockGateway) simulate(ctx context.Context) error {
	select {
	case <-time.After(g.latency):
	case <-ctx.Done():
		return domainErrors.NewGatewayError(domainErrors.GatewayTimeout, g.name, ctx.Err())
	}

	if rand.Float64() < g.timeoutRate {
		return domainErrors.NewGatewayError(domainErrors.GatewayTimeout, g.name, nil)
	}
	if rand.Float64() < g.failureRate {
		return &domainErrors.GatewayError{
			Kind:     domainErrors.GatewayUnavailable,
			Provider: g.name,
			Message:  "simulated gateway failure",
		}
	}
	return nil
}
