package providers

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	domainErrors "github.com/cassiomorais/invoicing/internal/domain/errors"
	"github.com/cassiomorais/invoicing/internal/infrastructure/observability"
	"github.com/sony/gobreaker/v2"
)

// BreakerSettings configures the circuit breaker put in front of every gateway.
type BreakerSettings struct {
	// Threshold is the minimum number of requests in an interval before the
	// failure ratio is considered.
	Threshold uint32
	// Timeout is how long the breaker stays open before probing again.
	Timeout time.Duration
}

type Factory struct {
	mu       sync.RWMutex
	gateways map[string]Gateway
	breakers map[string]*gobreaker.CircuitBreaker[any]
	settings BreakerSettings
	metrics  *observability.Metrics
}

// NewFactory registers the given gateways. With none, a mock "chargily"
// gateway is registered so the service runs without credentials.
func NewFactory(settings BreakerSettings, metrics *observability.Metrics, gateways ...Gateway) *Factory {
	if settings.Threshold == 0 {
		settings.Threshold = 10
	}
	if settings.Timeout <= 0 {
		settings.Timeout = 30 * time.Second
	}

	f := &Factory{
		gateways: make(map[string]Gateway),
		breakers: make(map[string]*gobreaker.CircuitBreaker[any]),
		settings: settings,
		metrics:  metrics,
	}

	if len(gateways) == 0 {
		f.Register(NewMockGateway(ChargilyName))
	} else {
		for _, g := range gateways {
			f.Register(g)
		}
	}
	return f
}

func (f *Factory) Register(g Gateway) {
	name := g.Name()
	threshold := f.settings.Threshold

	breaker := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     f.settings.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= threshold && failureRatio >= 0.6
		},
		// A rejected request is the caller's fault, not a sign the gateway is down.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, domainErrors.ErrGatewayRejected) || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, _, to gobreaker.State) {
			if f.metrics != nil {
				f.metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
			}
		},
	})

	f.mu.Lock()
	f.gateways[name] = g
	f.breakers[name] = breaker
	f.mu.Unlock()

	if f.metrics != nil {
		f.metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(gobreaker.StateClosed))
	}
}

// Get returns the named gateway wrapped in its circuit breaker.
func (f *Factory) Get(name string) (Gateway, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	g, ok := f.gateways[name]
	if !ok {
		return nil, fmt.Errorf("unknown gateway %q: %w", name, domainErrors.ErrGatewayNotFound)
	}
	return &guardedGateway{next: g, breaker: f.breakers[name], metrics: f.metrics}, nil
}

// State reports the breaker state of a registered gateway.
func (f *Factory) State(name string) (gobreaker.State, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	b, ok := f.breakers[name]
	if !ok {
		return gobreaker.StateClosed, false
	}
	return b.State(), true
}

// guardedGateway runs every call through the breaker and records metrics.
type guardedGateway struct {
	next    Gateway
	breaker *gobreaker.CircuitBreaker[any]
	metrics *observability.Metrics
}

func (g *guardedGateway) Name() string { return g.next.Name() }

func (g *guardedGateway) CreateCheckout(ctx context.Context, req CheckoutRequest) (*CheckoutResult, error) {
	out, err := g.execute("create_checkout", func() (any, error) {
		return g.next.CreateCheckout(ctx, req)
	})
	if err != nil {
		return nil, err
	}
	return out.(*CheckoutResult), nil
}

func (g *guardedGateway) GetCheckout(ctx context.Context, checkoutID string) (*CheckoutStatus, error) {
	out, err := g.execute("get_checkout", func() (any, error) {
		return g.next.GetCheckout(ctx, checkoutID)
	})
	if err != nil {
		return nil, err
	}
	return out.(*CheckoutStatus), nil
}

func (g *guardedGateway) ExpireCheckout(ctx context.Context, checkoutID string) error {
	_, err := g.execute("expire_checkout", func() (any, error) {
		return nil, g.next.ExpireCheckout(ctx, checkoutID)
	})
	return err
}

func (g *guardedGateway) execute(operation string, fn func() (any, error)) (any, error) {
	start := time.Now()
	out, err := g.breaker.Execute(fn)

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		err = &domainErrors.GatewayError{
			Kind:     domainErrors.GatewayUnavailable,
			Provider: g.next.Name(),
			Message:  "circuit breaker open",
			Err:      err,
		}
	}

	if g.metrics != nil {
		result := "success"
		if err != nil {
			result = "error"
			var gwErr *domainErrors.GatewayError
			if errors.As(err, &gwErr) {
				result = string(gwErr.Kind)
			}
		}
		g.metrics.GatewayRequests.WithLabelValues(g.next.Name(), operation, result).Inc()
		g.metrics.GatewayDuration.WithLabelValues(g.next.Name(), operation).Observe(time.Since(start).Seconds())
		g.metrics.CircuitBreakerRequests.WithLabelValues(g.next.Name(), result).Inc()
	}

	return out, err
}
