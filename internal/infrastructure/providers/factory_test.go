package providers

import (
	"context"
	"testing"
	"time"

	domainErrors "github.com/cassiomorais/invoicing/internal/domain/errors"
	"github.com/cassiomorais/invoicing/internal/infrastructure/observability"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFactory_DefaultGateway(t *testing.T) {
	f := NewFactory(BreakerSettings{}, nil)

	g, err := f.Get(ChargilyName)
	require.NoError(t, err)
	assert.Equal(t, ChargilyName, g.Name())
}

func TestFactory_Get_Unknown(t *testing.T) {
	f := NewFactory(BreakerSettings{}, nil, NewMockGateway("mock", WithLatency(0)))

	g, err := f.Get("stripe")
	assert.Nil(t, g)
	assert.ErrorIs(t, err, domainErrors.ErrGatewayNotFound)
	assert.Contains(t, err.Error(), "unknown gateway")
}

func TestFactory_RecordsMetrics(t *testing.T) {
	metrics := observability.NewMetrics("test", prometheus.NewRegistry())
	f := NewFactory(BreakerSettings{}, metrics, NewMockGateway("mock", WithLatency(0)))

	g, err := f.Get("mock")
	require.NoError(t, err)

	res, err := g.CreateCheckout(context.Background(), checkoutRequest())
	require.NoError(t, err)
	assert.NotEmpty(t, res.CheckoutID)

	_, err = g.GetCheckout(context.Background(), "missing")
	require.Error(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.GatewayRequests.WithLabelValues("mock", "create_checkout", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.GatewayRequests.WithLabelValues("mock", "get_checkout", "rejected_request")))
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.CircuitBreakerState.WithLabelValues("mock")))
}

func TestFactory_BreakerOpensAsUnavailable(t *testing.T) {
	f := NewFactory(BreakerSettings{Threshold: 3, Timeout: time.Minute}, nil,
		NewMockGateway("flaky", WithLatency(0), WithFailureRate(1.0)))

	g, err := f.Get("flaky")
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := g.CreateCheckout(context.Background(), checkoutRequest())
		require.ErrorIs(t, err, domainErrors.ErrGatewayUnavailable)
	}

	state, ok := f.State("flaky")
	require.True(t, ok)
	assert.Equal(t, gobreaker.StateOpen, state)

	_, err = g.CreateCheckout(context.Background(), checkoutRequest())
	assert.ErrorIs(t, err, domainErrors.ErrGatewayUnavailable)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
}

func TestFactory_RejectionsDoNotTrip(t *testing.T) {
	f := NewFactory(BreakerSettings{Threshold: 2, Timeout: time.Minute}, nil, NewMockGateway("mock", WithLatency(0)))

	g, err := f.Get("mock")
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		_, err := g.GetCheckout(context.Background(), "missing")
		require.ErrorIs(t, err, domainErrors.ErrGatewayRejected)
	}

	state, _ := f.State("mock")
	assert.Equal(t, gobreaker.StateClosed, state)
}
