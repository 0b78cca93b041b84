package providers

import (
	"context"
	"testing"
	"time"

	domainErrors "github.com/cassiomorais/invoicing/internal/domain/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockGateway_CreateAndGet(t *testing.T) {
	g := NewMockGateway("test", WithLatency(0))
	ctx := context.Background()

	res, err := g.CreateCheckout(ctx, checkoutRequest())
	require.NoError(t, err)
	assert.Contains(t, res.CheckoutID, "test_chk_")
	assert.Contains(t, res.PaymentURL, res.CheckoutID)
	assert.Equal(t, "pending", res.Status)

	st, err := g.GetCheckout(ctx, res.CheckoutID)
	require.NoError(t, err)
	assert.Equal(t, "pending", st.Status)
	assert.Equal(t, "inv-1", st.InvoiceID)
	assert.Equal(t, "2500.00", st.Amount)

	require.True(t, g.SetStatus(res.CheckoutID, "paid"))
	st, err = g.GetCheckout(ctx, res.CheckoutID)
	require.NoError(t, err)
	assert.Equal(t, "paid", st.Status)
}

func TestMockGateway_Expire(t *testing.T) {
	g := NewMockGateway("test", WithLatency(0))
	ctx := context.Background()

	res, err := g.CreateCheckout(ctx, checkoutRequest())
	require.NoError(t, err)
	require.NoError(t, g.ExpireCheckout(ctx, res.CheckoutID))

	st, err := g.GetCheckout(ctx, res.CheckoutID)
	require.NoError(t, err)
	assert.Equal(t, "expired", st.Status)

	assert.ErrorIs(t, g.ExpireCheckout(ctx, "missing"), domainErrors.ErrGatewayRejected)
}

func TestMockGateway_UnknownCheckout(t *testing.T) {
	g := NewMockGateway("test", WithLatency(0))

	_, err := g.GetCheckout(context.Background(), "missing")
	assert.ErrorIs(t, err, domainErrors.ErrGatewayRejected)
	assert.False(t, g.SetStatus("missing", "paid"))
}

func TestMockGateway_Failure(t *testing.T) {
	g := NewMockGateway("test", WithLatency(0), WithFailureRate(1.0))

	_, err := g.CreateCheckout(context.Background(), checkoutRequest())
	assert.ErrorIs(t, err, domainErrors.ErrGatewayUnavailable)
}

func TestMockGateway_Timeout(t *testing.T) {
	g := NewMockGateway("test", WithLatency(0), WithTimeoutRate(1.0))

	_, err := g.CreateCheckout(context.Background(), checkoutRequest())
	assert.ErrorIs(t, err, domainErrors.ErrGatewayTimeout)
}

func TestMockGateway_ContextCancelled(t *testing.T) {
	g := NewMockGateway("test", WithLatency(time.Second))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := g.CreateCheckout(ctx, checkoutRequest())
	assert.ErrorIs(t, err, domainErrors.ErrGatewayTimeout)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}
