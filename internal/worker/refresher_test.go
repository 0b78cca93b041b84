package worker

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	domainErrors "github.com/cassiomorais/invoicing/internal/domain/errors"
	"github.com/cassiomorais/invoicing/internal/domain/invoice"
	"github.com/cassiomorais/invoicing/internal/domain/reconciliation"
	"github.com/cassiomorais/invoicing/internal/infrastructure/providers"
	infraRedis "github.com/cassiomorais/invoicing/internal/infrastructure/redis"
	"github.com/cassiomorais/invoicing/internal/service"
	"github.com/cassiomorais/invoicing/internal/testutil"
	"github.com/cassiomorais/invoicing/pkg/keylock"
	"github.com/cassiomorais/invoicing/pkg/retry"
	"github.com/google/uuid"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type refresherFunc func(ctx context.Context, invoiceID uuid.UUID) (*service.TransitionResult, error)

func (f refresherFunc) Refresh(ctx context.Context, invoiceID uuid.UUID) (*service.TransitionResult, error) {
	return f(ctx, invoiceID)
}

func refreshMessage(i int, invoiceID string, attempt int) redis.XMessage {
	return redis.XMessage{
		ID: fmt.Sprintf("1718000000000-%d", i),
		Values: map[string]any{
			"invoice_id": invoiceID,
			"attempt":    strconv.Itoa(attempt),
		},
	}
}

func newConsumer(t *testing.T, refresher Refresher, cfg RefreshConsumerConfig) (*RefreshConsumer, *fakeSource, *fakeQueue, func(status string) float64) {
	t.Helper()
	source := &fakeSource{}
	queue := &fakeQueue{}
	metrics := newTestMetrics(t)
	c := NewRefreshConsumer(source, refresher, queue, cfg, metrics, zerolog.Nop())
	count := func(status string) float64 {
		return promtest.ToFloat64(metrics.WorkerMessagesProcessed.WithLabelValues(infraRedis.RefreshStream, status))
	}
	return c, source, queue, count
}

func TestRefreshConsumer_Success(t *testing.T) {
	id := uuid.New()
	var got uuid.UUID
	c, source, queue, count := newConsumer(t, refresherFunc(func(ctx context.Context, invoiceID uuid.UUID) (*service.TransitionResult, error) {
		got = invoiceID
		return &service.TransitionResult{InvoiceID: invoiceID, Status: invoice.StatusPaid, Outcome: reconciliation.OutcomeApplied}, nil
	}), RefreshConsumerConfig{})

	msg := refreshMessage(0, id.String(), 1)
	c.ProcessBatch(context.Background(), []redis.XMessage{msg})

	assert.Equal(t, id, got)
	assert.Equal(t, []string{msg.ID}, source.Acked())
	assert.Empty(t, queue.Refreshes())
	assert.Equal(t, 1.0, count("success"))
	assert.Equal(t, 1.0, promtest.ToFloat64(c.metrics.SweepRefreshed.WithLabelValues("applied")))
}

func TestRefreshConsumer_InvalidInvoiceID(t *testing.T) {
	called := false
	c, source, _, count := newConsumer(t, refresherFunc(func(ctx context.Context, invoiceID uuid.UUID) (*service.TransitionResult, error) {
		called = true
		return nil, nil
	}), RefreshConsumerConfig{})

	msg := refreshMessage(0, "not-a-uuid", 1)
	c.ProcessBatch(context.Background(), []redis.XMessage{msg})

	assert.False(t, called)
	assert.Equal(t, []string{msg.ID}, source.Acked())
	assert.Equal(t, 1.0, count("invalid"))
}

func TestRefreshConsumer_TransientFailureIsRequeued(t *testing.T) {
	id := uuid.New()
	c, source, queue, count := newConsumer(t, refresherFunc(func(ctx context.Context, invoiceID uuid.UUID) (*service.TransitionResult, error) {
		return nil, domainErrors.NewGatewayError(domainErrors.GatewayTimeout, "chargily", nil)
	}), RefreshConsumerConfig{MaxAttempts: 3})

	msg := refreshMessage(0, id.String(), 2)
	c.ProcessBatch(context.Background(), []redis.XMessage{msg})

	assert.Equal(t, []queuedRefresh{{InvoiceID: id.String(), Attempt: 3}}, queue.Refreshes())
	assert.Equal(t, []string{msg.ID}, source.Acked())
	assert.Equal(t, 1.0, count("retried"))
}

func TestRefreshConsumer_ExhaustedGoesToDLQ(t *testing.T) {
	id := uuid.New()
	c, source, queue, count := newConsumer(t, refresherFunc(func(ctx context.Context, invoiceID uuid.UUID) (*service.TransitionResult, error) {
		return nil, fmt.Errorf("%w: invoice:%s", domainErrors.ErrLockAcquisitionFailed, invoiceID)
	}), RefreshConsumerConfig{MaxAttempts: 3})

	msg := refreshMessage(0, id.String(), 3)
	c.ProcessBatch(context.Background(), []redis.XMessage{msg})

	assert.Empty(t, queue.Refreshes())
	require.Contains(t, queue.dead, id.String())
	assert.Contains(t, queue.dead[id.String()], "failed to acquire lock")
	assert.Equal(t, []string{msg.ID}, source.Acked())
	assert.Equal(t, 1.0, count("dead_lettered"))
}

func TestRefreshConsumer_PermanentFailureIsDropped(t *testing.T) {
	id := uuid.New()
	c, source, queue, count := newConsumer(t, refresherFunc(func(ctx context.Context, invoiceID uuid.UUID) (*service.TransitionResult, error) {
		return nil, domainErrors.NewDomainError("invalid_state", "invoice is CREATED", domainErrors.ErrInvalidState)
	}), RefreshConsumerConfig{})

	msg := refreshMessage(0, id.String(), 1)
	c.ProcessBatch(context.Background(), []redis.XMessage{msg})

	assert.Empty(t, queue.Refreshes())
	assert.Empty(t, queue.dead)
	assert.Equal(t, []string{msg.ID}, source.Acked())
	assert.Equal(t, 1.0, count("dropped"))
}

func TestRefreshConsumer_RequeueFailureLeavesMessagePending(t *testing.T) {
	c, source, queue, _ := newConsumer(t, refresherFunc(func(ctx context.Context, invoiceID uuid.UUID) (*service.TransitionResult, error) {
		return nil, errors.New("conn reset")
	}), RefreshConsumerConfig{})
	queue.RequestRefreshFunc = func(ctx context.Context, invoiceID string, attempt int) error {
		return errors.New("redis down")
	}

	c.ProcessBatch(context.Background(), []redis.XMessage{refreshMessage(0, uuid.NewString(), 1)})
	assert.Empty(t, source.Acked())
}

func TestRefreshConsumer_BoundedConcurrency(t *testing.T) {
	var inFlight, peak atomic.Int32
	c, source, _, _ := newConsumer(t, refresherFunc(func(ctx context.Context, invoiceID uuid.UUID) (*service.TransitionResult, error) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		inFlight.Add(-1)
		return &service.TransitionResult{InvoiceID: invoiceID, Outcome: reconciliation.OutcomeNoop}, nil
	}), RefreshConsumerConfig{Concurrency: 2})

	var msgs []redis.XMessage
	for i := 0; i < 6; i++ {
		msgs = append(msgs, refreshMessage(i, uuid.NewString(), 1))
	}
	c.ProcessBatch(context.Background(), msgs)

	assert.Len(t, source.Acked(), 6)
	assert.LessOrEqual(t, peak.Load(), int32(2))
	assert.Equal(t, int32(2), peak.Load())
}

func TestMessageAttempt(t *testing.T) {
	assert.Equal(t, 4, messageAttempt(redis.XMessage{Values: map[string]any{"attempt": "4"}}))
	assert.Equal(t, 1, messageAttempt(redis.XMessage{Values: map[string]any{}}))
	assert.Equal(t, 1, messageAttempt(redis.XMessage{Values: map[string]any{"attempt": "zero"}}))
	assert.Equal(t, 1, messageAttempt(redis.XMessage{Values: map[string]any{"attempt": "0"}}))
}

func TestTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"gateway timeout", domainErrors.NewGatewayError(domainErrors.GatewayTimeout, "chargily", nil), true},
		{"gateway unavailable", domainErrors.NewGatewayError(domainErrors.GatewayUnavailable, "chargily", nil), true},
		{"gateway rejected", domainErrors.NewGatewayError(domainErrors.GatewayRejectedRequest, "chargily", nil), false},
		{"gateway unauthorized", domainErrors.NewGatewayError(domainErrors.GatewayUnauthorized, "chargily", nil), false},
		{"lock", fmt.Errorf("%w: k", domainErrors.ErrLockAcquisitionFailed), true},
		{"conflict", domainErrors.ErrReconciliationConflict, true},
		{"not found", domainErrors.ErrInvoiceNotFound, false},
		{"invalid state", domainErrors.NewDomainError("invalid_state", "x", domainErrors.ErrInvalidState), false},
		{"malformed", domainErrors.NewDomainError("malformed_payload", "x", domainErrors.ErrMalformedPayload), false},
		{"store", errors.New("pgx: connection refused"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, transient(tt.err))
		})
	}
}

// Sweeper and consumer together: a checkout whose webhook was lost is settled
// from the gateway's answer.
func TestSweepAndRefresh_SettlesLostWebhook(t *testing.T) {
	invoices := testutil.NewMockInvoiceRepository()
	logRepo := testutil.NewMockReconciliationRepository()
	outboxRepo := testutil.NewMockOutboxRepository()
	tx := testutil.NewMockTransactionManager(invoices, logRepo, outboxRepo)
	locks := keylock.New()
	metrics := newTestMetrics(t)

	gw := &testutil.MockGateway{GetCheckoutFunc: func(ctx context.Context, checkoutID string) (*providers.CheckoutStatus, error) {
		return &providers.CheckoutStatus{CheckoutID: checkoutID, Status: "paid", Amount: "2500.00", Currency: "dzd", UpdatedAt: time.Now()}, nil
	}}
	reconciler := service.NewReconciliationService(invoices, logRepo, outboxRepo, tx, locks, metrics, zerolog.Nop())
	checkout := service.NewCheckoutService(invoices, outboxRepo, tx, locks, gw, reconciler, service.CheckoutConfig{
		Currency:       "DZD",
		GatewayTimeout: time.Second,
		StatusRetry:    retry.Config{MaxAttempts: 1, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond},
	}, metrics, zerolog.Nop())

	inv := testutil.NewInitiatedInvoice("", "chk_lost")
	inv.UpdatedAt = time.Now().Add(-time.Hour)
	invoices.AddInvoice(inv)

	queue := &fakeQueue{}
	sweeper := NewSweeper(invoices, locks, queue, 15*time.Minute, 10, metrics, zerolog.Nop())
	n, err := sweeper.SweepOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, n)

	source := &fakeSource{}
	consumer := NewRefreshConsumer(source, checkout, queue, RefreshConsumerConfig{Concurrency: 2}, metrics, zerolog.Nop())

	// Delivered twice: the second poll is a duplicate of the same checkout.
	msgs := append(queue.Messages(), queue.Messages()...)
	consumer.ProcessBatch(context.Background(), msgs)

	assert.Equal(t, invoice.StatusPaid, invoices.Stored(inv.ID).Status)
	assert.Equal(t, 1, logRepo.Len())
	assert.Len(t, source.Acked(), 2)
	assert.Equal(t, 1.0, promtest.ToFloat64(metrics.SweepRefreshed.WithLabelValues("applied")))
	assert.Equal(t, 1.0, promtest.ToFloat64(metrics.SweepRefreshed.WithLabelValues("duplicate")))
}
