package service

import (
	"context"
	"errors"
	"testing"

	domainErrors "github.com/cassiomorais/invoicing/internal/domain/errors"
	"github.com/cassiomorais/invoicing/internal/domain/invoice"
	"github.com/cassiomorais/invoicing/internal/domain/outbox"
	"github.com/cassiomorais/invoicing/internal/domain/reconciliation"
	"github.com/cassiomorais/invoicing/internal/testutil"
	"github.com/google/uuid"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupInvoiceService() (*InvoiceService, *reconFixture) {
	f := setupReconciliation(nil)
	svc := NewInvoiceService(f.invoices, f.log, f.outbox, f.tx, "DZD", f.metrics, f.svc.logger)
	return svc, f
}

func TestInvoiceCreate_Success(t *testing.T) {
	svc, f := setupInvoiceService()

	inv, err := svc.Create(context.Background(), CreateInvoiceRequest{
		UserID:      "user-1",
		OrderID:     "order-42",
		Description: "Annual plan",
		Amount:      decimal.RequireFromString("1999.00"),
	})
	require.NoError(t, err)
	assert.Equal(t, invoice.StatusCreated, inv.Status)
	assert.Equal(t, "DZD", inv.Amount.Currency)
	assert.Nil(t, inv.TransactionID)

	stored := f.invoices.Stored(inv.ID)
	require.NotNil(t, stored)
	assert.Equal(t, "order-42", stored.OrderID)
	assert.Equal(t, []string{outbox.EventInvoiceCreated}, f.outbox.EventTypes())
	assert.Equal(t, 1.0, promtest.ToFloat64(f.metrics.InvoicesCreated.WithLabelValues("DZD")))
}

func TestInvoiceCreate_Validation(t *testing.T) {
	tests := []struct {
		name  string
		req   CreateInvoiceRequest
		field string
	}{
		{"foreign currency", CreateInvoiceRequest{OrderID: "o", Amount: decimal.NewFromInt(5), Currency: "USD"}, "currency"},
		{"zero amount", CreateInvoiceRequest{OrderID: "o", Amount: decimal.Zero}, "amount"},
		{"negative amount", CreateInvoiceRequest{OrderID: "o", Amount: decimal.NewFromInt(-1)}, "amount"},
		{"fractional amount", CreateInvoiceRequest{OrderID: "o", Amount: decimal.RequireFromString("100.99")}, "amount"},
		{"missing order", CreateInvoiceRequest{Amount: decimal.NewFromInt(5)}, "order_id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, f := setupInvoiceService()
			_, err := svc.Create(context.Background(), tt.req)

			var vErr *domainErrors.ValidationError
			require.ErrorAs(t, err, &vErr)
			assert.Equal(t, tt.field, vErr.Field)
			assert.Empty(t, f.outbox.EventTypes())
		})
	}
}

func TestInvoiceCreate_LowercaseCurrencyAccepted(t *testing.T) {
	svc, _ := setupInvoiceService()
	inv, err := svc.Create(context.Background(), CreateInvoiceRequest{OrderID: "o", Amount: decimal.NewFromInt(5), Currency: " dzd "})
	require.NoError(t, err)
	assert.Equal(t, "DZD", inv.Amount.Currency)
}

func TestInvoiceCreate_StoreFailure(t *testing.T) {
	svc, f := setupInvoiceService()
	f.invoices.CreateFunc = func(ctx context.Context, inv *invoice.Invoice) error {
		return errors.New("db down")
	}

	_, err := svc.Create(context.Background(), CreateInvoiceRequest{OrderID: "o", Amount: decimal.NewFromInt(5)})
	require.Error(t, err)
	assert.Empty(t, f.outbox.EventTypes())
}

func TestInvoiceList_NormalizesFilter(t *testing.T) {
	svc, f := setupInvoiceService()
	var got invoice.ListFilter
	f.invoices.ListFunc = func(ctx context.Context, filter invoice.ListFilter) ([]*invoice.Invoice, error) {
		got = filter
		return nil, nil
	}

	_, err := svc.List(context.Background(), invoice.ListFilter{Limit: 500, Offset: -3})
	require.NoError(t, err)
	assert.Equal(t, 20, got.Limit)
	assert.Equal(t, 0, got.Offset)

	_, err = svc.List(context.Background(), invoice.ListFilter{Limit: 50, Offset: 10})
	require.NoError(t, err)
	assert.Equal(t, 50, got.Limit)
	assert.Equal(t, 10, got.Offset)
}

func TestInvoiceList_InvalidStatus(t *testing.T) {
	svc, _ := setupInvoiceService()
	bogus := invoice.Status("SETTLED")

	_, err := svc.List(context.Background(), invoice.ListFilter{Status: &bogus})
	var vErr *domainErrors.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "status", vErr.Field)
}

func TestInvoiceList_FiltersByUser(t *testing.T) {
	svc, f := setupInvoiceService()
	f.invoices.AddInvoice(testutil.NewTestInvoice("alice", "10.00", "DZD"))
	f.invoices.AddInvoice(testutil.NewTestInvoice("bob", "10.00", "DZD"))

	alice := "alice"
	list, err := svc.List(context.Background(), invoice.ListFilter{UserID: &alice})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "alice", list[0].UserID)
}

func TestInvoiceStats(t *testing.T) {
	svc, f := setupInvoiceService()
	f.invoices.AddInvoice(testutil.NewTestInvoice("alice", "1000.00", "DZD"))
	f.invoices.AddInvoice(testutil.NewInitiatedInvoice("alice", "chk_1"))
	f.invoices.AddInvoice(testutil.NewTestInvoice("bob", "300.00", "DZD"))
	ctx := context.Background()

	all, err := svc.Stats(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(3), all.Total().Count)
	assert.Equal(t, "3800.00", all.Total().Amount.StringFixed(2))
	assert.Equal(t, int64(2), all.ByStatus[invoice.StatusCreated].Count)

	alice := "alice"
	mine, err := svc.Stats(ctx, &alice)
	require.NoError(t, err)
	assert.Equal(t, int64(2), mine.Total().Count)
	assert.Equal(t, "2500.00", mine.ByStatus[invoice.StatusPaymentInitiated].Amount.StringFixed(2))
	assert.Equal(t, "1000.00", mine.ByStatus[invoice.StatusCreated].Amount.StringFixed(2))
}

func TestInvoiceStats_StoreFailure(t *testing.T) {
	svc, f := setupInvoiceService()
	f.invoices.StatsFunc = func(context.Context, *string) (*invoice.Stats, error) {
		return nil, errors.New("connection reset")
	}

	_, err := svc.Stats(context.Background(), nil)
	assert.EqualError(t, err, "connection reset")
}

func TestInvoiceEvents(t *testing.T) {
	svc, f := setupInvoiceService()
	inv := f.initiated(t, "chk_1")
	ctx := context.Background()

	_, err := f.svc.Apply(ctx, testutil.NewPaymentEvent(inv, "chk_1", invoice.ReportedPaid))
	require.NoError(t, err)
	_, err = f.svc.Apply(ctx, testutil.NewPaymentEvent(inv, "chk_2", invoice.ReportedCanceled))
	require.NoError(t, err)

	events, err := svc.Events(ctx, inv.ID)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, reconciliation.OutcomeApplied, events[0].Outcome)
	assert.Equal(t, reconciliation.OutcomePostTerminal, events[1].Outcome)
	assert.Equal(t, invoice.StatusPaid, events[1].ResultingStatus)

	_, err = svc.Events(ctx, uuid.New())
	assert.ErrorIs(t, err, domainErrors.ErrInvoiceNotFound)
}
