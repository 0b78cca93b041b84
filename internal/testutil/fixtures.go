package testutil

import (
	"time"

	"github.com/cassiomorais/invoicing/internal/domain/invoice"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func NewTestInvoice(userID string, amount string, currency string) *invoice.Invoice {
	now := time.Now().UTC()
	return &invoice.Invoice{
		ID:          uuid.New(),
		UserID:      userID,
		OrderID:     "order-" + uuid.New().String()[:8],
		Description: "test invoice",
		Amount:      invoice.Amount{Value: decimal.RequireFromString(amount), Currency: currency},
		Status:      invoice.StatusCreated,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// NewInitiatedInvoice returns an invoice already waiting on checkoutID.
func NewInitiatedInvoice(userID string, checkoutID string) *invoice.Invoice {
	inv := NewTestInvoice(userID, "2500.00", "DZD")
	inv.Status = invoice.StatusPaymentInitiated
	inv.TransactionID = StringPtr(checkoutID)
	return inv
}

// NewPaymentEvent builds a verified event for inv.
func NewPaymentEvent(inv *invoice.Invoice, eventID string, status invoice.ReportedStatus) *invoice.PaymentEvent {
	return &invoice.PaymentEvent{
		EventID:        eventID,
		ReportedStatus: status,
		InvoiceRef:     inv.ID.String(),
		Timestamp:      time.Now().UTC(),
		Amount:         inv.Amount.Value.StringFixed(2),
		Currency:       inv.Amount.Currency,
	}
}

func StringPtr(s string) *string {
	return &s
}
