package service

import (
	"github.com/cassiomorais/invoicing/internal/domain/invoice"
	"github.com/cassiomorais/invoicing/internal/domain/reconciliation"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Controllers convert their HTTP DTOs to this type.
type CreateInvoiceRequest struct {
	UserID      string
	OrderID     string
	Description string
	Amount      decimal.Decimal
	Currency    string
}

// CheckoutRequest is what a client supplies to start paying an invoice.
// Amount and Currency are optional; when set they must match the invoice.
type CheckoutRequest struct {
	PaymentMethod   string
	Amount          *decimal.Decimal
	Currency        string
	SuccessURL      string
	FailureURL      string
	WebhookEndpoint string
	CustomerID      string
	UserData        map[string]any
	Description     string
	Locale          string
}

type CheckoutResult struct {
	InvoiceID     uuid.UUID
	PaymentURL    string
	TransactionID string
	CustomerID    string
	RedirectUser  bool
}

// TransitionResult reports how one payment event was absorbed.
type TransitionResult struct {
	InvoiceID uuid.UUID
	EventID   string
	Status    invoice.Status
	Outcome   reconciliation.Outcome
}
