package controller

import (
	"time"

	"github.com/cassiomorais/invoicing/internal/domain/invoice"
	"github.com/cassiomorais/invoicing/internal/domain/reconciliation"
	"github.com/cassiomorais/invoicing/internal/service"
	"github.com/shopspring/decimal"
)

// --- Request DTOs ---
// These DTOs handle HTTP/JSON concerns (decimal strings for money, validation tags).
// Controllers convert these to service layer DTOs before calling business logic.

// CreateInvoiceRequest holds the input for creating an invoice.
type CreateInvoiceRequest struct {
	OrderID     string          `json:"order_id" validate:"required,max=128"`
	Description string          `json:"description" validate:"max=512"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency" validate:"omitempty,len=3,alpha"`
}

// InitiateCheckoutRequest holds the input for starting a payment.
type InitiateCheckoutRequest struct {
	PaymentMethod   string           `json:"payment_method" validate:"omitempty,oneof=edahabia cib EDAHABIA CIB credit_card debit_card CREDIT_CARD DEBIT_CARD"`
	Amount          *decimal.Decimal `json:"amount,omitempty"`
	Currency        string           `json:"currency" validate:"omitempty,len=3,alpha"`
	SuccessURL      string           `json:"success_url" validate:"required,url"`
	FailureURL      string           `json:"failure_url" validate:"required,url"`
	WebhookEndpoint string           `json:"webhook_endpoint" validate:"omitempty,url"`
	CustomerID      string           `json:"customer_id" validate:"max=128"`
	UserData        map[string]any   `json:"user_data,omitempty"`
	Description     string           `json:"description" validate:"max=512"`
	Locale          string           `json:"locale" validate:"omitempty,oneof=ar en fr"`
}

// --- Response DTOs ---

// InvoiceResponse represents an invoice in API responses.
type InvoiceResponse struct {
	ID            string     `json:"id"`
	UserID        string     `json:"user_id,omitempty"`
	OrderID       string     `json:"order_id"`
	Description   string     `json:"description,omitempty"`
	Amount        string     `json:"amount"`
	Currency      string     `json:"currency"`
	Status        string     `json:"status"`
	TransactionID *string    `json:"transaction_id,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}

// CheckoutResponse is returned when a checkout is opened.
type CheckoutResponse struct {
	InvoiceID     string `json:"invoice_id"`
	PaymentURL    string `json:"payment_url"`
	TransactionID string `json:"transaction_id"`
	CustomerID    string `json:"customer_id,omitempty"`
	RedirectUser  bool   `json:"redirect_user"`
}

// TransitionResponse reports how a payment event was absorbed.
type TransitionResponse struct {
	Status    string `json:"status"`
	InvoiceID string `json:"invoice_id"`
	EventID   string `json:"event_id,omitempty"`
	Outcome   string `json:"outcome"`
}

// EventResponse is one reconciliation log entry.
type EventResponse struct {
	EventID         string    `json:"event_id"`
	ReportedStatus  string    `json:"reported_status"`
	ResultingStatus string    `json:"resulting_status"`
	Outcome         string    `json:"outcome"`
	AppliedAt       time.Time `json:"applied_at"`
}

// StatusTotalsResponse is the count and summed amount for one status.
type StatusTotalsResponse struct {
	Count  int64  `json:"count"`
	Amount string `json:"amount"`
}

// StatsResponse summarises invoices by status.
type StatsResponse struct {
	TotalInvoices  int64                           `json:"total_invoices"`
	TotalAmount    string                          `json:"total_amount"`
	AverageAmount  string                          `json:"average_amount"`
	CollectionRate string                          `json:"collection_rate"`
	ByStatus       map[string]StatusTotalsResponse `json:"by_status"`
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// --- Conversion helpers ---

func FromInvoice(inv *invoice.Invoice) *InvoiceResponse {
	return &InvoiceResponse{
		ID:            inv.ID.String(),
		UserID:        inv.UserID,
		OrderID:       inv.OrderID,
		Description:   inv.Description,
		Amount:        inv.Amount.Value.StringFixed(2),
		Currency:      inv.Amount.Currency,
		Status:        string(inv.Status),
		TransactionID: inv.TransactionID,
		CreatedAt:     inv.CreatedAt,
		UpdatedAt:     inv.UpdatedAt,
		CompletedAt:   inv.CompletedAt,
	}
}

func FromCheckout(res *service.CheckoutResult) *CheckoutResponse {
	return &CheckoutResponse{
		InvoiceID:     res.InvoiceID.String(),
		PaymentURL:    res.PaymentURL,
		TransactionID: res.TransactionID,
		CustomerID:    res.CustomerID,
		RedirectUser:  res.RedirectUser,
	}
}

func FromTransition(res *service.TransitionResult) *TransitionResponse {
	return &TransitionResponse{
		Status:    string(res.Status),
		InvoiceID: res.InvoiceID.String(),
		EventID:   res.EventID,
		Outcome:   string(res.Outcome),
	}
}

func FromEntry(e *reconciliation.Entry) *EventResponse {
	return &EventResponse{
		EventID:         e.EventID,
		ReportedStatus:  string(e.ReportedStatus),
		ResultingStatus: string(e.ResultingStatus),
		Outcome:         string(e.Outcome),
		AppliedAt:       e.AppliedAt,
	}
}

func FromStats(s *invoice.Stats) *StatsResponse {
	total := s.Total()
	resp := &StatsResponse{
		TotalInvoices:  total.Count,
		TotalAmount:    total.Amount.StringFixed(2),
		AverageAmount:  s.AverageAmount().StringFixed(2),
		CollectionRate: s.CollectionRate().StringFixed(4),
		ByStatus:       make(map[string]StatusTotalsResponse, len(s.ByStatus)),
	}
	for status, t := range s.ByStatus {
		resp.ByStatus[string(status)] = StatusTotalsResponse{Count: t.Count, Amount: t.Amount.StringFixed(2)}
	}
	return resp
}
