package providers

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// CheckoutRequest contains the data needed to open a hosted checkout.
type CheckoutRequest struct {
	InvoiceID       string
	Amount          decimal.Decimal
	Currency        string
	PaymentMethod   string
	SuccessURL      string
	FailureURL      string
	WebhookEndpoint string
	Description     string
	Locale          string
	CustomerID      string
	Metadata        map[string]any
}

// CheckoutResult holds the gateway's answer to a checkout creation.
type CheckoutResult struct {
	CheckoutID string
	PaymentURL string
	Status     string // gateway status string, usually "pending"
}

// CheckoutStatus is the current state of a checkout as seen by the gateway.
type CheckoutStatus struct {
	CheckoutID    string
	Status        string
	InvoiceID     string
	Amount        string
	Currency      string
	PaymentMethod string
	UpdatedAt     time.Time
}

// Gateway is the interface that external payment gateways implement.
// Failed calls return a *errors.GatewayError.
type Gateway interface {
	// Name returns the gateway name.
	Name() string
	// CreateCheckout opens a checkout the customer is redirected to.
	CreateCheckout(ctx context.Context, req CheckoutRequest) (*CheckoutResult, error)
	// GetCheckout fetches a checkout by its gateway id.
	GetCheckout(ctx context.Context, checkoutID string) (*CheckoutStatus, error)
	// ExpireCheckout closes a checkout that has not been paid yet.
	ExpireCheckout(ctx context.Context, checkoutID string) error
}
