package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	domainErrors "github.com/cassiomorais/invoicing/internal/domain/errors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	ChargilyName = "chargily"

	maxResponseBytes = 1 << 20
)

// ChargilyGateway talks to the Chargily Pay v2 REST API.
type ChargilyGateway struct {
	baseURL string
	apiKey  string
	locale  string
	client  *http.Client
}

type ChargilyOption func(*ChargilyGateway)

// WithHTTPClient replaces the default instrumented client.
func WithHTTPClient(c *http.Client) ChargilyOption {
	return func(g *ChargilyGateway) { g.client = c }
}

// WithLocale sets the checkout page language used when a request has none.
func WithLocale(locale string) ChargilyOption {
	return func(g *ChargilyGateway) { g.locale = locale }
}

func NewChargilyGateway(baseURL, apiKey string, timeout time.Duration, opts ...ChargilyOption) *ChargilyGateway {
	g := &ChargilyGateway{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		locale:  "en",
		client: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

func (g *ChargilyGateway) Name() string { return ChargilyName }

type chargilyCheckoutRequest struct {
	Amount          int64          `json:"amount"`
	Currency        string         `json:"currency"`
	PaymentMethod   string         `json:"payment_method"`
	SuccessURL      string         `json:"success_url"`
	FailureURL      string         `json:"failure_url"`
	WebhookEndpoint string         `json:"webhook_endpoint,omitempty"`
	Description     string         `json:"description,omitempty"`
	Locale          string         `json:"locale,omitempty"`
	CustomerID      string         `json:"customer_id,omitempty"`
	Metadata        map[string]any `json:"metadata"`
}

type chargilyCheckout struct {
	ID            string         `json:"id"`
	Status        string         `json:"status"`
	Amount        json.Number    `json:"amount"`
	Currency      string         `json:"currency"`
	PaymentMethod string         `json:"payment_method"`
	CheckoutURL   string         `json:"checkout_url"`
	Metadata      map[string]any `json:"metadata"`
	UpdatedAt     int64          `json:"updated_at"`
}

func (g *ChargilyGateway) CreateCheckout(ctx context.Context, req CheckoutRequest) (*CheckoutResult, error) {
	if !req.Amount.IsPositive() || !req.Amount.Equal(req.Amount.Truncate(0)) {
		return nil, &domainErrors.GatewayError{
			Kind:     domainErrors.GatewayRejectedRequest,
			Provider: ChargilyName,
			Message:  "amount " + req.Amount.String() + " is not a positive whole number",
		}
	}

	metadata := make(map[string]any, len(req.Metadata)+1)
	for k, v := range req.Metadata {
		metadata[k] = v
	}
	metadata["invoice_id"] = req.InvoiceID

	description := req.Description
	if description == "" {
		description = "Payment for invoice " + req.InvoiceID
	}
	locale := req.Locale
	if locale == "" {
		locale = g.locale
	}

	body := chargilyCheckoutRequest{
		Amount:          req.Amount.IntPart(),
		Currency:        strings.ToLower(req.Currency),
		PaymentMethod:   ChargilyPaymentMethod(req.PaymentMethod),
		SuccessURL:      req.SuccessURL,
		FailureURL:      req.FailureURL,
		WebhookEndpoint: req.WebhookEndpoint,
		Description:     description,
		Locale:          locale,
		CustomerID:      req.CustomerID,
		Metadata:        metadata,
	}

	var out chargilyCheckout
	if err := g.do(ctx, http.MethodPost, "/checkouts", body, &out); err != nil {
		return nil, err
	}
	if out.ID == "" || out.CheckoutURL == "" {
		return nil, &domainErrors.GatewayError{
			Kind:     domainErrors.GatewayUnavailable,
			Provider: ChargilyName,
			Message:  "checkout response missing id or checkout_url",
		}
	}

	return &CheckoutResult{
		CheckoutID: out.ID,
		PaymentURL: out.CheckoutURL,
		Status:     out.Status,
	}, nil
}

func (g *ChargilyGateway) GetCheckout(ctx context.Context, checkoutID string) (*CheckoutStatus, error) {
	var out chargilyCheckout
	if err := g.do(ctx, http.MethodGet, "/checkouts/"+url.PathEscape(checkoutID), nil, &out); err != nil {
		return nil, err
	}

	status := &CheckoutStatus{
		CheckoutID:    out.ID,
		Status:        out.Status,
		Amount:        out.Amount.String(),
		Currency:      strings.ToUpper(out.Currency),
		PaymentMethod: out.PaymentMethod,
	}
	if v, ok := out.Metadata["invoice_id"].(string); ok {
		status.InvoiceID = v
	}
	if out.UpdatedAt > 0 {
		status.UpdatedAt = time.Unix(out.UpdatedAt, 0).UTC()
	}
	return status, nil
}

func (g *ChargilyGateway) ExpireCheckout(ctx context.Context, checkoutID string) error {
	return g.do(ctx, http.MethodPost, "/checkouts/"+url.PathEscape(checkoutID)+"/expire", nil, nil)
}

// ChargilyPaymentMethod maps a client payment method onto the two methods
// Chargily accepts. Anything that is not a credit card goes through EDAHABIA.
func ChargilyPaymentMethod(method string) string {
	switch strings.ToLower(strings.TrimSpace(method)) {
	case "credit_card", "cib":
		return "cib"
	default:
		return "edahabia"
	}
}

func (g *ChargilyGateway) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal %s request: %w", path, err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build %s request: %w", path, err)
	}
	req.Header.Set("Authorization", "Bearer "+g.apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return transportError(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return transportError(err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError(resp.StatusCode, data)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &domainErrors.GatewayError{
			Kind:       domainErrors.GatewayUnavailable,
			Provider:   ChargilyName,
			StatusCode: resp.StatusCode,
			Message:    "decode response",
			Err:        err,
		}
	}
	return nil
}

func transportError(err error) error {
	kind := domainErrors.GatewayUnavailable
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		kind = domainErrors.GatewayTimeout
	}
	return domainErrors.NewGatewayError(kind, ChargilyName, err)
}

func statusError(code int, body []byte) error {
	var kind domainErrors.GatewayErrorKind
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		kind = domainErrors.GatewayUnauthorized
	case code == http.StatusRequestTimeout || code == http.StatusGatewayTimeout:
		kind = domainErrors.GatewayTimeout
	case code == http.StatusTooManyRequests || code >= 500:
		kind = domainErrors.GatewayUnavailable
	default:
		kind = domainErrors.GatewayRejectedRequest
	}

	var payload struct {
		Message string `json:"message"`
	}
	_ = json.Unmarshal(body, &payload)

	return &domainErrors.GatewayError{
		Kind:       kind,
		Provider:   ChargilyName,
		StatusCode: code,
		Message:    payload.Message,
	}
}
