// Package webhook authenticates and decodes payment gateway callbacks.
package webhook

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	domainErrors "github.com/cassiomorais/invoicing/internal/domain/errors"
	"github.com/cassiomorais/invoicing/internal/domain/invoice"
)

// SignatureHeader carries the hex HMAC-SHA256 of the raw request body.
const SignatureHeader = "Signature"

// Verifier checks webhook signatures against a shared secret. It holds no
// other state and is safe for concurrent use.
type Verifier struct {
	secret []byte
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Sign returns the signature a gateway would send for payload.
func Sign(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify authenticates raw and decodes it into a PaymentEvent. The signature
// is checked before the payload is parsed.
func (v *Verifier) Verify(raw []byte, signature string) (*invoice.PaymentEvent, error) {
	if !v.validSignature(raw, signature) {
		return nil, domainErrors.ErrInvalidSignature
	}

	var body payload
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, domainErrors.NewDomainError("malformed_payload", "payload is not a checkout event", domainErrors.ErrMalformedPayload)
	}
	c := body.checkout()

	invoiceRef, err := c.invoiceRef()
	if err != nil {
		return nil, err
	}

	var missing []string
	if c.ID == "" {
		missing = append(missing, "id")
	}
	if c.Status == "" {
		missing = append(missing, "status")
	}
	if invoiceRef == "" {
		missing = append(missing, "metadata.invoice_id")
	}
	if len(missing) > 0 {
		return nil, domainErrors.NewDomainError("missing_fields", "missing "+strings.Join(missing, ", "), domainErrors.ErrMissingFields)
	}

	reported, ok := invoice.ParseReportedStatus(c.Status)
	if !ok {
		return nil, domainErrors.NewDomainError("malformed_payload", "unknown status "+strconv.Quote(c.Status), domainErrors.ErrMalformedPayload)
	}

	ts, err := c.timestamp()
	if err != nil {
		return nil, err
	}

	return &invoice.PaymentEvent{
		EventID:        c.ID,
		ReportedStatus: reported,
		InvoiceRef:     invoiceRef,
		Timestamp:      ts,
		Amount:         c.Amount.String(),
		Currency:       strings.ToUpper(c.Currency),
		PaymentMethod:  c.PaymentMethod,
	}, nil
}

func (v *Verifier) validSignature(raw []byte, signature string) bool {
	if len(v.secret) == 0 {
		return false
	}
	got, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil || len(got) == 0 {
		return false
	}
	mac := hmac.New(sha256.New, v.secret)
	mac.Write(raw)
	return hmac.Equal(got, mac.Sum(nil))
}

// payload accepts both a bare checkout object and the {"type", "data"}
// envelope Chargily wraps it in.
type payload struct {
	checkoutFields
	Type string          `json:"type"`
	Data *checkoutFields `json:"data"`
}

func (p *payload) checkout() *checkoutFields {
	if p.Data != nil {
		return p.Data
	}
	return &p.checkoutFields
}

type checkoutFields struct {
	ID            string          `json:"id"`
	Status        string          `json:"status"`
	Amount        json.Number     `json:"amount"`
	Currency      string          `json:"currency"`
	CreatedAt     json.RawMessage `json:"created_at"`
	PaymentMethod string          `json:"payment_method"`
	Metadata      json.RawMessage `json:"metadata"`
}

// invoiceRef reads metadata.invoice_id. Empty metadata may arrive as [] or null.
func (c *checkoutFields) invoiceRef() (string, error) {
	raw := bytes.TrimSpace(c.Metadata)
	if len(raw) == 0 || raw[0] != '{' {
		return "", nil
	}
	var meta map[string]any
	if err := json.Unmarshal(raw, &meta); err != nil {
		return "", domainErrors.NewDomainError("malformed_payload", "metadata is not an object", domainErrors.ErrMalformedPayload)
	}
	switch v := meta["invoice_id"].(type) {
	case string:
		return strings.TrimSpace(v), nil
	case nil:
		return "", nil
	default:
		return "", domainErrors.NewDomainError("malformed_payload", "metadata.invoice_id must be a string", domainErrors.ErrMalformedPayload)
	}
}

// timestamp parses created_at as unix seconds, given as a number or a string.
func (c *checkoutFields) timestamp() (time.Time, error) {
	raw := strings.Trim(string(bytes.TrimSpace(c.CreatedAt)), `"`)
	if raw == "" || raw == "null" {
		return time.Time{}, nil
	}
	secs, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, domainErrors.NewDomainError("malformed_payload", "created_at is not a unix timestamp", domainErrors.ErrMalformedPayload)
	}
	return time.Unix(secs, 0).UTC(), nil
}
