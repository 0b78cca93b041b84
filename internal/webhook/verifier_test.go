package webhook

import (
	"testing"
	"time"

	domainErrors "github.com/cassiomorais/invoicing/internal/domain/errors"
	"github.com/cassiomorais/invoicing/internal/domain/invoice"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "whsec_test"

const flatPayload = `{
	"id": "chk_1",
	"status": "paid",
	"amount": 2500,
	"currency": "dzd",
	"created_at": 1700000000,
	"payment_method": "edahabia",
	"metadata": {"invoice_id": "6f1c1a52-2b0e-4a4b-9c55-0d7bbf8e8a11"}
}`

func TestVerify_ValidFlatPayload(t *testing.T) {
	v := NewVerifier(secret)
	raw := []byte(flatPayload)

	ev, err := v.Verify(raw, Sign(secret, raw))
	require.NoError(t, err)

	assert.Equal(t, "chk_1", ev.EventID)
	assert.Equal(t, invoice.ReportedPaid, ev.ReportedStatus)
	assert.Equal(t, "6f1c1a52-2b0e-4a4b-9c55-0d7bbf8e8a11", ev.InvoiceRef)
	assert.Equal(t, time.Unix(1700000000, 0).UTC(), ev.Timestamp)
	assert.Equal(t, "2500", ev.Amount)
	assert.Equal(t, "DZD", ev.Currency)
	assert.Equal(t, "edahabia", ev.PaymentMethod)
}

func TestVerify_ChargilyEnvelope(t *testing.T) {
	v := NewVerifier(secret)
	raw := []byte(`{"id":"evt_9","type":"checkout.canceled","data":{"id":"chk_2","status":"cancelled",
		"amount":"1000","currency":"dzd","created_at":"1700000100","metadata":{"invoice_id":"inv-2"}}}`)

	ev, err := v.Verify(raw, Sign(secret, raw))
	require.NoError(t, err)

	assert.Equal(t, "chk_2", ev.EventID)
	assert.Equal(t, invoice.ReportedCanceled, ev.ReportedStatus)
	assert.Equal(t, "inv-2", ev.InvoiceRef)
	assert.Equal(t, time.Unix(1700000100, 0).UTC(), ev.Timestamp)
}

func TestVerify_SignatureGate(t *testing.T) {
	raw := []byte(flatPayload)

	tests := []struct {
		name      string
		secret    string
		signature string
	}{
		{"wrong secret", secret, Sign("other", raw)},
		{"empty header", secret, ""},
		{"not hex", secret, "zz-not-hex"},
		{"truncated", secret, Sign(secret, raw)[:32]},
		{"no secret configured", "", Sign("", raw)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := NewVerifier(tt.secret).Verify(raw, tt.signature)
			assert.Nil(t, ev)
			assert.ErrorIs(t, err, domainErrors.ErrInvalidSignature)
		})
	}
}

func TestVerify_TamperedBody(t *testing.T) {
	v := NewVerifier(secret)
	sig := Sign(secret, []byte(flatPayload))

	tampered := []byte(`{"id":"chk_1","status":"paid","metadata":{"invoice_id":"someone-else"}}`)
	_, err := v.Verify(tampered, sig)
	assert.ErrorIs(t, err, domainErrors.ErrInvalidSignature)
}

func TestVerify_SignatureIsCaseInsensitiveHex(t *testing.T) {
	v := NewVerifier(secret)
	raw := []byte(flatPayload)

	upper := []byte(Sign(secret, raw))
	for i, c := range upper {
		if c >= 'a' && c <= 'f' {
			upper[i] = c - 32
		}
	}
	_, err := v.Verify(raw, string(upper))
	assert.NoError(t, err)
}

func TestVerify_Rejections(t *testing.T) {
	tests := []struct {
		name string
		body string
		want error
	}{
		{"not json", `id=chk_1&status=paid`, domainErrors.ErrMalformedPayload},
		{"array", `[1,2,3]`, domainErrors.ErrMalformedPayload},
		{"unknown status", `{"id":"chk_1","status":"refunded","metadata":{"invoice_id":"inv-1"}}`, domainErrors.ErrMalformedPayload},
		{"bad created_at", `{"id":"chk_1","status":"paid","created_at":"yesterday","metadata":{"invoice_id":"inv-1"}}`, domainErrors.ErrMalformedPayload},
		{"numeric invoice id", `{"id":"chk_1","status":"paid","metadata":{"invoice_id":42}}`, domainErrors.ErrMalformedPayload},
		{"missing id", `{"status":"paid","metadata":{"invoice_id":"inv-1"}}`, domainErrors.ErrMissingFields},
		{"missing status", `{"id":"chk_1","metadata":{"invoice_id":"inv-1"}}`, domainErrors.ErrMissingFields},
		{"missing invoice ref", `{"id":"chk_1","status":"paid","metadata":{}}`, domainErrors.ErrMissingFields},
		{"metadata as empty list", `{"id":"chk_1","status":"paid","metadata":[]}`, domainErrors.ErrMissingFields},
	}

	v := NewVerifier(secret)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := []byte(tt.body)
			ev, err := v.Verify(raw, Sign(secret, raw))
			assert.Nil(t, ev)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestVerify_MissingFieldsNamesThem(t *testing.T) {
	v := NewVerifier(secret)
	raw := []byte(`{"metadata":null}`)

	_, err := v.Verify(raw, Sign(secret, raw))
	require.ErrorIs(t, err, domainErrors.ErrMissingFields)

	var dErr *domainErrors.DomainError
	require.ErrorAs(t, err, &dErr)
	assert.Equal(t, "missing id, status, metadata.invoice_id", dErr.Message)
}
