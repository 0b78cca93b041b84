package controller

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	domainErrors "github.com/cassiomorais/invoicing/internal/domain/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteJSON(t *testing.T) {
	tests := []struct {
		name         string
		status       int
		payload      any
		expectedBody string
	}{
		{
			name:         "simple map",
			status:       http.StatusOK,
			payload:      map[string]string{"status": "ok"},
			expectedBody: `{"status":"ok"}`,
		},
		{
			name:         "error response",
			status:       http.StatusBadRequest,
			payload:      ErrorResponse{Error: "bad request", Code: "invalid_input"},
			expectedBody: `{"error":"bad request","code":"invalid_input"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			writeJSON(w, tt.status, tt.payload)

			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
			assert.JSONEq(t, tt.expectedBody, w.Body.String())
		})
	}
}

func TestWriteError_ValidationError(t *testing.T) {
	w := httptest.NewRecorder()
	writeError(w, domainErrors.NewValidationError("success_url", "is required"))

	assert.Equal(t, http.StatusBadRequest, w.Code)

	var response ErrorResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	assert.Equal(t, "validation_error", response.Code)
	assert.Contains(t, response.Error, "success_url")
}

func TestWriteError_Mappings(t *testing.T) {
	tests := []struct {
		name           string
		err            error
		expectedStatus int
		expectedCode   string
	}{
		{"invalid signature", domainErrors.ErrInvalidSignature, http.StatusUnauthorized, "invalid_signature"},
		{"missing fields", domainErrors.NewDomainError("missing_fields", "missing id", domainErrors.ErrMissingFields), http.StatusBadRequest, "missing_fields"},
		{"malformed payload", domainErrors.NewDomainError("malformed_payload", "bad json", domainErrors.ErrMalformedPayload), http.StatusBadRequest, "malformed_payload"},
		{"unknown invoice", domainErrors.NewDomainError("unknown_invoice", "no invoice", domainErrors.ErrUnknownInvoice), http.StatusNotFound, "unknown_invoice"},
		{"invoice not found", domainErrors.ErrInvoiceNotFound, http.StatusNotFound, "not_found"},
		{"illegal transition", domainErrors.NewDomainError("illegal_transition", "no", domainErrors.ErrIllegalTransition), http.StatusConflict, "illegal_transition"},
		{"invalid state", domainErrors.NewDomainError("invalid_state", "no", domainErrors.ErrInvalidState), http.StatusConflict, "invalid_state"},
		{"reconciliation conflict", domainErrors.ErrReconciliationConflict, http.StatusConflict, "conflict"},
		{"lock", fmt.Errorf("%w: invoice x", domainErrors.ErrLockAcquisitionFailed), http.StatusServiceUnavailable, "busy"},
		{"gateway timeout", domainErrors.NewGatewayError(domainErrors.GatewayTimeout, "chargily", nil), http.StatusGatewayTimeout, "gateway_timeout"},
		{"gateway rejected", domainErrors.NewGatewayError(domainErrors.GatewayRejectedRequest, "chargily", nil), http.StatusBadGateway, "gateway_rejected"},
		{"gateway unauthorized", domainErrors.NewGatewayError(domainErrors.GatewayUnauthorized, "chargily", nil), http.StatusBadGateway, "gateway_unauthorized"},
		{"gateway unavailable", domainErrors.NewGatewayError(domainErrors.GatewayUnavailable, "chargily", nil), http.StatusBadGateway, "gateway_unavailable"},
		{"unauthorized", domainErrors.ErrUnauthorized, http.StatusUnauthorized, "unauthorized"},
		{"forbidden", domainErrors.ErrForbidden, http.StatusForbidden, "forbidden"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			writeError(w, tt.err)

			assert.Equal(t, tt.expectedStatus, w.Code)

			var response ErrorResponse
			require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
			assert.Equal(t, tt.expectedCode, response.Code)
		})
	}
}

func TestWriteError_GenericDomainError(t *testing.T) {
	w := httptest.NewRecorder()
	writeError(w, domainErrors.NewDomainError("custom_error", "custom error message", nil))

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	var response ErrorResponse
	json.NewDecoder(w.Body).Decode(&response)
	assert.Equal(t, "custom_error", response.Code)
	assert.Equal(t, "custom error message", response.Error)
}

func TestWriteError_UnknownError_FallbackToInternalServerError(t *testing.T) {
	w := httptest.NewRecorder()
	writeError(w, errors.New("pq: connection refused"))

	assert.Equal(t, http.StatusInternalServerError, w.Code)

	var response ErrorResponse
	json.NewDecoder(w.Body).Decode(&response)
	assert.Equal(t, "internal_error", response.Code)
	assert.Equal(t, "internal server error", response.Error)
}

func TestDecodeAndValidate_CreateInvoice(t *testing.T) {
	body := `{"order_id":"order-1","amount":"2500.50"}`
	req := httptest.NewRequest("POST", "/test", strings.NewReader(body))

	var result CreateInvoiceRequest
	require.NoError(t, decodeAndValidate(req, &result))
	assert.Equal(t, "order-1", result.OrderID)
	assert.Equal(t, "2500.5", result.Amount.String())
}

func TestDecodeAndValidate_NumericAmount(t *testing.T) {
	req := httptest.NewRequest("POST", "/test", strings.NewReader(`{"order_id":"o","amount":12.75}`))

	var result CreateInvoiceRequest
	require.NoError(t, decodeAndValidate(req, &result))
	assert.Equal(t, "12.75", result.Amount.String())
}

func TestDecodeAndValidate_InvalidJSON(t *testing.T) {
	req := httptest.NewRequest("POST", "/test", strings.NewReader(`{invalid json}`))

	var result CreateInvoiceRequest
	err := decodeAndValidate(req, &result)

	var validationErr *domainErrors.ValidationError
	require.ErrorAs(t, err, &validationErr)
	assert.Equal(t, "body", validationErr.Field)
	assert.Contains(t, validationErr.Message, "invalid JSON")
}

func TestDecodeAndValidate_CheckoutRules(t *testing.T) {
	tests := []struct {
		name  string
		body  string
		field string
	}{
		{"missing success url", `{"failure_url":"https://a.example/f"}`, "SuccessURL"},
		{"bad failure url", `{"success_url":"https://a.example/s","failure_url":"nope"}`, "FailureURL"},
		{"unknown payment method", `{"success_url":"https://a.example/s","failure_url":"https://a.example/f","payment_method":"paypal"}`, "PaymentMethod"},
		{"unknown locale", `{"success_url":"https://a.example/s","failure_url":"https://a.example/f","locale":"de"}`, "Locale"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/test", strings.NewReader(tt.body))

			var result InitiateCheckoutRequest
			err := decodeAndValidate(req, &result)

			var validationErr *domainErrors.ValidationError
			require.ErrorAs(t, err, &validationErr)
			assert.Equal(t, tt.field, validationErr.Field)
			assert.Contains(t, validationErr.Message, "validation failed")
		})
	}
}

func TestParseInvoiceID(t *testing.T) {
	_, err := parseInvoiceID("not-a-uuid")
	var validationErr *domainErrors.ValidationError
	require.ErrorAs(t, err, &validationErr)
	assert.Equal(t, "id", validationErr.Field)

	id, err := parseInvoiceID("3f1c2a9e-4b7d-4e2a-9c1f-0a8b7c6d5e4f")
	require.NoError(t, err)
	assert.Equal(t, "3f1c2a9e-4b7d-4e2a-9c1f-0a8b7c6d5e4f", id.String())
}
