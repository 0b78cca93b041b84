package errors

import (
	"errors"
	"fmt"
)

var (
	// Invoice errors
	ErrInvoiceNotFound   = errors.New("invoice not found")
	ErrUnknownInvoice    = errors.New("unknown invoice")
	ErrInvalidAmount     = errors.New("invalid amount")
	ErrInvalidCurrency   = errors.New("invalid currency")
	ErrInvalidState      = errors.New("invalid invoice state")
	ErrIllegalTransition = errors.New("illegal state transition")

	// Webhook errors
	ErrInvalidSignature = errors.New("invalid webhook signature")
	ErrMalformedPayload = errors.New("malformed webhook payload")
	ErrMissingFields    = errors.New("webhook payload missing required fields")

	// Reconciliation errors
	ErrReconciliationConflict = errors.New("reconciliation conflict")

	// Gateway errors
	ErrGatewayNotFound     = errors.New("payment gateway not found")
	ErrGatewayTimeout      = errors.New("payment gateway timeout")
	ErrGatewayRejected     = errors.New("payment gateway rejected request")
	ErrGatewayUnauthorized = errors.New("payment gateway unauthorized")
	ErrGatewayUnavailable  = errors.New("payment gateway unavailable")

	// Idempotency errors
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")

	// Lock errors
	ErrLockAcquisitionFailed = errors.New("failed to acquire lock")
	ErrLockNotHeld           = errors.New("lock not held")

	// Validation errors
	ErrValidationFailed = errors.New("validation failed")
	ErrInvalidInput     = errors.New("invalid input")

	// Authorization errors
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
)

// DomainError wraps errors with additional context
type DomainError struct {
	Code    string
	Message string
	Err     error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError creates a new domain error
func NewDomainError(code, message string, err error) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// ValidationError represents a validation error
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for field %s: %s", e.Field, e.Message)
}

// NewValidationError creates a new validation error
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}

// GatewayErrorKind classifies a failed gateway call.
type GatewayErrorKind string

const (
	GatewayTimeout         GatewayErrorKind = "timeout"
	GatewayRejectedRequest GatewayErrorKind = "rejected_request"
	GatewayUnauthorized    GatewayErrorKind = "unauthorized"
	GatewayUnavailable     GatewayErrorKind = "unavailable"
)

// GatewayError is returned for any failed call to an external payment gateway.
// errors.Is matches it against the sentinel for its Kind.
type GatewayError struct {
	Kind       GatewayErrorKind
	Provider   string
	StatusCode int
	Message    string
	Err        error
}

func (e *GatewayError) Error() string {
	msg := fmt.Sprintf("gateway %s: %s", e.Provider, e.Kind)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (http %d)", e.StatusCode)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *GatewayError) Unwrap() []error {
	errs := []error{e.Kind.sentinel()}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// NewGatewayError creates a new gateway error
func NewGatewayError(kind GatewayErrorKind, provider string, err error) *GatewayError {
	return &GatewayError{
		Kind:     kind,
		Provider: provider,
		Err:      err,
	}
}

func (k GatewayErrorKind) sentinel() error {
	switch k {
	case GatewayTimeout:
		return ErrGatewayTimeout
	case GatewayRejectedRequest:
		return ErrGatewayRejected
	case GatewayUnauthorized:
		return ErrGatewayUnauthorized
	default:
		return ErrGatewayUnavailable
	}
}
