package invoice

import (
	"strings"
	"time"

	"github.com/cassiomorais/invoicing/internal/domain/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Status represents the invoice payment status in the state machine
type Status string

const (
	StatusCreated          Status = "CREATED"
	StatusPaymentInitiated Status = "PAYMENT_INITIATED"
	StatusPaid             Status = "PAID"
	StatusFailed           Status = "FAILED"
	StatusExpired          Status = "EXPIRED"
	StatusCanceled         Status = "CANCELED"
)

// IsTerminal reports whether no further transition is allowed out of s.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusPaid, StatusFailed, StatusExpired, StatusCanceled:
		return true
	}
	return false
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusCreated, StatusPaymentInitiated:
		return true
	}
	return s.IsTerminal()
}

// Invoice represents an invoice entity
type Invoice struct {
	ID            uuid.UUID
	UserID        string
	OrderID       string
	Description   string
	Amount        Amount
	Status        Status
	TransactionID *string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	CompletedAt   *time.Time
}

// Amount is a monetary value in major currency units.
type Amount struct {
	Value    decimal.Decimal
	Currency string
}

// String returns a human-readable representation of the amount.
func (a Amount) String() string {
	return a.Value.StringFixed(2) + " " + a.Currency
}

// Validate checks that the amount is valid.
func (a Amount) Validate() error {
	if !a.Value.IsPositive() {
		return errors.NewValidationError("amount", "must be greater than 0")
	}
	// The gateway charges whole units only.
	if !a.Value.Equal(a.Value.Truncate(0)) {
		return errors.NewValidationError("amount", "must be a whole number of currency units")
	}
	if a.Currency == "" {
		return errors.NewValidationError("currency", "cannot be empty")
	}
	if len(a.Currency) != 3 {
		return errors.NewValidationError("currency", "must be a 3-letter ISO code")
	}
	return nil
}

// NewInvoice creates a new invoice in CREATED state
func NewInvoice(userID, orderID, description string, amount Amount) (*Invoice, error) {
	amount.Currency = strings.ToUpper(strings.TrimSpace(amount.Currency))
	if err := amount.Validate(); err != nil {
		return nil, err
	}
	if orderID == "" {
		return nil, errors.NewValidationError("order_id", "cannot be empty")
	}

	now := time.Now().UTC()
	return &Invoice{
		ID:          uuid.New(),
		UserID:      userID,
		OrderID:     orderID,
		Description: description,
		Amount:      amount,
		Status:      StatusCreated,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// IsTerminal checks if the invoice is in a terminal state
func (i *Invoice) IsTerminal() bool {
	return i.Status.IsTerminal()
}

// CanTransitionTo checks if the invoice can move to the given status
func (i *Invoice) CanTransitionTo(next Status) bool {
	transitions := map[Status][]Status{
		StatusCreated: {
			StatusPaymentInitiated,
		},
		StatusPaymentInitiated: {
			StatusPaid,
			StatusFailed,
			StatusExpired,
			StatusCanceled,
		},
	}

	for _, allowed := range transitions[i.Status] {
		if allowed == next {
			return true
		}
	}
	return false
}

// TransitionTo moves the in-memory invoice to a new status. Persisting the
// change is the caller's job, through Repository.CompareAndSet.
func (i *Invoice) TransitionTo(next Status, transactionID *string) error {
	if !i.CanTransitionTo(next) {
		return errors.NewDomainError(
			"illegal_transition",
			"cannot transition from "+string(i.Status)+" to "+string(next),
			errors.ErrIllegalTransition,
		)
	}

	now := time.Now().UTC()
	i.Status = next
	i.UpdatedAt = now
	if transactionID != nil && i.TransactionID == nil {
		i.TransactionID = transactionID
	}
	if next.IsTerminal() {
		i.CompletedAt = &now
	}
	return nil
}

// NextStatus maps a gateway-reported status to the status the invoice should
// move to from current. A pending report on PAYMENT_INITIATED returns current
// unchanged. Terminal states are handled by the caller before this is asked.
func NextStatus(current Status, reported ReportedStatus) (Status, error) {
	if current == StatusPaymentInitiated {
		switch reported {
		case ReportedPending:
			return StatusPaymentInitiated, nil
		case ReportedPaid:
			return StatusPaid, nil
		case ReportedFailed:
			return StatusFailed, nil
		case ReportedExpired:
			return StatusExpired, nil
		case ReportedCanceled:
			return StatusCanceled, nil
		}
	}
	return "", errors.NewDomainError(
		"illegal_transition",
		"no transition from "+string(current)+" on reported status "+string(reported),
		errors.ErrIllegalTransition,
	)
}
