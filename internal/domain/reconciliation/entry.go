package reconciliation

import (
	"time"

	"github.com/cassiomorais/invoicing/internal/domain/invoice"
	"github.com/google/uuid"
)

// Outcome tells how an event was absorbed by the state machine.
type Outcome string

const (
	// OutcomeApplied means the event moved the invoice to ResultingStatus.
	OutcomeApplied Outcome = "applied"
	// OutcomePostTerminal means the event arrived after the invoice was final.
	OutcomePostTerminal Outcome = "post_terminal"
	// OutcomeDuplicate is never stored; it is reported for replays of a logged event.
	OutcomeDuplicate Outcome = "duplicate"
	// OutcomeNoop is never stored; it is reported for pending events.
	OutcomeNoop Outcome = "noop"
)

// Entry records that a gateway event was processed. At most one entry exists
// per EventID.
type Entry struct {
	EventID         string
	InvoiceID       uuid.UUID
	ReportedStatus  invoice.ReportedStatus
	ResultingStatus invoice.Status
	Outcome         Outcome
	AppliedAt       time.Time
}

func NewEntry(eventID string, invoiceID uuid.UUID, reported invoice.ReportedStatus, resulting invoice.Status, outcome Outcome) *Entry {
	return &Entry{
		EventID:         eventID,
		InvoiceID:       invoiceID,
		ReportedStatus:  reported,
		ResultingStatus: resulting,
		Outcome:         outcome,
		AppliedAt:       time.Now().UTC(),
	}
}
