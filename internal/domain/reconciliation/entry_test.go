package reconciliation

import (
	"testing"

	"github.com/cassiomorais/invoicing/internal/domain/invoice"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestNewEntry(t *testing.T) {
	invoiceID := uuid.New()
	entry := NewEntry("chk_1", invoiceID, invoice.ReportedPaid, invoice.StatusPaid, OutcomeApplied)

	assert.Equal(t, "chk_1", entry.EventID)
	assert.Equal(t, invoiceID, entry.InvoiceID)
	assert.Equal(t, invoice.ReportedPaid, entry.ReportedStatus)
	assert.Equal(t, invoice.StatusPaid, entry.ResultingStatus)
	assert.Equal(t, OutcomeApplied, entry.Outcome)
	assert.False(t, entry.AppliedAt.IsZero())
}

func TestOutcome_Constants(t *testing.T) {
	assert.Equal(t, Outcome("applied"), OutcomeApplied)
	assert.Equal(t, Outcome("post_terminal"), OutcomePostTerminal)
	assert.Equal(t, Outcome("duplicate"), OutcomeDuplicate)
	assert.Equal(t, Outcome("noop"), OutcomeNoop)
}
