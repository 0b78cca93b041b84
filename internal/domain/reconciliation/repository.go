package reconciliation

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	// Get returns the entry for eventID, or nil when the event was never recorded
	Get(ctx context.Context, eventID string) (*Entry, error)

	// Record inserts the entry unless one already exists for its EventID.
	// inserted is false when another caller recorded it first.
	Record(ctx context.Context, entry *Entry) (inserted bool, err error)

	// ListByInvoice returns every entry recorded for an invoice, oldest first
	ListByInvoice(ctx context.Context, invoiceID uuid.UUID) ([]*Entry, error)
}
