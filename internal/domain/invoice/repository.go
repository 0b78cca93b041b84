package invoice

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository defines the interface for invoice persistence
type Repository interface {
	// Create stores a new invoice
	Create(ctx context.Context, inv *Invoice) error

	// GetByID retrieves an invoice by ID
	GetByID(ctx context.Context, id uuid.UUID) (*Invoice, error)

	// CompareAndSet moves the invoice from expected to next. transactionID is
	// stored only when non-nil and the invoice has none yet. It returns false
	// when the invoice was not in the expected status.
	CompareAndSet(ctx context.Context, id uuid.UUID, expected, next Status, transactionID *string) (bool, error)

	// List lists invoices with filters
	List(ctx context.Context, filter ListFilter) ([]*Invoice, error)

	// ListStale returns invoices that have sat in status since before olderThan
	ListStale(ctx context.Context, status Status, olderThan time.Time, limit int) ([]*Invoice, error)

	// Stats counts and sums invoices by status, scoped to userID when non-nil
	Stats(ctx context.Context, userID *string) (*Stats, error)
}

// ListFilter defines filters for listing invoices
type ListFilter struct {
	UserID    *string
	Status    *Status
	Limit     int
	Offset    int
	SortOrder string
}
