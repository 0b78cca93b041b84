package outbox

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository stores invoice lifecycle events until the relay publishes them.
type Repository interface {
	// Insert must run in the same transaction as the invoice change it reports.
	Insert(ctx context.Context, entry *Entry) error

	// GetPending returns up to limit unpublished entries, oldest first.
	GetPending(ctx context.Context, limit int) ([]*Entry, error)

	MarkPublished(ctx context.Context, id uuid.UUID) error

	// MarkFailed counts a failed publish; the entry is abandoned once it
	// reaches MaxRetries.
	MarkFailed(ctx context.Context, id uuid.UUID) error

	// Purge deletes entries published before olderThan.
	Purge(ctx context.Context, olderThan time.Time) (int64, error)
}
