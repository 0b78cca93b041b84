package worker

import (
	"context"
	"time"

	"github.com/cassiomorais/invoicing/internal/domain/outbox"
	"github.com/rs/zerolog"
)

// IdempotencyCleaner drops expired idempotency keys.
type IdempotencyCleaner interface {
	Cleanup(ctx context.Context) (int64, error)
}

// Housekeeper trims tables that only grow: expired idempotency keys and
// outbox entries published longer ago than the retention window.
type Housekeeper struct {
	idempotency IdempotencyCleaner
	outboxRepo  outbox.Repository
	retention   time.Duration
	logger      zerolog.Logger
	now         func() time.Time
}

func NewHousekeeper(idempotency IdempotencyCleaner, outboxRepo outbox.Repository, retention time.Duration, logger zerolog.Logger) *Housekeeper {
	if retention <= 0 {
		retention = 7 * 24 * time.Hour
	}
	return &Housekeeper{
		idempotency: idempotency,
		outboxRepo:  outboxRepo,
		retention:   retention,
		logger:      logger,
		now:         time.Now,
	}
}

// CleanOnce runs both cleanups. A failing one does not stop the other.
func (h *Housekeeper) CleanOnce(ctx context.Context) {
	if n, err := h.idempotency.Cleanup(ctx); err != nil {
		h.logger.Error().Err(err).Msg("Idempotency cleanup failed")
	} else if n > 0 {
		h.logger.Info().Int64("deleted", n).Msg("Expired idempotency keys removed")
	}

	if n, err := h.outboxRepo.Purge(ctx, h.now().Add(-h.retention)); err != nil {
		h.logger.Error().Err(err).Msg("Outbox purge failed")
	} else if n > 0 {
		h.logger.Info().Int64("deleted", n).Msg("Published outbox entries purged")
	}
}

func (h *Housekeeper) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			h.CleanOnce(ctx)
		}
	}
}
