package worker

import (
	"context"
	"errors"
	"time"

	domainErrors "github.com/cassiomorais/invoicing/internal/domain/errors"
	"github.com/cassiomorais/invoicing/internal/domain/invoice"
	"github.com/cassiomorais/invoicing/internal/infrastructure/observability"
	"github.com/cassiomorais/invoicing/internal/service"
	"github.com/rs/zerolog"
)

const sweepLockKey = "sweeper:leader"

// RefreshQueue takes invoices whose checkout status should be polled.
type RefreshQueue interface {
	RequestRefresh(ctx context.Context, invoiceID string, attempt int) error
}

// Sweeper finds checkouts whose webhook never arrived and queues a status
// poll for each.
type Sweeper struct {
	invoiceRepo invoice.Repository
	leader      service.Locker
	queue       RefreshQueue
	staleAfter  time.Duration
	batchSize   int
	metrics     *observability.Metrics
	logger      zerolog.Logger
	now         func() time.Time
}

func NewSweeper(
	invoiceRepo invoice.Repository,
	leader service.Locker,
	queue RefreshQueue,
	staleAfter time.Duration,
	batchSize int,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *Sweeper {
	if batchSize <= 0 {
		batchSize = 50
	}
	return &Sweeper{
		invoiceRepo: invoiceRepo,
		leader:      leader,
		queue:       queue,
		staleAfter:  staleAfter,
		batchSize:   batchSize,
		metrics:     metrics,
		logger:      logger,
		now:         time.Now,
	}
}

// SweepOnce queues every invoice that has sat in PAYMENT_INITIATED for longer
// than staleAfter. An instance that cannot take the leader lock skips the round.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	unlock, err := s.leader.Lock(ctx, sweepLockKey)
	if err != nil {
		if errors.Is(err, domainErrors.ErrLockAcquisitionFailed) {
			s.logger.Debug().Msg("Another instance is sweeping")
			return 0, nil
		}
		return 0, err
	}
	defer unlock()

	stale, err := s.invoiceRepo.ListStale(ctx, invoice.StatusPaymentInitiated, s.now().Add(-s.staleAfter), s.batchSize)
	if err != nil {
		return 0, err
	}

	queued := 0
	for _, inv := range stale {
		if err := s.queue.RequestRefresh(ctx, inv.ID.String(), 1); err != nil {
			s.logger.Error().Err(err).Str("invoice_id", inv.ID.String()).Msg("Failed to queue refresh")
			continue
		}
		queued++
		s.metrics.SweepRefreshed.WithLabelValues("queued").Inc()
	}

	if queued > 0 {
		s.logger.Info().Int("queued", queued).Msg("Queued stale checkouts for refresh")
	}
	return queued, nil
}

func (s *Sweeper) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		if _, err := s.SweepOnce(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error().Err(err).Msg("Sweep failed")
		}
	}
}
