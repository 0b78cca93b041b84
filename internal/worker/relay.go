// Package worker holds the background loops of the invoicing worker: the
// outbox relay, the stale-checkout sweeper, the refresh consumer and
// housekeeping.
package worker

import (
	"context"
	"time"

	"github.com/cassiomorais/invoicing/internal/domain/outbox"
	"github.com/cassiomorais/invoicing/internal/infrastructure/observability"
	infraRedis "github.com/cassiomorais/invoicing/internal/infrastructure/redis"
	"github.com/cassiomorais/invoicing/internal/service"
	"github.com/cassiomorais/invoicing/pkg/retry"
	"github.com/rs/zerolog"
)

// EventPublisher delivers invoice lifecycle events downstream.
type EventPublisher interface {
	PublishInvoiceEvent(ctx context.Context, entry *outbox.Entry) error
}

// OutboxRelay moves committed outbox entries to the invoice event stream.
type OutboxRelay struct {
	outboxRepo outbox.Repository
	txManager  service.TransactionManager
	publisher  EventPublisher
	batchSize  int
	retry      retry.Config
	metrics    *observability.Metrics
	logger     zerolog.Logger
}

func NewOutboxRelay(
	outboxRepo outbox.Repository,
	txManager service.TransactionManager,
	publisher EventPublisher,
	batchSize int,
	retryCfg retry.Config,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *OutboxRelay {
	if batchSize <= 0 {
		batchSize = 10
	}
	if retryCfg.MaxAttempts == 0 {
		retryCfg = retry.Config{MaxAttempts: 3, InitialDelay: 100 * time.Millisecond, MaxDelay: time.Second}
	}
	return &OutboxRelay{
		outboxRepo: outboxRepo,
		txManager:  txManager,
		publisher:  publisher,
		batchSize:  batchSize,
		retry:      retryCfg,
		metrics:    metrics,
		logger:     logger,
	}
}

// RelayOnce publishes one batch of pending entries and reports how many made
// it out. Rows stay locked for the surrounding transaction, so concurrent
// relays never publish the same entry twice.
func (r *OutboxRelay) RelayOnce(ctx context.Context) (int, error) {
	published := 0
	err := r.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		entries, err := r.outboxRepo.GetPending(txCtx, r.batchSize)
		if err != nil {
			return err
		}

		for _, entry := range entries {
			err := retry.Do(ctx, r.retry, func() error {
				return r.publisher.PublishInvoiceEvent(ctx, entry)
			})
			if err != nil {
				r.logger.Error().Err(err).
					Str("outbox_id", entry.ID.String()).
					Str("invoice_id", entry.AggregateID.String()).
					Str("event_type", entry.EventType).
					Msg("Failed to publish outbox event")
				r.metrics.WorkerMessagesProcessed.WithLabelValues(infraRedis.InvoiceEventStream, "failed").Inc()
				if err := r.outboxRepo.MarkFailed(txCtx, entry.ID); err != nil {
					return err
				}
				continue
			}

			if err := r.outboxRepo.MarkPublished(txCtx, entry.ID); err != nil {
				return err
			}
			published++
			r.metrics.WorkerMessagesProcessed.WithLabelValues(infraRedis.InvoiceEventStream, "success").Inc()
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return published, nil
}

// Run relays on every tick until ctx ends.
func (r *OutboxRelay) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		if _, err := r.RelayOnce(ctx); err != nil && ctx.Err() == nil {
			r.logger.Error().Err(err).Msg("Outbox relay error")
		}
	}
}
