package worker

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	domainErrors "github.com/cassiomorais/invoicing/internal/domain/errors"
	"github.com/cassiomorais/invoicing/internal/infrastructure/observability"
	infraRedis "github.com/cassiomorais/invoicing/internal/infrastructure/redis"
	"github.com/cassiomorais/invoicing/internal/service"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// MessageSource is a consumer-group view of the refresh stream.
type MessageSource interface {
	Read(ctx context.Context) ([]redis.XMessage, error)
	ClaimStale(ctx context.Context, minIdle time.Duration) ([]redis.XMessage, error)
	Ack(ctx context.Context, messageID string) error
}

// Refresher polls the gateway for one invoice and applies the answer.
type Refresher interface {
	Refresh(ctx context.Context, invoiceID uuid.UUID) (*service.TransitionResult, error)
}

// RetryQueue puts failed refreshes back, or parks them for good.
type RetryQueue interface {
	RefreshQueue
	PublishToDLQ(ctx context.Context, invoiceID string, reason string) error
}

type RefreshConsumerConfig struct {
	Concurrency int
	MaxAttempts int
	// ClaimAfter is how long a message may sit unacked with a dead consumer
	// before this one takes it over.
	ClaimAfter time.Duration
}

// RefreshConsumer drains the refresh stream through CheckoutService.Refresh.
type RefreshConsumer struct {
	source    MessageSource
	refresher Refresher
	queue     RetryQueue
	cfg       RefreshConsumerConfig
	metrics   *observability.Metrics
	logger    zerolog.Logger
}

func NewRefreshConsumer(
	source MessageSource,
	refresher Refresher,
	queue RetryQueue,
	cfg RefreshConsumerConfig,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *RefreshConsumer {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.ClaimAfter <= 0 {
		cfg.ClaimAfter = time.Minute
	}
	return &RefreshConsumer{
		source:    source,
		refresher: refresher,
		queue:     queue,
		cfg:       cfg,
		metrics:   metrics,
		logger:    logger,
	}
}

// ProcessBatch handles msgs with at most Concurrency refreshes in flight.
// Refreshes of one invoice still serialize on the invoice lock.
func (c *RefreshConsumer) ProcessBatch(ctx context.Context, msgs []redis.XMessage) {
	var g errgroup.Group
	g.SetLimit(c.cfg.Concurrency)
	for _, msg := range msgs {
		g.Go(func() error {
			c.handle(ctx, msg)
			return nil
		})
	}
	_ = g.Wait()
}

func (c *RefreshConsumer) handle(ctx context.Context, msg redis.XMessage) {
	start := time.Now()
	defer func() {
		c.metrics.WorkerProcessingDuration.WithLabelValues(infraRedis.RefreshStream).Observe(time.Since(start).Seconds())
	}()

	raw := fmt.Sprint(msg.Values["invoice_id"])
	invoiceID, err := uuid.Parse(raw)
	if err != nil {
		c.logger.Error().Str("raw", raw).Str("message_id", msg.ID).Msg("Invalid invoice ID in refresh message")
		c.done(ctx, msg, "invalid")
		return
	}
	attempt := messageAttempt(msg)
	logger := c.logger.With().Str("invoice_id", raw).Int("attempt", attempt).Logger()

	res, err := c.refresher.Refresh(ctx, invoiceID)
	switch {
	case err == nil:
		c.metrics.SweepRefreshed.WithLabelValues(string(res.Outcome)).Inc()
		logger.Debug().Str("outcome", string(res.Outcome)).Str("status", string(res.Status)).Msg("Checkout refreshed")
		c.done(ctx, msg, "success")

	case !transient(err):
		logger.Warn().Err(err).Msg("Dropping refresh")
		c.done(ctx, msg, "dropped")

	case attempt < c.cfg.MaxAttempts:
		if qerr := c.queue.RequestRefresh(ctx, raw, attempt+1); qerr != nil {
			// left unacked; ClaimStale hands it out again
			logger.Error().Err(qerr).Msg("Failed to requeue refresh")
			return
		}
		logger.Info().Err(err).Msg("Refresh failed, requeued")
		c.done(ctx, msg, "retried")

	default:
		if qerr := c.queue.PublishToDLQ(ctx, raw, err.Error()); qerr != nil {
			logger.Error().Err(qerr).Msg("Failed to dead-letter refresh")
			return
		}
		logger.Error().Err(err).Msg("Refresh failed for good, sent to DLQ")
		c.done(ctx, msg, "dead_lettered")
	}
}

func (c *RefreshConsumer) done(ctx context.Context, msg redis.XMessage, status string) {
	c.metrics.WorkerMessagesProcessed.WithLabelValues(infraRedis.RefreshStream, status).Inc()
	if err := c.source.Ack(ctx, msg.ID); err != nil {
		c.logger.Error().Err(err).Str("message_id", msg.ID).Msg("Failed to ack refresh message")
	}
}

// Run reclaims abandoned messages, then reads new ones, until ctx ends.
func (c *RefreshConsumer) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		claimed, err := c.source.ClaimStale(ctx, c.cfg.ClaimAfter)
		if err != nil && ctx.Err() == nil {
			c.logger.Error().Err(err).Msg("Failed to claim stale refresh messages")
		}
		c.ProcessBatch(ctx, claimed)

		msgs, err := c.source.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Error().Err(err).Msg("Failed to read from refresh stream")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}
		c.ProcessBatch(ctx, msgs)
	}
}

func messageAttempt(msg redis.XMessage) int {
	n, err := strconv.Atoi(fmt.Sprint(msg.Values["attempt"]))
	if err != nil || n < 1 {
		return 1
	}
	return n
}

// transient reports whether a later refresh could succeed where this one failed.
func transient(err error) bool {
	switch {
	case errors.Is(err, domainErrors.ErrGatewayTimeout),
		errors.Is(err, domainErrors.ErrGatewayUnavailable),
		errors.Is(err, domainErrors.ErrLockAcquisitionFailed),
		errors.Is(err, domainErrors.ErrReconciliationConflict):
		return true
	}

	var domainErr *domainErrors.DomainError
	var gatewayErr *domainErrors.GatewayError
	var validationErr *domainErrors.ValidationError
	if errors.As(err, &domainErr) || errors.As(err, &gatewayErr) || errors.As(err, &validationErr) {
		return false
	}
	// store and network failures
	return !errors.Is(err, domainErrors.ErrInvoiceNotFound)
}
