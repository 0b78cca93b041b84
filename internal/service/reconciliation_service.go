package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domainErrors "github.com/cassiomorais/invoicing/internal/domain/errors"
	"github.com/cassiomorais/invoicing/internal/domain/invoice"
	"github.com/cassiomorais/invoicing/internal/domain/outbox"
	"github.com/cassiomorais/invoicing/internal/domain/reconciliation"
	"github.com/cassiomorais/invoicing/internal/infrastructure/observability"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/cassiomorais/invoicing/internal/service"

// errLostRace means another writer changed the invoice or logged the event
// between our read and our write. The apply is retried against fresh state.
var errLostRace = errors.New("lost race")

// ReconciliationService is the payment state machine. It is the only code
// path that moves an invoice out of PAYMENT_INITIATED.
type ReconciliationService struct {
	invoiceRepo invoice.Repository
	logRepo     reconciliation.Repository
	outboxRepo  outbox.Repository
	txManager   TransactionManager
	locker      Locker
	metrics     *observability.Metrics
	logger      zerolog.Logger
	tracer      trace.Tracer
}

func NewReconciliationService(
	invoiceRepo invoice.Repository,
	logRepo reconciliation.Repository,
	outboxRepo outbox.Repository,
	txManager TransactionManager,
	locker Locker,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *ReconciliationService {
	return &ReconciliationService{
		invoiceRepo: invoiceRepo,
		logRepo:     logRepo,
		outboxRepo:  outboxRepo,
		txManager:   txManager,
		locker:      locker,
		metrics:     metrics,
		logger:      logger,
		tracer:      otel.Tracer(tracerName),
	}
}

// Apply feeds one verified gateway event through the state machine. Events are
// applied in arrival order. Duplicates, post-terminal and pending events are
// successes that leave the invoice untouched.
func (s *ReconciliationService) Apply(ctx context.Context, ev *invoice.PaymentEvent) (*TransitionResult, error) {
	ctx, span := s.tracer.Start(ctx, "reconciliation.apply", trace.WithAttributes(
		attribute.String("invoice.ref", ev.InvoiceRef),
		attribute.String("event.id", ev.EventID),
		attribute.String("event.status", string(ev.ReportedStatus)),
	))
	defer span.End()

	start := time.Now()
	defer func() { s.metrics.ApplyDuration.Observe(time.Since(start).Seconds()) }()

	logger := observability.WithEvent(s.logger, ev.InvoiceRef, ev.EventID)

	res, err := s.apply(ctx, ev, logger)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.metrics.WebhookEvents.WithLabelValues("rejected").Inc()
		logger.Warn().Err(err).Str("reported_status", string(ev.ReportedStatus)).Msg("payment event rejected")
		return nil, err
	}

	span.SetAttributes(
		attribute.String("invoice.status", string(res.Status)),
		attribute.String("reconciliation.outcome", string(res.Outcome)),
	)
	s.metrics.WebhookEvents.WithLabelValues(string(res.Outcome)).Inc()

	evt := logger.Info()
	if res.Outcome != reconciliation.OutcomeApplied {
		evt = logger.Debug()
	}
	evt.Str("reported_status", string(ev.ReportedStatus)).
		Str("status", string(res.Status)).
		Str("outcome", string(res.Outcome)).
		Msg("payment event processed")

	return res, nil
}

func (s *ReconciliationService) apply(ctx context.Context, ev *invoice.PaymentEvent, logger zerolog.Logger) (*TransitionResult, error) {
	invoiceID, err := uuid.Parse(strings.TrimSpace(ev.InvoiceRef))
	if err != nil {
		return nil, unknownInvoice(ev.InvoiceRef)
	}
	if _, err := s.invoiceRepo.GetByID(ctx, invoiceID); err != nil {
		if errors.Is(err, domainErrors.ErrInvoiceNotFound) {
			return nil, unknownInvoice(ev.InvoiceRef)
		}
		return nil, err
	}

	unlock, err := lockInvoice(ctx, s.locker, s.metrics, invoiceID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	res, err := s.applyLocked(ctx, invoiceID, ev, logger)
	if errors.Is(err, errLostRace) {
		logger.Debug().Msg("concurrent writer won, re-reading state")
		res, err = s.applyLocked(ctx, invoiceID, ev, logger)
	}
	if errors.Is(err, errLostRace) {
		return nil, domainErrors.NewDomainError("reconciliation_conflict",
			"invoice "+invoiceID.String()+" changed twice while applying event "+ev.EventID,
			domainErrors.ErrReconciliationConflict)
	}
	return res, err
}

// applyLocked must run under the per-invoice lock. The compare-and-set and the
// unique log key still guard against a writer whose lock expired.
func (s *ReconciliationService) applyLocked(ctx context.Context, invoiceID uuid.UUID, ev *invoice.PaymentEvent, logger zerolog.Logger) (*TransitionResult, error) {
	result := &TransitionResult{InvoiceID: invoiceID, EventID: ev.EventID}

	prev, err := s.logRepo.Get(ctx, ev.EventID)
	if err != nil {
		return nil, fmt.Errorf("read reconciliation log: %w", err)
	}
	if prev != nil {
		// Event ids are gateway checkout ids and belong to exactly one invoice.
		if prev.InvoiceID != invoiceID {
			return nil, domainErrors.NewDomainError("event_invoice_mismatch",
				"event "+ev.EventID+" was recorded for invoice "+prev.InvoiceID.String()+", not "+invoiceID.String(),
				domainErrors.ErrIllegalTransition)
		}
		result.Status = prev.ResultingStatus
		result.Outcome = reconciliation.OutcomeDuplicate
		return result, nil
	}

	inv, err := s.invoiceRepo.GetByID(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	s.checkConsistency(inv, ev, logger)

	if inv.Status.IsTerminal() {
		entry := reconciliation.NewEntry(ev.EventID, invoiceID, ev.ReportedStatus, inv.Status, reconciliation.OutcomePostTerminal)
		inserted, err := s.logRepo.Record(ctx, entry)
		if err != nil {
			return nil, fmt.Errorf("record post-terminal event: %w", err)
		}
		if !inserted {
			return nil, errLostRace
		}
		logger.Warn().
			Str("status", string(inv.Status)).
			Str("reported_status", string(ev.ReportedStatus)).
			Msg("event arrived after invoice reached a final state")
		result.Status = inv.Status
		result.Outcome = reconciliation.OutcomePostTerminal
		return result, nil
	}

	next, err := invoice.NextStatus(inv.Status, ev.ReportedStatus)
	if err != nil {
		return nil, err
	}
	if next == inv.Status {
		result.Status = inv.Status
		result.Outcome = reconciliation.OutcomeNoop
		return result, nil
	}

	from := inv.Status
	if err := inv.TransitionTo(next, &ev.EventID); err != nil {
		return nil, err
	}

	err = s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		ok, err := s.invoiceRepo.CompareAndSet(txCtx, invoiceID, from, next, &ev.EventID)
		if err != nil {
			return err
		}
		if !ok {
			return errLostRace
		}

		entry := reconciliation.NewEntry(ev.EventID, invoiceID, ev.ReportedStatus, next, reconciliation.OutcomeApplied)
		inserted, err := s.logRepo.Record(txCtx, entry)
		if err != nil {
			return fmt.Errorf("record event: %w", err)
		}
		if !inserted {
			return errLostRace
		}

		return s.outboxRepo.Insert(txCtx, outbox.NewInvoiceEntry(invoiceID, statusEventType(next), map[string]any{
			"status":          string(next),
			"previous_status": string(from),
			"event_id":        ev.EventID,
			"reported_status": string(ev.ReportedStatus),
			"amount":          inv.Amount.Value.StringFixed(2),
			"currency":        inv.Amount.Currency,
		}))
	})
	if err != nil {
		return nil, err
	}

	s.metrics.InvoiceTransitions.WithLabelValues(string(from), string(next)).Inc()
	result.Status = next
	result.Outcome = reconciliation.OutcomeApplied
	return result, nil
}

// checkConsistency logs events that disagree with the invoice. The state
// machine trusts a verified event, so a mismatch is not a rejection.
func (s *ReconciliationService) checkConsistency(inv *invoice.Invoice, ev *invoice.PaymentEvent, logger zerolog.Logger) {
	if inv.TransactionID != nil && *inv.TransactionID != ev.EventID {
		logger.Warn().Str("transaction_id", *inv.TransactionID).Msg("event id differs from the invoice checkout id")
	}
	if ev.Currency != "" && !strings.EqualFold(ev.Currency, inv.Amount.Currency) {
		logger.Warn().Str("currency", ev.Currency).Str("invoice_currency", inv.Amount.Currency).Msg("event currency mismatch")
	}
	if ev.Amount != "" {
		if reported, err := decimal.NewFromString(ev.Amount); err == nil && !reported.Equal(inv.Amount.Value) {
			logger.Warn().Str("amount", ev.Amount).Str("invoice_amount", inv.Amount.Value.StringFixed(2)).Msg("event amount mismatch")
		}
	}
}

func lockInvoice(ctx context.Context, locker Locker, metrics *observability.Metrics, invoiceID uuid.UUID) (func(), error) {
	start := time.Now()
	unlock, err := locker.Lock(ctx, invoiceLockKey(invoiceID.String()))
	metrics.LockWaitSeconds.Observe(time.Since(start).Seconds())
	if err != nil {
		if errors.Is(err, domainErrors.ErrLockAcquisitionFailed) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: invoice %s: %w", domainErrors.ErrLockAcquisitionFailed, invoiceID, err)
	}
	return unlock, nil
}

func unknownInvoice(ref string) error {
	return domainErrors.NewDomainError("unknown_invoice", "no invoice matches "+ref, domainErrors.ErrUnknownInvoice)
}

func statusEventType(s invoice.Status) string {
	switch s {
	case invoice.StatusPaymentInitiated:
		return outbox.EventInvoicePaymentInitiated
	case invoice.StatusPaid:
		return outbox.EventInvoicePaid
	case invoice.StatusFailed:
		return outbox.EventInvoiceFailed
	case invoice.StatusExpired:
		return outbox.EventInvoiceExpired
	case invoice.StatusCanceled:
		return outbox.EventInvoiceCanceled
	default:
		return "invoice." + strings.ToLower(string(s))
	}
}
