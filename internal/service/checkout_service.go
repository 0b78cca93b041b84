package service

import (
	"context"
	"errors"
	"strings"
	"time"

	domainErrors "github.com/cassiomorais/invoicing/internal/domain/errors"
	"github.com/cassiomorais/invoicing/internal/domain/invoice"
	"github.com/cassiomorais/invoicing/internal/domain/outbox"
	"github.com/cassiomorais/invoicing/internal/domain/reconciliation"
	"github.com/cassiomorais/invoicing/internal/infrastructure/observability"
	"github.com/cassiomorais/invoicing/internal/infrastructure/providers"
	"github.com/cassiomorais/invoicing/pkg/retry"
	"github.com/cassiomorais/invoicing/pkg/saga"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const checkoutNeedsCreated = "checkout requires " + string(invoice.StatusCreated)

// CheckoutConfig holds the gateway-facing settings of CheckoutService.
type CheckoutConfig struct {
	Currency       string
	GatewayTimeout time.Duration
	StatusRetry    retry.Config
}

// CheckoutService starts payments at the gateway and polls their status.
type CheckoutService struct {
	invoiceRepo invoice.Repository
	outboxRepo  outbox.Repository
	txManager   TransactionManager
	locker      Locker
	gateway     providers.Gateway
	reconciler  *ReconciliationService
	cfg         CheckoutConfig
	metrics     *observability.Metrics
	logger      zerolog.Logger
	tracer      trace.Tracer
}

func NewCheckoutService(
	invoiceRepo invoice.Repository,
	outboxRepo outbox.Repository,
	txManager TransactionManager,
	locker Locker,
	gateway providers.Gateway,
	reconciler *ReconciliationService,
	cfg CheckoutConfig,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *CheckoutService {
	cfg.Currency = strings.ToUpper(cfg.Currency)
	if cfg.GatewayTimeout <= 0 {
		cfg.GatewayTimeout = 10 * time.Second
	}
	if cfg.StatusRetry.MaxAttempts == 0 {
		cfg.StatusRetry = retry.Config{MaxAttempts: 3, InitialDelay: 200 * time.Millisecond, MaxDelay: 2 * time.Second}
	}
	return &CheckoutService{
		invoiceRepo: invoiceRepo,
		outboxRepo:  outboxRepo,
		txManager:   txManager,
		locker:      locker,
		gateway:     gateway,
		reconciler:  reconciler,
		cfg:         cfg,
		metrics:     metrics,
		logger:      logger,
		tracer:      otel.Tracer(tracerName),
	}
}

// Initiate opens a gateway checkout for an invoice in CREATED and moves it to
// PAYMENT_INITIATED. A failed gateway call leaves the invoice in CREATED, so
// the caller may retry.
func (s *CheckoutService) Initiate(ctx context.Context, invoiceID uuid.UUID, req CheckoutRequest) (*CheckoutResult, error) {
	ctx, span := s.tracer.Start(ctx, "checkout.initiate", trace.WithAttributes(
		attribute.String("invoice.id", invoiceID.String()),
		attribute.String("gateway", s.gateway.Name()),
	))
	defer span.End()

	res, err := s.initiate(ctx, invoiceID, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.String("checkout.id", res.TransactionID))
	return res, nil
}

func (s *CheckoutService) initiate(ctx context.Context, invoiceID uuid.UUID, req CheckoutRequest) (*CheckoutResult, error) {
	logger := observability.WithEvent(s.logger, invoiceID.String(), "")

	inv, err := s.invoiceRepo.GetByID(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	if err := s.checkInitiable(inv, req); err != nil {
		return nil, err
	}

	unlock, err := lockInvoice(ctx, s.locker, s.metrics, invoiceID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	// Re-read under the lock; a concurrent initiate may have won.
	inv, err = s.invoiceRepo.GetByID(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	if inv.Status != invoice.StatusCreated {
		return nil, invalidState(inv, checkoutNeedsCreated)
	}

	var checkout *providers.CheckoutResult
	var txID string
	initiation := saga.New("initiate_checkout").
		AddStep(saga.Step{
			Name: "create_checkout",
			Execute: func(ctx context.Context) error {
				gctx, cancel := context.WithTimeout(ctx, s.cfg.GatewayTimeout)
				defer cancel()
				var err error
				checkout, err = s.gateway.CreateCheckout(gctx, providers.CheckoutRequest{
					InvoiceID:       inv.ID.String(),
					Amount:          inv.Amount.Value,
					Currency:        inv.Amount.Currency,
					PaymentMethod:   req.PaymentMethod,
					SuccessURL:      req.SuccessURL,
					FailureURL:      req.FailureURL,
					WebhookEndpoint: req.WebhookEndpoint,
					Description:     firstNonEmpty(req.Description, inv.Description),
					Locale:          req.Locale,
					CustomerID:      req.CustomerID,
					Metadata:        checkoutMetadata(inv, req),
				})
				if err != nil {
					return err
				}
				txID = checkout.CheckoutID
				return nil
			},
			// The checkout was never recorded, so no webhook for it can apply.
			Compensate: func(ctx context.Context) error {
				gctx, cancel := context.WithTimeout(ctx, s.cfg.GatewayTimeout)
				defer cancel()
				return s.gateway.ExpireCheckout(gctx, txID)
			},
		}).
		AddStep(saga.Step{
			Name: "record_initiation",
			Execute: func(ctx context.Context) error {
				return s.recordInitiation(ctx, inv, txID)
			},
		})

	if err := initiation.Execute(ctx); err != nil {
		var sagaErr *saga.Error
		if !errors.As(err, &sagaErr) {
			return nil, err
		}
		if sagaErr.Index == 0 {
			logger.Error().Err(sagaErr.Err).Str("gateway", s.gateway.Name()).Msg("checkout creation failed, invoice left in CREATED")
			return nil, sagaErr.Err
		}

		event := logger.Warn()
		if sagaErr.Compensation != nil {
			event = logger.Error().AnErr("compensation", sagaErr.Compensation)
		}
		event.Err(sagaErr.Err).Str("transaction_id", txID).Msg("checkout not recorded, gateway checkout expired")

		if errors.Is(sagaErr.Err, errLostRace) {
			// The lock expired and someone else moved the invoice on.
			current, getErr := s.invoiceRepo.GetByID(ctx, inv.ID)
			if getErr != nil {
				return nil, getErr
			}
			return nil, invalidState(current, checkoutNeedsCreated)
		}
		return nil, sagaErr.Err
	}

	s.metrics.InvoiceTransitions.WithLabelValues(string(invoice.StatusCreated), string(invoice.StatusPaymentInitiated)).Inc()
	logger.Info().Str("transaction_id", txID).Msg("payment initiated")

	return &CheckoutResult{
		InvoiceID:     inv.ID,
		PaymentURL:    checkout.PaymentURL,
		TransactionID: txID,
		CustomerID:    req.CustomerID,
		RedirectUser:  true,
	}, nil
}

// recordInitiation moves inv to PAYMENT_INITIATED and queues the event, in
// one transaction.
func (s *CheckoutService) recordInitiation(ctx context.Context, inv *invoice.Invoice, txID string) error {
	if err := inv.TransitionTo(invoice.StatusPaymentInitiated, &txID); err != nil {
		return err
	}
	return s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		ok, err := s.invoiceRepo.CompareAndSet(txCtx, inv.ID, invoice.StatusCreated, invoice.StatusPaymentInitiated, &txID)
		if err != nil {
			return err
		}
		if !ok {
			return errLostRace
		}
		return s.outboxRepo.Insert(txCtx, outbox.NewInvoiceEntry(inv.ID, outbox.EventInvoicePaymentInitiated, map[string]any{
			"status":         string(invoice.StatusPaymentInitiated),
			"transaction_id": txID,
			"gateway":        s.gateway.Name(),
			"amount":         inv.Amount.Value.StringFixed(2),
			"currency":       inv.Amount.Currency,
		}))
	})
}

func (s *CheckoutService) checkInitiable(inv *invoice.Invoice, req CheckoutRequest) error {
	if inv.Status != invoice.StatusCreated {
		return invalidState(inv, checkoutNeedsCreated)
	}
	if !strings.EqualFold(inv.Amount.Currency, s.cfg.Currency) {
		return domainErrors.NewValidationError("currency", "invoice currency "+inv.Amount.Currency+" is not supported, only "+s.cfg.Currency)
	}
	if req.Currency != "" && !strings.EqualFold(req.Currency, s.cfg.Currency) {
		return domainErrors.NewValidationError("currency", "only "+s.cfg.Currency+" is supported")
	}
	if req.Amount != nil && !req.Amount.Equal(inv.Amount.Value) {
		return domainErrors.NewValidationError("amount", "does not match the invoice amount "+inv.Amount.Value.StringFixed(2))
	}
	if req.SuccessURL == "" {
		return domainErrors.NewValidationError("success_url", "is required")
	}
	if req.FailureURL == "" {
		return domainErrors.NewValidationError("failure_url", "is required")
	}
	return nil
}

// Refresh asks the gateway for the checkout's current status and feeds the
// answer through the state machine, the same way a webhook would.
func (s *CheckoutService) Refresh(ctx context.Context, invoiceID uuid.UUID) (*TransitionResult, error) {
	ctx, span := s.tracer.Start(ctx, "checkout.refresh", trace.WithAttributes(
		attribute.String("invoice.id", invoiceID.String()),
	))
	defer span.End()

	inv, err := s.invoiceRepo.GetByID(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	if inv.Status.IsTerminal() {
		return &TransitionResult{InvoiceID: inv.ID, Status: inv.Status, Outcome: reconciliation.OutcomeNoop}, nil
	}
	if inv.TransactionID == nil {
		return nil, invalidState(inv, "no checkout to refresh")
	}

	checkoutID := *inv.TransactionID
	status, err := retry.DoWithResult(ctx, s.statusRetry(inv.ID), func() (*providers.CheckoutStatus, error) {
		gctx, cancel := context.WithTimeout(ctx, s.cfg.GatewayTimeout)
		defer cancel()
		return s.gateway.GetCheckout(gctx, checkoutID)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	reported, ok := invoice.ParseReportedStatus(status.Status)
	if !ok {
		err := domainErrors.NewDomainError("malformed_payload", "gateway returned unknown status "+status.Status, domainErrors.ErrMalformedPayload)
		span.RecordError(err)
		return nil, err
	}

	return s.reconciler.Apply(ctx, &invoice.PaymentEvent{
		EventID:        checkoutID,
		ReportedStatus: reported,
		InvoiceRef:     inv.ID.String(),
		Timestamp:      status.UpdatedAt,
		Amount:         status.Amount,
		Currency:       status.Currency,
		PaymentMethod:  status.PaymentMethod,
	})
}

// statusRetry retries transient gateway failures only.
func (s *CheckoutService) statusRetry(invoiceID uuid.UUID) retry.Config {
	cfg := s.cfg.StatusRetry
	cfg.RetryIf = func(err error) bool {
		return errors.Is(err, domainErrors.ErrGatewayTimeout) || errors.Is(err, domainErrors.ErrGatewayUnavailable)
	}
	cfg.OnRetry = func(attempt uint, err error) {
		s.logger.Debug().Err(err).Uint("attempt", attempt+1).Str("invoice_id", invoiceID.String()).Msg("retrying checkout status")
	}
	return cfg
}

func invalidState(inv *invoice.Invoice, want string) error {
	return domainErrors.NewDomainError("invalid_state",
		"invoice "+inv.ID.String()+" is "+string(inv.Status)+", "+want,
		domainErrors.ErrInvalidState)
}

func checkoutMetadata(inv *invoice.Invoice, req CheckoutRequest) map[string]any {
	md := map[string]any{"order_id": inv.OrderID}
	if inv.UserID != "" {
		md["user_id"] = inv.UserID
	}
	if len(req.UserData) > 0 {
		md["user_data"] = req.UserData
	}
	return md
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
