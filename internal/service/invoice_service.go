package service

import (
	"context"
	"strings"

	domainErrors "github.com/cassiomorais/invoicing/internal/domain/errors"
	"github.com/cassiomorais/invoicing/internal/domain/invoice"
	"github.com/cassiomorais/invoicing/internal/domain/outbox"
	"github.com/cassiomorais/invoicing/internal/domain/reconciliation"
	"github.com/cassiomorais/invoicing/internal/infrastructure/observability"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// InvoiceService handles invoice creation and reads. It never changes status.
type InvoiceService struct {
	invoiceRepo invoice.Repository
	logRepo     reconciliation.Repository
	outboxRepo  outbox.Repository
	txManager   TransactionManager
	currency    string
	metrics     *observability.Metrics
	logger      zerolog.Logger
}

func NewInvoiceService(
	invoiceRepo invoice.Repository,
	logRepo reconciliation.Repository,
	outboxRepo outbox.Repository,
	txManager TransactionManager,
	currency string,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *InvoiceService {
	return &InvoiceService{
		invoiceRepo: invoiceRepo,
		logRepo:     logRepo,
		outboxRepo:  outboxRepo,
		txManager:   txManager,
		currency:    strings.ToUpper(currency),
		metrics:     metrics,
		logger:      logger,
	}
}

// Create stores a new invoice in CREATED. Only the deployment currency is
// accepted; an empty currency defaults to it.
func (s *InvoiceService) Create(ctx context.Context, req CreateInvoiceRequest) (*invoice.Invoice, error) {
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = s.currency
	}
	if currency != s.currency {
		return nil, domainErrors.NewValidationError("currency", "only "+s.currency+" is supported")
	}

	inv, err := invoice.NewInvoice(req.UserID, req.OrderID, req.Description, invoice.Amount{Value: req.Amount, Currency: currency})
	if err != nil {
		return nil, err
	}

	err = s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		if err := s.invoiceRepo.Create(txCtx, inv); err != nil {
			return err
		}
		return s.outboxRepo.Insert(txCtx, outbox.NewInvoiceEntry(inv.ID, outbox.EventInvoiceCreated, map[string]any{
			"order_id": inv.OrderID,
			"user_id":  inv.UserID,
			"amount":   inv.Amount.Value.StringFixed(2),
			"currency": inv.Amount.Currency,
			"status":   string(inv.Status),
		}))
	})
	if err != nil {
		return nil, err
	}

	s.metrics.InvoicesCreated.WithLabelValues(inv.Amount.Currency).Inc()
	s.logger.Info().
		Str("invoice_id", inv.ID.String()).
		Str("order_id", inv.OrderID).
		Str("amount", inv.Amount.String()).
		Msg("invoice created")

	return inv, nil
}

func (s *InvoiceService) Get(ctx context.Context, id uuid.UUID) (*invoice.Invoice, error) {
	return s.invoiceRepo.GetByID(ctx, id)
}

func (s *InvoiceService) List(ctx context.Context, filter invoice.ListFilter) ([]*invoice.Invoice, error) {
	if filter.Status != nil && !filter.Status.Valid() {
		return nil, domainErrors.NewValidationError("status", "unknown status "+string(*filter.Status))
	}
	if filter.Limit <= 0 || filter.Limit > 100 {
		filter.Limit = 20
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	return s.invoiceRepo.List(ctx, filter)
}

// Stats summarises invoices by status. A nil userID covers every invoice.
func (s *InvoiceService) Stats(ctx context.Context, userID *string) (*invoice.Stats, error) {
	return s.invoiceRepo.Stats(ctx, userID)
}

// Events returns the reconciliation log of an invoice, oldest first.
func (s *InvoiceService) Events(ctx context.Context, id uuid.UUID) ([]*reconciliation.Entry, error) {
	if _, err := s.invoiceRepo.GetByID(ctx, id); err != nil {
		return nil, err
	}
	return s.logRepo.ListByInvoice(ctx, id)
}
