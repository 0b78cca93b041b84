package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domainErrors "github.com/cassiomorais/invoicing/internal/domain/errors"
	"github.com/cassiomorais/invoicing/internal/domain/invoice"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const invoiceColumns = `id, user_id, order_id, description, amount::text, currency, status,
	transaction_id, created_at, updated_at, completed_at`

// InvoiceRepository implements invoice.Repository using PostgreSQL.
type InvoiceRepository struct {
	pool *pgxpool.Pool
}

func NewInvoiceRepository(pool *pgxpool.Pool) *InvoiceRepository {
	return &InvoiceRepository{pool: pool}
}

func (r *InvoiceRepository) db(ctx context.Context) DBTX {
	return ConnFromCtx(ctx, r.pool)
}

// scanner is satisfied by both pgx.Row and pgx.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func (r *InvoiceRepository) Create(ctx context.Context, inv *invoice.Invoice) error {
	_, err := r.db(ctx).Exec(ctx,
		`INSERT INTO invoices
		 (id, user_id, order_id, description, amount, currency, status, transaction_id, created_at, updated_at, completed_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		inv.ID, inv.UserID, inv.OrderID, inv.Description,
		formatNumeric(inv.Amount.Value), inv.Amount.Currency, string(inv.Status),
		inv.TransactionID, inv.CreatedAt, inv.UpdatedAt, inv.CompletedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return domainErrors.NewDomainError("duplicate_invoice", "invoice "+inv.ID.String()+" already exists", domainErrors.ErrInvalidInput)
		}
		return fmt.Errorf("insert invoice: %w", err)
	}
	return nil
}

func (r *InvoiceRepository) GetByID(ctx context.Context, id uuid.UUID) (*invoice.Invoice, error) {
	return scanInvoice(r.db(ctx).QueryRow(ctx,
		`SELECT `+invoiceColumns+` FROM invoices WHERE id = $1`, id))
}

// CompareAndSet is the only write path for status. The WHERE clause on the
// current status makes a stale writer a no-op.
func (r *InvoiceRepository) CompareAndSet(ctx context.Context, id uuid.UUID, expected, next invoice.Status, transactionID *string) (bool, error) {
	tag, err := r.db(ctx).Exec(ctx,
		`UPDATE invoices SET
		   status = $3,
		   transaction_id = COALESCE(transaction_id, $4),
		   updated_at = NOW(),
		   completed_at = CASE WHEN $5 THEN NOW() ELSE completed_at END
		 WHERE id = $1 AND status = $2`,
		id, string(expected), string(next), transactionID, next.IsTerminal(),
	)
	if err != nil {
		return false, fmt.Errorf("compare and set invoice status: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *InvoiceRepository) List(ctx context.Context, f invoice.ListFilter) ([]*invoice.Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM invoices WHERE 1=1`
	args := []any{}
	argIdx := 1

	if f.UserID != nil {
		query += fmt.Sprintf(" AND user_id = $%d", argIdx)
		args = append(args, *f.UserID)
		argIdx++
	}
	if f.Status != nil {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, string(*f.Status))
		argIdx++
	}

	sortOrder := "DESC"
	if strings.EqualFold(f.SortOrder, "asc") {
		sortOrder = "ASC"
	}
	query += " ORDER BY created_at " + sortOrder

	limit := f.Limit
	if limit <= 0 {
		limit = 20
	}
	query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", argIdx, argIdx+1)
	args = append(args, limit, f.Offset)

	return r.query(ctx, query, args...)
}

func (r *InvoiceRepository) ListStale(ctx context.Context, status invoice.Status, olderThan time.Time, limit int) ([]*invoice.Invoice, error) {
	if limit <= 0 {
		limit = 50
	}
	return r.query(ctx,
		`SELECT `+invoiceColumns+` FROM invoices
		 WHERE status = $1 AND updated_at < $2
		 ORDER BY updated_at ASC
		 LIMIT $3`,
		string(status), olderThan, limit,
	)
}

func (r *InvoiceRepository) Stats(ctx context.Context, userID *string) (*invoice.Stats, error) {
	query := `SELECT status, COUNT(*), COALESCE(SUM(amount), 0)::text FROM invoices`
	args := []any{}
	if userID != nil {
		query += ` WHERE user_id = $1`
		args = append(args, *userID)
	}
	query += ` GROUP BY status`

	rows, err := r.db(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("invoice stats: %w", err)
	}
	defer rows.Close()

	stats := invoice.NewStats()
	for rows.Next() {
		var (
			status    string
			count     int64
			amountStr string
		)
		if err := rows.Scan(&status, &count, &amountStr); err != nil {
			return nil, fmt.Errorf("scan invoice stats: %w", err)
		}
		amount, err := parseNumeric(amountStr)
		if err != nil {
			return nil, fmt.Errorf("parse stats amount: %w", err)
		}
		stats.Add(invoice.Status(status), count, amount)
	}
	return stats, rows.Err()
}

func (r *InvoiceRepository) query(ctx context.Context, sql string, args ...any) ([]*invoice.Invoice, error) {
	rows, err := r.db(ctx).Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("list invoices: %w", err)
	}
	defer rows.Close()

	var invoices []*invoice.Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		invoices = append(invoices, inv)
	}
	return invoices, rows.Err()
}

func scanInvoice(s scanner) (*invoice.Invoice, error) {
	inv := &invoice.Invoice{}
	var (
		amountStr string
		status    string
	)
	err := s.Scan(
		&inv.ID, &inv.UserID, &inv.OrderID, &inv.Description, &amountStr, &inv.Amount.Currency, &status,
		&inv.TransactionID, &inv.CreatedAt, &inv.UpdatedAt, &inv.CompletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domainErrors.ErrInvoiceNotFound
		}
		return nil, fmt.Errorf("scan invoice: %w", err)
	}

	amount, err := parseNumeric(amountStr)
	if err != nil {
		return nil, fmt.Errorf("parse amount: %w", err)
	}
	inv.Amount.Value = amount
	inv.Status = invoice.Status(status)
	return inv, nil
}
