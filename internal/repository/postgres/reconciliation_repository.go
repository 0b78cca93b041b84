package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/cassiomorais/invoicing/internal/domain/invoice"
	"github.com/cassiomorais/invoicing/internal/domain/reconciliation"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ReconciliationRepository is the append-only log of processed gateway events.
type ReconciliationRepository struct {
	pool *pgxpool.Pool
}

func NewReconciliationRepository(pool *pgxpool.Pool) *ReconciliationRepository {
	return &ReconciliationRepository{pool: pool}
}

func (r *ReconciliationRepository) db(ctx context.Context) DBTX {
	return ConnFromCtx(ctx, r.pool)
}

func (r *ReconciliationRepository) Get(ctx context.Context, eventID string) (*reconciliation.Entry, error) {
	e, err := scanEntry(r.db(ctx).QueryRow(ctx,
		`SELECT event_id, invoice_id, reported_status, resulting_status, outcome, applied_at
		 FROM reconciliation_log WHERE event_id = $1`, eventID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return e, err
}

// Record relies on the event_id primary key: of any number of concurrent
// callers exactly one sees inserted == true.
func (r *ReconciliationRepository) Record(ctx context.Context, e *reconciliation.Entry) (bool, error) {
	tag, err := r.db(ctx).Exec(ctx,
		`INSERT INTO reconciliation_log (event_id, invoice_id, reported_status, resulting_status, outcome, applied_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (event_id) DO NOTHING`,
		e.EventID, e.InvoiceID, string(e.ReportedStatus), string(e.ResultingStatus), string(e.Outcome), e.AppliedAt,
	)
	if err != nil {
		return false, fmt.Errorf("record reconciliation entry: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *ReconciliationRepository) ListByInvoice(ctx context.Context, invoiceID uuid.UUID) ([]*reconciliation.Entry, error) {
	rows, err := r.db(ctx).Query(ctx,
		`SELECT event_id, invoice_id, reported_status, resulting_status, outcome, applied_at
		 FROM reconciliation_log WHERE invoice_id = $1 ORDER BY applied_at ASC`, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("list reconciliation entries: %w", err)
	}
	defer rows.Close()

	var entries []*reconciliation.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func scanEntry(s scanner) (*reconciliation.Entry, error) {
	e := &reconciliation.Entry{}
	var reported, resulting, outcome string
	if err := s.Scan(&e.EventID, &e.InvoiceID, &reported, &resulting, &outcome, &e.AppliedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan reconciliation entry: %w", err)
	}
	e.ReportedStatus = invoice.ReportedStatus(reported)
	e.ResultingStatus = invoice.Status(resulting)
	e.Outcome = reconciliation.Outcome(outcome)
	return e, nil
}
