package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vendly-hq/vendly/internal/domain"
)

// ─── Payout Store Operations ────────────────────────────────────────────────

// CreateRequest inserts a payout request plus its audit snapshot in one
// transaction. The partial unique index on (vendor_id WHERE
// status='requested') turns a concurrent duplicate into a clean
// constraint violation, reported as ErrDuplicateRequest.
func (d *DB) CreateRequest(ctx context.Context, req *domain.PayoutRequest, audit []domain.PayoutItemAudit) error {
	now := time.Now().UTC()
	req.CreatedAt, req.UpdatedAt = now, now
	req.Status = domain.PayoutRequested

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO payout_requests
			(id, vendor_id, amount_cents, credits, status, destination, reference, invoice_no, notes, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, req.ID, req.VendorID, toCents(req.Amount), req.Credits, string(req.Status),
		req.Destination, req.Reference, req.InvoiceNo, req.Notes, fmtTime(now), fmtTime(now))
	if err != nil {
		if isUniqueViolation(err, "payout_requests") {
			return fmt.Errorf("create payout request: %w", domain.ErrDuplicateRequest)
		}
		return fmt.Errorf("create payout request: %w", err)
	}

	for i := range audit {
		audit[i].PayoutID = req.ID
		res, err := tx.ExecContext(ctx, `
			INSERT INTO payout_item_audit (payout_id, entry_id, credits, usd_cents)
			VALUES (?, ?, ?, ?)
		`, req.ID, audit[i].EntryID, audit[i].Credits, toCents(audit[i].USD))
		if err != nil {
			return fmt.Errorf("audit snapshot: %w", err)
		}
		audit[i].ID, _ = res.LastInsertId()
	}
	return tx.Commit()
}

// Request returns a payout request by id.
func (d *DB) Request(ctx context.Context, id string) (*domain.PayoutRequest, error) {
	return d.scanRequest(d.db.QueryRowContext(ctx, selectRequest+` WHERE id = ?`, id))
}

// RequestedFor returns the vendor's open requested-status request, or
// ErrPayoutNotFound if there is none.
func (d *DB) RequestedFor(ctx context.Context, vendorID string) (*domain.PayoutRequest, error) {
	return d.scanRequest(d.db.QueryRowContext(ctx,
		selectRequest+` WHERE vendor_id = ? AND status = 'requested'`, vendorID))
}

// HeldTotal sums amounts of the vendor's requests in {requested, processing}.
func (d *DB) HeldTotal(ctx context.Context, vendorID string) (decimal.Decimal, error) {
	var cents int64
	err := d.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount_cents), 0) FROM payout_requests
		WHERE vendor_id = ? AND status IN ('requested', 'processing')
	`, vendorID).Scan(&cents)
	if err != nil {
		return decimal.Zero, fmt.Errorf("held total: %w", err)
	}
	return fromCents(cents), nil
}

// CompletedTotals sums the vendor's completed payouts, for the
// degraded balance fallback.
func (d *DB) CompletedTotals(ctx context.Context, vendorID string) (int64, decimal.Decimal, error) {
	var credits, cents int64
	err := d.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(credits), 0), COALESCE(SUM(amount_cents), 0)
		FROM payout_requests WHERE vendor_id = ? AND status = 'completed'
	`, vendorID).Scan(&credits, &cents)
	if err != nil {
		return 0, decimal.Zero, fmt.Errorf("completed totals: %w", err)
	}
	return credits, fromCents(cents), nil
}

// ─── Status transitions ─────────────────────────────────────────────────────
// Each transition is guarded by the state it is permitted from, so a
// stale or repeated admin action cannot skip the state machine.

// MarkProcessing moves requested → processing, recording the operator.
func (d *DB) MarkProcessing(ctx context.Context, id, operator string) error {
	return d.transition(ctx, id, domain.PayoutProcessing, []domain.PayoutStatus{domain.PayoutRequested},
		`operator = ?`, operator)
}

// MarkRejected moves requested → rejected, recording operator and reason.
func (d *DB) MarkRejected(ctx context.Context, id, operator, reason string) error {
	return d.transition(ctx, id, domain.PayoutRejected, []domain.PayoutStatus{domain.PayoutRequested},
		`operator = ?, notes = CASE WHEN notes = '' THEN ? ELSE notes || char(10) || ? END`,
		operator, reason, reason)
}

// MarkCompleted moves processing → completed, recording the batch id.
func (d *DB) MarkCompleted(ctx context.Context, id, batchID string) error {
	return d.transition(ctx, id, domain.PayoutCompleted, []domain.PayoutStatus{domain.PayoutProcessing},
		`batch_id = ?`, batchID)
}

// MarkFailed moves processing → failed, recording the failure note.
func (d *DB) MarkFailed(ctx context.Context, id, note string) error {
	return d.transition(ctx, id, domain.PayoutFailed, []domain.PayoutStatus{domain.PayoutProcessing},
		`notes = CASE WHEN notes = '' THEN ? ELSE notes || char(10) || ? END`, note, note)
}

// RecordBatch stores the processor batch id on an in-flight request.
func (d *DB) RecordBatch(ctx context.Context, id, batchID string) error {
	_, err := d.db.ExecContext(ctx, `
		UPDATE payout_requests SET batch_id = ?, updated_at = ? WHERE id = ?
	`, batchID, fmtTime(time.Now()), id)
	return err
}

// AppendNote appends a line to the request's audit trail.
func (d *DB) AppendNote(ctx context.Context, id, note string) error {
	_, err := d.db.ExecContext(ctx, `
		UPDATE payout_requests
		SET notes = CASE WHEN notes = '' THEN ? ELSE notes || char(10) || ? END, updated_at = ?
		WHERE id = ?
	`, note, note, fmtTime(time.Now()), id)
	return err
}

// DeleteAudit removes a request's audit rows, freeing the underlying
// items for a future request.
func (d *DB) DeleteAudit(ctx context.Context, payoutID string) error {
	_, err := d.db.ExecContext(ctx, `DELETE FROM payout_item_audit WHERE payout_id = ?`, payoutID)
	return err
}

// ListByStatus returns requests in a given status, newest first.
func (d *DB) ListByStatus(ctx context.Context, status domain.PayoutStatus) ([]domain.PayoutRequest, error) {
	rows, err := d.db.QueryContext(ctx, selectRequest+` WHERE status = ? ORDER BY created_at DESC`, string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.PayoutRequest
	for rows.Next() {
		req, err := scanRequestRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *req)
	}
	return out, rows.Err()
}

// ─── internals ──────────────────────────────────────────────────────────────

const selectRequest = `
	SELECT id, vendor_id, amount_cents, credits, status, destination, reference,
	       invoice_no, operator, batch_id, notes, created_at, updated_at
	FROM payout_requests`

func (d *DB) transition(ctx context.Context, id string, to domain.PayoutStatus, from []domain.PayoutStatus, setClause string, args ...any) error {
	placeholders := ""
	fromArgs := make([]any, 0, len(from))
	for i, s := range from {
		if i > 0 {
			placeholders += ", "
		}
		placeholders += "?"
		fromArgs = append(fromArgs, string(s))
	}

	query := `UPDATE payout_requests SET status = ?, updated_at = ?, ` + setClause +
		` WHERE id = ? AND status IN (` + placeholders + `)`
	all := append([]any{string(to), fmtTime(time.Now())}, args...)
	all = append(all, id)
	all = append(all, fromArgs...)

	res, err := d.db.ExecContext(ctx, query, all...)
	if err != nil {
		return fmt.Errorf("transition to %s: %w", to, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Distinguish unknown id from an impermissible transition.
		if _, err := d.Request(ctx, id); err != nil {
			return err
		}
		return fmt.Errorf("payout %s: %w", id, domain.ErrNotSettleable)
	}
	return nil
}

func (d *DB) scanRequest(row *sql.Row) (*domain.PayoutRequest, error) {
	req, err := scanRequestRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrPayoutNotFound
	}
	return req, err
}

type rowScanner interface{ Scan(dest ...any) error }

func scanRequestRow(row rowScanner) (*domain.PayoutRequest, error) {
	var req domain.PayoutRequest
	var status, created, updated string
	var cents int64
	err := row.Scan(&req.ID, &req.VendorID, &cents, &req.Credits, &status,
		&req.Destination, &req.Reference, &req.InvoiceNo, &req.Operator,
		&req.BatchID, &req.Notes, &created, &updated)
	if err != nil {
		return nil, err
	}
	req.Amount = fromCents(cents)
	req.Status = domain.PayoutStatus(status)
	req.CreatedAt = parseTime(created)
	req.UpdatedAt = parseTime(updated)
	return &req, nil
}
