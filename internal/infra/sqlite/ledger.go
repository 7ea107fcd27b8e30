package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vendly-hq/vendly/internal/domain"
)

// ─── Ledger Store Operations ────────────────────────────────────────────────

// AppendEntry inserts a ledger entry, filling ID and CreatedAt.
func (d *DB) AppendEntry(ctx context.Context, e *domain.LedgerEntry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	res, err := d.db.ExecContext(ctx, `
		INSERT INTO ledger_entries
			(vendor_id, type, credits, usd_cents, source, ref_type, ref_id, appreciation_tier, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, e.VendorID, string(e.Type), e.Credits, toCents(e.USD), string(e.Source),
		e.RefType, e.RefID, e.AppreciationTier, fmtTime(e.CreatedAt))
	if err != nil {
		return fmt.Errorf("append ledger entry: %w", err)
	}
	e.ID, err = res.LastInsertId()
	return err
}

// EntriesByVendor returns a vendor's entries, oldest first.
func (d *DB) EntriesByVendor(ctx context.Context, vendorID string) ([]domain.LedgerEntry, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, vendor_id, type, credits, usd_cents, source, ref_type, ref_id, appreciation_tier, created_at
		FROM ledger_entries WHERE vendor_id = ? ORDER BY id
	`, vendorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEntries(rows)
}

// VendorTotals sums a vendor's signed credits and USD across all entries.
func (d *DB) VendorTotals(ctx context.Context, vendorID string) (int64, decimal.Decimal, error) {
	var credits, cents int64
	err := d.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(credits), 0), COALESCE(SUM(usd_cents), 0)
		FROM ledger_entries WHERE vendor_id = ?
	`, vendorID).Scan(&credits, &cents)
	if err != nil {
		return 0, decimal.Zero, fmt.Errorf("vendor totals: %w", err)
	}
	return credits, fromCents(cents), nil
}

// UnclaimedDeposits returns deposit entries not referenced by any live
// payout audit row. Rejected requests delete their audit rows, which
// frees their items to show up here again.
func (d *DB) UnclaimedDeposits(ctx context.Context, vendorID string) ([]domain.LedgerEntry, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, vendor_id, type, credits, usd_cents, source, ref_type, ref_id, appreciation_tier, created_at
		FROM ledger_entries e
		WHERE e.vendor_id = ? AND e.type = 'deposit'
		  AND NOT EXISTS (SELECT 1 FROM payout_item_audit a WHERE a.entry_id = e.id)
		ORDER BY e.id
	`, vendorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEntries(rows)
}

// AppreciableDeposits returns subscription-sourced deposits created
// before cutoff whose appreciation tier is below tierMonths.
func (d *DB) AppreciableDeposits(ctx context.Context, cutoff time.Time, tierMonths int) ([]domain.LedgerEntry, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, vendor_id, type, credits, usd_cents, source, ref_type, ref_id, appreciation_tier, created_at
		FROM ledger_entries
		WHERE type = 'deposit' AND source = 'subscription'
		  AND appreciation_tier < ? AND created_at < ?
		ORDER BY id
	`, tierMonths, fmtTime(cutoff))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEntries(rows)
}

// SetAppreciationTier advances an entry's idempotency marker. The only
// mutation the ledger permits.
func (d *DB) SetAppreciationTier(ctx context.Context, entryID int64, tierMonths int) error {
	res, err := d.db.ExecContext(ctx, `
		UPDATE ledger_entries SET appreciation_tier = ?
		WHERE id = ? AND appreciation_tier < ?
	`, tierMonths, entryID, tierMonths)
	if err != nil {
		return fmt.Errorf("set appreciation tier: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("entry %d: tier already at or above %d", entryID, tierMonths)
	}
	return nil
}

func scanEntries(rows *sql.Rows) ([]domain.LedgerEntry, error) {
	var out []domain.LedgerEntry
	for rows.Next() {
		var e domain.LedgerEntry
		var typ, source, created string
		var cents int64
		if err := rows.Scan(&e.ID, &e.VendorID, &typ, &e.Credits, &cents,
			&source, &e.RefType, &e.RefID, &e.AppreciationTier, &created); err != nil {
			return nil, err
		}
		e.Type = domain.TransactionType(typ)
		e.Source = domain.EntrySource(source)
		e.USD = fromCents(cents)
		e.CreatedAt = parseTime(created)
		out = append(out, e)
	}
	return out, rows.Err()
}
