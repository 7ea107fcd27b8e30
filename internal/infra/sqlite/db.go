// Package sqlite persists the vendor earnings ledger, payout requests
// and appreciation run history in an embedded SQLite database.
//
// Monetary values are stored as integer cents and integer credit
// units; decimals exist only at the domain boundary. Timestamps are
// stored as RFC 3339 UTC text.
package sqlite

import (
	"database/sql"
	"fmt"
	"log"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"
)

// DB wraps the SQLite connection and implements the domain store
// interfaces.
type DB struct {
	db *sql.DB
}

// Open opens (or creates) the vendly database under dir and applies
// all migrations.
func Open(dir string) (*DB, error) {
	path := filepath.Join(dir, "vendly.db")
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite allows one writer; a single connection avoids SQLITE_BUSY
	// churn under concurrent redemption requests.
	db.SetMaxOpenConns(1)

	d := &DB{db: db}
	if err := d.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return d, nil
}

// Close closes the underlying connection.
func (d *DB) Close() error { return d.db.Close() }

// ─── Schema ─────────────────────────────────────────────────────────────────

// Migrations returns the schema migration statements.
// Each string is a single SQL statement (SQLite executes one at a time).
func Migrations() []string {
	return []string{
		// Append-only earnings ledger. Never updated or deleted except
		// for appreciation_tier, the appreciation idempotency marker.
		`CREATE TABLE IF NOT EXISTS ledger_entries (
			id                INTEGER PRIMARY KEY AUTOINCREMENT,
			vendor_id         TEXT NOT NULL,
			type              TEXT NOT NULL,
			credits           INTEGER NOT NULL,
			usd_cents         INTEGER NOT NULL,
			source            TEXT NOT NULL,
			ref_type          TEXT NOT NULL DEFAULT '',
			ref_id            TEXT NOT NULL DEFAULT '',
			appreciation_tier INTEGER NOT NULL DEFAULT 0,
			created_at        TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_ledger_vendor ON ledger_entries(vendor_id)`,
		`CREATE INDEX IF NOT EXISTS idx_ledger_appreciable
			ON ledger_entries(type, source, appreciation_tier, created_at)`,

		// Payout redemption requests.
		`CREATE TABLE IF NOT EXISTS payout_requests (
			id           TEXT PRIMARY KEY,
			vendor_id    TEXT NOT NULL,
			amount_cents INTEGER NOT NULL,
			credits      INTEGER NOT NULL,
			status       TEXT NOT NULL DEFAULT 'requested',
			destination  TEXT NOT NULL,
			reference    TEXT NOT NULL,
			invoice_no   TEXT NOT NULL,
			operator     TEXT NOT NULL DEFAULT '',
			batch_id     TEXT NOT NULL DEFAULT '',
			notes        TEXT NOT NULL DEFAULT '',
			created_at   TEXT NOT NULL,
			updated_at   TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_payout_vendor ON payout_requests(vendor_id)`,
		`CREATE INDEX IF NOT EXISTS idx_payout_status ON payout_requests(status)`,

		// At most one open request per vendor. This partial unique
		// index is authoritative: concurrent redemption calls race to
		// insert and the loser gets a clean constraint violation.
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_payout_one_requested
			ON payout_requests(vendor_id) WHERE status = 'requested'`,

		// Audit snapshot of fulfilled items visible at request time.
		// Informational only, never summed for money.
		`CREATE TABLE IF NOT EXISTS payout_item_audit (
			id        INTEGER PRIMARY KEY AUTOINCREMENT,
			payout_id TEXT NOT NULL,
			entry_id  INTEGER NOT NULL UNIQUE,
			credits   INTEGER NOT NULL,
			usd_cents INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_payout ON payout_item_audit(payout_id)`,

		// Appreciation job run history (for the read-only stats endpoint).
		`CREATE TABLE IF NOT EXISTS appreciation_runs (
			id            INTEGER PRIMARY KEY AUTOINCREMENT,
			started_at    TEXT NOT NULL,
			finished_at   TEXT NOT NULL,
			processed     INTEGER NOT NULL DEFAULT 0,
			appreciated   INTEGER NOT NULL DEFAULT 0,
			bonus_credits INTEGER NOT NULL DEFAULT 0,
			error_count   INTEGER NOT NULL DEFAULT 0,
			error_detail  TEXT NOT NULL DEFAULT ''
		)`,
	}
}

func (d *DB) migrate() error {
	for _, stmt := range Migrations() {
		if _, err := d.db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// ─── Helpers ────────────────────────────────────────────────────────────────

func isUniqueViolation(err error, index string) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed") &&
		(index == "" || strings.Contains(err.Error(), index))
}

func toCents(d decimal.Decimal) int64 { return d.Shift(2).IntPart() }

func fromCents(c int64) decimal.Decimal { return decimal.New(c, -2) }

func fmtTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		// A corrupted row should be loud, not year-1 data.
		log.Printf("[sqlite] bad timestamp %q: %v", s, err)
		return time.Time{}
	}
	return t
}
