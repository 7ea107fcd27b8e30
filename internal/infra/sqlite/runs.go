package sqlite

import (
	"context"

	"github.com/vendly-hq/vendly/internal/domain"
)

// ─── Appreciation Run History ───────────────────────────────────────────────
// One row per job invocation, powering the read-only stats endpoint.

// RecordRun stores an appreciation run summary.
func (d *DB) RecordRun(ctx context.Context, r *domain.AppreciationRun) error {
	res, err := d.db.ExecContext(ctx, `
		INSERT INTO appreciation_runs
			(started_at, finished_at, processed, appreciated, bonus_credits, error_count, error_detail)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, fmtTime(r.StartedAt), fmtTime(r.FinishedAt), r.Processed, r.Appreciated,
		r.BonusTotal, r.ErrorCount, r.ErrorDetail)
	if err != nil {
		return err
	}
	r.ID, _ = res.LastInsertId()
	return nil
}

// RecentRuns returns the most recent run summaries, newest first.
func (d *DB) RecentRuns(ctx context.Context, limit int) ([]domain.AppreciationRun, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, started_at, finished_at, processed, appreciated, bonus_credits, error_count, error_detail
		FROM appreciation_runs ORDER BY id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.AppreciationRun
	for rows.Next() {
		var r domain.AppreciationRun
		var started, finished string
		if err := rows.Scan(&r.ID, &started, &finished, &r.Processed,
			&r.Appreciated, &r.BonusTotal, &r.ErrorCount, &r.ErrorDetail); err != nil {
			return nil, err
		}
		r.StartedAt = parseTime(started)
		r.FinishedAt = parseTime(finished)
		out = append(out, r)
	}
	return out, rows.Err()
}
