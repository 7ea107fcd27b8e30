// Package appreciation implements the periodic loyalty bonus job:
// subscription deposits held past fixed age thresholds are credited a
// tiered bonus, exactly once per tier, marked by the entry's
// appreciation tier column.
package appreciation

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vendly-hq/vendly/internal/app/balance"
	"github.com/vendly-hq/vendly/internal/domain"
	"github.com/vendly-hq/vendly/internal/infra/observability"
)

// Recorder persists run summaries for the stats endpoint.
type Recorder interface {
	RecordRun(ctx context.Context, r *domain.AppreciationRun) error
}

// Summary is the result of one job invocation. Per-entry errors are
// collected here; they never abort the run.
type Summary struct {
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
	Processed   int       `json:"processed"`   // entries examined
	Appreciated int       `json:"appreciated"` // entries credited
	BonusTotal  int64     `json:"bonus_total"` // credits granted
	Errors      []string  `json:"errors,omitempty"`
}

// Job grants appreciation bonuses. Run serializes against itself: the
// deployment guarantees a single vendly instance owns the datastore,
// and the internal mutex covers overlapping triggers within it;
// without both, two runs could read the tier marker before either
// writes it and double-credit.
type Job struct {
	ledger   domain.LedgerStore
	calc     *balance.Calculator
	recorder Recorder
	tiers    []domain.Tier

	mu  sync.Mutex
	now func() time.Time // test hook
}

// NewJob creates the job. Nil tiers fall back to domain.DefaultTiers;
// recorder may be nil to skip run history.
func NewJob(ledger domain.LedgerStore, calc *balance.Calculator, recorder Recorder, tiers []domain.Tier) *Job {
	if len(tiers) == 0 {
		tiers = domain.DefaultTiers
	}
	sorted := make([]domain.Tier, len(tiers))
	copy(sorted, tiers)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Months < sorted[j].Months })
	return &Job{ledger: ledger, calc: calc, recorder: recorder, tiers: sorted, now: time.Now}
}

// Tiers returns the schedule definition, ascending by age.
func (j *Job) Tiers() []domain.Tier { return j.tiers }

// Run walks every tier in ascending age order and credits each
// eligible deposit the incremental bonus for that tier. Re-running is
// safe: the tier marker on each entry makes crediting idempotent.
func (j *Job) Run(ctx context.Context) (*Summary, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	sum := &Summary{StartedAt: j.now().UTC()}
	observability.AppreciationRuns.Inc()

	for _, tier := range j.tiers {
		cutoff := sum.StartedAt.AddDate(0, -tier.Months, 0)
		entries, err := j.ledger.AppreciableDeposits(ctx, cutoff, tier.Months)
		if err != nil {
			// A tier-level select failure skips the tier, not the run.
			sum.Errors = append(sum.Errors, fmt.Sprintf("tier %dmo: select: %v", tier.Months, err))
			observability.AppreciationErrors.Inc()
			continue
		}

		for _, e := range entries {
			sum.Processed++
			if err := j.appreciate(ctx, e, tier, sum); err != nil {
				sum.Errors = append(sum.Errors, fmt.Sprintf("entry %d: %v", e.ID, err))
				observability.AppreciationErrors.Inc()
			}
		}
	}

	sum.FinishedAt = j.now().UTC()
	j.record(ctx, sum)
	return sum, nil
}

func (j *Job) appreciate(ctx context.Context, e domain.LedgerEntry, tier domain.Tier, sum *Summary) error {
	bonus := domain.TierBonus(j.tiers, e.Credits, e.AppreciationTier, tier)
	if bonus <= 0 || e.Credits <= 0 {
		return nil
	}

	// USD value tracks the deposit's own credit-to-dollar ratio so the
	// two ledger sums stay proportional.
	usd := e.USD.Mul(decimal.NewFromInt(bonus)).Div(decimal.NewFromInt(e.Credits)).Round(2)

	entry := &domain.LedgerEntry{
		VendorID: e.VendorID,
		Type:     domain.TxAppreciation,
		Credits:  bonus,
		USD:      usd,
		Source:   domain.SourceAppreciation,
		RefType:  "ledger_entry",
		RefID:    strconv.FormatInt(e.ID, 10),
	}
	if err := j.ledger.AppendEntry(ctx, entry); err != nil {
		return fmt.Errorf("append bonus: %w", err)
	}

	// Fast balance reads must see the bonus immediately.
	j.calc.Invalidate(e.VendorID)

	// The idempotency marker. If this write fails the bonus entry
	// stands and the next run would double-credit, so surface loudly.
	if err := j.ledger.SetAppreciationTier(ctx, e.ID, tier.Months); err != nil {
		return fmt.Errorf("advance tier marker (bonus %d already credited): %w", bonus, err)
	}

	sum.Appreciated++
	sum.BonusTotal += bonus
	observability.AppreciationBonus.Add(float64(bonus))
	return nil
}

func (j *Job) record(ctx context.Context, sum *Summary) {
	if j.recorder == nil {
		return
	}
	rec := &domain.AppreciationRun{
		StartedAt:   sum.StartedAt,
		FinishedAt:  sum.FinishedAt,
		Processed:   sum.Processed,
		Appreciated: sum.Appreciated,
		BonusTotal:  sum.BonusTotal,
		ErrorCount:  len(sum.Errors),
		ErrorDetail: strings.Join(sum.Errors, "\n"),
	}
	if err := j.recorder.RecordRun(ctx, rec); err != nil {
		// Run history is best-effort; the bonuses themselves are in
		// the ledger.
		sum.Errors = append(sum.Errors, fmt.Sprintf("record run: %v", err))
	}
}
