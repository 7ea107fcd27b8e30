// Package balance computes vendor balances from the earnings ledger.
//
// The ledger is the balance of record: available funds are the signed
// sum of a vendor's entries, floored at zero. Held funds are open
// payout requests. Results are cached behind an injected TTL cache;
// a degraded approximation from completed payouts keeps balance reads
// alive when ledger aggregation fails.
package balance

import (
	"context"
	"log"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vendly-hq/vendly/internal/domain"
	"github.com/vendly-hq/vendly/internal/infra/observability"
)

// Calculator aggregates ledger entries into vendor balances.
type Calculator struct {
	ledger  domain.LedgerStore
	payouts domain.PayoutStore
	cache   domain.BalanceCache
	now     func() time.Time // test hook
}

// NewCalculator creates a Calculator. The cache is required; pass a
// zero-TTL TTLCache to effectively disable caching.
func NewCalculator(ledger domain.LedgerStore, payouts domain.PayoutStore, cache domain.BalanceCache) *Calculator {
	return &Calculator{ledger: ledger, payouts: payouts, cache: cache, now: time.Now}
}

// Balance returns the vendor's balance, serving from cache when fresh.
// Two reads within the cache TTL with no intervening mutation return
// identical results.
func (c *Calculator) Balance(ctx context.Context, vendorID string) (*domain.Balance, error) {
	if b, ok := c.cache.Get(vendorID); ok {
		observability.BalanceCacheHits.Inc()
		return b, nil
	}
	observability.BalanceCacheMisses.Inc()

	b, err := c.compute(ctx, vendorID)
	if err != nil {
		// Degrade rather than fail: approximate from completed payouts.
		fb, fbErr := c.fallback(ctx, vendorID)
		if fbErr != nil {
			return nil, err
		}
		log.Printf("[balance] ledger aggregation failed for %s, serving degraded balance: %v", vendorID, err)
		observability.BalanceFallbacks.Inc()
		return fb, nil
	}

	c.cache.Set(vendorID, b)
	return b, nil
}

// Invalidate drops the vendor's cached balance. Ledger mutators must
// call this before returning success.
func (c *Calculator) Invalidate(vendorID string) {
	c.cache.Invalidate(vendorID)
}

func (c *Calculator) compute(ctx context.Context, vendorID string) (*domain.Balance, error) {
	credits, usd, err := c.ledger.VendorTotals(ctx, vendorID)
	if err != nil {
		return nil, err
	}
	held, err := c.payouts.HeldTotal(ctx, vendorID)
	if err != nil {
		return nil, err
	}

	// Floor at zero: reconciliation gaps (e.g. an unreversed withdrawal
	// after a failed settlement) must not surface as negative funds.
	if credits < 0 {
		credits = 0
	}
	if usd.IsNegative() {
		usd = decimal.Zero
	}

	return &domain.Balance{
		VendorID:  vendorID,
		Credits:   credits,
		Available: usd,
		Pending:   decimal.Zero,
		Held:      held,
		Total:     usd.Add(held),
		AsOf:      c.now().UTC(),
	}, nil
}

// fallback approximates a balance from completed payout rows only.
// Never cached: the next read retries the primary path.
func (c *Calculator) fallback(ctx context.Context, vendorID string) (*domain.Balance, error) {
	credits, usd, err := c.payouts.CompletedTotals(ctx, vendorID)
	if err != nil {
		return nil, err
	}
	return &domain.Balance{
		VendorID:  vendorID,
		Credits:   credits,
		Available: usd,
		Pending:   decimal.Zero,
		Held:      decimal.Zero,
		Total:     usd,
		AsOf:      c.now().UTC(),
		Degraded:  true,
	}, nil
}
