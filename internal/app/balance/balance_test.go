package balance

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vendly-hq/vendly/internal/domain"
	"github.com/vendly-hq/vendly/internal/infra/sqlite"
)

func setup(t *testing.T) (*Calculator, *sqlite.DB, *TTLCache) {
	t.Helper()
	db, err := sqlite.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	cache := NewTTLCache(5 * time.Minute)
	return NewCalculator(db, db, cache), db, cache
}

func seed(t *testing.T, db *sqlite.DB, vendorID string, credits int64, cents int64) {
	t.Helper()
	err := db.AppendEntry(context.Background(), &domain.LedgerEntry{
		VendorID: vendorID,
		Type:     domain.TxDeposit,
		Credits:  credits,
		USD:      decimal.New(cents, -2),
		Source:   domain.SourceSubscription,
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
}

func TestBalanceMatchesLedgerSum(t *testing.T) {
	calc, db, _ := setup(t)
	ctx := context.Background()

	seed(t, db, "v1", 1000, 10000)
	seed(t, db, "v1", 250, 2500)

	bal, err := calc.Balance(ctx, "v1")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if bal.Credits != 1250 {
		t.Errorf("credits = %d, want 1250", bal.Credits)
	}
	if !bal.Available.Equal(decimal.New(12500, -2)) {
		t.Errorf("available = %s, want 125.00", bal.Available)
	}
	if !bal.Pending.IsZero() {
		t.Errorf("pending = %s, want 0", bal.Pending)
	}
	if bal.Degraded {
		t.Error("primary path should not be degraded")
	}
}

func TestBalanceFlooredAtZero(t *testing.T) {
	calc, db, _ := setup(t)
	ctx := context.Background()

	// A failed settlement leaves an unreversed withdrawal; the vendor
	// must see zero, not negative funds.
	err := db.AppendEntry(ctx, &domain.LedgerEntry{
		VendorID: "v1", Type: domain.TxWithdrawal, Credits: -500,
		USD: decimal.New(-5000, -2), Source: domain.SourcePayout,
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}

	bal, err := calc.Balance(ctx, "v1")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if bal.Credits != 0 || !bal.Available.IsZero() {
		t.Errorf("balance = (%d, %s), want floored to zero", bal.Credits, bal.Available)
	}
}

func TestBalanceCachedReadsIdentical(t *testing.T) {
	calc, db, _ := setup(t)
	ctx := context.Background()
	seed(t, db, "v1", 1000, 10000)

	first, err := calc.Balance(ctx, "v1")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}

	// Mutate the ledger WITHOUT invalidating: the cached read must not
	// see it within the TTL.
	seed(t, db, "v1", 500, 5000)

	second, err := calc.Balance(ctx, "v1")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if second.Credits != first.Credits || !second.Available.Equal(first.Available) || !second.AsOf.Equal(first.AsOf) {
		t.Errorf("cached read differs: first=%+v second=%+v", first, second)
	}
}

func TestInvalidateForcesRecompute(t *testing.T) {
	calc, db, _ := setup(t)
	ctx := context.Background()
	seed(t, db, "v1", 1000, 10000)

	if _, err := calc.Balance(ctx, "v1"); err != nil {
		t.Fatalf("balance: %v", err)
	}
	seed(t, db, "v1", 500, 5000)
	calc.Invalidate("v1")

	bal, err := calc.Balance(ctx, "v1")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if bal.Credits != 1500 {
		t.Errorf("after invalidate, credits = %d, want 1500", bal.Credits)
	}
}

func TestCacheExpiry(t *testing.T) {
	cache := NewTTLCache(time.Minute)
	now := time.Now()
	cache.now = func() time.Time { return now }

	cache.Set("v1", &domain.Balance{VendorID: "v1", Credits: 10})
	if _, ok := cache.Get("v1"); !ok {
		t.Fatal("fresh entry should hit")
	}

	now = now.Add(2 * time.Minute)
	if _, ok := cache.Get("v1"); ok {
		t.Error("expired entry should miss")
	}
}

// failingLedger makes the primary aggregation path fail.
type failingLedger struct{ *sqlite.DB }

func (f failingLedger) VendorTotals(ctx context.Context, vendorID string) (int64, decimal.Decimal, error) {
	return 0, decimal.Zero, errors.New("datastore unavailable")
}

func TestDegradedFallback(t *testing.T) {
	db, err := sqlite.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	ctx := context.Background()

	// One completed payout for the approximation to find.
	req := &domain.PayoutRequest{
		ID: "p1", VendorID: "v1", Amount: decimal.New(7500, -2), Credits: 750,
		Destination: "ops@vendor.example", Reference: "VND-1", InvoiceNo: "INV-1",
	}
	if err := db.CreateRequest(ctx, req, nil); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := db.MarkProcessing(ctx, "p1", "ops"); err != nil {
		t.Fatalf("processing: %v", err)
	}
	if err := db.MarkCompleted(ctx, "p1", "B1"); err != nil {
		t.Fatalf("complete: %v", err)
	}

	calc := NewCalculator(failingLedger{db}, db, NewTTLCache(time.Minute))
	bal, err := calc.Balance(ctx, "v1")
	if err != nil {
		t.Fatalf("expected degraded balance, got error: %v", err)
	}
	if !bal.Degraded {
		t.Error("balance should be marked degraded")
	}
	if !bal.Available.Equal(decimal.New(7500, -2)) {
		t.Errorf("degraded available = %s, want 75.00", bal.Available)
	}

	// Degraded answers are never cached: a later read retries primary.
	if _, ok := calc.cache.Get("v1"); ok {
		t.Error("degraded balance must not be cached")
	}
}
