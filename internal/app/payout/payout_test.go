package payout

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vendly-hq/vendly/internal/app/balance"
	"github.com/vendly-hq/vendly/internal/domain"
	"github.com/vendly-hq/vendly/internal/infra/directory"
	"github.com/vendly-hq/vendly/internal/infra/sqlite"
)

// ─── Fakes ──────────────────────────────────────────────────────────────────

type fakeProcessor struct {
	mu      sync.Mutex
	receipt *domain.PayoutReceipt
	err     error
	keys    []string // idempotency keys seen
	amounts []decimal.Decimal
}

func (f *fakeProcessor) CreatePayout(ctx context.Context, destination string, amount decimal.Decimal, currency, note, idempotencyKey string) (*domain.PayoutReceipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys = append(f.keys, idempotencyKey)
	f.amounts = append(f.amounts, amount)
	if f.err != nil {
		return nil, f.err
	}
	return f.receipt, nil
}

type fakeNotifier struct {
	mu        sync.Mutex
	processed []domain.PayoutRequest
	failed    []domain.PayoutRequest
}

func (f *fakeNotifier) PayoutProcessed(v domain.Vendor, req domain.PayoutRequest) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.processed = append(f.processed, req)
}

func (f *fakeNotifier) PayoutFailed(v domain.Vendor, req domain.PayoutRequest, reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed = append(f.failed, req)
}

// ─── Fixture ────────────────────────────────────────────────────────────────

type fixture struct {
	db         *sqlite.DB
	calc       *balance.Calculator
	redemption *RedemptionService
	processor  *fakeProcessor
	notifier   *fakeNotifier
	settlement *SettlementService
	vendor     *domain.Vendor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := sqlite.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	vendor := &domain.Vendor{ID: "v1", Name: "Maple Workshop", Destination: "pay@maple.example"}
	vendors := directory.NewStatic([]directory.Entry{
		{ID: vendor.ID, Name: vendor.Name, Destination: vendor.Destination, Token: "tok-v1"},
	})

	calc := balance.NewCalculator(db, db, balance.NewTTLCache(5*time.Minute))
	proc := &fakeProcessor{receipt: &domain.PayoutReceipt{BatchID: "BATCH-1", Status: domain.BatchSuccess}}
	notif := &fakeNotifier{}

	return &fixture{
		db:         db,
		calc:       calc,
		redemption: NewRedemptionService(db, db, calc, decimal.New(5000, -2)),
		processor:  proc,
		notifier:   notif,
		settlement: NewSettlementService(db, proc, notif, vendors, calc, "USD", time.Second),
		vendor:     vendor,
	}
}

func (f *fixture) deposit(t *testing.T, cents int64) {
	t.Helper()
	err := f.db.AppendEntry(context.Background(), &domain.LedgerEntry{
		VendorID: f.vendor.ID,
		Type:     domain.TxDeposit,
		Credits:  cents / 10, // 10 cents per credit in these fixtures
		USD:      decimal.New(cents, -2),
		Source:   domain.SourceSubscription,
	})
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	f.calc.Invalidate(f.vendor.ID)
}

// ─── Redemption ─────────────────────────────────────────────────────────────

func TestRequestPayoutBelowMinimum(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.deposit(t, 4500) // $45.00 < $50.00 minimum

	_, err := f.redemption.RequestPayout(ctx, f.vendor)
	var verr *domain.ValidationError
	if !errors.As(err, &verr) || verr.Code != "below_minimum" {
		t.Fatalf("err = %v, want below_minimum ValidationError", err)
	}
	if !verr.Short.Equal(decimal.New(500, -2)) {
		t.Errorf("shortfall = %s, want 5.00", verr.Short)
	}

	// No rows created on failure.
	if reqs, _ := f.db.ListByStatus(ctx, domain.PayoutRequested); len(reqs) != 0 {
		t.Errorf("payout rows = %d, want 0", len(reqs))
	}
	entries, _ := f.db.EntriesByVendor(ctx, f.vendor.ID)
	if len(entries) != 1 {
		t.Errorf("ledger entries = %d, want just the seed deposit", len(entries))
	}
}

func TestRequestPayoutMissingDestination(t *testing.T) {
	f := newFixture(t)
	f.deposit(t, 12000)

	bare := &domain.Vendor{ID: "v1", Destination: ""}
	_, err := f.redemption.RequestPayout(context.Background(), bare)
	var verr *domain.ValidationError
	if !errors.As(err, &verr) || verr.Code != "bad_destination" {
		t.Fatalf("err = %v, want bad_destination ValidationError", err)
	}
}

func TestRequestPayoutHappyPath(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.deposit(t, 12000) // $120.00

	req, err := f.redemption.RequestPayout(ctx, f.vendor)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if req.Status != domain.PayoutRequested {
		t.Errorf("status = %s, want requested", req.Status)
	}
	if !req.Amount.Equal(decimal.New(12000, -2)) {
		t.Errorf("amount = %s, want 120.00", req.Amount)
	}
	if req.Reference == "" || req.InvoiceNo == "" {
		t.Errorf("reference/invoice not generated: %q %q", req.Reference, req.InvoiceNo)
	}

	// Exactly one withdrawal entry referencing the request.
	entries, _ := f.db.EntriesByVendor(ctx, f.vendor.ID)
	if len(entries) != 2 {
		t.Fatalf("ledger entries = %d, want 2", len(entries))
	}
	wd := entries[1]
	if wd.Type != domain.TxWithdrawal || wd.RefID != req.ID {
		t.Errorf("withdrawal = %+v, want type=withdrawal ref=%s", wd, req.ID)
	}

	// Conservation: withdrawal magnitude equals the request exactly.
	if wd.Credits != -req.Credits {
		t.Errorf("withdrawal credits = %d, want %d", wd.Credits, -req.Credits)
	}
	if !wd.USD.Neg().Equal(req.Amount) {
		t.Errorf("withdrawal usd = %s, want -%s", wd.USD, req.Amount)
	}

	// Cache was invalidated: available drops to zero, held carries it.
	bal, err := f.calc.Balance(ctx, f.vendor.ID)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if !bal.Available.IsZero() {
		t.Errorf("available after redemption = %s, want 0.00", bal.Available)
	}
	if !bal.Held.Equal(req.Amount) {
		t.Errorf("held = %s, want %s", bal.Held, req.Amount)
	}
}

func TestRequestPayoutDuplicate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.deposit(t, 12000)

	first, err := f.redemption.RequestPayout(ctx, f.vendor)
	if err != nil {
		t.Fatalf("first request: %v", err)
	}

	f.deposit(t, 12000) // fresh funds do not bypass the open request
	_, err = f.redemption.RequestPayout(ctx, f.vendor)
	var cerr *domain.ConflictError
	if !errors.As(err, &cerr) {
		t.Fatalf("err = %v, want ConflictError", err)
	}
	if cerr.ExistingID != first.ID {
		t.Errorf("conflict id = %s, want %s", cerr.ExistingID, first.ID)
	}
	if !cerr.Amount.Equal(first.Amount) {
		t.Errorf("conflict amount = %s, want %s", cerr.Amount, first.Amount)
	}
}

func TestConcurrentRequestsExactlyOneWins(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.deposit(t, 12000)

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = f.redemption.RequestPayout(ctx, f.vendor)
		}(i)
	}
	wg.Wait()

	var ok, conflict int
	for _, err := range results {
		var cerr *domain.ConflictError
		switch {
		case err == nil:
			ok++
		case errors.As(err, &cerr):
			conflict++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if ok != 1 || conflict != 1 {
		t.Fatalf("got %d successes and %d conflicts, want exactly 1 of each", ok, conflict)
	}

	reqs, _ := f.db.ListByStatus(ctx, domain.PayoutRequested)
	if len(reqs) != 1 {
		t.Fatalf("requested rows = %d, want 1", len(reqs))
	}
}

// downLedger makes ledger aggregation fail so balance reads degrade.
type downLedger struct{ *sqlite.DB }

func (d downLedger) VendorTotals(ctx context.Context, vendorID string) (int64, decimal.Decimal, error) {
	return 0, decimal.Zero, errors.New("datastore unavailable")
}

func TestRequestPayoutRefusedWhileDegraded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// A fully settled payout: the degraded approximation would report
	// its $75.00 as available again.
	prior := &domain.PayoutRequest{
		ID: "prior", VendorID: f.vendor.ID, Amount: decimal.New(7500, -2), Credits: 750,
		Destination: f.vendor.Destination, Reference: "VND-0", InvoiceNo: "INV-0",
	}
	if err := f.db.CreateRequest(ctx, prior, nil); err != nil {
		t.Fatalf("create prior: %v", err)
	}
	if err := f.db.MarkProcessing(ctx, "prior", "ops"); err != nil {
		t.Fatalf("processing: %v", err)
	}
	if err := f.db.MarkCompleted(ctx, "prior", "B0"); err != nil {
		t.Fatalf("complete: %v", err)
	}

	calc := balance.NewCalculator(downLedger{f.db}, f.db, balance.NewTTLCache(5*time.Minute))
	redemption := NewRedemptionService(downLedger{f.db}, f.db, calc, decimal.New(5000, -2))

	_, err := redemption.RequestPayout(ctx, f.vendor)
	if !errors.Is(err, domain.ErrBalanceUnavailable) {
		t.Fatalf("err = %v, want ErrBalanceUnavailable", err)
	}

	// Nothing written: no new request, no withdrawal entry.
	if reqs, _ := f.db.ListByStatus(ctx, domain.PayoutRequested); len(reqs) != 0 {
		t.Errorf("requested rows = %d, want 0", len(reqs))
	}
	if entries, _ := f.db.EntriesByVendor(ctx, f.vendor.ID); len(entries) != 0 {
		t.Errorf("ledger entries = %d, want 0", len(entries))
	}
}

// ─── Settlement ─────────────────────────────────────────────────────────────

func redeem(t *testing.T, f *fixture) *domain.PayoutRequest {
	t.Helper()
	f.deposit(t, 12000)
	req, err := f.redemption.RequestPayout(context.Background(), f.vendor)
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	return req
}

func TestApproveCompleted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := redeem(t, f)

	got, err := f.settlement.Approve(ctx, req.ID, "ops")
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if got.Status != domain.PayoutCompleted {
		t.Errorf("status = %s, want completed", got.Status)
	}
	if got.BatchID != "BATCH-1" {
		t.Errorf("batch = %q, want BATCH-1", got.BatchID)
	}

	// Processor got the request id as idempotency key, exact amount.
	if len(f.processor.keys) != 1 || f.processor.keys[0] != req.ID {
		t.Errorf("idempotency keys = %v, want [%s]", f.processor.keys, req.ID)
	}
	if !f.processor.amounts[0].Equal(req.Amount) {
		t.Errorf("processor amount = %s, want %s", f.processor.amounts[0], req.Amount)
	}

	// Exactly one processed notification, no failure notification.
	if len(f.notifier.processed) != 1 || len(f.notifier.failed) != 0 {
		t.Errorf("notifications = %d processed / %d failed, want 1/0",
			len(f.notifier.processed), len(f.notifier.failed))
	}
}

func TestApproveProcessorError(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := redeem(t, f)

	f.processor.err = errors.New("connection reset")
	got, err := f.settlement.Approve(ctx, req.ID, "ops")

	var perr *domain.ProcessorError
	if !errors.As(err, &perr) {
		t.Fatalf("err = %v, want ProcessorError", err)
	}
	if got.Status != domain.PayoutFailed {
		t.Errorf("status = %s, want failed", got.Status)
	}
	if len(f.notifier.failed) != 1 || len(f.notifier.processed) != 0 {
		t.Errorf("notifications = %d processed / %d failed, want 0/1",
			len(f.notifier.processed), len(f.notifier.failed))
	}

	// The withdrawal entry stays: ledger still shows funds withdrawn.
	credits, _, _ := f.db.VendorTotals(ctx, f.vendor.ID)
	if credits != 0 {
		t.Errorf("ledger credits = %d, want 0 (withdrawal not reversed)", credits)
	}
}

func TestApproveDenied(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := redeem(t, f)

	f.processor.receipt = &domain.PayoutReceipt{BatchID: "BATCH-2", Status: domain.BatchDenied}
	got, err := f.settlement.Approve(ctx, req.ID, "ops")
	if !errors.Is(err, domain.ErrProcessorDenied) {
		t.Fatalf("err = %v, want ErrProcessorDenied", err)
	}
	if got.Status != domain.PayoutFailed {
		t.Errorf("status = %s, want failed", got.Status)
	}
}

func TestApproveInFlight(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := redeem(t, f)

	f.processor.receipt = &domain.PayoutReceipt{BatchID: "BATCH-3", Status: domain.BatchPending}
	got, err := f.settlement.Approve(ctx, req.ID, "ops")
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if got.Status != domain.PayoutProcessing {
		t.Errorf("status = %s, want processing while in flight", got.Status)
	}
	if got.BatchID != "BATCH-3" {
		t.Errorf("batch = %q, want BATCH-3", got.BatchID)
	}
	// No completion notification until the batch is final.
	if len(f.notifier.processed) != 0 {
		t.Errorf("processed notifications = %d, want 0", len(f.notifier.processed))
	}
}

func TestApproveTwice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := redeem(t, f)

	if _, err := f.settlement.Approve(ctx, req.ID, "ops"); err != nil {
		t.Fatalf("first approve: %v", err)
	}
	_, err := f.settlement.Approve(ctx, req.ID, "ops")
	if !errors.Is(err, domain.ErrNotSettleable) {
		t.Errorf("second approve = %v, want ErrNotSettleable", err)
	}
	// Still exactly one processor call and one notification.
	if len(f.processor.keys) != 1 {
		t.Errorf("processor calls = %d, want 1", len(f.processor.keys))
	}
	if len(f.notifier.processed) != 1 {
		t.Errorf("processed notifications = %d, want 1", len(f.notifier.processed))
	}
}

func TestRejectFreesItems(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := redeem(t, f)

	got, err := f.settlement.Reject(ctx, req.ID, "ops", "suspicious destination")
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if got.Status != domain.PayoutRejected {
		t.Errorf("status = %s, want rejected", got.Status)
	}
	if got.Operator != "ops" {
		t.Errorf("operator = %q, want ops", got.Operator)
	}

	// No processor or notification traffic on reject.
	if len(f.processor.keys) != 0 {
		t.Errorf("processor calls = %d, want 0", len(f.processor.keys))
	}
	if len(f.notifier.processed)+len(f.notifier.failed) != 0 {
		t.Error("reject must not notify")
	}

	// Audit rows deleted: the deposit is claimable again.
	unclaimed, _ := f.db.UnclaimedDeposits(ctx, f.vendor.ID)
	if len(unclaimed) != 1 {
		t.Errorf("unclaimed deposits = %d, want 1", len(unclaimed))
	}
}

func TestRejectNonRequested(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := redeem(t, f)

	if _, err := f.settlement.Approve(ctx, req.ID, "ops"); err != nil {
		t.Fatalf("approve: %v", err)
	}
	_, err := f.settlement.Reject(ctx, req.ID, "ops", "too late")
	if !errors.Is(err, domain.ErrNotSettleable) {
		t.Errorf("reject after completion = %v, want ErrNotSettleable", err)
	}
}

func TestValidateDestination(t *testing.T) {
	tests := []struct {
		dest string
		ok   bool
	}{
		{"pay@maple.example", true},
		{"", false},
		{"no-at-sign", false},
		{"@leading", false},
		{"trailing@", false},
		{"two words@x.example", false},
	}

	for _, tt := range tests {
		t.Run(tt.dest, func(t *testing.T) {
			err := ValidateDestination(tt.dest)
			if tt.ok && err != nil {
				t.Errorf("ValidateDestination(%q) = %v, want nil", tt.dest, err)
			}
			if !tt.ok && err == nil {
				t.Errorf("ValidateDestination(%q) = nil, want error", tt.dest)
			}
		})
	}
}
