package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// ─── Service Interfaces ─────────────────────────────────────────────────────
// These interfaces define boundaries between layers.
// Infrastructure implements them; application services depend on them.

// LedgerStore is the append-only ledger of record. Implementations must
// never expose edits or deletes; SetAppreciationTier is the single
// sanctioned mutation (the appreciation idempotency marker).
type LedgerStore interface {
	// AppendEntry inserts a new entry, filling ID and CreatedAt.
	AppendEntry(ctx context.Context, e *LedgerEntry) error

	// EntriesByVendor returns a vendor's entries, oldest first.
	EntriesByVendor(ctx context.Context, vendorID string) ([]LedgerEntry, error)

	// VendorTotals sums a vendor's signed credits and USD across all entries.
	VendorTotals(ctx context.Context, vendorID string) (credits int64, usd decimal.Decimal, err error)

	// UnclaimedDeposits returns the vendor's deposit entries not
	// referenced by any live payout audit row.
	UnclaimedDeposits(ctx context.Context, vendorID string) ([]LedgerEntry, error)

	// AppreciableDeposits returns subscription-sourced deposits created
	// before cutoff whose appreciation tier is below tierMonths.
	AppreciableDeposits(ctx context.Context, cutoff time.Time, tierMonths int) ([]LedgerEntry, error)

	// SetAppreciationTier advances an entry's idempotency marker.
	SetAppreciationTier(ctx context.Context, entryID int64, tierMonths int) error
}

// PayoutStore persists payout requests and their audit snapshots.
// Transition methods succeed only from the states the settlement state
// machine permits, and report ErrNotSettleable otherwise.
type PayoutStore interface {
	// CreateRequest inserts a request (status=requested) plus its audit
	// rows. Returns an error wrapping ErrDuplicateRequest if the vendor
	// already has a requested row; the store's unique constraint is
	// authoritative for that invariant.
	CreateRequest(ctx context.Context, req *PayoutRequest, audit []PayoutItemAudit) error

	Request(ctx context.Context, id string) (*PayoutRequest, error)

	// RequestedFor returns the vendor's open requested-status request,
	// or ErrPayoutNotFound if there is none.
	RequestedFor(ctx context.Context, vendorID string) (*PayoutRequest, error)

	// HeldTotal sums amounts of the vendor's requests in
	// {requested, processing}.
	HeldTotal(ctx context.Context, vendorID string) (decimal.Decimal, error)

	// CompletedTotals sums the vendor's completed payouts. Used only as
	// the degraded balance fallback.
	CompletedTotals(ctx context.Context, vendorID string) (credits int64, usd decimal.Decimal, err error)

	MarkProcessing(ctx context.Context, id, operator string) error
	MarkRejected(ctx context.Context, id, operator, reason string) error
	MarkCompleted(ctx context.Context, id, batchID string) error
	MarkFailed(ctx context.Context, id, note string) error

	// RecordBatch stores the processor batch id on an in-flight request.
	RecordBatch(ctx context.Context, id, batchID string) error

	// AppendNote appends to the request's human-readable audit trail.
	AppendNote(ctx context.Context, id, note string) error

	// DeleteAudit removes a request's audit rows, freeing the
	// underlying items for a future request.
	DeleteAudit(ctx context.Context, payoutID string) error

	ListByStatus(ctx context.Context, status PayoutStatus) ([]PayoutRequest, error)
}

// BalanceCache is a keyed store with expiry for computed balances.
// Injected into the Balance Calculator so deployments can swap the
// in-process implementation for a shared, invalidation-broadcasting one.
type BalanceCache interface {
	Get(vendorID string) (*Balance, bool)
	Set(vendorID string, b *Balance)
	Invalidate(vendorID string)
}

// PaymentProcessor is the external payout collaborator. The
// idempotency key (the request id) guarantees a retried call does not
// create a duplicate real-world payout.
type PaymentProcessor interface {
	CreatePayout(ctx context.Context, destination string, amount decimal.Decimal, currency, note, idempotencyKey string) (*PayoutReceipt, error)
}

// Notifier is the best-effort notification collaborator. Calls are
// fire-and-forget: implementations log failures; the settlement state
// machine never waits on or reacts to them.
type Notifier interface {
	PayoutProcessed(vendor Vendor, req PayoutRequest)
	PayoutFailed(vendor Vendor, req PayoutRequest, reason string)
}

// VendorDirectory resolves vendors and their payout destinations.
// Vendor profiles live in the CRM; this is the slice vendly needs.
type VendorDirectory interface {
	ResolveToken(token string) (*Vendor, error)
	Vendor(id string) (*Vendor, error)
}
