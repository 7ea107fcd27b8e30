// Package domain holds the core types and business rules of vendly.
// It has no infrastructure dependencies: stores, processors and
// notifiers implement the interfaces declared here.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ─── Ledger ─────────────────────────────────────────────────────────────────

// TransactionType is the accounting kind of a ledger entry.
type TransactionType string

const (
	TxDeposit      TransactionType = "deposit"
	TxWithdrawal   TransactionType = "withdrawal"
	TxAppreciation TransactionType = "appreciation"
)

// EntrySource is the business reason an entry exists.
type EntrySource string

const (
	SourceSubscription EntrySource = "subscription"
	SourcePurchase     EntrySource = "purchase"
	SourcePayout       EntrySource = "payout"
	SourceAppreciation EntrySource = "appreciation"
)

// LedgerEntry is one row in the append-only vendor earnings ledger.
// The ledger is the balance of record: entries are never edited or
// deleted after insert. The single exception is AppreciationTier,
// which the appreciation job advances as an idempotency marker.
type LedgerEntry struct {
	ID       int64           `json:"id"`
	VendorID string          `json:"vendor_id"`
	Type     TransactionType `json:"type"`
	Credits  int64           `json:"credits"` // signed credit units
	USD      decimal.Decimal `json:"usd"`     // signed dollar value
	Source   EntrySource     `json:"source"`
	RefType  string          `json:"ref_type,omitempty"` // originating entity kind
	RefID    string          `json:"ref_id,omitempty"`

	// AppreciationTier is the highest age tier (in months) this entry
	// has already been credited for. Zero means never appreciated.
	// Only meaningful on subscription-sourced deposits.
	AppreciationTier int `json:"appreciation_tier,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// ─── Payout requests ────────────────────────────────────────────────────────

// PayoutStatus tracks a redemption request through settlement.
type PayoutStatus string

const (
	PayoutRequested  PayoutStatus = "requested"
	PayoutProcessing PayoutStatus = "processing"
	PayoutCompleted  PayoutStatus = "completed"
	PayoutFailed     PayoutStatus = "failed"
	PayoutRejected   PayoutStatus = "rejected"
)

// Terminal reports whether s is a final state. Terminal states never
// change again; a retry is a fresh request.
func (s PayoutStatus) Terminal() bool {
	switch s {
	case PayoutCompleted, PayoutFailed, PayoutRejected:
		return true
	}
	return false
}

// PayoutRequest is one redemption attempt by a vendor. Amount is
// snapshotted from the balance at creation time and never recomputed.
type PayoutRequest struct {
	ID          string          `json:"id"`
	VendorID    string          `json:"vendor_id"`
	Amount      decimal.Decimal `json:"amount"`  // USD, snapshot at creation
	Credits     int64           `json:"credits"` // credit units backing Amount
	Status      PayoutStatus    `json:"status"`
	Destination string          `json:"destination"` // payout address
	Reference   string          `json:"reference"`   // human-readable, e.g. VND-20250901-A1B2
	InvoiceNo   string          `json:"invoice_no"`
	Operator    string          `json:"operator,omitempty"` // admin who settled/rejected
	BatchID     string          `json:"batch_id,omitempty"` // processor batch identifier
	Notes       string          `json:"notes,omitempty"`    // human-readable audit trail
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// PayoutItemAudit snapshots one fulfilled item that was visible when a
// request was created. Informational only: money always comes from the
// request's Amount, never from re-summing these rows. Deleting a
// request's audit rows frees the items for a future request.
type PayoutItemAudit struct {
	ID       int64           `json:"id"`
	PayoutID string          `json:"payout_id"`
	EntryID  int64           `json:"entry_id"` // underlying ledger entry
	Credits  int64           `json:"credits"`
	USD      decimal.Decimal `json:"usd"`
}

// ─── Balance ────────────────────────────────────────────────────────────────

// Balance is a point-in-time view of a vendor's funds.
type Balance struct {
	VendorID  string          `json:"vendor_id"`
	Credits   int64           `json:"credits"`   // available credit units
	Available decimal.Decimal `json:"available"` // USD, floored at zero
	Pending   decimal.Decimal `json:"pending"`   // zero: single accounting path
	Held      decimal.Decimal `json:"held"`      // requested+processing payouts
	Total     decimal.Decimal `json:"total"`     // available + held
	AsOf      time.Time       `json:"as_of"`
	Degraded  bool            `json:"degraded,omitempty"` // fallback approximation
}

// ─── Vendors ────────────────────────────────────────────────────────────────

// Vendor is the slice of the vendor profile this subsystem needs.
// Profile management itself lives in the CRM.
type Vendor struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Destination string `json:"destination"` // payout address (e.g. PayPal email)
}

// ─── Processor collaborator values ──────────────────────────────────────────

// BatchStatus is the external payment processor's view of a payout batch.
type BatchStatus string

const (
	BatchPending BatchStatus = "pending" // accepted, still in flight
	BatchSuccess BatchStatus = "success" // funds sent
	BatchDenied  BatchStatus = "denied"  // processor refused
)

// PayoutReceipt is the processor's answer to a create-payout call.
type PayoutReceipt struct {
	BatchID string      `json:"batch_id"`
	Status  BatchStatus `json:"status"`
}

// ─── Appreciation runs ──────────────────────────────────────────────────────

// AppreciationRun summarizes one appreciation job invocation, kept for
// the read-only stats endpoint.
type AppreciationRun struct {
	ID          int64     `json:"id"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
	Processed   int       `json:"processed"`
	Appreciated int       `json:"appreciated"`
	BonusTotal  int64     `json:"bonus_total"`
	ErrorCount  int       `json:"error_count"`
	ErrorDetail string    `json:"error_detail,omitempty"`
}
