// Package payout implements the vendor-facing redemption flow and the
// operator-facing settlement state machine over payout requests.
package payout

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/vendly-hq/vendly/internal/app/balance"
	"github.com/vendly-hq/vendly/internal/domain"
	"github.com/vendly-hq/vendly/internal/infra/observability"
)

// DefaultMinimum is the smallest available balance a vendor can redeem.
var DefaultMinimum = decimal.New(5000, -2) // $50.00

// RedemptionService turns an available balance into a pending payout
// request.
type RedemptionService struct {
	ledger  domain.LedgerStore
	payouts domain.PayoutStore
	calc    *balance.Calculator
	minimum decimal.Decimal
	now     func() time.Time // test hook
}

// NewRedemptionService creates the service. A non-positive minimum
// falls back to DefaultMinimum.
func NewRedemptionService(ledger domain.LedgerStore, payouts domain.PayoutStore, calc *balance.Calculator, minimum decimal.Decimal) *RedemptionService {
	if minimum.Sign() <= 0 {
		minimum = DefaultMinimum
	}
	return &RedemptionService{ledger: ledger, payouts: payouts, calc: calc, minimum: minimum, now: time.Now}
}

// RequestPayout creates a payout request for the vendor's full
// available balance. On success exactly one request row and one
// withdrawal ledger entry exist; on any failure before the request row
// commits, nothing is written.
func (s *RedemptionService) RequestPayout(ctx context.Context, vendor *domain.Vendor) (*domain.PayoutRequest, error) {
	if err := ValidateDestination(vendor.Destination); err != nil {
		observability.PayoutRequests.WithLabelValues("bad_destination").Inc()
		return nil, err
	}

	bal, err := s.calc.Balance(ctx, vendor.ID)
	if err != nil {
		observability.PayoutRequests.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("compute balance: %w", err)
	}
	// A degraded balance approximates from completed payouts, not the
	// ledger of record. Redeeming against it would pay already-settled
	// money out a second time, so the vendor has to retry later.
	if bal.Degraded {
		observability.PayoutRequests.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("redeem for %s: %w", vendor.ID, domain.ErrBalanceUnavailable)
	}
	if bal.Available.LessThan(s.minimum) {
		observability.PayoutRequests.WithLabelValues("below_minimum").Inc()
		return nil, &domain.ValidationError{
			Code:   "below_minimum",
			Reason: fmt.Sprintf("available balance %s is below the %s minimum", bal.Available.StringFixed(2), s.minimum.StringFixed(2)),
			Short:  s.minimum.Sub(bal.Available),
		}
	}

	// Friendly duplicate pre-check. The store's partial unique index is
	// what actually holds the one-open-request invariant; this read
	// only lets us hand back the conflicting request's details.
	if existing, err := s.payouts.RequestedFor(ctx, vendor.ID); err == nil {
		observability.PayoutRequests.WithLabelValues("duplicate").Inc()
		return nil, &domain.ConflictError{ExistingID: existing.ID, Amount: existing.Amount}
	} else if !errors.Is(err, domain.ErrPayoutNotFound) {
		observability.PayoutRequests.WithLabelValues("error").Inc()
		return nil, err
	}

	// Audit snapshot of the fulfilled items visible right now.
	// Informational only: the payout amount stays the balance snapshot
	// above even if item states change mid-request.
	items, err := s.ledger.UnclaimedDeposits(ctx, vendor.ID)
	if err != nil {
		observability.PayoutRequests.WithLabelValues("error").Inc()
		return nil, err
	}
	audit := make([]domain.PayoutItemAudit, 0, len(items))
	for _, it := range items {
		audit = append(audit, domain.PayoutItemAudit{EntryID: it.ID, Credits: it.Credits, USD: it.USD})
	}

	req := &domain.PayoutRequest{
		ID:          uuid.NewString(),
		VendorID:    vendor.ID,
		Amount:      bal.Available,
		Credits:     bal.Credits,
		Destination: vendor.Destination,
		Reference:   s.reference(),
		InvoiceNo:   s.invoiceNumber(vendor.ID),
	}

	if err := s.payouts.CreateRequest(ctx, req, audit); err != nil {
		if errors.Is(err, domain.ErrDuplicateRequest) {
			// Lost the insert race to a concurrent call.
			observability.PayoutRequests.WithLabelValues("duplicate").Inc()
			if existing, lookupErr := s.payouts.RequestedFor(ctx, vendor.ID); lookupErr == nil {
				return nil, &domain.ConflictError{ExistingID: existing.ID, Amount: existing.Amount}
			}
			return nil, &domain.ConflictError{}
		}
		observability.PayoutRequests.WithLabelValues("error").Inc()
		return nil, err
	}

	entry := &domain.LedgerEntry{
		VendorID: vendor.ID,
		Type:     domain.TxWithdrawal,
		Credits:  -bal.Credits,
		USD:      bal.Available.Neg(),
		Source:   domain.SourcePayout,
		RefType:  "payout_request",
		RefID:    req.ID,
	}
	if err := s.ledger.AppendEntry(ctx, entry); err != nil {
		// The request row is already visible and an admin must handle
		// it, so we do not roll back. Flag for manual reconciliation
		// instead of telling the vendor something failed.
		log.Printf("[payout] reconciliation needed: request %s committed but withdrawal entry failed: %v", req.ID, err)
		observability.ReconciliationNeeded.Inc()
		if noteErr := s.payouts.AppendNote(ctx, req.ID, "reconciliation needed: withdrawal ledger entry missing"); noteErr != nil {
			log.Printf("[payout] append note on %s: %v", req.ID, noteErr)
		}
	}

	s.calc.Invalidate(vendor.ID)
	observability.PayoutRequests.WithLabelValues("created").Inc()
	return req, nil
}

// ValidateDestination checks a payout address. Destinations are the
// processor's account handles (email-shaped).
func ValidateDestination(dest string) error {
	dest = strings.TrimSpace(dest)
	if dest == "" {
		return &domain.ValidationError{Code: "bad_destination", Reason: "payout destination is not set"}
	}
	at := strings.Index(dest, "@")
	if at < 1 || at == len(dest)-1 || strings.ContainsAny(dest, " \t\n") {
		return &domain.ValidationError{Code: "bad_destination", Reason: fmt.Sprintf("payout destination %q is malformed", dest)}
	}
	return nil
}

// reference generates the human-readable reference, e.g.
// VND-20250901-A1B2C3.
func (s *RedemptionService) reference() string {
	frag := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))[:6]
	return fmt.Sprintf("VND-%s-%s", s.now().UTC().Format("20060102"), frag)
}

// invoiceNumber generates a per-vendor invoice number.
func (s *RedemptionService) invoiceNumber(vendorID string) string {
	return fmt.Sprintf("INV-%s-%d", strings.ToUpper(vendorID), s.now().UTC().Unix())
}
