package payout

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/vendly-hq/vendly/internal/app/balance"
	"github.com/vendly-hq/vendly/internal/domain"
	"github.com/vendly-hq/vendly/internal/infra/observability"
)

// DefaultProcessorTimeout bounds the synchronous processor call. A
// timeout counts as a processor error; the idempotency key covers the
// case where the call actually landed server-side.
const DefaultProcessorTimeout = 30 * time.Second

// SettlementService drives the operator approve/reject state machine:
// requested → rejected, or requested → processing → completed|failed.
// Terminal states are final; a retry is a fresh redemption cycle.
type SettlementService struct {
	payouts   domain.PayoutStore
	processor domain.PaymentProcessor
	notifier  domain.Notifier
	vendors   domain.VendorDirectory
	calc      *balance.Calculator
	currency  string
	timeout   time.Duration
}

// NewSettlementService creates the service. currency defaults to USD,
// timeout to DefaultProcessorTimeout.
func NewSettlementService(payouts domain.PayoutStore, processor domain.PaymentProcessor, notifier domain.Notifier, vendors domain.VendorDirectory, calc *balance.Calculator, currency string, timeout time.Duration) *SettlementService {
	if currency == "" {
		currency = "USD"
	}
	if timeout <= 0 {
		timeout = DefaultProcessorTimeout
	}
	return &SettlementService{
		payouts: payouts, processor: processor, notifier: notifier,
		vendors: vendors, calc: calc, currency: currency, timeout: timeout,
	}
}

// Reject declines a requested payout. Records reason and operator,
// deletes the audit snapshot so the underlying items can be claimed by
// a future request. No ledger or processor interaction.
func (s *SettlementService) Reject(ctx context.Context, id, operator, reason string) (*domain.PayoutRequest, error) {
	if reason == "" {
		reason = "rejected by operator"
	}
	if err := s.payouts.MarkRejected(ctx, id, operator, fmt.Sprintf("rejected by %s: %s", operator, reason)); err != nil {
		return nil, err
	}
	if err := s.payouts.DeleteAudit(ctx, id); err != nil {
		log.Printf("[settlement] delete audit rows for %s: %v", id, err)
	}

	req, err := s.payouts.Request(ctx, id)
	if err != nil {
		return nil, err
	}
	s.calc.Invalidate(req.VendorID)
	observability.PayoutSettlements.WithLabelValues("rejected").Inc()
	return req, nil
}

// Approve settles a requested payout through the external processor.
// On processor failure the request lands in failed, a failure
// notification fires, and the withdrawal ledger entry stays as-is:
// funds remain withdrawn pending manual reconciliation.
func (s *SettlementService) Approve(ctx context.Context, id, operator string) (*domain.PayoutRequest, error) {
	req, err := s.payouts.Request(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.Status != domain.PayoutRequested {
		return req, fmt.Errorf("payout %s is %s: %w", id, req.Status, domain.ErrNotSettleable)
	}

	// Destinations can go stale between request and approval.
	if err := ValidateDestination(req.Destination); err != nil {
		return req, err
	}

	if err := s.payouts.MarkProcessing(ctx, id, operator); err != nil {
		return req, err
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	note := fmt.Sprintf("vendly payout %s", req.Reference)
	start := time.Now()
	receipt, err := s.processor.CreatePayout(callCtx, req.Destination, req.Amount, s.currency, note, req.ID)
	observability.ProcessorLatency.Observe(time.Since(start).Seconds())

	if err != nil {
		return s.fail(ctx, req, fmt.Sprintf("payment processing failed: %v", err), err)
	}

	switch receipt.Status {
	case domain.BatchSuccess:
		if err := s.payouts.MarkCompleted(ctx, id, receipt.BatchID); err != nil {
			return req, err
		}
		s.calc.Invalidate(req.VendorID)
		observability.PayoutSettlements.WithLabelValues("completed").Inc()

		updated, err := s.payouts.Request(ctx, id)
		if err != nil {
			return nil, err
		}
		s.notify(updated, "")
		return updated, nil

	case domain.BatchDenied:
		return s.fail(ctx, req, fmt.Sprintf("processor denied batch %s", receipt.BatchID),
			&domain.ProcessorError{BatchID: receipt.BatchID, Err: domain.ErrProcessorDenied})

	default: // in flight, stays processing until an operator follows up
		if err := s.payouts.RecordBatch(ctx, id, receipt.BatchID); err != nil {
			log.Printf("[settlement] record batch %s on %s: %v", receipt.BatchID, id, err)
		}
		s.calc.Invalidate(req.VendorID)
		observability.PayoutSettlements.WithLabelValues("processing").Inc()
		return s.payouts.Request(ctx, id)
	}
}

// fail lands the request in the terminal failed state and fires the
// failure notification. The withdrawal entry is deliberately NOT
// reversed; the discrepancy is flagged, not auto-corrected.
func (s *SettlementService) fail(ctx context.Context, req *domain.PayoutRequest, note string, cause error) (*domain.PayoutRequest, error) {
	if err := s.payouts.MarkFailed(ctx, req.ID, note); err != nil {
		log.Printf("[settlement] mark %s failed: %v", req.ID, err)
	}
	log.Printf("[settlement] reconciliation needed: payout %s failed, withdrawal entry left in place", req.ID)
	observability.ReconciliationNeeded.Inc()
	observability.PayoutSettlements.WithLabelValues("failed").Inc()
	s.calc.Invalidate(req.VendorID)

	updated, err := s.payouts.Request(ctx, req.ID)
	if err != nil {
		updated = req
	}
	s.notify(updated, note)

	if perr, ok := cause.(*domain.ProcessorError); ok {
		return updated, perr
	}
	return updated, &domain.ProcessorError{Err: cause}
}

// notify fires the best-effort collaborator call. Failures here never
// touch the settlement outcome.
func (s *SettlementService) notify(req *domain.PayoutRequest, failReason string) {
	vendor, err := s.vendors.Vendor(req.VendorID)
	if err != nil {
		log.Printf("[settlement] skip notification, vendor %s lookup failed: %v", req.VendorID, err)
		return
	}
	if failReason != "" {
		s.notifier.PayoutFailed(*vendor, *req, failReason)
		return
	}
	s.notifier.PayoutProcessed(*vendor, *req)
}
