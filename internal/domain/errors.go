package domain

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// ─── Sentinel Errors ────────────────────────────────────────────────────────
// Domain errors are pure, with no infrastructure dependency.

var (
	// Vendor errors
	ErrVendorNotFound  = errors.New("vendor not found")
	ErrUnauthenticated = errors.New("missing or invalid credentials")

	// Payout errors
	ErrPayoutNotFound   = errors.New("payout request not found")
	ErrDuplicateRequest = errors.New("vendor already has a pending payout request")
	ErrNotSettleable    = errors.New("payout request is not in a settleable state")
	ErrBelowMinimum     = errors.New("available balance below payout minimum")
	ErrBadDestination   = errors.New("payout destination missing or malformed")

	// Balance errors
	ErrBalanceUnavailable = errors.New("balance temporarily unavailable")

	// Processor errors
	ErrProcessorDenied = errors.New("payment processor denied the payout")
)

// ValidationError is a user-correctable input failure (bad destination,
// below-minimum balance). Maps to HTTP 400.
type ValidationError struct {
	Code   string          // machine code, e.g. "below_minimum"
	Reason string          // human-readable explanation
	Short  decimal.Decimal // shortfall for below_minimum, zero otherwise
}

func (e *ValidationError) Error() string { return e.Reason }

// ConflictError reports that a pending request already exists for the
// vendor. Carries the conflicting request so clients can display it.
// Maps to HTTP 409.
type ConflictError struct {
	ExistingID string
	Amount     decimal.Decimal
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("payout request %s for %s already pending", e.ExistingID, e.Amount.StringFixed(2))
}

func (e *ConflictError) Unwrap() error { return ErrDuplicateRequest }

// ProcessorError wraps a failure from the external payment processor.
// Settlement records it as a terminal failed status; it is never
// retried automatically.
type ProcessorError struct {
	BatchID string // set if the processor got far enough to assign one
	Err     error
}

func (e *ProcessorError) Error() string {
	if e.BatchID != "" {
		return fmt.Sprintf("payment processor error (batch %s): %v", e.BatchID, e.Err)
	}
	return fmt.Sprintf("payment processor error: %v", e.Err)
}

func (e *ProcessorError) Unwrap() error { return e.Err }
