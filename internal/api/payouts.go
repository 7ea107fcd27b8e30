package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/vendly-hq/vendly/internal/domain"
)

// ─── Vendor endpoints ───────────────────────────────────────────────────────

// handleRequestPayout redeems the vendor's full available balance.
// POST /api/payouts/request (no body)
func (s *Server) handleRequestPayout(w http.ResponseWriter, r *http.Request) {
	vendor := vendorFrom(r)
	if vendor == nil {
		writeError(w, http.StatusUnauthorized, "unauthenticated", "no vendor in context")
		return
	}

	req, err := s.redemption.RequestPayout(r.Context(), vendor)
	if err != nil {
		var verr *domain.ValidationError
		var cerr *domain.ConflictError
		switch {
		case errors.As(err, &verr):
			body := map[string]interface{}{
				"error": map[string]interface{}{"code": verr.Code, "message": verr.Reason},
			}
			if verr.Code == "below_minimum" {
				body["shortfall"] = verr.Short.StringFixed(2)
			}
			writeJSON(w, http.StatusBadRequest, body)
		case errors.As(err, &cerr):
			writeJSON(w, http.StatusConflict, map[string]interface{}{
				"error": map[string]interface{}{
					"code":    "duplicate_request",
					"message": cerr.Error(),
				},
				"existing_id":     cerr.ExistingID,
				"existing_amount": cerr.Amount.StringFixed(2),
			})
		default:
			writeError(w, http.StatusInternalServerError, "processing_error", err.Error())
		}
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"success":   true,
		"payout_id": req.ID,
		"amount":    req.Amount.StringFixed(2),
		"reference": req.Reference,
		"status":    string(req.Status),
	})
}

// handleVendorBalance returns the vendor's current balance view.
// GET /api/vendors/balance
func (s *Server) handleVendorBalance(w http.ResponseWriter, r *http.Request) {
	vendor := vendorFrom(r)
	if vendor == nil {
		writeError(w, http.StatusUnauthorized, "unauthenticated", "no vendor in context")
		return
	}

	bal, err := s.calc.Balance(r.Context(), vendor.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "processing_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, bal)
}

// ─── Operator endpoints ─────────────────────────────────────────────────────

type settleRequest struct {
	PayoutID string `json:"payout_id"`
	Action   string `json:"action"` // approve | reject
	Reason   string `json:"reason,omitempty"`
	Operator string `json:"operator,omitempty"`
}

// handleSettle approves or rejects a payout request.
// POST /api/admin/payouts/settle
func (s *Server) handleSettle(w http.ResponseWriter, r *http.Request) {
	var in settleRequest
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid request body")
		return
	}
	if in.PayoutID == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "payout_id is required")
		return
	}
	operator := in.Operator
	if operator == "" {
		operator = "admin"
	}

	var req *domain.PayoutRequest
	var err error
	switch in.Action {
	case "approve":
		req, err = s.settlement.Approve(r.Context(), in.PayoutID, operator)
	case "reject":
		req, err = s.settlement.Reject(r.Context(), in.PayoutID, operator, in.Reason)
	default:
		writeError(w, http.StatusBadRequest, "bad_request", `action must be "approve" or "reject"`)
		return
	}

	if err != nil {
		var perr *domain.ProcessorError
		var verr *domain.ValidationError
		switch {
		case errors.As(err, &perr):
			// The approval itself stood; only the payment leg failed.
			writeJSON(w, http.StatusInternalServerError, map[string]interface{}{
				"error": map[string]interface{}{
					"code":    "processing_error",
					"message": "request was approved but payment processing failed and must be checked manually: " + perr.Error(),
				},
				"payout": req,
			})
		case errors.Is(err, domain.ErrPayoutNotFound):
			writeError(w, http.StatusNotFound, "not_found", err.Error())
		case errors.Is(err, domain.ErrNotSettleable):
			writeError(w, http.StatusConflict, "not_settleable", err.Error())
		case errors.As(err, &verr):
			writeError(w, http.StatusBadRequest, verr.Code, verr.Reason)
		default:
			writeError(w, http.StatusInternalServerError, "processing_error", err.Error())
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "payout": req})
}

// handleListPayouts lists requests by status for the operator UI.
// GET /api/admin/payouts?status=requested
func (s *Server) handleListPayouts(w http.ResponseWriter, r *http.Request) {
	status := domain.PayoutStatus(r.URL.Query().Get("status"))
	if status == "" {
		status = domain.PayoutRequested
	}
	reqs, err := s.db.ListByStatus(r.Context(), status)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "processing_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"payouts": reqs, "count": len(reqs)})
}

// ─── Appreciation job endpoints ─────────────────────────────────────────────

// handleRunAppreciation triggers one appreciation run.
// POST /api/jobs/appreciation
func (s *Server) handleRunAppreciation(w http.ResponseWriter, r *http.Request) {
	sum, err := s.job.Run(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "processing_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

// handleAppreciationStats returns the schedule and recent run history.
// GET /api/jobs/appreciation is read-only, no side effects.
func (s *Server) handleAppreciationStats(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 100 {
			limit = n
		}
	}
	runs, err := s.db.RecentRuns(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "processing_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"schedule": s.job.Tiers(),
		"runs":     runs,
	})
}
