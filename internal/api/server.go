// Package api provides the vendly HTTP server: the vendor redemption
// endpoint, the admin settlement endpoint, the appreciation job
// trigger, and read-only balance and stats endpoints.
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vendly-hq/vendly/internal/app/appreciation"
	"github.com/vendly-hq/vendly/internal/app/balance"
	"github.com/vendly-hq/vendly/internal/app/payout"
	"github.com/vendly-hq/vendly/internal/domain"
	"github.com/vendly-hq/vendly/internal/infra/sqlite"
)

// Version is the vendly release version.
const Version = "0.3.0"

// Server is the vendly HTTP API server.
type Server struct {
	calc       *balance.Calculator
	redemption *payout.RedemptionService
	settlement *payout.SettlementService
	job        *appreciation.Job
	db         *sqlite.DB
	vendors    domain.VendorDirectory

	adminToken     string
	jobSecret      string
	metricsEnabled bool
}

// NewServer creates a new API server.
func NewServer(calc *balance.Calculator, redemption *payout.RedemptionService, settlement *payout.SettlementService, job *appreciation.Job, db *sqlite.DB, vendors domain.VendorDirectory, adminToken, jobSecret string) *Server {
	return &Server{
		calc: calc, redemption: redemption, settlement: settlement,
		job: job, db: db, vendors: vendors,
		adminToken: adminToken, jobSecret: jobSecret,
	}
}

// EnableMetrics enables the /metrics Prometheus endpoint.
func (s *Server) EnableMetrics() { s.metricsEnabled = true }

// Handler returns the chi router with all routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/api/version", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"version": Version})
	})

	// Vendor-facing endpoints
	r.Group(func(r chi.Router) {
		r.Use(s.vendorAuth)
		r.Post("/api/payouts/request", s.handleRequestPayout)
		r.Get("/api/vendors/balance", s.handleVendorBalance)
	})

	// Operator endpoints
	r.Group(func(r chi.Router) {
		r.Use(s.adminAuth)
		r.Post("/api/admin/payouts/settle", s.handleSettle)
		r.Get("/api/admin/payouts", s.handleListPayouts)
	})

	// Appreciation job: POST guarded by the scheduler's shared secret,
	// GET is read-only with no side effects.
	r.Post("/api/jobs/appreciation", s.jobSecretAuth(s.handleRunAppreciation))
	r.Get("/api/jobs/appreciation", s.handleAppreciationStats)

	if s.metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	return r
}

// ─── Auth middleware ────────────────────────────────────────────────────────
// Authentication proper (sessions, identity) is the platform's
// concern; these middlewares only map presented credentials onto the
// collaborator interfaces.

type ctxKey int

const ctxVendor ctxKey = iota

// vendorAuth resolves the bearer token to a vendor via the directory.
func (s *Server) vendorAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			writeError(w, http.StatusUnauthorized, "unauthenticated", "missing bearer token")
			return
		}
		vendor, err := s.vendors.ResolveToken(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthenticated", "invalid credentials")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxVendor, vendor)))
	})
}

// adminAuth checks the operator token.
func (s *Server) adminAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.adminToken == "" || subtle.ConstantTimeCompare([]byte(bearerToken(r)), []byte(s.adminToken)) != 1 {
			writeError(w, http.StatusUnauthorized, "unauthenticated", "admin token required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// jobSecretAuth checks the scheduler's shared secret header.
func (s *Server) jobSecretAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.jobSecret == "" || subtle.ConstantTimeCompare([]byte(r.Header.Get("X-Job-Secret")), []byte(s.jobSecret)) != 1 {
			writeError(w, http.StatusUnauthorized, "unauthenticated", "job secret required")
			return
		}
		next(w, r)
	}
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	return ""
}

func vendorFrom(r *http.Request) *domain.Vendor {
	v, _ := r.Context().Value(ctxVendor).(*domain.Vendor)
	return v
}

// ─── Response helpers ───────────────────────────────────────────────────────

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response with a machine code.
func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]interface{}{
			"code":    code,
			"message": msg,
		},
	})
}
