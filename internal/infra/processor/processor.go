// Package processor is the HTTP client for the external payment
// processor. The processor executes real-world payouts; vendly only
// ever calls it with an idempotency key (the payout request id) so a
// retried approval cannot pay a vendor twice.
package processor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vendly-hq/vendly/internal/domain"
)

// Client implements domain.PaymentProcessor against the processor's
// create-payout endpoint.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// New creates a client. timeout bounds each call at the transport
// level, in addition to whatever deadline the caller's context carries.
func New(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: timeout},
	}
}

type createPayoutRequest struct {
	Destination    string `json:"destination"`
	Amount         string `json:"amount"`
	Currency       string `json:"currency"`
	Note           string `json:"note,omitempty"`
	IdempotencyKey string `json:"idempotency_key"`
}

type createPayoutResponse struct {
	BatchID     string `json:"batch_id"`
	BatchStatus string `json:"batch_status"`
	Error       string `json:"error,omitempty"`
}

// CreatePayout asks the processor to pay amount to destination.
// Network failures, non-2xx responses and timeouts all surface as
// ProcessorError; the caller treats them identically (terminal failed,
// no automatic retry).
func (c *Client) CreatePayout(ctx context.Context, destination string, amount decimal.Decimal, currency, note, idempotencyKey string) (*domain.PayoutReceipt, error) {
	body, err := json.Marshal(createPayoutRequest{
		Destination:    destination,
		Amount:         amount.StringFixed(2),
		Currency:       currency,
		Note:           note,
		IdempotencyKey: idempotencyKey,
	})
	if err != nil {
		return nil, &domain.ProcessorError{Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/payouts", bytes.NewReader(body))
	if err != nil {
		return nil, &domain.ProcessorError{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", idempotencyKey)
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &domain.ProcessorError{Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &domain.ProcessorError{Err: err}
	}

	var out createPayoutResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, &domain.ProcessorError{Err: fmt.Errorf("bad processor response (%d): %w", resp.StatusCode, err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := out.Error
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return nil, &domain.ProcessorError{BatchID: out.BatchID, Err: fmt.Errorf("processor returned %d: %s", resp.StatusCode, msg)}
	}

	return &domain.PayoutReceipt{
		BatchID: out.BatchID,
		Status:  mapStatus(out.BatchStatus),
	}, nil
}

// mapStatus folds the processor's batch vocabulary onto ours. Unknown
// statuses are treated as still in flight rather than guessed final.
func mapStatus(s string) domain.BatchStatus {
	switch s {
	case "SUCCESS", "success", "COMPLETED":
		return domain.BatchSuccess
	case "DENIED", "denied", "FAILED", "CANCELED":
		return domain.BatchDenied
	default:
		return domain.BatchPending
	}
}
