// Package notify sends best-effort payout notifications to a webhook
// collaborator. Sends run in their own goroutine and failures are only
// logged: the settlement state machine never waits on or reacts to a
// notification outcome.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/vendly-hq/vendly/internal/domain"
)

// Webhook implements domain.Notifier by POSTing event payloads.
type Webhook struct {
	url  string
	http *http.Client
}

// NewWebhook creates a notifier. An empty url disables sends (useful
// in tests and single-box setups).
func NewWebhook(url string, timeout time.Duration) *Webhook {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Webhook{url: url, http: &http.Client{Timeout: timeout}}
}

type event struct {
	Event     string    `json:"event"`
	VendorID  string    `json:"vendor_id"`
	Vendor    string    `json:"vendor"`
	PayoutID  string    `json:"payout_id"`
	Reference string    `json:"reference"`
	Amount    string    `json:"amount"`
	Status    string    `json:"status"`
	Reason    string    `json:"reason,omitempty"`
	At        time.Time `json:"at"`
}

// PayoutProcessed announces a completed payout.
func (w *Webhook) PayoutProcessed(vendor domain.Vendor, req domain.PayoutRequest) {
	w.send(event{
		Event: "payout.processed", VendorID: vendor.ID, Vendor: vendor.Name,
		PayoutID: req.ID, Reference: req.Reference,
		Amount: req.Amount.StringFixed(2), Status: string(req.Status),
		At: time.Now().UTC(),
	})
}

// PayoutFailed announces a failed payout.
func (w *Webhook) PayoutFailed(vendor domain.Vendor, req domain.PayoutRequest, reason string) {
	w.send(event{
		Event: "payout.failed", VendorID: vendor.ID, Vendor: vendor.Name,
		PayoutID: req.ID, Reference: req.Reference,
		Amount: req.Amount.StringFixed(2), Status: string(req.Status),
		Reason: reason, At: time.Now().UTC(),
	})
}

func (w *Webhook) send(e event) {
	if w.url == "" {
		return
	}
	go func() {
		body, err := json.Marshal(e)
		if err != nil {
			log.Printf("[notify] marshal %s: %v", e.Event, err)
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), w.http.Timeout)
		defer cancel()

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
		if err != nil {
			log.Printf("[notify] %s: %v", e.Event, err)
			return
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := w.http.Do(req)
		if err != nil {
			log.Printf("[notify] %s for payout %s: %v", e.Event, e.PayoutID, err)
			return
		}
		resp.Body.Close()
		if resp.StatusCode >= 300 {
			log.Printf("[notify] %s for payout %s: collaborator returned %d", e.Event, e.PayoutID, resp.StatusCode)
		}
	}()
}
