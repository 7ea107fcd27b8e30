package daemon

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/vendly-hq/vendly/internal/api"
	"github.com/vendly-hq/vendly/internal/app/appreciation"
	"github.com/vendly-hq/vendly/internal/app/balance"
	"github.com/vendly-hq/vendly/internal/app/payout"
	"github.com/vendly-hq/vendly/internal/infra/directory"
	"github.com/vendly-hq/vendly/internal/infra/notify"
	"github.com/vendly-hq/vendly/internal/infra/processor"
	"github.com/vendly-hq/vendly/internal/infra/sqlite"
)

// Daemon owns the wired service graph and the HTTP listener. One
// daemon instance owns the datastore; the redemption race guard and
// the appreciation tier markers both assume that.
type Daemon struct {
	cfg    Config
	db     *sqlite.DB
	server *api.Server
	job    *appreciation.Job
}

// New opens the datastore and wires the services.
func New(cfg Config) (*Daemon, error) {
	if err := os.MkdirAll(cfg.Database.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	db, err := sqlite.Open(cfg.Database.Dir)
	if err != nil {
		return nil, err
	}

	vendors := directory.NewStatic(vendorEntries(cfg.Vendors))
	cache := balance.NewTTLCache(cfg.Payout.TTL())
	calc := balance.NewCalculator(db, db, cache)

	redemption := payout.NewRedemptionService(db, db, calc, cfg.Payout.Minimum())
	settlement := payout.NewSettlementService(
		db,
		processor.New(cfg.Processor.URL, cfg.Processor.APIKey, cfg.Processor.CallTimeout()),
		notify.NewWebhook(cfg.Notify.WebhookURL, 0),
		vendors,
		calc,
		cfg.Payout.Currency,
		cfg.Processor.CallTimeout(),
	)
	job := appreciation.NewJob(db, calc, db, nil)

	server := api.NewServer(calc, redemption, settlement, job, db, vendors,
		cfg.API.AdminToken, cfg.API.JobSecret)
	if cfg.API.Metrics {
		server.EnableMetrics()
	}

	return &Daemon{cfg: cfg, db: db, server: server, job: job}, nil
}

// Job exposes the appreciation job for CLI-triggered runs.
func (d *Daemon) Job() *appreciation.Job { return d.job }

// Close releases the datastore.
func (d *Daemon) Close() error { return d.db.Close() }

// Run serves the API until ctx is cancelled, running the appreciation
// timer alongside when enabled.
func (d *Daemon) Run(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", d.cfg.API.Host, d.cfg.API.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           d.server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	if d.cfg.Appreciation.Enabled {
		go d.appreciationLoop(ctx)
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("[daemon] vendly listening on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (d *Daemon) appreciationLoop(ctx context.Context) {
	interval := d.cfg.Appreciation.RunInterval()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Printf("[daemon] appreciation job scheduled every %s", interval)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sum, err := d.job.Run(ctx)
			if err != nil {
				log.Printf("[daemon] appreciation run: %v", err)
				continue
			}
			log.Printf("[daemon] appreciation run: processed=%d appreciated=%d bonus=%d errors=%d",
				sum.Processed, sum.Appreciated, sum.BonusTotal, len(sum.Errors))
		}
	}
}

func vendorEntries(cfgs []VendorConfig) []directory.Entry {
	entries := make([]directory.Entry, 0, len(cfgs))
	for _, v := range cfgs {
		entries = append(entries, directory.Entry{
			ID: v.ID, Name: v.Name, Destination: v.Destination, Token: v.Token,
		})
	}
	return entries
}
