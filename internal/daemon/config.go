// Package daemon loads configuration and wires the vendly services
// into a running process.
package daemon

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/shopspring/decimal"
)

// Config is the vendly daemon configuration, loaded from TOML.
type Config struct {
	API          APIConfig          `toml:"api"`
	Database     DatabaseConfig     `toml:"database"`
	Payout       PayoutConfig       `toml:"payout"`
	Processor    ProcessorConfig    `toml:"processor"`
	Notify       NotifyConfig       `toml:"notify"`
	Appreciation AppreciationConfig `toml:"appreciation"`
	Vendors      []VendorConfig     `toml:"vendors"`
}

type APIConfig struct {
	Host       string `toml:"host"`
	Port       int    `toml:"port"`
	Metrics    bool   `toml:"metrics"`
	AdminToken string `toml:"admin_token"`
	JobSecret  string `toml:"job_secret"`
}

type DatabaseConfig struct {
	Dir string `toml:"dir"`
}

type PayoutConfig struct {
	// MinimumUSD is the smallest redeemable balance, e.g. "50.00".
	MinimumUSD string `toml:"minimum_usd"`
	Currency   string `toml:"currency"`
	// CacheTTL is the balance cache entry lifetime, e.g. "5m".
	CacheTTL string `toml:"cache_ttl"`
}

type ProcessorConfig struct {
	URL    string `toml:"url"`
	APIKey string `toml:"api_key"`
	// Timeout bounds the synchronous create-payout call, e.g. "30s".
	Timeout string `toml:"timeout"`
}

type NotifyConfig struct {
	WebhookURL string `toml:"webhook_url"`
}

type AppreciationConfig struct {
	// Enabled starts the in-process timer. Run at most one vendly
	// instance with this on; the tier markers assume a single
	// scheduler.
	Enabled  bool   `toml:"enabled"`
	Interval string `toml:"interval"` // e.g. "24h"
}

type VendorConfig struct {
	ID          string `toml:"id"`
	Name        string `toml:"name"`
	Destination string `toml:"destination"`
	Token       string `toml:"token"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	home, _ := os.UserHomeDir()
	return Config{
		API: APIConfig{
			Host:    "127.0.0.1",
			Port:    8437,
			Metrics: true,
		},
		Database: DatabaseConfig{Dir: filepath.Join(home, ".vendly")},
		Payout: PayoutConfig{
			MinimumUSD: "50.00",
			Currency:   "USD",
			CacheTTL:   "5m",
		},
		Processor:    ProcessorConfig{Timeout: "30s"},
		Appreciation: AppreciationConfig{Enabled: true, Interval: "24h"},
	}
}

// LoadConfig reads the TOML config at path, layered over defaults.
// A missing file is not an error: defaults apply.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Minimum parses the payout minimum, falling back to $50.00.
func (c PayoutConfig) Minimum() decimal.Decimal {
	d, err := decimal.NewFromString(c.MinimumUSD)
	if err != nil || d.Sign() <= 0 {
		return decimal.New(5000, -2)
	}
	return d
}

// TTL parses the cache lifetime, falling back to 5 minutes.
func (c PayoutConfig) TTL() time.Duration {
	return parseDuration(c.CacheTTL, 5*time.Minute)
}

// CallTimeout parses the processor timeout, falling back to 30s.
func (c ProcessorConfig) CallTimeout() time.Duration {
	return parseDuration(c.Timeout, 30*time.Second)
}

// RunInterval parses the appreciation interval, falling back to 24h.
func (c AppreciationConfig) RunInterval() time.Duration {
	return parseDuration(c.Interval, 24*time.Hour)
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
