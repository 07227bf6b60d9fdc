// Package config loads CashFlow402's environment-variable configuration
// surface (spec §6) via envconfig, the same library
// other_examples/2bd6f79b_Fantasim-hdpay uses for its service config.
package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config is the full environment-driven configuration surface.
type Config struct {
	Port int `envconfig:"PORT" default:"8402"`

	BCHNetwork string `envconfig:"BCH_NETWORK" default:"chipnet"` // chipnet|mainnet

	ElectrumHost     string `envconfig:"ELECTRUM_HOST" required:"true"`
	ElectrumPort     int    `envconfig:"ELECTRUM_PORT" default:"50002"`
	ElectrumProtocol string `envconfig:"ELECTRUM_PROTOCOL" default:"ssl"` // ssl|tcp

	MerchantWIF     string `envconfig:"MERCHANT_WIF" required:"true"`
	MerchantAddress string `envconfig:"MERCHANT_ADDRESS" required:"true"`

	JWTSecret             string        `envconfig:"JWT_SECRET" required:"true"`
	JWTExpiryPerCall      time.Duration `envconfig:"JWT_EXPIRY_PERCALL" default:"60s"`
	JWTExpirySubscription time.Duration `envconfig:"JWT_EXPIRY_SUBSCRIPTION" default:"3600s"`

	DefaultPerCallRateSats  int64 `envconfig:"DEFAULT_PERCALL_RATE_SATS" default:"100"`
	DefaultIntervalBlocks   int64 `envconfig:"DEFAULT_INTERVAL_BLOCKS" default:"144"`
	DefaultAuthorizedSats   int64 `envconfig:"DEFAULT_AUTHORIZED_SATS" default:"20000"`
	DefaultDepositSats      int64 `envconfig:"DEFAULT_DEPOSIT_SATS" default:"11000"`
	JITThresholdSats        int64 `envconfig:"JIT_THRESHOLD_SATS" default:"5500"`

	WebhookSecret string `envconfig:"WEBHOOK_SECRET"` // optional; absent => webhooks open in dev

	Dev string `envconfig:"CASHFLOW_DEV"`
}

// Load reads Config from the process environment.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if cfg.BCHNetwork != "chipnet" && cfg.BCHNetwork != "mainnet" {
		return nil, fmt.Errorf("BCH_NETWORK must be chipnet or mainnet, got %q", cfg.BCHNetwork)
	}
	if cfg.ElectrumProtocol != "ssl" && cfg.ElectrumProtocol != "tcp" {
		return nil, fmt.Errorf("ELECTRUM_PROTOCOL must be ssl or tcp, got %q", cfg.ElectrumProtocol)
	}
	return &cfg, nil
}

// IsDev reports whether the process runs in development mode.
func (c *Config) IsDev() bool {
	return c.Dev == "1" || c.Dev == "true"
}
