package config

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/sethvargo/go-envconfig"
)

type RelayConfig struct {
	URL                  string        `env:"WS_URL, default=ws://localhost:8765"`
	MaxReconnectAttempts int           `env:"RELAY_MAX_RECONNECT_ATTEMPTS, default=100"`
	ReconnectInterval    time.Duration `env:"RELAY_RECONNECT_INTERVAL, default=5s"`
	WriteTimeout         time.Duration `env:"RELAY_WRITE_TIMEOUT, default=2s"`
	ReconnectEnabled     bool          `env:"RELAY_RECONNECT_ENABLED, default=true"`
	ShutdownEnabled      bool          `env:"RELAY_SHUTDOWN_ENABLED, default=true"`
}

func NewRelayConfigFromEnv() (*RelayConfig, error) {
	return newRelayConfig(context.Background(), envconfig.OsLookuper())
}

func newRelayConfig(ctx context.Context, lookuper envconfig.Lookuper) (*RelayConfig, error) {
	var cfg RelayConfig
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &cfg,
		Lookuper: lookuper,
	}); err != nil {
		return nil, err
	}

	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid WS_URL: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("WS_URL must use ws or wss, got %q", u.Scheme)
	}
	if cfg.MaxReconnectAttempts < 0 {
		return nil, fmt.Errorf("RELAY_MAX_RECONNECT_ATTEMPTS must not be negative")
	}
	if cfg.ReconnectInterval <= 0 {
		return nil, fmt.Errorf("RELAY_RECONNECT_INTERVAL must be positive")
	}
	if !cfg.ReconnectEnabled {
		cfg.MaxReconnectAttempts = 0
	}

	return &cfg, nil
}
