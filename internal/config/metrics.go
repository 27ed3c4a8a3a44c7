package config

import (
	"context"
	"fmt"

	"github.com/glizzus/voice-relay/internal/schedule"
	"github.com/sethvargo/go-envconfig"
)

type MetricsConfig struct {
	// Addr is where /metrics is served. Empty disables the endpoint.
	Addr      string `env:"METRICS_ADDR"`
	StatsCron string `env:"STATS_CRON, default=*/5 * * * *"`
}

func NewMetricsConfigFromEnv() (*MetricsConfig, error) {
	return newMetricsConfig(context.Background(), envconfig.OsLookuper())
}

func newMetricsConfig(ctx context.Context, lookuper envconfig.Lookuper) (*MetricsConfig, error) {
	var cfg MetricsConfig
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &cfg,
		Lookuper: lookuper,
	}); err != nil {
		return nil, err
	}
	if err := schedule.ValidateCron(cfg.StatsCron); err != nil {
		return nil, fmt.Errorf("invalid STATS_CRON: %w", err)
	}

	return &cfg, nil
}
