package config

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/sethvargo/go-envconfig"
)

type VoiceConfig struct {
	EndBehavior          string        `env:"VOICE_END_BEHAVIOR, default=manual"`
	SilenceTimeout       time.Duration `env:"VOICE_SILENCE_TIMEOUT, default=1s"`
	ScratchDir           string        `env:"VOICE_SCRATCH_DIR"`
	PlaybackStartTimeout time.Duration `env:"VOICE_PLAYBACK_START_TIMEOUT, default=5s"`
}

func NewVoiceConfigFromEnv() (*VoiceConfig, error) {
	return newVoiceConfig(context.Background(), envconfig.OsLookuper())
}

func newVoiceConfig(ctx context.Context, lookuper envconfig.Lookuper) (*VoiceConfig, error) {
	var cfg VoiceConfig
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &cfg,
		Lookuper: lookuper,
	}); err != nil {
		return nil, err
	}

	switch cfg.EndBehavior {
	case "manual", "silence":
	default:
		return nil, fmt.Errorf("VOICE_END_BEHAVIOR must be manual or silence, got %q", cfg.EndBehavior)
	}
	if cfg.EndBehavior == "silence" && cfg.SilenceTimeout <= 0 {
		return nil, fmt.Errorf("VOICE_SILENCE_TIMEOUT must be positive when VOICE_END_BEHAVIOR is silence")
	}
	if cfg.PlaybackStartTimeout <= 0 {
		return nil, fmt.Errorf("VOICE_PLAYBACK_START_TIMEOUT must be positive")
	}
	if cfg.ScratchDir == "" {
		cfg.ScratchDir = os.TempDir()
	}

	return &cfg, nil
}
