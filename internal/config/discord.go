package config

import (
	"context"
	"fmt"

	"github.com/sethvargo/go-envconfig"
)

type DiscordConfig struct {
	Token          string `env:"DISCORD_TOKEN, required"`
	GuildID        string `env:"GUILD_ID, required"`
	VoiceChannelID string `env:"VC_CHANNEL_ID, required"`
}

func NewDiscordConfigFromEnv() (*DiscordConfig, error) {
	return newDiscordConfig(context.Background(), envconfig.OsLookuper())
}

func newDiscordConfig(ctx context.Context, lookuper envconfig.Lookuper) (*DiscordConfig, error) {
	var cfg DiscordConfig
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &cfg,
		Lookuper: lookuper,
	}); err != nil {
		return nil, err
	}
	if cfg.GuildID == cfg.VoiceChannelID {
		return nil, fmt.Errorf("GUILD_ID and VC_CHANNEL_ID must differ, got %q for both", cfg.GuildID)
	}

	return &cfg, nil
}
