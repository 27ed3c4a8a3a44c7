package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/glizzus/voice-relay/internal/bridge"
	"github.com/glizzus/voice-relay/internal/config"
	"github.com/glizzus/voice-relay/internal/event"
	"github.com/glizzus/voice-relay/internal/handler"
	"github.com/glizzus/voice-relay/internal/metrics"
	"github.com/glizzus/voice-relay/internal/opus"
	"github.com/glizzus/voice-relay/internal/relay"
	"github.com/glizzus/voice-relay/internal/schedule"
	"github.com/glizzus/voice-relay/internal/stream"
	"github.com/glizzus/voice-relay/internal/voice"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
)

// Exit codes.
const (
	exitOK            = 0
	exitShutdownError = 1
	exitStartupError  = 2
)

const queueSize = 1024

type settings struct {
	discord *config.DiscordConfig
	relay   *config.RelayConfig
	voice   *config.VoiceConfig
	metrics *config.MetricsConfig
	policy  stream.EndPolicy
}

func loadSettings() (*settings, error) {
	if err := config.LoadEnv(); err != nil {
		if os.IsNotExist(err) {
			slog.Warn("No .env file found, continuing without it")
		} else {
			return nil, fmt.Errorf("failed to load .env file: %w", err)
		}
	}

	discordConfig, err := config.NewDiscordConfigFromEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to load discord config: %w", err)
	}
	relayConfig, err := config.NewRelayConfigFromEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to load relay config: %w", err)
	}
	voiceConfig, err := config.NewVoiceConfigFromEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to load voice config: %w", err)
	}
	metricsConfig, err := config.NewMetricsConfigFromEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to load metrics config: %w", err)
	}
	behavior, err := stream.ParseEndBehavior(voiceConfig.EndBehavior)
	if err != nil {
		return nil, err
	}

	return &settings{
		discord: discordConfig,
		relay:   relayConfig,
		voice:   voiceConfig,
		metrics: metricsConfig,
		policy:  stream.EndPolicy{Behavior: behavior, SilenceTimeout: voiceConfig.SilenceTimeout},
	}, nil
}

func serveMetrics(ctx context.Context, addr string, m *metrics.Metrics) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("serving metrics", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("metrics server failed", "error", err)
	}
}

func run() int {
	cfg, err := loadSettings()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		return exitStartupError
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New(prometheus.NewRegistry())
	if cfg.metrics.Addr != "" {
		go serveMetrics(ctx, cfg.metrics.Addr, m)
	}

	session, err := handler.NewSession(cfg.discord.Token, handler.Handlers{
		Ready: handler.ReadyLog,
	})
	if err != nil {
		slog.Error("failed to create session", "error", err)
		return exitStartupError
	}
	if err := session.Open(); err != nil {
		slog.Error("failed to open session", "error", err)
		return exitStartupError
	}
	defer func() {
		if err := session.Close(); err != nil {
			slog.Warn("failed to close session", "error", err)
		}
	}()

	channel, err := voice.ResolveVoiceChannel(session, cfg.discord.GuildID, cfg.discord.VoiceChannelID)
	if err != nil {
		slog.Error("failed to resolve voice channel", "error", err)
		return exitStartupError
	}
	voiceSession, err := voice.Join(session, channel)
	if err != nil {
		slog.Error("failed to join voice channel", "channel", channel.Name, "error", err)
		return exitStartupError
	}
	slog.Info("joined voice channel", "channel", channel.Name, "channelID", channel.ID)

	queue := event.NewQueue(queueSize)

	receiver := voice.NewReceiver(voice.ReceiverConfig{
		BotID: session.State.User.ID,
		Announce: func(speakerID string) {
			if !queue.TryPost(event.SpeakingStart{SpeakerID: speakerID}) {
				slog.Warn("event queue full, dropping speaking start", "speakerID", speakerID)
			}
		},
	})
	voiceSession.OnSpeakingUpdate(receiver.HandleSpeakingUpdate)
	go receiver.Run(ctx, voiceSession.Packets())

	relayChannel := relay.NewChannel(relay.Config{
		URL:    cfg.relay.URL,
		Dialer: relay.WebsocketDialer{Dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second}},
		Queue:  queue,
		Policy: relay.Policy{
			MaxAttempts: cfg.relay.MaxReconnectAttempts,
			Interval:    cfg.relay.ReconnectInterval,
		},
		WriteTimeout: cfg.relay.WriteTimeout,
		Metrics:      m,
		OnUnavailable: func() {
			slog.Error("relay unavailable, voice capture continues but audio is dropped until restart")
		},
	})

	registry := stream.NewRegistry(stream.Config{
		Queue:  queue,
		Source: receiver,
		NewDecoder: func() (stream.Decoder, error) {
			decoder, err := opus.NewPCMDecoder(opus.SampleRate, opus.Channels)
			if err != nil {
				return nil, err
			}
			return decoder, nil
		},
		Resolver:  handler.NewLabelResolver(session),
		Forwarder: relayChannel,
		Policy:    cfg.policy,
		Metrics:   m,
	})

	player := voice.NewPlayer(voice.PlayerConfig{
		Connections:  voiceSession,
		ScratchDir:   cfg.voice.ScratchDir,
		StartTimeout: cfg.voice.PlaybackStartTimeout,
		Metrics:      m,
	})

	controller := bridge.NewController(bridge.Config{
		Queue:           queue,
		Registry:        registry,
		Relay:           relayChannel,
		Player:          player,
		Voice:           voiceSession,
		ShutdownEnabled: cfg.relay.ShutdownEnabled,
	})

	go func() {
		err := schedule.Every(ctx, cfg.metrics.StatsCron, func(ctx context.Context) {
			queue.TryPost(event.StatsTick{})
		})
		if err != nil {
			slog.Warn("stats schedule stopped", "error", err)
		}
	}()

	if err := controller.Run(ctx); err != nil {
		slog.Error("shutdown encountered an error", "error", err)
		return exitShutdownError
	}
	return exitOK
}

func main() {
	os.Exit(run())
}
