package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/glizzus/voice-relay/internal/event"
	"github.com/glizzus/voice-relay/internal/relay"
	"github.com/glizzus/voice-relay/internal/stream"
)

type State int

const (
	StateNotStarted State = iota
	StateActive
	StateTerminating
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not_started"
	case StateActive:
		return "active"
	case StateTerminating:
		return "terminating"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

type Player interface {
	Play(ctx context.Context, label string, audio []byte) error
	Stop()
}

type VoiceReleaser interface {
	Release() error
}

type Config struct {
	Queue    *event.Queue
	Registry *stream.Registry
	Relay    *relay.Channel
	Player   Player
	Voice    VoiceReleaser
	// ShutdownEnabled controls whether relay shutdown commands are honored.
	ShutdownEnabled bool
	Logger          *slog.Logger
}

// Controller consumes the event queue. Registry and Relay are only ever
// touched from the goroutine running Run.
type Controller struct {
	queue           *event.Queue
	registry        *stream.Registry
	relay           *relay.Channel
	player          Player
	voice           VoiceReleaser
	shutdownEnabled bool
	logger          *slog.Logger

	mu    sync.Mutex
	state State

	replies       sync.WaitGroup
	cancelReplies context.CancelFunc
}

func NewController(cfg Config) *Controller {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		queue:           cfg.Queue,
		registry:        cfg.Registry,
		relay:           cfg.Relay,
		player:          cfg.Player,
		voice:           cfg.Voice,
		shutdownEnabled: cfg.ShutdownEnabled,
		logger:          logger,
	}
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	prev := c.state
	c.state = s
	c.mu.Unlock()
	c.logger.Debug("controller state changed", slog.String("from", prev.String()), slog.String("to", s.String()))
}

// Run connects the relay and dispatches events until a shutdown command
// arrives or ctx is done, then shuts down. A nil error means the shutdown
// was clean.
func (c *Controller) Run(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateNotStarted {
		c.mu.Unlock()
		return fmt.Errorf("controller already %s", c.state)
	}
	c.state = StateActive
	c.mu.Unlock()

	replyCtx, cancel := context.WithCancel(ctx)
	c.cancelReplies = cancel

	c.logger.Info("bridge active")
	c.relay.Connect(ctx)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("termination signal received, shutting down")
			return c.shutdown()
		case ev := <-c.queue.Events():
			if c.dispatch(ctx, replyCtx, ev) {
				return c.shutdown()
			}
		}
	}
}

// dispatch applies one event and reports whether the bridge should stop.
func (c *Controller) dispatch(ctx, replyCtx context.Context, ev event.Event) bool {
	switch ev := ev.(type) {
	case event.SpeakingStart:
		c.registry.OnSpeakingStart(ctx, ev.SpeakerID)
	case stream.SpeakerResolved:
		c.registry.OnResolved(ev)
	case stream.FrameDecoded:
		c.registry.Forward(ev)
	case stream.StreamEnded:
		c.registry.OnStreamEnded(ev)
	case relay.SocketOpen:
		c.relay.HandleOpen(ev)
	case relay.SocketMessage:
		if cmd := c.relay.HandleMessage(ev); cmd != nil {
			return c.handleCommand(replyCtx, cmd)
		}
	case relay.SocketClosed:
		c.relay.HandleClose(ev)
	case relay.ReconnectDue:
		c.relay.HandleReconnect(ctx, ev)
	case event.ShutdownRequested:
		c.logger.Info("shutdown requested",
			slog.String("requestedBy", ev.RequestedBy),
			slog.String("reason", ev.Reason),
		)
		return true
	case event.StatsTick:
		c.logStats()
	default:
		c.logger.Warn("unhandled event", slog.String("kind", ev.Kind()))
	}
	return false
}

func (c *Controller) handleCommand(ctx context.Context, cmd relay.Command) bool {
	switch cmd := cmd.(type) {
	case relay.SpeakReply:
		c.replies.Add(1)
		go func() {
			defer c.replies.Done()
			if err := c.player.Play(ctx, cmd.Speaker, cmd.Audio); err != nil {
				c.logger.Warn("failed to play reply", slog.String("label", cmd.Speaker), slog.Any("error", err))
			}
		}()
	case relay.Shutdown:
		if !c.shutdownEnabled {
			c.logger.Info("ignoring shutdown command", slog.String("requestedBy", cmd.RequestedBy))
			return false
		}
		c.logger.Info("shutdown command received", slog.String("requestedBy", cmd.RequestedBy))
		return true
	}
	return false
}

func (c *Controller) logStats() {
	c.logger.Info("bridge stats",
		slog.Int("activeStreams", c.registry.Len()),
		slog.Any("speakers", c.registry.Labels()),
		slog.String("relayState", c.relay.State().String()),
		slog.Int("retryCount", c.relay.RetryCount()),
		slog.Bool("relayUnavailable", c.relay.Unavailable()),
	)
}

// shutdown drains the registry, closes the relay and releases the voice
// connection. Every step runs even if an earlier one fails; a panic is
// reported as an error.
func (c *Controller) shutdown() (err error) {
	c.setState(StateTerminating)
	defer func() {
		if p := recover(); p != nil {
			err = errors.Join(err, fmt.Errorf("panic during shutdown: %v", p))
		}
		c.queue.Close()
		c.setState(StateStopped)
		if err != nil {
			c.logger.Error("shutdown failed", slog.Any("error", err))
		} else {
			c.logger.Info("shutdown complete")
		}
	}()

	var errs []error

	c.cancelReplies()
	c.replies.Wait()
	c.player.Stop()

	c.registry.FlushAll()

	if err := c.relay.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := c.voice.Release(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}
