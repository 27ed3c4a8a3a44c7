package voice

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/glizzus/voice-relay/internal/generator"
	"github.com/glizzus/voice-relay/internal/metrics"
	"github.com/glizzus/voice-relay/internal/opus"
)

var ErrPlaybackNotStarted = errors.New("playback did not start in time")

// Encoder turns an audio file into length-prefixed Opus frames.
type Encoder func(ctx context.Context, r io.Reader) (io.ReadCloser, error)

type PlayerConfig struct {
	Connections  ConnectionSource
	ScratchDir   string
	StartTimeout time.Duration
	// Encode defaults to opus.Encode.
	Encode Encoder
	// Names defaults to UUIDv4 scratch names.
	Names   generator.Generator[string]
	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Player plays reply audio into the voice channel. A new reply interrupts
// the one that is playing.
type Player struct {
	connections  ConnectionSource
	scratchDir   string
	startTimeout time.Duration
	encode       Encoder
	names        generator.Generator[string]
	logger       *slog.Logger
	metrics      *metrics.Metrics

	mu      sync.Mutex
	current *playback
}

type playback struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func NewPlayer(cfg PlayerConfig) *Player {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	encode := cfg.Encode
	if encode == nil {
		encode = opus.Encode
	}
	names := cfg.Names
	if names == nil {
		names = &generator.UUIDV4Generator{}
	}
	scratchDir := cfg.ScratchDir
	if scratchDir == "" {
		scratchDir = os.TempDir()
	}
	return &Player{
		connections:  cfg.Connections,
		scratchDir:   scratchDir,
		startTimeout: cfg.StartTimeout,
		encode:       encode,
		names:        names,
		logger:       logger,
		metrics:      cfg.Metrics,
	}
}

var unsafeFileChars = regexp.MustCompile(`[^A-Za-z0-9_-]+`)

// ScratchName derives a file name for a reply to label.
func ScratchName(label, id string) string {
	safe := unsafeFileChars.ReplaceAllString(label, "")
	if safe == "" {
		safe = "unknown"
	}
	return fmt.Sprintf("reply_%s_%s.wav", safe, id)
}

// Play writes audio to a scratch file and starts playing it. It returns
// once playback has begun, or with ErrPlaybackNotStarted if that takes
// longer than the start timeout. With no active voice connection the
// reply is skipped and Play returns nil.
func (p *Player) Play(ctx context.Context, label string, audio []byte) error {
	logger := p.logger.With(slog.String("label", label))

	path, err := p.writeScratch(label, audio)
	if err != nil {
		p.metrics.RepliesFailed.Inc()
		return err
	}

	conn := p.connections.ActiveConnection()
	if conn == nil {
		p.removeScratch(path)
		p.metrics.RepliesSkipped.Inc()
		logger.Warn("no active voice connection, skipping reply")
		return nil
	}

	file, err := os.Open(path)
	if err != nil {
		p.removeScratch(path)
		p.metrics.RepliesFailed.Inc()
		return fmt.Errorf("failed to open scratch file: %w", err)
	}

	playCtx, cancel := context.WithCancel(ctx)
	frames, err := p.encode(playCtx, file)
	if err != nil {
		cancel()
		file.Close()
		p.removeScratch(path)
		p.metrics.RepliesFailed.Inc()
		return fmt.Errorf("failed to encode reply: %w", err)
	}

	pb := &playback{cancel: cancel, done: make(chan struct{})}
	p.interrupt(pb)

	started := make(chan struct{})
	go func() {
		defer close(pb.done)
		defer cancel()
		defer p.finish(pb)
		defer p.removeScratch(path)
		defer file.Close()
		defer frames.Close()

		if err := conn.Speaking(true); err != nil {
			logger.Warn("failed to start speaking", slog.Any("error", err))
		}
		defer func() {
			if err := conn.Speaking(false); err != nil {
				logger.Warn("failed to stop speaking", slog.Any("error", err))
			}
		}()

		err := opus.StreamToVoice(playCtx, opus.NewFrameReader(frames), conn.OpusSender(), func() {
			close(started)
		})
		switch {
		case err == nil:
			p.metrics.RepliesPlayed.Inc()
			logger.Info("reply played")
		case errors.Is(err, context.Canceled):
			logger.Info("reply interrupted")
		default:
			p.metrics.RepliesFailed.Inc()
			logger.Warn("failed to play reply", slog.Any("error", err))
		}
	}()

	timer := time.NewTimer(p.startTimeout)
	defer timer.Stop()

	select {
	case <-started:
		return nil
	case <-pb.done:
		select {
		case <-started:
			return nil
		default:
			return ErrPlaybackNotStarted
		}
	case <-timer.C:
		cancel()
		return ErrPlaybackNotStarted
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop interrupts the current reply, if any, and waits for it to finish.
func (p *Player) Stop() {
	p.mu.Lock()
	current := p.current
	p.current = nil
	p.mu.Unlock()

	if current != nil {
		current.cancel()
		<-current.done
	}
}

func (p *Player) interrupt(next *playback) {
	p.mu.Lock()
	previous := p.current
	p.current = next
	p.mu.Unlock()

	if previous != nil {
		previous.cancel()
		<-previous.done
	}
}

func (p *Player) finish(pb *playback) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == pb {
		p.current = nil
	}
}

func (p *Player) writeScratch(label string, audio []byte) (string, error) {
	id, err := p.names.Next()
	if err != nil {
		return "", fmt.Errorf("failed to generate scratch name: %w", err)
	}
	path := filepath.Join(p.scratchDir, ScratchName(label, id))
	if err := os.WriteFile(path, audio, 0o600); err != nil {
		return "", fmt.Errorf("failed to write scratch file: %w", err)
	}
	return path, nil
}

func (p *Player) removeScratch(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		p.logger.Warn("failed to remove scratch file", slog.String("path", path), slog.Any("error", err))
	}
}
