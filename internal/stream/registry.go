package stream

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/glizzus/voice-relay/internal/event"
	"github.com/glizzus/voice-relay/internal/metrics"
)

// Speaker is one user's active audio pipeline.
type Speaker struct {
	ID    string
	Label string

	generation uint64
	sub        Subscription
	decoder    Decoder

	detach context.CancelFunc
	done   chan struct{}
}

type Config struct {
	Queue      *event.Queue
	Source     Source
	NewDecoder DecoderFactory
	Resolver   Resolver
	Forwarder  Forwarder
	Policy     EndPolicy
	Logger     *slog.Logger
	Metrics    *metrics.Metrics
}

// Registry tracks at most one Speaker per speaker ID.
// Its methods must only be called from the dispatcher goroutine.
type Registry struct {
	queue      *event.Queue
	source     Source
	newDecoder DecoderFactory
	resolver   Resolver
	forwarder  Forwarder
	policy     EndPolicy
	logger     *slog.Logger
	metrics    *metrics.Metrics

	speakers   map[string]*Speaker
	pending    map[string]struct{}
	generation uint64
	flushed    bool
}

func NewRegistry(cfg Config) *Registry {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		queue:      cfg.Queue,
		source:     cfg.Source,
		newDecoder: cfg.NewDecoder,
		resolver:   cfg.Resolver,
		forwarder:  cfg.Forwarder,
		policy:     cfg.Policy,
		logger:     logger,
		metrics:    cfg.Metrics,
		speakers:   make(map[string]*Speaker),
		pending:    make(map[string]struct{}),
	}
}

// OnSpeakingStart begins subscribing to a speaker unless one is already
// tracked or being resolved. The label lookup runs off the dispatcher and
// comes back as a SpeakerResolved event.
func (r *Registry) OnSpeakingStart(ctx context.Context, speakerID string) {
	if r.flushed {
		return
	}
	if _, ok := r.speakers[speakerID]; ok {
		return
	}
	if _, ok := r.pending[speakerID]; ok {
		return
	}
	r.pending[speakerID] = struct{}{}

	go func() {
		label, err := r.resolver.ResolveLabel(ctx, speakerID)
		r.queue.PostContext(ctx, SpeakerResolved{
			SpeakerID: speakerID,
			Label:     label,
			Err:       err,
		})
	}()
}

// OnResolved finishes a subscription started by OnSpeakingStart.
func (r *Registry) OnResolved(ev SpeakerResolved) {
	delete(r.pending, ev.SpeakerID)
	if r.flushed {
		return
	}
	if ev.Err != nil {
		r.metrics.ResolutionFailures.Inc()
		r.logger.Warn("failed to resolve speaker",
			slog.String("speakerID", ev.SpeakerID),
			slog.Any("error", ev.Err),
		)
		return
	}
	if _, ok := r.speakers[ev.SpeakerID]; ok {
		return
	}

	speaker, err := r.open(ev.SpeakerID, ev.Label)
	if err != nil {
		r.logger.Warn("failed to subscribe to speaker",
			slog.String("speakerID", ev.SpeakerID),
			slog.String("label", ev.Label),
			slog.Any("error", err),
		)
		return
	}

	r.speakers[speaker.ID] = speaker
	r.metrics.StreamsCreated.Inc()
	r.metrics.ActiveStreams.Set(float64(len(r.speakers)))
	r.logger.Info("subscribed to speaker",
		slog.String("speakerID", speaker.ID),
		slog.String("label", speaker.Label),
		slog.String("endBehavior", r.policy.Behavior.String()),
	)
}

func (r *Registry) open(speakerID, label string) (*Speaker, error) {
	sub, err := r.source.Subscribe(speakerID, r.policy)
	if err != nil {
		return nil, fmt.Errorf("failed to open subscription: %w", err)
	}

	decoder, err := r.newDecoder()
	if err != nil {
		if cerr := sub.Close(); cerr != nil {
			r.logger.Warn("failed to close subscription", slog.String("speakerID", speakerID), slog.Any("error", cerr))
		}
		return nil, fmt.Errorf("failed to create decoder: %w", err)
	}

	r.generation++
	ctx, detach := context.WithCancel(context.Background())
	speaker := &Speaker{
		ID:         speakerID,
		Label:      label,
		generation: r.generation,
		sub:        sub,
		decoder:    decoder,
		detach:     detach,
		done:       make(chan struct{}),
	}
	go r.pump(ctx, speaker)

	return speaker, nil
}

// pump decodes packets in arrival order, so frames of one speaker are
// posted in the order the subscription produced them.
func (r *Registry) pump(ctx context.Context, s *Speaker) {
	defer close(s.done)

	packets := s.sub.Packets()
	for {
		select {
		case <-ctx.Done():
			return
		case packet, ok := <-packets:
			if !ok {
				r.queue.PostContext(ctx, StreamEnded{SpeakerID: s.ID, Generation: s.generation})
				return
			}

			frame, err := s.decoder.Decode(packet)
			if err != nil {
				r.metrics.FramesDropped.WithLabelValues(metrics.DropDecode).Inc()
				r.logger.Debug("failed to decode packet", slog.String("label", s.Label), slog.Any("error", err))
				continue
			}

			if !r.queue.PostContext(ctx, FrameDecoded{SpeakerID: s.ID, Generation: s.generation, Frame: frame}) {
				return
			}
		}
	}
}

// Forward sends a decoded frame to the relay if its Speaker is still registered.
func (r *Registry) Forward(ev FrameDecoded) bool {
	s, ok := r.speakers[ev.SpeakerID]
	if !ok || s.generation != ev.Generation {
		return false
	}
	return r.forwarder.Send(s.Label, ev.Frame)
}

// OnStreamEnded removes the Speaker whose subscription ended.
func (r *Registry) OnStreamEnded(ev StreamEnded) {
	s, ok := r.speakers[ev.SpeakerID]
	if !ok || s.generation != ev.Generation {
		return
	}

	delete(r.speakers, s.ID)
	r.metrics.StreamsEnded.Inc()
	r.metrics.ActiveStreams.Set(float64(len(r.speakers)))
	r.release(s)
	r.logger.Info("stream closed", slog.String("speakerID", s.ID), slog.String("label", s.Label))
}

// FlushAll releases every Speaker and clears the registry. Release failures
// are logged and do not stop the remaining Speakers from being released.
// Later speaking-start events are ignored.
func (r *Registry) FlushAll() {
	r.flushed = true
	for id, s := range r.speakers {
		delete(r.speakers, id)
		r.release(s)
		r.metrics.StreamsEnded.Inc()
	}
	clear(r.pending)
	r.metrics.ActiveStreams.Set(0)
}

// release detaches before tearing down: once detach returns no frame of s
// can be forwarded, since Forward checks registration first.
func (r *Registry) release(s *Speaker) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("panic while releasing speaker stream",
				slog.String("speakerID", s.ID),
				slog.Any("panic", p),
			)
		}
	}()

	s.detach()
	<-s.done

	if err := s.decoder.Close(); err != nil {
		r.logger.Warn("failed to release decoder", slog.String("speakerID", s.ID), slog.Any("error", err))
	}
	if err := s.sub.Close(); err != nil {
		r.logger.Warn("failed to release subscription", slog.String("speakerID", s.ID), slog.Any("error", err))
	}
}

func (r *Registry) Len() int {
	return len(r.speakers)
}

func (r *Registry) Has(speakerID string) bool {
	_, ok := r.speakers[speakerID]
	return ok
}

// Labels returns the labels of all tracked speakers, sorted.
func (r *Registry) Labels() []string {
	labels := make([]string, 0, len(r.speakers))
	for _, s := range r.speakers {
		labels = append(labels, s.Label)
	}
	sort.Strings(labels)
	return labels
}
