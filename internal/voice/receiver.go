package voice

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/glizzus/voice-relay/internal/stream"
)

const (
	defaultAnnounceDebounce = time.Second
	defaultBufferSize       = 100
)

type ReceiverConfig struct {
	// BotID is never subscribed.
	BotID string
	// Announce is called when a user starts speaking. It must not block.
	Announce func(speakerID string)
	// Debounce limits how often packets from an unsubscribed speaker
	// re-announce them.
	Debounce   time.Duration
	BufferSize int
	Logger     *slog.Logger
}

// Receiver splits the shared receive channel into one Subscription per
// speaker. Speakers are matched to packets by SSRC, learned from speaking
// updates; packets for an unknown SSRC are dropped.
type Receiver struct {
	botID      string
	announce   func(string)
	debounce   time.Duration
	bufferSize int
	logger     *slog.Logger
	now        func() time.Time

	mu        sync.Mutex
	users     map[uint32]string
	subs      map[string]*subscription
	announced map[string]time.Time
}

func NewReceiver(cfg ReceiverConfig) *Receiver {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	debounce := cfg.Debounce
	if debounce <= 0 {
		debounce = defaultAnnounceDebounce
	}
	bufferSize := cfg.BufferSize
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	return &Receiver{
		botID:      cfg.BotID,
		announce:   cfg.Announce,
		debounce:   debounce,
		bufferSize: bufferSize,
		logger:     logger,
		now:        time.Now,
		users:      make(map[uint32]string),
		subs:       make(map[string]*subscription),
		announced:  make(map[string]time.Time),
	}
}

// HandleSpeakingUpdate has the signature of discordgo.VoiceSpeakingUpdateHandler.
func (r *Receiver) HandleSpeakingUpdate(_ *discordgo.VoiceConnection, u *discordgo.VoiceSpeakingUpdate) {
	if u.UserID == "" || u.UserID == r.botID {
		return
	}

	r.mu.Lock()
	r.users[uint32(u.SSRC)] = u.UserID
	if u.Speaking {
		r.announced[u.UserID] = r.now()
	}
	r.mu.Unlock()

	r.logger.Debug("speaking update",
		slog.Int("ssrc", u.SSRC),
		slog.String("userID", u.UserID),
		slog.Bool("speaking", u.Speaking),
	)
	if u.Speaking {
		r.announce(u.UserID)
	}
}

// Run delivers packets until ctx is done or packets is closed, then ends
// every open subscription.
func (r *Receiver) Run(ctx context.Context, packets <-chan *discordgo.Packet) {
	defer r.endAll()
	for {
		select {
		case <-ctx.Done():
			return
		case packet, ok := <-packets:
			if !ok {
				return
			}
			r.deliver(packet)
		}
	}
}

func (r *Receiver) deliver(packet *discordgo.Packet) {
	r.mu.Lock()
	userID, ok := r.users[packet.SSRC]
	if !ok {
		r.mu.Unlock()
		return
	}

	sub := r.subs[userID]
	if sub != nil {
		sub.push(packet.Opus)
		r.mu.Unlock()
		return
	}

	now := r.now()
	announce := now.Sub(r.announced[userID]) >= r.debounce
	if announce {
		r.announced[userID] = now
	}
	r.mu.Unlock()

	if announce {
		r.announce(userID)
	}
}

// Subscribe opens a packet subscription for speakerID. With
// stream.EndAfterSilence the subscription ends on its own once no packet
// has arrived for the silence timeout.
func (r *Receiver) Subscribe(speakerID string, policy stream.EndPolicy) (stream.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.subs[speakerID]; ok {
		return nil, fmt.Errorf("speaker %s is already subscribed", speakerID)
	}

	sub := &subscription{
		receiver:  r,
		speakerID: speakerID,
		packets:   make(chan []byte, r.bufferSize),
	}
	if policy.Behavior == stream.EndAfterSilence {
		sub.silence = policy.SilenceTimeout
		sub.timer = time.AfterFunc(policy.SilenceTimeout, func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.end(sub)
		})
	}
	r.subs[speakerID] = sub
	return sub, nil
}

func (r *Receiver) endAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, sub := range r.subs {
		r.end(sub)
	}
}

// end must be called with r.mu held.
func (r *Receiver) end(sub *subscription) {
	if sub.closed {
		return
	}
	sub.closed = true
	if sub.timer != nil {
		sub.timer.Stop()
	}
	if r.subs[sub.speakerID] == sub {
		delete(r.subs, sub.speakerID)
	}
	close(sub.packets)

	if sub.dropped > 0 {
		r.logger.Warn("dropped packets for slow speaker stream",
			slog.String("speakerID", sub.speakerID),
			slog.Int("dropped", sub.dropped),
		)
	}
}

// Subscribed reports whether speakerID has an open subscription.
func (r *Receiver) Subscribed(speakerID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.subs[speakerID]
	return ok
}

var _ stream.Source = (*Receiver)(nil)

type subscription struct {
	receiver  *Receiver
	speakerID string
	packets   chan []byte
	silence   time.Duration
	timer     *time.Timer

	// guarded by receiver.mu
	closed  bool
	dropped int
}

func (s *subscription) Packets() <-chan []byte {
	return s.packets
}

func (s *subscription) Close() error {
	s.receiver.mu.Lock()
	defer s.receiver.mu.Unlock()
	s.receiver.end(s)
	return nil
}

// push must be called with receiver.mu held.
func (s *subscription) push(packet []byte) {
	if s.closed {
		return
	}
	select {
	case s.packets <- packet:
	default:
		s.dropped++
	}
	if s.timer != nil {
		s.timer.Reset(s.silence)
	}
}
