package stream_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/glizzus/voice-relay/internal/event"
	"github.com/glizzus/voice-relay/internal/metrics"
	"github.com/glizzus/voice-relay/internal/stream"
	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus"
)

type fakeSubscription struct {
	packets  chan []byte
	closeErr error

	mu     sync.Mutex
	closed bool
}

func (s *fakeSubscription) Packets() <-chan []byte { return s.packets }

func (s *fakeSubscription) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return s.closeErr
}

func (s *fakeSubscription) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

type fakeSource struct {
	mu       sync.Mutex
	subs     map[string][]*fakeSubscription
	closeErr map[string]error
	policies []stream.EndPolicy
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		subs:     make(map[string][]*fakeSubscription),
		closeErr: make(map[string]error),
	}
}

func (s *fakeSource) Subscribe(speakerID string, policy stream.EndPolicy) (stream.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub := &fakeSubscription{packets: make(chan []byte, 16), closeErr: s.closeErr[speakerID]}
	s.subs[speakerID] = append(s.subs[speakerID], sub)
	s.policies = append(s.policies, policy)
	return sub, nil
}

func (s *fakeSource) latest(t *testing.T, speakerID string) *fakeSubscription {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	subs := s.subs[speakerID]
	if len(subs) == 0 {
		t.Fatalf("no subscription for speaker %s", speakerID)
	}
	return subs[len(subs)-1]
}

func (s *fakeSource) count(speakerID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs[speakerID])
}

// prefixDecoder "decodes" by tagging the packet, and fails on packets starting with "bad".
type prefixDecoder struct {
	closed *atomic.Int32
}

func (d prefixDecoder) Decode(packet []byte) ([]byte, error) {
	if bytes.HasPrefix(packet, []byte("bad")) {
		return nil, errors.New("corrupt packet")
	}
	return append([]byte("pcm:"), packet...), nil
}

func (d prefixDecoder) Close() error {
	d.closed.Add(1)
	return nil
}

type fakeResolver struct {
	labels map[string]string
	calls  atomic.Int32
}

func (r *fakeResolver) ResolveLabel(ctx context.Context, speakerID string) (string, error) {
	r.calls.Add(1)
	label, ok := r.labels[speakerID]
	if !ok {
		return "", fmt.Errorf("unknown user %s", speakerID)
	}
	return label, nil
}

type sent struct {
	Label string
	Frame string
}

type recordingForwarder struct {
	sent []sent
}

func (f *recordingForwarder) Send(label string, frame []byte) bool {
	f.sent = append(f.sent, sent{Label: label, Frame: string(frame)})
	return true
}

type harness struct {
	queue     *event.Queue
	source    *fakeSource
	resolver  *fakeResolver
	forwarder *recordingForwarder
	decoders  *atomic.Int32
	registry  *stream.Registry
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		queue:  event.NewQueue(64),
		source: newFakeSource(),
		resolver: &fakeResolver{labels: map[string]string{
			"1": "A",
			"2": "B",
		}},
		forwarder: &recordingForwarder{},
		decoders:  &atomic.Int32{},
	}
	h.registry = stream.NewRegistry(stream.Config{
		Queue:  h.queue,
		Source: h.source,
		NewDecoder: func() (stream.Decoder, error) {
			return prefixDecoder{closed: h.decoders}, nil
		},
		Resolver:  h.resolver,
		Forwarder: h.forwarder,
		Policy:    stream.EndPolicy{Behavior: stream.EndAfterSilence, SilenceTimeout: time.Second},
		Metrics:   metrics.New(prometheus.NewRegistry()),
	})
	t.Cleanup(h.queue.Close)
	return h
}

// next reads one event and applies it to the registry the way the dispatcher does.
func (h *harness) next(t *testing.T) event.Event {
	t.Helper()
	select {
	case ev := <-h.queue.Events():
		switch ev := ev.(type) {
		case stream.SpeakerResolved:
			h.registry.OnResolved(ev)
		case stream.FrameDecoded:
			h.registry.Forward(ev)
		case stream.StreamEnded:
			h.registry.OnStreamEnded(ev)
		}
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func (h *harness) subscribe(t *testing.T, speakerID string) *fakeSubscription {
	t.Helper()
	h.registry.OnSpeakingStart(t.Context(), speakerID)
	if _, ok := h.next(t).(stream.SpeakerResolved); !ok {
		t.Fatalf("expected speaker %s to be resolved", speakerID)
	}
	return h.source.latest(t, speakerID)
}

func TestSpeakingStartIsIdempotent(t *testing.T) {
	h := newHarness(t)

	for range 5 {
		h.registry.OnSpeakingStart(t.Context(), "1")
	}
	h.next(t)
	for range 5 {
		h.registry.OnSpeakingStart(t.Context(), "1")
	}

	if got := h.registry.Len(); got != 1 {
		t.Errorf("expected exactly one speaker stream, got %d", got)
	}
	if got := h.source.count("1"); got != 1 {
		t.Errorf("expected exactly one subscription, got %d", got)
	}
	if got := h.resolver.calls.Load(); got != 1 {
		t.Errorf("expected exactly one label lookup, got %d", got)
	}
	select {
	case ev := <-h.queue.Events():
		t.Errorf("expected no further events, got %s", ev.Kind())
	case <-time.After(50 * time.Millisecond):
	}
}

func TestFramesForwardedInOrderUntilStreamEnds(t *testing.T) {
	h := newHarness(t)
	sub := h.subscribe(t, "1")

	for _, p := range []string{"one", "two", "three"} {
		sub.packets <- []byte(p)
	}
	var last stream.FrameDecoded
	for range 3 {
		ev, ok := h.next(t).(stream.FrameDecoded)
		if !ok {
			t.Fatal("expected a decoded frame")
		}
		last = ev
	}

	expected := []sent{
		{Label: "A", Frame: "pcm:one"},
		{Label: "A", Frame: "pcm:two"},
		{Label: "A", Frame: "pcm:three"},
	}
	if diff := cmp.Diff(expected, h.forwarder.sent); diff != "" {
		t.Errorf("forwarded frames mismatch (-want +got):\n%s", diff)
	}

	close(sub.packets)
	if _, ok := h.next(t).(stream.StreamEnded); !ok {
		t.Fatal("expected the stream to end")
	}
	if h.registry.Has("1") {
		t.Errorf("expected speaker to be removed after end-of-stream")
	}
	if !sub.isClosed() {
		t.Errorf("expected subscription to be released")
	}
	if got := h.decoders.Load(); got != 1 {
		t.Errorf("expected decoder to be released once, got %d", got)
	}

	late := last
	late.Frame = []byte("pcm:four")
	if h.registry.Forward(late) {
		t.Errorf("expected late frame not to be forwarded")
	}
	if got := len(h.forwarder.sent); got != 3 {
		t.Errorf("expected no sends after removal, got %d total", got)
	}
}

func TestLateFrameFromPreviousStreamIsDropped(t *testing.T) {
	h := newHarness(t)
	first := h.subscribe(t, "1")
	first.packets <- []byte("old")
	old, ok := h.next(t).(stream.FrameDecoded)
	if !ok {
		t.Fatal("expected a decoded frame")
	}
	close(first.packets)
	h.next(t)

	h.subscribe(t, "1")
	if h.registry.Forward(old) {
		t.Errorf("expected a frame from a removed stream not to reach its successor")
	}
	if got := len(h.forwarder.sent); got != 1 {
		t.Errorf("expected one send, got %d", got)
	}
}

func TestResolutionFailureHasNoSideEffects(t *testing.T) {
	h := newHarness(t)

	h.registry.OnSpeakingStart(t.Context(), "404")
	ev, ok := h.next(t).(stream.SpeakerResolved)
	if !ok || ev.Err == nil {
		t.Fatalf("expected a failed resolution, got %#v", ev)
	}
	if h.registry.Len() != 0 {
		t.Errorf("expected no speaker streams")
	}
	if got := h.source.count("404"); got != 0 {
		t.Errorf("expected no subscription, got %d", got)
	}

	h.registry.OnSpeakingStart(t.Context(), "404")
	h.next(t)
	if got := h.resolver.calls.Load(); got != 2 {
		t.Errorf("expected a later speaking start to retry resolution, got %d lookups", got)
	}
}

func TestDecodeFailureSkipsPacket(t *testing.T) {
	h := newHarness(t)
	sub := h.subscribe(t, "1")

	sub.packets <- []byte("bad packet")
	sub.packets <- []byte("good")
	h.next(t)

	expected := []sent{{Label: "A", Frame: "pcm:good"}}
	if diff := cmp.Diff(expected, h.forwarder.sent); diff != "" {
		t.Errorf("forwarded frames mismatch (-want +got):\n%s", diff)
	}
}

func TestFlushAll(t *testing.T) {
	t.Run("empty registry", func(t *testing.T) {
		h := newHarness(t)
		h.registry.FlushAll()
		if h.registry.Len() != 0 {
			t.Errorf("expected empty registry")
		}
	})

	t.Run("releases every stream despite failures", func(t *testing.T) {
		h := newHarness(t)
		h.source.closeErr["1"] = errors.New("already gone")
		a := h.subscribe(t, "1")
		b := h.subscribe(t, "2")

		h.registry.FlushAll()

		if h.registry.Len() != 0 {
			t.Errorf("expected empty registry, got %d", h.registry.Len())
		}
		if !a.isClosed() || !b.isClosed() {
			t.Errorf("expected both subscriptions to be released")
		}
		if got := h.decoders.Load(); got != 2 {
			t.Errorf("expected both decoders to be released, got %d", got)
		}
	})

	t.Run("ignores speakers after flush", func(t *testing.T) {
		h := newHarness(t)
		h.registry.FlushAll()
		h.registry.OnSpeakingStart(t.Context(), "1")
		if got := h.resolver.calls.Load(); got != 0 {
			t.Errorf("expected no lookups after flush, got %d", got)
		}
	})
}

func TestSubscriptionUsesConfiguredPolicy(t *testing.T) {
	h := newHarness(t)
	h.subscribe(t, "1")

	expected := []stream.EndPolicy{{Behavior: stream.EndAfterSilence, SilenceTimeout: time.Second}}
	if diff := cmp.Diff(expected, h.source.policies); diff != "" {
		t.Errorf("policy mismatch (-want +got):\n%s", diff)
	}
}

func TestParseEndBehavior(t *testing.T) {
	tc := []struct {
		input    string
		expected stream.EndBehavior
		err      bool
	}{
		{input: "manual", expected: stream.EndManual},
		{input: "silence", expected: stream.EndAfterSilence},
		{input: "after-silence", err: true},
	}

	for _, test := range tc {
		t.Run(test.input, func(t *testing.T) {
			got, err := stream.ParseEndBehavior(test.input)
			if test.err {
				if err == nil {
					t.Errorf("expected error but got none")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != test.expected || got.String() != test.input {
				t.Errorf("expected %v, got %v", test.expected, got)
			}
		})
	}
}
