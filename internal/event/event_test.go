package event_test

import (
	"context"
	"testing"
	"time"

	"github.com/glizzus/voice-relay/internal/event"
	"github.com/google/go-cmp/cmp"
)

func TestQueuePreservesOrder(t *testing.T) {
	q := event.NewQueue(4)
	posted := []event.Event{
		event.SpeakingStart{SpeakerID: "1"},
		event.StatsTick{},
		event.ShutdownRequested{RequestedBy: "A", Reason: "command"},
	}
	for _, ev := range posted {
		if !q.Post(ev) {
			t.Fatalf("expected post of %s to succeed", ev.Kind())
		}
	}

	var got []event.Event
	for range posted {
		got = append(got, <-q.Events())
	}
	if diff := cmp.Diff(posted, got); diff != "" {
		t.Errorf("events mismatch (-want +got):\n%s", diff)
	}
}

func TestQueuePostAfterClose(t *testing.T) {
	q := event.NewQueue(0)
	q.Close()
	q.Close()

	done := make(chan bool, 1)
	go func() { done <- q.Post(event.StatsTick{}) }()

	select {
	case ok := <-done:
		if ok {
			t.Errorf("expected post to a closed queue to fail")
		}
	case <-time.After(time.Second):
		t.Fatal("post to a closed queue blocked")
	}
}

func TestQueuePostContextGivesUp(t *testing.T) {
	q := event.NewQueue(0)
	ctx, cancel := context.WithTimeout(t.Context(), 20*time.Millisecond)
	defer cancel()

	if q.PostContext(ctx, event.StatsTick{}) {
		t.Errorf("expected post to a full queue to give up when ctx is done")
	}
}

func TestQueueTryPostDropsWhenFull(t *testing.T) {
	q := event.NewQueue(1)

	if !q.TryPost(event.SpeakingStart{SpeakerID: "1"}) {
		t.Fatalf("expected the first post to fit")
	}
	if q.TryPost(event.SpeakingStart{SpeakerID: "2"}) {
		t.Errorf("expected a post to a full queue to be dropped")
	}
	if got := <-q.Events(); got != (event.SpeakingStart{SpeakerID: "1"}) {
		t.Errorf("expected the first event, got %v", got)
	}

	q.Close()
	if q.TryPost(event.StatsTick{}) {
		t.Errorf("expected post to a closed queue to fail")
	}
}
