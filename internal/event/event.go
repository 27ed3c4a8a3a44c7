package event

import (
	"context"
	"sync"
)

// Event is a message for the dispatcher. Kind names the variant for logging.
type Event interface {
	Kind() string
}

// SpeakingStart reports that a user began transmitting audio.
type SpeakingStart struct {
	SpeakerID string
}

func (SpeakingStart) Kind() string { return "speaking_start" }

// ShutdownRequested asks the dispatcher to drain and stop.
type ShutdownRequested struct {
	RequestedBy string
	Reason      string
}

func (ShutdownRequested) Kind() string { return "shutdown_requested" }

// StatsTick asks the dispatcher to log a snapshot of its state.
type StatsTick struct{}

func (StatsTick) Kind() string { return "stats_tick" }

// Queue is a bounded, multi-producer single-consumer event channel.
// Posting never blocks once the queue has been closed.
type Queue struct {
	ch   chan Event
	done chan struct{}
	once sync.Once
}

func NewQueue(size int) *Queue {
	return &Queue{
		ch:   make(chan Event, size),
		done: make(chan struct{}),
	}
}

// Post enqueues ev, blocking while the queue is full.
// It reports false if the queue was closed instead.
func (q *Queue) Post(ev Event) bool {
	select {
	case <-q.done:
		return false
	default:
	}

	select {
	case q.ch <- ev:
		return true
	case <-q.done:
		return false
	}
}

// TryPost enqueues ev only if there is room, for producers that must not block.
func (q *Queue) TryPost(ev Event) bool {
	select {
	case <-q.done:
		return false
	default:
	}

	select {
	case q.ch <- ev:
		return true
	default:
		return false
	}
}

// PostContext is Post that also gives up when ctx is done.
func (q *Queue) PostContext(ctx context.Context, ev Event) bool {
	select {
	case <-q.done:
		return false
	case <-ctx.Done():
		return false
	default:
	}

	select {
	case q.ch <- ev:
		return true
	case <-q.done:
		return false
	case <-ctx.Done():
		return false
	}
}

// Events is the consumer side of the queue. It is never closed;
// consumers should also watch Done.
func (q *Queue) Events() <-chan Event {
	return q.ch
}

func (q *Queue) Done() <-chan struct{} {
	return q.done
}

// Close stops accepting events. Safe to call more than once.
func (q *Queue) Close() {
	q.once.Do(func() { close(q.done) })
}
