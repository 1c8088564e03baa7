package provider

import (
	"sync"
	"time"
)

// EventKind discriminates adapter events.
type EventKind string

const (
	EventConnectionStateChange EventKind = "connection_state_change"
	EventTranscriptInterim     EventKind = "transcript_interim"
	EventTranscriptCommitted   EventKind = "transcript_committed"
	EventTranscriptFinal       EventKind = "transcript_final"
	EventWordTiming            EventKind = "word_timing"
	EventError                 EventKind = "error"
)

// Event is one asynchronous adapter event. Every event carries the provider
// id and an emission timestamp; the remaining fields are set per kind.
type Event struct {
	Provider ID
	Kind     EventKind
	At       time.Time

	// EventConnectionStateChange
	State    State
	Previous State

	// Transcript kinds
	Text string

	// EventWordTiming
	Word WordTiming

	// EventError
	Err error
}

// Bus is a typed publish/subscribe channel for adapter events. Subscribers
// get a buffered channel and an explicit cancel func; events to a slow
// subscriber are dropped rather than blocking the emitting adapter.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[uint64]chan Event
	nextID      uint64
	closed      bool
}

// NewBus creates an empty event bus.
func NewBus() *Bus {
	return &Bus{subscribers: make(map[uint64]chan Event)}
}

// Subscribe registers a subscriber and returns its channel plus a cancel
// function. Cancel is idempotent and must be called to avoid listener
// leakage across recording cycles.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	ch := make(chan Event, 64)
	if b.closed {
		close(ch)
		b.mu.Unlock()
		return ch, func() {}
	}
	b.subscribers[id] = ch
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			if ch, ok := b.subscribers[id]; ok {
				delete(b.subscribers, id)
				close(ch)
			}
			b.mu.Unlock()
		})
	}
	return ch, cancel
}

// Publish delivers an event to every subscriber. Stamps At if unset.
func (b *Bus) Publish(e Event) {
	if e.At.IsZero() {
		e.At = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, ch := range b.subscribers {
		select {
		case ch <- e:
		default:
			// Drop if subscriber is slow
		}
	}
}

// Close unsubscribes everyone and closes their channels. Further Publish
// calls are no-ops.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subscribers {
		delete(b.subscribers, id)
		close(ch)
	}
}
