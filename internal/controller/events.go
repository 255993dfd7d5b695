// Package controller owns the per-session state machine that drives the
// voice pipeline: it reacts to segmenter, STT, LLM, and TTS callbacks,
// emits protocol events, and persists turns through the session manager.
package controller

import (
	"log/slog"
	"sync"
)

// Event is a single protocol message, mirroring the client-facing
// `{event, data}` wire shape plus routing metadata that never reaches the
// client payload itself.
type Event struct {
	Type          string
	SessionID     string
	UserID        string
	CorrelationID string
	Data          map[string]any
}

// Emitter delivers events and binary audio to one session's transport
// connection. Implementations must not block the caller for longer than
// the transport's own write timeout; a slow client should not stall the
// pipeline driving it.
type Emitter interface {
	EmitEvent(ev Event) error
	EmitBinary(data []byte) error
}

// observerEventTypes is the set of event kinds mirrored onto the
// process-wide observer channel (SPEC_FULL.md §4.6 "Event bus").
var observerEventTypes = map[string]bool{
	"partial_transcript":   true,
	"final_transcript":     true,
	"ai_response_chunk":    true,
	"ai_response_complete": true,
	"message_saved":        true,
	"metrics_updated":      true,
}

// ObserverBus is a process-wide, write-many/read-many broadcast of events
// that have meaning for conversation history. Each subscriber has its own
// bounded, drop-oldest buffer so a slow observer cannot back-pressure the
// sessions publishing to it.
type ObserverBus struct {
	mu          sync.Mutex
	subscribers map[int]chan Event
	nextID      int
	bufferSize  int
}

// NewObserverBus returns a ready-to-use bus. bufferSize bounds each
// subscriber's channel (default 256 if <= 0).
func NewObserverBus(bufferSize int) *ObserverBus {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	return &ObserverBus{
		subscribers: make(map[int]chan Event),
		bufferSize:  bufferSize,
	}
}

// Subscribe registers a new observer and returns its event channel and an
// unsubscribe function.
func (b *ObserverBus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	ch := make(chan Event, b.bufferSize)
	b.subscribers[id] = ch

	unsub := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if ch, ok := b.subscribers[id]; ok {
			delete(b.subscribers, id)
			close(ch)
		}
	}
	return ch, unsub
}

// Publish fans ev out to every subscriber if ev's type is one the observer
// channel carries. A full subscriber buffer drops the oldest queued event
// rather than blocking the publisher.
func (b *ObserverBus) Publish(ev Event) {
	if !observerEventTypes[ev.Type] {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.subscribers {
		select {
		case ch <- ev:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- ev:
			default:
				slog.Warn("observer bus: dropping event for a full, unresponsive subscriber", "subscriber", id, "event", ev.Type)
			}
		}
	}
}
