package main

import (
	"sync"
	"time"
)

// Event names emitted on the bus. Dot-separated, component-first.
const (
	evtRecordingStarted = "recording.started"
	evtRecordingStopped = "recording.stopped" // data: {"reason": stopReason}
	evtRecordingWarning = "recording.warning"
	evtAudioLevel       = "audio.level" // data: {"level": float64 0..1}
	evtAudioSilence     = "audio.silence"
	evtStateChange      = "state.change" // data: {"old", "new"}
	evtSTTLoading       = "stt.loading"
	evtSTTStarted       = "stt.started"
	evtSTTComplete      = "stt.complete" // data: {"text", "language"}
	evtSTTError         = "stt.error"
	evtInjectComplete   = "inject.complete"
	evtInjectError      = "inject.error"
	evtModelProgress    = "model.download.progress" // data: {"name", "pct"}
	evtModelDone        = "model.download.done"
	evtModelError       = "model.download.error"
	evtLearned          = "adaptive.corrections_learned"
)

// Event is the envelope delivered to handlers and channel subscribers.
type Event struct {
	Name string                 `json:"name"`
	Time time.Time              `json:"time"`
	Data map[string]interface{} `json:"data,omitempty"`
}

// EventBus is a publish/subscribe dispatcher for lifecycle signals.
// It is constructed explicitly and passed to the components that publish or
// subscribe — there is deliberately no package-level instance, so tests can
// create isolated buses.
//
// Handlers run synchronously on the emitter's goroutine and must not block.
// Channel subscribers (used by the dashboard SSE stream) receive events
// non-blocking: a full buffer drops the event rather than stalling the
// capture path.
type EventBus struct {
	mu          sync.RWMutex
	handlers    map[string][]func(Event)
	subscribers map[string]chan Event
}

// NewEventBus creates an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{
		handlers:    make(map[string][]func(Event)),
		subscribers: make(map[string]chan Event),
	}
}

// On subscribes a handler to a named event.
func (b *EventBus) On(name string, handler func(Event)) {
	b.mu.Lock()
	b.handlers[name] = append(b.handlers[name], handler)
	b.mu.Unlock()
}

// Emit delivers an event to all handlers for its name and fans it out to
// every channel subscriber regardless of name.
func (b *EventBus) Emit(name string, data map[string]interface{}) {
	evt := Event{Name: name, Time: time.Now(), Data: data}

	b.mu.RLock()
	handlers := b.handlers[name]
	for id, ch := range b.subscribers {
		select {
		case ch <- evt:
		default:
			logger.Debugw("events: subscriber buffer full, event dropped",
				"subscriber", id, "event", name)
		}
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(evt)
	}
}

// Subscribe creates a buffered channel receiving every emitted event.
// The caller must Unsubscribe with the same id when done.
func (b *EventBus) Subscribe(id string, bufSize int) <-chan Event {
	if bufSize <= 0 {
		bufSize = 64
	}
	ch := make(chan Event, bufSize)
	b.mu.Lock()
	b.subscribers[id] = ch
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes a channel subscription and closes its channel.
func (b *EventBus) Unsubscribe(id string) {
	b.mu.Lock()
	if ch, ok := b.subscribers[id]; ok {
		close(ch)
		delete(b.subscribers, id)
	}
	b.mu.Unlock()
}

// Clear removes all handlers and subscriptions. Called on shutdown.
func (b *EventBus) Clear() {
	b.mu.Lock()
	b.handlers = make(map[string][]func(Event))
	for id, ch := range b.subscribers {
		close(ch)
		delete(b.subscribers, id)
	}
	b.mu.Unlock()
}
