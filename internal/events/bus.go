// Package events provides a publish/subscribe bus for runtime
// observability. The rewrite engine, the Telegram client and the config
// watcher publish; the MQTT status publisher and tests subscribe. The
// bus is nil-safe: calling Publish on a nil *Bus is a no-op, so
// components do not need guard checks.
package events

import (
	"sync"
	"time"
)

// Source constants identify which component published an event.
const (
	// SourceRewrite identifies events from the rewrite engine.
	SourceRewrite = "rewrite"
	// SourceTelegram identifies events from the Telegram client.
	SourceTelegram = "telegram"
	// SourceConfig identifies events from the config watcher.
	SourceConfig = "config"
	// SourceBackend identifies events from the backend health watcher.
	SourceBackend = "backend"
)

// Kind constants describe the type of event within a source.
const (
	// KindRuntimeReady signals that the update stream is live.
	// Data: self_id, chats.
	KindRuntimeReady = "runtime_ready"
	// KindMonitoredUpdate signals an outgoing message in a monitored
	// chat was accepted for rewriting.
	// Data: chat_id, message_id, task_id.
	KindMonitoredUpdate = "monitored_update"
	// KindUpdateIgnored signals an update the engine does not handle.
	// Data: reason.
	KindUpdateIgnored = "update_ignored"
	// KindTaskOutcome signals a rewrite task reached a terminal state.
	// Data: chat_id, message_id, task_id, state, attempts, error.
	KindTaskOutcome = "task_outcome"
	// KindMessageEdited signals a rewritten message was committed.
	// Data: chat_id, message_id, task_id.
	KindMessageEdited = "message_edited"

	// KindConfigReloaded signals new settings were installed.
	// Data: model, chats.
	KindConfigReloaded = "config_reloaded"
	// KindConfigRejected signals a reload failed validation.
	// Data: error.
	KindConfigRejected = "config_rejected"

	// KindBackendUp and KindBackendDown follow backend health probes.
	// Data: provider, error (down only).
	KindBackendUp   = "backend_up"
	KindBackendDown = "backend_down"
)

// Event represents a single operational event published by a component.
type Event struct {
	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"ts"`
	// Source identifies the component that published the event.
	Source string `json:"source"`
	// Kind describes the type of event within the source.
	Kind string `json:"kind"`
	// Data holds event-specific key/value pairs.
	Data map[string]any `json:"data,omitempty"`
}

// Bus is a non-blocking broadcast event bus. Subscribers receive events
// on buffered channels; slow subscribers miss events rather than
// blocking publishers.
type Bus struct {
	mu   sync.RWMutex
	subs map[chan Event]struct{}
	// recvToSend maps the receive-only channel returned by Subscribe
	// back to the bidirectional channel stored in subs. This allows
	// Unsubscribe to accept <-chan Event (the caller's view) without
	// an illegal type conversion.
	recvToSend map[<-chan Event]chan Event
}

// New creates a new event bus ready for use.
func New() *Bus {
	return &Bus{
		subs:       make(map[chan Event]struct{}),
		recvToSend: make(map[<-chan Event]chan Event),
	}
}

// Publish sends an event to all subscribers. Non-blocking: if a
// subscriber's channel is full, the event is dropped for that
// subscriber. Safe to call on a nil receiver (no-op).
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- e:
		default:
			// Subscriber is full; drop.
		}
	}
}

// Emit publishes an event stamped with the current time. Safe to call
// on a nil receiver.
func (b *Bus) Emit(source, kind string, data map[string]any) {
	if b == nil {
		return
	}
	b.Publish(Event{Timestamp: time.Now(), Source: source, Kind: kind, Data: data})
}

// Subscribe returns a channel that receives published events. The
// caller must eventually call Unsubscribe to avoid resource leaks.
// bufSize controls the channel buffer.
func (b *Bus) Subscribe(bufSize int) <-chan Event {
	ch := make(chan Event, bufSize)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[ch] = struct{}{}
	b.recvToSend[ch] = ch
	return ch
}

// Unsubscribe removes a subscription and closes the channel. Safe to
// call with a channel that is already unsubscribed (no-op).
func (b *Bus) Unsubscribe(ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sendCh, ok := b.recvToSend[ch]
	if !ok {
		return
	}
	delete(b.subs, sendCh)
	delete(b.recvToSend, ch)
	close(sendCh)
}
