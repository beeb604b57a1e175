// Package event provides a pub/sub event system for the server using watermill.
package event

import (
	"sync"
	"sync/atomic"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

// Type represents the kind of event flowing through the bus.
type Type string

const (
	// Permission stream (singleton topic).
	PermissionConnected Type = "permissionConnected"
	PermissionRequested Type = "permissionRequest"
	PermissionGranted   Type = "permissionGranted"
	PermissionDenied    Type = "permissionDenied"

	// Per-queue-item stream (keyed by item id).
	RunConnected Type = "connected"
	// RunSession is the mandatory first event of an immediate streaming
	// chat execution ("the first event observed by a streaming client is
	// always the session event"); the per-queue-item stream emits
	// RunConnected instead, since a subscriber may attach to an
	// execution already underway.
	RunSession Type = "session"
	RunInit    Type = "init"
	RunText      Type = "text"
	RunToolUse   Type = "tool_use"
	RunDone      Type = "done"
	RunError     Type = "error"
	RunClose     Type = "close"

	// Queue/session lifecycle, published on the global topic for admin use.
	QueueItemEnqueued Type = "queue.enqueued"
	QueueItemStarted  Type = "queue.started"
	SessionCreated    Type = "session.created"

	// DocumentChanged is published on the "documents" topic when the
	// optional filesystem watcher observes a direct write to a vault file.
	DocumentChanged Type = "document.changed"
)

// DocumentsTopic carries DocumentChanged notifications.
const DocumentsTopic = "documents"

// Event is a single published occurrence. Topic determines which
// subscribers receive it; Type discriminates the payload shape within a
// topic and is the "type" field every SSE frame carries on the wire.
type Event struct {
	Topic string `json:"-"`
	Type  Type   `json:"type"`
	Data  any    `json:"data,omitempty"`
}

// Subscriber receives events published to a topic it is registered for.
type Subscriber func(Event)

type subscriberEntry struct {
	id uint64
	fn Subscriber
}

// Bus is a typed, per-topic publisher/subscriber registry. It keeps a
// watermill gochannel pub/sub alive for infrastructure parity with the rest
// of the stack (middleware, future distributed backends) while preserving
// direct, type-safe dispatch to Go subscriber functions.
type Bus struct {
	mu sync.RWMutex

	pubsub *gochannel.GoChannel

	topics map[string][]subscriberEntry
	global []subscriberEntry

	nextID uint64
	closed bool
}

// New creates a new, independent event bus.
func New() *Bus {
	return &Bus{
		pubsub: gochannel.NewGoChannel(
			gochannel.Config{
				OutputChannelBuffer: 100,
				Persistent:          false,
			},
			watermill.NopLogger{},
		),
		topics: make(map[string][]subscriberEntry),
	}
}

func (b *Bus) newID() uint64 {
	return atomic.AddUint64(&b.nextID, 1)
}

// Subscribe registers a subscriber for a specific topic. Returns an
// unsubscribe function.
func (b *Bus) Subscribe(topic string, fn Subscriber) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return func() {}
	}

	id := b.newID()
	b.topics[topic] = append(b.topics[topic], subscriberEntry{id: id, fn: fn})

	return func() { b.unsubscribe(topic, id) }
}

// SubscribeAll registers a subscriber for every topic (used by the global
// admin SSE stream). Returns an unsubscribe function.
func (b *Bus) SubscribeAll(fn Subscriber) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return func() {}
	}

	id := b.newID()
	b.global = append(b.global, subscriberEntry{id: id, fn: fn})

	return func() { b.unsubscribeGlobal(id) }
}

func (b *Bus) unsubscribe(topic string, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.topics[topic]
	for i, entry := range subs {
		if entry.id == id {
			b.topics[topic] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(b.topics[topic]) == 0 {
		delete(b.topics, topic)
	}
}

func (b *Bus) unsubscribeGlobal(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, entry := range b.global {
		if entry.id == id {
			b.global = append(b.global[:i], b.global[i+1:]...)
			break
		}
	}
}

// Publish sends an event to every subscriber of its topic, asynchronously,
// so a slow subscriber never blocks the publisher.
func (b *Bus) Publish(topic string, e Event) {
	e.Topic = topic

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return
	}

	subs := make([]Subscriber, 0, len(b.topics[topic])+len(b.global))
	for _, entry := range b.topics[topic] {
		subs = append(subs, entry.fn)
	}
	for _, entry := range b.global {
		subs = append(subs, entry.fn)
	}
	b.mu.RUnlock()

	for _, sub := range subs {
		go sub(e)
	}
}

// HasSubscribers reports whether a topic currently has at least one
// listener (used by the orchestrator to decide whether a per-item stream is
// still worth keeping alive).
func (b *Bus) HasSubscribers(topic string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.topics[topic]) > 0 || len(b.global) > 0
}

// Close shuts the bus down; further Publish/Subscribe calls are no-ops.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.topics = make(map[string][]subscriberEntry)
	b.global = nil
	b.mu.Unlock()

	return b.pubsub.Close()
}

// PubSub exposes the underlying watermill GoChannel for advanced use
// (middleware, routing) without disturbing the typed dispatch above.
func (b *Bus) PubSub() *gochannel.GoChannel {
	return b.pubsub
}
