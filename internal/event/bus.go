// Package event provides the audit event bus. Events are delivered directly to
// in-process subscribers and mirrored as JSON messages onto a watermill
// gochannel topic for streaming consumers.
package event

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/rs/zerolog/log"
)

// Topic is the watermill topic all events are mirrored to.
const Topic = "claudebridge.events"

// EventType represents the type of event.
type EventType string

const (
	SessionCreated EventType = "session.created"
	SessionExpired EventType = "session.expired"
	SessionEnded   EventType = "session.ended"

	ExecutionStarted   EventType = "execution.started"
	ExecutionCompleted EventType = "execution.completed"
	ExecutionFailed    EventType = "execution.failed"
	ExecutionFallback  EventType = "execution.fallback"

	ToolDecided      EventType = "tool.decided"
	ToolLoopDetected EventType = "tool.loop_detected"

	BackendDemoted EventType = "backend.demoted"
	ConfigReloaded EventType = "config.reloaded"
)

// Event represents an event to be published.
type Event struct {
	Type EventType `json:"type"`
	Data any       `json:"data"`
}

// Subscriber is a function that receives events.
type Subscriber func(event Event)

type subscriberEntry struct {
	id uint64
	fn Subscriber
}

// Bus fans events out to subscribers.
type Bus struct {
	mu          sync.RWMutex
	pubsub      *gochannel.GoChannel
	subscribers map[EventType][]subscriberEntry
	global      []subscriberEntry
	nextID      uint64
	closed      bool
}

var globalBus atomic.Pointer[Bus]

func init() {
	globalBus.Store(NewBus())
}

// NewBus creates a new event bus instance.
func NewBus() *Bus {
	return &Bus{
		pubsub: gochannel.NewGoChannel(
			gochannel.Config{OutputChannelBuffer: 256},
			watermill.NopLogger{},
		),
		subscribers: make(map[EventType][]subscriberEntry),
	}
}

// Default returns the process-wide bus.
func Default() *Bus { return globalBus.Load() }

// Subscribe registers fn for one event type on the global bus.
func Subscribe(eventType EventType, fn Subscriber) func() {
	return Default().Subscribe(eventType, fn)
}

// Subscribe registers fn for one event type and returns its unsubscribe func.
func (b *Bus) Subscribe(eventType EventType, fn Subscriber) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return func() {}
	}
	id := atomic.AddUint64(&b.nextID, 1)
	b.subscribers[eventType] = append(b.subscribers[eventType], subscriberEntry{id: id, fn: fn})
	return func() { b.remove(eventType, id) }
}

// SubscribeAll registers fn for every event on the global bus.
func SubscribeAll(fn Subscriber) func() {
	return Default().SubscribeAll(fn)
}

// SubscribeAll registers fn for every event type.
func (b *Bus) SubscribeAll(fn Subscriber) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return func() {}
	}
	id := atomic.AddUint64(&b.nextID, 1)
	b.global = append(b.global, subscriberEntry{id: id, fn: fn})
	return func() { b.remove("", id) }
}

func (b *Bus) remove(eventType EventType, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	list := b.global
	if eventType != "" {
		list = b.subscribers[eventType]
	}
	for i, entry := range list {
		if entry.id == id {
			list = append(list[:i], list[i+1:]...)
			break
		}
	}
	if eventType != "" {
		b.subscribers[eventType] = list
	} else {
		b.global = list
	}
}

func (b *Bus) collect(eventType EventType) ([]Subscriber, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, false
	}
	subs := make([]Subscriber, 0, len(b.subscribers[eventType])+len(b.global))
	for _, entry := range b.subscribers[eventType] {
		subs = append(subs, entry.fn)
	}
	for _, entry := range b.global {
		subs = append(subs, entry.fn)
	}
	return subs, true
}

// Publish delivers event on the global bus asynchronously.
func Publish(event Event) {
	Default().Publish(event)
}

// Publish delivers event to each subscriber in its own goroutine.
func (b *Bus) Publish(event Event) {
	subs, ok := b.collect(event.Type)
	if !ok {
		return
	}
	for _, sub := range subs {
		go sub(event)
	}
	b.mirror(event)
}

// PublishSync delivers event on the global bus synchronously.
func PublishSync(event Event) {
	Default().PublishSync(event)
}

// PublishSync calls every subscriber before returning.
func (b *Bus) PublishSync(event Event) {
	subs, ok := b.collect(event.Type)
	if !ok {
		return
	}
	for _, sub := range subs {
		sub(event)
	}
	b.mirror(event)
}

func (b *Bus) mirror(event Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		log.Warn().Err(err).Str("type", string(event.Type)).Msg("event not mirrored")
		return
	}
	msg := message.NewMessage(watermill.NewULID(), payload)
	msg.Metadata.Set("type", string(event.Type))
	if err := b.pubsub.Publish(Topic, msg); err != nil {
		log.Debug().Err(err).Msg("event mirror publish failed")
	}
}

// Stream subscribes to the mirrored topic and decodes messages until ctx is
// done. The returned channel is closed when the subscription ends.
func (b *Bus) Stream(ctx context.Context) (<-chan Event, error) {
	messages, err := b.pubsub.Subscribe(ctx, Topic)
	if err != nil {
		return nil, err
	}
	out := make(chan Event)
	go func() {
		defer close(out)
		for msg := range messages {
			var ev Event
			if err := json.Unmarshal(msg.Payload, &ev); err == nil {
				select {
				case out <- ev:
				case <-ctx.Done():
					msg.Ack()
					return
				}
			}
			msg.Ack()
		}
	}()
	return out, nil
}

// Close closes the bus and drops all subscribers.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.subscribers = make(map[EventType][]subscriberEntry)
	b.global = nil
	b.mu.Unlock()
	return b.pubsub.Close()
}

// Reset replaces the global bus (for testing).
func Reset() {
	old := globalBus.Swap(NewBus())
	_ = old.Close()
}
