// Package event provides a pub/sub event bus for the bridge using watermill.
package event

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

// EventType represents the type of event.
type EventType string

const (
	SessionCreated     EventType = "session.created"
	SessionClosed      EventType = "session.closed"
	FileEdited         EventType = "file.edited"
	PermissionResolved EventType = "permission.resolved"
	TerminalExited     EventType = "terminal.exited"
)

// topicAll receives a copy of every published event.
const topicAll = "events.all"

// Event is the envelope published on the bus. Data is JSON-encoded in
// transit, so subscribers see decoded generic values, not the
// publisher's concrete types.
type Event struct {
	Type EventType `json:"type"`
	Data any       `json:"data"`
}

// Subscriber is a function that receives events.
type Subscriber func(event Event)

// Bus routes events through a watermill gochannel pub/sub. One topic
// per event type plus a fan-in topic for SubscribeAll.
type Bus struct {
	pubsub *gochannel.GoChannel

	mu     sync.Mutex
	closed bool
	ctx    context.Context
	cancel context.CancelFunc
}

// globalBus is the default bus instance.
var globalBus = NewBus()

// NewBus creates a new event bus.
func NewBus() *Bus {
	ctx, cancel := context.WithCancel(context.Background())
	return &Bus{
		pubsub: gochannel.NewGoChannel(
			gochannel.Config{OutputChannelBuffer: 64},
			watermill.NopLogger{},
		),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Publish sends an event to subscribers of its type and to all-event
// subscribers. Delivery is asynchronous. Events published before a
// subscription exists are dropped for that subscriber.
func Publish(event Event) {
	globalBus.Publish(event)
}

func (b *Bus) Publish(event Event) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.mu.Unlock()

	payload, err := json.Marshal(event)
	if err != nil {
		return
	}
	_ = b.pubsub.Publish(string(event.Type), message.NewMessage(watermill.NewUUID(), payload))
	_ = b.pubsub.Publish(topicAll, message.NewMessage(watermill.NewUUID(), payload))
}

// Subscribe registers a subscriber for a specific event type.
// Returns an unsubscribe function.
func Subscribe(eventType EventType, fn Subscriber) func() {
	return globalBus.Subscribe(eventType, fn)
}

func (b *Bus) Subscribe(eventType EventType, fn Subscriber) func() {
	return b.subscribe(string(eventType), fn)
}

// SubscribeAll registers a subscriber for every event type.
// Returns an unsubscribe function.
func SubscribeAll(fn Subscriber) func() {
	return globalBus.SubscribeAll(fn)
}

func (b *Bus) SubscribeAll(fn Subscriber) func() {
	return b.subscribe(topicAll, fn)
}

func (b *Bus) subscribe(topic string, fn Subscriber) func() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return func() {}
	}
	b.mu.Unlock()

	ctx, cancel := context.WithCancel(b.ctx)
	messages, err := b.pubsub.Subscribe(ctx, topic)
	if err != nil {
		cancel()
		return func() {}
	}
	go func() {
		for msg := range messages {
			var event Event
			if err := json.Unmarshal(msg.Payload, &event); err == nil {
				fn(event)
			}
			msg.Ack()
		}
	}()
	return cancel
}

// Close shuts down the bus. Pending deliveries are dropped.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	b.cancel()
	return b.pubsub.Close()
}

// Reset replaces the global bus, dropping all subscribers (for tests).
func Reset() {
	old := globalBus
	globalBus = NewBus()
	_ = old.Close()
}
