package ace

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/zoobzio/capitan"
)

// Engine lifecycle topics published on the bus.
const (
	TopicPipelineStart    = "pipeline.start"
	TopicAgentExecute     = "agent.execute"
	TopicValidationFailed = "validation.failed"
	TopicPipelineComplete = "pipeline.complete"
)

// Message is an immutable event relayed by the Bus.
type Message struct {
	Sender    string         `json:"sender"`
	Topic     string         `json:"topic"`
	Data      map[string]any `json:"data"`
	Timestamp time.Time      `json:"timestamp"`
}

// Handler consumes messages for a subscribed topic. A handler error is
// caught and logged, never propagated to the publisher or to siblings.
type Handler func(ctx context.Context, msg Message) error

// Subscription identifies one (topic, handler) registration.
type Subscription struct {
	topic string
	id    uint64
}

// Topic returns the topic the subscription was registered for.
func (s Subscription) Topic() string {
	return s.topic
}

type subscriber struct {
	id      uint64
	handler Handler
}

// Bus relays messages between pipeline components with topic-based
// publish/subscribe and a bounded, FIFO-evicted message history.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string][]subscriber
	history     []Message
	maxHistory  int
	nextID      uint64
}

// NewBus creates a bus retaining at most DefaultHistoryLimit messages.
func NewBus() *Bus {
	return &Bus{
		subscribers: make(map[string][]subscriber),
		maxHistory:  DefaultHistoryLimit,
	}
}

// WithHistoryLimit overrides the history capacity.
func (b *Bus) WithHistoryLimit(limit int) *Bus {
	b.mu.Lock()
	defer b.mu.Unlock()
	if limit > 0 {
		b.maxHistory = limit
	}
	return b
}

// Subscribe registers a handler for a topic and returns a token for
// Unsubscribe.
func (b *Bus) Subscribe(topic string, handler Handler) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	b.subscribers[topic] = append(b.subscribers[topic], subscriber{
		id:      b.nextID,
		handler: handler,
	})
	return Subscription{topic: topic, id: b.nextID}
}

// Unsubscribe removes a prior registration. Unknown tokens are a no-op.
func (b *Bus) Unsubscribe(sub Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subscribers[sub.topic]
	for i, s := range subs {
		if s.id == sub.id {
			b.subscribers[sub.topic] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(b.subscribers[sub.topic]) == 0 {
		delete(b.subscribers, sub.topic)
	}
}

// Publish records the message in history and delivers it to every handler
// subscribed to its topic. Handlers run concurrently; Publish waits for
// all of them, so it is a synchronization point bounded by the slowest
// handler. Handler errors and panics are caught and logged.
func (b *Bus) Publish(ctx context.Context, msg Message) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}

	b.mu.Lock()
	b.history = append(b.history, msg)
	if overflow := len(b.history) - b.maxHistory; overflow > 0 {
		b.history = append([]Message(nil), b.history[overflow:]...)
	}
	handlers := make([]Handler, 0, len(b.subscribers[msg.Topic]))
	for _, s := range b.subscribers[msg.Topic] {
		handlers = append(handlers, s.handler)
	}
	b.mu.Unlock()

	if len(handlers) == 0 {
		return
	}

	var wg sync.WaitGroup
	wg.Add(len(handlers))
	for _, h := range handlers {
		go func(h Handler) {
			defer wg.Done()
			b.deliver(ctx, h, msg)
		}(h)
	}
	wg.Wait()
}

func (b *Bus) deliver(ctx context.Context, h Handler, msg Message) {
	defer func() {
		if r := recover(); r != nil {
			capitan.Error(ctx, HandlerFailed,
				FieldTopic.Field(msg.Topic),
				FieldSender.Field(msg.Sender),
				FieldError.Field(fmt.Errorf("handler panicked: %v", r)),
			)
		}
	}()

	if err := h(ctx, msg); err != nil {
		capitan.Error(ctx, HandlerFailed,
			FieldTopic.Field(msg.Topic),
			FieldSender.Field(msg.Sender),
			FieldError.Field(err),
		)
	}
}

// History returns retained messages in publish order, filtered by topic
// and sender when non-empty, limited to the most recent limit entries
// when limit > 0.
func (b *Bus) History(topic, sender string, limit int) []Message {
	b.mu.RLock()
	defer b.mu.RUnlock()

	messages := make([]Message, 0, len(b.history))
	for _, m := range b.history {
		if topic != "" && m.Topic != topic {
			continue
		}
		if sender != "" && m.Sender != sender {
			continue
		}
		messages = append(messages, m)
	}

	if limit > 0 && len(messages) > limit {
		messages = messages[len(messages)-limit:]
	}
	return messages
}

// ClearHistory drops all retained messages.
func (b *Bus) ClearHistory() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.history = nil
}

// Topics returns all topics with at least one active subscriber.
func (b *Bus) Topics() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	topics := make([]string, 0, len(b.subscribers))
	for topic := range b.subscribers {
		topics = append(topics, topic)
	}
	return topics
}
