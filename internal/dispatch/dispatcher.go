// Package dispatch provides the in-process publish/subscribe hub that
// decouples cache mutation from consumer notification. Consumers (API
// handlers, the WebSocket hub, archivers, mirrors) register callbacks per
// topic; a failing consumer never affects the publisher or its peers.
package dispatch

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// Callback receives the payload published under a topic. Callbacks run on
// the publisher's goroutine and should hand off long work themselves.
type Callback func(payload any)

// Dispatcher is a topic-keyed set of subscriber callbacks. Subscribing the
// same token twice replaces the earlier callback, so a callback appears at
// most once per topic.
type Dispatcher struct {
	mu     sync.RWMutex
	topics map[string]map[string]Callback
	logger *slog.Logger
}

// New creates an empty Dispatcher.
func New(logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		topics: make(map[string]map[string]Callback),
		logger: logger.With(slog.String("component", "dispatcher")),
	}
}

// Subscribe registers cb under the topic and returns the subscriber token.
// Pass an empty token to have one generated. Re-subscribing an existing
// token replaces its callback.
func (d *Dispatcher) Subscribe(topic, token string, cb Callback) string {
	if token == "" {
		token = uuid.NewString()
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	subs, ok := d.topics[topic]
	if !ok {
		subs = make(map[string]Callback)
		d.topics[topic] = subs
	}
	subs[token] = cb
	return token
}

// Unsubscribe removes the token's callback from the topic. Unknown tokens
// and topics are a no-op.
func (d *Dispatcher) Unsubscribe(topic, token string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	subs, ok := d.topics[topic]
	if !ok {
		return
	}
	delete(subs, token)
	if len(subs) == 0 {
		delete(d.topics, topic)
	}
}

// Publish invokes every callback registered under the topic with the
// payload. Iteration order is unspecified. Each callback is isolated: a
// panic is recovered and logged without affecting the remaining callbacks
// or the publisher. No subscribers is a normal, silent case.
func (d *Dispatcher) Publish(topic string, payload any) {
	d.mu.RLock()
	subs := d.topics[topic]
	snapshot := make([]Callback, 0, len(subs))
	for _, cb := range subs {
		snapshot = append(snapshot, cb)
	}
	d.mu.RUnlock()

	for _, cb := range snapshot {
		d.invoke(topic, cb, payload)
	}
}

func (d *Dispatcher) invoke(topic string, cb Callback, payload any) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("subscriber panicked",
				slog.String("topic", topic),
				slog.Any("panic", r),
			)
		}
	}()
	cb(payload)
}

// SubscriberCount returns how many callbacks are registered under the topic.
func (d *Dispatcher) SubscriberCount(topic string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.topics[topic])
}
