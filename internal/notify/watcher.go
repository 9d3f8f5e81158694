package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/alanyoungcy/orderwatch/internal/conn"
	"github.com/alanyoungcy/orderwatch/internal/dispatch"
	"github.com/alanyoungcy/orderwatch/internal/domain"
)

// Event types emitted by the connection watcher.
const (
	EventFeedDegraded  = "feed-degraded"
	EventFeedRecovered = "feed-recovered"
)

// ConnectionWatcher turns connection-state transitions into operator
// notifications: one when the feed gives up reconnecting, one when it comes
// back after having been down.
type ConnectionWatcher struct {
	notifier *Notifier

	mu       sync.Mutex
	lost     bool
	everUp   bool
	token    string
	timeout  time.Duration
}

// NewConnectionWatcher creates a watcher delivering through the given
// notifier.
func NewConnectionWatcher(n *Notifier) *ConnectionWatcher {
	return &ConnectionWatcher{
		notifier: n,
		timeout:  10 * time.Second,
	}
}

// Attach subscribes the watcher to connection-state changes on the
// dispatcher.
func (w *ConnectionWatcher) Attach(bus *dispatch.Dispatcher) {
	w.token = bus.Subscribe(domain.TopicConnState, "conn-watcher", func(payload any) {
		change, ok := payload.(conn.StateChange)
		if !ok {
			return
		}
		w.observe(change)
	})
}

// Detach removes the watcher's subscription.
func (w *ConnectionWatcher) Detach(bus *dispatch.Dispatcher) {
	bus.Unsubscribe(domain.TopicConnState, w.token)
}

func (w *ConnectionWatcher) observe(change conn.StateChange) {
	w.mu.Lock()
	var event, title, message string
	switch change.State {
	case conn.StateDegraded:
		event = EventFeedDegraded
		title = "Feed degraded"
		message = fmt.Sprintf("Reconnection gave up after %d attempts; cached order state is no longer refreshed.", change.Attempt)
		w.lost = true
	case conn.StateDisconnected:
		if w.everUp {
			w.lost = true
		}
	case conn.StateReady:
		if w.everUp && w.lost {
			event = EventFeedRecovered
			title = "Feed recovered"
			message = fmt.Sprintf("Ledger feed reconnected on attempt %d; full resynchronization started.", change.Attempt)
		}
		w.everUp = true
		w.lost = false
	}
	w.mu.Unlock()

	if event == "" {
		return
	}

	// Delivery happens off the dispatcher's goroutine; senders have their
	// own HTTP timeouts.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
		defer cancel()
		_ = w.notifier.Notify(ctx, event, title, message)
	}()
}
