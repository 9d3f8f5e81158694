package notify

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/orderwatch/internal/conn"
	"github.com/alanyoungcy/orderwatch/internal/dispatch"
	"github.com/alanyoungcy/orderwatch/internal/domain"
)

type chanSender struct {
	titles chan string
}

func (s *chanSender) Send(_ context.Context, title, _ string) error {
	s.titles <- title
	return nil
}

func (s *chanSender) Name() string { return "chan" }

func waitTitle(t *testing.T, ch chan string) string {
	t.Helper()
	select {
	case title := <-ch:
		return title
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for notification")
		return ""
	}
}

func TestWatcherNotifiesOnDegradedAndRecovery(t *testing.T) {
	s := &chanSender{titles: make(chan string, 4)}
	n := NewNotifier([]Sender{s}, nil, slog.New(slog.DiscardHandler))
	w := NewConnectionWatcher(n)

	bus := dispatch.New(slog.New(slog.DiscardHandler))
	w.Attach(bus)
	defer w.Detach(bus)

	// First connect is not a recovery.
	bus.Publish(domain.TopicConnState, conn.StateChange{State: conn.StateConnecting, Attempt: 1})
	bus.Publish(domain.TopicConnState, conn.StateChange{State: conn.StateReady, Attempt: 1})

	bus.Publish(domain.TopicConnState, conn.StateChange{State: conn.StateDegraded, Attempt: 10})
	require.Equal(t, "Feed degraded", waitTitle(t, s.titles))

	bus.Publish(domain.TopicConnState, conn.StateChange{State: conn.StateReady, Attempt: 3})
	require.Equal(t, "Feed recovered", waitTitle(t, s.titles))
}

func TestWatcherQuietOnCleanSession(t *testing.T) {
	s := &chanSender{titles: make(chan string, 4)}
	n := NewNotifier([]Sender{s}, nil, slog.New(slog.DiscardHandler))
	w := NewConnectionWatcher(n)

	bus := dispatch.New(slog.New(slog.DiscardHandler))
	w.Attach(bus)
	defer w.Detach(bus)

	bus.Publish(domain.TopicConnState, conn.StateChange{State: conn.StateConnecting, Attempt: 1})
	bus.Publish(domain.TopicConnState, conn.StateChange{State: conn.StateReady, Attempt: 1})

	select {
	case title := <-s.titles:
		t.Fatalf("unexpected notification %q", title)
	case <-time.After(50 * time.Millisecond):
	}
}
