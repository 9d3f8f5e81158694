package conn

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/orderwatch/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// fakeSession is a scriptable ledger session for driving the manager.
type fakeSession struct {
	events   chan domain.LedgerEvent
	liveness chan uint64
	errs     chan error
	closed   atomic.Bool
}

func newFakeSession() *fakeSession {
	return &fakeSession{
		events:   make(chan domain.LedgerEvent, 8),
		liveness: make(chan uint64, 8),
		errs:     make(chan error, 1),
	}
}

func (s *fakeSession) Events() <-chan domain.LedgerEvent { return s.events }
func (s *fakeSession) Liveness() <-chan uint64           { return s.liveness }
func (s *fakeSession) Err() <-chan error                 { return s.errs }
func (s *fakeSession) Close()                            { s.closed.Store(true) }

func (s *fakeSession) drop(err error) { s.errs <- err }

func fastConfig() Config {
	return Config{
		BaseDelay:   time.Millisecond,
		MaxDelay:    8 * time.Millisecond,
		MaxAttempts: 3,
	}
}

func TestBackoffGrowth(t *testing.T) {
	base := 2 * time.Second
	max := 60 * time.Second

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 16 * time.Second},
		{5, 32 * time.Second},
		{6, 60 * time.Second},  // capped
		{40, 60 * time.Second}, // shift clamp
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Backoff(base, tt.attempt, max), "attempt %d", tt.attempt)
	}
}

func TestRunGivesUpAfterMaxAttempts(t *testing.T) {
	dials := 0
	dial := func(ctx context.Context) (domain.LedgerSession, error) {
		dials++
		return nil, errors.New("refused")
	}

	m := NewManager(dial, fastConfig(), testLogger())
	err := m.Run(context.Background())

	require.ErrorIs(t, err, domain.ErrRetriesExhausted)
	assert.Equal(t, 3, dials)
	assert.Equal(t, StateDegraded, m.State())
}

func TestRunResetsAttemptCounterOnReady(t *testing.T) {
	var sess *fakeSession
	dials := 0
	dial := func(ctx context.Context) (domain.LedgerSession, error) {
		dials++
		if dials < 3 {
			return nil, errors.New("refused")
		}
		sess = newFakeSession()
		return sess, nil
	}

	m := NewManager(dial, fastConfig(), testLogger())

	done := make(chan error, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { done <- m.Run(ctx) }()

	require.Eventually(t, func() bool { return m.State() == StateReady }, time.Second, time.Millisecond)
	assert.Equal(t, 0, m.Attempt(), "attempt counter must reset after a successful connect")

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
	assert.True(t, sess.closed.Load())
}

func TestRunRedialsAfterDropAndReRunsBootstrap(t *testing.T) {
	sessions := make(chan *fakeSession, 4)
	dial := func(ctx context.Context) (domain.LedgerSession, error) {
		s := newFakeSession()
		sessions <- s
		return s, nil
	}

	var readyCalls atomic.Int32
	m := NewManager(dial, fastConfig(), testLogger())
	m.OnReady(func(ctx context.Context) { readyCalls.Add(1) })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	first := <-sessions
	require.Eventually(t, func() bool { return readyCalls.Load() == 1 }, time.Second, time.Millisecond)

	first.drop(errors.New("transport reset"))

	second := <-sessions
	require.Eventually(t, func() bool { return readyCalls.Load() == 2 }, time.Second, time.Millisecond,
		"bootstrap must re-run on every reconnect")
	require.NotSame(t, first, second)

	cancel()
	<-done
}

func TestRunForwardsEventsAndLiveness(t *testing.T) {
	sess := newFakeSession()
	dial := func(ctx context.Context) (domain.LedgerSession, error) { return sess, nil }

	got := make(chan domain.LedgerEvent, 1)
	m := NewManager(dial, fastConfig(), testLogger())
	m.OnEvent(func(ctx context.Context, ev domain.LedgerEvent) { got <- ev })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = m.Run(ctx) }()

	sess.events <- domain.OrderCanceledEvent{ID: 7}
	ev := <-got
	canceled, ok := ev.(domain.OrderCanceledEvent)
	require.True(t, ok)
	assert.Equal(t, uint64(7), canceled.ID)

	require.True(t, m.LastLiveness().IsZero())
	sess.liveness <- 123
	require.Eventually(t, func() bool { return !m.LastLiveness().IsZero() }, time.Second, time.Millisecond)
	// No heartbeat timeout: a stale liveness signal alone never disconnects.
	assert.Equal(t, StateReady, m.State())
}

func TestStateChangeObserver(t *testing.T) {
	dial := func(ctx context.Context) (domain.LedgerSession, error) {
		return nil, errors.New("refused")
	}

	var states []State
	m := NewManager(dial, fastConfig(), testLogger())
	m.OnStateChange(func(sc StateChange) { states = append(states, sc.State) })

	_ = m.Run(context.Background())

	require.NotEmpty(t, states)
	assert.Equal(t, StateConnecting, states[0])
	assert.Equal(t, StateDegraded, states[len(states)-1])
}
