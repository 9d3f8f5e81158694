// Package conn owns the ledger transport lifecycle: dialing, drop detection,
// exponential-backoff reconnection, and re-arming the bootstrap sequence on
// every successful connect. The push feed has no gap-free resume token, so
// each reconnect re-runs the full bootstrap instead of resuming.
package conn

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/orderwatch/internal/domain"
)

// State is the connection lifecycle state. Owned exclusively by the Manager;
// everything else reads it through Manager.State.
type State uint8

const (
	StateDisconnected State = iota
	StateConnecting
	StateReady
	StateDegraded // retries exhausted, terminal until an external restart
)

// String returns the lowercase wire name of the state.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	case StateDegraded:
		return "degraded"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler for JSON status payloads.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// StateChange is published to observers whenever the connection state moves.
type StateChange struct {
	State   State `json:"state"`
	Attempt int   `json:"attempt"`
}

// DialFunc establishes one ledger session. The Manager calls it for the
// initial connect and for every reconnect attempt.
type DialFunc func(ctx context.Context) (domain.LedgerSession, error)

// Config tunes the reconnect policy.
type Config struct {
	// BaseDelay seeds the exponential backoff: attempt n waits
	// BaseDelay * 2^(n-1).
	BaseDelay time.Duration
	// MaxDelay caps the computed backoff.
	MaxDelay time.Duration
	// MaxAttempts is the number of consecutive failed dials tolerated before
	// the Manager gives up. The counter resets on every successful connect.
	MaxAttempts int
}

// DefaultConfig mirrors the transport defaults used against public RPC
// endpoints.
func DefaultConfig() Config {
	return Config{
		BaseDelay:   2 * time.Second,
		MaxDelay:    60 * time.Second,
		MaxAttempts: 10,
	}
}

// Backoff returns the reconnect delay for the given 1-based attempt:
// base * 2^(attempt-1), capped at max.
func Backoff(base time.Duration, attempt int, max time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	// 2^(attempt-1) overflows quickly; cap the shift before multiplying.
	shift := attempt - 1
	if shift > 30 {
		return max
	}
	d := base << shift
	if d > max {
		return max
	}
	return d
}

// Manager runs the connection state machine. OnReady is invoked after every
// successful connect (initial and reconnect) and is where the coordinator
// re-runs its bootstrap; OnEvent receives each decoded ledger event in
// arrival order.
type Manager struct {
	dial    DialFunc
	cfg     Config
	onReady func(ctx context.Context)
	onEvent func(ctx context.Context, ev domain.LedgerEvent)
	onState func(StateChange)
	logger  *slog.Logger

	mu           sync.RWMutex
	state        State
	attempt      int
	lastLiveness time.Time
}

// NewManager creates a Manager around the given dial function.
func NewManager(dial DialFunc, cfg Config, logger *slog.Logger) *Manager {
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = DefaultConfig().BaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = DefaultConfig().MaxDelay
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultConfig().MaxAttempts
	}
	return &Manager{
		dial:   dial,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "ledger_conn")),
	}
}

// OnReady registers the hook run after each successful connect. Must be set
// before Run.
func (m *Manager) OnReady(fn func(ctx context.Context)) { m.onReady = fn }

// OnEvent registers the handler for decoded ledger events. Must be set
// before Run.
func (m *Manager) OnEvent(fn func(ctx context.Context, ev domain.LedgerEvent)) { m.onEvent = fn }

// OnStateChange registers an observer for state transitions. Must be set
// before Run.
func (m *Manager) OnStateChange(fn func(StateChange)) { m.onState = fn }

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Attempt returns the current consecutive failed-dial count.
func (m *Manager) Attempt() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.attempt
}

// LastLiveness returns when the transport last produced a liveness signal.
// Zero until the first signal arrives.
func (m *Manager) LastLiveness() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastLiveness
}

// Run drives the state machine until ctx is cancelled or the retry budget is
// exhausted, in which case it returns domain.ErrRetriesExhausted and the
// state rests at Degraded. Callers that want to try again after that must
// call Run anew.
func (m *Manager) Run(ctx context.Context) error {
	m.resetAttempt()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		m.bumpAttempt()
		m.setState(StateConnecting)

		sess, err := m.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			attempt := m.Attempt()
			if attempt >= m.cfg.MaxAttempts {
				m.setState(StateDegraded)
				m.logger.Error("giving up after exhausting reconnect attempts",
					slog.Int("attempts", attempt),
				)
				return fmt.Errorf("conn: dial: %w", domain.ErrRetriesExhausted)
			}

			delay := Backoff(m.cfg.BaseDelay, attempt, m.cfg.MaxDelay)
			m.logger.Warn("dial failed, backing off",
				slog.String("error", err.Error()),
				slog.Int("attempt", attempt),
				slog.Duration("delay", delay),
			)
			m.setState(StateDisconnected)

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			continue
		}

		m.resetAttempt()
		m.setState(StateReady)
		m.logger.Info("ledger session established")

		if m.onReady != nil {
			// Bootstrap runs alongside the event pump so incremental events
			// are not stalled behind the full scan.
			go m.onReady(ctx)
		}

		err = m.pump(ctx, sess)
		sess.Close()
		if ctx.Err() != nil {
			m.setState(StateDisconnected)
			return ctx.Err()
		}
		m.logger.Warn("ledger session dropped, reconnecting",
			slog.String("error", errString(err)),
		)
		m.setState(StateDisconnected)
	}
}

// pump forwards session events and liveness signals until the transport
// drops or ctx is cancelled.
func (m *Manager) pump(ctx context.Context, sess domain.LedgerSession) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-sess.Events():
			if !ok {
				return domain.ErrClosed
			}
			if m.onEvent != nil {
				m.onEvent(ctx, ev)
			}
		case head, ok := <-sess.Liveness():
			if !ok {
				return domain.ErrClosed
			}
			m.markAlive()
			m.logger.Debug("liveness signal", slog.Uint64("head", head))
		case err := <-sess.Err():
			if err == nil {
				err = domain.ErrClosed
			}
			return err
		}
	}
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	changed := m.state != s
	m.state = s
	attempt := m.attempt
	m.mu.Unlock()

	if changed && m.onState != nil {
		m.onState(StateChange{State: s, Attempt: attempt})
	}
}

func (m *Manager) bumpAttempt() {
	m.mu.Lock()
	m.attempt++
	m.mu.Unlock()
}

func (m *Manager) resetAttempt() {
	m.mu.Lock()
	m.attempt = 0
	m.mu.Unlock()
}

func (m *Manager) markAlive() {
	m.mu.Lock()
	m.lastLiveness = time.Now()
	m.mu.Unlock()
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
