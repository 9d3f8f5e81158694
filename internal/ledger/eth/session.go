package eth

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/alanyoungcy/orderwatch/internal/domain"
)

// session pumps raw contract logs and chain heads into decoded domain
// channels until the transport drops. It implements domain.LedgerSession.
type session struct {
	client *Client
	logger *slog.Logger

	logs    chan types.Log
	logSub  ethereum.Subscription
	heads   chan *types.Header
	headSub ethereum.Subscription

	events   chan domain.LedgerEvent
	liveness chan uint64
	errs     chan error

	closeOnce sync.Once
	done      chan struct{}
}

func newSession(c *Client, logs chan types.Log, logSub ethereum.Subscription, heads chan *types.Header, headSub ethereum.Subscription) *session {
	return &session{
		client:   c,
		logger:   c.logger,
		logs:     logs,
		logSub:   logSub,
		heads:    heads,
		headSub:  headSub,
		events:   make(chan domain.LedgerEvent, 256),
		liveness: make(chan uint64, 8),
		errs:     make(chan error, 1),
		done:     make(chan struct{}),
	}
}

func (s *session) Events() <-chan domain.LedgerEvent { return s.events }
func (s *session) Liveness() <-chan uint64           { return s.liveness }
func (s *session) Err() <-chan error                 { return s.errs }

// Close unsubscribes both feeds and stops the pump. Safe to call more than
// once.
func (s *session) Close() {
	s.closeOnce.Do(func() {
		s.logSub.Unsubscribe()
		s.headSub.Unsubscribe()
		close(s.done)
	})
}

// run decodes logs as they arrive and forwards head numbers as liveness
// evidence. The first subscription error ends the session.
func (s *session) run() {
	defer close(s.events)
	defer close(s.liveness)

	for {
		select {
		case <-s.done:
			return

		case lg := <-s.logs:
			if lg.Removed {
				// Reorged-out log; the next full resync reconciles any
				// divergence, so it is dropped rather than un-applied.
				s.logger.Debug("dropping removed log",
					slog.Uint64("block", lg.BlockNumber),
					slog.Uint64("index", uint64(lg.Index)),
				)
				continue
			}
			ev, err := s.client.decodeLog(lg)
			if err != nil {
				if errors.Is(err, domain.ErrUnknownEvent) {
					continue
				}
				s.logger.Warn("undecodable contract log",
					slog.Uint64("block", lg.BlockNumber),
					slog.String("error", err.Error()),
				)
				continue
			}
			select {
			case s.events <- ev:
			case <-s.done:
				return
			}

		case head := <-s.heads:
			if head == nil {
				continue
			}
			// Liveness is informational; drop the signal rather than block
			// the pump when nobody is reading.
			select {
			case s.liveness <- head.Number.Uint64():
			default:
			}

		case err := <-s.logSub.Err():
			s.fail(err)
			return
		case err := <-s.headSub.Err():
			s.fail(err)
			return
		}
	}
}

func (s *session) fail(err error) {
	if err == nil {
		err = domain.ErrClosed
	}
	select {
	case s.errs <- err:
	default:
	}
}
