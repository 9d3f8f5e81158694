// Package syncer sequences the bootstrap protocol and owns the per-event
// update rules that keep the local order cache consistent with the ledger.
package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alanyoungcy/orderwatch/internal/cache"
	"github.com/alanyoungcy/orderwatch/internal/dispatch"
	"github.com/alanyoungcy/orderwatch/internal/domain"
)

// DefaultExpiryWindow is how old an order must be before it becomes a
// cleanup candidate: 14 days in seconds.
const DefaultExpiryWindow = 14 * 24 * time.Hour

// Coordinator drives full resyncs on (re)connect and applies incremental
// ledger events to the cache, publishing a notification for each committed
// change.
type Coordinator struct {
	ledger domain.LedgerReader
	orders *cache.Orders
	bus    *dispatch.Dispatcher
	expiry time.Duration
	logger *slog.Logger

	// generation supersedes stale concurrent bootstraps: only the newest
	// generation commits its scan and publishes sync-complete.
	generation atomic.Uint64
	commitMu   sync.Mutex

	readyOnce sync.Once
	readyCh   chan struct{}

	now func() time.Time
}

// New creates a Coordinator. expiry <= 0 falls back to DefaultExpiryWindow.
func New(ledger domain.LedgerReader, orders *cache.Orders, bus *dispatch.Dispatcher, expiry time.Duration, logger *slog.Logger) *Coordinator {
	if expiry <= 0 {
		expiry = DefaultExpiryWindow
	}
	return &Coordinator{
		ledger:  ledger,
		orders:  orders,
		bus:     bus,
		expiry:  expiry,
		logger:  logger.With(slog.String("component", "syncer")),
		readyCh: make(chan struct{}),
		now:     time.Now,
	}
}

// Bootstrap runs the full resync protocol: query the allocation bound, fetch
// every order in [0, bound), replace the cache wholesale, and publish
// sync-complete with the resulting snapshot. Per-id fetch failures are
// logged and skipped. A bootstrap started later supersedes this one; the
// superseded run returns domain.ErrSuperseded without committing.
func (c *Coordinator) Bootstrap(ctx context.Context) error {
	gen := c.generation.Add(1)
	started := c.now()

	bound, err := c.ledger.NextOrderID(ctx)
	if err != nil {
		// An unreadable bound is a valid empty result, not a fatal error.
		c.logger.Warn("allocation bound query failed, assuming empty ledger",
			slog.String("error", err.Error()),
		)
		bound = 0
	}

	records := make([]domain.OrderRecord, 0, bound)
	skipped := 0
	for id := uint64(0); id < bound; id++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if c.generation.Load() != gen {
			c.logger.Info("bootstrap superseded mid-scan", slog.Uint64("generation", gen))
			return domain.ErrSuperseded
		}

		rec, err := c.ledger.OrderByID(ctx, id)
		if err != nil {
			// The ledger is append-only and sparse misses are tolerated.
			skipped++
			c.logger.Warn("order fetch failed, skipping",
				slog.Uint64("id", id),
				slog.String("error", err.Error()),
			)
			continue
		}
		records = append(records, rec)
	}

	c.commitMu.Lock()
	if c.generation.Load() != gen {
		c.commitMu.Unlock()
		c.logger.Info("bootstrap superseded at commit", slog.Uint64("generation", gen))
		return domain.ErrSuperseded
	}
	c.orders.ReplaceAll(records)
	snapshot := c.orders.Snapshot()
	c.commitMu.Unlock()

	c.readyOnce.Do(func() { close(c.readyCh) })

	// An empty snapshot means "no orders", not "not yet synced"; consumers
	// get notified either way.
	c.bus.Publish(domain.TopicSyncComplete, snapshot)

	c.logger.Info("bootstrap complete",
		slog.Uint64("bound", bound),
		slog.Int("cached", len(snapshot)),
		slog.Int("skipped", skipped),
		slog.Duration("took", c.now().Sub(started)),
	)
	return nil
}

// HandleEvent applies one decoded ledger event to the cache and publishes
// the corresponding notification. Events referencing ids the cache no longer
// holds are benign no-ops.
func (c *Coordinator) HandleEvent(ctx context.Context, ev domain.LedgerEvent) {
	switch e := ev.(type) {
	case domain.OrderCreatedEvent:
		rec := e.Order
		rec.Status = domain.OrderStatusActive
		stored, ok := c.orders.Upsert(rec)
		if !ok {
			return
		}
		c.bus.Publish(domain.TopicOrderCreated, stored)

	case domain.OrderFilledEvent:
		rec, ok := c.orders.ApplyStatus(e.ID, domain.OrderStatusFilled)
		if !ok {
			c.logger.Debug("fill for unknown order", slog.Uint64("id", e.ID))
			return
		}
		c.bus.Publish(domain.TopicOrderFilled, rec)

	case domain.OrderCanceledEvent:
		rec, ok := c.orders.ApplyStatus(e.ID, domain.OrderStatusCanceled)
		if !ok {
			c.logger.Debug("cancel for unknown order", slog.Uint64("id", e.ID))
			return
		}
		c.bus.Publish(domain.TopicOrderCanceled, rec)

	case domain.OrdersCleanedEvent:
		removed := c.orders.RemoveMany(e.IDs)
		c.logger.Info("cleanup confirmed",
			slog.Int("requested", len(e.IDs)),
			slog.Int("removed", removed),
		)
		c.bus.Publish(domain.TopicOrdersUpdated, c.orders.Query(nil))

	default:
		c.logger.Warn("unhandled ledger event", slog.String("kind", ev.Kind()))
	}
}

// CheckCleanupEligibility fetches the order's current ledger record and
// compares its age against the expiry window.
func (c *Coordinator) CheckCleanupEligibility(ctx context.Context, id uint64) (domain.CleanupEligibility, error) {
	rec, err := c.ledger.OrderByID(ctx, id)
	if err != nil {
		return domain.CleanupEligibility{}, fmt.Errorf("syncer: fetch order %d: %w", id, err)
	}

	age := uint64(0)
	if nowSecs := uint64(c.now().Unix()); nowSecs > rec.CreatedAt {
		age = nowSecs - rec.CreatedAt
	}

	return domain.CleanupEligibility{
		Eligible: age >= uint64(c.expiry.Seconds()),
		Record:   rec,
		AgeSecs:  age,
	}, nil
}

// Query returns a snapshot of cached orders, optionally filtered by status.
func (c *Coordinator) Query(filter *domain.OrderStatus) []domain.OrderRecord {
	return c.orders.Query(filter)
}

// Ready reports whether the first full bootstrap has completed.
func (c *Coordinator) Ready() bool {
	select {
	case <-c.readyCh:
		return true
	default:
		return false
	}
}

// WaitReady blocks until the first bootstrap completes or ctx is cancelled.
// Any number of waiters may block on it; the completion fires exactly once.
func (c *Coordinator) WaitReady(ctx context.Context) error {
	select {
	case <-c.readyCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
