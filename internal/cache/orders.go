// Package cache holds the in-process order state: the authoritative local
// mapping from order id to record. Content is a lower bound on ledger truth;
// entries may be stale but a locally-known terminal status is never rolled
// back except by a full resync, which replaces the whole set.
package cache

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/alanyoungcy/orderwatch/internal/domain"
)

// Orders is the shared-mutable order cache. All mutation paths (full resync,
// incremental events, cleanup confirmations) serialize on the internal lock
// so a ReplaceAll never interleaves with an Upsert or Remove.
type Orders struct {
	mu     sync.RWMutex
	byID   map[uint64]domain.OrderRecord
	logger *slog.Logger
}

// New creates an empty order cache.
func New(logger *slog.Logger) *Orders {
	return &Orders{
		byID:   make(map[uint64]domain.OrderRecord),
		logger: logger.With(slog.String("component", "order_cache")),
	}
}

// ReplaceAll clears the cache and rebuilds it from records. Only open orders
// survive: records with a zero maker or a non-Active status are excluded,
// because the working set is orders a consumer might still act on, not full
// history. Used exclusively by full resync, which is authoritative.
func (o *Orders) ReplaceAll(records []domain.OrderRecord) {
	next := make(map[uint64]domain.OrderRecord, len(records))
	dropped := 0
	for _, rec := range records {
		if !rec.Valid() {
			dropped++
			continue
		}
		if !rec.Open() {
			continue
		}
		next[rec.ID] = rec
	}

	o.mu.Lock()
	o.byID = next
	o.mu.Unlock()

	if dropped > 0 {
		o.logger.Warn("dropped malformed records during resync", slog.Int("count", dropped))
	}
	o.logger.Info("cache rebuilt", slog.Int("orders", len(next)))
}

// Upsert inserts or overwrites the record for its id and returns the stored
// record. Malformed records are logged and dropped. A record already in a
// terminal status keeps it: incremental updates never regress a Filled or
// Canceled order back to Active.
func (o *Orders) Upsert(rec domain.OrderRecord) (domain.OrderRecord, bool) {
	if !rec.Valid() {
		o.logger.Warn("dropping malformed record", slog.Uint64("id", rec.ID))
		return domain.OrderRecord{}, false
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if prev, ok := o.byID[rec.ID]; ok && prev.Status.Terminal() && !rec.Status.Terminal() {
		rec.Status = prev.Status
	}
	o.byID[rec.ID] = rec
	return rec, true
}

// ApplyStatus transitions the order's status and returns the updated record.
// Absent ids are a benign no-op: events may reference an order already
// cleaned up locally. Terminal states are sticky; only Active orders
// transition.
func (o *Orders) ApplyStatus(id uint64, status domain.OrderStatus) (domain.OrderRecord, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	rec, ok := o.byID[id]
	if !ok {
		return domain.OrderRecord{}, false
	}
	if rec.Status.Terminal() {
		if rec.Status == status {
			return rec, true
		}
		return domain.OrderRecord{}, false
	}
	rec.Status = status
	o.byID[id] = rec
	return rec, true
}

// Remove deletes the entry for id, reporting whether it was present.
func (o *Orders) Remove(id uint64) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	_, ok := o.byID[id]
	delete(o.byID, id)
	return ok
}

// RemoveMany deletes every listed id and returns how many were present.
// Absent ids are ignored.
func (o *Orders) RemoveMany(ids []uint64) int {
	o.mu.Lock()
	defer o.mu.Unlock()

	removed := 0
	for _, id := range ids {
		if _, ok := o.byID[id]; ok {
			delete(o.byID, id)
			removed++
		}
	}
	return removed
}

// Get returns the record for id.
func (o *Orders) Get(id uint64) (domain.OrderRecord, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	rec, ok := o.byID[id]
	return rec, ok
}

// Query returns a snapshot of the cache content sorted by id, optionally
// filtered by status. The returned slice is a copy and stays valid while the
// cache keeps mutating.
func (o *Orders) Query(filter *domain.OrderStatus) []domain.OrderRecord {
	o.mu.RLock()
	out := make([]domain.OrderRecord, 0, len(o.byID))
	for _, rec := range o.byID {
		if filter != nil && rec.Status != *filter {
			continue
		}
		out = append(out, rec)
	}
	o.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Snapshot returns a copy of the full id-to-record mapping, used as the
// sync-complete payload.
func (o *Orders) Snapshot() map[uint64]domain.OrderRecord {
	o.mu.RLock()
	defer o.mu.RUnlock()

	out := make(map[uint64]domain.OrderRecord, len(o.byID))
	for id, rec := range o.byID {
		out[id] = rec
	}
	return out
}

// Len returns the number of cached orders.
func (o *Orders) Len() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.byID)
}
