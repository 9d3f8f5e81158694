package cache

import (
	"log/slog"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/orderwatch/internal/domain"
)

var (
	maker = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	taker = common.HexToAddress("0x00000000000000000000000000000000000000b2")
)

func record(id uint64, status domain.OrderStatus) domain.OrderRecord {
	return domain.OrderRecord{
		ID:         id,
		Maker:      maker,
		Taker:      taker,
		SellToken:  common.HexToAddress("0x01"),
		SellAmount: big.NewInt(1000),
		BuyToken:   common.HexToAddress("0x02"),
		BuyAmount:  big.NewInt(2000),
		CreatedAt:  1700000000,
		Fee:        big.NewInt(1),
		Status:     status,
	}
}

func newCache(t *testing.T) *Orders {
	t.Helper()
	return New(slog.New(slog.DiscardHandler))
}

func TestReplaceAllKeepsOnlyOpenOrders(t *testing.T) {
	c := newCache(t)

	zeroMaker := record(2, domain.OrderStatusActive)
	zeroMaker.Maker = common.Address{}

	c.ReplaceAll([]domain.OrderRecord{
		record(0, domain.OrderStatusActive),
		record(1, domain.OrderStatusFilled),
		zeroMaker,
	})

	got := c.Query(nil)
	require.Len(t, got, 1)
	assert.Equal(t, uint64(0), got[0].ID)
}

func TestReplaceAllIdempotent(t *testing.T) {
	c := newCache(t)
	in := []domain.OrderRecord{
		record(0, domain.OrderStatusActive),
		record(3, domain.OrderStatusActive),
	}

	c.ReplaceAll(in)
	first := c.Query(nil)
	c.ReplaceAll(in)
	second := c.Query(nil)

	assert.Equal(t, first, second)
}

func TestUpsertDoesNotRegressTerminalStatus(t *testing.T) {
	c := newCache(t)

	c.ReplaceAll([]domain.OrderRecord{record(5, domain.OrderStatusActive)})
	_, ok := c.ApplyStatus(5, domain.OrderStatusFilled)
	require.True(t, ok)

	// A late OrderCreated replay must not flip the order back to Active.
	stored, ok := c.Upsert(record(5, domain.OrderStatusActive))
	require.True(t, ok)
	assert.Equal(t, domain.OrderStatusFilled, stored.Status)

	rec, ok := c.Get(5)
	require.True(t, ok)
	assert.Equal(t, domain.OrderStatusFilled, rec.Status)
}

func TestUpsertDropsMalformedRecord(t *testing.T) {
	c := newCache(t)

	bad := record(7, domain.OrderStatusActive)
	bad.SellAmount = nil

	_, ok := c.Upsert(bad)
	assert.False(t, ok)
	assert.Zero(t, c.Len())
}

func TestApplyStatus(t *testing.T) {
	tests := []struct {
		name     string
		from     domain.OrderStatus
		to       domain.OrderStatus
		wantOK   bool
		wantName domain.OrderStatus
	}{
		{"active to filled", domain.OrderStatusActive, domain.OrderStatusFilled, true, domain.OrderStatusFilled},
		{"active to canceled", domain.OrderStatusActive, domain.OrderStatusCanceled, true, domain.OrderStatusCanceled},
		{"filled stays filled", domain.OrderStatusFilled, domain.OrderStatusFilled, true, domain.OrderStatusFilled},
		{"filled never reactivates", domain.OrderStatusFilled, domain.OrderStatusActive, false, domain.OrderStatusFilled},
		{"canceled never fills", domain.OrderStatusCanceled, domain.OrderStatusFilled, false, domain.OrderStatusCanceled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newCache(t)
			rec := record(1, tt.from)
			// Seed via Upsert so terminal states can be installed directly.
			_, ok := c.Upsert(rec)
			require.True(t, ok)

			_, ok = c.ApplyStatus(1, tt.to)
			assert.Equal(t, tt.wantOK, ok)

			got, found := c.Get(1)
			require.True(t, found)
			assert.Equal(t, tt.wantName, got.Status)
		})
	}
}

func TestApplyStatusAbsentID(t *testing.T) {
	c := newCache(t)

	_, ok := c.ApplyStatus(99, domain.OrderStatusFilled)
	assert.False(t, ok)
	assert.Zero(t, c.Len())
}

func TestRemoveManyToleratesAbsentIDs(t *testing.T) {
	c := newCache(t)
	c.ReplaceAll([]domain.OrderRecord{record(5, domain.OrderStatusActive)})

	removed := c.RemoveMany([]uint64{5, 6})
	assert.Equal(t, 1, removed)
	assert.Zero(t, c.Len())

	assert.False(t, c.Remove(5))
}

func TestQueryFilter(t *testing.T) {
	c := newCache(t)
	for id := uint64(0); id < 6; id++ {
		_, ok := c.Upsert(record(id, domain.OrderStatusActive))
		require.True(t, ok)
	}
	_, ok := c.ApplyStatus(1, domain.OrderStatusFilled)
	require.True(t, ok)
	_, ok = c.ApplyStatus(4, domain.OrderStatusCanceled)
	require.True(t, ok)

	active := domain.OrderStatusActive
	got := c.Query(&active)
	require.Len(t, got, 4)
	for _, rec := range got {
		assert.Equal(t, domain.OrderStatusActive, rec.Status)
	}

	all := c.Query(nil)
	assert.Len(t, all, 6)
	// Snapshot is sorted by id.
	for i := 1; i < len(all); i++ {
		assert.Less(t, all[i-1].ID, all[i].ID)
	}
}

func TestQuerySnapshotIsCopy(t *testing.T) {
	c := newCache(t)
	c.ReplaceAll([]domain.OrderRecord{record(0, domain.OrderStatusActive)})

	snap := c.Query(nil)
	c.Remove(0)

	require.Len(t, snap, 1)
	assert.Equal(t, uint64(0), snap[0].ID)
}

func TestConcurrentReadersAndWriters(t *testing.T) {
	c := newCache(t)

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(2)
		go func(base uint64) {
			defer wg.Done()
			for i := uint64(0); i < 100; i++ {
				c.Upsert(record(base*100+i, domain.OrderStatusActive))
			}
		}(uint64(w))
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				_ = c.Query(nil)
				_ = c.Snapshot()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 400, c.Len())
}
