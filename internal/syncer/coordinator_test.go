package syncer

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/orderwatch/internal/cache"
	"github.com/alanyoungcy/orderwatch/internal/dispatch"
	"github.com/alanyoungcy/orderwatch/internal/domain"
)

var maker = common.HexToAddress("0x00000000000000000000000000000000000000a1")

// fakeLedger is an in-memory LedgerReader with scriptable per-id failures.
type fakeLedger struct {
	mu       sync.Mutex
	bound    uint64
	boundErr error
	orders   map[uint64]domain.OrderRecord
	failIDs  map[uint64]error
	slow     chan struct{} // when set, OrderByID blocks until it is closed
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		orders:  make(map[uint64]domain.OrderRecord),
		failIDs: make(map[uint64]error),
	}
}

func (f *fakeLedger) NextOrderID(ctx context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.bound, f.boundErr
}

func (f *fakeLedger) OrderByID(ctx context.Context, id uint64) (domain.OrderRecord, error) {
	f.mu.Lock()
	slow := f.slow
	f.mu.Unlock()
	if slow != nil {
		<-slow
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.failIDs[id]; ok {
		return domain.OrderRecord{}, err
	}
	rec, ok := f.orders[id]
	if !ok {
		return domain.OrderRecord{}, domain.ErrNotFound
	}
	return rec, nil
}

func (f *fakeLedger) put(rec domain.OrderRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orders[rec.ID] = rec
	if rec.ID >= f.bound {
		f.bound = rec.ID + 1
	}
}

func record(id uint64, status domain.OrderStatus) domain.OrderRecord {
	return domain.OrderRecord{
		ID:         id,
		Maker:      maker,
		SellToken:  common.HexToAddress("0x01"),
		SellAmount: big.NewInt(100),
		BuyToken:   common.HexToAddress("0x02"),
		BuyAmount:  big.NewInt(200),
		CreatedAt:  1700000000,
		Fee:        big.NewInt(1),
		Status:     status,
	}
}

type fixture struct {
	ledger *fakeLedger
	orders *cache.Orders
	bus    *dispatch.Dispatcher
	coord  *Coordinator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)
	ledger := newFakeLedger()
	orders := cache.New(logger)
	bus := dispatch.New(logger)
	return &fixture{
		ledger: ledger,
		orders: orders,
		bus:    bus,
		coord:  New(ledger, orders, bus, 0, logger),
	}
}

// collect subscribes to a topic and appends every payload to a slice.
func collect(bus *dispatch.Dispatcher, topic string) *[]any {
	var got []any
	bus.Subscribe(topic, "test-"+topic, func(p any) { got = append(got, p) })
	return &got
}

func TestBootstrapSkipsFailuresAndZeroMakers(t *testing.T) {
	fx := newFixture(t)
	fx.ledger.put(record(0, domain.OrderStatusActive))
	fx.ledger.put(record(1, domain.OrderStatusActive))
	fx.ledger.failIDs[1] = errors.New("rpc timeout")

	zeroMaker := record(2, domain.OrderStatusActive)
	zeroMaker.Maker = common.Address{}
	fx.ledger.put(zeroMaker)

	snaps := collect(fx.bus, domain.TopicSyncComplete)

	require.NoError(t, fx.coord.Bootstrap(context.Background()))

	require.Len(t, *snaps, 1)
	snap, ok := (*snaps)[0].(map[uint64]domain.OrderRecord)
	require.True(t, ok)
	require.Len(t, snap, 1)
	assert.Contains(t, snap, uint64(0))

	assert.True(t, fx.coord.Ready())
}

func TestBootstrapBoundFailureMeansEmpty(t *testing.T) {
	fx := newFixture(t)
	fx.ledger.boundErr = errors.New("rpc down")

	snaps := collect(fx.bus, domain.TopicSyncComplete)

	require.NoError(t, fx.coord.Bootstrap(context.Background()))

	// Consumers must treat the empty snapshot as "no orders", so it is still
	// published.
	require.Len(t, *snaps, 1)
	snap := (*snaps)[0].(map[uint64]domain.OrderRecord)
	assert.Empty(t, snap)
	assert.True(t, fx.coord.Ready())
}

func TestBootstrapSupersededByNewerGeneration(t *testing.T) {
	fx := newFixture(t)
	fx.ledger.put(record(0, domain.OrderStatusActive))

	gate := make(chan struct{})
	fx.ledger.mu.Lock()
	fx.ledger.slow = gate
	fx.ledger.mu.Unlock()

	stale := make(chan error, 1)
	go func() { stale <- fx.coord.Bootstrap(context.Background()) }()

	// Wait until the stale bootstrap is inside its scan, then start a newer
	// one and release both.
	time.Sleep(10 * time.Millisecond)
	fx.ledger.mu.Lock()
	fx.ledger.slow = nil
	fx.ledger.mu.Unlock()

	snaps := collect(fx.bus, domain.TopicSyncComplete)
	require.NoError(t, fx.coord.Bootstrap(context.Background()))
	close(gate)

	require.ErrorIs(t, <-stale, domain.ErrSuperseded)
	assert.Len(t, *snaps, 1, "only the newest generation publishes sync-complete")
}

func TestCreatedThenFilled(t *testing.T) {
	fx := newFixture(t)
	created := collect(fx.bus, domain.TopicOrderCreated)
	filled := collect(fx.bus, domain.TopicOrderFilled)

	ctx := context.Background()
	fx.coord.HandleEvent(ctx, domain.OrderCreatedEvent{Order: record(5, domain.OrderStatusActive)})
	fx.coord.HandleEvent(ctx, domain.OrderFilledEvent{ID: 5})

	got := fx.coord.Query(nil)
	require.Len(t, got, 1)
	assert.Equal(t, uint64(5), got[0].ID)
	assert.Equal(t, domain.OrderStatusFilled, got[0].Status)

	require.Len(t, *created, 1)
	require.Len(t, *filled, 1)
	rec := (*filled)[0].(domain.OrderRecord)
	assert.Equal(t, domain.OrderStatusFilled, rec.Status)
}

func TestFillForUnknownOrderIsSilent(t *testing.T) {
	fx := newFixture(t)
	filled := collect(fx.bus, domain.TopicOrderFilled)

	fx.coord.HandleEvent(context.Background(), domain.OrderFilledEvent{ID: 404})

	assert.Empty(t, *filled, "no notification for an order the cache never held")
	assert.Empty(t, fx.coord.Query(nil))
}

func TestCancelEvent(t *testing.T) {
	fx := newFixture(t)
	canceled := collect(fx.bus, domain.TopicOrderCanceled)

	ctx := context.Background()
	fx.coord.HandleEvent(ctx, domain.OrderCreatedEvent{Order: record(3, domain.OrderStatusActive)})
	fx.coord.HandleEvent(ctx, domain.OrderCanceledEvent{ID: 3})

	require.Len(t, *canceled, 1)
	rec := (*canceled)[0].(domain.OrderRecord)
	assert.Equal(t, domain.OrderStatusCanceled, rec.Status)
}

func TestCleanupConfirmation(t *testing.T) {
	fx := newFixture(t)
	updated := collect(fx.bus, domain.TopicOrdersUpdated)

	ctx := context.Background()
	fx.coord.HandleEvent(ctx, domain.OrderCreatedEvent{Order: record(5, domain.OrderStatusActive)})
	fx.coord.HandleEvent(ctx, domain.OrderCreatedEvent{Order: record(8, domain.OrderStatusActive)})

	// Only id 5 exists locally; id 6 must not cause an error.
	fx.coord.HandleEvent(ctx, domain.OrdersCleanedEvent{IDs: []uint64{5, 6}})

	require.Len(t, *updated, 1)
	remaining := (*updated)[0].([]domain.OrderRecord)
	require.Len(t, remaining, 1)
	assert.Equal(t, uint64(8), remaining[0].ID)
}

func TestCheckCleanupEligibility(t *testing.T) {
	fx := newFixture(t)

	now := time.Unix(1700000000, 0).Add(15 * 24 * time.Hour)
	fx.coord.now = func() time.Time { return now }

	old := record(1, domain.OrderStatusActive) // CreatedAt = 1700000000
	fx.ledger.put(old)

	fresh := record(2, domain.OrderStatusActive)
	fresh.CreatedAt = uint64(now.Add(-time.Hour).Unix())
	fx.ledger.put(fresh)

	ctx := context.Background()

	res, err := fx.coord.CheckCleanupEligibility(ctx, 1)
	require.NoError(t, err)
	assert.True(t, res.Eligible)
	assert.Equal(t, old.ID, res.Record.ID)

	res, err = fx.coord.CheckCleanupEligibility(ctx, 2)
	require.NoError(t, err)
	assert.False(t, res.Eligible)

	_, err = fx.coord.CheckCleanupEligibility(ctx, 99)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestWaitReady(t *testing.T) {
	fx := newFixture(t)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, fx.coord.WaitReady(ctx), context.DeadlineExceeded)
	assert.False(t, fx.coord.Ready())

	require.NoError(t, fx.coord.Bootstrap(context.Background()))

	// Multiple waiters all observe the one-shot completion.
	for i := 0; i < 3; i++ {
		require.NoError(t, fx.coord.WaitReady(context.Background()))
	}
	assert.True(t, fx.coord.Ready())
}
