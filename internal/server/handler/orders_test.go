package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/orderwatch/internal/cache"
	"github.com/alanyoungcy/orderwatch/internal/dispatch"
	"github.com/alanyoungcy/orderwatch/internal/domain"
	"github.com/alanyoungcy/orderwatch/internal/syncer"
)

type stubLedger struct {
	orders map[uint64]domain.OrderRecord
}

func (s *stubLedger) NextOrderID(context.Context) (uint64, error) {
	return 0, nil
}

func (s *stubLedger) OrderByID(_ context.Context, id uint64) (domain.OrderRecord, error) {
	rec, ok := s.orders[id]
	if !ok {
		return domain.OrderRecord{}, domain.ErrNotFound
	}
	return rec, nil
}

func record(id uint64, status domain.OrderStatus) domain.OrderRecord {
	return domain.OrderRecord{
		ID:         id,
		Maker:      common.HexToAddress("0xabc0000000000000000000000000000000000001"),
		SellAmount: big.NewInt(100),
		BuyAmount:  big.NewInt(200),
		Fee:        big.NewInt(1),
		CreatedAt:  1700000000,
		Status:     status,
	}
}

func newTestHandler(t *testing.T, ledger *stubLedger) (*OrderHandler, *cache.Orders) {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)
	orders := cache.New(logger)
	bus := dispatch.New(logger)
	coord := syncer.New(ledger, orders, bus, 14*24*time.Hour, logger)
	return NewOrderHandler(coord, orders, logger), orders
}

func TestListOrdersFiltersByStatus(t *testing.T) {
	h, orders := newTestHandler(t, &stubLedger{})
	orders.Upsert(record(1, domain.OrderStatusActive))
	orders.Upsert(record(2, domain.OrderStatusActive))

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/orders", h.ListOrders)

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/orders?status=active", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var resp struct {
		Orders []domain.OrderRecord `json:"orders"`
		Count  int                  `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Equal(t, 2, resp.Count)

	rr = httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/orders?status=bogus", nil))
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestGetOrderByID(t *testing.T) {
	h, orders := newTestHandler(t, &stubLedger{})
	orders.Upsert(record(7, domain.OrderStatusActive))

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/orders/{id}", h.GetOrder)

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/orders/7", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var rec domain.OrderRecord
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &rec))
	require.Equal(t, uint64(7), rec.ID)

	rr = httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/orders/99", nil))
	require.Equal(t, http.StatusNotFound, rr.Code)

	rr = httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/orders/not-a-number", nil))
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestCleanupEligibilityGoesToLedger(t *testing.T) {
	old := record(3, domain.OrderStatusCanceled)
	old.CreatedAt = uint64(time.Now().Add(-30 * 24 * time.Hour).Unix())

	h, _ := newTestHandler(t, &stubLedger{orders: map[uint64]domain.OrderRecord{3: old}})

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/orders/{id}/cleanup-eligibility", h.CleanupEligibility)

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/orders/3/cleanup-eligibility", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var elig domain.CleanupEligibility
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &elig))
	require.True(t, elig.Eligible)

	rr = httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/orders/4/cleanup-eligibility", nil))
	require.Equal(t, http.StatusNotFound, rr.Code)
}
