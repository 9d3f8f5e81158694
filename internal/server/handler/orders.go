package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/orderwatch/internal/cache"
	"github.com/alanyoungcy/orderwatch/internal/domain"
	"github.com/alanyoungcy/orderwatch/internal/syncer"
)

// OrderHandler serves read access to the synchronized order cache.
type OrderHandler struct {
	coord  *syncer.Coordinator
	orders *cache.Orders
	logger *slog.Logger
}

// NewOrderHandler creates an OrderHandler backed by the given coordinator
// and cache.
func NewOrderHandler(coord *syncer.Coordinator, orders *cache.Orders, logger *slog.Logger) *OrderHandler {
	return &OrderHandler{
		coord:  coord,
		orders: orders,
		logger: logHandler(logger, "orders"),
	}
}

// ListOrders returns cached orders, optionally filtered by status.
// GET /api/orders?status=active
func (h *OrderHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	var filter *domain.OrderStatus
	if v := r.URL.Query().Get("status"); v != "" {
		status, ok := domain.ParseOrderStatus(v)
		if !ok {
			writeError(w, http.StatusBadRequest, "unknown status "+v)
			return
		}
		filter = &status
	}

	orders := h.coord.Query(filter)
	writeJSON(w, http.StatusOK, map[string]any{
		"orders": orders,
		"count":  len(orders),
		"synced": h.coord.Ready(),
	})
}

// GetOrder returns one cached order by id.
// GET /api/orders/{id}
func (h *OrderHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid order id")
		return
	}

	rec, ok := h.orders.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "order not found")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// CleanupEligibility reports whether an order could be pruned on chain.
// The check goes to the ledger, not the cache, so it also answers for
// orders the cache no longer tracks.
// GET /api/orders/{id}/cleanup-eligibility
func (h *OrderHandler) CleanupEligibility(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid order id")
		return
	}

	elig, err := h.coord.CheckCleanupEligibility(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "order not found on ledger")
			return
		}
		h.logger.ErrorContext(r.Context(), "cleanup eligibility check failed",
			slog.Uint64("order_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadGateway, "ledger query failed")
		return
	}

	writeJSON(w, http.StatusOK, elig)
}
