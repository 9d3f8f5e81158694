package handler

import (
	"net/http"
	"time"

	"github.com/alanyoungcy/orderwatch/internal/cache"
	"github.com/alanyoungcy/orderwatch/internal/conn"
	"github.com/alanyoungcy/orderwatch/internal/syncer"
)

// StatusHandler reports feed connectivity and synchronization progress.
type StatusHandler struct {
	mode      string
	manager   *conn.Manager
	coord     *syncer.Coordinator
	orders    *cache.Orders
	startedAt time.Time
}

// NewStatusHandler creates a StatusHandler.
func NewStatusHandler(mode string, manager *conn.Manager, coord *syncer.Coordinator, orders *cache.Orders) *StatusHandler {
	return &StatusHandler{
		mode:      mode,
		manager:   manager,
		coord:     coord,
		orders:    orders,
		startedAt: time.Now().UTC(),
	}
}

// GetStatus responds with the current feed state and cache size.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	var lastBlock string
	if alive := h.manager.LastLiveness(); !alive.IsZero() {
		lastBlock = alive.UTC().Format(time.RFC3339)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"mode":           h.mode,
		"feed_state":     h.manager.State().String(),
		"dial_attempt":   h.manager.Attempt(),
		"last_liveness":  lastBlock,
		"synced":         h.coord.Ready(),
		"cached_orders":  h.orders.Len(),
		"uptime_seconds": int64(time.Since(h.startedAt).Seconds()),
	})
}
