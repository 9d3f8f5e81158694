package handler

import (
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/orderwatch/internal/store/postgres"
)

// EventsHandler serves the persisted event journal. The handler is only
// registered when the PostgreSQL journal is enabled.
type EventsHandler struct {
	journal *postgres.EventJournal
	logger  *slog.Logger
}

// NewEventsHandler creates an EventsHandler backed by the given journal.
func NewEventsHandler(journal *postgres.EventJournal, logger *slog.Logger) *EventsHandler {
	return &EventsHandler{
		journal: journal,
		logger:  logHandler(logger, "events"),
	}
}

// ListEvents returns the most recent journal entries.
// GET /api/events?limit=50
func (h *EventsHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	entries, err := h.journal.Recent(r.Context(), parseLimit(r, 50))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "journal query failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "journal query failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"events": entries,
		"count":  len(entries),
	})
}

// OrderEvents returns the most recent journal entries for one order.
// GET /api/orders/{id}/events?limit=50
func (h *EventsHandler) OrderEvents(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid order id")
		return
	}

	entries, err := h.journal.RecentByOrder(r.Context(), id, parseLimit(r, 50))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "journal query failed",
			slog.Uint64("order_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "journal query failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"events": entries,
		"count":  len(entries),
	})
}
