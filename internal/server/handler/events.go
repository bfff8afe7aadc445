package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/veilmarket/veilmarket/internal/domain"
)

// EventsHandler serves the durable event stream for consumers that missed
// live WebSocket delivery.
type EventsHandler struct {
	bus    domain.SignalBus
	logger *slog.Logger
}

// NewEventsHandler creates an EventsHandler over the signal bus.
func NewEventsHandler(bus domain.SignalBus, logger *slog.Logger) *EventsHandler {
	return &EventsHandler{
		bus:    bus,
		logger: logger,
	}
}

// streamEntry pairs a stream cursor with its decoded event. Consumers pass
// the last id they saw back as ?after= to resume.
type streamEntry struct {
	ID    string       `json:"id"`
	Event domain.Event `json:"event"`
}

type listEventsResponse struct {
	Entries []streamEntry `json:"entries"`
}

// ListEvents replays lifecycle events from the durable stream.
// GET /api/events?after=0&limit=100
func (h *EventsHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	after := r.URL.Query().Get("after")
	if after == "" {
		after = "0"
	}

	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 1000 {
			writeError(w, http.StatusBadRequest, "limit must be an integer between 1 and 1000")
			return
		}
		limit = n
	}

	msgs, err := h.bus.StreamRead(r.Context(), domain.EventStream, after, limit)
	if err != nil {
		writeDomainError(w, r, h.logger, err, "failed to read event stream")
		return
	}

	entries := make([]streamEntry, 0, len(msgs))
	for _, msg := range msgs {
		var ev domain.Event
		if err := json.Unmarshal(msg.Payload, &ev); err != nil {
			h.logger.WarnContext(r.Context(), "skipping malformed stream entry",
				slog.String("stream_id", msg.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		entries = append(entries, streamEntry{ID: msg.ID, Event: ev})
	}

	writeJSON(w, http.StatusOK, listEventsResponse{Entries: entries})
}
