package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"

	"github.com/alanyoungcy/nftmarket/internal/domain"
	"github.com/alanyoungcy/nftmarket/internal/events"
)

var streamIDPattern = regexp.MustCompile(`^\d+(-\d+)?$`)

// EventsHandler replays the durable event stream for clients that missed
// websocket pushes.
type EventsHandler struct {
	bus    domain.SignalBus
	logger *slog.Logger
}

// NewEventsHandler creates an EventsHandler over bus.
func NewEventsHandler(bus domain.SignalBus, logger *slog.Logger) *EventsHandler {
	return &EventsHandler{bus: bus, logger: logHandler(logger, "events")}
}

type streamEventView struct {
	ID    string          `json:"id"`
	Event json.RawMessage `json:"event"`
}

// Replay returns up to count events after the stream id in "after" ("0" for
// the beginning). The response's next field is the cursor for the next page.
// GET /api/events?after=&count=
func (h *EventsHandler) Replay(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	after := q.Get("after")
	if after == "" {
		after = "0"
	}
	if !streamIDPattern.MatchString(after) {
		writeError(w, http.StatusBadRequest, "invalid after cursor")
		return
	}
	count := 100
	if v := q.Get("count"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid count")
			return
		}
		count = min(n, 1000)
	}

	msgs, err := h.bus.StreamRead(r.Context(), events.EventStream, after, count)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: replay failed",
			slog.String("after", after),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to read events")
		return
	}

	out := make([]streamEventView, 0, len(msgs))
	next := after
	for _, m := range msgs {
		if !json.Valid(m.Payload) {
			continue
		}
		out = append(out, streamEventView{ID: m.ID, Event: m.Payload})
		next = m.ID
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": out, "next": next})
}
