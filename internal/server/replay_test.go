package server

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"

	"github.com/alanyoungcy/nftmarket/internal/domain"
	"github.com/alanyoungcy/nftmarket/internal/server/handler"
)

type streamBus struct {
	msgs     []domain.StreamMessage
	gotAfter string
	gotCount int
}

func (b *streamBus) Publish(context.Context, string, []byte) error { return nil }
func (b *streamBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return make(chan []byte), nil
}
func (b *streamBus) StreamAppend(context.Context, string, []byte) error { return nil }

func (b *streamBus) StreamRead(_ context.Context, _ string, after string, count int) ([]domain.StreamMessage, error) {
	b.gotAfter, b.gotCount = after, count
	return b.msgs, nil
}

type staticArchive struct {
	months  []string
	entries map[string][]domain.AuditEntry
}

func (a *staticArchive) Months(context.Context) ([]string, error) { return a.months, nil }

func (a *staticArchive) Load(_ context.Context, month string) ([]domain.AuditEntry, error) {
	if _, err := time.Parse("2006-01", month); err != nil {
		return nil, domain.ErrValidation
	}
	e, ok := a.entries[month]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return e, nil
}

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestEventsReplay(t *testing.T) {
	bus := &streamBus{msgs: []domain.StreamMessage{
		{ID: "1-0", Payload: []byte(`{"type":"nft_listed"}`)},
		{ID: "2-0", Payload: []byte(`not json`)},
		{ID: "3-0", Payload: []byte(`{"type":"nft_sold"}`)},
	}}
	api := newTestAPI(t, defaultConfig(), func(h *Handlers) {
		h.Events = handler.NewEventsHandler(bus, quiet())
	})

	status, body := api.do(t, http.MethodGet, "/api/events?after=0-0&count=5000", domain.NoAddress, nil)
	assert.Equal(t, http.StatusOK, status)
	check.Equal(t, "0-0", bus.gotAfter)
	check.Equal(t, 1000, bus.gotCount)
	check.Equal(t, "3-0", body["next"])
	evts, _ := body["events"].([]any)
	assert.Equal(t, 2, len(evts))
	first, _ := evts[0].(map[string]any)
	check.Equal(t, "nft_listed", nested(first, "event", "type"))

	status, _ = api.do(t, http.MethodGet, "/api/events?after=$", domain.NoAddress, nil)
	check.Equal(t, http.StatusBadRequest, status)
}

func TestEventsRouteAbsentWithoutBus(t *testing.T) {
	api := newTestAPI(t, defaultConfig())
	status, _ := api.do(t, http.MethodGet, "/api/events", domain.NoAddress, nil)
	check.Equal(t, http.StatusNotFound, status)
}

func TestArchiveRoutes(t *testing.T) {
	arch := &staticArchive{
		months: []string{"2025-01"},
		entries: map[string][]domain.AuditEntry{
			"2025-01": {{ID: 4, Event: "market.nft_sold", CreatedAt: time.Date(2025, 1, 3, 0, 0, 0, 0, time.UTC)}},
		},
	}
	api := newTestAPI(t, defaultConfig(), func(h *Handlers) {
		h.Archive = handler.NewArchiveHandler(arch, quiet())
	})

	get := func(path string, admin bool) (int, string) {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.Header.Set("X-API-Key", apiKey)
		if admin {
			req.Header.Set("X-Admin-Key", adminKey)
		}
		rec := httptest.NewRecorder()
		api.h.ServeHTTP(rec, req)
		return rec.Code, rec.Body.String()
	}

	code, _ := get("/api/archive", false)
	check.Equal(t, http.StatusForbidden, code)

	code, body := get("/api/archive", true)
	check.Equal(t, http.StatusOK, code)
	check.Equal(t, `{"months":["2025-01"]}`, body)

	code, _ = get("/api/archive/2025-01", true)
	check.Equal(t, http.StatusOK, code)
	code, _ = get("/api/archive/2019-07", true)
	check.Equal(t, http.StatusNotFound, code)
	code, _ = get("/api/archive/junk", true)
	check.Equal(t, http.StatusBadRequest, code)
}
