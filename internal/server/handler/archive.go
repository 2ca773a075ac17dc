package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/nftmarket/internal/domain"
)

// ArchiveService reads back archived audit history.
type ArchiveService interface {
	Months(ctx context.Context) ([]string, error)
	Load(ctx context.Context, month string) ([]domain.AuditEntry, error)
}

// ArchiveHandler serves /api/archive. Mounted behind the admin key.
type ArchiveHandler struct {
	archive ArchiveService
	logger  *slog.Logger
}

// NewArchiveHandler creates an ArchiveHandler.
func NewArchiveHandler(archive ArchiveService, logger *slog.Logger) *ArchiveHandler {
	return &ArchiveHandler{archive: archive, logger: logHandler(logger, "archive")}
}

type auditEntryView struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Months lists archived months.
// GET /api/archive
func (h *ArchiveHandler) Months(w http.ResponseWriter, r *http.Request) {
	months, err := h.archive.Months(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list archives failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list archives")
		return
	}
	if months == nil {
		months = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"months": months})
}

// Month returns the archived entries of one month.
// GET /api/archive/{month}
func (h *ArchiveHandler) Month(w http.ResponseWriter, r *http.Request) {
	month := r.PathValue("month")
	entries, err := h.archive.Load(r.Context(), month)
	switch {
	case errors.Is(err, domain.ErrValidation):
		writeError(w, http.StatusBadRequest, "month must be YYYY-MM")
		return
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "month "+month+" is not archived")
		return
	case err != nil:
		h.logger.ErrorContext(r.Context(), "handler: load archive failed",
			slog.String("month", month),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to load archive")
		return
	}

	out := make([]auditEntryView, 0, len(entries))
	for _, e := range entries {
		out = append(out, auditEntryView{ID: e.ID, Event: e.Event, Detail: e.Detail, CreatedAt: e.CreatedAt})
	}
	writeJSON(w, http.StatusOK, map[string]any{"month": month, "entries": out})
}
