package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/nftmarket/internal/domain"
)

// AssetService exposes registry reads and the logical clock.
type AssetService interface {
	ListOwned(ctx context.Context, owner common.Address) ([]domain.AssetID, error)
	GetCurrentTime() int64
}

// AssetHandler serves /api/assets and /api/time.
type AssetHandler struct {
	market AssetService
	logger *slog.Logger
}

// NewAssetHandler creates an AssetHandler.
func NewAssetHandler(market AssetService, logger *slog.Logger) *AssetHandler {
	return &AssetHandler{market: market, logger: logHandler(logger, "assets")}
}

// ListOwned lists the assets the registry reports for owner.
// GET /api/assets?owner=0x...
func (h *AssetHandler) ListOwned(w http.ResponseWriter, r *http.Request) {
	owner, err := domain.ParseAddress(r.URL.Query().Get("owner"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "owner query parameter: "+err.Error())
		return
	}
	ids, err := h.market.ListOwned(r.Context(), owner)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list owned failed",
			slog.String("owner", owner.Hex()),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadGateway, "registry unavailable")
		return
	}
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, id.String())
	}
	writeJSON(w, http.StatusOK, map[string]any{"owner": owner.Hex(), "assets": out})
}

// Time returns the marketplace clock in seconds.
// GET /api/time
func (h *AssetHandler) Time(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]int64{"now": h.market.GetCurrentTime()})
}
