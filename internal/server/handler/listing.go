package handler

import (
	"context"
	"log/slog"
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/nftmarket/internal/domain"
)

// ListingService is the fixed-price side of the marketplace.
type ListingService interface {
	SellNFT(ctx context.Context, id domain.AssetID, price *big.Int, caller common.Address) (domain.Listing, error)
	BuyNFT(ctx context.Context, id domain.AssetID, payment *big.Int, buyer common.Address) (domain.Listing, error)
	GetListing(id domain.AssetID) (domain.Listing, bool)
	Listings() []domain.Listing
}

// ListingHandler serves /api/listings.
type ListingHandler struct {
	market ListingService
	logger *slog.Logger
}

// NewListingHandler creates a ListingHandler.
func NewListingHandler(market ListingService, logger *slog.Logger) *ListingHandler {
	return &ListingHandler{market: market, logger: logHandler(logger, "listings")}
}

type sellRequest struct {
	AssetID string `json:"asset_id"`
	Price   string `json:"price"`
}

// Sell lists an asset.
// POST /api/listings
func (h *ListingHandler) Sell(w http.ResponseWriter, r *http.Request) {
	caller, err := callerFrom(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req sellRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	id, err := domain.ParseAssetID(req.AssetID)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	price, err := parseAmountField("price", req.Price)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	l, err := h.market.SellNFT(r.Context(), id, price, caller)
	if err != nil {
		writeMarketError(w, r, h.logger, "sell", err)
		return
	}
	writeJSON(w, http.StatusCreated, newListingView(l))
}

// List pages through active listings.
// GET /api/listings?limit=&offset=
func (h *ListingHandler) List(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)
	all := h.market.Listings()
	out := make([]listingView, 0, opts.Limit)
	for i := opts.Offset; i < len(all) && len(out) < opts.Limit; i++ {
		out = append(out, newListingView(all[i]))
	}
	writeJSON(w, http.StatusOK, map[string]any{"listings": out, "total": len(all)})
}

// Get returns an active listing.
// GET /api/listings/{asset_id}
func (h *ListingHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := assetIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	l, ok := h.market.GetListing(id)
	if !ok {
		writeError(w, http.StatusNotFound, "listing not found")
		return
	}
	writeJSON(w, http.StatusOK, newListingView(l))
}

type buyRequest struct {
	Payment string `json:"payment"`
}

// Buy purchases a listed asset; payment must equal the price.
// POST /api/listings/{asset_id}/buy
func (h *ListingHandler) Buy(w http.ResponseWriter, r *http.Request) {
	caller, err := callerFrom(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	id, err := assetIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req buyRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	payment, err := parseAmountField("payment", req.Payment)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	l, err := h.market.BuyNFT(r.Context(), id, payment, caller)
	if err != nil {
		writeMarketError(w, r, h.logger, "buy", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "sold",
		"buyer":   caller.Hex(),
		"listing": newListingView(l),
	})
}
