package handler

import (
	"context"
	"log/slog"
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/nftmarket/internal/domain"
)

// AuctionService is the auction side of the marketplace.
type AuctionService interface {
	CreateAuction(ctx context.Context, id domain.AssetID, startingPrice *big.Int, startTime, endTime int64, caller common.Address) (domain.Auction, error)
	PlaceBid(ctx context.Context, id domain.AssetID, amount *big.Int, bidder common.Address) (domain.Auction, error)
	FinalizeAuction(ctx context.Context, id domain.AssetID, caller common.Address) (domain.Auction, error)
	GetAuction(id domain.AssetID) (domain.Auction, bool)
	ActiveAuctions() []domain.Auction
	Escrowed(id domain.AssetID) *big.Int
}

// AuctionHandler serves /api/auctions.
type AuctionHandler struct {
	market AuctionService
	logger *slog.Logger
}

// NewAuctionHandler creates an AuctionHandler.
func NewAuctionHandler(market AuctionService, logger *slog.Logger) *AuctionHandler {
	return &AuctionHandler{market: market, logger: logHandler(logger, "auctions")}
}

type createAuctionRequest struct {
	AssetID       string `json:"asset_id"`
	StartingPrice string `json:"starting_price"`
	StartTime     int64  `json:"start_time"`
	EndTime       int64  `json:"end_time"`
}

// Create opens an auction.
// POST /api/auctions
func (h *AuctionHandler) Create(w http.ResponseWriter, r *http.Request) {
	caller, err := callerFrom(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req createAuctionRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	id, err := domain.ParseAssetID(req.AssetID)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	price, err := parseAmountField("starting_price", req.StartingPrice)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	a, err := h.market.CreateAuction(r.Context(), id, price, req.StartTime, req.EndTime, caller)
	if err != nil {
		writeMarketError(w, r, h.logger, "create auction", err)
		return
	}
	writeJSON(w, http.StatusCreated, newAuctionView(a, h.market.Escrowed(id)))
}

// List returns active auctions.
// GET /api/auctions
func (h *AuctionHandler) List(w http.ResponseWriter, r *http.Request) {
	active := h.market.ActiveAuctions()
	out := make([]auctionView, 0, len(active))
	for _, a := range active {
		out = append(out, newAuctionView(a, h.market.Escrowed(a.AssetID)))
	}
	writeJSON(w, http.StatusOK, map[string]any{"auctions": out})
}

// Get returns one auction, active or finalized.
// GET /api/auctions/{asset_id}
func (h *AuctionHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := assetIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	a, ok := h.market.GetAuction(id)
	if !ok {
		writeError(w, http.StatusNotFound, "auction not found")
		return
	}
	writeJSON(w, http.StatusOK, newAuctionView(a, h.market.Escrowed(id)))
}

type bidRequest struct {
	Amount string `json:"amount"`
}

// Bid places a bid; the amount is the attached payment.
// POST /api/auctions/{asset_id}/bids
func (h *AuctionHandler) Bid(w http.ResponseWriter, r *http.Request) {
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
	var req bidRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	amount, err := parseAmountField("amount", req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	a, err := h.market.PlaceBid(r.Context(), id, amount, caller)
	if err != nil {
		writeMarketError(w, r, h.logger, "place bid", err)
		return
	}
	writeJSON(w, http.StatusOK, newAuctionView(a, h.market.Escrowed(id)))
}

// Finalize settles an elapsed auction.
// POST /api/auctions/{asset_id}/finalize
func (h *AuctionHandler) Finalize(w http.ResponseWriter, r *http.Request) {
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
	a, err := h.market.FinalizeAuction(r.Context(), id, caller)
	if err != nil {
		writeMarketError(w, r, h.logger, "finalize auction", err)
		return
	}
	writeJSON(w, http.StatusOK, newAuctionView(a, h.market.Escrowed(id)))
}
