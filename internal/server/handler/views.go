package handler

import (
	"math/big"
	"time"

	"github.com/alanyoungcy/nftmarket/internal/domain"
)

// amountView renders a wei amount both exactly and in ether.
type amountView struct {
	Wei   string `json:"wei"`
	Ether string `json:"ether"`
}

func newAmountView(v *big.Int) amountView {
	if v == nil {
		v = new(big.Int)
	}
	return amountView{Wei: v.String(), Ether: domain.FormatEther(v)}
}

type auctionView struct {
	AssetID       string     `json:"asset_id"`
	Seller        string     `json:"seller"`
	StartingPrice amountView `json:"starting_price"`
	StartTime     int64      `json:"start_time"`
	EndTime       int64      `json:"end_time"`
	HighestBidder string     `json:"highest_bidder,omitempty"`
	HighestBid    amountView `json:"highest_bid"`
	Active        bool       `json:"active"`
	Escrowed      amountView `json:"escrowed"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

func newAuctionView(a domain.Auction, escrowed *big.Int) auctionView {
	v := auctionView{
		AssetID:       a.AssetID.String(),
		Seller:        a.Seller.Hex(),
		StartingPrice: newAmountView(a.StartingPrice),
		StartTime:     a.StartTime,
		EndTime:       a.EndTime,
		HighestBid:    newAmountView(a.HighestBid),
		Active:        a.Active,
		Escrowed:      newAmountView(escrowed),
		CreatedAt:     a.CreatedAt,
		UpdatedAt:     a.UpdatedAt,
	}
	if a.HasBidder() {
		v.HighestBidder = a.HighestBidder.Hex()
	}
	return v
}

type listingView struct {
	AssetID  string     `json:"asset_id"`
	Seller   string     `json:"seller"`
	Price    amountView `json:"price"`
	ListedAt time.Time  `json:"listed_at"`
}

func newListingView(l domain.Listing) listingView {
	return listingView{
		AssetID:  l.AssetID.String(),
		Seller:   l.Seller.Hex(),
		Price:    newAmountView(l.Price),
		ListedAt: l.ListedAt,
	}
}
