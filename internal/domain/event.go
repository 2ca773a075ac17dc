package domain

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// EventType names a marketplace announcement.
type EventType string

const (
	EventAuctionCreated   EventType = "auction_created"
	EventBidPlaced        EventType = "bid_placed"
	EventAuctionFinalized EventType = "auction_finalized"
	EventNFTListed        EventType = "nft_listed"
	EventNFTSold          EventType = "nft_sold"
)

// Event is an observer-only announcement. Nothing inside the marketplace reads
// events back.
type Event struct {
	ID      string    `json:"id"`
	Type    EventType `json:"type"`
	AssetID AssetID   `json:"asset_id"`

	// Seller is the auction seller or the owner paid for a sale.
	Seller common.Address `json:"seller"`
	// Counterparty is the bidder, auction winner, or buyer. NoAddress when an
	// auction finalizes without bids.
	Counterparty common.Address `json:"counterparty"`
	// Amount is the bid, winning bid, listing price, or sale price.
	Amount *big.Int `json:"amount"`

	StartingPrice *big.Int `json:"starting_price,omitempty"`
	StartTime     int64    `json:"start_time,omitempty"`
	EndTime       int64    `json:"end_time,omitempty"`

	// At is the logical clock value when the event was raised.
	At        int64     `json:"at"`
	EmittedAt time.Time `json:"emitted_at"`
}

// Detail flattens the event into an audit-friendly map.
func (e Event) Detail() map[string]any {
	d := map[string]any{
		"event_id": e.ID,
		"asset_id": e.AssetID.String(),
		"seller":   e.Seller.Hex(),
		"at":       e.At,
	}
	if e.Counterparty != NoAddress {
		d["counterparty"] = e.Counterparty.Hex()
	}
	if e.Amount != nil {
		d["amount"] = e.Amount.String()
	}
	if e.StartingPrice != nil {
		d["starting_price"] = e.StartingPrice.String()
		d["start_time"] = e.StartTime
		d["end_time"] = e.EndTime
	}
	return d
}

// Emitter is the fire-and-forget announcement port used by the engines.
type Emitter interface {
	Emit(ctx context.Context, evt Event)
}
