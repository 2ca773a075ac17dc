package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Auction is the time-bounded sale of one asset. At most one active auction
// exists per AssetID. Times are logical clock values.
type Auction struct {
	AssetID       AssetID
	Seller        common.Address
	StartingPrice *big.Int
	StartTime     int64
	EndTime       int64
	HighestBidder common.Address // NoAddress until the first accepted bid
	HighestBid    *big.Int       // equals the escrowed amount while active
	Active        bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// HasBidder reports whether a bid has been accepted.
func (a Auction) HasBidder() bool {
	return a.HighestBidder != NoAddress
}

// InWindow reports whether now falls within [StartTime, EndTime].
func (a Auction) InWindow(now int64) bool {
	return now >= a.StartTime && now <= a.EndTime
}

// Elapsed reports whether the bidding window has closed.
func (a Auction) Elapsed(now int64) bool {
	return now > a.EndTime
}

// Clone returns a deep copy; amounts are not shared with the receiver.
func (a Auction) Clone() Auction {
	out := a
	out.StartingPrice = cloneAmount(a.StartingPrice)
	out.HighestBid = cloneAmount(a.HighestBid)
	return out
}
