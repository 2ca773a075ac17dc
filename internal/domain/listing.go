package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Listing is a standing fixed-price offer for one asset. Seller records who
// listed it; the payout always goes to the registry-reported owner at purchase
// time.
type Listing struct {
	AssetID  AssetID
	Seller   common.Address
	Price    *big.Int
	ListedAt time.Time
}

// Clone returns a deep copy of the listing.
func (l Listing) Clone() Listing {
	out := l
	out.Price = cloneAmount(l.Price)
	return out
}
