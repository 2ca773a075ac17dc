package domain

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// AuctionStore persists auctions keyed by asset id. Save upserts.
type AuctionStore interface {
	Save(ctx context.Context, a Auction) error
	Get(ctx context.Context, id AssetID) (Auction, error)
	ListActive(ctx context.Context) ([]Auction, error)
}

// ListingStore persists active listings. A purchased listing is deleted.
type ListingStore interface {
	Save(ctx context.Context, l Listing) error
	Get(ctx context.Context, id AssetID) (Listing, error)
	Delete(ctx context.Context, id AssetID) error
	List(ctx context.Context, opts ListOpts) ([]Listing, error)
}

// CustodyAccount is the balance row holding escrowed and in-flight funds.
var CustodyAccount = common.HexToAddress("0x000000000000000000000000000000000000c057")

// BalanceDelta is one leg of an atomic multi-account balance change.
type BalanceDelta struct {
	Account common.Address
	Delta   *big.Int
}

// BalanceStore keeps per-account balances in wei.
type BalanceStore interface {
	Get(ctx context.Context, account common.Address) (*big.Int, error)
	// Add applies delta atomically. It returns ErrInsufficientFunds, leaving
	// the balance untouched, when the result would be negative.
	Add(ctx context.Context, account common.Address, delta *big.Int) (*big.Int, error)
	// AddMany applies all deltas in one transaction or none of them.
	AddMany(ctx context.Context, deltas []BalanceDelta) error
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
