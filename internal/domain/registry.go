package domain

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
)

// Registry is the capability set of the external asset registry, the sole
// source of truth for existence and ownership. Lookup returns ErrNotFound for
// an unknown asset.
type Registry interface {
	Lookup(ctx context.Context, id AssetID) (Asset, error)
	Transfer(ctx context.Context, id AssetID, to common.Address) error
	ListOwned(ctx context.Context, owner common.Address) ([]AssetID, error)
}
