// Package registry contains the marketplace's boundary over the external
// asset registry and two registry backends: an in-process one and an ERC-721
// contract reached through go-ethereum.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/nftmarket/internal/domain"
	"github.com/ethereum/go-ethereum/common"
)

// Adapter wraps a registry backend for the engines. It never caches: each
// call re-queries the backend so ownership facts are current as of the call.
type Adapter struct {
	backend domain.Registry
	logger  *slog.Logger
}

// NewAdapter creates an Adapter over backend.
func NewAdapter(backend domain.Registry, logger *slog.Logger) *Adapter {
	return &Adapter{
		backend: backend,
		logger:  logger.With(slog.String("component", "registry")),
	}
}

// Lookup reports the asset's name, owner and existence. An asset the backend
// does not know is returned with Exists=false and no error.
func (a *Adapter) Lookup(ctx context.Context, id domain.AssetID) (domain.Asset, error) {
	asset, err := a.backend.Lookup(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Asset{ID: id}, nil
	}
	if err != nil {
		return domain.Asset{}, fmt.Errorf("registry: lookup %s: %w", id, err)
	}
	asset.ID = id
	if asset.Owner == domain.NoAddress {
		asset.Exists = false
	}
	return asset, nil
}

// Transfer asks the registry to move id to a new owner.
func (a *Adapter) Transfer(ctx context.Context, id domain.AssetID, to common.Address) error {
	if to == domain.NoAddress {
		return fmt.Errorf("registry: transfer %s: %w: zero recipient", id, domain.ErrValidation)
	}
	if err := a.backend.Transfer(ctx, id, to); err != nil {
		return fmt.Errorf("registry: transfer %s: %w", id, err)
	}
	a.logger.InfoContext(ctx, "registry: asset transferred",
		slog.Uint64("asset_id", uint64(id)),
		slog.String("to", to.Hex()),
	)
	return nil
}

// ListOwned returns the ids held by owner. It is a query path only.
func (a *Adapter) ListOwned(ctx context.Context, owner common.Address) ([]domain.AssetID, error) {
	if owner == domain.NoAddress {
		return nil, fmt.Errorf("registry: list owned: %w: zero owner", domain.ErrValidation)
	}
	ids, err := a.backend.ListOwned(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("registry: list owned by %s: %w", owner.Hex(), err)
	}
	return ids, nil
}

var _ domain.Registry = (*Adapter)(nil)
