package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/alanyoungcy/nftmarket/internal/domain"
	"github.com/ethereum/go-ethereum/common"
)

// TransferHook observes a completed transfer. A non-nil error undoes the
// transfer and is returned to the caller.
type TransferHook func(ctx context.Context, id domain.AssetID, from, to common.Address) error

// Memory is an authoritative in-process registry. Ids are assigned
// sequentially from 1.
type Memory struct {
	mu     sync.Mutex
	next   domain.AssetID
	assets map[domain.AssetID]domain.Asset
	hook   TransferHook
}

// NewMemory returns an empty registry.
func NewMemory() *Memory {
	return &Memory{next: 1, assets: make(map[domain.AssetID]domain.Asset)}
}

// Mint creates a new asset owned by owner.
func (m *Memory) Mint(owner common.Address, name string) (domain.AssetID, error) {
	if name == "" {
		return 0, fmt.Errorf("registry: mint: %w: empty name", domain.ErrValidation)
	}
	if owner == domain.NoAddress {
		return 0, fmt.Errorf("registry: mint: %w: zero owner", domain.ErrValidation)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.next
	m.next++
	m.assets[id] = domain.Asset{ID: id, Name: name, Owner: owner, Exists: true}
	return id, nil
}

// SetTransferHook installs fn to run after every transfer.
func (m *Memory) SetTransferHook(fn TransferHook) {
	m.mu.Lock()
	m.hook = fn
	m.mu.Unlock()
}

func (m *Memory) Lookup(_ context.Context, id domain.AssetID) (domain.Asset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.assets[id]
	if !ok {
		return domain.Asset{}, domain.ErrNotFound
	}
	return a, nil
}

// Transfer moves id to `to`. The hook runs without the registry lock held so
// it may call back into the registry.
func (m *Memory) Transfer(ctx context.Context, id domain.AssetID, to common.Address) error {
	m.mu.Lock()
	a, ok := m.assets[id]
	if !ok {
		m.mu.Unlock()
		return domain.ErrNotFound
	}
	from := a.Owner
	a.Owner = to
	m.assets[id] = a
	hook := m.hook
	m.mu.Unlock()

	if hook == nil {
		return nil
	}
	if err := hook(ctx, id, from, to); err != nil {
		m.mu.Lock()
		if cur := m.assets[id]; cur.Owner == to {
			cur.Owner = from
			m.assets[id] = cur
		}
		m.mu.Unlock()
		return err
	}
	return nil
}

func (m *Memory) ListOwned(_ context.Context, owner common.Address) ([]domain.AssetID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []domain.AssetID
	for id, a := range m.assets {
		if a.Owner == owner {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

var _ domain.Registry = (*Memory)(nil)
