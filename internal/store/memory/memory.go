// Package memory implements the domain store ports in process. It backs the
// "memory" store backend and the engine tests.
package memory

import (
	"context"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/nftmarket/internal/domain"
	"github.com/ethereum/go-ethereum/common"
)

// AuctionStore keeps auctions in a map.
type AuctionStore struct {
	mu   sync.RWMutex
	rows map[domain.AssetID]domain.Auction
}

// NewAuctionStore returns an empty AuctionStore.
func NewAuctionStore() *AuctionStore {
	return &AuctionStore{rows: make(map[domain.AssetID]domain.Auction)}
}

func (s *AuctionStore) Save(_ context.Context, a domain.Auction) error {
	s.mu.Lock()
	s.rows[a.AssetID] = a.Clone()
	s.mu.Unlock()
	return nil
}

func (s *AuctionStore) Get(_ context.Context, id domain.AssetID) (domain.Auction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.rows[id]
	if !ok {
		return domain.Auction{}, domain.ErrNotFound
	}
	return a.Clone(), nil
}

func (s *AuctionStore) ListActive(_ context.Context) ([]domain.Auction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Auction
	for _, a := range s.rows {
		if a.Active {
			out = append(out, a.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AssetID < out[j].AssetID })
	return out, nil
}

// ListingStore keeps listings in a map.
type ListingStore struct {
	mu   sync.RWMutex
	rows map[domain.AssetID]domain.Listing
}

// NewListingStore returns an empty ListingStore.
func NewListingStore() *ListingStore {
	return &ListingStore{rows: make(map[domain.AssetID]domain.Listing)}
}

func (s *ListingStore) Save(_ context.Context, l domain.Listing) error {
	s.mu.Lock()
	s.rows[l.AssetID] = l.Clone()
	s.mu.Unlock()
	return nil
}

func (s *ListingStore) Get(_ context.Context, id domain.AssetID) (domain.Listing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.rows[id]
	if !ok {
		return domain.Listing{}, domain.ErrNotFound
	}
	return l.Clone(), nil
}

func (s *ListingStore) Delete(_ context.Context, id domain.AssetID) error {
	s.mu.Lock()
	delete(s.rows, id)
	s.mu.Unlock()
	return nil
}

func (s *ListingStore) List(_ context.Context, opts domain.ListOpts) ([]domain.Listing, error) {
	s.mu.RLock()
	out := make([]domain.Listing, 0, len(s.rows))
	for _, l := range s.rows {
		out = append(out, l.Clone())
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].AssetID < out[j].AssetID })
	return page(out, opts), nil
}

// BalanceStore keeps balances in a map guarded by one mutex so AddMany is
// atomic.
type BalanceStore struct {
	mu   sync.Mutex
	rows map[common.Address]*big.Int
}

// NewBalanceStore returns an empty BalanceStore.
func NewBalanceStore() *BalanceStore {
	return &BalanceStore{rows: make(map[common.Address]*big.Int)}
}

func (s *BalanceStore) Get(_ context.Context, account common.Address) (*big.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balance(account), nil
}

func (s *BalanceStore) balance(account common.Address) *big.Int {
	if b, ok := s.rows[account]; ok {
		return new(big.Int).Set(b)
	}
	return new(big.Int)
}

func (s *BalanceStore) Add(ctx context.Context, account common.Address, delta *big.Int) (*big.Int, error) {
	if err := s.AddMany(ctx, []domain.BalanceDelta{{Account: account, Delta: delta}}); err != nil {
		return nil, err
	}
	return s.Get(ctx, account)
}

func (s *BalanceStore) AddMany(_ context.Context, deltas []domain.BalanceDelta) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := make(map[common.Address]*big.Int, len(deltas))
	for _, d := range deltas {
		cur, ok := next[d.Account]
		if !ok {
			cur = s.balance(d.Account)
		}
		cur.Add(cur, d.Delta)
		if cur.Sign() < 0 {
			return domain.ErrInsufficientFunds
		}
		next[d.Account] = cur
	}
	for acct, bal := range next {
		s.rows[acct] = bal
	}
	return nil
}

// AuditStore is an append-only slice of audit entries.
type AuditStore struct {
	mu      sync.Mutex
	entries []domain.AuditEntry
	nowFn   func() time.Time
}

// NewAuditStore returns an empty AuditStore.
func NewAuditStore() *AuditStore {
	return &AuditStore{nowFn: time.Now}
}

func (s *AuditStore) Log(_ context.Context, event string, detail map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make(map[string]any, len(detail))
	for k, v := range detail {
		cp[k] = v
	}
	s.entries = append(s.entries, domain.AuditEntry{
		ID:        int64(len(s.entries) + 1),
		Event:     event,
		Detail:    cp,
		CreatedAt: s.nowFn().UTC(),
	})
	return nil
}

// List returns entries newest first, filtered by opts.Since/Until.
func (s *AuditStore) List(_ context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.AuditEntry
	for i := len(s.entries) - 1; i >= 0; i-- {
		e := s.entries[i]
		if opts.Since != nil && e.CreatedAt.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && !e.CreatedAt.Before(*opts.Until) {
			continue
		}
		out = append(out, e)
	}
	return page(out, opts), nil
}

func page[T any](rows []T, opts domain.ListOpts) []T {
	if opts.Offset > 0 {
		if opts.Offset >= len(rows) {
			return nil
		}
		rows = rows[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(rows) {
		rows = rows[:opts.Limit]
	}
	return rows
}

var (
	_ domain.AuctionStore = (*AuctionStore)(nil)
	_ domain.ListingStore = (*ListingStore)(nil)
	_ domain.BalanceStore = (*BalanceStore)(nil)
	_ domain.AuditStore   = (*AuditStore)(nil)
)
