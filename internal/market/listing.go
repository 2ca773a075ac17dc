package market

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/nftmarket/internal/domain"
	"github.com/ethereum/go-ethereum/common"
)

// ListingEngine owns fixed-price listings and buy-now settlement.
type ListingEngine struct {
	env   *env
	store domain.ListingStore

	mu    sync.RWMutex
	table map[domain.AssetID]domain.Listing

	inAuction func(context.Context, domain.AssetID) (bool, error)
}

func newListingEngine(e *env, store domain.ListingStore) *ListingEngine {
	return &ListingEngine{
		env:   e,
		store: store,
		table: make(map[domain.AssetID]domain.Listing),
	}
}

func (le *ListingEngine) restore(ctx context.Context) (int, error) {
	rows, err := le.store.List(ctx, domain.ListOpts{})
	if err != nil {
		return 0, fmt.Errorf("market: restore listings: %w", err)
	}
	le.mu.Lock()
	defer le.mu.Unlock()
	for _, l := range rows {
		le.table[l.AssetID] = l
	}
	return len(rows), nil
}

// load reads the listing for id from the store and refreshes the table. Like
// AuctionEngine.load it is called with the asset lock held.
func (le *ListingEngine) load(ctx context.Context, id domain.AssetID) (domain.Listing, bool, error) {
	l, err := le.store.Get(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		le.mu.Lock()
		delete(le.table, id)
		le.mu.Unlock()
		return domain.Listing{}, false, nil
	}
	if err != nil {
		return domain.Listing{}, false, fmt.Errorf("market: load listing %s: %w", id, err)
	}
	le.mu.Lock()
	le.table[id] = l.Clone()
	le.mu.Unlock()
	return l, true, nil
}

func (le *ListingEngine) isListed(ctx context.Context, id domain.AssetID) (bool, error) {
	_, ok, err := le.load(ctx, id)
	return ok, err
}

// Get returns the listing last seen for id.
func (le *ListingEngine) Get(id domain.AssetID) (domain.Listing, bool) {
	le.mu.RLock()
	defer le.mu.RUnlock()
	l, ok := le.table[id]
	if !ok {
		return domain.Listing{}, false
	}
	return l.Clone(), true
}

// All returns every listing ordered by asset id.
func (le *ListingEngine) All() []domain.Listing {
	le.mu.RLock()
	out := make([]domain.Listing, 0, len(le.table))
	for _, l := range le.table {
		out = append(out, l.Clone())
	}
	le.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].AssetID < out[j].AssetID })
	return out
}

func (le *ListingEngine) put(ctx context.Context, l domain.Listing) error {
	if err := le.store.Save(ctx, l); err != nil {
		return fmt.Errorf("market: save listing %s: %w", l.AssetID, err)
	}
	le.mu.Lock()
	le.table[l.AssetID] = l.Clone()
	le.mu.Unlock()
	return nil
}

func (le *ListingEngine) remove(ctx context.Context, id domain.AssetID) error {
	if err := le.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("market: delete listing %s: %w", id, err)
	}
	le.mu.Lock()
	delete(le.table, id)
	le.mu.Unlock()
	return nil
}

// Sell lists id at price. price must be at least domain.MinSalePrice and the
// caller must be the current registry owner.
func (le *ListingEngine) Sell(ctx context.Context, id domain.AssetID, price *big.Int, caller common.Address) (domain.Listing, error) {
	l, evt, err := le.sell(ctx, id, price, caller)
	if err != nil {
		return domain.Listing{}, err
	}
	le.env.emitter.Emit(ctx, evt)
	return l, nil
}

func (le *ListingEngine) sell(ctx context.Context, id domain.AssetID, price *big.Int, caller common.Address) (domain.Listing, domain.Event, error) {
	const op = "sellNFT"
	if price == nil || price.Cmp(domain.MinSalePrice) < 0 {
		return domain.Listing{}, domain.Event{}, domain.Reject(op, domain.ErrValidation, "price must be at least %s ether", domain.FormatEther(domain.MinSalePrice))
	}
	if caller == domain.NoAddress {
		return domain.Listing{}, domain.Event{}, domain.Reject(op, domain.ErrAuthorization, "missing caller")
	}

	ctx, release, err := le.env.guard.enter(ctx, op, id)
	if err != nil {
		return domain.Listing{}, domain.Event{}, err
	}
	defer release()

	listed, err := le.isListed(ctx, id)
	if err != nil {
		return domain.Listing{}, domain.Event{}, err
	}
	if listed {
		return domain.Listing{}, domain.Event{}, domain.Reject(op, domain.ErrValidation, "asset %s is already listed", id)
	}
	auctioned, err := le.inAuction(ctx, id)
	if err != nil {
		return domain.Listing{}, domain.Event{}, err
	}
	if auctioned {
		return domain.Listing{}, domain.Event{}, domain.Reject(op, domain.ErrValidation, "asset %s is in auction", id)
	}
	asset, err := le.env.lookup(ctx, op, id)
	if err != nil {
		return domain.Listing{}, domain.Event{}, err
	}
	if asset.Owner != caller {
		return domain.Listing{}, domain.Event{}, domain.Reject(op, domain.ErrAuthorization, "caller %s does not own asset %s", caller.Hex(), id)
	}

	l := domain.Listing{
		AssetID:  id,
		Seller:   caller,
		Price:    new(big.Int).Set(price),
		ListedAt: time.Now().UTC(),
	}
	if err := le.put(ctx, l); err != nil {
		return domain.Listing{}, domain.Event{}, err
	}

	le.env.logger.InfoContext(ctx, "market: asset listed",
		slog.Uint64("asset_id", uint64(id)),
		slog.String("seller", caller.Hex()),
		slog.String("price", price.String()),
	)
	return l.Clone(), domain.Event{
		Type:    domain.EventNFTListed,
		AssetID: id,
		Seller:  caller,
		Amount:  new(big.Int).Set(price),
		At:      le.env.clock.Now(),
	}, nil
}

// Buy settles a purchase: the payment is collected, the listing cleared, the
// price paid to the registry-reported owner and the asset transferred to the
// buyer. Any failure unwinds the completed steps.
func (le *ListingEngine) Buy(ctx context.Context, id domain.AssetID, payment *big.Int, buyer common.Address) (domain.Listing, error) {
	l, evt, err := le.buy(ctx, id, payment, buyer)
	if err != nil {
		return domain.Listing{}, err
	}
	le.env.emitter.Emit(ctx, evt)
	return l, nil
}

func (le *ListingEngine) buy(ctx context.Context, id domain.AssetID, payment *big.Int, buyer common.Address) (domain.Listing, domain.Event, error) {
	const op = "buyNFT"
	if buyer == domain.NoAddress {
		return domain.Listing{}, domain.Event{}, domain.Reject(op, domain.ErrAuthorization, "missing buyer")
	}
	if payment == nil {
		payment = new(big.Int)
	}

	ctx, release, err := le.env.guard.enter(ctx, op, id)
	if err != nil {
		return domain.Listing{}, domain.Event{}, err
	}
	defer release()

	l, ok, err := le.load(ctx, id)
	if err != nil {
		return domain.Listing{}, domain.Event{}, err
	}
	if !ok {
		return domain.Listing{}, domain.Event{}, domain.Reject(op, domain.ErrState, "asset %s is not listed", id)
	}
	if payment.Cmp(l.Price) != 0 {
		return domain.Listing{}, domain.Event{}, domain.Reject(op, domain.ErrPayment, "payment %s does not match price %s", payment, l.Price)
	}
	asset, err := le.env.lookup(ctx, op, id)
	if err != nil {
		return domain.Listing{}, domain.Event{}, err
	}
	if asset.Owner == buyer {
		return domain.Listing{}, domain.Event{}, domain.Reject(op, domain.ErrValidation, "owner cannot buy their own asset")
	}
	owner := asset.Owner
	price := new(big.Int).Set(l.Price)

	j := newJournal(op, le.env.logger)
	if err := le.env.funds.Collect(ctx, buyer, price); err != nil {
		if errors.Is(err, domain.ErrInsufficientFunds) {
			return domain.Listing{}, domain.Event{}, paymentFailure(op, err, "insufficient funds for payment of %s", price)
		}
		return domain.Listing{}, domain.Event{}, paymentFailure(op, err, "could not collect payment")
	}
	j.add("return payment", func(ctx context.Context) error {
		return le.env.funds.Return(ctx, buyer, price)
	})

	if err := le.remove(ctx, id); err != nil {
		return domain.Listing{}, domain.Event{}, abortErr(ctx, j, err)
	}
	j.add("restore listing", func(ctx context.Context) error {
		return le.put(ctx, l)
	})

	if err := le.env.funds.Pay(ctx, owner, price); err != nil {
		return domain.Listing{}, domain.Event{}, abort(ctx, j, paymentFailure(op, err, "payout of %s to owner %s failed", price, owner.Hex()))
	}
	j.add("reclaim payout", func(ctx context.Context) error {
		return le.env.funds.Reclaim(ctx, owner, price)
	})

	if err := le.env.registry.Transfer(ctx, id, buyer); err != nil {
		return domain.Listing{}, domain.Event{}, abort(ctx, j, paymentFailure(op, err, "transfer of asset %s to %s failed", id, buyer.Hex()))
	}

	le.env.logger.InfoContext(ctx, "market: asset sold",
		slog.Uint64("asset_id", uint64(id)),
		slog.String("seller", owner.Hex()),
		slog.String("buyer", buyer.Hex()),
		slog.String("price", price.String()),
	)
	return l, domain.Event{
		Type:         domain.EventNFTSold,
		AssetID:      id,
		Seller:       owner,
		Counterparty: buyer,
		Amount:       price,
		At:           le.env.clock.Now(),
	}, nil
}
