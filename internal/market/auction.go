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

// AuctionEngine owns the per-asset auction table and the bid escrow.
type AuctionEngine struct {
	env   *env
	store domain.AuctionStore

	mu    sync.RWMutex
	table map[domain.AssetID]domain.Auction

	listed func(context.Context, domain.AssetID) (bool, error)
}

func newAuctionEngine(e *env, store domain.AuctionStore) *AuctionEngine {
	return &AuctionEngine{
		env:   e,
		store: store,
		table: make(map[domain.AssetID]domain.Auction),
	}
}

func (ae *AuctionEngine) restore(ctx context.Context) (int, error) {
	active, err := ae.store.ListActive(ctx)
	if err != nil {
		return 0, fmt.Errorf("market: restore auctions: %w", err)
	}
	ae.mu.Lock()
	defer ae.mu.Unlock()
	for _, a := range active {
		ae.table[a.AssetID] = a
	}
	return len(active), nil
}

// load reads the auction for id from the store and refreshes the table with
// it. Mutating operations call it with the asset lock held: the store is
// shared by every instance behind the same lock manager, the table only
// serves this instance's read paths.
func (ae *AuctionEngine) load(ctx context.Context, id domain.AssetID) (domain.Auction, bool, error) {
	a, err := ae.store.Get(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		ae.mu.Lock()
		delete(ae.table, id)
		ae.mu.Unlock()
		return domain.Auction{}, false, nil
	}
	if err != nil {
		return domain.Auction{}, false, fmt.Errorf("market: load auction %s: %w", id, err)
	}
	ae.mu.Lock()
	ae.table[id] = a.Clone()
	ae.mu.Unlock()
	return a, true, nil
}

func (ae *AuctionEngine) inAuction(ctx context.Context, id domain.AssetID) (bool, error) {
	a, ok, err := ae.load(ctx, id)
	if err != nil {
		return false, err
	}
	return ok && a.Active, nil
}

// Get returns a copy of the auction last seen for id.
func (ae *AuctionEngine) Get(id domain.AssetID) (domain.Auction, bool) {
	ae.mu.RLock()
	defer ae.mu.RUnlock()
	a, ok := ae.table[id]
	if !ok {
		return domain.Auction{}, false
	}
	return a.Clone(), true
}

// Active lists active auctions ordered by asset id.
func (ae *AuctionEngine) Active() []domain.Auction {
	ae.mu.RLock()
	out := make([]domain.Auction, 0, len(ae.table))
	for _, a := range ae.table {
		if a.Active {
			out = append(out, a.Clone())
		}
	}
	ae.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].AssetID < out[j].AssetID })
	return out
}

// Escrowed returns the amount held for the highest bidder, zero when the
// auction is inactive or has no bids.
func (ae *AuctionEngine) Escrowed(id domain.AssetID) *big.Int {
	ae.mu.RLock()
	defer ae.mu.RUnlock()
	a, ok := ae.table[id]
	if !ok || !a.Active || !a.HasBidder() {
		return new(big.Int)
	}
	return new(big.Int).Set(a.HighestBid)
}

// commit persists a and then publishes it to the table.
func (ae *AuctionEngine) commit(ctx context.Context, a domain.Auction) error {
	if err := ae.store.Save(ctx, a); err != nil {
		return fmt.Errorf("market: save auction %s: %w", a.AssetID, err)
	}
	ae.mu.Lock()
	ae.table[a.AssetID] = a.Clone()
	ae.mu.Unlock()
	return nil
}

// restoreTo puts back a previous version of the auction.
func (ae *AuctionEngine) restoreTo(prev domain.Auction) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		return ae.commit(ctx, prev)
	}
}

// Create opens an auction. caller must be the asset's current registry
// owner, and the asset may be neither listed nor already auctioned.
func (ae *AuctionEngine) Create(ctx context.Context, id domain.AssetID, startingPrice *big.Int, startTime, endTime int64, caller common.Address) (domain.Auction, error) {
	a, evt, err := ae.create(ctx, id, startingPrice, startTime, endTime, caller)
	if err != nil {
		return domain.Auction{}, err
	}
	ae.env.emitter.Emit(ctx, evt)
	return a, nil
}

func (ae *AuctionEngine) create(ctx context.Context, id domain.AssetID, startingPrice *big.Int, startTime, endTime int64, caller common.Address) (domain.Auction, domain.Event, error) {
	const op = "createAuction"
	if startingPrice == nil || startingPrice.Sign() < 0 {
		return domain.Auction{}, domain.Event{}, domain.Reject(op, domain.ErrValidation, "starting price must be a non-negative amount")
	}
	if caller == domain.NoAddress {
		return domain.Auction{}, domain.Event{}, domain.Reject(op, domain.ErrAuthorization, "missing caller")
	}

	ctx, release, err := ae.env.guard.enter(ctx, op, id)
	if err != nil {
		return domain.Auction{}, domain.Event{}, err
	}
	defer release()

	asset, err := ae.env.lookup(ctx, op, id)
	if err != nil {
		return domain.Auction{}, domain.Event{}, err
	}
	if asset.Owner != caller {
		return domain.Auction{}, domain.Event{}, domain.Reject(op, domain.ErrAuthorization, "caller %s does not own asset %s", caller.Hex(), id)
	}
	listed, err := ae.listed(ctx, id)
	if err != nil {
		return domain.Auction{}, domain.Event{}, err
	}
	if listed {
		return domain.Auction{}, domain.Event{}, domain.Reject(op, domain.ErrValidation, "asset %s is listed for sale", id)
	}
	active, err := ae.inAuction(ctx, id)
	if err != nil {
		return domain.Auction{}, domain.Event{}, err
	}
	if active {
		return domain.Auction{}, domain.Event{}, domain.Reject(op, domain.ErrValidation, "asset %s is already in auction", id)
	}

	now := ae.env.clock.Now()
	switch {
	case endTime <= startTime:
		return domain.Auction{}, domain.Event{}, domain.Reject(op, domain.ErrValidation, "end time %d must be after start time %d", endTime, startTime)
	case endTime-startTime < domain.MinAuctionDuration:
		return domain.Auction{}, domain.Event{}, domain.Reject(op, domain.ErrValidation, "auction must last at least %d seconds", domain.MinAuctionDuration)
	case startTime < now:
		return domain.Auction{}, domain.Event{}, domain.Reject(op, domain.ErrValidation, "start time %d is in the past (now %d)", startTime, now)
	}

	ts := time.Now().UTC()
	a := domain.Auction{
		AssetID:       id,
		Seller:        caller,
		StartingPrice: new(big.Int).Set(startingPrice),
		StartTime:     startTime,
		EndTime:       endTime,
		HighestBidder: domain.NoAddress,
		HighestBid:    new(big.Int),
		Active:        true,
		CreatedAt:     ts,
		UpdatedAt:     ts,
	}
	if err := ae.commit(ctx, a); err != nil {
		return domain.Auction{}, domain.Event{}, err
	}

	ae.env.logger.InfoContext(ctx, "market: auction created",
		slog.Uint64("asset_id", uint64(id)),
		slog.String("seller", caller.Hex()),
		slog.String("starting_price", startingPrice.String()),
		slog.Int64("start_time", startTime),
		slog.Int64("end_time", endTime),
	)
	return a.Clone(), domain.Event{
		Type:          domain.EventAuctionCreated,
		AssetID:       id,
		Seller:        caller,
		StartingPrice: new(big.Int).Set(startingPrice),
		StartTime:     startTime,
		EndTime:       endTime,
		At:            now,
	}, nil
}

// PlaceBid escrows amount from bidder and makes it the highest bid. The
// previous highest bidder is refunded in the same call; if that refund
// cannot be delivered the new bid is rolled back and returned.
//
// The first bid is only required to exceed zero; StartingPrice is not
// enforced as a floor.
func (ae *AuctionEngine) PlaceBid(ctx context.Context, id domain.AssetID, amount *big.Int, bidder common.Address) (domain.Auction, error) {
	a, evt, err := ae.placeBid(ctx, id, amount, bidder)
	if err != nil {
		return domain.Auction{}, err
	}
	ae.env.emitter.Emit(ctx, evt)
	return a, nil
}

func (ae *AuctionEngine) placeBid(ctx context.Context, id domain.AssetID, amount *big.Int, bidder common.Address) (domain.Auction, domain.Event, error) {
	const op = "placeBid"
	if amount == nil || amount.Sign() < 0 {
		return domain.Auction{}, domain.Event{}, domain.Reject(op, domain.ErrValidation, "bid must be a non-negative amount")
	}
	if bidder == domain.NoAddress {
		return domain.Auction{}, domain.Event{}, domain.Reject(op, domain.ErrAuthorization, "missing bidder")
	}

	ctx, release, err := ae.env.guard.enter(ctx, op, id)
	if err != nil {
		return domain.Auction{}, domain.Event{}, err
	}
	defer release()

	prev, ok, err := ae.load(ctx, id)
	if err != nil {
		return domain.Auction{}, domain.Event{}, err
	}
	if !ok || !prev.Active {
		return domain.Auction{}, domain.Event{}, domain.Reject(op, domain.ErrState, "no active auction for asset %s", id)
	}
	now := ae.env.clock.Now()
	if !prev.InWindow(now) {
		return domain.Auction{}, domain.Event{}, domain.Reject(op, domain.ErrState, "bidding is open from %d to %d (now %d)", prev.StartTime, prev.EndTime, now)
	}
	if amount.Cmp(prev.HighestBid) <= 0 {
		return domain.Auction{}, domain.Event{}, domain.Reject(op, domain.ErrState, "bid must exceed current highest bid of %s", prev.HighestBid)
	}

	j := newJournal(op, ae.env.logger)
	if err := ae.env.funds.Collect(ctx, bidder, amount); err != nil {
		if errors.Is(err, domain.ErrInsufficientFunds) {
			return domain.Auction{}, domain.Event{}, paymentFailure(op, err, "insufficient funds for bid of %s", amount)
		}
		return domain.Auction{}, domain.Event{}, paymentFailure(op, err, "could not collect bid")
	}
	bid := new(big.Int).Set(amount)
	j.add("return bid", func(ctx context.Context) error {
		return ae.env.funds.Return(ctx, bidder, bid)
	})

	next := prev.Clone()
	next.HighestBidder = bidder
	next.HighestBid = new(big.Int).Set(amount)
	next.UpdatedAt = time.Now().UTC()
	if err := ae.commit(ctx, next); err != nil {
		return domain.Auction{}, domain.Event{}, abortErr(ctx, j, err)
	}
	j.add("restore auction", ae.restoreTo(prev))

	if prev.HasBidder() {
		if err := ae.env.funds.Pay(ctx, prev.HighestBidder, prev.HighestBid); err != nil {
			return domain.Auction{}, domain.Event{}, abort(ctx, j, paymentFailure(op, err,
				"refund of %s to previous bidder %s failed", prev.HighestBid, prev.HighestBidder.Hex()))
		}
	}

	ae.env.logger.InfoContext(ctx, "market: bid placed",
		slog.Uint64("asset_id", uint64(id)),
		slog.String("bidder", bidder.Hex()),
		slog.String("amount", amount.String()),
	)
	return next, domain.Event{
		Type:         domain.EventBidPlaced,
		AssetID:      id,
		Seller:       prev.Seller,
		Counterparty: bidder,
		Amount:       new(big.Int).Set(amount),
		At:           now,
	}, nil
}

// Finalize closes an elapsed auction. Authorization is checked against the
// asset's current registry owner while the payout goes to the seller recorded
// at creation. With a highest bidder the asset is transferred to them and the
// escrow paid to the seller; without one nothing moves.
func (ae *AuctionEngine) Finalize(ctx context.Context, id domain.AssetID, caller common.Address) (domain.Auction, error) {
	a, evt, err := ae.finalize(ctx, id, caller)
	if err != nil {
		return domain.Auction{}, err
	}
	ae.env.emitter.Emit(ctx, evt)
	return a, nil
}

func (ae *AuctionEngine) finalize(ctx context.Context, id domain.AssetID, caller common.Address) (domain.Auction, domain.Event, error) {
	const op = "finalizeAuction"
	ctx, release, err := ae.env.guard.enter(ctx, op, id)
	if err != nil {
		return domain.Auction{}, domain.Event{}, err
	}
	defer release()

	prev, ok, err := ae.load(ctx, id)
	if err != nil {
		return domain.Auction{}, domain.Event{}, err
	}
	if !ok || !prev.Active {
		return domain.Auction{}, domain.Event{}, domain.Reject(op, domain.ErrState, "no active auction for asset %s", id)
	}
	now := ae.env.clock.Now()
	if !prev.Elapsed(now) {
		return domain.Auction{}, domain.Event{}, domain.Reject(op, domain.ErrState, "auction for asset %s ends at %d (now %d)", id, prev.EndTime, now)
	}
	asset, err := ae.env.lookup(ctx, op, id)
	if err != nil {
		return domain.Auction{}, domain.Event{}, err
	}
	if asset.Owner != caller {
		return domain.Auction{}, domain.Event{}, domain.Reject(op, domain.ErrAuthorization, "caller %s does not own asset %s", caller.Hex(), id)
	}
	// Authorization follows the registry; the payout still goes to the seller.
	if caller != prev.Seller {
		ae.env.logger.WarnContext(ctx, "market: auction finalized by non-seller owner",
			slog.Uint64("asset_id", uint64(id)),
			slog.String("caller", caller.Hex()),
			slog.String("seller", prev.Seller.Hex()),
		)
	}

	j := newJournal(op, ae.env.logger)
	next := prev.Clone()
	next.Active = false
	next.UpdatedAt = time.Now().UTC()
	if err := ae.commit(ctx, next); err != nil {
		return domain.Auction{}, domain.Event{}, err
	}
	j.add("restore auction", ae.restoreTo(prev))

	if prev.HasBidder() {
		winner := prev.HighestBidder
		if err := ae.env.registry.Transfer(ctx, id, winner); err != nil {
			return domain.Auction{}, domain.Event{}, abort(ctx, j, paymentFailure(op, err, "transfer of asset %s to %s failed", id, winner.Hex()))
		}
		previousOwner := asset.Owner
		j.add("return asset", func(ctx context.Context) error {
			return ae.env.registry.Transfer(ctx, id, previousOwner)
		})

		if err := ae.env.funds.Pay(ctx, prev.Seller, prev.HighestBid); err != nil {
			return domain.Auction{}, domain.Event{}, abort(ctx, j, paymentFailure(op, err, "payout of %s to seller %s failed", prev.HighestBid, prev.Seller.Hex()))
		}
	}

	ae.env.logger.InfoContext(ctx, "market: auction finalized",
		slog.Uint64("asset_id", uint64(id)),
		slog.String("winner", prev.HighestBidder.Hex()),
		slog.String("amount", prev.HighestBid.String()),
	)
	return next, domain.Event{
		Type:         domain.EventAuctionFinalized,
		AssetID:      id,
		Seller:       prev.Seller,
		Counterparty: prev.HighestBidder,
		Amount:       new(big.Int).Set(prev.HighestBid),
		At:           now,
	}, nil
}
