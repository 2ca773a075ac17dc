// Package market implements the marketplace's transactional core: the
// Auction Engine (escrowed bidding and settlement) and the Listing/Sale
// Engine (fixed-price listings and buy-now). Both consult the asset registry
// for every authorization decision.
//
// Every mutating operation is all-or-nothing. Local state is committed before
// any outbound effect (payout, refund, registry transfer); each effect
// records a compensation, and a failure unwinds them so the caller observes
// no partial effect.
//
// Preconditions are read from the auction and listing stores once the asset
// lock is held, so instances sharing the stores and a distributed lock
// manager see each other's writes. The in-process tables are a read cache.
// Events are emitted after the lock is released.
package market

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/alanyoungcy/nftmarket/internal/clock"
	"github.com/alanyoungcy/nftmarket/internal/domain"
	"github.com/ethereum/go-ethereum/common"
)

// Funds is the custodial ledger the engines move money through.
type Funds interface {
	// Collect takes an attached payment into custody.
	Collect(ctx context.Context, from common.Address, amount *big.Int) error
	// Return undoes Collect.
	Return(ctx context.Context, to common.Address, amount *big.Int) error
	// Pay releases custody funds to a recipient. Recipient code may run.
	Pay(ctx context.Context, to common.Address, amount *big.Int) error
	// Reclaim undoes Pay.
	Reclaim(ctx context.Context, from common.Address, amount *big.Int) error
}

// Config tunes per-asset locking.
type Config struct {
	LockTTL       time.Duration
	LockWait      time.Duration
	RetryInterval time.Duration
}

// Deps bundles the collaborators shared by both engines.
type Deps struct {
	Registry domain.Registry
	Funds    Funds
	Clock    clock.Clock
	Locks    domain.LockManager
	Auctions domain.AuctionStore
	Listings domain.ListingStore
	Emitter  domain.Emitter
	Logger   *slog.Logger
}

type env struct {
	registry domain.Registry
	funds    Funds
	clock    clock.Clock
	guard    *guard
	emitter  domain.Emitter
	logger   *slog.Logger
}

type nopEmitter struct{}

func (nopEmitter) Emit(context.Context, domain.Event) {}

// Market exposes the public marketplace operations.
type Market struct {
	env      *env
	auctions *AuctionEngine
	listings *ListingEngine
}

// New wires both engines over deps.
func New(deps Deps, cfg Config) *Market {
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 5 * time.Minute
	}
	if cfg.LockWait <= 0 {
		cfg.LockWait = 5 * time.Second
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 25 * time.Millisecond
	}
	emitter := deps.Emitter
	if emitter == nil {
		emitter = nopEmitter{}
	}

	e := &env{
		registry: deps.Registry,
		funds:    deps.Funds,
		clock:    deps.Clock,
		guard: &guard{
			locks: deps.Locks,
			ttl:   cfg.LockTTL,
			wait:  cfg.LockWait,
			retry: cfg.RetryInterval,
		},
		emitter: emitter,
		logger:  deps.Logger.With(slog.String("component", "market")),
	}

	m := &Market{env: e}
	m.auctions = newAuctionEngine(e, deps.Auctions)
	m.listings = newListingEngine(e, deps.Listings)
	m.auctions.listed = m.listings.isListed
	m.listings.inAuction = m.auctions.inAuction
	return m
}

// Restore reloads active auctions and listings from the stores.
func (m *Market) Restore(ctx context.Context) error {
	na, err := m.auctions.restore(ctx)
	if err != nil {
		return err
	}
	nl, err := m.listings.restore(ctx)
	if err != nil {
		return err
	}
	m.env.logger.InfoContext(ctx, "market: state restored",
		slog.Int("auctions", na),
		slog.Int("listings", nl),
	)
	return nil
}

// GetCurrentTime returns the logical clock value the engines use.
func (m *Market) GetCurrentTime() int64 {
	return m.env.clock.Now()
}

// CreateAuction opens an auction for id on behalf of its current owner.
func (m *Market) CreateAuction(ctx context.Context, id domain.AssetID, startingPrice *big.Int, startTime, endTime int64, caller common.Address) (domain.Auction, error) {
	return m.auctions.Create(ctx, id, startingPrice, startTime, endTime, caller)
}

// PlaceBid bids amount on the active auction for id.
func (m *Market) PlaceBid(ctx context.Context, id domain.AssetID, amount *big.Int, bidder common.Address) (domain.Auction, error) {
	return m.auctions.PlaceBid(ctx, id, amount, bidder)
}

// FinalizeAuction settles the auction for id.
func (m *Market) FinalizeAuction(ctx context.Context, id domain.AssetID, caller common.Address) (domain.Auction, error) {
	return m.auctions.Finalize(ctx, id, caller)
}

// SellNFT lists id at a fixed price.
func (m *Market) SellNFT(ctx context.Context, id domain.AssetID, price *big.Int, caller common.Address) (domain.Listing, error) {
	return m.listings.Sell(ctx, id, price, caller)
}

// BuyNFT purchases the listed asset id.
func (m *Market) BuyNFT(ctx context.Context, id domain.AssetID, payment *big.Int, buyer common.Address) (domain.Listing, error) {
	return m.listings.Buy(ctx, id, payment, buyer)
}

// GetAuction returns the latest auction recorded for id, active or not.
func (m *Market) GetAuction(id domain.AssetID) (domain.Auction, bool) {
	return m.auctions.Get(id)
}

// ActiveAuctions lists the auctions currently open or awaiting finalization.
func (m *Market) ActiveAuctions() []domain.Auction {
	return m.auctions.Active()
}

// Escrowed returns the funds held for id's current highest bidder.
func (m *Market) Escrowed(id domain.AssetID) *big.Int {
	return m.auctions.Escrowed(id)
}

// GetListing returns the listing for id if it is listed.
func (m *Market) GetListing(id domain.AssetID) (domain.Listing, bool) {
	return m.listings.Get(id)
}

// Listings returns all current listings ordered by asset id.
func (m *Market) Listings() []domain.Listing {
	return m.listings.All()
}

// ListOwned is the client query path for the assets owner holds.
func (m *Market) ListOwned(ctx context.Context, owner common.Address) ([]domain.AssetID, error) {
	ids, err := m.env.registry.ListOwned(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("market: list owned: %w", err)
	}
	return ids, nil
}

// lookup fetches the asset and rejects nonexistent ones.
func (e *env) lookup(ctx context.Context, op string, id domain.AssetID) (domain.Asset, error) {
	asset, err := e.registry.Lookup(ctx, id)
	if err != nil {
		return domain.Asset{}, fmt.Errorf("market: %s: %w", op, err)
	}
	if !asset.Exists {
		return domain.Asset{}, domain.Reject(op, domain.ErrValidation, "asset %s does not exist", id)
	}
	return asset, nil
}

// abort unwinds j and returns me with any compensation failures attached.
func abort(ctx context.Context, j *journal, me *domain.MarketError) error {
	if uerr := j.unwind(ctx); uerr != nil {
		if me.Err != nil {
			me.Err = fmt.Errorf("%w; %w", me.Err, uerr)
		} else {
			me.Err = uerr
		}
	}
	return me
}

// abortErr unwinds j for an infrastructure failure that is not a rejection.
func abortErr(ctx context.Context, j *journal, err error) error {
	if uerr := j.unwind(ctx); uerr != nil {
		return fmt.Errorf("%w; %w", err, uerr)
	}
	return err
}

func paymentFailure(op string, err error, format string, args ...any) *domain.MarketError {
	return domain.RejectCause(op, domain.ErrPayment, err, format, args...)
}
