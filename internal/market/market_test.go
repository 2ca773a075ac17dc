package market

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alanyoungcy/nftmarket/internal/clock"
	"github.com/alanyoungcy/nftmarket/internal/domain"
	"github.com/alanyoungcy/nftmarket/internal/ledger"
	"github.com/alanyoungcy/nftmarket/internal/lock"
	"github.com/alanyoungcy/nftmarket/internal/registry"
	"github.com/alanyoungcy/nftmarket/internal/store/memory"
	"github.com/ethereum/go-ethereum/common"
	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
)

var (
	owner    = common.HexToAddress("0x000000000000000000000000000000000000000a")
	bidder1  = common.HexToAddress("0x000000000000000000000000000000000000000b")
	bidder2  = common.HexToAddress("0x000000000000000000000000000000000000000c")
	outsider = common.HexToAddress("0x000000000000000000000000000000000000000d")
)

const t0 = int64(1_000)

type recorder struct {
	mu     sync.Mutex
	events []domain.Event
}

func (r *recorder) Emit(_ context.Context, evt domain.Event) {
	r.mu.Lock()
	r.events = append(r.events, evt)
	r.mu.Unlock()
}

func (r *recorder) last() domain.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.events) == 0 {
		return domain.Event{}
	}
	return r.events[len(r.events)-1]
}

func (r *recorder) count(typ domain.EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Type == typ {
			n++
		}
	}
	return n
}

type fixture struct {
	m        *Market
	reg      *registry.Memory
	funds    *ledger.Ledger
	clk      *clock.Manual
	rec      *recorder
	auctions *memory.AuctionStore
	listings *memory.ListingStore
	balances *memory.BalanceStore
	locks    *lock.Keyed
	logger   *slog.Logger
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f := &fixture{
		reg:      registry.NewMemory(),
		clk:      clock.NewManual(t0),
		rec:      &recorder{},
		auctions: memory.NewAuctionStore(),
		listings: memory.NewListingStore(),
		balances: memory.NewBalanceStore(),
		locks:    lock.NewKeyed(),
		logger:   logger,
	}
	f.funds = ledger.New(f.balances, logger)
	f.m = f.instance(f.rec, Config{LockWait: 200 * time.Millisecond, RetryInterval: time.Millisecond})
	return f
}

// instance builds a Market over the fixture's registry, ledger, stores and
// lock manager.
func (f *fixture) instance(emitter domain.Emitter, cfg Config) *Market {
	return New(Deps{
		Registry: registry.NewAdapter(f.reg, f.logger),
		Funds:    f.funds,
		Clock:    f.clk,
		Locks:    f.locks,
		Auctions: f.auctions,
		Listings: f.listings,
		Emitter:  emitter,
		Logger:   f.logger,
	}, cfg)
}

func (f *fixture) mint(t *testing.T, to common.Address) domain.AssetID {
	t.Helper()
	id, err := f.reg.Mint(to, "asset")
	assert.NoError(t, err)
	return id
}

func (f *fixture) deposit(t *testing.T, to common.Address, amount int64) {
	t.Helper()
	_, err := f.funds.Deposit(context.Background(), to, big.NewInt(amount))
	assert.NoError(t, err)
}

func (f *fixture) balance(t *testing.T, a common.Address) string {
	t.Helper()
	b, err := f.funds.Balance(context.Background(), a)
	assert.NoError(t, err)
	return b.String()
}

func (f *fixture) ownerOf(t *testing.T, id domain.AssetID) common.Address {
	t.Helper()
	a, err := f.reg.Lookup(context.Background(), id)
	assert.NoError(t, err)
	return a.Owner
}

// openAuction mints an asset to owner and opens [t0, t0+120] at price 100.
func (f *fixture) openAuction(t *testing.T) domain.AssetID {
	t.Helper()
	id := f.mint(t, owner)
	_, err := f.m.CreateAuction(context.Background(), id, big.NewInt(100), t0, t0+120, owner)
	assert.NoError(t, err)
	return id
}

func eth(t *testing.T, s string) *big.Int {
	t.Helper()
	v, err := domain.ParseAmount(s)
	assert.NoError(t, err)
	return v
}

func reason(err error) string {
	var me *domain.MarketError
	if errors.As(err, &me) {
		return me.Reason
	}
	return ""
}

func TestCreateAuction_OwnerOpensAuction(t *testing.T) {
	f := newFixture(t)
	id := f.openAuction(t)

	a, ok := f.m.GetAuction(id)
	assert.True(t, ok)
	check.True(t, a.Active)
	check.Equal(t, owner, a.Seller)
	check.Equal(t, domain.NoAddress, a.HighestBidder)
	check.Equal(t, "0", a.HighestBid.String())
	check.Equal(t, "100", a.StartingPrice.String())

	evt := f.rec.last()
	check.Equal(t, domain.EventAuctionCreated, evt.Type)
	check.Equal(t, id, evt.AssetID)
	check.Equal(t, t0+120, evt.EndTime)

	stored, err := f.auctions.Get(context.Background(), id)
	assert.NoError(t, err)
	check.True(t, stored.Active)
}

func TestCreateAuction_Rejections(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := f.mint(t, owner)
	listed := f.mint(t, owner)
	_, err := f.m.SellNFT(ctx, listed, eth(t, "0.05 eth"), owner)
	assert.NoError(t, err)

	tests := []struct {
		name   string
		asset  domain.AssetID
		start  int64
		end    int64
		caller common.Address
		kind   error
	}{
		{name: "non-owner", asset: id, start: t0, end: t0 + 120, caller: outsider, kind: domain.ErrAuthorization},
		{name: "nonexistent asset", asset: 99, start: t0, end: t0 + 120, caller: owner, kind: domain.ErrValidation},
		{name: "shorter than a minute", asset: id, start: t0, end: t0 + 59, caller: owner, kind: domain.ErrValidation},
		{name: "end before start", asset: id, start: t0 + 100, end: t0 + 10, caller: owner, kind: domain.ErrValidation},
		{name: "start in the past", asset: id, start: t0 - 1, end: t0 + 120, caller: owner, kind: domain.ErrValidation},
		{name: "listed asset", asset: listed, start: t0, end: t0 + 120, caller: owner, kind: domain.ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.m.CreateAuction(ctx, tt.asset, big.NewInt(100), tt.start, tt.end, tt.caller)
			check.True(t, errors.Is(err, tt.kind))
			_, ok := f.m.GetAuction(tt.asset)
			check.False(t, ok)
		})
	}

	_, err = f.m.CreateAuction(ctx, id, big.NewInt(100), t0, t0+60, owner)
	assert.NoError(t, err)
	_, err = f.m.CreateAuction(ctx, id, big.NewInt(100), t0, t0+60, owner)
	check.True(t, errors.Is(err, domain.ErrValidation))
	check.Equal(t, 1, f.rec.count(domain.EventAuctionCreated))
}

func TestPlaceBid_FirstBidBelowStartingPriceAccepted(t *testing.T) {
	f := newFixture(t)
	id := f.openAuction(t)
	f.deposit(t, bidder1, 50)

	a, err := f.m.PlaceBid(context.Background(), id, big.NewInt(50), bidder1)
	assert.NoError(t, err)
	check.Equal(t, bidder1, a.HighestBidder)
	check.Equal(t, "50", f.m.Escrowed(id).String())
}

func TestPlaceBid_WindowBoundsAreInclusive(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := f.mint(t, owner)
	_, err := f.m.CreateAuction(ctx, id, big.NewInt(100), t0+10, t0+130, owner)
	assert.NoError(t, err)
	f.deposit(t, bidder1, 150)
	f.deposit(t, bidder2, 200)

	f.clk.Set(t0 + 9)
	_, err = f.m.PlaceBid(ctx, id, big.NewInt(150), bidder1)
	check.True(t, errors.Is(err, domain.ErrState))

	f.clk.Set(t0 + 10)
	_, err = f.m.PlaceBid(ctx, id, big.NewInt(150), bidder1)
	check.NoError(t, err)

	f.clk.Set(t0 + 130)
	a, err := f.m.PlaceBid(ctx, id, big.NewInt(200), bidder2)
	check.NoError(t, err)
	check.Equal(t, bidder2, a.HighestBidder)
	check.Equal(t, "150", f.balance(t, bidder1))

	// Still the last bidding second, so finalize must wait.
	_, err = f.m.FinalizeAuction(ctx, id, owner)
	check.True(t, errors.Is(err, domain.ErrState))
}

func TestPlaceBid_OutbidRefunds(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := f.openAuction(t)
	f.deposit(t, bidder1, 150)
	f.deposit(t, bidder2, 300)

	_, err := f.m.PlaceBid(ctx, id, big.NewInt(150), bidder1)
	assert.NoError(t, err)
	check.Equal(t, "0", f.balance(t, bidder1))

	f.clk.Advance(30)
	a, err := f.m.PlaceBid(ctx, id, big.NewInt(200), bidder2)
	assert.NoError(t, err)
	check.Equal(t, bidder2, a.HighestBidder)
	check.Equal(t, "200", a.HighestBid.String())
	check.Equal(t, "150", f.balance(t, bidder1))
	check.Equal(t, "100", f.balance(t, bidder2))
	check.Equal(t, "200", f.balance(t, domain.CustodyAccount))
	check.Equal(t, "200", f.m.Escrowed(id).String())

	evt := f.rec.last()
	check.Equal(t, domain.EventBidPlaced, evt.Type)
	check.Equal(t, bidder2, evt.Counterparty)
	check.Equal(t, "200", evt.Amount.String())
}

func TestPlaceBid_Rejections(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := f.mint(t, owner)
	_, err := f.m.CreateAuction(ctx, id, big.NewInt(100), t0+10, t0+130, owner)
	assert.NoError(t, err)
	f.deposit(t, bidder1, 1_000)
	f.deposit(t, bidder2, 100)

	_, err = f.m.PlaceBid(ctx, 42, big.NewInt(10), bidder1)
	check.True(t, errors.Is(err, domain.ErrState))

	_, err = f.m.PlaceBid(ctx, id, big.NewInt(10), bidder1)
	check.True(t, errors.Is(err, domain.ErrState))

	f.clk.Set(t0 + 10)
	_, err = f.m.PlaceBid(ctx, id, big.NewInt(150), bidder1)
	assert.NoError(t, err)

	_, err = f.m.PlaceBid(ctx, id, big.NewInt(150), bidder2)
	check.True(t, errors.Is(err, domain.ErrState))
	check.True(t, strings.Contains(reason(err), "150"))

	_, err = f.m.PlaceBid(ctx, id, big.NewInt(151), bidder2)
	check.True(t, errors.Is(err, domain.ErrPayment))
	check.True(t, errors.Is(err, domain.ErrInsufficientFunds))
	check.Equal(t, "100", f.balance(t, bidder2))

	f.clk.Set(t0 + 131)
	_, err = f.m.PlaceBid(ctx, id, big.NewInt(500), bidder1)
	check.True(t, errors.Is(err, domain.ErrState))

	a, _ := f.m.GetAuction(id)
	check.Equal(t, bidder1, a.HighestBidder)
	check.Equal(t, "150", a.HighestBid.String())
}

func TestFinalize_TransfersAndPays(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := f.openAuction(t)
	f.deposit(t, bidder1, 150)
	f.deposit(t, bidder2, 200)
	_, err := f.m.PlaceBid(ctx, id, big.NewInt(150), bidder1)
	assert.NoError(t, err)
	_, err = f.m.PlaceBid(ctx, id, big.NewInt(200), bidder2)
	assert.NoError(t, err)

	f.clk.Set(t0 + 121)
	a, err := f.m.FinalizeAuction(ctx, id, owner)
	assert.NoError(t, err)
	check.False(t, a.Active)

	check.Equal(t, bidder2, f.ownerOf(t, id))
	check.Equal(t, "200", f.balance(t, owner))
	check.Equal(t, "0", f.balance(t, domain.CustodyAccount))
	check.Equal(t, "0", f.m.Escrowed(id).String())

	evt := f.rec.last()
	check.Equal(t, domain.EventAuctionFinalized, evt.Type)
	check.Equal(t, bidder2, evt.Counterparty)
	check.Equal(t, "200", evt.Amount.String())

	// Idempotence: the second finalize is rejected and nothing moves again.
	_, err = f.m.FinalizeAuction(ctx, id, bidder2)
	check.True(t, errors.Is(err, domain.ErrState))
	check.Equal(t, "200", f.balance(t, owner))
	check.Equal(t, 1, f.rec.count(domain.EventAuctionFinalized))
}

func TestFinalize_Rejections(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := f.openAuction(t)

	f.clk.Set(t0 + 120)
	_, err := f.m.FinalizeAuction(ctx, id, owner)
	check.True(t, errors.Is(err, domain.ErrState))

	f.clk.Set(t0 + 121)
	_, err = f.m.FinalizeAuction(ctx, id, outsider)
	check.True(t, errors.Is(err, domain.ErrAuthorization))

	_, err = f.m.FinalizeAuction(ctx, 77, owner)
	check.True(t, errors.Is(err, domain.ErrState))

	a, _ := f.m.GetAuction(id)
	check.True(t, a.Active)
}

func TestFinalize_NoBids(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := f.openAuction(t)

	f.clk.Set(t0 + 500)
	_, err := f.m.FinalizeAuction(ctx, id, owner)
	assert.NoError(t, err)
	check.Equal(t, owner, f.ownerOf(t, id))

	evt := f.rec.last()
	check.Equal(t, domain.EventAuctionFinalized, evt.Type)
	check.Equal(t, domain.NoAddress, evt.Counterparty)

	// The asset can be auctioned again once the previous auction closed.
	_, err = f.m.CreateAuction(ctx, id, big.NewInt(1), t0+500, t0+560, owner)
	check.NoError(t, err)
}

func TestFinalize_AuthorizesCurrentOwnerPaysRecordedSeller(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := f.openAuction(t)
	f.deposit(t, bidder1, 150)
	_, err := f.m.PlaceBid(ctx, id, big.NewInt(150), bidder1)
	assert.NoError(t, err)

	// Ownership moves outside the marketplace while the auction is open.
	assert.NoError(t, f.reg.Transfer(ctx, id, outsider))

	f.clk.Set(t0 + 121)
	_, err = f.m.FinalizeAuction(ctx, id, owner)
	check.True(t, errors.Is(err, domain.ErrAuthorization))

	_, err = f.m.FinalizeAuction(ctx, id, outsider)
	assert.NoError(t, err)
	check.Equal(t, bidder1, f.ownerOf(t, id))
	check.Equal(t, "150", f.balance(t, owner))
	check.Equal(t, "0", f.balance(t, outsider))
}

func TestFinalize_PayoutFailureRollsBack(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := f.openAuction(t)
	f.deposit(t, bidder1, 150)
	_, err := f.m.PlaceBid(ctx, id, big.NewInt(150), bidder1)
	assert.NoError(t, err)

	f.funds.OnPayment(func(_ context.Context, to common.Address, _ *big.Int) error {
		if to == owner {
			return errors.New("seller cannot receive funds")
		}
		return nil
	})

	f.clk.Set(t0 + 121)
	_, err = f.m.FinalizeAuction(ctx, id, owner)
	check.True(t, errors.Is(err, domain.ErrPayment))

	a, _ := f.m.GetAuction(id)
	check.True(t, a.Active)
	check.Equal(t, bidder1, a.HighestBidder)
	check.Equal(t, owner, f.ownerOf(t, id))
	check.Equal(t, "150", f.balance(t, domain.CustodyAccount))
	check.Equal(t, "0", f.balance(t, owner))
	check.Equal(t, 0, f.rec.count(domain.EventAuctionFinalized))

	stored, err := f.auctions.Get(ctx, id)
	assert.NoError(t, err)
	check.True(t, stored.Active)
}

func TestSell_Rejections(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := f.mint(t, owner)

	_, err := f.m.SellNFT(ctx, id, eth(t, "0.02 eth"), owner)
	check.True(t, errors.Is(err, domain.ErrValidation))

	_, err = f.m.SellNFT(ctx, id, eth(t, "0.05 eth"), outsider)
	check.True(t, errors.Is(err, domain.ErrAuthorization))

	_, ok := f.m.GetListing(id)
	check.False(t, ok)

	_, err = f.m.SellNFT(ctx, id, domain.MinSalePrice, owner)
	assert.NoError(t, err)
	_, err = f.m.SellNFT(ctx, id, eth(t, "0.05 eth"), owner)
	check.True(t, errors.Is(err, domain.ErrValidation))

	_, err = f.m.SellNFT(ctx, 99, eth(t, "0.05 eth"), owner)
	check.True(t, errors.Is(err, domain.ErrValidation))
	check.Equal(t, 1, f.rec.count(domain.EventNFTListed))
}

func TestBuy_SelfPurchase(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := f.mint(t, owner)
	price := eth(t, "0.05 eth")
	_, err := f.m.SellNFT(ctx, id, price, owner)
	assert.NoError(t, err)
	_, err = f.funds.Deposit(ctx, owner, price)
	assert.NoError(t, err)

	_, err = f.m.BuyNFT(ctx, id, price, owner)
	check.True(t, errors.Is(err, domain.ErrValidation))
	_, ok := f.m.GetListing(id)
	check.True(t, ok)
}

func TestBuy_RoundTrip(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := f.mint(t, owner)
	price := eth(t, "0.05 eth")
	_, err := f.m.SellNFT(ctx, id, price, owner)
	assert.NoError(t, err)
	_, err = f.funds.Deposit(ctx, bidder1, eth(t, "1 eth"))
	assert.NoError(t, err)

	_, err = f.m.BuyNFT(ctx, id, price, bidder1)
	assert.NoError(t, err)
	check.Equal(t, bidder1, f.ownerOf(t, id))
	_, ok := f.m.GetListing(id)
	check.False(t, ok)
	check.Equal(t, price.String(), f.balance(t, owner))
	check.Equal(t, "950000000000000000", f.balance(t, bidder1))
	check.Equal(t, "0", f.balance(t, domain.CustodyAccount))

	evt := f.rec.last()
	check.Equal(t, domain.EventNFTSold, evt.Type)
	check.Equal(t, owner, evt.Seller)
	check.Equal(t, bidder1, evt.Counterparty)

	_, err = f.m.BuyNFT(ctx, id, price, bidder2)
	check.True(t, errors.Is(err, domain.ErrState))

	_, err = f.listings.Get(ctx, id)
	check.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestBuy_PaymentMismatch(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := f.mint(t, owner)
	_, err := f.m.SellNFT(ctx, id, eth(t, "0.05 eth"), owner)
	assert.NoError(t, err)
	_, err = f.funds.Deposit(ctx, bidder1, eth(t, "1 eth"))
	assert.NoError(t, err)

	_, err = f.m.BuyNFT(ctx, id, eth(t, "0.04 eth"), bidder1)
	check.True(t, errors.Is(err, domain.ErrPayment))
	check.Equal(t, "1000000000000000000", f.balance(t, bidder1))
	check.Equal(t, owner, f.ownerOf(t, id))
}

func TestBuy_TransferFailureUnwinds(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := f.mint(t, owner)
	price := eth(t, "0.05 eth")
	_, err := f.m.SellNFT(ctx, id, price, owner)
	assert.NoError(t, err)
	_, err = f.funds.Deposit(ctx, bidder1, price)
	assert.NoError(t, err)

	f.reg.SetTransferHook(func(context.Context, domain.AssetID, common.Address, common.Address) error {
		return errors.New("receiver rejected token")
	})

	_, err = f.m.BuyNFT(ctx, id, price, bidder1)
	check.True(t, errors.Is(err, domain.ErrPayment))
	check.Equal(t, owner, f.ownerOf(t, id))
	check.Equal(t, price.String(), f.balance(t, bidder1))
	check.Equal(t, "0", f.balance(t, owner))
	check.Equal(t, "0", f.balance(t, domain.CustodyAccount))

	l, ok := f.m.GetListing(id)
	assert.True(t, ok)
	check.Equal(t, price.String(), l.Price.String())
	_, err = f.listings.Get(ctx, id)
	check.NoError(t, err)
	check.Equal(t, 0, f.rec.count(domain.EventNFTSold))
}

func TestBuy_FailedCompensationIsReported(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := f.mint(t, owner)
	price := eth(t, "0.05 eth")
	_, err := f.m.SellNFT(ctx, id, price, owner)
	assert.NoError(t, err)
	_, err = f.funds.Deposit(ctx, bidder1, price)
	assert.NoError(t, err)

	// The seller moves the payout away as soon as it lands.
	f.funds.OnPayment(func(ctx context.Context, to common.Address, amount *big.Int) error {
		if to == owner {
			return f.funds.Collect(ctx, owner, amount)
		}
		return nil
	})
	f.reg.SetTransferHook(func(context.Context, domain.AssetID, common.Address, common.Address) error {
		return errors.New("receiver rejected token")
	})

	_, err = f.m.BuyNFT(ctx, id, price, bidder1)
	check.True(t, errors.Is(err, domain.ErrPayment))
	check.True(t, errors.Is(err, domain.ErrInsufficientFunds))
	check.Equal(t, owner, f.ownerOf(t, id))
}

func TestListedAndAuctionedAreExclusive(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	listed := f.mint(t, owner)
	_, err := f.m.SellNFT(ctx, listed, eth(t, "0.05 eth"), owner)
	assert.NoError(t, err)
	_, err = f.m.CreateAuction(ctx, listed, big.NewInt(1), t0, t0+60, owner)
	check.True(t, errors.Is(err, domain.ErrValidation))

	auctioned := f.openAuction(t)
	_, err = f.m.SellNFT(ctx, auctioned, eth(t, "0.05 eth"), owner)
	check.True(t, errors.Is(err, domain.ErrValidation))

	for _, id := range []domain.AssetID{listed, auctioned} {
		a, _ := f.m.GetAuction(id)
		_, isListed := f.m.GetListing(id)
		check.False(t, a.Active && isListed)
	}
}

func TestReentrantBidFromRefundIsRejected(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := f.openAuction(t)
	f.deposit(t, bidder1, 1_000)
	f.deposit(t, bidder2, 200)
	_, err := f.m.PlaceBid(ctx, id, big.NewInt(150), bidder1)
	assert.NoError(t, err)

	var reentryErr error
	f.funds.OnPayment(func(ctx context.Context, to common.Address, _ *big.Int) error {
		if to == bidder1 {
			_, reentryErr = f.m.PlaceBid(ctx, id, big.NewInt(500), bidder1)
		}
		return nil
	})

	_, err = f.m.PlaceBid(ctx, id, big.NewInt(200), bidder2)
	assert.NoError(t, err)
	check.True(t, errors.Is(reentryErr, domain.ErrState))
	check.True(t, strings.Contains(reason(reentryErr), "reentrant"))

	a, _ := f.m.GetAuction(id)
	check.Equal(t, bidder2, a.HighestBidder)
	check.Equal(t, "1000", f.balance(t, bidder1))
	check.Equal(t, "200", f.balance(t, domain.CustodyAccount))
}

func TestRejectedRefundAbortsBid(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := f.openAuction(t)
	f.deposit(t, bidder1, 150)
	f.deposit(t, bidder2, 200)
	_, err := f.m.PlaceBid(ctx, id, big.NewInt(150), bidder1)
	assert.NoError(t, err)

	f.funds.OnPayment(func(_ context.Context, to common.Address, _ *big.Int) error {
		if to == bidder1 {
			return errors.New("bidder refuses refund")
		}
		return nil
	})

	_, err = f.m.PlaceBid(ctx, id, big.NewInt(200), bidder2)
	check.True(t, errors.Is(err, domain.ErrPayment))

	a, _ := f.m.GetAuction(id)
	check.Equal(t, bidder1, a.HighestBidder)
	check.Equal(t, "150", a.HighestBid.String())
	check.Equal(t, "200", f.balance(t, bidder2))
	check.Equal(t, "150", f.balance(t, domain.CustodyAccount))
	check.Equal(t, 1, f.rec.count(domain.EventBidPlaced))
}

func TestCrossAssetCallbackIsAllowed(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	first := f.openAuction(t)
	second := f.openAuction(t)
	f.deposit(t, bidder1, 1_000)
	f.deposit(t, bidder2, 200)
	_, err := f.m.PlaceBid(ctx, first, big.NewInt(150), bidder1)
	assert.NoError(t, err)

	var nested error
	f.funds.OnPayment(func(ctx context.Context, to common.Address, _ *big.Int) error {
		if to == bidder1 {
			_, nested = f.m.PlaceBid(ctx, second, big.NewInt(100), bidder1)
		}
		return nil
	})

	_, err = f.m.PlaceBid(ctx, first, big.NewInt(200), bidder2)
	assert.NoError(t, err)
	check.NoError(t, nested)
	a, _ := f.m.GetAuction(second)
	check.Equal(t, bidder1, a.HighestBidder)
}

func TestConcurrentBidsKeepSingleEscrow(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := f.openAuction(t)

	bidders := make([]common.Address, 8)
	for i := range bidders {
		bidders[i] = common.BigToAddress(big.NewInt(int64(0x100 + i)))
		f.deposit(t, bidders[i], 10_000)
	}

	var wg sync.WaitGroup
	for i, b := range bidders {
		wg.Add(1)
		go func(i int, b common.Address) {
			defer wg.Done()
			_, _ = f.m.PlaceBid(ctx, id, big.NewInt(int64(1_000+i*100)), b)
		}(i, b)
	}
	wg.Wait()

	a, _ := f.m.GetAuction(id)
	check.Equal(t, a.HighestBid.String(), f.balance(t, domain.CustodyAccount))
	for _, b := range bidders {
		if b == a.HighestBidder {
			continue
		}
		check.Equal(t, "10000", f.balance(t, b))
	}
}

func TestInstancesSharingStoresSeeEachOther(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.m
	b := f.instance(f.rec, Config{LockWait: 200 * time.Millisecond, RetryInterval: time.Millisecond})

	auctioned := f.openAuction(t)
	_, err := b.SellNFT(ctx, auctioned, eth(t, "0.05 eth"), owner)
	check.True(t, errors.Is(err, domain.ErrValidation))
	_, ok := b.GetListing(auctioned)
	check.False(t, ok)

	listed := f.mint(t, owner)
	price := eth(t, "0.05 eth")
	_, err = b.SellNFT(ctx, listed, price, owner)
	assert.NoError(t, err)
	_, err = a.CreateAuction(ctx, listed, big.NewInt(1), t0, t0+60, owner)
	check.True(t, errors.Is(err, domain.ErrValidation))

	f.deposit(t, bidder1, 150)
	f.deposit(t, bidder2, 200)
	_, err = a.PlaceBid(ctx, auctioned, big.NewInt(150), bidder1)
	assert.NoError(t, err)
	_, err = b.PlaceBid(ctx, auctioned, big.NewInt(150), bidder2)
	check.True(t, errors.Is(err, domain.ErrState))
	_, err = b.PlaceBid(ctx, auctioned, big.NewInt(200), bidder2)
	assert.NoError(t, err)
	check.Equal(t, "150", f.balance(t, bidder1))

	f.clk.Set(t0 + 121)
	_, err = a.FinalizeAuction(ctx, auctioned, owner)
	assert.NoError(t, err)
	_, err = b.FinalizeAuction(ctx, auctioned, bidder2)
	check.True(t, errors.Is(err, domain.ErrState))
	check.Equal(t, "200", f.balance(t, owner))
	check.Equal(t, 1, f.rec.count(domain.EventAuctionFinalized))

	_, err = f.funds.Deposit(ctx, bidder1, price)
	assert.NoError(t, err)
	_, err = a.BuyNFT(ctx, listed, price, bidder1)
	assert.NoError(t, err)
	_, err = b.BuyNFT(ctx, listed, price, bidder1)
	check.True(t, errors.Is(err, domain.ErrState))
	_, ok = b.GetListing(listed)
	check.False(t, ok)
	check.Equal(t, bidder1, f.ownerOf(t, listed))
}

// stallingEmitter blocks inside its first Emit until release is closed.
type stallingEmitter struct {
	stalled atomic.Bool
	entered chan struct{}
	release chan struct{}
}

func (e *stallingEmitter) Emit(context.Context, domain.Event) {
	if e.stalled.CompareAndSwap(false, true) {
		close(e.entered)
		<-e.release
	}
}

func TestSlowEmitterDoesNotHoldAssetLock(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	em := &stallingEmitter{entered: make(chan struct{}), release: make(chan struct{})}
	m := f.instance(em, Config{LockWait: 100 * time.Millisecond, RetryInterval: time.Millisecond})
	id := f.mint(t, owner)
	f.deposit(t, bidder1, 150)

	created := make(chan error, 1)
	go func() {
		_, err := m.CreateAuction(ctx, id, big.NewInt(100), t0, t0+120, owner)
		created <- err
	}()
	<-em.entered

	a, err := m.PlaceBid(ctx, id, big.NewInt(150), bidder1)
	check.NoError(t, err)
	check.Equal(t, bidder1, a.HighestBidder)

	close(em.release)
	check.NoError(t, <-created)
}

func TestRestore(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := f.openAuction(t)
	listed := f.mint(t, owner)
	_, err := f.m.SellNFT(ctx, listed, eth(t, "0.05 eth"), owner)
	assert.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	restarted := New(Deps{
		Registry: registry.NewAdapter(f.reg, logger),
		Funds:    f.funds,
		Clock:    f.clk,
		Locks:    lock.NewKeyed(),
		Auctions: f.auctions,
		Listings: f.listings,
		Logger:   logger,
	}, Config{})
	assert.NoError(t, restarted.Restore(ctx))

	a, ok := restarted.GetAuction(id)
	check.True(t, ok)
	check.True(t, a.Active)
	_, ok = restarted.GetListing(listed)
	check.True(t, ok)
	check.Equal(t, 1, len(restarted.ActiveAuctions()))
	check.Equal(t, 1, len(restarted.Listings()))
}

func TestGetCurrentTimeAndListOwned(t *testing.T) {
	f := newFixture(t)
	f.mint(t, owner)
	f.mint(t, bidder1)
	f.mint(t, owner)

	check.Equal(t, t0, f.m.GetCurrentTime())
	f.clk.Advance(5)
	check.Equal(t, t0+5, f.m.GetCurrentTime())

	ids, err := f.m.ListOwned(context.Background(), owner)
	assert.NoError(t, err)
	check.Equal(t, []domain.AssetID{1, 3}, ids)
}
