package sqlite

import (
	"context"
	"errors"
	"math/big"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"

	"github.com/alanyoungcy/nftmarket/internal/domain"
)

var (
	alice = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bob   = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(context.Background(), filepath.Join(t.TempDir(), "market.db"))
	assert.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "market.db")
	db, err := Open(context.Background(), path)
	assert.NoError(t, err)
	assert.NoError(t, db.Close())

	db, err = Open(context.Background(), path)
	assert.NoError(t, err)
	defer db.Close()
	check.NoError(t, db.Ping(context.Background()))

	_, err = Open(context.Background(), "  ")
	check.Error(t, err)
}

func TestAuctionStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewAuctionStore(openTestDB(t))

	created := time.UnixMilli(1_700_000_000_123).UTC()
	a := domain.Auction{
		AssetID:       18_000_000_000_000_000_000,
		Seller:        alice,
		StartingPrice: big.NewInt(5),
		StartTime:     100,
		EndTime:       200,
		HighestBid:    big.NewInt(0),
		Active:        true,
		CreatedAt:     created,
		UpdatedAt:     created,
	}
	assert.NoError(t, s.Save(ctx, a))

	a.HighestBidder = bob
	a.HighestBid = big.NewInt(42)
	assert.NoError(t, s.Save(ctx, a))

	got, err := s.Get(ctx, a.AssetID)
	assert.NoError(t, err)
	check.Equal(t, bob, got.HighestBidder)
	check.Equal(t, "42", got.HighestBid.String())
	check.Equal(t, "5", got.StartingPrice.String())
	check.True(t, got.Active)
	check.True(t, created.Equal(got.CreatedAt))

	_, err = s.Get(ctx, 7)
	check.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestAuctionStore_ListActiveOrdered(t *testing.T) {
	ctx := context.Background()
	s := NewAuctionStore(openTestDB(t))
	for _, id := range []domain.AssetID{10, 2, 3} {
		assert.NoError(t, s.Save(ctx, domain.Auction{
			AssetID: id, Seller: alice, StartingPrice: big.NewInt(0), HighestBid: big.NewInt(0),
			Active: id != 3,
		}))
	}
	active, err := s.ListActive(ctx)
	assert.NoError(t, err)
	assert.Equal(t, 2, len(active))
	check.Equal(t, domain.AssetID(2), active[0].AssetID)
	check.Equal(t, domain.AssetID(10), active[1].AssetID)
}

func TestListingStore(t *testing.T) {
	ctx := context.Background()
	s := NewListingStore(openTestDB(t))
	for _, id := range []domain.AssetID{3, 1, 2} {
		assert.NoError(t, s.Save(ctx, domain.Listing{AssetID: id, Seller: alice, Price: big.NewInt(int64(id) * 100)}))
	}

	page, err := s.List(ctx, domain.ListOpts{Limit: 2, Offset: 1})
	assert.NoError(t, err)
	assert.Equal(t, 2, len(page))
	check.Equal(t, domain.AssetID(2), page[0].AssetID)
	check.Equal(t, "300", page[1].Price.String())

	assert.NoError(t, s.Delete(ctx, 1))
	_, err = s.Get(ctx, 1)
	check.True(t, errors.Is(err, domain.ErrNotFound))

	all, err := s.List(ctx, domain.ListOpts{})
	assert.NoError(t, err)
	check.Equal(t, 2, len(all))
}

func TestBalanceStore_AddManyAtomic(t *testing.T) {
	ctx := context.Background()
	s := NewBalanceStore(openTestDB(t))

	bal, err := s.Get(ctx, alice)
	assert.NoError(t, err)
	check.Equal(t, "0", bal.String())

	bal, err = s.Add(ctx, alice, big.NewInt(100))
	assert.NoError(t, err)
	check.Equal(t, "100", bal.String())

	err = s.AddMany(ctx, []domain.BalanceDelta{
		{Account: domain.CustodyAccount, Delta: big.NewInt(150)},
		{Account: alice, Delta: big.NewInt(-150)},
	})
	check.True(t, errors.Is(err, domain.ErrInsufficientFunds))

	bal, _ = s.Get(ctx, alice)
	check.Equal(t, "100", bal.String())
	custody, _ := s.Get(ctx, domain.CustodyAccount)
	check.Equal(t, "0", custody.String())

	assert.NoError(t, s.AddMany(ctx, []domain.BalanceDelta{
		{Account: alice, Delta: big.NewInt(-60)},
		{Account: bob, Delta: big.NewInt(60)},
	}))
	bal, _ = s.Get(ctx, bob)
	check.Equal(t, "60", bal.String())
}

func TestAuditStore_ListWindow(t *testing.T) {
	ctx := context.Background()
	s := NewAuditStore(openTestDB(t))
	now := time.Unix(1_700_000_000, 0)
	s.nowFn = func() time.Time { return now }
	assert.NoError(t, s.Log(ctx, "old", nil))
	now = now.Add(time.Hour)
	assert.NoError(t, s.Log(ctx, "new", map[string]any{"k": "v"}))

	cutoff := now
	older, err := s.List(ctx, domain.ListOpts{Until: &cutoff})
	assert.NoError(t, err)
	assert.Equal(t, 1, len(older))
	check.Equal(t, "old", older[0].Event)

	newer, err := s.List(ctx, domain.ListOpts{Since: &cutoff, Limit: 5})
	assert.NoError(t, err)
	assert.Equal(t, 1, len(newer))
	check.Equal(t, "v", newer[0].Detail["k"])
}
