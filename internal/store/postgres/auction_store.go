package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/nftmarket/internal/domain"
)

// AuctionStore implements domain.AuctionStore.
type AuctionStore struct {
	pool *pgxpool.Pool
}

// NewAuctionStore creates an AuctionStore over pool.
func NewAuctionStore(pool *pgxpool.Pool) *AuctionStore {
	return &AuctionStore{pool: pool}
}

const auctionCols = `asset_id::text, seller, starting_price, start_time, end_time,
	highest_bidder, highest_bid, active, created_at, updated_at`

// Save upserts the auction row for a.AssetID.
func (s *AuctionStore) Save(ctx context.Context, a domain.Auction) error {
	const query = `
		INSERT INTO auctions (
			asset_id, seller, starting_price, start_time, end_time,
			highest_bidder, highest_bid, active, created_at, updated_at
		) VALUES ($1::numeric, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (asset_id) DO UPDATE SET
			seller         = EXCLUDED.seller,
			starting_price = EXCLUDED.starting_price,
			start_time     = EXCLUDED.start_time,
			end_time       = EXCLUDED.end_time,
			highest_bidder = EXCLUDED.highest_bidder,
			highest_bid    = EXCLUDED.highest_bid,
			active         = EXCLUDED.active,
			created_at     = EXCLUDED.created_at,
			updated_at     = EXCLUDED.updated_at`

	_, err := s.pool.Exec(ctx, query,
		a.AssetID.String(), a.Seller.Hex(), weiText(a.StartingPrice),
		a.StartTime, a.EndTime,
		a.HighestBidder.Hex(), weiText(a.HighestBid), a.Active,
		a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: save auction %s: %w", a.AssetID, err)
	}
	return nil
}

func scanAuction(row rowScanner) (domain.Auction, error) {
	var (
		a                         domain.Auction
		id, seller, bidder        string
		startingPrice, highestBid string
	)
	if err := row.Scan(&id, &seller, &startingPrice, &a.StartTime, &a.EndTime,
		&bidder, &highestBid, &a.Active, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return domain.Auction{}, err
	}

	var err error
	if a.AssetID, err = parseAssetID(id); err != nil {
		return domain.Auction{}, err
	}
	if a.StartingPrice, err = parseWei("starting_price", startingPrice); err != nil {
		return domain.Auction{}, err
	}
	if a.HighestBid, err = parseWei("highest_bid", highestBid); err != nil {
		return domain.Auction{}, err
	}
	a.Seller = common.HexToAddress(seller)
	a.HighestBidder = common.HexToAddress(bidder)
	return a, nil
}

// Get returns the auction for id or domain.ErrNotFound.
func (s *AuctionStore) Get(ctx context.Context, id domain.AssetID) (domain.Auction, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+auctionCols+` FROM auctions WHERE asset_id = $1::numeric`, id.String())
	a, err := scanAuction(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Auction{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Auction{}, fmt.Errorf("postgres: get auction %s: %w", id, err)
	}
	return a, nil
}

// ListActive returns every active auction ordered by asset id.
func (s *AuctionStore) ListActive(ctx context.Context) ([]domain.Auction, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+auctionCols+` FROM auctions WHERE active ORDER BY asset_id`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list active auctions: %w", err)
	}
	defer rows.Close()

	var out []domain.Auction
	for rows.Next() {
		a, err := scanAuction(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan auction: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list active auctions rows: %w", err)
	}
	return out, nil
}

var _ domain.AuctionStore = (*AuctionStore)(nil)
