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

// ListingStore implements domain.ListingStore.
type ListingStore struct {
	pool *pgxpool.Pool
}

// NewListingStore creates a ListingStore over pool.
func NewListingStore(pool *pgxpool.Pool) *ListingStore {
	return &ListingStore{pool: pool}
}

const listingCols = `asset_id::text, seller, price, listed_at`

// Save upserts the listing row.
func (s *ListingStore) Save(ctx context.Context, l domain.Listing) error {
	const query = `
		INSERT INTO listings (asset_id, seller, price, listed_at)
		VALUES ($1::numeric, $2, $3, $4)
		ON CONFLICT (asset_id) DO UPDATE SET
			seller    = EXCLUDED.seller,
			price     = EXCLUDED.price,
			listed_at = EXCLUDED.listed_at`
	if _, err := s.pool.Exec(ctx, query, l.AssetID.String(), l.Seller.Hex(), weiText(l.Price), l.ListedAt); err != nil {
		return fmt.Errorf("postgres: save listing %s: %w", l.AssetID, err)
	}
	return nil
}

func scanListing(row rowScanner) (domain.Listing, error) {
	var (
		l                 domain.Listing
		id, seller, price string
	)
	if err := row.Scan(&id, &seller, &price, &l.ListedAt); err != nil {
		return domain.Listing{}, err
	}
	var err error
	if l.AssetID, err = parseAssetID(id); err != nil {
		return domain.Listing{}, err
	}
	if l.Price, err = parseWei("price", price); err != nil {
		return domain.Listing{}, err
	}
	l.Seller = common.HexToAddress(seller)
	return l, nil
}

// Get returns the listing for id or domain.ErrNotFound.
func (s *ListingStore) Get(ctx context.Context, id domain.AssetID) (domain.Listing, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+listingCols+` FROM listings WHERE asset_id = $1::numeric`, id.String())
	l, err := scanListing(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Listing{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Listing{}, fmt.Errorf("postgres: get listing %s: %w", id, err)
	}
	return l, nil
}

// Delete removes the listing. Deleting a missing listing is not an error.
func (s *ListingStore) Delete(ctx context.Context, id domain.AssetID) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM listings WHERE asset_id = $1::numeric`, id.String()); err != nil {
		return fmt.Errorf("postgres: delete listing %s: %w", id, err)
	}
	return nil
}

// List returns listings ordered by asset id.
func (s *ListingStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.Listing, error) {
	query := `SELECT ` + listingCols + ` FROM listings ORDER BY asset_id`
	args := []any{}
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list listings: %w", err)
	}
	defer rows.Close()

	var out []domain.Listing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan listing: %w", err)
		}
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list listings rows: %w", err)
	}
	return out, nil
}

var _ domain.ListingStore = (*ListingStore)(nil)
