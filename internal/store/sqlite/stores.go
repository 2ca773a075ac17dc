package sqlite

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/nftmarket/internal/domain"
)

type rowScanner interface {
	Scan(dest ...any) error
}

func parseWei(column, s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("sqlite: bad %s value %q", column, s)
	}
	return v, nil
}

func weiText(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

// orderByAsset sorts decimal TEXT ids numerically.
const orderByAsset = ` ORDER BY length(asset_id), asset_id`

// AuctionStore implements domain.AuctionStore.
type AuctionStore struct{ db *DB }

// NewAuctionStore creates an AuctionStore.
func NewAuctionStore(db *DB) *AuctionStore { return &AuctionStore{db: db} }

const auctionCols = `asset_id, seller, starting_price, start_time, end_time,
	highest_bidder, highest_bid, active, created_at, updated_at`

func (s *AuctionStore) Save(ctx context.Context, a domain.Auction) error {
	_, err := s.db.sqlDB.ExecContext(ctx, `
		INSERT INTO auctions (`+auctionCols+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (asset_id) DO UPDATE SET
			seller = excluded.seller,
			starting_price = excluded.starting_price,
			start_time = excluded.start_time,
			end_time = excluded.end_time,
			highest_bidder = excluded.highest_bidder,
			highest_bid = excluded.highest_bid,
			active = excluded.active,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at`,
		a.AssetID.String(), a.Seller.Hex(), weiText(a.StartingPrice),
		a.StartTime, a.EndTime, a.HighestBidder.Hex(), weiText(a.HighestBid),
		a.Active, toMillis(a.CreatedAt), toMillis(a.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("sqlite: save auction %s: %w", a.AssetID, err)
	}
	return nil
}

func scanAuction(row rowScanner) (domain.Auction, error) {
	var (
		a                                  domain.Auction
		id, seller, bidder, start, highest string
		created, updated                   int64
	)
	if err := row.Scan(&id, &seller, &start, &a.StartTime, &a.EndTime,
		&bidder, &highest, &a.Active, &created, &updated); err != nil {
		return domain.Auction{}, err
	}
	var err error
	if a.AssetID, err = domain.ParseAssetID(id); err != nil {
		return domain.Auction{}, fmt.Errorf("sqlite: %w", err)
	}
	if a.StartingPrice, err = parseWei("starting_price", start); err != nil {
		return domain.Auction{}, err
	}
	if a.HighestBid, err = parseWei("highest_bid", highest); err != nil {
		return domain.Auction{}, err
	}
	a.Seller = common.HexToAddress(seller)
	a.HighestBidder = common.HexToAddress(bidder)
	a.CreatedAt = fromMillis(created)
	a.UpdatedAt = fromMillis(updated)
	return a, nil
}

func (s *AuctionStore) Get(ctx context.Context, id domain.AssetID) (domain.Auction, error) {
	a, err := scanAuction(s.db.sqlDB.QueryRowContext(ctx,
		`SELECT `+auctionCols+` FROM auctions WHERE asset_id = ?`, id.String()))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Auction{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Auction{}, fmt.Errorf("sqlite: get auction %s: %w", id, err)
	}
	return a, nil
}

func (s *AuctionStore) ListActive(ctx context.Context) ([]domain.Auction, error) {
	rows, err := s.db.sqlDB.QueryContext(ctx,
		`SELECT `+auctionCols+` FROM auctions WHERE active = 1`+orderByAsset)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list active auctions: %w", err)
	}
	defer rows.Close()

	var out []domain.Auction
	for rows.Next() {
		a, err := scanAuction(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan auction: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// ListingStore implements domain.ListingStore.
type ListingStore struct{ db *DB }

// NewListingStore creates a ListingStore.
func NewListingStore(db *DB) *ListingStore { return &ListingStore{db: db} }

func (s *ListingStore) Save(ctx context.Context, l domain.Listing) error {
	_, err := s.db.sqlDB.ExecContext(ctx, `
		INSERT INTO listings (asset_id, seller, price, listed_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (asset_id) DO UPDATE SET
			seller = excluded.seller,
			price = excluded.price,
			listed_at = excluded.listed_at`,
		l.AssetID.String(), l.Seller.Hex(), weiText(l.Price), toMillis(l.ListedAt))
	if err != nil {
		return fmt.Errorf("sqlite: save listing %s: %w", l.AssetID, err)
	}
	return nil
}

func scanListing(row rowScanner) (domain.Listing, error) {
	var (
		l                 domain.Listing
		id, seller, price string
		listedAt          int64
	)
	if err := row.Scan(&id, &seller, &price, &listedAt); err != nil {
		return domain.Listing{}, err
	}
	var err error
	if l.AssetID, err = domain.ParseAssetID(id); err != nil {
		return domain.Listing{}, fmt.Errorf("sqlite: %w", err)
	}
	if l.Price, err = parseWei("price", price); err != nil {
		return domain.Listing{}, err
	}
	l.Seller = common.HexToAddress(seller)
	l.ListedAt = fromMillis(listedAt)
	return l, nil
}

func (s *ListingStore) Get(ctx context.Context, id domain.AssetID) (domain.Listing, error) {
	l, err := scanListing(s.db.sqlDB.QueryRowContext(ctx,
		`SELECT asset_id, seller, price, listed_at FROM listings WHERE asset_id = ?`, id.String()))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Listing{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Listing{}, fmt.Errorf("sqlite: get listing %s: %w", id, err)
	}
	return l, nil
}

func (s *ListingStore) Delete(ctx context.Context, id domain.AssetID) error {
	if _, err := s.db.sqlDB.ExecContext(ctx, `DELETE FROM listings WHERE asset_id = ?`, id.String()); err != nil {
		return fmt.Errorf("sqlite: delete listing %s: %w", id, err)
	}
	return nil
}

func (s *ListingStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.Listing, error) {
	query := `SELECT asset_id, seller, price, listed_at FROM listings` + orderByAsset
	args := []any{}
	if opts.Limit > 0 || opts.Offset > 0 {
		limit := opts.Limit
		if limit <= 0 {
			limit = -1
		}
		query += ` LIMIT ? OFFSET ?`
		args = append(args, limit, opts.Offset)
	}
	rows, err := s.db.sqlDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list listings: %w", err)
	}
	defer rows.Close()

	var out []domain.Listing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan listing: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// BalanceStore implements domain.BalanceStore. Transactions begin IMMEDIATE
// so concurrent writers serialize on the database lock.
type BalanceStore struct{ db *DB }

// NewBalanceStore creates a BalanceStore.
func NewBalanceStore(db *DB) *BalanceStore { return &BalanceStore{db: db} }

func (s *BalanceStore) Get(ctx context.Context, account common.Address) (*big.Int, error) {
	var amount string
	err := s.db.sqlDB.QueryRowContext(ctx,
		`SELECT amount FROM balances WHERE account = ?`, account.Hex()).Scan(&amount)
	if errors.Is(err, sql.ErrNoRows) {
		return new(big.Int), nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: get balance %s: %w", account.Hex(), err)
	}
	return parseWei("amount", amount)
}

func (s *BalanceStore) Add(ctx context.Context, account common.Address, delta *big.Int) (*big.Int, error) {
	out, err := s.apply(ctx, []domain.BalanceDelta{{Account: account, Delta: delta}})
	if err != nil {
		return nil, err
	}
	return out[account], nil
}

func (s *BalanceStore) AddMany(ctx context.Context, deltas []domain.BalanceDelta) error {
	_, err := s.apply(ctx, deltas)
	return err
}

func (s *BalanceStore) apply(ctx context.Context, deltas []domain.BalanceDelta) (map[common.Address]*big.Int, error) {
	net := make(map[common.Address]*big.Int, len(deltas))
	for _, d := range deltas {
		if cur, ok := net[d.Account]; ok {
			cur.Add(cur, d.Delta)
			continue
		}
		net[d.Account] = new(big.Int).Set(d.Delta)
	}
	accounts := make([]common.Address, 0, len(net))
	for a := range net {
		accounts = append(accounts, a)
	}
	sort.Slice(accounts, func(i, j int) bool { return bytes.Compare(accounts[i][:], accounts[j][:]) < 0 })

	tx, err := s.db.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("sqlite: begin balance tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := toMillis(time.Now())
	result := make(map[common.Address]*big.Int, len(accounts))
	for _, acct := range accounts {
		bal := new(big.Int)
		var current string
		err := tx.QueryRowContext(ctx, `SELECT amount FROM balances WHERE account = ?`, acct.Hex()).Scan(&current)
		switch {
		case errors.Is(err, sql.ErrNoRows):
		case err != nil:
			return nil, fmt.Errorf("sqlite: read balance %s: %w", acct.Hex(), err)
		default:
			if bal, err = parseWei("amount", current); err != nil {
				return nil, err
			}
		}
		bal.Add(bal, net[acct])
		if bal.Sign() < 0 {
			return nil, domain.ErrInsufficientFunds
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO balances (account, amount, updated_at) VALUES (?, ?, ?)
			ON CONFLICT (account) DO UPDATE SET amount = excluded.amount, updated_at = excluded.updated_at`,
			acct.Hex(), bal.String(), now); err != nil {
			return nil, fmt.Errorf("sqlite: write balance %s: %w", acct.Hex(), err)
		}
		result[acct] = bal
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("sqlite: commit balance tx: %w", err)
	}
	return result, nil
}

// AuditStore implements domain.AuditStore.
type AuditStore struct {
	db    *DB
	nowFn func() time.Time
}

// NewAuditStore creates an AuditStore.
func NewAuditStore(db *DB) *AuditStore { return &AuditStore{db: db, nowFn: time.Now} }

func (s *AuditStore) Log(ctx context.Context, event string, detail map[string]any) error {
	detailJSON, err := json.Marshal(detail)
	if err != nil {
		return fmt.Errorf("sqlite: marshal audit detail: %w", err)
	}
	if _, err := s.db.sqlDB.ExecContext(ctx,
		`INSERT INTO audit_log (event, detail, created_at) VALUES (?, ?, ?)`,
		event, string(detailJSON), toMillis(s.nowFn())); err != nil {
		return fmt.Errorf("sqlite: log audit event %s: %w", event, err)
	}
	return nil
}

// List returns entries newest first. Since is inclusive, Until exclusive.
func (s *AuditStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	query := `SELECT id, event, detail, created_at FROM audit_log WHERE 1 = 1`
	args := []any{}
	if opts.Since != nil {
		query += ` AND created_at >= ?`
		args = append(args, toMillis(*opts.Since))
	}
	if opts.Until != nil {
		query += ` AND created_at < ?`
		args = append(args, toMillis(*opts.Until))
	}
	query += ` ORDER BY id DESC`
	if opts.Limit > 0 || opts.Offset > 0 {
		limit := opts.Limit
		if limit <= 0 {
			limit = -1
		}
		query += ` LIMIT ? OFFSET ?`
		args = append(args, limit, opts.Offset)
	}

	rows, err := s.db.sqlDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list audit entries: %w", err)
	}
	defer rows.Close()

	var entries []domain.AuditEntry
	for rows.Next() {
		var (
			e       domain.AuditEntry
			detail  sql.NullString
			created int64
		)
		if err := rows.Scan(&e.ID, &e.Event, &detail, &created); err != nil {
			return nil, fmt.Errorf("sqlite: scan audit entry: %w", err)
		}
		if detail.Valid && detail.String != "" {
			if err := json.Unmarshal([]byte(detail.String), &e.Detail); err != nil {
				return nil, fmt.Errorf("sqlite: unmarshal audit detail: %w", err)
			}
		}
		e.CreatedAt = fromMillis(created)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

var (
	_ domain.AuctionStore = (*AuctionStore)(nil)
	_ domain.ListingStore = (*ListingStore)(nil)
	_ domain.BalanceStore = (*BalanceStore)(nil)
	_ domain.AuditStore   = (*AuditStore)(nil)
)
