package postgres

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/nftmarket/internal/domain"
)

// BalanceStore implements domain.BalanceStore. Each change runs in one
// transaction that locks the touched rows in account order.
type BalanceStore struct {
	pool *pgxpool.Pool
}

// NewBalanceStore creates a BalanceStore over pool.
func NewBalanceStore(pool *pgxpool.Pool) *BalanceStore {
	return &BalanceStore{pool: pool}
}

// Get returns the balance of account, zero when it has no row.
func (s *BalanceStore) Get(ctx context.Context, account common.Address) (*big.Int, error) {
	var amount string
	err := s.pool.QueryRow(ctx, `SELECT amount FROM balances WHERE account = $1`, account.Hex()).Scan(&amount)
	if errors.Is(err, pgx.ErrNoRows) {
		return new(big.Int), nil
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get balance %s: %w", account.Hex(), err)
	}
	return parseWei("amount", amount)
}

// Add applies one delta and returns the new balance.
func (s *BalanceStore) Add(ctx context.Context, account common.Address, delta *big.Int) (*big.Int, error) {
	out, err := s.apply(ctx, []domain.BalanceDelta{{Account: account, Delta: delta}})
	if err != nil {
		return nil, err
	}
	return out[account], nil
}

// AddMany applies every delta or none.
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

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("postgres: begin balance tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	result := make(map[common.Address]*big.Int, len(accounts))
	for _, acct := range accounts {
		// Make sure the row exists so FOR UPDATE has something to lock.
		if _, err := tx.Exec(ctx,
			`INSERT INTO balances (account, amount) VALUES ($1, '0') ON CONFLICT (account) DO NOTHING`,
			acct.Hex()); err != nil {
			return nil, fmt.Errorf("postgres: init balance %s: %w", acct.Hex(), err)
		}
		var current string
		if err := tx.QueryRow(ctx,
			`SELECT amount FROM balances WHERE account = $1 FOR UPDATE`, acct.Hex(),
		).Scan(&current); err != nil {
			return nil, fmt.Errorf("postgres: lock balance %s: %w", acct.Hex(), err)
		}
		bal, err := parseWei("amount", current)
		if err != nil {
			return nil, err
		}
		bal.Add(bal, net[acct])
		if bal.Sign() < 0 {
			return nil, domain.ErrInsufficientFunds
		}
		if _, err := tx.Exec(ctx,
			`UPDATE balances SET amount = $2, updated_at = NOW() WHERE account = $1`,
			acct.Hex(), bal.String()); err != nil {
			return nil, fmt.Errorf("postgres: update balance %s: %w", acct.Hex(), err)
		}
		result[acct] = bal
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("postgres: commit balance tx: %w", err)
	}
	return result, nil
}

var _ domain.BalanceStore = (*BalanceStore)(nil)
