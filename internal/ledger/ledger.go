// Package ledger is the marketplace's custodial funds ledger. Attached
// payments are collected into the custody account and paid out from it;
// every movement is a single atomic multi-row balance update.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sync"

	"github.com/alanyoungcy/nftmarket/internal/domain"
	"github.com/ethereum/go-ethereum/common"
)

// PaymentHook runs synchronously after a payout lands in the recipient's
// account. It stands for recipient-controlled code: it may call back into
// the marketplace, and a non-nil error rejects the payment.
type PaymentHook func(ctx context.Context, to common.Address, amount *big.Int) error

// Ledger moves wei between accounts and the custody pool.
type Ledger struct {
	store  domain.BalanceStore
	logger *slog.Logger

	mu    sync.RWMutex
	hooks []PaymentHook
}

// New creates a Ledger over store.
func New(store domain.BalanceStore, logger *slog.Logger) *Ledger {
	return &Ledger{
		store:  store,
		logger: logger.With(slog.String("component", "ledger")),
	}
}

// OnPayment registers fn to observe every payout.
func (l *Ledger) OnPayment(fn PaymentHook) {
	l.mu.Lock()
	l.hooks = append(l.hooks, fn)
	l.mu.Unlock()
}

func checkAmount(op string, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("ledger: %s: %w: negative or missing amount", op, domain.ErrValidation)
	}
	return nil
}

func (l *Ledger) move(ctx context.Context, from, to common.Address, amount *big.Int) error {
	return l.store.AddMany(ctx, []domain.BalanceDelta{
		{Account: from, Delta: new(big.Int).Neg(amount)},
		{Account: to, Delta: new(big.Int).Set(amount)},
	})
}

// Deposit credits account from outside the marketplace and returns the new
// balance.
func (l *Ledger) Deposit(ctx context.Context, account common.Address, amount *big.Int) (*big.Int, error) {
	if err := checkAmount("deposit", amount); err != nil {
		return nil, err
	}
	if account == domain.NoAddress || account == domain.CustodyAccount {
		return nil, fmt.Errorf("ledger: deposit: %w: invalid account", domain.ErrValidation)
	}
	bal, err := l.store.Add(ctx, account, amount)
	if err != nil {
		return nil, fmt.Errorf("ledger: deposit: %w", err)
	}
	l.logger.InfoContext(ctx, "ledger: deposit",
		slog.String("account", account.Hex()),
		slog.String("amount", amount.String()),
	)
	return bal, nil
}

// Collect takes an attached payment from payer into custody. It fails with
// domain.ErrInsufficientFunds when the payer's balance is short.
func (l *Ledger) Collect(ctx context.Context, from common.Address, amount *big.Int) error {
	if err := checkAmount("collect", amount); err != nil {
		return err
	}
	if amount.Sign() == 0 {
		return nil
	}
	if err := l.move(ctx, from, domain.CustodyAccount, amount); err != nil {
		return fmt.Errorf("ledger: collect from %s: %w", from.Hex(), err)
	}
	return nil
}

// Pay releases amount from custody to `to` and then runs the payment hooks.
// If a hook rejects the payment the credit is reversed and the hook's error
// returned.
func (l *Ledger) Pay(ctx context.Context, to common.Address, amount *big.Int) error {
	if err := checkAmount("pay", amount); err != nil {
		return err
	}
	if amount.Sign() == 0 {
		return nil
	}
	if err := l.move(ctx, domain.CustodyAccount, to, amount); err != nil {
		return fmt.Errorf("ledger: pay %s: %w", to.Hex(), err)
	}

	l.mu.RLock()
	hooks := append([]PaymentHook(nil), l.hooks...)
	l.mu.RUnlock()

	for _, hook := range hooks {
		if err := hook(ctx, to, amount); err != nil {
			if rerr := l.move(ctx, to, domain.CustodyAccount, amount); rerr != nil {
				l.logger.ErrorContext(ctx, "ledger: could not reverse rejected payment",
					slog.String("to", to.Hex()),
					slog.String("amount", amount.String()),
					slog.String("error", rerr.Error()),
				)
				return fmt.Errorf("ledger: pay %s: rejected: %w (reversal failed: %v)", to.Hex(), err, rerr)
			}
			return fmt.Errorf("ledger: pay %s: rejected: %w", to.Hex(), err)
		}
	}
	return nil
}

// Return gives a collected payment back to its payer without running the
// payment hooks. It is the compensation for Collect.
func (l *Ledger) Return(ctx context.Context, to common.Address, amount *big.Int) error {
	if err := checkAmount("return", amount); err != nil {
		return err
	}
	if amount.Sign() == 0 {
		return nil
	}
	if err := l.move(ctx, domain.CustodyAccount, to, amount); err != nil {
		return fmt.Errorf("ledger: return to %s: %w", to.Hex(), err)
	}
	return nil
}

// Reclaim pulls back a payout previously made to `from`. It is the
// compensation for Pay when a later step of the same operation fails.
func (l *Ledger) Reclaim(ctx context.Context, from common.Address, amount *big.Int) error {
	if err := checkAmount("reclaim", amount); err != nil {
		return err
	}
	if amount.Sign() == 0 {
		return nil
	}
	if err := l.move(ctx, from, domain.CustodyAccount, amount); err != nil {
		return fmt.Errorf("ledger: reclaim from %s: %w", from.Hex(), err)
	}
	return nil
}

// Balance returns the spendable balance of account.
func (l *Ledger) Balance(ctx context.Context, account common.Address) (*big.Int, error) {
	bal, err := l.store.Get(ctx, account)
	if err != nil {
		return nil, fmt.Errorf("ledger: balance %s: %w", account.Hex(), err)
	}
	return bal, nil
}

// Custody returns the total held by the marketplace.
func (l *Ledger) Custody(ctx context.Context) (*big.Int, error) {
	return l.Balance(ctx, domain.CustodyAccount)
}
