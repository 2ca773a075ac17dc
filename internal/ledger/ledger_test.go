package ledger

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"testing"

	"github.com/alanyoungcy/nftmarket/internal/domain"
	"github.com/alanyoungcy/nftmarket/internal/store/memory"
	"github.com/ethereum/go-ethereum/common"
	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
)

var (
	alice = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bob   = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
)

func newLedger() *Ledger {
	return New(memory.NewBalanceStore(), slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func balance(t *testing.T, l *Ledger, a common.Address) string {
	t.Helper()
	b, err := l.Balance(context.Background(), a)
	assert.NoError(t, err)
	return b.String()
}

func TestLedger_CollectPay(t *testing.T) {
	ctx := context.Background()
	l := newLedger()
	_, err := l.Deposit(ctx, alice, big.NewInt(500))
	assert.NoError(t, err)

	assert.NoError(t, l.Collect(ctx, alice, big.NewInt(200)))
	check.Equal(t, "300", balance(t, l, alice))
	check.Equal(t, "200", balance(t, l, domain.CustodyAccount))

	assert.NoError(t, l.Pay(ctx, bob, big.NewInt(200)))
	check.Equal(t, "200", balance(t, l, bob))
	check.Equal(t, "0", balance(t, l, domain.CustodyAccount))

	assert.NoError(t, l.Reclaim(ctx, bob, big.NewInt(50)))
	check.Equal(t, "150", balance(t, l, bob))
	check.Equal(t, "50", balance(t, l, domain.CustodyAccount))
}

func TestLedger_InsufficientFunds(t *testing.T) {
	ctx := context.Background()
	l := newLedger()
	err := l.Collect(ctx, alice, big.NewInt(1))
	check.True(t, errors.Is(err, domain.ErrInsufficientFunds))

	err = l.Pay(ctx, bob, big.NewInt(1))
	check.True(t, errors.Is(err, domain.ErrInsufficientFunds))
}

func TestLedger_RejectedPaymentIsReversed(t *testing.T) {
	ctx := context.Background()
	l := newLedger()
	_, err := l.Deposit(ctx, alice, big.NewInt(100))
	assert.NoError(t, err)
	assert.NoError(t, l.Collect(ctx, alice, big.NewInt(100)))

	rejected := errors.New("recipient refuses funds")
	l.OnPayment(func(_ context.Context, to common.Address, amount *big.Int) error {
		if to == bob {
			return rejected
		}
		return nil
	})

	err = l.Pay(ctx, bob, big.NewInt(100))
	check.True(t, errors.Is(err, rejected))
	check.Equal(t, "0", balance(t, l, bob))
	check.Equal(t, "100", balance(t, l, domain.CustodyAccount))

	assert.NoError(t, l.Pay(ctx, alice, big.NewInt(100)))
	check.Equal(t, "100", balance(t, l, alice))
}

func TestLedger_DepositValidation(t *testing.T) {
	ctx := context.Background()
	l := newLedger()
	_, err := l.Deposit(ctx, alice, big.NewInt(-1))
	check.True(t, errors.Is(err, domain.ErrValidation))
	_, err = l.Deposit(ctx, domain.CustodyAccount, big.NewInt(1))
	check.True(t, errors.Is(err, domain.ErrValidation))
}
