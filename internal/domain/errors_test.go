package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/peterldowns/testy/check"
)

func TestMarketError(t *testing.T) {
	err := Reject("placeBid", ErrState, "bid must exceed current highest bid of %d", 150)
	check.True(t, errors.Is(err, ErrState))
	check.False(t, errors.Is(err, ErrPayment))
	check.Equal(t, "state", err.KindName())
	check.Equal(t, "placeBid: state error: bid must exceed current highest bid of 150", err.Error())
}

func TestMarketError_Cause(t *testing.T) {
	cause := fmt.Errorf("ledger: pay: %w", ErrInsufficientFunds)
	err := RejectCause("buyNFT", ErrPayment, cause, "payout failed")

	var me *MarketError
	check.True(t, errors.As(fmt.Errorf("wrapped: %w", err), &me))
	check.True(t, errors.Is(err, ErrPayment))
	check.True(t, errors.Is(err, ErrInsufficientFunds))
	check.Equal(t, "payment", me.KindName())
}

func TestParseAddress(t *testing.T) {
	addr, err := ParseAddress("0x00000000000000000000000000000000000000aa")
	check.NoError(t, err)
	check.Equal(t, common.HexToAddress("0xaa"), addr)

	_, err = ParseAddress("not-an-address")
	check.Error(t, err)
}

func TestParseAssetID(t *testing.T) {
	id, err := ParseAssetID("42")
	check.NoError(t, err)
	check.Equal(t, AssetID(42), id)

	_, err = ParseAssetID("-1")
	check.Error(t, err)
}
