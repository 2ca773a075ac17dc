package domain

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/params"
	"github.com/shopspring/decimal"
)

// etherDecimals is the number of decimal places between wei and ether.
const etherDecimals = 18

// MinSalePrice is the smallest fixed price a listing may carry: 0.03 ether.
var MinSalePrice = new(big.Int).Mul(big.NewInt(3), big.NewInt(params.Ether/100))

// MinAuctionDuration is the shortest auction window, in logical clock units
// (seconds).
const MinAuctionDuration int64 = 60

// ParseAmount parses a monetary amount. A plain integer is read as wei; a
// value suffixed with "eth" (case-insensitive) is read as a decimal ether
// amount, e.g. "0.05 eth".
func ParseAmount(s string) (*big.Int, error) {
	raw := strings.TrimSpace(s)
	if raw == "" {
		return nil, fmt.Errorf("empty amount")
	}

	lower := strings.ToLower(raw)
	if strings.HasSuffix(lower, "eth") {
		num := strings.TrimSpace(raw[:len(raw)-3])
		d, err := decimal.NewFromString(num)
		if err != nil {
			return nil, fmt.Errorf("invalid ether amount %q: %w", s, err)
		}
		wei := d.Shift(etherDecimals)
		if !wei.Equal(wei.Truncate(0)) {
			return nil, fmt.Errorf("ether amount %q has more than %d decimals", s, etherDecimals)
		}
		if wei.Sign() < 0 {
			return nil, fmt.Errorf("negative amount %q", s)
		}
		return wei.BigInt(), nil
	}

	n, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return nil, fmt.Errorf("invalid wei amount %q", s)
	}
	if n.Sign() < 0 {
		return nil, fmt.Errorf("negative amount %q", s)
	}
	return n, nil
}

// FormatEther renders a wei amount as a decimal ether string without
// trailing zeros, e.g. 30000000000000000 -> "0.03".
func FormatEther(wei *big.Int) string {
	if wei == nil {
		return "0"
	}
	return decimal.NewFromBigInt(wei, -etherDecimals).String()
}

// cloneAmount returns an independent copy of v, or zero when v is nil.
func cloneAmount(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}
