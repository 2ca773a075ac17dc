package domain

import (
	"math/big"
	"testing"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
)

func TestMinSalePrice(t *testing.T) {
	check.Equal(t, "30000000000000000", MinSalePrice.String())
	check.Equal(t, "0.03", FormatEther(MinSalePrice))
}

func TestParseAmount(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "wei", input: "150", want: "150"},
		{name: "ether", input: "0.05 eth", want: "50000000000000000"},
		{name: "ether no space", input: "2ETH", want: "2000000000000000000"},
		{name: "zero", input: "0", want: "0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseAmount(tt.input)
			assert.NoError(t, err)
			check.Equal(t, tt.want, got.String())
		})
	}
}

func TestParseAmount_Invalid(t *testing.T) {
	for _, in := range []string{"", "abc", "-5", "-1 eth", "1.5", "0.0000000000000000001 eth"} {
		t.Run(in, func(t *testing.T) {
			_, err := ParseAmount(in)
			check.Error(t, err)
		})
	}
}

func TestFormatEther(t *testing.T) {
	check.Equal(t, "0", FormatEther(nil))
	check.Equal(t, "1.5", FormatEther(big.NewInt(1_500_000_000_000_000_000)))
}

func TestAuctionClone(t *testing.T) {
	a := Auction{AssetID: 1, StartingPrice: big.NewInt(100), HighestBid: big.NewInt(5)}
	c := a.Clone()
	c.HighestBid.SetInt64(99)
	check.Equal(t, "5", a.HighestBid.String())
	check.Equal(t, "100", c.StartingPrice.String())
}
