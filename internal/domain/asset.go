package domain

import (
	"fmt"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
)

// AssetID identifies a uniquely-owned asset in the external registry.
type AssetID uint64

// String returns the decimal form of the id.
func (id AssetID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

// ParseAssetID parses a decimal asset id.
func ParseAssetID(s string) (AssetID, error) {
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid asset id %q: %w", s, err)
	}
	return AssetID(n), nil
}

// Asset is a point-in-time view of an asset as reported by the registry. The
// marketplace never treats it as authoritative beyond the call that fetched it.
type Asset struct {
	ID     AssetID
	Name   string
	Owner  common.Address
	Exists bool
}

// NoAddress is the zero address, used to mean "none".
var NoAddress = common.Address{}

// ParseAddress validates and parses a hex-encoded address.
func ParseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("invalid address %q", s)
	}
	return common.HexToAddress(s), nil
}
