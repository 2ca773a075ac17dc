package postgres

import (
	"fmt"
	"math/big"

	"github.com/alanyoungcy/nftmarket/internal/domain"
)

// rowScanner is satisfied by pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func parseWei(column, s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("postgres: bad %s value %q", column, s)
	}
	return v, nil
}

func weiText(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func parseAssetID(s string) (domain.AssetID, error) {
	id, err := domain.ParseAssetID(s)
	if err != nil {
		return 0, fmt.Errorf("postgres: %w", err)
	}
	return id, nil
}
