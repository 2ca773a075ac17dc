package postgres

import (
	"math/big"
	"testing"

	"github.com/peterldowns/testy/check"
)

func TestDSN(t *testing.T) {
	check.Equal(t, "postgres://u:p@db:5432/market?sslmode=disable", DSN(ClientConfig{
		Host: "db", User: "u", Password: "p", Database: "market",
	}))
	check.Equal(t, "postgres://x", DSN(ClientConfig{DSN: " postgres://x ", Host: "ignored"}))
	check.Equal(t, "postgres://u:p@db:6543/m?sslmode=require", DSN(ClientConfig{
		Host: "db", Port: 6543, User: "u", Password: "p", Database: "m", SSLMode: "require",
	}))
}

func TestMigrationsEmbedded(t *testing.T) {
	data, err := migrationsFS.ReadFile("migrations/001_init.sql")
	check.NoError(t, err)
	check.True(t, len(data) > 0)
}

func TestWeiText(t *testing.T) {
	check.Equal(t, "0", weiText(nil))
	v, err := parseWei("amount", weiText(big.NewInt(123)))
	check.NoError(t, err)
	check.Equal(t, "123", v.String())

	_, err = parseWei("amount", "1.5")
	check.Error(t, err)
}
