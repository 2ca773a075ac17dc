package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	check.NoError(t, cfg.Validate())
}

func TestLoad_FileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nftmarket.toml")
	assert.NoError(t, os.WriteFile(path, []byte(`
mode = "full"

[marketplace]
store = "postgres"
lock_wait = "2s"

[[marketplace.seed]]
owner = "0x00000000000000000000000000000000000000a1"
name = "genesis"

[postgres]
host = "db"

[server]
port = 9090
`), 0o600))

	t.Setenv("NFTMARKET_SERVER_PORT", "9191")
	t.Setenv("NFTMARKET_SERVER_CORS_ORIGINS", " https://a.example , https://b.example ")
	t.Setenv("NFTMARKET_POSTGRES_PASSWORD", "hunter2")

	cfg, err := Load(path)
	assert.NoError(t, err)
	check.Equal(t, "full", cfg.Mode)
	check.Equal(t, "postgres", cfg.Marketplace.Store)
	check.Equal(t, 2*time.Second, cfg.Marketplace.LockWait.Duration)
	check.Equal(t, 5*time.Minute, cfg.Marketplace.LockTTL.Duration)
	check.Equal(t, 9191, cfg.Server.Port)
	check.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)
	check.Equal(t, "hunter2", cfg.Postgres.Password)
	assert.Equal(t, 1, len(cfg.Marketplace.Seed))
	check.Equal(t, "genesis", cfg.Marketplace.Seed[0].Name)
	check.NoError(t, cfg.Validate())
}

func TestLoad_UnknownKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.toml")
	assert.NoError(t, os.WriteFile(path, []byte("[server]\nprot = 1\n"), 0o600))
	_, err := Load(path)
	check.Error(t, err)
}

func TestValidate_CollectsEveryProblem(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "trade"
	cfg.Marketplace.Registry = "evm"
	cfg.Chain.RegistryAddress = "nope"
	cfg.Archive.Enabled = true
	cfg.Archive.RetentionDays = 0

	err := cfg.Validate()
	assert.Error(t, err)
	msg := err.Error()
	for _, want := range []string{
		`unknown mode "trade"`,
		"chain: rpc_url is required",
		`registry_address "nope"`,
		"private_key or encrypted_key_path",
		"retention_days must be positive",
	} {
		check.True(t, strings.Contains(msg, want))
	}
}

func TestValidate_LockTTLMustCoverReceipts(t *testing.T) {
	cfg := Defaults()
	cfg.Marketplace.Registry = "evm"
	cfg.Chain.RPCURL = "http://localhost:8545"
	cfg.Chain.RegistryAddress = "0x00000000000000000000000000000000000000e7"
	cfg.Chain.PrivateKey = "0x01"
	cfg.Marketplace.LockTTL.Duration = time.Minute

	err := cfg.Validate()
	assert.Error(t, err)
	check.True(t, strings.Contains(err.Error(), "must exceed chain.receipt_timeout"))

	cfg.Marketplace.LockTTL.Duration = 10 * time.Minute
	check.NoError(t, cfg.Validate())
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Chain.PrivateKey = "0xdeadbeef"
	cfg.Server.AdminKey = "admin"
	cfg.Notify.WebhookSecret = "s3cret"

	out := RedactedConfig(&cfg)
	check.Equal(t, redacted, out.Chain.PrivateKey)
	check.Equal(t, redacted, out.Server.AdminKey)
	check.Equal(t, redacted, out.Notify.WebhookSecret)
	check.Equal(t, "", out.Server.APIKey)
	check.Equal(t, "0xdeadbeef", cfg.Chain.PrivateKey)

	out.Server.CORSOrigins[0] = "mutated"
	check.Equal(t, "http://localhost:3000", cfg.Server.CORSOrigins[0])
}

func TestExampleConfigLoads(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "config.example.toml"))
	assert.NoError(t, err)
	check.NoError(t, cfg.Validate())
	check.Equal(t, "server", cfg.Mode)
	check.Equal(t, 1, len(cfg.Marketplace.Seed))
	check.Equal(t, 2*time.Second, cfg.Chain.PollInterval.Duration)
}
