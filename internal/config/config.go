// Package config defines the marketplace configuration and its validation.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Config is the root configuration. Fields come from a TOML file and are
// then overridden by NFTMARKET_* environment variables.
type Config struct {
	Chain       ChainConfig       `toml:"chain"`
	Marketplace MarketplaceConfig `toml:"marketplace"`
	Postgres    PostgresConfig    `toml:"postgres"`
	Redis       RedisConfig       `toml:"redis"`
	S3          S3Config          `toml:"s3"`
	Archive     ArchiveConfig     `toml:"archive"`
	Server      ServerConfig      `toml:"server"`
	Notify      NotifyConfig      `toml:"notify"`
	Log         LogConfig         `toml:"log"`
	Mode        string            `toml:"mode"`
}

// ChainConfig points the evm registry at an ERC-721 contract. The operator
// key must be an approved operator for the assets the marketplace moves.
type ChainConfig struct {
	RPCURL           string   `toml:"rpc_url"`
	ChainID          int64    `toml:"chain_id"`
	RegistryAddress  string   `toml:"registry_address"`
	PrivateKey       string   `toml:"private_key"`
	EncryptedKeyPath string   `toml:"encrypted_key_path"`
	KeyPassword      string   `toml:"key_password"`
	ReceiptTimeout   duration `toml:"receipt_timeout"`
	PollInterval     duration `toml:"poll_interval"`
}

// SeedAsset is minted into the memory registry at startup.
type SeedAsset struct {
	Owner string `toml:"owner"`
	Name  string `toml:"name"`
}

// MarketplaceConfig selects backends and tunes per-asset locking.
type MarketplaceConfig struct {
	Registry   string      `toml:"registry"` // memory | evm
	Store      string      `toml:"store"`    // memory | sqlite | postgres
	SQLitePath string      `toml:"sqlite_path"`
	Lock       string      `toml:"lock"` // local | redis
	LockTTL    duration    `toml:"lock_ttl"`
	LockWait   duration    `toml:"lock_wait"`
	Seed       []SeedAsset `toml:"seed"`
}

// PostgresConfig holds connection parameters. DSN wins when set.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters. When enabled, events are
// published on the bus and API rate limits are shared across replicas.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
	KeyPrefix  string `toml:"key_prefix"`
}

// S3Config holds object storage settings for the archive.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ArchiveConfig schedules the audit archive job. Entries older than
// RetentionDays are copied to S3 every Interval.
type ArchiveConfig struct {
	Enabled       bool     `toml:"enabled"`
	Interval      duration `toml:"interval"`
	RetentionDays int      `toml:"retention_days"`
}

type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
	AdminKey    string   `toml:"admin_key"`
	RateLimit   int      `toml:"rate_limit"`
	RateWindow  duration `toml:"rate_window"`
}

type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	WebhookURL        string   `toml:"webhook_url"`
	WebhookSecret     string   `toml:"webhook_secret"`
	Events            []string `toml:"events"`
}

// LogConfig controls slog output. A non-empty File adds a rotating file.
type LogConfig struct {
	Level      string `toml:"level"`
	File       string `toml:"file"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
}

// duration lets TOML carry "30s"-style strings.
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a single-node configuration: memory registry, SQLite
// store, in-process locks, HTTP on 8080.
func Defaults() Config {
	return Config{
		Chain: ChainConfig{
			ChainID:        1,
			ReceiptTimeout: duration{2 * time.Minute},
			PollInterval:   duration{2 * time.Second},
		},
		Marketplace: MarketplaceConfig{
			Registry:   "memory",
			Store:      "sqlite",
			SQLitePath: "data/nftmarket.db",
			Lock:       "local",
			LockTTL:    duration{5 * time.Minute},
			LockWait:   duration{5 * time.Second},
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "nftmarket",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
			KeyPrefix:  "nftmarket:",
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "nftmarket-archive",
			ForcePathStyle: true,
		},
		Archive: ArchiveConfig{
			Interval:      duration{24 * time.Hour},
			RetentionDays: 90,
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8080,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:   120,
			RateWindow:  duration{time.Minute},
		},
		Notify: NotifyConfig{
			Events: []string{"auction_finalized", "nft_sold"},
		},
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 30,
		},
		Mode: "server",
	}
}

var (
	validModes      = []string{"server", "archive", "full"}
	validLogLevels  = []string{"debug", "info", "warn", "error"}
	validRegistries = []string{"memory", "evm"}
	validStores     = []string{"memory", "sqlite", "postgres"}
	validLocks      = []string{"local", "redis"}
)

func oneOf(v string, valid []string) bool {
	for _, s := range valid {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}

// UsesRedis reports whether any component needs the Redis client.
func (c *Config) UsesRedis() bool {
	return c.Redis.Enabled || strings.EqualFold(c.Marketplace.Lock, "redis")
}

// Validate checks the configuration and returns every problem at once.
func (c *Config) Validate() error {
	var errs []string
	add := func(format string, args ...any) { errs = append(errs, fmt.Sprintf(format, args...)) }

	if !oneOf(c.Mode, validModes) {
		add("unknown mode %q (valid: %s)", c.Mode, strings.Join(validModes, ", "))
	}
	if !oneOf(c.Log.Level, validLogLevels) {
		add("log: unknown level %q (valid: %s)", c.Log.Level, strings.Join(validLogLevels, ", "))
	}
	if c.Log.File != "" && c.Log.MaxSizeMB <= 0 {
		add("log: max_size_mb must be positive when file is set")
	}

	m := c.Marketplace
	if !oneOf(m.Registry, validRegistries) {
		add("marketplace: unknown registry %q (valid: %s)", m.Registry, strings.Join(validRegistries, ", "))
	}
	if !oneOf(m.Store, validStores) {
		add("marketplace: unknown store %q (valid: %s)", m.Store, strings.Join(validStores, ", "))
	}
	if !oneOf(m.Lock, validLocks) {
		add("marketplace: unknown lock %q (valid: %s)", m.Lock, strings.Join(validLocks, ", "))
	}
	if strings.EqualFold(m.Store, "sqlite") && strings.TrimSpace(m.SQLitePath) == "" {
		add("marketplace: sqlite_path is required for the sqlite store")
	}
	if m.LockTTL.Duration <= 0 || m.LockWait.Duration <= 0 {
		add("marketplace: lock_ttl and lock_wait must be positive")
	}
	for i, s := range m.Seed {
		if !common.IsHexAddress(s.Owner) {
			add("marketplace: seed[%d]: invalid owner %q", i, s.Owner)
		}
		if strings.TrimSpace(s.Name) == "" {
			add("marketplace: seed[%d]: name is required", i)
		}
	}
	if len(m.Seed) > 0 && !strings.EqualFold(m.Registry, "memory") {
		add("marketplace: seed assets require the memory registry")
	}

	if strings.EqualFold(m.Registry, "evm") {
		ch := c.Chain
		if ch.RPCURL == "" {
			add("chain: rpc_url is required for the evm registry")
		}
		if ch.ChainID <= 0 {
			add("chain: chain_id must be positive")
		}
		if !common.IsHexAddress(ch.RegistryAddress) {
			add("chain: registry_address %q is not a hex address", ch.RegistryAddress)
		}
		if ch.PrivateKey == "" && ch.EncryptedKeyPath == "" {
			add("chain: either private_key or encrypted_key_path must be set for the evm registry")
		}
		if ch.EncryptedKeyPath != "" && ch.KeyPassword == "" {
			add("chain: key_password is required when encrypted_key_path is set")
		}
		if ch.ReceiptTimeout.Duration <= 0 {
			add("chain: receipt_timeout must be positive")
		}
		if m.LockTTL.Duration <= ch.ReceiptTimeout.Duration {
			add("marketplace: lock_ttl (%s) must exceed chain.receipt_timeout (%s)", m.LockTTL.Duration, ch.ReceiptTimeout.Duration)
		}
	}

	if strings.EqualFold(m.Store, "postgres") && c.Postgres.DSN == "" && c.Postgres.Host == "" {
		add("postgres: dsn or host is required for the postgres store")
	}
	if c.UsesRedis() && c.Redis.Addr == "" {
		add("redis: addr is required")
	}

	archiveMode := strings.EqualFold(c.Mode, "archive")
	if archiveMode && !c.Archive.Enabled {
		add("archive: mode archive requires archive.enabled")
	}
	if c.Archive.Enabled {
		if c.S3.Bucket == "" || c.S3.Region == "" {
			add("s3: bucket and region are required when the archive is enabled")
		}
		if c.Archive.Interval.Duration <= 0 {
			add("archive: interval must be positive")
		}
		if c.Archive.RetentionDays <= 0 {
			add("archive: retention_days must be positive")
		}
		if strings.EqualFold(m.Store, "memory") {
			add("archive: the memory store keeps no history to archive")
		}
	}

	if c.Server.Enabled && !archiveMode {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			add("server: port %d out of range", c.Server.Port)
		}
		if c.Server.RateLimit < 0 {
			add("server: rate_limit must not be negative")
		}
		if c.Server.RateLimit > 0 && c.Server.RateWindow.Duration <= 0 {
			add("server: rate_window must be positive when rate_limit is set")
		}
	}

	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		add("notify: telegram_token and telegram_chat_id must be set together")
	}
	if c.Notify.WebhookSecret != "" && c.Notify.WebhookURL == "" {
		add("notify: webhook_secret set without webhook_url")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
