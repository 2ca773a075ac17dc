package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	s3blob "github.com/alanyoungcy/nftmarket/internal/blob/s3"
	"github.com/alanyoungcy/nftmarket/internal/cache/redis"
	"github.com/alanyoungcy/nftmarket/internal/clock"
	"github.com/alanyoungcy/nftmarket/internal/config"
	"github.com/alanyoungcy/nftmarket/internal/crypto"
	"github.com/alanyoungcy/nftmarket/internal/domain"
	"github.com/alanyoungcy/nftmarket/internal/events"
	"github.com/alanyoungcy/nftmarket/internal/ledger"
	"github.com/alanyoungcy/nftmarket/internal/lock"
	"github.com/alanyoungcy/nftmarket/internal/market"
	"github.com/alanyoungcy/nftmarket/internal/notify"
	"github.com/alanyoungcy/nftmarket/internal/registry"
	"github.com/alanyoungcy/nftmarket/internal/server/handler"
	"github.com/alanyoungcy/nftmarket/internal/server/middleware"
	"github.com/alanyoungcy/nftmarket/internal/server/ws"
	"github.com/alanyoungcy/nftmarket/internal/store/memory"
	"github.com/alanyoungcy/nftmarket/internal/store/postgres"
	"github.com/alanyoungcy/nftmarket/internal/store/sqlite"
)

// Dependencies bundles everything the modes need. It is constructed by Wire
// and torn down by the returned cleanup function.
type Dependencies struct {
	Market *market.Market
	Ledger *ledger.Ledger

	// Stores
	AuctionStore domain.AuctionStore
	ListingStore domain.ListingStore
	BalanceStore domain.BalanceStore
	AuditStore   domain.AuditStore

	// Coordination
	LockManager domain.LockManager
	RateLimiter domain.RateLimiter
	SignalBus   domain.SignalBus // nil without redis

	Hub      *ws.Hub         // nil when the server is disabled
	Archiver domain.Archiver // nil when the archive is disabled
	Notifier *notify.Notifier

	// Health checks surfaced on /api/health.
	Checks map[string]handler.Pinger
}

type stores struct {
	auctions domain.AuctionStore
	listings domain.ListingStore
	balances domain.BalanceStore
	audit    domain.AuditStore
}

// Wire constructs the concrete dependencies selected by cfg and returns them
// together with a cleanup function that releases them in reverse order.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(what string, err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, fmt.Errorf("wire: %s: %w", what, err)
	}

	deps := &Dependencies{Checks: make(map[string]handler.Pinger)}

	// --- Persistence ---
	st, closeStore, err := wireStores(ctx, cfg, deps.Checks)
	if err != nil {
		return fail("store", err)
	}
	if closeStore != nil {
		closers = append(closers, closeStore)
	}
	deps.AuctionStore = st.auctions
	deps.ListingStore = st.listings
	deps.BalanceStore = st.balances
	deps.AuditStore = st.audit

	// --- Redis ---
	if cfg.UsesRedis() {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			KeyPrefix:  cfg.Redis.KeyPrefix,
		})
		if err != nil {
			return fail("redis", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })
		deps.Checks["redis"] = redisClient.Ping

		if strings.EqualFold(cfg.Marketplace.Lock, "redis") {
			deps.LockManager = redis.NewLockManager(redisClient)
		}
		if cfg.Redis.Enabled {
			deps.RateLimiter = redis.NewRateLimiter(redisClient)
			deps.SignalBus = redis.NewSignalBus(redisClient)
		}
	}
	if deps.LockManager == nil {
		deps.LockManager = lock.NewKeyed()
	}
	if deps.RateLimiter == nil {
		deps.RateLimiter = middleware.NewLocalLimiter()
	}

	// --- Asset registry ---
	reg, closeReg, err := wireRegistry(ctx, cfg, logger)
	if err != nil {
		return fail("registry", err)
	}
	if closeReg != nil {
		closers = append(closers, closeReg)
	}

	// --- Funds ---
	deps.Ledger = ledger.New(deps.BalanceStore, logger)

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	if cfg.Notify.WebhookURL != "" {
		senders = append(senders, notify.NewWebhookSender(cfg.Notify.WebhookURL, cfg.Notify.WebhookSecret))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	// --- Event sinks ---
	sinks := []events.Sink{events.NewAuditSink(deps.AuditStore)}
	if deps.SignalBus != nil {
		sinks = append(sinks, events.NewBusSink(deps.SignalBus))
	}
	if len(senders) > 0 {
		sinks = append(sinks, events.NewNotifySink(deps.Notifier))
	}
	if cfg.Server.Enabled && !strings.EqualFold(cfg.Mode, "archive") {
		deps.Hub = ws.NewHub(deps.SignalBus, cfg.Server.CORSOrigins, logger)
		// Without a bus the hub is fed directly.
		if deps.SignalBus == nil {
			sinks = append(sinks, deps.Hub)
		}
	}
	dispatcher := events.NewDispatcher(logger, sinks...)

	// --- Marketplace ---
	deps.Market = market.New(market.Deps{
		Registry: reg,
		Funds:    deps.Ledger,
		Clock:    clock.System{},
		Locks:    deps.LockManager,
		Auctions: deps.AuctionStore,
		Listings: deps.ListingStore,
		Emitter:  dispatcher,
		Logger:   logger,
	}, market.Config{
		LockTTL:  cfg.Marketplace.LockTTL.Duration,
		LockWait: cfg.Marketplace.LockWait.Duration,
	})
	if err := deps.Market.Restore(ctx); err != nil {
		return fail("restore marketplace", err)
	}

	// --- S3 archive ---
	if cfg.Archive.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail("s3", err)
		}
		deps.Checks["s3"] = s3Client.Health
		deps.Archiver = s3blob.NewArchiver(
			s3blob.NewWriter(s3Client),
			s3blob.NewReader(s3Client),
			deps.AuditStore,
			logger,
		)
	}

	return deps, cleanup, nil
}

// wireStores opens the configured persistence backend and registers its
// health check.
func wireStores(ctx context.Context, cfg *config.Config, checks map[string]handler.Pinger) (stores, func(), error) {
	switch strings.ToLower(cfg.Marketplace.Store) {
	case "memory":
		return stores{
			auctions: memory.NewAuctionStore(),
			listings: memory.NewListingStore(),
			balances: memory.NewBalanceStore(),
			audit:    memory.NewAuditStore(),
		}, nil, nil

	case "sqlite":
		path := cfg.Marketplace.SQLitePath
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return stores{}, nil, fmt.Errorf("sqlite: create %s: %w", dir, err)
			}
		}
		db, err := sqlite.Open(ctx, path)
		if err != nil {
			return stores{}, nil, err
		}
		checks["sqlite"] = db.Ping
		return stores{
			auctions: sqlite.NewAuctionStore(db),
			listings: sqlite.NewListingStore(db),
			balances: sqlite.NewBalanceStore(db),
			audit:    sqlite.NewAuditStore(db),
		}, func() { _ = db.Close() }, nil

	case "postgres":
		pg := cfg.Postgres
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      pg.DSN,
			Host:     pg.Host,
			Port:     pg.Port,
			Database: pg.Database,
			User:     pg.User,
			Password: pg.Password,
			SSLMode:  pg.SSLMode,
			MaxConns: pg.PoolMaxConns,
			MinConns: pg.PoolMinConns,
		})
		if err != nil {
			return stores{}, nil, err
		}
		if pg.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				pgClient.Close()
				return stores{}, nil, fmt.Errorf("postgres migrations: %w", err)
			}
		}
		checks["postgres"] = pgClient.Ping
		pool := pgClient.Pool()
		return stores{
			auctions: postgres.NewAuctionStore(pool),
			listings: postgres.NewListingStore(pool),
			balances: postgres.NewBalanceStore(pool),
			audit:    postgres.NewAuditStore(pool),
		}, pgClient.Close, nil

	default:
		return stores{}, nil, fmt.Errorf("unknown store %q", cfg.Marketplace.Store)
	}
}

// wireRegistry builds the asset registry behind the logging adapter.
func wireRegistry(ctx context.Context, cfg *config.Config, logger *slog.Logger) (domain.Registry, func(), error) {
	switch strings.ToLower(cfg.Marketplace.Registry) {
	case "memory":
		mem := registry.NewMemory()
		for _, seed := range cfg.Marketplace.Seed {
			id, err := mem.Mint(common.HexToAddress(seed.Owner), seed.Name)
			if err != nil {
				return nil, nil, fmt.Errorf("seed %q: %w", seed.Name, err)
			}
			logger.InfoContext(ctx, "registry: seeded asset",
				slog.String("asset_id", id.String()),
				slog.String("owner", seed.Owner),
				slog.String("name", seed.Name),
			)
		}
		return registry.NewAdapter(mem, logger), nil, nil

	case "evm":
		ch := cfg.Chain
		client, err := ethclient.DialContext(ctx, ch.RPCURL)
		if err != nil {
			return nil, nil, fmt.Errorf("dial %s: %w", ch.RPCURL, err)
		}

		// Without a key the registry is read-only and every transfer fails.
		var signer registry.TxSigner
		src := crypto.KeySource{
			RawPrivateKey:    ch.PrivateKey,
			EncryptedKeyPath: ch.EncryptedKeyPath,
			KeyPassword:      ch.KeyPassword,
		}
		if src.Configured() {
			key, err := crypto.LoadKey(src)
			if err != nil {
				client.Close()
				return nil, nil, err
			}
			txSigner, err := crypto.NewTxSigner(key, ch.ChainID)
			if err != nil {
				client.Close()
				return nil, nil, err
			}
			signer = txSigner
			logger.InfoContext(ctx, "registry: operator key loaded",
				slog.String("operator", txSigner.Address().Hex()),
			)
		} else {
			logger.WarnContext(ctx, "registry: no operator key, transfers will fail")
		}

		evm, err := registry.NewEVM(client, signer, registry.EVMConfig{
			Contract:       common.HexToAddress(ch.RegistryAddress),
			ReceiptTimeout: ch.ReceiptTimeout.Duration,
			PollInterval:   ch.PollInterval.Duration,
		}, logger)
		if err != nil {
			client.Close()
			return nil, nil, err
		}
		return registry.NewAdapter(evm, logger), client.Close, nil

	default:
		return nil, nil, fmt.Errorf("unknown registry %q", cfg.Marketplace.Registry)
	}
}
