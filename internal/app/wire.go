package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/veilmarket/veilmarket/internal/blob/s3"
	"github.com/veilmarket/veilmarket/internal/cache/redis"
	"github.com/veilmarket/veilmarket/internal/config"
	"github.com/veilmarket/veilmarket/internal/crypto"
	"github.com/veilmarket/veilmarket/internal/domain"
	"github.com/veilmarket/veilmarket/internal/gateway"
	"github.com/veilmarket/veilmarket/internal/notify"
	"github.com/veilmarket/veilmarket/internal/oracle"
	"github.com/veilmarket/veilmarket/internal/store/memory"
	"github.com/veilmarket/veilmarket/internal/store/postgres"
)

// Dependencies bundles every domain-level dependency that the application
// modes need to operate. It is constructed by Wire and torn down by the
// returned cleanup function.
type Dependencies struct {
	// Stores
	MarketStore  domain.MarketStore
	BetStore     domain.BetStore
	BalanceStore domain.BalanceStore
	AuditStore   domain.AuditStore

	// Caches and coordination
	MarketCache domain.MarketCache
	QuoteCache  domain.QuoteCache
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	SignalBus   domain.SignalBus

	// External services
	Gateway domain.Gateway
	Oracle  domain.PriceOracle

	// Blob storage
	BlobWriter domain.BlobWriter
	BlobReader domain.BlobReader
	Archiver   domain.Archiver

	// Notifications
	Notifier *notify.Notifier

	// Sandbox-only handles, exposed so the sandbox mode can seed prices.
	StaticOracle *oracle.Static
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
//
// Sandbox mode wires everything in process: an in-memory store, bus, cache,
// gateway, and a self-signing oracle. All other modes connect to PostgreSQL,
// Redis, the gateway service, and the oracle reporter.
func Wire(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	logger := slog.Default()

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	if cfg.Mode == "sandbox" {
		if err := wireSandbox(cfg, deps); err != nil {
			return nil, nil, err
		}
		wireNotifier(cfg, deps, logger)
		return deps, cleanup, nil
	}

	// --- PostgreSQL ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Postgres.DSN,
		Host:     cfg.Postgres.Host,
		Port:     cfg.Postgres.Port,
		Database: cfg.Postgres.Database,
		User:     cfg.Postgres.User,
		Password: cfg.Postgres.Password,
		SSLMode:  cfg.Postgres.SSLMode,
		MaxConns: cfg.Postgres.PoolMaxConns,
		MinConns: cfg.Postgres.PoolMinConns,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)

	if cfg.Postgres.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	pool := pgClient.Pool()
	deps.MarketStore = postgres.NewMarketStore(pool)
	deps.BetStore = postgres.NewBetStore(pool)
	deps.BalanceStore = postgres.NewBalanceStore(pool)
	deps.AuditStore = postgres.NewAuditStore(pool)

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	deps.MarketCache = redis.NewMarketCache(redisClient)
	deps.QuoteCache = redis.NewQuoteCache(redisClient)
	deps.RateLimiter = redis.NewRateLimiter(redisClient)
	deps.LockManager = redis.NewLockManager(redisClient)
	deps.SignalBus = redis.NewSignalBus(redisClient)

	// --- Confidentiality gateway ---
	var hmac *crypto.HMACAuth
	if cfg.Gateway.Key != "" {
		hmac = &crypto.HMACAuth{Key: cfg.Gateway.Key, Secret: cfg.Gateway.Secret}
	}
	deps.Gateway = gateway.NewClient(cfg.Gateway.BaseURL, hmac).WithLimiter(deps.RateLimiter)

	// --- Price oracle ---
	oracleClient := oracle.NewClient(cfg.Oracle.BaseURL, cfg.ReporterAddress())
	deps.Oracle = oracle.NewCached(oracleClient, deps.QuoteCache, logger)

	// --- S3 blob storage (settlement archives) ---
	if cfg.S3.Enabled {
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
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		deps.BlobWriter = s3blob.NewWriter(s3Client)
		deps.BlobReader = s3blob.NewReader(s3Client)
		deps.Archiver = s3blob.NewArchiver(
			deps.BlobWriter,
			deps.MarketStore,
			deps.BetStore,
			deps.AuditStore,
		)
	}

	wireNotifier(cfg, deps, logger)

	return deps, cleanup, nil
}

// wireSandbox fills deps with purely in-process implementations. No external
// backend is touched; the oracle self-signs quotes with the configured
// reporter key.
func wireSandbox(cfg *config.Config, deps *Dependencies) error {
	store := memory.New()
	deps.MarketStore = store.Markets()
	deps.BetStore = store.Bets()
	deps.BalanceStore = store.Balances()
	deps.AuditStore = store.Audit()

	cache := memory.NewCache()
	deps.MarketCache = cache
	deps.QuoteCache = cache
	deps.LockManager = memory.NewLocks()
	deps.SignalBus = memory.NewBus()

	deps.Gateway = gateway.NewMemory()

	keyHex, err := crypto.LoadKey(crypto.KeyConfig{
		RawPrivateKey:    cfg.Oracle.ReporterKey,
		EncryptedKeyPath: cfg.Oracle.EncryptedKeyPath,
		KeyPassword:      cfg.Oracle.EncryptedKeyPassword,
	})
	if err != nil {
		return fmt.Errorf("wire: sandbox oracle key: %w", err)
	}
	signer, err := crypto.NewQuoteSigner(keyHex)
	if err != nil {
		return fmt.Errorf("wire: sandbox quote signer: %w", err)
	}
	static := oracle.NewStatic(signer)
	deps.Oracle = static
	deps.StaticOracle = static

	return nil
}

// wireNotifier configures delivery channels from the notify config. With no
// channels configured the notifier is still created and simply logs.
func wireNotifier(cfg *config.Config, deps *Dependencies, logger *slog.Logger) {
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
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)
}
