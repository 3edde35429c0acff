package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alanyoungcy/reconbot/internal/blob"
	s3blob "github.com/alanyoungcy/reconbot/internal/blob/s3"
	"github.com/alanyoungcy/reconbot/internal/cache/redis"
	"github.com/alanyoungcy/reconbot/internal/config"
	"github.com/alanyoungcy/reconbot/internal/crypto"
	"github.com/alanyoungcy/reconbot/internal/domain"
	"github.com/alanyoungcy/reconbot/internal/exchange"
	"github.com/alanyoungcy/reconbot/internal/exchange/binance"
	"github.com/alanyoungcy/reconbot/internal/notify"
	"github.com/alanyoungcy/reconbot/internal/reconcile"
	"github.com/alanyoungcy/reconbot/internal/server/handler"
	"github.com/alanyoungcy/reconbot/internal/store/postgres"
	"github.com/alanyoungcy/reconbot/internal/store/sqlite"
)

// PositionBackend is what the reconciler and the API need from the local
// position store.
type PositionBackend interface {
	domain.PositionStore
	handler.PositionReader
	Create(ctx context.Context, p domain.Position) error
}

// AuditBackend is an audit log that can also be read back.
type AuditBackend interface {
	domain.AuditStore
	handler.AuditReader
}

// FillWriter bulk-loads fills into the local ledger.
type FillWriter interface {
	InsertBatch(ctx context.Context, trades []domain.TradeRecord) error
}

// Dependencies bundles every dependency the application modes need. It is
// constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Stores
	Positions PositionBackend
	Ledger    domain.FillLedger
	Fills     FillWriter
	Audit     AuditBackend
	Attempts  domain.AttemptStore

	// Snapshots
	Snapshots      domain.SnapshotSink
	SnapshotReader handler.SnapshotReader
	SnapshotLister handler.SnapshotLister

	// Caches and coordination (nil when Redis is disabled)
	HoldingsCache domain.HoldingsCache
	RateLimiter   domain.RateLimiter
	LockManager   domain.LockManager
	SignalBus     domain.SignalBus
	EventLog      domain.EventLog

	Exchanges *exchange.Router

	// Events
	Bus      *notify.Bus
	Notifier *notify.Notifier

	Reconciler   *reconcile.Service
	HealthChecks map[string]handler.HealthCheck
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{
		HealthChecks: make(map[string]handler.HealthCheck),
	}
	var sinks blob.MultiSink

	// --- Local store ---
	switch strings.ToLower(cfg.Store) {
	case "sqlite":
		st, err := sqlite.Open(ctx, cfg.SQLite.Path)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: sqlite: %w", err)
		}
		closers = append(closers, func() { _ = st.Close() })

		deps.Positions = st
		deps.Ledger = st
		deps.Fills = st
		deps.Attempts = st
		deps.Audit = st.Audit()
		snaps := st.Snapshots()
		sinks = append(sinks, snaps)
		deps.SnapshotReader = snaps
		deps.HealthChecks["store"] = st.Ping

	default:
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
		trades := postgres.NewTradeStore(pool)
		snaps := postgres.NewSnapshotStore(pool)
		deps.Positions = postgres.NewPositionStore(pool)
		deps.Ledger = trades
		deps.Fills = trades
		deps.Attempts = postgres.NewAttemptStore(pool)
		deps.Audit = postgres.NewAuditStore(pool)
		sinks = append(sinks, snaps)
		deps.SnapshotReader = snaps
		deps.HealthChecks["store"] = pgClient.Ping
	}

	// --- Redis ---
	if cfg.Redis.Enabled {
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
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		bus := redis.NewSignalBus(redisClient)
		deps.HoldingsCache = redis.NewHoldingsCache(redisClient)
		deps.RateLimiter = redis.NewRateLimiter(redisClient, cfg.Exchange.RequestsPerMinute, time.Minute)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.SignalBus = bus
		deps.EventLog = bus
		deps.HealthChecks["redis"] = redisClient.Ping
	}

	// --- S3 snapshot archive ---
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

		archive := s3blob.NewSnapshotArchive(s3blob.NewWriter(s3Client), s3blob.NewReader(s3Client), cfg.S3.Prefix)
		// The archive is the system of record for snapshots when present.
		sinks = append(blob.MultiSink{archive}, sinks...)
		deps.SnapshotReader = archive
		deps.SnapshotLister = archive
		deps.HealthChecks["s3"] = s3Client.Health
	}
	deps.Snapshots = sinks

	// --- Exchanges ---
	router, err := wireExchanges(cfg, deps, logger)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	deps.Exchanges = router

	// --- Events and notifications ---
	deps.Bus = notify.NewBus(cfg.Notify.BusCapacity, 10*time.Second, logger)
	if deps.SignalBus != nil {
		deps.Bus.Subscribe(notify.NewForwarder(deps.SignalBus, deps.EventLog))
	}
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL, cfg.Notify.DiscordUsername))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger).
		WithFailureCooldown(cfg.Notify.FailureCooldown.Duration)
	if len(senders) > 0 {
		deps.Bus.Subscribe(deps.Notifier)
	}

	// --- Reconciler ---
	rdeps := reconcile.Deps{
		Positions: deps.Positions,
		Exchanges: deps.Exchanges,
		Snapshots: deps.Snapshots,
		Audit:     deps.Audit,
		Attempts:  deps.Attempts,
		Events:    deps.Bus,
	}
	if cfg.Reconcile.DistributedLock {
		rdeps.Locks = deps.LockManager
	}
	deps.Reconciler = reconcile.NewService(reconcileConfig(cfg.Reconcile), rdeps, logger)

	return deps, cleanup, nil
}

// wireExchanges registers the live and testnet futures accounts and the
// paper ledger on a Router.
func wireExchanges(cfg *config.Config, deps *Dependencies, logger *slog.Logger) (*exchange.Router, error) {
	router := exchange.NewRouter(deps.Ledger, logger)
	if deps.HoldingsCache != nil && cfg.Exchange.HoldingsCacheTTL.Duration > 0 {
		router.WithHoldingsCache(deps.HoldingsCache, cfg.Exchange.HoldingsCacheTTL.Duration)
	}

	var limiter domain.RateLimiter
	if deps.RateLimiter != nil && cfg.Exchange.RequestsPerMinute > 0 {
		limiter = deps.RateLimiter
	}

	accounts := []struct {
		mode    domain.TradingMode
		acct    config.BinanceAccount
		testnet bool
	}{
		{domain.TradingModeLive, cfg.Exchange.Live, false},
		{domain.TradingModeTestnet, cfg.Exchange.Testnet, true},
	}
	for _, a := range accounts {
		if !a.acct.Enabled {
			continue
		}
		secret, err := crypto.LoadSecret(crypto.SecretConfig{
			Account:    crypto.AccountLabel("binance", string(a.mode)),
			Raw:        a.acct.APISecret,
			SealedPath: a.acct.EncryptedSecretPath,
			Password:   a.acct.SecretPassword,
		})
		if err != nil {
			return nil, fmt.Errorf("wire: exchange %s secret: %w", a.mode, err)
		}
		router.Register(a.mode, binance.New(binance.Config{
			APIKey:     a.acct.APIKey,
			SecretKey:  secret,
			Testnet:    a.testnet,
			BaseURL:    a.acct.BaseURL,
			RecvWindow: cfg.Exchange.RecvWindow.Duration,
		}, limiter, logger))
	}
	return router, nil
}

func reconcileConfig(c config.ReconcileConfig) reconcile.Config {
	return reconcile.Config{
		ThrottleInterval:  c.ThrottleInterval.Duration,
		MaxAttempts:       c.MaxAttempts,
		QuantityThreshold: c.QuantityThreshold,
		GhostHighRatio:    c.GhostHighRatio,
		MaxUnknownFactors: c.MaxUnknownFactors,
		OldPositionAge:    c.OldPositionAge.Duration,
		LookupTimeout:     c.LookupTimeout.Duration,
		OrderHistorySlack: c.OrderHistorySlack.Duration,
		MaxConcurrency:    c.MaxConcurrency,
		SlowPassThreshold: c.SlowPassThreshold.Duration,
		DistributedLock:   c.DistributedLock,
		LockTTL:           c.LockTTL.Duration,
	}
}
