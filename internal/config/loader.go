package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies RECONBOT_* environment variable overrides, and
// returns the final Config. An empty path skips the file. The returned Config
// has NOT been validated; the caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known RECONBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "RECONBOT_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "RECONBOT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "RECONBOT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "RECONBOT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "RECONBOT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "RECONBOT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "RECONBOT_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "RECONBOT_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "RECONBOT_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "RECONBOT_POSTGRES_RUN_MIGRATIONS")

	// ── SQLite ──
	setStr(&cfg.SQLite.Path, "RECONBOT_SQLITE_PATH")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "RECONBOT_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "RECONBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "RECONBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "RECONBOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "RECONBOT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "RECONBOT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "RECONBOT_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.KeyPrefix, "RECONBOT_REDIS_KEY_PREFIX")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "RECONBOT_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "RECONBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "RECONBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "RECONBOT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "RECONBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "RECONBOT_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "RECONBOT_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "RECONBOT_S3_FORCE_PATH_STYLE")
	setStr(&cfg.S3.Prefix, "RECONBOT_S3_PREFIX")

	// ── Exchange ──
	setAccount(&cfg.Exchange.Live, "RECONBOT_EXCHANGE_LIVE")
	setAccount(&cfg.Exchange.Testnet, "RECONBOT_EXCHANGE_TESTNET")
	setInt(&cfg.Exchange.RequestsPerMinute, "RECONBOT_EXCHANGE_REQUESTS_PER_MINUTE")
	setDuration(&cfg.Exchange.RecvWindow, "RECONBOT_EXCHANGE_RECV_WINDOW")
	setDuration(&cfg.Exchange.HoldingsCacheTTL, "RECONBOT_EXCHANGE_HOLDINGS_CACHE_TTL")

	// ── Reconcile ──
	setStringSlice(&cfg.Reconcile.Wallets, "RECONBOT_RECONCILE_WALLETS")
	setDuration(&cfg.Reconcile.ScanInterval, "RECONBOT_RECONCILE_SCAN_INTERVAL")
	setDuration(&cfg.Reconcile.ThrottleInterval, "RECONBOT_RECONCILE_THROTTLE_INTERVAL")
	setInt(&cfg.Reconcile.MaxAttempts, "RECONBOT_RECONCILE_MAX_ATTEMPTS")
	setFloat64(&cfg.Reconcile.QuantityThreshold, "RECONBOT_RECONCILE_QUANTITY_THRESHOLD")
	setFloat64(&cfg.Reconcile.GhostHighRatio, "RECONBOT_RECONCILE_GHOST_HIGH_RATIO")
	setInt(&cfg.Reconcile.MaxUnknownFactors, "RECONBOT_RECONCILE_MAX_UNKNOWN_FACTORS")
	setDuration(&cfg.Reconcile.OldPositionAge, "RECONBOT_RECONCILE_OLD_POSITION_AGE")
	setDuration(&cfg.Reconcile.LookupTimeout, "RECONBOT_RECONCILE_LOOKUP_TIMEOUT")
	setDuration(&cfg.Reconcile.OrderHistorySlack, "RECONBOT_RECONCILE_ORDER_HISTORY_SLACK")
	setInt(&cfg.Reconcile.MaxConcurrency, "RECONBOT_RECONCILE_MAX_CONCURRENCY")
	setDuration(&cfg.Reconcile.SlowPassThreshold, "RECONBOT_RECONCILE_SLOW_PASS_THRESHOLD")
	setBool(&cfg.Reconcile.DistributedLock, "RECONBOT_RECONCILE_DISTRIBUTED_LOCK")
	setDuration(&cfg.Reconcile.LockTTL, "RECONBOT_RECONCILE_LOCK_TTL")

	// ── Server ──
	setInt(&cfg.Server.Port, "RECONBOT_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "RECONBOT_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "RECONBOT_SERVER_API_KEY")
	setInt(&cfg.Server.TriggerLimit, "RECONBOT_SERVER_TRIGGER_LIMIT")
	setDuration(&cfg.Server.TriggerWindow, "RECONBOT_SERVER_TRIGGER_WINDOW")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "RECONBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "RECONBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "RECONBOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStr(&cfg.Notify.DiscordUsername, "RECONBOT_NOTIFY_DISCORD_USERNAME")
	setStringSlice(&cfg.Notify.Events, "RECONBOT_NOTIFY_EVENTS")
	setInt(&cfg.Notify.BusCapacity, "RECONBOT_NOTIFY_BUS_CAPACITY")
	setDuration(&cfg.Notify.FailureCooldown, "RECONBOT_NOTIFY_FAILURE_COOLDOWN")

	// ── Top-level ──
	setStr(&cfg.Mode, "RECONBOT_MODE")
	setStr(&cfg.LogLevel, "RECONBOT_LOG_LEVEL")
	setStr(&cfg.Store, "RECONBOT_STORE")
}

func setAccount(dst *BinanceAccount, prefix string) {
	setBool(&dst.Enabled, prefix+"_ENABLED")
	setStr(&dst.APIKey, prefix+"_API_KEY")
	setStr(&dst.APISecret, prefix+"_API_SECRET")
	setStr(&dst.EncryptedSecretPath, prefix+"_ENCRYPTED_SECRET_PATH")
	setStr(&dst.SecretPassword, prefix+"_SECRET_PASSWORD")
	setStr(&dst.BaseURL, prefix+"_BASE_URL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
