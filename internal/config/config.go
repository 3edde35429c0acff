// Package config defines the reconbot configuration and its validation.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/alanyoungcy/reconbot/internal/domain"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by RECONBOT_* environment variables.
type Config struct {
	Postgres  PostgresConfig  `toml:"postgres"`
	SQLite    SQLiteConfig    `toml:"sqlite"`
	Redis     RedisConfig     `toml:"redis"`
	S3        S3Config        `toml:"s3"`
	Exchange  ExchangeConfig  `toml:"exchange"`
	Reconcile ReconcileConfig `toml:"reconcile"`
	Server    ServerConfig    `toml:"server"`
	Notify    NotifyConfig    `toml:"notify"`
	Mode      string          `toml:"mode"`
	LogLevel  string          `toml:"log_level"`
	Store     string          `toml:"store"`
}

// PostgresConfig holds PostgreSQL connection parameters.
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

// SQLiteConfig selects the embedded store file.
type SQLiteConfig struct {
	Path string `toml:"path"`
}

// RedisConfig holds Redis connection parameters.
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

// S3Config holds S3-compatible object storage parameters for snapshots.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
	Prefix         string `toml:"prefix"`
}

// ExchangeConfig holds the exchange accounts for live and testnet wallets.
type ExchangeConfig struct {
	Live              BinanceAccount `toml:"live"`
	Testnet           BinanceAccount `toml:"testnet"`
	RequestsPerMinute int            `toml:"requests_per_minute"`
	RecvWindow        duration       `toml:"recv_window"`
	HoldingsCacheTTL  duration       `toml:"holdings_cache_ttl"`
}

// BinanceAccount holds the credentials of one futures account. The secret is
// either inline or in a file written by `reconbot encrypt-secret`.
type BinanceAccount struct {
	Enabled             bool   `toml:"enabled"`
	APIKey              string `toml:"api_key"`
	APISecret           string `toml:"api_secret"`
	EncryptedSecretPath string `toml:"encrypted_secret_path"`
	SecretPassword      string `toml:"secret_password"`
	BaseURL             string `toml:"base_url"`
}

// ReconcileConfig holds the reconciliation engine tunables and the accounts
// the scan loop visits.
type ReconcileConfig struct {
	// Wallets lists "wallet_id:mode" pairs, e.g. "main:live".
	Wallets           []string `toml:"wallets"`
	ScanInterval      duration `toml:"scan_interval"`
	ThrottleInterval  duration `toml:"throttle_interval"`
	MaxAttempts       int      `toml:"max_attempts"`
	QuantityThreshold float64  `toml:"quantity_threshold"`
	GhostHighRatio    float64  `toml:"ghost_high_ratio"`
	MaxUnknownFactors int      `toml:"max_unknown_factors"`
	OldPositionAge    duration `toml:"old_position_age"`
	LookupTimeout     duration `toml:"lookup_timeout"`
	OrderHistorySlack duration `toml:"order_history_slack"`
	MaxConcurrency    int      `toml:"max_concurrency"`
	SlowPassThreshold duration `toml:"slow_pass_threshold"`
	DistributedLock   bool     `toml:"distributed_lock"`
	LockTTL           duration `toml:"lock_ttl"`
}

// Account is one parsed entry of ReconcileConfig.Wallets.
type Account struct {
	WalletID string
	Mode     domain.TradingMode
}

// Accounts parses Wallets. Entries without a mode default to live.
func (r ReconcileConfig) Accounts() ([]Account, error) {
	out := make([]Account, 0, len(r.Wallets))
	seen := make(map[Account]bool, len(r.Wallets))
	for _, w := range r.Wallets {
		id, modeStr, found := strings.Cut(strings.TrimSpace(w), ":")
		if !found {
			modeStr = string(domain.TradingModeLive)
		}
		id = strings.TrimSpace(id)
		if id == "" {
			return nil, fmt.Errorf("wallet entry %q has no id", w)
		}
		mode, err := domain.ParseTradingMode(modeStr)
		if err != nil {
			return nil, fmt.Errorf("wallet entry %q: %w", w, err)
		}
		a := Account{WalletID: id, Mode: mode}
		if seen[a] {
			continue
		}
		seen[a] = true
		out = append(out, a)
	}
	return out, nil
}

// duration wraps time.Duration so TOML strings like "30s" decode.
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port          int      `toml:"port"`
	CORSOrigins   []string `toml:"cors_origins"`
	APIKey        string   `toml:"api_key"`
	TriggerLimit  int      `toml:"trigger_limit"`
	TriggerWindow duration `toml:"trigger_window"`
}

// NotifyConfig holds notification channel credentials and the event bus size.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	DiscordUsername   string   `toml:"discord_username"`
	Events            []string `toml:"events"`
	BusCapacity       int      `toml:"bus_capacity"`
	// FailureCooldown holds back repeat reconcile-failed alerts per account.
	FailureCooldown duration `toml:"failure_cooldown"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "reconbot",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		SQLite: SQLiteConfig{
			Path: "reconbot.db",
		},
		Redis: RedisConfig{
			Enabled:    false,
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
			KeyPrefix:  "reconbot",
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "reconbot-snapshots",
			ForcePathStyle: true,
			Prefix:         "snapshots",
		},
		Exchange: ExchangeConfig{
			RequestsPerMinute: 600,
			RecvWindow:        duration{5 * time.Second},
			HoldingsCacheTTL:  duration{10 * time.Second},
		},
		Reconcile: ReconcileConfig{
			ScanInterval:      duration{time.Minute},
			ThrottleInterval:  duration{30 * time.Second},
			MaxAttempts:       3,
			QuantityThreshold: 0.95,
			GhostHighRatio:    0.10,
			MaxUnknownFactors: 1,
			OldPositionAge:    duration{24 * time.Hour},
			LookupTimeout:     duration{5 * time.Second},
			OrderHistorySlack: duration{time.Hour},
			MaxConcurrency:    8,
			SlowPassThreshold: duration{3 * time.Second},
			LockTTL:           duration{2 * time.Minute},
		},
		Server: ServerConfig{
			Port:          8000,
			CORSOrigins:   []string{"http://localhost:3000", "http://localhost:5173"},
			TriggerLimit:  6,
			TriggerWindow: duration{time.Minute},
		},
		Notify: NotifyConfig{
			Events:          []string{domain.EventGhostsCleaned, domain.EventReconcileFailed},
			BusCapacity:     256,
			FailureCooldown: duration{15 * time.Minute},
		},
		Mode:     "full",
		LogLevel: "info",
		Store:    "postgres",
	}
}

var validModes = map[string]bool{
	"scan":   true,
	"server": true,
	"full":   true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validStores = map[string]bool{
	"postgres": true,
	"sqlite":   true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: scan, server, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}
	if !validStores[strings.ToLower(c.Store)] {
		errs = append(errs, fmt.Sprintf("unknown store %q (valid: postgres, sqlite)", c.Store))
	}

	switch strings.ToLower(c.Store) {
	case "postgres":
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must be between 0 and pool_max_conns")
		}
	case "sqlite":
		if strings.TrimSpace(c.SQLite.Path) == "" {
			errs = append(errs, "sqlite: path must not be empty")
		}
	}

	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}
	if c.S3.Enabled && c.S3.Bucket == "" {
		errs = append(errs, "s3: bucket must not be empty")
	}

	for name, acct := range map[string]BinanceAccount{"live": c.Exchange.Live, "testnet": c.Exchange.Testnet} {
		if !acct.Enabled {
			continue
		}
		if acct.APIKey == "" {
			errs = append(errs, fmt.Sprintf("exchange.%s: api_key is required when enabled", name))
		}
		if acct.APISecret == "" && acct.EncryptedSecretPath == "" {
			errs = append(errs, fmt.Sprintf("exchange.%s: api_secret or encrypted_secret_path is required", name))
		}
		if acct.EncryptedSecretPath != "" && acct.SecretPassword == "" {
			errs = append(errs, fmt.Sprintf("exchange.%s: secret_password is required with encrypted_secret_path", name))
		}
	}
	if c.Exchange.RequestsPerMinute < 0 {
		errs = append(errs, "exchange: requests_per_minute must be >= 0")
	}

	r := c.Reconcile
	if _, err := r.Accounts(); err != nil {
		errs = append(errs, "reconcile: "+err.Error())
	}
	if c.Mode != "server" && len(r.Wallets) == 0 {
		errs = append(errs, "reconcile: wallets must list at least one account for mode "+c.Mode)
	}
	if r.ScanInterval.Duration <= 0 {
		errs = append(errs, "reconcile: scan_interval must be > 0")
	}
	if r.ThrottleInterval.Duration < 0 {
		errs = append(errs, "reconcile: throttle_interval must be >= 0")
	}
	if r.MaxAttempts < 1 {
		errs = append(errs, "reconcile: max_attempts must be >= 1")
	}
	if !(r.GhostHighRatio > 0 && r.GhostHighRatio < r.QuantityThreshold && r.QuantityThreshold <= 1) {
		errs = append(errs, "reconcile: need 0 < ghost_high_ratio < quantity_threshold <= 1")
	}
	if r.MaxUnknownFactors < 0 || r.MaxUnknownFactors > 3 {
		errs = append(errs, "reconcile: max_unknown_factors must be 0-3")
	}
	if r.LookupTimeout.Duration <= 0 {
		errs = append(errs, "reconcile: lookup_timeout must be > 0")
	}
	if r.MaxConcurrency < 1 {
		errs = append(errs, "reconcile: max_concurrency must be >= 1")
	}
	if r.DistributedLock {
		if !c.Redis.Enabled {
			errs = append(errs, "reconcile: distributed_lock requires redis.enabled")
		}
		if r.LockTTL.Duration <= 0 {
			errs = append(errs, "reconcile: lock_ttl must be > 0")
		}
	}

	if c.Mode != "scan" {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}
	if c.Notify.BusCapacity < 1 {
		errs = append(errs, "notify: bus_capacity must be >= 1")
	}
	if c.Notify.FailureCooldown.Duration < 0 {
		errs = append(errs, "notify: failure_cooldown must not be negative")
	}
	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
