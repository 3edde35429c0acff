package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alanyoungcy/reconbot/internal/domain"
)

func validConfig() Config {
	cfg := Defaults()
	cfg.Reconcile.Wallets = []string{"main:live"}
	return cfg
}

func TestDefaults_Validate(t *testing.T) {
	cfg := validConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults with one wallet should validate: %v", err)
	}
}

func TestValidate_CollectsEveryProblem(t *testing.T) {
	cfg := validConfig()
	cfg.Mode = "trade"
	cfg.Store = "mysql"
	cfg.Reconcile.MaxAttempts = 0
	cfg.Reconcile.GhostHighRatio = 0.99
	cfg.Reconcile.DistributedLock = true
	cfg.Notify.TelegramToken = "t"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{
		`unknown mode "trade"`,
		`unknown store "mysql"`,
		"max_attempts",
		"ghost_high_ratio",
		"distributed_lock requires redis.enabled",
		"telegram_token and telegram_chat_id",
	} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error missing %q:\n%v", want, err)
		}
	}
}

func TestValidate_ExchangeAccounts(t *testing.T) {
	cfg := validConfig()
	cfg.Exchange.Live = BinanceAccount{Enabled: true, APIKey: "k", EncryptedSecretPath: "/tmp/secret.json"}
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "exchange.live: secret_password") {
		t.Fatalf("err = %v, want secret_password complaint", err)
	}

	cfg.Exchange.Live.SecretPassword = "pw"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("encrypted secret account should validate: %v", err)
	}
}

func TestValidate_ServerModeNeedsNoWallets(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "server"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("server mode without wallets: %v", err)
	}
	cfg.Mode = "scan"
	if err := cfg.Validate(); err == nil {
		t.Fatal("scan mode without wallets should fail")
	}
}

func TestAccounts(t *testing.T) {
	r := ReconcileConfig{Wallets: []string{"main:live", " alt : Paper ", "bare", "main:live"}}
	got, err := r.Accounts()
	if err != nil {
		t.Fatalf("Accounts: %v", err)
	}
	want := []Account{
		{WalletID: "main", Mode: domain.TradingModeLive},
		{WalletID: "alt", Mode: domain.TradingModePaper},
		{WalletID: "bare", Mode: domain.TradingModeLive},
	}
	if len(got) != len(want) {
		t.Fatalf("accounts = %+v, want %+v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("account %d = %+v, want %+v", i, got[i], want[i])
		}
	}

	for _, bad := range []string{":live", "w:margin"} {
		if _, err := (ReconcileConfig{Wallets: []string{bad}}).Accounts(); err == nil {
			t.Errorf("Accounts(%q) should fail", bad)
		}
	}
}

func TestLoad_FileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	body := `
mode = "scan"
store = "sqlite"

[sqlite]
path = "/var/lib/reconbot/state.db"

[reconcile]
wallets = ["main:live"]
throttle_interval = "45s"
max_attempts = 5

[server]
port = 9000
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("RECONBOT_RECONCILE_WALLETS", "main:live, alt:testnet")
	t.Setenv("RECONBOT_SERVER_PORT", "9100")
	t.Setenv("RECONBOT_REDIS_ENABLED", "true")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Mode != "scan" || cfg.Store != "sqlite" || cfg.SQLite.Path != "/var/lib/reconbot/state.db" {
		t.Errorf("file values not applied: %+v", cfg)
	}
	if cfg.Reconcile.ThrottleInterval.Duration != 45*time.Second || cfg.Reconcile.MaxAttempts != 5 {
		t.Errorf("reconcile = %+v", cfg.Reconcile)
	}
	if cfg.Reconcile.LookupTimeout.Duration != 5*time.Second {
		t.Errorf("unset field lost its default: %v", cfg.Reconcile.LookupTimeout)
	}
	if cfg.Server.Port != 9100 {
		t.Errorf("port = %d, want env override 9100", cfg.Server.Port)
	}
	if len(cfg.Reconcile.Wallets) != 2 || cfg.Reconcile.Wallets[1] != "alt:testnet" {
		t.Errorf("wallets = %v", cfg.Reconcile.Wallets)
	}
	if !cfg.Redis.Enabled {
		t.Error("redis.enabled env override not applied")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.toml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestRedactedConfig(t *testing.T) {
	cfg := validConfig()
	cfg.Postgres.Password = "pg-secret"
	cfg.Exchange.Live.APISecret = "binance-secret"
	cfg.Server.APIKey = "api-key"
	cfg.Notify.DiscordWebhookURL = "https://discord.example/hook"

	out := RedactedConfig(&cfg)
	for name, v := range map[string]string{
		"postgres.password":        out.Postgres.Password,
		"exchange.live.api_secret": out.Exchange.Live.APISecret,
		"server.api_key":           out.Server.APIKey,
		"notify.discord":           out.Notify.DiscordWebhookURL,
	} {
		if v != redacted {
			t.Errorf("%s = %q, want redacted", name, v)
		}
	}
	if out.Redis.Password != "" {
		t.Errorf("empty secret should stay empty, got %q", out.Redis.Password)
	}
	if cfg.Postgres.Password != "pg-secret" {
		t.Error("original config was modified")
	}

	out.Reconcile.Wallets[0] = "changed"
	if cfg.Reconcile.Wallets[0] != "main:live" {
		t.Error("redacted copy shares the wallets slice")
	}
}
