// Command reconbot is the entry point for the position reconciliation
// service. It loads configuration, validates it, wires dependencies, sets up
// signal handling, and starts the application in the configured mode.
//
// Subcommands:
//
//	reconbot [-config config.toml]                         run the service
//	reconbot encrypt-secret -mode live -out secret.json    seal an API secret read from stdin
//	reconbot import -kind positions|fills [-config ...] F  seed the local store from JSON Lines
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/alanyoungcy/reconbot/internal/app"
	"github.com/alanyoungcy/reconbot/internal/config"
	"github.com/alanyoungcy/reconbot/internal/crypto"
	"github.com/alanyoungcy/reconbot/internal/domain"
)

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "encrypt-secret":
			os.Exit(encryptSecret(os.Args[2:]))
		case "import":
			os.Exit(importFile(os.Args[2:]))
		}
	}
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("reconbot", flag.ExitOnError)
	configPath := fs.String("config", "config.toml", "path to configuration file")
	_ = fs.Parse(args)

	cfg, logger, ok := loadConfig(*configPath)
	if !ok {
		return 1
	}

	logger.Info("reconbot starting",
		slog.String("mode", cfg.Mode),
		slog.String("config", *configPath),
		slog.Any("settings", config.RedactedConfig(cfg)),
	)

	application := app.New(cfg, logger)
	defer application.Close()

	// Setup signal handling for graceful shutdown.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := application.Run(ctx); err != nil {
		// context.Canceled is expected on clean shutdown.
		if errors.Is(err, context.Canceled) {
			logger.Info("application shut down gracefully")
		} else {
			logger.Error("application exited with error",
				slog.String("error", err.Error()),
			)
			fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
			return 1
		}
	}

	logger.Info("reconbot stopped")
	return 0
}

func importFile(args []string) int {
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	configPath := fs.String("config", "config.toml", "path to configuration file")
	kind := fs.String("kind", "positions", "record kind: positions or fills")
	_ = fs.Parse(args)
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: reconbot import -kind positions|fills [-config path] FILE")
		return 2
	}

	cfg, logger, ok := loadConfig(*configPath)
	if !ok {
		return 1
	}
	application := app.New(cfg, logger)
	defer application.Close()

	n, err := application.Import(context.Background(), *kind, fs.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "import failed after %d records: %v\n", n, err)
		return 1
	}
	fmt.Printf("imported %d %s\n", n, *kind)
	return 0
}

func encryptSecret(args []string) int {
	fs := flag.NewFlagSet("encrypt-secret", flag.ExitOnError)
	out := fs.String("out", "secret.json", "output file")
	mode := fs.String("mode", "live", "exchange account the secret belongs to (live or testnet)")
	_ = fs.Parse(args)

	if *mode != string(domain.TradingModeLive) && *mode != string(domain.TradingModeTestnet) {
		fmt.Fprintf(os.Stderr, "-mode must be live or testnet, got %q\n", *mode)
		return 2
	}

	password := os.Getenv("RECONBOT_SECRET_PASSWORD")
	if password == "" {
		fmt.Fprintln(os.Stderr, "RECONBOT_SECRET_PASSWORD must be set")
		return 2
	}

	fmt.Fprint(os.Stderr, "secret: ")
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		fmt.Fprintf(os.Stderr, "read secret: %v\n", err)
		return 1
	}
	secret := strings.TrimSpace(line)
	if secret == "" {
		fmt.Fprintln(os.Stderr, "empty secret")
		return 2
	}

	data, err := crypto.Seal(secret, password, crypto.AccountLabel("binance", *mode))
	if err != nil {
		fmt.Fprintf(os.Stderr, "encrypt: %v\n", err)
		return 1
	}
	if err := os.WriteFile(*out, data, 0o600); err != nil {
		fmt.Fprintf(os.Stderr, "write %s: %v\n", *out, err)
		return 1
	}
	fmt.Fprintf(os.Stderr, "wrote %s for binance:%s\n", *out, *mode)
	return 0
}

// loadConfig reads and validates the configuration and returns a JSON logger
// at the configured level, installed as the slog default.
func loadConfig(path string) (*config.Config, *slog.Logger, bool) {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load(path)
	if err != nil {
		logger.Error("failed to load config",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return nil, nil, false
	}

	var level slog.Level
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		return nil, nil, false
	}
	return cfg, logger, true
}
