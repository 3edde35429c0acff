// Package app provides the top-level application lifecycle for reconbot. It
// wires together all dependencies (stores, caches, snapshot sinks, exchanges,
// the reconciler and notifications) and starts the goroutines required by the
// configured operating mode.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/reconbot/internal/config"
)

// App is the root application object. It owns the configuration, logger, and a
// list of cleanup functions that are called in reverse order on shutdown.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run wires all dependencies, selects the operating mode, and blocks until
// the context is cancelled. Resources are released by Close.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting application",
		slog.String("mode", a.cfg.Mode),
		slog.String("store", a.cfg.Store),
		slog.String("log_level", a.cfg.LogLevel),
	)

	deps, err := a.wire(ctx)
	if err != nil {
		return err
	}

	switch strings.ToLower(a.cfg.Mode) {
	case "scan":
		return a.ScanMode(ctx, deps)
	case "server":
		return a.ServerMode(ctx, deps)
	case "full":
		return a.FullMode(ctx, deps)
	default:
		return fmt.Errorf("app: unsupported mode %q", a.cfg.Mode)
	}
}

// Import seeds the local store from a JSON Lines file of the given kind
// ("positions" or "fills").
func (a *App) Import(ctx context.Context, kind, path string) (int, error) {
	deps, err := a.wire(ctx)
	if err != nil {
		return 0, err
	}
	n, err := ImportFile(ctx, deps, kind, path)
	if err != nil {
		return n, fmt.Errorf("app: import %s: %w", kind, err)
	}
	a.logger.InfoContext(ctx, "import finished",
		slog.String("kind", kind),
		slog.String("path", path),
		slog.Int("records", n),
	)
	return n, nil
}

func (a *App) wire(ctx context.Context) (*Dependencies, error) {
	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return nil, fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)
	return deps, nil
}

// Close tears down all resources in reverse registration order. It is safe to
// call multiple times; subsequent calls are no-ops.
func (a *App) Close() {
	a.logger.Info("shutting down application")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
