package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/reconbot/internal/notify"
	"github.com/alanyoungcy/reconbot/internal/server"
	"github.com/alanyoungcy/reconbot/internal/server/handler"
	"github.com/alanyoungcy/reconbot/internal/server/ws"
)

// ScanMode runs the periodic reconciliation loop and the event bus.
func (a *App) ScanMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting scan mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startEventBus(ctx, g, deps)
	if err := a.startScanner(ctx, g, deps); err != nil {
		return fmt.Errorf("scan mode: %w", err)
	}
	return g.Wait()
}

// ServerMode serves the HTTP API only. Passes run when an operator triggers
// them.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startEventBus(ctx, g, deps)
	a.startHTTPServer(ctx, g, deps)
	return g.Wait()
}

// FullMode runs the scan loop and the HTTP API together.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startEventBus(ctx, g, deps)
	if err := a.startScanner(ctx, g, deps); err != nil {
		return fmt.Errorf("full mode: %w", err)
	}
	a.startHTTPServer(ctx, g, deps)
	return g.Wait()
}

func (a *App) startEventBus(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	g.Go(func() error {
		return deps.Bus.Run(ctx)
	})
}

func (a *App) startScanner(ctx context.Context, g *errgroup.Group, deps *Dependencies) error {
	accounts, err := a.cfg.Reconcile.Accounts()
	if err != nil {
		return err
	}
	if len(accounts) == 0 {
		return errors.New("no wallets configured")
	}
	scanner := NewScanner(deps.Reconciler, accounts, a.cfg.Reconcile.ScanInterval.Duration, a.logger)
	g.Go(func() error {
		return scanner.Run(ctx)
	})
	return nil
}

// startHTTPServer adds the HTTP server and, when Redis is wired, the
// WebSocket hub to g. The server is shut down gracefully when ctx is
// cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	startedAt := time.Now().UTC()

	var hub *ws.Hub
	if deps.SignalBus != nil {
		hub = ws.NewHub(deps.SignalBus, deps.EventLog, a.logger, ws.Config{
			Mode:           a.cfg.Mode,
			Wallets:        a.cfg.Reconcile.Wallets,
			Channel:        notify.DefaultChannel,
			Stream:         notify.DefaultStream,
			AllowedOrigins: a.cfg.Server.CORSOrigins,
			StartedAt:      startedAt,
		})
		g.Go(func() error {
			return hub.Run(ctx)
		})
	}

	handlers := server.Handlers{
		Health: handler.NewHealthHandler(deps.HealthChecks, a.logger),
		Status: &handler.StatusHandler{
			Mode:      a.cfg.Mode,
			Store:     a.cfg.Store,
			Wallets:   a.cfg.Reconcile.Wallets,
			StartedAt: startedAt,
			Dropped:   deps.Bus.Dropped,
		},
		Positions: handler.NewPositionHandler(deps.Positions, a.logger),
		Reconcile: handler.NewReconcileHandler(deps.Reconciler, deps.EventLog, notify.DefaultStream, a.logger),
		Audit:     handler.NewAuditHandler(deps.Audit, a.logger),
		Snapshots: handler.NewSnapshotHandler(deps.SnapshotReader, deps.SnapshotLister, a.logger),
	}

	srv := server.NewServer(server.Config{
		Port:          a.cfg.Server.Port,
		CORSOrigins:   a.cfg.Server.CORSOrigins,
		APIKey:        a.cfg.Server.APIKey,
		TriggerLimit:  a.cfg.Server.TriggerLimit,
		TriggerWindow: a.cfg.Server.TriggerWindow.Duration,
	}, handlers, hub, deps.RateLimiter, a.logger)

	g.Go(func() error {
		a.logger.InfoContext(ctx, "HTTP server listening",
			slog.Int("port", a.cfg.Server.Port),
			slog.String("url", fmt.Sprintf("http://localhost:%d", a.cfg.Server.Port)))
		return srv.Start()
	})

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
