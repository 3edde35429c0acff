package app

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/reconbot/internal/config"
	"github.com/alanyoungcy/reconbot/internal/domain"
	"github.com/alanyoungcy/reconbot/internal/reconcile"
)

// Reconciler runs one reconciliation pass for an account.
type Reconciler interface {
	Reconcile(ctx context.Context, walletID string, mode domain.TradingMode) reconcile.Report
}

// Scanner triggers a pass for every configured account on a fixed interval.
type Scanner struct {
	svc      Reconciler
	accounts []config.Account
	interval time.Duration
	logger   *slog.Logger
}

// NewScanner creates a Scanner.
func NewScanner(svc Reconciler, accounts []config.Account, interval time.Duration, logger *slog.Logger) *Scanner {
	return &Scanner{
		svc:      svc,
		accounts: accounts,
		interval: interval,
		logger:   logger.With(slog.String("component", "scanner")),
	}
}

// Run scans immediately and then on every tick until ctx is cancelled.
func (s *Scanner) Run(ctx context.Context) error {
	s.logger.InfoContext(ctx, "scan loop started",
		slog.Int("accounts", len(s.accounts)),
		slog.Duration("interval", s.interval),
	)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.RunOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce reconciles every account concurrently and returns the reports in
// account order.
func (s *Scanner) RunOnce(ctx context.Context) []reconcile.Report {
	reports := make([]reconcile.Report, len(s.accounts))

	var g errgroup.Group
	for i, acct := range s.accounts {
		g.Go(func() error {
			rep := s.svc.Reconcile(ctx, acct.WalletID, acct.Mode)
			reports[i] = rep
			s.log(ctx, rep)
			return nil
		})
	}
	_ = g.Wait()
	return reports
}

func (s *Scanner) log(ctx context.Context, rep reconcile.Report) {
	attrs := []any{
		slog.String("wallet_id", rep.WalletID),
		slog.String("mode", string(rep.Mode)),
		slog.String("status", string(rep.Status)),
		slog.Int("ghosts_found", rep.GhostsFound),
		slog.Int("ghosts_cleaned", rep.GhostsCleaned),
		slog.Duration("duration", rep.Duration),
	}
	switch rep.Status {
	case reconcile.StatusFailed:
		attrs = append(attrs, slog.Any("errors", rep.Errors))
		s.logger.WarnContext(ctx, "scheduled pass failed", attrs...)
	case reconcile.StatusOK:
		s.logger.InfoContext(ctx, "scheduled pass finished", attrs...)
	default:
		s.logger.DebugContext(ctx, "scheduled pass skipped", attrs...)
	}
}
