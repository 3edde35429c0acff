// Package reconcile keeps the local position store consistent with exchange
// state. A pass analyzes every open position of one (wallet, mode) account,
// classifies each as a ghost or legitimate, and cleans up ghosts behind a
// snapshot. Passes are throttled, single-flight per account and capped by an
// attempt counter that only a clean pass or a manual reset clears.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/reconbot/internal/domain"
)

// Config holds the engine tunables.
type Config struct {
	ThrottleInterval  time.Duration
	MaxAttempts       int
	QuantityThreshold float64
	GhostHighRatio    float64
	MaxUnknownFactors int
	OldPositionAge    time.Duration
	LookupTimeout     time.Duration
	OrderHistorySlack time.Duration
	MaxConcurrency    int
	SlowPassThreshold time.Duration
	DistributedLock   bool
	LockTTL           time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		ThrottleInterval:  30 * time.Second,
		MaxAttempts:       3,
		QuantityThreshold: 0.95,
		GhostHighRatio:    0.10,
		MaxUnknownFactors: 1,
		OldPositionAge:    24 * time.Hour,
		LookupTimeout:     5 * time.Second,
		OrderHistorySlack: time.Hour,
		MaxConcurrency:    8,
		SlowPassThreshold: 3 * time.Second,
		LockTTL:           2 * time.Minute,
	}
}

// Deps are the collaborators a Service works against. Positions and
// Exchanges are required; the rest may be nil.
type Deps struct {
	Positions domain.PositionStore
	Exchanges domain.ExchangeProvider
	Snapshots domain.SnapshotSink
	Audit     domain.AuditStore
	Attempts  domain.AttemptStore
	Locks     domain.LockManager
	Events    domain.EventPublisher
}

// AuditEventAttemptsReset is logged when an operator resets an account.
const AuditEventAttemptsReset = "reconcile_attempts_reset"

// Service is the reconciliation entry point. It is safe for concurrent use;
// passes for different accounts run in parallel.
type Service struct {
	cfg        Config
	deps       Deps
	analyzer   *Analyzer
	classifier Classifier
	cleaner    *Cleaner
	tracker    *Tracker
	sched      *scheduler
	now        func() time.Time
	logger     *slog.Logger
}

// NewService wires the pipeline from cfg and deps.
func NewService(cfg Config, deps Deps, logger *slog.Logger) *Service {
	logger = logger.With(slog.String("component", "reconcile"))
	s := &Service{
		cfg:  cfg,
		deps: deps,
		analyzer: NewAnalyzer(deps.Positions, AnalyzerConfig{
			OldPositionAge:    cfg.OldPositionAge,
			LookupTimeout:     cfg.LookupTimeout,
			OrderHistorySlack: cfg.OrderHistorySlack,
			MaxConcurrency:    cfg.MaxConcurrency,
		}, logger),
		classifier: NewClassifier(ClassifierConfig{
			GhostHighRatio:    cfg.GhostHighRatio,
			QuantityThreshold: cfg.QuantityThreshold,
			MaxUnknownFactors: cfg.MaxUnknownFactors,
		}),
		cleaner: NewCleaner(deps.Positions, deps.Snapshots, deps.Audit, deps.Events, logger),
		tracker: NewTracker(cfg.MaxAttempts, deps.Attempts, logger),
		logger:  logger,
	}
	s.setClock(time.Now)
	return s
}

// WithClock replaces the time source. Intended for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.setClock(now)
	return s
}

func (s *Service) setClock(now func() time.Time) {
	s.now = now
	s.sched = newScheduler(s.cfg.ThrottleInterval, now)
	s.analyzer.now = now
	s.cleaner.now = now
}

func validAccount(walletID string, mode domain.TradingMode) error {
	if walletID == "" {
		return fmt.Errorf("%w: empty wallet id", domain.ErrInvalidAccount)
	}
	if _, err := domain.ParseTradingMode(string(mode)); err != nil {
		return fmt.Errorf("%w: mode %q", domain.ErrInvalidAccount, mode)
	}
	return nil
}

// Reconcile runs one pass for the account unless it is throttled, in flight
// or suppressed. It never returns an error; failures are reported in the
// Report with StatusFailed.
func (s *Service) Reconcile(ctx context.Context, walletID string, mode domain.TradingMode) Report {
	started := s.now()
	rep := Report{
		WalletID:  walletID,
		Mode:      mode,
		StartedAt: started,
		Errors:    []string{},
	}
	if err := validAccount(walletID, mode); err != nil {
		rep.Status = StatusFailed
		rep.Errors = append(rep.Errors, err.Error())
		s.logger.ErrorContext(ctx, "reconcile rejected", slog.String("error", err.Error()))
		return rep
	}

	key := accountKey{walletID, mode}
	p, gate := s.sched.begin(key)
	if gate != gateOpen {
		rep.Status = StatusThrottled
		s.logger.DebugContext(ctx, "reconcile throttled",
			slog.String("account", key.String()),
			slog.Bool("in_flight", gate == gateInFlight),
		)
		return rep
	}
	// Releases the key if anything below panics; a no-op after finish.
	defer p.abandon()

	if !s.tracker.CanAttempt(ctx, walletID, mode) {
		rep.Status = StatusSuppressed
		s.logger.DebugContext(ctx, "reconcile suppressed",
			slog.String("account", key.String()),
			slog.Int("max_attempts", s.tracker.MaxAttempts()),
		)
		return rep
	}

	if s.cfg.DistributedLock && s.deps.Locks != nil {
		unlock, err := s.deps.Locks.Acquire(ctx, "reconcile:"+key.String(), s.cfg.LockTTL)
		switch {
		case err == nil:
			defer unlock()
		case errors.Is(err, domain.ErrLockHeld):
			rep.Status = StatusThrottled
			s.logger.DebugContext(ctx, "reconcile lock held elsewhere", slog.String("account", key.String()))
			return rep
		default:
			s.logger.WarnContext(ctx, "distributed lock unavailable, continuing",
				slog.String("account", key.String()),
				slog.String("error", err.Error()),
			)
		}
	}

	rep.PassID = uuid.NewString()
	err := s.runPass(ctx, walletID, mode, &rep)
	p.finish()
	finished := s.now()
	rep.Duration = finished.Sub(started)

	if err != nil {
		rep.Status = StatusFailed
		rep.Errors = append(rep.Errors, err.Error())
		s.tracker.RecordFailure(ctx, walletID, mode, finished)
		s.logger.ErrorContext(ctx, "reconcile pass failed",
			slog.String("account", key.String()),
			slog.String("pass_id", rep.PassID),
			slog.String("error", err.Error()),
		)
		if s.deps.Events != nil {
			s.deps.Events.Publish(domain.EventReconcileFailed, map[string]any{
				"wallet_id": walletID,
				"mode":      string(mode),
				"pass_id":   rep.PassID,
				"error":     err.Error(),
			})
		}
	} else {
		rep.Status = StatusOK
		st := s.tracker.RecordAttempt(ctx, walletID, mode, rep.GhostsFound, finished)
		s.logger.InfoContext(ctx, "reconcile pass complete",
			slog.String("account", key.String()),
			slog.String("pass_id", rep.PassID),
			slog.Int("positions", len(rep.Positions)),
			slog.Int("ghosts_found", rep.GhostsFound),
			slog.Int("ghosts_cleaned", rep.GhostsCleaned),
			slog.Int("attempt_count", st.AttemptCount),
		)
	}

	if s.cfg.SlowPassThreshold > 0 && rep.Duration > s.cfg.SlowPassThreshold {
		s.logger.WarnContext(ctx, "slow reconcile pass",
			slog.String("account", key.String()),
			slog.Duration("duration", rep.Duration),
		)
	}
	return rep
}

// runPass analyzes, classifies and cleans one account. Panics are returned
// as errors.
func (s *Service) runPass(ctx context.Context, walletID string, mode domain.TradingMode, rep *Report) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("reconcile: panic during pass: %v", r)
		}
	}()

	exch, err := s.deps.Exchanges.ForWallet(walletID, mode)
	if err != nil {
		return fmt.Errorf("reconcile: resolve exchange: %w", err)
	}
	all, err := s.deps.Positions.ListOpenPositions(ctx, walletID, mode)
	if err != nil {
		return fmt.Errorf("reconcile: list positions: %w", err)
	}
	positions := make([]domain.Position, 0, len(all))
	for _, p := range all {
		if p.IsActive() {
			positions = append(positions, p)
		}
	}

	factors := s.analyzer.Analyze(ctx, exch, positions)

	rep.Positions = make([]PositionResult, len(positions))
	index := make(map[string]int, len(positions))
	var ghosts []Ghost
	for i, p := range positions {
		c := s.classifier.Classify(factors[i])
		rep.Positions[i] = PositionResult{Position: p, Factors: factors[i], Classification: c}
		index[p.ID] = i
		if c.Verdict.IsGhost() {
			ghosts = append(ghosts, Ghost{Position: p, Classification: c})
		} else {
			rep.LegitimateCount++
		}
	}
	rep.GhostsFound = len(ghosts)
	if len(ghosts) == 0 {
		return nil
	}

	cr := s.cleaner.Cleanup(ctx, walletID, mode, ghosts)
	rep.GhostsCleaned = cr.Cleaned
	if cr.SnapshotErr != nil {
		rep.Errors = append(rep.Errors, "snapshot: "+cr.SnapshotErr.Error())
	}
	for _, r := range cr.Results {
		pr := &rep.Positions[index[r.PositionID]]
		pr.Action = r.Action
		if r.Err != nil {
			pr.Error = r.Err.Error()
			rep.Errors = append(rep.Errors, r.Err.Error())
		} else {
			pr.Cleaned = true
		}
	}
	return nil
}

// Status returns the bookkeeping for an account without running a pass.
func (s *Service) Status(ctx context.Context, walletID string, mode domain.TradingMode) (AccountStatus, error) {
	if err := validAccount(walletID, mode); err != nil {
		return AccountStatus{}, err
	}
	key := accountKey{walletID, mode}
	st := s.tracker.State(ctx, walletID, mode)
	last := st.LastReconcileAt
	if t, ok := s.sched.lastFinished(key); ok && t.After(last) {
		last = t
	}
	return AccountStatus{
		WalletID:            walletID,
		Mode:                mode,
		LastReconcileTime:   last,
		AttemptCount:        st.AttemptCount,
		MaxAttempts:         s.tracker.MaxAttempts(),
		LastOutcome:         st.LastOutcome,
		ThrottleMs:          s.sched.interval.Milliseconds(),
		ThrottleRemainingMs: s.sched.remaining(key).Milliseconds(),
	}, nil
}

// ResetAttempts clears the attempt cap for an account so a suppressed
// account is eligible again.
func (s *Service) ResetAttempts(ctx context.Context, walletID string, mode domain.TradingMode) error {
	if err := validAccount(walletID, mode); err != nil {
		return err
	}
	prev := s.tracker.State(ctx, walletID, mode).AttemptCount
	s.tracker.Reset(ctx, walletID, mode)

	s.logger.InfoContext(ctx, "reconcile attempts reset",
		slog.String("wallet_id", walletID),
		slog.String("mode", string(mode)),
		slog.Int("previous_count", prev),
	)
	if s.deps.Audit != nil {
		err := s.deps.Audit.Log(ctx, AuditEventAttemptsReset, map[string]any{
			"wallet_id":      walletID,
			"mode":           string(mode),
			"previous_count": prev,
		})
		if err != nil {
			s.logger.WarnContext(ctx, "audit log failed", slog.String("error", err.Error()))
		}
	}
	if s.deps.Events != nil {
		s.deps.Events.Publish(domain.EventAttemptsReset, map[string]any{
			"wallet_id": walletID,
			"mode":      string(mode),
		})
	}
	return nil
}
