package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/reconbot/internal/domain"
)

// CleanupAction is the mutation applied to a ghost.
type CleanupAction string

const (
	ActionDelete CleanupAction = "delete"
	ActionClose  CleanupAction = "close"
)

// AuditEventGhostCleaned is the audit log event for each cleaned position.
const AuditEventGhostCleaned = "position_ghost_cleaned"

// Ghost is a position together with the verdict that condemned it.
type Ghost struct {
	Position       domain.Position
	Classification Classification
}

// CleanupResult is the outcome for a single ghost.
type CleanupResult struct {
	PositionID string
	Action     CleanupAction
	Err        error
}

// CleanupReport summarises a cleanup batch.
type CleanupReport struct {
	Label       string
	SnapshotErr error
	Results     []CleanupResult
	Cleaned     int
	Failed      int
}

// GhostsCleanedEvent is the payload published after each batch.
type GhostsCleanedEvent struct {
	WalletID string             `json:"wallet_id"`
	Mode     domain.TradingMode `json:"mode"`
	Found    int                `json:"found"`
	Cleaned  int                `json:"cleaned"`
	Failed   int                `json:"failed"`
	Label    string             `json:"label"`
}

// Cleaner snapshots ghosts and then deletes or closes them.
type Cleaner struct {
	store     domain.PositionStore
	snapshots domain.SnapshotSink
	audit     domain.AuditStore
	events    domain.EventPublisher
	now       func() time.Time
	logger    *slog.Logger
}

// NewCleaner creates a Cleaner. snapshots, audit and events may be nil.
func NewCleaner(
	store domain.PositionStore,
	snapshots domain.SnapshotSink,
	audit domain.AuditStore,
	events domain.EventPublisher,
	logger *slog.Logger,
) *Cleaner {
	return &Cleaner{
		store:     store,
		snapshots: snapshots,
		audit:     audit,
		events:    events,
		now:       time.Now,
		logger:    logger.With(slog.String("component", "cleanup")),
	}
}

// actionFor picks delete for unusable records and close for quantity ghosts,
// so closed positions keep their realized history.
func actionFor(c Classification) CleanupAction {
	switch c.Reason {
	case ReasonCorruptRecord, ReasonInvalidPrice:
		return ActionDelete
	default:
		return ActionClose
	}
}

// SnapshotLabel builds the backup label for a batch.
func SnapshotLabel(walletID string, mode domain.TradingMode, at time.Time) string {
	return fmt.Sprintf("ghost-cleanup/%s/%s/%s", walletID, mode, at.UTC().Format("20060102T150405.000Z"))
}

// Cleanup applies verdicts to ghosts. Entries whose verdict is not a ghost
// are skipped. A failure on one position never stops the rest.
func (c *Cleaner) Cleanup(ctx context.Context, walletID string, mode domain.TradingMode, ghosts []Ghost) CleanupReport {
	targets := make([]Ghost, 0, len(ghosts))
	for _, g := range ghosts {
		if g.Classification.Verdict.IsGhost() {
			targets = append(targets, g)
		}
	}
	var rep CleanupReport
	if len(targets) == 0 {
		return rep
	}

	rep.Label = SnapshotLabel(walletID, mode, c.now())
	if c.snapshots != nil {
		records := make([]domain.Position, len(targets))
		for i, g := range targets {
			records[i] = g.Position
		}
		if err := c.snapshots.Snapshot(ctx, records, rep.Label); err != nil {
			rep.SnapshotErr = err
			c.logger.WarnContext(ctx, "snapshot failed, continuing cleanup",
				slog.String("label", rep.Label),
				slog.String("error", err.Error()),
			)
		}
	}

	rep.Results = make([]CleanupResult, 0, len(targets))
	for _, g := range targets {
		res := c.apply(ctx, g)
		if res.Err != nil {
			rep.Failed++
			c.logger.WarnContext(ctx, "ghost cleanup failed",
				slog.String("position_id", res.PositionID),
				slog.String("action", string(res.Action)),
				slog.String("error", res.Err.Error()),
			)
		} else {
			rep.Cleaned++
			c.recordAudit(ctx, walletID, mode, g, res.Action, rep.Label)
		}
		rep.Results = append(rep.Results, res)
	}

	c.logger.InfoContext(ctx, "ghost cleanup complete",
		slog.String("wallet_id", walletID),
		slog.String("mode", string(mode)),
		slog.Int("found", len(targets)),
		slog.Int("cleaned", rep.Cleaned),
		slog.Int("failed", rep.Failed),
	)

	if c.events != nil {
		c.events.Publish(domain.EventGhostsCleaned, GhostsCleanedEvent{
			WalletID: walletID,
			Mode:     mode,
			Found:    len(targets),
			Cleaned:  rep.Cleaned,
			Failed:   rep.Failed,
			Label:    rep.Label,
		})
	}
	return rep
}

func (c *Cleaner) apply(ctx context.Context, g Ghost) CleanupResult {
	res := CleanupResult{PositionID: g.Position.ID, Action: actionFor(g.Classification)}
	var err error
	switch res.Action {
	case ActionDelete:
		err = c.store.Delete(ctx, g.Position.ID)
	default:
		err = c.store.MarkClosed(ctx, g.Position.ID)
	}
	if err != nil {
		res.Err = fmt.Errorf("reconcile: %s position %s: %w", res.Action, g.Position.ID, err)
	}
	return res
}

func (c *Cleaner) recordAudit(ctx context.Context, walletID string, mode domain.TradingMode, g Ghost, action CleanupAction, label string) {
	if c.audit == nil {
		return
	}
	err := c.audit.Log(ctx, AuditEventGhostCleaned, map[string]any{
		"wallet_id":   walletID,
		"mode":        string(mode),
		"position_id": g.Position.ID,
		"symbol":      g.Position.Symbol,
		"verdict":     string(g.Classification.Verdict),
		"reason":      g.Classification.Reason,
		"action":      string(action),
		"snapshot":    label,
	})
	if err != nil {
		c.logger.WarnContext(ctx, "audit log failed",
			slog.String("position_id", g.Position.ID),
			slog.String("error", err.Error()),
		)
	}
}
