package reconcile

import (
	"time"

	"github.com/alanyoungcy/reconbot/internal/domain"
)

// Status is the terminal state of a Reconcile call.
type Status string

const (
	StatusOK         Status = "ok"
	StatusThrottled  Status = "throttled"
	StatusSuppressed Status = "suppressed"
	StatusFailed     Status = "failed"
)

// PositionResult is the per-position outcome of one pass.
type PositionResult struct {
	Position       domain.Position `json:"position"`
	Factors        Factors         `json:"factors"`
	Classification Classification  `json:"classification"`
	Action         CleanupAction   `json:"action,omitempty"`
	Cleaned        bool            `json:"cleaned"`
	Error          string          `json:"error,omitempty"`
}

// Report summarises one Reconcile call.
type Report struct {
	PassID          string             `json:"pass_id,omitempty"`
	Status          Status             `json:"status"`
	WalletID        string             `json:"wallet_id"`
	Mode            domain.TradingMode `json:"mode"`
	GhostsFound     int                `json:"ghosts_found"`
	GhostsCleaned   int                `json:"ghosts_cleaned"`
	LegitimateCount int                `json:"legitimate_count"`
	Errors          []string           `json:"errors"`
	Positions       []PositionResult   `json:"positions,omitempty"`
	StartedAt       time.Time          `json:"started_at"`
	Duration        time.Duration      `json:"duration"`
}

// AccountStatus is returned by Service.Status.
type AccountStatus struct {
	WalletID          string                `json:"wallet_id"`
	Mode              domain.TradingMode    `json:"mode"`
	LastReconcileTime time.Time             `json:"last_reconcile_time"`
	AttemptCount      int                   `json:"attempt_count"`
	MaxAttempts       int                   `json:"max_attempts"`
	LastOutcome       domain.AttemptOutcome `json:"last_outcome"`
	// ThrottleMs is the configured interval between passes.
	ThrottleMs int64 `json:"throttle_ms"`
	// ThrottleRemainingMs is the time left before the next pass may run.
	ThrottleRemainingMs int64 `json:"throttle_remaining_ms"`
}
