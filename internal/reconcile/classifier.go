package reconcile

// Verdict is the classifier's decision for a single position.
type Verdict string

const (
	VerdictGhostHigh   Verdict = "ghost_high"
	VerdictGhostMedium Verdict = "ghost_medium"
	VerdictLegitimate  Verdict = "legitimate"
)

// IsGhost reports whether the verdict calls for cleanup.
func (v Verdict) IsGhost() bool {
	return v == VerdictGhostHigh || v == VerdictGhostMedium
}

// Reasons attached to a Classification.
const (
	ReasonCorruptRecord        = "corrupt_record"
	ReasonInvalidPrice         = "invalid_price"
	ReasonQuantityLost         = "quantity_lost"
	ReasonInsufficientEvidence = "insufficient_evidence"
	ReasonUnexplainedMismatch  = "unexplained_mismatch"
	ReasonExplainedByHistory   = "explained_by_history"
	ReasonConsistent           = "consistent"
)

// Classification pairs a verdict with the rule that produced it.
type Classification struct {
	Verdict Verdict `json:"verdict"`
	Reason  string  `json:"reason"`
}

// ClassifierConfig holds the decision thresholds.
type ClassifierConfig struct {
	// GhostHighRatio: a held/expected ratio below this is near-total loss.
	GhostHighRatio float64
	// QuantityThreshold: a ratio below this counts as a mismatch.
	QuantityThreshold float64
	// MaxUnknownFactors: more unknown factors than this defaults to legitimate.
	MaxUnknownFactors int
}

// Classifier maps Factors to a Classification. It does no I/O.
type Classifier struct {
	cfg ClassifierConfig
}

// NewClassifier creates a Classifier with the given thresholds.
func NewClassifier(cfg ClassifierConfig) Classifier {
	return Classifier{cfg: cfg}
}

// Classify applies the rules in order; the first match wins.
func (c Classifier) Classify(f Factors) Classification {
	// Unusable records are certain corruption regardless of other evidence.
	if f.Corrupt {
		return Classification{Verdict: VerdictGhostHigh, Reason: ReasonCorruptRecord}
	}
	if !f.PriceValidity {
		return Classification{Verdict: VerdictGhostHigh, Reason: ReasonInvalidPrice}
	}
	if f.QuantityMatch.Known && f.QuantityMatch.Ratio < c.cfg.GhostHighRatio {
		return Classification{Verdict: VerdictGhostHigh, Reason: ReasonQuantityLost}
	}

	if f.UnknownCount() > c.cfg.MaxUnknownFactors {
		return Classification{Verdict: VerdictLegitimate, Reason: ReasonInsufficientEvidence}
	}

	mismatch := f.QuantityMatch.Known && f.QuantityMatch.mismatchRatio() < c.cfg.QuantityThreshold
	if !mismatch {
		return Classification{Verdict: VerdictLegitimate, Reason: ReasonConsistent}
	}

	// Either history source explains the mismatch.
	if f.TradeHistory == PresencePresent || f.OrderHistory == PresencePresent {
		return Classification{Verdict: VerdictLegitimate, Reason: ReasonExplainedByHistory}
	}
	// Recent positions may still have fills in flight.
	if f.TradeHistory == PresenceUnknown || !f.PositionAge.IsOld {
		return Classification{Verdict: VerdictLegitimate, Reason: ReasonInsufficientEvidence}
	}
	return Classification{Verdict: VerdictGhostMedium, Reason: ReasonUnexplainedMismatch}
}
