package reconcile

import "testing"

func defaultClassifier() Classifier {
	cfg := DefaultConfig()
	return NewClassifier(ClassifierConfig{
		GhostHighRatio:    cfg.GhostHighRatio,
		QuantityThreshold: cfg.QuantityThreshold,
		MaxUnknownFactors: cfg.MaxUnknownFactors,
	})
}

func known(ratio float64) QuantityFactor {
	return QuantityFactor{Known: true, Held: ratio, Expected: 1, Ratio: ratio}
}

func TestClassify(t *testing.T) {
	c := defaultClassifier()
	old := AgeFactor{IsOld: true}
	young := AgeFactor{IsOld: false}

	tests := []struct {
		name    string
		f       Factors
		verdict Verdict
		reason  string
	}{
		{
			name:    "corrupt record",
			f:       Factors{Corrupt: true, PriceValidity: true, QuantityMatch: known(1)},
			verdict: VerdictGhostHigh,
			reason:  ReasonCorruptRecord,
		},
		{
			name:    "invalid price beats perfect match",
			f:       Factors{PriceValidity: false, QuantityMatch: known(1), TradeHistory: PresencePresent, OrderHistory: PresencePresent},
			verdict: VerdictGhostHigh,
			reason:  ReasonInvalidPrice,
		},
		{
			name:    "near total loss young with history",
			f:       Factors{PriceValidity: true, QuantityMatch: known(0.02), PositionAge: young, TradeHistory: PresencePresent, OrderHistory: PresencePresent},
			verdict: VerdictGhostHigh,
			reason:  ReasonQuantityLost,
		},
		{
			name:    "near total loss with unknown histories",
			f:       Factors{PriceValidity: true, QuantityMatch: known(0.05)},
			verdict: VerdictGhostHigh,
			reason:  ReasonQuantityLost,
		},
		{
			name:    "zero holdings",
			f:       Factors{PriceValidity: true, QuantityMatch: known(0), PositionAge: old, TradeHistory: PresenceAbsent, OrderHistory: PresenceAbsent},
			verdict: VerdictGhostHigh,
			reason:  ReasonQuantityLost,
		},
		{
			name:    "exact match",
			f:       Factors{PriceValidity: true, QuantityMatch: known(1), PositionAge: old, TradeHistory: PresenceAbsent, OrderHistory: PresenceAbsent},
			verdict: VerdictLegitimate,
			reason:  ReasonConsistent,
		},
		{
			name:    "within threshold",
			f:       Factors{PriceValidity: true, QuantityMatch: known(0.96), PositionAge: old, TradeHistory: PresenceAbsent, OrderHistory: PresenceAbsent},
			verdict: VerdictLegitimate,
			reason:  ReasonConsistent,
		},
		{
			name:    "triple corroboration",
			f:       Factors{PriceValidity: true, QuantityMatch: known(0.80), PositionAge: old, TradeHistory: PresenceAbsent, OrderHistory: PresenceAbsent},
			verdict: VerdictGhostMedium,
			reason:  ReasonUnexplainedMismatch,
		},
		{
			name:    "trade history flips mismatch",
			f:       Factors{PriceValidity: true, QuantityMatch: known(0.80), PositionAge: old, TradeHistory: PresencePresent, OrderHistory: PresenceAbsent},
			verdict: VerdictLegitimate,
			reason:  ReasonExplainedByHistory,
		},
		{
			name:    "order history flips mismatch",
			f:       Factors{PriceValidity: true, QuantityMatch: known(0.80), PositionAge: old, TradeHistory: PresenceAbsent, OrderHistory: PresencePresent},
			verdict: VerdictLegitimate,
			reason:  ReasonExplainedByHistory,
		},
		{
			name:    "young mismatch",
			f:       Factors{PriceValidity: true, QuantityMatch: known(0.80), PositionAge: young, TradeHistory: PresenceAbsent, OrderHistory: PresenceAbsent},
			verdict: VerdictLegitimate,
			reason:  ReasonInsufficientEvidence,
		},
		{
			name:    "unknown trade history",
			f:       Factors{PriceValidity: true, QuantityMatch: known(0.80), PositionAge: old, TradeHistory: PresenceUnknown, OrderHistory: PresenceAbsent},
			verdict: VerdictLegitimate,
			reason:  ReasonInsufficientEvidence,
		},
		{
			name:    "too many unknowns",
			f:       Factors{PriceValidity: true, QuantityMatch: known(0.80), PositionAge: old, TradeHistory: PresenceUnknown, OrderHistory: PresenceUnknown},
			verdict: VerdictLegitimate,
			reason:  ReasonInsufficientEvidence,
		},
		{
			name:    "holdings unknown",
			f:       Factors{PriceValidity: true, PositionAge: old, TradeHistory: PresenceAbsent, OrderHistory: PresenceAbsent},
			verdict: VerdictLegitimate,
			reason:  ReasonConsistent,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := c.Classify(tc.f)
			if got.Verdict != tc.verdict {
				t.Errorf("verdict = %s, want %s", got.Verdict, tc.verdict)
			}
			if got.Reason != tc.reason {
				t.Errorf("reason = %s, want %s", got.Reason, tc.reason)
			}
		})
	}
}

func TestClassify_HighRatioDominatesAcrossAgesAndHistory(t *testing.T) {
	c := defaultClassifier()
	presences := []Presence{PresenceUnknown, PresenceAbsent, PresencePresent}
	for _, ratio := range []float64{0, 0.01, 0.05, 0.0999} {
		for _, isOld := range []bool{false, true} {
			for _, th := range presences {
				for _, oh := range presences {
					f := Factors{
						PriceValidity: true,
						QuantityMatch: known(ratio),
						PositionAge:   AgeFactor{IsOld: isOld},
						TradeHistory:  th,
						OrderHistory:  oh,
					}
					if got := c.Classify(f).Verdict; got != VerdictGhostHigh {
						t.Fatalf("ratio %v old=%v trade=%s order=%s: verdict = %s", ratio, isOld, th, oh, got)
					}
				}
			}
		}
	}
}

func TestConfidenceScore(t *testing.T) {
	if got := confidenceScore(Factors{Corrupt: true}); got != 100 {
		t.Errorf("corrupt score = %v, want 100", got)
	}
	if got := confidenceScore(Factors{PriceValidity: true, QuantityMatch: known(1), TradeHistory: PresencePresent, OrderHistory: PresencePresent}); got != 0 {
		t.Errorf("clean score = %v, want 0", got)
	}
	full := Factors{PriceValidity: true, QuantityMatch: known(0), PositionAge: AgeFactor{IsOld: true}, TradeHistory: PresenceAbsent, OrderHistory: PresenceAbsent}
	if got := confidenceScore(full); got != 100 {
		t.Errorf("full evidence score = %v, want 100", got)
	}
	half := Factors{PriceValidity: true, QuantityMatch: known(0.5)}
	if got := confidenceScore(half); got != 30 {
		t.Errorf("half ratio score = %v, want 30", got)
	}
}

func TestClassify_SharedSymbolShortfall(t *testing.T) {
	c := defaultClassifier()
	shared := QuantityFactor{Known: true, Held: 1, Expected: 1, Ratio: 1, SymbolExpected: 2, SymbolRatio: 0.5}
	base := Factors{PriceValidity: true, QuantityMatch: shared, PositionAge: AgeFactor{IsOld: true}}

	unexplained := base
	unexplained.TradeHistory, unexplained.OrderHistory = PresenceAbsent, PresenceAbsent
	if got := c.Classify(unexplained); got.Verdict != VerdictGhostMedium || got.Reason != ReasonUnexplainedMismatch {
		t.Errorf("unexplained shortfall = %+v, want ghost_medium", got)
	}

	explained := base
	explained.TradeHistory, explained.OrderHistory = PresencePresent, PresenceAbsent
	if got := c.Classify(explained); got.Verdict != VerdictLegitimate {
		t.Errorf("explained shortfall = %+v, want legitimate", got)
	}

	// The combined ratio never escalates to quantity lost.
	lost := base
	lost.QuantityMatch.SymbolRatio = 0.01
	lost.TradeHistory, lost.OrderHistory = PresenceAbsent, PresenceAbsent
	if got := c.Classify(lost); got.Reason == ReasonQuantityLost {
		t.Errorf("combined ratio escalated to %+v", got)
	}
}
