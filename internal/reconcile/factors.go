package reconcile

import "time"

// Presence is a tri-state lookup result. A lookup that failed or timed out is
// PresenceUnknown rather than absent.
type Presence int

const (
	PresenceUnknown Presence = iota
	PresenceAbsent
	PresencePresent
)

// String implements fmt.Stringer.
func (p Presence) String() string {
	switch p {
	case PresenceAbsent:
		return "absent"
	case PresencePresent:
		return "present"
	default:
		return "unknown"
	}
}

// MarshalText lets reports render presence as a word rather than an int.
func (p Presence) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// QuantityFactor compares exchange holdings with the expected quantity.
// When several open positions share a symbol, SymbolExpected is their
// combined expected quantity and SymbolRatio is held/SymbolExpected.
type QuantityFactor struct {
	Known          bool    `json:"known"`
	Held           float64 `json:"held"`
	Expected       float64 `json:"expected"`
	Ratio          float64 `json:"ratio"`
	SymbolExpected float64 `json:"symbol_expected,omitempty"`
	SymbolRatio    float64 `json:"symbol_ratio,omitempty"`
}

// mismatchRatio is the ratio used for the mismatch test: the lower of the
// per-position and combined ratios.
func (q QuantityFactor) mismatchRatio() float64 {
	if q.SymbolExpected > q.Expected {
		return min(q.Ratio, q.SymbolRatio)
	}
	return q.Ratio
}

// AgeFactor records how long the position has been open.
type AgeFactor struct {
	Age   time.Duration `json:"age"`
	IsOld bool          `json:"is_old"`
}

// Factors is the evidence gathered for a single position during one pass.
// It is never persisted.
type Factors struct {
	PositionID    string         `json:"position_id"`
	Symbol        string         `json:"symbol"`
	Corrupt       bool           `json:"corrupt"`
	QuantityMatch QuantityFactor `json:"quantity_match"`
	PositionAge   AgeFactor      `json:"position_age"`
	PriceValidity bool           `json:"price_validity"`
	TradeHistory  Presence       `json:"trade_history"`
	OrderHistory  Presence       `json:"order_history"`
	Score         float64        `json:"score"`
}

// UnknownCount returns how many I/O-backed factors could not be determined.
func (f Factors) UnknownCount() int {
	n := 0
	if !f.QuantityMatch.Known {
		n++
	}
	if f.TradeHistory == PresenceUnknown {
		n++
	}
	if f.OrderHistory == PresenceUnknown {
		n++
	}
	return n
}

// confidenceScore maps the factors onto [0, 100]. It is informational; the
// classifier decides on the individual factors.
func confidenceScore(f Factors) float64 {
	if f.Corrupt || !f.PriceValidity {
		return 100
	}
	score := 0.0
	if f.QuantityMatch.Known {
		r := f.QuantityMatch.Ratio
		if r > 1 {
			r = 1
		}
		if r < 0 {
			r = 0
		}
		score += 60 * (1 - r)
	}
	if f.TradeHistory == PresenceAbsent {
		score += 15
	}
	if f.OrderHistory == PresenceAbsent {
		score += 10
	}
	if f.PositionAge.IsOld {
		score += 15
	}
	if score > 100 {
		score = 100
	}
	return score
}
