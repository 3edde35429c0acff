package reconcile

import (
	"context"
	"testing"
	"time"

	"github.com/alanyoungcy/reconbot/internal/domain"
)

func newTestAnalyzer(store domain.PositionStore, clock *fakeClock, timeout time.Duration) *Analyzer {
	a := NewAnalyzer(store, AnalyzerConfig{
		OldPositionAge:    24 * time.Hour,
		LookupTimeout:     timeout,
		OrderHistorySlack: time.Hour,
		MaxConcurrency:    4,
	}, discardLogger())
	a.now = clock.Now
	return a
}

func TestAnalyze_CollectsFactors(t *testing.T) {
	clock := newFakeClock()
	created := clock.Now().Add(-48 * time.Hour)
	p := openPosition("p1", "BTCUSDT", 1.0, 50000, created)

	store := &fakeStore{trades: map[string][]domain.TradeRecord{
		"p1": {{ID: "t1", PositionID: "p1", Symbol: "BTCUSDT", Quantity: 1}},
	}}
	exch := newFakeExchange(map[string]float64{"BTCUSDT": 0.8})
	exch.orders = []domain.OrderRecord{{
		OrderID:          "o1",
		Symbol:           "BTCUSDT",
		Side:             domain.OrderSideBuy,
		Status:           domain.OrderStatusFilled,
		ExecutedQuantity: 1,
		CreatedAt:        created.Add(-10 * time.Minute),
	}}

	got := newTestAnalyzer(store, clock, time.Second).Analyze(context.Background(), exch, []domain.Position{p})
	if len(got) != 1 {
		t.Fatalf("got %d factors, want 1", len(got))
	}
	f := got[0]
	if !f.QuantityMatch.Known || f.QuantityMatch.Ratio != 0.8 {
		t.Errorf("quantity = %+v, want known ratio 0.8", f.QuantityMatch)
	}
	if !f.PositionAge.IsOld {
		t.Error("expected position to be old")
	}
	if !f.PriceValidity {
		t.Error("expected valid prices")
	}
	if f.TradeHistory != PresencePresent {
		t.Errorf("trade history = %s, want present", f.TradeHistory)
	}
	if f.OrderHistory != PresencePresent {
		t.Errorf("order history = %s, want present", f.OrderHistory)
	}
}

func TestAnalyze_CorruptSkipsLookups(t *testing.T) {
	clock := newFakeClock()
	p := openPosition("p1", "", 1.0, 50000, clock.Now())
	store := &fakeStore{}
	exch := newFakeExchange(nil)

	got := newTestAnalyzer(store, clock, time.Second).Analyze(context.Background(), exch, []domain.Position{p})
	if !got[0].Corrupt || got[0].Score != 100 {
		t.Errorf("factors = %+v, want corrupt with score 100", got[0])
	}
	if n := exch.calls(); n != 0 {
		t.Errorf("exchange calls = %d, want 0", n)
	}
	if _, trades := store.counts(); trades != 0 {
		t.Errorf("trade lookups = %d, want 0", trades)
	}
}

func TestAnalyze_FailureDegradesToUnknown(t *testing.T) {
	clock := newFakeClock()
	positions := []domain.Position{
		openPosition("p1", "BTCUSDT", 1.0, 50000, clock.Now()),
		openPosition("p2", "ETHUSDT", 2.0, 3000, clock.Now()),
	}
	store := &fakeStore{tradeErr: errBoom}
	exch := newFakeExchange(map[string]float64{"BTCUSDT": 1, "ETHUSDT": 2})
	exch.orderErr = errBoom

	got := newTestAnalyzer(store, clock, time.Second).Analyze(context.Background(), exch, positions)
	if len(got) != 2 {
		t.Fatalf("got %d factors, want 2", len(got))
	}
	for i, f := range got {
		if f.PositionID != positions[i].ID {
			t.Errorf("factor %d for %s, want %s", i, f.PositionID, positions[i].ID)
		}
		if f.TradeHistory != PresenceUnknown || f.OrderHistory != PresenceUnknown {
			t.Errorf("%s: histories = %s/%s, want unknown", f.PositionID, f.TradeHistory, f.OrderHistory)
		}
		if !f.QuantityMatch.Known || f.QuantityMatch.Ratio != 1 {
			t.Errorf("%s: quantity = %+v, want known ratio 1", f.PositionID, f.QuantityMatch)
		}
	}
}

func TestAnalyze_StalledLookupTimesOut(t *testing.T) {
	clock := newFakeClock()
	p := openPosition("p1", "BTCUSDT", 1.0, 50000, clock.Now())
	exch := newFakeExchange(map[string]float64{"BTCUSDT": 1})
	exch.hang = 2 * time.Second

	start := time.Now()
	got := newTestAnalyzer(&fakeStore{}, clock, 20*time.Millisecond).Analyze(context.Background(), exch, []domain.Position{p})
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("analyze took %v, expected the lookup timeout to bound it", elapsed)
	}
	if got[0].QuantityMatch.Known {
		t.Error("expected holdings to be unknown after timeout")
	}
	if got[0].TradeHistory != PresenceAbsent {
		t.Errorf("trade history = %s, want absent", got[0].TradeHistory)
	}
}

func TestAnalyze_HoldingsFetchedOncePerSymbol(t *testing.T) {
	clock := newFakeClock()
	var positions []domain.Position
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		positions = append(positions, openPosition(id, "BTCUSDT", 0.2, 50000, clock.Now()))
	}
	positions = append(positions, openPosition("f", "ETHUSDT", 1, 3000, clock.Now()))
	exch := newFakeExchange(map[string]float64{"BTCUSDT": 1, "ETHUSDT": 1})

	newTestAnalyzer(&fakeStore{}, clock, time.Second).Analyze(context.Background(), exch, positions)
	if n := exch.holdCalls["BTCUSDT"]; n != 1 {
		t.Errorf("BTCUSDT holdings calls = %d, want 1", n)
	}
	if n := exch.holdCalls["ETHUSDT"]; n != 1 {
		t.Errorf("ETHUSDT holdings calls = %d, want 1", n)
	}
}

func TestAnalyze_SharedSymbolComparesCombinedQuantity(t *testing.T) {
	clock := newFakeClock()
	positions := []domain.Position{
		openPosition("a", "BTCUSDT", 1, 50000, clock.Now()),
		openPosition("b", "BTCUSDT", 1, 50000, clock.Now()),
		openPosition("c", "ETHUSDT", 2, 3000, clock.Now()),
	}
	exch := newFakeExchange(map[string]float64{"BTCUSDT": 1, "ETHUSDT": 2})

	got := newTestAnalyzer(&fakeStore{}, clock, time.Second).Analyze(context.Background(), exch, positions)
	for _, f := range got[:2] {
		q := f.QuantityMatch
		if q.Ratio != 1 || q.SymbolExpected != 2 || q.SymbolRatio != 0.5 {
			t.Errorf("%s quantity = %+v, want ratio 1 symbol 2/0.5", f.PositionID, q)
		}
	}
	if q := got[2].QuantityMatch; q.SymbolExpected != 0 || q.Ratio != 1 {
		t.Errorf("single ETHUSDT position quantity = %+v", q)
	}
}

func TestHasMatchingOrder(t *testing.T) {
	p := domain.Position{Symbol: "BTCUSDT", Side: domain.OrderSideBuy}
	tests := []struct {
		name  string
		order domain.OrderRecord
		want  bool
	}{
		{"filled buy", domain.OrderRecord{Symbol: "BTCUSDT", Side: domain.OrderSideBuy, ExecutedQuantity: 1}, true},
		{"lowercase symbol", domain.OrderRecord{Symbol: "btcusdt", Side: domain.OrderSideBuy, ExecutedQuantity: 1}, true},
		{"wrong side", domain.OrderRecord{Symbol: "BTCUSDT", Side: domain.OrderSideSell, ExecutedQuantity: 1}, false},
		{"unfilled", domain.OrderRecord{Symbol: "BTCUSDT", Side: domain.OrderSideBuy, Status: domain.OrderStatusCancelled}, false},
		{"other symbol", domain.OrderRecord{Symbol: "ETHUSDT", Side: domain.OrderSideBuy, ExecutedQuantity: 1}, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := hasMatchingOrder(p, []domain.OrderRecord{tc.order}); got != tc.want {
				t.Errorf("hasMatchingOrder = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestQuantityRatio(t *testing.T) {
	tests := []struct {
		held, expected, want float64
	}{
		{1, 1, 1},
		{0.02, 1, 0.02},
		{0.1, 0.3, 0.33333333},
		{-0.5, 1, 0.5},
		{1, 0, 0},
		{1, -1, 0},
	}
	for _, tc := range tests {
		if got := quantityRatio(tc.held, tc.expected); got != tc.want {
			t.Errorf("quantityRatio(%v, %v) = %v, want %v", tc.held, tc.expected, got, tc.want)
		}
	}
}
