package reconcile

import (
	"context"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/alanyoungcy/reconbot/internal/domain"
)

// AnalyzerConfig holds the tunables for factor collection.
type AnalyzerConfig struct {
	OldPositionAge    time.Duration
	LookupTimeout     time.Duration
	OrderHistorySlack time.Duration
	MaxConcurrency    int
}

// Analyzer gathers Factors for positions. It never decides ghost status.
type Analyzer struct {
	store  domain.PositionStore
	cfg    AnalyzerConfig
	now    func() time.Time
	logger *slog.Logger
}

// NewAnalyzer creates an Analyzer that reads trade history from store.
func NewAnalyzer(store domain.PositionStore, cfg AnalyzerConfig, logger *slog.Logger) *Analyzer {
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 1
	}
	return &Analyzer{
		store:  store,
		cfg:    cfg,
		now:    time.Now,
		logger: logger.With(slog.String("component", "analyzer")),
	}
}

// Analyze returns one Factors per position, in input order. Lookup failures
// degrade the affected factor to unknown and never affect sibling positions.
func (a *Analyzer) Analyze(ctx context.Context, exch domain.ExchangeStateClient, positions []domain.Position) []Factors {
	out := make([]Factors, len(positions))
	holdings := newHoldingsLookup(exch, a.cfg.LookupTimeout)
	totals := expectedBySymbol(positions)

	var g errgroup.Group
	g.SetLimit(a.cfg.MaxConcurrency)
	for i := range positions {
		g.Go(func() error {
			p := positions[i]
			out[i] = a.analyzeOne(ctx, exch, holdings, totals[strings.ToUpper(p.Symbol)], p)
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// expectedBySymbol sums the usable expected quantities of positions that
// share a symbol.
func expectedBySymbol(positions []domain.Position) map[string]float64 {
	sums := make(map[string]decimal.Decimal, len(positions))
	for _, p := range positions {
		q := p.ExpectedQuantity
		if p.IsCorrupt() || !(q > 0) || math.IsInf(q, 0) {
			continue
		}
		key := strings.ToUpper(p.Symbol)
		sums[key] = sums[key].Add(decimal.NewFromFloat(q))
	}
	out := make(map[string]float64, len(sums))
	for k, v := range sums {
		out[k], _ = v.Float64()
	}
	return out
}

func (a *Analyzer) analyzeOne(
	ctx context.Context,
	exch domain.ExchangeStateClient,
	holdings *holdingsLookup,
	symbolExpected float64,
	p domain.Position,
) Factors {
	age := p.Age(a.now())
	f := Factors{
		PositionID:    p.ID,
		Symbol:        p.Symbol,
		Corrupt:       p.IsCorrupt(),
		PriceValidity: p.HasValidPrices(),
		PositionAge:   AgeFactor{Age: age, IsOld: age > a.cfg.OldPositionAge},
		QuantityMatch: QuantityFactor{Expected: p.ExpectedQuantity},
	}
	if f.Corrupt {
		f.Score = confidenceScore(f)
		return f
	}

	var g errgroup.Group

	g.Go(func() error {
		held, err := holdings.get(ctx, p.Symbol)
		if err != nil {
			a.logger.WarnContext(ctx, "holdings lookup failed",
				slog.String("position_id", p.ID),
				slog.String("symbol", p.Symbol),
				slog.String("error", err.Error()),
			)
			return nil
		}
		f.QuantityMatch.Known = true
		f.QuantityMatch.Held = held
		f.QuantityMatch.Ratio = quantityRatio(held, p.ExpectedQuantity)
		if symbolExpected > p.ExpectedQuantity {
			f.QuantityMatch.SymbolExpected = symbolExpected
			f.QuantityMatch.SymbolRatio = quantityRatio(held, symbolExpected)
		}
		return nil
	})

	g.Go(func() error {
		trades, err := callWithTimeout(ctx, a.cfg.LookupTimeout, func(ctx context.Context) ([]domain.TradeRecord, error) {
			return a.store.GetTradeHistory(ctx, p.ID)
		})
		if err != nil {
			a.logger.WarnContext(ctx, "trade history lookup failed",
				slog.String("position_id", p.ID),
				slog.String("error", err.Error()),
			)
			return nil
		}
		f.TradeHistory = presence(len(trades) > 0)
		return nil
	})

	g.Go(func() error {
		since := time.Time{}
		if !p.CreatedAt.IsZero() {
			since = p.CreatedAt.Add(-a.cfg.OrderHistorySlack)
		}
		orders, err := callWithTimeout(ctx, a.cfg.LookupTimeout, func(ctx context.Context) ([]domain.OrderRecord, error) {
			return exch.GetOrderHistory(ctx, p.Symbol, since)
		})
		if err != nil {
			a.logger.WarnContext(ctx, "order history lookup failed",
				slog.String("position_id", p.ID),
				slog.String("symbol", p.Symbol),
				slog.String("error", err.Error()),
			)
			return nil
		}
		f.OrderHistory = presence(hasMatchingOrder(p, orders))
		return nil
	})

	_ = g.Wait()
	f.Score = confidenceScore(f)
	return f
}

// hasMatchingOrder reports whether any executed order matches the
// position's symbol and, when known, its side.
func hasMatchingOrder(p domain.Position, orders []domain.OrderRecord) bool {
	for _, o := range orders {
		if !strings.EqualFold(o.Symbol, p.Symbol) || !o.Executed() {
			continue
		}
		if p.Side != "" && o.Side != p.Side {
			continue
		}
		return true
	}
	return false
}

// quantityRatio returns held/expected rounded to 8 places, or 0 when the
// expected quantity is unusable.
func quantityRatio(held, expected float64) float64 {
	if !(expected > 0) || math.IsInf(expected, 0) {
		return 0
	}
	if math.IsNaN(held) || math.IsInf(held, 0) {
		return 0
	}
	r := decimal.NewFromFloat(math.Abs(held)).
		Div(decimal.NewFromFloat(expected)).
		Round(8)
	v, _ := r.Float64()
	return v
}

func presence(found bool) Presence {
	if found {
		return PresencePresent
	}
	return PresenceAbsent
}

// callWithTimeout runs fn with a deadline and returns as soon as the deadline
// passes, even if fn ignores its context.
func callWithTimeout[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := fn(ctx)
		ch <- result{v: v, err: err}
	}()

	select {
	case r := <-ch:
		return r.v, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// holdingsLookup fetches each symbol at most once per pass.
type holdingsLookup struct {
	exch    domain.ExchangeStateClient
	timeout time.Duration
	group   singleflight.Group

	mu   sync.Mutex
	done map[string]float64
}

func newHoldingsLookup(exch domain.ExchangeStateClient, timeout time.Duration) *holdingsLookup {
	return &holdingsLookup{
		exch:    exch,
		timeout: timeout,
		done:    make(map[string]float64),
	}
}

func (h *holdingsLookup) get(ctx context.Context, symbol string) (float64, error) {
	key := strings.ToUpper(symbol)

	h.mu.Lock()
	if qty, ok := h.done[key]; ok {
		h.mu.Unlock()
		return qty, nil
	}
	h.mu.Unlock()

	v, err, _ := h.group.Do(key, func() (any, error) {
		h.mu.Lock()
		if qty, ok := h.done[key]; ok {
			h.mu.Unlock()
			return qty, nil
		}
		h.mu.Unlock()

		qty, err := callWithTimeout(ctx, h.timeout, func(ctx context.Context) (float64, error) {
			return h.exch.GetHoldings(ctx, symbol)
		})
		if err != nil {
			return 0.0, err
		}
		h.mu.Lock()
		h.done[key] = qty
		h.mu.Unlock()
		return qty, nil
	})
	if err != nil {
		return 0, err
	}
	return v.(float64), nil
}
