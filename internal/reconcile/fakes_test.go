package reconcile

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/alanyoungcy/reconbot/internal/domain"
)

var errBoom = errors.New("boom")

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// callLog records the order of side effects across fakes.
type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(s string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	l.calls = append(l.calls, s)
	l.mu.Unlock()
}

func (l *callLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fakeStore struct {
	mu         sync.Mutex
	log        *callLog
	positions  []domain.Position
	trades     map[string][]domain.TradeRecord
	listErr    error
	tradeErr   error
	closeErr   error
	deleteErr  error
	listCalls  int
	tradeCalls int
	closed     []string
	deleted    []string
}

func (s *fakeStore) ListOpenPositions(_ context.Context, walletID string, mode domain.TradingMode) ([]domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listCalls++
	if s.listErr != nil {
		return nil, s.listErr
	}
	var out []domain.Position
	for _, p := range s.positions {
		if p.WalletID == walletID && p.TradingMode == mode && p.IsActive() {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *fakeStore) GetTradeHistory(_ context.Context, positionID string) ([]domain.TradeRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tradeCalls++
	if s.tradeErr != nil {
		return nil, s.tradeErr
	}
	return s.trades[positionID], nil
}

func (s *fakeStore) MarkClosed(_ context.Context, positionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.log.add("close:" + positionID)
	if s.closeErr != nil {
		return s.closeErr
	}
	s.closed = append(s.closed, positionID)
	s.setStatus(positionID, domain.PositionStatusClosed)
	return nil
}

func (s *fakeStore) Delete(_ context.Context, positionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.log.add("delete:" + positionID)
	if s.deleteErr != nil {
		return s.deleteErr
	}
	s.deleted = append(s.deleted, positionID)
	s.setStatus(positionID, domain.PositionStatusClosed)
	return nil
}

func (s *fakeStore) setStatus(id string, st domain.PositionStatus) {
	for i := range s.positions {
		if s.positions[i].ID == id {
			s.positions[i].Status = st
		}
	}
}

func (s *fakeStore) counts() (list, trade int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listCalls, s.tradeCalls
}

type fakeExchange struct {
	mu         sync.Mutex
	holdings   map[string]float64
	orders     []domain.OrderRecord
	holdErr    error
	orderErr   error
	hang       time.Duration
	holdCalls  map[string]int
	orderCalls int
	totalHolds int
}

func newFakeExchange(holdings map[string]float64) *fakeExchange {
	return &fakeExchange{holdings: holdings, holdCalls: make(map[string]int)}
}

func (e *fakeExchange) GetHoldings(_ context.Context, symbol string) (float64, error) {
	e.mu.Lock()
	e.holdCalls[symbol]++
	e.totalHolds++
	hang, err := e.hang, e.holdErr
	qty := e.holdings[symbol]
	e.mu.Unlock()
	if hang > 0 {
		// Deliberately ignores ctx.
		time.Sleep(hang)
	}
	if err != nil {
		return 0, err
	}
	return qty, nil
}

func (e *fakeExchange) GetOrderHistory(_ context.Context, symbol string, since time.Time) ([]domain.OrderRecord, error) {
	e.mu.Lock()
	e.orderCalls++
	err := e.orderErr
	var out []domain.OrderRecord
	for _, o := range e.orders {
		if strings.EqualFold(o.Symbol, symbol) && !o.CreatedAt.Before(since) {
			out = append(out, o)
		}
	}
	e.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (e *fakeExchange) calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.totalHolds + e.orderCalls
}

type fakeProvider struct {
	exch domain.ExchangeStateClient
	err  error
}

func (p fakeProvider) ForWallet(string, domain.TradingMode) (domain.ExchangeStateClient, error) {
	if p.err != nil {
		return nil, p.err
	}
	return p.exch, nil
}

type fakeSink struct {
	mu     sync.Mutex
	log    *callLog
	err    error
	labels []string
	saved  [][]domain.Position
}

func (s *fakeSink) Snapshot(_ context.Context, records []domain.Position, label string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.log.add("snapshot:" + label)
	if s.err != nil {
		return s.err
	}
	s.labels = append(s.labels, label)
	s.saved = append(s.saved, append([]domain.Position(nil), records...))
	return nil
}

type publishedEvent struct {
	name    string
	payload any
}

type fakePublisher struct {
	mu     sync.Mutex
	events []publishedEvent
}

func (p *fakePublisher) Publish(event string, payload any) {
	p.mu.Lock()
	p.events = append(p.events, publishedEvent{name: event, payload: payload})
	p.mu.Unlock()
}

func (p *fakePublisher) named(name string) []publishedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []publishedEvent
	for _, e := range p.events {
		if e.name == name {
			out = append(out, e)
		}
	}
	return out
}

type fakeAudit struct {
	mu      sync.Mutex
	entries []domain.AuditEntry
}

func (a *fakeAudit) Log(_ context.Context, event string, detail map[string]any) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, domain.AuditEntry{ID: int64(len(a.entries) + 1), Event: event, Detail: detail})
	return nil
}

func (a *fakeAudit) List(_ context.Context, _ domain.ListOpts) ([]domain.AuditEntry, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]domain.AuditEntry(nil), a.entries...), nil
}

type fakeAttemptStore struct {
	mu     sync.Mutex
	states map[accountKey]domain.AttemptState
	puts   int
	// getFails is the number of upcoming Get calls that return errBoom.
	getFails int
	getPanic bool
}

func (s *fakeAttemptStore) Get(_ context.Context, walletID string, mode domain.TradingMode) (domain.AttemptState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getPanic {
		s.getPanic = false
		panic("attempt store exploded")
	}
	if s.getFails > 0 {
		s.getFails--
		return domain.AttemptState{}, errBoom
	}
	st, ok := s.states[accountKey{walletID, mode}]
	if !ok {
		return domain.AttemptState{}, domain.ErrNotFound
	}
	return st, nil
}

func (s *fakeAttemptStore) Put(_ context.Context, st domain.AttemptState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.states == nil {
		s.states = make(map[accountKey]domain.AttemptState)
	}
	s.states[accountKey{st.WalletID, st.TradingMode}] = st
	s.puts++
	return nil
}

type fakeLocks struct {
	err      error
	acquired int
	released int
}

func (l *fakeLocks) Acquire(context.Context, string, time.Duration) (func(), error) {
	if l.err != nil {
		return nil, l.err
	}
	l.acquired++
	return func() { l.released++ }, nil
}

func openPosition(id, symbol string, expected, price float64, createdAt time.Time) domain.Position {
	return domain.Position{
		ID:               id,
		WalletID:         "W1",
		TradingMode:      domain.TradingModeLive,
		Symbol:           symbol,
		Side:             domain.OrderSideBuy,
		ExpectedQuantity: expected,
		EntryPrice:       price,
		CurrentPrice:     price,
		Status:           domain.PositionStatusOpen,
		CreatedAt:        createdAt,
	}
}
