package reconcile

import (
	"sync"
	"time"
)

// gateResult explains why a pass may or may not start.
type gateResult int

const (
	gateOpen gateResult = iota
	gateThrottled
	gateInFlight
)

// scheduler is the throttle and single-flight table. It holds no domain
// state and is the only place passes for one key are serialised.
type scheduler struct {
	interval time.Duration
	now      func() time.Time

	mu       sync.Mutex
	last     map[accountKey]time.Time
	inFlight map[accountKey]struct{}
}

func newScheduler(interval time.Duration, now func() time.Time) *scheduler {
	return &scheduler{
		interval: interval,
		now:      now,
		last:     make(map[accountKey]time.Time),
		inFlight: make(map[accountKey]struct{}),
	}
}

// pass is the claim on a key returned by begin.
type pass struct {
	s    *scheduler
	key  accountKey
	once sync.Once
}

// begin claims key when it is neither throttled nor in flight. The caller
// must call finish or abandon on the returned pass.
func (s *scheduler) begin(key accountKey) (*pass, gateResult) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, busy := s.inFlight[key]; busy {
		return nil, gateInFlight
	}
	if last, ok := s.last[key]; ok && s.now().Sub(last) < s.interval {
		return nil, gateThrottled
	}
	s.inFlight[key] = struct{}{}
	return &pass{s: s, key: key}, gateOpen
}

// finish releases the key and starts the throttle window.
func (p *pass) finish() {
	p.once.Do(func() {
		p.s.mu.Lock()
		defer p.s.mu.Unlock()
		delete(p.s.inFlight, p.key)
		p.s.last[p.key] = p.s.now()
	})
}

// abandon releases the key without starting the throttle window.
func (p *pass) abandon() {
	p.once.Do(func() {
		p.s.mu.Lock()
		defer p.s.mu.Unlock()
		delete(p.s.inFlight, p.key)
	})
}

// remaining returns how long until key may run again; 0 when it may run now.
func (s *scheduler) remaining(key accountKey) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	last, ok := s.last[key]
	if !ok {
		return 0
	}
	left := s.interval - s.now().Sub(last)
	if left < 0 {
		return 0
	}
	return left
}

func (s *scheduler) lastFinished(key accountKey) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.last[key]
	return t, ok
}
