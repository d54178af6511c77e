// Package clock abstracts time so feedback-loop and reconciliation timing
// can be driven deterministically under test.
package clock

import (
	"sync"
	"time"
)

// Clock is anything that can report the current time and build a ticker.
type Clock interface {
	Now() time.Time
	NewTicker(d time.Duration) Ticker
	Sleep(d time.Duration)
}

// Ticker mirrors the subset of time.Ticker callers need.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// RealClock delegates to the standard library.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }
func (RealClock) Sleep(d time.Duration) { time.Sleep(d) }
func (RealClock) NewTicker(d time.Duration) Ticker {
	return &realTicker{t: time.NewTicker(d)}
}

type realTicker struct{ t *time.Ticker }

func (r *realTicker) C() <-chan time.Time { return r.t.C }
func (r *realTicker) Stop()               { r.t.Stop() }

// MockClock is a manually-advanced clock for deterministic tests of the
// feedback loop and reconciliation timers.
type MockClock struct {
	mu      sync.Mutex
	now     time.Time
	tickers []*mockTicker
}

// NewMockClock creates a MockClock starting at the given time.
func NewMockClock(start time.Time) *MockClock {
	return &MockClock{now: start}
}

func (m *MockClock) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *MockClock) Sleep(d time.Duration) {
	m.Advance(d)
}

// Advance moves the mock clock forward and fires any tickers whose period
// has elapsed.
func (m *MockClock) Advance(d time.Duration) {
	m.mu.Lock()
	m.now = m.now.Add(d)
	now := m.now
	tickers := append([]*mockTicker(nil), m.tickers...)
	m.mu.Unlock()

	for _, t := range tickers {
		t.maybeFire(now)
	}
}

func (m *MockClock) NewTicker(d time.Duration) Ticker {
	t := &mockTicker{period: d, last: m.Now(), ch: make(chan time.Time, 1)}
	m.mu.Lock()
	m.tickers = append(m.tickers, t)
	m.mu.Unlock()
	return t
}

type mockTicker struct {
	mu     sync.Mutex
	period time.Duration
	last   time.Time
	ch     chan time.Time
	stopped bool
}

func (t *mockTicker) maybeFire(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return
	}
	if now.Sub(t.last) >= t.period {
		t.last = now
		select {
		case t.ch <- now:
		default:
		}
	}
}

func (t *mockTicker) C() <-chan time.Time { return t.ch }
func (t *mockTicker) Stop() {
	t.mu.Lock()
	t.stopped = true
	t.mu.Unlock()
}
