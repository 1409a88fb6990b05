// Package timeutil abstracts the clock used by the actuation tick and the
// acquisition stall detector so both can be driven deterministically in tests.
package timeutil

import (
	"sync"
	"time"
)

// Clock is the subset of package time the control loop depends on.
type Clock interface {
	Now() time.Time
	Since(t time.Time) time.Duration
	After(d time.Duration) <-chan time.Time
	NewTicker(d time.Duration) Ticker
}

// Ticker is a stoppable source of periodic ticks.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// RealClock is the wall clock.
type RealClock struct{}

func (RealClock) Now() time.Time                         { return time.Now() }
func (RealClock) Since(t time.Time) time.Duration        { return time.Since(t) }
func (RealClock) After(d time.Duration) <-chan time.Time { return time.After(d) }
func (RealClock) NewTicker(d time.Duration) Ticker       { return realTicker{time.NewTicker(d)} }

type realTicker struct{ t *time.Ticker }

func (r realTicker) C() <-chan time.Time { return r.t.C }
func (r realTicker) Stop()               { r.t.Stop() }

// MockClock only moves when Advance or Set is called. Timers created by
// After and NewTicker fire from Advance.
type MockClock struct {
	mu      sync.Mutex
	now     time.Time
	timers  []*mockTimer
	tickers int
}

// mockTimer is a one-shot (period 0) or periodic timer. Its channel holds
// one value; like time.Ticker a slow reader misses ticks.
type mockTimer struct {
	ch     chan time.Time
	next   time.Time
	period time.Duration
	done   bool
	mu     *sync.Mutex
}

// NewMockClock returns a clock reading t.
func NewMockClock(t time.Time) *MockClock {
	return &MockClock{now: t}
}

func (c *MockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *MockClock) Since(t time.Time) time.Duration { return c.Now().Sub(t) }

// Set jumps to t without firing timers.
func (c *MockClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

func (c *MockClock) After(d time.Duration) <-chan time.Time {
	return c.add(d, 0).ch
}

func (c *MockClock) NewTicker(d time.Duration) Ticker {
	c.mu.Lock()
	c.tickers++
	c.mu.Unlock()
	return c.add(d, d)
}

func (c *MockClock) add(d, period time.Duration) *mockTimer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &mockTimer{ch: make(chan time.Time, 1), next: c.now.Add(d), period: period, mu: &c.mu}
	c.timers = append(c.timers, t)
	return t
}

// Tickers returns how many tickers have been created, which lets tests wait
// until a goroutine has armed its ticker before advancing.
func (c *MockClock) Tickers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tickers
}

// Advance moves the clock forward by d and fires every due timer once.
// Finished one-shot and stopped timers are dropped.
func (c *MockClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	live := c.timers[:0]
	for _, t := range c.timers {
		if t.done {
			continue
		}
		if !c.now.Before(t.next) {
			select {
			case t.ch <- c.now:
			default:
			}
			if t.period == 0 {
				t.done = true
				continue
			}
			t.next = c.now.Add(t.period)
		}
		live = append(live, t)
	}
	c.timers = live
}

func (t *mockTimer) C() <-chan time.Time { return t.ch }

func (t *mockTimer) Stop() {
	t.mu.Lock()
	t.done = true
	t.mu.Unlock()
}
