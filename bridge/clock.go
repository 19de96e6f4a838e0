package bridge

import (
	"sync"
	"time"
)

// Clock abstracts the monotonic time source and delay primitive consumed by
// Bucket waits and the pacing/heartbeat timers, so tests can drive time
// deterministically instead of sleeping in real wall-clock seconds.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
	NewTicker(d time.Duration) Ticker
}

// Ticker is the subset of *time.Ticker the core depends on.
type Ticker interface {
	C() <-chan time.Time
	Stop()
	Reset(d time.Duration)
}

// systemClock is the production Clock backed by the standard library.
type systemClock struct{}

// NewSystemClock returns the real, wall-clock-backed Clock.
func NewSystemClock() Clock { return systemClock{} }

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

func (systemClock) NewTicker(d time.Duration) Ticker {
	return &systemTicker{t: time.NewTicker(d)}
}

type systemTicker struct {
	t *time.Ticker
}

func (s *systemTicker) C() <-chan time.Time { return s.t.C }
func (s *systemTicker) Stop()               { s.t.Stop() }
func (s *systemTicker) Reset(d time.Duration) { s.t.Reset(d) }

// FakeClock is a deterministic Clock for tests. Time only advances when
// Advance is called; waiters registered via After/NewTicker fire in the
// order their deadlines are crossed.
type FakeClock struct {
	mu      sync.Mutex
	now     time.Time
	waiters []*fakeWaiter
}

type fakeWaiter struct {
	deadline time.Time
	ch       chan time.Time
	period   time.Duration // non-zero for tickers; re-arms after firing
	stopped  bool
}

// NewFakeClock returns a FakeClock starting at the given instant.
func NewFakeClock(start time.Time) *FakeClock {
	return &FakeClock{now: start}
}

func (f *FakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *FakeClock) After(d time.Duration) <-chan time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()

	w := &fakeWaiter{deadline: f.now.Add(d), ch: make(chan time.Time, 1)}
	f.waiters = append(f.waiters, w)

	return w.ch
}

func (f *FakeClock) NewTicker(d time.Duration) Ticker {
	f.mu.Lock()
	defer f.mu.Unlock()

	w := &fakeWaiter{deadline: f.now.Add(d), ch: make(chan time.Time, 1), period: d}
	f.waiters = append(f.waiters, w)

	return &fakeTicker{clock: f, waiter: w}
}

// Advance moves the fake clock forward by d, firing any waiter whose
// deadline falls at or before the new instant (in deadline order). Tickers
// re-arm themselves for their next period after firing.
func (f *FakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()

	target := f.now.Add(d)

	for {
		var next *fakeWaiter

		for _, w := range f.waiters {
			if w.stopped || w.deadline.After(target) {
				continue
			}

			if next == nil || w.deadline.Before(next.deadline) {
				next = w
			}
		}

		if next == nil {
			break
		}

		select {
		case next.ch <- next.deadline:
		default:
		}

		if next.period > 0 {
			next.deadline = next.deadline.Add(next.period)
		} else {
			next.stopped = true
		}
	}

	f.now = target
}

type fakeTicker struct {
	clock  *FakeClock
	waiter *fakeWaiter
}

func (t *fakeTicker) C() <-chan time.Time { return t.waiter.ch }

func (t *fakeTicker) Stop() {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	t.waiter.stopped = true
}

func (t *fakeTicker) Reset(d time.Duration) {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	t.waiter.stopped = false
	t.waiter.period = d
	t.waiter.deadline = t.clock.now.Add(d)
}
