package clock

import (
	"sync"
	"time"
)

// Fake is a manually advanced Clock for deterministic tests. Advance
// delivers to any waiters whose deadline has elapsed.
type Fake struct {
	mu      sync.Mutex
	now     time.Time
	waiters []fakeWaiter
	tickers []*fakeTicker
}

type fakeWaiter struct {
	deadline time.Time
	ch       chan time.Time
}

// NewFake builds a Fake clock seeded at t.
func NewFake(t time.Time) *Fake {
	return &Fake{now: t}
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Sleep blocks until Advance moves the clock past now+d.
func (f *Fake) Sleep(d time.Duration) {
	<-f.After(d)
}

func (f *Fake) After(d time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	f.mu.Lock()
	deadline := f.now.Add(d)
	if !f.now.Before(deadline) {
		f.mu.Unlock()
		ch <- deadline
		return ch
	}
	f.waiters = append(f.waiters, fakeWaiter{deadline: deadline, ch: ch})
	f.mu.Unlock()
	return ch
}

func (f *Fake) NewTicker(d time.Duration) Ticker {
	t := &fakeTicker{clock: f, interval: d, ch: make(chan time.Time, 1)}
	f.mu.Lock()
	t.next = f.now.Add(d)
	f.tickers = append(f.tickers, t)
	f.mu.Unlock()
	return t
}

// Advance moves the clock forward by d, firing any waiters and tickers
// whose deadlines have elapsed.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	now := f.now

	remaining := f.waiters[:0]
	for _, w := range f.waiters {
		if !now.Before(w.deadline) {
			w.ch <- now
		} else {
			remaining = append(remaining, w)
		}
	}
	f.waiters = remaining

	for _, t := range f.tickers {
		for !now.Before(t.next) {
			select {
			case t.ch <- now:
			default:
			}
			t.next = t.next.Add(t.interval)
		}
	}
	f.mu.Unlock()
}

type fakeTicker struct {
	clock    *Fake
	interval time.Duration
	next     time.Time
	ch       chan time.Time
	stopped  bool
}

func (t *fakeTicker) C() <-chan time.Time { return t.ch }

func (t *fakeTicker) Stop() {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	t.stopped = true
	for i, other := range t.clock.tickers {
		if other == t {
			t.clock.tickers = append(t.clock.tickers[:i], t.clock.tickers[i+1:]...)
			break
		}
	}
}
