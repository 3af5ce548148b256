// Package clock abstracts time for the servo loop so cycle timing can be
// driven deterministically in tests.
package clock

import (
	"sync"
	"time"
)

// Clock is a monotonic time source.
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
	// After delivers the clock's time once d has elapsed on it.
	After(d time.Duration) <-chan time.Time
}

// Real reads the system monotonic clock.
type Real struct{}

// New returns the system clock.
func New() Real {
	return Real{}
}

// Now returns the current time with monotonic reading.
func (Real) Now() time.Time {
	return time.Now()
}

// Sleep pauses the calling goroutine for d.
func (Real) Sleep(d time.Duration) {
	if d > 0 {
		time.Sleep(d)
	}
}

// After waits for d on the system clock.
func (Real) After(d time.Duration) <-chan time.Time {
	return time.After(d)
}

// Mock is a manually advanced clock. Sleep advances it instead of blocking.
type Mock struct {
	mu      sync.Mutex
	now     time.Time
	waiters []waiter

	// OnSleep, if set, runs after every Sleep with the requested duration.
	OnSleep func(d time.Duration)
}

// NewMock returns a Mock starting at start.
func NewMock(start time.Time) *Mock {
	return &Mock{now: start}
}

// Now returns the mock time.
func (m *Mock) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

type waiter struct {
	at time.Time
	ch chan time.Time
}

// Advance moves the clock forward by d.
func (m *Mock) Advance(d time.Duration) {
	m.mu.Lock()
	m.now = m.now.Add(d)
	m.fire()
	m.mu.Unlock()
}

// Set jumps the clock to t.
func (m *Mock) Set(t time.Time) {
	m.mu.Lock()
	m.now = t
	m.fire()
	m.mu.Unlock()
}

// After returns a channel that receives once the clock has been moved d past
// the current time.
func (m *Mock) After(d time.Duration) <-chan time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch := make(chan time.Time, 1)
	if d <= 0 {
		ch <- m.now
		return ch
	}
	m.waiters = append(m.waiters, waiter{at: m.now.Add(d), ch: ch})
	return ch
}

// Waiters returns the number of pending After channels.
func (m *Mock) Waiters() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.waiters)
}

// fire delivers every due waiter. Channels are buffered, so m.mu may be held.
func (m *Mock) fire() {
	kept := m.waiters[:0]
	for _, w := range m.waiters {
		if w.at.After(m.now) {
			kept = append(kept, w)
			continue
		}
		w.ch <- m.now
	}
	m.waiters = kept
}

// Sleep advances the clock by d.
func (m *Mock) Sleep(d time.Duration) {
	if d <= 0 {
		return
	}
	m.Advance(d)
	if m.OnSleep != nil {
		m.OnSleep(d)
	}
}
