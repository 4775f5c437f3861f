// Package clock provides the wall clock and a fake clock for connection
// timestamps and id generation.
package clock

import (
	"sync"
	"time"
)

// Real reads the system clock in UTC.
type Real struct{}

func (Real) Now() time.Time { return time.Now().UTC() }

// Fake is a manually driven clock. With a non-zero step every Now call
// moves it forward, which keeps successive timestamps distinct.
type Fake struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

// NewFake returns a fake clock stopped at t.
func NewFake(t time.Time) *Fake {
	return &Fake{now: t}
}

// Now returns the current fake time, then applies the step.
func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := f.now
	f.now = f.now.Add(f.step)
	return t
}

func (f *Fake) Set(t time.Time) {
	f.mu.Lock()
	f.now = t
	f.mu.Unlock()
}

func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

// SetStep sets how far each Now call advances the clock. Zero stops it.
func (f *Fake) SetStep(d time.Duration) {
	f.mu.Lock()
	f.step = d
	f.mu.Unlock()
}

// Since returns the time elapsed on c since t.
func Since(c interface{ Now() time.Time }, t time.Time) time.Duration {
	return c.Now().Sub(t)
}
