// Package clock abstracts monotonic and wall time so the scheduler and
// expiry logic can be driven deterministically in tests.
package clock

import (
	"sync"
	"time"
)

// Clock provides the two time sources the engine needs: a monotonic
// reading for ordering and deadlines, and wall time for user-facing
// timestamps and time-expression parsing.
type Clock interface {
	NowMono() time.Time
	NowWall() time.Time
}

// System is the real clock backed by time.Now.
type System struct{}

func (System) NowMono() time.Time { return time.Now() }
func (System) NowWall() time.Time { return time.Now() }

// Fake is a manually-advanced clock for tests. The zero value starts at
// the Unix epoch; use NewFake to start at a chosen instant.
type Fake struct {
	mu  sync.Mutex
	now time.Time
}

// NewFake returns a Fake clock pinned at the given instant.
func NewFake(at time.Time) *Fake {
	return &Fake{now: at}
}

func (f *Fake) NowMono() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *Fake) NowWall() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Advance moves the clock forward by d.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

// Set pins the clock to a specific instant.
func (f *Fake) Set(at time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = at
}
