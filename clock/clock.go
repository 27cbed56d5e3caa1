// Package clock wraps code.cloudfoundry.org/clock so the raft package never
// calls time.Now or time.NewTimer directly. Tests inject a clock.FakeClock;
// production wiring injects clock.NewClock().
package clock

import (
	"time"

	cfclock "code.cloudfoundry.org/clock"
	"code.cloudfoundry.org/clock/fakeclock"
)

// Clock is the subset of cfclock.Clock the cluster controller and its role
// states consume. Kept as a narrow interface so call sites stay readable and
// so a fake only has to implement what is actually used.
type Clock interface {
	Now() time.Time
	NewTimer(d time.Duration) cfclock.Timer
	NewTicker(d time.Duration) cfclock.Ticker
	Sleep(d time.Duration)
}

// New returns the real wall-clock implementation.
func New() Clock {
	return cfclock.NewClock()
}

// NewFake returns a fake clock for deterministic tests. The returned
// *fakeclock.FakeClock also exposes Increment/WaitForWatcherAndIncrement.
func NewFake() *fakeclock.FakeClock {
	return fakeclock.NewFakeClock(time.Unix(0, 0))
}

// Elapsed returns the duration elapsed since start according to c, i.e.
// c.Now().Sub(start).
func Elapsed(c Clock, start time.Time) time.Duration {
	return c.Now().Sub(start)
}
