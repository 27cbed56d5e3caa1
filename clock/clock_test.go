package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestElapsedUsesInjectedClock(t *testing.T) {
	fc := NewFake()
	start := fc.Now()
	fc.Increment(250 * time.Millisecond)

	require.Equal(t, 250*time.Millisecond, Elapsed(fc, start))
}

func TestNewReturnsWorkingWallClock(t *testing.T) {
	c := New()
	before := c.Now()
	c.Sleep(time.Millisecond)
	after := c.Now()
	require.False(t, after.Before(before))
}

func TestFakeClockTimerFiresOnIncrement(t *testing.T) {
	fc := NewFake()
	timer := fc.NewTimer(100 * time.Millisecond)

	select {
	case <-timer.C():
		t.Fatal("timer fired before the fake clock advanced")
	default:
	}

	fc.Increment(100 * time.Millisecond)

	select {
	case <-timer.C():
	case <-time.After(time.Second):
		t.Fatal("timer never fired after the fake clock advanced")
	}
}
