package failuredetector

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"raftcluster/clock"
)

func TestDetectorNotMonitoringBeforeMinSamples(t *testing.T) {
	fc := clock.NewFake()
	d := New(DefaultConfig(), fc)

	require.False(t, d.IsMonitoring())
	require.True(t, d.IsHealthy(), "an unmonitored member is assumed healthy (spec §4.11)")

	d.ReportHeartbeat()
	require.False(t, d.IsMonitoring())
}

func TestDetectorHealthyWithRegularHeartbeats(t *testing.T) {
	fc := clock.NewFake()
	cfg := DefaultConfig()
	d := New(cfg, fc)

	for i := 0; i < cfg.MinSamples+2; i++ {
		d.ReportHeartbeat()
		fc.Increment(50 * time.Millisecond)
	}

	require.True(t, d.IsMonitoring())
	require.True(t, d.IsHealthy())
}

func TestDetectorUnhealthyAfterProlongedSilence(t *testing.T) {
	fc := clock.NewFake()
	cfg := DefaultConfig()
	d := New(cfg, fc)

	for i := 0; i < cfg.MinSamples+2; i++ {
		d.ReportHeartbeat()
		fc.Increment(50 * time.Millisecond)
	}
	require.True(t, d.IsHealthy())

	// Silence for far longer than Threshold * mean interval.
	fc.Increment(time.Second)
	require.True(t, d.IsMonitoring())
	require.False(t, d.IsHealthy())
}

func TestDetectorResetClearsSamples(t *testing.T) {
	fc := clock.NewFake()
	cfg := DefaultConfig()
	d := New(cfg, fc)

	for i := 0; i < cfg.MinSamples+2; i++ {
		d.ReportHeartbeat()
		fc.Increment(50 * time.Millisecond)
	}
	require.True(t, d.IsMonitoring())

	d.Reset()
	require.False(t, d.IsMonitoring())
	require.True(t, d.IsHealthy())
}
