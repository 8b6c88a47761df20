package stats

import (
	"bytes"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeClock struct {
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
}

func TestRateCounterFirstTick(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	rc := newRateCounter("1s", time.Second, true, clock.Now)

	out := &bytes.Buffer{}
	assert.True(t, rc.Tick(1500, out, false), "first tick must report")
	assert.Contains(t, out.String(), "[1s]")
	assert.Contains(t, out.String(), "lifetime rate not yet available")
	assert.Contains(t, out.String(), "window rate not yet available")
	assert.NotContains(t, out.String(), "NaN")
	assert.NotContains(t, out.String(), "Inf")
}

func TestRateCounterSampleStride(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	rc := newRateCounter("1s", time.Second, true, clock.Now)
	assert.True(t, rc.Tick(100, io.Discard, false))

	// Staying within the same second never reports, not even at the stride.
	for i := 1; i < SampleStride; i++ {
		assert.False(t, rc.Tick(100, io.Discard, false), "tick %d must not report", i+1)
	}
	assert.Equal(t, uint64(SampleStride), rc.PacketsTotal())

	// Pass the window: only the next clock sample reports.
	clock.Advance(2 * time.Second)
	for i := 1; i < SampleStride; i++ {
		assert.False(t, rc.Tick(100, io.Discard, false), "tick must wait for the clock sample")
	}
	out := &bytes.Buffer{}
	assert.True(t, rc.Tick(100, out, false), "clock sample after window must report")
	assert.Contains(t, out.String(), "Window 2.000s")
	assert.Contains(t, out.String(), "Speed:")

	// Window was rolled over, lifetime counters were not.
	s := rc.Snapshot()
	assert.Equal(t, uint64(0), s.PacketsWindow)
	assert.Equal(t, uint64(0), s.BytesWindow)
	assert.Equal(t, uint64(2*SampleStride), s.PacketsTotal)
	assert.Equal(t, uint64(2*SampleStride*100), s.BytesTotal)

	// The last report holds the finished window.
	report := rc.LastReport()
	assert.Equal(t, uint64(2*SampleStride-1), report.PacketsWindow)
	assert.Equal(t, 2*time.Second, report.WindowElapsed)
}

func TestRateCounterRates(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	rc := newRateCounter("rates", time.Second, true, clock.Now)
	rc.Tick(1000, io.Discard, false)
	for i := 1; i < SampleStride-1; i++ {
		rc.Tick(1000, io.Discard, false)
	}
	clock.Advance(2 * time.Second)

	// Snapshot as it would be printed right before the rollover.
	rc.Add(1000)
	rc.lastObserved = clock.Now()
	s := rc.Snapshot()

	assert.Equal(t, 2*time.Second, s.Lifetime)
	assert.Equal(t, 2*time.Second, s.WindowElapsed)
	assert.InDelta(t, float64(SampleStride)/2, s.LifetimePacketRate, 0.001)
	assert.InDelta(t, float64(SampleStride)*1000/2, s.LifetimeByteRate, 0.001)
	assert.InDelta(t, float64(SampleStride-1)/2, s.WindowPacketRate, 0.001)
}

func TestRateCounterSilent(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	rc := newRateCounter("all", time.Second, true, clock.Now)

	out := &bytes.Buffer{}
	assert.False(t, rc.Tick(10, out, true), "silent tick must not report")
	clock.Advance(5 * time.Second)
	for i := 1; i < SampleStride; i++ {
		rc.Tick(10, out, true)
	}
	assert.Empty(t, out.String(), "silent counter must not write")

	// Rollover happened anyway.
	s := rc.Snapshot()
	assert.Equal(t, uint64(0), s.PacketsWindow)
	assert.Equal(t, uint64(SampleStride), s.PacketsTotal)
	assert.Equal(t, time.Duration(0), s.WindowElapsed)
	assert.Equal(t, 5*time.Second, s.Lifetime)

	// Final report still works.
	rc.Print(out)
	assert.Contains(t, out.String(), "Sent")
}

func TestRateCounterAddAndPrint(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	rc := newRateCounter("add", time.Second, true, clock.Now)
	rc.Add(100)

	assert.Equal(t, uint64(1), rc.PacketsTotal())
	assert.Equal(t, uint64(100), rc.BytesTotal())

	out := &bytes.Buffer{}
	rc.Print(out)
	assert.Contains(t, out.String(), "(100 bytes) in      1 pck")
	assert.Contains(t, out.String(), "not yet available")
	assert.NotContains(t, out.String(), "NaN")
	assert.True(t, strings.HasSuffix(out.String(), "\n"))
}

func TestRateCounterSecondaryOmitsLifetime(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	rc := newRateCounter("window-only", time.Second, false, clock.Now)
	rc.Add(100)
	clock.Advance(time.Second)
	rc.lastObserved = clock.Now()

	out := &bytes.Buffer{}
	rc.Print(out)
	assert.NotContains(t, out.String(), "Sent")
	assert.Contains(t, out.String(), "Window 1.000s")
}

func TestRateCounterResetTime(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	rc := newRateCounter("reset", time.Second, true, clock.Now)
	rc.Add(100)
	rc.Add(100)
	clock.Advance(time.Minute)
	rc.ResetTime()

	s := rc.Snapshot()
	assert.Equal(t, uint64(2), s.PacketsTotal)
	assert.Equal(t, uint64(200), s.BytesTotal)
	assert.Equal(t, time.Duration(0), s.Lifetime)
	assert.Equal(t, time.Duration(0), s.WindowElapsed)
}
