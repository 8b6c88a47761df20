package stats

import (
	"fmt"
	"io"
	"time"
)

// SampleStride is the number of ticks between two clock samples.
// Reading the clock on every frame is too expensive at high frame rates.
const SampleStride = 10_000

// Units used in reports.
const (
	kilo = 1000
	mebi = 1024 * 1024
	gibi = 1024 * mebi
)

// RateCounter counts packets and bytes over its lifetime and over a rolling
// window. It reports throughput at most once per window.
// A RateCounter must only be used from a single goroutine.
type RateCounter struct {
	name    string
	window  time.Duration
	primary bool

	packetsTotal  uint64
	packetsWindow uint64
	bytesTotal    uint64
	bytesWindow   uint64

	firstSeen     time.Time
	windowStarted time.Time
	lastObserved  time.Time

	lastReport RateSnapshot

	now func() time.Time
}

// NewRateCounter returns a new rate counter.
// The window is both the size of the measurement window and the minimum
// spacing between reports. A primary counter also reports lifetime figures.
func NewRateCounter(name string, window time.Duration, primary bool) *RateCounter {
	return newRateCounter(name, window, primary, time.Now)
}

func newRateCounter(name string, window time.Duration, primary bool, now func() time.Time) *RateCounter {
	rc := &RateCounter{
		name:    name,
		window:  window,
		primary: primary,
		now:     now,
	}
	rc.ResetTime()
	return rc
}

// Name returns the name of the counter.
func (rc *RateCounter) Name() string {
	return rc.name
}

// Window returns the window length of the counter.
func (rc *RateCounter) Window() time.Duration {
	return rc.window
}

// Primary returns whether the counter reports lifetime figures.
func (rc *RateCounter) Primary() bool {
	return rc.primary
}

// PacketsTotal returns the amount of packets seen over the counter lifetime.
func (rc *RateCounter) PacketsTotal() uint64 {
	return rc.packetsTotal
}

// BytesTotal returns the amount of bytes seen over the counter lifetime.
func (rc *RateCounter) BytesTotal() uint64 {
	return rc.bytesTotal
}

// Add adds one packet with the given amount of bytes.
func (rc *RateCounter) Add(bytes uint64) {
	rc.packetsTotal++
	rc.packetsWindow++

	rc.bytesTotal += bytes
	rc.bytesWindow += bytes
}

// ResetTime resets all timestamps to now, but keeps all counts.
func (rc *RateCounter) ResetTime() {
	now := rc.now()
	rc.firstSeen = now
	rc.windowStarted = now
	rc.lastObserved = now
}

// Tick adds one packet with the given amount of bytes and then decides
// whether to report and whether to start a new window.
// The report is written to out, unless silent is set.
// Returns whether a report was written.
func (rc *RateCounter) Tick(bytes uint64, out io.Writer, silent bool) (emitted bool) {
	rc.Add(bytes)

	var rollover bool
	if rc.packetsTotal == 1 {
		// Report a baseline right away on the first packet.
		emitted = true
		rollover = true
		rc.firstSeen = rc.now()
	}
	if rc.packetsTotal%SampleStride == 0 {
		rc.lastObserved = rc.now()
		if !rc.lastObserved.Before(rc.windowStarted.Add(rc.window)) {
			emitted = true
			rollover = true
		}
	}
	if silent {
		emitted = false
	}

	// Report must reflect the finished window.
	if emitted {
		rc.lastReport = rc.Snapshot()
		rc.write(out, rc.lastReport)
	}
	if rollover {
		now := rc.now()
		rc.windowStarted = now
		rc.lastObserved = now
		rc.packetsWindow = 0
		rc.bytesWindow = 0
	}

	return emitted
}

// Print writes the current statistics to out.
// It uses the last observed time as the end of the measurement.
func (rc *RateCounter) Print(out io.Writer) {
	rc.write(out, rc.Snapshot())
}

// LastReport returns the statistics of the last report written by Tick.
func (rc *RateCounter) LastReport() RateSnapshot {
	return rc.lastReport
}

func (rc *RateCounter) write(out io.Writer, s RateSnapshot) {
	_, _ = fmt.Fprintf(out, "[%s] ", s.Counter)
	if rc.primary {
		_, _ = fmt.Fprintf(out, "Sent %6.3f GiB (%d bytes) in %6d pck; ",
			float64(s.BytesTotal)/gibi, s.BytesTotal, s.PacketsTotal)
		if s.Lifetime > 0 {
			_, _ = fmt.Fprintf(out, "Speed: %7.3f Kpck/s, %7.3f Mib/s = %7.3f MiB/s; ",
				s.LifetimePacketRate/kilo,
				s.LifetimeByteRate*8/mebi,
				s.LifetimeByteRate/mebi,
			)
		} else {
			_, _ = fmt.Fprint(out, "(lifetime rate not yet available); ")
		}
	}
	if s.WindowElapsed > 0 {
		_, _ = fmt.Fprintf(out, "Window %.3fs: %7.3f Kpck/s, %7.3f Mib/s = %7.3f MiB/s; ",
			s.WindowElapsed.Seconds(),
			s.WindowPacketRate/kilo,
			s.WindowByteRate*8/mebi,
			s.WindowByteRate/mebi,
		)
	} else {
		_, _ = fmt.Fprint(out, "(window rate not yet available); ")
	}
	_, _ = fmt.Fprintln(out)
}

// Snapshot returns the current statistics.
// Rates are zero when the elapsed time is not positive.
func (rc *RateCounter) Snapshot() RateSnapshot {
	s := RateSnapshot{
		Counter:       rc.name,
		Primary:       rc.primary,
		PacketsTotal:  rc.packetsTotal,
		BytesTotal:    rc.bytesTotal,
		PacketsWindow: rc.packetsWindow,
		BytesWindow:   rc.bytesWindow,
		Lifetime:      rc.lastObserved.Sub(rc.firstSeen),
		WindowElapsed: rc.lastObserved.Sub(rc.windowStarted),
	}

	if s.Lifetime > 0 {
		secs := s.Lifetime.Seconds()
		s.LifetimePacketRate = float64(s.PacketsTotal) / secs
		s.LifetimeByteRate = float64(s.BytesTotal) / secs
	}
	if s.WindowElapsed > 0 {
		secs := s.WindowElapsed.Seconds()
		s.WindowPacketRate = float64(s.PacketsWindow) / secs
		s.WindowByteRate = float64(s.BytesWindow) / secs
	}

	return s
}
