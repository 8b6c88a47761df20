// Package monitor processes received frames and reports throughput and
// sequence integrity.
package monitor

import (
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/tevino/abool"

	"github.com/mycoria/tunstat/config"
	"github.com/mycoria/tunstat/frame"
	"github.com/mycoria/tunstat/metrics"
	"github.com/mycoria/tunstat/mgr"
	"github.com/mycoria/tunstat/stats"
)

// Source delivers raw frames to the monitor.
type Source interface {
	// Frames returns the channel frames are delivered on.
	// A closed channel ends the session.
	Frames() <-chan []byte
	// Drain returns the amount of bytes received since the last call.
	Drain() uint64
	// ReturnFrame hands a frame back after processing.
	ReturnFrame(f []byte)
}

// End reasons.
const (
	EndMarker     = "end marker received"
	EndExhausted  = "source exhausted"
	EndShutdown   = "shutdown"
	EndOutOfRange = "sequence index out of range"
)

const (
	dumpLimit          = 128
	idleNoticeInterval = 10 * time.Second
)

// Monitor runs a measurement session over the frames of a source.
type Monitor struct {
	mgr *mgr.Manager

	instance instance
	source   Source
	out      io.Writer
	metrics  *metrics.Metrics
	recorder *Recorder

	counters []*rateCounter
	tracker  *stats.SequenceTracker

	faultWarned   map[frame.Fault]*abool.AtomicBool
	payloadWarned *abool.AtomicBool
	dumped        int

	frames    atomic.Uint64
	idleSince uint64
	status    atomic.Pointer[Status]

	finished  *abool.AtomicBool
	endReason string
	done      chan struct{}
}

type rateCounter struct {
	*stats.RateCounter

	silent    bool
	integrity bool
	final     bool
}

// instance is an interface subset of inst.Ance.
type instance interface {
	Config() *config.Config
	FrameBuilder() *frame.Builder
}

// New returns a new monitor reading from the given source.
// Reports are written to out. Metrics are optional.
func New(instance instance, source Source, out io.Writer, m *metrics.Metrics) *Monitor {
	c := instance.Config()

	mon := &Monitor{
		mgr:           mgr.New("monitor"),
		instance:      instance,
		source:        source,
		out:           out,
		metrics:       m,
		faultWarned:   make(map[frame.Fault]*abool.AtomicBool, len(frame.Faults)),
		payloadWarned: abool.New(),
		finished:      abool.New(),
		done:          make(chan struct{}),
	}
	mon.tracker = stats.NewSequenceTracker(c.Session.Capacity, mon.mgr.Logger())
	for _, fault := range frame.Faults {
		mon.faultWarned[fault] = abool.New()
	}
	for _, cc := range c.Counters {
		mon.counters = append(mon.counters, &rateCounter{
			RateCounter: stats.NewRateCounter(cc.Name, cc.Window, cc.Primary),
			silent:      cc.Silent,
			integrity:   cc.Integrity,
			final:       cc.Final,
		})
	}
	mon.publishStatus()

	return mon
}

// Manager returns the module manager.
func (mon *Monitor) Manager() *mgr.Manager {
	return mon.mgr
}

// Start opens the record file and starts processing frames.
func (mon *Monitor) Start() error {
	c := mon.instance.Config()
	if c.Report.Record != "" {
		rec, err := NewRecorder(c.Report.Record, c.RecordFormat)
		if err != nil {
			return err
		}
		mon.recorder = rec
	}

	// Discard setup latency.
	for _, rc := range mon.counters {
		rc.ResetTime()
	}

	mon.mgr.Info(
		"session started",
		"endAfter", c.Session.EndAfter,
		"capacity", c.Session.Capacity,
		"counters", len(mon.counters),
	)
	mon.mgr.Go("process frames", mon.processFrames)
	mon.mgr.Repeat("idle notice", idleNoticeInterval, mon.idleNotice)
	return nil
}

// Stop ends the session, if still running, and stops all workers.
func (mon *Monitor) Stop() error {
	mon.mgr.Cancel()
	if !mon.mgr.WaitForWorkers(0) {
		return errors.New("timed out waiting for workers")
	}
	return nil
}

// Done returns a channel that is closed when the session ended and all
// final reports were written.
func (mon *Monitor) Done() <-chan struct{} {
	return mon.done
}

// EndReason returns why the session ended.
// Only valid after Done is closed.
func (mon *Monitor) EndReason() string {
	return mon.endReason
}

// Tracker returns the sequence tracker.
// It must only be accessed after Done is closed.
func (mon *Monitor) Tracker() *stats.SequenceTracker {
	return mon.tracker
}

// Frames returns the amount of processed frames.
func (mon *Monitor) Frames() uint64 {
	return mon.frames.Load()
}

func (mon *Monitor) processFrames(w *mgr.WorkerCtx) error {
	frames := mon.source.Frames()
	for {
		select {
		case f, ok := <-frames:
			if !ok {
				mon.finish(w, EndExhausted)
				return nil
			}

			reason := mon.handleFrame(w, f)
			mon.source.ReturnFrame(f)
			if reason != "" {
				mon.finish(w, reason)
				return nil
			}

		case <-w.Done():
			mon.finish(w, EndShutdown)
			return nil
		}
	}
}

// handleFrame processes a single frame and returns an end reason if the
// session must end.
func (mon *Monitor) handleFrame(w *mgr.WorkerCtx, f []byte) (endReason string) {
	c := mon.instance.Config()
	received := mon.source.Drain()
	mon.frames.Add(1)

	mk := frame.Inspect(f, c.Session.MarkerOffset)
	if mon.dumped < c.Report.DumpFrames {
		mon.dumped++
		dump, magicPos := frame.Dump(f, dumpLimit)
		w.Info("frame dump", "frame", mon.dumped, "size", len(f), "magicAt", magicPos, "bytes", dump)
	}
	if mk.Faults != 0 {
		mon.warnFaults(w, mk)
	}
	if c.Session.VerifyPayload && mk.OK() {
		payload := f[c.Session.MarkerOffset-frame.PayloadPrefixSize:]
		if !mon.instance.FrameBuilder().VerifyPayload(payload, mk.Sequence) &&
			mon.payloadWarned.SetToIf(false, true) {
			w.Warn("payload filler does not match, further mismatches are not reported", "seq", mk.Sequence)
		}
	}
	if mon.metrics != nil {
		mon.metrics.ObserveFrame(uint64(len(f)), mk.Faults)
	}

	// Every frame is counted.
	var (
		reports         int
		integrityReport bool
	)
	for _, rc := range mon.counters {
		if rc.Tick(received, mon.out, rc.silent) {
			reports++
			mon.reported(w, rc)
			if rc.integrity {
				integrityReport = true
			}
		}
	}
	if integrityReport {
		mon.tracker.Print(mon.out)
		mon.recordSequence(w, EventReport)
	}
	if reports > 0 {
		mon.publishStatus()
	}

	// Only test frames are tracked.
	if !mk.HasSequence {
		return ""
	}
	seq := uint64(mk.Sequence)
	if seq >= c.Session.EndAfter {
		w.Info("end marker received", "seq", seq, "endAfter", c.Session.EndAfter)
		return EndMarker
	}
	if err := mon.tracker.SeePacket(seq); err != nil {
		w.Error("cannot track frame", "err", err)
		return EndOutOfRange
	}

	return ""
}

func (mon *Monitor) warnFaults(w *mgr.WorkerCtx, mk frame.Marker) {
	for _, fault := range frame.Faults {
		if mk.Faults.Has(fault) && mon.faultWarned[fault].SetToIf(false, true) {
			w.Warn(
				"malformed frame, further frames with this fault are not reported",
				"fault", fault.String(),
				"tracked", mk.HasSequence,
			)
		}
	}
}

func (mon *Monitor) reported(w *mgr.WorkerCtx, rc *rateCounter) {
	s := rc.LastReport()
	if mon.metrics != nil {
		mon.metrics.UpdateCounter(s)
	}
	mon.record(w, &Record{
		Time:  time.Now(),
		Event: EventReport,
		Rate:  &s,
	})
}

func (mon *Monitor) recordSequence(w *mgr.WorkerCtx, event string) {
	s := mon.tracker.Snapshot()
	if mon.metrics != nil {
		mon.metrics.UpdateSequence(s)
	}
	mon.record(w, &Record{
		Time:     time.Now(),
		Event:    event,
		Sequence: &s,
	})
}

func (mon *Monitor) record(w *mgr.WorkerCtx, rec *Record) {
	if mon.recorder == nil {
		return
	}
	if err := mon.recorder.Write(rec); err != nil {
		w.Error("failed to record, disabling recorder", "err", err)
		_ = mon.recorder.Close()
		mon.recorder = nil
	}
}

// finish writes the final reports and marks the session as done.
func (mon *Monitor) finish(w *mgr.WorkerCtx, reason string) {
	if !mon.finished.SetToIf(false, true) {
		return
	}
	mon.endReason = reason

	_, _ = fmt.Fprint(mon.out, "\n\n")
	for _, rc := range mon.counters {
		if !rc.final {
			continue
		}
		rc.Print(mon.out)

		s := rc.Snapshot()
		if mon.metrics != nil {
			mon.metrics.UpdateCounter(s)
		}
		mon.record(w, &Record{
			Time:  time.Now(),
			Event: EventFinal,
			Rate:  &s,
		})
	}
	mon.tracker.Print(mon.out)
	mon.recordSequence(w, EventFinal)

	if mon.recorder != nil {
		if err := mon.recorder.Close(); err != nil {
			w.Warn("failed to close record file", "err", err)
		}
		mon.recorder = nil
	}

	mon.publishStatus()
	w.Info(
		"session ended",
		"reason", reason,
		"frames", mon.frames.Load(),
		"unique", mon.tracker.Unique(),
		"duplicates", mon.tracker.Duplicates(),
		"reorders", mon.tracker.Reorders(),
		"lossSuspected", mon.tracker.LossSuspected(),
	)
	close(mon.done)
}

func (mon *Monitor) idleNotice(w *mgr.WorkerCtx) error {
	frames := mon.frames.Load()
	if frames == mon.idleSince && !mon.finished.IsSet() {
		w.Info("waiting for frames", "processed", frames)
	}
	mon.idleSince = frames
	return nil
}
