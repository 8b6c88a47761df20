package monitor

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mycoria/tunstat/config"
	"github.com/mycoria/tunstat/frame"
	"github.com/mycoria/tunstat/inst"
	"github.com/mycoria/tunstat/metrics"
)

type memSource struct {
	frames   chan []byte
	received atomic.Uint64
	returned atomic.Int64
}

func newMemSource(size int) *memSource {
	return &memSource{
		frames: make(chan []byte, size),
	}
}

func (src *memSource) push(f []byte) {
	src.received.Add(uint64(len(f)))
	src.frames <- f
}

func (src *memSource) Frames() <-chan []byte { return src.frames }
func (src *memSource) Drain() uint64         { return src.received.Swap(0) }
func (src *memSource) ReturnFrame(f []byte)  { src.returned.Add(1) }

func testInstance(mod func(s *config.Store)) *inst.AnceStub {
	s := config.DefaultStore()
	s.Session.EndAfter = 100
	s.Session.Capacity = 200
	if mod != nil {
		mod(&s)
	}
	return &inst.AnceStub{
		ConfigStub:       config.MakeTestConfig(s),
		FrameBuilderStub: frame.NewBuilder(),
	}
}

func testFrame(t *testing.T, b *frame.Builder, seq uint32) []byte {
	t.Helper()

	f := make([]byte, frame.IPv6HeaderSize+frame.UDPHeaderSize+200)
	require.NoError(t, b.BuildPayload(f[frame.IPv6HeaderSize+frame.UDPHeaderSize:], seq))
	return f
}

func waitDone(t *testing.T, mon *Monitor) {
	t.Helper()

	select {
	case <-mon.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("monitor did not finish")
	}
}

func TestMonitorEndMarker(t *testing.T) {
	t.Parallel()

	ance := testInstance(nil)
	b := ance.FrameBuilder()

	src := newMemSource(200)
	var totalBytes int
	push := func(seq uint32) {
		f := testFrame(t, b, seq)
		totalBytes += len(f)
		src.push(f)
	}
	for seq := range uint32(50) {
		push(seq)
	}
	for seq := uint32(51); seq < 100; seq++ {
		push(seq)
	}
	push(50) // Reordered.
	push(10) // Duplicate.
	push(100)
	// Not processed anymore, but already counted by the source.
	last := testFrame(t, b, 101)
	totalBytes += len(last)
	src.push(last)

	out := &bytes.Buffer{}
	mon := New(ance, src, out, nil)
	require.NoError(t, mon.Start())
	waitDone(t, mon)
	require.NoError(t, mon.Stop())

	assert.Equal(t, EndMarker, mon.EndReason())
	assert.Equal(t, uint64(102), mon.Frames())
	assert.Equal(t, int64(102), src.returned.Load())

	tracker := mon.Tracker()
	assert.Equal(t, uint64(100), tracker.Unique())
	assert.Equal(t, uint64(99), tracker.MaxIndex())
	assert.Equal(t, uint64(1), tracker.Duplicates())
	assert.Equal(t, uint64(2), tracker.Reorders())
	assert.False(t, tracker.LossSuspected())

	// Final reports: lifetime counter, then integrity.
	report := out.String()
	assert.Contains(t, report, fmt.Sprintf("[all] Sent  0.000 GiB (%d bytes) in %6d pck; ", totalBytes, 102))
	assert.True(t, strings.HasSuffix(report, "Packets: uniq=0K; Max=99 Dupli=1 Reord=2 Missing(now)=0 0.00%\n"))
	// Windowed counters reported the first frame.
	assert.Contains(t, report, "[1s] ")
	assert.Contains(t, report, "[3s] ")
	assert.Equal(t, 1, strings.Count(report, "[all] "), "silent counter reports only once at the end")

	status := mon.Status()
	assert.True(t, status.Ended)
	assert.Equal(t, EndMarker, status.EndReason)
	assert.Equal(t, uint64(102), status.Frames)
	assert.Equal(t, uint64(100), status.Sequence.Unique)
	require.Len(t, status.Counters, 3)
	assert.Equal(t, "all", status.Counters[2].Counter)
	assert.Equal(t, uint64(102), status.Counters[2].PacketsTotal)
}

func TestMonitorMalformedFrames(t *testing.T) {
	t.Parallel()

	ance := testInstance(nil)
	b := ance.FrameBuilder()
	src := newMemSource(10)

	src.push(testFrame(t, b, 0))

	badMagic := testFrame(t, b, 7)
	badMagic[frame.DefaultMarkerOffset] = 0
	src.push(badMagic)

	badX := testFrame(t, b, 1)
	badX[len(badX)-frame.TrailerXDistance] = 0
	src.push(badX)

	badE := testFrame(t, b, 2)
	badE[len(badE)-1] = 0
	src.push(badE)

	src.push(make([]byte, 5))

	badX = testFrame(t, b, 3)
	badX[len(badX)-frame.TrailerXDistance] = 0
	src.push(badX)
	close(src.frames)

	m := metrics.New()
	mon := New(ance, src, io.Discard, m)
	require.NoError(t, mon.Start())
	waitDone(t, mon)
	require.NoError(t, mon.Stop())

	assert.Equal(t, EndExhausted, mon.EndReason())
	assert.Equal(t, uint64(6), mon.Frames())

	// Bad trailers are still tracked, a bad magic is not.
	assert.Equal(t, uint64(4), mon.Tracker().Unique())
	assert.Equal(t, uint64(3), mon.Tracker().MaxIndex())

	for _, fault := range frame.Faults {
		assert.True(t, mon.faultWarned[fault].IsSet(), "fault %s should have been warned about", fault)
	}
	assert.InDelta(t, 1, testutil.ToFloat64(m.MalformedFramesTotal.WithLabelValues("wrong magic")), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(m.MalformedFramesTotal.WithLabelValues("wrong marker X")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.MalformedFramesTotal.WithLabelValues("wrong marker E")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.MalformedFramesTotal.WithLabelValues("too short")), 0)
	assert.InDelta(t, 6, testutil.ToFloat64(m.FramesTotal), 0)
}

func TestMonitorOutOfRange(t *testing.T) {
	t.Parallel()

	ance := testInstance(nil)
	// Bypass config validation.
	ance.ConfigStub.Session.Capacity = 10
	b := ance.FrameBuilder()

	src := newMemSource(10)
	src.push(testFrame(t, b, 1))
	src.push(testFrame(t, b, 20))
	src.push(testFrame(t, b, 2))

	out := &bytes.Buffer{}
	mon := New(ance, src, out, nil)
	require.NoError(t, mon.Start())
	waitDone(t, mon)
	require.NoError(t, mon.Stop())

	assert.Equal(t, EndOutOfRange, mon.EndReason())
	assert.Equal(t, uint64(1), mon.Tracker().Unique())
	assert.True(t, strings.HasSuffix(out.String(), "Packets: uniq=0K; Max=1 Dupli=0 Reord=0 Missing(now)=0 0.00%\n"))
}

func TestMonitorShutdown(t *testing.T) {
	t.Parallel()

	ance := testInstance(nil)
	src := newMemSource(10)
	src.push(testFrame(t, ance.FrameBuilder(), 0))

	out := &bytes.Buffer{}
	mon := New(ance, src, out, nil)
	require.NoError(t, mon.Start())

	// Wait for the frame to be processed.
	require.Eventually(t, func() bool {
		return mon.Frames() == 1
	}, 5*time.Second, time.Millisecond)
	require.NoError(t, mon.Stop())
	waitDone(t, mon)

	assert.Equal(t, EndShutdown, mon.EndReason())
	assert.Contains(t, out.String(), "[all] Sent")
	assert.True(t, strings.HasSuffix(out.String(), "Packets: uniq=0K; Max=0 Dupli=0 Reord=0 Missing(now)=0 0.00%\n"))
}

func TestMonitorDumpFrames(t *testing.T) {
	t.Parallel()

	ance := testInstance(func(s *config.Store) {
		s.Report.DumpFrames = 2
	})
	src := newMemSource(10)
	for seq := range uint32(5) {
		src.push(testFrame(t, ance.FrameBuilder(), seq))
	}
	close(src.frames)

	mon := New(ance, src, io.Discard, nil)
	require.NoError(t, mon.Start())
	waitDone(t, mon)
	require.NoError(t, mon.Stop())

	assert.Equal(t, 2, mon.dumped)
	assert.Equal(t, uint64(5), mon.Tracker().Unique())
}

func TestMonitorVerifyPayload(t *testing.T) {
	t.Parallel()

	ance := testInstance(func(s *config.Store) {
		s.Session.VerifyPayload = true
	})
	b := ance.FrameBuilder()
	src := newMemSource(10)
	src.push(testFrame(t, b, 0))
	src.push(testFrame(t, b, 1))
	close(src.frames)

	mon := New(ance, src, io.Discard, nil)
	require.NoError(t, mon.Start())
	waitDone(t, mon)
	require.NoError(t, mon.Stop())
	assert.False(t, mon.payloadWarned.IsSet(), "built frames must verify")

	// Corrupt filler.
	src = newMemSource(10)
	corrupt := testFrame(t, b, 2)
	corrupt[frame.DefaultMarkerOffset+frame.MagicSize+frame.SequenceSize+1] ^= 0xFF
	src.push(corrupt)
	close(src.frames)

	mon = New(ance, src, io.Discard, nil)
	require.NoError(t, mon.Start())
	waitDone(t, mon)
	require.NoError(t, mon.Stop())
	assert.True(t, mon.payloadWarned.IsSet())
	assert.Equal(t, uint64(1), mon.Tracker().Unique(), "payload mismatch must not affect tracking")
}

func TestMonitorRecordJSON(t *testing.T) {
	t.Parallel()

	recordPath := filepath.Join(t.TempDir(), "session.jsonl")
	ance := testInstance(func(s *config.Store) {
		s.Report.Record = recordPath
	})
	src := newMemSource(10)
	for seq := range uint32(3) {
		src.push(testFrame(t, ance.FrameBuilder(), seq))
	}
	close(src.frames)

	mon := New(ance, src, io.Discard, nil)
	require.NoError(t, mon.Start())
	waitDone(t, mon)
	require.NoError(t, mon.Stop())

	f, err := os.Open(recordPath)
	require.NoError(t, err)
	defer f.Close() //nolint:errcheck

	var records []Record
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var rec Record
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &rec))
		records = append(records, rec)
	}
	require.NoError(t, scanner.Err())

	// 1s and 3s report the first frame, 3s adds the integrity report.
	// At the end: all counter and integrity.
	require.Len(t, records, 5)
	assert.Equal(t, EventReport, records[0].Event)
	require.NotNil(t, records[0].Rate)
	assert.Equal(t, "1s", records[0].Rate.Counter)
	require.NotNil(t, records[2].Sequence)

	final := records[len(records)-1]
	assert.Equal(t, EventFinal, final.Event)
	require.NotNil(t, final.Sequence)
	assert.Equal(t, uint64(3), final.Sequence.Unique)
	require.NotNil(t, records[3].Rate)
	assert.Equal(t, "all", records[3].Rate.Counter)
	assert.Equal(t, uint64(3), records[3].Rate.PacketsTotal)
}

func TestMonitorRecordCBOR(t *testing.T) {
	t.Parallel()

	recordPath := filepath.Join(t.TempDir(), "session.cbor")
	ance := testInstance(func(s *config.Store) {
		s.Report.Record = recordPath
	})
	src := newMemSource(10)
	src.push(testFrame(t, ance.FrameBuilder(), 0))
	src.push(testFrame(t, ance.FrameBuilder(), 100))

	mon := New(ance, src, io.Discard, nil)
	require.NoError(t, mon.Start())
	waitDone(t, mon)
	require.NoError(t, mon.Stop())

	data, err := os.ReadFile(recordPath)
	require.NoError(t, err)

	var records []Record
	dec := cbor.NewDecoder(bytes.NewReader(data))
	for {
		var rec Record
		err := dec.Decode(&rec)
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		records = append(records, rec)
	}

	require.Len(t, records, 5)
	final := records[len(records)-1]
	assert.Equal(t, EventFinal, final.Event)
	require.NotNil(t, final.Sequence)
	assert.Equal(t, uint64(1), final.Sequence.Unique)
	assert.Equal(t, uint64(2), records[3].Rate.PacketsTotal)
}
