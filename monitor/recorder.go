package monitor

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/mycoria/tunstat/config"
	"github.com/mycoria/tunstat/stats"
)

// Record events.
const (
	EventReport = "report"
	EventFinal  = "final"
)

// Record is a single entry in the record file.
type Record struct {
	Time  time.Time `cbor:"t" json:"time"  yaml:"time"`
	Event string    `cbor:"e" json:"event" yaml:"event"`

	Rate     *stats.RateSnapshot     `cbor:"r,omitempty" json:"rate,omitempty"     yaml:"rate,omitempty"`
	Sequence *stats.SequenceSnapshot `cbor:"s,omitempty" json:"sequence,omitempty" yaml:"sequence,omitempty"`
}

// Recorder writes snapshot records to a file.
// JSON records are written one per line, CBOR records as a CBOR sequence.
type Recorder struct {
	file   *os.File
	buf    *bufio.Writer
	format config.RecordFormat

	failed bool
}

// ErrRecorderFailed is returned when a previous write failed.
var ErrRecorderFailed = errors.New("recorder disabled after write failure")

// NewRecorder creates the record file.
func NewRecorder(path string, format config.RecordFormat) (*Recorder, error) {
	switch format {
	case config.RecordJSON, config.RecordCBOR:
	case config.RecordNone:
		return nil, errors.New("no record format")
	default:
		return nil, fmt.Errorf("unknown record format %q", format)
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create record file: %w", err)
	}

	return &Recorder{
		file:   f,
		buf:    bufio.NewWriter(f),
		format: format,
	}, nil
}

// Write encodes and writes the record.
// After the first failure, all further writes return ErrRecorderFailed.
func (r *Recorder) Write(rec *Record) error {
	if r.failed {
		return ErrRecorderFailed
	}

	var (
		data []byte
		err  error
	)
	switch r.format { //nolint:exhaustive
	case config.RecordCBOR:
		data, err = cbor.Marshal(rec)
	default:
		data, err = json.Marshal(rec)
		data = append(data, '\n')
	}
	if err != nil {
		r.failed = true
		return fmt.Errorf("encode record: %w", err)
	}

	if _, err := r.buf.Write(data); err != nil {
		r.failed = true
		return fmt.Errorf("write record: %w", err)
	}
	if err := r.buf.Flush(); err != nil {
		r.failed = true
		return fmt.Errorf("write record: %w", err)
	}
	return nil
}

// Close flushes and closes the record file.
func (r *Recorder) Close() error {
	flushErr := r.buf.Flush()
	if err := r.file.Close(); err != nil {
		return fmt.Errorf("close record file: %w", err)
	}
	if flushErr != nil && !r.failed {
		return fmt.Errorf("write record: %w", flushErr)
	}
	return nil
}
