package stats

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
)

const (
	// ReorderTolerance is the amount of missing packets that is still
	// explained by packets arriving out of order.
	ReorderTolerance = 1000

	// DuplicateWarnLimit is the amount of duplicate warnings after which
	// further warnings are suppressed.
	DuplicateWarnLimit = 100
)

// ErrIndexOutOfRange is returned when a sequence index does not fit into the
// capacity of a sequence tracker.
var ErrIndexOutOfRange = errors.New("sequence index out of range")

// SequenceTracker detects duplicate, reordered and lost packets by their
// sequence index. It must only be used from a single goroutine.
type SequenceTracker struct {
	seen []bool

	maxIndex   uint64
	unique     uint64
	duplicates uint64
	reorders   uint64

	lossSuspected bool

	log *slog.Logger
}

// NewSequenceTracker returns a new sequence tracker that accepts sequence
// indexes from 0 up to, but excluding, capacity.
// Storage is allocated upfront and never grows.
func NewSequenceTracker(capacity int, logger *slog.Logger) *SequenceTracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &SequenceTracker{
		seen: make([]bool, capacity),
		log:  logger,
	}
}

// SeePacket records a packet with the given sequence index.
// If the index does not fit into the tracker capacity, ErrIndexOutOfRange
// is returned and nothing is recorded.
func (st *SequenceTracker) SeePacket(index uint64) error {
	if index >= uint64(len(st.seen)) {
		return fmt.Errorf("%w: %d not below capacity %d", ErrIndexOutOfRange, index, len(st.seen))
	}

	if index < st.maxIndex {
		st.reorders++
	}
	st.maxIndex = max(st.maxIndex, index)

	if st.PacketsMaybeLost() {
		st.lossSuspected = true
	}

	if st.seen[index] {
		st.duplicates++
		switch {
		case st.duplicates < DuplicateWarnLimit:
			st.log.Warn(
				"duplicate packet",
				"index", index,
				"unique", st.unique,
				"maxIndex", st.maxIndex,
				"duplicates", st.duplicates,
				"reorders", st.reorders,
			)
		case st.duplicates == DuplicateWarnLimit:
			st.log.Warn("duplicate packet, suppressing further duplicate warnings", "index", index)
		}
	} else {
		st.unique++
	}
	st.seen[index] = true

	return nil
}

// PacketsMaybeLost reports whether packets are probably lost right now.
// A small gap between the highest index and the unique packet count is
// expected from reordering, a big one is not.
func (st *SequenceTracker) PacketsMaybeLost() bool {
	return st.maxIndex > st.unique+ReorderTolerance
}

// Capacity returns the maximum amount of trackable sequence indexes.
func (st *SequenceTracker) Capacity() int {
	return len(st.seen)
}

// MaxIndex returns the highest seen sequence index.
func (st *SequenceTracker) MaxIndex() uint64 {
	return st.maxIndex
}

// Unique returns the amount of distinct seen sequence indexes.
func (st *SequenceTracker) Unique() uint64 {
	return st.unique
}

// Duplicates returns the amount of packets with an already seen sequence index.
func (st *SequenceTracker) Duplicates() uint64 {
	return st.duplicates
}

// Reorders returns the amount of packets that arrived after a packet with a
// higher sequence index.
func (st *SequenceTracker) Reorders() uint64 {
	return st.reorders
}

// LossSuspected returns whether packet loss was suspected at any time.
func (st *SequenceTracker) LossSuspected() bool {
	return st.lossSuspected
}

// Print writes the current integrity statistics to out.
func (st *SequenceTracker) Print(out io.Writer) {
	s := st.Snapshot()

	_, _ = fmt.Fprintf(out,
		"Packets: uniq=%dK; Max=%d Dupli=%d Reord=%d Missing(now)=%d %3.2f%%",
		s.Unique/1000,
		s.MaxIndex,
		s.Duplicates,
		s.Reorders,
		s.Missing,
		s.MissingPercent,
	)
	switch {
	case s.LossNow:
		_, _ = fmt.Fprint(out, " LOST-PACKETS")
	case s.LossSuspected:
		_, _ = fmt.Fprint(out, " (packets seemed lost in the past, but now all looks fine)")
	}
	_, _ = fmt.Fprintln(out)
}

// Snapshot returns the current integrity statistics.
func (st *SequenceTracker) Snapshot() SequenceSnapshot {
	s := SequenceSnapshot{
		Unique:        st.unique,
		MaxIndex:      st.maxIndex,
		Duplicates:    st.duplicates,
		Reorders:      st.reorders,
		LossNow:       st.PacketsMaybeLost(),
		LossSuspected: st.lossSuspected,
	}

	// Missing packets may still arrive reordered, or may really be lost.
	if st.maxIndex > st.unique {
		s.Missing = st.maxIndex - st.unique
	}
	if st.maxIndex > 0 {
		s.MissingPercent = float64(s.Missing) / float64(st.maxIndex) * 100
	}

	return s
}
