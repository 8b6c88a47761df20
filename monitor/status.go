package monitor

import (
	"time"

	"github.com/mycoria/tunstat/stats"
)

// Status is a point-in-time view of the session, safe to share between
// goroutines once published.
type Status struct {
	Updated time.Time
	Frames  uint64

	// Counters holds the last report of every counter.
	Counters []stats.RateSnapshot
	Sequence stats.SequenceSnapshot

	Ended     bool
	EndReason string
}

// Status returns the last published status of the session.
func (mon *Monitor) Status() *Status {
	return mon.status.Load()
}

func (mon *Monitor) publishStatus() {
	s := &Status{
		Updated:   time.Now(),
		Frames:    mon.frames.Load(),
		Counters:  make([]stats.RateSnapshot, 0, len(mon.counters)),
		Sequence:  mon.tracker.Snapshot(),
		Ended:     mon.finished.IsSet(),
		EndReason: mon.endReason,
	}
	for _, rc := range mon.counters {
		report := rc.LastReport()
		if report.Counter == "" {
			// Silent counters never report while running.
			report = rc.Snapshot()
		}
		s.Counters = append(s.Counters, report)
	}
	mon.status.Store(s)
}
