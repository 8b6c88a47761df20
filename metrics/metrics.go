// Package metrics mirrors the session statistics as Prometheus metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mycoria/tunstat/frame"
	"github.com/mycoria/tunstat/stats"
)

const namespace = "tunstat"

// Metrics holds all metrics of a session in their own registry.
type Metrics struct {
	registry *prometheus.Registry

	// FramesTotal counts all received frames.
	FramesTotal prometheus.Counter
	// BytesTotal counts all received bytes.
	BytesTotal prometheus.Counter
	// MalformedFramesTotal counts malformed frames by fault.
	MalformedFramesTotal *prometheus.CounterVec

	counterPackets      *prometheus.GaugeVec
	counterBytes        *prometheus.GaugeVec
	counterPacketRate   *prometheus.GaugeVec
	counterByteRate     *prometheus.GaugeVec
	counterLifetimeRate *prometheus.GaugeVec

	sequenceUnique     prometheus.Gauge
	sequenceMaxIndex   prometheus.Gauge
	sequenceDuplicates prometheus.Gauge
	sequenceReorders   prometheus.Gauge
	sequenceMissing    prometheus.Gauge
	sequenceLoss       prometheus.Gauge
}

// New returns a new set of metrics, registered in a new registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		FramesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_total",
			Help:      "Total number of received frames",
		}),
		BytesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_total",
			Help:      "Total number of received bytes",
		}),
		MalformedFramesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "malformed_frames_total",
			Help:      "Total number of malformed frames by fault",
		}, []string{"fault"}),

		counterPackets: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "counter",
			Name:      "packets",
			Help:      "Packets seen by the rate counter at its last report",
		}, []string{"counter"}),
		counterBytes: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "counter",
			Name:      "bytes",
			Help:      "Bytes seen by the rate counter at its last report",
		}, []string{"counter"}),
		counterPacketRate: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "counter",
			Name:      "window_packets_per_second",
			Help:      "Packet rate of the last window",
		}, []string{"counter"}),
		counterByteRate: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "counter",
			Name:      "window_bytes_per_second",
			Help:      "Byte rate of the last window",
		}, []string{"counter"}),
		counterLifetimeRate: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "counter",
			Name:      "lifetime_bytes_per_second",
			Help:      "Byte rate since the first frame, primary counters only",
		}, []string{"counter"}),

		sequenceUnique: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sequence",
			Name:      "unique",
			Help:      "Distinct sequence indexes seen",
		}),
		sequenceMaxIndex: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sequence",
			Name:      "max_index",
			Help:      "Highest sequence index seen",
		}),
		sequenceDuplicates: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sequence",
			Name:      "duplicates",
			Help:      "Frames with an already seen sequence index",
		}),
		sequenceReorders: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sequence",
			Name:      "reorders",
			Help:      "Frames arriving after a higher sequence index",
		}),
		sequenceMissing: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sequence",
			Name:      "missing",
			Help:      "Sequence indexes below the maximum that were not seen yet",
		}),
		sequenceLoss: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sequence",
			Name:      "loss_suspected",
			Help:      "1 if frames are currently suspected lost",
		}),
	}
}

// Registry returns the registry of the metrics.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns a http handler serving the metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		Registry: m.registry,
	})
}

// ObserveFrame counts a received frame.
func (m *Metrics) ObserveFrame(bytes uint64, faults frame.Fault) {
	m.FramesTotal.Inc()
	m.BytesTotal.Add(float64(bytes))
	if faults == 0 {
		return
	}
	for _, fault := range frame.Faults {
		if faults.Has(fault) {
			m.MalformedFramesTotal.WithLabelValues(fault.String()).Inc()
		}
	}
}

// UpdateCounter updates the metrics of a rate counter.
func (m *Metrics) UpdateCounter(s stats.RateSnapshot) {
	m.counterPackets.WithLabelValues(s.Counter).Set(float64(s.PacketsTotal))
	m.counterBytes.WithLabelValues(s.Counter).Set(float64(s.BytesTotal))
	m.counterPacketRate.WithLabelValues(s.Counter).Set(s.WindowPacketRate)
	m.counterByteRate.WithLabelValues(s.Counter).Set(s.WindowByteRate)
	if s.Primary {
		m.counterLifetimeRate.WithLabelValues(s.Counter).Set(s.LifetimeByteRate)
	}
}

// UpdateSequence updates the sequence integrity metrics.
func (m *Metrics) UpdateSequence(s stats.SequenceSnapshot) {
	m.sequenceUnique.Set(float64(s.Unique))
	m.sequenceMaxIndex.Set(float64(s.MaxIndex))
	m.sequenceDuplicates.Set(float64(s.Duplicates))
	m.sequenceReorders.Set(float64(s.Reorders))
	m.sequenceMissing.Set(float64(s.Missing))
	if s.LossNow {
		m.sequenceLoss.Set(1)
	} else {
		m.sequenceLoss.Set(0)
	}
}
