package flush

import (
	"github.com/prometheus/client_golang/prometheus"
)

const subsystem = "uowflush"

// Metrics is an Observer exporting flush activity to Prometheus.
type Metrics struct {
	entries       *prometheus.CounterVec
	unitFlushes   *prometheus.CounterVec
	unitDuration  *prometheus.HistogramVec
	flushSetSize  prometheus.Histogram
	flushFailures prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg.
// A nil reg leaves the collectors unregistered (useful in tests).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		entries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Subsystem: subsystem,
				Name:      "entries_total",
				Help:      "Count of flush-set entries scheduled, by mode.",
			},
			[]string{"mode"},
		),
		unitFlushes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Subsystem: subsystem,
				Name:      "unit_flushes_total",
				Help:      "Count of unit of work flushes, by outcome.",
			},
			[]string{"outcome"},
		),
		unitDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Subsystem: subsystem,
				Name:      "unit_flush_duration_seconds",
				Help:      "Duration of unit of work flushes, by mode.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"mode"},
		),
		flushSetSize: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Subsystem: subsystem,
				Name:      "flush_set_size",
				Help:      "Number of entries in the computed flush set per operation.",
				Buckets:   []float64{0, 1, 2, 4, 8, 16, 32, 64},
			},
		),
		flushFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Subsystem: subsystem,
				Name:      "failed_operations_total",
				Help:      "Count of operations whose flush returned an error.",
			},
		),
	}

	if reg != nil {
		reg.MustRegister(m.entries, m.unitFlushes, m.unitDuration, m.flushSetSize, m.flushFailures)
	}
	return m
}

func (m *Metrics) EntryScheduled(e EntryEvent) {
	m.entries.WithLabelValues(string(e.Mode)).Inc()
}

func (m *Metrics) UnitFlushed(e UnitEvent) {
	outcome := "success"
	if e.Err != nil {
		outcome = "failure"
	}
	m.unitFlushes.WithLabelValues(outcome).Inc()
	m.unitDuration.WithLabelValues(string(e.Mode)).Observe(e.Duration.Seconds())
}

func (m *Metrics) FlushCompleted(e FlushEvent) {
	m.flushSetSize.Observe(float64(e.Entries))
	if e.Failures > 0 {
		m.flushFailures.Inc()
	}
}
