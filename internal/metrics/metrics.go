// Package metrics defines the Prometheus collectors exported by the node.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the node's collectors. All methods are safe on a nil
// receiver so components can run without metrics.
type Metrics struct {
	ReportCycles        *prometheus.CounterVec
	ReportCycleDuration prometheus.Histogram
	LastReport          prometheus.Gauge
	Occupied            prometheus.Gauge
	MotionEvents        prometheus.Counter
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ReportCycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "occupancy_report_cycles_total",
			Help: "Reporting cycles by outcome",
		}, []string{"outcome"}),
		ReportCycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "occupancy_report_cycle_duration_seconds",
			Help:    "Duration of reporting cycles in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		LastReport: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "occupancy_last_report_timestamp_seconds",
			Help: "Unix time of the last successfully sent report",
		}),
		Occupied: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "occupancy_occupied",
			Help: "Occupancy flag evaluated in the last reporting cycle (0 or 1)",
		}),
		MotionEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "occupancy_motion_events_total",
			Help: "Qualifying motion events recorded",
		}),
	}
	reg.MustRegister(
		m.ReportCycles,
		m.ReportCycleDuration,
		m.LastReport,
		m.Occupied,
		m.MotionEvents,
	)
	return m
}

// ObserveCycle records the end of a reporting cycle.
func (m *Metrics) ObserveCycle(outcome string, occupied, sent bool, d time.Duration) {
	if m == nil {
		return
	}
	m.ReportCycles.WithLabelValues(outcome).Inc()
	m.ReportCycleDuration.Observe(d.Seconds())
	if occupied {
		m.Occupied.Set(1)
	} else {
		m.Occupied.Set(0)
	}
	if sent {
		m.LastReport.SetToCurrentTime()
	}
}

// MotionDetected counts one recorded motion event.
func (m *Metrics) MotionDetected() {
	if m == nil {
		return
	}
	m.MotionEvents.Inc()
}
