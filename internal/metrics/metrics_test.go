package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestObserveCycle(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveCycle("sent", true, true, 20*time.Millisecond)
	m.ObserveCycle("transport_failed", false, false, time.Second)
	m.MotionDetected()

	families, err := reg.Gather()
	if err != nil {
		t.Fatal(err)
	}

	got := make(map[string]float64)
	for _, f := range families {
		for _, metric := range f.GetMetric() {
			switch {
			case metric.GetCounter() != nil:
				key := f.GetName()
				for _, l := range metric.GetLabel() {
					key += "/" + l.GetValue()
				}
				got[key] = metric.GetCounter().GetValue()
			case metric.GetGauge() != nil:
				got[f.GetName()] = metric.GetGauge().GetValue()
			}
		}
	}

	if got["occupancy_report_cycles_total/sent"] != 1 {
		t.Errorf("sent cycles = %v, want 1", got["occupancy_report_cycles_total/sent"])
	}
	if got["occupancy_report_cycles_total/transport_failed"] != 1 {
		t.Errorf("failed cycles = %v, want 1", got["occupancy_report_cycles_total/transport_failed"])
	}
	if got["occupancy_occupied"] != 0 {
		t.Errorf("occupied = %v, want 0 after last cycle", got["occupancy_occupied"])
	}
	if got["occupancy_motion_events_total"] != 1 {
		t.Errorf("motion events = %v, want 1", got["occupancy_motion_events_total"])
	}
	if got["occupancy_last_report_timestamp_seconds"] == 0 {
		t.Error("last report timestamp not set")
	}
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	m.ObserveCycle("sent", true, true, time.Second)
	m.MotionDetected()
}
