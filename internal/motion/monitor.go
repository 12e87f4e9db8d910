// Package motion watches the PIR input and keeps the occupancy cell fresh.
package motion

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"occupancy-node/internal/events"
	"occupancy-node/internal/metrics"
	"occupancy-node/internal/occupancy"
)

// Input is a digital input that can be waited on by level.
type Input interface {
	WaitForHigh(ctx context.Context) error
	WaitForLow(ctx context.Context) error
}

// Recorder stores the timestamp of a qualifying motion event.
type Recorder interface {
	RecordEvent(ts uint64)
}

// Policy decides how the cooldown after an event ends.
type Policy int

const (
	// PolicyTimerOrLow ends cooldown when the timer elapses or the input
	// returns to inactive, whichever comes first.
	PolicyTimerOrLow Policy = iota
	// PolicyTimer ends cooldown only when the timer elapses.
	PolicyTimer
)

// ParsePolicy maps a config value to a Policy. Empty selects PolicyTimerOrLow.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(s) {
	case "", "timer_or_low":
		return PolicyTimerOrLow, nil
	case "timer":
		return PolicyTimer, nil
	default:
		return 0, fmt.Errorf("unknown cooldown policy %q (supported: timer_or_low, timer)", s)
	}
}

func (p Policy) String() string {
	if p == PolicyTimer {
		return "timer"
	}
	return "timer_or_low"
}

// State of the monitor.
type State int32

const (
	StateIdle State = iota
	StateSuppressed
)

func (s State) String() string {
	if s == StateSuppressed {
		return "suppressed"
	}
	return "idle"
}

// Config holds monitor parameters.
type Config struct {
	Cooldown time.Duration
	Policy   Policy
}

// Monitor records a motion event when the input becomes active, then ignores
// the input for a cooldown period.
type Monitor struct {
	input   Input
	cell    Recorder
	clock   occupancy.Clock
	cfg     Config
	logger  *slog.Logger
	bus     *events.Bus
	metrics *metrics.Metrics
	state   atomic.Int32
}

// NewMonitor creates a monitor. bus and m may be nil.
func NewMonitor(input Input, cell Recorder, clock occupancy.Clock, cfg Config, logger *slog.Logger, bus *events.Bus, m *metrics.Metrics) *Monitor {
	return &Monitor{
		input:   input,
		cell:    cell,
		clock:   clock,
		cfg:     cfg,
		logger:  logger.With("component", "motion"),
		bus:     bus,
		metrics: m,
	}
}

// State returns the current state.
func (m *Monitor) State() State {
	return State(m.state.Load())
}

// Run loops until ctx is cancelled. It returns ctx.Err().
func (m *Monitor) Run(ctx context.Context) error {
	m.logger.Info("motion monitor started", "cooldown", m.cfg.Cooldown, "policy", m.cfg.Policy)
	for {
		m.state.Store(int32(StateIdle))
		if err := m.input.WaitForHigh(ctx); err != nil {
			return ctx.Err()
		}

		ts := m.clock.NowMicros()
		m.cell.RecordEvent(ts)
		m.state.Store(int32(StateSuppressed))
		m.logger.Debug("motion detected", "ts_us", ts)
		m.metrics.MotionDetected()
		m.bus.Emit(events.Event{Type: events.EventMotion, Data: map[string]any{"timestamp": ts}})

		if err := m.suppress(ctx); err != nil {
			return err
		}
	}
}

// suppress blocks for the cooldown period, or less under PolicyTimerOrLow if
// the input goes inactive first.
func (m *Monitor) suppress(ctx context.Context) error {
	cctx, cancel := context.WithTimeout(ctx, m.cfg.Cooldown)
	defer cancel()

	if m.cfg.Policy == PolicyTimerOrLow {
		if err := m.input.WaitForLow(cctx); err == nil {
			return ctx.Err()
		}
	} else {
		<-cctx.Done()
	}
	return ctx.Err()
}
