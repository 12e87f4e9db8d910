package report

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"occupancy-node/internal/events"
	"occupancy-node/internal/identity"
	"occupancy-node/internal/metrics"
	"occupancy-node/internal/occupancy"
)

// maxResponseBody caps how much of a response is read and logged.
const maxResponseBody = 8 << 10

// Outcome classifies how a reporting cycle ended.
type Outcome string

const (
	OutcomeSent            Outcome = "sent"
	OutcomeEncodeFailed    Outcome = "encode_failed"
	OutcomeTransportFailed Outcome = "transport_failed"
	OutcomeRejected        Outcome = "rejected"
	OutcomeUnreadable      Outcome = "unreadable"
	OutcomePanic           Outcome = "panic"
)

// CycleResult describes one reporting cycle.
type CycleResult struct {
	Outcome  Outcome
	Occupied bool
	Status   int
	Body     string
	Err      error
	Duration time.Duration
}

// LastEventReader reads the occupancy cell.
type LastEventReader interface {
	LastEvent() uint64
}

// Config holds reporter parameters.
type Config struct {
	Interval    time.Duration
	DecayWindow time.Duration
}

// Reporter sends one report per interval. A failed cycle is logged and the
// loop moves on to the next interval; nothing within a cycle can stop it.
type Reporter struct {
	id      identity.Identity
	cell    LastEventReader
	clock   occupancy.Clock
	sender  Sender
	cfg     Config
	window  uint64
	encode  func(Record) ([]byte, error)
	logger  *slog.Logger
	bus     *events.Bus
	metrics *metrics.Metrics
}

// NewReporter creates a reporter. bus and m may be nil.
func NewReporter(id identity.Identity, cell LastEventReader, clock occupancy.Clock, sender Sender, cfg Config, logger *slog.Logger, bus *events.Bus, m *metrics.Metrics) *Reporter {
	return &Reporter{
		id:      id,
		cell:    cell,
		clock:   clock,
		sender:  sender,
		cfg:     cfg,
		window:  occupancy.Micros(cfg.DecayWindow),
		encode:  Encode,
		logger:  logger.With("component", "report"),
		bus:     bus,
		metrics: m,
	}
}

// Run reports every interval until ctx is cancelled. The first report is sent
// one full interval after Run starts.
func (r *Reporter) Run(ctx context.Context) {
	r.logger.Info("reporter started", "interval", r.cfg.Interval, "decay_window", r.cfg.DecayWindow)
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.observe(r.RunCycle(ctx))
		}
	}
}

// RunCycle performs a single evaluate, encode, send and read sequence. It
// never panics; a panic inside the cycle is reported as OutcomePanic.
func (r *Reporter) RunCycle(ctx context.Context) (res CycleResult) {
	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			res = CycleResult{Outcome: OutcomePanic, Occupied: res.Occupied, Err: fmt.Errorf("report cycle panic: %v", p)}
		}
		res.Duration = time.Since(start)
	}()

	now := r.clock.NowMicros()
	last := r.cell.LastEvent()
	res.Occupied = occupancy.Occupied(now, last, r.window)

	body, err := r.encode(NewRecord(r.id, res.Occupied))
	if err != nil {
		res.Outcome, res.Err = OutcomeEncodeFailed, err
		return res
	}

	resp, err := r.sender.Send(ctx, body, r.id.AuthToken)
	if err != nil {
		res.Outcome, res.Err = OutcomeTransportFailed, err
		return res
	}
	defer resp.Body.Close()
	res.Status = resp.StatusCode

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		res.Outcome, res.Err = OutcomeUnreadable, fmt.Errorf("read response: %w", err)
		return res
	}
	res.Body = string(data)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		res.Outcome, res.Err = OutcomeRejected, fmt.Errorf("unexpected status %d", resp.StatusCode)
		return res
	}
	res.Outcome = OutcomeSent
	return res
}

func (r *Reporter) observe(res CycleResult) {
	occupants := 0
	if res.Occupied {
		occupants = 1
	}

	switch res.Outcome {
	case OutcomeSent:
		r.logger.Info("report sent", "occupants", occupants, "status", res.Status,
			"response", res.Body, "duration", res.Duration)
	case OutcomeRejected:
		r.logger.Warn("report rejected", "occupants", occupants, "status", res.Status,
			"response", res.Body, "duration", res.Duration)
	default:
		r.logger.Warn("report cycle failed", "outcome", string(res.Outcome), "occupants", occupants,
			"err", res.Err, "duration", res.Duration)
	}

	r.metrics.ObserveCycle(string(res.Outcome), res.Occupied, res.Outcome == OutcomeSent, res.Duration)
	r.bus.Emit(events.Event{Type: events.EventReport, Data: map[string]any{
		"sensor_id": r.id.SensorID,
		"occupants": occupants,
		"outcome":   string(res.Outcome),
		"status":    res.Status,
	}})
}
