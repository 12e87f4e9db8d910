// Package node sequences startup: it validates configuration, derives the
// device identity, waits for the network, and only then starts the motion
// monitor and the telemetry reporter.
package node

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"occupancy-node/internal/config"
	"occupancy-node/internal/events"
	"occupancy-node/internal/identity"
	"occupancy-node/internal/metrics"
	"occupancy-node/internal/motion"
	"occupancy-node/internal/occupancy"
	"occupancy-node/internal/report"
)

// Link is the network boundary the node blocks on before starting.
type Link interface {
	WaitReady(ctx context.Context) error
}

// Joiner joins the configured wireless network.
type Joiner interface {
	Join(ctx context.Context, ssid, password string) error
}

// Deps are the collaborators supplied by the caller.
type Deps struct {
	Input        motion.Input
	Sender       report.Sender
	Link         Link
	Joiner       Joiner // optional, used when link.manage_wifi is set
	HardwareAddr func(iface string) (net.HardwareAddr, error)
	Clock        occupancy.Clock // defaults to a monotonic clock
	Bus          *events.Bus
	Metrics      *metrics.Metrics
	Logger       *slog.Logger
}

// Status is a point-in-time view of the node.
type Status struct {
	SensorID        string  `json:"sensor_id"`
	FirmwareVersion string  `json:"firmware_version"`
	Occupied        bool    `json:"occupied"`
	LastMotionUS    uint64  `json:"last_motion_us"`
	NowUS           uint64  `json:"now_us"`
	DecayWindowSec  float64 `json:"decay_window_s"`
	MonitorState    string  `json:"monitor_state"`
	Uptime          string  `json:"uptime"`
}

// Node owns the occupancy cell and the two long-lived tasks.
type Node struct {
	id       identity.Identity
	cell     *occupancy.Cell
	clock    occupancy.Clock
	window   time.Duration
	monitor  *motion.Monitor
	reporter *report.Reporter
	started  time.Time
	logger   *slog.Logger
	wg       sync.WaitGroup
}

// Start validates cfg and, on success, brings the pipeline up. A validation
// error is returned before any collaborator is touched; callers must treat it
// as fatal. The tasks run until ctx is cancelled.
func Start(ctx context.Context, cfg *config.Config, version string, deps Deps) (*Node, error) {
	v, err := cfg.Validate()
	if err != nil {
		return nil, err
	}
	logger := deps.Logger.With("component", "node")

	hw, err := deps.HardwareAddr(v.Interface)
	if err != nil {
		return nil, fmt.Errorf("derive identity: %w", err)
	}
	id := identity.Derive(hw, version, v.AuthToken)
	logger.Info("device identity", "sensor_id", id.SensorID, "firmware_version", id.FirmwareVersion)

	if v.ManageWiFi && deps.Joiner != nil {
		if err := deps.Joiner.Join(ctx, v.WiFiSSID, v.WiFiPassword); err != nil {
			return nil, fmt.Errorf("join network: %w", err)
		}
	}
	if err := deps.Link.WaitReady(ctx); err != nil {
		return nil, fmt.Errorf("wait for link: %w", err)
	}

	clock := deps.Clock
	if clock == nil {
		clock = occupancy.NewMonotonicClock()
	}

	n := &Node{
		id:      id,
		cell:    occupancy.NewCell(),
		clock:   clock,
		window:  v.DecayWindow,
		started: time.Now(),
		logger:  logger,
	}
	n.monitor = motion.NewMonitor(deps.Input, n.cell, clock, motion.Config{
		Cooldown: v.Cooldown,
		Policy:   v.CooldownPolicy,
	}, deps.Logger, deps.Bus, deps.Metrics)
	n.reporter = report.NewReporter(id, n.cell, clock, deps.Sender, report.Config{
		Interval:    v.ReportInterval,
		DecayWindow: v.DecayWindow,
	}, deps.Logger, deps.Bus, deps.Metrics)

	n.wg.Add(2)
	go func() {
		defer n.wg.Done()
		n.monitor.Run(ctx)
	}()
	go func() {
		defer n.wg.Done()
		n.reporter.Run(ctx)
	}()

	logger.Info("pipeline started")
	return n, nil
}

// Wait blocks until both tasks have exited.
func (n *Node) Wait() {
	n.wg.Wait()
}

// Identity returns the boot-time identity.
func (n *Node) Identity() identity.Identity {
	return n.id
}

// Occupied evaluates occupancy at the current instant.
func (n *Node) Occupied() bool {
	return occupancy.Occupied(n.clock.NowMicros(), n.cell.LastEvent(), occupancy.Micros(n.window))
}

// Status returns a snapshot for the console.
func (n *Node) Status() Status {
	now := n.clock.NowMicros()
	last := n.cell.LastEvent()
	return Status{
		SensorID:        n.id.SensorID,
		FirmwareVersion: n.id.FirmwareVersion,
		Occupied:        occupancy.Occupied(now, last, occupancy.Micros(n.window)),
		LastMotionUS:    last,
		NowUS:           now,
		DecayWindowSec:  n.window.Seconds(),
		MonitorState:    n.monitor.State().String(),
		Uptime:          time.Since(n.started).Truncate(time.Second).String(),
	}
}
