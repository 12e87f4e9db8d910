//go:build !no_homekit

// Package homekit exposes the node as a HomeKit occupancy sensor. The
// characteristic follows the reporting cadence, like the MQTT mirror.
package homekit

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"

	"github.com/brutella/hap"
	"github.com/brutella/hap/accessory"
	"github.com/brutella/hap/characteristic"
	"github.com/brutella/hap/service"

	"occupancy-node/internal/events"
	"occupancy-node/internal/identity"
)

// Config holds HomeKit settings.
type Config struct {
	StorageDir string // pairing state
	Pin        string // 8 digits; generated and stored when empty
	Addr       string // listen address, e.g. ":51826"; random port when empty
}

// pinStore is the part of hap.Store used for the setup code.
type pinStore interface {
	Get(key string) ([]byte, error)
	Set(key string, value []byte) error
}

// Bridge publishes the occupancy flag from each report to HomeKit.
type Bridge struct {
	server *hap.Server
	sensor *service.OccupancySensor
	bus    *events.Bus
	logger *slog.Logger
	unsub  func()

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewBridge builds the accessory and the HAP server. Nothing listens until
// Start.
func NewBridge(bus *events.Bus, id identity.Identity, cfg Config, logger *slog.Logger) (*Bridge, error) {
	b := newBridge(bus, logger)

	acc := accessory.New(accessory.Info{
		Name:         "Occupancy " + id.SensorID,
		SerialNumber: id.SensorID,
		Manufacturer: "occupancy-node",
		Model:        "PIR occupancy sensor",
		Firmware:     id.FirmwareVersion,
	}, accessory.TypeSensor)
	acc.AddS(b.sensor.S)

	fs := hap.NewFsStore(cfg.StorageDir)
	server, err := hap.NewServer(fs, acc)
	if err != nil {
		return nil, fmt.Errorf("homekit server: %w", err)
	}

	pin, err := resolvePin(fs, cfg.Pin)
	if err != nil {
		return nil, err
	}
	server.Pin = pin
	if cfg.Addr != "" {
		server.Addr = cfg.Addr
	}
	b.server = server
	return b, nil
}

func newBridge(bus *events.Bus, logger *slog.Logger) *Bridge {
	return &Bridge{
		sensor: service.NewOccupancySensor(),
		bus:    bus,
		logger: logger.With("component", "homekit"),
	}
}

// Start subscribes to report events and serves HAP until Stop.
func (b *Bridge) Start(ctx context.Context) {
	b.unsub = b.bus.On(events.EventReport, b.handleReport)

	ctx, b.cancel = context.WithCancel(ctx)
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		if err := b.server.ListenAndServe(ctx); err != nil && ctx.Err() == nil {
			b.logger.Error("homekit server", "err", err)
		}
	}()
	b.logger.Info("HomeKit bridge started", "pin", b.server.Pin)
}

// Stop unsubscribes and shuts the HAP server down.
func (b *Bridge) Stop() {
	if b.unsub != nil {
		b.unsub()
	}
	if b.cancel != nil {
		b.cancel()
	}
	b.wg.Wait()
	b.logger.Info("HomeKit bridge stopped")
}

func (b *Bridge) handleReport(event events.Event) {
	occupants, _ := event.Data["occupants"].(int)
	b.setOccupied(occupants > 0)
}

func (b *Bridge) setOccupied(occupied bool) {
	v := characteristic.OccupancyDetectedOccupancyNotDetected
	if occupied {
		v = characteristic.OccupancyDetectedOccupancyDetected
	}
	if b.sensor.OccupancyDetected.Value() != v {
		b.logger.Debug("occupancy changed", "occupied", occupied)
	}
	b.sensor.OccupancyDetected.SetValue(v)
}

// resolvePin returns the configured setup code, or the stored one, or a new
// random code which is then stored.
func resolvePin(store pinStore, configured string) (string, error) {
	if configured != "" {
		if !validPin(configured) {
			return "", fmt.Errorf("homekit pin %q: must be 8 digits and not trivial", configured)
		}
		return configured, nil
	}
	if d, err := store.Get("serverPin"); err == nil && validPin(string(d)) {
		return string(d), nil
	}
	for {
		pin := fmt.Sprintf("%08d", rand.IntN(100000000))
		if !validPin(pin) {
			continue
		}
		if err := store.Set("serverPin", []byte(pin)); err != nil {
			return "", fmt.Errorf("store homekit pin: %w", err)
		}
		return pin, nil
	}
}

func validPin(pin string) bool {
	if len(pin) != 8 {
		return false
	}
	for _, r := range pin {
		if r < '0' || r > '9' {
			return false
		}
	}
	_, invalid := hap.InvalidPins[pin]
	return !invalid
}
