package gpio

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"
)

// ModemLine selects which modem-status input of a serial adapter carries the
// sensor output.
type ModemLine string

const (
	LineCTS ModemLine = "cts"
	LineDSR ModemLine = "dsr"
	LineDCD ModemLine = "dcd"
	LineRI  ModemLine = "ri"
)

// ParseModemLine validates a modem line name (case-insensitive).
func ParseModemLine(s string) (ModemLine, error) {
	switch ModemLine(strings.ToLower(s)) {
	case LineCTS, "":
		return LineCTS, nil
	case LineDSR:
		return LineDSR, nil
	case LineDCD:
		return LineDCD, nil
	case LineRI:
		return LineRI, nil
	default:
		return "", fmt.Errorf("unknown modem line %q (supported: cts, dsr, dcd, ri)", s)
	}
}

func (m ModemLine) bit(bits *serial.ModemStatusBits) bool {
	switch m {
	case LineDSR:
		return bits.DSR
	case LineDCD:
		return bits.DCD
	case LineRI:
		return bits.RI
	default:
		return bits.CTS
	}
}

// SerialConfig configures a PIR sensor wired to a serial adapter.
type SerialConfig struct {
	Port         string
	Line         ModemLine
	ActiveLow    bool
	PollInterval time.Duration
}

// SerialPin reads a PIR sensor output from a modem-status line of a serial
// port. DTR and RTS are asserted so they can power the sensor.
type SerialPin struct {
	*Line
	port   serial.Port
	poller *poller
}

// OpenSerial opens the port and starts sampling the configured line.
func OpenSerial(cfg SerialConfig, logger *slog.Logger) (*SerialPin, error) {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 20 * time.Millisecond
	}
	port, err := serial.Open(cfg.Port, &serial.Mode{
		BaudRate: 9600,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("gpio: open %s: %w", cfg.Port, err)
	}
	powerSensor(port, logger.With("port", cfg.Port))

	line := NewLine()
	sample := func() (bool, error) {
		bits, err := port.GetModemStatusBits()
		if err != nil {
			return false, err
		}
		return cfg.Line.bit(bits) != cfg.ActiveLow, nil
	}

	p := &SerialPin{
		Line:   line,
		port:   port,
		poller: startPoller(line, sample, cfg.PollInterval, logger.With("port", cfg.Port, "line", string(cfg.Line))),
	}
	return p, nil
}

// controlLines is the part of serial.Port that drives the output lines.
type controlLines interface {
	SetDTR(dtr bool) error
	SetRTS(rts bool) error
}

// powerSensor asserts DTR and RTS. A failure leaves the sensor unpowered,
// which reads as no motion, so it is logged rather than ignored.
func powerSensor(port controlLines, logger *slog.Logger) {
	if err := port.SetDTR(true); err != nil {
		logger.Warn("set DTR", "err", err)
	}
	if err := port.SetRTS(true); err != nil {
		logger.Warn("set RTS", "err", err)
	}
}

// Close stops sampling and releases the port.
func (p *SerialPin) Close() error {
	p.poller.stop()
	return p.port.Close()
}

// poller samples a level source at a fixed interval and feeds a Line.
type poller struct {
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func startPoller(line *Line, sample func() (bool, error), interval time.Duration, logger *slog.Logger) *poller {
	ctx, cancel := context.WithCancel(context.Background())
	p := &poller{cancel: cancel}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		failing := false
		for {
			level, err := sample()
			if err != nil {
				// Unreadable input reads as inactive; log once per streak.
				if !failing {
					logger.Warn("input sample failed", "err", err)
					failing = true
				}
				level = false
			} else if failing {
				logger.Info("input sampling recovered")
				failing = false
			}
			line.Set(level)

			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
	return p
}

func (p *poller) stop() {
	p.cancel()
	p.wg.Wait()
}
