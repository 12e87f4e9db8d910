package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/carlmjohnson/versioninfo"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"occupancy-node/internal/config"
	"occupancy-node/internal/console"
	"occupancy-node/internal/events"
	"occupancy-node/internal/gpio"
	"occupancy-node/internal/identity"
	"occupancy-node/internal/link"
	"occupancy-node/internal/metrics"
	"occupancy-node/internal/node"
	"occupancy-node/internal/report"
)

// version is set at build time via -ldflags "-X main.version=..."
var version = "dev"

// firmwareVersion falls back to the module version or VCS revision embedded
// by the Go toolchain when no version was stamped.
func firmwareVersion() string {
	if version != "dev" {
		return version
	}
	if v := versioninfo.Version; v != "" && v != "unknown" && v != "(devel)" {
		return v
	}
	if r := versioninfo.Revision; r != "" && r != "unknown" {
		if len(r) > 12 {
			r = r[:12]
		}
		if versioninfo.DirtyBuild {
			r += "-dirty"
		}
		return r
	}
	return version
}

func main() {
	// Temporary logger for config loading errors.
	bootLogger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	cfgPath := "config.yaml"
	if len(os.Args) > 1 {
		cfgPath = os.Args[1]
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		bootLogger.Error("load config", "err", err)
		os.Exit(1)
	}

	v, err := cfg.Validate()
	if err != nil {
		bootLogger.Error("invalid config", "err", err)
		os.Exit(1)
	}

	version = firmwareVersion()
	os.Exit(run(cfg, v))
}

// run brings the node up and blocks until shutdown. The return value is the
// process exit status; a console reset exits non-zero so the supervisor
// restarts the node.
func run(cfg *config.Config, v *config.Validated) int {
	handler, level := newHandler(cfg)

	// The hub logs through the plain handler only; its own output must not
	// loop back into it.
	hub := console.NewHub(slog.New(handler))
	logger := slog.New(console.Tee(handler, console.NewLogHandler(hub, level)))
	slog.SetDefault(logger)
	logger.Info("occupancy-node starting", "version", version)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var resetRequested atomic.Bool

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)
	bus := events.NewBus(logger)

	pin, err := gpio.OpenSerial(gpio.SerialConfig{
		Port:         v.InputPort,
		Line:         v.InputLine,
		ActiveLow:    v.InputActiveLow,
		PollInterval: v.PollInterval,
	}, logger)
	if err != nil {
		logger.Error("open motion input", "err", err)
		return 1
	}
	defer pin.Close()

	sender, err := report.NewHTTPSender(report.HTTPConfig{
		Endpoint:           v.ReportEndpoint,
		Timeout:            v.ReportTimeout,
		CAFile:             v.CAFile,
		InsecureSkipVerify: v.InsecureSkipVerify,
		UserAgent:          "occupancy-node/" + version,
	})
	if err != nil {
		logger.Error("create report sender", "err", err)
		return 1
	}

	// Start the console before the link comes up so boot logs are visible.
	var consoleServer *console.Server
	var httpServer *http.Server
	if cfg.ConsoleEnabled() {
		var opts []console.ServerOption
		if cfg.Console.APIKey != "" {
			opts = append(opts, console.WithAPIKey(cfg.Console.APIKey))
		}
		if len(cfg.Console.AllowedOrigins) > 0 {
			opts = append(opts, console.WithAllowedOrigins(cfg.Console.AllowedOrigins))
		}
		opts = append(opts,
			console.WithVersion(version),
			console.WithGatherer(reg),
			console.WithResetFunc(func() {
				resetRequested.Store(true)
				cancel()
			}),
		)
		consoleServer = console.NewServer(hub, bus, logger, opts...)

		httpServer = &http.Server{
			Addr:         cfg.Console.Listen,
			Handler:      consoleServer,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  120 * time.Second,
		}
		go func() {
			logger.Info("console starting", "addr", cfg.Console.Listen)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("console server", "err", err)
			}
		}()
	}

	n, err := node.Start(ctx, cfg, version, node.Deps{
		Input:        pin,
		Sender:       sender,
		Link:         link.NewWaiter(v.Interface, logger),
		Joiner:       link.NewJoiner(v.Interface, v.JoinRetry, logger),
		HardwareAddr: identity.FromInterface,
		Bus:          bus,
		Metrics:      m,
		Logger:       logger,
	})
	if err != nil && ctx.Err() == nil {
		logger.Error("start node", "err", err)
		shutdownConsole(httpServer, consoleServer, logger)
		return 1
	}

	var mqtt *mqttStopper
	var hk *homekitStopper
	var auto *autoStopper
	if n != nil {
		if consoleServer != nil {
			consoleServer.SetStatusSource(n)
		}
		// Optional features (no-ops when built with no_mqtt / no_homekit /
		// no_automation).
		mqtt = initMQTT(bus, n.Identity(), cfg, logger)
		hk = initHomeKit(ctx, bus, n.Identity(), cfg, logger)
		auto = initAutomation(bus, n, cfg, v, logger)
	}

	<-ctx.Done()
	logger.Info("shutting down", "reset", resetRequested.Load())

	if n != nil {
		auto.Stop()
		hk.Stop()
		mqtt.Stop()
		n.Wait()
	}
	shutdownConsole(httpServer, consoleServer, logger)

	logger.Info("goodbye")
	if resetRequested.Load() {
		return 1
	}
	return 0
}

func shutdownConsole(httpServer *http.Server, consoleServer *console.Server, logger *slog.Logger) {
	if httpServer == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("console shutdown", "err", err)
	}
	consoleServer.Stop()
}

func newHandler(cfg *config.Config) (slog.Handler, slog.Level) {
	var level slog.Level
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	switch strings.ToLower(cfg.Log.Format) {
	case "json":
		return slog.NewJSONHandler(os.Stdout, opts), level
	default:
		return slog.NewTextHandler(os.Stdout, opts), level
	}
}
