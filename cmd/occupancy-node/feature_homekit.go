//go:build !no_homekit

package main

import (
	"context"
	"log/slog"

	"occupancy-node/internal/config"
	"occupancy-node/internal/events"
	"occupancy-node/internal/homekit"
	"occupancy-node/internal/identity"
)

type homekitStopper struct {
	bridge *homekit.Bridge
}

func (h *homekitStopper) Stop() {
	if h.bridge != nil {
		h.bridge.Stop()
	}
}

func initHomeKit(ctx context.Context, bus *events.Bus, id identity.Identity, cfg *config.Config, logger *slog.Logger) *homekitStopper {
	if !cfg.HomeKit.Enabled {
		return &homekitStopper{}
	}
	bridge, err := homekit.NewBridge(bus, id, homekit.Config{
		StorageDir: cfg.HomeKit.StorageDir,
		Pin:        cfg.HomeKit.Pin,
		Addr:       cfg.HomeKit.Addr,
	}, logger)
	if err != nil {
		logger.Error("homekit bridge", "err", err)
		return &homekitStopper{}
	}
	bridge.Start(ctx)
	return &homekitStopper{bridge: bridge}
}
