//go:build no_homekit

package main

import (
	"context"
	"log/slog"

	"occupancy-node/internal/config"
	"occupancy-node/internal/events"
	"occupancy-node/internal/identity"
)

type homekitStopper struct{}

func (h *homekitStopper) Stop() {}

func initHomeKit(_ context.Context, _ *events.Bus, _ identity.Identity, _ *config.Config, _ *slog.Logger) *homekitStopper {
	return &homekitStopper{}
}
