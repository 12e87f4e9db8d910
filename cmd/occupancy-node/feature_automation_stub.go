//go:build no_automation

package main

import (
	"log/slog"

	"occupancy-node/internal/config"
	"occupancy-node/internal/events"
	"occupancy-node/internal/node"
)

type autoStopper struct{}

func (a *autoStopper) Stop() {}

func initAutomation(_ *events.Bus, _ *node.Node, _ *config.Config, _ *config.Validated, _ *slog.Logger) *autoStopper {
	return &autoStopper{}
}
