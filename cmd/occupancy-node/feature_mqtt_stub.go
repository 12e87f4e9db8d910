//go:build no_mqtt

package main

import (
	"log/slog"

	"occupancy-node/internal/config"
	"occupancy-node/internal/events"
	"occupancy-node/internal/identity"
)

type mqttStopper struct{}

func (m *mqttStopper) Stop() {}

func initMQTT(_ *events.Bus, _ identity.Identity, _ *config.Config, _ *slog.Logger) *mqttStopper {
	return &mqttStopper{}
}
