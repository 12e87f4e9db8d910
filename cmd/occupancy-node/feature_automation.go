//go:build !no_automation

package main

import (
	"log/slog"

	"occupancy-node/internal/automation"
	"occupancy-node/internal/config"
	"occupancy-node/internal/events"
	"occupancy-node/internal/node"
)

type autoStopper struct {
	engine *automation.Engine
}

func (a *autoStopper) Stop() {
	if a.engine != nil {
		a.engine.Stop()
	}
}

func initAutomation(bus *events.Bus, n *node.Node, cfg *config.Config, v *config.Validated, logger *slog.Logger) *autoStopper {
	scriptMgr, err := automation.NewManager(cfg.ScriptsDir, logger)
	if err != nil {
		logger.Error("create script manager", "err", err)
		return &autoStopper{}
	}

	engine := automation.NewEngine(bus, n, n.Identity(), scriptMgr, logger, automation.SystemConfig{
		ExecAllowlist: cfg.Exec.Allowlist,
		ExecTimeout:   v.ExecTimeout,
	})
	engine.Start()
	return &autoStopper{engine: engine}
}
