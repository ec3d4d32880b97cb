package cfg

import (
	"time"

	"camelrace/internal"
	"camelrace/internal/app/apps"
)

// GroupCfg is configuration for group formation.
type GroupCfg struct {
	partySize int
	maxGroups int
}

// NewGroupCfg creates a new GroupCfg.
func NewGroupCfg(partySize, maxGroups int) *GroupCfg {
	return &GroupCfg{partySize: partySize, maxGroups: maxGroups}
}

// GroupFromEnv creates a new GroupCfg from the current environment.
func GroupFromEnv() *GroupCfg {
	return &GroupCfg{partySize: internal.PartySize, maxGroups: internal.MaxGroups}
}

// ApplyServerApp applies the GroupCfg to a ServerApp.
func (cfg GroupCfg) ApplyServerApp(app *apps.ServerApp) error {
	app.PartySize = cfg.partySize
	app.MaxGroups = cfg.maxGroups
	return nil
}

// HeartbeatCfg is configuration for liveness tracking.
type HeartbeatCfg struct {
	period   time.Duration
	timeout  time.Duration
	interval time.Duration
}

// NewHeartbeatCfg creates a new HeartbeatCfg. period and timeout drive the
// server's sweeps, interval is how often a client sends a heartbeat.
func NewHeartbeatCfg(period, timeout, interval time.Duration) *HeartbeatCfg {
	return &HeartbeatCfg{period: period, timeout: timeout, interval: interval}
}

// HeartbeatFromEnv creates a new HeartbeatCfg from the current environment.
func HeartbeatFromEnv() *HeartbeatCfg {
	return &HeartbeatCfg{
		period:   internal.HeartbeatPeriod,
		timeout:  internal.HeartbeatTimeout,
		interval: internal.HeartbeatInterval,
	}
}

// ApplyServerApp applies the HeartbeatCfg to a ServerApp.
func (cfg HeartbeatCfg) ApplyServerApp(app *apps.ServerApp) error {
	app.HeartbeatPeriod = cfg.period
	app.HeartbeatTimeout = cfg.timeout
	return nil
}

// ApplyClientApp applies the HeartbeatCfg to a ClientApp.
func (cfg HeartbeatCfg) ApplyClientApp(app *apps.ClientApp) error {
	app.HeartbeatInterval = cfg.interval
	return nil
}
