package cfg

import (
	"camelrace/internal"
	"camelrace/internal/app/apps"

	"github.com/pkg/errors"
)

// RelayCfg is configuration for the relay strategy and its channels.
type RelayCfg struct {
	strategy     string
	pool         []string
	basePort     int
	iface        string
	selfDelivery bool
}

// NewRelayCfg creates a new RelayCfg.
func NewRelayCfg(strategy string, pool []string, basePort int, iface string, selfDelivery bool) *RelayCfg {
	return &RelayCfg{
		strategy:     strategy,
		pool:         pool,
		basePort:     basePort,
		iface:        iface,
		selfDelivery: selfDelivery,
	}
}

// RelayFromEnv creates a new RelayCfg from the current environment.
func RelayFromEnv() *RelayCfg {
	return NewRelayCfg(
		internal.RelayStrategy,
		internal.RelayPool,
		internal.RelayBasePort,
		internal.RelayInterface,
		internal.SelfDelivery,
	)
}

// ApplyServerApp applies the RelayCfg to a ServerApp.
func (cfg RelayCfg) ApplyServerApp(app *apps.ServerApp) error {
	p, err := toPort(cfg.basePort)
	if err != nil {
		return errors.Wrap(err, "invalid relay base port")
	}
	app.RelayStrategy = cfg.strategy
	app.RelayPool = append([]string(nil), cfg.pool...)
	app.RelayBasePort = p
	app.RelayInterface = cfg.iface
	app.SelfDelivery = cfg.selfDelivery
	return nil
}

// ApplyClientApp applies the RelayCfg to a ClientApp. Clients only need to
// know how they will race, the channel itself comes with the assignment.
func (cfg RelayCfg) ApplyClientApp(app *apps.ClientApp) error {
	app.RelayStrategy = cfg.strategy
	app.RelayInterface = cfg.iface
	return nil
}
