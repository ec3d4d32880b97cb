// Package cfg implements functionality to configure an app.
//
// The configuration objects defined here need only be implemented once,
// but can be applied to multiple types.
//
// In order to add support for a new type, the configuration
// need only implement an ApplyX method.
package cfg

import (
	"camelrace/internal"
	"camelrace/internal/app/apps"

	"github.com/pkg/errors"
)

func toPort(p int) (uint16, error) {
	if p < 0 || p > 65535 {
		return 0, errors.Errorf("port %d out of range", p)
	}
	return uint16(p), nil
}

// PortCfg is configuration for the control channel ports.
type PortCfg struct {
	port     uint16
	grpcPort uint16
}

// NewPortCfg creates a new PortCfg from the given config. A zero grpcPort
// disables the gRPC carrier.
func NewPortCfg(port, grpcPort uint16) *PortCfg {
	return &PortCfg{
		port:     port,
		grpcPort: grpcPort,
	}
}

// PortFromEnv creates a new PortCfg from the current environment.
func PortFromEnv() *PortCfg {
	return &PortCfg{
		port:     uint16(internal.Port),
		grpcPort: uint16(internal.GRPCPort),
	}
}

// ApplyClientApp applies the PortCfg to a ClientApp.
func (cfg PortCfg) ApplyClientApp(app *apps.ClientApp) error {
	app.Port = cfg.port
	app.GRPCPort = cfg.grpcPort
	return nil
}

// ApplyServerApp applies the PortCfg to a ServerApp.
func (cfg PortCfg) ApplyServerApp(app *apps.ServerApp) error {
	app.Port = cfg.port
	app.GRPCPort = cfg.grpcPort
	return nil
}

// HealthPortCfg is configuration for the diagnostics port.
type HealthPortCfg struct {
	port int
}

// NewHealthPortCfg creates a new HealthPortCfg. Zero disables diagnostics.
func NewHealthPortCfg(port int) *HealthPortCfg {
	return &HealthPortCfg{port: port}
}

// HealthPortFromEnv creates a new HealthPortCfg from the current environment.
func HealthPortFromEnv() *HealthPortCfg {
	return &HealthPortCfg{port: internal.HealthPort}
}

// ApplyServerApp applies the HealthPortCfg to a ServerApp.
func (cfg HealthPortCfg) ApplyServerApp(app *apps.ServerApp) error {
	p, err := toPort(cfg.port)
	if err != nil {
		return errors.Wrap(err, "invalid health port")
	}
	app.HealthPort = p
	return nil
}

// ApplyClientApp applies the HealthPortCfg to a ClientApp, which dials the
// WebSocket carrier on it.
func (cfg HealthPortCfg) ApplyClientApp(app *apps.ClientApp) error {
	p, err := toPort(cfg.port)
	if err != nil {
		return errors.Wrap(err, "invalid health port")
	}
	app.HealthPort = p
	return nil
}
