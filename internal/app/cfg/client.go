package cfg

import (
	"time"

	"camelrace/internal"
	"camelrace/internal/app/apps"
)

// ClientCfg is configuration for the racing clients.
type ClientCfg struct {
	host         string
	id           string
	clients      int
	transport    string
	stepInterval time.Duration
	report       bool
}

// NewClientCfg creates a new ClientCfg.
func NewClientCfg(host, id string, clients int, transport string, stepInterval time.Duration, report bool) *ClientCfg {
	return &ClientCfg{
		host:         host,
		id:           id,
		clients:      clients,
		transport:    transport,
		stepInterval: stepInterval,
		report:       report,
	}
}

// ClientFromEnv creates a new ClientCfg from the current environment.
func ClientFromEnv() *ClientCfg {
	return NewClientCfg(
		internal.ServerHost,
		internal.ClientID,
		internal.Clients,
		internal.ClientTransport,
		internal.StepInterval,
		internal.ReportResult,
	)
}

// ApplyClientApp applies the ClientCfg to a ClientApp.
func (cfg ClientCfg) ApplyClientApp(app *apps.ClientApp) error {
	app.ServerHost = cfg.host
	app.ClientID = cfg.id
	app.Clients = cfg.clients
	app.Transport = cfg.transport
	app.StepInterval = cfg.stepInterval
	app.ReportResult = cfg.report
	return nil
}
