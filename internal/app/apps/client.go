package apps

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"camelrace/internal/pkg/client"
	"camelrace/internal/pkg/transport"
	"camelrace/internal/pkg/validate"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// ClientAppCfg configures a ClientApp.
type ClientAppCfg interface {
	ApplyClientApp(*ClientApp) error
}

// ClientApp runs one or more headless racing clients.
type ClientApp struct {
	ServerHost string `validate:"required"`
	Port       uint16 `validate:"required"`
	GRPCPort   uint16 `validate:"required_if=Transport grpc"`
	HealthPort uint16 `validate:"required_if=Transport ws"`
	Transport  string `validate:"oneof=tcp grpc ws"`

	// ClientID is used as is for a single client and as a prefix otherwise.
	ClientID string
	Clients  int `validate:"min=1"`

	RelayStrategy  string `validate:"oneof=fanout multicast"`
	RelayInterface string

	HeartbeatInterval time.Duration `validate:"gt=0"`
	StepInterval      time.Duration `validate:"gt=0"`
	ReportResult      bool
}

// NewClientApp creates a new ClientApp.
func NewClientApp(cfgs ...ClientAppCfg) (*ClientApp, error) {
	app := &ClientApp{
		ServerHost:        "localhost",
		Transport:         "tcp",
		Clients:           1,
		RelayStrategy:     StrategyFanOut,
		HeartbeatInterval: client.DefaultHeartbeatInterval,
		StepInterval:      client.DefaultStepInterval,
	}
	for _, cfg := range cfgs {
		if err := cfg.ApplyClientApp(app); err != nil {
			return nil, errors.Wrap(err, "apply ClientApp cfg failed")
		}
	}
	if err := validate.Validate().Struct(app); err != nil {
		return nil, errors.Wrap(err, "validate ClientApp failed")
	}
	return app, nil
}

// IDs returns the client ids the app races with.
func (app *ClientApp) IDs() []string {
	if app.Clients == 1 {
		if app.ClientID != "" {
			return []string{app.ClientID}
		}
		return []string{"Jugador-" + uuid.NewString()[:8]}
	}
	prefix := app.ClientID
	if prefix == "" {
		prefix = "Jugador"
	}
	ids := make([]string, app.Clients)
	for i := range ids {
		ids[i] = prefix + strconv.Itoa(i+1)
	}
	return ids
}

func (app *ClientApp) newClient(id string) (*client.Client, error) {
	addr := net.JoinHostPort(app.ServerHost, strconv.Itoa(int(app.Port)))
	dial := client.Dialer(transport.DialTCP)
	switch app.Transport {
	case "grpc":
		addr = net.JoinHostPort(app.ServerHost, strconv.Itoa(int(app.GRPCPort)))
		dial = transport.DialGRPC
	case "ws":
		// the WebSocket carrier is served next to diagnostics
		addr = "ws://" + net.JoinHostPort(app.ServerHost, strconv.Itoa(int(app.HealthPort))) + "/ws"
		dial = transport.DialWS
	}
	cfgs := []client.Cfg{
		client.WithClientID(id),
		client.WithServerAddr(addr),
		client.WithDialer(dial),
		client.WithHeartbeatInterval(app.HeartbeatInterval),
		client.WithStepInterval(app.StepInterval),
	}
	if app.RelayStrategy == StrategyMulticast {
		var iface *net.Interface
		if app.RelayInterface != "" {
			var err error
			iface, err = net.InterfaceByName(app.RelayInterface)
			if err != nil {
				return nil, errors.Wrapf(err, "find interface %s failed", app.RelayInterface)
			}
		}
		cfgs = append(cfgs, client.WithMulticast(client.JoinMulticast(iface)))
	}
	if app.ReportResult {
		cfgs = append(cfgs, client.WithResultReporting())
	}
	return client.NewClient(cfgs...)
}

// Run races every client until each of them has the result or ctx ends.
func (app *ClientApp) Run(ctx context.Context, _ []string) error {
	ids := app.IDs()
	clients := make([]*client.Client, len(ids))
	for i, id := range ids {
		c, err := app.newClient(id)
		if err != nil {
			return errors.Wrapf(err, "create client %s failed", id)
		}
		clients[i] = c
	}

	errs := make([]error, len(clients))
	var wg sync.WaitGroup
	for i, c := range clients {
		wg.Add(1)
		go func(i int, c *client.Client) {
			defer wg.Done()
			errs[i] = c.Run(ctx)
		}(i, c)
	}
	wg.Wait()

	for i, c := range clients {
		if errs[i] != nil {
			return errors.Wrapf(errs[i], "run client %s failed", c.ID)
		}
		logger.WithFields(logrus.Fields{
			"client":    c.ID,
			"ranking":   c.Ranking(),
			"positions": fmt.Sprint(c.Positions()),
		}).Info("client completed")
	}
	return nil
}
