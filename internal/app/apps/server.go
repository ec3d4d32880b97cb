package apps

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"camelrace/internal/pkg/diag"
	"camelrace/internal/pkg/group"
	"camelrace/internal/pkg/metrics"
	"camelrace/internal/pkg/monitor"
	"camelrace/internal/pkg/relay"
	"camelrace/internal/pkg/server"
	"camelrace/internal/pkg/session"
	"camelrace/internal/pkg/transport"
	"camelrace/internal/pkg/validate"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
)

var logger logrus.FieldLogger = logrus.StandardLogger()

// Relay strategies.
const (
	StrategyFanOut    = "fanout"
	StrategyMulticast = "multicast"
)

const shutdownTimeout = 5 * time.Second

// ServerAppCfg configures a ServerApp.
type ServerAppCfg interface {
	ApplyServerApp(*ServerApp) error
}

// ServerApp is the camelrace relay server. A zero port binds an ephemeral
// control port; a zero health or gRPC port disables that listener.
type ServerApp struct {
	Port       uint16
	HealthPort uint16
	GRPCPort   uint16

	PartySize      int      `validate:"min=2"`
	MaxGroups      int      `validate:"min=1"`
	RelayPool      []string `validate:"min=1,dive,ip"`
	RelayBasePort  uint16   `validate:"required"`
	RelayStrategy  string   `validate:"oneof=fanout multicast"`
	RelayInterface string
	SelfDelivery   bool

	HeartbeatPeriod  time.Duration `validate:"gt=0"`
	HeartbeatTimeout time.Duration `validate:"gtfield=HeartbeatPeriod"`

	ready       chan struct{}
	controlAddr string
	healthAddr  string
}

// NewServerApp creates a new ServerApp.
func NewServerApp(cfgs ...ServerAppCfg) (*ServerApp, error) {
	app := &ServerApp{
		PartySize:        group.DefaultPartySize,
		MaxGroups:        group.DefaultMaxGroups,
		RelayPool:        group.DefaultRelayPool,
		RelayBasePort:    group.DefaultRelayBasePort,
		RelayStrategy:    StrategyFanOut,
		HeartbeatPeriod:  monitor.DefaultPeriod,
		HeartbeatTimeout: monitor.DefaultTimeout,
		ready:            make(chan struct{}),
	}
	for _, cfg := range cfgs {
		if err := cfg.ApplyServerApp(app); err != nil {
			return nil, errors.Wrap(err, "apply ServerApp cfg failed")
		}
	}
	if err := validate.Validate().Struct(app); err != nil {
		return nil, errors.Wrap(err, "validate ServerApp failed")
	}
	return app, nil
}

// Ready is closed once every listener is bound.
func (app *ServerApp) Ready() <-chan struct{} {
	return app.ready
}

// ControlAddr returns the bound TCP control address. It is set once Ready is closed.
func (app *ServerApp) ControlAddr() string {
	return app.controlAddr
}

// HealthAddr returns the bound diagnostics address, empty when disabled.
// It is set once Ready is closed.
func (app *ServerApp) HealthAddr() string {
	return app.healthAddr
}

// waitingRelay is a relay whose background tasks can be waited for.
type waitingRelay interface {
	group.Relay
	Wait()
}

func (app *ServerApp) newRelay(store session.Store, mt *metrics.Metrics) (waitingRelay, error) {
	if app.RelayStrategy == StrategyMulticast {
		var iface *net.Interface
		if app.RelayInterface != "" {
			var err error
			iface, err = net.InterfaceByName(app.RelayInterface)
			if err != nil {
				return nil, errors.Wrapf(err, "find interface %s failed", app.RelayInterface)
			}
		}
		return relay.NewMulticastProxy(
			relay.WithOpener(relay.ListenMulticast(iface)),
			relay.WithMulticastSessionStore(store),
			relay.WithMulticastMetrics(mt),
		)
	}
	return relay.NewFanOut(
		relay.WithSessionStore(store),
		relay.WithMetrics(mt),
		relay.WithSelfDelivery(app.SelfDelivery),
	)
}

// Run serves until ctx ends.
func (app *ServerApp) Run(ctx context.Context, _ []string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	mt := metrics.New(reg)
	store := session.NewMemoryStore()

	rl, err := app.newRelay(store, mt)
	if err != nil {
		return errors.Wrap(err, "create relay failed")
	}
	coordinator, err := group.NewCoordinator(
		group.WithPartySize(app.PartySize),
		group.WithMaxGroups(app.MaxGroups),
		group.WithRelayPool(app.RelayPool, int(app.RelayBasePort)),
		group.WithRelay(rl),
		group.WithMetrics(mt),
	)
	if err != nil {
		return errors.Wrap(err, "create coordinator failed")
	}
	srv, err := server.NewServer(
		server.WithCoordinator(coordinator),
		server.WithSessionStore(store),
		server.WithMetrics(mt),
	)
	if err != nil {
		return errors.Wrap(err, "create server failed")
	}
	mon, err := monitor.New(store,
		monitor.WithPeriod(app.HeartbeatPeriod),
		monitor.WithTimeout(app.HeartbeatTimeout),
		monitor.WithMetrics(mt),
	)
	if err != nil {
		return errors.Wrap(err, "create monitor failed")
	}

	var listeners []transport.Listener
	defer func() {
		for _, l := range listeners {
			_ = l.Close()
		}
	}()
	tcp, err := transport.ListenTCP(fmt.Sprintf(":%d", app.Port))
	if err != nil {
		return errors.Wrap(err, "listen for control connections failed")
	}
	listeners = append(listeners, tcp)
	app.controlAddr = tcp.Addr()

	if app.GRPCPort != 0 {
		l, err := transport.ListenGRPC(fmt.Sprintf(":%d", app.GRPCPort))
		if err != nil {
			return errors.Wrap(err, "listen for grpc connections failed")
		}
		listeners = append(listeners, l)
	}

	var httpSrv *http.Server
	if app.HealthPort != 0 {
		ln, err := net.Listen("tcp", fmt.Sprintf(":%d", app.HealthPort))
		if err != nil {
			return errors.Wrap(err, "listen for diagnostics failed")
		}
		app.healthAddr = ln.Addr().String()
		ws := transport.NewWSListener(app.healthAddr + "/ws")
		listeners = append(listeners, ws)
		h, err := diag.NewHandler(
			diag.WithCoordinator(coordinator),
			diag.WithSessionStore(store),
			diag.WithGatherer(reg),
			diag.WithWebSocket(ws),
		)
		if err != nil {
			_ = ln.Close()
			return errors.Wrap(err, "create diagnostics handler failed")
		}
		httpSrv = &http.Server{Handler: h, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.WithError(err).Error("diagnostics server stopped")
			}
		}()
	}

	var wg sync.WaitGroup
	for _, l := range listeners {
		wg.Add(1)
		go func(l transport.Listener) {
			defer wg.Done()
			if err := srv.Serve(ctx, l); err != nil {
				logger.WithField("addr", l.Addr()).WithError(err).Error("serve failed")
			}
		}(l)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = mon.Run(ctx)
	}()

	logger.WithFields(logrus.Fields{
		"control":  app.controlAddr,
		"health":   app.healthAddr,
		"strategy": app.RelayStrategy,
		"party":    app.PartySize,
	}).Info("server started")
	close(app.ready)

	<-ctx.Done()
	logger.Info("server shutting down")
	if httpSrv != nil {
		shutdownCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
		defer stop()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Warn("shutdown diagnostics server failed")
		}
	}
	for _, l := range listeners {
		_ = l.Close()
	}
	listeners = nil
	wg.Wait()
	srv.Wait()
	rl.Wait()
	logger.Info("server stopped")
	return nil
}
