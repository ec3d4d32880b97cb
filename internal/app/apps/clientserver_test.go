package apps

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"testing"
	"time"

	"camelrace/internal/pkg/transport"
	"camelrace/internal/pkg/wire"

	"github.com/stretchr/testify/require"
)

type serverCfg func(*ServerApp) error

func (f serverCfg) ApplyServerApp(app *ServerApp) error { return f(app) }

type clientCfg func(*ClientApp) error

func (f clientCfg) ApplyClientApp(app *ClientApp) error { return f(app) }

func freePort(t *testing.T) uint16 {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	return uint16(ln.Addr().(*net.TCPAddr).Port)
}

func TestNewServerAppValidation(t *testing.T) {
	s, err := NewServerApp()
	require.NoError(t, err)
	require.Equal(t, 4, s.PartySize)
	require.Equal(t, StrategyFanOut, s.RelayStrategy)

	_, err = NewServerApp(serverCfg(func(app *ServerApp) error {
		app.PartySize = 1
		return nil
	}))
	require.Error(t, err)

	_, err = NewServerApp(serverCfg(func(app *ServerApp) error {
		app.RelayStrategy = "broadcast"
		return nil
	}))
	require.Error(t, err)
}

func TestNewClientAppValidation(t *testing.T) {
	_, err := NewClientApp()
	require.Error(t, err, "port is required")

	_, err = NewClientApp(clientCfg(func(app *ClientApp) error {
		app.Port = 5000
		app.Transport = "grpc"
		return nil
	}))
	require.Error(t, err, "grpc port is required for the grpc transport")

	_, err = NewClientApp(clientCfg(func(app *ClientApp) error {
		app.Port = 5000
		app.Transport = "ws"
		return nil
	}))
	require.Error(t, err, "health port is required for the ws transport")

	c, err := NewClientApp(clientCfg(func(app *ClientApp) error {
		app.Port = 5000
		app.Clients = 3
		return nil
	}))
	require.NoError(t, err)
	require.Equal(t, []string{"Jugador1", "Jugador2", "Jugador3"}, c.IDs())

	c.Clients = 1
	c.ClientID = "Camello"
	require.Equal(t, []string{"Camello"}, c.IDs())
	c.ClientID = ""
	require.Len(t, c.IDs(), 1)
	require.NotEmpty(t, c.IDs()[0])
}

type groupsBody struct {
	Groups []struct {
		ID      int      `json:"id"`
		State   string   `json:"state"`
		Members []string `json:"members"`
	} `json:"groups"`
}

func TestServerAndClients(t *testing.T) {
	for _, carrier := range []string{"tcp", "grpc", "ws"} {
		carrier := carrier
		t.Run(carrier, func(t *testing.T) {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			healthPort, grpcPort := freePort(t), freePort(t)
			s, err := NewServerApp(serverCfg(func(app *ServerApp) error {
				app.Port = freePort(t)
				app.PartySize = 2
				app.HealthPort = healthPort
				app.GRPCPort = grpcPort
				return nil
			}))
			require.NoError(t, err)
			done := make(chan error, 1)
			go func() { done <- s.Run(ctx, nil) }()
			select {
			case <-s.Ready():
			case err := <-done:
				t.Fatalf("server stopped early: %v", err)
			case <-time.After(5 * time.Second):
				t.Fatal("server did not start")
			}
			_, portStr, err := net.SplitHostPort(s.ControlAddr())
			require.NoError(t, err)
			port, err := strconv.Atoi(portStr)
			require.NoError(t, err)

			c, err := NewClientApp(clientCfg(func(app *ClientApp) error {
				app.ServerHost = "127.0.0.1"
				app.Port = uint16(port)
				app.GRPCPort = grpcPort
				app.HealthPort = healthPort
				app.Transport = carrier
				app.Clients = 2
				app.StepInterval = time.Millisecond
				app.ReportResult = true
				return nil
			}))
			require.NoError(t, err)
			raceCtx, stop := context.WithTimeout(ctx, 10*time.Second)
			defer stop()
			require.NoError(t, c.Run(raceCtx, nil))
			require.NoError(t, raceCtx.Err(), "clients should stop on the race result")

			url := fmt.Sprintf("http://127.0.0.1:%d/groups", healthPort)
			require.Eventually(t, func() bool {
				resp, err := http.Get(url)
				if err != nil {
					return false
				}
				defer resp.Body.Close()
				var body groupsBody
				if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
					return false
				}
				return len(body.Groups) == 1 && body.Groups[0].State == "FINISHED"
			}, 5*time.Second, 20*time.Millisecond)

			cancel()
			select {
			case err := <-done:
				require.NoError(t, err)
			case <-time.After(10 * time.Second):
				t.Fatal("server did not stop")
			}
		})
	}
}

func TestServerStopsWithPendingConnections(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s, err := NewServerApp(serverCfg(func(app *ServerApp) error {
		app.Port = freePort(t)
		app.PartySize = 2
		app.HealthPort = 0
		return nil
	}))
	require.NoError(t, err)
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, nil) }()
	select {
	case <-s.Ready():
	case <-time.After(5 * time.Second):
		t.Fatal("server did not start")
	}

	// one connection never handshakes, the other waits for a partner
	silent, err := transport.DialTCP(context.Background(), s.ControlAddr())
	require.NoError(t, err)
	defer silent.Close()
	waiting, err := transport.DialTCP(context.Background(), s.ControlAddr())
	require.NoError(t, err)
	defer waiting.Close()
	require.NoError(t, waiting.Send(&wire.ConnectionRequest{ClientID: "Jugador1"}))
	time.Sleep(100 * time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
	_, err = silent.Recv()
	require.Error(t, err)
}
