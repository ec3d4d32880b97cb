package main_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"testing"
	"time"

	"camelrace/internal/app/apps"
	"camelrace/internal/app/cfg"

	"github.com/stretchr/testify/require"
)

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

type snapshot struct {
	ID        int            `json:"id"`
	State     string         `json:"state"`
	Members   []string       `json:"members"`
	Positions map[string]int `json:"positions"`
}

func TestRace(t *testing.T) {
	t.Parallel()
	if testing.Short() {
		t.Skip()
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	port, healthPort := freePort(t), freePort(t)
	s, err := apps.NewServerApp(
		cfg.NewPortCfg(uint16(port), 0),
		cfg.NewHealthPortCfg(healthPort),
		cfg.NewGroupCfg(4, 3),
		cfg.NewRelayCfg(apps.StrategyFanOut, []string{"239.0.0.1", "239.0.0.2", "239.0.0.3"}, 6000, "", false),
		cfg.NewHeartbeatCfg(time.Second, 15*time.Second, 100*time.Millisecond),
	)
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		require.NoError(t, s.Run(ctx, nil))
	}()
	<-s.Ready()

	for i := 1; i <= 4; i++ {
		id := "Jugador" + strconv.Itoa(i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			c, err := apps.NewClientApp(
				cfg.NewPortCfg(uint16(port), 0),
				cfg.NewClientCfg("127.0.0.1", id, 1, "tcp", 5*time.Millisecond, id == "Jugador1"),
				cfg.NewHeartbeatCfg(time.Second, 15*time.Second, 100*time.Millisecond),
			)
			require.NoError(t, err)
			require.NoError(t, c.Run(ctx, nil))
		}()
	}

	base := fmt.Sprintf("http://127.0.0.1:%d", healthPort)
	var snap snapshot
	require.Eventually(t, func() bool {
		resp, err := http.Get(base + "/groups/0")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return false
		}
		if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
			return false
		}
		return snap.State == "FINISHED"
	}, 20*time.Second, 50*time.Millisecond)
	require.ElementsMatch(t, []string{"Jugador1", "Jugador2", "Jugador3", "Jugador4"}, snap.Members)
	require.Len(t, snap.Positions, 4)
	for id, pos := range snap.Positions {
		require.Equal(t, 650, pos, id)
	}

	resp, err := http.Get(base + "/liveness")
	require.NoError(t, err)
	var records []struct {
		ClientID string `json:"client_id"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&records))
	resp.Body.Close()
	require.Len(t, records, 4)

	cancel()
	wg.Wait()
}
