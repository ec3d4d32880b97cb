package monitor

import (
	"context"
	"sync"
	"testing"
	"time"

	"camelrace/internal/pkg/session"

	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestSweepEvictsSilentClients(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1718000000, 0)}
	store := session.NewMemoryStore()
	m, err := New(store,
		WithTimeout(15*time.Second),
		WithClock(clock.Now),
	)
	require.NoError(t, err)

	store.Touch("Jugador1", clock.Now())
	store.Touch("Jugador2", clock.Now())

	// Jugador2 heartbeats just under every period, Jugador1 goes silent
	var evicted []string
	for i := 0; i < 10; i++ {
		clock.Advance(5*time.Second - time.Millisecond)
		store.Touch("Jugador2", clock.Now())
		for _, r := range m.Sweep() {
			evicted = append(evicted, r.ClientID)
		}
	}
	_, err = store.Get("Jugador1")
	require.ErrorIs(t, err, session.ErrSessionNotFound)
	_, err = store.Get("Jugador2")
	require.NoError(t, err)
	require.Equal(t, []string{"Jugador1"}, evicted)
}

func TestSweepKeepsClientAtTimeout(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1718000000, 0)}
	store := session.NewMemoryStore()
	m, err := New(store, WithTimeout(15*time.Second), WithClock(clock.Now))
	require.NoError(t, err)
	store.Touch("Jugador1", clock.Now())

	clock.Advance(15 * time.Second)
	require.Empty(t, m.Sweep())
	clock.Advance(time.Millisecond)
	require.Len(t, m.Sweep(), 1)
}

func TestRun(t *testing.T) {
	store := session.NewMemoryStore()
	store.Touch("Jugador1", time.Now().Add(-time.Hour))
	m, err := New(store, WithPeriod(10*time.Millisecond), WithTimeout(time.Second))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()
	require.Eventually(t, func() bool { return len(store.List()) == 0 }, 2*time.Second, 10*time.Millisecond)
	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
}

func TestInvalidConfig(t *testing.T) {
	_, err := New(nil)
	require.Error(t, err)
	_, err = New(session.NewMemoryStore(), WithPeriod(0))
	require.Error(t, err)
	_, err = New(session.NewMemoryStore(), WithTimeout(-time.Second))
	require.Error(t, err)
}
