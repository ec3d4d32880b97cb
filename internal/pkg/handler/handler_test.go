package handler

import (
	"context"
	"net"
	"testing"
	"time"

	"camelrace/internal/pkg/group"
	"camelrace/internal/pkg/session"
	"camelrace/internal/pkg/transport"
	"camelrace/internal/pkg/wire"

	"github.com/stretchr/testify/require"
)

type peer struct {
	member *group.Member
	client transport.Conn
}

func newPair(t *testing.T) (*peer, *peer) {
	t.Helper()
	c, err := group.NewCoordinator(group.WithPartySize(2))
	require.NoError(t, err)
	var peers []*peer
	for _, id := range []string{"Jugador1", "Jugador2"} {
		serverSide, clientSide := net.Pipe()
		p := &peer{
			member: group.NewMember(id, transport.NewStreamConn(serverSide)),
			client: transport.NewStreamConn(clientSide),
		}
		t.Cleanup(func() {
			_ = p.member.Close()
			_ = p.client.Close()
		})
		peers = append(peers, p)
	}
	for _, p := range peers {
		_, err := c.Admit(context.Background(), p.member)
		require.NoError(t, err)
	}
	for _, p := range peers {
		msg, err := p.client.Recv()
		require.NoError(t, err)
		require.IsType(t, &wire.GroupAssignment{}, msg)
	}
	return peers[0], peers[1]
}

func recv(t *testing.T, c transport.Conn) wire.Message {
	t.Helper()
	type result struct {
		msg wire.Message
		err error
	}
	done := make(chan result, 1)
	go func() {
		msg, err := c.Recv()
		done <- result{msg, err}
	}()
	select {
	case r := <-done:
		require.NoError(t, r.err)
		return r.msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
		return nil
	}
}

func TestNewHandlerRequiresMember(t *testing.T) {
	_, err := NewHandler()
	require.Error(t, err)
}

func TestRunRelaysToPeer(t *testing.T) {
	a, b := newPair(t)
	store := session.NewMemoryStore()
	now := time.Unix(1718000000, 0)
	h, err := NewHandler(WithMember(a.member), WithSessionStore(store), WithClock(func() time.Time { return now }))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runErr := make(chan error, 1)
	go func() { runErr <- h.Run(ctx) }()

	step := &wire.RaceEvent{Event: wire.EventStep, ClientID: "Jugador1", Timestamp: 1, Position: 20}
	require.NoError(t, a.client.Send(step))
	require.Equal(t, step, recv(t, b.client))
	pos, ok := a.member.Group().Position("Jugador1")
	require.True(t, ok)
	require.Equal(t, 20, pos)

	hb := &wire.Heartbeat{ClientID: "Jugador1", Timestamp: 2}
	require.NoError(t, a.client.Send(hb))
	require.Equal(t, hb, recv(t, b.client))
	r, err := store.Get("Jugador1")
	require.NoError(t, err)
	require.Equal(t, now, r.LastHeartbeat)

	require.NoError(t, a.client.Send(&wire.ConnectionRequest{ClientID: "Jugador1"}))
	reply := recv(t, a.client).(*wire.ProtocolError)
	require.Equal(t, wire.CodeUnexpectedMessage, reply.Code)

	result := &wire.RaceResult{GroupID: a.member.Group().ID, Ranking: []string{"Jugador1", "Jugador2"}}
	require.NoError(t, a.client.Send(result))
	require.Equal(t, result, recv(t, b.client))
	require.Equal(t, group.StateFinished, a.member.Group().State())

	require.NoError(t, a.client.Close())
	select {
	case err := <-runErr:
		require.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("handler did not stop")
	}
}

func TestRunPreservesSenderOrder(t *testing.T) {
	a, b := newPair(t)
	h, err := NewHandler(WithMember(a.member))
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = h.Run(ctx) }()

	go func() {
		for i := 0; i < 50; i++ {
			_ = a.client.Send(&wire.RaceEvent{Event: wire.EventStep, ClientID: "Jugador1", Position: i * 20})
		}
	}()
	for i := 0; i < 50; i++ {
		ev := recv(t, b.client).(*wire.RaceEvent)
		require.Equal(t, i*20, ev.Position)
	}
}

func TestSelfDelivery(t *testing.T) {
	a, b := newPair(t)
	h, err := NewHandler(WithMember(a.member), WithSelfDelivery(true))
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = h.Run(ctx) }()

	state := &wire.PlayerState{ClientID: "Jugador1", Ready: true}
	require.NoError(t, a.client.Send(state))
	require.Equal(t, state, recv(t, b.client))
	require.Equal(t, state, recv(t, a.client))
}

func TestRunStopsOnCancel(t *testing.T) {
	a, _ := newPair(t)
	h, err := NewHandler(WithMember(a.member))
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, h.Run(ctx), context.Canceled)
}
