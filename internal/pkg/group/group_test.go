package group

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"camelrace/internal/pkg/transport/mocks"
	"camelrace/internal/pkg/wire"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type recordingRelay struct {
	mu        sync.Mutex
	started   []*Group
	published []wire.Message
}

func (r *recordingRelay) Start(_ context.Context, g *Group) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = append(r.started, g)
	g.Activate()
	return nil
}

func (r *recordingRelay) Publish(g *Group, msg wire.Message) error {
	r.mu.Lock()
	r.published = append(r.published, msg)
	r.mu.Unlock()
	g.Broadcast(msg, nil)
	return nil
}

// newMockMember returns a member whose sent messages appear on the returned channel.
func newMockMember(t *testing.T, id string) (*Member, chan wire.Message) {
	t.Helper()
	sent := make(chan wire.Message, 16)
	conn := &mocks.Conn{}
	conn.On("Send", mock.Anything).Run(func(args mock.Arguments) {
		sent <- args.Get(0).(wire.Message)
	}).Return(nil)
	conn.On("Close").Return(nil).Maybe()
	conn.On("Transport").Return("tcp").Maybe()
	conn.On("RemoteAddr").Return("127.0.0.1:40000").Maybe()
	m := NewMember(id, conn)
	t.Cleanup(func() { _ = m.Close() })
	return m, sent
}

func receive(t *testing.T, ch chan wire.Message) wire.Message {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
		return nil
	}
}

func TestAdmitFormsGroups(t *testing.T) {
	relay := &recordingRelay{}
	now := time.UnixMilli(1718000000000)
	c, err := NewCoordinator(WithPartySize(2), WithRelay(relay), WithClock(func() time.Time { return now }))
	require.NoError(t, err)

	ctx := context.Background()
	var outs []chan wire.Message
	var ids []int
	for i := 1; i <= 4; i++ {
		m, out := newMockMember(t, fmt.Sprintf("Jugador%d", i))
		id, err := c.Admit(ctx, m)
		require.NoError(t, err)
		ids = append(ids, id)
		outs = append(outs, out)
	}
	require.Equal(t, []int{0, 0, 1, 1}, ids)
	require.Len(t, relay.started, 2)

	a1 := receive(t, outs[0]).(*wire.GroupAssignment)
	a2 := receive(t, outs[1]).(*wire.GroupAssignment)
	require.Equal(t, a1, a2)
	require.Equal(t, &wire.GroupAssignment{
		GroupID: 0, RelayAddress: "239.0.0.1", RelayPort: 6000, GroupSize: 2, Seed: now.UnixMilli(),
	}, a1)

	a3 := receive(t, outs[2]).(*wire.GroupAssignment)
	a4 := receive(t, outs[3]).(*wire.GroupAssignment)
	require.Equal(t, a3, a4)
	require.Equal(t, 1, a3.GroupID)
	require.Equal(t, "239.0.0.2", a3.RelayAddress)
	require.Equal(t, 6001, a3.RelayPort)

	groups := c.Groups()
	require.Len(t, groups, 2)
	require.ElementsMatch(t, []string{"Jugador1", "Jugador2"}, groups[0].Snapshot().Members)
	require.ElementsMatch(t, []string{"Jugador3", "Jugador4"}, groups[1].Snapshot().Members)
	require.Equal(t, StateActive, groups[0].State())
	require.Nil(t, c.Waiting())
}

func TestAdmitMultiplesOfPartySize(t *testing.T) {
	for size := 2; size <= 4; size++ {
		for rounds := 1; rounds <= 3; rounds++ {
			relay := &recordingRelay{}
			c, err := NewCoordinator(WithPartySize(size), WithMaxGroups(100), WithRelay(relay))
			require.NoError(t, err)
			for i := 0; i < size*rounds; i++ {
				m, _ := newMockMember(t, fmt.Sprintf("c%d", i))
				_, err := c.Admit(context.Background(), m)
				require.NoError(t, err)
			}
			require.Len(t, relay.started, rounds)
			for _, g := range c.Groups() {
				members := g.Snapshot().Members
				require.Len(t, members, size)
				seen := map[string]bool{}
				for _, id := range members {
					require.False(t, seen[id])
					seen[id] = true
				}
			}
		}
	}
}

func TestGroupIDsWrapAround(t *testing.T) {
	c, err := NewCoordinator(WithPartySize(2), WithMaxGroups(2))
	require.NoError(t, err)
	var groups []*Group
	for i := 0; i < 6; i++ {
		m, _ := newMockMember(t, fmt.Sprintf("c%d", i))
		_, err := c.Admit(context.Background(), m)
		require.NoError(t, err)
		if i%2 == 1 {
			groups = append(groups, m.Group())
		}
	}
	require.Equal(t, 0, groups[0].ID)
	require.Equal(t, 1, groups[1].ID)
	require.Equal(t, 0, groups[2].ID)
	// same integer id, same channel, different sessions
	require.Equal(t, groups[0].Channel(), groups[2].Channel())
	require.NotEqual(t, groups[0].SessionID, groups[2].SessionID)
	g, err := c.Group(0)
	require.NoError(t, err)
	require.Same(t, groups[2], g)
}

func TestAssignmentSkipsClosedMember(t *testing.T) {
	c, err := NewCoordinator(WithPartySize(3))
	require.NoError(t, err)
	m1, out1 := newMockMember(t, "Jugador1")
	m2, _ := newMockMember(t, "Jugador2")
	m3, out3 := newMockMember(t, "Jugador3")
	require.NoError(t, m2.Close())

	for _, m := range []*Member{m1, m2, m3} {
		_, err := c.Admit(context.Background(), m)
		require.NoError(t, err)
	}
	require.IsType(t, &wire.GroupAssignment{}, receive(t, out1))
	require.IsType(t, &wire.GroupAssignment{}, receive(t, out3))
	require.Equal(t, StateAssigned, m1.Group().State())
}

func TestSameClientIDAdmittedTwice(t *testing.T) {
	c, err := NewCoordinator(WithPartySize(2))
	require.NoError(t, err)
	a, _ := newMockMember(t, "Jugador1")
	b, _ := newMockMember(t, "Jugador1")
	_, err = c.Admit(context.Background(), a)
	require.NoError(t, err)
	_, err = c.Admit(context.Background(), b)
	require.NoError(t, err)
	g := a.Group()
	require.Same(t, g, b.Group())
	require.Equal(t, []string{"Jugador1", "Jugador1"}, g.Snapshot().Members)
	require.Equal(t, StateAssigned, g.State())
}

func TestFinish(t *testing.T) {
	relay := &recordingRelay{}
	c, err := NewCoordinator(WithPartySize(2), WithRelay(relay))
	require.NoError(t, err)
	m1, out1 := newMockMember(t, "Jugador1")
	m2, out2 := newMockMember(t, "Jugador2")
	_, err = c.Admit(context.Background(), m1)
	require.NoError(t, err)
	id, err := c.Admit(context.Background(), m2)
	require.NoError(t, err)
	receive(t, out1)
	receive(t, out2)

	require.ErrorIs(t, c.Finish(context.Background(), 42, nil), ErrGroupNotFound)
	require.NoError(t, c.Finish(context.Background(), id, []string{"Jugador2", "Jugador1"}))
	want := &wire.RaceResult{GroupID: id, Ranking: []string{"Jugador2", "Jugador1"}}
	require.Equal(t, want, receive(t, out1))
	require.Equal(t, want, receive(t, out2))
	require.Equal(t, StateFinished, m1.Group().State())
	require.ErrorIs(t, c.Finish(context.Background(), id, nil), ErrGroupNotActive)
}

func TestConcurrentFinishPublishesOnce(t *testing.T) {
	relay := &recordingRelay{}
	c, err := NewCoordinator(WithPartySize(2), WithRelay(relay))
	require.NoError(t, err)
	m1, out1 := newMockMember(t, "Jugador1")
	m2, out2 := newMockMember(t, "Jugador2")
	_, err = c.Admit(context.Background(), m1)
	require.NoError(t, err)
	id, err := c.Admit(context.Background(), m2)
	require.NoError(t, err)
	receive(t, out1)
	receive(t, out2)

	const callers = 8
	errs := make(chan error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- c.Finish(context.Background(), id, []string{"Jugador1", "Jugador2"})
		}()
	}
	wg.Wait()
	close(errs)

	var ok int
	for err := range errs {
		if err == nil {
			ok++
			continue
		}
		require.ErrorIs(t, err, ErrGroupNotActive)
	}
	require.Equal(t, 1, ok)
	relay.mu.Lock()
	require.Len(t, relay.published, 1)
	relay.mu.Unlock()
	require.IsType(t, &wire.RaceResult{}, receive(t, out1))
	select {
	case msg := <-out1:
		t.Fatalf("second result delivered: %#v", msg)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestStalledMemberIsClosed(t *testing.T) {
	writing := make(chan struct{}, 1)
	unblock := make(chan struct{})
	conn := &mocks.Conn{}
	conn.On("Send", mock.Anything).Run(func(mock.Arguments) {
		select {
		case writing <- struct{}{}:
		default:
		}
		<-unblock
	}).Return(nil)
	conn.On("Close").Return(nil)
	conn.On("Transport").Return("tcp").Maybe()
	conn.On("RemoteAddr").Return("127.0.0.1:40000").Maybe()
	m := NewMember("Jugador1", conn, WithQueueSize(2))
	t.Cleanup(func() { close(unblock) })

	step := &wire.RaceEvent{Event: wire.EventStep, ClientID: "Jugador2", Position: 20}
	require.NoError(t, m.Send(step))
	select {
	case <-writing:
	case <-time.After(2 * time.Second):
		t.Fatal("writer never picked up the first message")
	}
	require.NoError(t, m.Send(step))
	require.NoError(t, m.Send(step))

	start := time.Now()
	require.ErrorIs(t, m.Send(step), ErrMemberStalled)
	require.Less(t, time.Since(start), time.Second)
	select {
	case <-m.Done():
	default:
		t.Fatal("stalled member was not closed")
	}
	require.ErrorIs(t, m.Send(step), ErrMemberClosed)
	conn.AssertCalled(t, "Close")
}

func TestInvalidConfig(t *testing.T) {
	_, err := NewCoordinator(WithPartySize(1))
	require.Error(t, err)
	_, err = NewCoordinator(WithRelayPool(nil, 6000))
	require.Error(t, err)
	_, err = NewCoordinator(WithRelayPool([]string{"not-an-ip"}, 6000))
	require.Error(t, err)
	_, err = NewCoordinator(WithMaxGroups(0))
	require.Error(t, err)
}

func TestUpdatePositionIsMonotonic(t *testing.T) {
	g := newGroup(0, 2, time.Now())
	require.True(t, g.UpdatePosition("Jugador1", wire.EventStep, 20))
	require.True(t, g.UpdatePosition("Jugador1", wire.EventStep, 60))
	require.False(t, g.UpdatePosition("Jugador1", wire.EventFall, 40))
	pos, ok := g.Position("Jugador1")
	require.True(t, ok)
	require.Equal(t, 60, pos)

	require.True(t, g.UpdatePosition("Jugador1", wire.EventStart, 300))
	pos, _ = g.Position("Jugador1")
	require.Equal(t, 0, pos)

	_, ok = g.Position("Jugador9")
	require.False(t, ok)
}

func TestLifecycle(t *testing.T) {
	g := newGroup(0, 2, time.Now())
	require.Equal(t, StateWaiting, g.State())
	require.False(t, g.Activate())
	require.False(t, g.Finish())
	g.assign(Channel{Address: "239.0.0.1", Port: 6000}, 1)
	require.True(t, g.Activate())
	require.False(t, g.Activate())
	g.TaskStarted()
	g.TaskStarted()
	require.False(t, g.TaskEnded())
	require.True(t, g.TaskEnded())
	require.True(t, g.Finish())
	require.False(t, g.Finish())
	require.Equal(t, "FINISHED", g.State().String())
}
