package group

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"camelrace/internal/pkg/wire"

	"github.com/segmentio/ksuid"
)

// State is the lifecycle state of a Group.
type State int32

// Group lifecycle states.
const (
	StateWaiting State = iota
	StateAssigned
	StateActive
	StateFinished
)

func (s State) String() string {
	switch s {
	case StateWaiting:
		return "WAITING"
	case StateAssigned:
		return "ASSIGNED"
	case StateActive:
		return "ACTIVE"
	case StateFinished:
		return "FINISHED"
	}
	return fmt.Sprintf("STATE(%d)", int32(s))
}

// Channel describes the relay channel allocated to a group.
type Channel struct {
	Slot    int    `json:"slot"`
	Address string `json:"address"`
	Port    int    `json:"port"`
}

func (c Channel) String() string {
	return fmt.Sprintf("%s:%d", c.Address, c.Port)
}

// Group is a party of clients racing together.
//
// ID is recycled once the coordinator wraps around; SessionID is unique for
// the lifetime of the process.
type Group struct {
	ID        int
	SessionID ksuid.KSUID
	Size      int
	CreatedAt time.Time

	mu        sync.RWMutex
	state     State
	channel   Channel
	seed      int64
	members   []*Member
	positions map[string]int
	running   int
}

func newGroup(id, size int, now time.Time) *Group {
	return &Group{
		ID:        id,
		SessionID: ksuid.New(),
		Size:      size,
		CreatedAt: now,
		state:     StateWaiting,
		positions: make(map[string]int),
	}
}

func (g *Group) State() State {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.state
}

func (g *Group) Channel() Channel {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.channel
}

func (g *Group) Seed() int64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.seed
}

// Members returns a copy of the membership list in admission order.
func (g *Group) Members() []*Member {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]*Member(nil), g.members...)
}

// Has reports whether clientID is a member.
func (g *Group) Has(clientID string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, m := range g.members {
		if m.ID == clientID {
			return true
		}
	}
	return false
}

// add appends m and reports whether the group is now full.
func (g *Group) add(m *Member) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.members = append(g.members, m)
	return len(g.members) == g.Size
}

func (g *Group) assign(ch Channel, seed int64) *wire.GroupAssignment {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.state = StateAssigned
	g.channel = ch
	g.seed = seed
	return &wire.GroupAssignment{
		GroupID:      g.ID,
		RelayAddress: ch.Address,
		RelayPort:    ch.Port,
		GroupSize:    g.Size,
		Seed:         seed,
	}
}

// Activate moves an ASSIGNED group to ACTIVE.
func (g *Group) Activate() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state != StateAssigned {
		return false
	}
	g.state = StateActive
	return true
}

// Finish moves the group to FINISHED and reports whether this call did it.
func (g *Group) Finish() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state == StateFinished || g.state == StateWaiting {
		return false
	}
	g.state = StateFinished
	return true
}

// TaskStarted records a running relay task.
func (g *Group) TaskStarted() {
	g.mu.Lock()
	g.running++
	g.mu.Unlock()
}

// TaskEnded records the end of a relay task and reports whether it was the last one.
func (g *Group) TaskEnded() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.running--
	return g.running == 0
}

// Broadcast queues msg for every member except skip, and returns the ids of
// the members it could not be queued for.
func (g *Group) Broadcast(msg wire.Message, skip *Member) []string {
	var failed []string
	for _, m := range g.Members() {
		if m == skip {
			continue
		}
		if err := m.Send(msg); err != nil {
			failed = append(failed, m.ID)
		}
	}
	return failed
}

// UpdatePosition records the position reported by clientID. START resets the
// record to zero; any other event is ignored if it would move the client
// backwards. It reports whether the record changed.
func (g *Group) UpdatePosition(clientID string, event wire.EventKind, pos int) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if event == wire.EventStart {
		g.positions[clientID] = 0
		return true
	}
	if cur, ok := g.positions[clientID]; ok && pos < cur {
		return false
	}
	g.positions[clientID] = pos
	return true
}

// Position returns the last recorded position of clientID.
func (g *Group) Position(clientID string) (int, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	pos, ok := g.positions[clientID]
	return pos, ok
}

// Snapshot is a point-in-time copy of a group, safe to serialise.
type Snapshot struct {
	ID        int            `json:"id"`
	SessionID string         `json:"session_id"`
	State     string         `json:"state"`
	Size      int            `json:"size"`
	Channel   Channel        `json:"channel"`
	Seed      int64          `json:"seed"`
	CreatedAt time.Time      `json:"created_at"`
	Members   []string       `json:"members"`
	Positions map[string]int `json:"positions"`
}

func (g *Group) Snapshot() Snapshot {
	g.mu.RLock()
	defer g.mu.RUnlock()
	s := Snapshot{
		ID:        g.ID,
		SessionID: g.SessionID.String(),
		State:     g.state.String(),
		Size:      g.Size,
		Channel:   g.channel,
		Seed:      g.seed,
		CreatedAt: g.CreatedAt,
		Members:   make([]string, 0, len(g.members)),
		Positions: make(map[string]int, len(g.positions)),
	}
	for _, m := range g.members {
		s.Members = append(s.Members, m.ID)
	}
	for id, pos := range g.positions {
		s.Positions[id] = pos
	}
	return s
}

func sortGroups(groups []*Group) {
	sort.Slice(groups, func(i, j int) bool { return groups[i].ID < groups[j].ID })
}
