package group

import (
	"context"
	"sync"
	"time"

	"camelrace/internal/pkg/metrics"
	"camelrace/internal/pkg/validate"
	"camelrace/internal/pkg/wire"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var logger logrus.FieldLogger = logrus.StandardLogger()

var tracer = otel.Tracer("camelrace/group")

// Defaults for a Coordinator.
const (
	DefaultPartySize     = 4
	DefaultMaxGroups     = 3
	DefaultRelayBasePort = 6000
)

// DefaultRelayPool is the default set of multicast addresses.
var DefaultRelayPool = []string{"239.0.0.1", "239.0.0.2", "239.0.0.3"}

// Relay distributes messages within a formed group.
type Relay interface {
	// Start begins relaying for g. It must not block for the group's lifetime.
	Start(ctx context.Context, g *Group) error
	// Publish delivers msg to every member of g.
	Publish(g *Group, msg wire.Message) error
}

// Config holds the coordinator settings.
type Config struct {
	PartySize     int      `validate:"min=2"`
	MaxGroups     int      `validate:"min=1"`
	RelayPool     []string `validate:"min=1,dive,ip"`
	RelayBasePort int      `validate:"min=1,max=65535"`
}

// Coordinator assigns members to groups.
type Coordinator struct {
	cfg     Config
	relay   Relay
	metrics *metrics.Metrics
	clock   func() time.Time

	mu      sync.Mutex
	current *Group
	nextID  int
	groups  map[int]*Group
}

// Cfg configures a Coordinator.
type Cfg func(*Coordinator) error

// WithPartySize sets the number of members per group.
func WithPartySize(n int) Cfg {
	return func(c *Coordinator) error {
		c.cfg.PartySize = n
		return nil
	}
}

// WithMaxGroups sets the size of the round-robin group id range.
func WithMaxGroups(n int) Cfg {
	return func(c *Coordinator) error {
		c.cfg.MaxGroups = n
		return nil
	}
}

// WithRelayPool sets the relay addresses and the port of slot zero.
func WithRelayPool(addrs []string, basePort int) Cfg {
	return func(c *Coordinator) error {
		c.cfg.RelayPool = append([]string(nil), addrs...)
		c.cfg.RelayBasePort = basePort
		return nil
	}
}

// WithRelay sets the relay started for every formed group.
func WithRelay(r Relay) Cfg {
	return func(c *Coordinator) error {
		c.relay = r
		return nil
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Cfg {
	return func(c *Coordinator) error {
		c.metrics = m
		return nil
	}
}

// WithClock overrides the time source used for seeds and timestamps.
func WithClock(clock func() time.Time) Cfg {
	return func(c *Coordinator) error {
		if clock == nil {
			return errors.New("nil clock")
		}
		c.clock = clock
		return nil
	}
}

// NewCoordinator creates a new Coordinator with the given configuration.
func NewCoordinator(cfgs ...Cfg) (*Coordinator, error) {
	c := &Coordinator{
		cfg: Config{
			PartySize:     DefaultPartySize,
			MaxGroups:     DefaultMaxGroups,
			RelayPool:     DefaultRelayPool,
			RelayBasePort: DefaultRelayBasePort,
		},
		clock:  time.Now,
		groups: make(map[int]*Group),
	}
	for _, cfg := range cfgs {
		if err := cfg(c); err != nil {
			return nil, errors.Wrap(err, "apply Coordinator cfg failed")
		}
	}
	if err := validate.Validate().Struct(c.cfg); err != nil {
		return nil, errors.Wrap(err, "validate Coordinator cfg failed")
	}
	return c, nil
}

// Config returns the coordinator settings.
func (c *Coordinator) Config() Config {
	return c.cfg
}

func (c *Coordinator) channelFor(groupID int) Channel {
	slot := groupID % len(c.cfg.RelayPool)
	return Channel{
		Slot:    slot,
		Address: c.cfg.RelayPool[slot],
		Port:    c.cfg.RelayBasePort + slot,
	}
}

// Admit places m into the group being filled and returns that group's id.
// The same client id admitted twice is treated as two independent members.
func (c *Coordinator) Admit(ctx context.Context, m *Member) (int, error) {
	ctx, span := tracer.Start(ctx, "group.Admit", trace.WithAttributes(
		attribute.String("client.id", m.ID),
	))
	defer span.End()

	c.mu.Lock()
	if c.current == nil {
		c.current = newGroup(c.nextID, c.cfg.PartySize, c.clock())
	}
	g := c.current
	full := g.add(m)
	m.group = g
	if full {
		assignment := g.assign(c.channelFor(g.ID), c.clock().UnixMilli())
		c.groups[g.ID] = g
		for _, member := range g.Members() {
			if err := member.Send(assignment); err != nil {
				c.metrics.SendFailed()
				logger.WithFields(member.fields()).WithError(err).WithField("group", g.ID).Error("send group assignment failed")
			}
		}
		c.current = nil
		c.nextID = (c.nextID + 1) % c.cfg.MaxGroups
		c.metrics.SetWaiting(0)
	} else {
		c.metrics.SetWaiting(len(g.Members()))
	}
	c.mu.Unlock()

	span.SetAttributes(attribute.Int("group.id", g.ID))
	logger.WithFields(m.fields()).WithField("group", g.ID).Info("client admitted")
	if !full {
		return g.ID, nil
	}

	snap := g.Snapshot()
	logger.WithFields(logrus.Fields{
		"group":   snap.ID,
		"session": snap.SessionID,
		"relay":   snap.Channel.String(),
		"seed":    snap.Seed,
		"members": snap.Members,
	}).Info("group formed")
	c.metrics.GroupFormed()
	span.AddEvent("group formed")

	if c.relay == nil {
		return g.ID, nil
	}
	if err := c.relay.Start(ctx, g); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "start relay failed")
		return g.ID, errors.Wrapf(err, "start relay for group %d failed", g.ID)
	}
	return g.ID, nil
}

// Group returns the most recently formed group registered under id.
func (c *Coordinator) Group(id int) (*Group, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	g, ok := c.groups[id]
	if !ok {
		return nil, ErrGroupNotFound
	}
	return g, nil
}

// Groups returns the formed groups ordered by id.
func (c *Coordinator) Groups() []*Group {
	c.mu.Lock()
	groups := make([]*Group, 0, len(c.groups))
	for _, g := range c.groups {
		groups = append(groups, g)
	}
	c.mu.Unlock()
	sortGroups(groups)
	return groups
}

// Waiting returns the group currently being filled, or nil.
func (c *Coordinator) Waiting() *Group {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Finish delivers a ranking produced outside the relay to every member of the
// group and marks the group FINISHED.
func (c *Coordinator) Finish(ctx context.Context, groupID int, ranking []string) error {
	_, span := tracer.Start(ctx, "group.Finish", trace.WithAttributes(attribute.Int("group.id", groupID)))
	defer span.End()

	g, err := c.Group(groupID)
	if err != nil {
		return err
	}
	// Only the caller that moves the group to FINISHED publishes.
	if !g.Finish() {
		return errors.Wrapf(ErrGroupNotActive, "group %d is %s", groupID, g.State())
	}
	c.metrics.GroupFinished()
	logger.WithFields(logrus.Fields{"group": groupID, "ranking": ranking}).Info("group finished")
	result := &wire.RaceResult{GroupID: groupID, Ranking: append([]string(nil), ranking...)}
	if c.relay != nil {
		if err := c.relay.Publish(g, result); err != nil {
			return errors.Wrap(err, "publish race result failed")
		}
	}
	return nil
}
