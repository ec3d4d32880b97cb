package client

import (
	"context"
	"fmt"
	"hash/fnv"
	"math/rand"
	"net"
	"sync"
	"time"

	"camelrace/internal/pkg/group"
	"camelrace/internal/pkg/log"
	"camelrace/internal/pkg/relay"
	"camelrace/internal/pkg/transport"
	"camelrace/internal/pkg/wire"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var logger logrus.FieldLogger = logrus.StandardLogger()

// Race defaults.
const (
	FinishLine               = 650
	StepUnit                 = 20
	DefaultHeartbeatInterval = 3 * time.Second
	DefaultStepInterval      = 500 * time.Millisecond
)

// Dialer opens the control connection to the server.
type Dialer func(ctx context.Context, addr string) (transport.Conn, error)

// ChannelJoiner opens the race connection on an assigned multicast channel.
type ChannelJoiner func(address string, port int) (transport.Conn, error)

// JoinMulticast returns a ChannelJoiner subscribing on iface (nil selects the
// system default).
func JoinMulticast(iface *net.Interface) ChannelJoiner {
	open := relay.ListenMulticast(iface)
	return func(address string, port int) (transport.Conn, error) {
		recv, send, err := open(group.Channel{Address: address, Port: port})
		if err != nil {
			return nil, err
		}
		return transport.NewDatagramConn(recv, send, &net.UDPAddr{IP: net.ParseIP(address), Port: port}), nil
	}
}

// Client races as one member of a group.
type Client struct {
	ID string

	serverAddr        string
	dial              Dialer
	join              ChannelJoiner
	heartbeatInterval time.Duration
	stepInterval      time.Duration
	report            bool
	clock             func() time.Time

	assignment *wire.GroupAssignment
	rng        *rand.Rand
	position   int

	mu        sync.Mutex
	positions map[string]int
	finished  []string
	ranking   []string
}

// Cfg configures a Client.
type Cfg func(*Client) error

// WithClientID sets the id announced in the handshake.
func WithClientID(id string) Cfg {
	return func(c *Client) error {
		if id == "" {
			return errors.New("empty client id")
		}
		c.ID = id
		return nil
	}
}

// WithServerAddr sets the server's control channel address.
func WithServerAddr(addr string) Cfg {
	return func(c *Client) error {
		c.serverAddr = addr
		return nil
	}
}

// WithDialer sets how the control connection is opened. It defaults to TCP.
func WithDialer(d Dialer) Cfg {
	return func(c *Client) error {
		c.dial = d
		return nil
	}
}

// WithMulticast makes the client race on the assigned multicast channel
// instead of the control connection.
func WithMulticast(j ChannelJoiner) Cfg {
	return func(c *Client) error {
		c.join = j
		return nil
	}
}

// WithHeartbeatInterval sets the heartbeat interval.
func WithHeartbeatInterval(d time.Duration) Cfg {
	return func(c *Client) error {
		if d <= 0 {
			return errors.New("heartbeat interval must be positive")
		}
		c.heartbeatInterval = d
		return nil
	}
}

// WithStepInterval sets the time between two steps.
func WithStepInterval(d time.Duration) Cfg {
	return func(c *Client) error {
		if d <= 0 {
			return errors.New("step interval must be positive")
		}
		c.stepInterval = d
		return nil
	}
}

// WithResultReporting makes the client send the RaceResult once every member finished.
func WithResultReporting() Cfg {
	return func(c *Client) error {
		c.report = true
		return nil
	}
}

// WithClock overrides the time source used for message timestamps.
func WithClock(clock func() time.Time) Cfg {
	return func(c *Client) error {
		c.clock = clock
		return nil
	}
}

// NewClient creates a new Client with the given configuration.
func NewClient(cfgs ...Cfg) (*Client, error) {
	c := &Client{
		dial:              transport.DialTCP,
		heartbeatInterval: DefaultHeartbeatInterval,
		stepInterval:      DefaultStepInterval,
		clock:             time.Now,
		positions:         make(map[string]int),
	}
	for _, cfg := range cfgs {
		if err := cfg(c); err != nil {
			return nil, errors.Wrap(err, "apply Client cfg failed")
		}
	}
	if c.ID == "" {
		return nil, errors.New("client id is required")
	}
	if c.serverAddr == "" {
		return nil, errors.New("server address is required")
	}
	return c, nil
}

func (c *Client) fields() logrus.Fields {
	f := logrus.Fields{"client": c.ID}
	if c.assignment != nil {
		f["group"] = c.assignment.GroupID
	}
	return f
}

// Assignment returns the group assignment, or nil before the handshake completed.
func (c *Client) Assignment() *wire.GroupAssignment {
	return c.assignment
}

// Positions returns the last known position of every racer, the client included.
func (c *Client) Positions() map[string]int {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]int, len(c.positions))
	for id, pos := range c.positions {
		out[id] = pos
	}
	return out
}

// Ranking returns the race result, or nil while the race is running.
func (c *Client) Ranking() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.ranking...)
}

// Run connects, waits for a group and races until the result arrives or ctx ends.
func (c *Client) Run(ctx context.Context) error {
	conn, err := c.dial(ctx, c.serverAddr)
	if err != nil {
		return errors.Wrapf(err, "connect to %s failed", c.serverAddr)
	}
	if err := c.handshake(ctx, conn); err != nil {
		_ = conn.Close()
		return errors.Wrap(err, "handshake failed")
	}
	race := conn
	if c.join != nil {
		_ = conn.Close()
		race, err = c.join(c.assignment.RelayAddress, c.assignment.RelayPort)
		if err != nil {
			return errors.Wrap(err, "join relay channel failed")
		}
	}
	defer race.Close()
	return c.race(ctx, race)
}

func (c *Client) handshake(ctx context.Context, conn transport.Conn) error {
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()
	if err := conn.Send(&wire.ConnectionRequest{ClientID: c.ID}); err != nil {
		return errors.Wrap(err, "send connection request failed")
	}
	logger.WithFields(c.fields()).Info("waiting for group")
	msg, err := conn.Recv()
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return errors.Wrap(err, "receive group assignment failed")
	}
	switch m := msg.(type) {
	case *wire.GroupAssignment:
		c.assignment = m
	case *wire.ProtocolError:
		return errors.Wrapf(ErrRejected, "code %d: %s", m.Code, m.Detail)
	default:
		return errors.Wrapf(ErrUnexpectedMessage, "got %s", msg.Kind())
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(c.ID))
	c.rng = rand.New(rand.NewSource(c.assignment.Seed ^ int64(h.Sum64()))) // nolint: gosec // race steps need no secure randomness
	c.mu.Lock()
	c.positions[c.ID] = 0
	c.mu.Unlock()
	logger.WithFields(c.fields()).WithFields(logrus.Fields{
		"relay": fmt.Sprintf("%s:%d", c.assignment.RelayAddress, c.assignment.RelayPort),
		"size":  c.assignment.GroupSize,
		"seed":  c.assignment.Seed,
	}).Info("group assigned")
	return nil
}

func (c *Client) race(ctx context.Context, conn transport.Conn) error {
	done := make(chan struct{})
	defer close(done)
	in := make(chan wire.Message)
	errc := make(chan error, 1)
	go func() {
		for {
			msg, err := conn.Recv()
			if err != nil {
				errc <- err
				return
			}
			select {
			case in <- msg:
			case <-done:
				return
			}
		}
	}()

	if err := c.send(conn, &wire.PlayerState{ClientID: c.ID, Ready: true}); err != nil {
		return err
	}
	if err := c.send(conn, c.heartbeat()); err != nil {
		return err
	}
	if err := c.send(conn, c.event(wire.EventStep)); err != nil {
		return err
	}

	heartbeat := time.NewTicker(c.heartbeatInterval)
	defer heartbeat.Stop()
	step := time.NewTicker(c.stepInterval)
	defer step.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-errc:
			if ctx.Err() != nil {
				return nil
			}
			return errors.Wrap(ErrClientDisconnected, err.Error())
		case <-heartbeat.C:
			if err := c.send(conn, c.heartbeat()); err != nil {
				return err
			}
		case <-step.C:
			if c.position >= FinishLine {
				step.Stop()
				continue
			}
			if err := c.advance(conn); err != nil {
				return err
			}
		case msg := <-in:
			if c.handleMessage(msg) {
				return nil
			}
		}
		if result := c.result(); result != nil {
			if err := c.send(conn, result); err != nil {
				return err
			}
			c.setRanking(result.Ranking)
			return nil
		}
	}
}

// advance moves the camel 1 to 3 step units forward.
func (c *Client) advance(conn transport.Conn) error {
	c.position += (c.rng.Intn(3) + 1) * StepUnit
	kind := wire.EventStep
	if c.position >= FinishLine {
		c.position = FinishLine
		kind = wire.EventFinish
	}
	c.mu.Lock()
	c.positions[c.ID] = c.position
	if kind == wire.EventFinish {
		c.finish(c.ID)
	}
	c.mu.Unlock()
	return c.send(conn, c.event(kind))
}

// handleMessage applies msg to the race state and reports whether the race is over.
func (c *Client) handleMessage(msg wire.Message) bool {
	logger.WithFields(c.fields()).WithFields(log.MessageToFields(msg)).Debug("received message")
	switch m := msg.(type) {
	case *wire.RaceEvent:
		if m.ClientID == c.ID {
			return false
		}
		c.mu.Lock()
		c.positions[m.ClientID] = m.Position
		if m.Event == wire.EventFinish {
			c.finish(m.ClientID)
		}
		c.mu.Unlock()
	case *wire.RaceResult:
		c.setRanking(m.Ranking)
		logger.WithFields(c.fields()).WithField("ranking", m.Ranking).Info("race finished")
		return true
	case *wire.ProtocolError:
		logger.WithFields(c.fields()).WithFields(logrus.Fields{"code": m.Code, "detail": m.Detail}).Warn("server reported a protocol error")
	case *wire.Heartbeat, *wire.PlayerState:
	default:
		logger.WithFields(c.fields()).WithField("kind", msg.Kind().String()).Warn("unexpected message during race")
	}
	return false
}

// finish records clientID in finish order. Callers hold c.mu.
func (c *Client) finish(clientID string) {
	for _, id := range c.finished {
		if id == clientID {
			return
		}
	}
	c.finished = append(c.finished, clientID)
}

// result returns the RaceResult to report, if this client reports results and
// every member of the group has finished.
func (c *Client) result() *wire.RaceResult {
	if !c.report {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.finished) < c.assignment.GroupSize {
		return nil
	}
	return &wire.RaceResult{
		GroupID: c.assignment.GroupID,
		Ranking: append([]string(nil), c.finished...),
	}
}

func (c *Client) setRanking(ranking []string) {
	c.mu.Lock()
	c.ranking = append([]string(nil), ranking...)
	c.mu.Unlock()
}

func (c *Client) event(kind wire.EventKind) *wire.RaceEvent {
	return &wire.RaceEvent{
		Event:     kind,
		ClientID:  c.ID,
		Timestamp: wire.Timestamp(c.clock()),
		Position:  c.position,
	}
}

func (c *Client) heartbeat() *wire.Heartbeat {
	return &wire.Heartbeat{ClientID: c.ID, Timestamp: wire.Timestamp(c.clock())}
}

func (c *Client) send(conn transport.Conn, msg wire.Message) error {
	if err := conn.Send(msg); err != nil {
		return errors.Wrapf(err, "send %s failed", msg.Kind())
	}
	logger.WithFields(c.fields()).WithFields(log.MessageToFields(msg)).Debug("sent message")
	return nil
}
