package relay

import (
	"context"
	"net"
	"sync"
	"time"

	"camelrace/internal/pkg/group"
	"camelrace/internal/pkg/metrics"
	"camelrace/internal/pkg/session"
	"camelrace/internal/pkg/transport"
	"camelrace/internal/pkg/wire"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/ipv4"
)

// PacketConn is the subset of net.PacketConn used by the proxy.
type PacketConn = transport.PacketConn

// Opener opens the receive and send sockets of a relay channel.
type Opener func(ch group.Channel) (recv, send PacketConn, err error)

// ListenMulticast returns an Opener joining channels on iface (nil selects the
// system default). Datagrams are emitted with TTL 1 and loopback enabled, so
// clients on the same host see them.
func ListenMulticast(iface *net.Interface) Opener {
	return func(ch group.Channel) (PacketConn, PacketConn, error) {
		ip := net.ParseIP(ch.Address)
		if ip == nil || !ip.IsMulticast() {
			return nil, nil, errors.Errorf("%s is not a multicast address", ch.Address)
		}
		recv, err := net.ListenMulticastUDP("udp4", iface, &net.UDPAddr{IP: ip, Port: ch.Port})
		if err != nil {
			return nil, nil, errors.Wrapf(err, "join %s failed", ch)
		}
		send, err := net.ListenUDP("udp4", &net.UDPAddr{})
		if err != nil {
			_ = recv.Close()
			return nil, nil, errors.Wrap(err, "open send socket failed")
		}
		p := ipv4.NewPacketConn(send)
		if err := p.SetMulticastTTL(1); err != nil {
			logger.WithError(err).Warn("set multicast ttl failed")
		}
		if err := p.SetMulticastLoopback(true); err != nil {
			logger.WithError(err).Warn("enable multicast loopback failed")
		}
		if iface != nil {
			if err := p.SetMulticastInterface(iface); err != nil {
				_ = recv.Close()
				_ = send.Close()
				return nil, nil, errors.Wrapf(err, "set multicast interface %s failed", iface.Name)
			}
		}
		return recv, send, nil
	}
}

// MulticastProxy relays by re-emitting datagrams on the group's multicast channel.
//
// Groups whose ids alias the same pool slot share one proxy: their traffic is
// not separated.
type MulticastProxy struct {
	open    Opener
	store   session.Store
	metrics *metrics.Metrics
	clock   func() time.Time

	mu      sync.Mutex
	proxies map[group.Channel]*proxy
	wg      sync.WaitGroup
}

// MulticastCfg configures a MulticastProxy.
type MulticastCfg func(*MulticastProxy) error

// WithOpener overrides how channel sockets are opened.
func WithOpener(open Opener) MulticastCfg {
	return func(p *MulticastProxy) error {
		if open == nil {
			return errors.New("nil opener")
		}
		p.open = open
		return nil
	}
}

// WithMulticastSessionStore sets the liveness table updated on heartbeats.
func WithMulticastSessionStore(store session.Store) MulticastCfg {
	return func(p *MulticastProxy) error {
		p.store = store
		return nil
	}
}

// WithMulticastMetrics sets the metrics sink.
func WithMulticastMetrics(m *metrics.Metrics) MulticastCfg {
	return func(p *MulticastProxy) error {
		p.metrics = m
		return nil
	}
}

// WithMulticastClock overrides the time source for heartbeat observations.
func WithMulticastClock(clock func() time.Time) MulticastCfg {
	return func(p *MulticastProxy) error {
		p.clock = clock
		return nil
	}
}

// NewMulticastProxy creates a new MulticastProxy.
func NewMulticastProxy(cfgs ...MulticastCfg) (*MulticastProxy, error) {
	p := &MulticastProxy{
		open:    ListenMulticast(nil),
		clock:   time.Now,
		proxies: make(map[group.Channel]*proxy),
	}
	for _, cfg := range cfgs {
		if err := cfg(p); err != nil {
			return nil, errors.Wrap(err, "apply MulticastProxy cfg failed")
		}
	}
	if p.store == nil {
		p.store = session.NewMemoryStore()
	}
	return p, nil
}

// Start closes the members' control connections once their assignment is
// delivered and makes sure the group's channel is being proxied.
func (p *MulticastProxy) Start(ctx context.Context, g *group.Group) error {
	for _, m := range g.Members() {
		m.CloseAfterFlush()
	}
	ch := g.Channel()

	p.mu.Lock()
	defer p.mu.Unlock()
	if px, ok := p.proxies[ch]; ok {
		px.attach(g)
		g.Activate()
		logger.WithFields(logrus.Fields{"group": g.ID, "relay": ch.String()}).Warn("relay channel shared with an earlier group")
		return nil
	}
	recv, send, err := p.open(ch)
	if err != nil {
		return errors.Wrapf(err, "open relay channel %s failed", ch)
	}
	px := &proxy{
		owner: p,
		ch:    ch,
		dst:   &net.UDPAddr{IP: net.ParseIP(ch.Address), Port: ch.Port},
		recv:  recv,
		send:  send,
		self:  localAddrs(),
	}
	px.attach(g)
	p.proxies[ch] = px
	g.Activate()
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		px.serve(ctx)
		p.mu.Lock()
		delete(p.proxies, ch)
		p.mu.Unlock()
	}()
	logger.WithFields(logrus.Fields{"group": g.ID, "relay": ch.String()}).Info("multicast proxy started")
	return nil
}

// Publish emits msg on the group's channel.
func (p *MulticastProxy) Publish(g *group.Group, msg wire.Message) error {
	b, err := wire.MarshalDatagram(msg)
	if err != nil {
		return err
	}
	p.mu.Lock()
	px, ok := p.proxies[g.Channel()]
	p.mu.Unlock()
	if !ok {
		return errors.Errorf("no proxy for group %d", g.ID)
	}
	if _, err := px.send.WriteTo(b, px.dst); err != nil {
		p.metrics.SendFailed()
		return errors.Wrap(err, "write datagram failed")
	}
	p.metrics.Relayed(msg.Kind().String())
	return nil
}

// Wait blocks until every proxy loop has ended.
func (p *MulticastProxy) Wait() {
	p.wg.Wait()
}

type proxy struct {
	owner *MulticastProxy
	ch    group.Channel
	dst   *net.UDPAddr
	recv  PacketConn
	send  PacketConn
	self  []net.IP

	mu     sync.RWMutex
	groups []*group.Group
}

func (px *proxy) attach(g *group.Group) {
	px.mu.Lock()
	px.groups = append(px.groups, g)
	px.mu.Unlock()
}

// groupOf returns the newest attached group clientID belongs to, falling back
// to the newest group.
func (px *proxy) groupOf(clientID string) *group.Group {
	px.mu.RLock()
	defer px.mu.RUnlock()
	for i := len(px.groups) - 1; i >= 0; i-- {
		if px.groups[i].Has(clientID) {
			return px.groups[i]
		}
	}
	if len(px.groups) == 0 {
		return nil
	}
	return px.groups[len(px.groups)-1]
}

func (px *proxy) groupByID(id int) *group.Group {
	px.mu.RLock()
	defer px.mu.RUnlock()
	for i := len(px.groups) - 1; i >= 0; i-- {
		if px.groups[i].ID == id {
			return px.groups[i]
		}
	}
	return nil
}

// fromSelf reports whether src is the proxy's own send socket, whose
// datagrams come back through multicast loopback.
func (px *proxy) fromSelf(src net.Addr) bool {
	udp, ok := src.(*net.UDPAddr)
	if !ok {
		return false
	}
	local, ok := px.send.LocalAddr().(*net.UDPAddr)
	if !ok || udp.Port != local.Port {
		return false
	}
	if local.IP != nil && !local.IP.IsUnspecified() {
		return udp.IP.Equal(local.IP)
	}
	for _, ip := range px.self {
		if udp.IP.Equal(ip) {
			return true
		}
	}
	return false
}

func (px *proxy) fields() logrus.Fields {
	return logrus.Fields{"relay": px.ch.String()}
}

func (px *proxy) serve(ctx context.Context) {
	stop := context.AfterFunc(ctx, func() {
		_ = px.recv.Close()
		_ = px.send.Close()
	})
	defer stop()
	buf := make([]byte, wire.MaxDatagramSize)
	for {
		n, src, err := px.recv.ReadFrom(buf)
		if err != nil {
			if ctx.Err() == nil {
				logger.WithFields(px.fields()).WithError(err).Error("multicast receive failed")
				_ = px.recv.Close()
				_ = px.send.Close()
			}
			return
		}
		if px.fromSelf(src) {
			continue
		}
		payload := append([]byte(nil), buf[:n]...)
		if _, err := px.send.WriteTo(payload, px.dst); err != nil {
			px.owner.metrics.SendFailed()
			logger.WithFields(px.fields()).WithError(err).Warn("re-emit datagram failed")
		}
		px.inspect(payload, src)
	}
}

// inspect updates bookkeeping from a payload that has already been re-emitted.
func (px *proxy) inspect(payload []byte, src net.Addr) {
	msg, err := wire.Unmarshal(payload)
	if err != nil {
		px.owner.metrics.Malformed()
		logger.WithFields(px.fields()).WithField("src", src.String()).WithError(err).Warn("malformed relay payload")
		return
	}
	px.owner.metrics.Relayed(msg.Kind().String())
	switch m := msg.(type) {
	case *wire.RaceEvent:
		if g := px.groupOf(m.ClientID); g != nil {
			g.UpdatePosition(m.ClientID, m.Event, m.Position)
		}
	case *wire.Heartbeat:
		px.owner.store.Touch(m.ClientID, px.owner.clock())
	case *wire.RaceResult:
		if g := px.groupByID(m.GroupID); g != nil && g.Finish() {
			px.owner.metrics.GroupFinished()
			logger.WithFields(px.fields()).WithField("group", g.ID).Info("group finished")
		}
	}
}

func localAddrs() []net.IP {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		logger.WithError(err).Warn("list interface addresses failed")
		return nil
	}
	ips := make([]net.IP, 0, len(addrs))
	for _, a := range addrs {
		if ipnet, ok := a.(*net.IPNet); ok {
			ips = append(ips, ipnet.IP)
		}
	}
	return ips
}
