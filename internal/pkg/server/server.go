package server

import (
	"context"
	"sync"
	"time"

	"camelrace/internal/pkg/group"
	"camelrace/internal/pkg/metrics"
	"camelrace/internal/pkg/session"
	"camelrace/internal/pkg/transport"
	"camelrace/internal/pkg/wire"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var logger logrus.FieldLogger = logrus.StandardLogger()

// acceptRetryDelay throttles the accept loop after an unexpected error.
const acceptRetryDelay = 50 * time.Millisecond

// Server accepts client connections and admits them into groups.
type Server struct {
	coordinator *group.Coordinator
	store       session.Store
	metrics     *metrics.Metrics
	queueSize   int
	clock       func() time.Time

	wg sync.WaitGroup
}

// Cfg configures a Server.
type Cfg func(*Server) error

// WithCoordinator sets the group coordinator.
func WithCoordinator(c *group.Coordinator) Cfg {
	return func(s *Server) error {
		s.coordinator = c
		return nil
	}
}

// WithSessionStore sets the liveness table.
func WithSessionStore(store session.Store) Cfg {
	return func(s *Server) error {
		s.store = store
		return nil
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Cfg {
	return func(s *Server) error {
		s.metrics = m
		return nil
	}
}

// WithQueueSize sets the outbound queue length of every member.
func WithQueueSize(n int) Cfg {
	return func(s *Server) error {
		if n <= 0 {
			return errors.Errorf("invalid queue size %d", n)
		}
		s.queueSize = n
		return nil
	}
}

// NewServer creates a new Server with the given configuration.
func NewServer(cfgs ...Cfg) (*Server, error) {
	server := &Server{
		queueSize: group.DefaultQueueSize,
		clock:     time.Now,
	}
	for _, cfg := range cfgs {
		if err := cfg(server); err != nil {
			return nil, errors.Wrap(err, "apply Server cfg failed")
		}
	}
	if server.coordinator == nil {
		return nil, errors.New("server requires a coordinator")
	}
	if server.store == nil {
		server.store = session.NewMemoryStore()
	}
	return server, nil
}

// Handshake reads the connection request from conn and binds conn to the
// client id it carries. On failure the caller owns conn and must close it.
func (s *Server) Handshake(conn transport.Conn) (*group.Member, error) {
	msg, err := conn.Recv()
	if err != nil {
		return nil, errors.Wrap(err, "receive connection request failed")
	}
	req, ok := msg.(*wire.ConnectionRequest)
	if !ok {
		refuse(conn, "expected "+wire.KindConnectionRequest.String())
		return nil, errors.Wrapf(ErrBadHandshake, "first message is %s", msg.Kind())
	}
	if req.ClientID == "" {
		refuse(conn, "empty client id")
		return nil, errors.Wrap(ErrBadHandshake, "empty client id")
	}
	return group.NewMember(req.ClientID, conn,
		group.WithQueueSize(s.queueSize),
		group.WithMemberMetrics(s.metrics),
	), nil
}

// refuse tells the client why its handshake failed. Delivery is best effort.
func refuse(conn transport.Conn, detail string) {
	reply := &wire.ProtocolError{Code: wire.CodeBadHandshake, Detail: detail}
	if err := conn.Send(reply); err != nil {
		logger.WithError(err).Debug("send protocol error failed")
	}
}

func (s *Server) rejected(conn transport.Conn, err error) {
	s.metrics.HandshakeFailed()
	logger.WithFields(logrus.Fields{
		"remote":    conn.RemoteAddr(),
		"transport": conn.Transport(),
	}).WithError(err).Warn("handshake failed, closing connection")
	_ = conn.Close()
}

func (s *Server) handle(ctx context.Context, conn transport.Conn) {
	logger.WithFields(logrus.Fields{
		"remote":    conn.RemoteAddr(),
		"transport": conn.Transport(),
	}).Info("new connection established")
	// A client that never sends its request must not outlive shutdown.
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	m, err := s.Handshake(conn)
	if !stop() {
		if err == nil {
			_ = m.Close()
		}
		return
	}
	if err != nil {
		s.rejected(conn, err)
		return
	}
	s.store.Touch(m.ID, s.clock())
	if _, err := s.coordinator.Admit(ctx, m); err != nil {
		logger.WithField("client", m.ID).WithError(err).Error("admit client failed")
	}
}

// Serve accepts connections on l until ctx ends or l is closed. Every
// connection is handshaken and admitted on its own goroutine.
func (s *Server) Serve(ctx context.Context, l transport.Listener) error {
	logger.WithField("addr", l.Addr()).Info("accepting connections")
	for {
		conn, err := l.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, transport.ErrListenerClosed) {
				return nil
			}
			logger.WithField("addr", l.Addr()).WithError(err).Warn("accept failed")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(acceptRetryDelay):
			}
			continue
		}
		s.metrics.ConnectionAccepted(conn.Transport())
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handle(ctx, conn)
		}()
	}
}

// Wait blocks until every in-flight handshake has finished. Handshakes still
// pending when the Serve context ends are aborted.
func (s *Server) Wait() {
	s.wg.Wait()
}
