package group

import (
	"sync"

	"camelrace/internal/pkg/log"
	"camelrace/internal/pkg/metrics"
	"camelrace/internal/pkg/transport"
	"camelrace/internal/pkg/wire"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// DefaultQueueSize is the default outbound queue length of a member.
const DefaultQueueSize = 64

// Member is a handshaken client connection. Reads happen on the goroutine
// owning the member; writes are queued and performed by a single writer
// goroutine, so frames from concurrent senders never interleave and every
// sender's messages keep their order.
type Member struct {
	ID     string
	ConnID uuid.UUID

	conn    transport.Conn
	out     chan wire.Message
	metrics *metrics.Metrics

	group *Group

	flushOnce sync.Once
	flush     chan struct{}
	closeOnce sync.Once
	done      chan struct{}
}

// MemberCfg configures a Member.
type MemberCfg func(*Member)

// WithQueueSize sets the outbound queue length.
func WithQueueSize(n int) MemberCfg {
	return func(m *Member) {
		if n > 0 {
			m.out = make(chan wire.Message, n)
		}
	}
}

// WithMemberMetrics records write failures.
func WithMemberMetrics(mt *metrics.Metrics) MemberCfg {
	return func(m *Member) {
		m.metrics = mt
	}
}

// NewMember binds conn to clientID and starts its writer.
func NewMember(clientID string, conn transport.Conn, cfgs ...MemberCfg) *Member {
	m := &Member{
		ID:     clientID,
		ConnID: uuid.New(),
		conn:   conn,
		out:    make(chan wire.Message, DefaultQueueSize),
		flush:  make(chan struct{}),
		done:   make(chan struct{}),
	}
	for _, cfg := range cfgs {
		cfg(m)
	}
	go m.writeLoop()
	return m
}

func (m *Member) fields() logrus.Fields {
	return logrus.Fields{
		"client":    m.ID,
		"conn":      m.ConnID.String(),
		"transport": m.conn.Transport(),
		"remote":    m.conn.RemoteAddr(),
	}
}

// Group returns the group the member was admitted to, or nil while unadmitted.
func (m *Member) Group() *Group {
	return m.group
}

// Recv reads the next message from the member's connection.
func (m *Member) Recv() (wire.Message, error) {
	return m.conn.Recv()
}

// Send queues msg for delivery without blocking. A member whose queue is
// full is not keeping up with its group and is closed.
func (m *Member) Send(msg wire.Message) error {
	select {
	case <-m.done:
		return ErrMemberClosed
	default:
	}
	select {
	case m.out <- msg:
		return nil
	case <-m.done:
		return ErrMemberClosed
	default:
	}
	logger.WithFields(m.fields()).WithFields(log.MessageToFields(msg)).Warn("member queue full, closing")
	_ = m.Close()
	return ErrMemberStalled
}

// CloseAfterFlush delivers what is already queued, then closes the connection.
func (m *Member) CloseAfterFlush() {
	m.flushOnce.Do(func() { close(m.flush) })
}

// Close drops queued messages and closes the connection.
func (m *Member) Close() error {
	var err error
	m.closeOnce.Do(func() {
		close(m.done)
		err = m.conn.Close()
	})
	return err
}

// Done is closed once the member is closed.
func (m *Member) Done() <-chan struct{} {
	return m.done
}

func (m *Member) write(msg wire.Message) error {
	if err := m.conn.Send(msg); err != nil {
		m.metrics.SendFailed()
		logger.WithFields(m.fields()).WithFields(log.MessageToFields(msg)).WithError(err).Warn("send to member failed")
		return err
	}
	return nil
}

func (m *Member) writeLoop() {
	defer m.Close()
	for {
		select {
		case <-m.done:
			return
		case msg := <-m.out:
			if err := m.write(msg); err != nil {
				return
			}
		case <-m.flush:
			for {
				select {
				case msg := <-m.out:
					if err := m.write(msg); err != nil {
						return
					}
				default:
					return
				}
			}
		}
	}
}
