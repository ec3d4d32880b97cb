package transport

import (
	"net"
	"sync"

	"camelrace/internal/pkg/wire"

	"github.com/pkg/errors"
)

// PacketConn is the subset of net.PacketConn used by datagram connections.
type PacketConn interface {
	ReadFrom(b []byte) (int, net.Addr, error)
	WriteTo(b []byte, addr net.Addr) (int, error)
	LocalAddr() net.Addr
	Close() error
}

type datagramConn struct {
	recv PacketConn
	send PacketConn
	dst  net.Addr
	buf  []byte

	closeOnce sync.Once
}

// NewDatagramConn returns a Conn that reads datagrams from recv and writes one
// envelope per datagram to dst through send. Datagrams that do not decode are
// logged and skipped.
func NewDatagramConn(recv, send PacketConn, dst net.Addr) Conn {
	return &datagramConn{
		recv: recv,
		send: send,
		dst:  dst,
		buf:  make([]byte, wire.MaxDatagramSize),
	}
}

func (c *datagramConn) Recv() (wire.Message, error) {
	for {
		n, from, err := c.recv.ReadFrom(c.buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil, ErrConnClosed
			}
			return nil, errors.Wrap(err, "read datagram failed")
		}
		msg, err := wire.Unmarshal(c.buf[:n])
		if err != nil {
			logger.WithError(err).WithField("from", from.String()).Warn("drop malformed datagram")
			continue
		}
		return msg, nil
	}
}

func (c *datagramConn) Send(msg wire.Message) error {
	b, err := wire.MarshalDatagram(msg)
	if err != nil {
		return err
	}
	if _, err := c.send.WriteTo(b, c.dst); err != nil {
		return errors.Wrapf(err, "write datagram to %s failed", c.dst)
	}
	return nil
}

func (c *datagramConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.recv.Close()
		if c.send != c.recv {
			if serr := c.send.Close(); err == nil {
				err = serr
			}
		}
	})
	return err
}

func (c *datagramConn) RemoteAddr() string {
	return c.dst.String()
}

func (c *datagramConn) Transport() string {
	return "udp"
}
