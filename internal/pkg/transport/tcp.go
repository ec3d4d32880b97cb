package transport

import (
	"bufio"
	"context"
	"net"
	"sync"

	"camelrace/internal/pkg/wire"

	"github.com/pkg/errors"
)

type streamConn struct {
	conn net.Conn
	dec  *wire.Decoder

	mu  sync.Mutex
	w   *bufio.Writer
	enc *wire.Encoder
}

// NewStreamConn wraps a net.Conn with envelope framing.
func NewStreamConn(conn net.Conn) Conn {
	w := bufio.NewWriter(conn)
	return &streamConn{
		conn: conn,
		dec:  wire.NewDecoder(bufio.NewReader(conn)),
		w:    w,
		enc:  wire.NewEncoder(w),
	}
}

func (c *streamConn) Recv() (wire.Message, error) {
	return c.dec.Decode()
}

func (c *streamConn) Send(msg wire.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enc.Encode(msg); err != nil {
		return err
	}
	return errors.Wrap(c.w.Flush(), "flush failed")
}

func (c *streamConn) Close() error {
	return c.conn.Close()
}

func (c *streamConn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

func (c *streamConn) Transport() string {
	return "tcp"
}

// TCPListener accepts framed TCP connections.
type TCPListener struct {
	ln net.Listener
}

// ListenTCP listens on addr.
func ListenTCP(addr string) (*TCPListener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "listen on %s failed", addr)
	}
	return &TCPListener{ln: ln}, nil
}

// Accept blocks until a client connects, the listener is closed or ctx ends.
// Cancelling ctx closes the listener.
func (l *TCPListener) Accept(ctx context.Context) (Conn, error) {
	stop := context.AfterFunc(ctx, func() { _ = l.ln.Close() })
	defer stop()
	conn, err := l.ln.Accept()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, net.ErrClosed) {
			return nil, ErrListenerClosed
		}
		return nil, errors.Wrap(err, "accept failed")
	}
	return NewStreamConn(conn), nil
}

func (l *TCPListener) Close() error {
	return l.ln.Close()
}

func (l *TCPListener) Addr() string {
	return l.ln.Addr().String()
}

// DialTCP connects to a framed TCP server.
func DialTCP(ctx context.Context, addr string) (Conn, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s failed", addr)
	}
	return NewStreamConn(conn), nil
}
