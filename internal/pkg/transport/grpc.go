package transport

import (
	"context"
	"net"
	"sync"
	"time"

	"camelrace/internal/pkg/wire"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

var logger logrus.FieldLogger = logrus.StandardLogger()

const connectMethod = "/camelrace.Relay/Connect"

// drainTimeout bounds how long a closing client waits for the server to end
// the stream after the client half-closes it.
const drainTimeout = time.Second

// codec carries wire envelopes as gRPC messages, so the gRPC carrier shares
// the exact encoding of the TCP and datagram carriers.
type codec struct{}

func (codec) Marshal(v interface{}) ([]byte, error) {
	msg, ok := v.(wire.Message)
	if !ok {
		return nil, errors.Errorf("cannot marshal %T", v)
	}
	return wire.Marshal(msg)
}

func (codec) Unmarshal(data []byte, v interface{}) error {
	slot, ok := v.(*wire.Message)
	if !ok {
		return errors.Errorf("cannot unmarshal into %T", v)
	}
	msg, err := wire.Unmarshal(data)
	if err != nil {
		return err
	}
	*slot = msg
	return nil
}

func (codec) Name() string {
	return "camelrace"
}

var relayServiceDesc = grpc.ServiceDesc{
	ServiceName: "camelrace.Relay",
	HandlerType: (*interface{})(nil),
	Streams: []grpc.StreamDesc{
		{
			StreamName: "Connect",
			Handler: func(srv interface{}, stream grpc.ServerStream) error {
				return srv.(*GRPCListener).connect(stream)
			},
			ServerStreams: true,
			ClientStreams: true,
		},
	},
}

type grpcStream interface {
	SendMsg(m interface{}) error
	RecvMsg(m interface{}) error
}

type grpcConn struct {
	stream grpcStream
	remote string

	mu     sync.Mutex
	recvMu sync.Mutex

	closeOnce sync.Once
	closed    chan struct{}
	onClose   func()
}

func (c *grpcConn) Recv() (wire.Message, error) {
	c.recvMu.Lock()
	defer c.recvMu.Unlock()
	var msg wire.Message
	if err := c.stream.RecvMsg(&msg); err != nil {
		return nil, err
	}
	return msg, nil
}

func (c *grpcConn) Send(msg wire.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	select {
	case <-c.closed:
		return ErrConnClosed
	default:
	}
	return c.stream.SendMsg(msg)
}

// drain reads until the peer ends the stream or timeout expires. A pending
// Recv holds recvMu until it sees the end of the stream as well.
func (c *grpcConn) drain(timeout time.Duration) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.recvMu.Lock()
		defer c.recvMu.Unlock()
		var msg wire.Message
		for c.stream.RecvMsg(&msg) == nil {
		}
	}()
	select {
	case <-done:
	case <-time.After(timeout):
	}
}

func (c *grpcConn) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
		if c.onClose != nil {
			c.onClose()
		}
	})
	return nil
}

func (c *grpcConn) RemoteAddr() string {
	return c.remote
}

func (c *grpcConn) Transport() string {
	return "grpc"
}

// GRPCListener serves the Connect stream and hands every new stream out as a Conn.
type GRPCListener struct {
	ln    net.Listener
	srv   *grpc.Server
	conns chan *grpcConn

	closeOnce sync.Once
	done      chan struct{}
}

// ListenGRPC starts a gRPC server on addr.
func ListenGRPC(addr string, opts ...grpc.ServerOption) (*GRPCListener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "listen on %s failed", addr)
	}
	l := &GRPCListener{
		ln:    ln,
		conns: make(chan *grpcConn),
		done:  make(chan struct{}),
	}
	l.srv = grpc.NewServer(append([]grpc.ServerOption{grpc.ForceServerCodec(codec{})}, opts...)...)
	l.srv.RegisterService(&relayServiceDesc, l)
	go func() {
		if err := l.srv.Serve(ln); err != nil {
			logger.WithError(err).Warn("grpc server stopped")
		}
	}()
	return l, nil
}

// connect blocks for the lifetime of the stream: returning from the handler
// ends the stream, so it only returns once the Conn is closed.
func (l *GRPCListener) connect(stream grpc.ServerStream) error {
	c := &grpcConn{
		stream: stream,
		closed: make(chan struct{}),
	}
	if p, ok := peer.FromContext(stream.Context()); ok {
		c.remote = p.Addr.String()
	}
	select {
	case l.conns <- c:
	case <-l.done:
		return status.Error(codes.Unavailable, "listener closed")
	case <-stream.Context().Done():
		return stream.Context().Err()
	}
	select {
	case <-c.closed:
	case <-l.done:
	}
	return nil
}

// Accept blocks until a client opens a Connect stream.
func (l *GRPCListener) Accept(ctx context.Context) (Conn, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-l.done:
		return nil, ErrListenerClosed
	case c := <-l.conns:
		return c, nil
	}
}

func (l *GRPCListener) Close() error {
	l.closeOnce.Do(func() {
		close(l.done)
		l.srv.Stop()
	})
	return nil
}

func (l *GRPCListener) Addr() string {
	return l.ln.Addr().String()
}

// DialGRPC opens a Connect stream to addr.
func DialGRPC(ctx context.Context, addr string) (Conn, error) {
	cc, err := grpc.DialContext(ctx, addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(codec{})),
	)
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s failed", addr)
	}
	streamCtx, cancel := context.WithCancel(context.Background())
	stream, err := cc.NewStream(streamCtx, &relayServiceDesc.Streams[0], connectMethod)
	if err != nil {
		cancel()
		_ = cc.Close()
		return nil, errors.Wrap(err, "open connect stream failed")
	}
	c := &grpcConn{
		stream: stream,
		remote: addr,
		closed: make(chan struct{}),
	}
	// Half-close first so messages already handed to SendMsg reach the
	// server before the stream is cancelled.
	c.onClose = func() {
		c.mu.Lock()
		err := stream.CloseSend()
		c.mu.Unlock()
		if err == nil {
			c.drain(drainTimeout)
		}
		cancel()
		_ = cc.Close()
	}
	return c, nil
}
