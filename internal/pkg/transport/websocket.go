package transport

import (
	"context"
	"net/http"
	"sync"

	"camelrace/internal/pkg/wire"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

// NewWSConn wraps a WebSocket; every binary message carries one envelope.
func NewWSConn(conn *websocket.Conn) Conn {
	return &wsConn{conn: conn}
}

func (c *wsConn) Recv() (wire.Message, error) {
	for {
		typ, b, err := c.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		if typ != websocket.BinaryMessage {
			continue
		}
		return wire.Unmarshal(b)
	}
}

func (c *wsConn) Send(msg wire.Message) error {
	b, err := wire.Marshal(msg)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(websocket.BinaryMessage, b)
}

func (c *wsConn) Close() error {
	c.mu.Lock()
	_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.mu.Unlock()
	return c.conn.Close()
}

func (c *wsConn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

func (c *wsConn) Transport() string {
	return "websocket"
}

// WSListener is an http.Handler upgrading requests to WebSocket Conns.
type WSListener struct {
	upgrader websocket.Upgrader
	addr     string
	conns    chan Conn

	closeOnce sync.Once
	done      chan struct{}
}

// NewWSListener creates a WSListener. addr is only used for reporting.
func NewWSListener(addr string) *WSListener {
	return &WSListener{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  wire.MaxDatagramSize,
			WriteBufferSize: wire.MaxDatagramSize,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		addr:  addr,
		conns: make(chan Conn),
		done:  make(chan struct{}),
	}
}

func (l *WSListener) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	select {
	case <-l.done:
		http.Error(w, "listener closed", http.StatusServiceUnavailable)
		return
	default:
	}
	ws, err := l.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.WithError(err).Warn("websocket upgrade failed")
		return
	}
	c := NewWSConn(ws)
	select {
	case l.conns <- c:
	case <-l.done:
		_ = c.Close()
	case <-r.Context().Done():
		_ = c.Close()
	}
}

// Accept blocks until a WebSocket client connects.
func (l *WSListener) Accept(ctx context.Context) (Conn, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-l.done:
		return nil, ErrListenerClosed
	case c := <-l.conns:
		return c, nil
	}
}

func (l *WSListener) Close() error {
	l.closeOnce.Do(func() { close(l.done) })
	return nil
}

func (l *WSListener) Addr() string {
	return l.addr
}

// DialWS connects to a WebSocket listener at url.
func DialWS(ctx context.Context, url string) (Conn, error) {
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s failed", url)
	}
	return NewWSConn(ws), nil
}
