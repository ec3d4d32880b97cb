// Package transport provides the connections used for the control channel and
// for relaying.
//
// Three interchangeable stream carriers are available: raw TCP, a gRPC
// bidirectional stream and WebSocket. Each of them moves wire envelopes and
// exposes the same Conn interface, so the rest of the server never knows which
// one a client used. Racing clients on a multicast channel use the datagram
// carrier, which exposes the same interface with one envelope per datagram.
package transport

import (
	"context"

	"camelrace/internal/pkg/wire"
)

// Conn is a framed, bidirectional message connection.
//
// Recv must only be called from one goroutine at a time. Send is safe for
// concurrent use, but callers are expected to serialise writes through a
// single writer to keep ordering guarantees.
type Conn interface {
	Recv() (wire.Message, error)
	Send(wire.Message) error
	Close() error
	RemoteAddr() string
	Transport() string
}

// Listener accepts inbound Conns.
type Listener interface {
	Accept(ctx context.Context) (Conn, error)
	Close() error
	Addr() string
}
