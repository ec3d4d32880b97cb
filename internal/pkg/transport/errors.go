package transport

import "github.com/pkg/errors"

// ErrListenerClosed is returned by Accept once the listener is closed.
var ErrListenerClosed = errors.New("listener closed")

// ErrConnClosed is returned when using a Conn that has been closed locally.
var ErrConnClosed = errors.New("connection closed")
