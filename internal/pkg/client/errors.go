package client

import "github.com/pkg/errors"

// ErrRejected indicates that the server refused the handshake.
var ErrRejected = errors.New("handshake rejected")

// ErrUnexpectedMessage indicates that the server answered the handshake with something other than an assignment.
var ErrUnexpectedMessage = errors.New("unexpected message")

// ErrClientDisconnected indicates that the race channel closed before the race result arrived.
var ErrClientDisconnected = errors.New("client disconnected")
