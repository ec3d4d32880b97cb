package server

import "github.com/pkg/errors"

// ErrBadHandshake is returned when the first message of a connection is not a valid ConnectionRequest.
var ErrBadHandshake = errors.New("bad handshake")
