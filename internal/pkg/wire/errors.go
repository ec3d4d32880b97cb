package wire

import "github.com/pkg/errors"

// ErrUnknownKind is returned when an envelope carries a kind this package does not know.
var ErrUnknownKind = errors.New("unknown message kind")

// ErrUnsupportedVersion is returned when an envelope carries a version other than Version.
var ErrUnsupportedVersion = errors.New("unsupported envelope version")

// ErrDatagramTooLarge is returned when an encoded message does not fit in a single datagram.
var ErrDatagramTooLarge = errors.New("message does not fit in a datagram")
