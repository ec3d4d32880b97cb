// Package wire defines the messages exchanged between racing clients and the
// relay server, and their encoding.
//
// Every message travels inside an envelope carrying a version tag, the message
// kind and the msgpack-encoded body:
//
//	{"v": 1, "k": <kind>, "b": <body>}
//
// On stream transports envelopes are written back to back; msgpack values are
// self-delimiting so no extra length prefix is needed. On datagram transports
// each datagram carries exactly one envelope.
package wire
