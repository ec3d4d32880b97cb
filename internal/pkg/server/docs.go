// Package server implements the connection intake of the relay server.
//
// The server performs the following steps:
//  1. Accepts connections on every configured listener (TCP, gRPC, WebSocket).
//  2. On connection with a client, it reads exactly one message, which must be
//     a ConnectionRequest carrying a non-empty client id. Anything else is
//     answered with a ProtocolError and closes that connection only, as does a
//     transport error before it arrives. There is no retry and no read
//     timeout; every connection has its own goroutine.
//  3. Records the client in the liveness table and hands the connection to the
//     group coordinator, which replies with the GroupAssignment once the group
//     fills and starts the relay.
//
// A client id reused on two connections is admitted twice; ids are not
// deduplicated.
package server
