// Package client implements a headless racing client.
//
// The client performs the following steps:
//  1. Connect to the server over TCP or gRPC.
//  2. Send a ConnectionRequest carrying the client id.
//  3. Receive the GroupAssignment once the group is full. A ProtocolError instead means the handshake was rejected.
//  4. Under fan-out, keep racing over the same connection. Under multicast, close it and join the assigned channel.
//  5. Announce readiness with a PlayerState and send a STEP at position 0.
//  6. Every step interval advance 20, 40 or 60 units, until the finish line is reached and a FINISH is sent.
//  7. Send a Heartbeat every heartbeat interval, independently of the race.
//  8. Track the positions of the other members from their race events.
//  9. Stop when the RaceResult arrives, or when the context ends.
//
// The step sizes come from a generator seeded with the group seed and the
// client id, so a replayed race advances identically.
//
// A client configured with WithResultReporting sends the RaceResult itself
// once it has seen every member of the group finish, ranked in the order the
// FINISH events were observed.
package client
