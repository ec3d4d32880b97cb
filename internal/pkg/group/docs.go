// Package group forms fixed-size parties out of handshaken clients.
//
// The coordinator performs the following steps for every admitted client:
//  1. Appends the client to the group currently being filled.
//  2. When the group reaches the party size, allocates its relay channel from
//     the pool slot groupID mod len(pool), so groups whose ids alias the same
//     slot share a physical channel once ids wrap.
//  3. Sends the same GroupAssignment, with a seed taken from the current time,
//     to every member. A member that cannot be reached is logged and skipped.
//  4. Starts the relay for the group.
//  5. Moves on to a new empty group, reusing ids round-robin in [0, max groups).
//
// Steps 1 to 3 and 5 run under a single coordinator-wide lock.
package group
