// Package relay implements the two strategies that distribute gameplay
// messages within a formed group.
//
// FanOut keeps every member's control connection open and runs one handler
// per member, forwarding what it reads to the other members' outbound queues.
//
// MulticastProxy closes the control connections once the assignment is
// delivered, joins the group's multicast channel and re-emits every datagram it
// receives onto the same channel. The payload is re-emitted byte for byte
// before it is decoded for position and heartbeat bookkeeping.
//
// Both preserve the order of messages from a single sender and give no order
// across senders. Neither acknowledges or retransmits.
package relay

import "github.com/sirupsen/logrus"

var logger logrus.FieldLogger = logrus.StandardLogger()
