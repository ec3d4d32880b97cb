package wire

import (
	"fmt"
	"time"
)

// Kind discriminates the message variants carried by an envelope.
type Kind uint8

// Message kinds. The zero value is deliberately invalid.
const (
	KindConnectionRequest Kind = iota + 1
	KindGroupAssignment
	KindRaceEvent
	KindHeartbeat
	KindRaceResult
	KindPlayerState
	KindProtocolError
)

var kindNames = map[Kind]string{
	KindConnectionRequest: "CONNECTION_REQUEST",
	KindGroupAssignment:   "GROUP_ASSIGNMENT",
	KindRaceEvent:         "RACE_EVENT",
	KindHeartbeat:         "HEARTBEAT",
	KindRaceResult:        "RACE_RESULT",
	KindPlayerState:       "PLAYER_STATE",
	KindProtocolError:     "PROTOCOL_ERROR",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("KIND(%d)", uint8(k))
}

// Message is implemented by every wire message.
type Message interface {
	Kind() Kind
}

// EventKind is the type of a RaceEvent.
type EventKind uint8

// Race event kinds.
const (
	EventStart EventKind = iota + 1
	EventStep
	EventFall
	EventFinish
)

func (k EventKind) String() string {
	switch k {
	case EventStart:
		return "START"
	case EventStep:
		return "STEP"
	case EventFall:
		return "FALL"
	case EventFinish:
		return "FINISH"
	}
	return fmt.Sprintf("EVENT(%d)", uint8(k))
}

// ConnectionRequest is the handshake sent by a client on the control channel.
type ConnectionRequest struct {
	ClientID string `msgpack:"client_id"`
}

// GroupAssignment is sent once to every member of a group when it fills.
type GroupAssignment struct {
	GroupID      int    `msgpack:"group_id"`
	RelayAddress string `msgpack:"relay_address"`
	RelayPort    int    `msgpack:"relay_port"`
	GroupSize    int    `msgpack:"group_size"`
	Seed         int64  `msgpack:"seed"`
}

// RaceEvent is a gameplay update. Timestamp is in unix milliseconds and
// Position in distance units.
type RaceEvent struct {
	Event     EventKind `msgpack:"event"`
	ClientID  string    `msgpack:"client_id"`
	Timestamp int64     `msgpack:"ts"`
	Position  int       `msgpack:"pos"`
}

// Heartbeat is a liveness signal. Timestamp is in unix milliseconds.
type Heartbeat struct {
	ClientID  string `msgpack:"client_id"`
	Timestamp int64  `msgpack:"ts"`
}

// RaceResult ends a race. The ranking is produced outside the relay.
type RaceResult struct {
	GroupID int      `msgpack:"group_id"`
	Ranking []string `msgpack:"ranking"`
}

// PlayerState announces whether a client is ready to race.
type PlayerState struct {
	ClientID string `msgpack:"client_id"`
	Ready    bool   `msgpack:"ready"`
}

// ProtocolError tells a client that it broke the protocol.
type ProtocolError struct {
	Code   int    `msgpack:"code"`
	Detail string `msgpack:"detail"`
}

// Protocol error codes.
const (
	CodeBadHandshake      = 1
	CodeUnexpectedMessage = 2
)

func (*ConnectionRequest) Kind() Kind { return KindConnectionRequest }
func (*GroupAssignment) Kind() Kind   { return KindGroupAssignment }
func (*RaceEvent) Kind() Kind         { return KindRaceEvent }
func (*Heartbeat) Kind() Kind         { return KindHeartbeat }
func (*RaceResult) Kind() Kind        { return KindRaceResult }
func (*PlayerState) Kind() Kind       { return KindPlayerState }
func (*ProtocolError) Kind() Kind     { return KindProtocolError }

// Timestamp converts t to the millisecond timestamps used on the wire.
func Timestamp(t time.Time) int64 {
	return t.UnixMilli()
}

// ClientOf returns the client id carried by msg, if any.
func ClientOf(msg Message) (string, bool) {
	switch m := msg.(type) {
	case *ConnectionRequest:
		return m.ClientID, true
	case *RaceEvent:
		return m.ClientID, true
	case *Heartbeat:
		return m.ClientID, true
	case *PlayerState:
		return m.ClientID, true
	}
	return "", false
}
