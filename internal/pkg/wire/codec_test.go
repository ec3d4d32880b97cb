package wire

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
)

var messages = []Message{
	&ConnectionRequest{ClientID: "Jugador1"},
	&GroupAssignment{GroupID: 2, RelayAddress: "239.0.0.3", RelayPort: 6002, GroupSize: 4, Seed: 1718000000123},
	&RaceEvent{Event: EventStep, ClientID: "Jugador1", Timestamp: 1718000000456, Position: 20},
	&Heartbeat{ClientID: "Jugador2", Timestamp: 1718000000789},
	&RaceResult{GroupID: 1, Ranking: []string{"Jugador2", "Jugador1"}},
	&PlayerState{ClientID: "Jugador3", Ready: true},
	&ProtocolError{Code: CodeUnexpectedMessage, Detail: "unexpected GROUP_ASSIGNMENT"},
}

func TestRoundTrip(t *testing.T) {
	for _, msg := range messages {
		msg := msg
		t.Run(msg.Kind().String(), func(t *testing.T) {
			b, err := Marshal(msg)
			require.NoError(t, err)
			got, err := Unmarshal(b)
			require.NoError(t, err)
			require.Equal(t, msg, got)
		})
	}
}

func TestStreamPreservesOrder(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf)
	for _, msg := range messages {
		require.NoError(t, enc.Encode(msg))
	}
	dec := NewDecoder(&buf)
	for _, want := range messages {
		got, err := dec.Decode()
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
	_, err := dec.Decode()
	require.ErrorIs(t, err, io.EOF)
}

func TestUnmarshalRejectsUnknownKind(t *testing.T) {
	b, err := msgpack.Marshal(&envelope{Version: Version, Kind: Kind(99), Body: msgpack.RawMessage{0x80}})
	require.NoError(t, err)
	_, err = Unmarshal(b)
	require.True(t, errors.Is(err, ErrUnknownKind))
}

func TestUnmarshalRejectsOtherVersions(t *testing.T) {
	b, err := msgpack.Marshal(&envelope{Version: 7, Kind: KindHeartbeat, Body: msgpack.RawMessage{0x80}})
	require.NoError(t, err)
	_, err = Unmarshal(b)
	require.True(t, errors.Is(err, ErrUnsupportedVersion))
}

func TestUnmarshalGarbage(t *testing.T) {
	_, err := Unmarshal([]byte("not msgpack at all"))
	require.Error(t, err)
}

func TestMarshalDatagramTooLarge(t *testing.T) {
	_, err := MarshalDatagram(&ProtocolError{Detail: strings.Repeat("x", MaxDatagramSize)})
	require.True(t, errors.Is(err, ErrDatagramTooLarge))

	b, err := MarshalDatagram(&Heartbeat{ClientID: "Jugador1"})
	require.NoError(t, err)
	require.Less(t, len(b), MaxDatagramSize)
}

func TestClientOf(t *testing.T) {
	id, ok := ClientOf(&RaceEvent{ClientID: "Jugador4"})
	require.True(t, ok)
	require.Equal(t, "Jugador4", id)

	_, ok = ClientOf(&GroupAssignment{})
	require.False(t, ok)
}
