package wire

import (
	"io"

	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack/v5"
)

// Version is the envelope version written by this package.
const Version = 1

// MaxDatagramSize bounds the size of a single encoded datagram.
const MaxDatagramSize = 8192

type envelope struct {
	Version uint8              `msgpack:"v"`
	Kind    Kind               `msgpack:"k"`
	Body    msgpack.RawMessage `msgpack:"b"`
}

func newMessage(k Kind) (Message, error) {
	switch k {
	case KindConnectionRequest:
		return &ConnectionRequest{}, nil
	case KindGroupAssignment:
		return &GroupAssignment{}, nil
	case KindRaceEvent:
		return &RaceEvent{}, nil
	case KindHeartbeat:
		return &Heartbeat{}, nil
	case KindRaceResult:
		return &RaceResult{}, nil
	case KindPlayerState:
		return &PlayerState{}, nil
	case KindProtocolError:
		return &ProtocolError{}, nil
	}
	return nil, errors.Wrapf(ErrUnknownKind, "kind %d", uint8(k))
}

func wrap(msg Message) (*envelope, error) {
	if msg == nil {
		return nil, errors.New("nil message")
	}
	if _, ok := kindNames[msg.Kind()]; !ok {
		return nil, errors.Wrapf(ErrUnknownKind, "kind %d", uint8(msg.Kind()))
	}
	body, err := msgpack.Marshal(msg)
	if err != nil {
		return nil, errors.Wrap(err, "marshal body failed")
	}
	return &envelope{Version: Version, Kind: msg.Kind(), Body: body}, nil
}

func unwrap(env *envelope) (Message, error) {
	if env.Version != Version {
		return nil, errors.Wrapf(ErrUnsupportedVersion, "version %d", env.Version)
	}
	msg, err := newMessage(env.Kind)
	if err != nil {
		return nil, err
	}
	if err := msgpack.Unmarshal(env.Body, msg); err != nil {
		return nil, errors.Wrapf(err, "unmarshal %s body failed", env.Kind)
	}
	return msg, nil
}

// Marshal encodes msg into a single envelope.
func Marshal(msg Message) ([]byte, error) {
	env, err := wrap(msg)
	if err != nil {
		return nil, err
	}
	b, err := msgpack.Marshal(env)
	if err != nil {
		return nil, errors.Wrap(err, "marshal envelope failed")
	}
	return b, nil
}

// Unmarshal decodes a single envelope.
func Unmarshal(b []byte) (Message, error) {
	var env envelope
	if err := msgpack.Unmarshal(b, &env); err != nil {
		return nil, errors.Wrap(err, "unmarshal envelope failed")
	}
	return unwrap(&env)
}

// MarshalDatagram encodes msg and checks that it fits in one datagram.
func MarshalDatagram(msg Message) ([]byte, error) {
	b, err := Marshal(msg)
	if err != nil {
		return nil, err
	}
	if len(b) > MaxDatagramSize {
		return nil, errors.Wrapf(ErrDatagramTooLarge, "%d bytes", len(b))
	}
	return b, nil
}

// Encoder writes envelopes to a stream.
type Encoder struct {
	enc *msgpack.Encoder
}

// NewEncoder returns an Encoder writing to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{enc: msgpack.NewEncoder(w)}
}

// Encode writes msg to the stream.
func (e *Encoder) Encode(msg Message) error {
	env, err := wrap(msg)
	if err != nil {
		return err
	}
	return errors.Wrap(e.enc.Encode(env), "encode envelope failed")
}

// Decoder reads envelopes from a stream.
type Decoder struct {
	dec *msgpack.Decoder
}

// NewDecoder returns a Decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{dec: msgpack.NewDecoder(r)}
}

// Decode reads the next message from the stream. Transport errors such as
// io.EOF are returned unwrapped so callers can recognise them.
func (d *Decoder) Decode() (Message, error) {
	var env envelope
	if err := d.dec.Decode(&env); err != nil {
		return nil, err
	}
	return unwrap(&env)
}
