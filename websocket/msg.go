package websocket

import (
	"github.com/aukilabs/go-tooling/pkg/errors"
	"golang.org/x/net/websocket"
)

// ErrTypeInvalidMsg is the type of the errors returned for messages that do
// not follow the stream protocol.
const ErrTypeInvalidMsg = "invalid_msg"

// MsgKind identifies the stream a message belongs to.
type MsgKind uint8

const (
	MsgKindColor MsgKind = iota + 1
	MsgKindDepth
	MsgKindProxy
	MsgKindPose
)

func (k MsgKind) String() string {
	switch k {
	case MsgKindColor:
		return "color"
	case MsgKindDepth:
		return "depth"
	case MsgKindProxy:
		return "proxy"
	case MsgKindPose:
		return "pose"
	default:
		return "unknown"
	}
}

// Msg is a binary message of the stream protocol: a kind byte followed by
// the message data. Color, depth and proxy data are tagged packets, pose data
// is a pose message.
type Msg struct {
	Kind MsgKind
	Data []byte
}

// MsgFromBytes parses a binary message. The data references b.
func MsgFromBytes(b []byte) (Msg, error) {
	if len(b) == 0 {
		return Msg{}, errors.New("empty message").
			WithType(ErrTypeInvalidMsg)
	}

	kind := MsgKind(b[0])
	if kind < MsgKindColor || kind > MsgKindPose {
		return Msg{}, errors.New("unknown message kind").
			WithType(ErrTypeInvalidMsg).
			WithTag("kind", b[0])
	}

	return Msg{
		Kind: kind,
		Data: b[1:],
	}, nil
}

func (m Msg) Bytes() []byte {
	b := make([]byte, 0, len(m.Data)+1)
	b = append(b, byte(m.Kind))
	return append(b, m.Data...)
}

func (m Msg) TypeString() string {
	return m.Kind.String()
}

// Receiver receives a message. It returns the number of bytes read.
type Receiver func() (Msg, int, error)

// Sender sends a message. It returns the number of bytes written.
type Sender func(Msg) (int, error)

// NewReceiver returns a receiver reading binary frames from conn.
func NewReceiver(conn *websocket.Conn) Receiver {
	return func() (Msg, int, error) {
		var b []byte
		if err := websocket.Message.Receive(conn, &b); err != nil {
			return Msg{}, 0, err
		}

		msg, err := MsgFromBytes(b)
		return msg, len(b), err
	}
}

// NewSender returns a sender writing binary frames to conn.
func NewSender(conn *websocket.Conn) Sender {
	return func(msg Msg) (int, error) {
		b := msg.Bytes()
		if err := websocket.Message.Send(conn, b); err != nil {
			return 0, err
		}
		return len(b), nil
	}
}
