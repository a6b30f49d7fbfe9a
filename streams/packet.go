package streams

import (
	"encoding/binary"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/quasar-gfx/QUASAR-client/models"
)

// TagSize is the size of the frame identifier prefixed to every packet.
const TagSize = 8

// ErrTypePacketLoss is the type of the errors returned for packets that
// could not be used. They are counted and the stream carries on.
const ErrTypePacketLoss = "packet_loss"

// Packet is a compressed frame tagged with the identifier of the pose it was
// rendered with.
type Packet struct {
	FrameID models.FrameID
	Payload []byte
}

// TagPacket prefixes a payload with a little endian frame identifier.
func TagPacket(id models.FrameID, payload []byte) []byte {
	b := make([]byte, 0, TagSize+len(payload))
	b = binary.LittleEndian.AppendUint64(b, uint64(id))
	return append(b, payload...)
}

// ParsePacket splits a tagged packet. The payload references b.
func ParsePacket(b []byte) (Packet, error) {
	if len(b) < TagSize {
		return Packet{}, errors.New("packet is shorter than its tag").
			WithType(ErrTypePacketLoss).
			WithTag("size", len(b))
	}

	return Packet{
		FrameID: models.FrameID(binary.LittleEndian.Uint64(b)),
		Payload: b[TagSize:],
	}, nil
}
