package streams

import (
	"image"
	"sync/atomic"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/quasar-gfx/QUASAR-client/models"
)

// ImageDecoder decodes a compressed color payload.
type ImageDecoder interface {
	Decode(payload []byte) (image.Image, error)
}

// ColorDecoder turns the newest color packet of a stream into the current
// color frame. Packets are put from I/O goroutines; Draw, Frame and FrameID
// are called from the render loop.
type ColorDecoder struct {
	// The stream name, used as metric label.
	Name string

	decoder  ImageDecoder
	register Register
	frame    image.Image

	frameID      atomic.Uint64
	decoded      atomic.Uint64
	losses       atomic.Uint64
	timeToDecode atomic.Int64
}

func NewColorDecoder(name string, decoder ImageDecoder) *ColorDecoder {
	return &ColorDecoder{
		Name:    name,
		decoder: decoder,
	}
}

// Put parses a tagged packet and stores it as the newest packet.
func (d *ColorDecoder) Put(b []byte) error {
	p, err := ParsePacket(b)
	if err != nil {
		d.losses.Add(1)
		instrumentPacketLoss(d.Name)
		return err
	}

	d.PutPacket(p)
	return nil
}

func (d *ColorDecoder) PutPacket(p Packet) {
	d.register.Put(p)
	instrumentReceivedPacket(d.Name, len(p.Payload))
}

// Draw decodes the newest packet received since the previous call and
// returns the identifier of the current frame. It never blocks: when nothing
// arrived, or when the packet is corrupted, the previous frame and its
// identifier are kept.
func (d *ColorDecoder) Draw() models.FrameID {
	p, ok := d.register.Take()
	if !ok {
		return d.FrameID()
	}

	start := time.Now()
	img, err := d.decoder.Decode(p.Payload)
	if err != nil {
		d.losses.Add(1)
		instrumentPacketLoss(d.Name)
		logPacketLoss(d.Name, p.FrameID, err)
		return d.FrameID()
	}
	elapsed := time.Since(start)

	d.frame = img
	d.frameID.Store(uint64(p.FrameID))
	d.decoded.Add(1)
	d.timeToDecode.Store(int64(elapsed))
	instrumentDecode(d.Name, elapsed)
	return p.FrameID
}

// Frame returns the current color frame, nil before the first decode.
func (d *ColorDecoder) Frame() image.Image {
	return d.frame
}

func (d *ColorDecoder) FrameID() models.FrameID {
	return models.FrameID(d.frameID.Load())
}

func (d *ColorDecoder) Stats() Stats {
	return Stats{
		FrameID:      d.FrameID(),
		Received:     d.register.Received(),
		Dropped:      d.register.Drops(),
		Decoded:      d.decoded.Load(),
		PacketLosses: d.losses.Load(),
		TimeToDecode: time.Duration(d.timeToDecode.Load()),
	}
}

func logPacketLoss(stream string, id models.FrameID, err error) {
	logs.Warn(errors.New("decoding packet failed").
		WithType(ErrTypePacketLoss).
		WithTag("stream", stream).
		WithTag("frame_id", id).
		Wrap(err))
}
