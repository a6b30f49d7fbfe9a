package streams

import (
	"sync/atomic"
	"time"

	"github.com/quasar-gfx/QUASAR-client/models"
)

// DefaultDepthHistory is the default number of decoded depth frames kept for
// alignment with the color stream.
const DefaultDepthHistory = 4

// DepthFrame is a dense row-major window depth frame.
type DepthFrame struct {
	ID     models.FrameID
	Width  uint32
	Height uint32
	Data   []float32
}

// DepthFrameDecoder decodes a compressed depth payload into a frame, reusing
// the frame buffer when possible.
type DepthFrameDecoder interface {
	Decode(payload []byte, f *DepthFrame) error
}

// DepthDecoder turns the newest depth packet of a stream into the current
// depth frame. It keeps a short history of decoded frames so the render loop
// can pick the one matching the color frame when it is still around.
type DepthDecoder struct {
	Name string

	decoder  DepthFrameDecoder
	register Register
	history  []*DepthFrame
	scratch  *DepthFrame
	current  *DepthFrame

	frameID      atomic.Uint64
	decoded      atomic.Uint64
	losses       atomic.Uint64
	timeToDecode atomic.Int64
}

// NewDepthDecoder creates a depth decoder keeping up to historySize decoded
// frames. A size lower than 1 uses DefaultDepthHistory.
func NewDepthDecoder(name string, decoder DepthFrameDecoder, historySize int) *DepthDecoder {
	if historySize < 1 {
		historySize = DefaultDepthHistory
	}

	return &DepthDecoder{
		Name:    name,
		decoder: decoder,
		history: make([]*DepthFrame, 0, historySize),
		scratch: &DepthFrame{},
	}
}

// Put parses a tagged packet and stores it as the newest packet.
func (d *DepthDecoder) Put(b []byte) error {
	p, err := ParsePacket(b)
	if err != nil {
		d.losses.Add(1)
		instrumentPacketLoss(d.Name)
		return err
	}

	d.PutPacket(p)
	return nil
}

func (d *DepthDecoder) PutPacket(p Packet) {
	d.register.Put(p)
	instrumentReceivedPacket(d.Name, len(p.Payload))
}

// Draw decodes the newest packet received since the previous call and selects
// the current frame: the frame identified by referenceID when it is in the
// history, the newest decoded frame otherwise. It never blocks nor waits for
// a matching frame. It returns InvalidFrameID until a frame is decoded.
//
// The previously returned frame must not be used after Draw is called again.
func (d *DepthDecoder) Draw(referenceID models.FrameID) models.FrameID {
	if p, ok := d.register.Take(); ok {
		d.decode(p)
	}

	if len(d.history) == 0 {
		return models.InvalidFrameID
	}

	d.current = d.history[len(d.history)-1]
	if referenceID != models.InvalidFrameID {
		for _, f := range d.history {
			if f.ID == referenceID {
				d.current = f
				break
			}
		}
	}

	d.frameID.Store(uint64(d.current.ID))
	return d.current.ID
}

func (d *DepthDecoder) decode(p Packet) {
	start := time.Now()
	if err := d.decoder.Decode(p.Payload, d.scratch); err != nil {
		d.losses.Add(1)
		instrumentPacketLoss(d.Name)
		logPacketLoss(d.Name, p.FrameID, err)
		return
	}
	elapsed := time.Since(start)

	f := d.scratch
	f.ID = p.FrameID

	if len(d.history) < cap(d.history) {
		d.history = append(d.history, f)
		d.scratch = &DepthFrame{}
	} else {
		d.scratch = d.history[0]
		copy(d.history, d.history[1:])
		d.history[len(d.history)-1] = f
	}

	d.decoded.Add(1)
	d.timeToDecode.Store(int64(elapsed))
	instrumentDecode(d.Name, elapsed)
}

// Frame returns the current depth frame, nil before the first decode.
func (d *DepthDecoder) Frame() *DepthFrame {
	return d.current
}

func (d *DepthDecoder) FrameID() models.FrameID {
	return models.FrameID(d.frameID.Load())
}

func (d *DepthDecoder) Stats() Stats {
	return Stats{
		FrameID:      d.FrameID(),
		Received:     d.register.Received(),
		Dropped:      d.register.Drops(),
		Decoded:      d.decoded.Load(),
		PacketLosses: d.losses.Load(),
		TimeToDecode: time.Duration(d.timeToDecode.Load()),
	}
}
