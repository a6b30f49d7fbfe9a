package proxy

import (
	"encoding/binary"
	"io"
	"math"
	"os"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/ethereum/go-ethereum/crypto"
)

// DefaultDepthFactor is the default ratio between the depth offsets
// resolution and the macro-quad grid resolution.
const DefaultDepthFactor = 2

// DepthOffsets is a dense row-major residual depth buffer, sampled by the
// mesh reconstruction on a grid finer than the macro-quad one.
type DepthOffsets struct {
	Width  uint32
	Height uint32

	data  []float32
	buf   []byte
	stats Stats
}

// NewDepthOffsets creates a zeroed buffer of the given size.
func NewDepthOffsets(width, height uint32) *DepthOffsets {
	return &DepthOffsets{
		Width:  width,
		Height: height,
		data:   make([]float32, width*height),
	}
}

// LoadFromFile loads a compressed depth offsets file. It returns the number
// of decoded offsets and the number of bytes read.
func (d *DepthOffsets) LoadFromFile(path string) (numOffsets, bytesRead int, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		err = errors.New("reading depth offsets file failed").
			WithTag("path", path).
			WithType(ErrTypeIO).
			Wrap(err)
		instrumentLoadError(depthOffsetsKind, err)
		return 0, 0, err
	}

	numOffsets, err = d.load(data, true)
	if err != nil {
		err = errors.New("loading depth offsets file failed").
			WithTag("path", path).
			WithType(errors.Type(err)).
			Wrap(err)
		return 0, len(data), err
	}
	return numOffsets, len(data), nil
}

// Load loads compressed depth offsets from the given reader.
func (d *DepthOffsets) Load(r io.Reader) (int, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		err = errors.New("reading depth offsets failed").
			WithType(ErrTypeIO).
			Wrap(err)
		instrumentLoadError(depthOffsetsKind, err)
		return 0, err
	}
	return d.load(data, false)
}

func (d *DepthOffsets) load(data []byte, digest bool) (int, error) {
	start := time.Now()
	payload, err := DecompressLimit(data, d.buf[:0], len(d.data)*4)
	if err != nil {
		instrumentLoadError(depthOffsetsKind, err)
		return 0, err
	}
	d.buf = payload
	elapsed := time.Since(start)

	if err := d.set(payload); err != nil {
		instrumentLoadError(depthOffsetsKind, err)
		return 0, err
	}

	d.stats = Stats{
		NumRecords:       len(d.data),
		BytesRead:        len(data),
		TimeToDecompress: elapsed,
	}
	if digest {
		d.stats.Digest = crypto.Keccak256Hash(payload).Hex()
	}
	instrumentLoad(depthOffsetsKind, len(data), elapsed)
	return len(d.data), nil
}

func (d *DepthOffsets) checkSize(payload []byte) error {
	if len(payload) != len(d.data)*4 {
		return errors.New("depth offsets size mismatch").
			WithType(ErrTypeFormat).
			WithTag("expected", len(d.data)*4).
			WithTag("got", len(payload))
	}
	return nil
}

func (d *DepthOffsets) set(payload []byte) error {
	if err := d.checkSize(payload); err != nil {
		return err
	}

	for i := range d.data {
		d.data[i] = math.Float32frombits(binary.LittleEndian.Uint32(payload[i*4:]))
	}
	return nil
}

// At returns the offset at the given texel. Coordinates outside the buffer
// are clipped to its boundary.
func (d *DepthOffsets) At(x, y int) float32 {
	if len(d.data) == 0 {
		return 0
	}

	x = min(max(x, 0), int(d.Width)-1)
	y = min(max(y, 0), int(d.Height)-1)
	return d.data[y*int(d.Width)+x]
}

// Set replaces the offsets. The data length must match the buffer area.
func (d *DepthOffsets) Set(data []float32) error {
	if len(data) != len(d.data) {
		return errors.New("depth offsets size mismatch").
			WithType(ErrTypeFormat).
			WithTag("expected", len(d.data)).
			WithTag("got", len(data))
	}
	copy(d.data, data)
	return nil
}

// Clear zeroes every offset.
func (d *DepthOffsets) Clear() {
	clear(d.data)
}

func (d *DepthOffsets) Data() []float32 {
	return d.data
}

func (d *DepthOffsets) Stats() Stats {
	return d.stats
}
