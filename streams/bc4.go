package streams

import (
	"encoding/binary"
	"math"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/klauspost/compress/zstd"
)

const (
	bc4BlockDim     = 4
	bc4BlockSize    = 16
	bc4HeaderSize   = 8
	bc4Levels       = 7
	bc4IndexBits    = 3
	bc4MaxFrameSide = 1 << 14

	bc4MaxPayloadSize = bc4HeaderSize + (bc4MaxFrameSide/bc4BlockDim)*(bc4MaxFrameSide/bc4BlockDim)*bc4BlockSize
)

// BC4Codec encodes and decodes depth frames as zstd compressed BC4 style
// blocks. A payload decompresses to a little endian width and height followed
// by one 16 bytes block per 4x4 texels:
//
//	bytes 0..3   max depth float32
//	bytes 4..7   min depth float32
//	bytes 8..15  16 texel indices of 3 bits, row-major from the block origin
//
// A texel value is min + (max - min) * index / 7.
//
// Decode is not safe for concurrent use.
type BC4Codec struct {
	decoder *zstd.Decoder
	encoder *zstd.Encoder
	buf     []byte
}

func NewBC4Codec() (*BC4Codec, error) {
	decoder, err := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(bc4MaxPayloadSize))
	if err != nil {
		return nil, errors.New("creating zstd decoder failed").Wrap(err)
	}

	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		return nil, errors.New("creating zstd encoder failed").Wrap(err)
	}

	return &BC4Codec{
		decoder: decoder,
		encoder: encoder,
	}, nil
}

// Encode compresses a row-major window depth frame.
func (c *BC4Codec) Encode(width, height uint32, depth []float32) ([]byte, error) {
	if len(depth) != int(width*height) {
		return nil, errors.New("depth frame size mismatch").
			WithTag("expected", width*height).
			WithTag("got", len(depth))
	}

	bw, bh := bc4Blocks(width, height)
	raw := make([]byte, 0, bc4HeaderSize+bw*bh*bc4BlockSize)
	raw = binary.LittleEndian.AppendUint32(raw, width)
	raw = binary.LittleEndian.AppendUint32(raw, height)

	var texels [bc4BlockDim * bc4BlockDim]float32
	for by := 0; by < bh; by++ {
		for bx := 0; bx < bw; bx++ {
			minDepth := float32(math.MaxFloat32)
			maxDepth := float32(-math.MaxFloat32)

			for i := range texels {
				x := min(bx*bc4BlockDim+i%bc4BlockDim, int(width)-1)
				y := min(by*bc4BlockDim+i/bc4BlockDim, int(height)-1)
				v := depth[y*int(width)+x]

				texels[i] = v
				minDepth = min(minDepth, v)
				maxDepth = max(maxDepth, v)
			}

			var indices uint64
			if span := maxDepth - minDepth; span > 0 {
				for i, v := range texels {
					idx := uint64(math.Round(float64((v - minDepth) / span * bc4Levels)))
					indices |= idx << (i * bc4IndexBits)
				}
			}

			raw = binary.LittleEndian.AppendUint32(raw, math.Float32bits(maxDepth))
			raw = binary.LittleEndian.AppendUint32(raw, math.Float32bits(minDepth))
			raw = binary.LittleEndian.AppendUint64(raw, indices)
		}
	}

	return c.encoder.EncodeAll(raw, nil), nil
}

// Decode decompresses a payload into the given frame, reusing its buffer.
func (c *BC4Codec) Decode(payload []byte, f *DepthFrame) error {
	raw, err := c.decoder.DecodeAll(payload, c.buf[:0])
	if err != nil {
		return errors.New("decompressing depth payload failed").Wrap(err)
	}
	c.buf = raw

	if len(raw) < bc4HeaderSize {
		return errors.New("depth payload is too short").
			WithTag("size", len(raw))
	}

	width := binary.LittleEndian.Uint32(raw)
	height := binary.LittleEndian.Uint32(raw[4:])
	if width == 0 || height == 0 || width > bc4MaxFrameSide || height > bc4MaxFrameSide {
		return errors.New("invalid depth frame size").
			WithTag("width", width).
			WithTag("height", height)
	}

	bw, bh := bc4Blocks(width, height)
	blocks := raw[bc4HeaderSize:]
	if len(blocks) != bw*bh*bc4BlockSize {
		return errors.New("depth blocks size mismatch").
			WithTag("expected", bw*bh*bc4BlockSize).
			WithTag("got", len(blocks))
	}

	area := int(width * height)
	if cap(f.Data) < area {
		f.Data = make([]float32, area)
	}
	f.Data = f.Data[:area]
	f.Width = width
	f.Height = height

	for by := 0; by < bh; by++ {
		for bx := 0; bx < bw; bx++ {
			b := blocks[(by*bw+bx)*bc4BlockSize:]
			maxDepth := math.Float32frombits(binary.LittleEndian.Uint32(b))
			minDepth := math.Float32frombits(binary.LittleEndian.Uint32(b[4:]))
			indices := binary.LittleEndian.Uint64(b[8:])
			span := maxDepth - minDepth

			for i := 0; i < bc4BlockDim*bc4BlockDim; i++ {
				x := bx*bc4BlockDim + i%bc4BlockDim
				y := by*bc4BlockDim + i/bc4BlockDim
				if x >= int(width) || y >= int(height) {
					continue
				}

				idx := indices >> (i * bc4IndexBits) & (1<<bc4IndexBits - 1)
				f.Data[y*int(width)+x] = minDepth + span*float32(idx)/bc4Levels
			}
		}
	}
	return nil
}

func bc4Blocks(width, height uint32) (int, int) {
	return int(width+bc4BlockDim-1) / bc4BlockDim, int(height+bc4BlockDim-1) / bc4BlockDim
}
