package proxy

import (
	"encoding/binary"
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// RecordSize is the size in bytes of an encoded QuadRecord.
const RecordSize = 16

const (
	quantizedMax = 0xFFFF

	offsetBits    = 12
	offsetMask    = 1<<offsetBits - 1
	footprintMask = 0xFF

	// MaxOffset is the largest grid coordinate a record can address.
	MaxOffset = offsetMask

	// MaxFootprintSize is the largest footprint the record layout can hold.
	MaxFootprintSize = footprintMask
)

// QuadRecord describes a square macro-quad of the source view screen-space
// grid. Fields are kept in their packed wire representation.
//
// Wire layout, little endian:
//
//	bytes  0..3   normalSpherical      bits 31..16 theta, bits 15..0 phi
//	bytes  4..7   depth                float32 window depth in [0, 1]
//	bytes  8..11  uv                   bits 31..16 u, bits 15..0 v
//	bytes 12..15  offsetSizeFlattened  bits 31..20 x, bits 19..8 y, bits 7..0 size
type QuadRecord struct {
	NormalSpherical     uint32
	Depth               float32
	UV                  uint32
	OffsetSizeFlattened uint32
}

func NewQuadRecord(normal mgl32.Vec3, depth float32, uv mgl32.Vec2, x, y, size uint32) QuadRecord {
	return QuadRecord{
		NormalSpherical:     PackNormal(normal),
		Depth:               depth,
		UV:                  PackUV(uv),
		OffsetSizeFlattened: PackOffsetSize(x, y, size),
	}
}

func (r QuadRecord) Normal() mgl32.Vec3 {
	return UnpackNormal(r.NormalSpherical)
}

func (r QuadRecord) TexCoord() mgl32.Vec2 {
	return UnpackUV(r.UV)
}

// Footprint returns the grid offset and size of the macro-quad.
func (r QuadRecord) Footprint() (x, y, size uint32) {
	return UnpackOffsetSize(r.OffsetSizeFlattened)
}

func decodeRecord(b []byte) QuadRecord {
	return QuadRecord{
		NormalSpherical:     binary.LittleEndian.Uint32(b[0:]),
		Depth:               math.Float32frombits(binary.LittleEndian.Uint32(b[4:])),
		UV:                  binary.LittleEndian.Uint32(b[8:]),
		OffsetSizeFlattened: binary.LittleEndian.Uint32(b[12:]),
	}
}

func appendRecord(b []byte, r QuadRecord) []byte {
	b = binary.LittleEndian.AppendUint32(b, r.NormalSpherical)
	b = binary.LittleEndian.AppendUint32(b, math.Float32bits(r.Depth))
	b = binary.LittleEndian.AppendUint32(b, r.UV)
	return binary.LittleEndian.AppendUint32(b, r.OffsetSizeFlattened)
}

// PackNormal encodes a unit normal as two 16 bit angles: theta, the polar
// angle from +Z in [0, pi], and phi, the azimuth from +X in [-pi, pi].
func PackNormal(n mgl32.Vec3) uint32 {
	if n.Len() == 0 {
		n = mgl32.Vec3{0, 0, 1}
	}
	n = n.Normalize()

	theta := math.Acos(clamp(float64(n.Z()), -1, 1))
	phi := math.Atan2(float64(n.Y()), float64(n.X()))

	qt := quantize(theta / math.Pi)
	qp := quantize((phi + math.Pi) / (2 * math.Pi))
	return qt<<16 | qp
}

func UnpackNormal(v uint32) mgl32.Vec3 {
	theta := dequantize(v>>16) * math.Pi
	phi := dequantize(v&quantizedMax)*2*math.Pi - math.Pi

	sinTheta := math.Sin(theta)
	return mgl32.Vec3{
		float32(sinTheta * math.Cos(phi)),
		float32(sinTheta * math.Sin(phi)),
		float32(math.Cos(theta)),
	}
}

// PackUV encodes a texture coordinate in [0, 1]² as two 16 bit values, u in
// the high half.
func PackUV(uv mgl32.Vec2) uint32 {
	return quantize(float64(uv.X()))<<16 | quantize(float64(uv.Y()))
}

func UnpackUV(v uint32) mgl32.Vec2 {
	return mgl32.Vec2{
		float32(dequantize(v >> 16)),
		float32(dequantize(v & quantizedMax)),
	}
}

// PackOffsetSize encodes a grid offset and a footprint size in one word.
// Values out of range are truncated to their field width.
func PackOffsetSize(x, y, size uint32) uint32 {
	return (x&offsetMask)<<20 | (y&offsetMask)<<8 | size&footprintMask
}

func UnpackOffsetSize(v uint32) (x, y, size uint32) {
	return v >> 20 & offsetMask, v >> 8 & offsetMask, v & footprintMask
}

func quantize(v float64) uint32 {
	return uint32(math.Round(clamp(v, 0, 1) * quantizedMax))
}

func dequantize(v uint32) float64 {
	return float64(v) / quantizedMax
}

func clamp(v, min, max float64) float64 {
	return math.Max(min, math.Min(max, v))
}
