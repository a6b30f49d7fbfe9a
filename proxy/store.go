package proxy

import (
	"encoding/binary"
	"io"
	"os"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/go-gl/mathgl/mgl32"
)

const (
	// DefaultMaxProxySize is the default footprint bound of a record.
	DefaultMaxProxySize = 16

	headerSize = 4
)

var towardsCamera = mgl32.Vec3{0, 0, 1}

// Stats describes the last load of a Store or DepthOffsets.
type Stats struct {
	NumRecords       int           `json:"num_records"`
	BytesRead        int           `json:"bytes_read"`
	TimeToDecompress time.Duration `json:"time_to_decompress"`

	// Keccak-256 of the decompressed payload. Only set by file loads.
	Digest string `json:"digest,omitempty"`
}

// Store holds the decoded macro-quad records of one proxy window. It is not
// safe for concurrent use: it is loaded and read by the render loop.
type Store struct {
	// The largest footprint size accepted at load.
	MaxProxySize uint32

	capacity int
	records  []QuadRecord
	buf      []byte
	stats    Stats
}

// NewStore creates a store able to hold up to capacity records.
func NewStore(capacity int) *Store {
	return &Store{
		MaxProxySize: DefaultMaxProxySize,
		capacity:     capacity,
		records:      make([]QuadRecord, 0, capacity),
	}
}

// LoadFromFile loads a proxy container from the file at the given path. It
// returns the number of decoded records and the number of bytes read.
func (s *Store) LoadFromFile(path string) (numRecords, bytesRead int, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		err = errors.New("reading proxy file failed").
			WithTag("path", path).
			WithType(ErrTypeIO).
			Wrap(err)
		instrumentLoadError(recordsKind, err)
		return 0, 0, err
	}

	numRecords, err = s.load(data, true)
	if err != nil {
		err = errors.New("loading proxy file failed").
			WithTag("path", path).
			WithType(errors.Type(err)).
			Wrap(err)
		return 0, len(data), err
	}
	return numRecords, len(data), nil
}

// Load loads a proxy container from the given reader.
func (s *Store) Load(r io.Reader) (int, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		err = errors.New("reading proxy container failed").
			WithType(ErrTypeIO).
			Wrap(err)
		instrumentLoadError(recordsKind, err)
		return 0, err
	}
	return s.load(data, false)
}

func (s *Store) load(data []byte, digest bool) (int, error) {
	if len(data) < headerSize {
		err := errors.New("proxy container is too short").
			WithType(ErrTypeFormat).
			WithTag("size", len(data))
		instrumentLoadError(recordsKind, err)
		return 0, err
	}

	count := int(binary.LittleEndian.Uint32(data))

	start := time.Now()
	payload, err := DecompressLimit(data[headerSize:], s.buf[:0], s.capacity*RecordSize)
	if err != nil {
		instrumentLoadError(recordsKind, err)
		return 0, err
	}
	s.buf = payload
	elapsed := time.Since(start)

	if err := s.setRecords(count, payload); err != nil {
		instrumentLoadError(recordsKind, err)
		return 0, err
	}

	s.stats = Stats{
		NumRecords:       count,
		BytesRead:        len(data),
		TimeToDecompress: elapsed,
	}
	if digest {
		s.stats.Digest = crypto.Keccak256Hash(payload).Hex()
	}
	instrumentLoad(recordsKind, len(data), elapsed)
	return count, nil
}

func (s *Store) setRecords(count int, payload []byte) error {
	if len(payload)%RecordSize != 0 {
		return errors.New("decompressed size is not a multiple of the record size").
			WithType(ErrTypeFormat).
			WithTag("size", len(payload))
	}

	if len(payload)/RecordSize != count {
		return errors.New("record count mismatch").
			WithType(ErrTypeFormat).
			WithTag("count", count).
			WithTag("decoded", len(payload)/RecordSize)
	}

	if count > s.capacity {
		return errors.New("record count exceeds store capacity").
			WithType(ErrTypeFormat).
			WithTag("count", count).
			WithTag("capacity", s.capacity)
	}

	// A rejected payload leaves the previous records intact.
	for i := 0; i < count; i++ {
		if _, _, size := decodeRecord(payload[i*RecordSize:]).Footprint(); size > s.MaxProxySize {
			return errors.New("record footprint exceeds max proxy size").
				WithType(ErrTypeFormat).
				WithTag("record", i).
				WithTag("size", size).
				WithTag("max", s.MaxProxySize)
		}
	}

	records := s.records[:count]
	for i := range records {
		records[i] = decodeRecord(payload[i*RecordSize:])
	}
	s.records = records
	return nil
}

// LoadDepthFrame builds a window of 1x1 footprint records from a dense
// row-major window depth frame. Background texels, at or beyond the far
// plane, get an empty footprint.
func (s *Store) LoadDepthFrame(width, height uint32, depth []float32) (int, error) {
	count := int(width * height)
	if len(depth) != count {
		return 0, errors.New("depth frame size mismatch").
			WithType(ErrTypeFormat).
			WithTag("expected", count).
			WithTag("got", len(depth))
	}

	if count > s.capacity {
		return 0, errors.New("depth frame exceeds store capacity").
			WithType(ErrTypeFormat).
			WithTag("count", count).
			WithTag("capacity", s.capacity)
	}

	normal := PackNormal(towardsCamera)
	records := s.records[:count]
	for y := uint32(0); y < height; y++ {
		for x := uint32(0); x < width; x++ {
			i := y*width + x
			d := depth[i]

			size := uint32(1)
			if d >= 1 {
				size = 0
			}

			records[i] = QuadRecord{
				NormalSpherical:     normal,
				Depth:               d,
				UV:                  PackUV(texelOrigin(x, y, width, height)),
				OffsetSizeFlattened: PackOffsetSize(x, y, size),
			}
		}
	}

	s.records = records
	s.stats = Stats{NumRecords: count}
	return count, nil
}

// Records returns the records of the last successful load. The returned slice
// is reused by the next load.
func (s *Store) Records() []QuadRecord {
	return s.records
}

func (s *Store) NumRecords() int {
	return len(s.records)
}

func (s *Store) Capacity() int {
	return s.capacity
}

func (s *Store) Stats() Stats {
	return s.stats
}

// Payload returns the records encoded as the uncompressed container payload.
func (s *Store) Payload() []byte {
	b := make([]byte, 0, len(s.records)*RecordSize)
	for _, r := range s.records {
		b = appendRecord(b, r)
	}
	return b
}

func texelOrigin(x, y, width, height uint32) mgl32.Vec2 {
	return mgl32.Vec2{
		float32(x) / float32(width),
		float32(y) / float32(height),
	}
}
