package proxy

import (
	"encoding/binary"
	"io"
	"math"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
)

// EncodeRecords writes records as a proxy container: a little endian record
// count followed by the zstd compressed records.
func EncodeRecords(w io.Writer, records []QuadRecord) error {
	payload := make([]byte, 0, len(records)*RecordSize)
	for _, r := range records {
		payload = appendRecord(payload, r)
	}

	out := binary.LittleEndian.AppendUint32(nil, uint32(len(records)))
	out, err := Compress(payload, out)
	if err != nil {
		return err
	}
	return write(w, out)
}

// EncodeDepthOffsets writes zstd compressed row-major depth offsets.
func EncodeDepthOffsets(w io.Writer, offsets []float32) error {
	out, err := Compress(appendFloats(nil, offsets), nil)
	if err != nil {
		return err
	}
	return write(w, out)
}

// EncodeContainer writes the combined container: a zstd stream of the record
// count, the records and the depth offsets.
func EncodeContainer(w io.Writer, records []QuadRecord, offsets []float32) error {
	payload := make([]byte, 0, headerSize+len(records)*RecordSize+len(offsets)*4)
	payload = binary.LittleEndian.AppendUint32(payload, uint32(len(records)))
	for _, r := range records {
		payload = appendRecord(payload, r)
	}
	payload = appendFloats(payload, offsets)

	out, err := Compress(payload, nil)
	if err != nil {
		return err
	}
	return write(w, out)
}

// ReadContainer reads a combined container into the given store and depth
// offsets. The number of offsets is derived from the decompressed size and
// must match the depth offsets area.
func ReadContainer(r io.Reader, store *Store, offsets *DepthOffsets) (int, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		err = errors.New("reading container failed").
			WithType(ErrTypeIO).
			Wrap(err)
		instrumentLoadError(containerKind, err)
		return 0, err
	}

	start := time.Now()
	limit := headerSize + store.Capacity()*RecordSize + len(offsets.data)*4
	payload, err := DecompressLimit(data, nil, limit)
	if err != nil {
		instrumentLoadError(containerKind, err)
		return 0, err
	}
	elapsed := time.Since(start)

	if len(payload) < headerSize {
		err := errors.New("container is too short").
			WithType(ErrTypeFormat).
			WithTag("size", len(payload))
		instrumentLoadError(containerKind, err)
		return 0, err
	}

	count := int(binary.LittleEndian.Uint32(payload))
	payload = payload[headerSize:]

	recordsSize := count * RecordSize
	if recordsSize > len(payload) {
		err := errors.New("container records are truncated").
			WithType(ErrTypeFormat).
			WithTag("count", count).
			WithTag("size", len(payload))
		instrumentLoadError(containerKind, err)
		return 0, err
	}

	if err := offsets.checkSize(payload[recordsSize:]); err != nil {
		instrumentLoadError(containerKind, err)
		return 0, err
	}

	if err := store.setRecords(count, payload[:recordsSize]); err != nil {
		instrumentLoadError(containerKind, err)
		return 0, err
	}

	if err := offsets.set(payload[recordsSize:]); err != nil {
		instrumentLoadError(containerKind, err)
		return 0, err
	}

	stats := Stats{
		NumRecords:       count,
		BytesRead:        len(data),
		TimeToDecompress: elapsed,
	}
	store.stats = stats
	offsets.stats = stats
	offsets.stats.NumRecords = len(offsets.data)

	instrumentLoad(containerKind, len(data), elapsed)
	return count, nil
}

func appendFloats(b []byte, values []float32) []byte {
	for _, v := range values {
		b = binary.LittleEndian.AppendUint32(b, math.Float32bits(v))
	}
	return b
}

func write(w io.Writer, b []byte) error {
	if _, err := w.Write(b); err != nil {
		return errors.New("writing proxy data failed").
			WithType(ErrTypeIO).
			Wrap(err)
	}
	return nil
}
