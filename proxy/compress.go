package proxy

import (
	"sync"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/klauspost/compress/zstd"
)

// MaxDecompressedSize bounds the memory a single decompression can allocate.
const MaxDecompressedSize = 256 << 20

var (
	zstdOnce    sync.Once
	zstdDecoder *zstd.Decoder
	zstdEncoder *zstd.Encoder
	zstdErr     error
)

func initZstd() {
	zstdOnce.Do(func() {
		zstdDecoder, zstdErr = zstd.NewReader(nil,
			zstd.WithDecoderConcurrency(0),
			zstd.WithDecoderMaxMemory(MaxDecompressedSize),
		)
		if zstdErr != nil {
			return
		}
		zstdEncoder, zstdErr = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	})
}

// Decompress decompresses a zstd payload, appending the result to dst.
func Decompress(src, dst []byte) ([]byte, error) {
	return DecompressLimit(src, dst, MaxDecompressedSize)
}

// DecompressLimit is like Decompress but fails with a format error when the
// payload decompresses to more than limit bytes. A frame declaring a larger
// content size is rejected before anything is allocated.
func DecompressLimit(src, dst []byte, limit int) ([]byte, error) {
	if initZstd(); zstdErr != nil {
		return nil, errors.New("initializing zstd failed").Wrap(zstdErr)
	}

	if len(src) != 0 {
		var h zstd.Header
		if err := h.Decode(src); err != nil {
			return nil, errors.New("reading zstd frame header failed").
				WithType(ErrTypeFormat).
				Wrap(err)
		}
		if h.HasFCS && h.FrameContentSize > uint64(limit) {
			return nil, errors.New("declared content size exceeds limit").
				WithType(ErrTypeFormat).
				WithTag("size", h.FrameContentSize).
				WithTag("limit", limit)
		}
	}

	initial := len(dst)
	out, err := zstdDecoder.DecodeAll(src, dst)
	if err != nil {
		return nil, errors.New("decompressing payload failed").
			WithType(ErrTypeFormat).
			Wrap(err)
	}
	if len(out)-initial > limit {
		return nil, errors.New("decompressed size exceeds limit").
			WithType(ErrTypeFormat).
			WithTag("size", len(out)-initial).
			WithTag("limit", limit)
	}
	return out, nil
}

// Compress compresses a payload with zstd, appending the result to dst.
func Compress(src, dst []byte) ([]byte, error) {
	if initZstd(); zstdErr != nil {
		return nil, errors.New("initializing zstd failed").Wrap(zstdErr)
	}
	return zstdEncoder.EncodeAll(src, dst), nil
}
