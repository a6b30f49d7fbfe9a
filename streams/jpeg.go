package streams

import (
	"bytes"
	"image"
	"image/jpeg"

	"github.com/aukilabs/go-tooling/pkg/errors"
)

// JPEGCodec encodes and decodes color frames as baseline JPEG.
type JPEGCodec struct {
	// The encoding quality, from 1 to 100. Zero uses jpeg.DefaultQuality.
	Quality int
}

func (c JPEGCodec) Decode(payload []byte) (image.Image, error) {
	img, err := jpeg.Decode(bytes.NewReader(payload))
	if err != nil {
		return nil, errors.New("decoding jpeg failed").Wrap(err)
	}
	return img, nil
}

func (c JPEGCodec) Encode(img image.Image) ([]byte, error) {
	quality := c.Quality
	if quality == 0 {
		quality = jpeg.DefaultQuality
	}

	var b bytes.Buffer
	if err := jpeg.Encode(&b, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, errors.New("encoding jpeg failed").Wrap(err)
	}
	return b.Bytes(), nil
}
