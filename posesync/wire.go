package posesync

import (
	"math"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/quasar-gfx/QUASAR-client/models"
	"google.golang.org/protobuf/encoding/protowire"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/timestamppb"
)

// Pose message field numbers.
//
//	message PoseMessage {
//	  uint64 frame_id = 1;
//	  google.protobuf.Timestamp timestamp = 2;
//	  oneof pose {
//	    MonoPose mono = 3;     // 1 view, 2 projection
//	    StereoPose stereo = 4; // 1 view_left, 2 view_right, 3 proj_left, 4 proj_right
//	  }
//	}
//
// Matrices are packed repeated fixed32 floats in column-major order.
const (
	frameIDField   protowire.Number = 1
	timestampField protowire.Number = 2
	monoField      protowire.Number = 3
	stereoField    protowire.Number = 4
)

const matrixSize = 16 * 4

// MarshalPose encodes a pose and its frame id in the pose message wire
// format.
func MarshalPose(id models.FrameID, p models.Pose) ([]byte, error) {
	ts, err := proto.Marshal(timestamppb.New(p.Timestamp))
	if err != nil {
		return nil, errors.New("marshaling pose timestamp failed").Wrap(err)
	}

	var b []byte
	b = protowire.AppendTag(b, frameIDField, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(id))
	b = protowire.AppendTag(b, timestampField, protowire.BytesType)
	b = protowire.AppendBytes(b, ts)

	switch p.Kind {
	case models.PoseKindMono:
		var m []byte
		m = appendMatrix(m, 1, p.Mono.View)
		m = appendMatrix(m, 2, p.Mono.Projection)
		b = protowire.AppendTag(b, monoField, protowire.BytesType)
		b = protowire.AppendBytes(b, m)

	case models.PoseKindStereo:
		var m []byte
		m = appendMatrix(m, 1, p.Stereo.ViewLeft)
		m = appendMatrix(m, 2, p.Stereo.ViewRight)
		m = appendMatrix(m, 3, p.Stereo.ProjLeft)
		m = appendMatrix(m, 4, p.Stereo.ProjRight)
		b = protowire.AppendTag(b, stereoField, protowire.BytesType)
		b = protowire.AppendBytes(b, m)

	default:
		return nil, errors.New("unknown pose kind").
			WithTag("kind", p.Kind)
	}
	return b, nil
}

// UnmarshalPose decodes a pose message. Unknown fields are skipped.
func UnmarshalPose(b []byte) (models.FrameID, models.Pose, error) {
	var (
		id models.FrameID
		p  models.Pose
	)

	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return 0, models.Pose{}, wireError(n)
		}
		b = b[n:]

		switch {
		case num == frameIDField && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return 0, models.Pose{}, wireError(n)
			}
			id = models.FrameID(v)
			b = b[n:]

		case num == timestampField && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return 0, models.Pose{}, wireError(n)
			}

			var ts timestamppb.Timestamp
			if err := proto.Unmarshal(v, &ts); err != nil {
				return 0, models.Pose{}, errors.New("unmarshaling pose timestamp failed").
					WithType(ErrTypeInvalidMessage).
					Wrap(err)
			}
			p.Timestamp = ts.AsTime()
			b = b[n:]

		case num == monoField && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return 0, models.Pose{}, wireError(n)
			}

			var mats [2]mgl32.Mat4
			if err := consumeMatrices(v, mats[:]); err != nil {
				return 0, models.Pose{}, err
			}
			p = models.NewMonoPose(mats[0], mats[1]).WithTimestamp(p.Timestamp)
			b = b[n:]

		case num == stereoField && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return 0, models.Pose{}, wireError(n)
			}

			var mats [4]mgl32.Mat4
			if err := consumeMatrices(v, mats[:]); err != nil {
				return 0, models.Pose{}, err
			}
			p = models.NewStereoPose(mats[0], mats[1], mats[2], mats[3]).WithTimestamp(p.Timestamp)
			b = b[n:]

		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return 0, models.Pose{}, wireError(n)
			}
			b = b[n:]
		}
	}

	if id == models.InvalidFrameID {
		return 0, models.Pose{}, errors.New("pose message without frame id").
			WithType(ErrTypeInvalidMessage)
	}

	if p.Kind == 0 {
		return 0, models.Pose{}, errors.New("pose message without pose").
			WithType(ErrTypeInvalidMessage).
			WithTag("frame_id", id)
	}
	return id, p, nil
}

func appendMatrix(b []byte, num protowire.Number, m mgl32.Mat4) []byte {
	packed := make([]byte, 0, matrixSize)
	for _, v := range m {
		packed = protowire.AppendFixed32(packed, math.Float32bits(v))
	}

	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, packed)
}

// consumeMatrices decodes the matrix fields numbered from 1 into mats.
func consumeMatrices(b []byte, mats []mgl32.Mat4) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return wireError(n)
		}
		b = b[n:]

		if typ != protowire.BytesType || num < 1 || int(num) > len(mats) {
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return wireError(n)
			}
			b = b[n:]
			continue
		}

		v, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return wireError(n)
		}
		b = b[n:]

		if len(v) != matrixSize {
			return errors.New("invalid matrix size").
				WithType(ErrTypeInvalidMessage).
				WithTag("field", num).
				WithTag("size", len(v))
		}

		m := &mats[num-1]
		for i := range m {
			u, n := protowire.ConsumeFixed32(v)
			if n < 0 {
				return wireError(n)
			}
			m[i] = math.Float32frombits(u)
			v = v[n:]
		}
	}
	return nil
}

func wireError(n int) error {
	return errors.New("malformed pose message").
		WithType(ErrTypeInvalidMessage).
		Wrap(protowire.ParseError(n))
}
