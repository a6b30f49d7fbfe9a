package models

import (
	"time"

	"github.com/go-gl/mathgl/mgl32"
)

type PoseKind uint8

const (
	PoseKindMono PoseKind = iota + 1
	PoseKindStereo
)

func (k PoseKind) String() string {
	switch k {
	case PoseKindMono:
		return "mono"
	case PoseKindStereo:
		return "stereo"
	default:
		return "unknown"
	}
}

type MonoPose struct {
	View       mgl32.Mat4
	Projection mgl32.Mat4
}

type StereoPose struct {
	ViewLeft  mgl32.Mat4
	ViewRight mgl32.Mat4
	ProjLeft  mgl32.Mat4
	ProjRight mgl32.Mat4
}

// Pose is the camera state a frame was rendered with. Only the field that
// matches Kind is meaningful.
type Pose struct {
	Kind      PoseKind
	Mono      MonoPose
	Stereo    StereoPose
	Timestamp time.Time
}

func NewMonoPose(view, projection mgl32.Mat4) Pose {
	return Pose{
		Kind: PoseKindMono,
		Mono: MonoPose{
			View:       view,
			Projection: projection,
		},
	}
}

func NewStereoPose(viewLeft, viewRight, projLeft, projRight mgl32.Mat4) Pose {
	return Pose{
		Kind: PoseKindStereo,
		Stereo: StereoPose{
			ViewLeft:  viewLeft,
			ViewRight: viewRight,
			ProjLeft:  projLeft,
			ProjRight: projRight,
		},
	}
}

func (p Pose) IsStereo() bool {
	return p.Kind == PoseKindStereo
}

// View returns the mono view matrix, or the left eye one for stereo poses.
func (p Pose) View() mgl32.Mat4 {
	if p.IsStereo() {
		return p.Stereo.ViewLeft
	}
	return p.Mono.View
}

// Projection returns the mono projection matrix, or the left eye one for
// stereo poses.
func (p Pose) Projection() mgl32.Mat4 {
	if p.IsStereo() {
		return p.Stereo.ProjLeft
	}
	return p.Mono.Projection
}

// WithTimestamp returns a copy of the pose stamped with the given time.
func (p Pose) WithTimestamp(t time.Time) Pose {
	p.Timestamp = t
	return p
}
