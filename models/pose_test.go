package models

import (
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/require"
)

func TestPoseViewProjection(t *testing.T) {
	t.Run("mono pose", func(t *testing.T) {
		view := mgl32.Translate3D(1, 2, 3)
		proj := mgl32.Perspective(mgl32.DegToRad(90), 1, 0.1, 100)

		p := NewMonoPose(view, proj)
		require.False(t, p.IsStereo())
		require.Equal(t, view, p.View())
		require.Equal(t, proj, p.Projection())
		require.Equal(t, "mono", p.Kind.String())
	})

	t.Run("stereo pose returns the left eye", func(t *testing.T) {
		viewL := mgl32.Translate3D(-0.03, 0, 0)
		viewR := mgl32.Translate3D(0.03, 0, 0)
		projL := mgl32.Perspective(mgl32.DegToRad(90), 1, 0.1, 100)
		projR := mgl32.Perspective(mgl32.DegToRad(100), 1, 0.1, 100)

		p := NewStereoPose(viewL, viewR, projL, projR)
		require.True(t, p.IsStereo())
		require.Equal(t, viewL, p.View())
		require.Equal(t, projL, p.Projection())
		require.Equal(t, "stereo", p.Kind.String())
	})

	t.Run("timestamp is set on a copy", func(t *testing.T) {
		p := NewMonoPose(mgl32.Ident4(), mgl32.Ident4())
		now := time.Now()

		stamped := p.WithTimestamp(now)
		require.True(t, p.Timestamp.IsZero())
		require.Equal(t, now, stamped.Timestamp)
	})
}

func TestCamera(t *testing.T) {
	c := NewPerspectiveCamera(1920, 1080)
	require.Equal(t, float32(defaultFovyDegrees), c.FovyDegrees())

	c.SetFovyDegrees(90)
	require.Equal(t, mgl32.Perspective(mgl32.DegToRad(90), 1920.0/1080.0, c.Near, c.Far), c.Projection())

	c.SetPosition(mgl32.Vec3{0, 3, 10})
	c.UpdateViewMatrix()
	origin := c.View().Mul4x1(mgl32.Vec4{0, 3, 10, 1})
	require.True(t, origin.ApproxEqual(mgl32.Vec4{0, 0, 0, 1}))

	p := c.Pose()
	require.Equal(t, PoseKindMono, p.Kind)
	require.Equal(t, c.View(), p.View())

	stereo := StereoCamera{Left: c, Right: NewPerspectiveCamera(1920, 1080)}
	sp := stereo.Pose()
	require.Equal(t, PoseKindStereo, sp.Kind)
	require.Equal(t, c.View(), sp.Stereo.ViewLeft)

	t.Run("eye separation", func(t *testing.T) {
		eyes := NewStereoCamera(1920, 1080, 0.064)
		eyes.SetFovyDegrees(100)
		require.Equal(t, float32(100), eyes.Right.FovyDegrees())

		p := eyes.Pose()
		left := p.Stereo.ViewLeft.Mul4x1(mgl32.Vec4{0, 0, 0, 1})
		right := p.Stereo.ViewRight.Mul4x1(mgl32.Vec4{0, 0, 0, 1})
		require.InDelta(t, 0.032, left.X(), 1e-6)
		require.InDelta(t, -0.032, right.X(), 1e-6)
		require.Equal(t, p.Stereo.ViewLeft, p.View())
	})
}
