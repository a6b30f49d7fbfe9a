package models

import (
	"github.com/go-gl/mathgl/mgl32"
)

const (
	defaultFovyDegrees = 60
	defaultNear        = 0.1
	defaultFar         = 1000
)

// Camera is a perspective camera. The remote renderer camera a proxy was
// generated from and the local viewer camera both use it.
type Camera struct {
	Width  uint32
	Height uint32
	Near   float32
	Far    float32

	fovyDegrees float32
	position    mgl32.Vec3
	view        mgl32.Mat4
	projection  mgl32.Mat4
}

func NewPerspectiveCamera(width, height uint32) *Camera {
	c := &Camera{
		Width:       width,
		Height:      height,
		Near:        defaultNear,
		Far:         defaultFar,
		fovyDegrees: defaultFovyDegrees,
		view:        mgl32.Ident4(),
	}
	c.updateProjectionMatrix()
	return c
}

func (c *Camera) SetFovyDegrees(v float32) {
	c.fovyDegrees = v
	c.updateProjectionMatrix()
}

func (c *Camera) FovyDegrees() float32 {
	return c.fovyDegrees
}

func (c *Camera) SetNearFar(near, far float32) {
	c.Near = near
	c.Far = far
	c.updateProjectionMatrix()
}

func (c *Camera) SetPosition(v mgl32.Vec3) {
	c.position = v
}

func (c *Camera) Position() mgl32.Vec3 {
	return c.position
}

// UpdateViewMatrix rebuilds the view matrix from the camera position. The
// camera looks down -Z.
func (c *Camera) UpdateViewMatrix() {
	c.view = mgl32.Translate3D(-c.position.X(), -c.position.Y(), -c.position.Z())
}

func (c *Camera) SetViewMatrix(m mgl32.Mat4) {
	c.view = m
}

func (c *Camera) SetProjectionMatrix(m mgl32.Mat4) {
	c.projection = m
}

func (c *Camera) View() mgl32.Mat4 {
	return c.view
}

func (c *Camera) Projection() mgl32.Mat4 {
	return c.projection
}

// Pose returns the current camera matrices as a mono pose without timestamp.
func (c *Camera) Pose() Pose {
	return NewMonoPose(c.view, c.projection)
}

func (c *Camera) updateProjectionMatrix() {
	aspect := float32(1)
	if c.Height != 0 {
		aspect = float32(c.Width) / float32(c.Height)
	}
	c.projection = mgl32.Perspective(mgl32.DegToRad(c.fovyDegrees), aspect, c.Near, c.Far)
}

// StereoCamera is the pair of eye cameras of a headset.
type StereoCamera struct {
	Left  *Camera
	Right *Camera
}

// NewStereoCamera returns eye cameras separated by ipd along X, centered on
// the origin.
func NewStereoCamera(width, height uint32, ipd float32) StereoCamera {
	c := StereoCamera{
		Left:  NewPerspectiveCamera(width, height),
		Right: NewPerspectiveCamera(width, height),
	}
	c.Left.SetPosition(mgl32.Vec3{-ipd / 2, 0, 0})
	c.Right.SetPosition(mgl32.Vec3{ipd / 2, 0, 0})
	c.Left.UpdateViewMatrix()
	c.Right.UpdateViewMatrix()
	return c
}

// SetFovyDegrees sets the vertical field of view of both eyes.
func (c StereoCamera) SetFovyDegrees(v float32) {
	c.Left.SetFovyDegrees(v)
	c.Right.SetFovyDegrees(v)
}

// Pose returns the current eye matrices as a stereo pose without timestamp.
func (c StereoCamera) Pose() Pose {
	return NewStereoPose(
		c.Left.View(),
		c.Right.View(),
		c.Left.Projection(),
		c.Right.Projection(),
	)
}
