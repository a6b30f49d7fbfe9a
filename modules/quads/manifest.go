package quads

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/quasar-gfx/QUASAR-client/proxy"
	"github.com/quasar-gfx/QUASAR-client/reconstruct"
	"gopkg.in/yaml.v3"
)

const (
	defaultFovyDegrees     = 90
	defaultWideFovyDegrees = 120
)

// Manifest describes a static scene exported by the remote renderer.
//
// A scene directory contains, for each view i, the proxies in quads<i>.bin.zstd,
// the depth offsets in depthOffsets<i>.bin.zstd and optionally the color
// texture in color<i>.jpg.
type Manifest struct {
	Scene string `yaml:"scene"`

	// The scene data directory. A relative directory is resolved from the
	// manifest directory.
	DataDir string `yaml:"data_dir"`

	NumViews int `yaml:"num_views"`

	// The size of the remote renderer window the views were rendered in.
	WindowSize WindowSize `yaml:"window_size"`

	// The vertical field of view of each view. Missing views use 90 degrees
	// except for the last view of a multi-view scene that uses 120 degrees.
	FovyDegrees []float32 `yaml:"fovy_degrees"`

	// The position of the remote camera.
	CameraPosition [3]float32 `yaml:"camera_position"`

	// The ratio between the depth offsets and the macro-quad grid
	// resolutions. Defaults to 2.
	DepthFactor uint32 `yaml:"depth_factor"`

	// The maximum footprint size of a proxy. Defaults to 16.
	MaxProxySize uint32 `yaml:"max_proxy_size"`

	// Loads the color textures of the views.
	LoadColors bool `yaml:"load_colors"`
}

type WindowSize struct {
	Width  uint32 `yaml:"width"`
	Height uint32 `yaml:"height"`
}

// LoadManifest reads and validates a scene manifest.
func LoadManifest(path string) (Manifest, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, errors.New("reading scene manifest failed").
			WithType(proxy.ErrTypeIO).
			WithTag("path", path).
			Wrap(err)
	}

	var m Manifest
	if err := yaml.Unmarshal(b, &m); err != nil {
		return Manifest{}, errors.New("parsing scene manifest failed").
			WithType(proxy.ErrTypeFormat).
			WithTag("path", path).
			Wrap(err)
	}

	if m.DataDir == "" {
		m.DataDir = "."
	}
	if !filepath.IsAbs(m.DataDir) {
		m.DataDir = filepath.Join(filepath.Dir(path), m.DataDir)
	}
	if m.DepthFactor == 0 {
		m.DepthFactor = proxy.DefaultDepthFactor
	}
	if m.MaxProxySize == 0 {
		m.MaxProxySize = proxy.DefaultMaxProxySize
	}

	if err := m.Validate(); err != nil {
		return Manifest{}, errors.New("invalid scene manifest").
			WithType(proxy.ErrTypeFormat).
			WithTag("path", path).
			Wrap(err)
	}
	return m, nil
}

func (m Manifest) Validate() error {
	if m.NumViews < 1 {
		return errors.New("a scene needs at least one view").
			WithTag("num_views", m.NumViews)
	}

	if m.WindowSize.Width < 2 || m.WindowSize.Height < 2 {
		return errors.New("window size is too small").
			WithTag("width", m.WindowSize.Width).
			WithTag("height", m.WindowSize.Height)
	}

	if len(m.FovyDegrees) > m.NumViews {
		return errors.New("more fields of view than views").
			WithTag("fovy_degrees", len(m.FovyDegrees)).
			WithTag("num_views", m.NumViews)
	}

	for i, fovy := range m.FovyDegrees {
		if fovy <= 0 || fovy >= 180 {
			return errors.New("invalid field of view").
				WithTag("view", i).
				WithTag("fovy_degrees", fovy)
		}
	}

	if m.MaxProxySize > proxy.MaxFootprintSize {
		return errors.New("max proxy size exceeds the footprint range").
			WithTag("max_proxy_size", m.MaxProxySize)
	}
	return nil
}

// GridSize returns the size of the macro-quad grid, half the window size.
func (m Manifest) GridSize() reconstruct.Size {
	return reconstruct.Size{
		Width:  m.WindowSize.Width / 2,
		Height: m.WindowSize.Height / 2,
	}
}

// DepthOffsetsSize returns the resolution of the depth offsets.
func (m Manifest) DepthOffsetsSize() reconstruct.Size {
	grid := m.GridSize()
	return reconstruct.Size{
		Width:  grid.Width * m.DepthFactor,
		Height: grid.Height * m.DepthFactor,
	}
}

// Fovy returns the vertical field of view of a view in degrees.
func (m Manifest) Fovy(view int) float32 {
	if view < len(m.FovyDegrees) {
		return m.FovyDegrees[view]
	}
	if m.NumViews > 1 && view == m.NumViews-1 {
		return defaultWideFovyDegrees
	}
	return defaultFovyDegrees
}

func (m Manifest) CameraPositionVec() mgl32.Vec3 {
	return mgl32.Vec3(m.CameraPosition)
}

func (m Manifest) ProxiesPath(view int) string {
	return filepath.Join(m.DataDir, fmt.Sprintf("quads%d.bin.zstd", view))
}

func (m Manifest) DepthOffsetsPath(view int) string {
	return filepath.Join(m.DataDir, fmt.Sprintf("depthOffsets%d.bin.zstd", view))
}

func (m Manifest) ColorPath(view int) string {
	return filepath.Join(m.DataDir, fmt.Sprintf("color%d.jpg", view))
}
