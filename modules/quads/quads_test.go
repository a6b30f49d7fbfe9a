package quads

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/quasar-gfx/QUASAR-client/featureflag"
	"github.com/quasar-gfx/QUASAR-client/models"
	"github.com/quasar-gfx/QUASAR-client/modules"
	"github.com/quasar-gfx/QUASAR-client/proxy"
	"github.com/quasar-gfx/QUASAR-client/reconstruct"
	"github.com/quasar-gfx/QUASAR-client/streams"
	"github.com/stretchr/testify/require"
)

const testManifest = `
scene: test_lab
data_dir: data
num_views: 2
window_size:
  width: 16
  height: 8
fovy_degrees: [60]
camera_position: [0, 3, 10]
load_colors: true
`

func sceneRecords(n int) []proxy.QuadRecord {
	records := make([]proxy.QuadRecord, n)
	for i := range records {
		records[i] = proxy.NewQuadRecord(
			mgl32.Vec3{0, 0, 1},
			0.5,
			mgl32.Vec2{0.1, 0.1},
			uint32(i%8),
			uint32(i/8%4),
			uint32(1+i%2),
		)
	}
	return records
}

func writeRecords(t *testing.T, path string, records []proxy.QuadRecord) {
	var b bytes.Buffer
	err := proxy.EncodeRecords(&b, records)
	require.NoError(t, err)
	err = os.WriteFile(path, b.Bytes(), 0o644)
	require.NoError(t, err)
}

// writeScene writes a two views scene of a 16x8 window and returns the
// manifest path.
func writeScene(t *testing.T, numRecords ...int) string {
	dir := t.TempDir()
	dataDir := filepath.Join(dir, "data")
	err := os.Mkdir(dataDir, 0o755)
	require.NoError(t, err)

	manifestPath := filepath.Join(dir, "scene.yaml")
	err = os.WriteFile(manifestPath, []byte(testManifest), 0o644)
	require.NoError(t, err)

	img := image.NewRGBA(image.Rect(0, 0, 16, 8))
	for x := 0; x < 16; x++ {
		img.Set(x, 0, color.RGBA{R: 255, A: 255})
	}
	jpg, err := streams.JPEGCodec{}.Encode(img)
	require.NoError(t, err)

	for view, n := range numRecords {
		writeRecords(t, filepath.Join(dataDir, fmt.Sprintf("quads%d.bin.zstd", view)), sceneRecords(n))

		var b bytes.Buffer
		err = proxy.EncodeDepthOffsets(&b, make([]float32, 16*8))
		require.NoError(t, err)
		err = os.WriteFile(filepath.Join(dataDir, fmt.Sprintf("depthOffsets%d.bin.zstd", view)), b.Bytes(), 0o644)
		require.NoError(t, err)

		err = os.WriteFile(filepath.Join(dataDir, fmt.Sprintf("color%d.jpg", view)), jpg, 0o644)
		require.NoError(t, err)
	}
	return manifestPath
}

func TestLoadManifest(t *testing.T) {
	path := writeScene(t, 1, 1)

	m, err := LoadManifest(path)
	require.NoError(t, err)
	require.Equal(t, "test_lab", m.Scene)
	require.Equal(t, filepath.Join(filepath.Dir(path), "data"), m.DataDir)
	require.Equal(t, uint32(proxy.DefaultDepthFactor), m.DepthFactor)
	require.Equal(t, uint32(proxy.DefaultMaxProxySize), m.MaxProxySize)
	require.Equal(t, reconstruct.Size{Width: 8, Height: 4}, m.GridSize())
	require.Equal(t, reconstruct.Size{Width: 16, Height: 8}, m.DepthOffsetsSize())
	require.Equal(t, mgl32.Vec3{0, 3, 10}, m.CameraPositionVec())

	t.Run("fields of view", func(t *testing.T) {
		require.Equal(t, float32(60), m.Fovy(0))
		require.Equal(t, float32(defaultWideFovyDegrees), m.Fovy(1))

		m.NumViews = 3
		require.Equal(t, float32(defaultFovyDegrees), m.Fovy(1))
		require.Equal(t, float32(defaultWideFovyDegrees), m.Fovy(2))
	})

	t.Run("file paths", func(t *testing.T) {
		require.Equal(t, filepath.Join(m.DataDir, "quads1.bin.zstd"), m.ProxiesPath(1))
		require.Equal(t, filepath.Join(m.DataDir, "depthOffsets0.bin.zstd"), m.DepthOffsetsPath(0))
		require.Equal(t, filepath.Join(m.DataDir, "color0.jpg"), m.ColorPath(0))
	})
}

func TestLoadManifestErrors(t *testing.T) {
	write := func(t *testing.T, content string) string {
		path := filepath.Join(t.TempDir(), "scene.yaml")
		err := os.WriteFile(path, []byte(content), 0o644)
		require.NoError(t, err)
		return path
	}

	t.Run("missing manifest", func(t *testing.T) {
		_, err := LoadManifest(filepath.Join(t.TempDir(), "missing.yaml"))
		require.Error(t, err)
		require.True(t, errors.IsType(err, proxy.ErrTypeIO))
	})

	t.Run("invalid yaml", func(t *testing.T) {
		_, err := LoadManifest(write(t, "num_views: [1"))
		require.Error(t, err)
		require.True(t, errors.IsType(err, proxy.ErrTypeFormat))
	})

	t.Run("no view", func(t *testing.T) {
		_, err := LoadManifest(write(t, "window_size: {width: 4, height: 4}"))
		require.Error(t, err)
		require.True(t, errors.IsType(err, proxy.ErrTypeFormat))
	})

	t.Run("window too small", func(t *testing.T) {
		_, err := LoadManifest(write(t, "num_views: 1\nwindow_size: {width: 1, height: 4}"))
		require.Error(t, err)
	})

	t.Run("too many fields of view", func(t *testing.T) {
		_, err := LoadManifest(write(t, "num_views: 1\nwindow_size: {width: 4, height: 4}\nfovy_degrees: [90, 90]"))
		require.Error(t, err)
	})

	t.Run("invalid field of view", func(t *testing.T) {
		_, err := LoadManifest(write(t, "num_views: 1\nwindow_size: {width: 4, height: 4}\nfovy_degrees: [180]"))
		require.Error(t, err)
	})
}

func newTestModule(path string, flags ...string) (*Module, *modules.DrawRecorder) {
	recorder := &modules.DrawRecorder{}
	return &Module{
		ManifestPath: path,
		Renderer:     recorder,
		FeatureFlags: featureflag.New(append(flags, string(featureflag.FlagDisableSceneReload))),
		ReloadDelay:  time.Millisecond,
	}, recorder
}

func TestModule(t *testing.T) {
	m, recorder := newTestModule(writeScene(t, 20, 12))
	err := m.Init(nil)
	require.NoError(t, err)
	defer m.Close()

	require.Equal(t, "quads", m.Name())

	stats := m.Stats().(SceneStats)
	require.Equal(t, "test_lab", stats.Scene)
	require.Equal(t, 2, stats.NumViews)
	require.Equal(t, 32, stats.NumProxies)
	require.Equal(t, 2*16*8, stats.NumDepthOffsets)
	require.NotZero(t, stats.BytesProxies)
	require.NotZero(t, stats.BytesDepthOffsets)
	require.Len(t, stats.Digests, 2)
	require.NotEqual(t, stats.Digests[0], stats.Digests[1])

	m.HandleFrame()
	m.HandleFrame()

	views := recorder.Stats(m.Name())
	require.Len(t, views, 2)
	require.Equal(t, uint64(2), views[0].Frames)
	require.Equal(t, 20*16, views[0].NumVertices)
	require.Equal(t, 20*24, views[0].NumIndices)
	require.Equal(t, 12*16, views[1].NumVertices)

	t.Run("views use their own camera", func(t *testing.T) {
		require.Equal(t, float32(60), m.scene.views[0].camera.FovyDegrees())
		require.Equal(t, float32(defaultWideFovyDegrees), m.scene.views[1].camera.FovyDegrees())
		require.NotNil(t, m.scene.views[0].color)
	})
}

func TestModuleInitErrors(t *testing.T) {
	t.Run("missing proxies", func(t *testing.T) {
		path := writeScene(t, 4)
		m, _ := newTestModule(path)

		err := m.Init(nil)
		require.Error(t, err)
		require.True(t, errors.IsType(err, proxy.ErrTypeIO))
	})

	t.Run("corrupted proxies", func(t *testing.T) {
		path := writeScene(t, 4, 4)
		err := os.WriteFile(filepath.Join(filepath.Dir(path), "data", "quads1.bin.zstd"), []byte("garbage"), 0o644)
		require.NoError(t, err)

		m, _ := newTestModule(path)
		err = m.Init(nil)
		require.Error(t, err)
		require.True(t, errors.IsType(err, proxy.ErrTypeFormat))
	})

	t.Run("no renderer", func(t *testing.T) {
		m := &Module{ManifestPath: writeScene(t, 4, 4)}
		err := m.Init(nil)
		require.Error(t, err)
	})
}

func TestModuleReload(t *testing.T) {
	path := writeScene(t, 8, 8)
	dataDir := filepath.Join(filepath.Dir(path), "data")

	m, _ := newTestModule(path)
	err := m.Init(nil)
	require.NoError(t, err)
	defer m.Close()

	t.Run("reload replaces the scene", func(t *testing.T) {
		writeRecords(t, filepath.Join(dataDir, "quads0.bin.zstd"), sceneRecords(24))
		m.lastChange.Store(time.Now().Add(-time.Second).UnixNano())
		m.reloadRequested.Store(true)

		m.HandleFrame()
		stats := m.Stats().(SceneStats)
		require.Equal(t, 32, stats.NumProxies)
		require.Equal(t, 1, stats.Reloads)
	})

	t.Run("failed reload keeps the previous scene", func(t *testing.T) {
		err := os.WriteFile(filepath.Join(dataDir, "quads1.bin.zstd"), []byte("garbage"), 0o644)
		require.NoError(t, err)
		m.lastChange.Store(time.Now().Add(-time.Second).UnixNano())
		m.reloadRequested.Store(true)

		m.HandleFrame()
		stats := m.Stats().(SceneStats)
		require.Equal(t, 32, stats.NumProxies)
		require.Equal(t, 1, stats.Reloads)
		require.False(t, m.reloadRequested.Load())
	})

	t.Run("reload waits for the files to settle", func(t *testing.T) {
		m.ReloadDelay = time.Hour
		m.lastChange.Store(time.Now().UnixNano())
		m.reloadRequested.Store(true)

		m.HandleFrame()
		require.True(t, m.reloadRequested.Load())
		m.reloadRequested.Store(false)
	})
}

func TestModuleWatchesSceneFiles(t *testing.T) {
	path := writeScene(t, 8)
	err := os.WriteFile(path, []byte("scene: watched\ndata_dir: data\nnum_views: 1\nwindow_size: {width: 16, height: 8}\n"), 0o644)
	require.NoError(t, err)

	m := &Module{
		ManifestPath: path,
		Renderer:     &modules.DrawRecorder{},
		ReloadDelay:  time.Millisecond,
	}
	err = m.Init(nil)
	require.NoError(t, err)
	defer m.Close()

	writeRecords(t, filepath.Join(filepath.Dir(path), "data", "quads0.bin.zstd"), sceneRecords(16))

	require.Eventually(t, func() bool {
		m.HandleFrame()
		return m.Stats().(SceneStats).NumProxies == 16
	}, time.Second*5, time.Millisecond*20)
}

func TestModuleSession(t *testing.T) {
	m, recorder := newTestModule(writeScene(t, 4, 4))
	s := models.NewSession("test", time.Millisecond)
	defer s.Close()

	err := m.Init(s)
	require.NoError(t, err)
	go s.StartDispatchFrames()

	require.Eventually(t, func() bool {
		views := recorder.Stats(m.Name())
		return len(views) == 2 && views[1].Frames > 0
	}, time.Second, time.Millisecond*5)

	m.Close()
	require.Nil(t, m.cancelFrame)
}
