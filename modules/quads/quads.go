// Package quads implements the static scene viewer: the proxies of every
// view of a scene exported by the remote renderer are loaded once, turned
// into meshes and drawn on every frame.
package quads

import (
	"image"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/quasar-gfx/QUASAR-client/featureflag"
	"github.com/quasar-gfx/QUASAR-client/models"
	"github.com/quasar-gfx/QUASAR-client/modules"
	"github.com/quasar-gfx/QUASAR-client/proxy"
	"github.com/quasar-gfx/QUASAR-client/reconstruct"
	"github.com/quasar-gfx/QUASAR-client/streams"
)

const (
	bytesInMB = 1024 * 1024

	defaultReloadDelay = 250 * time.Millisecond
)

// SceneStats describes the loaded scene.
type SceneStats struct {
	Scene             string        `json:"scene"`
	NumViews          int           `json:"num_views"`
	NumProxies        int           `json:"num_proxies"`
	BytesProxies      int           `json:"bytes_proxies"`
	NumDepthOffsets   int           `json:"num_depth_offsets"`
	BytesDepthOffsets int           `json:"bytes_depth_offsets"`
	TimeToDecompress  time.Duration `json:"time_to_decompress"`
	TimeToCreateMesh  time.Duration `json:"time_to_create_mesh"`
	Digests           []string      `json:"digests"`
	Reloads           int           `json:"reloads"`
	LoadedAt          time.Time     `json:"loaded_at"`
}

type Module struct {
	// The path of the scene manifest.
	ManifestPath string

	// The renderer the view meshes are drawn with.
	Renderer modules.Renderer

	FeatureFlags featureflag.FeatureFlag

	// The number of goroutines reconstructing a view. Defaults to
	// GOMAXPROCS.
	Workers int

	// The quiet time after a scene file change before the scene is
	// reloaded. Defaults to 250ms.
	ReloadDelay time.Duration

	session     *models.Session
	cancelFrame func()

	stopWatcher func()
	watcherDone chan struct{}

	reloadRequested atomic.Bool
	lastChange      atomic.Int64

	scene *scene

	statsMutex sync.Mutex
	stats      SceneStats
}

type scene struct {
	manifest Manifest
	views    []view
	stats    SceneStats
}

type view struct {
	camera     *models.Camera
	mesh       *reconstruct.Mesh
	color      image.Image
	numRecords int
}

func (m *Module) Name() string {
	return "quads"
}

func (m *Module) Init(s *models.Session) error {
	if m.Renderer == nil {
		return errors.New("quads module has no renderer")
	}
	if m.ReloadDelay <= 0 {
		m.ReloadDelay = defaultReloadDelay
	}

	scene, err := m.loadScene()
	if err != nil {
		return err
	}
	m.setScene(scene)

	m.session = s
	if s != nil {
		m.cancelFrame = s.HandleFrame(m.HandleFrame)
	}

	if !m.FeatureFlags.IsSet(featureflag.FlagDisableSceneReload) {
		if err := m.startWatcher(scene.manifest); err != nil {
			logs.WithTag("scene", scene.manifest.Scene).
				Warn(errors.New("watching scene files failed").Wrap(err))
		}
	}
	return nil
}

func (m *Module) HandleFrame() {
	m.reloadIfChanged()

	if m.scene == nil {
		return
	}

	for i, v := range m.scene.views {
		m.Renderer.Draw(modules.Frame{
			Module:  m.Name(),
			View:    i,
			FrameID: models.InvalidFrameID,
			Mesh:    v.mesh,
			Color:   v.color,
			Camera:  v.camera,
		})
	}
}

func (m *Module) Stats() any {
	m.statsMutex.Lock()
	defer m.statsMutex.Unlock()

	stats := m.stats
	stats.Digests = append([]string(nil), m.stats.Digests...)
	return stats
}

func (m *Module) Close() {
	if m.cancelFrame != nil {
		m.cancelFrame()
		m.cancelFrame = nil
	}

	if m.stopWatcher != nil {
		m.stopWatcher()
		<-m.watcherDone
		m.stopWatcher = nil
	}
}

func (m *Module) reloadIfChanged() {
	if !m.reloadRequested.Load() {
		return
	}

	lastChange := time.Unix(0, m.lastChange.Load())
	if time.Since(lastChange) < m.ReloadDelay {
		return
	}
	m.reloadRequested.Store(false)

	scene, err := m.loadScene()
	if err != nil {
		logs.WithTag("manifest", m.ManifestPath).
			Error(errors.New("reloading scene failed, keeping the previous scene").Wrap(err))
		return
	}

	scene.stats.Reloads = m.stats.Reloads + 1
	m.setScene(scene)
}

func (m *Module) setScene(s *scene) {
	m.scene = s

	m.statsMutex.Lock()
	m.stats = s.stats
	m.statsMutex.Unlock()
}

func (m *Module) loadScene() (*scene, error) {
	start := time.Now()

	manifest, err := LoadManifest(m.ManifestPath)
	if err != nil {
		instrumentSceneLoad(start, err)
		return nil, err
	}

	s, err := m.buildScene(manifest)
	instrumentSceneLoad(start, err)
	if err != nil {
		return nil, errors.New("loading scene failed").
			WithType(errors.Type(err)).
			WithTag("scene", manifest.Scene).
			Wrap(err)
	}

	logs.WithTag("scene", manifest.Scene).
		WithTag("decompress_time", s.stats.TimeToDecompress.String()).
		Info("scene decompressed")

	logs.WithTag("scene", manifest.Scene).
		WithTag("views", manifest.NumViews).
		WithTag("proxies", s.stats.NumProxies).
		WithTag("proxies_mb", float64(s.stats.BytesProxies)/bytesInMB).
		WithTag("depth_offsets", s.stats.NumDepthOffsets).
		WithTag("depth_offsets_mb", float64(s.stats.BytesDepthOffsets)/bytesInMB).
		Info("scene loaded")
	return s, nil
}

func (m *Module) buildScene(manifest Manifest) (*scene, error) {
	grid := manifest.GridSize()
	offsetsSize := manifest.DepthOffsetsSize()

	store := proxy.NewStore(reconstruct.MaxRecordsForGrid(grid))
	store.MaxProxySize = manifest.MaxProxySize
	offsets := proxy.NewDepthOffsets(offsetsSize.Width, offsetsSize.Height)

	r := reconstruct.NewReconstructor(grid, reconstruct.Options{
		DepthFactor: manifest.DepthFactor,
		Workers:     m.Workers,
		Serial:      m.FeatureFlags.IsSet(featureflag.FlagDisableParallelReconstruction),
	})

	s := &scene{
		manifest: manifest,
		views:    make([]view, manifest.NumViews),
		stats: SceneStats{
			Scene:    manifest.Scene,
			NumViews: manifest.NumViews,
			Digests:  make([]string, manifest.NumViews),
			LoadedAt: time.Now(),
		},
	}

	for i := range s.views {
		numRecords, bytesRecords, err := store.LoadFromFile(manifest.ProxiesPath(i))
		if err != nil {
			return nil, errors.New("loading view proxies failed").
				WithType(errors.Type(err)).
				WithTag("view", i).
				Wrap(err)
		}

		numOffsets, bytesOffsets, err := offsets.LoadFromFile(manifest.DepthOffsetsPath(i))
		if err != nil {
			return nil, errors.New("loading view depth offsets failed").
				WithType(errors.Type(err)).
				WithTag("view", i).
				Wrap(err)
		}

		v := view{
			camera:     m.viewCamera(manifest, i),
			mesh:       reconstruct.NewMesh(numRecords),
			numRecords: numRecords,
		}

		if manifest.LoadColors {
			if v.color, err = loadColor(manifest.ColorPath(i)); err != nil {
				return nil, errors.New("loading view color failed").
					WithType(errors.Type(err)).
					WithTag("view", i).
					Wrap(err)
			}
		}

		viewOffsets := offsets
		if m.FeatureFlags.IsSet(featureflag.FlagDisableDepthOffsets) {
			viewOffsets = nil
		}

		if err := r.AppendProxies(grid, numRecords, store); err != nil {
			return nil, err
		}
		if err := r.CreateMeshFromProxies(grid, numRecords, viewOffsets, v.camera, v.mesh); err != nil {
			return nil, err
		}

		s.views[i] = v
		s.stats.NumProxies += numRecords
		s.stats.BytesProxies += bytesRecords
		s.stats.NumDepthOffsets += numOffsets
		s.stats.BytesDepthOffsets += bytesOffsets
		s.stats.TimeToDecompress += store.Stats().TimeToDecompress + offsets.Stats().TimeToDecompress
		s.stats.TimeToCreateMesh += r.Stats().TimeToCreateMesh
		s.stats.Digests[i] = store.Stats().Digest
	}

	return s, nil
}

func (m *Module) viewCamera(manifest Manifest, view int) *models.Camera {
	c := models.NewPerspectiveCamera(manifest.WindowSize.Width, manifest.WindowSize.Height)
	c.SetFovyDegrees(manifest.Fovy(view))
	c.SetPosition(manifest.CameraPositionVec())
	c.UpdateViewMatrix()
	return c
}

func loadColor(path string) (image.Image, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.New("reading color texture failed").
			WithType(proxy.ErrTypeIO).
			WithTag("path", path).
			Wrap(err)
	}

	img, err := streams.JPEGCodec{}.Decode(b)
	if err != nil {
		return nil, errors.New("invalid color texture").
			WithType(proxy.ErrTypeFormat).
			WithTag("path", path).
			Wrap(err)
	}
	return img, nil
}
