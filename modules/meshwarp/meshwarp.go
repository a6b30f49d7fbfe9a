// Package meshwarp implements the live viewer: every frame, the newest color
// and depth frames streamed by the remote renderer are drawn as a mesh
// unprojected with the pose they were rendered from.
package meshwarp

import (
	"bytes"
	"sync"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/quasar-gfx/QUASAR-client/featureflag"
	"github.com/quasar-gfx/QUASAR-client/models"
	"github.com/quasar-gfx/QUASAR-client/modules"
	"github.com/quasar-gfx/QUASAR-client/posesync"
	"github.com/quasar-gfx/QUASAR-client/proxy"
	"github.com/quasar-gfx/QUASAR-client/reconstruct"
	"github.com/quasar-gfx/QUASAR-client/streams"
)

const defaultFovyDegrees = 90

// Mesh sources.
const (
	SourceProxies = "proxies"
	SourceDepth   = "depth"
)

// Stats describes the live pipeline after the last frame.
type Stats struct {
	Frames       uint64                    `json:"frames"`
	ColorFrameID models.FrameID            `json:"color_frame_id"`
	DepthFrameID models.FrameID            `json:"depth_frame_id"`
	MeshFrameID  models.FrameID            `json:"mesh_frame_id"`
	MeshSource   string                    `json:"mesh_source"`
	ProxyFrameID models.FrameID            `json:"proxy_frame_id"`
	Color        streams.Stats             `json:"color"`
	Depth        streams.Stats             `json:"depth"`
	ProxyPackets uint64                    `json:"proxy_packets"`
	ProxyDrops   uint64                    `json:"proxy_drops"`
	ProxyLosses  uint64                    `json:"proxy_losses"`
	Poses        int                       `json:"poses"`
	PoseMisses   uint64                    `json:"pose_misses"`
	Reconstruct  reconstruct.Stats         `json:"reconstruct"`
	LatencyColor models.LatencyMetricsData `json:"latency_color"`
	LatencyDepth models.LatencyMetricsData `json:"latency_depth"`
}

type Module struct {
	// The size of the remote renderer window.
	WindowSize reconstruct.Size

	// The vertical field of view of the remote camera used until a frame
	// pose is known. Defaults to 90 degrees.
	FovyDegrees float32

	// The ratio between the depth offsets and the macro-quad grid
	// resolutions of proxy containers. Defaults to 2.
	DepthFactor uint32

	Color *streams.ColorDecoder
	Depth *streams.DepthDecoder

	// The register of proxy container packets. Optional: meshes are built
	// from depth frames when no container is pending.
	Proxies *streams.Register

	Poses *posesync.Synchronizer

	Renderer modules.Renderer

	FeatureFlags featureflag.FeatureFlag

	// The number of goroutines reconstructing the mesh. Defaults to
	// GOMAXPROCS.
	Workers int

	cancelFrame func()

	gridSize      reconstruct.Size
	store         *proxy.Store
	offsets       *proxy.DepthOffsets
	reconstructor *reconstruct.Reconstructor
	mesh          *reconstruct.Mesh
	camera        *models.Camera

	hasMesh      bool
	meshID       models.FrameID
	meshSource   string
	lastDepthID  models.FrameID
	lastProxyID  models.FrameID
	colorLatency models.LatencyTracker
	depthLatency models.LatencyTracker
	lastColorLat models.FrameID
	lastDepthLat models.FrameID
	frames       uint64
	proxyLosses  uint64
	poseMisses   uint64

	statsMutex sync.Mutex
	stats      Stats
}

func (m *Module) Name() string {
	return "meshwarp"
}

func (m *Module) Init(s *models.Session) error {
	switch {
	case m.Color == nil, m.Depth == nil:
		return errors.New("meshwarp module needs color and depth decoders")

	case m.Poses == nil:
		return errors.New("meshwarp module needs a pose synchronizer")

	case m.Renderer == nil:
		return errors.New("meshwarp module has no renderer")

	case m.WindowSize.Width < 2 || m.WindowSize.Height < 2:
		return errors.New("window size is too small").
			WithTag("width", m.WindowSize.Width).
			WithTag("height", m.WindowSize.Height)
	}

	if m.FovyDegrees <= 0 {
		m.FovyDegrees = defaultFovyDegrees
	}
	if m.DepthFactor == 0 {
		m.DepthFactor = proxy.DefaultDepthFactor
	}

	m.gridSize = reconstruct.Size{
		Width:  m.WindowSize.Width / 2,
		Height: m.WindowSize.Height / 2,
	}

	capacity := max(reconstruct.MaxRecordsForGrid(m.gridSize), m.WindowSize.Area())
	m.store = proxy.NewStore(capacity)
	m.offsets = proxy.NewDepthOffsets(m.gridSize.Width*m.DepthFactor, m.gridSize.Height*m.DepthFactor)
	m.mesh = reconstruct.NewMesh(capacity)
	m.reconstructor = reconstruct.NewReconstructor(m.gridSize, reconstruct.Options{
		DepthFactor: m.DepthFactor,
		Workers:     m.Workers,
		Serial:      m.FeatureFlags.IsSet(featureflag.FlagDisableParallelReconstruction),
	})

	m.camera = models.NewPerspectiveCamera(m.WindowSize.Width, m.WindowSize.Height)
	m.camera.SetFovyDegrees(m.FovyDegrees)

	if s != nil {
		m.cancelFrame = s.HandleFrame(m.HandleFrame)
	}

	logs.WithTag("window_width", m.WindowSize.Width).
		WithTag("window_height", m.WindowSize.Height).
		WithTag("capacity", capacity).
		Debug("meshwarp module initialized")
	return nil
}

// HandleFrame sends the current pose, draws the newest streamed frames and
// prunes the poses no stream can reference anymore.
func (m *Module) HandleFrame() {
	if _, err := m.Poses.SendPose(); err != nil {
		logs.WithTag("module", m.Name()).Debug(err)
	}

	colorID := m.Color.Draw()

	referenceID := colorID
	if m.FeatureFlags.IsSet(featureflag.FlagDisableDepthAlignment) {
		referenceID = models.InvalidFrameID
	}
	depthID := m.Depth.Draw(referenceID)

	m.updateMesh(depthID)

	colorElapsed := m.trackLatency(colorID, &m.lastColorLat, &m.colorLatency)
	depthElapsed := m.trackLatency(depthID, &m.lastDepthLat, &m.depthLatency)

	if !m.FeatureFlags.IsSet(featureflag.FlagDisablePosePruning) {
		m.Poses.RemovePosesLessThan(m.pruneFrameID(colorID, depthID))
	}

	if m.hasMesh {
		m.Renderer.Draw(modules.Frame{
			Module:  m.Name(),
			FrameID: m.meshID,
			Mesh:    m.mesh,
			Color:   m.Color.Frame(),
			Camera:  m.camera,
		})
	}

	if !m.FeatureFlags.IsSet(featureflag.FlagDisableLatencyLogs) {
		if colorElapsed > 0 {
			logs.WithTag("stream", m.Color.Name).
				WithTag("frame_id", colorID).
				WithTag("latency", colorElapsed.String()).
				Debug("e2e latency")
		}
		if depthElapsed > 0 {
			logs.WithTag("stream", m.Depth.Name).
				WithTag("frame_id", depthID).
				WithTag("latency", depthElapsed.String()).
				Debug("e2e latency")
		}
	}

	m.frames++
	m.updateStats(colorID, depthID)
}

// pruneFrameID returns the oldest frame id still referenced by a stream. The
// proxy stream counts once a container was consumed from it.
func (m *Module) pruneFrameID(colorID, depthID models.FrameID) models.FrameID {
	if m.Proxies == nil || m.lastProxyID == models.InvalidFrameID {
		return models.MinFrameID(colorID, depthID)
	}
	return models.MinFrameID(colorID, depthID, m.lastProxyID)
}

func (m *Module) Stats() any {
	m.statsMutex.Lock()
	defer m.statsMutex.Unlock()
	return m.stats
}

func (m *Module) Close() {
	if m.cancelFrame != nil {
		m.cancelFrame()
		m.cancelFrame = nil
	}
}

// updateMesh rebuilds the mesh from the pending proxy container, or from the
// current depth frame when it changed. The previous mesh is kept otherwise.
func (m *Module) updateMesh(depthID models.FrameID) {
	if m.Proxies != nil {
		if p, ok := m.Proxies.Take(); ok {
			m.lastProxyID = p.FrameID
			n, err := proxy.ReadContainer(bytes.NewReader(p.Payload), m.store, m.offsets)
			if err == nil {
				m.buildMesh(p.FrameID, m.gridSize, n, m.offsets, SourceProxies)
				return
			}

			m.proxyLosses++
			logs.WithTag("frame_id", p.FrameID).
				Warn(errors.New("dropping proxy container").
					WithType(streams.ErrTypePacketLoss).
					Wrap(err))
		}
	}

	if depthID == models.InvalidFrameID || depthID == m.lastDepthID {
		return
	}
	m.lastDepthID = depthID

	f := m.Depth.Frame()
	n, err := m.store.LoadDepthFrame(f.Width, f.Height, f.Data)
	if err != nil {
		logs.WithTag("frame_id", depthID).
			Warn(errors.New("dropping depth frame").
				WithType(streams.ErrTypePacketLoss).
				Wrap(err))
		return
	}

	m.buildMesh(depthID, reconstruct.Size{Width: f.Width, Height: f.Height}, n, nil, SourceDepth)
}

func (m *Module) buildMesh(id models.FrameID, gridSize reconstruct.Size, numRecords int, offsets *proxy.DepthOffsets, source string) {
	if pose, _, ok := m.Poses.GetPose(id); ok {
		m.camera.SetViewMatrix(pose.View())
		m.camera.SetProjectionMatrix(pose.Projection())
	} else {
		m.poseMisses++
		logs.WithTag("frame_id", id).
			Debug("no pose for frame, reusing the previous source camera")
	}

	if m.FeatureFlags.IsSet(featureflag.FlagDisableDepthOffsets) {
		offsets = nil
	}

	if err := m.reconstructor.AppendProxies(gridSize, numRecords, m.store); err != nil {
		logs.Fatal(errors.New("appending proxies failed").Wrap(err))
	}
	if err := m.reconstructor.CreateMeshFromProxies(gridSize, numRecords, offsets, m.camera, m.mesh); err != nil {
		logs.Fatal(errors.New("creating mesh failed").Wrap(err))
	}

	m.hasMesh = true
	m.meshID = id
	m.meshSource = source
}

// trackLatency returns the time elapsed since the pose of the given frame was
// stamped. A sample is recorded the first time a frame is seen.
func (m *Module) trackLatency(id models.FrameID, last *models.FrameID, tracker *models.LatencyTracker) (elapsed time.Duration) {
	if id == models.InvalidFrameID {
		return 0
	}

	_, elapsed, ok := m.Poses.GetPose(id)
	if !ok {
		return 0
	}

	if id != *last {
		*last = id
		tracker.Add(elapsed)
	}
	return elapsed
}

func (m *Module) updateStats(colorID, depthID models.FrameID) {
	stats := Stats{
		Frames:       m.frames,
		ColorFrameID: colorID,
		DepthFrameID: depthID,
		MeshFrameID:  m.meshID,
		MeshSource:   m.meshSource,
		ProxyFrameID: m.lastProxyID,
		Color:        m.Color.Stats(),
		Depth:        m.Depth.Stats(),
		ProxyLosses:  m.proxyLosses,
		Poses:        m.Poses.Len(),
		PoseMisses:   m.poseMisses,
		Reconstruct:  m.reconstructor.Stats(),
		LatencyColor: m.colorLatency.Summary(),
		LatencyDepth: m.depthLatency.Summary(),
	}

	if m.Proxies != nil {
		stats.ProxyPackets = m.Proxies.Received()
		stats.ProxyDrops = m.Proxies.Drops()
	}

	m.statsMutex.Lock()
	m.stats = stats
	m.statsMutex.Unlock()
}
