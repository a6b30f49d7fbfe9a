package meshwarp

import (
	"bytes"
	"image"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/quasar-gfx/QUASAR-client/featureflag"
	"github.com/quasar-gfx/QUASAR-client/models"
	"github.com/quasar-gfx/QUASAR-client/modules"
	"github.com/quasar-gfx/QUASAR-client/posesync"
	"github.com/quasar-gfx/QUASAR-client/proxy"
	"github.com/quasar-gfx/QUASAR-client/reconstruct"
	"github.com/quasar-gfx/QUASAR-client/streams"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type testEnv struct {
	module   *Module
	recorder *modules.DrawRecorder
	bc4      *streams.BC4Codec
}

func newTestEnv(t *testing.T, flags ...string) testEnv {
	bc4, err := streams.NewBC4Codec()
	require.NoError(t, err)

	decoder, err := streams.NewBC4Codec()
	require.NoError(t, err)

	camera := models.NewPerspectiveCamera(8, 4)
	poses := posesync.NewSynchronizer(camera, nil, 0)
	poses.Clock = func() time.Time { return testNow }

	recorder := &modules.DrawRecorder{}
	m := &Module{
		WindowSize:   reconstruct.Size{Width: 8, Height: 4},
		Color:        streams.NewColorDecoder("color", streams.JPEGCodec{}),
		Depth:        streams.NewDepthDecoder("depth", decoder, 0),
		Proxies:      &streams.Register{},
		Poses:        poses,
		Renderer:     recorder,
		FeatureFlags: featureflag.New(flags),
	}

	err = m.Init(nil)
	require.NoError(t, err)
	t.Cleanup(m.Close)

	return testEnv{
		module:   m,
		recorder: recorder,
		bc4:      bc4,
	}
}

// ingestPose stores the pose the renderer used for the given frame, stamped
// latency before now.
func (e testEnv) ingestPose(t *testing.T, id models.FrameID, position mgl32.Vec3, latency time.Duration) models.Pose {
	camera := models.NewPerspectiveCamera(8, 4)
	camera.SetPosition(position)
	camera.UpdateViewMatrix()

	pose := camera.Pose().WithTimestamp(testNow.Add(-latency))
	msg, err := posesync.MarshalPose(id, pose)
	require.NoError(t, err)

	err = e.module.Poses.Ingest(msg)
	require.NoError(t, err)
	return pose
}

func (e testEnv) putColor(t *testing.T, id models.FrameID) {
	payload, err := streams.JPEGCodec{}.Encode(image.NewRGBA(image.Rect(0, 0, 8, 4)))
	require.NoError(t, err)

	err = e.module.Color.Put(streams.TagPacket(id, payload))
	require.NoError(t, err)
}

func (e testEnv) putDepth(t *testing.T, id models.FrameID, depth float32) {
	data := make([]float32, 8*4)
	for i := range data {
		data[i] = depth
	}

	payload, err := e.bc4.Encode(8, 4, data)
	require.NoError(t, err)

	err = e.module.Depth.Put(streams.TagPacket(id, payload))
	require.NoError(t, err)
}

func (e testEnv) putProxies(t *testing.T, id models.FrameID, numRecords int) {
	records := make([]proxy.QuadRecord, numRecords)
	for i := range records {
		records[i] = proxy.NewQuadRecord(mgl32.Vec3{0, 0, 1}, 0.5, mgl32.Vec2{}, uint32(i%4), uint32(i/4%2), 1)
	}

	var b bytes.Buffer
	err := proxy.EncodeContainer(&b, records, make([]float32, 8*4))
	require.NoError(t, err)

	e.module.Proxies.Put(streams.Packet{FrameID: id, Payload: b.Bytes()})
}

func (e testEnv) stats() Stats {
	return e.module.Stats().(Stats)
}

func TestModuleInit(t *testing.T) {
	t.Run("missing decoders", func(t *testing.T) {
		err := (&Module{}).Init(nil)
		require.Error(t, err)
	})

	t.Run("window too small", func(t *testing.T) {
		m := &Module{
			Color:    streams.NewColorDecoder("color", streams.JPEGCodec{}),
			Depth:    streams.NewDepthDecoder("depth", nil, 0),
			Poses:    posesync.NewSynchronizer(models.NewPerspectiveCamera(1, 1), nil, 0),
			Renderer: &modules.DrawRecorder{},
		}
		err := m.Init(nil)
		require.Error(t, err)
	})

	t.Run("capacity covers a window depth frame", func(t *testing.T) {
		e := newTestEnv(t)
		require.Equal(t, "meshwarp", e.module.Name())
		require.Equal(t, 32, e.module.store.Capacity())
		require.Equal(t, 32, e.module.mesh.MaxRecords())
	})
}

func TestModuleHandleFrame(t *testing.T) {
	e := newTestEnv(t)

	t.Run("nothing is drawn before the first frames", func(t *testing.T) {
		e.module.HandleFrame()
		require.Empty(t, e.recorder.Stats(e.module.Name()))

		stats := e.stats()
		require.Equal(t, uint64(1), stats.Frames)
		require.Equal(t, models.InvalidFrameID, stats.ColorFrameID)
		require.Equal(t, 1, stats.Poses)
	})

	t.Run("depth frame is drawn with its pose", func(t *testing.T) {
		pose := e.ingestPose(t, 100, mgl32.Vec3{1, 2, 3}, 20*time.Millisecond)
		e.putColor(t, 100)
		e.putDepth(t, 100, 0.5)

		e.module.HandleFrame()

		views := e.recorder.Stats(e.module.Name())
		require.Len(t, views, 1)
		require.Equal(t, models.FrameID(100), views[0].FrameID)
		require.Equal(t, 32*16, views[0].NumVertices)
		require.Equal(t, pose.View(), e.module.camera.View())

		stats := e.stats()
		require.Equal(t, models.FrameID(100), stats.ColorFrameID)
		require.Equal(t, models.FrameID(100), stats.DepthFrameID)
		require.Equal(t, SourceDepth, stats.MeshSource)
		require.Equal(t, 20*time.Millisecond, stats.LatencyColor.Last)
		require.Equal(t, 20*time.Millisecond, stats.LatencyDepth.Last)
		require.Zero(t, stats.PoseMisses)

		_, _, ok := e.module.Poses.GetPose(100)
		require.True(t, ok)
	})

	t.Run("poses older than every stream are pruned", func(t *testing.T) {
		e.ingestPose(t, 101, mgl32.Vec3{}, 0)
		e.putColor(t, 101)
		e.putDepth(t, 101, 0.25)

		e.module.HandleFrame()

		_, _, ok := e.module.Poses.GetPose(100)
		require.False(t, ok)
		_, _, ok = e.module.Poses.GetPose(101)
		require.True(t, ok)
		require.Equal(t, 2, e.stats().LatencyColor.Count)
	})

	t.Run("proxy container wins over the depth frame", func(t *testing.T) {
		e.ingestPose(t, 102, mgl32.Vec3{}, 0)
		e.putProxies(t, 102, 5)

		e.module.HandleFrame()

		views := e.recorder.Stats(e.module.Name())
		require.Equal(t, models.FrameID(102), views[0].FrameID)
		require.Equal(t, 5*16, views[0].NumVertices)

		stats := e.stats()
		require.Equal(t, SourceProxies, stats.MeshSource)
		require.Equal(t, uint64(1), stats.ProxyPackets)
	})

	t.Run("mesh is kept when nothing new arrives", func(t *testing.T) {
		e.module.HandleFrame()

		views := e.recorder.Stats(e.module.Name())
		require.Equal(t, models.FrameID(102), views[0].FrameID)
		require.Equal(t, 5*16, views[0].NumVertices)
	})

	t.Run("corrupted container is a packet loss", func(t *testing.T) {
		e.module.Proxies.Put(streams.Packet{FrameID: 103, Payload: []byte("garbage")})
		e.putColor(t, 103)
		e.putDepth(t, 103, 0.5)

		e.module.HandleFrame()

		stats := e.stats()
		require.Equal(t, uint64(1), stats.ProxyLosses)
		require.Equal(t, models.FrameID(103), stats.MeshFrameID)
		require.Equal(t, SourceDepth, stats.MeshSource)
		require.Equal(t, uint64(1), stats.PoseMisses)
	})
}

func TestModuleProxyStreamHoldsPoses(t *testing.T) {
	e := newTestEnv(t)

	e.ingestPose(t, 190, mgl32.Vec3{}, 0)
	e.putColor(t, 190)
	e.putDepth(t, 190, 0.5)
	e.putProxies(t, 190, 4)
	e.module.HandleFrame()
	require.Equal(t, models.FrameID(190), e.stats().ProxyFrameID)

	proxyPose := e.ingestPose(t, 200, mgl32.Vec3{0, 0, 5}, 0)
	e.ingestPose(t, 210, mgl32.Vec3{}, 0)
	e.putColor(t, 210)
	e.putDepth(t, 210, 0.5)
	e.module.HandleFrame()

	stats := e.stats()
	require.Equal(t, models.FrameID(210), stats.ColorFrameID)
	require.Equal(t, models.FrameID(210), stats.DepthFrameID)
	_, _, ok := e.module.Poses.GetPose(200)
	require.True(t, ok)

	t.Run("late proxy container is built with its own pose", func(t *testing.T) {
		e.putProxies(t, 200, 4)
		e.module.HandleFrame()

		stats := e.stats()
		require.Equal(t, SourceProxies, stats.MeshSource)
		require.Equal(t, models.FrameID(200), stats.MeshFrameID)
		require.Zero(t, stats.PoseMisses)
		require.Equal(t, proxyPose.View(), e.module.camera.View())

		_, _, ok := e.module.Poses.GetPose(190)
		require.False(t, ok)
		_, _, ok = e.module.Poses.GetPose(200)
		require.True(t, ok)
	})

	t.Run("proxy stream is ignored until a container arrives", func(t *testing.T) {
		e := newTestEnv(t)

		e.ingestPose(t, 300, mgl32.Vec3{}, 0)
		e.ingestPose(t, 310, mgl32.Vec3{}, 0)
		e.putColor(t, 310)
		e.putDepth(t, 310, 0.5)
		e.module.HandleFrame()

		_, _, ok := e.module.Poses.GetPose(300)
		require.False(t, ok)
		require.Equal(t, models.InvalidFrameID, e.stats().ProxyFrameID)
	})
}

func TestModuleDepthAlignment(t *testing.T) {
	run := func(t *testing.T, flags ...string) models.FrameID {
		e := newTestEnv(t, flags...)

		e.putColor(t, 10)
		e.putDepth(t, 10, 0.5)
		e.module.HandleFrame()

		e.putDepth(t, 11, 0.5)
		e.module.HandleFrame()
		return e.stats().DepthFrameID
	}

	t.Run("depth follows the color frame", func(t *testing.T) {
		require.Equal(t, models.FrameID(10), run(t))
	})

	t.Run("newest depth without alignment", func(t *testing.T) {
		require.Equal(t, models.FrameID(11), run(t, string(featureflag.FlagDisableDepthAlignment)))
	})
}

func TestModulePosePruningFlag(t *testing.T) {
	e := newTestEnv(t, string(featureflag.FlagDisablePosePruning))

	e.ingestPose(t, 100, mgl32.Vec3{}, 0)
	e.putColor(t, 100)
	e.putDepth(t, 100, 0.5)
	e.module.HandleFrame()

	e.ingestPose(t, 101, mgl32.Vec3{}, 0)
	e.putColor(t, 101)
	e.putDepth(t, 101, 0.5)
	e.module.HandleFrame()

	_, _, ok := e.module.Poses.GetPose(100)
	require.True(t, ok)
}

func TestModuleSession(t *testing.T) {
	e := newTestEnv(t)
	e.module.Close()

	s := models.NewSession("test", time.Millisecond)
	defer s.Close()

	err := e.module.Init(s)
	require.NoError(t, err)
	go s.StartDispatchFrames()

	require.Eventually(t, func() bool {
		return e.stats().Frames > 0
	}, time.Second, time.Millisecond*5)

	e.module.Close()
}
