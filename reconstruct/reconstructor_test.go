package reconstruct

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/google/go-cmp/cmp"
	"github.com/quasar-gfx/QUASAR-client/models"
	"github.com/quasar-gfx/QUASAR-client/proxy"
	"github.com/stretchr/testify/require"
)

type identityCamera struct{}

func (identityCamera) View() mgl32.Mat4       { return mgl32.Ident4() }
func (identityCamera) Projection() mgl32.Mat4 { return mgl32.Ident4() }

func loadStore(t *testing.T, records []proxy.QuadRecord) *proxy.Store {
	var b bytes.Buffer
	err := proxy.EncodeRecords(&b, records)
	require.NoError(t, err)

	s := proxy.NewStore(len(records))
	_, err = s.Load(&b)
	require.NoError(t, err)
	return s
}

func randomRecords(n int, grid Size) []proxy.QuadRecord {
	rnd := rand.New(rand.NewSource(7))

	records := make([]proxy.QuadRecord, n)
	for i := range records {
		records[i] = proxy.NewQuadRecord(
			mgl32.Vec3{rnd.Float32(), rnd.Float32(), 1},
			0.2+rnd.Float32()*0.7,
			mgl32.Vec2{rnd.Float32(), rnd.Float32()},
			uint32(rnd.Intn(int(grid.Width))),
			uint32(rnd.Intn(int(grid.Height))),
			uint32(rnd.Intn(proxy.DefaultMaxProxySize+1)),
		)
	}
	return records
}

func TestMaxRecordsForGrid(t *testing.T) {
	require.Equal(t, 640*360*SubQuadsPerRecord, MaxRecordsForGrid(Size{Width: 640, Height: 360}))

	m := NewMesh(10)
	require.Equal(t, 10, m.MaxRecords())
	require.Len(t, m.Vertices, 10*SubQuadsPerRecord*VerticesPerSubQuad)
	require.Len(t, m.Indices, 10*SubQuadsPerRecord*IndicesPerSubQuad)
}

func TestCreateMeshFromProxies(t *testing.T) {
	grid := Size{Width: 4, Height: 4}
	offsets := proxy.NewDepthOffsets(8, 8)

	records := []proxy.QuadRecord{
		proxy.NewQuadRecord(mgl32.Vec3{0, 0, 1}, 0.5, mgl32.Vec2{0.25, 0.25}, 1, 1, 1),
		proxy.NewQuadRecord(mgl32.Vec3{0, 0, 1}, 0.5, mgl32.Vec2{0, 0}, 0, 0, 2),
	}

	r := NewReconstructor(grid, Options{})
	err := r.AppendProxies(grid, 2, loadStore(t, records))
	require.NoError(t, err)

	mesh := NewMesh(MaxRecordsForGrid(grid))
	err = r.CreateMeshFromProxies(grid, 2, offsets, identityCamera{}, mesh)
	require.NoError(t, err)
	require.Equal(t, 2*16, mesh.NumVertices)
	require.Equal(t, 2*24, mesh.NumIndices)

	vertices := mesh.ValidVertices()

	t.Run("corners are unprojected", func(t *testing.T) {
		require.True(t, vertices[0].Position.ApproxEqual(mgl32.Vec3{-0.5, -0.5, 0}))
		require.True(t, vertices[3*4+2].Position.ApproxEqual(mgl32.Vec3{0, 0, 0}))
		require.True(t, vertices[16+3*4+2].Position.ApproxEqual(mgl32.Vec3{0, 0, 0}))
	})

	t.Run("texture coordinates follow the footprint", func(t *testing.T) {
		require.True(t, vertices[0].TexCoords.ApproxEqualThreshold(mgl32.Vec2{0.25, 0.25}, 1e-4))
		require.True(t, vertices[3*4+2].TexCoords.ApproxEqualThreshold(mgl32.Vec2{0.5, 0.5}, 1e-4))
	})

	t.Run("indices stay in the record range", func(t *testing.T) {
		indices := mesh.ValidIndices()
		require.Equal(t, []uint32{0, 1, 2, 0, 2, 3}, indices[:6])

		for i, idx := range indices {
			record := i / 24
			require.GreaterOrEqual(t, idx, uint32(record*16))
			require.Less(t, idx, uint32((record+1)*16))
		}
	})

	t.Run("depth offsets are sampled at the sub-quad center", func(t *testing.T) {
		data := make([]float32, 64)
		data[2*8+2] = 0.1
		err := offsets.Set(data)
		require.NoError(t, err)

		err = r.CreateMeshFromProxies(grid, 2, offsets, identityCamera{}, mesh)
		require.NoError(t, err)

		require.InDelta(t, 0.2, mesh.Vertices[0].Position.Z(), 1e-5)
		require.InDelta(t, 0, mesh.Vertices[4].Position.Z(), 1e-5)
	})
}

func TestCreateMeshFromProxiesWithPerspective(t *testing.T) {
	grid := Size{Width: 32, Height: 16}

	camera := models.NewPerspectiveCamera(64, 32)
	camera.SetPosition(mgl32.Vec3{1, 2, 3})
	camera.UpdateViewMatrix()

	records := randomRecords(50, grid)
	r := NewReconstructor(grid, Options{})
	err := r.AppendProxies(grid, len(records), loadStore(t, records))
	require.NoError(t, err)

	mesh := NewMesh(len(records))
	err = r.CreateMeshFromProxies(grid, len(records), nil, camera, mesh)
	require.NoError(t, err)

	viewProj := camera.Projection().Mul4(camera.View())
	for i, rec := range records {
		x, y, _ := rec.Footprint()
		v := mesh.Vertices[i*16]

		clip := viewProj.Mul4x1(v.Position.Vec4(1))
		ndc := clip.Vec3().Mul(1 / clip.W())

		require.InDelta(t, float32(x)/float32(grid.Width)*2-1, ndc.X(), 1e-3)
		require.InDelta(t, float32(y)/float32(grid.Height)*2-1, ndc.Y(), 1e-3)
		require.InDelta(t, rec.Depth*2-1, ndc.Z(), 1e-3)
	}
}

func TestCreateMeshFromProxiesDeterminism(t *testing.T) {
	grid := Size{Width: 64, Height: 32}
	records := randomRecords(1000, grid)
	store := loadStore(t, records)

	offsets := proxy.NewDepthOffsets(128, 64)
	data := make([]float32, 128*64)
	for i := range data {
		data[i] = float32(i%13) / 1000
	}
	require.NoError(t, offsets.Set(data))

	camera := models.NewPerspectiveCamera(128, 64)

	build := func(opts Options) *Mesh {
		r := NewReconstructor(grid, opts)
		err := r.AppendProxies(grid, len(records), store)
		require.NoError(t, err)

		mesh := NewMesh(len(records))
		err = r.CreateMeshFromProxies(grid, len(records), offsets, camera, mesh)
		require.NoError(t, err)
		return mesh
	}

	serial := build(Options{Serial: true})
	parallel := build(Options{Workers: 4, BatchSize: 7})

	require.Empty(t, cmp.Diff(serial.ValidVertices(), parallel.ValidVertices()))
	require.Empty(t, cmp.Diff(serial.ValidIndices(), parallel.ValidIndices()))

	again := build(Options{Workers: 3, BatchSize: 64})
	require.Empty(t, cmp.Diff(parallel.ValidVertices(), again.ValidVertices()))
}

func TestCreateMeshFromProxiesEdgeCases(t *testing.T) {
	grid := Size{Width: 4, Height: 4}

	t.Run("records beyond the mesh capacity", func(t *testing.T) {
		records := randomRecords(5, grid)
		r := NewReconstructor(grid, Options{})
		err := r.AppendProxies(grid, 5, loadStore(t, records))
		require.NoError(t, err)

		mesh := NewMesh(4)
		err = r.CreateMeshFromProxies(grid, 5, nil, identityCamera{}, mesh)
		require.Error(t, err)
		require.True(t, errors.IsType(err, ErrTypeCapacity))
		require.Zero(t, mesh.NumVertices)
	})

	t.Run("records beyond the appended proxies", func(t *testing.T) {
		records := randomRecords(2, grid)
		r := NewReconstructor(grid, Options{})
		err := r.AppendProxies(grid, 2, loadStore(t, records))
		require.NoError(t, err)

		err = r.CreateMeshFromProxies(grid, 3, nil, identityCamera{}, NewMesh(4))
		require.Error(t, err)
		require.True(t, errors.IsType(err, ErrTypeCapacity))

		err = r.AppendProxies(grid, 3, loadStore(t, records))
		require.Error(t, err)
	})

	t.Run("records past the last one are untouched", func(t *testing.T) {
		records := randomRecords(3, grid)
		r := NewReconstructor(grid, Options{})
		err := r.AppendProxies(grid, 3, loadStore(t, records))
		require.NoError(t, err)

		sentinel := Vertex{Position: mgl32.Vec3{42, 42, 42}}
		mesh := NewMesh(5)
		for i := range mesh.Vertices {
			mesh.Vertices[i] = sentinel
		}

		err = r.CreateMeshFromProxies(grid, 3, nil, identityCamera{}, mesh)
		require.NoError(t, err)

		for _, v := range mesh.Vertices[3*16:] {
			require.Equal(t, sentinel, v)
		}
		for _, idx := range mesh.Indices[3*24:] {
			require.Zero(t, idx)
		}
	})

	t.Run("zero size footprint is degenerate", func(t *testing.T) {
		records := []proxy.QuadRecord{
			proxy.NewQuadRecord(mgl32.Vec3{0, 0, 1}, 0.5, mgl32.Vec2{}, 2, 2, 0),
		}
		r := NewReconstructor(grid, Options{})
		err := r.AppendProxies(grid, 1, loadStore(t, records))
		require.NoError(t, err)

		mesh := NewMesh(1)
		err = r.CreateMeshFromProxies(grid, 1, nil, identityCamera{}, mesh)
		require.NoError(t, err)

		for _, v := range mesh.ValidVertices() {
			require.Equal(t, mesh.Vertices[0].Position, v.Position)
		}
	})

	t.Run("depth offsets are clipped at the boundary", func(t *testing.T) {
		offsets := proxy.NewDepthOffsets(8, 8)
		data := make([]float32, 64)
		data[63] = 0.25
		require.NoError(t, offsets.Set(data))

		records := []proxy.QuadRecord{
			proxy.NewQuadRecord(mgl32.Vec3{0, 0, 1}, 0.5, mgl32.Vec2{}, 3, 3, 16),
		}
		r := NewReconstructor(grid, Options{})
		err := r.AppendProxies(grid, 1, loadStore(t, records))
		require.NoError(t, err)

		mesh := NewMesh(1)
		err = r.CreateMeshFromProxies(grid, 1, offsets, identityCamera{}, mesh)
		require.NoError(t, err)

		// The last sub-quad center lies outside the offsets and samples the
		// corner texel.
		require.InDelta(t, 0.5, mesh.Vertices[3*4].Position.Z(), 1e-5)
	})
}
