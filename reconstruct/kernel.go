package reconstruct

import (
	"github.com/go-gl/mathgl/mgl32"
	"github.com/quasar-gfx/QUASAR-client/proxy"
)

// subQuadCorners are the corners of a sub-quad in units of half a footprint,
// counter-clockwise from the origin.
var subQuadCorners = [VerticesPerSubQuad][2]float32{
	{0, 0},
	{1, 0},
	{1, 1},
	{0, 1},
}

var subQuadIndices = [IndicesPerSubQuad]uint32{0, 1, 2, 0, 2, 3}

// kernel turns records into sub-quads. It only reads its fields so a single
// kernel can run on many goroutines.
type kernel struct {
	gridSize      Size
	depthFactor   float32
	depthOffsets  *proxy.DepthOffsets
	invViewProj   mgl32.Mat4
	invGridWidth  float32
	invGridHeight float32
}

func newKernel(gridSize Size, depthFactor uint32, offsets *proxy.DepthOffsets, camera Camera) kernel {
	return kernel{
		gridSize:      gridSize,
		depthFactor:   float32(depthFactor),
		depthOffsets:  offsets,
		invViewProj:   camera.Projection().Mul4(camera.View()).Inv(),
		invGridWidth:  1 / float32(gridSize.Width),
		invGridHeight: 1 / float32(gridSize.Height),
	}
}

// fill writes the sub-quads of the records starting at index first. Record i
// owns vertices [i*16, i*16+16) and indices [i*24, i*24+24).
func (k kernel) fill(records []proxy.QuadRecord, first int, mesh *Mesh) {
	for i, r := range records {
		index := first + i
		k.fillRecord(r, mesh.Vertices[index*verticesPerRecord:(index+1)*verticesPerRecord],
			mesh.Indices[index*indicesPerRecord:(index+1)*indicesPerRecord],
			uint32(index*verticesPerRecord))
	}
}

// fillRecord writes the 2x2 sub-quads of one record. Sub-quads of a zero-size
// footprint are skipped by emitting them degenerate: their four corners
// collapse onto the footprint origin, so they keep their fixed output slots
// and rasterize to nothing.
func (k kernel) fillRecord(r proxy.QuadRecord, vertices []Vertex, indices []uint32, baseVertex uint32) {
	x, y, size := r.Footprint()
	origin := mgl32.Vec2{float32(x), float32(y)}
	half := float32(size) / 2
	uv := r.TexCoord()
	normal := r.Normal()

	for sq := 0; sq < SubQuadsPerRecord; sq++ {
		subOrigin := origin.Add(mgl32.Vec2{
			float32(sq%2) * half,
			float32(sq/2) * half,
		})

		depth := r.Depth + k.depthOffset(subOrigin.Add(mgl32.Vec2{half / 2, half / 2}))
		depth = mgl32.Clamp(depth, 0, 1)

		for c, corner := range subQuadCorners {
			cell := subOrigin.Add(mgl32.Vec2{corner[0] * half, corner[1] * half})
			rel := cell.Sub(origin)

			vertices[sq*VerticesPerSubQuad+c] = Vertex{
				Position: k.unproject(cell, depth),
				TexCoords: mgl32.Vec2{
					uv.X() + rel.X()*k.invGridWidth,
					uv.Y() + rel.Y()*k.invGridHeight,
				},
				Normal: normal,
			}
		}

		base := baseVertex + uint32(sq*VerticesPerSubQuad)
		for j, idx := range subQuadIndices {
			indices[sq*IndicesPerSubQuad+j] = base + idx
		}
	}
}

// depthOffset samples the depth offsets at a grid position. The offsets grid
// is depthFactor times finer than the macro-quad grid.
func (k kernel) depthOffset(cell mgl32.Vec2) float32 {
	if k.depthOffsets == nil {
		return 0
	}

	return k.depthOffsets.At(
		int(cell.X()*k.depthFactor),
		int(cell.Y()*k.depthFactor),
	)
}

// unproject returns the world position of a grid position at the given
// window depth.
func (k kernel) unproject(cell mgl32.Vec2, depth float32) mgl32.Vec3 {
	ndc := mgl32.Vec4{
		cell.X()*k.invGridWidth*2 - 1,
		cell.Y()*k.invGridHeight*2 - 1,
		depth*2 - 1,
		1,
	}

	p := k.invViewProj.Mul4x1(ndc)
	if p.W() == 0 {
		return p.Vec3()
	}
	return p.Vec3().Mul(1 / p.W())
}
