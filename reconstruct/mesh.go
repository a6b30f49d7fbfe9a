package reconstruct

import (
	"github.com/go-gl/mathgl/mgl32"
)

const (
	// SubQuadsPerRecord is the number of sub-quads a macro-quad is split
	// into, whatever its footprint size.
	SubQuadsPerRecord = 4

	VerticesPerSubQuad = 4
	IndicesPerSubQuad  = 6

	verticesPerRecord = SubQuadsPerRecord * VerticesPerSubQuad
	indicesPerRecord  = SubQuadsPerRecord * IndicesPerSubQuad
)

// Size is a size in cells of a screen-space grid.
type Size struct {
	Width  uint32 `json:"width"`
	Height uint32 `json:"height"`
}

func (s Size) Area() int {
	return int(s.Width) * int(s.Height)
}

// MaxRecordsForGrid returns the number of records a mesh must be able to hold
// for the given macro-quad grid.
func MaxRecordsForGrid(gridSize Size) int {
	return gridSize.Area() * SubQuadsPerRecord
}

type Vertex struct {
	Position  mgl32.Vec3
	TexCoords mgl32.Vec2
	Normal    mgl32.Vec3
}

// Mesh is a vertex and index buffer sized for a maximum number of records.
// Only the first NumVertices vertices and NumIndices indices are valid.
type Mesh struct {
	Vertices []Vertex
	Indices  []uint32

	NumVertices int
	NumIndices  int
}

// NewMesh allocates a mesh able to hold maxRecords records.
func NewMesh(maxRecords int) *Mesh {
	return &Mesh{
		Vertices: make([]Vertex, maxRecords*verticesPerRecord),
		Indices:  make([]uint32, maxRecords*indicesPerRecord),
	}
}

// MaxRecords returns the number of records the mesh can hold.
func (m *Mesh) MaxRecords() int {
	return min(len(m.Vertices)/verticesPerRecord, len(m.Indices)/indicesPerRecord)
}

func (m *Mesh) ValidVertices() []Vertex {
	return m.Vertices[:m.NumVertices]
}

func (m *Mesh) ValidIndices() []uint32 {
	return m.Indices[:m.NumIndices]
}
