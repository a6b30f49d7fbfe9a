// Package reconstruct expands quad proxies into a drawable mesh.
package reconstruct

import (
	"runtime"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/quasar-gfx/QUASAR-client/proxy"
	"golang.org/x/sync/errgroup"
)

const defaultBatchSize = 1024

// Camera is the source camera a proxy window was rendered from.
type Camera interface {
	View() mgl32.Mat4
	Projection() mgl32.Mat4
}

type Options struct {
	// The ratio between the depth offsets and the macro-quad grid
	// resolutions. Defaults to proxy.DefaultDepthFactor.
	DepthFactor uint32

	// The maximum number of goroutines filling the mesh. Defaults to
	// GOMAXPROCS.
	Workers int

	// The number of records filled by a goroutine at once.
	BatchSize int

	// Fills the mesh from the calling goroutine.
	Serial bool
}

// Stats describes the last reconstruction.
type Stats struct {
	NumRecords            int           `json:"num_records"`
	TimeToAppendProxies   time.Duration `json:"time_to_append_proxies"`
	TimeToFillOutputQuads time.Duration `json:"time_to_fill_output_quads"`
	TimeToCreateMesh      time.Duration `json:"time_to_create_mesh"`
}

// Reconstructor builds meshes from the proxy windows appended to it. It is
// not safe for concurrent use.
type Reconstructor struct {
	gridSize Size
	opts     Options
	input    []proxy.QuadRecord
	stats    Stats
}

// NewReconstructor creates a reconstructor for the given macro-quad grid.
func NewReconstructor(gridSize Size, opts Options) *Reconstructor {
	if opts.DepthFactor == 0 {
		opts.DepthFactor = proxy.DefaultDepthFactor
	}
	if opts.Workers <= 0 {
		opts.Workers = runtime.GOMAXPROCS(0)
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}

	return &Reconstructor{
		gridSize: gridSize,
		opts:     opts,
		input:    make([]proxy.QuadRecord, 0, MaxRecordsForGrid(gridSize)),
	}
}

// AppendProxies copies the first numRecords records of the store into the
// reconstruction input.
func (r *Reconstructor) AppendProxies(gridSize Size, numRecords int, store *proxy.Store) error {
	start := time.Now()

	records := store.Records()
	if numRecords > len(records) {
		return errors.New("not enough records in proxy store").
			WithType(ErrTypeCapacity).
			WithTag("records", numRecords).
			WithTag("available", len(records))
	}

	r.gridSize = gridSize
	r.input = append(r.input[:0], records[:numRecords]...)

	r.stats.TimeToAppendProxies = time.Since(start)
	instrumentStage(appendProxiesStage, r.stats.TimeToAppendProxies)
	return nil
}

// CreateMeshFromProxies fills the mesh with the sub-quads of the first
// numRecords appended records, unprojected with the inverse view projection
// of the source camera. Records are processed independently and in parallel
// unless the Serial option is set; both produce the same mesh.
func (r *Reconstructor) CreateMeshFromProxies(targetScreenSize Size, numRecords int, depthOffsets *proxy.DepthOffsets, camera Camera, mesh *Mesh) error {
	start := time.Now()

	if numRecords > mesh.MaxRecords() {
		err := errors.New("records exceed mesh capacity").
			WithType(ErrTypeCapacity).
			WithTag("records", numRecords).
			WithTag("capacity", mesh.MaxRecords())
		instrumentCapacityError()
		return err
	}

	if numRecords > len(r.input) {
		err := errors.New("records exceed appended proxies").
			WithType(ErrTypeCapacity).
			WithTag("records", numRecords).
			WithTag("appended", len(r.input))
		instrumentCapacityError()
		return err
	}

	if targetScreenSize.Area() == 0 {
		targetScreenSize = r.gridSize
	}

	k := newKernel(targetScreenSize, r.opts.DepthFactor, depthOffsets, camera)
	records := r.input[:numRecords]

	fillStart := time.Now()
	if r.opts.Serial || numRecords <= r.opts.BatchSize {
		k.fill(records, 0, mesh)
	} else {
		var g errgroup.Group
		g.SetLimit(r.opts.Workers)

		for first := 0; first < numRecords; first += r.opts.BatchSize {
			last := min(first+r.opts.BatchSize, numRecords)

			g.Go(func() error {
				k.fill(records[first:last], first, mesh)
				return nil
			})
		}
		g.Wait()
	}
	r.stats.TimeToFillOutputQuads = time.Since(fillStart)

	mesh.NumVertices = numRecords * verticesPerRecord
	mesh.NumIndices = numRecords * indicesPerRecord

	r.stats.NumRecords = numRecords
	r.stats.TimeToCreateMesh = time.Since(start)
	instrumentStage(fillOutputQuadsStage, r.stats.TimeToFillOutputQuads)
	instrumentStage(createMeshStage, r.stats.TimeToCreateMesh)
	return nil
}

func (r *Reconstructor) GridSize() Size {
	return r.gridSize
}

func (r *Reconstructor) Stats() Stats {
	return r.stats
}
