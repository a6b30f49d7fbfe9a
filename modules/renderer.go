package modules

import (
	"sync"

	"github.com/quasar-gfx/QUASAR-client/models"
)

// DrawStats describes the frames drawn for a module view.
type DrawStats struct {
	Frames      uint64         `json:"frames"`
	FrameID     models.FrameID `json:"frame_id"`
	NumVertices int            `json:"num_vertices"`
	NumIndices  int            `json:"num_indices"`
}

// DrawRecorder is a renderer that records what it is asked to draw. It is
// used when no GPU renderer is attached and in tests.
type DrawRecorder struct {
	// An optional renderer the frames are forwarded to.
	Next Renderer

	mutex sync.Mutex
	stats map[string][]DrawStats
}

func (r *DrawRecorder) Draw(f Frame) {
	r.mutex.Lock()
	if r.stats == nil {
		r.stats = make(map[string][]DrawStats)
	}

	views := r.stats[f.Module]
	for len(views) <= f.View {
		views = append(views, DrawStats{})
	}

	s := &views[f.View]
	s.Frames++
	s.FrameID = f.FrameID
	if f.Mesh != nil {
		s.NumVertices = f.Mesh.NumVertices
		s.NumIndices = f.Mesh.NumIndices
	}
	r.stats[f.Module] = views
	r.mutex.Unlock()

	if r.Next != nil {
		r.Next.Draw(f)
	}
}

// Stats returns the draw statistics of the given module views.
func (r *DrawRecorder) Stats(module string) []DrawStats {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	views := r.stats[module]
	stats := make([]DrawStats, len(views))
	copy(stats, views)
	return stats
}

// Snapshot returns the draw statistics of every module.
func (r *DrawRecorder) Snapshot() map[string][]DrawStats {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	snapshot := make(map[string][]DrawStats, len(r.stats))
	for module, views := range r.stats {
		stats := make([]DrawStats, len(views))
		copy(stats, views)
		snapshot[module] = stats
	}
	return snapshot
}
