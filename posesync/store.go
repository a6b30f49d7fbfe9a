package posesync

import (
	"sync"

	"github.com/quasar-gfx/QUASAR-client/models"
)

// DefaultMaxPoses is the default number of poses kept by a store.
const DefaultMaxPoses = 1024

// poseStore is an insertion ordered map of poses keyed by frame id. When
// full, the oldest insertion is evicted.
type poseStore struct {
	mutex    sync.RWMutex
	maxPoses int
	poses    map[models.FrameID]models.Pose
	order    []models.FrameID
}

func newPoseStore(maxPoses int) *poseStore {
	if maxPoses <= 0 {
		maxPoses = DefaultMaxPoses
	}

	return &poseStore{
		maxPoses: maxPoses,
		poses:    make(map[models.FrameID]models.Pose, maxPoses),
		order:    make([]models.FrameID, 0, maxPoses),
	}
}

// insert stores a pose. It returns false without modifying the store when the
// id is already present. The second value reports whether an older pose was
// evicted to make room.
func (s *poseStore) insert(id models.FrameID, p models.Pose) (inserted, evicted bool) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, ok := s.poses[id]; ok {
		return false, false
	}

	if len(s.order) >= s.maxPoses {
		delete(s.poses, s.order[0])
		s.order = append(s.order[:0], s.order[1:]...)
		evicted = true
	}

	s.poses[id] = p
	s.order = append(s.order, id)
	return true, evicted
}

func (s *poseStore) get(id models.FrameID) (models.Pose, bool) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	p, ok := s.poses[id]
	return p, ok
}

// removeLessThan removes the poses with an id strictly lower than the given
// one and returns how many were removed.
func (s *poseStore) removeLessThan(id models.FrameID) int {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	kept := s.order[:0]
	for _, poseID := range s.order {
		if poseID < id {
			delete(s.poses, poseID)
			continue
		}
		kept = append(kept, poseID)
	}

	removed := len(s.order) - len(kept)
	s.order = kept
	return removed
}

func (s *poseStore) len() int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	return len(s.order)
}

func (s *poseStore) ids() []models.FrameID {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	ids := make([]models.FrameID, len(s.order))
	copy(ids, s.order)
	return ids
}
