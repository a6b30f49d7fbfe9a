package models

import (
	"sync"
	"time"
)

// FrameID correlates the pose, color, depth and proxy data produced for the
// same logical instant. It is minted by the sender and is monotonically
// non-decreasing. Identifiers are not contiguous since frames can be dropped
// in transit.
type FrameID uint64

// InvalidFrameID is returned by streams that have not produced a frame yet.
const InvalidFrameID FrameID = 0

// MinFrameID returns the smallest of the given ids. It is the value to prune
// the pose store with since a pose is needed until every stream moved past it.
func MinFrameID(ids ...FrameID) FrameID {
	if len(ids) == 0 {
		return InvalidFrameID
	}

	min := ids[0]
	for _, id := range ids[1:] {
		if id < min {
			min = id
		}
	}
	return min
}

// A frame id generator that produces strictly increasing ids derived from
// the clock in microseconds.
type FrameIDGenerator struct {
	// The function that returns the current time. Defaults to time.Now.
	Clock func() time.Time

	mutex  sync.Mutex
	lastID FrameID
}

// New returns a new frame id. It is greater than any id previously returned.
func (g *FrameIDGenerator) New() FrameID {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	clock := g.Clock
	if clock == nil {
		clock = time.Now
	}

	id := FrameID(clock().UnixMicro())
	if id <= g.lastID {
		id = g.lastID + 1
	}
	g.lastID = id
	return id
}

// Last returns the last generated id.
func (g *FrameIDGenerator) Last() FrameID {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	return g.lastID
}
