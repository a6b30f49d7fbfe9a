// Package posesync correlates the poses sent to the remote renderer with the
// frames it streams back.
package posesync

import (
	"context"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/quasar-gfx/QUASAR-client/models"
)

// PoseSource is the camera whose pose is published.
type PoseSource interface {
	Pose() models.Pose
}

// Synchronizer keeps the poses frames were rendered with, keyed by frame id.
// SendPose and the lookups are called from the render loop while Receive runs
// in its own goroutine.
type Synchronizer struct {
	// The camera published by SendPose.
	Camera PoseSource

	// The channel poses are sent and received on.
	Transport Transport

	// The function that returns the current time. Defaults to time.Now.
	Clock func() time.Time

	ids   models.FrameIDGenerator
	poses *poseStore
}

// NewSynchronizer creates a synchronizer keeping up to maxPoses poses. A
// value lower than 1 uses DefaultMaxPoses.
func NewSynchronizer(camera PoseSource, transport Transport, maxPoses int) *Synchronizer {
	s := &Synchronizer{
		Camera:    camera,
		Transport: transport,
		poses:     newPoseStore(maxPoses),
	}
	s.ids.Clock = s.now
	return s
}

// SendPose stamps the current camera pose with a new frame id, keeps it for
// later lookups and sends it to the remote renderer. Send failures are
// counted and returned but the pose is kept: the renderer may still get a
// later one and frames are never waited for.
func (s *Synchronizer) SendPose() (models.FrameID, error) {
	id := s.ids.New()
	pose := s.Camera.Pose().WithTimestamp(s.now())
	s.store(id, pose)

	msg, err := MarshalPose(id, pose)
	if err != nil {
		instrumentPoseError(sentDirection, err)
		return id, err
	}

	if s.Transport == nil {
		return id, nil
	}

	if err := s.Transport.Send(msg); err != nil {
		instrumentPoseError(sentDirection, err)
		return id, errors.New("sending pose failed").
			WithType(ErrTypePacketLoss).
			WithTag("frame_id", id).
			Wrap(err)
	}

	instrumentPoseMsg(sentDirection)
	return id, nil
}

// Ingest decodes a pose message and stores the pose. A pose already stored
// under the same frame id is kept as is.
func (s *Synchronizer) Ingest(msg []byte) error {
	id, pose, err := UnmarshalPose(msg)
	if err != nil {
		instrumentPoseError(receivedDirection, err)
		return err
	}

	instrumentPoseMsg(receivedDirection)
	s.store(id, pose)
	return nil
}

// Receive ingests the messages arriving on the transport until the context
// is done or the transport fails. Malformed messages are logged and skipped.
func (s *Synchronizer) Receive(ctx context.Context) error {
	for {
		msg, err := s.Transport.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		if err := s.Ingest(msg); err != nil {
			logs.Warn(errors.New("ingesting pose failed").Wrap(err))
		}
	}
}

// GetPose returns the pose stored for the given frame id and the time elapsed
// since it was stamped, never negative. A miss returns false and leaves the
// store untouched.
func (s *Synchronizer) GetPose(id models.FrameID) (models.Pose, time.Duration, bool) {
	pose, ok := s.poses.get(id)
	if !ok {
		instrumentLookup(false, 0)
		return models.Pose{}, 0, false
	}

	elapsed := max(s.now().Sub(pose.Timestamp), 0)
	instrumentLookup(true, elapsed)
	return pose, elapsed, true
}

// RemovePosesLessThan removes the poses with a frame id strictly lower than
// the given one. Callers pass the lowest frame id still in use by a stream.
func (s *Synchronizer) RemovePosesLessThan(id models.FrameID) int {
	removed := s.poses.removeLessThan(id)
	instrumentStoreSize(s.poses.len(), false)
	return removed
}

// Len returns the number of stored poses.
func (s *Synchronizer) Len() int {
	return s.poses.len()
}

// FrameIDs returns the stored frame ids in insertion order.
func (s *Synchronizer) FrameIDs() []models.FrameID {
	return s.poses.ids()
}

// LastFrameID returns the id of the last pose sent.
func (s *Synchronizer) LastFrameID() models.FrameID {
	return s.ids.Last()
}

func (s *Synchronizer) store(id models.FrameID, pose models.Pose) {
	inserted, evicted := s.poses.insert(id, pose)
	if !inserted {
		logs.WithTag("frame_id", id).Debug("duplicate pose ignored")
		return
	}
	instrumentStoreSize(s.poses.len(), evicted)
}

func (s *Synchronizer) now() time.Time {
	if s.Clock != nil {
		return s.Clock()
	}
	return time.Now()
}
