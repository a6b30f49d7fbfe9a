package websocket

import (
	"context"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/quasar-gfx/QUASAR-client/posesync"
)

// PoseChannel is a posesync.Transport sending poses over a stream connection.
// Poses sent by the renderer are ingested by the StreamHandler so Receive
// only returns when its context is done.
type PoseChannel struct {
	msgs chan Msg
}

func NewPoseChannel(size int) *PoseChannel {
	return &PoseChannel{
		msgs: make(chan Msg, size),
	}
}

// Send queues a pose message. It fails without blocking when the queue is
// full.
func (c *PoseChannel) Send(msg []byte) error {
	select {
	case c.msgs <- Msg{Kind: MsgKindPose, Data: msg}:
		return nil
	default:
		return errors.New("pose channel is full").
			WithType(posesync.ErrTypePacketLoss)
	}
}

func (c *PoseChannel) Receive(ctx context.Context) ([]byte, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (c *PoseChannel) Close() error {
	return nil
}

func (c *PoseChannel) Outgoing() <-chan Msg {
	return c.msgs
}
