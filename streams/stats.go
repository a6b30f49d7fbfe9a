package streams

import (
	"time"

	"github.com/quasar-gfx/QUASAR-client/models"
)

// Stats describes the activity of a stream decoder.
type Stats struct {
	FrameID      models.FrameID `json:"frame_id"`
	Received     uint64         `json:"received"`
	Dropped      uint64         `json:"dropped"`
	Decoded      uint64         `json:"decoded"`
	PacketLosses uint64         `json:"packet_losses"`
	TimeToDecode time.Duration  `json:"time_to_decode"`
}
