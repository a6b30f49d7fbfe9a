package posesync

const (
	// A pose message could not be decoded.
	ErrTypeInvalidMessage = "invalid_pose_message"

	// A pose could not be delivered. Poses are not retried.
	ErrTypePacketLoss = "packet_loss"
)
