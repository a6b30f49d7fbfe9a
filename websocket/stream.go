package websocket

import (
	"context"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/quasar-gfx/QUASAR-client/featureflag"
	"github.com/quasar-gfx/QUASAR-client/posesync"
	"github.com/quasar-gfx/QUASAR-client/streams"
	"golang.org/x/net/websocket"
)

// HeaderClientID is the header carrying the client id when connecting to a
// remote renderer.
const HeaderClientID = "X-Quasar-Client-Id"

// StreamHandler routes the streams of a remote renderer to their decoders.
// Every field is optional: messages for a missing decoder are ignored.
type StreamHandler struct {
	// The time the remote renderer can stay silent before being
	// disconnected.
	ClientIdleTimeout time.Duration

	// The color stream decoder.
	Color *streams.ColorDecoder

	// The depth stream decoder.
	Depth *streams.DepthDecoder

	// The register receiving proxy container packets.
	Proxies *streams.Register

	// The synchronizer ingesting the renderer poses.
	Poses *posesync.Synchronizer

	// The channel of the poses sent over the connection.
	PoseChannel *PoseChannel

	FeatureFlags featureflag.FeatureFlag

	conn     *websocket.Conn
	clientID string
}

func (h *StreamHandler) HandleConnect(conn *websocket.Conn) {
	h.conn = conn
	if config := conn.Config(); config != nil && config.Header != nil {
		h.clientID = config.Header.Get(HeaderClientID)
	}
}

func (h *StreamHandler) HandleColor(ctx context.Context, msg Msg) error {
	if h.Color == nil {
		return nil
	}
	return h.Color.Put(msg.Data)
}

func (h *StreamHandler) HandleDepth(ctx context.Context, msg Msg) error {
	if h.Depth == nil {
		return nil
	}
	return h.Depth.Put(msg.Data)
}

func (h *StreamHandler) HandleProxy(ctx context.Context, msg Msg) error {
	if h.Proxies == nil {
		return nil
	}

	p, err := streams.ParsePacket(msg.Data)
	if err != nil {
		return err
	}

	h.Proxies.Put(p)
	return nil
}

func (h *StreamHandler) HandlePose(ctx context.Context, msg Msg) error {
	if h.Poses == nil {
		return nil
	}

	if err := h.Poses.Ingest(msg.Data); err != nil {
		return errors.New("ingesting pose failed").
			WithType(streams.ErrTypePacketLoss).
			Wrap(err)
	}
	return nil
}

func (h *StreamHandler) HandleDisconnect(err error) {
}

func (h *StreamHandler) Outgoing() <-chan Msg {
	if h.PoseChannel == nil {
		return nil
	}
	return h.PoseChannel.Outgoing()
}

func (h *StreamHandler) Receiver() Receiver {
	return NewReceiver(h.conn)
}

func (h *StreamHandler) Sender() Sender {
	return NewSender(h.conn)
}

func (h *StreamHandler) Close() {
}

func (h *StreamHandler) IdleTimeout() time.Duration {
	return h.ClientIdleTimeout
}

func (h *StreamHandler) GetClientID() string {
	return h.clientID
}

// Dial connects to a remote renderer.
func Dial(ctx context.Context, url, origin, clientID string) (*websocket.Conn, error) {
	config, err := websocket.NewConfig(url, origin)
	if err != nil {
		return nil, errors.New("creating websocket config failed").
			WithTag("url", url).
			Wrap(err)
	}
	config.Header.Set(HeaderClientID, clientID)

	conn, err := config.DialContext(ctx)
	if err != nil {
		return nil, errors.New("dialing remote renderer failed").
			WithTag("url", url).
			Wrap(err)
	}
	return conn, nil
}
