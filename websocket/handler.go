package websocket

import (
	"context"
	"sync"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/quasar-gfx/QUASAR-client/streams"
	"golang.org/x/net/websocket"
)

const (
	sendChanSize    = 64
	receiveChanSize = 256
)

// Handler represents a stream connection handler.
type Handler interface {
	// Handles the connection to the remote renderer.
	HandleConnect(conn *websocket.Conn)

	// Handles a color packet.
	HandleColor(ctx context.Context, msg Msg) error

	// Handles a depth packet.
	HandleDepth(ctx context.Context, msg Msg) error

	// Handles a proxy container packet.
	HandleProxy(ctx context.Context, msg Msg) error

	// Handles a pose message.
	HandlePose(ctx context.Context, msg Msg) error

	// Handles the disconnection from the remote renderer.
	HandleDisconnect(error)

	// The messages to send to the remote renderer.
	Outgoing() <-chan Msg

	// Creates a message receiver used to receive incoming messages.
	Receiver() Receiver

	// Creates a message sender used to send outgoing messages.
	Sender() Sender

	// Closes the handler and releases its allocated resources.
	Close()

	// The time the remote renderer can stay silent before being
	// disconnected.
	IdleTimeout() time.Duration

	GetClientID() string
}

// Handle runs the given handler on the connection until the context is done
// or the connection fails.
func Handle(ctx context.Context, conn *websocket.Conn, h Handler) {
	handler := handler{
		Conn:    conn,
		Handler: h,
	}

	handler.Handle(ctx)
}

type handler struct {
	// The WebSocket connection.
	Conn *websocket.Conn

	// The stream handler.
	Handler Handler

	sendChan       chan Msg
	receiveChan    chan Msg
	sender         Sender
	receiver       Receiver
	disconnectChan chan error
}

func (h *handler) Handle(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	h.Handler.HandleConnect(h.Conn)

	h.disconnectChan = make(chan error, 8)
	defer func() {
		for len(h.disconnectChan) != 0 {
			<-h.disconnectChan
		}
	}()

	var wg sync.WaitGroup

	h.sendChan = make(chan Msg, sendChanSize)
	h.sender = h.Handler.Sender()

	wg.Add(1)
	go func() {
		defer wg.Done()
		h.startSending(ctx)
	}()

	h.receiveChan = make(chan Msg, receiveChanSize)
	h.receiver = h.Handler.Receiver()

	wg.Add(1)
	go func() {
		defer wg.Done()
		h.startReceiving(ctx)
	}()

	idleTimeout := h.Handler.IdleTimeout()
	idleTimer := time.NewTimer(idleTimeout)
	defer idleTimer.Stop()

	outgoing := h.Handler.Outgoing()

	for ctx.Err() == nil {
		select {
		case <-ctx.Done():
			h.handleDisconnect(ctx.Err())

		case <-idleTimer.C:
			h.disconnect(errors.New("idle connection").WithTag("duration", idleTimeout))

		case msg := <-outgoing:
			select {
			case h.sendChan <- msg:
			default:
				// Poses are superseded by the next one.
			}

		case msg := <-h.receiveChan:
			idleTimer.Stop()
			idleTimer.Reset(idleTimeout)

			if err := h.handleMessage(ctx, msg); err != nil {
				h.disconnect(errors.New("handling message failed").Wrap(err))
			}

		case err := <-h.disconnectChan:
			h.handleDisconnect(err)
			if ctx.Err() == nil {
				// cancel context so go routines can cleanly exit
				cancel()
			}
		}
	}

	wg.Wait()
}

func (h *handler) startSending(ctx context.Context) {
	defer func() {
		for len(h.sendChan) != 0 {
			<-h.sendChan
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case msg := <-h.sendChan:
			if _, err := h.sender(msg); err != nil {
				h.disconnect(errors.New("sending message failed").Wrap(err))
				return
			}
		}
	}
}

func (h *handler) startReceiving(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return

		default:
			msg, _, err := h.receiver()
			if errors.IsType(err, ErrTypeInvalidMsg) {
				continue
			}
			if err != nil {
				h.disconnect(errors.New("receiving message failed").Wrap(err))
				return
			}

			select {
			case <-ctx.Done():
				return
			case h.receiveChan <- msg:
			}
		}
	}
}

// handleMessage routes a message to its handler. Packet losses are not
// connection errors: the stream carries on with the next packet.
func (h *handler) handleMessage(ctx context.Context, msg Msg) error {
	var err error

	switch msg.Kind {
	case MsgKindColor:
		err = h.Handler.HandleColor(ctx, msg)

	case MsgKindDepth:
		err = h.Handler.HandleDepth(ctx, msg)

	case MsgKindProxy:
		err = h.Handler.HandleProxy(ctx, msg)

	case MsgKindPose:
		err = h.Handler.HandlePose(ctx, msg)
	}

	if isPacketLoss(err) {
		return nil
	}
	return err
}

func (h *handler) disconnect(err error) {
	select {
	case h.disconnectChan <- err:
	default:
	}
}

func (h *handler) handleDisconnect(err error) {
	h.Conn.Close()
	h.Handler.HandleDisconnect(err)
}

func isPacketLoss(err error) bool {
	return err != nil && errors.IsType(err, streams.ErrTypePacketLoss)
}
