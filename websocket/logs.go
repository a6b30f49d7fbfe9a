package websocket

import (
	"context"
	"io"
	"net"
	"sync"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"golang.org/x/net/websocket"
)

const (
	clientIDTag = "client_id"
	endpointTag = "endpoint"
	msgTypeTag  = "msg_type"
)

func HandlerWithLogs(h Handler, summaryInterval time.Duration) Handler {
	ctx, cancel := context.WithCancel(context.Background())

	handler := &handlerWithLogs{
		Handler:            h,
		summaryInterval:    summaryInterval,
		closeSummaryWorker: cancel,
		counter:            make(map[string]int),
	}

	go handler.startSummaryWorker(ctx)
	return handler
}

type handlerWithLogs struct {
	Handler

	endpoint string

	summaryInterval    time.Duration
	closeSummaryWorker func()
	counterMutex       sync.Mutex
	counter            map[string]int
}

func (h *handlerWithLogs) HandleConnect(conn *websocket.Conn) {
	h.Handler.HandleConnect(conn)

	if config := conn.Config(); config != nil && config.Location != nil {
		h.endpoint = config.Location.String()
	}

	logs.WithTag(clientIDTag, h.GetClientID()).
		WithTag(endpointTag, h.endpoint).
		Info("connected to remote renderer")
}

func (h *handlerWithLogs) HandleColor(ctx context.Context, msg Msg) error {
	return h.logPacketLoss(msg, h.Handler.HandleColor(ctx, msg))
}

func (h *handlerWithLogs) HandleDepth(ctx context.Context, msg Msg) error {
	return h.logPacketLoss(msg, h.Handler.HandleDepth(ctx, msg))
}

func (h *handlerWithLogs) HandleProxy(ctx context.Context, msg Msg) error {
	return h.logPacketLoss(msg, h.Handler.HandleProxy(ctx, msg))
}

func (h *handlerWithLogs) HandlePose(ctx context.Context, msg Msg) error {
	return h.logPacketLoss(msg, h.Handler.HandlePose(ctx, msg))
}

func (h *handlerWithLogs) HandleDisconnect(err error) {
	h.Handler.HandleDisconnect(err)

	entry := logs.WithTag(clientIDTag, h.GetClientID()).
		WithTag(endpointTag, h.endpoint)

	if err != nil && !errors.Is(err, context.Canceled) {
		entry.Warn(errors.New("disconnected from remote renderer").Wrap(err))
		return
	}
	entry.Info("disconnected from remote renderer")
}

func (h *handlerWithLogs) Receiver() Receiver {
	receive := h.Handler.Receiver()

	return func() (Msg, int, error) {
		msg, n, err := receive()
		if errors.IsType(err, ErrTypeInvalidMsg) {
			logs.WithTag(clientIDTag, h.GetClientID()).
				WithTag(endpointTag, h.endpoint).
				Debug(err)
		} else if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
			logs.WithTag(clientIDTag, h.GetClientID()).
				WithTag(endpointTag, h.endpoint).
				Error(errors.New("receiving message failed").Wrap(err))
		} else if err == nil {
			h.incCounter(msg.TypeString())
		}
		return msg, n, err
	}
}

func (h *handlerWithLogs) Sender() Sender {
	sender := h.Handler.Sender()

	return func(msg Msg) (int, error) {
		n, err := sender(msg)
		if err != nil && !errors.Is(err, net.ErrClosed) {
			logs.WithTag(clientIDTag, h.GetClientID()).
				WithTag(endpointTag, h.endpoint).
				WithTag(msgTypeTag, msg.TypeString()).
				Error(errors.New("sending message failed").Wrap(err))
		}
		return n, err
	}
}

func (h *handlerWithLogs) Close() {
	h.Handler.Close()
	h.closeSummaryWorker()
	h.logSummary()
}

// logPacketLoss logs a dropped packet and counts it in the summary under
// "<msg type>_losses".
func (h *handlerWithLogs) logPacketLoss(msg Msg, err error) error {
	if isPacketLoss(err) {
		h.incCounter(msg.TypeString() + "_losses")
		logs.WithTag(clientIDTag, h.GetClientID()).
			WithTag(msgTypeTag, msg.TypeString()).
			Debug(err)
	}
	return err
}

func (h *handlerWithLogs) startSummaryWorker(ctx context.Context) {
	ticker := time.NewTicker(h.summaryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			h.logSummary()
		}
	}
}

func (h *handlerWithLogs) incCounter(msgType string) {
	h.counterMutex.Lock()
	defer h.counterMutex.Unlock()

	h.counter[msgType]++
}

func (h *handlerWithLogs) logSummary() {
	h.counterMutex.Lock()
	defer h.counterMutex.Unlock()

	if len(h.counter) == 0 {
		return
	}

	entry := logs.
		WithTag(clientIDTag, h.GetClientID()).
		WithTag(endpointTag, h.endpoint).
		WithTag("time_interval", h.summaryInterval)

	for k, v := range h.counter {
		entry = entry.WithTag(k, v)
		delete(h.counter, k)
	}

	entry.Info("inbound message summary")
}
