package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/google/uuid"
	"github.com/segmentio/encoding/json"
	"golang.org/x/net/websocket"
)

// NewTestingEnv starts a fake remote renderer and connects a client handler
// to it. The returned connection is the renderer side of the stream. The
// returned function closes the environment and waits for the client handler
// to return.
func NewTestingEnv(t *testing.T, h Handler) (*websocket.Conn, func()) {
	var mutex sync.Mutex
	logger := t.Log

	logs.Encoder = func(v any) ([]byte, error) {
		return json.MarshalIndent(v, "", "  ")
	}

	logs.SetLogger(func(e logs.Entry) {
		mutex.Lock()
		defer mutex.Unlock()

		if logger != nil {
			logger(e)
		}
	})

	errors.Encoder = json.Marshal

	renderer, close := newTestingEnv(t, h)
	return renderer, func() {
		close()

		mutex.Lock()
		defer mutex.Unlock()
		logger = nil
	}
}

func newTestingEnv(t *testing.T, h Handler) (*websocket.Conn, func()) {
	rendererConns := make(chan *websocket.Conn, 1)
	rendererDone := make(chan struct{})

	server := httptest.NewServer(websocket.Server{
		Handshake: func(c *websocket.Config, r *http.Request) error {
			return nil
		},
		Handler: func(conn *websocket.Conn) {
			rendererConns <- conn
			<-rendererDone
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	url := strings.ReplaceAll(server.URL, "http://", "ws://")

	conn, err := Dial(ctx, url, "http://localhost", uuid.NewString())
	if err != nil {
		t.Fatalf("error dialing web socket: %s", err)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer h.Close()

		Handle(ctx, conn, h)
	}()

	renderer := <-rendererConns
	return renderer, func() {
		cancel()
		wg.Wait()

		close(rendererDone)
		renderer.Close()
		server.Close()
	}
}

// SendTestMsg sends a message from the renderer side of a testing
// environment.
func SendTestMsg(t *testing.T, renderer *websocket.Conn, msg Msg) {
	if err := websocket.Message.Send(renderer, msg.Bytes()); err != nil {
		t.Fatalf("error sending test message: %s", err)
	}
}
