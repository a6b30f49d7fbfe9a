package smoketest

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/quasar-gfx/QUASAR-client/streams"
	qwebsocket "github.com/quasar-gfx/QUASAR-client/websocket"
	"github.com/segmentio/encoding/json"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/websocket"
)

func newRenderer(t *testing.T, msgs ...qwebsocket.Msg) string {
	server := httptest.NewServer(websocket.Server{
		Handler: func(conn *websocket.Conn) {
			for _, msg := range msgs {
				if err := websocket.Message.Send(conn, msg.Bytes()); err != nil {
					return
				}
			}

			var b []byte
			websocket.Message.Receive(conn, &b)
		},
	})
	t.Cleanup(server.Close)

	return strings.ReplaceAll(server.URL, "http://", "ws://")
}

func TestRun(t *testing.T) {
	t.Run("local checks", func(t *testing.T) {
		res := Run(context.Background(), Options{}, Request{})
		require.True(t, res.Passed, "%+v", res.Checks)
		require.Len(t, res.Checks, len(localChecks))
		require.Empty(t, res.FirstMsgKind)

		for _, c := range res.Checks {
			require.True(t, c.Passed, c.Name)
			require.Empty(t, c.Error)
		}
	})

	t.Run("renderer stream", func(t *testing.T) {
		endpoint := newRenderer(t, qwebsocket.Msg{
			Kind: qwebsocket.MsgKindDepth,
			Data: streams.TagPacket(7, []byte{1, 2, 3}),
		})

		res := Run(context.Background(), Options{Origin: "http://localhost"}, Request{
			Endpoint: endpoint,
			Timeout:  time.Second,
		})
		require.True(t, res.Passed, "%+v", res.Checks)
		require.Len(t, res.Checks, len(localChecks)+1)
		require.Equal(t, "depth", res.FirstMsgKind)
		require.Greater(t, res.LatencyMilliSec, float64(0))
	})

	t.Run("silent renderer times out", func(t *testing.T) {
		endpoint := newRenderer(t)

		res := Run(context.Background(), Options{
			Origin:  "http://localhost",
			Timeout: 50 * time.Millisecond,
		}, Request{Endpoint: endpoint})
		require.False(t, res.Passed)

		last := res.Checks[len(res.Checks)-1]
		require.Equal(t, "renderer_stream", last.Name)
		require.False(t, last.Passed)
		require.NotEmpty(t, last.Error)
	})

	t.Run("unreachable renderer", func(t *testing.T) {
		res := Run(context.Background(), Options{Origin: "http://localhost"}, Request{
			Endpoint: "ws://127.0.0.1:1",
			Timeout:  100 * time.Millisecond,
		})
		require.False(t, res.Passed)
	})
}

func TestHandleSmokeTest(t *testing.T) {
	t.Run("empty body runs the local checks", func(t *testing.T) {
		var sent []Results
		h := HandleSmokeTest(context.Background(), Options{
			SendResult: func(_ context.Context, res Results) error {
				sent = append(sent, res)
				return nil
			},
		})

		w := httptest.NewRecorder()
		h(w, httptest.NewRequest(http.MethodPost, "/smoke-test", nil))
		require.Equal(t, http.StatusOK, w.Code)
		require.Equal(t, "application/json", w.Header().Get("Content-Type"))

		var res Results
		err := json.Unmarshal(w.Body.Bytes(), &res)
		require.NoError(t, err)
		require.True(t, res.Passed)
		require.Len(t, res.Checks, len(localChecks))

		require.Len(t, sent, 1)
		require.True(t, sent[0].Passed)
	})

	t.Run("invalid request", func(t *testing.T) {
		h := HandleSmokeTest(context.Background(), Options{})

		w := httptest.NewRecorder()
		h(w, httptest.NewRequest(http.MethodPost, "/smoke-test", bytes.NewBufferString("{")))
		require.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("failed smoke test", func(t *testing.T) {
		h := HandleSmokeTest(context.Background(), Options{
			Origin:  "http://localhost",
			Timeout: 50 * time.Millisecond,
		})

		body, err := json.Marshal(Request{Endpoint: newRenderer(t)})
		require.NoError(t, err)

		w := httptest.NewRecorder()
		h(w, httptest.NewRequest(http.MethodPost, "/smoke-test", bytes.NewReader(body)))
		require.Equal(t, http.StatusInternalServerError, w.Code)

		var res Results
		err = json.Unmarshal(w.Body.Bytes(), &res)
		require.NoError(t, err)
		require.False(t, res.Passed)
	})
}
