// Package smoketest checks that the client codecs round trip and, when an
// endpoint is given, that a remote renderer streams to this client.
package smoketest

import (
	"bytes"
	"context"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/quasar-gfx/QUASAR-client/models"
	"github.com/quasar-gfx/QUASAR-client/posesync"
	"github.com/quasar-gfx/QUASAR-client/proxy"
	"github.com/quasar-gfx/QUASAR-client/reconstruct"
	"github.com/quasar-gfx/QUASAR-client/streams"
	"github.com/quasar-gfx/QUASAR-client/websocket"
	"github.com/segmentio/encoding/json"
)

const defaultTimeout = 5 * time.Second

type Options struct {
	// The origin sent when dialing a renderer endpoint.
	Origin string

	// The time to wait for the first renderer message when the request does
	// not set one. Defaults to 5s.
	Timeout time.Duration

	// Called with the results of every run. Optional.
	SendResult func(context.Context, Results) error
}

// Request is the body of a smoke test request. An empty body only runs the
// local checks.
type Request struct {
	// The websocket endpoint of a remote renderer.
	Endpoint string `json:"endpoint"`

	// The time to wait for the first renderer message.
	Timeout time.Duration `json:"timeout"`
}

type CheckResult struct {
	Name     string        `json:"name"`
	Passed   bool          `json:"passed"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

type Results struct {
	Endpoint        string        `json:"endpoint,omitempty"`
	Passed          bool          `json:"passed"`
	Checks          []CheckResult `json:"checks"`
	FirstMsgKind    string        `json:"first_msg_kind,omitempty"`
	LatencyMilliSec float64       `json:"latency_ms,omitempty"`
	Duration        time.Duration `json:"duration"`
}

type check struct {
	name string
	run  func() error
}

var localChecks = []check{
	{name: "proxy_records", run: checkProxyRecords},
	{name: "proxy_container", run: checkProxyContainer},
	{name: "bc4_depth", run: checkBC4Depth},
	{name: "pose_wire", run: checkPoseWire},
	{name: "reconstruct", run: checkReconstruct},
}

func HandleSmokeTest(ctx context.Context, opts Options) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b, err := io.ReadAll(r.Body)
		if err != nil {
			writeError(w, http.StatusInternalServerError, errors.New("reading body failed").Wrap(err))
			return
		}

		var req Request
		if len(bytes.TrimSpace(b)) != 0 {
			if err := json.Unmarshal(b, &req); err != nil {
				writeError(w, http.StatusBadRequest, errors.New("invalid smoke test request").Wrap(err))
				return
			}
		}

		res := Run(ctx, opts, req)

		if opts.SendResult != nil {
			if err := opts.SendResult(ctx, res); err != nil {
				logs.WithTag("endpoint", req.Endpoint).
					Warn(errors.New("sending smoke test result failed").Wrap(err))
			}
		}

		status := http.StatusOK
		if !res.Passed {
			status = http.StatusInternalServerError
		}

		body, err := json.Marshal(res)
		if err != nil {
			writeError(w, http.StatusInternalServerError, errors.New("encoding smoke test result failed").Wrap(err))
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		w.Write(body)
	}
}

// Run runs the local checks, then the renderer stream check when the request
// has an endpoint.
func Run(ctx context.Context, opts Options, req Request) Results {
	start := time.Now()
	res := Results{
		Endpoint: req.Endpoint,
		Passed:   true,
	}

	for _, c := range localChecks {
		res.add(runCheck(c.name, c.run))
	}

	if req.Endpoint != "" {
		timeout := req.Timeout
		if timeout <= 0 {
			timeout = opts.Timeout
		}
		if timeout <= 0 {
			timeout = defaultTimeout
		}

		var kind websocket.MsgKind
		var latency time.Duration
		res.add(runCheck("renderer_stream", func() (err error) {
			kind, latency, err = checkRendererStream(ctx, req.Endpoint, opts.Origin, timeout)
			return err
		}))

		if kind != 0 {
			res.FirstMsgKind = kind.String()
			res.LatencyMilliSec = float64(latency) / float64(time.Millisecond)
		}
	}

	res.Duration = time.Since(start)

	if !res.Passed {
		logs.WithTag("endpoint", req.Endpoint).
			Warn(errors.New("smoke test failed").WithTag("checks", res.failed()))
	}
	return res
}

func (r *Results) add(c CheckResult) {
	r.Checks = append(r.Checks, c)
	r.Passed = r.Passed && c.Passed
}

func (r Results) failed() []string {
	var names []string
	for _, c := range r.Checks {
		if !c.Passed {
			names = append(names, c.Name)
		}
	}
	return names
}

func runCheck(name string, run func() error) CheckResult {
	start := time.Now()
	err := run()

	res := CheckResult{
		Name:     name,
		Passed:   err == nil,
		Duration: time.Since(start),
	}
	if err != nil {
		res.Error = err.Error()
	}
	return res
}

func writeError(w http.ResponseWriter, status int, err error) {
	logs.Warn(err)
	w.WriteHeader(status)
}

func checkRecords(n int) []proxy.QuadRecord {
	records := make([]proxy.QuadRecord, n)
	for i := range records {
		f := float32(i) / float32(n)
		records[i] = proxy.NewQuadRecord(
			mgl32.Vec3{f, 1 - f, 1},
			f,
			mgl32.Vec2{f, f / 2},
			uint32(i%4),
			uint32(i/4%4),
			uint32(1+i%2),
		)
	}
	return records
}

func checkProxyRecords() error {
	records := checkRecords(64)

	var b bytes.Buffer
	if err := proxy.EncodeRecords(&b, records); err != nil {
		return err
	}

	s := proxy.NewStore(len(records))
	n, err := s.Load(&b)
	if err != nil {
		return err
	}
	if n != len(records) {
		return errors.New("record count mismatch").
			WithTag("expected", len(records)).
			WithTag("got", n)
	}
	if diff := cmp.Diff(records, s.Records()); diff != "" {
		return errors.New("decoded records differ").WithTag("diff", diff)
	}
	return nil
}

func checkProxyContainer() error {
	records := checkRecords(16)
	offsets := make([]float32, 8*8)
	for i := range offsets {
		offsets[i] = float32(i) / 1000
	}

	var b bytes.Buffer
	if err := proxy.EncodeContainer(&b, records, offsets); err != nil {
		return err
	}

	s := proxy.NewStore(len(records))
	d := proxy.NewDepthOffsets(8, 8)
	if _, err := proxy.ReadContainer(&b, s, d); err != nil {
		return err
	}

	if diff := cmp.Diff(records, s.Records()); diff != "" {
		return errors.New("decoded container records differ").WithTag("diff", diff)
	}
	if diff := cmp.Diff(offsets, d.Data()); diff != "" {
		return errors.New("decoded depth offsets differ").WithTag("diff", diff)
	}
	return nil
}

func checkBC4Depth() error {
	const width, height = 16, 8

	depth := make([]float32, width*height)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			depth[y*width+x] = float32(x)/32 + float32(y)/64
		}
	}

	codec, err := streams.NewBC4Codec()
	if err != nil {
		return err
	}

	payload, err := codec.Encode(width, height, depth)
	if err != nil {
		return err
	}

	var f streams.DepthFrame
	if err := codec.Decode(payload, &f); err != nil {
		return err
	}

	if f.Width != width || f.Height != height {
		return errors.New("decoded depth frame size mismatch").
			WithTag("width", f.Width).
			WithTag("height", f.Height)
	}

	for i, d := range f.Data {
		if math.Abs(float64(d-depth[i])) > 0.05 {
			return errors.New("decoded depth out of tolerance").
				WithTag("index", i).
				WithTag("expected", depth[i]).
				WithTag("got", d)
		}
	}
	return nil
}

func checkPoseWire() error {
	camera := models.NewPerspectiveCamera(640, 360)
	camera.SetPosition(mgl32.Vec3{1, 2, 3})
	camera.UpdateViewMatrix()

	pose := camera.Pose().WithTimestamp(time.Unix(1700000000, 123456789))
	msg, err := posesync.MarshalPose(42, pose)
	if err != nil {
		return err
	}

	id, decoded, err := posesync.UnmarshalPose(msg)
	if err != nil {
		return err
	}

	if id != 42 {
		return errors.New("decoded frame id mismatch").WithTag("frame_id", id)
	}
	if decoded.View() != pose.View() || decoded.Projection() != pose.Projection() {
		return errors.New("decoded pose matrices differ")
	}
	if !decoded.Timestamp.Equal(pose.Timestamp) {
		return errors.New("decoded pose timestamp differs").
			WithTag("expected", pose.Timestamp).
			WithTag("got", decoded.Timestamp)
	}
	return nil
}

func checkReconstruct() error {
	grid := reconstruct.Size{Width: 4, Height: 4}
	records := []proxy.QuadRecord{
		proxy.NewQuadRecord(mgl32.Vec3{0, 0, 1}, 0.5, mgl32.Vec2{}, 0, 0, 2),
	}

	var b bytes.Buffer
	if err := proxy.EncodeRecords(&b, records); err != nil {
		return err
	}

	s := proxy.NewStore(reconstruct.MaxRecordsForGrid(grid))
	if _, err := s.Load(&b); err != nil {
		return err
	}

	camera := models.NewPerspectiveCamera(8, 8)
	camera.SetViewMatrix(mgl32.Ident4())
	camera.SetProjectionMatrix(mgl32.Ident4())

	r := reconstruct.NewReconstructor(grid, reconstruct.Options{Serial: true})
	if err := r.AppendProxies(grid, 1, s); err != nil {
		return err
	}

	mesh := reconstruct.NewMesh(1)
	if err := r.CreateMeshFromProxies(grid, 1, nil, camera, mesh); err != nil {
		return err
	}

	if mesh.NumVertices != reconstruct.SubQuadsPerRecord*reconstruct.VerticesPerSubQuad {
		return errors.New("unexpected vertex count").WithTag("vertices", mesh.NumVertices)
	}

	if p := mesh.Vertices[0].Position; !p.ApproxEqual(mgl32.Vec3{-1, -1, 0}) {
		return errors.New("unexpected vertex position").WithTag("position", p)
	}
	return nil
}

func checkRendererStream(ctx context.Context, endpoint, origin string, timeout time.Duration) (websocket.MsgKind, time.Duration, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	conn, err := websocket.Dial(ctx, endpoint, origin, uuid.NewString())
	if err != nil {
		return 0, 0, err
	}
	defer conn.Close()

	deadline, _ := ctx.Deadline()
	if err := conn.SetReadDeadline(deadline); err != nil {
		return 0, 0, errors.New("setting read deadline failed").Wrap(err)
	}

	msg, _, err := websocket.NewReceiver(conn)()
	if err != nil {
		return 0, 0, errors.New("receiving first renderer message failed").
			WithTag("endpoint", endpoint).
			Wrap(err)
	}
	return msg.Kind, time.Since(start), nil
}
