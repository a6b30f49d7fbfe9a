package main

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"reflect"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/aukilabs/go-tooling/pkg/cli"
	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/events"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/aukilabs/go-tooling/pkg/metrics"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/quasar-gfx/QUASAR-client/featureflag"
	quasarhttp "github.com/quasar-gfx/QUASAR-client/http"
	"github.com/quasar-gfx/QUASAR-client/models"
	"github.com/quasar-gfx/QUASAR-client/modules"
	"github.com/quasar-gfx/QUASAR-client/modules/meshwarp"
	"github.com/quasar-gfx/QUASAR-client/modules/quads"
	"github.com/quasar-gfx/QUASAR-client/posesync"
	"github.com/quasar-gfx/QUASAR-client/reconstruct"
	"github.com/quasar-gfx/QUASAR-client/smoketest"
	"github.com/quasar-gfx/QUASAR-client/streams"
	"github.com/quasar-gfx/QUASAR-client/websocket"
	"github.com/segmentio/encoding/json"
)

const (
	modeQuads    = "quads"
	modeMeshWarp = "meshwarp"

	poseTransportWebsocket = "websocket"
	poseTransportUDP       = "udp"
)

var (
	// The client version number. Set at build.
	version = "v0.1.0"

	infoGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name:        "quasar_client_info",
		Help:        "QUASAR client information.",
		ConstLabels: prometheus.Labels{"version": version},
	})
)

// This will effectively disable obfuscation of the config struct. Without it, the keys would get obfuscated causing the cli package to generate garbled command-line options.
// https://github.com/burrowers/garble/issues/403
var _ = reflect.TypeOf(config{})

type config struct {
	Mode               string        `cli:""        env:"QUASAR_MODE"                  help:"Viewer mode (quads|meshwarp)."`
	SceneManifest      string        `cli:""        env:"QUASAR_SCENE_MANIFEST"        help:"The static scene manifest loaded in quads mode."`
	RendererURL        string        `cli:""        env:"QUASAR_RENDERER_URL"          help:"The websocket URL of the remote renderer."`
	Origin             string        `cli:""        env:"QUASAR_ORIGIN"                help:"The origin sent to the remote renderer."`
	AdminAddr          string        `cli:""        env:"QUASAR_ADMIN_ADDR"            help:"Admin listening address."`
	AdminToken         string        `cli:",hidden" env:"QUASAR_ADMIN_TOKEN"           help:"The bearer token required by the admin stats and smoke test endpoints."`
	WindowWidth        int           `cli:""        env:"QUASAR_WINDOW_WIDTH"          help:"The remote renderer window width."`
	WindowHeight       int           `cli:""        env:"QUASAR_WINDOW_HEIGHT"         help:"The remote renderer window height."`
	FovyDegrees        int           `cli:""        env:"QUASAR_FOVY_DEGREES"          help:"The remote camera vertical field of view."`
	PoseTransport      string        `cli:""        env:"QUASAR_POSE_TRANSPORT"        help:"The pose transport (websocket|udp)."`
	PoseAddr           string        `cli:""        env:"QUASAR_POSE_ADDR"             help:"The remote renderer pose address when poses are sent over UDP."`
	StereoIPD          int           `cli:""        env:"QUASAR_STEREO_IPD"            help:"The interpupillary distance in millimeters. Stereo poses are sent when set."`
	MaxPoses           int           `cli:",hidden" env:"QUASAR_MAX_POSES"             help:"The maximum number of poses kept for lookups."`
	DepthHistory       int           `cli:",hidden" env:"QUASAR_DEPTH_HISTORY"         help:"The number of decoded depth frames kept for alignment."`
	PoseQueueSize      int           `cli:",hidden" env:"QUASAR_POSE_QUEUE_SIZE"       help:"The number of poses queued on the renderer connection."`
	Workers            int           `cli:",hidden" env:"QUASAR_WORKERS"               help:"The number of goroutines reconstructing meshes."`
	LogLevel           string        `cli:""        env:"QUASAR_LOG_LEVEL"             help:"Log level (debug|info|warning|error)."`
	LogIndent          bool          `cli:""        env:"QUASAR_LOG_INDENT"            help:"Indent logs."`
	ClientIdleTimeout  time.Duration `cli:",hidden" env:"QUASAR_CLIENT_IDLE_TIMEOUT"   help:"Time until a silent remote renderer is disconnected."`
	ReconnectInterval  time.Duration `cli:",hidden" env:"QUASAR_RECONNECT_INTERVAL"    help:"The duration between each remote renderer connection try."`
	FrameDuration      time.Duration `cli:",hidden" env:"QUASAR_FRAME_DURATION"        help:"The duration of a render frame."`
	LogSummaryInterval time.Duration `cli:",hidden" env:"QUASAR_LOG_SUMMARY_INTERVAL"  help:"The duration between each log summary by connection."`
	Events             eventsConfig  `cli:",hidden" env:"-"                            help:"Event pusher configuration."`
	FeatureFlags       []string      `cli:",hidden" env:"QUASAR_FEATURE_FLAGS"         help:"Comma separated feature flags"`
	Version            bool          `cli:""        env:"-"                            help:"Show version."`
	Help               bool          `cli:""        env:"-"                            help:"Show help."`
}

type eventsConfig struct {
	Endpoint      string        `cli:",hidden" env:"QUASAR_EVENTS_ENDPOINT"       help:"Endpoint to where events are pushed."`
	FlushInterval time.Duration `cli:",hidden" env:"QUASAR_EVENTS_FLUSH_INTERVAL" help:"The duration between each event flush."`
	BatchSize     int           `cli:",hidden" env:"QUASAR_EVENTS_BATCH_SIZE"     help:"The maximum number of events sent at once."`
	QueueSize     int           `cli:",hidden" env:"QUASAR_EVENTS_QUEUE_SIZE"     help:"The size of the queue where events are stored."`
}

func main() {
	conf := config{
		Mode:               modeMeshWarp,
		Origin:             "http://localhost",
		AdminAddr:          ":18190",
		WindowWidth:        1920,
		WindowHeight:       1080,
		FovyDegrees:        90,
		PoseTransport:      poseTransportWebsocket,
		MaxPoses:           posesync.DefaultMaxPoses,
		DepthHistory:       streams.DefaultDepthHistory,
		PoseQueueSize:      64,
		LogLevel:           logs.InfoLevel.String(),
		ClientIdleTimeout:  time.Second * 30,
		ReconnectInterval:  time.Second * 2,
		FrameDuration:      time.Second / 72,
		LogSummaryInterval: time.Minute,
		Events: eventsConfig{
			FlushInterval: events.DefaultFlushInterval,
			BatchSize:     events.DefaultBatchSize,
			QueueSize:     events.DefaultQueueSize,
		},
	}

	// set the information gauge to 1, useful for SUM query
	infoGauge.Set(1)

	ctx, cancel := cli.ContextWithSignals(context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)
	defer cancel()

	cli.Register().
		Help("Starts the QUASAR streaming client.").
		Options(&conf)
	cli.Load()

	if conf.Version {
		fmt.Println(version)
		os.Exit(0)
	}

	if err := validateConfig(conf); err != nil {
		logs.Fatal(err)
	}

	logs.SetLevel(logs.ParseLevel(conf.LogLevel))
	logs.Encoder = json.Marshal
	if conf.LogIndent {
		logs.Encoder = func(v any) ([]byte, error) {
			return json.MarshalIndent(v, "", "  ")
		}
	}

	errors.Encoder = json.Marshal

	if conf.Events.Endpoint != "" {
		eventsPusher := events.Pusher{
			Endpoint:      conf.Events.Endpoint,
			FlushInterval: conf.Events.FlushInterval,
			BatchSize:     conf.Events.BatchSize,
			QueueSize:     conf.Events.QueueSize,
			Transport:     metrics.HTTPTransport(http.DefaultTransport),
		}
		go eventsPusher.Start()
		defer eventsPusher.Close()

		eventsLogger := events.Logger{
			Pusher:           &eventsPusher,
			SDKType:          "quasar-client",
			SDKVersionFamily: version,
		}
		logs.SetLogger(eventsLogger.Log)
	}

	clientID := uuid.NewString()
	featureFlags := featureflag.New(conf.FeatureFlags)
	if unknown := featureFlags.Unknown(); len(unknown) != 0 {
		logs.Warn(errors.New("unknown feature flags").WithTag("flags", unknown))
	}
	recorder := &modules.DrawRecorder{}

	endpoint := conf.RendererURL
	if conf.Mode == modeQuads {
		endpoint = conf.SceneManifest
	}

	session := models.NewSession(endpoint, conf.FrameDuration)
	defer session.Close()

	var wg sync.WaitGroup
	var connected atomic.Bool
	var module modules.Module

	switch conf.Mode {
	case modeQuads:
		connected.Store(true)
		module = &quads.Module{
			ManifestPath: conf.SceneManifest,
			Renderer:     recorder,
			FeatureFlags: featureFlags,
			Workers:      conf.Workers,
		}

	case modeMeshWarp:
		module = startMeshWarp(ctx, &wg, conf, clientID, featureFlags, recorder, &connected)
	}

	if err := module.Init(session); err != nil {
		logs.Fatal(errors.New("initializing module failed").
			WithTag("module", module.Name()).
			Wrap(err))
	}
	defer module.Close()

	wg.Add(1)
	go func() {
		defer wg.Done()
		session.StartDispatchFrames()
	}()

	admin := quasarhttp.NewAdminHandler(quasarhttp.AdminOptions{
		Version: version,
		Ready:   connected.Load,
		Token:   conf.AdminToken,
		Stats: func() any {
			return map[string]any{
				"version":    version,
				"client_id":  clientID,
				"session_id": session.ID,
				"mode":       conf.Mode,
				"flags":      featureFlags.List(),
				"frames":     session.FrameCount(),
				"module":     module.Stats(),
				"draws":      recorder.Snapshot(),
			}
		},
		SmokeTest: smoketest.HandleSmokeTest(ctx, smoketest.Options{
			Origin: conf.Origin,
			SendResult: func(_ context.Context, res smoketest.Results) error {
				logs.WithTag("endpoint", res.Endpoint).
					WithTag("passed", res.Passed).
					WithTag("latency_ms", res.LatencyMilliSec).
					Info("smoke test done")
				return nil
			},
		}),
	})

	logs.WithTag("version", version).
		WithTag("mode", conf.Mode).
		WithTag("log_level", conf.LogLevel).
		WithTag("client_id", clientID).
		WithTag("endpoint", endpoint).
		Info("starting quasar client")

	quasarhttp.ListenAndServe(ctx, time.Second*5,
		&http.Server{Addr: conf.AdminAddr, Handler: metrics.HTTPHandler(admin,
			quasarhttp.MetricsPathFormatter)},
	)

	session.Close()
	wg.Wait()
}

// startMeshWarp creates the live pipeline and starts the goroutines feeding
// it: the remote renderer connection and, over UDP, the pose receiver.
func startMeshWarp(ctx context.Context, wg *sync.WaitGroup, conf config, clientID string, featureFlags featureflag.FeatureFlag, renderer modules.Renderer, connected *atomic.Bool) modules.Module {
	depthCodec, err := streams.NewBC4Codec()
	if err != nil {
		logs.Fatal(err)
	}

	var camera posesync.PoseSource
	if conf.StereoIPD > 0 {
		stereo := models.NewStereoCamera(uint32(conf.WindowWidth), uint32(conf.WindowHeight), float32(conf.StereoIPD)/1000)
		stereo.SetFovyDegrees(float32(conf.FovyDegrees))
		camera = stereo
	} else {
		mono := models.NewPerspectiveCamera(uint32(conf.WindowWidth), uint32(conf.WindowHeight))
		mono.SetFovyDegrees(float32(conf.FovyDegrees))
		camera = mono
	}

	color := streams.NewColorDecoder("color", streams.JPEGCodec{})
	depth := streams.NewDepthDecoder("depth", depthCodec, conf.DepthHistory)
	proxies := &streams.Register{}
	poses := posesync.NewSynchronizer(camera, nil, conf.MaxPoses)

	var poseChannel *websocket.PoseChannel

	switch conf.PoseTransport {
	case poseTransportUDP:
		transport, err := posesync.DialUDP(conf.PoseAddr)
		if err != nil {
			logs.Fatal(err)
		}
		poses.Transport = transport

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer transport.Close()

			if err := poses.Receive(ctx); err != nil {
				logs.WithTag("addr", conf.PoseAddr).
					Warn(errors.New("receiving poses failed").Wrap(err))
			}
		}()

	default:
		poseChannel = websocket.NewPoseChannel(conf.PoseQueueSize)
		poses.Transport = poseChannel
	}

	wg.Add(1)
	go func() {
		defer wg.Done()

		streamFromRenderer(ctx, conf, clientID, connected, func() websocket.Handler {
			var h websocket.Handler = &websocket.StreamHandler{
				ClientIdleTimeout: conf.ClientIdleTimeout,
				Color:             color,
				Depth:             depth,
				Proxies:           proxies,
				Poses:             poses,
				PoseChannel:       poseChannel,
				FeatureFlags:      featureFlags,
			}
			h = websocket.HandlerWithLogs(h, conf.LogSummaryInterval)
			return websocket.HandlerWithMetrics(h, conf.RendererURL)
		})
	}()

	return &meshwarp.Module{
		WindowSize: reconstruct.Size{
			Width:  uint32(conf.WindowWidth),
			Height: uint32(conf.WindowHeight),
		},
		FovyDegrees:  float32(conf.FovyDegrees),
		Color:        color,
		Depth:        depth,
		Proxies:      proxies,
		Poses:        poses,
		Renderer:     renderer,
		FeatureFlags: featureFlags,
		Workers:      conf.Workers,
	}
}

// streamFromRenderer keeps a connection to the remote renderer until the
// context is done, reconnecting after each disconnection.
func streamFromRenderer(ctx context.Context, conf config, clientID string, connected *atomic.Bool, newHandler func() websocket.Handler) {
	for {
		conn, err := websocket.Dial(ctx, conf.RendererURL, conf.Origin, clientID)
		if err != nil {
			logs.WithTag("url", conf.RendererURL).
				Warn(errors.New("connecting to remote renderer failed").Wrap(err))
		} else {
			h := newHandler()

			connected.Store(true)
			websocket.Handle(ctx, conn, h)
			connected.Store(false)

			h.Close()
			conn.Close()
		}

		select {
		case <-ctx.Done():
			return

		case <-time.After(conf.ReconnectInterval):
		}
	}
}

func validateConfig(conf config) error {
	switch conf.Mode {
	case modeQuads:
		if conf.SceneManifest == "" {
			return errors.New("quads mode needs a scene manifest")
		}
		return nil

	case modeMeshWarp:

	default:
		return errors.New("invalid mode").WithTag("mode", conf.Mode)
	}

	if _, err := url.ParseRequestURI(conf.RendererURL); err != nil {
		return errors.New("invalid remote renderer url").Wrap(err)
	}

	if conf.WindowWidth < 2 || conf.WindowHeight < 2 {
		return errors.New("invalid window size").
			WithTag("width", conf.WindowWidth).
			WithTag("height", conf.WindowHeight)
	}

	if conf.StereoIPD < 0 {
		return errors.New("invalid stereo ipd").WithTag("ipd", conf.StereoIPD)
	}

	switch conf.PoseTransport {
	case poseTransportWebsocket:

	case poseTransportUDP:
		if conf.PoseAddr == "" {
			return errors.New("udp pose transport needs a pose address")
		}

	default:
		return errors.New("invalid pose transport").
			WithTag("pose_transport", conf.PoseTransport)
	}

	return nil
}
