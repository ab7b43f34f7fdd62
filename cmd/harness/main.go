// Command harness is a reference host for the rejourney session capture
// engine: it wires engine.Init against simulated platform capabilities
// (no real bitmap acquisition, codec, or view tree) so the engine's
// wiring, timers, and upload lanes can be exercised end-to-end against a
// real or stubbed ingest service without a mobile app.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"rejourney-engine/internal/anr"
	"rejourney-engine/internal/config"
	"rejourney-engine/internal/engine"
	"rejourney-engine/internal/hierarchy"
	"rejourney-engine/internal/observability/logging"
	"rejourney-engine/internal/observability/metrics"
	"rejourney-engine/internal/orchestrator"
	"rejourney-engine/internal/privacy"
	"rejourney-engine/internal/serverutil"
	"rejourney-engine/internal/telemetry"
	"rejourney-engine/internal/videoencoder"
	"rejourney-engine/internal/visualcapture"
)

func main() {
	endpoint := flag.String("endpoint", "", "ingest service base URL")
	projectID := flag.String("project-id", "", "ingest project ID")
	apiToken := flag.String("api-token", "", "long-lived API token")
	deviceFingerprint := flag.String("device-fingerprint", "", "stable per-install device fingerprint")
	platform := flag.String("platform", "android", "host platform reported to the registrar")
	appID := flag.String("app-id", "", "host application ID")
	appVersion := flag.String("app-version", "", "host application version")
	privateDir := flag.String("private-dir", "", "private directory for checkpoints and segments")
	postgresDSN := flag.String("postgres-dsn", "", "Postgres DSN for the checkpoint store (empty uses a local disk store)")
	redisAddr := flag.String("redis-addr", "", "Redis address for shared circuit-breaker state (empty keeps it in-process)")
	redisPassword := flag.String("redis-password", "", "Redis password for shared circuit-breaker state")
	wifiOnly := flag.Bool("wifi-only", false, "require Wi-Fi/Ethernet before recording starts")
	maxRecordingMinutes := flag.Int("max-recording-minutes", 10, "hard wall-clock cap on a session, 1-10")
	logLevel := flag.String("log-level", "info", "log level (debug, info, warn, error)")
	logFormat := flag.String("log-format", "json", "log format (json or text)")
	debugAddr := flag.String("debug-addr", "", "optional address for the /debug/metrics HTTP surface (empty disables it)")
	simulate := flag.Bool("simulate", true, "drive a scripted session through the simulated host capabilities after BeginReplay")
	flag.Parse()

	resolved := config.Config{
		Endpoint:            firstNonEmpty(*endpoint, os.Getenv("REJOURNEY_ENDPOINT")),
		ProjectID:           firstNonEmpty(*projectID, os.Getenv("REJOURNEY_PROJECT_ID")),
		APIToken:            firstNonEmpty(*apiToken, os.Getenv("REJOURNEY_API_TOKEN")),
		DeviceFingerprint:   firstNonEmpty(*deviceFingerprint, os.Getenv("REJOURNEY_DEVICE_FINGERPRINT")),
		Platform:            firstNonEmpty(*platform, os.Getenv("REJOURNEY_PLATFORM")),
		AppID:               firstNonEmpty(*appID, os.Getenv("REJOURNEY_APP_ID")),
		AppVersion:          firstNonEmpty(*appVersion, os.Getenv("REJOURNEY_APP_VERSION")),
		PostgresDSN:         firstNonEmpty(*postgresDSN, os.Getenv("REJOURNEY_POSTGRES_DSN")),
		RedisAddr:           firstNonEmpty(*redisAddr, os.Getenv("REJOURNEY_REDIS_ADDR")),
		RedisPassword:       firstNonEmpty(*redisPassword, os.Getenv("REJOURNEY_REDIS_PASSWORD")),
		WifiOnly:            resolveBool(*wifiOnly, "REJOURNEY_WIFI_ONLY"),
		CaptureScreen:       true,
		CaptureAnalytics:    true,
		CaptureCrashes:      true,
		CaptureANR:          true,
		CaptureLogs:         true,
	}

	if resolved.Endpoint == "" || resolved.APIToken == "" || resolved.ProjectID == "" {
		fmt.Fprintln(os.Stderr, "harness: -endpoint, -api-token, and -project-id (or their REJOURNEY_* env equivalents) are required")
		os.Exit(1)
	}
	if resolved.DeviceFingerprint == "" {
		resolved.DeviceFingerprint = "harness-device-0001"
	}

	dir := *privateDir
	if dir == "" {
		var err error
		dir, err = os.MkdirTemp("", "rejourney-harness-")
		if err != nil {
			fmt.Fprintf(os.Stderr, "harness: create private dir: %v\n", err)
			os.Exit(1)
		}
		defer os.RemoveAll(dir)
	}

	logger := logging.Init(logging.Config{Level: *logLevel, Format: *logFormat})

	network := newSimulatedNetwork(!*wifiOnly)
	host := engine.HostCapabilities{
		Bitmap:          simulatedBitmapSource{},
		BitmapMasker:    simulatedBitmapMasker{},
		Focused:         simulatedFocusedView{},
		HierarchySource: simulatedHierarchySource{},
		Codec:           newSimulatedCodec(logger),
		Executor:        simulatedExecutor{},
		StackSnapshot:   simulatedStackSnapshotter{},
		Network:         network,
		DeviceInfo: func() telemetry.DeviceInfo {
			return telemetry.DeviceInfo{
				Platform:    resolved.Platform,
				Model:       "harness-sim",
				OSName:      resolved.Platform,
				Fingerprint: resolved.DeviceFingerprint,
				AppID:       resolved.AppID,
				AppVersion:  resolved.AppVersion,
				EpochMs:     time.Now().UnixMilli(),
				NetworkType: network.Current().Type,
			}
		},
	}

	ctx, stopSignals := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stopSignals()

	handle, err := engine.Init(ctx, engine.Config{
		Static:     resolved,
		PrivateDir: dir,
		Host:       host,
		Logging:    logging.Config{Level: *logLevel, Format: *logFormat},
	})
	if err != nil {
		logger.Error("harness: engine init failed", "error", err)
		os.Exit(1)
	}

	handle.Orchestrator.ApplyRemoteConfig(config.RemoteConfig{
		RejourneyEnabled:    true,
		RecordingEnabled:    true,
		SampleRate:          100,
		MaxRecordingMinutes: clampMinutes(*maxRecordingMinutes),
	})

	var debugServer *http.Server
	var debugWG sync.WaitGroup
	var unsubscribeEvents func()
	if *debugAddr != "" {
		eventHub := newDebugEventHub(logger)
		unsubscribeEvents = eventHub.attach(handle.Pipeline)

		mux := http.NewServeMux()
		mux.Handle("/debug/metrics", handle.Recorder.Handler())
		mux.Handle("/debug/events", eventHub)
		debugServer = &http.Server{Addr: *debugAddr, Handler: metrics.HTTPMiddleware(handle.Recorder, mux)}
		debugWG.Add(1)
		go func() {
			defer debugWG.Done()
			if err := serverutil.Run(ctx, serverutil.Config{Server: debugServer}); err != nil {
				logger.Warn("harness: debug server stopped", "error", err)
			}
		}()
		logger.Info("harness: debug surfaces listening", "addr", *debugAddr, "metrics", "/debug/metrics", "events", "/debug/events")
	}

	if err := handle.Orchestrator.BeginReplay(ctx); err != nil {
		logger.Error("harness: BeginReplay failed", "error", err)
	}

	if *simulate {
		runScriptedSession(ctx, handle, logger)
	}

	<-ctx.Done()
	logger.Info("harness: shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	handle.Shutdown(shutdownCtx)

	if unsubscribeEvents != nil {
		unsubscribeEvents()
	}
	if debugServer != nil {
		_ = debugServer.Shutdown(shutdownCtx)
		debugWG.Wait()
	}
}

// runScriptedSession feeds a short, deterministic sequence of interactions
// through the Interaction Recorder: three clustered taps (rage-tap, S1), a
// lone tap with no follow-up (dead-tap, S2), and a swipe, enough to
// exercise every event lane wired in engine.Init without a real device.
func runScriptedSession(ctx context.Context, h *engine.Handle, logger *slog.Logger) {
	go func() {
		for i := 0; i < 3; i++ {
			h.Interaction.Tap("feed.like", 100, 200, false)
			select {
			case <-ctx.Done():
				return
			case <-time.After(150 * time.Millisecond):
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(300 * time.Millisecond):
		}
		h.Interaction.Tap("feed.header", 40, 60, false)

		select {
		case <-ctx.Done():
			return
		case <-time.After(600 * time.Millisecond):
		}
		h.Interaction.Swipe("feed.list", 200, 400, "up")
		h.Orchestrator.RecordScreenVisit("feed")

		logger.Info("harness: scripted session finished")
	}()
}

func clampMinutes(v int) int {
	if v < 1 {
		return 1
	}
	if v > 10 {
		return 10
	}
	return v
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func resolveBool(flagValue bool, envKey string) bool {
	if flagValue {
		return true
	}
	if env, ok := os.LookupEnv(envKey); ok {
		if value, err := strconv.ParseBool(strings.TrimSpace(env)); err == nil {
			return value
		}
	}
	return false
}

// --- simulated host capabilities ---
//
// None of these touch real pixels, codecs, or view trees; they exist so
// engine.Init has something to wire against outside a real mobile host.

type simulatedBitmapSource struct{}

func (simulatedBitmapSource) Acquire(context.Context) (interface{}, int, int, error) {
	return "simulated-bitmap", 390, 844, nil
}

type simulatedBitmapMasker struct{}

func (simulatedBitmapMasker) Apply(bitmap interface{}, _ []privacy.Rect) interface{} {
	return bitmap
}

type simulatedFocusedView struct{}

func (simulatedFocusedView) Focused() []hierarchy.Node { return nil }

type simulatedHierarchySource struct{}

func (simulatedHierarchySource) Roots() []hierarchy.Node {
	return []hierarchy.Node{
		{
			Type:   "Window",
			Frame:  hierarchy.Frame{W: 390, H: 844},
			Alpha:  1,
			Opaque: true,
			Children: []hierarchy.Node{
				{Type: "Label", Frame: hierarchy.Frame{X: 16, Y: 48, W: 200, H: 24}, Alpha: 1, Text: "Feed", Label: "feed.header"},
				{Type: "Button", Frame: hierarchy.Frame{X: 16, Y: 780, W: 358, H: 44}, Alpha: 1, Interactive: true, ButtonTitle: "Like", Label: "feed.like", Enabled: true},
			},
		},
	}
}

type simulatedExecutor struct{}

func (simulatedExecutor) Ping(context.Context) error { return nil }

type simulatedStackSnapshotter struct{}

func (simulatedStackSnapshotter) Snapshot() string { return "main-thread: simulated idle stack" }

type simulatedNetwork struct {
	mu    sync.Mutex
	state orchestrator.NetworkState
	subs  []func(orchestrator.NetworkState)
}

func newSimulatedNetwork(online bool) *simulatedNetwork {
	state := orchestrator.NetworkState{Type: ""}
	if online {
		state.Type = "wifi"
	}
	return &simulatedNetwork{state: state}
}

func (n *simulatedNetwork) Current() orchestrator.NetworkState {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state
}

func (n *simulatedNetwork) Subscribe(onChange func(orchestrator.NetworkState)) func() {
	n.mu.Lock()
	n.subs = append(n.subs, onChange)
	n.mu.Unlock()
	return func() {}
}

// simulatedCodec satisfies videoencoder.Codec without touching a real
// hardware/software encoder: it writes a tiny placeholder payload to the
// target path so segment rotation and the dispatcher's video lane still
// have real bytes to ship.
type simulatedCodec struct {
	logger *slog.Logger
	mu     sync.Mutex
	path   string
	frames int
}

func newSimulatedCodec(logger *slog.Logger) *simulatedCodec {
	return &simulatedCodec{logger: logger}
}

func (c *simulatedCodec) Configure(_ context.Context, path string, width, height, bitrateBps int, keyframeInterval time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.path = path
	c.frames = 0
	c.logger.Debug("simulatedCodec: configured", "path", path, "width", width, "height", height, "bitrate_bps", bitrateBps, "keyframe_interval", keyframeInterval)
	return os.WriteFile(path, []byte("simulated-mp4-header\n"), 0o644)
}

func (c *simulatedCodec) WriteFrame(_ context.Context, _ interface{}, ptsMicros int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.path == "" {
		return fmt.Errorf("simulatedCodec: WriteFrame before Configure")
	}
	c.frames++
	f, err := os.OpenFile(c.path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = fmt.Fprintf(f, "frame pts=%d\n", ptsMicros)
	return err
}

func (c *simulatedCodec) Finish(context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.frames, nil
}

func (c *simulatedCodec) Release(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.path = ""
	c.frames = 0
	return nil
}

var _ anr.Executor = simulatedExecutor{}
var _ anr.StackSnapshotter = simulatedStackSnapshotter{}
var _ orchestrator.NetworkObserver = (*simulatedNetwork)(nil)
var _ videoencoder.Codec = (*simulatedCodec)(nil)
var _ hierarchy.Source = simulatedHierarchySource{}
var _ visualcapture.BitmapSource = simulatedBitmapSource{}
var _ visualcapture.FocusedViewSource = simulatedFocusedView{}
var _ visualcapture.BitmapMasker = simulatedBitmapMasker{}
