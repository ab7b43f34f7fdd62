// Package engine is the top-level public entry point: Init wires every
// component named in the package layout into one running instance, and
// Shutdown tears it down. A host embeds this module by constructing a
// Config (its static settings plus the platform capabilities engine.Init
// requires) and holding onto the returned Handle for the process lifetime.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"rejourney-engine/internal/anr"
	"rejourney-engine/internal/checkpoint"
	"rejourney-engine/internal/config"
	"rejourney-engine/internal/dispatch"
	"rejourney-engine/internal/dispatch/circuitstate"
	"rejourney-engine/internal/hierarchy"
	"rejourney-engine/internal/interaction"
	"rejourney-engine/internal/observability/logging"
	"rejourney-engine/internal/observability/metrics"
	"rejourney-engine/internal/orchestrator"
	"rejourney-engine/internal/privacy"
	"rejourney-engine/internal/registrar"
	"rejourney-engine/internal/stability"
	"rejourney-engine/internal/telemetry"
	"rejourney-engine/internal/videoencoder"
	"rejourney-engine/internal/visualcapture"
)

// HostCapabilities collects every platform-supplied capability interface
// the spec names (§9's "capability interfaces the core requires"). A field
// left nil disables the feature that depends on it, gated the same way
// config.Config's CaptureXxx booleans gate features.
type HostCapabilities struct {
	Bitmap          visualcapture.BitmapSource
	BitmapMasker    visualcapture.BitmapMasker
	Focused         visualcapture.FocusedViewSource
	HierarchySource hierarchy.Source
	TextMasker      hierarchy.TextMasker
	SecureClass     func(hierarchy.Node) bool
	ViewTag         func(hierarchy.Node) string
	NativeID        func(hierarchy.Node) string
	MaskedIDs       []string
	Codec           videoencoder.Codec
	Executor        anr.Executor
	StackSnapshot   anr.StackSnapshotter
	Network         orchestrator.NetworkObserver
	DeviceInfo      func() telemetry.DeviceInfo
}

// Config is everything engine.Init needs: the static settings a host reads
// from its own configuration surface, where to keep private on-disk state,
// and the platform capabilities above.
type Config struct {
	Static     config.Config
	PrivateDir string
	Host       HostCapabilities
	Logging    logging.Config
}

// Handle is the live, running engine instance a host holds for as long as
// the SDK is embedded. All host-facing operations are methods on
// Handle.Orchestrator; Handle itself only exists to give Shutdown somewhere
// to hang cleanup.
type Handle struct {
	Orchestrator *orchestrator.Orchestrator
	Interaction  *interaction.Recorder
	Pipeline     *telemetry.Pipeline
	Dispatcher   *dispatch.Dispatcher
	Encoder      *videoencoder.Encoder
	Stability    *stability.Monitor
	Recorder     *metrics.Recorder
	Logger       *slog.Logger

	checkpointStore checkpoint.Store
}

// segmentDelegateBox breaks the construction cycle between
// videoencoder.Encoder (which needs a Delegate at construction) and
// visualcapture.Capture (which needs the Encoder it will later serve as
// Delegate for): Encoder is built first against the box, and Init sets the
// box's target once Capture exists.
type segmentDelegateBox struct {
	target videoencoder.Delegate
}

func (b *segmentDelegateBox) OnSegmentClosed(seg videoencoder.Segment) {
	if b.target != nil {
		b.target.OnSegmentClosed(seg)
	}
}

// Init constructs and wires every component, and returns a Handle ready for
// BeginReplay. It performs one startup side effect beyond construction:
// RecoverCrashedSession, submitting a synthetic session close for any
// checkpoint left behind by a prior, crashed process (§4.1, §8 S6).
func Init(ctx context.Context, cfg Config) (*Handle, error) {
	static := cfg.Static.Normalize()
	logger := logging.Init(cfg.Logging)
	recorder := metrics.New()

	if cfg.PrivateDir == "" {
		return nil, fmt.Errorf("engine: PrivateDir is required")
	}
	segmentDir := filepath.Join(cfg.PrivateDir, "segments")
	if err := os.MkdirAll(segmentDir, 0o700); err != nil {
		return nil, fmt.Errorf("engine: create segment dir: %w", err)
	}

	checkpointStore, err := buildCheckpointStore(ctx, static, cfg.PrivateDir)
	if err != nil {
		return nil, fmt.Errorf("engine: build checkpoint store: %w", err)
	}

	credential := &credentialBox{}

	ingestClient := dispatch.NewHTTPIngestClient(static.Endpoint, static.APIToken, credential.Get)
	circuitStore := buildCircuitStore(static)
	dispatcher := dispatch.New(dispatch.Config{
		Client:           ingestClient,
		Recorder:         recorder,
		Logger:           logger,
		MaxAttempts:      static.MaxUploadAttempts,
		BaseBackoff:      static.RetryBaseBackoff,
		MaxBackoff:       static.RetryMaxBackoff,
		CircuitThreshold: int64(static.CircuitFailureThreshold),
		CircuitCooldown:  static.CircuitCooldown,
		CircuitStore:     circuitStore,
	})

	deviceInfo := cfg.Host.DeviceInfo
	if deviceInfo == nil {
		deviceInfo = func() telemetry.DeviceInfo {
			return telemetry.DeviceInfo{Platform: static.Platform, Fingerprint: static.DeviceFingerprint, AppID: static.AppID, AppVersion: static.AppVersion}
		}
	}

	pipeline := telemetry.New(telemetry.Config{
		RingCapacity:      static.RingCapacity,
		MaxBatchBytes:     static.BatchMaxBytes,
		HeartbeatInterval: static.HeartbeatInterval,
		DeadTapWindow:     static.DeadTapWindow,
		Dispatcher:        dispatcher,
		DeviceInfo:        deviceInfo,
		Logger:            logger,
	})

	interactionRecorder := interaction.New(interaction.Config{
		Pipeline:         pipeline,
		RageTapThreshold: static.RageTapThreshold,
		RageTapWindow:    static.RageTapWindow,
		RageTapRadius:    static.RageTapRadius,
		ScrollEndDelay:   static.ScrollEndDelay,
	})

	box := &segmentDelegateBox{}
	encoder := videoencoder.New(videoencoder.Config{
		Codec:            cfg.Host.Codec,
		Delegate:         box,
		SegmentDir:       segmentDir,
		TargetFPS:        static.TargetFPS,
		BitrateBps:       static.BitrateBps,
		KeyframeInterval: static.KeyframeInterval,
		FramesPerSegment: static.FramesPerSegment,
		Logger:           logger,
	})

	mask := privacy.New(privacy.Config{
		SecureClass: cfg.Host.SecureClass,
		Tag:         cfg.Host.ViewTag,
		NativeID:    cfg.Host.NativeID,
		MaskedIDs:   cfg.Host.MaskedIDs,
	})

	// Without a Codec there is nothing to encode frames with, so no bitmap
	// source is wired and capture ticks do nothing.
	bitmapSource := cfg.Host.Bitmap
	if cfg.Host.Codec == nil {
		bitmapSource = nil
	}
	frameQueue := visualcapture.NewFrameQueue(64)
	capture := visualcapture.New(visualcapture.Config{
		Bitmap:           bitmapSource,
		HierarchySource:  cfg.Host.HierarchySource,
		Mask:             mask,
		Masker:           cfg.Host.BitmapMasker,
		Focused:          cfg.Host.Focused,
		Encoder:          encoder,
		Queue:            frameQueue,
		IntervalSeconds:  static.SnapshotIntervalSeconds,
		MaxLongestEdgePx: static.MaxLongestEdgePx,
		CaptureScale:     static.CaptureScale,
		Logger:           logger,
	})
	box.target = capture

	go drainFrameQueue(ctx, frameQueue, dispatcher, logger)

	var hierarchyScanner *hierarchy.Scanner
	if cfg.Host.HierarchySource != nil {
		hierarchyScanner = hierarchy.New(hierarchy.Config{
			Source:     cfg.Host.HierarchySource,
			Masker:     mask,
			TextMasker: cfg.Host.TextMasker,
			MaxDepth:   static.MaxHierarchyDepth,
		})
	}

	var anrSentinel *anr.Sentinel
	if cfg.Host.Executor != nil {
		anrSentinel = anr.New(anr.Config{
			Executor:  cfg.Host.Executor,
			Snapshot:  cfg.Host.StackSnapshot,
			Pipeline:  pipeline,
			Interval:  static.ANRPingInterval,
			Threshold: static.ANRThreshold,
			Logger:    logger,
		})
	}

	stabilityMonitor := stability.New(stability.Config{
		Dir:      cfg.PrivateDir,
		Pipeline: pipeline,
		Logger:   logger,
		SegmentInfo: func() stability.CrashMarker {
			return encoder.SegmentInfo()
		},
	})

	registrarClient := registrar.New(static.Endpoint, static.APIToken, nil)
	sessionClient := orchestrator.NewHTTPSessionClient(static.Endpoint, static.APIToken, credential.Get)

	orch := orchestrator.New(orchestrator.Config{
		Static:          static,
		Registrar:       registrarClient,
		CheckpointStore: checkpointStore,
		SessionClient:   sessionClient,
		Dispatcher:      dispatcher,
		Pipeline:        pipeline,
		ANR:             anrSentinel,
		Stability:       stabilityMonitor,
		Capture:         capture,
		Encoder:         encoder,
		HierarchyScanner: hierarchyScanner,
		HierarchyDispatch: func(dctx context.Context, sessionID string, payload []byte, timestamp int64) error {
			return dispatcher.SubmitHierarchy(dctx, sessionID, payload, timestamp)
		},
		Recorder:        recorder,
		NetworkObserver: cfg.Host.Network,
		Logger:          logger,
	})

	if credential.cb == nil {
		credential.cb = orch.SessionID
	}

	if cfg.Host.Codec != nil {
		encoder.PreWarm(ctx)
	}

	if _, err := orch.RecoverCrashedSession(ctx); err != nil {
		logger.Warn("engine: crash-recovery attempt failed", "error", err)
	}

	return &Handle{
		Orchestrator:    orch,
		Interaction:     interactionRecorder,
		Pipeline:        pipeline,
		Dispatcher:      dispatcher,
		Encoder:         encoder,
		Stability:       stabilityMonitor,
		Recorder:        recorder,
		Logger:          logger,
		checkpointStore: checkpointStore,
	}, nil
}

// Shutdown ends any in-progress session through Orchestrator.EndReplay,
// which stops that session's recorders and halts the dispatcher. It is safe
// to call even if no session is active; EndReplay then does nothing and the
// dispatcher keeps running. The frame-queue drain loop started by Init is
// not stopped here; it exits when the context passed to Init is done.
func (h *Handle) Shutdown(ctx context.Context) {
	h.Orchestrator.EndReplay(ctx)
}

// credentialBox indirects the upload credential lookup: the registrar
// bootstrap response is only known once BeginReplay completes, but the
// ingest/session HTTP clients are constructed before the orchestrator that
// holds it.
type credentialBox struct {
	cb func() string
}

func (c *credentialBox) Get() string {
	if c.cb == nil {
		return ""
	}
	return c.cb()
}

func buildCheckpointStore(ctx context.Context, static config.Config, privateDir string) (checkpoint.Store, error) {
	if static.PostgresDSN == "" {
		return checkpoint.NewDiskStore(privateDir), nil
	}
	return checkpoint.NewPostgresStore(ctx, checkpoint.PostgresConfig{DSN: static.PostgresDSN})
}

func buildCircuitStore(static config.Config) circuitstate.Store {
	if static.RedisAddr == "" {
		return circuitstate.NewInProcess()
	}
	return circuitstate.NewRedis(static.RedisAddr, static.RedisPassword, static.DeviceFingerprint)
}

// drainFrameQueue feeds closed video segments to the dispatcher's video
// lane as they arrive. It polls on a short ticker rather than busy-looping
// since FrameQueue.Pop is non-blocking (§4.5).
func drainFrameQueue(ctx context.Context, q *visualcapture.FrameQueue, d *dispatch.Dispatcher, logger *slog.Logger) {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for {
				b, ok := q.Pop()
				if !ok {
					break
				}
				if err := d.SubmitVideo(ctx, b.SessionID, b.Payload, b.RangeStart, b.RangeEnd, b.FrameCount); err != nil {
					logger.Warn("engine: video segment submission failed, requeueing", "error", err)
					q.RequeueFront(b)
					break
				}
			}
		}
	}
}
