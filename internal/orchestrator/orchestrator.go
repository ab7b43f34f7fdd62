// Package orchestrator implements the Replay Orchestrator: the top-level
// session state machine, remote config application, network observation,
// the duration limit, and recovery replay-submission on restart (§4.1).
package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"rejourney-engine/internal/anr"
	"rejourney-engine/internal/checkpoint"
	"rejourney-engine/internal/config"
	"rejourney-engine/internal/errs"
	"rejourney-engine/internal/hierarchy"
	"rejourney-engine/internal/ids"
	"rejourney-engine/internal/observability/metrics"
	"rejourney-engine/internal/registrar"
	"rejourney-engine/internal/stability"
	"rejourney-engine/internal/telemetry"
	"rejourney-engine/internal/videoencoder"
	"rejourney-engine/internal/visualcapture"

	"golang.org/x/sync/singleflight"
)

// Dispatcher is the subset of dispatch.Dispatcher the orchestrator drives
// directly (the rest is reached via the Pipeline and Capture).
type Dispatcher interface {
	Halt()
	BillingBlocked() bool
}

// Config wires every component the orchestrator coordinates. Each is
// optional except Static, Registrar, CheckpointStore, and SessionClient:
// a nil capture/ANR/stability/hierarchy component simply means that
// feature never starts (matching §4.1's "gated by per-feature booleans").
type Config struct {
	Static            config.Config
	Registrar         *registrar.Registrar
	CheckpointStore   checkpoint.Store
	SessionClient     SessionClient
	Dispatcher        Dispatcher
	Pipeline          *telemetry.Pipeline
	ANR               *anr.Sentinel
	Stability         *stability.Monitor
	Capture           *visualcapture.Capture
	Encoder           *videoencoder.Encoder
	HierarchyScanner  *hierarchy.Scanner
	HierarchyDispatch func(ctx context.Context, sessionID string, payload []byte, timestamp int64) error
	Recorder          *metrics.Recorder
	Clock             ids.Clock
	NetworkObserver   NetworkObserver
	Logger            *slog.Logger
}

// Orchestrator is the Replay Orchestrator (§4.1). It is the sole owner of
// Session state; every other component holds only a read-only reference to
// the current sessionId via the Telemetry Pipeline.
type Orchestrator struct {
	static            config.Config
	registrar         *registrar.Registrar
	checkpointStore   checkpoint.Store
	sessionClient     SessionClient
	dispatcher        Dispatcher
	pipeline          *telemetry.Pipeline
	anrSentinel       *anr.Sentinel
	stabilityMonitor  *stability.Monitor
	capture           *visualcapture.Capture
	encoder           *videoencoder.Encoder
	hierarchyScanner  *hierarchy.Scanner
	hierarchyDispatch func(ctx context.Context, sessionID string, payload []byte, timestamp int64) error
	recorder          *metrics.Recorder
	clock             ids.Clock
	network           NetworkObserver
	logger            *slog.Logger

	mu         sync.Mutex
	state      State
	sessionID  string
	startMs    int64
	remote     config.RemoteConfig
	credential string
	credExpMs  int64

	backgroundSince time.Time
	backgroundTotal time.Duration

	hierarchyCancel context.CancelFunc
	hierarchyWG     sync.WaitGroup
	durationTimer   *time.Timer
	unsubscribeNet  func()

	beginGroup singleflight.Group
}

// New constructs an Orchestrator in StateIdle.
func New(cfg Config) *Orchestrator {
	if cfg.Clock == nil {
		cfg.Clock = ids.SystemClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Recorder == nil {
		cfg.Recorder = metrics.New()
	}
	return &Orchestrator{
		static:            cfg.Static.Normalize(),
		registrar:         cfg.Registrar,
		checkpointStore:   cfg.CheckpointStore,
		sessionClient:     cfg.SessionClient,
		dispatcher:        cfg.Dispatcher,
		pipeline:          cfg.Pipeline,
		anrSentinel:       cfg.ANR,
		stabilityMonitor:  cfg.Stability,
		capture:           cfg.Capture,
		encoder:           cfg.Encoder,
		hierarchyScanner:  cfg.HierarchyScanner,
		hierarchyDispatch: cfg.HierarchyDispatch,
		recorder:          cfg.Recorder,
		clock:             cfg.Clock,
		network:           cfg.NetworkObserver,
		logger:            cfg.Logger,
		remote:            config.RemoteConfig{RejourneyEnabled: true, RecordingEnabled: true, MaxRecordingMinutes: 10}.Normalize(),
	}
}

// State returns the orchestrator's current lifecycle state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// SessionID returns the current session's id, or "" outside Recording.
func (o *Orchestrator) SessionID() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.sessionID
}

// ApplyRemoteConfig stores the ingest service's pushed configuration,
// consulted on the next beginReplay (§4.1).
func (o *Orchestrator) ApplyRemoteConfig(rc config.RemoteConfig) {
	o.mu.Lock()
	o.remote = rc.Normalize()
	o.mu.Unlock()
}

// ErrRecordingDisabled is returned by BeginReplay/BeginReplayFast when the
// remote config has rejourneyEnabled=false; no session is produced.
var ErrRecordingDisabled = errors.New("orchestrator: rejourneyEnabled is false")

// BeginReplay drives Idle -> ObtainingCredential -> MonitoringNetwork ->
// Recording (§4.1). On credential-fetch failure it returns to Idle and
// returns the error without raising past the public API; no session is
// produced. Concurrent calls (the host's lifecycle callback can fire from
// more than one goroutine in practice) collapse onto a single bootstrap
// attempt via singleflight.
func (o *Orchestrator) BeginReplay(ctx context.Context) error {
	o.mu.Lock()
	if o.state != StateIdle {
		o.mu.Unlock()
		return nil
	}
	if !o.remote.RejourneyEnabled {
		o.mu.Unlock()
		return ErrRecordingDisabled
	}
	o.state = StateObtainingCredential
	o.mu.Unlock()

	_, err, _ := o.beginGroup.Do("bootstrap", func() (interface{}, error) {
		resp, err := o.registrar.Bootstrap(ctx, o.static.ProjectID, o.static.DeviceFingerprint, o.static.Platform, o.static.AppID)
		if err != nil {
			return nil, err
		}
		o.startRecordingOnceCredentialed(ctx, resp.Credential, resp.ExpiresAt)
		return nil, nil
	})
	if err != nil {
		o.logger.Warn("orchestrator: credential bootstrap failed, returning to idle", "error", err)
		o.mu.Lock()
		if o.state == StateObtainingCredential {
			o.state = StateIdle
		}
		o.mu.Unlock()
		return err
	}
	return nil
}

// BeginReplayFast skips the credential fetch when the caller supplies a
// still-valid credential (used when returning from background quickly,
// §4.1's fast-restart contract).
func (o *Orchestrator) BeginReplayFast(ctx context.Context, credential string, expiresAtMs int64) error {
	o.mu.Lock()
	if o.state != StateIdle {
		o.mu.Unlock()
		return nil
	}
	if !o.remote.RejourneyEnabled {
		o.mu.Unlock()
		return ErrRecordingDisabled
	}
	if credential == "" || expiresAtMs <= o.clock.NowMs() {
		o.mu.Unlock()
		return o.BeginReplay(ctx)
	}
	o.mu.Unlock()
	o.startRecordingOnceCredentialed(ctx, credential, expiresAtMs)
	return nil
}

func (o *Orchestrator) startRecordingOnceCredentialed(ctx context.Context, credential string, expiresAtMs int64) {
	o.mu.Lock()
	o.credential = credential
	o.credExpMs = expiresAtMs
	o.state = StateMonitoringNetwork
	o.mu.Unlock()

	if o.networkGate() {
		o.enterRecording(ctx)
		return
	}
	// MonitoringNetwork: wifiRequired unmet and a usable network exists.
	// Subscribe for the next usable transition; enterRecording runs from
	// the callback.
	if o.network != nil {
		o.unsubscribeNet = o.network.Subscribe(func(NetworkState) {
			o.mu.Lock()
			stillWaiting := o.state == StateMonitoringNetwork
			o.mu.Unlock()
			if stillWaiting && o.networkGate() {
				o.enterRecording(ctx)
			}
		})
	}
}

// networkGate reports whether MonitoringNetwork may proceed to Recording:
// true unless wifiRequired is set and a non-Wi-Fi/Ethernet network is
// actively in use. No active network yet also proceeds, to allow later
// retry (§4.1).
func (o *Orchestrator) networkGate() bool {
	if !o.static.WifiOnly || o.network == nil {
		return true
	}
	state := o.network.Current()
	if !state.hasActiveNetwork() {
		return true
	}
	return state.isWifiOrEthernet()
}

// enterRecording performs everything §4.1 describes "on entering
// Recording": mint sessionId, zero tallies, snapshot startMs, write the
// recovery checkpoint, start the duration-limit timer, and start every
// gated recorder.
func (o *Orchestrator) enterRecording(ctx context.Context) {
	if o.unsubscribeNet != nil {
		o.unsubscribeNet()
		o.unsubscribeNet = nil
	}

	startMs := o.clock.NowMs()
	sessionID, err := ids.NewSession(startMs)
	if err != nil {
		o.logger.Error("orchestrator: failed to mint session id, aborting", "error", err)
		o.mu.Lock()
		o.state = StateIdle
		o.mu.Unlock()
		return
	}

	o.mu.Lock()
	o.sessionID = sessionID
	o.startMs = startMs
	o.backgroundTotal = 0
	o.backgroundSince = time.Time{}
	remote := o.remote
	o.state = StateRecording
	o.mu.Unlock()

	o.recorder.Reset()

	if o.checkpointStore != nil {
		cp := checkpoint.Checkpoint{SessionID: sessionID, APIToken: o.static.APIToken, StartMs: startMs, Endpoint: o.static.Endpoint}
		if err := o.checkpointStore.Write(ctx, cp); err != nil {
			o.logger.Warn("orchestrator: failed to write recovery checkpoint", "error", err)
		}
	}

	if o.pipeline != nil {
		o.pipeline.SetSessionID(sessionID)
		o.pipeline.SetDeferred(!remote.RecordingEnabled)
		o.pipeline.Start(ctx, o.static.HeartbeatInterval)
	}

	if o.static.CaptureScreen && remote.RecordingEnabled {
		if o.encoder != nil {
			o.encoder.StartSession(sessionID)
		}
		if o.capture != nil {
			o.capture.SetSessionID(sessionID)
			o.capture.Start(ctx)
		}
	}
	if o.static.CaptureANR && o.anrSentinel != nil {
		o.anrSentinel.Start(ctx)
	}
	if o.hierarchyScanner != nil {
		o.startHierarchyLoop(ctx, sessionID)
	}

	o.durationTimer = time.AfterFunc(remote.Duration(), func() {
		o.logger.Debug("orchestrator: duration limit reached, finalizing", "sessionId", sessionID)
		o.EndReplay(context.Background())
	})
}

func (o *Orchestrator) startHierarchyLoop(ctx context.Context, sessionID string) {
	runCtx, cancel := context.WithCancel(ctx)
	o.hierarchyCancel = cancel
	o.hierarchyWG.Add(1)
	go func() {
		defer o.hierarchyWG.Done()
		ticker := time.NewTicker(o.static.HierarchyScanInterval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				o.scanHierarchyOnce(runCtx, sessionID)
			}
		}
	}()
}

func (o *Orchestrator) scanHierarchyOnce(ctx context.Context, sessionID string) {
	snap, changed := o.hierarchyScanner.Scan(o.clock.NowMs(), hierarchy.Screen{})
	if !changed || o.hierarchyDispatch == nil {
		return
	}
	payload, err := hierarchy.Serialize(snap)
	if err != nil {
		o.logger.Warn("orchestrator: hierarchy snapshot serialization failed, skipping", "error", err)
		return
	}
	if err := o.hierarchyDispatch(ctx, sessionID, payload, snap.Timestamp); err != nil {
		o.logger.Warn("orchestrator: hierarchy snapshot dispatch failed", "error", err)
	}
}

// ScanAfterNavigation triggers an eager hierarchy scan after a navigation
// event (§4.6), in addition to the periodic scan.
func (o *Orchestrator) ScanAfterNavigation(ctx context.Context) {
	o.mu.Lock()
	sessionID := o.sessionID
	recording := o.state == StateRecording
	o.mu.Unlock()
	if !recording || o.hierarchyScanner == nil {
		return
	}
	o.scanHierarchyOnce(ctx, sessionID)
}

// RecordScreenVisit appends a screen to the session's visited-screens
// metric, used for the screens-visited list at session/end (§4.1).
func (o *Orchestrator) RecordScreenVisit(screen string) {
	o.recorder.RecordScreenVisit(screen)
}

// NotifyBackground accumulates background time for totalBackgroundTimeMs
// (§6), invoked by the host's lifecycle hook on entering background.
func (o *Orchestrator) NotifyBackground() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.backgroundSince.IsZero() {
		o.backgroundSince = o.clock.Monotonic()
	}
}

// NotifyForeground closes out a background interval begun by
// NotifyBackground.
func (o *Orchestrator) NotifyForeground() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.backgroundSince.IsZero() {
		o.backgroundTotal += o.clock.Monotonic().Sub(o.backgroundSince)
		o.backgroundSince = time.Time{}
	}
}

// EndReplay drives Recording/MonitoringNetwork -> Finalizing -> Idle
// (§4.1): submit metrics, call session/end, delete the recovery
// checkpoint.
func (o *Orchestrator) EndReplay(ctx context.Context) {
	o.mu.Lock()
	if o.state != StateRecording && o.state != StateMonitoringNetwork && o.state != StateObtainingCredential {
		o.mu.Unlock()
		return
	}
	sessionID := o.sessionID
	startMs := o.startMs
	o.state = StateFinalizing
	o.mu.Unlock()

	if o.durationTimer != nil {
		o.durationTimer.Stop()
	}
	if o.hierarchyCancel != nil {
		o.hierarchyCancel()
		o.hierarchyWG.Wait()
		o.hierarchyCancel = nil
	}
	if o.anrSentinel != nil {
		o.anrSentinel.Stop()
	}
	if o.capture != nil {
		o.capture.Stop()
	}
	if o.encoder != nil {
		o.encoder.FinishSegment(ctx, o.clock.NowMs())
	}
	if o.pipeline != nil {
		o.pipeline.Shutdown()
	}
	if o.dispatcher != nil {
		o.dispatcher.Halt()
	}

	if sessionID != "" {
		o.finalizeSession(ctx, sessionID, startMs, nil)
	}

	o.mu.Lock()
	o.sessionID = ""
	o.credential = ""
	o.state = StateIdle
	o.mu.Unlock()
}

// finalizeSession submits replay/evaluate (best-effort, logged-only on
// failure per §4.1) then session/end, and deletes the checkpoint iff
// session/end reports success (§8 invariant 9).
func (o *Orchestrator) finalizeSession(ctx context.Context, sessionID string, startMs int64, crashOverride *int64) {
	durationSeconds := (o.clock.NowMs() - startMs) / 1000
	snapshot := o.recorder.Snapshot()
	m := fromSnapshot(snapshot, durationSeconds, crashOverride)

	if o.sessionClient != nil {
		if _, err := o.sessionClient.ReplayEvaluate(ctx, ReplayEvaluateRequest{SessionID: sessionID, Metrics: m}); err != nil {
			o.logger.Warn("orchestrator: replay/evaluate failed, proceeding to session/end", "error", err)
		}
	}

	o.mu.Lock()
	backgroundMs := o.backgroundTotal.Milliseconds()
	o.mu.Unlock()

	queueDepth := 0
	if o.pipeline != nil {
		queueDepth = o.pipeline.RingSize()
	}

	req := SessionEndRequest{
		SessionID:             sessionID,
		EndedAt:               o.clock.NowMs(),
		TotalBackgroundTimeMs: backgroundMs,
		Metrics:               m,
		QueueDepthAtFinalize:  queueDepth,
	}

	var endErr error
	if o.sessionClient != nil {
		endErr = o.sessionClient.SessionEnd(ctx, req)
	}
	if endErr != nil {
		o.logger.Warn("orchestrator: session/end failed, leaving checkpoint for next recovery attempt", "error", endErr)
		return
	}
	if o.checkpointStore != nil {
		if err := o.checkpointStore.Delete(ctx); err != nil {
			o.logger.Warn("orchestrator: failed to delete recovery checkpoint after session/end", "error", err)
		}
	}
}

// RecoverCrashedSession checks for a persisted checkpoint from a prior
// process and, if found, submits a synthetic close with crashCount=1 and
// the elapsed wall-clock duration, then clears the checkpoint (§4.1, §8
// scenario S6). It is idempotent: re-submitting the same sessionId to
// session/end after crash recovery sets crashCount=1 and clears the
// checkpoint regardless of the server's response to a previous attempt.
// Call once at engine startup, before any BeginReplay.
func (o *Orchestrator) RecoverCrashedSession(ctx context.Context) (recovered bool, err error) {
	if o.checkpointStore == nil {
		return false, nil
	}
	cp, ok, err := o.checkpointStore.Read(ctx)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}

	o.mu.Lock()
	o.state = StateFinalizing
	o.mu.Unlock()

	durationSeconds := (o.clock.NowMs() - cp.StartMs) / 1000
	one := int64(1)
	m := Metrics{CrashCount: one, DurationSeconds: durationSeconds}

	req := SessionEndRequest{
		SessionID: cp.SessionID,
		EndedAt:   o.clock.NowMs(),
		Metrics:   m,
	}
	if o.sessionClient != nil {
		if sendErr := o.sessionClient.SessionEnd(ctx, req); sendErr != nil {
			o.logger.Warn("orchestrator: crash-recovery session/end failed", "error", sendErr)
		}
	}
	if err := o.checkpointStore.Delete(ctx); err != nil {
		o.logger.Warn("orchestrator: failed to clear checkpoint after crash recovery", "error", err)
	}
	if o.recorder != nil {
		o.recorder.IncrCrash()
	}

	o.mu.Lock()
	o.state = StateIdle
	o.mu.Unlock()
	return true, nil
}

// HandleCrash is the entry point the host's last-chance recover/signal
// path invokes; it forwards to the Stability Monitor and tags the error
// kind for session metrics (§7).
func (o *Orchestrator) HandleCrash(recovered interface{}) {
	if !o.static.CaptureCrashes {
		return
	}
	if o.stabilityMonitor != nil {
		o.stabilityMonitor.Handle(recovered)
	}
	if o.recorder != nil {
		o.recorder.IncrCrash()
	}
}

// RecordError tags an internal structured error against session metrics
// (§7: "counted for session metrics, and optionally diagnostic-logged").
func (o *Orchestrator) RecordError(err error) {
	if o.recorder != nil {
		o.recorder.IncrError()
	}
	var e *errs.Error
	if errors.As(err, &e) {
		o.logger.Warn("orchestrator: structured error observed", "kind", e.Kind.String(), "op", e.Op)
	}
}
