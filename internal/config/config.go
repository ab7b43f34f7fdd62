// Package config holds the engine's static configuration, the recognized
// on-the-wire options object from the host application, and the remote
// configuration the ingest service may push before a session starts.
package config

import "time"

// Config is the full static configuration the host supplies to engine.Init.
// Only the fields below are recognized; unknown host-supplied keys in the
// raw options object (see Options) are ignored per §6.
type Config struct {
	Endpoint          string
	ProjectID         string
	APIToken          string
	DeviceFingerprint string
	Platform          string
	AppID             string
	AppVersion        string

	RingCapacity      int
	BatchMaxBytes     int
	HeartbeatInterval time.Duration

	SnapshotIntervalSeconds float64
	HierarchyScanInterval   time.Duration
	MaxHierarchyDepth       int

	FramesPerSegment   int
	TargetFPS          int
	BitrateBps         int
	KeyframeInterval   time.Duration
	CaptureScale       float64
	MaxLongestEdgePx   int

	DeadTapWindow     time.Duration
	RageTapThreshold  int
	RageTapWindow     time.Duration
	RageTapRadius     float64
	ScrollEndDelay    time.Duration

	ANRPingInterval time.Duration
	ANRThreshold    time.Duration

	CircuitFailureThreshold int
	CircuitCooldown         time.Duration
	MaxUploadAttempts       int
	RetryBaseBackoff        time.Duration
	RetryMaxBackoff         time.Duration

	RedisAddr     string
	RedisPassword string

	PostgresDSN string

	CaptureScreen       bool
	CaptureAnalytics    bool
	CaptureCrashes      bool
	CaptureANR          bool
	CaptureLogs         bool
	WifiOnly            bool
	ScreenshotBatchSize int
}

// Options is the recognized subset of the configuration object the host
// presents at session start (§6). Unknown keys are ignored by construction:
// only named fields exist here.
type Options struct {
	CaptureRate         float64
	ImgCompression      float64
	CaptureScreen       bool
	CaptureAnalytics    bool
	CaptureCrashes      bool
	CaptureANR          bool
	CaptureLogs         bool
	WifiOnly            bool
	ScreenshotBatchSize int
}

// RemoteConfig is what the ingest service may push before recording starts
// (§4.1). SampleRate is informational only: the host applies it and hands
// the engine the already-decided RecordingEnabled bit.
type RemoteConfig struct {
	RejourneyEnabled   bool
	RecordingEnabled   bool
	SampleRate         int
	MaxRecordingMinutes int
}

// Normalize clamps and defaults every numeric knob in one place, mirroring
// the teacher's applyObjectStorageDefaults/newRateLimiter style: callers
// build a Config with zero values for "use the default" and get a fully
// resolved Config back.
func (c Config) Normalize() Config {
	if c.RingCapacity <= 0 {
		c.RingCapacity = 5000
	}
	if c.BatchMaxBytes <= 0 {
		c.BatchMaxBytes = 500_000
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 5 * time.Second
	}
	if c.SnapshotIntervalSeconds <= 0 {
		c.SnapshotIntervalSeconds = 1
	}
	if c.HierarchyScanInterval <= 0 {
		c.HierarchyScanInterval = 2 * time.Second
	}
	if c.MaxHierarchyDepth <= 0 {
		c.MaxHierarchyDepth = 10
	}
	if c.FramesPerSegment <= 0 {
		c.FramesPerSegment = 60
	}
	if c.TargetFPS <= 0 {
		c.TargetFPS = 15
	}
	if c.BitrateBps <= 0 {
		c.BitrateBps = 1_500_000
	}
	if c.KeyframeInterval <= 0 {
		c.KeyframeInterval = 10 * time.Second
	}
	if c.CaptureScale <= 0 {
		c.CaptureScale = 0.35
	}
	if c.MaxLongestEdgePx <= 0 {
		c.MaxLongestEdgePx = 1920
	}
	if c.DeadTapWindow <= 0 {
		c.DeadTapWindow = 400 * time.Millisecond
	}
	if c.RageTapThreshold <= 0 {
		c.RageTapThreshold = 3
	}
	if c.RageTapWindow <= 0 {
		c.RageTapWindow = 500 * time.Millisecond
	}
	if c.RageTapRadius <= 0 {
		c.RageTapRadius = 50
	}
	if c.ScrollEndDelay <= 0 {
		c.ScrollEndDelay = 200 * time.Millisecond
	}
	if c.ANRPingInterval <= 0 {
		c.ANRPingInterval = 1 * time.Second
	}
	if c.ANRThreshold <= 0 {
		c.ANRThreshold = 5 * time.Second
	}
	if c.CircuitFailureThreshold <= 0 {
		c.CircuitFailureThreshold = 5
	}
	if c.CircuitCooldown <= 0 {
		c.CircuitCooldown = 60 * time.Second
	}
	if c.MaxUploadAttempts <= 0 {
		c.MaxUploadAttempts = 3
	}
	if c.RetryBaseBackoff <= 0 {
		c.RetryBaseBackoff = 1 * time.Second
	}
	if c.RetryMaxBackoff <= 0 {
		c.RetryMaxBackoff = 30 * time.Second
	}
	if c.ScreenshotBatchSize <= 0 {
		c.ScreenshotBatchSize = 1
	}
	return c
}

// Normalize clamps a RemoteConfig's numeric fields to their documented
// ranges (§4.1): sampleRate 0-100, maxRecordingMinutes 1-10.
func (r RemoteConfig) Normalize() RemoteConfig {
	if r.SampleRate < 0 {
		r.SampleRate = 0
	}
	if r.SampleRate > 100 {
		r.SampleRate = 100
	}
	if r.MaxRecordingMinutes <= 0 {
		r.MaxRecordingMinutes = 10
	}
	if r.MaxRecordingMinutes > 10 {
		r.MaxRecordingMinutes = 10
	}
	if r.MaxRecordingMinutes < 1 {
		r.MaxRecordingMinutes = 1
	}
	return r
}

// Duration returns the duration-limit timer length for this RemoteConfig.
func (r RemoteConfig) Duration() time.Duration {
	return time.Duration(r.MaxRecordingMinutes) * time.Minute
}
