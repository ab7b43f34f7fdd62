// Package videoencoder implements the H.264 baseline segment encoder
// capability: fixed FPS, configurable bitrate and keyframe interval,
// per-segment .mp4 output, and emergency flush (§4.4).
package videoencoder

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"rejourney-engine/internal/errs"
)

// Codec is the platform capability that actually encodes and muxes
// frames. Production code binds this to the host's H.264 encoder handle;
// tests fake it. The engine never touches pixel buffers directly.
type Codec interface {
	// Configure prepares the encoder for a new segment at path with the
	// given dimensions, bitrate, and keyframe interval.
	Configure(ctx context.Context, path string, width, height, bitrateBps int, keyframeInterval time.Duration) error
	// WriteFrame submits one masked, scaled bitmap (opaque handle) at ptsMicros.
	WriteFrame(ctx context.Context, bitmap interface{}, ptsMicros int64) error
	// Finish flushes and closes the muxer, returning the final frame count.
	Finish(ctx context.Context) (frameCount int, err error)
	// Release tears down encoder resources without producing output, used
	// both for pre-warm and for cancelling a failed segment.
	Release(ctx context.Context) error
}

// Segment describes a closed segment, handed to the delegate the Segment
// Dispatcher's frame-bundle ingress consumes (§4.4).
type Segment struct {
	File       string
	StartMs    int64
	EndMs      int64
	FrameCount int
}

// Delegate receives closed segments.
type Delegate interface {
	OnSegmentClosed(seg Segment)
}

// Config configures an Encoder.
type Config struct {
	Codec             Codec
	Delegate          Delegate
	SegmentDir        string
	TargetFPS         int
	BitrateBps        int
	KeyframeInterval  time.Duration
	FramesPerSegment  int
	Logger            *slog.Logger
}

// Encoder drives one active segment at a time, rotating automatically
// after FramesPerSegment frames or on explicit Finish (§4.4).
type Encoder struct {
	codec     Codec
	delegate  Delegate
	dir       string
	fps       int
	bitrate   int
	keyframe  time.Duration
	perSeg    int
	logger    *slog.Logger

	mu         sync.Mutex
	sessionID  string
	active     bool
	path       string
	startMs    int64
	lastPTS    int64
	frameCount int
}

// New constructs an Encoder. FramesPerSegment defaults to 60 (§4.4).
func New(cfg Config) *Encoder {
	if cfg.TargetFPS <= 0 {
		cfg.TargetFPS = 15
	}
	if cfg.BitrateBps <= 0 {
		cfg.BitrateBps = 1_500_000
	}
	if cfg.KeyframeInterval <= 0 {
		cfg.KeyframeInterval = 10 * time.Second
	}
	if cfg.FramesPerSegment <= 0 {
		cfg.FramesPerSegment = 60
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Encoder{
		codec:    cfg.Codec,
		delegate: cfg.Delegate,
		dir:      cfg.SegmentDir,
		fps:      cfg.TargetFPS,
		bitrate:  cfg.BitrateBps,
		keyframe: cfg.KeyframeInterval,
		perSeg:   cfg.FramesPerSegment,
		logger:   cfg.Logger,
	}
}

// PreWarm performs a one-time, off-main, no-op configure -> EOS -> release
// to front-load the ~50-100ms first-configure cost (§4.4). Call once at
// engine initialization, before the first real segment.
func (e *Encoder) PreWarm(ctx context.Context) {
	warmPath := filepath.Join(e.dir, ".prewarm.mp4")
	if err := e.codec.Configure(ctx, warmPath, 100, 100, e.bitrate, e.keyframe); err != nil {
		e.logger.Warn("videoencoder: pre-warm configure failed", "error", err)
		return
	}
	if _, err := e.codec.Finish(ctx); err != nil {
		e.logger.Warn("videoencoder: pre-warm finish failed", "error", err)
	}
	_ = e.codec.Release(ctx)
	_ = os.Remove(warmPath)
}

// StartSession resets per-session bookkeeping; call once when the
// orchestrator enters Recording.
func (e *Encoder) StartSession(sessionID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sessionID = sessionID
}

// WriteFrame submits a masked, scaled bitmap captured at wallClockMs,
// opening a new segment on first use or after rotation. width/height are
// rounded to even values with a 100x100 lower bound by the caller
// (Visual Capture); Encoder assumes valid dimensions.
func (e *Encoder) WriteFrame(ctx context.Context, bitmap interface{}, width, height int, wallClockMs int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.active {
		if err := e.openSegment(ctx, width, height, wallClockMs); err != nil {
			return err
		}
	}

	pts := (wallClockMs - e.startMs) * 1000
	if pts <= e.lastPTS {
		pts = e.lastPTS + 1
	}
	e.lastPTS = pts

	if err := e.codec.WriteFrame(ctx, bitmap, pts); err != nil {
		e.cancelLocked(ctx)
		return errs.New(errs.KindEncoderFailure, "write frame", err)
	}
	e.frameCount++

	if e.frameCount >= e.perSeg {
		e.closeSegmentLocked(ctx, wallClockMs)
	}
	return nil
}

func (e *Encoder) openSegment(ctx context.Context, width, height int, startMs int64) error {
	path := filepath.Join(e.dir, fmt.Sprintf("seg_%s_%d.mp4", e.sessionID, startMs))
	if err := e.codec.Configure(ctx, path, width, height, e.bitrate, e.keyframe); err != nil {
		return errs.New(errs.KindEncoderFailure, "configure segment", err)
	}
	e.path = path
	e.startMs = startMs
	e.lastPTS = -1
	e.frameCount = 0
	e.active = true
	return nil
}

// closeSegmentLocked stops the encoder/muxer and hands the closed segment
// to the delegate.
func (e *Encoder) closeSegmentLocked(ctx context.Context, endMs int64) {
	frameCount, err := e.codec.Finish(ctx)
	if err != nil {
		e.logger.Warn("videoencoder: finish failed", "error", err)
		frameCount = e.frameCount
	}
	seg := Segment{File: e.path, StartMs: e.startMs, EndMs: endMs, FrameCount: frameCount}
	e.active = false
	if e.delegate != nil {
		e.delegate.OnSegmentClosed(seg)
	}
}

// FinishSegment closes the active segment early (e.g. on duration-limit
// finalize), if one is open.
func (e *Encoder) FinishSegment(ctx context.Context, endMs int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.active {
		e.closeSegmentLocked(ctx, endMs)
	}
}

// cancelLocked discards the in-progress segment on encoder failure (§7):
// cancel current segment, delete the file.
func (e *Encoder) cancelLocked(ctx context.Context) {
	_ = e.codec.Release(ctx)
	if e.path != "" {
		_ = os.Remove(e.path)
	}
	e.active = false
}
