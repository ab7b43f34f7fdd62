package videoencoder

import (
	"context"

	"rejourney-engine/internal/stability"
)

// EmergencyFlush writes an on-disk marker describing the in-progress
// segment and signals end-of-stream, draining the encoder best-effort
// (§4.4). Called from the Stability Monitor's last-chance crash path, so
// it must not block on anything that can itself fail slowly.
func (e *Encoder) EmergencyFlush(ctx context.Context, dir string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.active {
		return
	}

	marker := stability.CrashMarker{
		SessionID:  e.sessionID,
		File:       e.path,
		StartMs:    e.startMs,
		EndMs:      e.startMs + e.lastPTS/1000,
		FrameCount: e.frameCount,
	}
	_ = stability.WriteMarker(dir, marker)

	if frameCount, err := e.codec.Finish(ctx); err == nil {
		e.frameCount = frameCount
	}
	e.active = false
}

// SegmentInfo returns a CrashMarker snapshot of the active segment (or a
// zero-value SessionID if none is active), for Stability Monitor's
// SegmentInfo callback.
func (e *Encoder) SegmentInfo() stability.CrashMarker {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.active {
		return stability.CrashMarker{}
	}
	return stability.CrashMarker{
		SessionID:  e.sessionID,
		File:       e.path,
		StartMs:    e.startMs,
		EndMs:      e.startMs + e.lastPTS/1000,
		FrameCount: e.frameCount,
	}
}
