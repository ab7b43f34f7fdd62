// Package interaction recognizes taps, scrolls, swipes, pans, long-press,
// pinch, rotation, and multi-touch gestures and emits them through the
// Telemetry Pipeline, deriving rage-tap from a short ring of recent taps
// and running the motion tracker for scroll streams (§4.8).
package interaction

import (
	"math"
	"sync"
	"time"

	"rejourney-engine/internal/telemetry"
)

// Pipeline is the subset of telemetry.Pipeline the recorder drives.
type Pipeline interface {
	RecordTouch(typ telemetry.Type, payload telemetry.TouchPayload)
	NonInteractiveTap(payload telemetry.TouchPayload)
	NoteRageTap()
}

// Clock abstracts wall-clock time for deterministic tests.
type Clock func() time.Time

// Config configures a Recorder.
type Config struct {
	Pipeline         Pipeline
	Clock            Clock
	RageTapThreshold int
	RageTapWindow    time.Duration
	RageTapRadius    float64
	ScrollEndDelay   time.Duration
}

// Recorder is the Interaction Recorder (§4.8): the single entry point host
// gesture callbacks invoke. It owns the rage-tap ring and the per-pointer
// scroll motion tracker; it never throws across its public API (§7).
type Recorder struct {
	pipeline Pipeline
	clock    Clock

	rageThreshold int
	rageWindow    time.Duration
	rageRadius    float64
	scrollDelay   time.Duration

	mu   sync.Mutex
	taps []tapSample

	scrollMu sync.Mutex
	scrolls  map[string]*scrollTracker
}

type tapSample struct {
	at time.Time
	x  float64
	y  float64
}

const rageRingSize = 10

// New constructs a Recorder wired to a Pipeline.
func New(cfg Config) *Recorder {
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.RageTapThreshold <= 0 {
		cfg.RageTapThreshold = 3
	}
	if cfg.RageTapWindow <= 0 {
		cfg.RageTapWindow = 500 * time.Millisecond
	}
	if cfg.RageTapRadius <= 0 {
		cfg.RageTapRadius = 50
	}
	if cfg.ScrollEndDelay <= 0 {
		cfg.ScrollEndDelay = 200 * time.Millisecond
	}
	return &Recorder{
		pipeline:      cfg.Pipeline,
		clock:         cfg.Clock,
		rageThreshold: cfg.RageTapThreshold,
		rageWindow:    cfg.RageTapWindow,
		rageRadius:    cfg.RageTapRadius,
		scrollDelay:   cfg.ScrollEndDelay,
		scrolls:       make(map[string]*scrollTracker),
	}
}

// Tap records a tap gesture. interactive distinguishes taps on buttons and
// touch-handlers (which bypass the dead-tap timer entirely) from taps
// against plain content.
func (r *Recorder) Tap(label string, x, y float64, interactive bool) {
	payload := telemetry.TouchPayload{GestureType: "tap", Label: label, X: x, Y: y}
	if interactive {
		r.pipeline.RecordTouch(telemetry.TypeTouch, payload)
	} else {
		r.pipeline.NonInteractiveTap(payload)
		r.noteTapForRage(x, y)
	}
}

// DoubleTap, LongPress, Swipe, Pinch, Pan, Rotation, and MultiTouch each
// emit a single gesture record; none participate in rage-tap or dead-tap
// detection (only plain, non-interactive taps do).
func (r *Recorder) DoubleTap(label string, x, y float64) {
	r.pipeline.RecordTouch(telemetry.TypeGesture, telemetry.TouchPayload{GestureType: "double_tap", Label: label, X: x, Y: y})
}

func (r *Recorder) LongPress(label string, x, y float64) {
	r.pipeline.RecordTouch(telemetry.TypeGesture, telemetry.TouchPayload{GestureType: "long_press", Label: label, X: x, Y: y})
}

func (r *Recorder) Swipe(label string, x, y float64, direction string) {
	r.pipeline.RecordTouch(telemetry.TypeGesture, telemetry.TouchPayload{GestureType: "swipe", Label: label, X: x, Y: y, Direction: direction})
}

func (r *Recorder) Pinch(label string, x, y float64, scale float64, direction string) {
	r.pipeline.RecordTouch(telemetry.TypeGesture, telemetry.TouchPayload{GestureType: "pinch", Label: label, X: x, Y: y, Scale: scale, Direction: direction})
}

func (r *Recorder) Pan(label string, x, y float64, direction string) {
	r.pipeline.RecordTouch(telemetry.TypeGesture, telemetry.TouchPayload{GestureType: "pan", Label: label, X: x, Y: y, Direction: direction})
}

func (r *Recorder) Rotation(label string, x, y float64, angle float64, direction string) {
	r.pipeline.RecordTouch(telemetry.TypeGesture, telemetry.TouchPayload{GestureType: "rotation", Label: label, X: x, Y: y, Angle: angle, Direction: direction})
}

func (r *Recorder) MultiTouch(label string, x, y float64, touches []telemetry.Point) {
	r.pipeline.RecordTouch(telemetry.TypeGesture, telemetry.TouchPayload{GestureType: "multi_touch", Label: label, X: x, Y: y, Touches: touches, Count: len(touches)})
}

func (r *Recorder) KeyboardTap(label string) {
	r.pipeline.RecordTouch(telemetry.TypeGesture, telemetry.TouchPayload{GestureType: "keyboard_tap", Label: label})
}

// noteTapForRage appends a tap to the ring (capped at rageRingSize, dropping
// the oldest) and checks the rage-tap condition: threshold taps within
// rageWindow, all within rageRadius of their centroid.
func (r *Recorder) noteTapForRage(x, y float64) {
	now := r.clock()
	r.mu.Lock()
	defer r.mu.Unlock()

	r.taps = append(r.taps, tapSample{at: now, x: x, y: y})
	if len(r.taps) > rageRingSize {
		r.taps = r.taps[len(r.taps)-rageRingSize:]
	}

	cutoff := now.Add(-r.rageWindow)
	recent := r.taps[:0:0]
	for _, t := range r.taps {
		if !t.at.Before(cutoff) {
			recent = append(recent, t)
		}
	}
	if len(recent) < r.rageThreshold {
		return
	}

	cx, cy := centroid(recent)
	for _, t := range recent {
		if distance(t.x, t.y, cx, cy) > r.rageRadius {
			return
		}
	}

	r.pipeline.RecordTouch(telemetry.TypeGesture, telemetry.TouchPayload{
		GestureType:     "rage_tap",
		X:               cx,
		Y:               cy,
		Count:           len(recent),
		FrustrationKind: "rage_tap",
	})
	r.pipeline.NoteRageTap()
	r.taps = nil
}

func centroid(samples []tapSample) (float64, float64) {
	var sx, sy float64
	for _, s := range samples {
		sx += s.x
		sy += s.y
	}
	n := float64(len(samples))
	return sx / n, sy / n
}

func distance(x1, y1, x2, y2 float64) float64 {
	dx := x1 - x2
	dy := y1 - y2
	return math.Sqrt(dx*dx + dy*dy)
}
