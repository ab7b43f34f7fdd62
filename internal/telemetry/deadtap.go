package telemetry

import (
	"sync"
	"time"
)

// DeadTapDetector implements the dead-tap state machine from §4.2: arms a
// timer on every non-interactive tap, and suppresses it if a navigation or
// input record lands before the timer fires. It lives in this package (not
// the Interaction Recorder) for ordering reasons: navigation/input records
// from any recorder must be visible to it the instant they're enqueued.
type DeadTapDetector struct {
	window time.Duration
	clock  func() time.Time
	after  func(time.Duration, func())

	mu             sync.Mutex
	lastTapTs      time.Time
	lastResponseTs time.Time
	armed          bool
	generation     int

	onDeadTap func()
}

// NewDeadTapDetector builds a detector with the given window (default
// 400ms) and an injectable clock/timer for deterministic tests.
func NewDeadTapDetector(window time.Duration, clock func() time.Time, after func(time.Duration, func()), onDeadTap func()) *DeadTapDetector {
	if window <= 0 {
		window = 400 * time.Millisecond
	}
	if clock == nil {
		clock = time.Now
	}
	if after == nil {
		after = func(d time.Duration, f func()) { time.AfterFunc(d, f) }
	}
	return &DeadTapDetector{window: window, clock: clock, after: after, onDeadTap: onDeadTap}
}

// NonInteractiveTap arms the dead-tap timer. Taps against interactive
// widgets must not call this (§4.2: "bypass the timer entirely").
func (d *DeadTapDetector) NonInteractiveTap(now time.Time) {
	d.mu.Lock()
	d.lastTapTs = now
	d.generation++
	gen := d.generation
	d.armed = true
	d.mu.Unlock()

	d.after(d.window, func() { d.fire(gen) })
}

// Response records that a navigation or input record was enqueued,
// satisfying any armed dead-tap timer whose deadline hasn't yet passed.
// Scrolls are explicitly not responses (§4.2).
func (d *DeadTapDetector) Response(now time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lastResponseTs = now
}

func (d *DeadTapDetector) fire(gen int) {
	d.mu.Lock()
	if !d.armed || gen != d.generation {
		d.mu.Unlock()
		return
	}
	d.armed = false
	// Dead iff no navigation/input response landed after the originating tap.
	// A zero-value lastResponseTs (no response ever seen) is never After a
	// real tap timestamp, so this covers both "no response yet" and "stale
	// response from before this tap" uniformly.
	dead := !d.lastResponseTs.After(d.lastTapTs)
	d.mu.Unlock()
	if dead && d.onDeadTap != nil {
		d.onDeadTap()
	}
}
