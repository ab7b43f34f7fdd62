package interaction

import (
	"math"
	"time"

	"rejourney-engine/internal/telemetry"
)

// scrollTracker accumulates one pointer's scroll displacement between
// emits (§4.8). Each emitted record is a "scroll" gesture TouchPayload:
// Direction holds the dominant direction, X and Y hold dx and dy since the
// previous emit, and Scale holds the average velocity over that span (0 on
// the final record). The record carries no start or end time of the span
// and no deceleration curve.
type scrollTracker struct {
	pointerID string
	t0        time.Time
	lastAt    time.Time
	originX   float64
	originY   float64
	x         float64
	y         float64
	accumDist float64
	timer     *time.Timer
}

const scrollEmitThreshold = 10.0

// ScrollUpdate accumulates displacement for pointerID since the last emit.
// Scrolls never satisfy a dead-tap response (§4.2): callers must not route
// scroll updates through RecordNavigation/RecordInput.
func (r *Recorder) ScrollUpdate(pointerID string, x, y float64) {
	now := r.clock()
	r.scrollMu.Lock()
	tr, ok := r.scrolls[pointerID]
	if !ok {
		tr = &scrollTracker{pointerID: pointerID, t0: now, lastAt: now, originX: x, originY: y, x: x, y: y}
		r.scrolls[pointerID] = tr
	}
	dx := x - tr.x
	dy := y - tr.y
	tr.x = x
	tr.y = y
	tr.lastAt = now
	tr.accumDist += math.Hypot(dx, dy)

	shouldEmit := tr.accumDist >= scrollEmitThreshold
	var emitDX, emitDY float64
	var t0 time.Time
	if shouldEmit {
		emitDX = tr.x - tr.originX
		emitDY = tr.y - tr.originY
		t0 = tr.t0
		tr.t0 = now
		tr.originX = tr.x
		tr.originY = tr.y
		tr.accumDist = 0
	}
	if tr.timer != nil {
		tr.timer.Stop()
	}
	tr.timer = time.AfterFunc(r.scrollDelay, func() { r.emitScrollEnd(pointerID) })
	r.scrollMu.Unlock()

	if shouldEmit {
		r.emitScroll(t0, now, emitDX, emitDY, false)
	}
}

// emitScrollEnd fires when no update has been observed for ScrollEndDelay:
// a final scroll record with v1=0 closes out the stream.
func (r *Recorder) emitScrollEnd(pointerID string) {
	r.scrollMu.Lock()
	tr, ok := r.scrolls[pointerID]
	if ok {
		delete(r.scrolls, pointerID)
	}
	r.scrollMu.Unlock()
	if !ok {
		return
	}
	dx := tr.x - tr.originX
	dy := tr.y - tr.originY
	if dx == 0 && dy == 0 {
		return
	}
	r.emitScroll(tr.t0, tr.lastAt, dx, dy, true)
}

func (r *Recorder) emitScroll(t0, t1 time.Time, dx, dy float64, ended bool) {
	direction := scrollDirection(dx, dy)
	velocity := 0.0
	if dur := t1.Sub(t0).Seconds(); dur > 0 && !ended {
		velocity = math.Hypot(dx, dy) / dur
	}
	r.pipeline.RecordTouch(telemetry.TypeGesture, telemetry.TouchPayload{
		GestureType: "scroll",
		Direction:   direction,
		X:           dx,
		Y:           dy,
		Scale:       velocity,
	})
}

func scrollDirection(dx, dy float64) string {
	if math.Abs(dx) > math.Abs(dy) {
		if dx > 0 {
			return "right"
		}
		return "left"
	}
	if dy > 0 {
		return "down"
	}
	return "up"
}
