package metrics

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

type requestLabel struct {
	method string
	path   string
	status string
}

type uploadLabel struct {
	lane   string
	result string
}

// Recorder aggregates in-memory counters and gauges for the engine's own
// HTTP surface (the reference harness's debug endpoints), the three upload
// lanes, the circuit breaker, and per-session interaction tallies (rage
// tap, dead tap, ANR, crashes). It coordinates concurrent writers via a
// RWMutex while exposing thread-safe gauges for queue depth, grounded on
// the teacher's Recorder shape (mutex-guarded maps + atomic gauges).
type Recorder struct {
	mu              sync.RWMutex
	requestCount    map[requestLabel]uint64
	requestDuration map[requestLabel]time.Duration
	uploadAttempts  map[uploadLabel]uint64
	screensVisited  []string
	screenSeen      map[string]bool

	uploadSuccess    atomic.Int64
	uploadDropped    atomic.Int64
	circuitOpened    atomic.Int64
	ringDepth        atomic.Int64
	touchCount       atomic.Int64
	scrollCount      atomic.Int64
	gestureCount     atomic.Int64
	rageTapCount     atomic.Int64
	deadTapCount     atomic.Int64
	crashCount       atomic.Int64
	anrCount         atomic.Int64
	errorCount       atomic.Int64
}

var defaultRecorder = New()

// New constructs an empty Recorder with initialized backing maps so callers
// can immediately record metrics without additional setup.
func New() *Recorder {
	return &Recorder{
		requestCount:    make(map[requestLabel]uint64),
		requestDuration: make(map[requestLabel]time.Duration),
		uploadAttempts:  make(map[uploadLabel]uint64),
		screenSeen:      make(map[string]bool),
	}
}

// Default returns the singleton Recorder that HTTPMiddleware falls back to
// when it is given a nil Recorder.
func Default() *Recorder { return defaultRecorder }

// ObserveRequest records an HTTP request against the engine's own debug
// surface (not the ingest service, which the engine only calls out to).
func (r *Recorder) ObserveRequest(method, path string, status int, duration time.Duration) {
	label := requestLabel{method: strings.ToUpper(method), path: path, status: fmt.Sprintf("%d", status)}
	r.mu.Lock()
	r.requestCount[label]++
	r.requestDuration[label] += duration
	r.mu.Unlock()
}

// IncrUploadSuccess records a successful three-phase upload (any lane).
func (r *Recorder) IncrUploadSuccess() { r.uploadSuccess.Add(1) }

// IncrUploadDropped records an upload dropped after exhausting retries or
// a fatal transport error.
func (r *Recorder) IncrUploadDropped(lane string) {
	r.uploadDropped.Add(1)
	r.observeUpload(lane, "dropped")
}

// ObserveUploadAttempt records one attempt (of up to MaxAttempts) for the
// named lane, independent of its outcome.
func (r *Recorder) ObserveUploadAttempt(lane string) { r.observeUpload(lane, "attempt") }

func (r *Recorder) observeUpload(lane, result string) {
	label := uploadLabel{lane: normalizeName(lane), result: result}
	r.mu.Lock()
	r.uploadAttempts[label]++
	r.mu.Unlock()
}

// IncrCircuitOpened records the circuit breaker tripping open.
func (r *Recorder) IncrCircuitOpened() { r.circuitOpened.Add(1) }

// SetRingDepth updates the event ring depth gauge. session/end's
// queueDepthAtFinalize does not read this gauge; the orchestrator takes it
// from the telemetry pipeline's ring size.
func (r *Recorder) SetRingDepth(depth int) { r.ringDepth.Store(int64(depth)) }

// IncrTouch, IncrScroll, IncrGesture, IncrRageTap, IncrDeadTap, IncrCrash,
// IncrANR, and IncrError bump the session metric tallies §4.1 reports at
// session/end.
func (r *Recorder) IncrTouch()   { r.touchCount.Add(1) }
func (r *Recorder) IncrScroll()  { r.scrollCount.Add(1) }
func (r *Recorder) IncrGesture() { r.gestureCount.Add(1) }
func (r *Recorder) IncrRageTap() { r.rageTapCount.Add(1) }
func (r *Recorder) IncrDeadTap() { r.deadTapCount.Add(1) }
func (r *Recorder) IncrCrash()   { r.crashCount.Add(1) }
func (r *Recorder) IncrANR()     { r.anrCount.Add(1) }
func (r *Recorder) IncrError()   { r.errorCount.Add(1) }

// RecordScreenVisit appends screen to the ordered list of screens visited
// this session (duplicates kept; §4.1 also wants the unique count).
func (r *Recorder) RecordScreenVisit(screen string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.screensVisited = append(r.screensVisited, screen)
	r.screenSeen[screen] = true
}

// Snapshot is the point-in-time session metrics bundle reported at
// session/end (§4.1).
type Snapshot struct {
	CrashCount       int64
	ANRCount         int64
	ErrorCount       int64
	TouchCount       int64
	ScrollCount      int64
	GestureCount     int64
	RageTapCount     int64
	DeadTapCount     int64
	ScreensVisited   []string
	UniqueScreens    int
}

// Snapshot returns the current session metric values.
func (r *Recorder) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	screens := make([]string, len(r.screensVisited))
	copy(screens, r.screensVisited)
	return Snapshot{
		CrashCount:     r.crashCount.Load(),
		ANRCount:       r.anrCount.Load(),
		ErrorCount:     r.errorCount.Load(),
		TouchCount:     r.touchCount.Load(),
		ScrollCount:    r.scrollCount.Load(),
		GestureCount:   r.gestureCount.Load(),
		RageTapCount:   r.rageTapCount.Load(),
		DeadTapCount:   r.deadTapCount.Load(),
		ScreensVisited: screens,
		UniqueScreens:  len(r.screenSeen),
	}
}

// Reset clears all counters and gauges. Intended for test setups and for a
// fresh Recorder per session.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requestCount = make(map[requestLabel]uint64)
	r.requestDuration = make(map[requestLabel]time.Duration)
	r.uploadAttempts = make(map[uploadLabel]uint64)
	r.screensVisited = nil
	r.screenSeen = make(map[string]bool)
	r.uploadSuccess.Store(0)
	r.uploadDropped.Store(0)
	r.circuitOpened.Store(0)
	r.ringDepth.Store(0)
	r.touchCount.Store(0)
	r.scrollCount.Store(0)
	r.gestureCount.Store(0)
	r.rageTapCount.Store(0)
	r.deadTapCount.Store(0)
	r.crashCount.Store(0)
	r.anrCount.Store(0)
	r.errorCount.Store(0)
}

// Handler exposes the Recorder as an http.Handler serving Prometheus text
// exposition data, used by cmd/harness's optional /debug/metrics endpoint.
func (r *Recorder) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		r.Write(w)
	})
}

// Write renders the Recorder's metrics in Prometheus text format with
// stable (sorted) label ordering.
func (r *Recorder) Write(w io.Writer) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	requestLabels := r.sortedRequestLabels()
	uploadLabels := r.sortedUploadLabels()

	fmt.Fprintln(w, "# HELP rejourney_harness_http_requests_total Requests served by the reference harness's debug HTTP surface")
	fmt.Fprintln(w, "# TYPE rejourney_harness_http_requests_total counter")
	for _, label := range requestLabels {
		fmt.Fprintf(w, "rejourney_harness_http_requests_total{method=\"%s\",path=\"%s\",status=\"%s\"} %d\n", label.method, label.path, label.status, r.requestCount[label])
	}

	fmt.Fprintln(w, "# HELP rejourney_upload_attempts_total Three-phase upload attempts by lane and outcome")
	fmt.Fprintln(w, "# TYPE rejourney_upload_attempts_total counter")
	for _, label := range uploadLabels {
		fmt.Fprintf(w, "rejourney_upload_attempts_total{lane=\"%s\",result=\"%s\"} %d\n", label.lane, label.result, r.uploadAttempts[label])
	}

	fmt.Fprintln(w, "# HELP rejourney_upload_success_total Successful three-phase uploads across all lanes")
	fmt.Fprintln(w, "# TYPE rejourney_upload_success_total counter")
	fmt.Fprintf(w, "rejourney_upload_success_total %d\n", r.uploadSuccess.Load())

	fmt.Fprintln(w, "# HELP rejourney_upload_dropped_total Uploads dropped after exhausting retries or a fatal transport error")
	fmt.Fprintln(w, "# TYPE rejourney_upload_dropped_total counter")
	fmt.Fprintf(w, "rejourney_upload_dropped_total %d\n", r.uploadDropped.Load())

	fmt.Fprintln(w, "# HELP rejourney_circuit_opened_total Times the dispatcher circuit breaker has tripped open")
	fmt.Fprintln(w, "# TYPE rejourney_circuit_opened_total counter")
	fmt.Fprintf(w, "rejourney_circuit_opened_total %d\n", r.circuitOpened.Load())

	fmt.Fprintln(w, "# HELP rejourney_event_ring_depth Current depth of the event ring buffer")
	fmt.Fprintln(w, "# TYPE rejourney_event_ring_depth gauge")
	fmt.Fprintf(w, "rejourney_event_ring_depth %d\n", r.ringDepth.Load())

	fmt.Fprintln(w, "# HELP rejourney_gestures_total Gesture/interaction tallies for the current session")
	fmt.Fprintln(w, "# TYPE rejourney_gestures_total counter")
	fmt.Fprintf(w, "rejourney_gestures_total{kind=\"touch\"} %d\n", r.touchCount.Load())
	fmt.Fprintf(w, "rejourney_gestures_total{kind=\"scroll\"} %d\n", r.scrollCount.Load())
	fmt.Fprintf(w, "rejourney_gestures_total{kind=\"gesture\"} %d\n", r.gestureCount.Load())
	fmt.Fprintf(w, "rejourney_gestures_total{kind=\"rage_tap\"} %d\n", r.rageTapCount.Load())
	fmt.Fprintf(w, "rejourney_gestures_total{kind=\"dead_tap\"} %d\n", r.deadTapCount.Load())

	fmt.Fprintln(w, "# HELP rejourney_stability_events_total Crash, ANR, and error counts for the current session")
	fmt.Fprintln(w, "# TYPE rejourney_stability_events_total counter")
	fmt.Fprintf(w, "rejourney_stability_events_total{kind=\"crash\"} %d\n", r.crashCount.Load())
	fmt.Fprintf(w, "rejourney_stability_events_total{kind=\"anr\"} %d\n", r.anrCount.Load())
	fmt.Fprintf(w, "rejourney_stability_events_total{kind=\"error\"} %d\n", r.errorCount.Load())
}

func (r *Recorder) sortedRequestLabels() []requestLabel {
	labels := make([]requestLabel, 0, len(r.requestCount))
	for label := range r.requestCount {
		labels = append(labels, label)
	}
	sort.Slice(labels, func(i, j int) bool {
		if labels[i].method != labels[j].method {
			return labels[i].method < labels[j].method
		}
		if labels[i].path != labels[j].path {
			return labels[i].path < labels[j].path
		}
		return labels[i].status < labels[j].status
	})
	return labels
}

func (r *Recorder) sortedUploadLabels() []uploadLabel {
	labels := make([]uploadLabel, 0, len(r.uploadAttempts))
	for label := range r.uploadAttempts {
		labels = append(labels, label)
	}
	sort.Slice(labels, func(i, j int) bool {
		if labels[i].lane != labels[j].lane {
			return labels[i].lane < labels[j].lane
		}
		return labels[i].result < labels[j].result
	})
	return labels
}

func normalizeName(name string) string {
	normalized := strings.ToLower(strings.TrimSpace(name))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}
