package orchestrator

import "rejourney-engine/internal/observability/metrics"

// Metrics is the session metrics snapshot reported at session/end (§4.1).
// The spec names these fields in prose without giving them a home; this is
// that home (SPEC_FULL.md §C.4).
type Metrics struct {
	CrashCount     int64    `json:"crashCount"`
	ANRCount       int64    `json:"anrCount"`
	ErrorCount     int64    `json:"errorCount"`
	DurationSeconds int64   `json:"durationSeconds"`
	TouchCount     int64    `json:"touchCount"`
	ScrollCount    int64    `json:"scrollCount"`
	GestureCount   int64    `json:"gestureCount"`
	RageTapCount   int64    `json:"rageTapCount"`
	DeadTapCount   int64    `json:"deadTapCount"`
	ScreensVisited []string `json:"screensVisited"`
	UniqueScreens  int      `json:"uniqueScreens"`
}

// fromSnapshot builds a Metrics from the in-memory Recorder's snapshot,
// overlaying duration and any orchestrator-known crash count (the
// Recorder's own crash tally only reflects crashes observed within the
// current process, not a recovered prior-process crash).
func fromSnapshot(s metrics.Snapshot, durationSeconds int64, crashOverride *int64) Metrics {
	m := Metrics{
		CrashCount:      s.CrashCount,
		ANRCount:        s.ANRCount,
		ErrorCount:      s.ErrorCount,
		DurationSeconds: durationSeconds,
		TouchCount:      s.TouchCount,
		ScrollCount:     s.ScrollCount,
		GestureCount:    s.GestureCount,
		RageTapCount:    s.RageTapCount,
		DeadTapCount:    s.DeadTapCount,
		ScreensVisited:  s.ScreensVisited,
		UniqueScreens:   s.UniqueScreens,
	}
	if crashOverride != nil {
		m.CrashCount = *crashOverride
	}
	return m
}
