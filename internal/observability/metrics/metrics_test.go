package metrics

import (
	"bytes"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestObserveRequestAndSnapshot(t *testing.T) {
	recorder := New()

	recorder.ObserveRequest("get", "/debug/metrics", 200, 50*time.Millisecond)
	recorder.ObserveRequest("GET", "/debug/metrics", 200, 25*time.Millisecond)
	recorder.ObserveRequest("POST", "/debug/session", 500, 10*time.Millisecond)

	var buf bytes.Buffer
	recorder.Write(&buf)
	body := buf.String()

	for _, want := range []string{
		`rejourney_harness_http_requests_total{method="GET",path="/debug/metrics",status="200"} 2`,
		`rejourney_harness_http_requests_total{method="POST",path="/debug/session",status="500"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected metrics output to contain %q, got:\n%s", want, body)
		}
	}
}

func TestSessionTalliesAndSnapshot(t *testing.T) {
	recorder := New()

	recorder.IncrTouch()
	recorder.IncrTouch()
	recorder.IncrScroll()
	recorder.IncrGesture()
	recorder.IncrRageTap()
	recorder.IncrDeadTap()
	recorder.IncrCrash()
	recorder.IncrANR()
	recorder.IncrError()

	recorder.RecordScreenVisit("feed")
	recorder.RecordScreenVisit("detail")
	recorder.RecordScreenVisit("feed")

	snap := recorder.Snapshot()
	if snap.TouchCount != 2 {
		t.Errorf("TouchCount = %d, want 2", snap.TouchCount)
	}
	if snap.RageTapCount != 1 || snap.DeadTapCount != 1 {
		t.Errorf("RageTapCount/DeadTapCount = %d/%d, want 1/1", snap.RageTapCount, snap.DeadTapCount)
	}
	if snap.CrashCount != 1 || snap.ANRCount != 1 || snap.ErrorCount != 1 {
		t.Errorf("CrashCount/ANRCount/ErrorCount = %d/%d/%d, want 1/1/1", snap.CrashCount, snap.ANRCount, snap.ErrorCount)
	}
	if len(snap.ScreensVisited) != 3 {
		t.Errorf("ScreensVisited length = %d, want 3 (duplicates kept)", len(snap.ScreensVisited))
	}
	if snap.UniqueScreens != 2 {
		t.Errorf("UniqueScreens = %d, want 2", snap.UniqueScreens)
	}
}

func TestUploadAndCircuitCounters(t *testing.T) {
	recorder := New()

	recorder.ObserveUploadAttempt("events")
	recorder.ObserveUploadAttempt("events")
	recorder.IncrUploadSuccess()
	recorder.IncrUploadDropped("video")
	recorder.IncrCircuitOpened()
	recorder.SetRingDepth(42)

	var buf bytes.Buffer
	recorder.Write(&buf)
	body := buf.String()

	for _, want := range []string{
		`rejourney_upload_attempts_total{lane="events",result="attempt"} 2`,
		`rejourney_upload_attempts_total{lane="video",result="dropped"} 1`,
		"rejourney_upload_success_total 1",
		"rejourney_upload_dropped_total 1",
		"rejourney_circuit_opened_total 1",
		"rejourney_event_ring_depth 42",
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected metrics output to contain %q, got:\n%s", want, body)
		}
	}
}

func TestResetClearsAllCounters(t *testing.T) {
	recorder := New()
	recorder.ObserveRequest("GET", "/x", 200, time.Millisecond)
	recorder.IncrTouch()
	recorder.IncrUploadSuccess()
	recorder.RecordScreenVisit("feed")

	recorder.Reset()

	var buf bytes.Buffer
	recorder.Write(&buf)
	body := buf.String()
	if strings.Contains(body, `path="/x"`) {
		t.Fatalf("expected request counters to be cleared, got:\n%s", body)
	}
	snap := recorder.Snapshot()
	if snap.TouchCount != 0 || len(snap.ScreensVisited) != 0 {
		t.Fatalf("expected session tallies cleared, got %+v", snap)
	}
}

func TestHandlerServesPrometheusText(t *testing.T) {
	recorder := New()
	recorder.IncrTouch()

	res := httptest.NewRecorder()
	recorder.Handler().ServeHTTP(res, httptest.NewRequest("GET", "/debug/metrics", nil))

	if ct := res.Result().Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Fatalf("unexpected content type: %s", ct)
	}
	if !strings.Contains(res.Body.String(), `rejourney_gestures_total{kind="touch"} 1`) {
		t.Fatalf("expected touch gauge in body, got:\n%s", res.Body.String())
	}
}

func TestRecorderIsSafeForConcurrentUse(t *testing.T) {
	recorder := New()
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			recorder.IncrTouch()
			recorder.ObserveUploadAttempt("events")
		}()
	}
	wg.Wait()

	snap := recorder.Snapshot()
	if snap.TouchCount != 100 {
		t.Fatalf("TouchCount = %d, want 100", snap.TouchCount)
	}
}
