package metrics

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestHTTPMiddlewareRecordsRequests(t *testing.T) {
	recorder := New()
	handler := HTTPMiddleware(recorder, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	req := httptest.NewRequest(http.MethodGet, "/debug/metrics", nil)
	rr := httptest.NewRecorder()

	handler.ServeHTTP(rr, req)

	var buf bytes.Buffer
	recorder.Write(&buf)
	body := buf.String()

	expected := `rejourney_harness_http_requests_total{method="GET",path="/debug/metrics",status="418"} 1`
	if !strings.Contains(body, expected) {
		t.Fatalf("expected metrics output to contain %q, got %q", expected, body)
	}
}

func TestHTTPMiddlewareFallsBackToDefaultRecorder(t *testing.T) {
	Default().Reset()
	t.Cleanup(func() { Default().Reset() })

	handler := HTTPMiddleware(nil, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/debug/session", nil))

	var buf bytes.Buffer
	Default().Write(&buf)
	body := buf.String()

	expected := `rejourney_harness_http_requests_total{method="GET",path="/debug/session",status="200"} 1`
	if !strings.Contains(body, expected) {
		t.Fatalf("expected default recorder metrics to include %q, got %q", expected, body)
	}
}
