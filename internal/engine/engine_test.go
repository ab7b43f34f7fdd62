package engine

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"rejourney-engine/internal/config"
	"rejourney-engine/internal/observability/logging"
	"rejourney-engine/internal/registrar"
)

// stubIngestServer answers every ingest endpoint Init and a minimal
// recording session touch with a generic success, enough to exercise
// wiring without a real backend.
func stubIngestServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/ingest/device/register", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(registrar.BootstrapResponse{Credential: "cred", ExpiresAt: time.Now().Add(time.Hour).UnixMilli()})
	})
	mux.HandleFunc("/api/ingest/session/end", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	mux.HandleFunc("/api/ingest/replay/evaluate", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"promoted": true})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestInitWiresAnIdleEngineWithNoCapabilities(t *testing.T) {
	srv := stubIngestServer(t)
	h, err := Init(context.Background(), Config{
		Static: config.Config{
			Endpoint:          srv.URL,
			ProjectID:         "proj-1",
			APIToken:          "token-1",
			DeviceFingerprint: "device-1",
			Platform:          "android",
			AppID:             "app-1",
		},
		PrivateDir: t.TempDir(),
		Logging:    logging.Config{Level: "error"},
	})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	if h.Orchestrator.State().String() != "idle" {
		t.Fatalf("state = %v, want idle", h.Orchestrator.State())
	}
}

func TestInitRequiresPrivateDir(t *testing.T) {
	if _, err := Init(context.Background(), Config{}); err == nil {
		t.Fatalf("expected an error when PrivateDir is empty")
	}
}

func TestEngineRecordsAndFinalizesASessionWithNoScreenCapture(t *testing.T) {
	srv := stubIngestServer(t)
	h, err := Init(context.Background(), Config{
		Static: config.Config{
			Endpoint:          srv.URL,
			ProjectID:         "proj-1",
			APIToken:          "token-1",
			DeviceFingerprint: "device-1",
			Platform:          "android",
			AppID:             "app-1",
			CaptureScreen:     false,
		},
		PrivateDir: t.TempDir(),
		Logging:    logging.Config{Level: "error"},
	})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}

	ctx := context.Background()
	if err := h.Orchestrator.BeginReplay(ctx); err != nil {
		t.Fatalf("BeginReplay: %v", err)
	}

	h.Interaction.Tap("button", 10, 10, true)

	h.Shutdown(ctx)

	if h.Orchestrator.State().String() != "idle" {
		t.Fatalf("state after shutdown = %v, want idle", h.Orchestrator.State())
	}
}
