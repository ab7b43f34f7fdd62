package main

import (
	"context"
	"log/slog"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"rejourney-engine/internal/orchestrator"
	"rejourney-engine/internal/telemetry"
)

func TestFirstNonEmptyPrefersEarliestSetValue(t *testing.T) {
	if got := firstNonEmpty("", "fallback"); got != "fallback" {
		t.Fatalf("firstNonEmpty = %q, want %q", got, "fallback")
	}
	if got := firstNonEmpty("flag", "env"); got != "flag" {
		t.Fatalf("firstNonEmpty = %q, want %q", got, "flag")
	}
	if got := firstNonEmpty("  ", ""); got != "" {
		t.Fatalf("firstNonEmpty of blank values = %q, want empty", got)
	}
}

func TestResolveBoolFallsBackToEnv(t *testing.T) {
	t.Setenv("REJOURNEY_TEST_BOOL", "true")
	if !resolveBool(false, "REJOURNEY_TEST_BOOL") {
		t.Fatalf("expected env override to resolve true")
	}
	if !resolveBool(true, "REJOURNEY_TEST_BOOL_UNSET") {
		t.Fatalf("expected flag value to win when env is unset")
	}
}

func TestClampMinutesBounds(t *testing.T) {
	cases := map[int]int{0: 1, -5: 1, 1: 1, 10: 10, 11: 10, 7: 7}
	for in, want := range cases {
		if got := clampMinutes(in); got != want {
			t.Errorf("clampMinutes(%d) = %d, want %d", in, got, want)
		}
	}
}

func TestSimulatedCodecWritesFramesBetweenConfigureAndFinish(t *testing.T) {
	codec := newSimulatedCodec(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError})))
	path := filepath.Join(t.TempDir(), "seg.mp4")
	ctx := context.Background()

	if err := codec.Configure(ctx, path, 320, 240, 1_500_000, 10*time.Second); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	if err := codec.WriteFrame(ctx, nil, 0); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	if err := codec.WriteFrame(ctx, nil, 66_667); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}

	count, err := codec.Finish(ctx)
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}
	if count != 2 {
		t.Fatalf("Finish frame count = %d, want 2", count)
	}

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected segment file to exist: %v", err)
	}

	if err := codec.Release(ctx); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if err := codec.WriteFrame(ctx, nil, 0); err == nil {
		t.Fatalf("expected WriteFrame after Release to fail")
	}
}

func TestSimulatedNetworkReflectsWifiOnlyFlag(t *testing.T) {
	online := newSimulatedNetwork(true)
	if online.Current().Type != "wifi" {
		t.Fatalf("expected simulated network online, got %+v", online.Current())
	}

	offline := newSimulatedNetwork(false)
	if offline.Current().Type != "" {
		t.Fatalf("expected simulated network with no active transport, got %+v", offline.Current())
	}

	unsubscribe := offline.Subscribe(func(orchestrator.NetworkState) {})
	unsubscribe()
}

func TestDebugEventHubStreamsSubscribedRecords(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	hub := newDebugEventHub(logger)

	pipeline := telemetry.New(telemetry.Config{})
	unsubscribe := hub.attach(pipeline)
	defer unsubscribe()

	server := httptest.NewServer(hub)
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial debug event hub: %v", err)
	}
	defer conn.Close()

	pipeline.RecordNavigation(telemetry.NavigationPayload{Screen: "feed"})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read debug event: %v", err)
	}
	if !strings.Contains(string(msg), "feed") {
		t.Fatalf("expected streamed record to mention screen, got %q", msg)
	}
}
