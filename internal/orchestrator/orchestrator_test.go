package orchestrator

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"rejourney-engine/internal/checkpoint"
	"rejourney-engine/internal/config"
	"rejourney-engine/internal/observability/metrics"
	"rejourney-engine/internal/registrar"
)

type fakeSessionClient struct {
	mu         sync.Mutex
	ended      []SessionEndRequest
	endErr     error
	evaluated  []ReplayEvaluateRequest
	evalResult ReplayEvaluateResponse
}

func (f *fakeSessionClient) SessionEnd(_ context.Context, req SessionEndRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ended = append(f.ended, req)
	return f.endErr
}

func (f *fakeSessionClient) ReplayEvaluate(_ context.Context, req ReplayEvaluateRequest) (ReplayEvaluateResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.evaluated = append(f.evaluated, req)
	return f.evalResult, nil
}

func (f *fakeSessionClient) endCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.ended)
}

func newTestRegistrar(t *testing.T) *registrar.Registrar {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(registrar.BootstrapResponse{Credential: "cred-1", ExpiresAt: time.Now().Add(time.Hour).UnixMilli()})
	}))
	t.Cleanup(srv.Close)
	return registrar.New(srv.URL, "token-1", nil)
}

func newTestOrchestrator(t *testing.T, client *fakeSessionClient) *Orchestrator {
	t.Helper()
	store := checkpoint.NewDiskStore(t.TempDir())
	return New(Config{
		Static: config.Config{
			Endpoint:          "https://ingest.example.com",
			ProjectID:         "proj-1",
			APIToken:          "token-1",
			DeviceFingerprint: "device-1",
			Platform:          "android",
			AppID:             "app-1",
		},
		Registrar:       newTestRegistrar(t),
		CheckpointStore: store,
		SessionClient:   client,
		Recorder:        metrics.New(),
	})
}

func TestBeginReplayEntersRecording(t *testing.T) {
	client := &fakeSessionClient{}
	o := newTestOrchestrator(t, client)

	if err := o.BeginReplay(context.Background()); err != nil {
		t.Fatalf("BeginReplay: %v", err)
	}
	if got := o.State(); got != StateRecording {
		t.Fatalf("state = %v, want Recording", got)
	}
	if o.SessionID() == "" {
		t.Fatalf("expected a session id to be minted")
	}
}

func TestBeginReplayDisabledByRemoteConfig(t *testing.T) {
	client := &fakeSessionClient{}
	o := newTestOrchestrator(t, client)
	o.ApplyRemoteConfig(config.RemoteConfig{RejourneyEnabled: false})

	err := o.BeginReplay(context.Background())
	if err != ErrRecordingDisabled {
		t.Fatalf("err = %v, want ErrRecordingDisabled", err)
	}
	if got := o.State(); got != StateIdle {
		t.Fatalf("state = %v, want Idle", got)
	}
}

func TestEndReplaySubmitsSessionEndAndClearsCheckpoint(t *testing.T) {
	client := &fakeSessionClient{}
	o := newTestOrchestrator(t, client)

	if err := o.BeginReplay(context.Background()); err != nil {
		t.Fatalf("BeginReplay: %v", err)
	}
	sessionID := o.SessionID()

	o.EndReplay(context.Background())

	if got := o.State(); got != StateIdle {
		t.Fatalf("state = %v, want Idle", got)
	}
	if client.endCount() != 1 {
		t.Fatalf("session/end calls = %d, want 1", client.endCount())
	}
	if client.ended[0].SessionID != sessionID {
		t.Fatalf("session/end sessionId = %q, want %q", client.ended[0].SessionID, sessionID)
	}

	if _, ok, err := o.checkpointStore.Read(context.Background()); err != nil || ok {
		t.Fatalf("checkpoint still present after successful session/end: ok=%v err=%v", ok, err)
	}
}

func TestEndReplayLeavesCheckpointOnSessionEndFailure(t *testing.T) {
	client := &fakeSessionClient{endErr: errBoom}
	o := newTestOrchestrator(t, client)

	if err := o.BeginReplay(context.Background()); err != nil {
		t.Fatalf("BeginReplay: %v", err)
	}
	o.EndReplay(context.Background())

	if _, ok, err := o.checkpointStore.Read(context.Background()); err != nil || !ok {
		t.Fatalf("expected checkpoint to survive a failed session/end: ok=%v err=%v", ok, err)
	}
}

func TestRecoverCrashedSessionSubmitsSyntheticCloseAndClearsCheckpoint(t *testing.T) {
	client := &fakeSessionClient{}
	store := checkpoint.NewDiskStore(t.TempDir())
	if err := store.Write(context.Background(), checkpoint.Checkpoint{SessionID: "sess-orphan", StartMs: time.Now().Add(-time.Minute).UnixMilli()}); err != nil {
		t.Fatalf("seed checkpoint: %v", err)
	}

	o := New(Config{
		Static:          config.Config{}.Normalize(),
		Registrar:       newTestRegistrar(t),
		CheckpointStore: store,
		SessionClient:   client,
		Recorder:        metrics.New(),
	})

	recovered, err := o.RecoverCrashedSession(context.Background())
	if err != nil {
		t.Fatalf("RecoverCrashedSession: %v", err)
	}
	if !recovered {
		t.Fatalf("expected a checkpoint to be recovered")
	}
	if client.endCount() != 1 {
		t.Fatalf("session/end calls = %d, want 1", client.endCount())
	}
	if client.ended[0].Metrics.CrashCount != 1 {
		t.Fatalf("crashCount = %d, want 1", client.ended[0].Metrics.CrashCount)
	}
	if _, ok, _ := store.Read(context.Background()); ok {
		t.Fatalf("checkpoint should be cleared after crash recovery")
	}
}

func TestRecoverCrashedSessionNoopWhenNoCheckpoint(t *testing.T) {
	client := &fakeSessionClient{}
	o := newTestOrchestrator(t, client)

	recovered, err := o.RecoverCrashedSession(context.Background())
	if err != nil {
		t.Fatalf("RecoverCrashedSession: %v", err)
	}
	if recovered {
		t.Fatalf("expected no recovery when no checkpoint exists")
	}
	if client.endCount() != 0 {
		t.Fatalf("session/end should not be called when there is nothing to recover")
	}
}

func TestNotifyBackgroundAccrualIsIncludedAtFinalize(t *testing.T) {
	client := &fakeSessionClient{}
	o := newTestOrchestrator(t, client)

	if err := o.BeginReplay(context.Background()); err != nil {
		t.Fatalf("BeginReplay: %v", err)
	}
	o.NotifyBackground()
	time.Sleep(5 * time.Millisecond)
	o.NotifyForeground()
	o.EndReplay(context.Background())

	if client.ended[0].TotalBackgroundTimeMs <= 0 {
		t.Fatalf("expected positive background accrual, got %d", client.ended[0].TotalBackgroundTimeMs)
	}
}

var errBoom = &boomErr{}

type boomErr struct{}

func (*boomErr) Error() string { return "boom" }
