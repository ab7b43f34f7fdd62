package checkpoint

import (
	"context"
	"testing"
)

func TestDiskStoreWriteReadDelete(t *testing.T) {
	dir := t.TempDir()
	store := NewDiskStore(dir)
	ctx := context.Background()

	if _, ok, err := store.Read(ctx); err != nil || ok {
		t.Fatalf("expected no checkpoint initially, got ok=%v err=%v", ok, err)
	}

	cp := Checkpoint{SessionID: "session_0_abc", APIToken: "tok", StartMs: 0, Endpoint: "https://ingest.example"}
	if err := store.Write(ctx, cp); err != nil {
		t.Fatalf("Write: %v", err)
	}

	got, ok, err := store.Read(ctx)
	if err != nil || !ok {
		t.Fatalf("expected checkpoint present, got ok=%v err=%v", ok, err)
	}
	if got != cp {
		t.Fatalf("got %+v, want %+v", got, cp)
	}

	if err := store.Delete(ctx); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok, _ := store.Read(ctx); ok {
		t.Fatalf("expected checkpoint gone after delete")
	}

	// Deleting again is a no-op, not an error.
	if err := store.Delete(ctx); err != nil {
		t.Fatalf("second Delete: %v", err)
	}
}

func TestDiskStoreWriteOverwritesPreviousCheckpoint(t *testing.T) {
	dir := t.TempDir()
	store := NewDiskStore(dir)
	ctx := context.Background()

	first := Checkpoint{SessionID: "session_0_a", APIToken: "tok", StartMs: 0, Endpoint: "https://ingest.example"}
	second := Checkpoint{SessionID: "session_1_b", APIToken: "tok2", StartMs: 1000, Endpoint: "https://ingest.example"}

	if err := store.Write(ctx, first); err != nil {
		t.Fatalf("write first: %v", err)
	}
	if err := store.Write(ctx, second); err != nil {
		t.Fatalf("write second: %v", err)
	}
	got, ok, err := store.Read(ctx)
	if err != nil || !ok {
		t.Fatalf("read: ok=%v err=%v", ok, err)
	}
	if got != second {
		t.Fatalf("at most one checkpoint invariant violated: got %+v, want %+v", got, second)
	}
}
