package resultstore

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/anddigital/diagnosis-platform/internal/diagnosis"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return New(client, 5*time.Minute, time.Hour), mr
}

func TestResultPutPeekConsume(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	payload := []byte(`{"result":"Hello","workflow_run_id":"abc123"}`)
	if err := store.PutResult(ctx, "sess-1", payload); err != nil {
		t.Fatalf("PutResult failed: %v", err)
	}

	got, err := store.PeekResult(ctx, "sess-1")
	if err != nil {
		t.Fatalf("PeekResult failed: %v", err)
	}
	if string(got) != string(payload) {
		t.Fatalf("unexpected payload: %s", got)
	}

	// Peek does not remove the entry.
	got, err = store.PeekResult(ctx, "sess-1")
	if err != nil || got == nil {
		t.Fatalf("expected payload still present, got %s err %v", got, err)
	}

	got, err = store.ConsumeResult(ctx, "sess-1")
	if err != nil {
		t.Fatalf("ConsumeResult failed: %v", err)
	}
	if string(got) != string(payload) {
		t.Fatalf("unexpected consumed payload: %s", got)
	}

	got, err = store.ConsumeResult(ctx, "sess-1")
	if err != nil {
		t.Fatalf("second ConsumeResult failed: %v", err)
	}
	if got != nil {
		t.Fatalf("expected consumed entry gone, got %s", got)
	}
}

func TestResultMissingIsNil(t *testing.T) {
	store, _ := newTestStore(t)

	got, err := store.PeekResult(context.Background(), "nothing-here")
	if err != nil {
		t.Fatalf("PeekResult failed: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil for missing key, got %s", got)
	}
}

func TestResultLastWriteWins(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	if err := store.PutResult(ctx, "sess-1", []byte(`{"result":"first"}`)); err != nil {
		t.Fatalf("PutResult failed: %v", err)
	}
	if err := store.PutResult(ctx, "sess-1", []byte(`{"result":"second"}`)); err != nil {
		t.Fatalf("PutResult failed: %v", err)
	}

	got, err := store.PeekResult(ctx, "sess-1")
	if err != nil {
		t.Fatalf("PeekResult failed: %v", err)
	}
	if string(got) != `{"result":"second"}` {
		t.Fatalf("expected last write, got %s", got)
	}
}

func TestResultClearAndTTL(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	if err := store.PutResult(ctx, "sess-1", []byte(`{"result":"x"}`)); err != nil {
		t.Fatalf("PutResult failed: %v", err)
	}
	if err := store.ClearResult(ctx, "sess-1"); err != nil {
		t.Fatalf("ClearResult failed: %v", err)
	}
	got, err := store.PeekResult(ctx, "sess-1")
	if err != nil || got != nil {
		t.Fatalf("expected cleared entry, got %s err %v", got, err)
	}

	// Entries expire on their own after the result TTL.
	if err := store.PutResult(ctx, "sess-2", []byte(`{"result":"y"}`)); err != nil {
		t.Fatalf("PutResult failed: %v", err)
	}
	mr.FastForward(6 * time.Minute)
	got, err = store.PeekResult(ctx, "sess-2")
	if err != nil || got != nil {
		t.Fatalf("expected expired entry, got %s err %v", got, err)
	}
}

func TestDraftRoundTrip(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	draft := &diagnosis.Request{JobType: "営業", Name: "田中"}
	draft.Scale[0] = 4

	if err := store.SaveDraft(ctx, "sess-1", draft); err != nil {
		t.Fatalf("SaveDraft failed: %v", err)
	}

	loaded, err := store.LoadDraft(ctx, "sess-1")
	if err != nil {
		t.Fatalf("LoadDraft failed: %v", err)
	}
	if loaded == nil || loaded.JobType != "営業" || loaded.Scale[0] != 4 {
		t.Fatalf("unexpected draft: %#v", loaded)
	}

	if err := store.DeleteDraft(ctx, "sess-1"); err != nil {
		t.Fatalf("DeleteDraft failed: %v", err)
	}
	loaded, err = store.LoadDraft(ctx, "sess-1")
	if err != nil || loaded != nil {
		t.Fatalf("expected deleted draft, got %#v err %v", loaded, err)
	}
}

func TestNilStoreIsSafe(t *testing.T) {
	var store *Store
	ctx := context.Background()

	if err := store.PutResult(ctx, "s", []byte(`{}`)); err != nil {
		t.Fatalf("nil store PutResult errored: %v", err)
	}
	if got, err := store.PeekResult(ctx, "s"); err != nil || got != nil {
		t.Fatalf("nil store PeekResult: %s %v", got, err)
	}
	if err := store.ClearResult(ctx, "s"); err != nil {
		t.Fatalf("nil store ClearResult errored: %v", err)
	}
}
