package sessionstore

import (
	"context"
	"path/filepath"
	"testing"

	"deepresearch.app/core/common/id"
	"deepresearch.app/core/internal/research"
)

func init() {
	_ = id.Init(1)
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()

	index, err := OpenIndex(filepath.Join(dir, "index"))
	if err != nil {
		t.Fatalf("OpenIndex failed: %v", err)
	}
	t.Cleanup(func() { index.Close() })

	store, err := New(filepath.Join(dir, "content"), index)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return store
}

func TestStore_CreateAndGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	session, err := store.Create(ctx, CreateRequest{Title: "t", Topic: "row vs column storage"})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if session.CurrentPhase != research.PhaseQuestions {
		t.Errorf("CurrentPhase = %s, want %s (topic present)", session.CurrentPhase, research.PhaseQuestions)
	}

	got, err := store.Get(ctx, session.SessionID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Topic != session.Topic {
		t.Errorf("Topic = %q, want %q", got.Topic, session.Topic)
	}
}

func TestStore_CreateWithoutTopic(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	session, err := store.Create(ctx, CreateRequest{Title: "t"})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if session.CurrentPhase != research.PhaseTopic {
		t.Errorf("CurrentPhase = %s, want %s (no topic)", session.CurrentPhase, research.PhaseTopic)
	}
}

func TestStore_SavePhaseStateRejectsBackwardAdvance(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	session, err := store.Create(ctx, CreateRequest{Topic: "x"})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if _, err := store.SavePhaseState(ctx, session.SessionID, PhasePatch{Phase: research.PhaseReport}); err != nil {
		t.Fatalf("advance to report failed: %v", err)
	}

	if _, err := store.SavePhaseState(ctx, session.SessionID, PhasePatch{Phase: research.PhaseQuestions}); err == nil {
		t.Error("expected backward phase advance to be rejected")
	}
}

func TestStore_RestorePhaseRepositionsBackward(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	session, err := store.Create(ctx, CreateRequest{Topic: "x"})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := store.SavePhaseState(ctx, session.SessionID, PhasePatch{Phase: research.PhaseReport}); err != nil {
		t.Fatalf("advance failed: %v", err)
	}

	restorePhase := research.PhaseResearch
	data, err := store.RestorePhase(ctx, session.SessionID, &restorePhase)
	if err != nil {
		t.Fatalf("RestorePhase failed: %v", err)
	}
	if data.Phase != research.PhaseResearch {
		t.Errorf("restored Phase = %s, want %s", data.Phase, research.PhaseResearch)
	}

	got, err := store.Get(ctx, session.SessionID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.CurrentPhase != research.PhaseResearch {
		t.Errorf("CurrentPhase after restore = %s, want %s", got.CurrentPhase, research.PhaseResearch)
	}
}

func TestStore_Delete(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	session, err := store.Create(ctx, CreateRequest{Topic: "x"})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if err := store.Delete(ctx, session.SessionID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := store.Delete(ctx, session.SessionID); err != nil {
		t.Errorf("second Delete should be idempotent, got %v", err)
	}

	if _, err := store.Get(ctx, session.SessionID); err == nil {
		t.Error("expected Get after Delete to fail")
	}
}

func TestStore_ListSortedByUpdatedAtDescending(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	var ids []int64
	for i := 0; i < 3; i++ {
		s, err := store.Create(ctx, CreateRequest{Title: "s", Topic: "x"})
		if err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		ids = append(ids, s.SessionID)
		if _, err := store.Update(ctx, s.SessionID, Patch{}); err != nil {
			t.Fatalf("Update failed: %v", err)
		}
	}

	metas, total, err := store.List(ctx, 1, 10, ListFilter{})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if total != 3 {
		t.Fatalf("total = %d, want 3", total)
	}
	for i := 1; i < len(metas); i++ {
		if metas[i-1].UpdatedAt.Before(metas[i].UpdatedAt) {
			t.Errorf("List not sorted by updated_at descending at index %d", i)
		}
	}
}
