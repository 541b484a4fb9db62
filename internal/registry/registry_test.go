package registry

import (
	"context"
	"testing"
	"time"

	"deepresearch.app/core/internal/research"
)

type fakePublisher struct {
	frames  []research.ProgressFrame
	evicted []int64
}

func (f *fakePublisher) Publish(taskID int64, frame research.ProgressFrame) {
	f.frames = append(f.frames, frame)
}

func (f *fakePublisher) Evict(taskID int64) {
	f.evicted = append(f.evicted, taskID)
}

func TestCreate_RejectsDuplicateTaskID(t *testing.T) {
	pub := &fakePublisher{}
	r := New(pub, time.Millisecond)

	if _, err := r.Create(1, nil); err != nil {
		t.Fatalf("first Create failed: %v", err)
	}
	if _, err := r.Create(1, nil); err == nil {
		t.Error("expected duplicate Create to fail")
	}
}

func TestUpdate_AppliesMutationAndPublishesProgress(t *testing.T) {
	pub := &fakePublisher{}
	r := New(pub, time.Millisecond)
	r.Create(1, nil)

	snapshot, err := r.Update(1, func(t *research.Task) {
		t.Progress = 42
		t.CurrentStep = "searching"
	})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if snapshot.Progress != 42 {
		t.Errorf("Progress = %d, want 42", snapshot.Progress)
	}
	if snapshot.Status != research.TaskRunning {
		t.Errorf("Status = %s, want running (pending auto-advances on first update)", snapshot.Status)
	}
	if len(pub.frames) != 1 || pub.frames[0].Type != research.FrameProgress {
		t.Errorf("expected one progress frame published, got %+v", pub.frames)
	}
}

func TestTerminate_CancelledNeverPublishesCompleted(t *testing.T) {
	pub := &fakePublisher{}
	r := New(pub, time.Millisecond)
	r.Create(1, nil)
	r.Cancel(1)

	if err := r.Terminate(context.Background(), 1, research.TaskCancelled); err != nil {
		t.Fatalf("Terminate failed: %v", err)
	}
	if len(pub.frames) != 1 {
		t.Fatalf("expected one terminal frame, got %d", len(pub.frames))
	}
	if pub.frames[0].Type == research.FrameCompleted {
		t.Error("cancelled termination MUST NOT publish a completed frame")
	}
}

func TestTerminate_EvictsAfterGracePeriod(t *testing.T) {
	pub := &fakePublisher{}
	r := New(pub, 10*time.Millisecond)
	r.Create(1, nil)

	if err := r.Terminate(context.Background(), 1, research.TaskCompleted); err != nil {
		t.Fatalf("Terminate failed: %v", err)
	}

	if _, err := r.Get(1); err != nil {
		t.Error("task should still be gettable immediately after terminate (within grace)")
	}

	time.Sleep(30 * time.Millisecond)

	if _, err := r.Get(1); err == nil {
		t.Error("expected task to be evicted after grace period")
	}
	if len(pub.evicted) != 1 || pub.evicted[0] != 1 {
		t.Errorf("expected Evict(1) to be called, got %+v", pub.evicted)
	}
}

func TestIsCancelled_ReflectsCancelFlag(t *testing.T) {
	pub := &fakePublisher{}
	r := New(pub, time.Millisecond)
	r.Create(1, nil)

	if r.IsCancelled(1) {
		t.Error("new task should not be cancelled")
	}
	r.Cancel(1)
	if !r.IsCancelled(1) {
		t.Error("task should be cancelled after Cancel")
	}
	if err := r.CheckCancelled(1); err == nil {
		t.Error("CheckCancelled should return an error once cancelled")
	} else if research.KindOf(err) != research.KindCancelled {
		t.Errorf("CheckCancelled error kind = %s, want Cancelled", research.KindOf(err))
	}
}
