// Package registry owns the volatile Task records. Each active
// task_id has exactly one record; mutations are applied atomically
// behind a lock and published to the Broadcaster as progress frames.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"deepresearch.app/core/internal/research"
)

// Publisher is the minimal surface the registry needs from the broadcaster:
// route one frame to every subscriber of a task.
type Publisher interface {
	Publish(taskID int64, frame research.ProgressFrame)
	Evict(taskID int64)
}

// Archiver is the minimal surface the registry needs from the analytics
// store: a write-behind sink for terminated tasks, not part of Task/Session
// semantics.
type Archiver interface {
	AppendTask(ctx context.Context, taskID int64, sessionID *int64, phase string, tokensUsed, sourcesFound int, duration time.Duration, outcome research.TaskStatus) error
}

// Registry is the in-memory, mutex-protected Task store.
type Registry struct {
	mu    sync.Mutex
	tasks map[int64]*research.Task

	publisher      Publisher
	archiver       Archiver
	terminateGrace time.Duration
}

func New(publisher Publisher, terminateGrace time.Duration) *Registry {
	if terminateGrace <= 0 {
		terminateGrace = time.Second
	}
	return &Registry{
		tasks:          make(map[int64]*research.Task),
		publisher:      publisher,
		terminateGrace: terminateGrace,
	}
}

// WithArchiver attaches an analytics archiver; terminated tasks are handed
// to it best-effort (a failed archive write never fails Terminate).
func (r *Registry) WithArchiver(archiver Archiver) *Registry {
	r.archiver = archiver
	return r
}

// Create inserts a Task in pending state; fails if task_id already exists.
func (r *Registry) Create(taskID int64, sessionID *int64) (research.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tasks[taskID]; exists {
		return research.Task{}, research.ErrTaskExists
	}

	task := &research.Task{
		TaskID:    taskID,
		SessionID: sessionID,
		Status:    research.TaskPending,
		StartedAt: time.Now(),
	}
	r.tasks[taskID] = task
	return *task, nil
}

// Get returns a read-only snapshot, or research.ErrTaskNotFound.
func (r *Registry) Get(taskID int64) (research.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	task, ok := r.tasks[taskID]
	if !ok {
		return research.Task{}, research.ErrTaskNotFound
	}
	return *task, nil
}

// Mutation applies in-place changes to a Task snapshot under the
// registry's lock.
type Mutation func(*research.Task)

// Update applies mutation atomically and publishes a progress frame derived
// from the resulting snapshot.
func (r *Registry) Update(taskID int64, mutation Mutation) (research.Task, error) {
	r.mu.Lock()
	task, ok := r.tasks[taskID]
	if !ok {
		r.mu.Unlock()
		return research.Task{}, research.ErrTaskNotFound
	}

	mutation(task)
	if task.Status == research.TaskPending {
		task.Status = research.TaskRunning
	}
	snapshot := *task
	r.mu.Unlock()

	if r.publisher != nil {
		r.publisher.Publish(taskID, research.SnapshotFrame(snapshot, research.FrameProgress))
	}
	return snapshot, nil
}

// Terminate publishes a final frame of the matching type, then evicts the
// record after the configured grace period so newly attached subscribers
// can still observe the terminal frame.
func (r *Registry) Terminate(ctx context.Context, taskID int64, status research.TaskStatus) error {
	r.mu.Lock()
	task, ok := r.tasks[taskID]
	if !ok {
		r.mu.Unlock()
		return research.ErrTaskNotFound
	}

	task.Status = status
	switch status {
	case research.TaskCompleted:
		task.Progress = 100
	case research.TaskCancelled:
		task.CurrentStep = "Cancelled by user"
	}
	snapshot := *task
	r.mu.Unlock()

	frameType := research.FrameCompleted
	if status != research.TaskCompleted {
		frameType = research.FrameProgress
		if status == research.TaskFailed {
			frameType = research.FrameError
		}
	}
	if status == research.TaskCancelled {
		// Cancellation must not publish `completed`; a progress-typed
		// terminal frame is used instead.
		frameType = research.FrameProgress
	}

	if r.publisher != nil {
		r.publisher.Publish(taskID, research.SnapshotFrame(snapshot, frameType))
	}

	if r.archiver != nil {
		duration := time.Since(snapshot.StartedAt)
		if err := r.archiver.AppendTask(ctx, taskID, snapshot.SessionID, snapshot.CurrentStep, snapshot.TokensUsed, snapshot.SourcesFound, duration, status); err != nil {
			slog.WarnContext(ctx, "analytics archive write failed", "task_id", taskID, "error", err)
		}
	}

	go func() {
		select {
		case <-time.After(r.terminateGrace):
		case <-ctx.Done():
		}
		r.mu.Lock()
		delete(r.tasks, taskID)
		r.mu.Unlock()
		if r.publisher != nil {
			r.publisher.Evict(taskID)
		}
	}()

	return nil
}

// Cancel sets the cancellation flag; it does not synchronously stop the
// worker. Workers check IsCancelled at their safe points.
func (r *Registry) Cancel(taskID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	task, ok := r.tasks[taskID]
	if !ok {
		return research.ErrTaskNotFound
	}
	task.Cancelled = true
	return nil
}

// IsCancelled reports a task's cancellation flag without mutating it.
func (r *Registry) IsCancelled(taskID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	task, ok := r.tasks[taskID]
	if !ok {
		return false
	}
	return task.Cancelled
}

// List returns a snapshot of every currently registered task.
func (r *Registry) List() []research.Task {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]research.Task, 0, len(r.tasks))
	for _, t := range r.tasks {
		out = append(out, *t)
	}
	return out
}

// CheckCancelled is a convenience for pipeline phases: returns a typed
// Cancelled error if the task has been cancelled, nil otherwise.
func (r *Registry) CheckCancelled(taskID int64) error {
	if r.IsCancelled(taskID) {
		return research.NewError(research.KindCancelled, fmt.Sprintf("task %d cancelled", taskID), nil)
	}
	return nil
}
