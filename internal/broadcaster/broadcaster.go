// Package broadcaster fans out ProgressFrames to any number of subscribers
// per task_id. It is purely in-process: a single process owns each task
// in flight, so there is no cross-process transport here.
package broadcaster

import (
	"sync"
	"time"

	"deepresearch.app/core/internal/research"
)

// subscriberBufferSize bounds the per-subscriber channel; on overflow the
// oldest non-terminal frame is dropped. Terminal frames are never dropped.
const subscriberBufferSize = 32

type subscriber struct {
	ch     chan research.ProgressFrame
	closed bool
}

type taskChannel struct {
	mu          sync.Mutex
	subscribers map[int64]*subscriber
	nextID      int64
	lastFrame   *research.ProgressFrame
	lastMutated time.Time
	terminal    bool
}

// Broadcaster routes frames published by the Task Registry to every
// subscriber attached to the same task_id, preserving per-subscriber
// publish order.
type Broadcaster struct {
	mu    sync.Mutex
	tasks map[int64]*taskChannel

	snapshotter func(taskID int64) (research.Task, bool)
}

// NewBroadcaster builds a Broadcaster. snapshotter lets the Broadcaster
// answer a late subscribe() with the task's current snapshot without the
// registry needing to know about subscribers.
func NewBroadcaster(snapshotter func(taskID int64) (research.Task, bool)) *Broadcaster {
	return &Broadcaster{
		tasks:       make(map[int64]*taskChannel),
		snapshotter: snapshotter,
	}
}

func (b *Broadcaster) channelFor(taskID int64) *taskChannel {
	b.mu.Lock()
	defer b.mu.Unlock()

	tc, ok := b.tasks[taskID]
	if !ok {
		tc = &taskChannel{subscribers: make(map[int64]*subscriber)}
		b.tasks[taskID] = tc
	}
	return tc
}

// Subscription is the handle returned by Subscribe; read Frames until the
// channel closes, then call Close to release resources early if needed.
type Subscription struct {
	Frames <-chan research.ProgressFrame
	cancel func()
}

func (s *Subscription) Close() {
	if s.cancel != nil {
		s.cancel()
	}
}

// Subscribe attaches a new subscriber to task_id. On attach it emits a
// `connection` frame, then either the current snapshot as `progress` (if the
// task exists) or `waiting` (if not); thereafter it forwards every frame
// published after attach time until terminal, at which point the stream
// closes.
func (b *Broadcaster) Subscribe(taskID int64) *Subscription {
	tc := b.channelFor(taskID)

	tc.mu.Lock()
	id := tc.nextID
	tc.nextID++
	sub := &subscriber{ch: make(chan research.ProgressFrame, subscriberBufferSize)}
	tc.subscribers[id] = sub
	alreadyTerminal := tc.terminal
	tc.mu.Unlock()

	connFrame := research.ProgressFrame{
		Type:      research.FrameConnection,
		TaskID:    taskID,
		Payload:   map[string]any{},
		Timestamp: time.Now(),
	}
	enqueue(sub, connFrame)

	if snapshot, ok := b.snapshotter(taskID); ok {
		enqueue(sub, research.SnapshotFrame(snapshot, research.FrameProgress))
	} else if !alreadyTerminal {
		enqueue(sub, research.ProgressFrame{
			Type:      research.FrameWaiting,
			TaskID:    taskID,
			Payload:   map[string]any{},
			Timestamp: time.Now(),
		})
	}

	cancel := func() {
		tc.mu.Lock()
		defer tc.mu.Unlock()
		if s, ok := tc.subscribers[id]; ok && !s.closed {
			s.closed = true
			close(s.ch)
			delete(tc.subscribers, id)
		}
	}

	return &Subscription{Frames: sub.ch, cancel: cancel}
}

// Publish forwards frame to every attached subscriber of task_id. A slow
// subscriber never blocks the publisher: on overflow the oldest
// non-terminal buffered frame is dropped. Terminal frames close every
// subscriber's stream after delivery.
func (b *Broadcaster) Publish(taskID int64, frame research.ProgressFrame) {
	tc := b.channelFor(taskID)

	tc.mu.Lock()
	tc.lastFrame = &frame
	tc.lastMutated = time.Now()
	if frame.Type.IsTerminal() {
		tc.terminal = true
	}
	subs := make([]*subscriber, 0, len(tc.subscribers))
	for _, s := range tc.subscribers {
		subs = append(subs, s)
	}
	tc.mu.Unlock()

	for _, s := range subs {
		enqueue(s, frame)
	}

	if frame.Type.IsTerminal() {
		tc.mu.Lock()
		for id, s := range tc.subscribers {
			if !s.closed {
				s.closed = true
				close(s.ch)
			}
			delete(tc.subscribers, id)
		}
		tc.mu.Unlock()
	}
}

// Evict drops all broadcaster state for a task after the registry has
// finished its terminate grace period.
func (b *Broadcaster) Evict(taskID int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.tasks, taskID)
}

// MaybeResendIdle re-emits the last known frame as a `progress` frame for
// any task that has gone longer than idleInterval without a mutation, so
// late-attaching clients and transports that quietly drop connections
// observe liveness.
func (b *Broadcaster) MaybeResendIdle(idleInterval time.Duration) {
	b.mu.Lock()
	taskIDs := make([]int64, 0, len(b.tasks))
	for id := range b.tasks {
		taskIDs = append(taskIDs, id)
	}
	b.mu.Unlock()

	now := time.Now()
	for _, taskID := range taskIDs {
		tc := b.channelFor(taskID)
		tc.mu.Lock()
		stale := !tc.terminal && tc.lastFrame != nil && now.Sub(tc.lastMutated) >= idleInterval
		last := tc.lastFrame
		tc.mu.Unlock()

		if !stale {
			continue
		}
		if snapshot, ok := b.snapshotter(taskID); ok {
			b.Publish(taskID, research.SnapshotFrame(snapshot, research.FrameProgress))
		} else if last != nil {
			resend := *last
			resend.Timestamp = now
			b.Publish(taskID, resend)
		}
	}
}

// enqueue delivers frame to sub's buffer, dropping the oldest non-terminal
// buffered frame on overflow. Terminal frames are never dropped: the
// publisher flushes space for them if needed.
func enqueue(sub *subscriber, frame research.ProgressFrame) {
	if sub.closed {
		return
	}
	select {
	case sub.ch <- frame:
		return
	default:
	}

	if frame.Type.IsTerminal() {
		// Make room by discarding the oldest buffered frame, then retry once.
		select {
		case <-sub.ch:
		default:
		}
		select {
		case sub.ch <- frame:
		default:
		}
		return
	}

	// Non-terminal overflow: drop the oldest buffered frame and enqueue the
	// new one, per the Broadcaster's bounded-buffer contract.
	select {
	case <-sub.ch:
	default:
	}
	select {
	case sub.ch <- frame:
	default:
	}
}
