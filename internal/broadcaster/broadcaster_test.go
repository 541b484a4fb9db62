package broadcaster_test

import (
	"testing"
	"time"

	"deepresearch.app/core/internal/broadcaster"
	"deepresearch.app/core/internal/research"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestBroadcaster(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Broadcaster Suite")
}

func drain(ch <-chan research.ProgressFrame, n int) []research.ProgressFrame {
	frames := make([]research.ProgressFrame, 0, n)
	for i := 0; i < n; i++ {
		select {
		case f, ok := <-ch:
			if !ok {
				return frames
			}
			frames = append(frames, f)
		case <-time.After(time.Second):
			return frames
		}
	}
	return frames
}

var _ = Describe("Broadcaster", func() {
	var (
		snapshot research.Task
		exists   bool
		bc       *broadcaster.Broadcaster
	)

	BeforeEach(func() {
		exists = false
		bc = broadcaster.NewBroadcaster(func(taskID int64) (research.Task, bool) {
			return snapshot, exists
		})
	})

	Describe("Subscribe", func() {
		It("emits connection then waiting when the task does not exist yet", func() {
			sub := bc.Subscribe(1)
			frames := drain(sub.Frames, 2)

			Expect(frames).To(HaveLen(2))
			Expect(frames[0].Type).To(Equal(research.FrameConnection))
			Expect(frames[1].Type).To(Equal(research.FrameWaiting))
		})

		It("emits connection then the current snapshot when the task exists", func() {
			exists = true
			snapshot = research.Task{TaskID: 1, Status: research.TaskRunning, Progress: 50}

			sub := bc.Subscribe(1)
			frames := drain(sub.Frames, 2)

			Expect(frames).To(HaveLen(2))
			Expect(frames[0].Type).To(Equal(research.FrameConnection))
			Expect(frames[1].Type).To(Equal(research.FrameProgress))
			Expect(frames[1].Payload["progress_percentage"]).To(Equal(50))
		})

		It("does not replay frames published before attach (late attach)", func() {
			exists = true
			snapshot = research.Task{TaskID: 1, Status: research.TaskRunning, Progress: 10}
			bc.Publish(1, research.SnapshotFrame(snapshot, research.FrameProgress))

			snapshot = research.Task{TaskID: 1, Status: research.TaskRunning, Progress: 50}
			sub := bc.Subscribe(1)
			frames := drain(sub.Frames, 2)

			Expect(frames[1].Payload["progress_percentage"]).To(Equal(50))
		})
	})

	Describe("Publish", func() {
		It("delivers frames to every subscriber in publish order", func() {
			exists = true
			snapshot = research.Task{TaskID: 1, Status: research.TaskRunning, Progress: 0}

			subA := bc.Subscribe(1)
			subB := bc.Subscribe(1)
			drain(subA.Frames, 2)
			drain(subB.Frames, 2)

			for _, p := range []int{10, 40, 70} {
				task := research.Task{TaskID: 1, Status: research.TaskRunning, Progress: p}
				bc.Publish(1, research.SnapshotFrame(task, research.FrameProgress))
			}

			framesA := drain(subA.Frames, 3)
			framesB := drain(subB.Frames, 3)

			Expect(framesA).To(HaveLen(3))
			Expect(framesB).To(HaveLen(3))
			for i, want := range []int{10, 40, 70} {
				Expect(framesA[i].Payload["progress_percentage"]).To(Equal(want))
				Expect(framesB[i].Payload["progress_percentage"]).To(Equal(want))
			}
		})

		It("closes the subscriber stream after a terminal frame", func() {
			exists = true
			snapshot = research.Task{TaskID: 1, Status: research.TaskRunning}
			sub := bc.Subscribe(1)
			drain(sub.Frames, 2)

			bc.Publish(1, research.SnapshotFrame(research.Task{TaskID: 1, Status: research.TaskCompleted, Progress: 100}, research.FrameCompleted))

			_, ok := <-sub.Frames
			Expect(ok).To(BeTrue())
			_, ok = <-sub.Frames
			Expect(ok).To(BeFalse())
		})
	})
})
