package engine

import (
	"testing"
	"time"

	"github.com/coolheart77/usertcp/scheduler"
)

type onceTask struct{ polled int }

func (t *onceTask) Name() string { return "once" }

func (t *onceTask) Poll(w scheduler.Waker) scheduler.PollResult {
	t.polled++
	return scheduler.Done(nil)
}

func TestRunDrainsReadyTaskThenIdles(t *testing.T) {
	sched := scheduler.New(true)
	task := &onceTask{}
	sched.Insert(task)

	e := New(sched, nil)
	done := make(chan struct{})
	go func() {
		e.Run()
		close(done)
	}()

	deadline := time.After(time.Second)
	for task.polled == 0 {
		select {
		case <-deadline:
			t.Fatal("task was never polled")
		default:
			time.Sleep(time.Millisecond)
		}
	}

	e.Stop()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not exit after Stop")
	}
}

func TestKickWakesParkedEngine(t *testing.T) {
	sched := scheduler.New(true)
	e := New(sched, nil)

	go e.Run()
	time.Sleep(10 * time.Millisecond)

	task := &onceTask{}
	sched.Insert(task)
	e.Kick()

	deadline := time.After(time.Second)
	for task.polled == 0 {
		select {
		case <-deadline:
			t.Fatal("kick did not wake the engine")
		default:
			time.Sleep(time.Millisecond)
		}
	}
	e.Stop()
}
