package queue

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coolheart77/usertcp/scheduler"
)

func TestPushThenTryPopFIFO(t *testing.T) {
	q := New[int]()
	q.Push(1)
	q.Push(2)
	q.Push(3)

	for _, want := range []int{1, 2, 3} {
		got, ok := q.TryPop()
		require.True(t, ok)
		assert.Equal(t, want, got)
	}
	_, ok := q.TryPop()
	assert.False(t, ok)
}

// wakeTask exposes a queue.TryPop/WaitFor suspension point as a
// scheduler.Task, matching how the background task in tcpip/transport/tcp
// actually consumes recv_queue and ack_queue.
type wakeTask struct {
	q       *AsyncQueue[string]
	results []string
}

func (t *wakeTask) Name() string { return "wake-task" }

func (t *wakeTask) Poll(w scheduler.Waker) scheduler.PollResult {
	for {
		v, ok := t.q.TryPop()
		if !ok {
			if t.q.WaitFor(w) {
				return scheduler.Pending
			}
			continue
		}
		t.results = append(t.results, v)
		if v == "last" {
			return scheduler.Done(t.results)
		}
	}
}

func TestWaitForWakesSchedulerOnPush(t *testing.T) {
	s := scheduler.New(true)
	q := New[string]()
	task := &wakeTask{q: q}
	id := s.Insert(task)

	s.Poll() // nothing queued yet; task registers and returns Pending
	completed, _ := s.HasCompleted(id)
	assert.False(t, completed)

	q.Push("first")
	q.Push("last")

	s.Poll()
	completed, ok := s.HasCompleted(id)
	require.True(t, ok)
	assert.True(t, completed)
	assert.Equal(t, []string{"first", "last"}, task.results)
}

func TestWaitForDoesNotRegisterWhenItemAlreadyAvailable(t *testing.T) {
	q := New[int]()
	q.Push(42)

	var w scheduler.Waker
	armed := q.WaitFor(w)
	assert.False(t, armed, "WaitFor must not arm when an item is already queued")
}
