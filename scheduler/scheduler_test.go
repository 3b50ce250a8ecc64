package scheduler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// readyTask completes the first time it is polled.
type readyTask struct {
	name string
}

func (t *readyTask) Name() string { return t.name }

func (t *readyTask) Poll(Waker) PollResult {
	return Done("ok")
}

// selfWakingTask increments a counter on first poll, wakes itself, and
// returns pending; on the second poll it completes. This is scenario S2.
type selfWakingTask struct {
	polls int
}

func (t *selfWakingTask) Name() string { return "self-waking" }

func (t *selfWakingTask) Poll(w Waker) PollResult {
	t.polls++
	if t.polls == 1 {
		w.Wake()
		return Pending
	}
	return Done(t.polls)
}

// TestSinglePollCompletion is scenario S1.
func TestSinglePollCompletion(t *testing.T) {
	s := New(true)
	id := s.Insert(&readyTask{name: "s1"})

	s.Poll()

	completed, ok := s.HasCompleted(id)
	require.True(t, ok)
	assert.True(t, completed)
}

// TestSelfWakingTask is scenario S2: a task that wakes itself during its own
// poll must not be polled a second time within the *same* Poll call (spec.md
// §8 invariant 4), and must complete on the second Poll call.
func TestSelfWakingTask(t *testing.T) {
	s := New(true)
	task := &selfWakingTask{}
	id := s.Insert(task)

	s.Poll()
	completed, ok := s.HasCompleted(id)
	require.True(t, ok)
	assert.False(t, completed, "self-wake during the first poll must not cause a second poll in the same call")
	assert.Equal(t, 1, task.polls)

	s.Poll()
	completed, ok = s.HasCompleted(id)
	require.True(t, ok)
	assert.True(t, completed)
	assert.Equal(t, 2, task.polls)
}

// TestIdUniquenessUnderChurn is scenario S3: insert a large population, poll
// once, then remove each task in insertion order, checking uniqueness and
// final emptiness.
func TestIdUniquenessUnderChurn(t *testing.T) {
	s := New(true)

	const n = 8192
	ids := make([]TaskId, n)
	seen := make(map[TaskId]bool, n)

	for i := 0; i < n; i++ {
		id := s.Insert(&readyTask{name: "churn"})
		require.False(t, seen[id], "task id %v reused while still live", id)
		seen[id] = true
		ids[i] = id
	}

	s.Poll()

	for _, id := range ids {
		_, ok := s.Remove(id)
		require.True(t, ok)
		_, stillThere := s.ids[id]
		assert.False(t, stillThere)
	}

	assert.Equal(t, 0, s.Len())
	assert.Empty(t, s.ids)
}

// TestCompletionMonotonicity is invariant 2: once HasCompleted(id) is true,
// it stays true until Remove.
func TestCompletionMonotonicity(t *testing.T) {
	s := New(true)
	id := s.Insert(&readyTask{name: "mono"})

	s.Poll()
	completed, _ := s.HasCompleted(id)
	require.True(t, completed)

	s.Poll()
	s.Poll()
	completed, ok := s.HasCompleted(id)
	require.True(t, ok)
	assert.True(t, completed)

	s.Remove(id)
	_, ok = s.HasCompleted(id)
	assert.False(t, ok)
}

// TestAtLeastOncePollOnNotify is invariant 3: a waker invoked for a live,
// non-completed task causes a poll on some subsequent Poll call.
type countingPendingTask struct {
	woken  bool
	polled int
}

func (t *countingPendingTask) Name() string { return "counting" }

func (t *countingPendingTask) Poll(w Waker) PollResult {
	t.polled++
	if t.polled == 3 {
		return Done(nil)
	}
	return Pending
}

func TestAtLeastOncePollOnNotify(t *testing.T) {
	s := New(true)
	task := &countingPendingTask{}
	id := s.Insert(task)

	s.Poll() // polled=1, still pending; no self-wake so no further notify
	assert.Equal(t, 1, task.polled)

	idx := s.ids[id]
	sl := s.slabs[idx]
	sl.page.setNotified(sl.bit) // external waker firing

	s.Poll()
	assert.Equal(t, 2, task.polled)

	sl.page.setNotified(sl.bit)
	s.Poll()
	completed, _ := s.HasCompleted(id)
	assert.True(t, completed)
	assert.Equal(t, 3, task.polled)
}

// TestRemoveUnknownIdIsNoop covers the "returns none if absent" contract.
func TestRemoveUnknownIdIsNoop(t *testing.T) {
	s := New(true)
	_, ok := s.Remove(TaskId(0xBEEF))
	assert.False(t, ok)
}

// TestInsertPanicsPastMaxPopulation exercises the population ceiling.
func TestInsertPanicsPastMaxPopulation(t *testing.T) {
	s := New(true)
	s.liveIds = MaxNumTasks // short-circuit the loop for test speed

	assert.Panics(t, func() {
		s.Insert(&readyTask{name: "overflow"})
	})
}

// TestStaleWakeAfterRemoveIsHarmless asserts that a Waker captured before a
// task is removed, and invoked afterward, does not resurrect or corrupt a
// freshly-inserted occupant of the reused slot beyond causing one spurious
// extra poll.
func TestStaleWakeAfterRemoveIsHarmless(t *testing.T) {
	s := New(true)
	var captured Waker
	capturing := &captureWakerTask{capture: &captured}
	id := s.Insert(capturing)
	s.Poll()

	s.Remove(id)

	next := &readyTask{name: "reused-slot"}
	newID := s.Insert(next)

	captured.Wake() // stale; must not panic or disturb the new tenant

	s.Poll()
	completed, ok := s.HasCompleted(newID)
	require.True(t, ok)
	assert.True(t, completed)
}

type captureWakerTask struct {
	capture *Waker
}

func (t *captureWakerTask) Name() string { return "capture" }

func (t *captureWakerTask) Poll(w Waker) PollResult {
	*t.capture = w
	return Done(nil)
}
