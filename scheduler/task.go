// Package scheduler implements the single-threaded cooperative task
// scheduler at the core of the stack: a bounded population of pinned,
// polymorphic Tasks is stored in a slab, each task's readiness is tracked by
// a packed bitmap, and Poll drains whichever tasks were notified since the
// last call.
package scheduler

import "fmt"

// PollResult is returned by a Task's Poll method.
type PollResult struct {
	// Ready is true once the task has produced its single output and
	// should not be polled again (it remains resident until Remove).
	Ready bool

	// Value is the task's completion output. Only meaningful when Ready.
	Value any
}

// Pending is returned by a Task that has more work to do but is not ready
// yet; it must have arranged for Waker.Wake to be called when it becomes
// worth polling again.
var Pending = PollResult{}

// Done wraps a completion value as a ready PollResult.
func Done(value any) PollResult {
	return PollResult{Ready: true, Value: value}
}

// Task is a polymorphic unit of cooperative work. A Task is owned
// exclusively by the Scheduler that holds it; implementations must not
// retain a copy of themselves that outlives removal, since the Scheduler
// treats a Task as pinned — once inserted, it is polled in place and never
// relocated.
type Task interface {
	// Name identifies the task for logging and debugging. It need not be
	// unique.
	Name() string

	// Poll advances the task. w stays valid after this call returns (see
	// Waker's doc comment), so implementations that need to be woken
	// later either call w.Wake() themselves or hand w to something that
	// will, such as a queue or a timer.
	Poll(w Waker) PollResult
}

// TaskId uniquely identifies a resident task. It is a 16-bit random value
// widened to 64 bits (see Scheduler.allocTaskId); at most one live Task
// holds a given TaskId at a time, but ids are reused after removal.
type TaskId uint64

// String renders the id as "task-" followed by four hex digits.
func (id TaskId) String() string {
	return fmt.Sprintf("task-%04x", uint16(id))
}

// PinSlabIndex is a dense index into the scheduler's task storage. The
// mapping from TaskId to PinSlabIndex is a bijection over currently-resident
// tasks.
type PinSlabIndex uint32
