// Package engine supplies the single driver goroutine spec.md §5 requires:
// it repeatedly calls scheduler.Scheduler.Poll and parks on the teacher's
// sleep.Sleeper between calls, woken by an explicit Kick() from whatever
// external source delivered new work (inbound segments arriving off the
// wire, a fired timer). This is the one place in the module that still
// runs a loop on a dedicated goroutine; everything it drives is
// cooperative.
package engine

import (
	"time"

	"github.com/coolheart77/usertcp/metrics"
	"github.com/coolheart77/usertcp/scheduler"
	"github.com/coolheart77/usertcp/sleep"
)

const kickWakerID = 1

// Engine owns the Sleeper that parks the driver goroutine and the
// Scheduler it polls.
type Engine struct {
	sched   *scheduler.Scheduler
	sleeper sleep.Sleeper
	kick    sleep.Waker
	rec     metrics.SchedulerRecorder
	stop    chan struct{}
	stopped chan struct{}
}

// New builds an Engine around an existing Scheduler. rec may be nil if the
// embedder doesn't want Prometheus metrics.
//
// New installs itself as the Scheduler's wake notifier (scheduler.Waker's
// doc comment: "may be invoked from any context"), so that every Waker
// fired on this Scheduler — a fired retransmit/delayed-ack/TIME-WAIT timer,
// a queue push waking an armed recv_queue pop, a fresh Insert — kicks this
// Engine's driver goroutine awake. Without this, a parked Engine would only
// ever resume on the next unrelated Kick, and timer-driven progress
// (retransmission, quiet-connection reaping) would stall indefinitely.
func New(sched *scheduler.Scheduler, rec metrics.SchedulerRecorder) *Engine {
	e := &Engine{
		sched:   sched,
		rec:     rec,
		stop:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	e.sleeper.AddWaker(&e.kick, kickWakerID)
	sched.SetWakeNotifier(e.Kick)
	return e
}

// Kick wakes the driver goroutine so it re-polls the scheduler immediately.
// New already wires this as the Scheduler's wake notifier, so a fired
// scheduler.Waker reaches it automatically; callers still invoke it
// directly from any other external source of new work a NetworkEndpoint's
// demux path wants to signal outside of a Task (e.g. before any Task has
// armed a waiter at all, such as a listening socket's synchronous SYN
// handling).
func (e *Engine) Kick() {
	e.kick.Assert()
}

// Run drives the scheduler until Stop is called. It is meant to be run on
// its own goroutine; every Task it polls still executes synchronously on
// that one goroutine, matching spec.md §5's single-threaded requirement.
func (e *Engine) Run() {
	defer close(e.stopped)
	defer e.sleeper.Done()
	for {
		start := time.Now()
		e.sched.Poll()
		if e.rec != nil {
			e.rec.SetPopulation(e.sched.Len())
			e.rec.ObservePollLatency(time.Since(start).Seconds())
		}

		select {
		case <-e.stop:
			return
		default:
		}

		// Every task still live has either completed (and is waiting
		// to be reaped by its owner, not re-polled) or returned
		// Pending after re-arming its own waker. Either way there is
		// nothing productive to do until some Waker fires, so park
		// unconditionally. This is safe only because New wires
		// sched.SetWakeNotifier(e.Kick): any Waker firing on this
		// Scheduler — not just an explicit Kick() call — reaches
		// e.kick.Assert() and wakes this same Sleeper.
		e.sleeper.Fetch(true)
	}
}

// Stop signals Run to exit after its current Poll and wakes it if parked.
func (e *Engine) Stop() {
	close(e.stop)
	e.kick.Assert()
	<-e.stopped
}
