package tcp

import (
	"fmt"
	"time"

	"github.com/coolheart77/usertcp/scheduler"
)

// backgroundTask is the scheduler.Task that drives one controlBlock for the
// lifetime of an Established (and then Closing) connection, the Go
// translation of what the teacher's protocolMainLoop goroutine
// (transport/tcp/connect.go) does with a per-connection sleep.Sleeper: here
// there is no per-connection goroutine, the scheduler polls this Task
// cooperatively alongside every other live connection.
type backgroundTask struct {
	socket *Socket
	cb     *controlBlock
	timer  interface {
		Poll(w scheduler.Waker) bool
		Stop()
	}
}

func newBackgroundTask(s *Socket) *backgroundTask {
	return &backgroundTask{socket: s, cb: s.cb}
}

func (t *backgroundTask) Name() string {
	return fmt.Sprintf("tcp-cb-%s", t.cb.tuple)
}

// Poll processes whatever is pending on the control block and then decides
// what to wait on next: new inbound segments, and the earliest of the
// retransmit, delayed-ack and TIME-WAIT deadlines. On every Pending return
// it arms the inbound queue's waiter; if a deadline is pending it also arms
// a Clock timer for it, or, with no Clock, wakes itself so the next Poll
// re-checks the deadline (spec.md invariant 3: registering a waker implies
// at-least-once future notification).
func (t *backgroundTask) Poll(w scheduler.Waker) scheduler.PollResult {
	now := t.clockNow()
	done := t.cb.step(now)
	if done {
		t.socket.mu.Lock()
		t.socket.state = StateClosed
		t.socket.hasTsk = false
		t.socket.mu.Unlock()
		return scheduler.Done(nil)
	}

	if armed := t.cb.inbound.WaitFor(w); !armed {
		// Something arrived between step() draining the queue and
		// WaitFor re-arming it; poll again next tick instead of
		// missing it.
		w.Wake()
		return scheduler.Pending
	}

	deadline := t.nextDeadline(now)
	if t.socket.clock == nil && !deadline.IsZero() {
		// No Clock to arm a timer with: re-poll on the next Poll call.
		w.Wake()
	} else if !deadline.IsZero() {
		if t.timer != nil {
			t.timer.Stop()
		}
		t.timer = t.socket.clock.SleepUntil(deadline)
		t.timer.Poll(w)
	}

	return scheduler.Pending
}

func (t *backgroundTask) clockNow() time.Time {
	if t.socket.clock != nil {
		return t.socket.clock.Now()
	}
	return time.Now()
}

func (t *backgroundTask) nextDeadline(now time.Time) time.Time {
	t.cb.mu.Lock()
	defer t.cb.mu.Unlock()
	var deadline time.Time
	if t.cb.ackPending {
		deadline = t.cb.delayedSince.Add(t.socket.cfg.AckDelayTimeout)
	}
	if len(t.cb.outstanding) > 0 {
		rto := t.cb.outstanding[0].sentAt.Add(t.cb.rto.RTO())
		if deadline.IsZero() || rto.Before(deadline) {
			deadline = rto
		}
	}
	if t.cb.closeSt == closeTimeWait {
		twDeadline := t.cb.timeWaitSince.Add(t.socket.cfg.TimeWaitDuration)
		if deadline.IsZero() || twDeadline.Before(deadline) {
			deadline = twDeadline
		}
	}
	if deadline.IsZero() {
		return time.Time{}
	}
	if deadline.Before(now) {
		return now
	}
	return deadline
}
