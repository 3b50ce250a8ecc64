// Package realtime provides the tcpip.Clock implementation an embedder
// uses outside of tests: wall-clock time and deadline timers built on
// time.AfterFunc. It is deliberately the only package in this module that
// touches time.AfterFunc directly; everything else goes through
// tcpip.Clock so tests can swap in a fake.
package realtime

import (
	"sync/atomic"
	"time"

	"github.com/coolheart77/usertcp/scheduler"
	"github.com/coolheart77/usertcp/tcpip"
)

// Clock is the default tcpip.Clock.
type Clock struct{}

func (Clock) Now() time.Time { return time.Now() }

func (Clock) SleepUntil(t time.Time) tcpip.Sleeper {
	return newDeadline(t)
}

type deadline struct {
	at    time.Time
	fired atomic.Bool
	timer *time.Timer
	armed bool
}

func newDeadline(t time.Time) *deadline {
	return &deadline{at: t}
}

// Poll starts the underlying timer on its first call (arming w to be woken
// once it fires) and on every call simply reports whether it has fired yet.
func (d *deadline) Poll(w scheduler.Waker) bool {
	if d.fired.Load() {
		return true
	}
	if d.armed {
		return false
	}
	d.armed = true
	delay := time.Until(d.at)
	if delay < 0 {
		delay = 0
	}
	fired := &d.fired
	d.timer = time.AfterFunc(delay, func() {
		fired.Store(true)
		w.Wake()
	})
	return false
}

func (d *deadline) Stop() {
	if d.timer != nil {
		d.timer.Stop()
	}
}
