package scheduler

import "sync/atomic"

// pageCapacity is the number of task slots tracked by a single WakerPage's
// bitmaps. Slot k on page p corresponds to PinSlabIndex(p*pageCapacity + k).
const pageCapacity = 64

// wakerPage is a fixed-capacity bitmap bundle: three atomic 64-bit
// bit-vectors, one bit per slot, tracking whether each slot's task is
// notified (ready to poll), completed, or dropped. Remove sets the dropped
// bit and then clears all three bits of the slot, so a freed slot carries
// no bits until its next Insert. Pages are appended to the Scheduler's page
// vector as needed and never removed, which keeps PinSlabIndex stable for
// the lifetime of the process.
type wakerPage struct {
	notified  atomic.Uint64
	completed atomic.Uint64
	dropped   atomic.Uint64

	// refs is not updated anywhere: Waker values are plain copies with
	// no release hook, so outstanding wakers are not counted. The page
	// is kept alive by the Scheduler's page slice and by the Wakers'
	// own pointers to it.
	refs atomic.Int64

	// notify points at the owning Scheduler's wakeNotify field (shared,
	// not copied, so it sees whatever SetWakeNotifier installs even if
	// that happens after this page was created). Nil only in tests that
	// construct a wakerPage directly without going through a Scheduler.
	notify *atomic.Pointer[func()]
}

// takeNotified atomically reads and clears the notified bitmap, returning
// the bits that were set. This is the single atomic swap that makes Poll's
// readiness scan O(1) in the number of pages rather than the number of
// tasks.
func (p *wakerPage) takeNotified() uint64 {
	return p.notified.Swap(0)
}

func (p *wakerPage) setNotified(slot uint) {
	p.notified.Or(uint64(1) << slot)
	p.wake()
}

// wake invokes the Scheduler's installed wake notifier, if any, so an
// embedder parking its driver goroutine between Poll calls hears about this
// bit going ready. Called on every setNotified, which covers both Insert's
// initial notify and every later Waker.Wake().
func (p *wakerPage) wake() {
	if p.notify == nil {
		return
	}
	if fn := p.notify.Load(); fn != nil {
		(*fn)()
	}
}

func (p *wakerPage) setCompleted(slot uint) {
	p.completed.Or(uint64(1) << slot)
}

func (p *wakerPage) isCompleted(slot uint) bool {
	return p.completed.Load()&(uint64(1)<<slot) != 0
}

func (p *wakerPage) isDropped(slot uint) bool {
	return p.dropped.Load()&(uint64(1)<<slot) != 0
}

// clearSlot resets all three bits for slot, e.g. on remove or on reuse by a
// fresh insert.
func (p *wakerPage) clearSlot(slot uint) {
	mask := ^(uint64(1) << slot)
	p.notified.And(mask)
	p.completed.And(mask)
	p.dropped.And(mask)
}

func (p *wakerPage) markDropped(slot uint) {
	p.dropped.Or(uint64(1) << slot)
}

// Waker is handed to a Task on every Poll call. Invoking Wake marks the
// task's slot notified so a future Scheduler.Poll will poll it again. A
// Waker may be invoked from any goroutine, any number of times (including
// none), and after the owning task has completed or even been removed —
// invocation after removal is a no-op for polling purposes, since the slot
// it references may since have been reused by a different task (in which
// case the spurious notification just causes one harmless extra poll of the
// new tenant). The Waker holds a reference to its page, not to the task, so
// it remains safe to invoke for the page's lifetime, which is the process
// lifetime.
type Waker struct {
	page *wakerPage
	slot uint
}

// Wake marks the associated slot notified. Safe to call concurrently and
// repeatedly; self-wake (a task waking itself from inside its own Poll) is
// valid and is observed on the next Poll call, not the current one.
func (w Waker) Wake() {
	if w.page == nil {
		return
	}
	w.page.setNotified(w.slot)
}

func newWaker(page *wakerPage, slot uint) Waker {
	return Waker{page: page, slot: slot}
}
