package scheduler

import (
	"math/rand"
	"sync"
	"sync/atomic"
)

const (
	// MaxNumTasks bounds the resident task population. Insert panics once
	// the scheduler holds this many tasks.
	MaxNumTasks = 16_000

	// maxRetriesTaskIDAlloc bounds how many random draws Insert will make
	// looking for an id not currently in use before it gives up and
	// panics. With at most MaxNumTasks ids live out of a 16-bit space,
	// expected retries are O(1); 500 consecutive collisions means the
	// population/id-space invariant has already been violated.
	maxRetriesTaskIDAlloc = 500
)

// slot pairs a resident Task with the page/bit location the Scheduler uses
// to track its readiness.
type slot struct {
	task Task
	page *wakerPage
	bit  uint
}

// Scheduler stores, identifies, and drives polling of a bounded population
// of cooperative Tasks on one goroutine. It is not safe for concurrent use
// by multiple goroutines simultaneously calling Insert/Remove/Poll — per
// spec, a single driver goroutine owns it (see package sleep for how that
// goroutine is itself parked between Poll calls). Wakers returned to tasks
// during Poll, however, may be invoked from any goroutine.
type Scheduler struct {
	pages []*wakerPage
	slabs []slot // dense, indexed by PinSlabIndex; entries may be free (task == nil)
	free  []PinSlabIndex

	ids     map[TaskId]PinSlabIndex
	liveIds int

	rng *rand.Rand

	// rng is seeded with 42 when New is called with deterministic=true,
	// so tests get reproducible TaskId sequences, and from entropy
	// otherwise.

	// wakeNotify, if set via SetWakeNotifier, is invoked every time any
	// page's notified bitmap gains a set bit — from Insert's initial
	// notify-on-insert, and from any Waker.Wake() call thereafter. Pages
	// hold a pointer to this same field (not a copy), so it takes effect
	// for pages created before or after SetWakeNotifier is called.
	wakeNotify atomic.Pointer[func()]
}

// New creates an empty Scheduler. If deterministic is true, TaskId
// generation is seeded with 42 instead of from entropy, matching the
// spec's debug-build behavior used by the S3-style churn tests.
func New(deterministic bool) *Scheduler {
	var src rand.Source
	if deterministic {
		src = rand.NewSource(42)
	} else {
		src = rand.NewSource(entropySeed())
	}
	return &Scheduler{
		ids: make(map[TaskId]PinSlabIndex),
		rng: rand.New(src),
	}
}

// SetWakeNotifier installs fn to be called — possibly from any goroutine,
// including from inside a Poll call — whenever a task's readiness bit is
// set: by Insert (every newly inserted task is notified once) or by a
// Waker firing later (a queue push, a fired retransmit/delayed-ack/
// TIME-WAIT timer). An embedder that parks its driver goroutine between
// Poll calls (see package engine) must install a notifier that wakes that
// goroutine; without one, a Waker firing while the driver is parked would
// set a bitmap bit that nothing ever notices until some unrelated event
// happens to wake the driver anyway. Pass nil to clear.
func (s *Scheduler) SetWakeNotifier(fn func()) {
	if fn == nil {
		s.wakeNotify.Store(nil)
		return
	}
	s.wakeNotify.Store(&fn)
}

// Len reports the number of resident tasks (including completed-but-not-
// yet-removed ones).
func (s *Scheduler) Len() int {
	return s.liveIds
}

// Insert allocates a slab slot for task, marks it notified so it is polled
// at least once, assigns it a fresh random TaskId, and returns the id.
// Insert panics if the resident population already reached MaxNumTasks, or
// if maxRetriesTaskIDAlloc consecutive random draws all collided with a
// live id.
func (s *Scheduler) Insert(task Task) TaskId {
	if s.liveIds >= MaxNumTasks {
		panic("scheduler: task population exceeds MaxNumTasks")
	}

	idx := s.allocSlabIndex()
	page, bit := s.pageFor(idx)

	id := s.allocTaskId()

	s.slabs[idx] = slot{task: task, page: page, bit: bit}
	s.ids[id] = idx
	s.liveIds++

	page.clearSlot(bit)
	page.setNotified(bit)

	return id
}

// Remove looks up task_id, clears its slot's bitmap state, evicts it from
// the slab, and returns the task along with whether it was found.
func (s *Scheduler) Remove(id TaskId) (Task, bool) {
	idx, ok := s.ids[id]
	if !ok {
		return nil, false
	}
	delete(s.ids, id)
	s.liveIds--

	sl := s.slabs[idx]
	sl.page.markDropped(sl.bit)
	sl.page.clearSlot(sl.bit)

	s.slabs[idx] = slot{}
	s.free = append(s.free, idx)

	return sl.task, true
}

// HasCompleted reports whether task_id's slot has its completed bit set. It
// returns false, false if the id is not currently resident.
func (s *Scheduler) HasCompleted(id TaskId) (bool, bool) {
	idx, ok := s.ids[id]
	if !ok {
		return false, false
	}
	sl := s.slabs[idx]
	return sl.page.isCompleted(sl.bit), true
}

// Poll first atomically takes every page's notified bitmap (resetting each
// to zero), then scans the taken bitmaps in page index order and polls
// every task whose bit was set. Notifications asserted during this scan —
// by a task waking a later one, or waking itself — are observed on the
// *next* Poll call, never the current one: this bounds the work done per
// call and prevents an early, self-waking task from starving later tasks
// in the same pass.
func (s *Scheduler) Poll() {
	taken := make([]uint64, len(s.pages))
	for pageIdx, page := range s.pages {
		taken[pageIdx] = page.takeNotified()
	}
	for pageIdx, bits := range taken {
		if bits == 0 {
			continue
		}
		page := s.pages[pageIdx]
		base := pageIdx * pageCapacity
		for bits != 0 {
			bit := uint(trailingZeros64(bits))
			bits &^= 1 << bit
			idx := PinSlabIndex(base) + PinSlabIndex(bit)
			s.pollSlot(idx, page, bit)
		}
	}
}

func (s *Scheduler) pollSlot(idx PinSlabIndex, page *wakerPage, bit uint) {
	if int(idx) >= len(s.slabs) {
		return
	}
	sl := s.slabs[idx]
	if sl.task == nil {
		// Freed (or never occupied) slot; a stale notification from a
		// removed task landed here. No-op, matching the waker
		// contract.
		return
	}
	if page.isDropped(bit) {
		return
	}

	w := newWaker(page, bit)
	result := sl.task.Poll(w)
	if result.Ready {
		page.setCompleted(bit)
	}
}

func (s *Scheduler) allocSlabIndex() PinSlabIndex {
	if n := len(s.free); n > 0 {
		idx := s.free[n-1]
		s.free = s.free[:n-1]
		return idx
	}
	idx := PinSlabIndex(len(s.slabs))
	s.slabs = append(s.slabs, slot{})
	s.ensurePage(idx)
	return idx
}

func (s *Scheduler) ensurePage(idx PinSlabIndex) {
	needed := int(idx)/pageCapacity + 1
	for len(s.pages) < needed {
		s.pages = append(s.pages, &wakerPage{notify: &s.wakeNotify})
	}
}

func (s *Scheduler) pageFor(idx PinSlabIndex) (*wakerPage, uint) {
	s.ensurePage(idx)
	p := int(idx) / pageCapacity
	bit := uint(int(idx) % pageCapacity)
	return s.pages[p], bit
}

func (s *Scheduler) allocTaskId() TaskId {
	for i := 0; i < maxRetriesTaskIDAlloc; i++ {
		// 16-bit random space widened to 64 bits, per spec.md §4.1/§9.
		candidate := TaskId(uint16(s.rng.Intn(1 << 16)))
		if _, exists := s.ids[candidate]; !exists {
			return candidate
		}
	}
	panic("scheduler: task id space exhausted after maxRetriesTaskIDAlloc draws")
}

// trailingZeros64 is broken out so the bit-scan reads the same whether the
// host architecture has a native instruction for it or not; math/bits
// already does this, but keeping it as a named call site documents why
// Poll's inner loop is allowed to assume popcnt-friendly iteration (see
// DESIGN.md).
func trailingZeros64(x uint64) int {
	return bitsTrailingZeros64(x)
}

var onceEntropy sync.Once
var entropySeedValue int64

func entropySeed() int64 {
	onceEntropy.Do(func() {
		entropySeedValue = cryptoRandInt64()
	})
	return entropySeedValue
}
