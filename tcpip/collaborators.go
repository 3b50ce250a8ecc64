package tcpip

import (
	"context"
	"time"

	"github.com/coolheart77/usertcp/scheduler"
)

// Buffer is the refcounted-slice collaborator spec.md §6 names: a
// zero-copy view over bytes with head/tail adjustment and splitting. The
// core never allocates buffers itself; it receives them from the layer-3
// endpoint on receive and hands them back on send.
type Buffer interface {
	Len() int
	Bytes() []byte

	// AdjustHead drops n bytes from the front of the view (used after
	// the TCP header is parsed off a segment).
	AdjustHead(n int) Buffer

	// TrimTail drops n bytes from the back of the view.
	TrimTail(n int) Buffer

	// Split divides the buffer at offset n into two zero-copy views.
	Split(n int) (head, tail Buffer)
}

// NetworkEndpoint is the layer-3 collaborator: it sends payloads to a
// destination and hands inbound segments to whichever socket is registered
// for the matching local endpoint (spec.md §6). The core calls Send. This
// interface covers only the send direction: inbound segments reach a
// Socket through its unexported receive method, which only code inside
// package tcp can call.
type NetworkEndpoint interface {
	Send(ctx context.Context, dest Address, payload Buffer) error
}

// Clock is the monotonic time collaborator. Now returns the current
// instant; SleepUntil returns a future, driven by the scheduler's Waker
// contract, that becomes ready at or after t.
type Clock interface {
	Now() time.Time

	// SleepUntil returns a handle whose Poll is ready once t has passed.
	// Implementations register the supplied Waker with their timer
	// mechanism (e.g. time.AfterFunc) instead of blocking a goroutine,
	// so a Clock composes with the single-threaded scheduler.
	SleepUntil(t time.Time) Sleeper
}

// Sleeper is a poll-based timer future handed out by Clock.SleepUntil.
type Sleeper interface {
	// Poll returns true once the deadline has passed. w is armed if not.
	Poll(w scheduler.Waker) bool

	// Stop cancels the timer. Safe to call after it has already fired.
	Stop()
}

// CongestionControl is the pluggable congestion-control collaborator
// spec.md §4.5/§6 names. Constructors match CongestionControlConstructor.
type CongestionControl interface {
	OnAck(bytesAcked int, rtt time.Duration)
	OnLoss()
	Cwnd() uint32
	Ssthresh() uint32
}

// CongestionControlConstructor builds a CongestionControl for a new
// connection, given the negotiated MSS.
type CongestionControlConstructor func(mss uint32) CongestionControl
