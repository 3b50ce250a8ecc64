package tcpip

import "time"

// StackConfig collects the tunables spec.md §6 names. A zero StackConfig is
// not valid; use DefaultStackConfig.
type StackConfig struct {
	// DefaultMSS is used when the peer's SYN carries no MSS option (RFC
	// 1122 says 536 in that case; most modern stacks still default
	// higher for their own advertised MSS).
	DefaultMSS uint16

	// MaxWindowScale is the window-scale value advertised on outgoing SYNs
	// and SYN-ACKs. A peer's window-scale option is clamped separately, to
	// header.MaxWindowScale (14, the RFC 1323 ceiling).
	MaxWindowScale uint8

	// InitialReceiveWindow is the receive window advertised before the
	// application has had a chance to tune it.
	InitialReceiveWindow uint32

	// AckDelayTimeout bounds how long a pure ACK may be deferred in hope
	// of piggy-backing on outgoing data.
	AckDelayTimeout time.Duration

	// HandshakeRetryBudget bounds how many times ActiveOpen retransmits
	// its SYN (with exponential backoff) before giving up with
	// ETIMEDOUT. Exposed explicitly per spec.md §9's Open Question.
	HandshakeRetryBudget int

	// HandshakeInitialTimeout is the first retransmit timeout for the
	// active-open SYN; it doubles on each retry up to
	// HandshakeMaxTimeout.
	HandshakeInitialTimeout time.Duration
	HandshakeMaxTimeout     time.Duration

	// TimeWaitDuration is 2*MSL, the time a closed socket lingers in
	// TIME-WAIT to absorb duplicates.
	TimeWaitDuration time.Duration

	// RTOMin and RTOMax clamp the Jacobson/Karels RTO estimate.
	RTOMin time.Duration
	RTOMax time.Duration

	// ListenBacklog is the default accept backlog when Listen is not
	// given an explicit one.
	ListenBacklog int
}

// DefaultStackConfig returns the tunables used unless the embedder
// overrides them, matching the constants named throughout spec.md §4.
func DefaultStackConfig() StackConfig {
	return StackConfig{
		DefaultMSS:              536,
		MaxWindowScale:          14,
		InitialReceiveWindow:    1 << 16,
		AckDelayTimeout:         200 * time.Millisecond,
		HandshakeRetryBudget:    5,
		HandshakeInitialTimeout: time.Second,
		HandshakeMaxTimeout:     60 * time.Second,
		TimeWaitDuration:        2 * 2 * time.Minute, // 2*MSL, MSL=2min
		RTOMin:                  time.Second,
		RTOMax:                  60 * time.Second,
		ListenBacklog:           16,
	}
}

// SocketOptions holds the per-socket options spec.md §6 names. Mutated only
// by the owning socket handle (spec.md §5's shared-resource policy).
type SocketOptions struct {
	Linger    LingerOption
	KeepAlive bool
	NoDelay   bool
}

// LingerOption mirrors SO_LINGER: On gates whether Seconds applies at all.
type LingerOption struct {
	On      bool
	Seconds int
}

// DefaultSocketOptions returns the options a freshly-accepted or
// freshly-connected socket starts with.
func DefaultSocketOptions() SocketOptions {
	return SocketOptions{}
}
