// Package tcp implements the per-socket TCP state machine: the Unbound /
// Bound / Listening / Connecting / Established / Closing lifecycle, the
// passive- and active-open handshakes, and the established control block
// (send/receive windows, retransmission queue, RTO estimation, delayed ACK,
// and the RFC 793 close handshake). Every long-lived piece of work is a
// scheduler.Task polled cooperatively; nothing in this package blocks a
// goroutine or spawns one per connection.
package tcp

// State is the coarse lifecycle stage of a Socket, per spec.md §4.1.
type State int

const (
	StateUnbound State = iota
	StateBound
	StateListening
	StateConnecting
	StateEstablished
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUnbound:
		return "UNBOUND"
	case StateBound:
		return "BOUND"
	case StateListening:
		return "LISTENING"
	case StateConnecting:
		return "CONNECTING"
	case StateEstablished:
		return "ESTABLISHED"
	case StateClosing:
		return "CLOSING"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// closeState is the fine-grained RFC 793 state a Socket in StateClosing
// occupies. Kept distinct from State so StateClosing can cover the whole
// FIN exchange without exploding the top-level enum.
type closeState int

const (
	closeNone closeState = iota
	closeFinWait1
	closeFinWait2
	closeCloseWait
	closeLastAck
	closeClosing
	closeTimeWait
)

func (c closeState) String() string {
	switch c {
	case closeFinWait1:
		return "FIN-WAIT-1"
	case closeFinWait2:
		return "FIN-WAIT-2"
	case closeCloseWait:
		return "CLOSE-WAIT"
	case closeLastAck:
		return "LAST-ACK"
	case closeClosing:
		return "CLOSING"
	case closeTimeWait:
		return "TIME-WAIT"
	default:
		return "NONE"
	}
}
