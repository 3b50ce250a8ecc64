package tcp

import (
	"context"

	"github.com/coolheart77/usertcp/tcpip"
	"github.com/coolheart77/usertcp/tcpip/header"
)

// simpleBuffer is a plain byte-slice tcpip.Buffer. Segments this package
// sends itself go out as tcpBuffer instead (see newHeaderOnlyBuffer and
// controlBlock.sendData); pushed data is copied into the control block's
// send buffer and sent as tcpBuffer payload slices.
type simpleBuffer struct {
	data []byte
}

func (b *simpleBuffer) Len() int      { return len(b.data) }
func (b *simpleBuffer) Bytes() []byte { return b.data }

func (b *simpleBuffer) AdjustHead(n int) tcpip.Buffer {
	return &simpleBuffer{data: b.data[n:]}
}

func (b *simpleBuffer) TrimTail(n int) tcpip.Buffer {
	return &simpleBuffer{data: b.data[:len(b.data)-n]}
}

func (b *simpleBuffer) Split(n int) (head, tail tcpip.Buffer) {
	return &simpleBuffer{data: b.data[:n]}, &simpleBuffer{data: b.data[n:]}
}

// newHeaderOnlyBuffer serializes a header-only (or header+options)
// control segment. The wire-format encode (pseudo-header checksum, byte
// order) is the external segment codec's job in a full stack; here we hand
// back a tcpBuffer the NetworkEndpoint is expected to consult via a type
// assertion, matching the "NetworkEndpoint is the layer-3
// collaborator" contract in tcpip/collaborators.go.
func newHeaderOnlyBuffer(hdr *header.TCP) tcpip.Buffer {
	return &tcpBuffer{hdr: hdr}
}

// tcpBuffer carries a decoded header alongside the payload, letting the
// network endpoint re-encode without this package needing to know the wire
// format.
type tcpBuffer struct {
	hdr     *header.TCP
	payload []byte
}

func (b *tcpBuffer) Len() int      { return len(b.payload) }
func (b *tcpBuffer) Bytes() []byte { return b.payload }
func (b *tcpBuffer) Header() *header.TCP { return b.hdr }

func (b *tcpBuffer) AdjustHead(n int) tcpip.Buffer {
	return &tcpBuffer{hdr: b.hdr, payload: b.payload[n:]}
}

func (b *tcpBuffer) TrimTail(n int) tcpip.Buffer {
	return &tcpBuffer{hdr: b.hdr, payload: b.payload[:len(b.payload)-n]}
}

func (b *tcpBuffer) Split(n int) (head, tail tcpip.Buffer) {
	return &tcpBuffer{hdr: b.hdr, payload: b.payload[:n]},
		&tcpBuffer{hdr: b.hdr, payload: b.payload[n:]}
}

// backgroundCtx is the context used for the handful of fire-and-forget
// Send calls this package issues outside of any caller-supplied context
// (SYN-ACK replies, pure ACKs, RSTs). These are best-effort; a canceled
// send just means the peer will retransmit and we'll try again.
func backgroundCtx() context.Context { return context.Background() }
