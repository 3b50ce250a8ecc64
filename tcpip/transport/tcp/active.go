package tcp

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/coolheart77/usertcp/queue"
	"github.com/coolheart77/usertcp/scheduler"
	"github.com/coolheart77/usertcp/tcpip"
	"github.com/coolheart77/usertcp/tcpip/header"
)

// activeHandshake is the scheduler.Task that drives ActiveOpen: send a SYN,
// wait for a SYN-ACK, send the final ACK, or give up with ETIMEDOUT after
// exhausting the retry budget. It is the poll-based translation of the
// teacher's handshake.execute()/synSentState pair in
// transport/tcp/connect.go, which ran as a blocking loop on a
// per-connection goroutine parked on a sleep.Sleeper; here the same state
// transitions happen inside Poll, and timing is driven by tcpip.Clock
// instead of time.AfterFunc.
type activeHandshake struct {
	socket  *Socket
	inbound *queue.AsyncQueue[*segment]

	iss    tcpip.SeqNum
	rcvWnd tcpip.SeqSize

	timeout time.Duration
	retries int

	sentAt time.Time
	timer  interface {
		Poll(w scheduler.Waker) bool
		Stop()
	}
}

func newActiveHandshake(s *Socket) *activeHandshake {
	return &activeHandshake{
		socket:  s,
		inbound: queue.New[*segment](),
		iss:     randomISN(),
		rcvWnd:  tcpip.SeqSize(s.cfg.InitialReceiveWindow),
		timeout: s.cfg.HandshakeInitialTimeout,
	}
}

// randomISN mirrors resetState in transport/tcp/connect.go: a uniformly
// random 32-bit initial sequence number drawn from crypto/rand rather than
// a predictable clock-derived source, so off-path attackers can't guess it.
func randomISN() tcpip.SeqNum {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return tcpip.SeqNum(time.Now().UnixNano())
	}
	return tcpip.SeqNum(binary.BigEndian.Uint32(b[:]))
}

func (h *activeHandshake) Name() string {
	return fmt.Sprintf("tcp-active-%s", h.socket.remote)
}

func (h *activeHandshake) Poll(w scheduler.Waker) scheduler.PollResult {
	if h.sentAt.IsZero() {
		h.sendSyn()
	}

	for {
		seg, ok := h.inbound.TryPop()
		if !ok {
			break
		}
		if cb, done, err := h.handleSegment(seg); done {
			h.socket.mu.Lock()
			h.socket.onHandshakeComplete(cb, err)
			h.socket.mu.Unlock()
			return scheduler.Done(nil)
		}
	}

	now := h.now()
	if !h.sentAt.IsZero() && now.Sub(h.sentAt) >= h.timeout {
		h.retries++
		if h.retries > h.socket.cfg.HandshakeRetryBudget {
			h.socket.mu.Lock()
			h.socket.onHandshakeComplete(nil, tcpip.NewError("connect", tcpip.ETimedOut))
			h.socket.mu.Unlock()
			return scheduler.Done(nil)
		}
		h.timeout *= 2
		if h.timeout > h.socket.cfg.HandshakeMaxTimeout {
			h.timeout = h.socket.cfg.HandshakeMaxTimeout
		}
		h.sendSyn()
	}

	if armed := h.inbound.WaitFor(w); !armed {
		w.Wake()
		return scheduler.Pending
	}
	if h.socket.clock != nil {
		if h.timer != nil {
			h.timer.Stop()
		}
		h.timer = h.socket.clock.SleepUntil(h.sentAt.Add(h.timeout))
		h.timer.Poll(w)
	}
	return scheduler.Pending
}

func (h *activeHandshake) now() time.Time {
	if h.socket.clock != nil {
		return h.socket.clock.Now()
	}
	return time.Now()
}

func (h *activeHandshake) sendSyn() {
	h.sentAt = h.now()
	opts := header.EncodeSynOptions(h.socket.cfg.DefaultMSS, int(h.socket.cfg.MaxWindowScale))
	hdr := &header.TCP{
		SrcPort:    h.socket.local.Port,
		DstPort:    h.socket.remote.Port,
		SeqNum:     uint32(h.iss),
		Flags:      header.FlagSyn,
		WindowSize: uint16(h.rcvWnd),
		Options:    opts,
	}
	_ = h.socket.netep.Send(backgroundCtx(), h.socket.remote.Addr, newHeaderOnlyBuffer(hdr))
}

// handleSegment implements the same cases as the teacher's synSentState:
// an acceptable RST means ECONNREFUSED, a SYN-ACK whose ack matches our ISN
// completes the handshake, and a bare SYN (simultaneous open) is ignored
// rather than replicated in full, since spec.md's ActiveOpen surface never
// promises simultaneous-open support.
func (h *activeHandshake) handleSegment(seg *segment) (cb *controlBlock, done bool, err error) {
	if seg.flagIsSet(header.FlagRst) {
		if seg.flagIsSet(header.FlagAck) && seg.ack() == h.iss+1 {
			return nil, true, tcpip.NewError("connect", tcpip.EConnRefused)
		}
		return nil, false, nil
	}
	if seg.flagIsSet(header.FlagAck) && seg.ack() != h.iss+1 {
		return nil, false, nil
	}
	if !seg.flagIsSet(header.FlagSyn) {
		return nil, false, nil
	}
	if !seg.flagIsSet(header.FlagAck) {
		return nil, false, nil
	}

	opts, ok := header.ParseSynOptions(seg.hdr.Options, h.socket.cfg.DefaultMSS)
	if !ok {
		return nil, false, nil
	}

	tuple := tcpip.FourTuple{Local: h.socket.local, Remote: h.socket.remote}
	cb = newControlBlock(h.socket, tuple, controlBlockInit{
		localISS:    h.iss,
		remoteISS:   seg.seq() + 1,
		sendWnd:     tcpip.SeqSize(seg.hdr.WindowSize),
		remoteMSS:   opts.MSS,
		windowScale: opts.WindowScale,
	})
	finalAck := &header.TCP{
		SrcPort:    h.socket.local.Port,
		DstPort:    h.socket.remote.Port,
		SeqNum:     uint32(h.iss + 1),
		AckNum:     uint32(seg.seq() + 1),
		Flags:      header.FlagAck,
		WindowSize: uint16(h.rcvWnd),
	}
	_ = h.socket.netep.Send(backgroundCtx(), h.socket.remote.Addr, newHeaderOnlyBuffer(finalAck))
	if h.timer != nil {
		h.timer.Stop()
	}
	return cb, true, nil
}
