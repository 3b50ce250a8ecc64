package tcp

import (
	"sync"
	"time"

	"github.com/coolheart77/usertcp/logctx"
	"github.com/coolheart77/usertcp/metrics"
	"github.com/coolheart77/usertcp/queue"
	"github.com/coolheart77/usertcp/tcpip"
	"github.com/coolheart77/usertcp/tcpip/congestion"
	"github.com/coolheart77/usertcp/tcpip/header"
)

// outstandingSegment is one entry in the retransmission queue: bytes we've
// sent but that haven't been acked yet, along with when they were (first or
// most recently) sent, for the RTO estimator and for Karn's rule.
type outstandingSegment struct {
	seq           tcpip.SeqNum
	data          []byte
	fin           bool
	sentAt        time.Time
	retransmitted bool
}

type controlBlockInit struct {
	localISS    tcpip.SeqNum
	remoteISS   tcpip.SeqNum
	sendWnd     tcpip.SeqSize
	remoteMSS   uint16
	windowScale int
}

// controlBlock is the established-connection state spec.md §4.4 describes:
// send and receive sequence space, the retransmission queue, the RTO
// estimator, delayed-ACK bookkeeping, and the RFC 793 close sub-state.
// One controlBlock belongs to exactly one Socket and is driven exclusively
// by the scheduler.Task in background.go; Push/Pop reach it through sendBuf
// (under mu) and the recv queue rather than touching its sequence-space
// fields directly, so
// the only goroutine ever mutating sndNxt/rcvNxt/etc. is the scheduler's
// driver goroutine.
type controlBlock struct {
	parent *Socket
	tuple  tcpip.FourTuple
	opts   tcpip.SocketOptions
	log    logctx.Logger
	rec    metrics.ControlBlockRecorder

	mu sync.Mutex

	sndUna tcpip.SeqNum
	sndNxt tcpip.SeqNum
	sndWnd tcpip.SeqSize

	rcvNxt tcpip.SeqNum
	rcvWnd tcpip.SeqSize

	remoteMSS   uint16
	sndWndScale int

	cc  tcpip.CongestionControl
	rto *rtoEstimator

	outstanding []outstandingSegment
	sendBuf     []byte

	recv *queue.AsyncQueue[tcpip.Buffer]

	closeSt     closeState
	finSent     bool
	finAcked    bool
	peerFinSeen bool

	ackPending   bool
	delayedSince time.Time

	timeWaitSince time.Time

	inbound *queue.AsyncQueue[*segment]

	done bool
}

func newControlBlock(parent *Socket, tuple tcpip.FourTuple, init controlBlockInit) *controlBlock {
	cc := congestion.New
	if parent.ccCtor != nil {
		cc = parent.ccCtor
	}
	return &controlBlock{
		parent:      parent,
		tuple:       tuple,
		opts:        parent.opts,
		log:         logctx.With(parent.log, logctx.Fields{"conn": tuple.String(), "cid": string(logctx.NewCorrelationID())}),
		rec:         parent.rec,
		sndUna:      init.localISS + 1,
		sndNxt:      init.localISS + 1,
		sndWnd:      init.sendWnd,
		rcvNxt:      init.remoteISS,
		rcvWnd:      tcpip.SeqSize(parent.cfg.InitialReceiveWindow),
		remoteMSS:   init.remoteMSS,
		sndWndScale: init.windowScale,
		cc:          cc(uint32(init.remoteMSS)),
		rto:         newRTOEstimator(parent.cfg.RTOMin, parent.cfg.RTOMax),
		recv:        queue.New[tcpip.Buffer](),
		inbound:     queue.New[*segment](),
	}
}

func (cb *controlBlock) remoteMSSValue() uint16 {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.remoteMSS
}

func (cb *controlBlock) currentRTO() time.Duration {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.rto.RTO()
}

func (cb *controlBlock) enqueueSend(data tcpip.Buffer) error {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.finSent {
		return tcpip.NewError("push", tcpip.ENotConn)
	}
	cb.sendBuf = append(cb.sendBuf, data.Bytes()...)
	return nil
}

func (cb *controlBlock) dequeueRecv() (tcpip.Buffer, bool, error) {
	v, ok := cb.recv.TryPop()
	if !ok {
		return nil, false, nil
	}
	return v, true, nil
}

func (cb *controlBlock) beginClose() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.closeSt == closeNone {
		cb.closeSt = closeFinWait1
	} else if cb.closeSt == closeCloseWait {
		cb.closeSt = closeLastAck
	}
}

func (cb *controlBlock) abort() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.done = true
	hdr := &header.TCP{
		SrcPort: cb.tuple.Local.Port,
		DstPort: cb.tuple.Remote.Port,
		SeqNum:  uint32(cb.sndNxt),
		Flags:   header.FlagRst | header.FlagAck,
		AckNum:  uint32(cb.rcvNxt),
	}
	_ = cb.parent.netep.Send(backgroundCtx(), cb.tuple.Remote.Addr, newHeaderOnlyBuffer(hdr))
}

// step advances the control block: drains inbound segments, processes ACKs
// and data, checks retransmit/delayed-ack timers, and flushes any pending
// send buffer into new outgoing segments. Called once per poll from
// background.go. Returns true once the connection has fully closed and its
// background task should complete.
func (cb *controlBlock) step(now time.Time) bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	for {
		seg, ok := cb.inbound.TryPop()
		if !ok {
			break
		}
		cb.processSegment(seg, now)
	}

	cb.maybeRetransmit(now)
	cb.maybeSendDelayedAck(now)
	cb.flushSendBuffer(now)
	cb.advanceCloseState(now)

	return cb.done
}

func (cb *controlBlock) processSegment(seg *segment, now time.Time) {
	if seg.flagIsSet(header.FlagRst) {
		cb.log.Warn("connection reset by peer", nil)
		cb.done = true
		return
	}

	if seg.flagIsSet(header.FlagAck) {
		cb.handleAck(seg.ack(), now)
	}

	if seg.hdr.PayloadLen > 0 && seg.seq() == cb.rcvNxt {
		cb.recv.Push(seg.payload)
		cb.rcvNxt = cb.rcvNxt.Add(tcpip.SeqSize(seg.hdr.PayloadLen))
		cb.ackPending = true
		cb.delayedSince = now
	}

	if seg.flagIsSet(header.FlagFin) && seg.seq().Add(tcpip.SeqSize(seg.hdr.PayloadLen)) == cb.rcvNxt {
		cb.peerFinSeen = true
		cb.rcvNxt = cb.rcvNxt.Add(1)
		cb.sendAck(now)
		switch cb.closeSt {
		case closeNone:
			cb.closeSt = closeCloseWait
		case closeFinWait1:
			cb.closeSt = closeClosing
		case closeFinWait2:
			// Route through enterTimeWait rather than setting
			// closeSt directly: it stamps timeWaitSince, which
			// advanceCloseState's closeTimeWait case needs to hold
			// the connection for the full 2*MSL. Setting closeSt
			// alone here left timeWaitSince at its zero value,
			// reaping the connection on the very next poll.
			cb.enterTimeWait(now)
		}
	}
}

func (cb *controlBlock) handleAck(ack tcpip.SeqNum, now time.Time) {
	if ack.LessThanEq(cb.sndUna) && ack != cb.sndUna {
		return
	}
	newlyAcked := 0
	kept := cb.outstanding[:0]
	for _, o := range cb.outstanding {
		segEnd := o.seq.Add(tcpip.SeqSize(len(o.data)))
		if o.fin {
			segEnd = segEnd.Add(1)
		}
		if segEnd.LessThanEq(ack) {
			newlyAcked += len(o.data)
			if !o.retransmitted {
				cb.rto.Update(now.Sub(o.sentAt))
				if cb.rec != nil {
					cb.rec.ObserveRTO(cb.tuple.String(), cb.rto.RTO().Seconds())
				}
			}
			if o.fin {
				cb.finAcked = true
			}
			continue
		}
		kept = append(kept, o)
	}
	cb.outstanding = kept
	if ack != cb.sndUna {
		cb.sndUna = ack
	}
	if newlyAcked > 0 {
		cb.cc.OnAck(newlyAcked, cb.rto.RTO())
		if cb.rec != nil {
			cb.rec.IncSegmentsAcked(cb.tuple.String())
		}
	}
}

func (cb *controlBlock) maybeRetransmit(now time.Time) {
	if len(cb.outstanding) == 0 {
		return
	}
	oldest := cb.outstanding[0]
	if now.Sub(oldest.sentAt) < cb.rto.RTO() {
		return
	}
	cb.log.Debug("retransmit timeout", logctx.Fields{"seq": oldest.seq, "rto": cb.rto.RTO().String()})
	cb.cc.OnLoss()
	cb.rto.Backoff()
	if cb.rec != nil {
		cb.rec.IncRetransmit(cb.tuple.String())
	}
	for i := range cb.outstanding {
		cb.outstanding[i].sentAt = now
		cb.outstanding[i].retransmitted = true
		cb.sendData(cb.outstanding[i].seq, cb.outstanding[i].data, cb.outstanding[i].fin)
	}
}

func (cb *controlBlock) maybeSendDelayedAck(now time.Time) {
	if !cb.ackPending {
		return
	}
	if now.Sub(cb.delayedSince) < cb.parent.cfg.AckDelayTimeout {
		return
	}
	cb.sendAck(now)
}

func (cb *controlBlock) flushSendBuffer(now time.Time) {
	if len(cb.sendBuf) == 0 {
		return
	}
	mss := int(cb.remoteMSS)
	if mss <= 0 {
		mss = 536
	}
	inflight := cb.sndUna.Size(cb.sndNxt)
	window := cb.sndWnd
	if ccWnd := tcpip.SeqSize(cb.cc.Cwnd()); ccWnd < window {
		window = ccWnd
	}
	for len(cb.sendBuf) > 0 && tcpip.SeqSize(inflight) < window {
		n := mss
		if n > len(cb.sendBuf) {
			n = len(cb.sendBuf)
		}
		chunk := cb.sendBuf[:n]
		cb.sendBuf = cb.sendBuf[n:]
		seq := cb.sndNxt
		cb.sndNxt = cb.sndNxt.Add(tcpip.SeqSize(n))
		cb.outstanding = append(cb.outstanding, outstandingSegment{seq: seq, data: chunk, sentAt: now})
		cb.sendData(seq, chunk, false)
		inflight += tcpip.SeqSize(n)
	}
}

func (cb *controlBlock) advanceCloseState(now time.Time) {
	switch cb.closeSt {
	case closeNone:
		return
	case closeFinWait1, closeLastAck:
		if !cb.finSent {
			cb.sendFin(now)
		}
		if cb.finAcked {
			if cb.closeSt == closeFinWait1 {
				cb.closeSt = closeFinWait2
			} else {
				cb.done = true
			}
		}
	case closeFinWait2:
		if cb.peerFinSeen {
			cb.enterTimeWait(now)
		}
	case closeClosing:
		if cb.finAcked {
			cb.enterTimeWait(now)
		}
	case closeTimeWait:
		// Held for 2*MSL (spec.md §4.5) to absorb duplicate/delayed
		// segments from the peer; the background task stays scheduled
		// the whole time (background.go keeps polling this socket's
		// recv_queue and this timer) rather than tearing down early.
		if now.Sub(cb.timeWaitSince) >= cb.parent.cfg.TimeWaitDuration {
			cb.log.Debug("time-wait elapsed, connection reaped", nil)
			cb.done = true
		}
	}
}

func (cb *controlBlock) enterTimeWait(now time.Time) {
	cb.closeSt = closeTimeWait
	cb.timeWaitSince = now
}

func (cb *controlBlock) sendFin(now time.Time) {
	cb.finSent = true
	seq := cb.sndNxt
	cb.sndNxt = cb.sndNxt.Add(1)
	cb.outstanding = append(cb.outstanding, outstandingSegment{seq: seq, fin: true, sentAt: now})
	cb.sendData(seq, nil, true)
}

func (cb *controlBlock) sendData(seq tcpip.SeqNum, data []byte, fin bool) {
	flags := uint8(header.FlagAck)
	if fin {
		flags |= header.FlagFin
	}
	hdr := &header.TCP{
		SrcPort:    cb.tuple.Local.Port,
		DstPort:    cb.tuple.Remote.Port,
		SeqNum:     uint32(seq),
		AckNum:     uint32(cb.rcvNxt),
		Flags:      flags,
		WindowSize: uint16(cb.rcvWnd),
		PayloadLen: len(data),
	}
	_ = cb.parent.netep.Send(backgroundCtx(), cb.tuple.Remote.Addr, &tcpBuffer{hdr: hdr, payload: data})
}

func (cb *controlBlock) sendAck(now time.Time) {
	cb.ackPending = false
	hdr := &header.TCP{
		SrcPort:    cb.tuple.Local.Port,
		DstPort:    cb.tuple.Remote.Port,
		SeqNum:     uint32(cb.sndNxt),
		AckNum:     uint32(cb.rcvNxt),
		Flags:      header.FlagAck,
		WindowSize: uint16(cb.rcvWnd),
	}
	_ = cb.parent.netep.Send(backgroundCtx(), cb.tuple.Remote.Addr, newHeaderOnlyBuffer(hdr))
}
