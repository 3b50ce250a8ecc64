package tcp

import (
	"crypto/rand"
	"crypto/sha1"
	"encoding/binary"
	"sync"
	"time"

	"github.com/coolheart77/usertcp/tcpip"
	"github.com/coolheart77/usertcp/tcpip/header"
)

// listener owns the passive-open side of a Listening socket: SYN-cookie
// generation so no per-SYN state is kept until the final ACK arrives, and a
// bounded backlog of synchronized control blocks waiting for Accept.
//
// The cookie scheme mirrors the keyed-hash approach in the reference
// accept-path implementation (yustack's accept.go): ISS is derived from a
// secret key, the four-tuple, and a coarse timestamp, rather than from
// crypto/rand, so the three-way handshake's final ACK can be validated
// without remembering the SYN.
type listener struct {
	parent  *Socket
	backlog int
	nonce   uint32

	mu       sync.Mutex
	secret   [16]byte
	accepted []*controlBlock
	waiters  []func()
}

func newListener(parent *Socket, backlog int, nonce uint32) *listener {
	l := &listener{parent: parent, backlog: backlog, nonce: nonce}
	// A fresh random secret per listener, the same way resetState
	// (transport/tcp/connect.go) draws its ISN from crypto/rand rather
	// than a predictable source. The caller-supplied nonce (spec.md
	// §4.2/§4.3) is mixed into every cookie computation below rather than
	// folded into the secret itself, so two listeners sharing a process
	// but given different nonces never produce colliding cookies even if
	// their random secrets happened to collide.
	if _, err := rand.Read(l.secret[:]); err != nil {
		binary.LittleEndian.PutUint64(l.secret[:8], uint64(time.Now().UnixNano()))
	}
	return l
}

// synCookie derives the ISS to use in a SYN-ACK from the four-tuple, the
// listener's nonce, and the current coarse time bucket (one per 64 seconds,
// RFC 4987-style), so a valid cookie can only be replayed within roughly
// that window.
func (l *listener) synCookie(t tcpip.FourTuple, peerISS tcpip.SeqNum, timeBucket uint32) tcpip.SeqNum {
	h := sha1.New()
	h.Write(l.secret[:])
	h.Write(t.Local.Addr[:])
	h.Write(t.Remote.Addr[:])
	var portsAndBucket [14]byte
	binary.BigEndian.PutUint16(portsAndBucket[0:2], t.Local.Port)
	binary.BigEndian.PutUint16(portsAndBucket[2:4], t.Remote.Port)
	binary.BigEndian.PutUint32(portsAndBucket[4:8], uint32(peerISS))
	binary.BigEndian.PutUint16(portsAndBucket[8:10], uint16(timeBucket))
	binary.BigEndian.PutUint32(portsAndBucket[10:14], l.nonce)
	h.Write(portsAndBucket[:])
	sum := h.Sum(nil)
	return tcpip.SeqNum(binary.BigEndian.Uint32(sum[:4]))
}

func currentTimeBucket(now time.Time) uint32 {
	return uint32(now.Unix() / 64)
}

// handleSegment processes one inbound segment on the listening socket: a
// bare SYN gets a stateless SYN-ACK cookie reply, and an ACK whose ack
// number matches a still-valid cookie completes a connection straight into
// the backlog without ever having stored SYN-RCVD state, the way the
// teacher's synRcvdState/checkAck pair (transport/tcp/connect.go) validates
// a handshake ACK, except here validity is recomputed instead of compared
// against stored state.
func (l *listener) handleSegment(seg *segment) {
	switch {
	case seg.flagIsSet(header.FlagSyn) && !seg.flagIsSet(header.FlagAck):
		l.handleSyn(seg)
	case seg.flagIsSet(header.FlagAck) && !seg.flagIsSet(header.FlagSyn):
		l.handleFinalAck(seg)
	}
}

func (l *listener) handleSyn(seg *segment) {
	opts, ok := header.ParseSynOptions(seg.hdr.Options, l.parent.cfg.DefaultMSS)
	if !ok {
		return
	}
	now := currentTimeBucket(time.Now())
	iss := l.synCookie(seg.tuple, seg.seq(), now)

	l.mu.Lock()
	backlogFull := len(l.accepted) >= l.backlog
	l.mu.Unlock()
	if backlogFull {
		return
	}

	synAckOpts := header.EncodeSynOptions(l.parent.cfg.DefaultMSS, int(l.parent.cfg.MaxWindowScale))
	reply := &header.TCP{
		SrcPort:    seg.tuple.Local.Port,
		DstPort:    seg.tuple.Remote.Port,
		SeqNum:     uint32(iss),
		AckNum:     uint32(seg.seq()) + 1,
		Flags:      header.FlagSyn | header.FlagAck,
		WindowSize: uint16(l.parent.cfg.InitialReceiveWindow),
		Options:    synAckOpts,
	}
	l.send(seg.tuple, reply, opts)
}

func (l *listener) handleFinalAck(seg *segment) {
	// The cookie's validity window spans the current and previous bucket
	// to tolerate a final ACK arriving just after a bucket rollover.
	now := time.Now()
	prevTuple := tcpip.FourTuple{Local: seg.tuple.Local, Remote: seg.tuple.Remote}
	peerISS := seg.seq() - 1
	for _, bucket := range [2]uint32{currentTimeBucket(now), currentTimeBucket(now.Add(-64 * time.Second))} {
		if l.synCookie(prevTuple, peerISS, bucket)+1 == seg.ack() {
			l.complete(seg, peerISS)
			return
		}
	}
}

func (l *listener) complete(seg *segment, peerISS tcpip.SeqNum) {
	opts, ok := header.ParseSynOptions(seg.hdr.Options, l.parent.cfg.DefaultMSS)
	if !ok {
		opts = header.SynOptions{MSS: l.parent.cfg.DefaultMSS, WindowScale: -1}
	}
	cb := newControlBlock(l.parent, seg.tuple, controlBlockInit{
		localISS:    seg.ack() - 1,
		remoteISS:   peerISS + 1,
		sendWnd:     tcpip.SeqSize(seg.hdr.WindowSize),
		remoteMSS:   opts.MSS,
		windowScale: opts.WindowScale,
	})
	l.mu.Lock()
	l.accepted = append(l.accepted, cb)
	waiters := l.waiters
	l.waiters = nil
	l.mu.Unlock()
	for _, w := range waiters {
		w()
	}
}

func (l *listener) tryAccept() (*controlBlock, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.accepted) == 0 {
		return nil, false
	}
	cb := l.accepted[0]
	l.accepted = l.accepted[1:]
	return cb, true
}

// notifyOnAccept registers fn to run once a connection completes the
// handshake and lands in the backlog, or at once if one is already waiting.
// Nothing in this package calls it, and Socket does not expose it.
func (l *listener) notifyOnAccept(fn func()) {
	l.mu.Lock()
	ready := len(l.accepted) > 0
	if !ready {
		l.waiters = append(l.waiters, fn)
	}
	l.mu.Unlock()
	if ready {
		fn()
	}
}

func (l *listener) send(tuple tcpip.FourTuple, hdr *header.TCP, _ header.SynOptions) {
	buf := newHeaderOnlyBuffer(hdr)
	_ = l.parent.netep.Send(backgroundCtx(), tuple.Remote.Addr, buf)
}
