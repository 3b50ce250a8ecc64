package tcp

import (
	"sync"
	"time"

	"github.com/coolheart77/usertcp/logctx"
	"github.com/coolheart77/usertcp/metrics"
	"github.com/coolheart77/usertcp/queue"
	"github.com/coolheart77/usertcp/scheduler"
	"github.com/coolheart77/usertcp/tcpip"
)

// Socket is the per-connection handle spec.md §4.1 describes: a small state
// machine (Unbound -> Bound -> {Listening | Connecting -> Established ->
// Closing}) that owns at most one of {listener, handshake, controlBlock} at
// a time, matching whichever sub-state it's actually in. All mutation goes
// through the mutex because an embedder may call Push/Pop/Close from a
// different goroutine than the one driving the scheduler, even though the
// scheduler itself is single-threaded (spec.md §5).
type Socket struct {
	mu    sync.Mutex
	state State

	local  tcpip.Endpoint
	remote tcpip.Endpoint

	cfg    tcpip.StackConfig
	opts   tcpip.SocketOptions
	netep  tcpip.NetworkEndpoint
	clock  tcpip.Clock
	ccCtor tcpip.CongestionControlConstructor
	log    logctx.Logger
	rec    metrics.ControlBlockRecorder

	sched *scheduler.Scheduler

	listener *listener
	handshk  *activeHandshake
	cb       *controlBlock

	inbound *queue.AsyncQueue[*segment]

	taskID scheduler.TaskId
	hasTsk bool
}

// Deps bundles the collaborators a Socket needs, injected by whatever owns
// the stack (spec.md §6: NetworkEndpoint, Clock, CongestionControl, and the
// Scheduler that will actually drive any background task this socket
// spawns).
type Deps struct {
	Scheduler  *scheduler.Scheduler
	NetworkEP  tcpip.NetworkEndpoint
	Clock      tcpip.Clock
	CCCtor     tcpip.CongestionControlConstructor
	Log        logctx.Logger
	Metrics    metrics.ControlBlockRecorder
	StackCfg   tcpip.StackConfig
}

// NewSocket returns a fresh Unbound socket.
func NewSocket(d Deps) *Socket {
	log := d.Log
	if log == nil {
		log = logctx.Nop
	}
	ccCtor := d.CCCtor
	return &Socket{
		state:   StateUnbound,
		cfg:     d.StackCfg,
		opts:    tcpip.DefaultSocketOptions(),
		netep:   d.NetworkEP,
		clock:   d.Clock,
		ccCtor:  ccCtor,
		log:     log,
		rec:     d.Metrics,
		sched:   d.Scheduler,
		inbound: queue.New[*segment](),
	}
}

// Bind assigns the local endpoint. Only legal from Unbound; rebinding an
// already-bound socket is EINVAL (spec.md §9 Open Question, resolved: reject
// rather than silently re-bind, matching POSIX bind(2) on an already-bound
// descriptor).
func (s *Socket) Bind(local tcpip.Endpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateUnbound {
		return tcpip.NewError("bind", tcpip.EInval)
	}
	s.local = local
	s.state = StateBound
	return nil
}

// Listen transitions a Bound socket into Listening with the given backlog
// (0 uses the stack default) and cookie nonce: the 32-bit value mixed into
// the keyed hash that derives a SYN-ACK's ISN, so the handshake can
// complete without PassiveOpen ever storing per-SYN state. See passive.go
// for the SYN-handling side.
func (s *Socket) Listen(backlog int, nonce uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateBound {
		return tcpip.NewError("listen", tcpip.EInval)
	}
	if backlog <= 0 {
		backlog = s.cfg.ListenBacklog
	}
	s.listener = newListener(s, backlog, nonce)
	s.state = StateListening
	return nil
}

// Accept pops one completed connection off a Listening socket's backlog, if
// any are ready. ok is false (not an error) if none are ready yet. Accept
// does not wait; Socket exposes no way to wait for the backlog (the
// listener's notifyOnAccept hook is unexported).
func (s *Socket) Accept() (*Socket, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateListening {
		return nil, false, tcpip.NewError("accept", tcpip.EInval)
	}
	cb, ok := s.listener.tryAccept()
	if !ok {
		return nil, false, nil
	}
	child := NewSocket(Deps{
		Scheduler: s.sched,
		NetworkEP: s.netep,
		Clock:     s.clock,
		CCCtor:    s.ccCtor,
		Log:       s.log,
		Metrics:   s.rec,
		StackCfg:  s.cfg,
	})
	child.local = cb.tuple.Local
	child.remote = cb.tuple.Remote
	child.state = StateEstablished
	child.cb = cb
	child.spawnBackground()
	return child, true, nil
}

// Connect begins an active open to remote. The connection is not
// established when Connect returns; the caller polls State until it
// becomes StateEstablished, or StateClosed if the handshake fails (a
// matching RST, or the retry budget is exhausted). The handshake error
// itself is not kept on the Socket.
func (s *Socket) Connect(remote tcpip.Endpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateBound {
		return tcpip.NewError("connect", tcpip.EInval)
	}
	s.remote = remote
	h := newActiveHandshake(s)
	s.handshk = h
	s.state = StateConnecting
	s.taskID = s.sched.Insert(h)
	s.hasTsk = true
	return nil
}

// onHandshakeComplete is invoked by activeHandshake once it has a
// synchronized control block, or has given up. Called with s.mu held by the
// handshake task's Poll, which always runs on the scheduler's single driver
// goroutine.
func (s *Socket) onHandshakeComplete(cb *controlBlock, err error) {
	s.handshk = nil
	s.hasTsk = false
	if err != nil {
		s.state = StateClosed
		return
	}
	s.cb = cb
	s.state = StateEstablished
	s.spawnBackground()
}

func (s *Socket) spawnBackground() {
	bg := newBackgroundTask(s)
	s.taskID = s.sched.Insert(bg)
	s.hasTsk = true
}

// Push enqueues bytes for transmission. Only legal once Established; data
// submitted while in CLOSE-WAIT (peer already sent FIN) is still legal, per
// RFC 793, since only the peer's half of the connection is closed.
//
// Push returns once the bytes are queued, not once they're acknowledged;
// see DESIGN.md's Open Questions for why.
func (s *Socket) Push(data tcpip.Buffer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cb == nil {
		return tcpip.NewError("push", tcpip.ENotConn)
	}
	return s.cb.enqueueSend(data)
}

// Pop dequeues received bytes, if any are ready. ok is false with a nil
// error if nothing is available yet.
func (s *Socket) Pop() (tcpip.Buffer, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cb == nil {
		return nil, false, tcpip.NewError("pop", tcpip.ENotConn)
	}
	return s.cb.dequeueRecv()
}

// Close begins the RFC 793 graceful close handshake (our FIN). It is not a
// HardClose: the socket keeps acking and may still receive until the peer
// also closes. Not reentrant: calling Close on a socket already in
// StateClosing fails with ENotSup (spec.md §4.2/§7). Returns the SocketId
// the caller should deregister; the zero SocketId if never bound.
func (s *Socket) Close() (tcpip.SocketId, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosing {
		return tcpip.SocketId{}, tcpip.NewError("close", tcpip.ENotSup)
	}
	id := s.socketID()
	if s.state == StateUnbound {
		return tcpip.SocketId{}, nil
	}
	if s.cb == nil {
		s.state = StateClosed
		return id, nil
	}
	s.state = StateClosing
	s.cb.beginClose()
	return id, nil
}

// HardClose aborts the connection immediately with an RST rather than
// running the close handshake, per spec.md §9's Open Question resolution:
// hard_close from Established always emits RST, matching SO_LINGER(0, true)
// semantics rather than silently dropping state. Like Close, HardClose
// returns immediately; unlike Close, it always succeeds, even from
// StateClosing.
func (s *Socket) HardClose() tcpip.SocketId {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.socketID()
	if s.cb != nil {
		s.cb.abort()
	}
	if s.hasTsk {
		s.sched.Remove(s.taskID)
		s.hasTsk = false
	}
	s.state = StateClosed
	return id
}

// socketID normalizes the socket's current identity per spec.md §3: a
// listener (no remote endpoint) is Passive(local); anything that ever had a
// remote endpoint — connecting, established, or closing — is
// Active(local, remote). Caller must hold s.mu.
func (s *Socket) socketID() tcpip.SocketId {
	if s.state == StateListening {
		return tcpip.SocketId{Passive: true, Local: s.local}
	}
	return tcpip.SocketId{Local: s.local, Remote: s.remote}
}

// RemoteMSS returns the peer's negotiated MSS, 0 if not yet established.
// Mirrors EstablishedSocket::remote_mss in the original Rust source, kept
// separate from GetSocketOption since it isn't a settable option.
func (s *Socket) RemoteMSS() uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cb == nil {
		return 0
	}
	return s.cb.remoteMSSValue()
}

// CurrentRTO returns the control block's live RTO estimate, 0 if not yet
// established. Mirrors EstablishedSocket::current_rto.
func (s *Socket) CurrentRTO() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cb == nil {
		return 0
	}
	return s.cb.currentRTO()
}

func (s *Socket) SetSocketOption(opts tcpip.SocketOptions) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opts = opts
	if s.cb != nil {
		s.cb.opts = opts
	}
}

func (s *Socket) GetSocketOption() tcpip.SocketOptions {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opts
}

func (s *Socket) LocalEndpoint() tcpip.Endpoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.local
}

func (s *Socket) RemoteEndpoint() tcpip.Endpoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remote
}

// GetPeerName returns the remote endpoint, ENotConn if never connected.
func (s *Socket) GetPeerName() (tcpip.Endpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateEstablished && s.state != StateClosing {
		return tcpip.Endpoint{}, tcpip.NewError("getpeername", tcpip.ENotConn)
	}
	return s.remote, nil
}

func (s *Socket) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// receive is the demux entry point for an inbound segment addressed to
// this socket's four-tuple. It is unexported and takes this package's own
// segment type, so only code inside package tcp (and its tests) can call
// it; a NetworkEndpoint in another package cannot. It never blocks: it either
// hands the segment to the listener's SYN path, pushes it onto the
// handshake's queue, or pushes it onto the established control block's
// queue, waking whichever task owns it.
func (s *Socket) receive(seg *segment) {
	s.mu.Lock()
	listening := s.state == StateListening
	l := s.listener
	h := s.handshk
	cb := s.cb
	s.mu.Unlock()

	switch {
	case listening && l != nil:
		l.handleSegment(seg)
	case h != nil:
		h.inbound.Push(seg)
	case cb != nil:
		cb.inbound.Push(seg)
	}
}
