package tcp

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/coolheart77/usertcp/scheduler"
	"github.com/coolheart77/usertcp/tcpip"
	"github.com/coolheart77/usertcp/tcpip/header"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeNetEndpoint struct {
	mu   sync.Mutex
	sent []*header.TCP
}

func (f *fakeNetEndpoint) Send(_ context.Context, _ tcpip.Address, payload tcpip.Buffer) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if b, ok := payload.(*tcpBuffer); ok {
		f.sent = append(f.sent, b.hdr)
	}
	return nil
}

func (f *fakeNetEndpoint) last() *header.TCP {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		return nil
	}
	return f.sent[len(f.sent)-1]
}

func testDeps(sched *scheduler.Scheduler, net *fakeNetEndpoint) Deps {
	return Deps{
		Scheduler: sched,
		NetworkEP: net,
		StackCfg:  tcpip.DefaultStackConfig(),
	}
}

func TestBindThenListenThenRebindRejected(t *testing.T) {
	sched := scheduler.New(true)
	s := NewSocket(testDeps(sched, &fakeNetEndpoint{}))

	require.NoError(t, s.Bind(tcpip.Endpoint{Port: 80}))
	assert.Equal(t, StateBound, s.State())

	err := s.Bind(tcpip.Endpoint{Port: 81})
	require.Error(t, err)
	assert.True(t, tcpip.Is(err, tcpip.EInval))

	require.NoError(t, s.Listen(0, 0xDEADBEEF))
	assert.Equal(t, StateListening, s.State())
}

func TestListenWithoutBindIsInvalid(t *testing.T) {
	sched := scheduler.New(true)
	s := NewSocket(testDeps(sched, &fakeNetEndpoint{}))
	err := s.Listen(0, 0xDEADBEEF)
	require.Error(t, err)
	assert.True(t, tcpip.Is(err, tcpip.EInval))
}

func TestPushBeforeConnectedIsNotConn(t *testing.T) {
	sched := scheduler.New(true)
	s := NewSocket(testDeps(sched, &fakeNetEndpoint{}))
	err := s.Push(&simpleBuffer{data: []byte("hi")})
	require.Error(t, err)
	assert.True(t, tcpip.Is(err, tcpip.ENotConn))
}

func TestActiveOpenCompletesOnSynAck(t *testing.T) {
	sched := scheduler.New(true)
	net := &fakeNetEndpoint{}
	s := NewSocket(testDeps(sched, net))
	require.NoError(t, s.Bind(tcpip.Endpoint{Port: 1234}))
	require.NoError(t, s.Connect(tcpip.Endpoint{Port: 80}))
	assert.Equal(t, StateConnecting, s.State())

	sched.Poll()
	syn := net.last()
	require.NotNil(t, syn)
	assert.True(t, syn.FlagIsSet(header.FlagSyn))
	assert.False(t, syn.FlagIsSet(header.FlagAck))

	s.mu.Lock()
	h := s.handshk
	s.mu.Unlock()
	require.NotNil(t, h)

	synAckOpts := header.EncodeSynOptions(1460, -1)
	h.inbound.Push(&segment{
		hdr: header.TCP{
			SeqNum:  7000,
			AckNum:  uint32(h.iss) + 1,
			Flags:   header.FlagSyn | header.FlagAck,
			Options: synAckOpts,
		},
	})

	sched.Poll()

	assert.Equal(t, StateEstablished, s.State())
	finalAck := net.last()
	require.NotNil(t, finalAck)
	assert.True(t, finalAck.FlagIsSet(header.FlagAck))
	assert.False(t, finalAck.FlagIsSet(header.FlagSyn))
	assert.Equal(t, uint32(7001), finalAck.AckNum)
	assert.Equal(t, uint16(1460), s.RemoteMSS())
	assert.Greater(t, s.CurrentRTO(), time.Duration(0))
}

func TestActiveOpenRefusedOnMatchingRst(t *testing.T) {
	sched := scheduler.New(true)
	net := &fakeNetEndpoint{}
	s := NewSocket(testDeps(sched, net))
	require.NoError(t, s.Bind(tcpip.Endpoint{Port: 1234}))
	require.NoError(t, s.Connect(tcpip.Endpoint{Port: 80}))
	sched.Poll()

	s.mu.Lock()
	h := s.handshk
	s.mu.Unlock()
	require.NotNil(t, h)

	h.inbound.Push(&segment{hdr: header.TCP{
		AckNum: uint32(h.iss) + 1,
		Flags:  header.FlagRst | header.FlagAck,
	}})
	sched.Poll()

	assert.Equal(t, StateClosed, s.State())
}

func TestPassiveOpenSynCookieRoundTrip(t *testing.T) {
	sched := scheduler.New(true)
	net := &fakeNetEndpoint{}
	s := NewSocket(testDeps(sched, net))
	require.NoError(t, s.Bind(tcpip.Endpoint{Port: 80}))
	require.NoError(t, s.Listen(4, 0xDEADBEEF))

	clientTuple := tcpip.FourTuple{
		Local:  tcpip.Endpoint{Port: 80},
		Remote: tcpip.Endpoint{Port: 5000},
	}
	s.receive(&segment{
		tuple: clientTuple,
		hdr:   header.TCP{SeqNum: 500, Flags: header.FlagSyn},
	})

	synAck := net.last()
	require.NotNil(t, synAck)
	assert.True(t, synAck.FlagIsSet(header.FlagSyn) && synAck.FlagIsSet(header.FlagAck))
	assert.Equal(t, uint32(501), synAck.AckNum)

	s.receive(&segment{
		tuple: clientTuple,
		hdr: header.TCP{
			SeqNum: 501,
			AckNum: synAck.SeqNum + 1,
			Flags:  header.FlagAck,
		},
	})

	child, ok, err := s.Accept()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, StateEstablished, child.State())
}

func TestAcceptWithEmptyBacklogIsNotReady(t *testing.T) {
	sched := scheduler.New(true)
	s := NewSocket(testDeps(sched, &fakeNetEndpoint{}))
	require.NoError(t, s.Bind(tcpip.Endpoint{Port: 80}))
	require.NoError(t, s.Listen(4, 0xDEADBEEF))

	_, ok, err := s.Accept()
	require.NoError(t, err)
	assert.False(t, ok)
}

// TestGracefulCloseScenario is scenario S6: close() on an Established
// socket sends FIN, runs the close handshake to TIME-WAIT, and once the
// background task completes returns the Active(local, remote) SocketId the
// embedder should deregister.
func TestGracefulCloseScenario(t *testing.T) {
	sched := scheduler.New(true)
	net := &fakeNetEndpoint{}
	s := NewSocket(testDeps(sched, net))
	require.NoError(t, s.Bind(tcpip.Endpoint{Port: 1234}))
	require.NoError(t, s.Connect(tcpip.Endpoint{Port: 80}))
	sched.Poll()

	s.mu.Lock()
	h := s.handshk
	s.mu.Unlock()
	require.NotNil(t, h)

	synAckOpts := header.EncodeSynOptions(1460, -1)
	h.inbound.Push(&segment{hdr: header.TCP{
		SeqNum:  7000,
		AckNum:  uint32(h.iss) + 1,
		Flags:   header.FlagSyn | header.FlagAck,
		Options: synAckOpts,
	}})
	sched.Poll()
	require.Equal(t, StateEstablished, s.State())

	id, err := s.Close()
	require.NoError(t, err)
	assert.False(t, id.Passive)
	assert.Equal(t, tcpip.Endpoint{Port: 1234}, id.Local)
	assert.Equal(t, tcpip.Endpoint{Port: 80}, id.Remote)
	assert.Equal(t, StateClosing, s.State())

	sched.Poll()
	fin := net.last()
	require.NotNil(t, fin)
	assert.True(t, fin.FlagIsSet(header.FlagFin))

	s.mu.Lock()
	cb := s.cb
	s.mu.Unlock()
	require.NotNil(t, cb)

	cb.inbound.Push(&segment{hdr: header.TCP{AckNum: uint32(fin.SeqNum) + 1, Flags: header.FlagAck}})
	cb.inbound.Push(&segment{hdr: header.TCP{
		SeqNum: 7001,
		AckNum: uint32(fin.SeqNum) + 1,
		Flags:  header.FlagFin | header.FlagAck,
	}})
	sched.Poll()

	cb.mu.Lock()
	closeSt := cb.closeSt
	cb.mu.Unlock()
	assert.Equal(t, closeTimeWait, closeSt)
	assert.Equal(t, StateClosing, s.State(), "background task must stay scheduled through TIME-WAIT")

	cb.mu.Lock()
	cb.timeWaitSince = cb.timeWaitSince.Add(-s.cfg.TimeWaitDuration - time.Millisecond)
	cb.mu.Unlock()
	sched.Poll()

	assert.Equal(t, StateClosed, s.State())
}

// TestCloseIsNotReentrant is spec.md §4.2: calling Close on a socket already
// in StateClosing fails with ENotSup rather than silently succeeding again.
func TestCloseIsNotReentrant(t *testing.T) {
	sched := scheduler.New(true)
	net := &fakeNetEndpoint{}
	s := NewSocket(testDeps(sched, net))
	require.NoError(t, s.Bind(tcpip.Endpoint{Port: 1234}))
	require.NoError(t, s.Connect(tcpip.Endpoint{Port: 80}))
	sched.Poll()

	s.mu.Lock()
	h := s.handshk
	s.mu.Unlock()
	synAckOpts := header.EncodeSynOptions(1460, -1)
	h.inbound.Push(&segment{hdr: header.TCP{
		SeqNum:  7000,
		AckNum:  uint32(h.iss) + 1,
		Flags:   header.FlagSyn | header.FlagAck,
		Options: synAckOpts,
	}})
	sched.Poll()

	_, err := s.Close()
	require.NoError(t, err)

	_, err = s.Close()
	require.Error(t, err)
	assert.True(t, tcpip.Is(err, tcpip.ENotSup))
}

// TestHardCloseReturnsSocketIdAndSendsRst exercises hard_close from
// Established: per spec.md §9's resolved Open Question, it always sends
// RST, and always returns the SocketId even though it is not suspending.
func TestHardCloseReturnsSocketIdAndSendsRst(t *testing.T) {
	sched := scheduler.New(true)
	net := &fakeNetEndpoint{}
	s := NewSocket(testDeps(sched, net))
	require.NoError(t, s.Bind(tcpip.Endpoint{Port: 1234}))
	require.NoError(t, s.Connect(tcpip.Endpoint{Port: 80}))
	sched.Poll()

	s.mu.Lock()
	h := s.handshk
	s.mu.Unlock()
	synAckOpts := header.EncodeSynOptions(1460, -1)
	h.inbound.Push(&segment{hdr: header.TCP{
		SeqNum:  7000,
		AckNum:  uint32(h.iss) + 1,
		Flags:   header.FlagSyn | header.FlagAck,
		Options: synAckOpts,
	}})
	sched.Poll()

	id := s.HardClose()
	assert.Equal(t, tcpip.Endpoint{Port: 80}, id.Remote)
	assert.Equal(t, StateClosed, s.State())

	rst := net.last()
	require.NotNil(t, rst)
	assert.True(t, rst.FlagIsSet(header.FlagRst))
}
