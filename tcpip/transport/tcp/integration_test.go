package tcp

import (
	"testing"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/coolheart77/usertcp/scheduler"
	"github.com/coolheart77/usertcp/tcpip"
	"github.com/coolheart77/usertcp/tcpip/header"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestManyConcurrentHandshakesOnOneScheduler drives several ActiveOpen
// handshakes through a single Scheduler at once, using an errgroup (the
// same concurrency-harness library the example stack leans on in its own
// load-generation tooling) purely to fan out the "client" half of each
// handshake from a separate goroutine while the Scheduler itself stays
// single-threaded: every handshake's Poll still only ever runs from this
// test goroutine's sched.Poll() calls.
func TestManyConcurrentHandshakesOnOneScheduler(t *testing.T) {
	const n = 8
	sched := scheduler.New(true)
	sockets := make([]*Socket, n)
	nets := make([]*fakeNetEndpoint, n)

	for i := 0; i < n; i++ {
		nets[i] = &fakeNetEndpoint{}
		sockets[i] = NewSocket(testDeps(sched, nets[i]))
		require.NoError(t, sockets[i].Bind(tcpip.Endpoint{Port: uint16(2000 + i)}))
		require.NoError(t, sockets[i].Connect(tcpip.Endpoint{Port: 80}))
	}

	sched.Poll()

	var g errgroup.Group
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			sockets[i].mu.Lock()
			h := sockets[i].handshk
			sockets[i].mu.Unlock()
			if h == nil {
				return nil
			}
			synAckOpts := header.EncodeSynOptions(1460, -1)
			h.inbound.Push(&segment{hdr: header.TCP{
				SeqNum:  9000 + uint32(i),
				AckNum:  uint32(h.iss) + 1,
				Flags:   header.FlagSyn | header.FlagAck,
				Options: synAckOpts,
			}})
			return nil
		})
	}
	require.NoError(t, g.Wait())

	deadline := time.Now().Add(time.Second)
	for {
		sched.Poll()
		allDone := true
		for i := 0; i < n; i++ {
			if sockets[i].State() != StateEstablished {
				allDone = false
			}
		}
		if allDone || time.Now().After(deadline) {
			break
		}
	}

	for i := 0; i < n; i++ {
		assert.Equal(t, StateEstablished, sockets[i].State(), "socket %d", i)
	}
}
