// Package congestion provides the default CongestionControl implementation
// plugged into a control block when the embedder does not supply its own
// CongestionControlConstructor (spec.md §4.5).
package congestion

import (
	"time"

	"golang.org/x/time/rate"

	"github.com/coolheart77/usertcp/tcpip"
)

// reno is a minimal slow-start/congestion-avoidance controller. It is not a
// literal RFC 5681 implementation of every corner case (fast retransmit and
// fast recovery are left to the control block's retransmission queue); it
// tracks cwnd/ssthresh in MSS-multiples. It also keeps a
// golang.org/x/time/rate.Limiter whose rate and burst follow 4*cwnd in
// congestion avoidance and reset to 4*mss on loss; OnAck draws the acked
// bytes from it but ignores the answer, and Cwnd does not consult it, so
// the limiter does not cap the send burst.
type reno struct {
	mss      uint32
	cwnd     uint32
	ssthresh uint32
	limiter  *rate.Limiter
}

// New builds the default CongestionControl for a connection negotiated at
// the given MSS, satisfying tcpip.CongestionControlConstructor.
func New(mss uint32) tcpip.CongestionControl {
	if mss == 0 {
		mss = 536
	}
	return &reno{
		mss:      mss,
		cwnd:     mss,
		ssthresh: 64 * mss,
		limiter:  rate.NewLimiter(rate.Limit(4*mss), int(4*mss)),
	}
}

func (r *reno) OnAck(bytesAcked int, rtt time.Duration) {
	r.limiter.AllowN(time.Now(), bytesAcked)
	if r.cwnd < r.ssthresh {
		r.cwnd += uint32(bytesAcked)
		return
	}
	// Congestion avoidance: roughly one MSS per RTT.
	growth := uint32(bytesAcked) * r.mss / r.cwnd
	if growth == 0 {
		growth = 1
	}
	r.cwnd += growth
	burst := 4 * r.cwnd
	r.limiter.SetBurst(int(burst))
	r.limiter.SetLimit(rate.Limit(burst))
}

func (r *reno) OnLoss() {
	r.ssthresh = r.cwnd / 2
	if r.ssthresh < r.mss {
		r.ssthresh = r.mss
	}
	r.cwnd = r.mss
	r.limiter.SetBurst(int(4 * r.mss))
	r.limiter.SetLimit(rate.Limit(4 * r.mss))
}

func (r *reno) Cwnd() uint32 { return r.cwnd }

func (r *reno) Ssthresh() uint32 { return r.ssthresh }
