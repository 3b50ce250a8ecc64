package congestion

import (
	"testing"
	"time"
)

func TestSlowStartGrowsCwndOnAck(t *testing.T) {
	cc := New(1460)
	before := cc.Cwnd()
	cc.OnAck(1460, 10*time.Millisecond)
	if cc.Cwnd() <= before {
		t.Errorf("cwnd did not grow during slow start: before=%d after=%d", before, cc.Cwnd())
	}
}

func TestLossHalvesSsthreshAndResetsCwnd(t *testing.T) {
	cc := New(1460)
	for i := 0; i < 20; i++ {
		cc.OnAck(1460, 10*time.Millisecond)
	}
	grown := cc.Cwnd()
	cc.OnLoss()
	if cc.Cwnd() >= grown {
		t.Errorf("cwnd should collapse on loss: grown=%d after-loss=%d", grown, cc.Cwnd())
	}
	if cc.Ssthresh() != grown/2 {
		t.Errorf("ssthresh should be half the pre-loss cwnd: grown=%d ssthresh=%d", grown, cc.Ssthresh())
	}
}
