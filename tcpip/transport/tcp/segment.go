package tcp

import (
	"github.com/coolheart77/usertcp/tcpip"
	"github.com/coolheart77/usertcp/tcpip/header"
)

// segment is an inbound TCP segment as handed to a Socket by its
// NetworkEndpoint. It pairs the decoded header with the payload view and
// the four-tuple it arrived on, mirroring the teacher's own *segment type
// in transport/tcp/connect.go (route + header + view), minus everything
// that belonged to that file's goroutine-per-connection plumbing.
type segment struct {
	hdr     header.TCP
	payload tcpip.Buffer
	tuple   tcpip.FourTuple
}

func (s *segment) flagIsSet(flag uint8) bool { return s.hdr.FlagIsSet(flag) }

func (s *segment) seq() tcpip.SeqNum { return tcpip.SeqNum(s.hdr.SeqNum) }

func (s *segment) ack() tcpip.SeqNum { return tcpip.SeqNum(s.hdr.AckNum) }

// logicalLen is the sequence-space length of the segment: payload bytes
// plus one each for a set SYN or FIN flag, per RFC 793's definition of
// SEG.LEN.
func (s *segment) logicalLen() tcpip.SeqSize {
	n := s.hdr.PayloadLen
	if s.flagIsSet(header.FlagSyn) {
		n++
	}
	if s.flagIsSet(header.FlagFin) {
		n++
	}
	return tcpip.SeqSize(n)
}
