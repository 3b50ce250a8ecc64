// Package header provides just enough of a TCP segment view to drive the
// handshake and option negotiation; the full segment codec is an external
// collaborator per spec.md §1/§6, so this stays intentionally thin (flags,
// seq/ack/window, and MSS/window-scale option parsing only).
package header

const (
	FlagFin = 1 << 0
	FlagSyn = 1 << 1
	FlagRst = 1 << 2
	FlagAck = 1 << 4
)

const (
	optionMSS = 2
	optionWS  = 3
	optionEOL = 0
	optionNOP = 1
)

// MaxWindowScale is the RFC 1323 ceiling on the window-scale option.
const MaxWindowScale = 14

// TCP is a decoded view of the fields this module needs from a segment.
// Checksum/options-encoding and the wire layout itself belong to the
// external segment codec; this struct is what that codec is expected to
// hand back (or what a test fake constructs directly).
type TCP struct {
	SrcPort    uint16
	DstPort    uint16
	SeqNum     uint32
	AckNum     uint32
	Flags      uint8
	WindowSize uint16
	Options    []byte
	PayloadLen int
}

func (h *TCP) FlagIsSet(flag uint8) bool {
	return h.Flags&flag != 0
}

// SynOptions is what ParseSynOptions extracts from a SYN segment's options.
type SynOptions struct {
	MSS uint16
	// WindowScale is -1 if the peer's SYN carried no WS option (meaning
	// window scaling is disabled on both ends for this connection).
	WindowScale int
}

// ParseSynOptions mirrors the teacher's parseSynOptions (tcpip/transport/tcp
// connect.go) and the accept-path parser YaoZengzeng/yustack's
// parseSynSegmentOptions: walk a TLV option list, picking out MSS and window
// scale, defaulting MSS to defaultMSS if absent (callers pass the
// StackConfig's DefaultMSS, 536 per RFC 1122 by default). ok is false if
// the option list is malformed.
func ParseSynOptions(opts []byte, defaultMSS uint16) (out SynOptions, ok bool) {
	out = SynOptions{MSS: defaultMSS, WindowScale: -1}

	limit := len(opts)
	for i := 0; i < limit; {
		switch opts[i] {
		case optionEOL:
			return out, true
		case optionNOP:
			i++
		case optionMSS:
			if i+4 > limit || opts[i+1] != 4 {
				return SynOptions{}, false
			}
			mss := uint16(opts[i+2])<<8 | uint16(opts[i+3])
			if mss == 0 {
				return SynOptions{}, false
			}
			out.MSS = mss
			i += 4
		case optionWS:
			if i+3 > limit || opts[i+1] != 3 {
				return SynOptions{}, false
			}
			ws := int(opts[i+2])
			if ws > MaxWindowScale {
				ws = MaxWindowScale
			}
			out.WindowScale = ws
			i += 3
		default:
			if i+2 > limit {
				return SynOptions{}, false
			}
			l := int(opts[i+1])
			if l < 2 || i+l > limit {
				return SynOptions{}, false
			}
			i += l
		}
	}
	return out, true
}

// EncodeSynOptions is the inverse of ParseSynOptions: builds the MSS and
// (if wndScale >= 0) window-scale TLVs to carry on an outgoing SYN.
func EncodeSynOptions(mss uint16, wndScale int) []byte {
	opts := []byte{
		optionMSS, 4, byte(mss >> 8), byte(mss),
		optionWS, 3, byte(wndScale), optionNOP,
	}
	if wndScale < 0 {
		opts = opts[:len(opts)-4]
	}
	return opts
}
