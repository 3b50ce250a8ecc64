package scheduler

import (
	"crypto/rand"
	"encoding/binary"
	"math/bits"
)

func bitsTrailingZeros64(x uint64) int {
	return bits.TrailingZeros64(x)
}

// cryptoRandInt64 draws a seed from entropy, the same way the teacher's
// handshake code (tcpip/transport/tcp, newHandshake/resetState) draws its
// initial sequence number from crypto/rand rather than math/rand.
func cryptoRandInt64() int64 {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		// crypto/rand failing is a fatal environment problem; fall
		// back to a fixed seed rather than leaving the scheduler's
		// rng uninitialised.
		return 42
	}
	return int64(binary.LittleEndian.Uint64(b[:]))
}
