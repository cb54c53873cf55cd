package protocol

import "sync/atomic"

// SeqGen numbers outgoing datagram frames. It is safe for concurrent use and
// wraps from 65535 to 0, which the receiving validator treats as forward progress.
type SeqGen struct {
	val atomic.Uint32
}

// NewSeqGen creates a new sequence generator starting at 0.
// The first call to Next() returns 1.
func NewSeqGen() *SeqGen {
	return &SeqGen{}
}

// Next returns the next sequence number modulo 65536.
func (s *SeqGen) Next() uint16 {
	return uint16(s.val.Add(1))
}
