package control

// seqWindow is half of the 16-bit sequence space. A frame is "newer" than the
// last accepted one when its forward distance is in (0, seqWindow).
const seqWindow = 1 << 15

// SeqValidator rejects duplicate and stale datagram sequence numbers.
// It is not safe for concurrent use; exactly one datagram listener owns it.
// The zero value has accepted nothing yet.
type SeqValidator struct {
	last  uint16
	valid bool
}

// ShouldAccept reports whether a frame numbered seq should be delivered, and
// records it as the newest sequence number when it should.
func (v *SeqValidator) ShouldAccept(seq uint16) bool {
	if !v.valid {
		v.last, v.valid = seq, true
		return true
	}

	// Forward distance modulo 65536, computed wide then masked.
	diff := (uint32(seq) - uint32(v.last)) & 0xFFFF
	if diff == 0 || diff >= seqWindow {
		return false
	}

	v.last = seq
	return true
}

// Last returns the most recently accepted sequence number, if any.
func (v *SeqValidator) Last() (uint16, bool) {
	return v.last, v.valid
}
