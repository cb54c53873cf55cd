package control

import (
	"fmt"

	"github.com/1ureka/ctlmux/internal/protocol"
)

// FrameParser turns raw datagrams into control messages, dropping frames the
// sequence validator considers duplicate or stale.
type FrameParser struct {
	seq SeqValidator
}

// NewFrameParser creates a parser with a fresh sequence validator.
func NewFrameParser() *FrameParser {
	return &FrameParser{}
}

// Parse decodes one datagram.
//
// A nil message with a nil error means the frame was dropped as a duplicate or
// stale. Any decoding failure wraps ErrMalformedFrame. The sequence number is
// checked before the type byte, so a rejected type still advances the
// validator. The returned payload never aliases b.
func (p *FrameParser) Parse(b []byte) (protocol.ControlMessage, error) {
	seq, err := protocol.DatagramSeq(b)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedFrame, err)
	}

	if !p.seq.ShouldAccept(seq) {
		return nil, nil
	}

	msg, err := protocol.DecodeDatagramBody(b[protocol.SeqSize:])
	if err != nil {
		return nil, fmt.Errorf("%w: seq %d: %w", ErrMalformedFrame, seq, err)
	}
	return msg, nil
}

// LastSeq exposes the validator state for diagnostics.
func (p *FrameParser) LastSeq() (uint16, bool) {
	return p.seq.Last()
}
