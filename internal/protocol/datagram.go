package protocol

import (
	"encoding/binary"
	"fmt"
)

// Datagram frame layout (all integers big-endian):
//
//	[Seq:2][Type:1][ID:2][Len:2][Payload:Len]
const (
	SeqSize            = 2
	DatagramHeaderSize = 7
	MaxPayloadSize     = 0xFFFF
)

// EncodeDatagram serializes msg into a sequenced datagram frame.
func EncodeDatagram(seq uint16, msg UhidInput) ([]byte, error) {
	if len(msg.Data) > MaxPayloadSize {
		return nil, fmt.Errorf("%w: payload %d bytes exceeds %d", ErrInvalidLength, len(msg.Data), MaxPayloadSize)
	}
	buf := make([]byte, DatagramHeaderSize+len(msg.Data))
	binary.BigEndian.PutUint16(buf[0:2], seq)
	buf[2] = byte(TypeUhidInput)
	binary.BigEndian.PutUint16(buf[3:5], msg.ID)
	binary.BigEndian.PutUint16(buf[5:7], uint16(len(msg.Data)))
	copy(buf[DatagramHeaderSize:], msg.Data)
	return buf, nil
}

// DatagramSeq returns the sequence number at the start of a datagram frame.
func DatagramSeq(frame []byte) (uint16, error) {
	if len(frame) < SeqSize {
		return 0, fmt.Errorf("%w: %d bytes, need a sequence number", ErrTruncated, len(frame))
	}
	return binary.BigEndian.Uint16(frame[0:2]), nil
}

// DecodeDatagramBody decodes everything after the sequence number. The type
// byte must be TypeUhidInput. Bytes past the declared payload are ignored.
// The returned Data never aliases body.
func DecodeDatagramBody(body []byte) (UhidInput, error) {
	if len(body) < 1 {
		return UhidInput{}, fmt.Errorf("%w: missing type byte", ErrTruncated)
	}
	if typ := MessageType(body[0]); typ != TypeUhidInput {
		return UhidInput{}, fmt.Errorf("%w: %d on datagram transport", ErrUnsupportedType, typ)
	}
	if len(body) < DatagramHeaderSize-SeqSize {
		return UhidInput{}, fmt.Errorf("%w: header needs %d bytes, got %d", ErrTruncated, DatagramHeaderSize, len(body)+SeqSize)
	}
	id := binary.BigEndian.Uint16(body[1:3])
	n := int(binary.BigEndian.Uint16(body[3:5]))
	payload := body[5:]
	if len(payload) < n {
		return UhidInput{}, fmt.Errorf("%w: payload declares %d bytes, %d available", ErrTruncated, n, len(payload))
	}
	data := make([]byte, n)
	copy(data, payload[:n])
	return UhidInput{ID: id, Data: data}, nil
}
