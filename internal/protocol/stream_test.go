package protocol_test

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"reflect"
	"testing"

	"github.com/1ureka/ctlmux/internal/protocol"
)

// TestStreamRoundTrip writes every control variant and reads it back in order.
func TestStreamRoundTrip(t *testing.T) {
	msgs := []protocol.ControlMessage{
		protocol.UhidCreate{ID: 1, VendorID: 0x046D, ProductID: 0xC077, Name: "mouse", ReportDesc: []byte{0x05, 0x01, 0x09, 0x02}},
		protocol.UhidCreate{ID: 2, Name: "", ReportDesc: []byte{}},
		protocol.UhidInput{ID: 1, Data: []byte{0x01, 0x02, 0x03}},
		protocol.UhidInput{ID: 1, Data: []byte{}},
		protocol.UhidDestroy{ID: 1},
		protocol.Opaque{Kind: 99, Body: []byte("keycode")},
	}

	var buf bytes.Buffer
	w := protocol.NewStreamWriter(&buf)
	total := 0
	for _, m := range msgs {
		n, err := w.WriteMessage(m)
		if err != nil {
			t.Fatalf("WriteMessage(%s) failed: %v", protocol.Describe(m), err)
		}
		total += n
	}
	if total != buf.Len() {
		t.Errorf("reported %d bytes written, buffer holds %d", total, buf.Len())
	}

	r := protocol.NewStreamReader(&buf)
	for i, want := range msgs {
		got, err := r.ReadMessage()
		if err != nil {
			t.Fatalf("ReadMessage #%d failed: %v", i, err)
		}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("message #%d mismatch:\n got %#v\nwant %#v", i, got, want)
		}
	}
	if _, err := r.ReadMessage(); err != io.EOF {
		t.Fatalf("expected io.EOF at clean end, got %v", err)
	}
}

// TestStreamReaderTruncated verifies that a stream ending mid-envelope is
// reported as truncated rather than a clean EOF.
func TestStreamReaderTruncated(t *testing.T) {
	var buf bytes.Buffer
	protocol.NewStreamWriter(&buf).WriteMessage(protocol.UhidInput{ID: 3, Data: []byte("abcdef")})
	full := buf.Bytes()

	for _, cut := range []int{1, protocol.EnvelopeHeaderSize - 1, protocol.EnvelopeHeaderSize, len(full) - 1} {
		r := protocol.NewStreamReader(bytes.NewReader(full[:cut]))
		_, err := r.ReadMessage()
		if !errors.Is(err, protocol.ErrTruncated) {
			t.Errorf("cut at %d: expected ErrTruncated, got %v", cut, err)
		}
		if !errors.Is(err, io.ErrUnexpectedEOF) {
			t.Errorf("cut at %d: expected io.ErrUnexpectedEOF in chain, got %v", cut, err)
		}
	}
}

func TestStreamReaderBodyTooLarge(t *testing.T) {
	hdr := make([]byte, protocol.EnvelopeHeaderSize)
	hdr[0] = byte(protocol.TypeUhidInput)
	binary.BigEndian.PutUint32(hdr[1:], protocol.MaxBodySize+1)

	_, err := protocol.NewStreamReader(bytes.NewReader(hdr)).ReadMessage()
	if !errors.Is(err, protocol.ErrBodyTooLarge) {
		t.Fatalf("expected ErrBodyTooLarge, got %v", err)
	}
}

// TestStreamReaderMalformedBody covers bodies whose inner lengths disagree
// with the envelope length.
func TestStreamReaderMalformedBody(t *testing.T) {
	testCases := []struct {
		name string
		typ  protocol.MessageType
		body []byte
		want error
	}{
		{"destroy short", protocol.TypeUhidDestroy, []byte{0x01}, protocol.ErrTruncated},
		{"destroy trailing", protocol.TypeUhidDestroy, []byte{0x00, 0x01, 0x00}, protocol.ErrTrailingBytes},
		{"input data short", protocol.TypeUhidInput, []byte{0x00, 0x01, 0x00, 0x04, 0xAA}, protocol.ErrTruncated},
		{"create name short", protocol.TypeUhidCreate, []byte{0, 1, 0, 0, 0, 0, 5, 'a'}, protocol.ErrTruncated},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			raw := make([]byte, protocol.EnvelopeHeaderSize, protocol.EnvelopeHeaderSize+len(tc.body))
			raw[0] = byte(tc.typ)
			binary.BigEndian.PutUint32(raw[1:], uint32(len(tc.body)))
			raw = append(raw, tc.body...)

			_, err := protocol.NewStreamReader(bytes.NewReader(raw)).ReadMessage()
			if !errors.Is(err, tc.want) {
				t.Fatalf("got %v, want %v", err, tc.want)
			}
		})
	}
}

func TestStreamWriterRejectsOversizedFields(t *testing.T) {
	w := protocol.NewStreamWriter(io.Discard)
	long := string(make([]byte, 256))
	if _, err := w.WriteMessage(protocol.UhidCreate{Name: long}); !errors.Is(err, protocol.ErrInvalidLength) {
		t.Errorf("long name: expected ErrInvalidLength, got %v", err)
	}
	if _, err := w.WriteMessage(protocol.UhidInput{Data: make([]byte, 0x10000)}); !errors.Is(err, protocol.ErrInvalidLength) {
		t.Errorf("long data: expected ErrInvalidLength, got %v", err)
	}
}

// TestDeviceRoundTrip writes every device variant and reads it back.
func TestDeviceRoundTrip(t *testing.T) {
	msgs := []protocol.DeviceMessage{
		protocol.Clipboard{Text: "copied text"},
		protocol.Clipboard{Text: ""},
		protocol.AckClipboard{Sequence: 0x0102030405060708},
		protocol.UhidOutput{ID: 4, Data: []byte{0x01}},
	}

	var buf bytes.Buffer
	w := protocol.NewDeviceWriter(&buf)
	for _, m := range msgs {
		if _, err := w.WriteMessage(m); err != nil {
			t.Fatalf("WriteMessage(%s) failed: %v", protocol.Describe(m), err)
		}
	}

	r := protocol.NewDeviceReader(&buf)
	for i, want := range msgs {
		got, err := r.ReadMessage()
		if err != nil {
			t.Fatalf("ReadMessage #%d failed: %v", i, err)
		}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("message #%d mismatch:\n got %#v\nwant %#v", i, got, want)
		}
	}
	if _, err := r.ReadMessage(); err != io.EOF {
		t.Fatalf("expected io.EOF, got %v", err)
	}
}

func TestDeviceReaderUnknownType(t *testing.T) {
	raw := []byte{0x07, 0x00, 0x00, 0x00, 0x00}
	_, err := protocol.NewDeviceReader(bytes.NewReader(raw)).ReadMessage()
	if !errors.Is(err, protocol.ErrUnsupportedType) {
		t.Fatalf("expected ErrUnsupportedType, got %v", err)
	}
}
