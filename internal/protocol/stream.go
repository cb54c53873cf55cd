package protocol

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Stream envelope layout (all integers big-endian):
//
//	[Type:1][BodyLen:4][Body:BodyLen]
const (
	EnvelopeHeaderSize = 5
	MaxBodySize        = 16 * 1024 * 1024
)

// readEnvelope reads one envelope from r. It returns io.EOF only when the
// stream ends cleanly before the first header byte.
func readEnvelope(r io.Reader, hdr []byte) (MessageType, []byte, error) {
	if _, err := io.ReadFull(r, hdr[:EnvelopeHeaderSize]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return 0, nil, fmt.Errorf("%w: envelope header: %w", ErrTruncated, err)
		}
		return 0, nil, err
	}
	typ := MessageType(hdr[0])
	n := binary.BigEndian.Uint32(hdr[1:5])
	if n > MaxBodySize {
		return 0, nil, fmt.Errorf("%w: %d bytes (max %d)", ErrBodyTooLarge, n, MaxBodySize)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return 0, nil, fmt.Errorf("%w: type %d body: %w", ErrTruncated, typ, io.ErrUnexpectedEOF)
		}
		return 0, nil, err
	}
	return typ, body, nil
}

// writeEnvelope writes one envelope with a single Write call so that
// message-oriented transports carry exactly one envelope per message.
func writeEnvelope(w io.Writer, typ MessageType, body []byte) (int, error) {
	if len(body) > MaxBodySize {
		return 0, fmt.Errorf("%w: %d bytes (max %d)", ErrBodyTooLarge, len(body), MaxBodySize)
	}
	buf := make([]byte, EnvelopeHeaderSize, EnvelopeHeaderSize+len(body))
	buf[0] = byte(typ)
	binary.BigEndian.PutUint32(buf[1:5], uint32(len(body)))
	buf = append(buf, body...)
	return w.Write(buf)
}

// ---------------------------------------------------------------------------
// Control messages
// ---------------------------------------------------------------------------

// StreamReader decodes control messages from the reliable stream.
type StreamReader struct {
	r   *bufio.Reader
	hdr [EnvelopeHeaderSize]byte
}

// NewStreamReader wraps r in a buffered control-message decoder.
func NewStreamReader(r io.Reader) *StreamReader {
	return &StreamReader{r: bufio.NewReader(r)}
}

// ReadMessage blocks until one control message is decoded. It returns io.EOF
// when the peer closed the stream at a message boundary.
func (s *StreamReader) ReadMessage() (ControlMessage, error) {
	typ, body, err := readEnvelope(s.r, s.hdr[:])
	if err != nil {
		return nil, err
	}
	return decodeControl(typ, body)
}

// StreamWriter encodes control messages onto the reliable stream.
type StreamWriter struct {
	w io.Writer
}

// NewStreamWriter creates a control-message encoder writing to w.
func NewStreamWriter(w io.Writer) *StreamWriter {
	return &StreamWriter{w: w}
}

// WriteMessage encodes and writes msg, returning the number of bytes written.
func (s *StreamWriter) WriteMessage(msg ControlMessage) (int, error) {
	body, err := encodeControl(msg)
	if err != nil {
		return 0, err
	}
	return writeEnvelope(s.w, msg.Type(), body)
}

func decodeControl(typ MessageType, body []byte) (ControlMessage, error) {
	c := &cursor{b: body}
	var msg ControlMessage
	switch typ {
	case TypeUhidCreate:
		msg = UhidCreate{
			ID:         c.u16(),
			VendorID:   c.u16(),
			ProductID:  c.u16(),
			Name:       string(c.bytes8()),
			ReportDesc: c.bytes16(),
		}
	case TypeUhidInput:
		msg = UhidInput{ID: c.u16(), Data: c.bytes16()}
	case TypeUhidDestroy:
		msg = UhidDestroy{ID: c.u16()}
	default:
		return Opaque{Kind: typ, Body: body}, nil
	}
	if err := c.finish(); err != nil {
		return nil, fmt.Errorf("decode type %d: %w", typ, err)
	}
	return msg, nil
}

func encodeControl(msg ControlMessage) ([]byte, error) {
	switch m := msg.(type) {
	case UhidCreate:
		if len(m.Name) > 0xFF {
			return nil, fmt.Errorf("%w: name %d bytes", ErrInvalidLength, len(m.Name))
		}
		if len(m.ReportDesc) > 0xFFFF {
			return nil, fmt.Errorf("%w: report descriptor %d bytes", ErrInvalidLength, len(m.ReportDesc))
		}
		b := make([]byte, 0, 6+1+len(m.Name)+2+len(m.ReportDesc))
		b = binary.BigEndian.AppendUint16(b, m.ID)
		b = binary.BigEndian.AppendUint16(b, m.VendorID)
		b = binary.BigEndian.AppendUint16(b, m.ProductID)
		b = append(b, byte(len(m.Name)))
		b = append(b, m.Name...)
		b = binary.BigEndian.AppendUint16(b, uint16(len(m.ReportDesc)))
		return append(b, m.ReportDesc...), nil
	case UhidInput:
		return appendIDData(m.ID, m.Data)
	case UhidDestroy:
		return binary.BigEndian.AppendUint16(nil, m.ID), nil
	case Opaque:
		return m.Body, nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedType, msg)
	}
}

// ---------------------------------------------------------------------------
// Device messages
// ---------------------------------------------------------------------------

// DeviceWriter encodes device messages onto the reliable stream.
type DeviceWriter struct {
	w io.Writer
}

// NewDeviceWriter creates a device-message encoder writing to w.
func NewDeviceWriter(w io.Writer) *DeviceWriter {
	return &DeviceWriter{w: w}
}

// WriteMessage encodes and writes msg, returning the number of bytes written.
func (d *DeviceWriter) WriteMessage(msg DeviceMessage) (int, error) {
	var body []byte
	switch m := msg.(type) {
	case Clipboard:
		body = []byte(m.Text)
	case AckClipboard:
		body = binary.BigEndian.AppendUint64(nil, m.Sequence)
	case UhidOutput:
		b, err := appendIDData(m.ID, m.Data)
		if err != nil {
			return 0, err
		}
		body = b
	default:
		return 0, fmt.Errorf("%w: %T", ErrUnsupportedType, msg)
	}
	return writeEnvelope(d.w, msg.Type(), body)
}

// DeviceReader decodes device messages; the controller side uses it.
type DeviceReader struct {
	r   *bufio.Reader
	hdr [EnvelopeHeaderSize]byte
}

// NewDeviceReader wraps r in a buffered device-message decoder.
func NewDeviceReader(r io.Reader) *DeviceReader {
	return &DeviceReader{r: bufio.NewReader(r)}
}

// ReadMessage blocks until one device message is decoded. It returns io.EOF
// when the peer closed the stream at a message boundary.
func (d *DeviceReader) ReadMessage() (DeviceMessage, error) {
	typ, body, err := readEnvelope(d.r, d.hdr[:])
	if err != nil {
		return nil, err
	}
	c := &cursor{b: body}
	var msg DeviceMessage
	switch typ {
	case TypeClipboard:
		msg = Clipboard{Text: string(body)}
		c.off = len(body)
	case TypeAckClipboard:
		msg = AckClipboard{Sequence: c.u64()}
	case TypeUhidOutput:
		msg = UhidOutput{ID: c.u16(), Data: c.bytes16()}
	default:
		return nil, fmt.Errorf("%w: device type %d", ErrUnsupportedType, typ)
	}
	if err := c.finish(); err != nil {
		return nil, fmt.Errorf("decode device type %d: %w", typ, err)
	}
	return msg, nil
}

// ---------------------------------------------------------------------------
// Body helpers
// ---------------------------------------------------------------------------

func appendIDData(id uint16, data []byte) ([]byte, error) {
	if len(data) > 0xFFFF {
		return nil, fmt.Errorf("%w: data %d bytes", ErrInvalidLength, len(data))
	}
	b := make([]byte, 0, 4+len(data))
	b = binary.BigEndian.AppendUint16(b, id)
	b = binary.BigEndian.AppendUint16(b, uint16(len(data)))
	return append(b, data...), nil
}

// cursor reads fixed-width fields from a body. The first short read sets err
// and every later read returns zero values.
type cursor struct {
	b   []byte
	off int
	err error
}

func (c *cursor) take(n int) []byte {
	if c.err != nil {
		return nil
	}
	if len(c.b)-c.off < n {
		c.err = fmt.Errorf("%w: need %d bytes at offset %d, have %d", ErrTruncated, n, c.off, len(c.b)-c.off)
		return nil
	}
	p := c.b[c.off : c.off+n]
	c.off += n
	return p
}

func (c *cursor) u16() uint16 {
	if p := c.take(2); p != nil {
		return binary.BigEndian.Uint16(p)
	}
	return 0
}

func (c *cursor) u64() uint64 {
	if p := c.take(8); p != nil {
		return binary.BigEndian.Uint64(p)
	}
	return 0
}

// bytes8 reads a 1-byte length prefix followed by that many bytes.
func (c *cursor) bytes8() []byte {
	p := c.take(1)
	if p == nil {
		return nil
	}
	return c.copyOf(int(p[0]))
}

// bytes16 reads a 2-byte length prefix followed by that many bytes.
func (c *cursor) bytes16() []byte {
	return c.copyOf(int(c.u16()))
}

func (c *cursor) copyOf(n int) []byte {
	p := c.take(n)
	if p == nil {
		return nil
	}
	out := make([]byte, n)
	copy(out, p)
	return out
}

func (c *cursor) finish() error {
	if c.err != nil {
		return c.err
	}
	if c.off != len(c.b) {
		return fmt.Errorf("%w: %d unread", ErrTrailingBytes, len(c.b)-c.off)
	}
	return nil
}
