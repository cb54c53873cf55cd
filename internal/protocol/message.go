// Package protocol defines the control and device message model and the two
// wire formats that carry it: sequenced datagram frames and stream envelopes.
package protocol

import "fmt"

// MessageType is the one-byte tag identifying a message variant on the wire.
type MessageType uint8

// Control message types (controller → device). Only the UHID variants are
// interpreted here; every other value travels as Opaque.
const (
	TypeUhidCreate  MessageType = 12
	TypeUhidInput   MessageType = 13
	TypeUhidDestroy MessageType = 14
)

// Device message types (device → controller).
const (
	TypeClipboard    MessageType = 0
	TypeAckClipboard MessageType = 1
	TypeUhidOutput   MessageType = 2
)

// ControlMessage is an inbound command. The concrete variants are UhidCreate,
// UhidInput, UhidDestroy and Opaque.
type ControlMessage interface {
	Type() MessageType
}

// UhidCreate registers a virtual HID device under ID.
type UhidCreate struct {
	ID         uint16
	VendorID   uint16
	ProductID  uint16
	Name       string
	ReportDesc []byte
}

// UhidInput is a synthetic HID input report for the virtual device ID.
// It is the only variant accepted on the datagram transport.
type UhidInput struct {
	ID   uint16
	Data []byte
}

// UhidDestroy unregisters the virtual HID device ID.
type UhidDestroy struct {
	ID uint16
}

// Opaque carries a control message whose grammar is not interpreted here.
type Opaque struct {
	Kind MessageType
	Body []byte
}

func (UhidCreate) Type() MessageType  { return TypeUhidCreate }
func (UhidInput) Type() MessageType   { return TypeUhidInput }
func (UhidDestroy) Type() MessageType { return TypeUhidDestroy }
func (m Opaque) Type() MessageType    { return m.Kind }

// DeviceMessage is an outbound status message. The concrete variants are
// Clipboard, AckClipboard and UhidOutput.
type DeviceMessage interface {
	Type() MessageType
}

// Clipboard carries the device clipboard text.
type Clipboard struct {
	Text string
}

// AckClipboard acknowledges a clipboard update identified by Sequence.
type AckClipboard struct {
	Sequence uint64
}

// UhidOutput is an output report emitted by the virtual HID device ID.
type UhidOutput struct {
	ID   uint16
	Data []byte
}

func (Clipboard) Type() MessageType    { return TypeClipboard }
func (AckClipboard) Type() MessageType { return TypeAckClipboard }
func (UhidOutput) Type() MessageType   { return TypeUhidOutput }

// Describe returns a short human-readable summary of m for logs.
func Describe(m interface{ Type() MessageType }) string {
	switch v := m.(type) {
	case UhidCreate:
		return fmt.Sprintf("UHID_CREATE id=%d vid=%04x pid=%04x name=%q desc=%dB", v.ID, v.VendorID, v.ProductID, v.Name, len(v.ReportDesc))
	case UhidInput:
		return fmt.Sprintf("UHID_INPUT id=%d data=% x", v.ID, v.Data)
	case UhidDestroy:
		return fmt.Sprintf("UHID_DESTROY id=%d", v.ID)
	case Opaque:
		return fmt.Sprintf("type=%d body=%dB", v.Kind, len(v.Body))
	case Clipboard:
		return fmt.Sprintf("CLIPBOARD len=%d", len(v.Text))
	case AckClipboard:
		return fmt.Sprintf("ACK_CLIPBOARD seq=%d", v.Sequence)
	case UhidOutput:
		return fmt.Sprintf("UHID_OUTPUT id=%d data=% x", v.ID, v.Data)
	default:
		return fmt.Sprintf("type=%d", m.Type())
	}
}
