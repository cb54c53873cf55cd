package control

import "errors"

var (
	// ErrMalformedFrame marks a datagram that could not be decoded. The
	// datagram listener logs and discards it; the transport stays usable.
	ErrMalformedFrame = errors.New("control: malformed datagram frame")

	// ErrInterrupted is returned by Receive when its context ends before a
	// message is available. The context's own error is wrapped alongside it.
	ErrInterrupted = errors.New("control: receive interrupted")
)
