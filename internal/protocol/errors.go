package protocol

import "errors"

var (
	ErrTruncated       = errors.New("protocol: truncated data")
	ErrUnsupportedType = errors.New("protocol: unsupported message type")
	ErrBodyTooLarge    = errors.New("protocol: body too large")
	ErrInvalidLength   = errors.New("protocol: invalid length")
	ErrTrailingBytes   = errors.New("protocol: trailing bytes in body")
)
