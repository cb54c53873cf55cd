package transport

import (
	"net"
	"sync"

	"github.com/1ureka/ctlmux/internal/util"
	"github.com/pion/webrtc/v4"
)

// DefaultBacklog is how many inbound frames a DatagramReader holds before it
// starts dropping, the way a full UDP socket buffer would.
const DefaultBacklog = 1024

// messageSource is the subset of *webrtc.DataChannel the reader depends on.
type messageSource interface {
	OnMessage(f func(msg webrtc.DataChannelMessage))
	OnClose(f func())
	Close() error
}

// DatagramReader turns DataChannel message callbacks into blocking reads with
// one message per Read, matching *net.UDPConn semantics.
type DatagramReader struct {
	src    messageSource
	msgs   chan []byte
	closed chan struct{}
	once   sync.Once

	onClose func()
}

// newDatagramReader subscribes to src. Messages that arrive while backlog
// frames are already waiting are dropped. onClose, if set, runs once when the
// reader shuts down for any reason.
func newDatagramReader(src messageSource, backlog int, onClose func()) *DatagramReader {
	if backlog <= 0 {
		backlog = DefaultBacklog
	}
	r := &DatagramReader{
		src:     src,
		msgs:    make(chan []byte, backlog),
		closed:  make(chan struct{}),
		onClose: onClose,
	}

	src.OnMessage(func(msg webrtc.DataChannelMessage) {
		select {
		case <-r.closed:
			return
		default:
		}
		select {
		case r.msgs <- msg.Data:
		default:
			util.LogDebug("datagram backlog full, dropping %d bytes", len(msg.Data))
		}
	})
	src.OnClose(r.shutdown)

	return r
}

// Read blocks until a message arrives and copies it into b. A message longer
// than b is truncated. After Close, Read returns net.ErrClosed.
func (r *DatagramReader) Read(b []byte) (int, error) {
	// Closed wins over pending messages so that Close always unblocks.
	select {
	case <-r.closed:
		return 0, net.ErrClosed
	default:
	}

	select {
	case m := <-r.msgs:
		return copy(b, m), nil
	case <-r.closed:
		return 0, net.ErrClosed
	}
}

// Close ends pending and future reads and closes the underlying channel.
func (r *DatagramReader) Close() error {
	r.shutdown()
	return r.src.Close()
}

func (r *DatagramReader) shutdown() {
	r.once.Do(func() {
		close(r.closed)
		if r.onClose != nil {
			r.onClose()
		}
	})
}
