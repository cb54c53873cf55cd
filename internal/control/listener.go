package control

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"

	"github.com/1ureka/ctlmux/internal/protocol"
	"github.com/1ureka/ctlmux/internal/util"
)

// DefaultDatagramBuffer is the receive buffer size used when Options leaves
// it unset. It fits the largest frame the datagram format can describe.
const DefaultDatagramBuffer = 64 * 1024

// handle wraps a transport handle so that the cancellation watcher, the
// owner and Channel.Close can all close it without double-close errors.
type handle struct {
	c      io.Closer
	once   sync.Once
	err    error
	closed atomic.Bool
}

func (h *handle) close() error {
	h.once.Do(func() {
		h.closed.Store(true)
		h.err = h.c.Close()
	})
	return h.err
}

// watch closes h when ctx is cancelled, unblocking any pending read. The
// watcher exits early once done is closed.
func (h *handle) watch(ctx context.Context, done <-chan struct{}) {
	go func() {
		select {
		case <-ctx.Done():
			h.close()
		case <-done:
		}
	}()
}

// ---------------------------------------------------------------------------
// Datagram listener
// ---------------------------------------------------------------------------

// datagramListener reads frames from the datagram transport, validates and
// parses them, and enqueues the resulting messages in receipt order.
type datagramListener struct {
	conn   DatagramConn
	h      *handle
	parser *FrameParser
	queue  *deliveryQueue
	bufLen int
	log    util.Tagged
	done   chan struct{}
}

// run is the listener goroutine body. It returns on transport error or
// cancellation and never restarts.
func (l *datagramListener) run(ctx context.Context) {
	defer close(l.done)
	l.h.watch(ctx, l.done)

	buf := make([]byte, l.bufLen)
	for {
		n, err := l.conn.Read(buf)
		if err != nil {
			if ctx.Err() != nil || l.h.closed.Load() {
				l.log.Debug("datagram listener interrupted")
			} else {
				l.log.Error("datagram read failed, listener stopped: %v", err)
			}
			return
		}
		util.Stats.AddFrame(n)

		msg, err := l.parser.Parse(buf[:n])
		if err != nil {
			util.Stats.AddMalformed()
			l.log.Warn("discarding datagram (%d bytes): %v", n, err)
			continue
		}
		if msg == nil {
			util.Stats.AddStale()
			last, _ := l.parser.LastSeq()
			l.log.Debug("dropped stale or duplicate datagram (last accepted seq %d)", last)
			continue
		}

		util.Stats.AddAccepted()
		l.queue.push(msg)
	}
}

// ---------------------------------------------------------------------------
// Stream listener
// ---------------------------------------------------------------------------

// MessageReader decodes control messages from the reliable stream. ReadMessage
// returns io.EOF when the stream ends cleanly between messages.
type MessageReader interface {
	ReadMessage() (protocol.ControlMessage, error)
}

// streamListener pulls decoded messages from the reliable stream and enqueues
// them in stream order.
type streamListener struct {
	reader MessageReader
	h      *handle
	queue  *deliveryQueue
	log    util.Tagged
	done   chan struct{}
}

func (l *streamListener) run(ctx context.Context) {
	defer close(l.done)
	l.h.watch(ctx, l.done)

	for {
		msg, err := l.reader.ReadMessage()
		if err != nil {
			switch {
			case errors.Is(err, io.EOF):
				l.log.Debug("stream closed by peer")
			case ctx.Err() != nil || l.h.closed.Load():
				l.log.Debug("stream listener interrupted")
			default:
				l.log.Error("stream read failed, listener stopped: %v", err)
			}
			return
		}

		util.Stats.AddStreamRecv()
		l.queue.push(msg)
	}
}
