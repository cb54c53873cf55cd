// Package control merges commands arriving over a reliable stream and an
// unreliable datagram transport into one ordered queue, and writes device
// messages back over the stream.
package control

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/1ureka/ctlmux/internal/protocol"
	"github.com/1ureka/ctlmux/internal/util"
	"github.com/google/uuid"
)

// DatagramConn is a message-oriented transport: each Read returns exactly one
// datagram. Close must unblock a pending Read. *net.UDPConn satisfies it.
type DatagramConn interface {
	Read(b []byte) (int, error)
	Close() error
}

// MessageWriter encodes device messages onto the reliable stream and reports
// the number of bytes written.
type MessageWriter interface {
	WriteMessage(msg protocol.DeviceMessage) (int, error)
}

// Options tunes a Channel. The zero value is valid.
type Options struct {
	// DatagramBuffer is the datagram receive buffer size in bytes.
	// Longer datagrams are truncated by the transport and usually fail to parse.
	DatagramBuffer int
}

// Channel is the control channel of one controller session.
//
// Two listener goroutines feed a shared queue: one reads the reliable stream,
// the other the datagram transport. Each stops on its own (end of stream, I/O
// error or cancellation) and is never restarted. Messages from one source are
// received in the order they arrived; there is no ordering across sources.
type Channel struct {
	id  string
	log util.Tagged

	queue  *deliveryQueue
	writer MessageWriter
	sendMu sync.Mutex

	stream   *handle
	datagram *handle

	streamDone   chan struct{}
	datagramDone chan struct{}
	done         chan struct{}
}

// NewChannel builds a Channel over the given transport handles and starts both
// listeners. It performs no blocking I/O.
//
// Cancelling ctx closes both handles, which stops the listeners. The caller
// still owns the handles and may close them directly with the same effect.
func NewChannel(ctx context.Context, stream io.ReadWriteCloser, datagram DatagramConn, opts Options) *Channel {
	return newChannel(ctx, protocol.NewStreamReader(stream), protocol.NewDeviceWriter(stream), stream, datagram, opts)
}

// newChannel is NewChannel with the stream codec injected.
func newChannel(ctx context.Context, reader MessageReader, writer MessageWriter, stream io.Closer, datagram DatagramConn, opts Options) *Channel {
	if opts.DatagramBuffer <= 0 {
		opts.DatagramBuffer = DefaultDatagramBuffer
	}

	id := uuid.NewString()
	c := &Channel{
		id:           id,
		log:          util.Tag(id),
		queue:        newDeliveryQueue(),
		writer:       writer,
		stream:       &handle{c: stream},
		datagram:     &handle{c: datagram},
		streamDone:   make(chan struct{}),
		datagramDone: make(chan struct{}),
		done:         make(chan struct{}),
	}

	sl := &streamListener{
		reader: reader,
		h:      c.stream,
		queue:  c.queue,
		log:    c.log,
		done:   c.streamDone,
	}
	dl := &datagramListener{
		conn:   datagram,
		h:      c.datagram,
		parser: NewFrameParser(),
		queue:  c.queue,
		bufLen: opts.DatagramBuffer,
		log:    c.log,
		done:   c.datagramDone,
	}

	go sl.run(ctx)
	go dl.run(ctx)

	go func() {
		<-c.streamDone
		<-c.datagramDone
		c.log.Debug("both listeners stopped")
		close(c.done)
	}()

	c.log.Info("control channel started")
	return c
}

// Receive blocks until a message is available and returns it. If ctx ends
// first, the error wraps both ErrInterrupted and ctx.Err() and no message is
// consumed.
//
// Receive keeps waiting after both listeners have stopped; select on Done to
// detect that.
func (c *Channel) Receive(ctx context.Context) (protocol.ControlMessage, error) {
	return c.queue.pop(ctx)
}

// Send writes msg to the reliable stream synchronously. Concurrent calls are
// serialized. Write errors are returned as-is, wrapped with the message kind.
func (c *Channel) Send(msg protocol.DeviceMessage) error {
	c.sendMu.Lock()
	n, err := c.writer.WriteMessage(msg)
	c.sendMu.Unlock()

	if err != nil {
		return fmt.Errorf("send %s: %w", protocol.Describe(msg), err)
	}
	util.Stats.AddDeviceSent(n)
	return nil
}

// Close closes both transport handles and waits for the listeners to exit.
func (c *Channel) Close() error {
	err := errors.Join(c.stream.close(), c.datagram.close())
	<-c.done
	return err
}

// ID returns the channel's unique identifier.
func (c *Channel) ID() string { return c.id }

// Pending returns the number of received messages not yet taken by Receive.
func (c *Channel) Pending() int { return c.queue.size() }

// StreamDone is closed when the stream listener has exited.
func (c *Channel) StreamDone() <-chan struct{} { return c.streamDone }

// DatagramDone is closed when the datagram listener has exited.
func (c *Channel) DatagramDone() <-chan struct{} { return c.datagramDone }

// Done is closed once both listeners have exited.
func (c *Channel) Done() <-chan struct{} { return c.done }
