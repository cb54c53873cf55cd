package transport

import (
	"context"
	"sync/atomic"

	"github.com/1ureka/ctlmux/internal/util"
)

const (
	highWaterMark  = 256 * 1024 // drop frames while bufferedAmount exceeds this
	lowWaterMark   = 64 * 1024  // congestion ends when bufferedAmount falls below this
	sendBufferSize = 64         // frames held while the DataChannel is not yet open
)

// frameSink is the subset of *webrtc.DataChannel the sender writes to.
type frameSink interface {
	Send(data []byte) error
	BufferedAmount() uint64
	SetBufferedAmountLowThreshold(th uint64)
	OnBufferedAmountLow(f func())
}

// sender is the single writer of datagram frames to a DataChannel.
//
// Input reports are only worth sending while fresh, so the sender never
// waits on a congested channel: frames that arrive while the channel buffer
// is above highWaterMark, or while the inbox is full, are dropped and
// counted. The next report supersedes them.
type sender struct {
	inbox     chan []byte
	congested atomic.Bool
	dropped   atomic.Int64
}

// newSender wires the congestion callback on sink and starts the write loop,
// which waits for openSignal and exits when ctx is cancelled.
func newSender(ctx context.Context, sink frameSink, openSignal <-chan struct{}) *sender {
	s := &sender{inbox: make(chan []byte, sendBufferSize)}

	sink.SetBufferedAmountLowThreshold(uint64(lowWaterMark))
	sink.OnBufferedAmountLow(func() {
		if s.congested.CompareAndSwap(true, false) {
			util.LogDebug("datagram congestion cleared, %d frames dropped so far", s.dropped.Load())
		}
	})

	go s.loop(ctx, sink, openSignal)
	return s
}

func (s *sender) loop(ctx context.Context, sink frameSink, openSignal <-chan struct{}) {
	select {
	case <-openSignal:
	case <-ctx.Done():
		return
	}

	for {
		select {
		case frame := <-s.inbox:
			if s.congested.Load() || sink.BufferedAmount() > uint64(highWaterMark) {
				if !s.congested.Swap(true) {
					util.LogDebug("datagram channel congested, dropping frames")
				}
				s.dropped.Add(1)
				continue
			}

			if err := sink.Send(frame); err != nil {
				util.LogError("failed to send datagram (%d bytes): %v", len(frame), err)
				return
			}
			util.Stats.AddSent(len(frame))

		case <-ctx.Done():
			return
		}
	}
}

// send hands frame to the write loop without blocking. It returns
// ErrTransportClosed once ctx is done; a frame that finds the inbox full is
// dropped.
func (s *sender) send(ctx context.Context, frame []byte) error {
	if ctx.Err() != nil {
		return ErrTransportClosed
	}
	select {
	case s.inbox <- frame:
	default:
		s.dropped.Add(1)
	}
	return nil
}
