package app

import (
	"context"
	"fmt"
	"io"

	"github.com/1ureka/ctlmux/internal/config"
	"github.com/1ureka/ctlmux/internal/control"
	"github.com/1ureka/ctlmux/internal/protocol"
	"github.com/1ureka/ctlmux/internal/signaling"
	"github.com/1ureka/ctlmux/internal/util"
)

// RunDevice orchestrates the full device lifecycle:
//  1. Establish the transport pair (direct TCP+UDP, or signaling + WebRTC)
//  2. Build a control channel over it
//  3. Dispatch received commands until the controller goes away or ctx ends
func RunDevice(ctx context.Context, cfg config.Config) error {
	var (
		stream   io.ReadWriteCloser
		datagram control.DatagramConn
	)

	switch cfg.Mode {
	case config.ModeWebRTC:
		sess, err := signaling.EstablishAsDevice(ctx, signaling.Options{
			Listen:    cfg.Signaling.Listen,
			PIN:       cfg.Signaling.PIN,
			PINLength: cfg.Signaling.PINLength,
			STUN:      cfg.Signaling.STUN,
		})
		if err != nil {
			return fmt.Errorf("failed to establish session: %w", err)
		}
		defer sess.Close()
		stream, datagram = sess.Stream, sess.Transport.Datagrams()

	default:
		conn, udp, err := acceptDirect(ctx, cfg.Device.TCP, cfg.Device.UDP)
		if err != nil {
			return err
		}
		defer conn.Close()
		defer udp.Close()
		stream, datagram = conn, udp
	}

	ch := control.NewChannel(ctx, stream, datagram, control.Options{
		DatagramBuffer: cfg.Device.DatagramBuffer,
	})
	defer ch.Close()

	util.LogSuccess("control channel %s ready", ch.ID())
	return serve(ctx, ch, cfg.Device.Echo)
}

// serve is the dispatch loop: the single consumer of ch. It returns nil when
// ctx is cancelled or both listeners have stopped and the queue is drained.
func serve(ctx context.Context, ch *control.Channel, echo bool) error {
	d := &dispatcher{ch: ch, echo: echo, devices: newRegistry(), log: util.Tag(ch.ID())}

	// Receive keeps blocking after both listeners stop, so interrupt it when
	// the channel is done.
	rctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-ch.Done():
			cancel()
		case <-rctx.Done():
		}
	}()

	// Each listener stops on its own; report the first one so a half-open
	// channel is visible. Shutdown stops both and is not reported.
	go func() {
		var msg string
		select {
		case <-ch.StreamDone():
			msg = "stream listener stopped, only datagrams are received"
		case <-ch.DatagramDone():
			msg = "datagram listener stopped, only stream commands are received"
		case <-rctx.Done():
			return
		}
		if ctx.Err() == nil {
			d.log.Warn("%s", msg)
		}
	}()

	for {
		msg, err := ch.Receive(rctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			break
		}
		d.handle(msg)
	}

	// Both listeners are gone; whatever is still queued was received before
	// that and is handled in order.
	for ch.Pending() > 0 {
		msg, err := ch.Receive(ctx)
		if err != nil {
			return nil
		}
		d.handle(msg)
	}

	d.log.Info("controller disconnected, %d virtual devices left registered", d.devices.count())
	return nil
}

// dispatcher applies control messages to the device state.
type dispatcher struct {
	ch      *control.Channel
	echo    bool
	devices *registry
	log     util.Tagged
}

func (d *dispatcher) handle(msg protocol.ControlMessage) {
	switch m := msg.(type) {
	case protocol.UhidCreate:
		if d.devices.create(m) {
			d.log.Warn("replacing virtual device %d", m.ID)
		}
		d.log.Info("%s", protocol.Describe(m))

	case protocol.UhidInput:
		dev, ok := d.devices.lookup(m.ID)
		if !ok {
			d.log.Warn("input for unknown virtual device %d dropped", m.ID)
			return
		}
		d.log.Debug("%s (%s)", protocol.Describe(m), dev.Name)
		if d.echo {
			if err := d.ch.Send(protocol.UhidOutput{ID: m.ID, Data: m.Data}); err != nil {
				d.log.Warn("echo failed: %v", err)
			}
		}

	case protocol.UhidDestroy:
		if !d.devices.destroy(m.ID) {
			d.log.Warn("destroy for unknown virtual device %d", m.ID)
			return
		}
		d.log.Info("%s", protocol.Describe(m))

	default:
		d.log.Debug("unhandled control message %s", protocol.Describe(msg))
	}
}
