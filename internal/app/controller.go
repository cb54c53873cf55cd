package app

import (
	"bufio"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"

	"github.com/1ureka/ctlmux/internal/config"
	"github.com/1ureka/ctlmux/internal/protocol"
	"github.com/1ureka/ctlmux/internal/signaling"
	"github.com/1ureka/ctlmux/internal/util"
)

// defaultReportDesc describes a vendor-defined device with one 8-byte input
// report and one 8-byte output report.
var defaultReportDesc = []byte{
	0x06, 0x00, 0xFF, // Usage Page (Vendor Defined 0xFF00)
	0x09, 0x01, //       Usage (0x01)
	0xA1, 0x01, //       Collection (Application)
	0x15, 0x00, //         Logical Minimum (0)
	0x26, 0xFF, 0x00, //   Logical Maximum (255)
	0x75, 0x08, //         Report Size (8)
	0x95, 0x08, //         Report Count (8)
	0x09, 0x01, //         Usage (0x01)
	0x81, 0x02, //         Input (Data,Var,Abs)
	0x09, 0x01, //         Usage (0x01)
	0x91, 0x02, //         Output (Data,Var,Abs)
	0xC0, //               End Collection
}

// maxInputLine fits a maximum-size report written as space-separated hex
// pairs, plus the "!" prefix.
const maxInputLine = 3*protocol.MaxPayloadSize + 16

// controllerLinks is the controller's view of a transport pair.
type controllerLinks struct {
	stream       io.ReadWriteCloser
	sendDatagram func(frame []byte) error
	close        func() error
}

// RunController orchestrates the full controller lifecycle:
//  1. Establish the transport pair (direct TCP+UDP, or signaling + WebRTC)
//  2. Register a virtual device over the stream
//  3. Send each hex line of input as a sequenced datagram
//  4. Unregister the device when input ends or ctx is cancelled
func RunController(ctx context.Context, cfg config.Config, input io.Reader) error {
	var links controllerLinks

	switch cfg.Mode {
	case config.ModeWebRTC:
		sess, err := signaling.EstablishAsController(ctx, cfg.Controller.WSURL, cfg.Signaling.STUN)
		if err != nil {
			return fmt.Errorf("failed to establish session: %w", err)
		}
		links = controllerLinks{
			stream:       sess.Stream,
			sendDatagram: sess.Transport.SendDatagram,
			close:        sess.Close,
		}

	default:
		conn, udp, err := dialDirect(ctx, cfg.Controller.TCP, cfg.Controller.UDP)
		if err != nil {
			return err
		}
		links = controllerLinks{
			stream: conn,
			sendDatagram: func(frame []byte) error {
				n, err := udp.Write(frame)
				if err == nil {
					util.Stats.AddSent(n)
				}
				return err
			},
			close: func() error { return errors.Join(conn.Close(), udp.Close()) },
		}
	}

	util.LogSuccess("connected to device")
	return runController(ctx, links, cfg.Controller, input)
}

// runController drives an established link pair.
func runController(ctx context.Context, links controllerLinks, cc config.ControllerConfig, input io.Reader) error {
	defer links.close()

	w := protocol.NewStreamWriter(links.stream)
	write := func(msg protocol.ControlMessage) error {
		n, err := w.WriteMessage(msg)
		if err != nil {
			return fmt.Errorf("write %s: %w", protocol.Describe(msg), err)
		}
		util.Stats.AddSent(n)
		return nil
	}

	if err := write(protocol.UhidCreate{
		ID:         cc.DeviceID,
		Name:       cc.DeviceName,
		ReportDesc: defaultReportDesc,
	}); err != nil {
		return err
	}
	util.LogInfo("registered virtual device %d; enter hex reports, one per line (prefix ! to send over the stream)", cc.DeviceID)

	// Device → controller messages.
	deviceDone := make(chan struct{})
	go func() {
		defer close(deviceDone)
		readDeviceMessages(links.stream)
	}()

	// Input lines are read in their own goroutine so ctx can interrupt.
	// inputErr is set before lines is closed.
	lines := make(chan string)
	var inputErr error
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(input)
		scanner.Buffer(nil, maxInputLine)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		inputErr = scanner.Err()
	}()

	seq := protocol.NewSeqGen()
	var readErr error

loop:
	for {
		select {
		case line, ok := <-lines:
			if !ok {
				readErr = inputErr
				break loop
			}
			if err := sendLine(line, cc.DeviceID, seq, links.sendDatagram, write); err != nil {
				if errors.Is(err, errBadInput) {
					util.LogWarning("%v", err)
					continue
				}
				return err
			}

		case <-deviceDone:
			util.LogWarning("device closed the stream")
			return nil

		case <-ctx.Done():
			break loop
		}
	}

	if err := write(protocol.UhidDestroy{ID: cc.DeviceID}); err != nil {
		return errors.Join(err, readErr)
	}
	util.LogInfo("unregistered virtual device %d", cc.DeviceID)
	if readErr != nil {
		return fmt.Errorf("read input: %w", readErr)
	}
	return nil
}

var errBadInput = errors.New("invalid input line")

// sendLine parses one input line of hex bytes (spaces allowed) and sends it
// as a UhidInput. A leading "!" sends it over the stream instead of as a
// datagram. Blank lines are ignored.
func sendLine(line string, id uint16, seq *protocol.SeqGen, sendDatagram func([]byte) error, write func(protocol.ControlMessage) error) error {
	line = strings.TrimSpace(line)
	reliable := strings.HasPrefix(line, "!")
	line = strings.TrimPrefix(line, "!")
	line = strings.Join(strings.Fields(line), "")
	if line == "" {
		return nil
	}

	data, err := hex.DecodeString(line)
	if err != nil {
		return fmt.Errorf("%w: %v", errBadInput, err)
	}
	msg := protocol.UhidInput{ID: id, Data: data}

	if reliable {
		return write(msg)
	}

	frame, err := protocol.EncodeDatagram(seq.Next(), msg)
	if err != nil {
		return fmt.Errorf("%w: %v", errBadInput, err)
	}
	if err := sendDatagram(frame); err != nil {
		return fmt.Errorf("send datagram: %w", err)
	}
	return nil
}

// readDeviceMessages logs every device message until the stream ends.
func readDeviceMessages(r io.Reader) {
	dr := protocol.NewDeviceReader(r)
	for {
		msg, err := dr.ReadMessage()
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) && !errors.Is(err, io.ErrClosedPipe) {
				util.LogWarning("device stream: %v", err)
			}
			return
		}
		util.LogInfo("device: %s", protocol.Describe(msg))
	}
}
