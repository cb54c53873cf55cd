package app

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/1ureka/ctlmux/internal/config"
	"github.com/1ureka/ctlmux/internal/control"
	"github.com/1ureka/ctlmux/internal/protocol"
	"github.com/1ureka/ctlmux/internal/util"
)

// chanDatagram is an in-memory control.DatagramConn.
type chanDatagram struct {
	frames chan []byte
	closed chan struct{}
	once   sync.Once
}

func newChanDatagram() *chanDatagram {
	return &chanDatagram{frames: make(chan []byte, 16), closed: make(chan struct{})}
}

func (d *chanDatagram) Read(b []byte) (int, error) {
	select {
	case f := <-d.frames:
		return copy(b, f), nil
	case <-d.closed:
		return 0, net.ErrClosed
	}
}

func (d *chanDatagram) Close() error {
	d.once.Do(func() { close(d.closed) })
	return nil
}

func TestRegistry(t *testing.T) {
	r := newRegistry()

	if r.create(protocol.UhidCreate{ID: 1, Name: "a"}) {
		t.Fatal("first create reported a replacement")
	}
	if !r.create(protocol.UhidCreate{ID: 1, Name: "b"}) {
		t.Fatal("second create did not report a replacement")
	}
	if dev, ok := r.lookup(1); !ok || dev.Name != "b" {
		t.Fatalf("lookup: %+v, %v", dev, ok)
	}
	if r.count() != 1 {
		t.Fatalf("count: %d", r.count())
	}
	if !r.destroy(1) || r.destroy(1) {
		t.Fatal("destroy should succeed exactly once")
	}
	if _, ok := r.lookup(1); ok {
		t.Fatal("device still registered after destroy")
	}
}

// TestDispatcherEcho registers a device and checks that input for it is
// echoed back as UhidOutput while input for unknown ids is dropped.
func TestDispatcherEcho(t *testing.T) {
	local, remote := net.Pipe()
	defer remote.Close()
	dg := newChanDatagram()

	ch := control.NewChannel(context.Background(), local, dg, control.Options{})
	defer ch.Close()

	d := &dispatcher{ch: ch, echo: true, devices: newRegistry(), log: util.Tag(ch.ID())}

	go func() {
		d.handle(protocol.UhidInput{ID: 9, Data: []byte{0xFF}})
		d.handle(protocol.UhidCreate{ID: 2, Name: "pad"})
		d.handle(protocol.UhidInput{ID: 2, Data: []byte{0x01, 0x02}})
		d.handle(protocol.UhidDestroy{ID: 2})
	}()

	msg, err := protocol.NewDeviceReader(remote).ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	out, ok := msg.(protocol.UhidOutput)
	if !ok || out.ID != 2 || !bytes.Equal(out.Data, []byte{0x01, 0x02}) {
		t.Fatalf("unexpected echo %+v", msg)
	}
}

func TestServeReturnsWhenPeerLeaves(t *testing.T) {
	local, remote := net.Pipe()
	dg := newChanDatagram()

	ch := control.NewChannel(context.Background(), local, dg, control.Options{})
	defer ch.Close()

	errCh := make(chan error, 1)
	go func() { errCh <- serve(context.Background(), ch, false) }()

	w := protocol.NewStreamWriter(remote)
	for _, msg := range []protocol.ControlMessage{
		protocol.UhidCreate{ID: 1, Name: "pad"},
		protocol.UhidDestroy{ID: 1},
	} {
		if _, err := w.WriteMessage(msg); err != nil {
			t.Fatalf("WriteMessage: %v", err)
		}
	}
	remote.Close()
	dg.Close()

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("serve: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not return after both transports closed")
	}
}

func TestServeStopsOnCancel(t *testing.T) {
	local, remote := net.Pipe()
	defer remote.Close()
	dg := newChanDatagram()

	ctx, cancel := context.WithCancel(context.Background())
	ch := control.NewChannel(ctx, local, dg, control.Options{})
	defer ch.Close()

	errCh := make(chan error, 1)
	go func() { errCh <- serve(ctx, ch, false) }()
	cancel()

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("serve: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not return after cancel")
	}
}

func TestSendLine(t *testing.T) {
	testCases := []struct {
		name     string
		line     string
		datagram []byte // payload expected on the datagram path
		stream   []byte // payload expected on the stream path
		err      error
	}{
		{name: "blank", line: "   "},
		{name: "compact", line: "0102ff", datagram: []byte{0x01, 0x02, 0xFF}},
		{name: "spaced", line: " 01 02  ff ", datagram: []byte{0x01, 0x02, 0xFF}},
		{name: "reliable", line: "!0a 0b", stream: []byte{0x0A, 0x0B}},
		{name: "odd length", line: "012", err: errBadInput},
		{name: "not hex", line: "zz", err: errBadInput},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var frames [][]byte
			var written []protocol.ControlMessage
			seq := protocol.NewSeqGen()

			err := sendLine(tc.line, 5, seq,
				func(f []byte) error { frames = append(frames, f); return nil },
				func(m protocol.ControlMessage) error { written = append(written, m); return nil },
			)
			if tc.err != nil {
				if !errors.Is(err, tc.err) {
					t.Fatalf("expected %v, got %v", tc.err, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("sendLine: %v", err)
			}

			switch {
			case tc.datagram != nil:
				if len(frames) != 1 || len(written) != 0 {
					t.Fatalf("got %d frames, %d stream writes", len(frames), len(written))
				}
				if s, _ := protocol.DatagramSeq(frames[0]); s != 1 {
					t.Fatalf("seq: got %d, want 1", s)
				}
				msg, err := protocol.DecodeDatagramBody(frames[0][protocol.SeqSize:])
				if err != nil {
					t.Fatalf("decode: %v", err)
				}
				if in := msg; in.ID != 5 || !bytes.Equal(in.Data, tc.datagram) {
					t.Fatalf("unexpected frame %+v", in)
				}
			case tc.stream != nil:
				if len(frames) != 0 || len(written) != 1 {
					t.Fatalf("got %d frames, %d stream writes", len(frames), len(written))
				}
				if in := written[0].(protocol.UhidInput); !bytes.Equal(in.Data, tc.stream) {
					t.Fatalf("unexpected stream message %+v", in)
				}
			default:
				if len(frames)+len(written) != 0 {
					t.Fatal("blank line produced output")
				}
			}
		})
	}
}

// TestRunControllerLifecycle feeds two report lines and checks the stream
// sees create, the reliable input and destroy, while the other report goes
// out as a datagram.
func TestRunControllerLifecycle(t *testing.T) {
	local, remote := net.Pipe()
	defer remote.Close()

	var mu sync.Mutex
	var frames [][]byte
	links := controllerLinks{
		stream: local,
		sendDatagram: func(f []byte) error {
			mu.Lock()
			defer mu.Unlock()
			frames = append(frames, f)
			return nil
		},
		close: local.Close,
	}

	cc := config.Default().Controller
	cc.DeviceID = 4

	var got []protocol.ControlMessage
	readDone := make(chan error, 1)
	go func() {
		r := protocol.NewStreamReader(remote)
		for {
			msg, err := r.ReadMessage()
			if err != nil {
				if errors.Is(err, io.EOF) {
					err = nil
				}
				readDone <- err
				return
			}
			got = append(got, msg)
		}
	}()

	input := strings.NewReader("01 02\n!03\n")
	if err := runController(context.Background(), links, cc, input); err != nil {
		t.Fatalf("runController: %v", err)
	}

	select {
	case err := <-readDone:
		if err != nil {
			t.Fatalf("stream read: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("stream not closed after runController returned")
	}

	if len(got) != 3 {
		t.Fatalf("got %d stream messages, want 3: %v", len(got), got)
	}
	if c, ok := got[0].(protocol.UhidCreate); !ok || c.ID != 4 || c.Name != cc.DeviceName || len(c.ReportDesc) == 0 {
		t.Fatalf("first message: %+v", got[0])
	}
	if in, ok := got[1].(protocol.UhidInput); !ok || !bytes.Equal(in.Data, []byte{0x03}) {
		t.Fatalf("second message: %+v", got[1])
	}
	if d, ok := got[2].(protocol.UhidDestroy); !ok || d.ID != 4 {
		t.Fatalf("third message: %+v", got[2])
	}

	mu.Lock()
	defer mu.Unlock()
	if len(frames) != 1 {
		t.Fatalf("got %d datagrams, want 1", len(frames))
	}
}

// runControllerOn drives runController over a pipe and returns what the
// device side saw on the stream, the datagrams sent, and the run's error.
func runControllerOn(t *testing.T, input io.Reader) ([]protocol.ControlMessage, [][]byte, error) {
	t.Helper()
	local, remote := net.Pipe()
	defer remote.Close()

	var frames [][]byte
	links := controllerLinks{
		stream:       local,
		sendDatagram: func(f []byte) error { frames = append(frames, f); return nil },
		close:        local.Close,
	}

	var got []protocol.ControlMessage
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		r := protocol.NewStreamReader(remote)
		for {
			msg, err := r.ReadMessage()
			if err != nil {
				return
			}
			got = append(got, msg)
		}
	}()

	err := runController(context.Background(), links, config.Default().Controller, input)
	select {
	case <-readDone:
	case <-time.After(5 * time.Second):
		t.Fatal("stream not closed after runController returned")
	}
	return got, frames, err
}

func TestRunControllerLargeReport(t *testing.T) {
	data := bytes.Repeat([]byte{0xAB}, protocol.MaxPayloadSize)
	line := strings.TrimSpace(strings.Repeat("ab ", len(data)))

	got, frames, err := runControllerOn(t, strings.NewReader(line+"\n"))
	if err != nil {
		t.Fatalf("runController: %v", err)
	}
	if len(frames) != 1 {
		t.Fatalf("got %d datagrams, want 1", len(frames))
	}
	msg, err := protocol.DecodeDatagramBody(frames[0][protocol.SeqSize:])
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !bytes.Equal(msg.Data, data) {
		t.Fatalf("payload: got %d bytes, want %d", len(msg.Data), len(data))
	}
	if len(got) != 2 {
		t.Fatalf("got %d stream messages, want create and destroy", len(got))
	}
}

// TestRunControllerInputTooLong checks that an unreadable input line is
// reported instead of looking like the end of input. The device is still
// unregistered.
func TestRunControllerInputTooLong(t *testing.T) {
	line := strings.Repeat("a", maxInputLine+1)

	got, frames, err := runControllerOn(t, strings.NewReader("01\n"+line+"\n02\n"))
	if !errors.Is(err, bufio.ErrTooLong) {
		t.Fatalf("expected bufio.ErrTooLong, got %v", err)
	}
	if len(frames) != 1 {
		t.Fatalf("got %d datagrams, want 1", len(frames))
	}
	if len(got) != 2 {
		t.Fatalf("got %d stream messages, want 2", len(got))
	}
	if _, ok := got[1].(protocol.UhidDestroy); !ok {
		t.Fatalf("last stream message: %+v", got[1])
	}
}

// TestServeContinuesAfterDatagramClose loses the datagram transport and
// checks that commands still flow over the stream.
func TestServeContinuesAfterDatagramClose(t *testing.T) {
	local, remote := net.Pipe()
	defer remote.Close()
	dg := newChanDatagram()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := control.NewChannel(ctx, local, dg, control.Options{})
	defer ch.Close()

	go serve(ctx, ch, true)

	dg.Close()
	select {
	case <-ch.DatagramDone():
	case <-time.After(5 * time.Second):
		t.Fatal("datagram listener did not stop")
	}

	go func() {
		w := protocol.NewStreamWriter(remote)
		w.WriteMessage(protocol.UhidCreate{ID: 3, Name: "pad"})
		w.WriteMessage(protocol.UhidInput{ID: 3, Data: []byte{0x09}})
	}()

	msg, err := protocol.NewDeviceReader(remote).ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if out, ok := msg.(protocol.UhidOutput); !ok || out.ID != 3 || !bytes.Equal(out.Data, []byte{0x09}) {
		t.Fatalf("unexpected echo %+v", msg)
	}
}
