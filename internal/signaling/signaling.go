package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
	"github.com/pterm/pterm"

	"github.com/1ureka/ctlmux/internal/transport"
	"github.com/1ureka/ctlmux/internal/util"
)

// ErrInvalidPIN is returned to a controller whose PIN the device rejected.
var ErrInvalidPIN = errors.New("signaling: invalid PIN")

// Options configures the device side of signaling.
type Options struct {
	Listen    string   // WebSocket listen address, ":0" for a random port
	PIN       string   // fixed PIN; generated when empty
	PINLength int      // length of a generated PIN
	STUN      []string // STUN server URLs, defaults when empty
}

// Session is the result of a successful signaling phase: a WebRTC transport
// for datagrams and the signaling WebSocket reused as the reliable stream.
type Session struct {
	Transport *transport.Transport
	Stream    *transport.WSStream
}

// Close shuts down both halves of the session.
func (s *Session) Close() error {
	return errors.Join(s.Stream.Close(), s.Transport.Close())
}

// EstablishAsDevice executes the full device-side signaling flow:
//  1. Start a WS server and print the address and PIN
//  2. Wait for the controller to connect
//  3. Create a Transport
//  4. Send the Offer, exchange ICE candidates
//  5. Wait for the DataChannel and for both sides to send "ready"
//  6. Return the Transport and the WebSocket as a stream
func EstablishAsDevice(ctx context.Context, opts Options) (*Session, error) {
	pin := opts.PIN
	if pin == "" {
		pin = generatePIN(opts.PINLength)
	}

	// 1. Start WS server.
	srv := newServer(pin)
	addr, err := srv.start(opts.Listen)
	if err != nil {
		return nil, err
	}
	defer srv.close()

	pterm.DefaultBox.WithTitle("WebSocket Signaling Server").Println(
		fmt.Sprintf("Port : %d\nPIN  : %s\nURL  : ws://<host>:%d/ws?pin=%s", addr.Port, pin, addr.Port, pin))
	util.LogInfo("waiting for controller on %s", addr)

	// 2. Wait for controller WS connection.
	wsConn, err := srv.waitForClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to wait for controller: %w", err)
	}
	util.LogInfo("controller connected from %s", wsConn.RemoteAddr())

	sess, err := establish(ctx, wsConn, opts.STUN, true)
	if err != nil {
		wsConn.Close()
		return nil, err
	}
	return sess, nil
}

// EstablishAsController executes the full controller-side signaling flow:
//  1. Connect to the device's WS server
//  2. Create a Transport
//  3. Answer the Offer, exchange ICE candidates
//  4. Wait for the DataChannel and for both sides to send "ready"
//  5. Return the Transport and the WebSocket as a stream
func EstablishAsController(ctx context.Context, wsURL string, stun []string) (*Session, error) {
	// 1. Connect to WS server.
	util.LogInfo("connecting to device at %s", redactPIN(wsURL))
	wsConn, err := connect(ctx, wsURL)
	if err != nil {
		return nil, err
	}

	sess, err := establish(ctx, wsConn, stun, false)
	if err != nil {
		wsConn.Close()
		return nil, err
	}
	return sess, nil
}

// establish runs the SDP/ICE exchange and the ready handoff on wsConn. The
// offerer is the device.
func establish(ctx context.Context, wsConn *websocket.Conn, stun []string, offerer bool) (*Session, error) {
	// Create Transport.
	tr, err := transport.NewTransport(ctx, stun)
	if err != nil {
		return nil, fmt.Errorf("failed to create Transport: %w", err)
	}

	// Assemble sender and receiver.
	s := &sender{tr: tr, conn: wsConn}
	r := &receiver{tr: tr, conn: wsConn, sender: s}

	// Forward local ICE candidates via sender.
	tr.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c != nil {
			data, _ := json.Marshal(c.ToJSON())
			// Best-effort: fails with errHandedOff once the stream took over.
			if err := s.sendCandidate(string(data)); err != nil && !errors.Is(err, errHandedOff) {
				util.LogDebug("send ICE candidate: %v", err)
			}
		}
	})

	// Start receiver loop. It returns nil once the peer sent "ready".
	errCh := make(chan error, 1)
	go func() {
		errCh <- r.watch()
	}()

	fail := func(err error) (*Session, error) {
		tr.Close()
		return nil, err
	}

	if offerer {
		if err := s.sendOffer(); err != nil {
			return fail(fmt.Errorf("failed to send Offer: %w", err))
		}
	}

	// Phase 1: wait for the local DataChannel. The peer may finish first.
	peerReady := false
	select {
	case <-tr.Ready():
	case err := <-errCh:
		if err != nil {
			return fail(fmt.Errorf("signaling failed: %w", err))
		}
		peerReady = true
		select {
		case <-tr.Ready():
		case <-ctx.Done():
			return fail(ctx.Err())
		}
	case <-ctx.Done():
		return fail(ctx.Err())
	}

	if err := s.sendReady(); err != nil {
		return fail(fmt.Errorf("failed to send ready: %w", err))
	}

	// Phase 2: wait for the peer's ready, after which the WebSocket carries
	// only control-stream data.
	if !peerReady {
		select {
		case err := <-errCh:
			if err != nil {
				return fail(fmt.Errorf("signaling failed: %w", err))
			}
		case <-ctx.Done():
			return fail(ctx.Err())
		}
	}

	util.LogDebug("DataChannel established, WebSocket handed over to the control stream")
	return &Session{Transport: tr, Stream: transport.NewWSStream(wsConn)}, nil
}

// redactPIN hides the pin query parameter of a signaling URL for logs.
func redactPIN(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	q := u.Query()
	if q.Has("pin") {
		q.Set("pin", "****")
		u.RawQuery = q.Encode()
	}
	return u.String()
}
