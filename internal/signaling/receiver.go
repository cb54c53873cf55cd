package signaling

import (
	"encoding/json"
	"fmt"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"

	"github.com/1ureka/ctlmux/internal/transport"
	"github.com/1ureka/ctlmux/internal/util"
)

// receiver applies incoming signaling messages to the Transport (private).
type receiver struct {
	tr     *transport.Transport
	conn   *websocket.Conn
	sender *sender
}

// watch reads signaling messages until the peer sends "ready", then returns
// nil without reading further so the WebSocket can be reused as a stream.
func (r *receiver) watch() error {
	for {
		var msg message
		if err := r.conn.ReadJSON(&msg); err != nil {
			return fmt.Errorf("read signaling message: %w", err)
		}

		switch msg.Type {
		// Client side: apply the offer, reply with an answer.
		case msgTypeOffer:
			if err := r.tr.SetRemoteDescription(webrtc.SessionDescription{
				Type: webrtc.SDPTypeOffer, SDP: msg.SDP,
			}); err != nil {
				return err
			}
			if err := r.sender.sendAnswer(); err != nil {
				return err
			}

		// Host side: apply the answer.
		case msgTypeAnswer:
			if err := r.tr.SetRemoteDescription(webrtc.SessionDescription{
				Type: webrtc.SDPTypeAnswer, SDP: msg.SDP,
			}); err != nil {
				return err
			}

		case msgTypeCandidate:
			var init webrtc.ICECandidateInit
			if err := json.Unmarshal([]byte(msg.Candidate), &init); err != nil {
				return fmt.Errorf("parse ICE candidate: %w", err)
			}
			if err := r.tr.AddICECandidate(init); err != nil {
				util.LogWarning("AddICECandidate failed: %v", err)
			}

		case msgTypeReady:
			util.LogDebug("peer finished signaling")
			return nil

		default:
			util.LogDebug("ignoring signaling message %q", msg.Type)
		}
	}
}
