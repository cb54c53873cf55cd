package signaling

import (
	"errors"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/1ureka/ctlmux/internal/transport"
)

// errHandedOff is returned when signaling is attempted after "ready" was sent.
var errHandedOff = errors.New("signaling: websocket already handed off")

// sender serializes outgoing signaling messages to the WebSocket (private).
//
// SDP operations hold mu from SetLocalDescription until the description is on
// the wire, so a trickled candidate can never overtake its offer or answer.
type sender struct {
	tr        *transport.Transport
	conn      *websocket.Conn
	mu        sync.Mutex
	handedOff bool
}

// sendLocked writes a signaling message; the caller holds mu.
func (s *sender) sendLocked(msg message) error {
	if s.handedOff {
		return errHandedOff
	}
	return s.conn.WriteJSON(msg)
}

// send writes a signaling message to the WebSocket, guarded by a mutex.
func (s *sender) send(msg message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sendLocked(msg)
}

// sendOffer creates an SDP offer, sets it as local description, and sends it.
func (s *sender) sendOffer() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	offer, err := s.tr.CreateOffer()
	if err != nil {
		return err
	}

	if err := s.tr.SetLocalDescription(offer); err != nil {
		return err
	}

	return s.sendLocked(message{Type: msgTypeOffer, SDP: offer.SDP})
}

// sendAnswer creates an SDP answer, sets it as local description, and sends it.
func (s *sender) sendAnswer() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	answer, err := s.tr.CreateAnswer()
	if err != nil {
		return err
	}

	if err := s.tr.SetLocalDescription(answer); err != nil {
		return err
	}

	return s.sendLocked(message{Type: msgTypeAnswer, SDP: answer.SDP})
}

// sendCandidate sends an ICE candidate message over the WebSocket.
func (s *sender) sendCandidate(candidate string) error {
	return s.send(message{Type: msgTypeCandidate, Candidate: candidate})
}

// sendReady sends the final signaling message. Later sends fail with
// errHandedOff, which keeps late ICE candidates out of the control stream.
func (s *sender) sendReady() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.sendLocked(message{Type: msgTypeReady}); err != nil {
		return err
	}
	s.handedOff = true
	return nil
}
