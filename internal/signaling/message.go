// Package signaling handles the WebSocket-based signaling phase for SDP/ICE
// exchange. Once the DataChannel is open the same WebSocket is handed over to
// carry the reliable control stream.
package signaling

// messageType identifies the kind of signaling message.
type messageType string

const (
	msgTypeOffer     messageType = "offer"
	msgTypeAnswer    messageType = "answer"
	msgTypeCandidate messageType = "candidate"

	// msgTypeReady is the last signaling message a side sends. Everything
	// after it on the WebSocket is control-stream data.
	msgTypeReady messageType = "ready"
)

// message is the JSON structure exchanged over the WebSocket during signaling.
type message struct {
	Type      messageType `json:"type"`
	SDP       string      `json:"sdp,omitempty"`
	Candidate string      `json:"candidate,omitempty"` // JSON-encoded ICECandidateInit
}
