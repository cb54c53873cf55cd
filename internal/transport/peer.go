package transport

import (
	"github.com/pion/webrtc/v4"
)

// DefaultSTUNServers are used when the caller supplies none. There is no TURN
// server; both peers must be reachable through STUN-discovered addresses.
var DefaultSTUNServers = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
}

// newPeerConnection creates a PeerConnection using the given STUN servers.
func newPeerConnection(stunServers []string) (*webrtc.PeerConnection, error) {
	if len(stunServers) == 0 {
		stunServers = DefaultSTUNServers
	}
	config := webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{URLs: stunServers},
		},
	}
	return webrtc.NewPeerConnection(config)
}

// newDataChannel creates the pre-negotiated datagram channel. It is unordered
// and never retransmits, so it behaves like UDP: frames may be lost, duplicated
// by the application, or arrive out of order. Negotiated mode (ID 0) lets both
// sides create it independently without OnDataChannel.
func newDataChannel(pc *webrtc.PeerConnection) (*webrtc.DataChannel, error) {
	ordered := false
	negotiated := true
	maxRetransmits := uint16(0)
	id := uint16(0)

	return pc.CreateDataChannel("control", &webrtc.DataChannelInit{
		Ordered:        &ordered,
		MaxRetransmits: &maxRetransmits,
		Negotiated:     &negotiated,
		ID:             &id,
	})
}
