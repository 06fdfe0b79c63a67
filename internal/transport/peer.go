package transport

import (
	"github.com/pion/webrtc/v4"
)

// DefaultICEServers are used for ICE candidate gathering when none are
// configured. No TURN: a transfer either goes direct or fails.
var DefaultICEServers = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
}

// newPeerConnection creates a PeerConnection configured with the given ICE
// server URLs. A nil list selects DefaultICEServers; an empty, non-nil list
// gathers host candidates only.
func newPeerConnection(iceServers []string, loopback bool) (*webrtc.PeerConnection, error) {
	if iceServers == nil {
		iceServers = DefaultICEServers
	}

	var config webrtc.Configuration
	if len(iceServers) > 0 {
		config.ICEServers = []webrtc.ICEServer{
			{URLs: iceServers},
		}
	}

	var settingEngine webrtc.SettingEngine
	settingEngine.SetIncludeLoopbackCandidate(loopback)

	api := webrtc.NewAPI(webrtc.WithSettingEngine(settingEngine))
	return api.NewPeerConnection(config)
}

// newDataChannel creates a pre-negotiated, ordered and reliable DataChannel
// on the given PeerConnection. Negotiated mode (ID 0) lets both sides create
// the channel independently without relying on OnDataChannel. Ordered
// delivery is what the chunk framing depends on.
func newDataChannel(pc *webrtc.PeerConnection) (*webrtc.DataChannel, error) {
	ordered := true
	negotiated := true
	id := uint16(0)

	return pc.CreateDataChannel("drop", &webrtc.DataChannelInit{
		Ordered:    &ordered,
		Negotiated: &negotiated,
		ID:         &id,
	})
}
