package signaling

import (
	"encoding/json"
	"fmt"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/drop/internal/protocol"
)

// sender turns local negotiation steps into relay messages for one session.
type sender struct {
	peer         peer
	conn         *conn
	connectionID string
}

func (s *sender) sendPayload(t protocol.MessageType, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", t, err)
	}
	return s.conn.send(&protocol.Message{
		Type:         t,
		ConnectionID: s.connectionID,
		Payload:      payload,
	})
}

// sendOffer creates an SDP offer, sets it as local description, and sends it.
func (s *sender) sendOffer() error {
	offer, err := s.peer.CreateOffer()
	if err != nil {
		return fmt.Errorf("create offer: %w", err)
	}
	if err := s.peer.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("set local offer: %w", err)
	}
	return s.sendPayload(protocol.MsgTypeOffer, offer)
}

// sendAnswer creates an SDP answer, sets it as local description, and sends it.
func (s *sender) sendAnswer() error {
	answer, err := s.peer.CreateAnswer()
	if err != nil {
		return fmt.Errorf("create answer: %w", err)
	}
	if err := s.peer.SetLocalDescription(answer); err != nil {
		return fmt.Errorf("set local answer: %w", err)
	}
	return s.sendPayload(protocol.MsgTypeAnswer, answer)
}

// sendCandidate trickles one local ICE candidate.
func (s *sender) sendCandidate(c webrtc.ICECandidateInit) error {
	return s.sendPayload(protocol.MsgTypeCandidate, c)
}
