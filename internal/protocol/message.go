// Package protocol defines the wire formats shared by the relay and the
// endpoints: the JSON signaling envelope carried over WebSocket and the
// framing used on the direct DataChannel.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMetadataParse reports a non-JSON or schema-violating signaling or
// framing message.
var ErrMetadataParse = errors.New("malformed message")

// MessageType identifies the kind of signaling message.
type MessageType string

// Endpoint → relay.
const (
	MsgTypeRegister  MessageType = "register"
	MsgTypeJoin      MessageType = "join"
	MsgTypeOffer     MessageType = "offer"
	MsgTypeAnswer    MessageType = "answer"
	MsgTypeCandidate MessageType = "candidate"
	MsgTypePing      MessageType = "ping"
)

// Relay → endpoint.
const (
	MsgTypeWelcome          MessageType = "welcome"
	MsgTypeRegistered       MessageType = "registered"
	MsgTypeJoined           MessageType = "joined"
	MsgTypePeerJoined       MessageType = "peer-joined"
	MsgTypePeerDisconnected MessageType = "peer-disconnected"
	MsgTypePong             MessageType = "pong"
	MsgTypeError            MessageType = "error"
)

// Message is the JSON structure exchanged over the signaling WebSocket.
// Payload is opaque to the relay: for offer/answer it holds a
// SessionDescription, for candidate an ICECandidateInit.
type Message struct {
	Type         MessageType     `json:"type"`
	ConnectionID string          `json:"connectionId,omitempty"`
	EndpointID   string          `json:"endpointId,omitempty"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	Message      string          `json:"message,omitempty"`
}

// IsNegotiation reports whether t is relayed between session members.
func (t MessageType) IsNegotiation() bool {
	return t == MsgTypeOffer || t == MsgTypeAnswer || t == MsgTypeCandidate
}

// DecodeMessage parses a signaling message and checks that it carries a type.
func DecodeMessage(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMetadataParse, err)
	}
	if msg.Type == "" {
		return nil, fmt.Errorf("%w: missing type", ErrMetadataParse)
	}
	return &msg, nil
}

// EncodeMessage serializes a signaling message.
func EncodeMessage(msg *Message) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode %s message: %w", msg.Type, err)
	}
	return data, nil
}
