package relay

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MessageType names a frame on the relay channel.
type MessageType string

const (
	TypePing            MessageType = "PING_EXTENSION"
	TypeLoaded          MessageType = "EXTENSION_LOADED"
	TypeForwardRequest  MessageType = "FORWARD_WEBHOOK_REQUEST"
	TypeForwardResponse MessageType = "FORWARD_WEBHOOK_RESPONSE"
)

// Handshake headers sent by the agent when dialing the hub.
const (
	HeaderAgentID   = "X-Relay-Agent"
	HeaderTimestamp = "X-Relay-Timestamp"
	HeaderSignature = "X-Relay-Signature"
)

// maxMessageBytes bounds a single frame in either direction.
const maxMessageBytes = 8 << 20

var (
	ErrNotConnected = errors.New("relay agent not connected")
	ErrAgentGone    = errors.New("relay agent disconnected")
)

// Message is the envelope for every frame.
type Message struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func newMessage(t MessageType, payload any) (Message, error) {
	if payload == nil {
		return Message{Type: t}, nil
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("encoding %s payload: %w", t, err)
	}
	return Message{Type: t, Payload: b}, nil
}
