package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// Type identifies a signaling message kind.
type Type string

const (
	// Client to server.
	TypeJoinRoom  Type = "join-room"
	TypeLeaveRoom Type = "leave-room"

	// Relayed point-to-point between two participants.
	TypeOffer        Type = "offer"
	TypeAnswer       Type = "answer"
	TypeICECandidate Type = "ice-candidate"

	// Broadcast within a room.
	TypeChatMessage      Type = "chat-message"
	TypeToggleAudio      Type = "toggle-audio"
	TypeToggleVideo      Type = "toggle-video"
	TypeStartScreenShare Type = "start-screen-share"
	TypeStopScreenShare  Type = "stop-screen-share"

	// Server to client.
	TypeRoomUsers  Type = "room-users"
	TypeUserJoined Type = "user-joined"
	TypeUserLeft   Type = "user-left"
)

// Envelope is the wire format for every signaling message. The payload is
// decoded exactly once, at the transport boundary, into the struct matching
// the type.
type Envelope struct {
	Type    Type            `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewEnvelope marshals payload and wraps it with the given type.
func NewEnvelope(t Type, payload any) (*Envelope, error) {
	if payload == nil {
		return &Envelope{Type: t}, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", t, err)
	}
	return &Envelope{Type: t, Payload: data}, nil
}

// MustEnvelope is NewEnvelope for payload types that cannot fail to marshal.
func MustEnvelope(t Type, payload any) *Envelope {
	env, err := NewEnvelope(t, payload)
	if err != nil {
		panic(err)
	}
	return env
}

// Decode unmarshals the payload into v.
func (e *Envelope) Decode(v any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("%s: empty payload", e.Type)
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.Type, err)
	}
	return nil
}

// UserInfo describes one participant as seen by its peers.
type UserInfo struct {
	ParticipantID string `json:"participantId"`
	Name          string `json:"name"`
	Role          string `json:"role"`
}

// JoinRoom is the first message a client sends after connecting.
type JoinRoom struct {
	RoomID        string `json:"roomId"`
	ParticipantID string `json:"participantId"`
	Name          string `json:"name"`
	Role          string `json:"role"`
}

// RoomUsers is the membership snapshot sent only to the joiner.
type RoomUsers struct {
	Users []UserInfo `json:"users"`
}

// Signal carries an SDP description or an ICE candidate between two specific
// participants. The body is relayed opaque; only the endpoints interpret it.
type Signal struct {
	SenderID    string          `json:"senderId,omitempty"`
	TargetID    string          `json:"targetId"`
	Description json.RawMessage `json:"sdp,omitempty"`
	Candidate   json.RawMessage `json:"candidate,omitempty"`
}

// ChatMessage is room-wide text chat.
type ChatMessage struct {
	Text       string    `json:"text"`
	SenderID   string    `json:"senderId,omitempty"`
	SenderName string    `json:"senderName,omitempty"`
	Role       string    `json:"role,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// TrackToggle is the advisory mute-state notification for audio or video;
// the message type distinguishes which track it refers to.
type TrackToggle struct {
	ParticipantID string `json:"participantId,omitempty"`
	Enabled       bool   `json:"enabled"`
}

// ScreenShare is the advisory screen-share-state notification.
type ScreenShare struct {
	ParticipantID string `json:"participantId,omitempty"`
}

// UserLeft notifies remaining members of a departure.
type UserLeft struct {
	ParticipantID string `json:"participantId"`
	Name          string `json:"name"`
}
