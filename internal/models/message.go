package models

import "encoding/json"

// EventType identifies a signaling wire event.
type EventType string

// Client-emitted events.
const (
	EventJoinRoom     EventType = "join-room"
	EventLeaveRoom    EventType = "leave-room"
	EventOffer        EventType = "offer"
	EventAnswer       EventType = "answer"
	EventICECandidate EventType = "ice-candidate"
	EventCallUser     EventType = "call-user"
	EventAnswerCall   EventType = "answer-call"
	EventRejectCall   EventType = "reject-call"
	EventEndCall      EventType = "end-call"
)

// Server-emitted events.
const (
	EventRoomUsers        EventType = "room-users"
	EventUserConnected    EventType = "user-connected"
	EventUserLeft         EventType = "user-left"
	EventUserDisconnected EventType = "user-disconnected"
	EventIncomingCall     EventType = "incoming-call"
	EventCallAccepted     EventType = "call-accepted"
	EventCallRejected     EventType = "call-rejected"
	EventCallEnded        EventType = "call-ended"
	EventError            EventType = "error"
)

// SignalEnvelope is the unit of relay traffic. The relay never interprets
// Payload; it is forwarded byte for byte to the target connection. From is
// always overwritten with the server-assigned connection id of the sender,
// so a client cannot speak on behalf of another connection.
type SignalEnvelope struct {
	Type    EventType       `json:"type"`
	From    string          `json:"from,omitempty"`
	To      string          `json:"to,omitempty"`
	RoomID  string          `json:"roomId,omitempty"`
	CallID  string          `json:"callId,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// JoinRoomPayload carries participant metadata on join-room.
type JoinRoomPayload struct {
	UserID   string `json:"userId"`
	UserName string `json:"userName,omitempty"`
	Role     string `json:"role,omitempty"`
}

// RoomUser is one member entry in a room-users response.
type RoomUser struct {
	ConnectionID string `json:"connectionId"`
	UserID       string `json:"userId"`
	UserName     string `json:"userName,omitempty"`
}

// RoomUsersPayload is sent to a joiner listing the members already present.
type RoomUsersPayload struct {
	RoomID string     `json:"roomId"`
	Users  []RoomUser `json:"users"`
}

// PresencePayload identifies a connection in user-connected, user-left and
// user-disconnected notifications.
type PresencePayload struct {
	ConnectionID string `json:"connectionId"`
	UserID       string `json:"userId,omitempty"`
	UserName     string `json:"userName,omitempty"`
}

// SessionDescriptionPayload wraps an SDP blob inside offer/answer envelopes.
// The relay treats it as opaque; only the call client decodes it.
type SessionDescriptionPayload struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// ICECandidatePayload wraps one trickled candidate.
type ICECandidatePayload struct {
	Candidate        string  `json:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}

// deliveredTypes maps a client request event to the event name it is
// delivered under. Offer, answer and ice-candidate keep their name; the
// call-lifecycle requests are delivered as their notification counterparts.
var deliveredTypes = map[EventType]EventType{
	EventOffer:        EventOffer,
	EventAnswer:       EventAnswer,
	EventICECandidate: EventICECandidate,
	EventCallUser:     EventIncomingCall,
	EventAnswerCall:   EventCallAccepted,
	EventRejectCall:   EventCallRejected,
	EventEndCall:      EventCallEnded,
}

// DeliveredType returns the event name an inbound request is forwarded
// under, and whether the event is relayable at all.
func DeliveredType(t EventType) (EventType, bool) {
	out, ok := deliveredTypes[t]
	return out, ok
}
