package models

import "time"

// RoomMetadata stores information about a consultation room.
type RoomMetadata struct {
	ID               string    `json:"id"`
	Code             string    `json:"code"` // Short, shareable room code (e.g., "KD7P2X")
	CreatorID        string    `json:"creatorId"`
	CreatedAt        time.Time `json:"createdAt"`
	MaxParticipants  int       `json:"maxParticipants"`
	ParticipantCount int       `json:"participantCount"`
}

// CreateRoomRequest is the request body for creating a room.
type CreateRoomRequest struct {
	MaxParticipants int `json:"maxParticipants" binding:"omitempty,min=2,max=16"`
}

// CreateRoomResponse is the response for creating a room.
type CreateRoomResponse struct {
	RoomID string `json:"roomId"`
	Code   string `json:"code"`
}

// StoreSocketIDRequest maps a portal user to a live connection id.
type StoreSocketIDRequest struct {
	UserID   string `json:"userId" binding:"required"`
	SocketID string `json:"socketId" binding:"required"`
}

// OnlineUser is one entry in the online-users / online-doctors responses.
type OnlineUser struct {
	ConnectionID string    `json:"connectionId"`
	UserID       string    `json:"userId"`
	UserName     string    `json:"userName,omitempty"`
	Role         string    `json:"role,omitempty"`
	RoomID       string    `json:"roomId,omitempty"`
	ConnectedAt  time.Time `json:"connectedAt"`
}

// HealthResponse is the shape of GET /health.
type HealthResponse struct {
	Status         string `json:"status"`
	ConnectedUsers int    `json:"connectedUsers"`
	Rooms          int    `json:"rooms"`
	Timestamp      int64  `json:"timestamp"`
}
