package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/wellport/signaling/internal/relay"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Origin checking is handled by middleware
		return true
	},
}

// SignalingHandler upgrades HTTP connections and hands them to the relay.
type SignalingHandler struct {
	relay *relay.Relay
	log   *zap.Logger
}

// NewSignalingHandler creates the WebSocket signaling handler.
func NewSignalingHandler(r *relay.Relay, log *zap.Logger) *SignalingHandler {
	return &SignalingHandler{relay: r, log: log}
}

// HandleSignaling handles WebSocket connections for call signaling.
// Path: /ws/signal/:roomId (room code or id). The connection id is assigned
// here; room membership is established by the join-room event.
func (h *SignalingHandler) HandleSignaling(c *gin.Context) {
	roomIdentifier := c.Param("roomId")
	if roomIdentifier == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "roomId is required"})
		return
	}

	userID := c.Query("userId")
	displayName := c.Query("displayName")
	role := c.Query("role")

	// Validate room exists and has capacity before upgrading.
	roomID, roomMetadata, err := ValidateRoomExists(roomIdentifier)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("failed to upgrade connection", zap.Error(err))
		return
	}

	connectionID := uuid.New().String()
	client := relay.NewClient(connectionID, roomID, conn, h.relay)
	h.relay.Register(client)
	h.relay.Registry().SetIdentity(connectionID, userID, displayName, role)

	h.log.Info("peer connected",
		zap.String("connection_id", connectionID),
		zap.String("room_id", roomID),
		zap.String("code", roomMetadata.Code),
		zap.String("display_name", displayName))

	go client.WritePump()
	go client.ReadPump()
}
