package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/wellport/signaling/internal/models"
	"github.com/wellport/signaling/internal/redis"
	"github.com/wellport/signaling/internal/registry"
)

const socketIDTTL = 24 * time.Hour

// PresenceHandler exposes the presence registry to the portal backend.
type PresenceHandler struct {
	reg *registry.Registry
	log *zap.Logger
}

// NewPresenceHandler creates the presence REST handler.
func NewPresenceHandler(reg *registry.Registry, log *zap.Logger) *PresenceHandler {
	return &PresenceHandler{reg: reg, log: log}
}

// StoreSocketID registers a connection id against a portal user id.
// POST /api/store_socket_id {userId, socketId}
func (h *PresenceHandler) StoreSocketID(c *gin.Context) {
	var req models.StoreSocketIDRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if !h.reg.Online(req.SocketID) {
		c.JSON(http.StatusNotFound, gin.H{"error": "socket id is not connected"})
		return
	}

	h.reg.SetIdentity(req.SocketID, req.UserID, "", "")
	if err := redis.StoreSocketID(req.UserID, req.SocketID, socketIDTTL); err != nil {
		h.log.Error("failed to store socket id", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to store socket id"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "socket id stored"})
}

// GetSocketID resolves a portal user id to its live connection id so the
// backend can address call-user envelopes.
// GET /api/socket_id/:userId
func (h *PresenceHandler) GetSocketID(c *gin.Context) {
	userID := c.Param("userId")
	socketID, err := redis.LookupSocketID(userID)
	if err != nil {
		h.log.Error("failed to look up socket id", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to look up socket id"})
		return
	}
	if socketID == "" || !h.reg.Online(socketID) {
		c.JSON(http.StatusNotFound, gin.H{"error": "user is not online"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"userId": userID, "socketId": socketID})
}

// OnlineUsers lists all currently connected participants.
// GET /api/online-users
func (h *PresenceHandler) OnlineUsers(c *gin.Context) {
	c.JSON(http.StatusOK, h.snapshot(""))
}

// OnlineDoctors lists connected participants registered with the doctor
// role. Role is an explicit field supplied at connect time, not inferred
// from the identifier.
// GET /api/online-doctors
func (h *PresenceHandler) OnlineDoctors(c *gin.Context) {
	c.JSON(http.StatusOK, h.snapshot("doctor"))
}

func (h *PresenceHandler) snapshot(role string) []models.OnlineUser {
	entries := h.reg.Snapshot()
	out := make([]models.OnlineUser, 0, len(entries))
	for _, e := range entries {
		if role != "" && e.Role != role {
			continue
		}
		out = append(out, models.OnlineUser{
			ConnectionID: e.ConnectionID,
			UserID:       e.UserID,
			UserName:     e.UserName,
			Role:         e.Role,
			RoomID:       e.RoomID,
			ConnectedAt:  e.ConnectedAt,
		})
	}
	return out
}

// Health reports relay liveness and registry counts.
// GET /health
func (h *PresenceHandler) Health(c *gin.Context) {
	connections, rooms := h.reg.Counts()
	c.JSON(http.StatusOK, models.HealthResponse{
		Status:         "ok",
		ConnectedUsers: connections,
		Rooms:          rooms,
		Timestamp:      time.Now().Unix(),
	})
}
