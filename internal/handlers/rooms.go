package handlers

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wellport/signaling/internal/models"
	"github.com/wellport/signaling/internal/redis"
)

const (
	roomCodeLength = 6
	roomTTL        = 24 * time.Hour
	codeChars      = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789" // Removed ambiguous chars
)

// RoomHandler manages consultation room metadata in Redis. Rooms are
// created by the portal backend (or a doctor's dashboard) and joined by
// patients through the short code.
type RoomHandler struct {
	log *zap.Logger
}

// NewRoomHandler creates a room handler.
func NewRoomHandler(log *zap.Logger) *RoomHandler {
	return &RoomHandler{log: log}
}

// CreateRoom creates a new consultation room (requires authentication).
func (h *RoomHandler) CreateRoom(c *gin.Context) {
	userID, exists := c.Get("user_id")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}

	var req models.CreateRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	// Consultations are one-on-one by default.
	if req.MaxParticipants == 0 {
		req.MaxParticipants = 2
	}

	roomID := uuid.New().String()
	roomCode := generateRoomCode()

	room := models.RoomMetadata{
		ID:              roomID,
		Code:            roomCode,
		CreatorID:       userID.(string),
		CreatedAt:       time.Now(),
		MaxParticipants: req.MaxParticipants,
	}

	redisClient := redis.GetClient()
	ctx := redis.GetContext()

	roomData, err := json.Marshal(room)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create room"})
		return
	}

	if err := redisClient.Set(ctx, "room:"+roomID, roomData, roomTTL).Err(); err != nil {
		h.log.Error("failed to store room", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create room"})
		return
	}

	// Store code-to-ID mapping for easy lookup
	if err := redisClient.Set(ctx, "code:"+roomCode, roomID, roomTTL).Err(); err != nil {
		h.log.Error("failed to store room code", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create room"})
		return
	}

	h.log.Info("room created",
		zap.String("room_id", roomID),
		zap.String("code", roomCode),
		zap.String("creator", userID.(string)))

	c.JSON(http.StatusCreated, models.CreateRoomResponse{
		RoomID: roomID,
		Code:   roomCode,
	})
}

// GetRoom gets room information by code or ID (public).
func (h *RoomHandler) GetRoom(c *gin.Context) {
	roomIdentifier := c.Param("roomId")

	room, err := loadRoom(roomIdentifier)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Room not found"})
		return
	}

	redisClient := redis.GetClient()
	ctx := redis.GetContext()
	peerCount, _ := redisClient.SCard(ctx, "room:"+room.ID+":peers").Result()
	room.ParticipantCount = int(peerCount)

	c.JSON(http.StatusOK, room)
}

// DeleteRoom deletes a room (requires authentication, creator only).
func (h *RoomHandler) DeleteRoom(c *gin.Context) {
	userID, exists := c.Get("user_id")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}

	roomID := c.Param("roomId")

	room, err := loadRoom(roomID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Room not found"})
		return
	}

	if room.CreatorID != userID.(string) {
		c.JSON(http.StatusForbidden, gin.H{"error": "Only the room creator can delete the room"})
		return
	}

	redisClient := redis.GetClient()
	ctx := redis.GetContext()
	redisClient.Del(ctx, "room:"+room.ID)
	redisClient.Del(ctx, "code:"+room.Code)
	redisClient.Del(ctx, "room:"+room.ID+":peers")

	h.log.Info("room deleted",
		zap.String("room_id", room.ID),
		zap.String("user_id", userID.(string)))

	c.JSON(http.StatusOK, gin.H{"message": "Room deleted"})
}

// loadRoom resolves a short code or room id to its metadata.
func loadRoom(roomIdentifier string) (*models.RoomMetadata, error) {
	redisClient := redis.GetClient()
	ctx := redis.GetContext()

	roomID := roomIdentifier
	if len(roomIdentifier) == roomCodeLength {
		id, err := redisClient.Get(ctx, "code:"+roomIdentifier).Result()
		if err != nil {
			return nil, fmt.Errorf("room not found")
		}
		roomID = id
	}

	roomData, err := redisClient.Get(ctx, "room:"+roomID).Result()
	if err != nil {
		return nil, fmt.Errorf("room not found")
	}

	var room models.RoomMetadata
	if err := json.Unmarshal([]byte(roomData), &room); err != nil {
		return nil, fmt.Errorf("failed to parse room data")
	}
	return &room, nil
}

// ValidateRoomExists checks that a room exists and has capacity, returning
// the canonical room id.
func ValidateRoomExists(roomIdentifier string) (string, *models.RoomMetadata, error) {
	room, err := loadRoom(roomIdentifier)
	if err != nil {
		return "", nil, err
	}

	redisClient := redis.GetClient()
	ctx := redis.GetContext()
	peerCount, _ := redisClient.SCard(ctx, "room:"+room.ID+":peers").Result()
	if int(peerCount) >= room.MaxParticipants {
		return "", nil, fmt.Errorf("room is full")
	}

	return room.ID, room, nil
}

// generateRoomCode generates a random room code
func generateRoomCode() string {
	code := make([]byte, roomCodeLength)
	for i := range code {
		n, _ := rand.Int(rand.Reader, big.NewInt(int64(len(codeChars))))
		code[i] = codeChars[n.Int64()]
	}
	return string(code)
}
