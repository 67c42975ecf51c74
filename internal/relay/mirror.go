package relay

import (
	"time"

	"go.uber.org/zap"

	"github.com/wellport/signaling/internal/redis"
)

const roomPeersTTL = 24 * time.Hour

// RedisMirror mirrors room membership into Redis sets so the portal backend
// can enumerate peers without talking to the relay process.
type RedisMirror struct {
	log *zap.Logger
}

// NewRedisMirror creates a mirror using the shared Redis client.
func NewRedisMirror(log *zap.Logger) *RedisMirror {
	return &RedisMirror{log: log}
}

func (m *RedisMirror) AddPeer(roomID, connectionID string) {
	client := redis.GetClient()
	ctx := redis.GetContext()
	key := "room:" + roomID + ":peers"
	if err := client.SAdd(ctx, key, connectionID).Err(); err != nil {
		m.log.Warn("failed to mirror peer add", zap.Error(err))
		return
	}
	client.Expire(ctx, key, roomPeersTTL)
}

func (m *RedisMirror) RemovePeer(roomID, connectionID string) {
	client := redis.GetClient()
	ctx := redis.GetContext()
	if err := client.SRem(ctx, "room:"+roomID+":peers", connectionID).Err(); err != nil {
		m.log.Warn("failed to mirror peer remove", zap.Error(err))
	}
}

func (m *RedisMirror) RemoveUser(userID string) {
	if err := redis.RemoveSocketID(userID); err != nil {
		m.log.Warn("failed to drop socket id mapping", zap.Error(err))
	}
}
