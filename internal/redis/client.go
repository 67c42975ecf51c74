package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/wellport/signaling/config"
)

var client *redis.Client
var ctx = context.Background()

const socketRegistryKey = "signaling:sockets"

// Connect initializes the Redis client
func Connect(cfg config.RedisConfig) error {
	client = redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	// Test connection
	if err := client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return nil
}

// Close closes the Redis connection
func Close() error {
	if client != nil {
		return client.Close()
	}
	return nil
}

// GetClient returns the Redis client instance
func GetClient() *redis.Client {
	return client
}

// GetContext returns the context for Redis operations
func GetContext() context.Context {
	return ctx
}

// StoreSocketID maps a portal user id to its live connection id so the CRUD
// backend can address the user through the relay.
func StoreSocketID(userID, socketID string, ttl time.Duration) error {
	if err := client.HSet(ctx, socketRegistryKey, userID, socketID).Err(); err != nil {
		return fmt.Errorf("failed to store socket id: %w", err)
	}
	return client.Expire(ctx, socketRegistryKey, ttl).Err()
}

// LookupSocketID returns the connection id registered for a user, if any.
func LookupSocketID(userID string) (string, error) {
	socketID, err := client.HGet(ctx, socketRegistryKey, userID).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to look up socket id: %w", err)
	}
	return socketID, nil
}

// RemoveSocketID drops the user→connection mapping on disconnect.
func RemoveSocketID(userID string) error {
	return client.HDel(ctx, socketRegistryKey, userID).Err()
}
