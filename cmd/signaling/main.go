package main

import (
	"log"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/wellport/signaling/config"
	"github.com/wellport/signaling/internal/handlers"
	"github.com/wellport/signaling/internal/middleware"
	"github.com/wellport/signaling/internal/redis"
	"github.com/wellport/signaling/internal/registry"
	"github.com/wellport/signaling/internal/relay"
)

func main() {
	// Load configuration
	cfg := config.Load()

	logger, err := newLogger(cfg)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync()

	// Connect to Redis
	if err := redis.Connect(cfg.Redis); err != nil {
		logger.Fatal("failed to connect to Redis", zap.Error(err))
	}
	defer redis.Close()
	logger.Info("redis connection established")

	// Registry and relay: the single owner of presence/room state.
	reg := registry.New()
	rel := relay.New(reg, relay.NewRedisMirror(logger), logger)

	signalingHandler := handlers.NewSignalingHandler(rel, logger)
	presenceHandler := handlers.NewPresenceHandler(reg, logger)
	roomHandler := handlers.NewRoomHandler(logger)

	// Setup Gin router
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.Default()

	// Global CORS middleware (runs before routing)
	router.Use(handlers.OriginFilter(cfg.AllowedOrigins, logger))

	// Health check endpoint
	router.GET("/health", presenceHandler.Health)

	// Room management and presence API
	apiGroup := router.Group("/api")
	{
		// Login endpoint (public, dev only)
		apiGroup.POST("/auth/login", handlers.Login(cfg.JWTSecret))

		// Create room (requires JWT)
		apiGroup.POST("/rooms", middleware.JWTAuth(cfg.JWTSecret), roomHandler.CreateRoom)

		// Get room info (public)
		apiGroup.GET("/rooms/:roomId", roomHandler.GetRoom)

		// Delete room (requires JWT, creator only)
		apiGroup.DELETE("/rooms/:roomId", middleware.JWTAuth(cfg.JWTSecret), roomHandler.DeleteRoom)

		// Presence surface for the portal backend
		apiGroup.POST("/store_socket_id", presenceHandler.StoreSocketID)
		apiGroup.GET("/socket_id/:userId", presenceHandler.GetSocketID)
		apiGroup.GET("/online-users", presenceHandler.OnlineUsers)
		apiGroup.GET("/online-doctors", presenceHandler.OnlineDoctors)

		// ICE configuration handed to call clients before they negotiate
		apiGroup.GET("/ice-config", func(c *gin.Context) {
			c.JSON(200, gin.H{
				"stunServers":               cfg.STUNServers,
				"negotiationTimeoutSeconds": int(cfg.NegotiationTimeout.Seconds()),
			})
		})
	}

	// WebSocket signaling endpoint
	wsGroup := router.Group("/ws")
	{
		// WebSocket signaling - accepts room code or ID
		wsGroup.GET("/signal/:roomId", signalingHandler.HandleSignaling)
	}

	// Start server
	logger.Info("starting signaling server", zap.String("port", cfg.Port))
	if err := router.Run(":" + cfg.Port); err != nil {
		logger.Fatal("failed to start server", zap.Error(err))
	}
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	if cfg.Environment == "production" {
		zcfg := zap.NewProductionConfig()
		if lvl, err := zap.ParseAtomicLevel(cfg.LogLevel); err == nil {
			zcfg.Level = lvl
		}
		return zcfg.Build()
	}
	return zap.NewDevelopment()
}
