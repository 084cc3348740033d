package main

import (
	"log"
	"log/slog"

	"github.com/gin-gonic/gin"

	"github.com/classlive/classroom-rtc/config"
	"github.com/classlive/classroom-rtc/internal/handlers"
	"github.com/classlive/classroom-rtc/internal/logging"
	"github.com/classlive/classroom-rtc/internal/middleware"
	"github.com/classlive/classroom-rtc/internal/presence"
	"github.com/classlive/classroom-rtc/internal/registry"
)

func main() {
	cfg := config.Load()
	logging.Init()

	// Presence mirror is optional; a configured but unreachable Redis is a
	// deployment error, not something to limp past.
	store, err := presence.Connect(cfg.Redis)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	if store != nil {
		defer store.Close()
		slog.Info("presence mirror enabled", "addr", cfg.Redis.Addr)
	}

	reg := registry.New()
	relay := handlers.NewRelay(reg, store)

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.Default()
	router.Use(handlers.OriginFilter(cfg.AllowedOrigins))

	router.GET("/health", handlers.Health(reg))

	apiGroup := router.Group("/api")
	{
		// Login endpoint (public): issues the classroom join token.
		apiGroup.POST("/auth/login", handlers.Login(cfg.JWTSecret))

		// ICE bootstrap for clients that do not carry their own STUN list.
		apiGroup.GET("/config/ice", handlers.ICEConfig(cfg.STUNServers))

		// Room introspection: the full listing is for operators, the
		// per-room detail is public so a lobby page can show who is in.
		apiGroup.GET("/rooms", middleware.JWTAuth(cfg.JWTSecret), handlers.ListRooms(reg))
		apiGroup.GET("/rooms/:roomId", handlers.GetRoom(reg))
	}

	wsGroup := router.Group("/ws")
	{
		requireToken := cfg.Environment == "production"
		wsGroup.GET("/signal", handlers.HandleSignaling(relay, cfg.JWTSecret, requireToken))
	}

	slog.Info("starting classroom signaling server", "port", cfg.Port, "environment", cfg.Environment)
	if err := router.Run(":" + cfg.Port); err != nil {
		log.Fatal("Failed to start server:", err)
	}
}
