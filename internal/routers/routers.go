package routers

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/roomline/roomline/config"
	"github.com/roomline/roomline/internal/handlers"
	"github.com/roomline/roomline/internal/middlewares"
	"github.com/roomline/roomline/internal/utils"
	"github.com/roomline/roomline/internal/ws"
	logger "github.com/roomline/roomline/middleware/log"
)

// SetupRoutes wires middleware and routes onto the gin engine.
func SetupRoutes(r *gin.Engine, cfg *config.Config,
	roomHandler *handlers.RoomHandler,
	hub *ws.Hub,
	pool *utils.WorkerPool,
	limiter *utils.Limiter,
	log *logger.Logger,
) {
	corsCfg := cors.DefaultConfig()
	corsCfg.AllowAllOrigins = true
	corsCfg.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", "Authorization"}
	r.Use(cors.New(corsCfg))

	if cfg.RateLimit.QPS > 0 {
		r.Use(middlewares.RateLimitMiddleware(limiter, int(cfg.RateLimit.QPS), time.Second))
	}
	if cfg.RateLimit.MaxConcurrency > 0 {
		r.Use(middlewares.MaxConcurrencyMiddleware(cfg.RateLimit.MaxConcurrency))
	}

	// WebSocket upgrades must not go through the worker pool, the
	// connection outlives the handler.
	r.GET("/ws", middlewares.AuthMiddleware(cfg.Platform.JWTSecret), func(c *gin.Context) {
		ws.ServeWs(hub, log, c)
	})

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
		})
	})

	r.Use(middlewares.AsyncMiddleware(pool))

	RegisterRoomRoutes(r, cfg, roomHandler)
}

// RegisterRoomRoutes mounts the room API.
func RegisterRoomRoutes(r *gin.Engine, cfg *config.Config, roomHandler *handlers.RoomHandler) {
	roomGroup := r.Group("/api/v1/rooms")
	roomGroup.Use(middlewares.AuthMiddleware(cfg.Platform.JWTSecret))
	{
		roomGroup.GET("", roomHandler.ListRooms)
		roomGroup.GET("/:id/messages", roomHandler.GetMessages)
		roomGroup.POST("/:id/messages", roomHandler.SendMessage)
		roomGroup.DELETE("/:id/session", roomHandler.CloseRoom)
	}
}
