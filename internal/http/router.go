package http

import (
	"github.com/gin-gonic/gin"

	httpH "github.com/paperplanet/paperplanet-backend/internal/http/handlers"
	httpMW "github.com/paperplanet/paperplanet-backend/internal/http/middleware"
	"github.com/paperplanet/paperplanet-backend/internal/platform/logger"
)

type RouterConfig struct {
	Log *logger.Logger

	AuthHandler    *httpH.AuthHandler
	AuthMiddleware *httpMW.AuthMiddleware

	DocumentHandler *httpH.DocumentHandler
	ChatHandler     *httpH.ChatHandler
	RoomHandler     *httpH.RoomHandler
	CollabHandler   *httpH.CollabHandler

	HealthHandler *httpH.HealthHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(httpMW.RequestLogger(cfg.Log))
	r.Use(httpMW.CORS())

	// Health
	if cfg.HealthHandler != nil {
		r.GET("/healthcheck", cfg.HealthHandler.HealthCheck)
	}

	api := r.Group("/api")
	{
		// Auth (public)
		if cfg.AuthHandler != nil {
			api.POST("/register", cfg.AuthHandler.Register)
			api.POST("/login", cfg.AuthHandler.Login)
		}
	}

	protected := api.Group("/")
	{
		if cfg.AuthMiddleware != nil {
			protected.Use(cfg.AuthMiddleware.RequireAuth())
		}

		if cfg.AuthHandler != nil {
			protected.GET("/me", cfg.AuthHandler.GetMe)
		}

		// Documents
		if cfg.DocumentHandler != nil {
			protected.POST("/documents", cfg.DocumentHandler.Upload)
			protected.GET("/feed", cfg.DocumentHandler.Feed)
			protected.GET("/documents/:id", cfg.DocumentHandler.Get)
			protected.GET("/documents/:id/messages", cfg.DocumentHandler.Messages)
			protected.POST("/documents/:id/reprocess", cfg.DocumentHandler.Reprocess)
		}

		// Question answering
		if cfg.ChatHandler != nil {
			protected.POST("/documents/:id/chat", cfg.ChatHandler.Ask)
		}

		// Rooms (SSE)
		if cfg.RoomHandler != nil {
			protected.GET("/documents/:id/room/stream", cfg.RoomHandler.Stream)
			protected.POST("/documents/:id/room/messages", cfg.RoomHandler.Post)
		}

		// Collaboration
		if cfg.CollabHandler != nil {
			protected.POST("/documents/:id/collab", cfg.CollabHandler.Request)
			protected.POST("/collab/:id/respond", cfg.CollabHandler.Respond)
			protected.GET("/collab/inbox", cfg.CollabHandler.Inbox)
		}
	}

	return r
}
