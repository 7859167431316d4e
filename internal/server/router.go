package server

import (
	"github.com/gin-gonic/gin"

	"github.com/bullhornlabs/bullhorn-chat-backend/internal/handlers"
	"github.com/bullhornlabs/bullhorn-chat-backend/internal/logger"
	"github.com/bullhornlabs/bullhorn-chat-backend/internal/middleware"
	"github.com/bullhornlabs/bullhorn-chat-backend/internal/observability"
	"github.com/bullhornlabs/bullhorn-chat-backend/internal/services"
)

type RouterConfig struct {
	Log *logger.Logger

	AuthService services.AuthService

	ChatHandler     *handlers.ChatHandler
	FeedbackHandler *handlers.FeedbackHandler
	AuthHandler     *handlers.AuthHandler
	OAuthHandler    *handlers.OAuthHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.Default()
	r.Use(middleware.CORS(cfg.Log))
	r.Use(middleware.Metrics())

	r.GET("/healthcheck", handlers.HealthCheck)
	if observability.Enabled() {
		r.GET("/internal/metrics", handlers.MetricsSnapshot)
	}

	// Every route below has a session, anonymous or signed in.
	sessioned := r.Group("/")
	sessioned.Use(middleware.Session(cfg.AuthService, cfg.Log))

	// OAuth rounds ride the browser, outside /api.
	sessioned.GET("/auth/bullhorn", cfg.OAuthHandler.Bullhorn)
	sessioned.GET("/auth/google", cfg.OAuthHandler.Google)

	api := sessioned.Group("/api")
	{
		api.POST("/chats", cfg.ChatHandler.Create)
		api.GET("/chats", cfg.ChatHandler.List)
		api.GET("/chats/:id", cfg.ChatHandler.Get)
		api.POST("/chats/:id", cfg.ChatHandler.StreamTurn)

		api.GET("/messages/:id/feedback", cfg.FeedbackHandler.Get)
		api.POST("/messages/:id/feedback", cfg.FeedbackHandler.Submit)

		api.GET("/auth/google/status", cfg.OAuthHandler.GoogleStatus)

		authed := api.Group("/")
		authed.Use(middleware.RequireUser())
		{
			authed.GET("/auth/me", cfg.AuthHandler.Me)
			authed.PATCH("/auth/me", cfg.AuthHandler.UpdateMe)
			authed.POST("/auth/logout", cfg.AuthHandler.Logout)
			authed.POST("/auth/google/refresh", cfg.OAuthHandler.GoogleRefresh)
			authed.POST("/auth/google/disconnect", cfg.OAuthHandler.GoogleDisconnect)
		}
	}

	return r
}
