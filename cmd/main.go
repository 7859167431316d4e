package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/bullhornlabs/bullhorn-chat-backend/internal/db"
	"github.com/bullhornlabs/bullhorn-chat-backend/internal/handlers"
	"github.com/bullhornlabs/bullhorn-chat-backend/internal/logger"
	"github.com/bullhornlabs/bullhorn-chat-backend/internal/observability"
	"github.com/bullhornlabs/bullhorn-chat-backend/internal/platform/openai"
	"github.com/bullhornlabs/bullhorn-chat-backend/internal/repos"
	"github.com/bullhornlabs/bullhorn-chat-backend/internal/server"
	"github.com/bullhornlabs/bullhorn-chat-backend/internal/services"
	"github.com/bullhornlabs/bullhorn-chat-backend/internal/utils"
)

func main() {
	_ = godotenv.Load()

	// Logger
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// Metrics
	observability.Init()

	// Postgres
	postgresService, err := db.NewPostgresService(log)
	if err != nil {
		log.Fatal("Postgres init failed", "error", err)
	}
	if err = postgresService.AutoMigrateAll(); err != nil {
		log.Fatal("Postgres auto migration failed", "error", err)
	}
	thePG := postgresService.DB()

	// Redis (optional credential and oauth-state cache)
	var redisClient *redis.Client
	if redisURL := utils.GetEnv("REDIS_URL", "", log); redisURL != "" {
		opts, parseErr := redis.ParseURL(redisURL)
		if parseErr != nil {
			log.Fatal("Invalid REDIS_URL", "error", parseErr)
		}
		redisClient = redis.NewClient(opts)

		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if pingErr := redisClient.Ping(pingCtx).Err(); pingErr != nil {
			log.Warn("Redis unreachable, continuing without cache", "error", pingErr)
			redisClient = nil
		}
		cancel()
	}

	// Repos
	log.Info("Setting up Repos from main...")
	userRepo := repos.NewUserRepo(thePG, log)
	chatRepo := repos.NewChatRepo(thePG, log)
	messageRepo := repos.NewMessageRepo(thePG, log)
	feedbackRepo := repos.NewFeedbackRepo(thePG, log)

	// Services
	log.Info("Setting up Services from main...")
	aiClient, err := openai.NewClient(log)
	if err != nil {
		log.Fatal("OpenAI client init failed", "error", err)
	}
	credentialResolver := services.NewCredentialResolver(userRepo, redisClient, log)
	authService, err := services.NewAuthService(userRepo, log)
	if err != nil {
		log.Fatal("Auth service init failed", "error", err)
	}
	oauthService, err := services.NewOAuthService(userRepo, chatRepo, credentialResolver, redisClient, log)
	if err != nil {
		log.Fatal("OAuth service init failed", "error", err)
	}
	chatService := services.NewChatService(chatRepo, messageRepo, aiClient, credentialResolver, log)
	feedbackService := services.NewFeedbackService(feedbackRepo, messageRepo, chatRepo, log)

	// Handlers
	log.Info("Setting up Handlers from main...")
	authHandler := handlers.NewAuthHandler(authService, oauthService, log)
	oauthHandler := handlers.NewOAuthHandler(authService, oauthService, authHandler, log)
	chatHandler := handlers.NewChatHandler(chatService, log)
	feedbackHandler := handlers.NewFeedbackHandler(feedbackService, log)

	// Server
	srv := server.NewServer(server.RouterConfig{
		Log:             log,
		AuthService:     authService,
		ChatHandler:     chatHandler,
		FeedbackHandler: feedbackHandler,
		AuthHandler:     authHandler,
		OAuthHandler:    oauthHandler,
	})

	port := utils.GetEnv("PORT", "8080", log)
	log.Info("Starting server", "port", port)
	if err := srv.Run(":" + port); err != nil {
		log.Fatal("Server exited", "error", err)
	}
}
