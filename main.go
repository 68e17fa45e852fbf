package main

import (
	"log"
	"os"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"finassist_back/cache"
	"finassist_back/chat"
	"finassist_back/documents"
	"finassist_back/llm"
	"finassist_back/logging"
	"finassist_back/ratelimit"
)

func main() {
	_ = godotenv.Load()

	logger, err := logging.NewFromEnv()
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer logger.Sync()

	store := openStore(logger)

	embedder, err := documents.NewHTTPEmbedderFromEnv()
	if err != nil {
		logger.Fatal("init embedder", zap.Error(err))
	}

	var summarizer documents.Summarizer
	chatClient, err := llm.NewChatClientFromEnv()
	if err != nil {
		logger.Warn("llm client unavailable, chat endpoints disabled and summaries fall back", zap.Error(err))
		chatClient = nil
	} else {
		summarizer, err = documents.NewChatSummarizer(chatClient)
		if err != nil {
			logger.Fatal("init summarizer", zap.Error(err))
		}
	}

	service, err := documents.NewService(store, embedder, summarizer, logger)
	if err != nil {
		logger.Fatal("init documents service", zap.Error(err))
	}

	router := gin.New()
	router.Use(gin.Recovery(), logging.RequestLogger(logger), cors.Default())

	if _, err := documents.RegisterRoutes(router, service, logger); err != nil {
		logger.Fatal("register documents routes", zap.Error(err))
	}

	if chatClient != nil {
		redisClient, err := cache.NewClientFromEnv()
		if err != nil {
			logger.Warn("redis unavailable, rate limits count in memory", zap.Error(err))
			redisClient = nil
		}
		limiter := ratelimit.NewLimiterFromEnv(redisClient, logger)
		if _, err := chat.RegisterRoutes(router, service, chatClient, limiter, logger); err != nil {
			logger.Fatal("register chat routes", zap.Error(err))
		}
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	logger.Info("server starting", zap.String("port", port))
	if err := router.Run(":" + port); err != nil {
		logger.Fatal("start server", zap.Error(err))
	}
}

// openStore prefers the configured database and falls back to the in-memory
// store when no DSN is set.
func openStore(logger *zap.Logger) documents.Store {
	if os.Getenv("DATABASE_DSN") == "" {
		logger.Warn("DATABASE_DSN not set, documents are stored in memory only")
		return documents.NewMemoryStore()
	}
	store, err := documents.NewGormStoreFromEnv()
	if err != nil {
		logger.Fatal("open document store", zap.Error(err))
	}
	return store
}
