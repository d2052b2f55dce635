package main

import (
	"log"
	"log/slog"
	"net/http"
	"time"

	"shelfchat/internal/config"
	"shelfchat/internal/server"
	"shelfchat/internal/util"
	"shelfchat/pkg/ai"
	"shelfchat/pkg/covers"
	"shelfchat/pkg/queue"
	"shelfchat/pkg/storage"
	"shelfchat/pkg/store"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.InitLogger(cfg.LogLevel)

	bookStore, err := newStore(cfg)
	if err != nil {
		log.Fatalf("failed to init store: %v", err)
	}
	objects, err := newObjectStore(cfg)
	if err != nil {
		log.Fatalf("failed to init object store: %v", err)
	}
	coverStore, err := covers.NewFileStore(cfg.CoversDir)
	if err != nil {
		log.Fatalf("failed to init cover store: %v", err)
	}
	jobQueue, err := queue.NewRedisJobQueue(queue.RedisQueueConfig{
		Addr:       cfg.RedisAddr,
		Password:   cfg.RedisPassword,
		Stream:     cfg.QueueName,
		Group:      cfg.QueueGroup,
		MaxRetries: cfg.QueueMaxRetries,
		RetryDelay: time.Duration(cfg.QueueRetryDelaySeconds) * time.Second,
	})
	if err != nil {
		log.Fatalf("failed to init job queue: %v", err)
	}

	httpServer, err := server.New(server.Config{
		Store:          bookStore,
		Objects:        objects,
		Queue:          jobQueue,
		Embedder:       newEmbedder(cfg),
		Covers:         coverStore,
		MaxUploadBytes: cfg.MaxUploadBytes,
	})
	if err != nil {
		log.Fatalf("failed to init server: %v", err)
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	slog.Info("api server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", "err", err)
	}
}

func newStore(cfg config.FileConfig) (store.Store, error) {
	if cfg.DatabaseURL == "" {
		slog.Warn("DATABASE_URL not set, using in-memory store")
		return store.NewMemoryStore(), nil
	}
	return store.NewGormStore(cfg.DatabaseURL, store.WithEmbeddingDim(cfg.EmbeddingDim))
}

func newObjectStore(cfg config.FileConfig) (storage.ObjectStore, error) {
	if cfg.MinioEndpoint == "" {
		slog.Warn("minio endpoint not set, using in-memory object store")
		return storage.NewMemoryObjectStore(), nil
	}
	return storage.NewMinioStore(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
}

func newEmbedder(cfg config.FileConfig) ai.Embedder {
	if cfg.EmbeddingProvider == "ollama" {
		client := ai.NewOllamaClient(cfg.OllamaBaseURL)
		return ai.NewOllamaEmbedder(client, cfg.EmbeddingModel, cfg.EmbeddingDim)
	}
	slog.Warn("using hash embedder, set embeddingProvider=ollama for semantic search")
	return ai.NewHashEmbedder(cfg.EmbeddingDim)
}
