package main

import (
	"context"
	"io"
	"log"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"shelfchat/internal/config"
	"shelfchat/internal/util"
	"shelfchat/pkg/ai"
	"shelfchat/pkg/covers"
	"shelfchat/pkg/ingest"
	"shelfchat/pkg/queue"
	"shelfchat/pkg/storage"
	"shelfchat/pkg/store"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	util.InitLogger(cfg.LogLevel)

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
	pipeline, err := ingest.New(ingest.Config{
		Store:          bookStore,
		Covers:         coverStore,
		Embedder:       newEmbedder(cfg),
		ChunkSize:      cfg.ChunkSize,
		ChunkOverlap:   cfg.ChunkOverlap,
		ExtractWorkers: cfg.ExtractWorkers,
		EmbedBatchSize: cfg.EmbedBatchSize,
	})
	if err != nil {
		log.Fatalf("failed to init ingest pipeline: %v", err)
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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	worker := &worker{objects: objects, pipeline: pipeline}
	slog.Info("ingest worker starting", "stream", cfg.QueueName, "concurrency", cfg.QueueConcurrency)
	jobQueue.Start(ctx, cfg.QueueConcurrency, worker.process)

	<-ctx.Done()
	slog.Info("ingest worker shutting down")
}

type worker struct {
	objects  storage.ObjectStore
	pipeline *ingest.Pipeline
}

func (w *worker) process(ctx context.Context, job queue.JobStatus) error {
	rc, err := w.objects.Get(ctx, job.StorageKey)
	if err != nil {
		slog.Error("fetch uploaded file", "error", err, "book_id", job.BookID, "key", job.StorageKey)
		return err
	}
	data, err := io.ReadAll(rc)
	rc.Close()
	if err != nil {
		slog.Error("read uploaded file", "error", err, "book_id", job.BookID)
		return err
	}
	result, err := w.pipeline.Ingest(ctx, data, job.UserID, job.BookID, job.Filename)
	if err != nil {
		return err
	}
	if err := w.objects.Delete(ctx, job.StorageKey); err != nil {
		slog.Warn("delete ingested file", "error", err, "book_id", job.BookID, "key", job.StorageKey)
	}
	slog.Info("book ingested", "book_id", result.BookID, "title", result.Title, "chunks", result.ChunkCount)
	return nil
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
