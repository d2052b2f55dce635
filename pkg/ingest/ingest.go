// Package ingest runs the book ingestion pipeline: archive parsing,
// metadata and cover extraction, text extraction, chunking, embedding
// and the idempotent store write.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"shelfchat/pkg/ai"
	"shelfchat/pkg/covers"
	"shelfchat/pkg/domain"
	"shelfchat/pkg/epub"
	"shelfchat/pkg/store"
	"shelfchat/pkg/textsplit"
)

// Error is the failure surfaced to callers: the book's filename plus
// the underlying cause.
type Error struct {
	Filename string
	Cause    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("ingest %s: %v", e.Filename, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

// Config wires the pipeline's collaborators.
type Config struct {
	Store    store.Store
	Covers   *covers.FileStore
	Embedder ai.Embedder

	ChunkSize      int
	ChunkOverlap   int
	ExtractWorkers int
	EmbedBatchSize int
}

// Result summarizes one successful ingestion.
type Result struct {
	BookID     string `json:"bookId"`
	Title      string `json:"title"`
	Creator    string `json:"creator"`
	ChunkCount int    `json:"chunkCount"`
}

// Pipeline ingests EPUB files into the store. Safe for concurrent use;
// ingestions of the same book id are serialized.
type Pipeline struct {
	store          store.Store
	covers         *covers.FileStore
	embedder       ai.Embedder
	splitter       *textsplit.Splitter
	extractWorkers int
	embedBatchSize int
	locks          *keyedMutex
}

// New validates the config and builds a Pipeline.
func New(cfg Config) (*Pipeline, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("ingest: store required")
	}
	if cfg.Covers == nil {
		return nil, fmt.Errorf("ingest: cover store required")
	}
	if cfg.Embedder == nil {
		return nil, fmt.Errorf("ingest: embedder required")
	}
	extractWorkers := cfg.ExtractWorkers
	if extractWorkers <= 0 {
		extractWorkers = 4
	}
	embedBatchSize := cfg.EmbedBatchSize
	if embedBatchSize <= 0 {
		embedBatchSize = 32
	}
	return &Pipeline{
		store:          cfg.Store,
		covers:         cfg.Covers,
		embedder:       cfg.Embedder,
		splitter:       textsplit.New(cfg.ChunkSize, cfg.ChunkOverlap),
		extractWorkers: extractWorkers,
		embedBatchSize: embedBatchSize,
		locks:          newKeyedMutex(),
	}, nil
}

// Ingest processes one EPUB file for a user. On success the book record
// is status "ready" and the full chunk set is stored; prior chunks of
// the same book are gone, including trailing indices a shorter
// re-ingestion no longer produces. On a fatal failure the book record
// is marked "failed" and the returned error carries the filename.
func (p *Pipeline) Ingest(ctx context.Context, data []byte, userID, bookID, filename string) (Result, error) {
	p.locks.Lock(bookID)
	defer p.locks.Unlock(bookID)

	now := time.Now().UTC()
	book := domain.Book{
		ID:               bookID,
		UserID:           userID,
		Type:             domain.RecordBookMetadata,
		OriginalFilename: filename,
		Status:           domain.StatusProcessing,
		SizeBytes:        int64(len(data)),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if existing, ok, err := p.store.GetBookForUser(bookID, userID); err == nil && ok {
		book.CreatedAt = existing.CreatedAt
		book.StorageKey = existing.StorageKey
	}
	if err := p.store.UpsertBook(book); err != nil {
		return Result{}, p.fail(bookID, filename, fmt.Errorf("record book: %w", err))
	}

	archive, err := epub.Open(data)
	if err != nil {
		return Result{}, p.fail(bookID, filename, err)
	}

	meta := archive.Metadata()
	book.Identifier = meta.Identifier
	book.Title = meta.Title
	book.Creator = meta.Creator
	book.Language = meta.Language
	book.Description = meta.Description

	// Cover failures never abort the book.
	cover := archive.Cover()
	coverURL, err := p.covers.Save(bookID, cover.JPEG)
	if err != nil {
		slog.Warn("cover save failed", "bookId", bookID, "err", err)
		coverURL = ""
	}
	book.CoverURL = coverURL

	text, err := archive.ExtractText(ctx, p.extractWorkers)
	if err != nil {
		return Result{}, p.fail(bookID, filename, err)
	}

	texts := p.splitter.Split(text)
	if len(texts) == 0 {
		return Result{}, p.fail(bookID, filename, epub.ErrNoContent)
	}

	embeddings, err := p.embedAll(ctx, texts)
	if err != nil {
		return Result{}, p.fail(bookID, filename, fmt.Errorf("embed chunks: %w", err))
	}

	chunkMeta := map[string]string{
		"title":     book.Title,
		"creator":   book.Creator,
		"language":  book.Language,
		"cover_url": book.CoverURL,
	}
	chunks := make([]domain.Chunk, 0, len(texts))
	for i, chunkText := range texts {
		chunks = append(chunks, domain.Chunk{
			ID:        domain.ChunkID(userID, bookID, i),
			UserID:    userID,
			BookID:    bookID,
			Type:      domain.RecordBookChunk,
			Index:     i,
			Text:      chunkText,
			Metadata:  chunkMeta,
			Embedding: embeddings[i],
			CreatedAt: now,
		})
	}
	if err := p.store.ReplaceChunks(userID, bookID, chunks); err != nil {
		return Result{}, p.fail(bookID, filename, fmt.Errorf("store chunks: %w", err))
	}

	book.Status = domain.StatusReady
	book.ChunkCount = len(chunks)
	book.UpdatedAt = time.Now().UTC()
	if err := p.store.UpsertBook(book); err != nil {
		return Result{}, p.fail(bookID, filename, fmt.Errorf("finalize book: %w", err))
	}

	return Result{
		BookID:     bookID,
		Title:      book.Title,
		Creator:    book.Creator,
		ChunkCount: len(chunks),
	}, nil
}

// embedAll embeds chunk texts in bounded parallel batches, keeping the
// result index aligned with texts.
func (p *Pipeline) embedAll(ctx context.Context, texts []string) ([][]float32, error) {
	embeddings := make([][]float32, len(texts))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for start := 0; start < len(texts); start += p.embedBatchSize {
		end := start + p.embedBatchSize
		if end > len(texts) {
			end = len(texts)
		}
		start, end := start, end
		g.Go(func() error {
			vecs, err := ai.EmbedAll(ctx, p.embedder, texts[start:end])
			if err != nil {
				return err
			}
			copy(embeddings[start:end], vecs)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return embeddings, nil
}

func (p *Pipeline) fail(bookID, filename string, cause error) error {
	ingestErr := &Error{Filename: filename, Cause: cause}
	if err := p.store.SetBookStatus(bookID, domain.StatusFailed, cause.Error()); err != nil {
		slog.Error("mark book failed", "bookId", bookID, "err", err)
	}
	return ingestErr
}
