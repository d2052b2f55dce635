package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pgvector/pgvector-go"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"shelfchat/pkg/domain"
)

const migrateLockID int64 = 52415241

const (
	defaultEmbeddingDim      = 768
	canonicalEmbeddingDimEnv = "SHELFCHAT_EMBEDDING_DIM"
)

const chunkInsertBatchSize = 200

type GormStoreOptions struct {
	EmbeddingDim int
}

type GormStoreOption func(*GormStoreOptions)

// WithEmbeddingDim sets the canonical embedding dimension used by storage.
func WithEmbeddingDim(dim int) GormStoreOption {
	return func(opts *GormStoreOptions) {
		opts.EmbeddingDim = dim
	}
}

// GormStore implements Store using GORM + Postgres with pgvector.
type GormStore struct {
	db           *gorm.DB
	embeddingDim int
}

// NewGormStore opens the DB and runs auto-migrations.
func NewGormStore(dsn string, options ...GormStoreOption) (*GormStore, error) {
	opts := GormStoreOptions{}
	for _, option := range options {
		if option != nil {
			option(&opts)
		}
	}
	embeddingDim, err := resolveEmbeddingDim(opts.EmbeddingDim)
	if err != nil {
		return nil, err
	}

	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := withMigrationLock(db, func(tx *gorm.DB) error {
		if err := tx.Exec("CREATE EXTENSION IF NOT EXISTS vector").Error; err != nil {
			return fmt.Errorf("create pgvector extension: %w", err)
		}
		if err := tx.AutoMigrate(&BookModel{}, &ChunkModel{}); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		if err := tx.Exec(fmt.Sprintf(`
			DO $$
			BEGIN
			IF EXISTS (
				SELECT 1 FROM information_schema.columns
				WHERE table_name = 'chunk_models' AND column_name = 'embedding'
			) THEN
				ALTER TABLE chunk_models ALTER COLUMN embedding TYPE vector(%d);
			END IF;
			END $$;
		`, embeddingDim)).Error; err != nil {
			return fmt.Errorf("alter chunk embedding type: %w", err)
		}
		if err := tx.Exec(`
			DO $$
			BEGIN
				DELETE FROM chunk_models c
				WHERE NOT EXISTS (SELECT 1 FROM book_models b WHERE b.id = c.book_id);
				IF NOT EXISTS (
					SELECT 1 FROM information_schema.table_constraints
					WHERE table_schema = 'public'
					AND table_name = 'chunk_models'
					AND constraint_name = 'chunk_models_book_id_fkey'
				) THEN
					ALTER TABLE chunk_models
					ADD CONSTRAINT chunk_models_book_id_fkey
					FOREIGN KEY (book_id) REFERENCES book_models(id) ON DELETE CASCADE;
				END IF;
			END $$;
		`).Error; err != nil {
			return fmt.Errorf("ensure chunk foreign key: %w", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return &GormStore{db: db, embeddingDim: embeddingDim}, nil
}

func resolveEmbeddingDim(configValue int) (int, error) {
	if configValue > 0 {
		return configValue, nil
	}
	raw := strings.TrimSpace(os.Getenv(canonicalEmbeddingDimEnv))
	if raw == "" {
		return defaultEmbeddingDim, nil
	}
	dim, err := strconv.Atoi(raw)
	if err != nil || dim <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", canonicalEmbeddingDimEnv, raw)
	}
	return dim, nil
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// UpsertBook stores or updates a book record, keyed by id.
func (s *GormStore) UpsertBook(b domain.Book) error {
	model := bookToModel(b)
	return s.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"user_id", "record_type", "identifier", "title", "creator", "language",
			"description", "cover_url", "original_filename", "storage_key",
			"status", "error_message", "chunk_count", "size_bytes", "updated_at",
		}),
	}).Create(&model).Error
}

// SetBookStatus updates book status/error.
func (s *GormStore) SetBookStatus(id string, status domain.BookStatus, errMsg string) error {
	return s.db.Model(&BookModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":        string(status),
			"error_message": errMsg,
			"updated_at":    time.Now().UTC(),
		}).Error
}

// GetBookForUser retrieves a book the user owns.
func (s *GormStore) GetBookForUser(id, userID string) (domain.Book, bool, error) {
	var model BookModel
	if err := s.db.First(&model, "id = ? AND user_id = ?", id, userID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Book{}, false, nil
		}
		return domain.Book{}, false, err
	}
	return bookFromModel(model), true, nil
}

// ListBooksByUser returns the user's books ordered by created_at.
func (s *GormStore) ListBooksByUser(userID string) ([]domain.Book, error) {
	var models []BookModel
	if err := s.db.Where("user_id = ?", userID).Order("created_at ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Book, 0, len(models))
	for _, m := range models {
		res = append(res, bookFromModel(m))
	}
	return res, nil
}

// DeleteBook removes the book and its chunks after verifying ownership.
func (s *GormStore) DeleteBook(id, userID string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		res := tx.Delete(&BookModel{}, "id = ? AND user_id = ?", id, userID)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		// The FK cascade also covers this; the explicit delete keeps
		// behavior identical on databases restored without the constraint.
		return tx.Delete(&ChunkModel{}, "book_id = ? AND user_id = ?", id, userID).Error
	})
}

// ReplaceChunks swaps the full chunk set for a book in one transaction.
func (s *GormStore) ReplaceChunks(userID, bookID string, chunks []domain.Chunk) error {
	for _, chunk := range chunks {
		if err := s.validateEmbeddingDim(chunk.Embedding); err != nil {
			return fmt.Errorf("chunk %s: %w", chunk.ID, err)
		}
	}
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&ChunkModel{}, "book_id = ? AND user_id = ?", bookID, userID).Error; err != nil {
			return err
		}
		if len(chunks) == 0 {
			return nil
		}
		models := make([]ChunkModel, 0, len(chunks))
		for _, chunk := range chunks {
			model := chunkToModel(chunk)
			model.UserID = userID
			model.BookID = bookID
			models = append(models, model)
		}
		return tx.CreateInBatches(&models, chunkInsertBatchSize).Error
	})
}

// ListChunksByBook returns the user's chunks for a book in index order.
func (s *GormStore) ListChunksByBook(userID, bookID string) ([]domain.Chunk, error) {
	var models []ChunkModel
	if err := s.db.Where("book_id = ? AND user_id = ?", bookID, userID).
		Order("chunk_index ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	chunks := make([]domain.Chunk, 0, len(models))
	for _, model := range models {
		chunks = append(chunks, chunkFromModel(model))
	}
	return chunks, nil
}

// SearchChunks finds the user's most similar chunks by cosine distance.
func (s *GormStore) SearchChunks(userID, bookID string, embedding []float32, limit int) ([]domain.ScoredChunk, error) {
	if limit <= 0 {
		return []domain.ScoredChunk{}, nil
	}
	if err := s.validateEmbeddingDim(embedding); err != nil {
		return nil, err
	}
	vec := pgvector.NewVector(embedding)

	type scoredRow struct {
		ChunkModel
		Distance float64
	}
	var rows []scoredRow
	query := s.db.Model(&ChunkModel{}).
		Select("*, embedding <=> ? AS distance", vec).
		Where("user_id = ? AND embedding IS NOT NULL", userID)
	if bookID != "" {
		query = query.Where("book_id = ?", bookID)
	}
	if err := query.
		Order(clause.Expr{SQL: "embedding <=> ?", Vars: []any{vec}}).
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	hits := make([]domain.ScoredChunk, 0, len(rows))
	for _, row := range rows {
		hits = append(hits, domain.ScoredChunk{
			Chunk:    chunkFromModel(row.ChunkModel),
			Distance: row.Distance,
		})
	}
	return hits, nil
}

func (s *GormStore) validateEmbeddingDim(embedding []float32) error {
	if len(embedding) == 0 {
		return fmt.Errorf("embedding vector is empty")
	}
	if s.embeddingDim > 0 && len(embedding) != s.embeddingDim {
		return fmt.Errorf("embedding dimension mismatch: got %d, want %d", len(embedding), s.embeddingDim)
	}
	return nil
}

func bookToModel(b domain.Book) BookModel {
	return BookModel{
		ID:               b.ID,
		UserID:           b.UserID,
		RecordType:       string(b.Type),
		Identifier:       b.Identifier,
		Title:            b.Title,
		Creator:          b.Creator,
		Language:         b.Language,
		Description:      b.Description,
		CoverURL:         b.CoverURL,
		OriginalFilename: b.OriginalFilename,
		StorageKey:       b.StorageKey,
		Status:           string(b.Status),
		ErrorMessage:     b.ErrorMessage,
		ChunkCount:       b.ChunkCount,
		SizeBytes:        b.SizeBytes,
		CreatedAt:        b.CreatedAt,
		UpdatedAt:        b.UpdatedAt,
	}
}

func bookFromModel(m BookModel) domain.Book {
	recordType := domain.RecordType(m.RecordType)
	if recordType == "" {
		recordType = domain.RecordBookMetadata
	}
	return domain.Book{
		ID:               m.ID,
		UserID:           m.UserID,
		Type:             recordType,
		Identifier:       m.Identifier,
		Title:            m.Title,
		Creator:          m.Creator,
		Language:         m.Language,
		Description:      m.Description,
		CoverURL:         m.CoverURL,
		OriginalFilename: m.OriginalFilename,
		StorageKey:       m.StorageKey,
		Status:           domain.BookStatus(m.Status),
		ErrorMessage:     m.ErrorMessage,
		ChunkCount:       m.ChunkCount,
		SizeBytes:        m.SizeBytes,
		CreatedAt:        m.CreatedAt,
		UpdatedAt:        m.UpdatedAt,
	}
}

func chunkToModel(chunk domain.Chunk) ChunkModel {
	meta, _ := json.Marshal(chunk.Metadata)
	model := ChunkModel{
		ID:         chunk.ID,
		UserID:     chunk.UserID,
		BookID:     chunk.BookID,
		RecordType: string(chunk.Type),
		ChunkIndex: chunk.Index,
		Text:       chunk.Text,
		Metadata:   meta,
		CreatedAt:  chunk.CreatedAt,
	}
	if len(chunk.Embedding) > 0 {
		vec := pgvector.NewVector(chunk.Embedding)
		model.Embedding = &vec
	}
	return model
}

func chunkFromModel(model ChunkModel) domain.Chunk {
	var meta map[string]string
	if len(model.Metadata) > 0 {
		_ = json.Unmarshal(model.Metadata, &meta)
	}
	chunk := domain.Chunk{
		ID:        model.ID,
		UserID:    model.UserID,
		BookID:    model.BookID,
		Type:      domain.RecordType(model.RecordType),
		Index:     model.ChunkIndex,
		Text:      model.Text,
		Metadata:  meta,
		CreatedAt: model.CreatedAt,
	}
	if model.Embedding != nil {
		chunk.Embedding = model.Embedding.Slice()
	}
	return chunk
}
