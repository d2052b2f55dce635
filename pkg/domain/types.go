package domain

import (
	"fmt"
	"time"
)

type BookStatus string

const (
	StatusQueued     BookStatus = "queued"
	StatusProcessing BookStatus = "processing"
	StatusReady      BookStatus = "ready"
	StatusFailed     BookStatus = "failed"
)

// RecordType distinguishes the two record kinds exposed on the wire.
type RecordType string

const (
	RecordBookMetadata RecordType = "book_metadata"
	RecordBookChunk    RecordType = "book_chunk"
)

// Book is one ingested (or in-flight) book owned by a user.
type Book struct {
	ID               string     `json:"id"`
	UserID           string     `json:"userId"`
	Type             RecordType `json:"type"`
	Identifier       string     `json:"identifier"`
	Title            string     `json:"title"`
	Creator          string     `json:"creator"`
	Language         string     `json:"language"`
	Description      string     `json:"description"`
	CoverURL         string     `json:"coverUrl"`
	OriginalFilename string     `json:"originalFilename"`
	StorageKey       string     `json:"-"`
	Status           BookStatus `json:"status"`
	ErrorMessage     string     `json:"errorMessage,omitempty"`
	ChunkCount       int        `json:"chunkCount"`
	SizeBytes        int64      `json:"sizeBytes"`
	CreatedAt        time.Time  `json:"createdAt"`
	UpdatedAt        time.Time  `json:"updatedAt"`
}

// Chunk is one retrieval unit of a book's text. Its identity is
// (UserID, BookID, Index); ID is the deterministic form
// "{userId}_{bookId}_{index}" so re-ingestion overwrites in place.
type Chunk struct {
	ID        string            `json:"id"`
	UserID    string            `json:"userId"`
	BookID    string            `json:"bookId"`
	Type      RecordType        `json:"type"`
	Index     int               `json:"chunkIndex"`
	Text      string            `json:"text"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Embedding []float32         `json:"-"`
	CreatedAt time.Time         `json:"createdAt"`
}

// ScoredChunk is a search hit: a chunk plus its cosine distance to the
// query embedding (smaller is closer).
type ScoredChunk struct {
	Chunk
	Distance float64 `json:"distance"`
}

// ChunkID builds the deterministic chunk identifier.
func ChunkID(userID, bookID string, index int) string {
	return fmt.Sprintf("%s_%s_%d", userID, bookID, index)
}
