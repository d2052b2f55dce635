package store

import (
	"time"

	"github.com/pgvector/pgvector-go"
	"gorm.io/datatypes"
)

// GORM models used for persistence.
type BookModel struct {
	ID               string    `gorm:"primaryKey"`
	UserID           string    `gorm:"not null;index"`
	RecordType       string    `gorm:"not null"`
	Identifier       string
	Title            string    `gorm:"not null"`
	Creator          string
	Language         string
	Description      string    `gorm:"type:text"`
	CoverURL         string
	OriginalFilename string    `gorm:"not null"`
	StorageKey       string
	Status           string    `gorm:"not null"`
	ErrorMessage     string
	ChunkCount       int
	SizeBytes        int64     `gorm:"not null"`
	CreatedAt        time.Time `gorm:"not null"`
	UpdatedAt        time.Time `gorm:"not null"`
}

type ChunkModel struct {
	ID         string           `gorm:"primaryKey"`
	UserID     string           `gorm:"not null;index:idx_chunk_user_book"`
	BookID     string           `gorm:"not null;index:idx_chunk_user_book"`
	RecordType string           `gorm:"not null"`
	ChunkIndex int              `gorm:"not null"`
	Text       string           `gorm:"type:text;not null"`
	Metadata   datatypes.JSON   `gorm:"type:jsonb"`
	Embedding  *pgvector.Vector `gorm:"type:vector(768)"`
	CreatedAt  time.Time        `gorm:"not null;index"`
}
