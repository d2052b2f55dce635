package store

import (
	"errors"

	"shelfchat/pkg/domain"
)

// ErrNotFound reports that no record matched, including the case where
// a record exists but belongs to a different user.
var ErrNotFound = errors.New("store: not found")

// Store defines persistence for books and their chunks. Every read and
// delete is scoped by user id; one user can never observe or mutate
// another user's records.
type Store interface {
	// books
	UpsertBook(domain.Book) error
	SetBookStatus(id string, status domain.BookStatus, errMsg string) error
	GetBookForUser(id, userID string) (domain.Book, bool, error)
	ListBooksByUser(userID string) ([]domain.Book, error)
	// DeleteBook removes the book and all of its chunks. Returns
	// ErrNotFound when the user owns no book with that id.
	DeleteBook(id, userID string) error

	// chunks
	// ReplaceChunks atomically swaps the full chunk set of a book:
	// every previously stored chunk for (userID, bookID) is gone after
	// the call, including trailing indices the new set no longer has.
	ReplaceChunks(userID, bookID string, chunks []domain.Chunk) error
	ListChunksByBook(userID, bookID string) ([]domain.Chunk, error)
	SearchChunks(userID, bookID string, embedding []float32, limit int) ([]domain.ScoredChunk, error)
}
