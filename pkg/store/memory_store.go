package store

import (
	"math"
	"sort"
	"sync"
	"time"

	"shelfchat/pkg/domain"
)

// MemoryStore keeps books and chunks in-process. It implements the same
// contract as GormStore, ranking searches by cosine distance computed
// locally; it backs single-node deployments without Postgres, and tests.
type MemoryStore struct {
	mu     sync.RWMutex
	books  map[string]domain.Book
	chunks map[string][]domain.Chunk // bookID -> chunks in index order
	orders []string                  // book insertion order
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		books:  make(map[string]domain.Book),
		chunks: make(map[string][]domain.Chunk),
	}
}

// UpsertBook stores or replaces a book record and tracks insertion order.
func (m *MemoryStore) UpsertBook(b domain.Book) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.books[b.ID]; !exists {
		m.orders = append(m.orders, b.ID)
	}
	m.books[b.ID] = b
	return nil
}

// SetBookStatus updates status and optional error message.
func (m *MemoryStore) SetBookStatus(id string, status domain.BookStatus, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	book, ok := m.books[id]
	if !ok {
		return nil
	}
	book.Status = status
	book.ErrorMessage = errMsg
	book.UpdatedAt = time.Now().UTC()
	m.books[id] = book
	return nil
}

// GetBookForUser retrieves a book the user owns.
func (m *MemoryStore) GetBookForUser(id, userID string) (domain.Book, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	book, ok := m.books[id]
	if !ok || book.UserID != userID {
		return domain.Book{}, false, nil
	}
	return book, true, nil
}

// ListBooksByUser returns the user's books in insertion order.
func (m *MemoryStore) ListBooksByUser(userID string) ([]domain.Book, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Book, 0, len(m.orders))
	for _, id := range m.orders {
		if b, ok := m.books[id]; ok && b.UserID == userID {
			res = append(res, b)
		}
	}
	return res, nil
}

// DeleteBook removes the book and its chunks after verifying ownership.
func (m *MemoryStore) DeleteBook(id, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	book, ok := m.books[id]
	if !ok || book.UserID != userID {
		return ErrNotFound
	}
	delete(m.books, id)
	delete(m.chunks, id)
	for i, orderedID := range m.orders {
		if orderedID == id {
			m.orders = append(m.orders[:i], m.orders[i+1:]...)
			break
		}
	}
	return nil
}

// ReplaceChunks swaps the full chunk set for a book.
func (m *MemoryStore) ReplaceChunks(userID, bookID string, chunks []domain.Chunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := make([]domain.Chunk, 0, len(chunks))
	for _, chunk := range chunks {
		chunk.UserID = userID
		chunk.BookID = bookID
		kept = append(kept, chunk)
	}
	sort.SliceStable(kept, func(i, j int) bool { return kept[i].Index < kept[j].Index })
	if len(kept) == 0 {
		delete(m.chunks, bookID)
		return nil
	}
	m.chunks[bookID] = kept
	return nil
}

// ListChunksByBook returns the user's chunks for a book in index order.
func (m *MemoryStore) ListChunksByBook(userID, bookID string) ([]domain.Chunk, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var res []domain.Chunk
	for _, chunk := range m.chunks[bookID] {
		if chunk.UserID == userID {
			res = append(res, chunk)
		}
	}
	return res, nil
}

// SearchChunks ranks the user's chunks by cosine distance to the query.
func (m *MemoryStore) SearchChunks(userID, bookID string, embedding []float32, limit int) ([]domain.ScoredChunk, error) {
	if limit <= 0 {
		return []domain.ScoredChunk{}, nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var hits []domain.ScoredChunk
	for id, chunks := range m.chunks {
		if bookID != "" && id != bookID {
			continue
		}
		for _, chunk := range chunks {
			if chunk.UserID != userID || len(chunk.Embedding) == 0 {
				continue
			}
			hits = append(hits, domain.ScoredChunk{
				Chunk:    chunk,
				Distance: cosineDistance(embedding, chunk.Embedding),
			})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Distance < hits[j].Distance })
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func cosineDistance(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return math.MaxFloat64
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return math.MaxFloat64
	}
	return 1 - dot/(math.Sqrt(normA)*math.Sqrt(normB))
}
