package store

import (
	"errors"
	"testing"
	"time"

	"shelfchat/pkg/domain"
)

func testBook(id, userID, title string) domain.Book {
	now := time.Now().UTC()
	return domain.Book{
		ID:               id,
		UserID:           userID,
		Type:             domain.RecordBookMetadata,
		Title:            title,
		Creator:          "Author",
		OriginalFilename: title + ".epub",
		Status:           domain.StatusReady,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

func testChunk(userID, bookID string, index int, text string, embedding []float32) domain.Chunk {
	return domain.Chunk{
		ID:        domain.ChunkID(userID, bookID, index),
		UserID:    userID,
		BookID:    bookID,
		Type:      domain.RecordBookChunk,
		Index:     index,
		Text:      text,
		Embedding: embedding,
		CreatedAt: time.Now().UTC(),
	}
}

func TestMemoryStoreUpsertBookOverwrites(t *testing.T) {
	s := NewMemoryStore()
	if err := s.UpsertBook(testBook("b1", "u1", "First")); err != nil {
		t.Fatalf("UpsertBook: %v", err)
	}
	updated := testBook("b1", "u1", "First, Revised")
	if err := s.UpsertBook(updated); err != nil {
		t.Fatalf("UpsertBook: %v", err)
	}

	books, err := s.ListBooksByUser("u1")
	if err != nil {
		t.Fatalf("ListBooksByUser: %v", err)
	}
	if len(books) != 1 {
		t.Fatalf("got %d books after re-upsert, want 1", len(books))
	}
	if books[0].Title != "First, Revised" {
		t.Fatalf("Title = %q, want overwrite", books[0].Title)
	}
}

func TestMemoryStoreTenantIsolation(t *testing.T) {
	s := NewMemoryStore()
	if err := s.UpsertBook(testBook("b1", "alice", "Hers")); err != nil {
		t.Fatalf("UpsertBook: %v", err)
	}
	if err := s.ReplaceChunks("alice", "b1", []domain.Chunk{
		testChunk("alice", "b1", 0, "private text", []float32{1, 0}),
	}); err != nil {
		t.Fatalf("ReplaceChunks: %v", err)
	}

	if _, ok, _ := s.GetBookForUser("b1", "bob"); ok {
		t.Fatal("bob can read alice's book")
	}
	if books, _ := s.ListBooksByUser("bob"); len(books) != 0 {
		t.Fatalf("bob lists %d of alice's books", len(books))
	}
	if hits, _ := s.SearchChunks("bob", "b1", []float32{1, 0}, 10); len(hits) != 0 {
		t.Fatalf("bob searched %d of alice's chunks", len(hits))
	}
	if err := s.DeleteBook("b1", "bob"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("DeleteBook by non-owner = %v, want ErrNotFound", err)
	}
	if _, ok, _ := s.GetBookForUser("b1", "alice"); !ok {
		t.Fatal("alice's book vanished after bob's delete attempt")
	}
}

func TestMemoryStoreReplaceChunksDropsStaleTail(t *testing.T) {
	s := NewMemoryStore()
	first := []domain.Chunk{
		testChunk("u1", "b1", 0, "zero", []float32{1, 0}),
		testChunk("u1", "b1", 1, "one", []float32{0, 1}),
		testChunk("u1", "b1", 2, "two", []float32{1, 1}),
	}
	if err := s.ReplaceChunks("u1", "b1", first); err != nil {
		t.Fatalf("ReplaceChunks: %v", err)
	}

	second := []domain.Chunk{
		testChunk("u1", "b1", 0, "zero again", []float32{1, 0}),
	}
	if err := s.ReplaceChunks("u1", "b1", second); err != nil {
		t.Fatalf("ReplaceChunks: %v", err)
	}

	chunks, err := s.ListChunksByBook("u1", "b1")
	if err != nil {
		t.Fatalf("ListChunksByBook: %v", err)
	}
	if len(chunks) != 1 {
		t.Fatalf("got %d chunks after shrinking replace, want 1", len(chunks))
	}
	if chunks[0].Text != "zero again" {
		t.Fatalf("Text = %q, want the replacement chunk", chunks[0].Text)
	}
}

func TestMemoryStoreDeleteBookRemovesChunks(t *testing.T) {
	s := NewMemoryStore()
	if err := s.UpsertBook(testBook("b1", "u1", "Doomed")); err != nil {
		t.Fatalf("UpsertBook: %v", err)
	}
	if err := s.ReplaceChunks("u1", "b1", []domain.Chunk{
		testChunk("u1", "b1", 0, "text", []float32{1, 0}),
	}); err != nil {
		t.Fatalf("ReplaceChunks: %v", err)
	}

	if err := s.DeleteBook("b1", "u1"); err != nil {
		t.Fatalf("DeleteBook: %v", err)
	}
	if chunks, _ := s.ListChunksByBook("u1", "b1"); len(chunks) != 0 {
		t.Fatalf("%d chunks survive book deletion", len(chunks))
	}
	if err := s.DeleteBook("b1", "u1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second DeleteBook = %v, want ErrNotFound", err)
	}
}

func TestMemoryStoreSearchRanksByCosineDistance(t *testing.T) {
	s := NewMemoryStore()
	if err := s.ReplaceChunks("u1", "b1", []domain.Chunk{
		testChunk("u1", "b1", 0, "exact", []float32{1, 0}),
		testChunk("u1", "b1", 1, "orthogonal", []float32{0, 1}),
		testChunk("u1", "b1", 2, "diagonal", []float32{1, 1}),
	}); err != nil {
		t.Fatalf("ReplaceChunks: %v", err)
	}

	hits, err := s.SearchChunks("u1", "b1", []float32{1, 0}, 2)
	if err != nil {
		t.Fatalf("SearchChunks: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("got %d hits, want 2", len(hits))
	}
	if hits[0].Text != "exact" || hits[1].Text != "diagonal" {
		t.Fatalf("ranking = [%s, %s], want [exact, diagonal]", hits[0].Text, hits[1].Text)
	}
	if hits[0].Distance >= hits[1].Distance {
		t.Fatalf("distances not ascending: %f then %f", hits[0].Distance, hits[1].Distance)
	}
}

func TestMemoryStoreSearchAcrossBooks(t *testing.T) {
	s := NewMemoryStore()
	if err := s.ReplaceChunks("u1", "b1", []domain.Chunk{
		testChunk("u1", "b1", 0, "first book", []float32{1, 0}),
	}); err != nil {
		t.Fatalf("ReplaceChunks: %v", err)
	}
	if err := s.ReplaceChunks("u1", "b2", []domain.Chunk{
		testChunk("u1", "b2", 0, "second book", []float32{0.9, 0.1}),
	}); err != nil {
		t.Fatalf("ReplaceChunks: %v", err)
	}

	hits, err := s.SearchChunks("u1", "", []float32{1, 0}, 10)
	if err != nil {
		t.Fatalf("SearchChunks: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("empty bookID searched %d chunks, want both books", len(hits))
	}
}
