package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"

	"shelfchat/internal/util"
	"shelfchat/pkg/ai"
	"shelfchat/pkg/covers"
	"shelfchat/pkg/domain"
	"shelfchat/pkg/queue"
	"shelfchat/pkg/storage"
	"shelfchat/pkg/store"
)

const defaultTopK = 5

// JobQueue is the queue surface the server needs.
type JobQueue interface {
	Enqueue(ctx context.Context, job queue.IngestJob) (queue.JobStatus, error)
	GetJob(ctx context.Context, jobID string) (queue.JobStatus, bool, error)
}

// Config wires required dependencies for the HTTP server.
type Config struct {
	Store          store.Store
	Objects        storage.ObjectStore
	Queue          JobQueue
	Embedder       ai.Embedder
	Covers         *covers.FileStore
	MaxUploadBytes int64
}

// Server exposes the book library HTTP API.
type Server struct {
	store          store.Store
	objects        storage.ObjectStore
	queue          JobQueue
	embedder       ai.Embedder
	covers         *covers.FileStore
	mux            *http.ServeMux
	maxUploadBytes int64
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	if cfg.Store == nil {
		return nil, errors.New("server: store is required")
	}
	if cfg.Objects == nil {
		return nil, errors.New("server: object store is required")
	}
	if cfg.Queue == nil {
		return nil, errors.New("server: job queue is required")
	}
	if cfg.Embedder == nil {
		return nil, errors.New("server: embedder is required")
	}
	if cfg.Covers == nil {
		return nil, errors.New("server: cover store is required")
	}
	maxBytes := cfg.MaxUploadBytes
	if maxBytes <= 0 {
		maxBytes = 100 << 20
	}
	s := &Server{
		store:          cfg.Store,
		objects:        cfg.Objects,
		queue:          cfg.Queue,
		embedder:       cfg.Embedder,
		covers:         cfg.Covers,
		mux:            http.NewServeMux(),
		maxUploadBytes: maxBytes,
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler with middleware applied.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog("server", util.WithSecurityHeaders(util.WithCORS(s.mux))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.HandleFunc("/api/users/", s.handleUsers)
	s.mux.HandleFunc("/api/jobs/", s.handleJobByID)
	s.mux.Handle("/covers/", http.StripPrefix("/covers/", http.FileServer(http.Dir(s.covers.Dir()))))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleUsers dispatches /api/users/{userID}/books[...] paths.
func (s *Server) handleUsers(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/users/")
	parts := strings.Split(rest, "/")
	if len(parts) < 2 || parts[0] == "" || parts[1] != "books" {
		http.NotFound(w, r)
		return
	}
	userID := parts[0]

	switch {
	case len(parts) == 2:
		// /api/users/{userID}/books
		switch r.Method {
		case http.MethodPost:
			s.handleUploadBook(w, r, userID)
		case http.MethodGet:
			s.handleListBooks(w, r, userID)
		default:
			methodNotAllowed(w)
		}
	case len(parts) == 3 && parts[2] != "":
		// /api/users/{userID}/books/{bookID}
		if r.Method != http.MethodDelete {
			methodNotAllowed(w)
			return
		}
		s.handleDeleteBook(w, r, userID, parts[2])
	case len(parts) == 4 && parts[2] != "" && parts[3] == "search":
		// /api/users/{userID}/books/{bookID}/search
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		s.handleSearchChunks(w, r, userID, parts[2])
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handleUploadBook(w http.ResponseWriter, r *http.Request, userID string) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "invalid form data")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required (field: file)")
		return
	}
	defer file.Close()
	if strings.ToLower(filepath.Ext(header.Filename)) != ".epub" {
		writeError(w, http.StatusBadRequest, "unsupported file type, expected .epub")
		return
	}

	bookID := util.NewID()
	storageKey := fmt.Sprintf("books/%s/%s.epub", userID, bookID)
	if err := s.objects.Put(r.Context(), storageKey, file, header.Size, "application/epub+zip"); err != nil {
		slog.Error("store upload", "error", err, "book_id", bookID)
		writeError(w, http.StatusInternalServerError, "failed to store upload")
		return
	}

	book := domain.Book{
		ID:               bookID,
		UserID:           userID,
		Type:             domain.RecordBookMetadata,
		OriginalFilename: header.Filename,
		StorageKey:       storageKey,
		Status:           domain.StatusQueued,
		SizeBytes:        header.Size,
	}
	if err := s.store.UpsertBook(book); err != nil {
		slog.Error("create book record", "error", err, "book_id", bookID)
		writeError(w, http.StatusInternalServerError, "failed to create book record")
		return
	}

	job, err := s.queue.Enqueue(r.Context(), queue.IngestJob{
		UserID:     userID,
		BookID:     bookID,
		Filename:   header.Filename,
		StorageKey: storageKey,
	})
	if err != nil {
		slog.Error("enqueue ingest job", "error", err, "book_id", bookID)
		writeError(w, http.StatusInternalServerError, "failed to enqueue ingestion")
		return
	}
	slog.Info("book upload accepted", "book_id", bookID, "job_id", job.ID, "user_id", userID, "filename", header.Filename)
	writeJSON(w, http.StatusAccepted, map[string]string{
		"bookId": bookID,
		"jobId":  job.ID,
	})
}

func (s *Server) handleListBooks(w http.ResponseWriter, _ *http.Request, userID string) {
	books, err := s.store.ListBooksByUser(userID)
	if err != nil {
		slog.Error("list books", "error", err, "user_id", userID)
		writeError(w, http.StatusInternalServerError, "failed to list books")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": books,
		"count": len(books),
	})
}

func (s *Server) handleDeleteBook(w http.ResponseWriter, r *http.Request, userID, bookID string) {
	book, ok, err := s.store.GetBookForUser(bookID, userID)
	if err != nil {
		slog.Error("load book", "error", err, "book_id", bookID)
		writeError(w, http.StatusInternalServerError, "failed to load book")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "book not found")
		return
	}
	if err := s.store.DeleteBook(bookID, userID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "book not found")
			return
		}
		slog.Error("delete book", "error", err, "book_id", bookID)
		writeError(w, http.StatusInternalServerError, "failed to delete book")
		return
	}
	if book.StorageKey != "" {
		if err := s.objects.Delete(r.Context(), book.StorageKey); err != nil {
			slog.Warn("delete stored file", "error", err, "book_id", bookID)
		}
	}
	if err := s.covers.Delete(bookID); err != nil {
		slog.Warn("delete cover", "error", err, "book_id", bookID)
	}
	w.WriteHeader(http.StatusNoContent)
}

type searchRequest struct {
	Query string `json:"query"`
	TopK  int    `json:"topK"`
}

type searchHit struct {
	ChunkIndex int     `json:"chunkIndex"`
	Text       string  `json:"text"`
	Distance   float64 `json:"distance"`
}

func (s *Server) handleSearchChunks(w http.ResponseWriter, r *http.Request, userID, bookID string) {
	var req searchRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}
	if req.TopK <= 0 {
		req.TopK = defaultTopK
	}
	if _, ok, err := s.store.GetBookForUser(bookID, userID); err != nil {
		slog.Error("load book", "error", err, "book_id", bookID)
		writeError(w, http.StatusInternalServerError, "failed to load book")
		return
	} else if !ok {
		writeError(w, http.StatusNotFound, "book not found")
		return
	}
	embedding, err := s.embedder.EmbedText(r.Context(), req.Query)
	if err != nil {
		slog.Error("embed query", "error", err, "book_id", bookID)
		writeError(w, http.StatusBadGateway, "failed to embed query")
		return
	}
	scored, err := s.store.SearchChunks(userID, bookID, embedding, req.TopK)
	if err != nil {
		slog.Error("search chunks", "error", err, "book_id", bookID)
		writeError(w, http.StatusInternalServerError, "search failed")
		return
	}
	hits := make([]searchHit, 0, len(scored))
	for _, sc := range scored {
		hits = append(hits, searchHit{
			ChunkIndex: sc.Index,
			Text:       sc.Text,
			Distance:   sc.Distance,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": hits,
		"count": len(hits),
	})
}

func (s *Server) handleJobByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/api/jobs/")
	if id == "" || strings.Contains(id, "/") {
		http.NotFound(w, r)
		return
	}
	job, ok, err := s.queue.GetJob(r.Context(), id)
	if err != nil {
		slog.Error("get job", "error", err, "job_id", id)
		writeError(w, http.StatusInternalServerError, "failed to load job")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
