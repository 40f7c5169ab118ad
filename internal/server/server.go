// Package server provides the HTTP REST API for songsmith.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/jonathan/songsmith/internal/db"
	"github.com/jonathan/songsmith/internal/workflow"
)

// SongStore is the persistence surface the handlers need.
type SongStore interface {
	CreateSong(ctx context.Context, input *db.CreateSongInput) (*db.Song, error)
	GetSong(ctx context.Context, songID uuid.UUID) (*db.Song, error)
	ListSongsByUser(ctx context.Context, userID string) ([]db.Song, error)
	ListSongCategories(ctx context.Context, songID uuid.UUID) ([]string, error)
	IncrementListenCount(ctx context.Context, songID uuid.UUID) error
	SetPublished(ctx context.Context, songID uuid.UUID, userID string, published bool) error
	RenameSong(ctx context.Context, songID uuid.UUID, userID, title string) error
	DeleteSong(ctx context.Context, songID uuid.UUID, userID string) (*db.Song, error)
	GetRun(ctx context.Context, runID uuid.UUID) (*workflow.Run, error)
}

// Dispatcher enqueues generation jobs.
type Dispatcher interface {
	Dispatch(ctx context.Context, jobName string, trig workflow.Trigger) (*workflow.Handle, error)
}

// BlobStore mints download URLs and removes stored objects.
type BlobStore interface {
	PresignGet(ctx context.Context, key string, expires time.Duration) (string, error)
	Delete(ctx context.Context, key string) error
}

// Server represents the HTTP server
type Server struct {
	httpServer *http.Server
	store      SongStore
	engine     Dispatcher
	blobs      BlobStore
	logger     *log.Logger
}

// Config holds server configuration
type Config struct {
	Port   int
	Store  SongStore
	Engine Dispatcher
	Blobs  BlobStore
	Logger *log.Logger
}

// New creates a new server instance
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(os.Stderr)
	}

	s := &Server{
		store:  cfg.Store,
		engine: cfg.Engine,
		blobs:  cfg.Blobs,
		logger: logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)

	// Song endpoints
	mux.HandleFunc("POST /songs", s.handleCreateSong)
	mux.HandleFunc("GET /songs", s.handleListSongs)
	mux.HandleFunc("GET /songs/{id}", s.handleGetSong)
	mux.HandleFunc("GET /songs/{id}/play", s.handlePlaySong)
	mux.HandleFunc("PATCH /songs/{id}/publish", s.handlePublishSong)
	mux.HandleFunc("PATCH /songs/{id}/title", s.handleRenameSong)
	mux.HandleFunc("DELETE /songs/{id}", s.handleDeleteSong)

	// Generation run status
	mux.HandleFunc("GET /runs/{id}", s.handleGetRun)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.withLogging(s.withCORS(mux)),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Handler exposes the configured handler for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start begins listening for requests and blocks until shutdown.
func (s *Server) Start() error {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-stop:
	}

	s.logger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	s.logger.Info("server stopped")
	return nil
}

// withCORS adds CORS headers
func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// withLogging adds request logging
func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Info("request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}

// handleHealth returns server health status
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.jsonResponse(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// jsonResponse writes a JSON response
func (s *Server) jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("failed to encode JSON response", "error", err)
	}
}

// errorResponse writes an error JSON response
func (s *Server) errorResponse(w http.ResponseWriter, status int, message string) {
	s.jsonResponse(w, status, map[string]string{"error": message})
}
