package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/jonathan/songsmith/internal/db"
	"github.com/jonathan/songsmith/internal/pipeline"
	"github.com/jonathan/songsmith/internal/workflow"
)

// CreateSongRequest represents the request body for POST /songs
type CreateSongRequest struct {
	UserID            string   `json:"user_id" validate:"required"`
	Prompt            string   `json:"prompt,omitempty"`
	Lyrics            string   `json:"lyrics,omitempty"`
	FullDescribedSong string   `json:"full_described_song,omitempty"`
	DescribedLyrics   string   `json:"described_lyrics,omitempty"`
	Instrumental      bool     `json:"instrumental,omitempty"`
	GuidanceScale     *float64 `json:"guidance_scale,omitempty" validate:"omitempty,gt=0"`
	InferStep         *float64 `json:"infer_step,omitempty" validate:"omitempty,gt=0"`
	AudioDuration     *float64 `json:"audio_duration,omitempty" validate:"omitempty,gt=0"`
	Seed              *float64 `json:"seed,omitempty"`
}

// Validate checks field constraints and that exactly one input-mode group is
// populated: a full description alone, lyrics plus a style prompt, or
// described lyrics plus a style prompt.
func (r *CreateSongRequest) Validate() error {
	validate := validator.New()
	if err := validate.Struct(r); err != nil {
		return err
	}

	switch {
	case r.FullDescribedSong != "":
		if r.Lyrics != "" || r.DescribedLyrics != "" || r.Prompt != "" {
			return errors.New("full_described_song cannot be combined with other song inputs")
		}
	case r.Lyrics != "":
		if r.DescribedLyrics != "" {
			return errors.New("lyrics and described_lyrics are mutually exclusive")
		}
		if r.Prompt == "" {
			return errors.New("lyrics requires a prompt")
		}
	case r.DescribedLyrics != "":
		if r.Prompt == "" {
			return errors.New("described_lyrics requires a prompt")
		}
	default:
		return errors.New("one of full_described_song, lyrics or described_lyrics is required")
	}
	return nil
}

// Title derives the song title from the descriptive inputs.
func (r *CreateSongRequest) Title() string {
	title := "Untitled"
	if r.DescribedLyrics != "" {
		title = r.DescribedLyrics
	}
	if r.FullDescribedSong != "" {
		title = r.FullDescribedSong
	}
	first, size := utf8.DecodeRuneInString(title)
	return string(unicode.ToUpper(first)) + title[size:]
}

// CreateSongResponse represents the response for POST /songs
type CreateSongResponse struct {
	SongID string `json:"song_id"`
	RunID  string `json:"run_id"`
	Status string `json:"status"`
}

// SongResponse is a song row plus its category names.
type SongResponse struct {
	db.Song
	Categories []string `json:"categories,omitempty"`
}

// RunStatusResponse represents the response for GET /runs/{id}
type RunStatusResponse struct {
	RunID       string `json:"run_id"`
	Job         string `json:"job"`
	Status      string `json:"status"`
	CreatedAt   string `json:"created_at"`
	CompletedAt string `json:"completed_at,omitempty"`
}

// handleCreateSong queues a song and dispatches its generation job.
func (s *Server) handleCreateSong(w http.ResponseWriter, r *http.Request) {
	var req CreateSongRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if err := req.Validate(); err != nil {
		s.errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	input := &db.CreateSongInput{
		UserID:            req.UserID,
		Title:             req.Title(),
		Instrumental:      req.Instrumental,
		Prompt:            optional(req.Prompt),
		Lyrics:            optional(req.Lyrics),
		FullDescribedSong: optional(req.FullDescribedSong),
		DescribedLyrics:   optional(req.DescribedLyrics),
		GuidanceScale:     req.GuidanceScale,
		InferStep:         req.InferStep,
		AudioDuration:     req.AudioDuration,
		Seed:              req.Seed,
	}
	if input.GuidanceScale == nil {
		input.GuidanceScale = float64Ptr(15)
	}
	if input.AudioDuration == nil {
		input.AudioDuration = float64Ptr(180)
	}

	song, err := s.store.CreateSong(r.Context(), input)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "Failed to create song: "+err.Error())
		return
	}

	handle, err := s.engine.Dispatch(r.Context(), pipeline.JobGenerateSong, workflow.Trigger{
		SongID: song.ID,
		UserID: song.UserID,
	})
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "Failed to dispatch generation: "+err.Error())
		return
	}

	s.jsonResponse(w, http.StatusAccepted, CreateSongResponse{
		SongID: song.ID.String(),
		RunID:  handle.RunID.String(),
		Status: song.Status,
	})
}

// handleListSongs lists a user's songs, newest first.
func (s *Server) handleListSongs(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		s.errorResponse(w, http.StatusBadRequest, "user_id query parameter is required")
		return
	}

	songs, err := s.store.ListSongsByUser(r.Context(), userID)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "Failed to list songs: "+err.Error())
		return
	}

	s.jsonResponse(w, http.StatusOK, map[string]any{"songs": songs})
}

// handleGetSong returns one song with its categories.
func (s *Server) handleGetSong(w http.ResponseWriter, r *http.Request) {
	songID, ok := s.songIDFromPath(w, r)
	if !ok {
		return
	}

	song, err := s.store.GetSong(r.Context(), songID)
	if err != nil {
		s.songStoreError(w, err)
		return
	}

	categories, err := s.store.ListSongCategories(r.Context(), songID)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "Failed to load categories: "+err.Error())
		return
	}

	s.jsonResponse(w, http.StatusOK, SongResponse{Song: *song, Categories: categories})
}

// handlePlaySong returns a presigned audio URL and bumps the listen count.
// A song is playable by its owner, or by anyone once published.
func (s *Server) handlePlaySong(w http.ResponseWriter, r *http.Request) {
	songID, ok := s.songIDFromPath(w, r)
	if !ok {
		return
	}
	userID := r.URL.Query().Get("user_id")

	song, err := s.store.GetSong(r.Context(), songID)
	if err != nil {
		s.songStoreError(w, err)
		return
	}
	if song.UserID != userID && !song.Published {
		s.errorResponse(w, http.StatusNotFound, "Song not found")
		return
	}
	if song.S3Key == nil || *song.S3Key == "" {
		s.errorResponse(w, http.StatusNotFound, "Song audio not available")
		return
	}

	if err := s.store.IncrementListenCount(r.Context(), songID); err != nil {
		s.logger.Error("failed to increment listen count", "song_id", songID, "error", err)
	}

	url, err := s.blobs.PresignGet(r.Context(), *song.S3Key, time.Hour)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "Failed to presign URL: "+err.Error())
		return
	}

	s.jsonResponse(w, http.StatusOK, map[string]string{"url": url})
}

// PublishSongRequest represents the request body for PATCH /songs/{id}/publish
type PublishSongRequest struct {
	UserID    string `json:"user_id" validate:"required"`
	Published bool   `json:"published"`
}

func (s *Server) handlePublishSong(w http.ResponseWriter, r *http.Request) {
	songID, ok := s.songIDFromPath(w, r)
	if !ok {
		return
	}

	var req PublishSongRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if err := validator.New().Struct(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.store.SetPublished(r.Context(), songID, req.UserID, req.Published); err != nil {
		s.songStoreError(w, err)
		return
	}

	s.jsonResponse(w, http.StatusOK, map[string]any{"id": songID.String(), "published": req.Published})
}

// RenameSongRequest represents the request body for PATCH /songs/{id}/title
type RenameSongRequest struct {
	UserID string `json:"user_id" validate:"required"`
	Title  string `json:"title" validate:"required"`
}

func (s *Server) handleRenameSong(w http.ResponseWriter, r *http.Request) {
	songID, ok := s.songIDFromPath(w, r)
	if !ok {
		return
	}

	var req RenameSongRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if err := validator.New().Struct(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.store.RenameSong(r.Context(), songID, req.UserID, req.Title); err != nil {
		s.songStoreError(w, err)
		return
	}

	s.jsonResponse(w, http.StatusOK, map[string]string{"id": songID.String(), "title": req.Title})
}

// handleDeleteSong removes a song row and best-effort deletes its blobs.
func (s *Server) handleDeleteSong(w http.ResponseWriter, r *http.Request) {
	songID, ok := s.songIDFromPath(w, r)
	if !ok {
		return
	}
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		s.errorResponse(w, http.StatusBadRequest, "user_id query parameter is required")
		return
	}

	song, err := s.store.DeleteSong(r.Context(), songID, userID)
	if err != nil {
		s.songStoreError(w, err)
		return
	}

	for _, key := range []*string{song.S3Key, song.ThumbnailS3Key} {
		if key == nil || *key == "" {
			continue
		}
		if err := s.blobs.Delete(r.Context(), *key); err != nil {
			s.logger.Error("failed to delete blob", "key", *key, "error", err)
		}
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleGetRun returns the status of a generation run.
func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	runID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, "Invalid run ID format")
		return
	}

	run, err := s.store.GetRun(r.Context(), runID)
	if err != nil {
		if errors.Is(err, workflow.ErrRunNotFound) {
			s.errorResponse(w, http.StatusNotFound, "Run not found")
			return
		}
		s.errorResponse(w, http.StatusInternalServerError, "Database error: "+err.Error())
		return
	}
	if run == nil {
		s.errorResponse(w, http.StatusNotFound, "Run not found")
		return
	}

	resp := RunStatusResponse{
		RunID:     run.ID.String(),
		Job:       run.Job,
		Status:    run.Status,
		CreatedAt: run.CreatedAt.Format(time.RFC3339),
	}
	if run.CompletedAt != nil {
		resp.CompletedAt = run.CompletedAt.Format(time.RFC3339)
	}
	s.jsonResponse(w, http.StatusOK, resp)
}

// songIDFromPath parses the {id} path segment, writing a 400 on failure.
func (s *Server) songIDFromPath(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	songID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, "Invalid song ID format")
		return uuid.Nil, false
	}
	return songID, true
}

// songStoreError maps store errors to HTTP responses.
func (s *Server) songStoreError(w http.ResponseWriter, err error) {
	var notFound *db.ErrSongNotFound
	if errors.As(err, &notFound) {
		s.errorResponse(w, http.StatusNotFound, "Song not found")
		return
	}
	s.errorResponse(w, http.StatusInternalServerError, "Database error: "+err.Error())
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func float64Ptr(v float64) *float64 {
	return &v
}
