package db

import (
	"time"

	"github.com/google/uuid"
)

// Song status constants. A song starts as queued and ends in exactly one of
// the three terminal states.
const (
	StatusQueued     = "queued"
	StatusProcessing = "processing"
	StatusProcessed  = "processed"
	StatusFailed     = "failed"
	StatusNoCredits  = "no_credits"
)

// IsTerminalStatus reports whether a song status admits no further transitions.
func IsTerminalStatus(status string) bool {
	switch status {
	case StatusProcessed, StatusFailed, StatusNoCredits:
		return true
	}
	return false
}

// Song represents a song row. Exactly one of the three input-mode field
// groups (FullDescribedSong / Lyrics+Prompt / DescribedLyrics+Prompt) is
// populated at creation time.
type Song struct {
	ID                uuid.UUID `json:"id"`
	UserID            string    `json:"user_id"`
	Title             string    `json:"title"`
	S3Key             *string   `json:"s3_key,omitempty"`
	ThumbnailS3Key    *string   `json:"thumbnail_s3_key,omitempty"`
	Status            string    `json:"status"`
	Instrumental      bool      `json:"instrumental"`
	Prompt            *string   `json:"prompt,omitempty"`
	Lyrics            *string   `json:"lyrics,omitempty"`
	FullDescribedSong *string   `json:"full_described_song,omitempty"`
	DescribedLyrics   *string   `json:"described_lyrics,omitempty"`
	GuidanceScale     *float64  `json:"guidance_scale,omitempty"`
	InferStep         *float64  `json:"infer_step,omitempty"`
	AudioDuration     *float64  `json:"audio_duration,omitempty"`
	Seed              *float64  `json:"seed,omitempty"`
	Published         bool      `json:"published"`
	ListenCount       int       `json:"listen_count"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// User represents a user row. User IDs are opaque strings issued by the
// external auth provider. Credits never go negative through this store.
type User struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Email   string `json:"email"`
	Credits int    `json:"credits"`
}

// Category is keyed by its unique name; the ID equals the name so repeated
// upserts of the same name are no-ops.
type Category struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// CreateSongInput holds the fields for inserting a queued song.
type CreateSongInput struct {
	UserID            string
	Title             string
	Instrumental      bool
	Prompt            *string
	Lyrics            *string
	FullDescribedSong *string
	DescribedLyrics   *string
	GuidanceScale     *float64
	InferStep         *float64
	AudioDuration     *float64
	Seed              *float64
}
