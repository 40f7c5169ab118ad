// Package generation routes songs to the external synthesis service and
// performs the outbound call.
package generation

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/jonathan/songsmith/internal/db"
)

// Mode tags which of the three mutually-exclusive input groups a song uses.
type Mode string

const (
	ModeDescription     Mode = "description"      // full described song
	ModeLyrics          Mode = "lyrics"           // explicit lyrics + style prompt
	ModeDescribedLyrics Mode = "described_lyrics" // lyrics description + style prompt
)

// RouteError indicates no input-mode combination matched. It is terminal: the
// job makes no external call for an unroutable song.
type RouteError struct {
	SongID uuid.UUID
}

func (e *RouteError) Error() string {
	return fmt.Sprintf("no generation endpoint matches song input: %s", e.SongID)
}

// Endpoints holds the synthesis endpoint URL for each input mode.
type Endpoints struct {
	FromDescription     string
	WithLyrics          string
	WithDescribedLyrics string
}

// For maps a mode to its endpoint. Total over the mode tags.
func (e Endpoints) For(mode Mode) string {
	switch mode {
	case ModeLyrics:
		return e.WithLyrics
	case ModeDescribedLyrics:
		return e.WithDescribedLyrics
	default:
		return e.FromDescription
	}
}

// ResolveMode determines a song's input mode. Full description wins over the
// prompt-based modes; both prompt modes require a non-empty prompt.
func ResolveMode(song *db.Song) (Mode, error) {
	switch {
	case populated(song.FullDescribedSong):
		return ModeDescription, nil
	case populated(song.Lyrics) && populated(song.Prompt):
		return ModeLyrics, nil
	case populated(song.DescribedLyrics) && populated(song.Prompt):
		return ModeDescribedLyrics, nil
	}
	return "", &RouteError{SongID: song.ID}
}

func populated(s *string) bool {
	return s != nil && *s != ""
}

// BuildRequest assembles the outbound request body from a song's generation
// parameters. Absent optional fields stay nil and are omitted on the wire.
func BuildRequest(song *db.Song) RequestBody {
	instrumental := song.Instrumental
	return RequestBody{
		GuidanceScale:     song.GuidanceScale,
		InferStep:         song.InferStep,
		AudioDuration:     song.AudioDuration,
		Seed:              song.Seed,
		FullDescribedSong: song.FullDescribedSong,
		Prompt:            song.Prompt,
		Lyrics:            song.Lyrics,
		DescribedLyrics:   song.DescribedLyrics,
		Instrumental:      &instrumental,
	}
}
