package db

import (
	"fmt"

	"github.com/google/uuid"
)

// ErrSongNotFound indicates the song row is missing.
type ErrSongNotFound struct {
	SongID uuid.UUID
}

func (e *ErrSongNotFound) Error() string {
	return fmt.Sprintf("song not found: %s", e.SongID)
}

// ErrUserNotFound indicates the user row is missing.
type ErrUserNotFound struct {
	UserID string
}

func (e *ErrUserNotFound) Error() string {
	return fmt.Sprintf("user not found: %s", e.UserID)
}
