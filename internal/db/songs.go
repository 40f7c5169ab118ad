package db

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const songColumns = `id, user_id, title, s3_key, thumbnail_s3_key, status, instrumental,
	prompt, lyrics, full_described_song, described_lyrics,
	guidance_scale, infer_step, audio_duration, seed,
	published, listen_count, created_at, updated_at`

func scanSong(row pgx.Row) (*Song, error) {
	var s Song
	err := row.Scan(&s.ID, &s.UserID, &s.Title, &s.S3Key, &s.ThumbnailS3Key, &s.Status,
		&s.Instrumental, &s.Prompt, &s.Lyrics, &s.FullDescribedSong, &s.DescribedLyrics,
		&s.GuidanceScale, &s.InferStep, &s.AudioDuration, &s.Seed,
		&s.Published, &s.ListenCount, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// CreateSong inserts a queued song row and returns it
func (db *DB) CreateSong(ctx context.Context, input *CreateSongInput) (*Song, error) {
	row := db.pool.QueryRow(ctx,
		`INSERT INTO songs (id, user_id, title, status, instrumental,
		                    prompt, lyrics, full_described_song, described_lyrics,
		                    guidance_scale, infer_step, audio_duration, seed)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		 RETURNING `+songColumns,
		uuid.New(), input.UserID, input.Title, StatusQueued, input.Instrumental,
		input.Prompt, input.Lyrics, input.FullDescribedSong, input.DescribedLyrics,
		input.GuidanceScale, input.InferStep, input.AudioDuration, input.Seed,
	)
	song, err := scanSong(row)
	if err != nil {
		return nil, fmt.Errorf("failed to create song: %w", err)
	}
	return song, nil
}

// GetSong retrieves a song by ID
func (db *DB) GetSong(ctx context.Context, songID uuid.UUID) (*Song, error) {
	row := db.pool.QueryRow(ctx,
		`SELECT `+songColumns+` FROM songs WHERE id = $1`, songID)
	song, err := scanSong(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, &ErrSongNotFound{SongID: songID}
		}
		return nil, fmt.Errorf("failed to get song: %w", err)
	}
	return song, nil
}

// GetSongWithUser loads a song and its owning user in one query
func (db *DB) GetSongWithUser(ctx context.Context, songID uuid.UUID) (*Song, *User, error) {
	var s Song
	var u User
	err := db.pool.QueryRow(ctx,
		`SELECT s.id, s.user_id, s.title, s.s3_key, s.thumbnail_s3_key, s.status, s.instrumental,
		        s.prompt, s.lyrics, s.full_described_song, s.described_lyrics,
		        s.guidance_scale, s.infer_step, s.audio_duration, s.seed,
		        s.published, s.listen_count, s.created_at, s.updated_at,
		        u.id, u.name, u.email, u.credits
		 FROM songs s
		 JOIN users u ON u.id = s.user_id
		 WHERE s.id = $1`,
		songID,
	).Scan(&s.ID, &s.UserID, &s.Title, &s.S3Key, &s.ThumbnailS3Key, &s.Status,
		&s.Instrumental, &s.Prompt, &s.Lyrics, &s.FullDescribedSong, &s.DescribedLyrics,
		&s.GuidanceScale, &s.InferStep, &s.AudioDuration, &s.Seed,
		&s.Published, &s.ListenCount, &s.CreatedAt, &s.UpdatedAt,
		&u.ID, &u.Name, &u.Email, &u.Credits)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil, &ErrSongNotFound{SongID: songID}
		}
		return nil, nil, fmt.Errorf("failed to get song with user: %w", err)
	}
	return &s, &u, nil
}

// SetSongStatus updates only the song status
func (db *DB) SetSongStatus(ctx context.Context, songID uuid.UUID, status string) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE songs SET status = $1, updated_at = NOW() WHERE id = $2`,
		status, songID,
	)
	if err != nil {
		return fmt.Errorf("failed to set song status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &ErrSongNotFound{SongID: songID}
	}
	return nil
}

// SetSongResult stores the blob keys returned by the generation service and
// the terminal status in one write
func (db *DB) SetSongResult(ctx context.Context, songID uuid.UUID, s3Key, thumbnailKey, status string) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE songs SET s3_key = $1, thumbnail_s3_key = $2, status = $3, updated_at = NOW()
		 WHERE id = $4`,
		s3Key, thumbnailKey, status, songID,
	)
	if err != nil {
		return fmt.Errorf("failed to set song result: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &ErrSongNotFound{SongID: songID}
	}
	return nil
}

// IncrementListenCount bumps the listen counter with a relative update so
// concurrent listens are never lost
func (db *DB) IncrementListenCount(ctx context.Context, songID uuid.UUID) error {
	_, err := db.pool.Exec(ctx,
		`UPDATE songs SET listen_count = listen_count + 1 WHERE id = $1`, songID)
	if err != nil {
		return fmt.Errorf("failed to increment listen count: %w", err)
	}
	return nil
}

// SetPublished updates the published flag for a song owned by userID
func (db *DB) SetPublished(ctx context.Context, songID uuid.UUID, userID string, published bool) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE songs SET published = $1, updated_at = NOW() WHERE id = $2 AND user_id = $3`,
		published, songID, userID,
	)
	if err != nil {
		return fmt.Errorf("failed to set published: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &ErrSongNotFound{SongID: songID}
	}
	return nil
}

// RenameSong updates the title for a song owned by userID
func (db *DB) RenameSong(ctx context.Context, songID uuid.UUID, userID, title string) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE songs SET title = $1, updated_at = NOW() WHERE id = $2 AND user_id = $3`,
		title, songID, userID,
	)
	if err != nil {
		return fmt.Errorf("failed to rename song: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &ErrSongNotFound{SongID: songID}
	}
	return nil
}

// DeleteSong removes a song owned by userID and returns the deleted row so
// the caller can clean up its blobs
func (db *DB) DeleteSong(ctx context.Context, songID uuid.UUID, userID string) (*Song, error) {
	row := db.pool.QueryRow(ctx,
		`DELETE FROM songs WHERE id = $1 AND user_id = $2 RETURNING `+songColumns,
		songID, userID,
	)
	song, err := scanSong(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, &ErrSongNotFound{SongID: songID}
		}
		return nil, fmt.Errorf("failed to delete song: %w", err)
	}
	return song, nil
}

// ListSongsByUser retrieves a user's songs, newest first
func (db *DB) ListSongsByUser(ctx context.Context, userID string) ([]Song, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+songColumns+` FROM songs WHERE user_id = $1 ORDER BY created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list songs: %w", err)
	}
	defer rows.Close()

	var songs []Song
	for rows.Next() {
		song, err := scanSong(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan song: %w", err)
		}
		songs = append(songs, *song)
	}
	return songs, nil
}
