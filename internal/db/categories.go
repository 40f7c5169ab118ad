package db

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

// execer is satisfied by both *pgxpool.Pool and pgx.Tx.
type execer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

// UpsertCategoriesByName inserts each category name if absent and returns the
// category IDs in input order. Re-inserting an existing name is a no-op, so
// the call is idempotent and safe under step replay.
func (db *DB) UpsertCategoriesByName(ctx context.Context, names []string) ([]string, error) {
	ids := make([]string, 0, len(names))
	for _, name := range names {
		var id string
		err := db.pool.QueryRow(ctx,
			`INSERT INTO categories (id, name)
			 VALUES ($1, $1)
			 ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
			 RETURNING id`,
			name,
		).Scan(&id)
		if err != nil {
			return nil, fmt.Errorf("failed to upsert category %q: %w", name, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// ReplaceSongCategories removes every prior association for the song and
// inserts the new set. With TransactionalCategoryReplace set the two
// statements share a transaction, so readers never observe the empty window.
func (db *DB) ReplaceSongCategories(ctx context.Context, songID uuid.UUID, categoryIDs []string) error {
	if !db.TransactionalCategoryReplace {
		return replaceSongCategories(ctx, db.pool, songID, categoryIDs)
	}

	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin category replace: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := replaceSongCategories(ctx, tx, songID, categoryIDs); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit category replace: %w", err)
	}
	return nil
}

func replaceSongCategories(ctx context.Context, q execer, songID uuid.UUID, categoryIDs []string) error {
	if _, err := q.Exec(ctx,
		`DELETE FROM song_categories WHERE song_id = $1`, songID); err != nil {
		return fmt.Errorf("failed to clear song categories: %w", err)
	}
	for _, categoryID := range categoryIDs {
		if _, err := q.Exec(ctx,
			`INSERT INTO song_categories (song_id, category_id)
			 VALUES ($1, $2)
			 ON CONFLICT DO NOTHING`,
			songID, categoryID); err != nil {
			return fmt.Errorf("failed to insert song category: %w", err)
		}
	}
	return nil
}

// ListSongCategories returns the category names associated with a song.
func (db *DB) ListSongCategories(ctx context.Context, songID uuid.UUID) ([]string, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT c.name FROM song_categories sc
		 JOIN categories c ON c.id = sc.category_id
		 WHERE sc.song_id = $1
		 ORDER BY c.name`,
		songID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list song categories: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan category: %w", err)
		}
		names = append(names, name)
	}
	return names, nil
}
