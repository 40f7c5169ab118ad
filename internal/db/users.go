package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// GetUser retrieves a user by ID
func (db *DB) GetUser(ctx context.Context, userID string) (*User, error) {
	var u User
	err := db.pool.QueryRow(ctx,
		`SELECT id, name, email, credits FROM users WHERE id = $1`, userID,
	).Scan(&u.ID, &u.Name, &u.Email, &u.Credits)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, &ErrUserNotFound{UserID: userID}
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &u, nil
}

// CreateUser inserts a user row. User IDs come from the external auth
// provider; this exists for seeding and tests.
func (db *DB) CreateUser(ctx context.Context, id, name, email string, credits int) (*User, error) {
	var u User
	err := db.pool.QueryRow(ctx,
		`INSERT INTO users (id, name, email, credits)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, name, email, credits`,
		id, name, email, credits,
	).Scan(&u.ID, &u.Name, &u.Email, &u.Credits)
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return &u, nil
}

// AdjustUserCredits applies a relative credit change. The update is a single
// atomic statement, never read-then-write, so it cannot lose concurrent
// grants from the payment webhook.
func (db *DB) AdjustUserCredits(ctx context.Context, userID string, delta int) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE users SET credits = credits + $1, updated_at = NOW() WHERE id = $2`,
		delta, userID,
	)
	if err != nil {
		return fmt.Errorf("failed to adjust user credits: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &ErrUserNotFound{UserID: userID}
	}
	return nil
}
