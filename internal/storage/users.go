package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ashita-ai/madoguchi/internal/model"
)

// ErrDuplicateUsername is returned when registering a username that
// already exists.
var ErrDuplicateUsername = errors.New("storage: username already taken")

// CreateUser inserts a new user row.
func (db *DB) CreateUser(ctx context.Context, user model.User) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO users (id, username, password_hash, role, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		user.ID, user.Username, user.PasswordHash, user.Role, user.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" { // unique_violation
			return fmt.Errorf("%w: %s", ErrDuplicateUsername, user.Username)
		}
		return fmt.Errorf("storage: create user: %w", err)
	}
	return nil
}

// GetUserByUsername returns the user with the given username, or
// model.ErrNotFound.
func (db *DB) GetUserByUsername(ctx context.Context, username string) (model.User, error) {
	var user model.User
	err := db.pool.QueryRow(ctx,
		`SELECT id, username, password_hash, role, created_at
		 FROM users WHERE username = $1`,
		username,
	).Scan(&user.ID, &user.Username, &user.PasswordHash, &user.Role, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.User{}, model.ErrNotFound
		}
		return model.User{}, fmt.Errorf("storage: get user %s: %w", username, err)
	}
	return user, nil
}
