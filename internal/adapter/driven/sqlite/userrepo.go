package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pacphi/ampel-sub003/internal/domain/model"
	"github.com/pacphi/ampel-sub003/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.UserStore = (*UserRepo)(nil)

// UserRepo is the SQLite implementation of the UserStore port interface.
type UserRepo struct {
	db *DB
}

// NewUserRepo creates a new UserRepo backed by the given DB.
func NewUserRepo(db *DB) *UserRepo {
	return &UserRepo{db: db}
}

// Create inserts a new user. Email is stored exactly as given; callers are
// responsible for case-normalization before calling this method.
func (r *UserRepo) Create(ctx context.Context, user model.User) (model.User, error) {
	const query = `
		INSERT INTO users (email, password_hash, display_name, role, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	now := time.Now().UTC()
	role := user.Role
	if role == "" {
		role = model.RoleUser
	}

	result, err := r.db.Writer.ExecContext(ctx, query, user.Email, user.PasswordHash, user.DisplayName, role, now, now)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return model.User{}, fmt.Errorf("create user %s: %w", user.Email, driven.ErrUserConflict)
		}
		return model.User{}, fmt.Errorf("create user %s: %w", user.Email, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return model.User{}, fmt.Errorf("last insert id: %w", err)
	}

	user.ID = id
	user.Role = role
	user.CreatedAt = now
	user.UpdatedAt = now
	return user, nil
}

// GetByID retrieves a user by id. Returns nil, nil if it does not exist.
func (r *UserRepo) GetByID(ctx context.Context, id int64) (*model.User, error) {
	const query = userSelect + ` WHERE id = ?`

	user, err := scanUser(r.db.Reader.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user %d: %w", id, err)
	}
	return user, nil
}

// GetByEmail retrieves a user by email. Returns nil, nil if it does not exist.
func (r *UserRepo) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	const query = userSelect + ` WHERE email = ?`

	user, err := scanUser(r.db.Reader.QueryRowContext(ctx, query, email))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user by email %s: %w", email, err)
	}
	return user, nil
}

// UpdateDisplayName changes a user's display name in place.
func (r *UserRepo) UpdateDisplayName(ctx context.Context, id int64, displayName string) error {
	const query = `UPDATE users SET display_name = ?, updated_at = ? WHERE id = ?`
	_, err := r.db.Writer.ExecContext(ctx, query, displayName, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update display name for user %d: %w", id, err)
	}
	return nil
}

const userSelect = `SELECT id, email, password_hash, display_name, role, created_at, updated_at FROM users`

func scanUser(s scanner) (*model.User, error) {
	var user model.User
	var createdAt, updatedAt string

	err := s.Scan(&user.ID, &user.Email, &user.PasswordHash, &user.DisplayName, &user.Role, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	if user.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if user.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}

	return &user, nil
}

// Compile-time interface satisfaction check.
var _ driven.RefreshTokenStore = (*RefreshTokenRepo)(nil)

// RefreshTokenRepo is the SQLite implementation of the RefreshTokenStore port interface.
type RefreshTokenRepo struct {
	db *DB
}

// NewRefreshTokenRepo creates a new RefreshTokenRepo backed by the given DB.
func NewRefreshTokenRepo(db *DB) *RefreshTokenRepo {
	return &RefreshTokenRepo{db: db}
}

// Create inserts a new refresh token record, storing only its hash.
func (r *RefreshTokenRepo) Create(ctx context.Context, token model.RefreshToken) (model.RefreshToken, error) {
	const query = `
		INSERT INTO refresh_tokens (user_id, hash, expires_at, created_at)
		VALUES (?, ?, ?, ?)
	`

	now := time.Now().UTC()
	result, err := r.db.Writer.ExecContext(ctx, query, token.UserID, token.Hash, token.ExpiresAt.UTC(), now)
	if err != nil {
		return model.RefreshToken{}, fmt.Errorf("create refresh token for user %d: %w", token.UserID, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return model.RefreshToken{}, fmt.Errorf("last insert id: %w", err)
	}

	token.ID = id
	token.CreatedAt = now
	return token, nil
}

// GetByHash returns the refresh token matching the given hash, or nil if none exists.
func (r *RefreshTokenRepo) GetByHash(ctx context.Context, hash string) (*model.RefreshToken, error) {
	const query = `SELECT id, user_id, hash, expires_at, revoked_at, created_at FROM refresh_tokens WHERE hash = ?`

	row := r.db.Reader.QueryRowContext(ctx, query, hash)
	var token model.RefreshToken
	var expiresAt, createdAt string
	var revokedAt sql.NullString

	err := row.Scan(&token.ID, &token.UserID, &token.Hash, &expiresAt, &revokedAt, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get refresh token: %w", err)
	}

	if token.ExpiresAt, err = parseTime(expiresAt); err != nil {
		return nil, fmt.Errorf("parse expires_at: %w", err)
	}
	if token.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if revokedAt.Valid {
		if token.RevokedAt, err = parseTime(revokedAt.String); err != nil {
			return nil, fmt.Errorf("parse revoked_at: %w", err)
		}
	}

	return &token, nil
}

// Revoke marks a single refresh token as revoked.
func (r *RefreshTokenRepo) Revoke(ctx context.Context, hash string) error {
	const query = `UPDATE refresh_tokens SET revoked_at = ? WHERE hash = ?`
	_, err := r.db.Writer.ExecContext(ctx, query, time.Now().UTC(), hash)
	if err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	return nil
}

// RevokeAllForUser marks every refresh token owned by a user as revoked.
func (r *RefreshTokenRepo) RevokeAllForUser(ctx context.Context, userID int64) error {
	const query = `UPDATE refresh_tokens SET revoked_at = ? WHERE user_id = ? AND revoked_at IS NULL`
	_, err := r.db.Writer.ExecContext(ctx, query, time.Now().UTC(), userID)
	if err != nil {
		return fmt.Errorf("revoke refresh tokens for user %d: %w", userID, err)
	}
	return nil
}
