package driven

import (
	"context"
	"errors"

	"github.com/pacphi/ampel-sub003/internal/domain/model"
)

// ErrUserNotFound indicates no user matches the given identifier.
var ErrUserNotFound = errors.New("user not found")

// ErrUserConflict indicates a user with the same email already exists.
var ErrUserConflict = errors.New("user already exists")

// UserStore defines the driven port for user account persistence.
type UserStore interface {
	Create(ctx context.Context, user model.User) (model.User, error)
	GetByID(ctx context.Context, id int64) (*model.User, error)
	GetByEmail(ctx context.Context, email string) (*model.User, error)
	// UpdateDisplayName changes a user's display name. Email and password are
	// updated through dedicated flows (not yet part of this port), not here.
	UpdateDisplayName(ctx context.Context, id int64, displayName string) error
}

// RefreshTokenStore defines the driven port for opaque refresh token
// persistence. Tokens are stored hashed, never in plaintext.
type RefreshTokenStore interface {
	Create(ctx context.Context, token model.RefreshToken) (model.RefreshToken, error)
	// GetByHash returns the stored token for the given hash, or nil if none
	// matches (already-revoked and never-issued are indistinguishable).
	GetByHash(ctx context.Context, hash string) (*model.RefreshToken, error)
	// Revoke invalidates a single token, e.g. on rotation or logout.
	Revoke(ctx context.Context, hash string) error
	// RevokeAllForUser invalidates every refresh token for a user.
	RevokeAllForUser(ctx context.Context, userID int64) error
}
