package model

import "time"

// User is an ampelhub account holder. Email is stored case-normalized
// (lowercased) and is unique across all users.
type User struct {
	ID           int64
	Email        string
	PasswordHash string
	DisplayName  string
	Role         UserRole
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// RefreshToken is an opaque, rotatable credential used to mint new access
// tokens without re-authenticating. The stored Hash is never the raw token.
type RefreshToken struct {
	ID        int64
	UserID    int64
	Hash      string
	ExpiresAt time.Time
	RevokedAt time.Time // zero value means not revoked
	CreatedAt time.Time
}

// IsValid reports whether the token is neither expired nor revoked as of now.
func (t RefreshToken) IsValid(now time.Time) bool {
	return t.RevokedAt.IsZero() && now.Before(t.ExpiresAt)
}
