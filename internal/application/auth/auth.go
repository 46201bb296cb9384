// Package auth implements registration, login, and refresh-token rotation
// for ampelhub accounts. It has no teacher corollary: the teacher is a
// single local user with no login, so this service is built directly from
// spec §4.6's /auth/* contract and the User/RefreshToken entities in
// internal/domain/model.
package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/pacphi/ampel-sub003/internal/domain/model"
	"github.com/pacphi/ampel-sub003/internal/domain/port/driven"
)

// ErrInvalidCredentials is returned by Login when the email is unknown or
// the password does not match.
var ErrInvalidCredentials = errors.New("invalid email or password")

// ErrInvalidToken is returned by Refresh and ParseAccessToken for any
// token that fails validation, expired or otherwise; deliberately vague so
// callers cannot distinguish "wrong token" from "expired token" from
// "already revoked".
var ErrInvalidToken = errors.New("invalid or expired token")

const (
	defaultAccessTokenTTL  = 15 * time.Minute
	defaultRefreshTokenTTL = 30 * 24 * time.Hour
)

// Config controls token lifetimes and the JWT signing secret.
type Config struct {
	// JWTSecret signs and verifies access tokens with HS256. Must be set;
	// Service does not generate or persist one itself.
	JWTSecret []byte
	// AccessTokenTTL defaults to 15 minutes when zero.
	AccessTokenTTL time.Duration
	// RefreshTokenTTL defaults to 30 days when zero.
	RefreshTokenTTL time.Duration
}

// Service implements registration, login, refresh rotation, and logout.
type Service struct {
	users  driven.UserStore
	tokens driven.RefreshTokenStore
	cfg    Config
}

// New constructs a Service.
func New(users driven.UserStore, tokens driven.RefreshTokenStore, cfg Config) *Service {
	if cfg.AccessTokenTTL <= 0 {
		cfg.AccessTokenTTL = defaultAccessTokenTTL
	}
	if cfg.RefreshTokenTTL <= 0 {
		cfg.RefreshTokenTTL = defaultRefreshTokenTTL
	}
	return &Service{users: users, tokens: tokens, cfg: cfg}
}

// Register creates a new account. Email is normalized to lowercase before
// storage and lookup. Returns driven.ErrUserConflict (wrapped by the
// UserStore) if the email is already registered.
func (s *Service) Register(ctx context.Context, email, password, displayName string) (model.User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return model.User{}, fmt.Errorf("hash password: %w", err)
	}

	user := model.User{
		Email:        normalizeEmail(email),
		PasswordHash: string(hash),
		DisplayName:  displayName,
		Role:         model.RoleUser,
	}
	return s.users.Create(ctx, user)
}

// Login verifies the password and issues a fresh access/refresh token pair.
func (s *Service) Login(ctx context.Context, email, password string) (accessToken, refreshToken string, err error) {
	user, err := s.users.GetByEmail(ctx, normalizeEmail(email))
	if err != nil {
		return "", "", err
	}
	if user == nil {
		return "", "", ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return "", "", ErrInvalidCredentials
	}

	return s.issueTokenPair(ctx, *user)
}

// Refresh validates a refresh token, atomically revokes it, and issues a
// new access/refresh token pair. The prior refresh token is unusable for
// any subsequent call, even if this one fails after revocation.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (accessToken, newRefreshToken string, err error) {
	hash := hashToken(refreshToken)

	stored, err := s.tokens.GetByHash(ctx, hash)
	if err != nil {
		return "", "", err
	}
	if stored == nil || !stored.IsValid(time.Now()) {
		return "", "", ErrInvalidToken
	}

	if err := s.tokens.Revoke(ctx, hash); err != nil {
		return "", "", err
	}

	user, err := s.users.GetByID(ctx, stored.UserID)
	if err != nil {
		return "", "", err
	}
	if user == nil {
		return "", "", ErrInvalidToken
	}

	return s.issueTokenPair(ctx, *user)
}

// GetUser returns a user by ID, or nil if none exists.
func (s *Service) GetUser(ctx context.Context, userID int64) (*model.User, error) {
	return s.users.GetByID(ctx, userID)
}

// UpdateDisplayName changes the authenticated user's display name.
func (s *Service) UpdateDisplayName(ctx context.Context, userID int64, displayName string) error {
	return s.users.UpdateDisplayName(ctx, userID, displayName)
}

// Logout revokes a single refresh token, ending that session without
// affecting the user's other active sessions.
func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	return s.tokens.Revoke(ctx, hashToken(refreshToken))
}

// ParseAccessToken validates an access token's signature and expiry and
// returns the authenticated user ID, for the HTTP layer's auth middleware.
func (s *Service) ParseAccessToken(tokenStr string) (int64, error) {
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.cfg.JWTSecret, nil
	})
	if err != nil || !token.Valid {
		return 0, ErrInvalidToken
	}

	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil {
		return 0, ErrInvalidToken
	}
	return userID, nil
}

func (s *Service) issueTokenPair(ctx context.Context, user model.User) (accessToken, refreshToken string, err error) {
	accessToken, err = s.signAccessToken(user)
	if err != nil {
		return "", "", err
	}

	refreshToken = uuid.NewString()
	_, err = s.tokens.Create(ctx, model.RefreshToken{
		UserID:    user.ID,
		Hash:      hashToken(refreshToken),
		ExpiresAt: time.Now().Add(s.cfg.RefreshTokenTTL),
	})
	if err != nil {
		return "", "", err
	}

	return accessToken, refreshToken, nil
}

func (s *Service) signAccessToken(user model.User) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   strconv.FormatInt(user.ID, 10),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.AccessTokenTTL)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.cfg.JWTSecret)
}

// hashToken returns the hex-encoded SHA-256 digest of a refresh token, the
// only form ever persisted; the raw UUID exists only in the response sent
// to the client.
func hashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
