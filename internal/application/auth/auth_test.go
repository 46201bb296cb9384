package auth

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pacphi/ampel-sub003/internal/domain/model"
	"github.com/pacphi/ampel-sub003/internal/domain/port/driven"
)

type fakeUserStore struct {
	byEmail map[string]model.User
	byID    map[int64]model.User
	nextID  int64
}

func newFakeUserStore() *fakeUserStore {
	return &fakeUserStore{byEmail: map[string]model.User{}, byID: map[int64]model.User{}}
}

func (f *fakeUserStore) Create(ctx context.Context, user model.User) (model.User, error) {
	if _, ok := f.byEmail[user.Email]; ok {
		return model.User{}, fmt.Errorf("create user %s: %w", user.Email, driven.ErrUserConflict)
	}
	f.nextID++
	user.ID = f.nextID
	user.CreatedAt = time.Now()
	f.byEmail[user.Email] = user
	f.byID[user.ID] = user
	return user, nil
}

func (f *fakeUserStore) GetByID(ctx context.Context, id int64) (*model.User, error) {
	u, ok := f.byID[id]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (f *fakeUserStore) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	u, ok := f.byEmail[email]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (f *fakeUserStore) UpdateDisplayName(ctx context.Context, id int64, displayName string) error {
	u, ok := f.byID[id]
	if !ok {
		return nil
	}
	u.DisplayName = displayName
	f.byID[id] = u
	f.byEmail[u.Email] = u
	return nil
}

type fakeRefreshTokenStore struct {
	byHash map[string]model.RefreshToken
	nextID int64
}

func newFakeRefreshTokenStore() *fakeRefreshTokenStore {
	return &fakeRefreshTokenStore{byHash: map[string]model.RefreshToken{}}
}

func (f *fakeRefreshTokenStore) Create(ctx context.Context, token model.RefreshToken) (model.RefreshToken, error) {
	f.nextID++
	token.ID = f.nextID
	token.CreatedAt = time.Now()
	f.byHash[token.Hash] = token
	return token, nil
}

func (f *fakeRefreshTokenStore) GetByHash(ctx context.Context, hash string) (*model.RefreshToken, error) {
	t, ok := f.byHash[hash]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

func (f *fakeRefreshTokenStore) Revoke(ctx context.Context, hash string) error {
	t, ok := f.byHash[hash]
	if !ok {
		return nil
	}
	t.RevokedAt = time.Now()
	f.byHash[hash] = t
	return nil
}

func (f *fakeRefreshTokenStore) RevokeAllForUser(ctx context.Context, userID int64) error {
	for h, t := range f.byHash {
		if t.UserID == userID {
			t.RevokedAt = time.Now()
			f.byHash[h] = t
		}
	}
	return nil
}

func newTestService() (*Service, *fakeUserStore, *fakeRefreshTokenStore) {
	users := newFakeUserStore()
	tokens := newFakeRefreshTokenStore()
	svc := New(users, tokens, Config{JWTSecret: []byte("test-secret")})
	return svc, users, tokens
}

func TestRegister_NormalizesEmailAndHashesPassword(t *testing.T) {
	svc, users, _ := newTestService()

	user, err := svc.Register(context.Background(), "  Alice@Example.com ", "hunter2", "Alice")
	require.NoError(t, err)

	assert.Equal(t, "alice@example.com", user.Email)
	assert.NotEmpty(t, user.PasswordHash)
	assert.NotEqual(t, "hunter2", user.PasswordHash)
	assert.Equal(t, model.RoleUser, user.Role)

	_, ok := users.byEmail["alice@example.com"]
	assert.True(t, ok)
}

func TestRegister_DuplicateEmailConflicts(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	_, err := svc.Register(ctx, "bob@example.com", "pw1", "Bob")
	require.NoError(t, err)

	_, err = svc.Register(ctx, "BOB@example.com", "pw2", "Bob Two")
	require.Error(t, err)
	assert.ErrorIs(t, err, driven.ErrUserConflict)
}

func TestLogin_Succeeds(t *testing.T) {
	svc, _, tokens := newTestService()
	ctx := context.Background()

	_, err := svc.Register(ctx, "carol@example.com", "correct-horse", "Carol")
	require.NoError(t, err)

	access, refresh, err := svc.Login(ctx, "carol@example.com", "correct-horse")
	require.NoError(t, err)
	assert.NotEmpty(t, access)
	assert.NotEmpty(t, refresh)

	userID, err := svc.ParseAccessToken(access)
	require.NoError(t, err)
	assert.Equal(t, int64(1), userID)

	assert.Len(t, tokens.byHash, 1)
}

func TestLogin_WrongPasswordFails(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	_, err := svc.Register(ctx, "dave@example.com", "correct-horse", "Dave")
	require.NoError(t, err)

	_, _, err = svc.Login(ctx, "dave@example.com", "wrong-password")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestLogin_UnknownEmailFails(t *testing.T) {
	svc, _, _ := newTestService()

	_, _, err := svc.Login(context.Background(), "nobody@example.com", "whatever")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestRefresh_RotatesTokenAndRevokesPrior(t *testing.T) {
	svc, _, tokens := newTestService()
	ctx := context.Background()

	_, err := svc.Register(ctx, "erin@example.com", "s3cret", "Erin")
	require.NoError(t, err)
	_, refresh1, err := svc.Login(ctx, "erin@example.com", "s3cret")
	require.NoError(t, err)

	access2, refresh2, err := svc.Refresh(ctx, refresh1)
	require.NoError(t, err)
	assert.NotEmpty(t, access2)
	assert.NotEqual(t, refresh1, refresh2)

	// The rotated-away token is now revoked and cannot be refreshed again.
	_, _, err = svc.Refresh(ctx, refresh1)
	assert.ErrorIs(t, err, ErrInvalidToken)

	stored, ok := tokens.byHash[hashToken(refresh1)]
	require.True(t, ok)
	assert.False(t, stored.RevokedAt.IsZero())
}

func TestRefresh_UnknownTokenFails(t *testing.T) {
	svc, _, _ := newTestService()

	_, _, err := svc.Refresh(context.Background(), "not-a-real-token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestRefresh_ExpiredTokenFails(t *testing.T) {
	svc, users, tokens := newTestService()
	ctx := context.Background()

	user, err := users.Create(ctx, model.User{Email: "frank@example.com", PasswordHash: "x"})
	require.NoError(t, err)

	expired, err := tokens.Create(ctx, model.RefreshToken{
		UserID:    user.ID,
		Hash:      hashToken("expired-token"),
		ExpiresAt: time.Now().Add(-time.Hour),
	})
	require.NoError(t, err)
	_ = expired

	_, _, err = svc.Refresh(ctx, "expired-token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestLogout_RevokesToken(t *testing.T) {
	svc, _, tokens := newTestService()
	ctx := context.Background()

	_, err := svc.Register(ctx, "grace@example.com", "pw", "Grace")
	require.NoError(t, err)
	_, refresh, err := svc.Login(ctx, "grace@example.com", "pw")
	require.NoError(t, err)

	require.NoError(t, svc.Logout(ctx, refresh))

	_, _, err = svc.Refresh(ctx, refresh)
	assert.ErrorIs(t, err, ErrInvalidToken)

	stored, ok := tokens.byHash[hashToken(refresh)]
	require.True(t, ok)
	assert.False(t, stored.RevokedAt.IsZero())
}

func TestParseAccessToken_RejectsGarbage(t *testing.T) {
	svc, _, _ := newTestService()

	_, err := svc.ParseAccessToken("not.a.jwt")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestParseAccessToken_RejectsWrongSecret(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	_, err := svc.Register(ctx, "heidi@example.com", "pw", "Heidi")
	require.NoError(t, err)
	access, _, err := svc.Login(ctx, "heidi@example.com", "pw")
	require.NoError(t, err)

	other := New(newFakeUserStore(), newFakeRefreshTokenStore(), Config{JWTSecret: []byte("different-secret")})
	_, err = other.ParseAccessToken(access)
	assert.ErrorIs(t, err, ErrInvalidToken)
}
