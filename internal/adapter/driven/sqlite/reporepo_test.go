package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pacphi/ampel-sub003/internal/domain/model"
	"github.com/pacphi/ampel-sub003/internal/domain/port/driven"
)

func makeRepo(userID, accountID int64, owner, name string) model.Repository {
	return model.Repository{
		UserID:              userID,
		ProviderAccountID:   accountID,
		Provider:            model.ProviderGitHub,
		OwnerSlug:           owner,
		NameSlug:            name,
		PollIntervalSeconds: 300,
	}
}

func TestRepoRepo_Add(t *testing.T) {
	db := setupTestDB(t)
	userID, accountID := seedUserAndAccount(t, db)
	repo := NewRepoRepo(db)
	ctx := context.Background()

	added, err := repo.Add(ctx, makeRepo(userID, accountID, "octocat", "hello-world"))
	require.NoError(t, err)
	assert.NotZero(t, added.ID)

	got, err := repo.GetByID(ctx, userID, added.ID)
	require.NoError(t, err)
	require.NotNil(t, got)

	assert.Equal(t, "octocat/hello-world", got.FullName())
	assert.False(t, got.AddedAt.IsZero())
}

func TestRepoRepo_Add_Duplicate(t *testing.T) {
	db := setupTestDB(t)
	userID, accountID := seedUserAndAccount(t, db)
	repo := NewRepoRepo(db)
	ctx := context.Background()

	r := makeRepo(userID, accountID, "octocat", "hello-world")
	_, err := repo.Add(ctx, r)
	require.NoError(t, err)

	_, err = repo.Add(ctx, r)
	assert.ErrorIs(t, err, driven.ErrRepoAlreadyExists)
}

func TestRepoRepo_Add_DuplicateAcrossAccountsOfSameProvider(t *testing.T) {
	db := setupTestDB(t)
	userID, firstAccountID := seedUserAndAccount(t, db)
	accountRepo := NewProviderAccountRepo(db)
	repo := NewRepoRepo(db)
	ctx := context.Background()

	secondAccount, err := accountRepo.Create(ctx, model.ProviderAccount{
		UserID:        userID,
		Provider:      model.ProviderGitHub,
		AccountHandle: "second-handle",
	})
	require.NoError(t, err)

	_, err = repo.Add(ctx, makeRepo(userID, firstAccountID, "octocat", "hello-world"))
	require.NoError(t, err)

	_, err = repo.Add(ctx, makeRepo(userID, secondAccount.ID, "octocat", "hello-world"))
	assert.ErrorIs(t, err, driven.ErrRepoAlreadyExists, "the same (user, provider, owner, name) must not be trackable through two accounts")
}

func TestRepoRepo_Remove(t *testing.T) {
	db := setupTestDB(t)
	userID, accountID := seedUserAndAccount(t, db)
	repo := NewRepoRepo(db)
	ctx := context.Background()

	added, err := repo.Add(ctx, makeRepo(userID, accountID, "octocat", "hello-world"))
	require.NoError(t, err)

	require.NoError(t, repo.Remove(ctx, userID, added.ID))

	all, err := repo.ListByUser(ctx, userID)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestRepoRepo_Remove_NotFound(t *testing.T) {
	db := setupTestDB(t)
	userID, _ := seedUserAndAccount(t, db)
	repo := NewRepoRepo(db)
	ctx := context.Background()

	err := repo.Remove(ctx, userID, 999)
	assert.ErrorIs(t, err, driven.ErrRepoNotFound)
}

func TestRepoRepo_ListByUser(t *testing.T) {
	db := setupTestDB(t)
	userID, accountID := seedUserAndAccount(t, db)
	repo := NewRepoRepo(db)
	ctx := context.Background()

	_, err := repo.Add(ctx, makeRepo(userID, accountID, "charlie", "zeta"))
	require.NoError(t, err)
	_, err = repo.Add(ctx, makeRepo(userID, accountID, "alice", "alpha"))
	require.NoError(t, err)
	_, err = repo.Add(ctx, makeRepo(userID, accountID, "bob", "beta"))
	require.NoError(t, err)

	all, err := repo.ListByUser(ctx, userID)
	require.NoError(t, err)
	require.Len(t, all, 3)

	assert.Equal(t, "alice/alpha", all[0].FullName())
	assert.Equal(t, "bob/beta", all[1].FullName())
	assert.Equal(t, "charlie/zeta", all[2].FullName())
}

func TestRepoRepo_GetByID_NotFound(t *testing.T) {
	db := setupTestDB(t)
	userID, _ := seedUserAndAccount(t, db)
	repo := NewRepoRepo(db)
	ctx := context.Background()

	got, err := repo.GetByID(ctx, userID, 999)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRepoRepo_ListDue(t *testing.T) {
	db := setupTestDB(t)
	userID, accountID := seedUserAndAccount(t, db)
	repo := NewRepoRepo(db)
	ctx := context.Background()

	r := makeRepo(userID, accountID, "octocat", "hello-world")
	r.PollIntervalSeconds = 60
	added, err := repo.Add(ctx, r)
	require.NoError(t, err)

	due, err := repo.ListDue(ctx, time.Now().UTC())
	require.NoError(t, err)
	require.Len(t, due, 1, "never-synced repository should be due immediately")

	require.NoError(t, repo.UpdateSyncState(ctx, added.ID, time.Now().UTC(), ""))

	due, err = repo.ListDue(ctx, time.Now().UTC())
	require.NoError(t, err)
	assert.Empty(t, due, "freshly synced repository should not be due yet")

	due, err = repo.ListDue(ctx, time.Now().UTC().Add(2*time.Minute))
	require.NoError(t, err)
	assert.Len(t, due, 1, "repository should be due again once its interval elapses")
}

func TestRepoRepo_UpdatePollIntervalSeconds(t *testing.T) {
	db := setupTestDB(t)
	userID, accountID := seedUserAndAccount(t, db)
	repo := NewRepoRepo(db)
	ctx := context.Background()

	added, err := repo.Add(ctx, makeRepo(userID, accountID, "octocat", "hello-world"))
	require.NoError(t, err)

	updated, err := repo.UpdatePollIntervalSeconds(ctx, userID, added.ID, 900)
	require.NoError(t, err)
	assert.Equal(t, 900, updated.PollIntervalSeconds)

	got, err := repo.GetByID(ctx, userID, added.ID)
	require.NoError(t, err)
	assert.Equal(t, 900, got.PollIntervalSeconds)
}

func TestRepoRepo_UpdatePollIntervalSeconds_NotFound(t *testing.T) {
	db := setupTestDB(t)
	userID, _ := seedUserAndAccount(t, db)
	repo := NewRepoRepo(db)
	ctx := context.Background()

	_, err := repo.UpdatePollIntervalSeconds(ctx, userID, 999, 900)
	assert.ErrorIs(t, err, driven.ErrRepoNotFound)
}

func TestRepoRepo_SetNeedsReauth(t *testing.T) {
	db := setupTestDB(t)
	userID, accountID := seedUserAndAccount(t, db)
	repo := NewRepoRepo(db)
	ctx := context.Background()

	added, err := repo.Add(ctx, makeRepo(userID, accountID, "octocat", "hello-world"))
	require.NoError(t, err)

	require.NoError(t, repo.SetNeedsReauth(ctx, accountID, true))

	got, err := repo.GetByID(ctx, userID, added.ID)
	require.NoError(t, err)
	assert.True(t, got.NeedsReauth)
}
