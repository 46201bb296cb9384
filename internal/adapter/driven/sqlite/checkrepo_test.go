package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pacphi/ampel-sub003/internal/domain/model"
)

// insertTestPR creates a repo and PR and returns the PR's database id.
func insertTestPR(t *testing.T, db *DB, owner, name string, number int) int64 {
	t.Helper()
	repoID := addTestRepo(t, db, owner, name)
	prRepo := NewPRRepo(db)
	ctx := context.Background()

	pr := makePR(repoID, number, "Test PR", model.PRStateOpen)
	inserted, err := prRepo.Upsert(ctx, pr)
	require.NoError(t, err)

	return inserted.ID
}

func TestCheckRepo_ReplaceAndGet(t *testing.T) {
	db := setupTestDB(t)
	prID := insertTestPR(t, db, "octocat", "hello-world", 1)
	checkRepo := NewCheckRepo(db)
	ctx := context.Background()

	started := time.Date(2026, 2, 10, 10, 0, 0, 0, time.UTC)
	completed := time.Date(2026, 2, 10, 10, 5, 0, 0, time.UTC)

	checks := []model.CICheck{
		{
			PullRequestID: prID,
			Name:          "build",
			ExternalID:    "1001",
			Status:        model.CheckCompleted,
			Conclusion:    model.ConclusionSuccess,
			ExternalURL:   "https://example.test/runs/1001",
			StartedAt:     started,
			CompletedAt:   completed,
		},
		{
			PullRequestID: prID,
			Name:          "lint",
			ExternalID:    "1002",
			Status:        model.CheckCompleted,
			Conclusion:    model.ConclusionFailure,
			ExternalURL:   "https://example.test/runs/1002",
			StartedAt:     started,
			CompletedAt:   completed,
		},
	}

	require.NoError(t, checkRepo.ReplaceForPR(ctx, prID, checks))

	got, err := checkRepo.GetByPR(ctx, prID)
	require.NoError(t, err)
	require.Len(t, got, 2)

	// Ordered by name, so "build" comes first.
	assert.Equal(t, "build", got[0].Name)
	assert.Equal(t, model.CheckCompleted, got[0].Status)
	assert.Equal(t, model.ConclusionSuccess, got[0].Conclusion)
	assert.Equal(t, "https://example.test/runs/1001", got[0].ExternalURL)
	assert.Equal(t, started, got[0].StartedAt)
	assert.Equal(t, completed, got[0].CompletedAt)

	assert.Equal(t, "lint", got[1].Name)
	assert.Equal(t, model.ConclusionFailure, got[1].Conclusion)

	// Replace with a single different check -- old ones should be deleted.
	replacement := []model.CICheck{
		{
			PullRequestID: prID,
			Name:          "test",
			ExternalID:    "2001",
			Status:        model.CheckInProgress,
			Conclusion:    model.ConclusionNone,
			StartedAt:     started,
		},
	}

	require.NoError(t, checkRepo.ReplaceForPR(ctx, prID, replacement))

	got, err = checkRepo.GetByPR(ctx, prID)
	require.NoError(t, err)
	require.Len(t, got, 1)

	assert.Equal(t, "test", got[0].Name)
	assert.Equal(t, model.CheckInProgress, got[0].Status)
	assert.Equal(t, model.ConclusionNone, got[0].Conclusion)
	assert.True(t, got[0].CompletedAt.IsZero(), "completed_at should be zero for an in-progress run")
}

func TestCheckRepo_GetByPR_Empty(t *testing.T) {
	db := setupTestDB(t)
	prID := insertTestPR(t, db, "octocat", "hello-world", 1)
	checkRepo := NewCheckRepo(db)
	ctx := context.Background()

	got, err := checkRepo.GetByPR(ctx, prID)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestCheckRepo_ReplaceWithEmpty(t *testing.T) {
	db := setupTestDB(t)
	prID := insertTestPR(t, db, "octocat", "hello-world", 1)
	checkRepo := NewCheckRepo(db)
	ctx := context.Background()

	started := time.Date(2026, 2, 10, 10, 0, 0, 0, time.UTC)

	checks := []model.CICheck{
		{PullRequestID: prID, Name: "build", Status: model.CheckCompleted, StartedAt: started},
	}
	require.NoError(t, checkRepo.ReplaceForPR(ctx, prID, checks))

	require.NoError(t, checkRepo.ReplaceForPR(ctx, prID, nil))

	got, err := checkRepo.GetByPR(ctx, prID)
	require.NoError(t, err)
	assert.Empty(t, got, "replacing with an empty slice should remove all checks")
}
