package driven

import (
	"context"
	"errors"
	"time"

	"github.com/pacphi/ampel-sub003/internal/domain/model"
)

// Sentinel errors returned by RepositoryStore implementations.
var (
	// ErrRepoNotFound indicates the requested repository does not exist.
	ErrRepoNotFound = errors.New("repository not found")

	// ErrRepoAlreadyExists indicates a repository is already tracked for this user.
	ErrRepoAlreadyExists = errors.New("repository already exists")
)

// RepositoryStore defines the driven port for repository persistence.
// Add returns ErrRepoAlreadyExists if the repository is already tracked for
// the owning user. Remove returns ErrRepoNotFound if it does not exist.
type RepositoryStore interface {
	Add(ctx context.Context, repo model.Repository) (model.Repository, error)
	Remove(ctx context.Context, userID, repoID int64) error
	GetByID(ctx context.Context, userID, repoID int64) (*model.Repository, error)
	ListByUser(ctx context.Context, userID int64) ([]model.Repository, error)
	// ListDue returns every repository for every user whose last sync is at
	// least PollIntervalSeconds old, for the scheduler's discovery tick.
	ListDue(ctx context.Context, asOf time.Time) ([]model.Repository, error)
	UpdateSyncState(ctx context.Context, repoID int64, lastSyncedAt time.Time, lastError string) error
	SetNeedsReauth(ctx context.Context, providerAccountID int64, needsReauth bool) error
	// UpdatePollIntervalSeconds changes a tracked repository's polling
	// interval, scoped to the owning user. Returns ErrRepoNotFound if it
	// does not exist.
	UpdatePollIntervalSeconds(ctx context.Context, userID, repoID int64, pollIntervalSeconds int) (model.Repository, error)
}
