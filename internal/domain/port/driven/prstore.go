package driven

import (
	"context"

	"github.com/pacphi/ampel-sub003/internal/domain/model"
)

// PullRequestStore defines the driven port for pull request persistence.
type PullRequestStore interface {
	Upsert(ctx context.Context, pr model.PullRequest) (model.PullRequest, error)
	GetByRepository(ctx context.Context, repoID int64) ([]model.PullRequest, error)
	GetByNumber(ctx context.Context, repoID int64, number int) (*model.PullRequest, error)
	// ListOpenByUser returns every open pull request across the user's
	// tracked repositories, used by the Aggregator.
	ListOpenByUser(ctx context.Context, userID int64) ([]model.PullRequest, error)
	UpdateStatus(ctx context.Context, prID int64, status model.AmpelStatus) error
	Delete(ctx context.Context, repoID int64, number int) error
}
