package driven

import (
	"context"

	"github.com/pacphi/ampel-sub003/internal/domain/model"
)

// ReviewStore defines the driven port for review persistence. Like
// CICheckStore, reviews are replaced as a full set per poll since a
// provider's review list has no incremental diff worth tracking.
type ReviewStore interface {
	// ReplaceForPR deletes all existing reviews for the given PR and inserts
	// the provided reviews atomically in a single transaction.
	ReplaceForPR(ctx context.Context, prID int64, reviews []model.Review) error
	// GetByPR returns all reviews for the given PR, ordered by submission time.
	GetByPR(ctx context.Context, prID int64) ([]model.Review, error)
}
