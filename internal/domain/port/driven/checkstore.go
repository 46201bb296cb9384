package driven

import (
	"context"

	"github.com/pacphi/ampel-sub003/internal/domain/model"
)

// CICheckStore defines the driven port for CI check persistence. Uses a full
// replacement strategy: all checks for a PR are replaced atomically, since a
// provider's check list has no stable per-check identity worth diffing
// against.
type CICheckStore interface {
	// ReplaceForPR deletes all existing checks for the given PR and inserts
	// the provided checks atomically in a single transaction.
	ReplaceForPR(ctx context.Context, prID int64, checks []model.CICheck) error
	// GetByPR returns all checks for the given PR, ordered by name.
	GetByPR(ctx context.Context, prID int64) ([]model.CICheck, error)
}
