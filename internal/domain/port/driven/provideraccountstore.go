package driven

import (
	"context"
	"errors"

	"github.com/pacphi/ampel-sub003/internal/domain/model"
)

// ErrProviderAccountNotFound indicates no account matches the given identifier.
var ErrProviderAccountNotFound = errors.New("provider account not found")

// ProviderAccountStore defines the driven port for provider account
// persistence. Credential material itself lives in CredentialStore; this
// store holds the account's identity and status metadata.
type ProviderAccountStore interface {
	Create(ctx context.Context, account model.ProviderAccount) (model.ProviderAccount, error)
	GetByID(ctx context.Context, userID, accountID int64) (*model.ProviderAccount, error)
	ListByUser(ctx context.Context, userID int64) ([]model.ProviderAccount, error)
	SetNeedsReauth(ctx context.Context, accountID int64, needsReauth bool) error
	// SetDefault marks accountID as the user's default account for its
	// provider and unmarks every other account of the same (user,
	// provider) pair, for the PATCH /accounts default-selection flow.
	SetDefault(ctx context.Context, userID, accountID int64) error
	Delete(ctx context.Context, userID, accountID int64) error
}
