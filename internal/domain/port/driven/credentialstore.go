package driven

import (
	"context"
	"errors"
	"time"

	"github.com/pacphi/ampel-sub003/internal/domain/model"
)

// ErrEncryptionKeyNotSet is returned by CredentialStore operations when no
// encryption key was configured at startup.
var ErrEncryptionKeyNotSet = errors.New("credential encryption key not set")

// ErrCredentialInUse is returned by Delete when the credential's
// ProviderAccount still has tracked repositories, per the deletion
// precondition of the account lifecycle.
var ErrCredentialInUse = errors.New("credential is in use by tracked repositories")

// CredentialStore defines the driven port for encrypted credential
// persistence, scoped by the owning user, provider, and (for self-hosted
// deployments) instance URL and account handle.
type CredentialStore interface {
	// Set stores or replaces the access/refresh token pair for an account,
	// encrypting both before write.
	Set(ctx context.Context, accountID int64, accessToken, refreshToken string, expiresAt time.Time) error
	// Get retrieves the decrypted Credential for an account. Returns
	// ErrEncryptionKeyNotSet if no key was configured.
	Get(ctx context.Context, accountID int64) (model.Credential, error)
	// Rotate replaces only the access token and expiry, e.g. after an OAuth
	// refresh, leaving the refresh token untouched.
	Rotate(ctx context.Context, accountID int64, accessToken string, expiresAt time.Time) error
	// Delete removes the stored credential. Returns ErrCredentialInUse if
	// the owning account still has tracked repositories.
	Delete(ctx context.Context, accountID int64) error
}
