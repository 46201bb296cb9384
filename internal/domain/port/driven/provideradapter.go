package driven

import (
	"context"
	"time"

	"github.com/pacphi/ampel-sub003/internal/adapter/driven/provider/diff"
	"github.com/pacphi/ampel-sub003/internal/domain/model"
)

// RateLimit is the normalized view of a provider's API rate-limit state that
// every ProviderAdapter surfaces, regardless of how the underlying API
// reports it. Unknown is true when the provider gives no usable signal
// (e.g. Bitbucket Cloud, which exposes no rate-limit headers); callers must
// treat Unknown specially rather than assume Remaining is meaningful.
type RateLimit struct {
	Remaining int
	Limit     int
	ResetAt   time.Time
	Unknown   bool
}

// ProviderAdapter is the single capability interface every git-hosting
// provider implements. The Polling Scheduler and application services never
// know which provider they are talking to; they hold a ProviderAdapter
// obtained from a ProviderFactory and call these eight operations only.
type ProviderAdapter interface {
	// Authenticate verifies the credential is usable and returns the
	// authenticated account handle on the provider.
	Authenticate(ctx context.Context, cred model.Credential) (accountHandle string, err error)

	// ListRepositories returns every repository the credential can see.
	ListRepositories(ctx context.Context, cred model.Credential) ([]model.Repository, error)

	// GetRepository fetches a single repository by owner/name.
	GetRepository(ctx context.Context, cred model.Credential, owner, name string) (model.Repository, error)

	// ListPullRequests returns pull requests in the given state. A zero
	// PRState means all states.
	ListPullRequests(ctx context.Context, cred model.Credential, owner, name string, state model.PRState) ([]model.PullRequest, error)

	// GetPullRequest fetches one pull request together with its current CI
	// checks and reviews in a single composite call.
	GetPullRequest(ctx context.Context, cred model.Credential, owner, name string, number int) (model.PullRequest, []model.CICheck, []model.Review, error)

	// MergePullRequest merges the given pull request using the provider's
	// default merge strategy.
	MergePullRequest(ctx context.Context, cred model.Credential, owner, name string, number int) error

	// GetPullRequestDiff returns the normalized per-file diff.
	GetPullRequestDiff(ctx context.Context, cred model.Credential, owner, name string, number int) ([]diff.DiffFile, error)

	// RateLimitStatus reports the adapter's current view of API quota.
	RateLimitStatus(ctx context.Context, cred model.Credential) (RateLimit, error)
}

// ProviderFactory resolves a ProviderAdapter for a (provider, instanceURL)
// pair. instanceURL is empty for the public SaaS instance of a provider and
// non-empty for self-hosted GitLab/Bitbucket Server deployments.
type ProviderFactory interface {
	For(provider model.Provider, instanceURL string) (ProviderAdapter, error)
}
