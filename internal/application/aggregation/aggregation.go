// Package aggregation computes the dashboard read model: the user-level
// status summary and the repository/PR grid view, both derived from the
// Domain Store rather than from any provider.
package aggregation

import (
	"context"

	"github.com/pacphi/ampel-sub003/internal/domain/model"
	"github.com/pacphi/ampel-sub003/internal/domain/port/driven"
	"github.com/pacphi/ampel-sub003/internal/domain/statusengine"
)

// VisibilityBreakdown tallies a count across the three mutually exclusive
// repository visibility categories. The three fields always sum to the
// cardinality of whatever set produced them (spec §8 property 1/2).
type VisibilityBreakdown struct {
	Public   int
	Private  int
	Archived int
}

// Total returns the sum of the three buckets.
func (v VisibilityBreakdown) Total() int {
	return v.Public + v.Private + v.Archived
}

// StatusCounts tallies open pull requests by their derived AmpelStatus.
// None-status PRs are not counted here: ListOpenByUser includes drafts, which
// the status engine rates None, and they count only toward TotalOpenPRs and
// OpenPRsBreakdown.
type StatusCounts struct {
	Green  int
	Yellow int
	Red    int
}

// ProviderCounts tallies tracked repositories by git-hosting provider.
type ProviderCounts struct {
	GitHub    int
	GitLab    int
	Bitbucket int
}

// Summary is the dashboard's top-level roll-up for one user, computed per
// spec §4.5 in a single pass over the user's repositories with an inner pass
// over each repository's open pull requests.
type Summary struct {
	TotalRepositories int
	TotalOpenPRs      int
	StatusCounts      StatusCounts
	ProviderCounts    ProviderCounts

	// RepositoryBreakdown classifies every tracked repository.
	RepositoryBreakdown VisibilityBreakdown
	// OpenPRsBreakdown classifies the repository each open PR belongs to.
	OpenPRsBreakdown VisibilityBreakdown
	// ReadyToMergeBreakdown classifies the repository of every Green open PR.
	ReadyToMergeBreakdown VisibilityBreakdown
	// NeedsAttentionBreakdown classifies the repository of every Red open PR.
	NeedsAttentionBreakdown VisibilityBreakdown
}

// GridRow pairs one tracked repository with its open pull requests, for the
// grid/table dashboard view.
type GridRow struct {
	Repository   model.Repository
	PullRequests []model.PullRequest
}

// Aggregator computes Summary and Grid views from the Domain Store.
type Aggregator struct {
	repoStore   driven.RepositoryStore
	prStore     driven.PullRequestStore
	checkStore  driven.CICheckStore
	reviewStore driven.ReviewStore
}

// New constructs an Aggregator.
func New(
	repoStore driven.RepositoryStore,
	prStore driven.PullRequestStore,
	checkStore driven.CICheckStore,
	reviewStore driven.ReviewStore,
) *Aggregator {
	return &Aggregator{
		repoStore:   repoStore,
		prStore:     prStore,
		checkStore:  checkStore,
		reviewStore: reviewStore,
	}
}

// Summary computes the dashboard roll-up using each PR's denormalized
// AmpelStatus column, as written by the scheduler. This is the fast,
// cache-trusting path spec §4.5 allows for a read-heavy aggregator.
func (a *Aggregator) Summary(ctx context.Context, userID int64) (Summary, error) {
	repos, err := a.repoStore.ListByUser(ctx, userID)
	if err != nil {
		return Summary{}, err
	}
	prs, err := a.prStore.ListOpenByUser(ctx, userID)
	if err != nil {
		return Summary{}, err
	}
	return summarize(repos, prs), nil
}

// SummaryRecomputed re-derives every open PR's AmpelStatus via
// statusengine.Evaluate instead of trusting the denormalized column, for the
// correctness cross-check spec §4.5 requires of any caching implementation.
func (a *Aggregator) SummaryRecomputed(ctx context.Context, userID int64) (Summary, error) {
	repos, err := a.repoStore.ListByUser(ctx, userID)
	if err != nil {
		return Summary{}, err
	}
	prs, err := a.prStore.ListOpenByUser(ctx, userID)
	if err != nil {
		return Summary{}, err
	}

	recomputed := make([]model.PullRequest, len(prs))
	for i, pr := range prs {
		checks, err := a.checkStore.GetByPR(ctx, pr.ID)
		if err != nil {
			return Summary{}, err
		}
		reviews, err := a.reviewStore.GetByPR(ctx, pr.ID)
		if err != nil {
			return Summary{}, err
		}
		pr.AmpelStatus = statusengine.Evaluate(pr, checks, reviews)
		recomputed[i] = pr
	}

	return summarize(repos, recomputed), nil
}

// Grid returns one row per tracked repository together with its open pull
// requests, backing GET /dashboard/grid.
func (a *Aggregator) Grid(ctx context.Context, userID int64) ([]GridRow, error) {
	repos, err := a.repoStore.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	prs, err := a.prStore.ListOpenByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	byRepo := make(map[int64][]model.PullRequest, len(repos))
	for _, pr := range prs {
		byRepo[pr.RepositoryID] = append(byRepo[pr.RepositoryID], pr)
	}

	rows := make([]GridRow, len(repos))
	for i, r := range repos {
		rows[i] = GridRow{Repository: r, PullRequests: byRepo[r.ID]}
	}
	return rows, nil
}

// summarize performs the single pass over repos with an inner pass over
// prs, shared by Summary and SummaryRecomputed so the two can never diverge
// in anything but which status each PR carries going in.
func summarize(repos []model.Repository, prs []model.PullRequest) Summary {
	var s Summary
	s.TotalRepositories = len(repos)

	repoByID := make(map[int64]model.Repository, len(repos))
	for _, r := range repos {
		repoByID[r.ID] = r
		addVisibility(&s.RepositoryBreakdown, r.VisibilityBucket())
		addProvider(&s.ProviderCounts, r.Provider)
	}

	s.TotalOpenPRs = len(prs)
	for _, pr := range prs {
		repo, ok := repoByID[pr.RepositoryID]
		if !ok {
			continue
		}
		bucket := repo.VisibilityBucket()
		addVisibility(&s.OpenPRsBreakdown, bucket)

		switch pr.AmpelStatus {
		case model.StatusGreen:
			s.StatusCounts.Green++
			addVisibility(&s.ReadyToMergeBreakdown, bucket)
		case model.StatusYellow:
			s.StatusCounts.Yellow++
		case model.StatusRed:
			s.StatusCounts.Red++
			addVisibility(&s.NeedsAttentionBreakdown, bucket)
		}
	}

	return s
}

func addVisibility(b *VisibilityBreakdown, bucket string) {
	switch bucket {
	case "archived":
		b.Archived++
	case "private":
		b.Private++
	default:
		b.Public++
	}
}

func addProvider(c *ProviderCounts, p model.Provider) {
	switch p {
	case model.ProviderGitHub:
		c.GitHub++
	case model.ProviderGitLab:
		c.GitLab++
	case model.ProviderBitbucket:
		c.Bitbucket++
	}
}
