// Package github implements driven.ProviderAdapter against the GitHub REST
// API using the go-github library.
package github

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	gh "github.com/google/go-github/v82/github"
	"github.com/gofri/go-github-ratelimit/v2/github_ratelimit"
	"github.com/gregjones/httpcache"

	"github.com/pacphi/ampel-sub003/internal/adapter/driven/provider/diff"
	"github.com/pacphi/ampel-sub003/internal/adapter/driven/provider/ratelimit"
	"github.com/pacphi/ampel-sub003/internal/adapter/driven/provider/retry"
	"github.com/pacphi/ampel-sub003/internal/domain/model"
	"github.com/pacphi/ampel-sub003/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.ProviderAdapter = (*Adapter)(nil)

// Adapter implements driven.ProviderAdapter for GitHub.com and GitHub
// Enterprise Server, using a fresh go-github client per credential since
// each credential carries its own bearer token.
type Adapter struct {
	baseURL      string // empty for github.com, non-empty for GHES
	retryPolicy  retry.Policy
	safetyMargin int
	timeout      time.Duration
	buckets      *bucketRegistry
}

// NewAdapter creates a GitHub adapter. baseURL is empty for the public API
// or a GitHub Enterprise Server base URL (e.g.
// "https://ghe.example.com/api/v3/"). timeout bounds every outbound call;
// zero means no per-request timeout beyond context cancellation.
func NewAdapter(baseURL string, retryPolicy retry.Policy, safetyMargin int, timeout time.Duration) *Adapter {
	return &Adapter{
		baseURL:      baseURL,
		retryPolicy:  retryPolicy,
		safetyMargin: safetyMargin,
		timeout:      timeout,
		buckets:      newBucketRegistry(),
	}
}

// bucketRegistry keys a rate-limit TokenBucket per credential so concurrent
// polls of different accounts don't share a bucket. The Polling Scheduler
// calls into the same Adapter from multiple goroutines, so the map itself
// needs its own lock independent of each bucket's internal one.
type bucketRegistry struct {
	mu      sync.Mutex
	buckets map[int64]*ratelimit.TokenBucket
}

func newBucketRegistry() *bucketRegistry {
	return &bucketRegistry{buckets: map[int64]*ratelimit.TokenBucket{}}
}

func (r *bucketRegistry) get(accountID int64) *ratelimit.TokenBucket {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.buckets[accountID]
	if !ok {
		b = &ratelimit.TokenBucket{}
		r.buckets[accountID] = b
	}
	return b
}

func (a *Adapter) client(cred model.Credential) *gh.Client {
	cacheTransport := httpcache.NewMemoryCacheTransport()
	rateLimitClient := github_ratelimit.NewClient(cacheTransport)
	if a.timeout > 0 {
		rateLimitClient.Timeout = a.timeout
	}
	client := gh.NewClient(rateLimitClient).WithAuthToken(cred.AccessToken)
	if a.baseURL != "" {
		if u, err := url.Parse(a.baseURL); err == nil {
			client.BaseURL = u
		}
	}
	return client
}

// Authenticate verifies the credential is usable and returns the
// authenticated account's login.
func (a *Adapter) Authenticate(ctx context.Context, cred model.Credential) (string, error) {
	client := a.client(cred)

	user, resp, err := client.Users.Get(ctx, "")
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return "", fmt.Errorf("authenticate: %w", driven.ErrInvalidCredentials)
		}
		return "", fmt.Errorf("authenticate: %w", err)
	}
	a.recordRateLimit(cred, resp)

	return user.GetLogin(), nil
}

// ListRepositories returns every repository the credential can see.
func (a *Adapter) ListRepositories(ctx context.Context, cred model.Credential) ([]model.Repository, error) {
	client := a.client(cred)
	opts := &gh.RepositoryListByAuthenticatedUserOptions{
		ListOptions: gh.ListOptions{PerPage: 100},
	}

	var repos []model.Repository
	for {
		if err := a.checkBudget(ctx, cred); err != nil {
			return nil, err
		}

		page, resp, err := client.Repositories.ListByAuthenticatedUser(ctx, opts)
		if err != nil {
			return nil, mapHTTPErr("list repositories", resp, err)
		}
		a.recordRateLimit(cred, resp)

		for _, r := range page {
			repos = append(repos, mapRepository(r))
		}

		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	return repos, nil
}

// GetRepository fetches a single repository by owner/name.
func (a *Adapter) GetRepository(ctx context.Context, cred model.Credential, owner, name string) (model.Repository, error) {
	if err := a.checkBudget(ctx, cred); err != nil {
		return model.Repository{}, err
	}

	client := a.client(cred)
	repo, resp, err := client.Repositories.Get(ctx, owner, name)
	if err != nil {
		return model.Repository{}, mapHTTPErr(fmt.Sprintf("get repository %s/%s", owner, name), resp, err)
	}
	a.recordRateLimit(cred, resp)

	return mapRepository(repo), nil
}

// ListPullRequests returns pull requests in the given state.
func (a *Adapter) ListPullRequests(ctx context.Context, cred model.Credential, owner, name string, state model.PRState) ([]model.PullRequest, error) {
	client := a.client(cred)
	opts := &gh.PullRequestListOptions{
		State:       prStateFilter(state),
		Sort:        "updated",
		Direction:   "desc",
		ListOptions: gh.ListOptions{PerPage: 100},
	}

	var prs []model.PullRequest
	for {
		if err := a.checkBudget(ctx, cred); err != nil {
			return nil, err
		}

		page, resp, err := client.PullRequests.List(ctx, owner, name, opts)
		if err != nil {
			return nil, mapHTTPErr(fmt.Sprintf("list pull requests for %s/%s", owner, name), resp, err)
		}
		a.recordRateLimit(cred, resp)

		for _, pr := range page {
			prs = append(prs, mapPullRequest(pr))
		}

		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	return prs, nil
}

// GetPullRequest fetches one pull request together with its current CI
// checks (Checks API + Commit Status API combined) and reviews.
func (a *Adapter) GetPullRequest(ctx context.Context, cred model.Credential, owner, name string, number int) (model.PullRequest, []model.CICheck, []model.Review, error) {
	if err := a.checkBudget(ctx, cred); err != nil {
		return model.PullRequest{}, nil, nil, err
	}

	client := a.client(cred)

	pr, resp, err := client.PullRequests.Get(ctx, owner, name, number)
	if err != nil {
		return model.PullRequest{}, nil, nil, mapHTTPErr(fmt.Sprintf("get pull request %s/%s#%d", owner, name, number), resp, err)
	}
	a.recordRateLimit(cred, resp)

	ref := pr.GetHead().GetSHA()

	checks, err := a.fetchChecks(ctx, cred, owner, name, ref)
	if err != nil {
		return model.PullRequest{}, nil, nil, err
	}

	reviews, err := a.fetchReviews(ctx, cred, owner, name, number)
	if err != nil {
		return model.PullRequest{}, nil, nil, err
	}

	return mapPullRequest(pr), checks, reviews, nil
}

func (a *Adapter) fetchChecks(ctx context.Context, cred model.Credential, owner, name, ref string) ([]model.CICheck, error) {
	client := a.client(cred)
	var checks []model.CICheck

	opts := &gh.ListCheckRunsOptions{ListOptions: gh.ListOptions{PerPage: 100}}
	for {
		result, resp, err := client.Checks.ListCheckRunsForRef(ctx, owner, name, ref, opts)
		if err != nil {
			return nil, mapHTTPErr("list check runs", resp, err)
		}
		a.recordRateLimit(cred, resp)

		for _, cr := range result.CheckRuns {
			checks = append(checks, mapCheckRun(cr))
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	status, resp, err := client.Repositories.GetCombinedStatus(ctx, owner, name, ref, nil)
	if err != nil {
		return nil, mapHTTPErr("get combined status", resp, err)
	}
	a.recordRateLimit(cred, resp)

	for _, s := range status.Statuses {
		checks = append(checks, mapCommitStatus(s))
	}

	return checks, nil
}

func (a *Adapter) fetchReviews(ctx context.Context, cred model.Credential, owner, name string, number int) ([]model.Review, error) {
	client := a.client(cred)
	var reviews []model.Review

	opts := &gh.ListOptions{PerPage: 100}
	for {
		page, resp, err := client.PullRequests.ListReviews(ctx, owner, name, number, opts)
		if err != nil {
			return nil, mapHTTPErr("list reviews", resp, err)
		}
		a.recordRateLimit(cred, resp)

		for _, r := range page {
			reviews = append(reviews, mapReview(r))
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	return reviews, nil
}

// MergePullRequest merges the given pull request using GitHub's default
// merge method.
func (a *Adapter) MergePullRequest(ctx context.Context, cred model.Credential, owner, name string, number int) error {
	client := a.client(cred)

	result, resp, err := client.PullRequests.Merge(ctx, owner, name, number, "", nil)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusMethodNotAllowed {
			return fmt.Errorf("merge pull request %s/%s#%d: %w", owner, name, number, driven.ErrNotMergeable)
		}
		if resp != nil && resp.StatusCode == http.StatusConflict {
			return fmt.Errorf("merge pull request %s/%s#%d: %w", owner, name, number, driven.ErrMergeConflict)
		}
		return mapHTTPErr(fmt.Sprintf("merge pull request %s/%s#%d", owner, name, number), resp, err)
	}
	a.recordRateLimit(cred, resp)

	if !result.GetMerged() {
		return fmt.Errorf("merge pull request %s/%s#%d: %w", owner, name, number, driven.ErrNotMergeable)
	}
	return nil
}

// GetPullRequestDiff returns the normalized per-file diff from GitHub's
// /files endpoint.
func (a *Adapter) GetPullRequestDiff(ctx context.Context, cred model.Credential, owner, name string, number int) ([]diff.DiffFile, error) {
	client := a.client(cred)
	opts := &gh.ListOptions{PerPage: 100}

	var files []diff.DiffFile
	for {
		page, resp, err := client.PullRequests.ListFiles(ctx, owner, name, number, opts)
		if err != nil {
			return nil, mapHTTPErr("list pull request files", resp, err)
		}
		a.recordRateLimit(cred, resp)

		for _, f := range page {
			files = append(files, mapDiffFile(f))
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	return files, nil
}

// RateLimitStatus reports this credential's current rate-limit bucket.
func (a *Adapter) RateLimitStatus(ctx context.Context, cred model.Credential) (driven.RateLimit, error) {
	bucket := a.buckets.get(cred.AccountID)
	status := bucket.Status()
	if status.Unknown {
		client := a.client(cred)
		_, resp, err := client.RateLimit.Get(ctx)
		if err != nil {
			return driven.RateLimit{}, fmt.Errorf("get rate limit status: %w", err)
		}
		a.recordRateLimit(cred, resp)
		status = bucket.Status()
	}

	return driven.RateLimit{
		Remaining: status.Remaining,
		Limit:     status.Limit,
		ResetAt:   status.ResetAt,
		Unknown:   status.Unknown,
	}, nil
}

func (a *Adapter) checkBudget(ctx context.Context, cred model.Credential) error {
	bucket := a.buckets.get(cred.AccountID)
	if !bucket.Allow(a.safetyMargin, time.Now().UTC()) {
		return &driven.RateLimitError{ResetAt: bucket.ResetAt()}
	}
	return nil
}

func (a *Adapter) recordRateLimit(cred model.Credential, resp *gh.Response) {
	if resp == nil {
		return
	}
	bucket := a.buckets.get(cred.AccountID)
	bucket.Update(resp.Rate.Remaining, resp.Rate.Limit, resp.Rate.Reset.Time)
}

func mapHTTPErr(op string, resp *gh.Response, err error) error {
	if resp == nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	switch resp.StatusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%s: %w", op, driven.ErrNotFound)
	case http.StatusForbidden:
		return fmt.Errorf("%s: %w", op, driven.ErrForbidden)
	case http.StatusUnauthorized:
		return fmt.Errorf("%s: %w", op, driven.ErrInvalidCredentials)
	default:
		if resp.StatusCode >= 500 {
			return fmt.Errorf("%s: %w: %w", op, driven.ErrProviderUnavailable, err)
		}
		return fmt.Errorf("%s: %w", op, err)
	}
}

func prStateFilter(state model.PRState) string {
	switch state {
	case model.PRStateClosed, model.PRStateMerged:
		return "closed"
	case model.PRStateOpen, model.PRStateDraft:
		return "open"
	default:
		return "all"
	}
}

func mapRepository(r *gh.Repository) model.Repository {
	return model.Repository{
		Provider:      model.ProviderGitHub,
		OwnerSlug:     r.GetOwner().GetLogin(),
		NameSlug:      r.GetName(),
		DefaultBranch: r.GetDefaultBranch(),
		IsPrivate:     normalizeVisibility(r.GetVisibility(), r.GetPrivate()),
		IsArchived:    r.GetArchived(),
		RawVisibility: r.GetVisibility(),
	}
}

// normalizeVisibility maps GitHub's visibility ∈ {public, private,
// internal} to the storage model's IsPrivate bool; internal folds into
// private per the visibility roll-up decision.
func normalizeVisibility(visibility string, private bool) bool {
	if visibility == "" {
		return private
	}
	return visibility != "public"
}

func mapPullRequest(pr *gh.PullRequest) model.PullRequest {
	state := model.PRStateOpen
	switch {
	case !pr.GetMergedAt().IsZero():
		state = model.PRStateMerged
	case pr.GetState() == "closed":
		state = model.PRStateClosed
	case pr.GetDraft():
		state = model.PRStateDraft
	}

	return model.PullRequest{
		Number:         pr.GetNumber(),
		Title:          pr.GetTitle(),
		Author:         pr.GetUser().GetLogin(),
		State:          state,
		IsDraft:        pr.GetDraft(),
		URL:            pr.GetHTMLURL(),
		SourceBranch:   pr.GetHead().GetRef(),
		TargetBranch:   pr.GetBase().GetRef(),
		HeadSHA:        pr.GetHead().GetSHA(),
		Additions:      pr.GetAdditions(),
		Deletions:      pr.GetDeletions(),
		ChangedFiles:   pr.GetChangedFiles(),
		Mergeable:      mapMergeable(pr.Mergeable),
		OpenedAt:       pr.GetCreatedAt().Time,
		UpdatedAt:      pr.GetUpdatedAt().Time,
		LastActivityAt: pr.GetUpdatedAt().Time,
	}
}

func mapMergeable(mergeable *bool) model.MergeableState {
	if mergeable == nil {
		return model.MergeableUnknown
	}
	if *mergeable {
		return model.MergeableTrue
	}
	return model.MergeableFalse
}

func mapCheckRun(cr *gh.CheckRun) model.CICheck {
	var startedAt, completedAt time.Time
	if cr.StartedAt != nil {
		startedAt = cr.GetStartedAt().Time
	}
	if cr.CompletedAt != nil {
		completedAt = cr.GetCompletedAt().Time
	}

	return model.CICheck{
		Name:        cr.GetName(),
		ExternalID:  fmt.Sprintf("check/%d", cr.GetID()),
		Status:      model.CheckRunStatus(cr.GetStatus()),
		Conclusion:  mapConclusion(cr.GetConclusion()),
		ExternalURL: cr.GetDetailsURL(),
		StartedAt:   startedAt,
		CompletedAt: completedAt,
	}
}

func mapConclusion(conclusion string) model.CheckConclusion {
	if conclusion == "" {
		return model.ConclusionNone
	}
	return model.CheckConclusion(strings.ToLower(conclusion))
}

// mapCommitStatus folds a legacy commit status into the same CICheck shape
// the Checks API produces, so the status engine never needs to know which
// API a check came from.
func mapCommitStatus(s *gh.RepoStatus) model.CICheck {
	conclusion := model.ConclusionPending
	status := model.CheckInProgress
	switch s.GetState() {
	case "success":
		conclusion, status = model.ConclusionSuccess, model.CheckCompleted
	case "failure":
		conclusion, status = model.ConclusionFailure, model.CheckCompleted
	case "error":
		conclusion, status = model.ConclusionFailure, model.CheckCompleted
	}

	return model.CICheck{
		Name:        s.GetContext(),
		ExternalID:  fmt.Sprintf("status/%d", s.GetID()),
		Status:      status,
		Conclusion:  conclusion,
		ExternalURL: s.GetTargetURL(),
		StartedAt:   s.GetCreatedAt().Time,
		CompletedAt: s.GetUpdatedAt().Time,
	}
}

func mapReview(r *gh.PullRequestReview) model.Review {
	return model.Review{
		ReviewerHandle: r.GetUser().GetLogin(),
		State:          model.ReviewState(strings.ToLower(r.GetState())),
		SubmittedAt:    r.GetSubmittedAt().Time,
	}
}

func mapDiffFile(f *gh.CommitFile) diff.DiffFile {
	return diff.DiffFile{
		Status:    mapFileStatus(f.GetStatus()),
		OldPath:   f.GetPreviousFilename(),
		NewPath:   f.GetFilename(),
		Patch:     f.GetPatch(),
		Additions: f.GetAdditions(),
		Deletions: f.GetDeletions(),
	}
}

func mapFileStatus(status string) diff.FileStatus {
	switch status {
	case "added":
		return diff.FileAdded
	case "removed":
		return diff.FileRemoved
	case "renamed":
		return diff.FileRenamed
	default:
		return diff.FileModified
	}
}
