// Package bitbucket implements driven.ProviderAdapter against the
// Bitbucket Cloud REST v2 API using github.com/ktrysmt/go-bitbucket.
// Bitbucket Cloud exposes no rate-limit headers and no self-hosted
// instance URL support in this module (Bitbucket Server is out of scope),
// so this adapter is simpler than its GitHub/GitLab siblings in both
// regards.
package bitbucket

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	bb "github.com/ktrysmt/go-bitbucket"

	"github.com/pacphi/ampel-sub003/internal/adapter/driven/provider/diff"
	"github.com/pacphi/ampel-sub003/internal/adapter/driven/provider/ratelimit"
	"github.com/pacphi/ampel-sub003/internal/domain/model"
	"github.com/pacphi/ampel-sub003/internal/domain/port/driven"
)

var _ driven.ProviderAdapter = (*Adapter)(nil)

// estimatedHourlyQuota is the local rate-limit estimate seeded into a
// credential's TokenBucket, since Bitbucket Cloud returns no rate-limit
// response headers for the REST v2 API.
const estimatedHourlyQuota = 1000

// Adapter implements driven.ProviderAdapter for Bitbucket Cloud.
type Adapter struct {
	safetyMargin int
	timeout      time.Duration
	buckets      *bucketRegistry
}

// NewAdapter creates a Bitbucket Cloud adapter. timeout bounds every
// outbound call; zero means no per-request timeout beyond context
// cancellation.
func NewAdapter(safetyMargin int, timeout time.Duration) *Adapter {
	return &Adapter{safetyMargin: safetyMargin, timeout: timeout, buckets: newBucketRegistry()}
}

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

// splitBasicAuth unpacks the "username:app_password" pair the Credential
// Store stores in AccessToken for Bitbucket accounts, since Bitbucket
// Cloud authenticates over Basic auth rather than a bearer token and
// model.Credential carries no separate username field.
func splitBasicAuth(accessToken string) (username, appPassword string) {
	parts := strings.SplitN(accessToken, ":", 2)
	if len(parts) != 2 {
		return accessToken, ""
	}
	return parts[0], parts[1]
}

func (a *Adapter) client(cred model.Credential) *bb.Client {
	username, appPassword := splitBasicAuth(cred.AccessToken)
	client := bb.NewBasicAuth(username, appPassword)
	if a.timeout > 0 {
		client.HttpClient.Timeout = a.timeout
	}
	return client
}

func (a *Adapter) checkBudgetAndConsume(ctx context.Context, cred model.Credential) error {
	bucket := a.buckets.get(cred.AccountID)
	if bucket.Status().Unknown {
		bucket.Seed(estimatedHourlyQuota, time.Hour, time.Now().UTC())
	}
	if !bucket.Allow(a.safetyMargin, time.Now().UTC()) {
		return &driven.RateLimitError{ResetAt: bucket.ResetAt()}
	}
	bucket.Consume()
	return nil
}

// Authenticate verifies the credential is usable and returns the
// authenticated account's username.
func (a *Adapter) Authenticate(ctx context.Context, cred model.Credential) (string, error) {
	if err := a.checkBudgetAndConsume(ctx, cred); err != nil {
		return "", err
	}

	username, _ := splitBasicAuth(cred.AccessToken)
	client := a.client(cred)

	raw, err := client.User.Profile()
	if err != nil {
		return "", mapErr("authenticate", err)
	}
	if m, ok := raw.(map[string]interface{}); ok {
		if u := asString(m, "username"); u != "" {
			return u, nil
		}
	}

	return username, nil
}

// ListRepositories returns every repository in every workspace the
// credential belongs to.
func (a *Adapter) ListRepositories(ctx context.Context, cred model.Credential) ([]model.Repository, error) {
	client := a.client(cred)
	username, _ := splitBasicAuth(cred.AccessToken)

	var repos []model.Repository
	opts := &bb.RepositoriesOptions{Owner: username}
	for page := 1; ; page++ {
		if page > 500 {
			return nil, fmt.Errorf("list repositories: exceeded max page count without exhausting results")
		}
		if err := a.checkBudgetAndConsume(ctx, cred); err != nil {
			return nil, err
		}

		opts.Page = strconv.Itoa(page)
		raw, err := client.Repositories.ListForAccount(opts)
		if err != nil {
			return nil, mapErr("list repositories", err)
		}

		items, next := paginatedValues(raw)
		for _, item := range items {
			if m, ok := item.(map[string]interface{}); ok {
				repos = append(repos, mapRepository(m))
			}
		}

		if next == "" {
			break
		}
	}

	return repos, nil
}

// GetRepository fetches a single repository by workspace/slug.
func (a *Adapter) GetRepository(ctx context.Context, cred model.Credential, owner, name string) (model.Repository, error) {
	if err := a.checkBudgetAndConsume(ctx, cred); err != nil {
		return model.Repository{}, err
	}

	client := a.client(cred)
	raw, err := client.Repositories.Repository.Get(&bb.RepositoryOptions{Owner: owner, RepoSlug: name})
	if err != nil {
		return model.Repository{}, mapErr(fmt.Sprintf("get repository %s/%s", owner, name), err)
	}

	m, ok := toMap(raw)
	if !ok {
		return model.Repository{}, fmt.Errorf("get repository %s/%s: unexpected response shape", owner, name)
	}

	return mapRepository(m), nil
}

// ListPullRequests returns pull requests in the given state.
func (a *Adapter) ListPullRequests(ctx context.Context, cred model.Credential, owner, name string, state model.PRState) ([]model.PullRequest, error) {
	client := a.client(cred)

	opts := &bb.PullRequestsOptions{Owner: owner, RepoSlug: name}
	if s := prStateFilter(state); s != "" {
		opts.States = []string{s}
	}

	var prs []model.PullRequest
	for page := 1; ; page++ {
		if page > 500 {
			return nil, fmt.Errorf("list pull requests for %s/%s: exceeded max page count without exhausting results", owner, name)
		}
		if err := a.checkBudgetAndConsume(ctx, cred); err != nil {
			return nil, err
		}

		opts.Page = strconv.Itoa(page)
		raw, err := client.Repositories.PullRequests.Gets(opts)
		if err != nil {
			return nil, mapErr(fmt.Sprintf("list pull requests for %s/%s", owner, name), err)
		}

		items, next := paginatedValues(raw)
		for _, item := range items {
			if m, ok := item.(map[string]interface{}); ok {
				prs = append(prs, mapPullRequest(m))
			}
		}

		if next == "" {
			break
		}
	}

	return prs, nil
}

// GetPullRequest fetches one pull request together with its build statuses
// (as checks) and participant approval state (as reviews).
func (a *Adapter) GetPullRequest(ctx context.Context, cred model.Credential, owner, name string, number int) (model.PullRequest, []model.CICheck, []model.Review, error) {
	if err := a.checkBudgetAndConsume(ctx, cred); err != nil {
		return model.PullRequest{}, nil, nil, err
	}

	client := a.client(cred)
	id := strconv.Itoa(number)
	raw, err := client.Repositories.PullRequests.Get(&bb.PullRequestsOptions{Owner: owner, RepoSlug: name, ID: id})
	if err != nil {
		return model.PullRequest{}, nil, nil, mapErr(fmt.Sprintf("get pull request %s/%s#%d", owner, name, number), err)
	}

	m, ok := toMap(raw)
	if !ok {
		return model.PullRequest{}, nil, nil, fmt.Errorf("get pull request %s/%s#%d: unexpected response shape", owner, name, number)
	}
	pr := mapPullRequest(m)

	checks, err := a.fetchChecks(ctx, cred, owner, name, pr.HeadSHA)
	if err != nil {
		return model.PullRequest{}, nil, nil, err
	}

	reviews := mapReviews(m)

	return pr, checks, reviews, nil
}

func (a *Adapter) fetchChecks(ctx context.Context, cred model.Credential, owner, name, sha string) ([]model.CICheck, error) {
	if sha == "" {
		return nil, nil
	}
	if err := a.checkBudgetAndConsume(ctx, cred); err != nil {
		return nil, err
	}

	client := a.client(cred)
	raw, err := client.Repositories.Commits.GetCommitStatuses(&bb.CommitsOptions{Owner: owner, RepoSlug: name, Revision: sha})
	if err != nil {
		return nil, mapErr("get commit statuses", err)
	}

	items, _ := paginatedValues(raw)
	var checks []model.CICheck
	for _, item := range items {
		if m, ok := item.(map[string]interface{}); ok {
			checks = append(checks, mapBuildStatus(m))
		}
	}

	return checks, nil
}

// MergePullRequest merges the given pull request.
func (a *Adapter) MergePullRequest(ctx context.Context, cred model.Credential, owner, name string, number int) error {
	client := a.client(cred)
	id := strconv.Itoa(number)

	_, err := client.Repositories.PullRequests.Merge(&bb.PullRequestsOptions{Owner: owner, RepoSlug: name, ID: id})
	if err != nil {
		return mapMergeErr(fmt.Sprintf("merge pull request %s/%s#%d", owner, name, number), err)
	}

	return nil
}

// GetPullRequestDiff returns the normalized per-file diff from Bitbucket's
// /diffstat endpoint.
func (a *Adapter) GetPullRequestDiff(ctx context.Context, cred model.Credential, owner, name string, number int) ([]diff.DiffFile, error) {
	client := a.client(cred)
	id := strconv.Itoa(number)

	raw, err := client.Repositories.PullRequests.GetDiffStat(&bb.PullRequestsOptions{Owner: owner, RepoSlug: name, ID: id})
	if err != nil {
		return nil, mapErr("get pull request diffstat", err)
	}

	items, _ := paginatedValues(raw)
	var files []diff.DiffFile
	for _, item := range items {
		if m, ok := item.(map[string]interface{}); ok {
			files = append(files, mapDiffStatEntry(m))
		}
	}

	return files, nil
}

// RateLimitStatus reports the local token-bucket estimate, since Bitbucket
// Cloud exposes no rate-limit response headers.
func (a *Adapter) RateLimitStatus(ctx context.Context, cred model.Credential) (driven.RateLimit, error) {
	bucket := a.buckets.get(cred.AccountID)
	status := bucket.Status()
	if status.Unknown {
		bucket.Seed(estimatedHourlyQuota, time.Hour, time.Now().UTC())
		status = bucket.Status()
	}

	return driven.RateLimit{
		Remaining: status.Remaining,
		Limit:     status.Limit,
		ResetAt:   status.ResetAt,
		Unknown:   false,
	}, nil
}

func mapErr(op string, err error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "404"):
		return fmt.Errorf("%s: %w", op, driven.ErrNotFound)
	case strings.Contains(msg, "403"):
		return fmt.Errorf("%s: %w", op, driven.ErrForbidden)
	case strings.Contains(msg, "401"):
		return fmt.Errorf("%s: %w", op, driven.ErrInvalidCredentials)
	case strings.Contains(msg, "502"), strings.Contains(msg, "503"), strings.Contains(msg, "504"):
		return fmt.Errorf("%s: %w: %w", op, driven.ErrProviderUnavailable, err)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}

func mapMergeErr(op string, err error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "409"):
		return fmt.Errorf("%s: %w", op, driven.ErrMergeConflict)
	case strings.Contains(msg, "405"), strings.Contains(msg, "400"):
		return fmt.Errorf("%s: %w", op, driven.ErrNotMergeable)
	default:
		return mapErr(op, err)
	}
}

// toMap type-asserts a go-bitbucket response to its underlying
// map[string]interface{} shape; the library decodes most Bitbucket Cloud
// responses into loosely typed JSON rather than provider-specific structs.
func toMap(raw interface{}) (map[string]interface{}, bool) {
	m, ok := raw.(map[string]interface{})
	return m, ok
}

// paginatedValues extracts the "values" array and "next" cursor link
// common to every Bitbucket Cloud list endpoint.
func paginatedValues(raw interface{}) ([]interface{}, string) {
	m, ok := toMap(raw)
	if !ok {
		return nil, ""
	}
	values, _ := m["values"].([]interface{})
	next := asString(m, "next")
	return values, next
}

func asString(m map[string]interface{}, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

func asBool(m map[string]interface{}, key string) bool {
	if v, ok := m[key].(bool); ok {
		return v
	}
	return false
}

func asInt(m map[string]interface{}, key string) int {
	switch v := m[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}

func asNestedString(m map[string]interface{}, path ...string) string {
	cur := m
	for i, key := range path {
		if i == len(path)-1 {
			return asString(cur, key)
		}
		next, ok := cur[key].(map[string]interface{})
		if !ok {
			return ""
		}
		cur = next
	}
	return ""
}

func asTime(m map[string]interface{}, key string) time.Time {
	s := asString(m, key)
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func prStateFilter(state model.PRState) string {
	switch state {
	case model.PRStateOpen, model.PRStateDraft:
		return "OPEN"
	case model.PRStateMerged:
		return "MERGED"
	case model.PRStateClosed:
		return "DECLINED"
	default:
		return ""
	}
}

// mapRepository maps a Bitbucket Cloud repository JSON object. archived is
// always false: Bitbucket Cloud has no archived concept (spec §4.1 rule 2).
func mapRepository(m map[string]interface{}) model.Repository {
	return model.Repository{
		Provider:      model.ProviderBitbucket,
		OwnerSlug:     asNestedString(m, "workspace", "slug"),
		NameSlug:      asString(m, "slug"),
		DefaultBranch: asNestedString(m, "mainbranch", "name"),
		IsPrivate:     asBool(m, "is_private"),
		IsArchived:    false,
		RawVisibility: visibilityString(asBool(m, "is_private")),
	}
}

func visibilityString(isPrivate bool) string {
	if isPrivate {
		return "private"
	}
	return "public"
}

func mapPullRequest(m map[string]interface{}) model.PullRequest {
	state := model.PRStateOpen
	switch strings.ToUpper(asString(m, "state")) {
	case "MERGED":
		state = model.PRStateMerged
	case "DECLINED", "SUPERSEDED":
		state = model.PRStateClosed
	}

	return model.PullRequest{
		Number:         asInt(m, "id"),
		Title:          asString(m, "title"),
		Author:         asNestedString(m, "author", "username"),
		State:          state,
		IsDraft:        false,
		URL:            asNestedString(m, "links", "html", "href"),
		SourceBranch:   asNestedString(m, "source", "branch", "name"),
		TargetBranch:   asNestedString(m, "destination", "branch", "name"),
		HeadSHA:        asNestedString(m, "source", "commit", "hash"),
		Mergeable:      model.MergeableUnknown,
		OpenedAt:       asTime(m, "created_on"),
		UpdatedAt:      asTime(m, "updated_on"),
		LastActivityAt: asTime(m, "updated_on"),
	}
}

// mapReviews maps Bitbucket's participants[] to reviews. A participant
// with approved=true maps to Approved; every other participant maps to
// Commented, since Bitbucket Cloud has no changes-requested signal (spec
// §4 Open Question decision 4).
func mapReviews(m map[string]interface{}) []model.Review {
	participants, _ := m["participants"].([]interface{})
	var reviews []model.Review
	for _, p := range participants {
		pm, ok := p.(map[string]interface{})
		if !ok {
			continue
		}
		state := model.ReviewCommented
		if asBool(pm, "approved") {
			state = model.ReviewApproved
		}
		reviews = append(reviews, model.Review{
			ReviewerHandle: asNestedString(pm, "user", "username"),
			State:          state,
			SubmittedAt:    asTime(pm, "participated_on"),
		})
	}
	return reviews
}

func mapBuildStatus(m map[string]interface{}) model.CICheck {
	status := model.CheckInProgress
	conclusion := model.ConclusionPending

	switch strings.ToUpper(asString(m, "state")) {
	case "SUCCESSFUL":
		status, conclusion = model.CheckCompleted, model.ConclusionSuccess
	case "FAILED":
		status, conclusion = model.CheckCompleted, model.ConclusionFailure
	case "STOPPED":
		status, conclusion = model.CheckCompleted, model.ConclusionCancelled
	case "INPROGRESS":
		status, conclusion = model.CheckInProgress, model.ConclusionPending
	}

	return model.CICheck{
		Name:        asString(m, "name"),
		ExternalID:  asString(m, "key"),
		Status:      status,
		Conclusion:  conclusion,
		ExternalURL: asNestedString(m, "url"),
		CompletedAt: asTime(m, "updated_on"),
	}
}

func mapDiffStatEntry(m map[string]interface{}) diff.DiffFile {
	status := diff.FileModified
	switch asString(m, "status") {
	case "added":
		status = diff.FileAdded
	case "removed":
		status = diff.FileRemoved
	case "renamed":
		status = diff.FileRenamed
	}

	return diff.DiffFile{
		Status:    status,
		OldPath:   asNestedString(m, "old", "path"),
		NewPath:   asNestedString(m, "new", "path"),
		Additions: asInt(m, "lines_added"),
		Deletions: asInt(m, "lines_removed"),
	}
}
