// Package gitlab implements driven.ProviderAdapter against the GitLab REST
// v4 API using gitlab.com/gitlab-org/api/client-go, covering both
// GitLab.com and self-hosted GitLab instances via InstanceURL.
package gitlab

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	gl "gitlab.com/gitlab-org/api/client-go"

	"github.com/pacphi/ampel-sub003/internal/adapter/driven/provider/diff"
	"github.com/pacphi/ampel-sub003/internal/adapter/driven/provider/ratelimit"
	"github.com/pacphi/ampel-sub003/internal/domain/model"
	"github.com/pacphi/ampel-sub003/internal/domain/port/driven"
)

var _ driven.ProviderAdapter = (*Adapter)(nil)

// Adapter implements driven.ProviderAdapter for GitLab.com and self-hosted
// GitLab instances. A fresh gitlab.Client is built per credential, same as
// the GitHub adapter, since each credential carries its own token.
type Adapter struct {
	safetyMargin int
	timeout      time.Duration
	buckets      *bucketRegistry
}

// NewAdapter creates a GitLab adapter. timeout bounds every outbound call;
// zero means no per-request timeout beyond context cancellation.
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

func (a *Adapter) client(cred model.Credential) (*gl.Client, error) {
	opts := []gl.ClientOptionFunc{}
	if cred.InstanceURL != "" {
		opts = append(opts, gl.WithBaseURL(cred.InstanceURL))
	}
	if a.timeout > 0 {
		opts = append(opts, gl.WithHTTPClient(&http.Client{Timeout: a.timeout}))
	}
	client, err := gl.NewClient(cred.AccessToken, opts...)
	if err != nil {
		return nil, fmt.Errorf("build gitlab client: %w", err)
	}
	return client, nil
}

func projectID(owner, name string) string {
	return owner + "/" + name
}

// Authenticate verifies the credential is usable and returns the
// authenticated user's username.
func (a *Adapter) Authenticate(ctx context.Context, cred model.Credential) (string, error) {
	client, err := a.client(cred)
	if err != nil {
		return "", err
	}

	user, resp, err := client.Users.CurrentUser(gl.WithContext(ctx))
	if err != nil {
		return "", mapHTTPErr("authenticate", resp, err)
	}
	a.recordRateLimit(cred, resp)

	return user.Username, nil
}

// ListRepositories returns every project the credential is a member of.
func (a *Adapter) ListRepositories(ctx context.Context, cred model.Credential) ([]model.Repository, error) {
	client, err := a.client(cred)
	if err != nil {
		return nil, err
	}

	membership := true
	opts := &gl.ListProjectsOptions{
		Membership:  &membership,
		ListOptions: gl.ListOptions{PerPage: 100},
	}

	var repos []model.Repository
	for {
		if err := a.checkBudget(ctx, cred); err != nil {
			return nil, err
		}

		page, resp, err := client.Projects.ListProjects(opts, gl.WithContext(ctx))
		if err != nil {
			return nil, mapHTTPErr("list projects", resp, err)
		}
		a.recordRateLimit(cred, resp)

		for _, p := range page {
			repos = append(repos, mapProject(p))
		}

		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	return repos, nil
}

// GetRepository fetches a single project by owner/name path.
func (a *Adapter) GetRepository(ctx context.Context, cred model.Credential, owner, name string) (model.Repository, error) {
	if err := a.checkBudget(ctx, cred); err != nil {
		return model.Repository{}, err
	}

	client, err := a.client(cred)
	if err != nil {
		return model.Repository{}, err
	}

	project, resp, err := client.Projects.GetProject(projectID(owner, name), nil, gl.WithContext(ctx))
	if err != nil {
		return model.Repository{}, mapHTTPErr(fmt.Sprintf("get project %s/%s", owner, name), resp, err)
	}
	a.recordRateLimit(cred, resp)

	return mapProject(project), nil
}

// ListPullRequests returns merge requests in the given state.
func (a *Adapter) ListPullRequests(ctx context.Context, cred model.Credential, owner, name string, state model.PRState) ([]model.PullRequest, error) {
	client, err := a.client(cred)
	if err != nil {
		return nil, err
	}

	opts := &gl.ListProjectMergeRequestsOptions{
		ListOptions: gl.ListOptions{PerPage: 100},
	}
	if s := mrStateFilter(state); s != "" {
		opts.State = gl.Ptr(s)
	}

	var prs []model.PullRequest
	pid := projectID(owner, name)
	for {
		if err := a.checkBudget(ctx, cred); err != nil {
			return nil, err
		}

		page, resp, err := client.MergeRequests.ListProjectMergeRequests(pid, opts, gl.WithContext(ctx))
		if err != nil {
			return nil, mapHTTPErr(fmt.Sprintf("list merge requests for %s", pid), resp, err)
		}
		a.recordRateLimit(cred, resp)

		for _, mr := range page {
			prs = append(prs, mapMergeRequest(mr))
		}

		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	return prs, nil
}

// GetPullRequest fetches one merge request together with its latest
// pipeline's jobs (as checks) and its approval state (as reviews).
func (a *Adapter) GetPullRequest(ctx context.Context, cred model.Credential, owner, name string, number int) (model.PullRequest, []model.CICheck, []model.Review, error) {
	if err := a.checkBudget(ctx, cred); err != nil {
		return model.PullRequest{}, nil, nil, err
	}

	client, err := a.client(cred)
	if err != nil {
		return model.PullRequest{}, nil, nil, err
	}

	pid := projectID(owner, name)
	mr, resp, err := client.MergeRequests.GetMergeRequest(pid, number, nil, gl.WithContext(ctx))
	if err != nil {
		return model.PullRequest{}, nil, nil, mapHTTPErr(fmt.Sprintf("get merge request %s!%d", pid, number), resp, err)
	}
	a.recordRateLimit(cred, resp)

	checks, err := a.fetchChecks(ctx, client, cred, pid, mr)
	if err != nil {
		return model.PullRequest{}, nil, nil, err
	}

	reviews, err := a.fetchReviews(ctx, client, cred, pid, number, mr)
	if err != nil {
		return model.PullRequest{}, nil, nil, err
	}

	return mapMergeRequest(mr), checks, reviews, nil
}

func (a *Adapter) fetchChecks(ctx context.Context, client *gl.Client, cred model.Credential, pid string, mr *gl.MergeRequest) ([]model.CICheck, error) {
	if mr.Pipeline == nil {
		return nil, nil
	}

	var checks []model.CICheck
	opts := &gl.ListJobsOptions{ListOptions: gl.ListOptions{PerPage: 100}}
	for {
		jobs, resp, err := client.Jobs.ListPipelineJobs(pid, mr.Pipeline.ID, opts, gl.WithContext(ctx))
		if err != nil {
			return nil, mapHTTPErr("list pipeline jobs", resp, err)
		}
		a.recordRateLimit(cred, resp)

		for _, j := range jobs {
			checks = append(checks, mapJob(j))
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	return checks, nil
}

// fetchReviews maps GitLab's approval state to our Review shape. GitLab's
// approval rules track who has approved, not who requested changes, so
// every mapped review is Approved; there is no pending or
// changes-requested signal to surface here. The API does not return a
// per-approver timestamp, so the merge request's own UpdatedAt stands in
// as the best available approximation of when the approval was recorded.
func (a *Adapter) fetchReviews(ctx context.Context, client *gl.Client, cred model.Credential, pid string, number int, mr *gl.MergeRequest) ([]model.Review, error) {
	approvals, resp, err := client.MergeRequestApprovals.GetConfiguration(pid, number, gl.WithContext(ctx))
	if err != nil {
		return nil, mapHTTPErr("get merge request approvals", resp, err)
	}
	a.recordRateLimit(cred, resp)

	var approvedAt time.Time
	if mr.UpdatedAt != nil {
		approvedAt = *mr.UpdatedAt
	}

	var reviews []model.Review
	for _, approver := range approvals.ApprovedBy {
		reviews = append(reviews, model.Review{
			ReviewerHandle: approver.User.Username,
			State:          model.ReviewApproved,
			SubmittedAt:    approvedAt,
		})
	}

	return reviews, nil
}

// MergePullRequest merges the given merge request.
func (a *Adapter) MergePullRequest(ctx context.Context, cred model.Credential, owner, name string, number int) error {
	client, err := a.client(cred)
	if err != nil {
		return err
	}

	pid := projectID(owner, name)
	_, resp, err := client.MergeRequests.AcceptMergeRequest(pid, number, nil, gl.WithContext(ctx))
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusMethodNotAllowed || resp.StatusCode == http.StatusNotAcceptable) {
			return fmt.Errorf("merge request %s!%d: %w", pid, number, driven.ErrNotMergeable)
		}
		if resp != nil && resp.StatusCode == http.StatusConflict {
			return fmt.Errorf("merge request %s!%d: %w", pid, number, driven.ErrMergeConflict)
		}
		return mapHTTPErr(fmt.Sprintf("merge request %s!%d", pid, number), resp, err)
	}
	a.recordRateLimit(cred, resp)

	return nil
}

// GetPullRequestDiff returns the normalized per-file diff from GitLab's
// merge request diffs endpoint.
func (a *Adapter) GetPullRequestDiff(ctx context.Context, cred model.Credential, owner, name string, number int) ([]diff.DiffFile, error) {
	client, err := a.client(cred)
	if err != nil {
		return nil, err
	}

	pid := projectID(owner, name)
	opts := &gl.ListMergeRequestDiffsOptions{ListOptions: gl.ListOptions{PerPage: 100}}

	var files []diff.DiffFile
	for {
		page, resp, err := client.MergeRequests.ListMergeRequestDiffs(pid, number, opts, gl.WithContext(ctx))
		if err != nil {
			return nil, mapHTTPErr("list merge request diffs", resp, err)
		}
		a.recordRateLimit(cred, resp)

		for _, d := range page {
			files = append(files, mapDiffFile(d))
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
		if _, err := a.Authenticate(ctx, cred); err != nil {
			return driven.RateLimit{}, err
		}
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

// recordRateLimit parses GitLab's RateLimit-* response headers, present on
// GitLab.com and on self-hosted instances with the rate-limit middleware
// enabled. Absent headers leave the bucket unknown rather than guessing.
func (a *Adapter) recordRateLimit(cred model.Credential, resp *gl.Response) {
	if resp == nil || resp.Response == nil || resp.Header == nil {
		return
	}
	remaining, errR := strconv.Atoi(resp.Header.Get("RateLimit-Remaining"))
	limit, errL := strconv.Atoi(resp.Header.Get("RateLimit-Limit"))
	resetUnix, errT := strconv.ParseInt(resp.Header.Get("RateLimit-Reset"), 10, 64)
	if errR != nil || errL != nil || errT != nil {
		return
	}

	bucket := a.buckets.get(cred.AccountID)
	bucket.Update(remaining, limit, time.Unix(resetUnix, 0).UTC())
}

func mapHTTPErr(op string, resp *gl.Response, err error) error {
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

func mrStateFilter(state model.PRState) string {
	switch state {
	case model.PRStateOpen, model.PRStateDraft:
		return "opened"
	case model.PRStateClosed:
		return "closed"
	case model.PRStateMerged:
		return "merged"
	default:
		return ""
	}
}

func mapProject(p *gl.Project) model.Repository {
	owner, name := splitPath(p.PathWithNamespace, p.Path)
	return model.Repository{
		Provider:      model.ProviderGitLab,
		OwnerSlug:     owner,
		NameSlug:      name,
		DefaultBranch: p.DefaultBranch,
		IsPrivate:     normalizeVisibility(string(p.Visibility)),
		IsArchived:    p.Archived,
		RawVisibility: string(p.Visibility),
	}
}

func splitPath(pathWithNamespace, path string) (owner, name string) {
	idx := strings.LastIndex(pathWithNamespace, "/")
	if idx < 0 {
		return "", path
	}
	return pathWithNamespace[:idx], pathWithNamespace[idx+1:]
}

// normalizeVisibility maps GitLab's visibility ∈ {public, internal,
// private} to the storage model's IsPrivate bool; internal folds into
// private, same roll-up rule applied to GitHub's internal visibility.
func normalizeVisibility(visibility string) bool {
	return visibility != string(gl.PublicVisibility)
}

func mapMergeRequest(mr *gl.MergeRequest) model.PullRequest {
	state := model.PRStateOpen
	switch {
	case mr.State == "merged":
		state = model.PRStateMerged
	case mr.State == "closed":
		state = model.PRStateClosed
	case mr.Draft || mr.WorkInProgress:
		state = model.PRStateDraft
	}

	var opened, updated time.Time
	if mr.CreatedAt != nil {
		opened = *mr.CreatedAt
	}
	if mr.UpdatedAt != nil {
		updated = *mr.UpdatedAt
	}

	return model.PullRequest{
		Number:         mr.IID,
		Title:          mr.Title,
		Author:         mr.Author.Username,
		State:          state,
		IsDraft:        mr.Draft || mr.WorkInProgress,
		URL:            mr.WebURL,
		SourceBranch:   mr.SourceBranch,
		TargetBranch:   mr.TargetBranch,
		HeadSHA:        mr.SHA,
		Additions:      mr.Additions,
		Deletions:      mr.Deletions,
		ChangedFiles:   changesCount(mr.ChangesCount),
		Mergeable:      mapMergeable(mr.MergeStatus, mr.DetailedMergeStatus),
		OpenedAt:       opened,
		UpdatedAt:      updated,
		LastActivityAt: updated,
	}
}

// changesCount parses GitLab's ChangesCount, which the API reports as a
// string and sometimes suffixes with "+" once a merge request exceeds the
// server's diff size limit (e.g. "1000+").
func changesCount(raw string) int {
	raw = strings.TrimSuffix(raw, "+")
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return n
}

func mapMergeable(mergeStatus, detailedStatus string) model.MergeableState {
	switch {
	case mergeStatus == "can_be_merged", detailedStatus == "mergeable":
		return model.MergeableTrue
	case mergeStatus == "cannot_be_merged", detailedStatus == "conflict":
		return model.MergeableFalse
	default:
		return model.MergeableUnknown
	}
}

func mapJob(j *gl.Job) model.CICheck {
	status := model.CheckInProgress
	conclusion := model.ConclusionPending

	switch j.Status {
	case "success":
		status, conclusion = model.CheckCompleted, model.ConclusionSuccess
	case "failed":
		status, conclusion = model.CheckCompleted, model.ConclusionFailure
	case "canceled":
		status, conclusion = model.CheckCompleted, model.ConclusionCancelled
	case "skipped":
		status, conclusion = model.CheckCompleted, model.ConclusionSkipped
	case "manual":
		status, conclusion = model.CheckCompleted, model.ConclusionActionRequired
	case "created", "pending":
		status, conclusion = model.CheckQueued, model.ConclusionPending
	case "running":
		status, conclusion = model.CheckInProgress, model.ConclusionPending
	}

	var startedAt, completedAt time.Time
	if j.StartedAt != nil {
		startedAt = *j.StartedAt
	}
	if j.FinishedAt != nil {
		completedAt = *j.FinishedAt
	}

	return model.CICheck{
		Name:        j.Name,
		ExternalID:  fmt.Sprintf("job/%d", j.ID),
		Status:      status,
		Conclusion:  conclusion,
		ExternalURL: j.WebURL,
		StartedAt:   startedAt,
		CompletedAt: completedAt,
	}
}

func mapDiffFile(d *gl.MergeRequestDiff) diff.DiffFile {
	return diff.DiffFile{
		Status:  mapFileStatus(d),
		OldPath: d.OldPath,
		NewPath: d.NewPath,
		Patch:   d.Diff,
	}
}

func mapFileStatus(d *gl.MergeRequestDiff) diff.FileStatus {
	switch {
	case d.NewFile:
		return diff.FileAdded
	case d.DeletedFile:
		return diff.FileRemoved
	case d.RenamedFile:
		return diff.FileRenamed
	default:
		return diff.FileModified
	}
}
