// Package scheduler polls tracked repositories for pull request changes and
// recomputes their readiness status, across however many git-hosting
// providers and accounts the user has configured.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/pacphi/ampel-sub003/internal/domain/model"
	"github.com/pacphi/ampel-sub003/internal/domain/port/driven"
	"github.com/pacphi/ampel-sub003/internal/domain/statusengine"
)

// defaultNotFoundStrikeLimit is the number of consecutive ErrNotFound polls a
// repository tolerates before the scheduler untracks it. A single 404 is
// treated as transient (a provider hiccup, a momentary rename); only a
// repository that stays missing across several polls is actually gone.
const defaultNotFoundStrikeLimit = 5

// Config controls the scheduler's concurrency and timing.
type Config struct {
	// TickInterval is the discovery-tick resolution; each tick asks the
	// RepositoryStore which repos are due and dispatches them.
	TickInterval time.Duration
	// WorkerPoolSize bounds the number of polls running concurrently across
	// every provider and account.
	WorkerPoolSize int64
	// PerAccountConcurrency bounds the number of polls running concurrently
	// against a single ProviderAccount, so one account's repos cannot starve
	// another's worker pool share.
	PerAccountConcurrency int64
	// NotFoundStrikeLimit overrides defaultNotFoundStrikeLimit when non-zero.
	NotFoundStrikeLimit int
}

func (c Config) notFoundStrikeLimit() int {
	if c.NotFoundStrikeLimit > 0 {
		return c.NotFoundStrikeLimit
	}
	return defaultNotFoundStrikeLimit
}

// refreshRequest represents a manual, out-of-band poll trigger for a single
// repository or pull request. It always jumps ahead of the discovery-tick
// queue for that repository.
type refreshRequest struct {
	userID   int64
	repoID   int64
	prNumber int // zero means "refresh the whole repository"
	done     chan error
}

// Scheduler dispatches due repositories onto a bounded worker pool, polls
// each provider for pull request changes, and persists the result.
type Scheduler struct {
	repoStore    driven.RepositoryStore
	prStore      driven.PullRequestStore
	checkStore   driven.CICheckStore
	reviewStore  driven.ReviewStore
	accountStore driven.ProviderAccountStore
	credStore    driven.CredentialStore
	factory      driven.ProviderFactory

	cfg Config

	workerSem *semaphore.Weighted

	acctSemMu sync.Mutex
	acctSem   map[int64]*semaphore.Weighted

	repoLocks *keyedMutex

	refreshCh chan refreshRequest

	strikesMu sync.Mutex
	strikes   map[int64]int // repo ID -> consecutive ErrNotFound count
}

// New constructs a Scheduler. cfg.WorkerPoolSize and cfg.PerAccountConcurrency
// must be at least 1.
func New(
	repoStore driven.RepositoryStore,
	prStore driven.PullRequestStore,
	checkStore driven.CICheckStore,
	reviewStore driven.ReviewStore,
	accountStore driven.ProviderAccountStore,
	credStore driven.CredentialStore,
	factory driven.ProviderFactory,
	cfg Config,
) *Scheduler {
	if cfg.WorkerPoolSize < 1 {
		cfg.WorkerPoolSize = 1
	}
	if cfg.PerAccountConcurrency < 1 {
		cfg.PerAccountConcurrency = 1
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Minute
	}

	return &Scheduler{
		repoStore:    repoStore,
		prStore:      prStore,
		checkStore:   checkStore,
		reviewStore:  reviewStore,
		accountStore: accountStore,
		credStore:    credStore,
		factory:      factory,
		cfg:          cfg,
		workerSem:    semaphore.NewWeighted(cfg.WorkerPoolSize),
		acctSem:      make(map[int64]*semaphore.Weighted),
		repoLocks:    newKeyedMutex(),
		refreshCh:    make(chan refreshRequest),
		strikes:      make(map[int64]int),
	}
}

// Start runs the discovery-tick loop until ctx is canceled. Each tick asks
// the RepositoryStore which repos are due and dispatches them onto the
// worker pool; manual refresh requests arriving via RefreshRepository or
// RefreshPullRequest are dispatched immediately, ahead of the tick.
func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			slog.Info("scheduler stopped")
			return
		case <-ticker.C:
			s.dispatchDue(ctx, &wg)
		case req := <-s.refreshCh:
			wg.Add(1)
			go func(req refreshRequest) {
				defer wg.Done()
				req.done <- s.handleRefresh(ctx, req)
			}(req)
		}
	}
}

// dispatchDue fetches every due repository and spawns one goroutine per
// repository; actual concurrency is bounded by the worker and per-account
// semaphores acquired inside runJob, not by how many goroutines are spawned
// here.
func (s *Scheduler) dispatchDue(ctx context.Context, wg *sync.WaitGroup) {
	due, err := s.repoStore.ListDue(ctx, time.Now())
	if err != nil {
		slog.Error("list due repositories failed", "error", err)
		return
	}

	for _, repo := range due {
		repo := repo
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.runJob(ctx, repo)
		}()
	}
}

// runJob acquires the global and per-account concurrency slots and the
// repository's keyed mutex, then polls it. Manual refreshes (handleRefresh)
// bypass this path entirely and poll inline, which is how they jump ahead of
// the discovery-tick queue.
func (s *Scheduler) runJob(ctx context.Context, repo model.Repository) error {
	if err := s.workerSem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer s.workerSem.Release(1)

	acctSem := s.accountSemaphore(repo.ProviderAccountID)
	if err := acctSem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer acctSem.Release(1)

	unlock := s.repoLocks.lock(repo.ID)
	defer unlock()

	if ctx.Err() != nil {
		return ctx.Err()
	}

	err := s.pollRepo(ctx, repo)
	if err != nil {
		slog.Error("poll repository failed", "repo", repo.FullName(), "error", err)
	}
	return err
}

// accountSemaphore returns the semaphore capping concurrent polls against a
// single provider account, creating it on first use.
func (s *Scheduler) accountSemaphore(accountID int64) *semaphore.Weighted {
	s.acctSemMu.Lock()
	defer s.acctSemMu.Unlock()

	sem, ok := s.acctSem[accountID]
	if !ok {
		sem = semaphore.NewWeighted(s.cfg.PerAccountConcurrency)
		s.acctSem[accountID] = sem
	}
	return sem
}

// pollRepo executes one poll job: fetch pull requests, upsert each one
// together with its checks and reviews, recompute its readiness status, and
// stamp the repository's sync state.
func (s *Scheduler) pollRepo(ctx context.Context, repo model.Repository) error {
	account, err := s.accountStore.GetByID(ctx, repo.UserID, repo.ProviderAccountID)
	if err != nil {
		return s.recordPollFailure(ctx, repo, err)
	}

	cred, err := s.credStore.Get(ctx, account.ID)
	if err != nil {
		return s.recordPollFailure(ctx, repo, err)
	}

	adapter, err := s.factory.For(repo.Provider, account.InstanceURL)
	if err != nil {
		return s.recordPollFailure(ctx, repo, err)
	}

	prs, err := adapter.ListPullRequests(ctx, cred, repo.OwnerSlug, repo.NameSlug, "")
	if err != nil {
		return s.handlePollError(ctx, repo, account, err)
	}
	s.resetStrikes(repo.ID)

	for _, summary := range prs {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := s.syncPullRequest(ctx, repo, adapter, cred, summary.Number); err != nil {
			slog.Error("sync pull request failed",
				"repo", repo.FullName(), "pr", summary.Number, "error", err)
		}
	}

	if err := s.repoStore.UpdateSyncState(ctx, repo.ID, time.Now(), ""); err != nil {
		return err
	}

	slog.Info("repository polled", "repo", repo.FullName(), "pull_requests", len(prs))
	return nil
}

// syncPullRequest fetches one pull request's full detail (checks and
// reviews included), upserts it, replaces its checks and reviews, and
// recomputes its AmpelStatus via statusengine.Evaluate.
func (s *Scheduler) syncPullRequest(
	ctx context.Context,
	repo model.Repository,
	adapter driven.ProviderAdapter,
	cred model.Credential,
	number int,
) error {
	pr, checks, reviews, err := adapter.GetPullRequest(ctx, cred, repo.OwnerSlug, repo.NameSlug, number)
	if err != nil {
		return err
	}
	pr.RepositoryID = repo.ID
	pr.AmpelStatus = statusengine.Evaluate(pr, checks, reviews)

	stored, err := s.prStore.Upsert(ctx, pr)
	if err != nil {
		return err
	}

	if err := s.checkStore.ReplaceForPR(ctx, stored.ID, checks); err != nil {
		return err
	}
	if err := s.reviewStore.ReplaceForPR(ctx, stored.ID, reviews); err != nil {
		return err
	}
	return nil
}

// handlePollError applies the backoff/retry/reschedule policy for a failure
// surfaced while listing a repository's pull requests.
func (s *Scheduler) handlePollError(ctx context.Context, repo model.Repository, account *model.ProviderAccount, err error) error {
	var rateLimit *driven.RateLimitError
	switch {
	case errors.As(err, &rateLimit):
		return s.rescheduleForRateLimit(ctx, repo, rateLimit)

	case errors.Is(err, driven.ErrInvalidCredentials):
		if sErr := s.accountStore.SetNeedsReauth(ctx, account.ID, true); sErr != nil {
			slog.Error("mark account needs reauth failed", "account", account.ID, "error", sErr)
		}
		if sErr := s.repoStore.SetNeedsReauth(ctx, account.ID, true); sErr != nil {
			slog.Error("mark repositories needs reauth failed", "account", account.ID, "error", sErr)
		}
		return s.recordPollFailure(ctx, repo, err)

	case errors.Is(err, driven.ErrNotFound):
		return s.handleNotFound(ctx, repo, err)

	default:
		// ErrProviderUnavailable and any other failure: the adapter did not
		// retry it, so record it and let the next discovery tick try again.
		return s.recordPollFailure(ctx, repo, err)
	}
}

// rescheduleForRateLimit pushes the repository's next due time out to the
// adapter-reported reset time, without recording it as an error. RepositoryStore
// exposes no separate "next poll at" field, so this backdates LastSyncedAt by
// the repo's poll interval, which has the same effect on ListDue's
// due-since-last-sync check.
func (s *Scheduler) rescheduleForRateLimit(ctx context.Context, repo model.Repository, rateLimit *driven.RateLimitError) error {
	interval := time.Duration(repo.PollIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = intervalActive
	}
	nextDue := rateLimit.ResetAt.Add(-interval)
	slog.Warn("rate limit reached, rescheduling", "repo", repo.FullName(), "reset_at", rateLimit.ResetAt)
	return s.repoStore.UpdateSyncState(ctx, repo.ID, nextDue, "")
}

// handleNotFound counts consecutive ErrNotFound polls for a repository and
// untracks it once the strike limit is reached, rather than deleting it on
// the first 404.
func (s *Scheduler) handleNotFound(ctx context.Context, repo model.Repository, cause error) error {
	s.strikesMu.Lock()
	s.strikes[repo.ID]++
	count := s.strikes[repo.ID]
	s.strikesMu.Unlock()

	if count >= s.cfg.notFoundStrikeLimit() {
		slog.Warn("untracking repository after repeated not-found polls",
			"repo", repo.FullName(), "strikes", count)
		s.resetStrikes(repo.ID)
		return s.repoStore.Remove(ctx, repo.UserID, repo.ID)
	}

	return s.recordPollFailure(ctx, repo, cause)
}

func (s *Scheduler) resetStrikes(repoID int64) {
	s.strikesMu.Lock()
	delete(s.strikes, repoID)
	s.strikesMu.Unlock()
}

func (s *Scheduler) recordPollFailure(ctx context.Context, repo model.Repository, cause error) error {
	if uErr := s.repoStore.UpdateSyncState(ctx, repo.ID, time.Now(), cause.Error()); uErr != nil {
		slog.Error("record poll failure failed", "repo", repo.FullName(), "error", uErr)
	}
	return cause
}

// RefreshRepository triggers an immediate, out-of-band poll of one
// repository, jumping ahead of the discovery-tick queue for that repository.
// It blocks until the poll completes or ctx is canceled.
func (s *Scheduler) RefreshRepository(ctx context.Context, userID, repoID int64) error {
	req := refreshRequest{userID: userID, repoID: repoID, done: make(chan error, 1)}
	return s.submitRefresh(ctx, req)
}

// RefreshPullRequest triggers an immediate, out-of-band poll of a single
// pull request's detail, checks, and reviews without re-listing the whole
// repository.
func (s *Scheduler) RefreshPullRequest(ctx context.Context, userID, repoID int64, prNumber int) error {
	req := refreshRequest{userID: userID, repoID: repoID, prNumber: prNumber, done: make(chan error, 1)}
	return s.submitRefresh(ctx, req)
}

func (s *Scheduler) submitRefresh(ctx context.Context, req refreshRequest) error {
	select {
	case s.refreshCh <- req:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-req.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// handleRefresh services one manual refresh request. A whole-repository
// refresh reuses pollRepo directly (skipping the worker-pool semaphores,
// since a manual refresh is explicitly prioritized ahead of scheduled
// capacity); a single pull request refresh fetches and persists just that PR.
func (s *Scheduler) handleRefresh(ctx context.Context, req refreshRequest) error {
	repo, err := s.repoStore.GetByID(ctx, req.userID, req.repoID)
	if err != nil || repo == nil {
		if err == nil {
			err = driven.ErrRepoNotFound
		}
		return err
	}

	unlock := s.repoLocks.lock(repo.ID)
	defer unlock()

	if req.prNumber == 0 {
		return s.pollRepo(ctx, *repo)
	}

	account, err := s.accountStore.GetByID(ctx, repo.UserID, repo.ProviderAccountID)
	if err != nil {
		return err
	}
	cred, err := s.credStore.Get(ctx, account.ID)
	if err != nil {
		return err
	}
	adapter, err := s.factory.For(repo.Provider, account.InstanceURL)
	if err != nil {
		return err
	}

	return s.syncPullRequest(ctx, *repo, adapter, cred, req.prNumber)
}
