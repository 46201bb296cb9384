package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pacphi/ampel-sub003/internal/adapter/driven/provider/diff"
	"github.com/pacphi/ampel-sub003/internal/domain/model"
	"github.com/pacphi/ampel-sub003/internal/domain/port/driven"
)

// --- fakes -------------------------------------------------------------

type fakeRepoStore struct {
	mu              sync.Mutex
	repos           map[int64]model.Repository
	needsReauthSet  map[int64]bool
	removed         []int64
	syncStateCalls  []struct {
		repoID int64
		at     time.Time
		errMsg string
	}
}

func newFakeRepoStore(repos ...model.Repository) *fakeRepoStore {
	s := &fakeRepoStore{repos: map[int64]model.Repository{}, needsReauthSet: map[int64]bool{}}
	for _, r := range repos {
		s.repos[r.ID] = r
	}
	return s
}

func (f *fakeRepoStore) Add(ctx context.Context, repo model.Repository) (model.Repository, error) {
	return repo, nil
}

func (f *fakeRepoStore) Remove(ctx context.Context, userID, repoID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.repos, repoID)
	f.removed = append(f.removed, repoID)
	return nil
}

func (f *fakeRepoStore) GetByID(ctx context.Context, userID, repoID int64) (*model.Repository, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.repos[repoID]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (f *fakeRepoStore) ListByUser(ctx context.Context, userID int64) ([]model.Repository, error) {
	return nil, nil
}

func (f *fakeRepoStore) ListDue(ctx context.Context, asOf time.Time) ([]model.Repository, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var due []model.Repository
	for _, r := range f.repos {
		due = append(due, r)
	}
	return due, nil
}

func (f *fakeRepoStore) UpdateSyncState(ctx context.Context, repoID int64, lastSyncedAt time.Time, lastError string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.syncStateCalls = append(f.syncStateCalls, struct {
		repoID int64
		at     time.Time
		errMsg string
	}{repoID, lastSyncedAt, lastError})
	if r, ok := f.repos[repoID]; ok {
		r.LastSyncedAt = lastSyncedAt
		r.LastError = lastError
		f.repos[repoID] = r
	}
	return nil
}

func (f *fakeRepoStore) SetNeedsReauth(ctx context.Context, providerAccountID int64, needsReauth bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.needsReauthSet[providerAccountID] = needsReauth
	return nil
}

func (f *fakeRepoStore) UpdatePollIntervalSeconds(ctx context.Context, userID, repoID int64, pollIntervalSeconds int) (model.Repository, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.repos[repoID]
	if !ok {
		return model.Repository{}, driven.ErrRepoNotFound
	}
	r.PollIntervalSeconds = pollIntervalSeconds
	f.repos[repoID] = r
	return r, nil
}

type fakePRStore struct {
	mu       sync.Mutex
	nextID   int64
	upserted []model.PullRequest
}

func (f *fakePRStore) Upsert(ctx context.Context, pr model.PullRequest) (model.PullRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	pr.ID = f.nextID
	f.upserted = append(f.upserted, pr)
	return pr, nil
}

func (f *fakePRStore) GetByRepository(ctx context.Context, repoID int64) ([]model.PullRequest, error) {
	return nil, nil
}

func (f *fakePRStore) GetByNumber(ctx context.Context, repoID int64, number int) (*model.PullRequest, error) {
	return nil, nil
}

func (f *fakePRStore) ListOpenByUser(ctx context.Context, userID int64) ([]model.PullRequest, error) {
	return nil, nil
}

func (f *fakePRStore) UpdateStatus(ctx context.Context, prID int64, status model.AmpelStatus) error {
	return nil
}

func (f *fakePRStore) Delete(ctx context.Context, repoID int64, number int) error { return nil }

type fakeCheckStore struct {
	mu       sync.Mutex
	replaced map[int64][]model.CICheck
}

func newFakeCheckStore() *fakeCheckStore {
	return &fakeCheckStore{replaced: map[int64][]model.CICheck{}}
}

func (f *fakeCheckStore) ReplaceForPR(ctx context.Context, prID int64, checks []model.CICheck) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replaced[prID] = checks
	return nil
}

func (f *fakeCheckStore) GetByPR(ctx context.Context, prID int64) ([]model.CICheck, error) {
	return nil, nil
}

type fakeReviewStore struct {
	mu       sync.Mutex
	replaced map[int64][]model.Review
}

func newFakeReviewStore() *fakeReviewStore {
	return &fakeReviewStore{replaced: map[int64][]model.Review{}}
}

func (f *fakeReviewStore) ReplaceForPR(ctx context.Context, prID int64, reviews []model.Review) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replaced[prID] = reviews
	return nil
}

func (f *fakeReviewStore) GetByPR(ctx context.Context, prID int64) ([]model.Review, error) {
	return nil, nil
}

type fakeAccountStore struct {
	accounts      map[int64]model.ProviderAccount
	needsReauthOf map[int64]bool
}

func newFakeAccountStore(accounts ...model.ProviderAccount) *fakeAccountStore {
	s := &fakeAccountStore{accounts: map[int64]model.ProviderAccount{}, needsReauthOf: map[int64]bool{}}
	for _, a := range accounts {
		s.accounts[a.ID] = a
	}
	return s
}

func (f *fakeAccountStore) Create(ctx context.Context, account model.ProviderAccount) (model.ProviderAccount, error) {
	return account, nil
}

func (f *fakeAccountStore) GetByID(ctx context.Context, userID, accountID int64) (*model.ProviderAccount, error) {
	a, ok := f.accounts[accountID]
	if !ok {
		return nil, driven.ErrProviderAccountNotFound
	}
	return &a, nil
}

func (f *fakeAccountStore) ListByUser(ctx context.Context, userID int64) ([]model.ProviderAccount, error) {
	return nil, nil
}

func (f *fakeAccountStore) SetNeedsReauth(ctx context.Context, accountID int64, needsReauth bool) error {
	f.needsReauthOf[accountID] = needsReauth
	return nil
}

func (f *fakeAccountStore) SetDefault(ctx context.Context, userID, accountID int64) error { return nil }

func (f *fakeAccountStore) Delete(ctx context.Context, userID, accountID int64) error { return nil }

type fakeCredStore struct{}

func (f *fakeCredStore) Set(ctx context.Context, accountID int64, accessToken, refreshToken string, expiresAt time.Time) error {
	return nil
}

func (f *fakeCredStore) Get(ctx context.Context, accountID int64) (model.Credential, error) {
	return model.Credential{AccountID: accountID, AccessToken: "token"}, nil
}

func (f *fakeCredStore) Rotate(ctx context.Context, accountID int64, accessToken string, expiresAt time.Time) error {
	return nil
}

func (f *fakeCredStore) Delete(ctx context.Context, accountID int64) error { return nil }

// fakeAdapter implements driven.ProviderAdapter with scripted behavior.
type fakeAdapter struct {
	listErr   error
	prs       []model.PullRequest
	getErr    error
	onGetPull func(number int) (model.PullRequest, []model.CICheck, []model.Review, error)
	calls     int32
}

func (a *fakeAdapter) Authenticate(ctx context.Context, cred model.Credential) (string, error) {
	return "", nil
}

func (a *fakeAdapter) ListRepositories(ctx context.Context, cred model.Credential) ([]model.Repository, error) {
	return nil, nil
}

func (a *fakeAdapter) GetRepository(ctx context.Context, cred model.Credential, owner, name string) (model.Repository, error) {
	return model.Repository{}, nil
}

func (a *fakeAdapter) ListPullRequests(ctx context.Context, cred model.Credential, owner, name string, state model.PRState) ([]model.PullRequest, error) {
	atomic.AddInt32(&a.calls, 1)
	if a.listErr != nil {
		return nil, a.listErr
	}
	return a.prs, nil
}

func (a *fakeAdapter) GetPullRequest(ctx context.Context, cred model.Credential, owner, name string, number int) (model.PullRequest, []model.CICheck, []model.Review, error) {
	if a.onGetPull != nil {
		return a.onGetPull(number)
	}
	if a.getErr != nil {
		return model.PullRequest{}, nil, nil, a.getErr
	}
	return model.PullRequest{Number: number, State: model.PRStateOpen}, nil, nil, nil
}

func (a *fakeAdapter) MergePullRequest(ctx context.Context, cred model.Credential, owner, name string, number int) error {
	return nil
}

func (a *fakeAdapter) GetPullRequestDiff(ctx context.Context, cred model.Credential, owner, name string, number int) ([]diff.DiffFile, error) {
	return nil, nil
}

func (a *fakeAdapter) RateLimitStatus(ctx context.Context, cred model.Credential) (driven.RateLimit, error) {
	return driven.RateLimit{Unknown: true}, nil
}

type fakeFactory struct {
	adapter driven.ProviderAdapter
}

func (f *fakeFactory) For(p model.Provider, instanceURL string) (driven.ProviderAdapter, error) {
	return f.adapter, nil
}

func newTestScheduler(repo model.Repository, account model.ProviderAccount, adapter *fakeAdapter) (
	*Scheduler, *fakeRepoStore, *fakePRStore, *fakeCheckStore, *fakeReviewStore,
) {
	repoStore := newFakeRepoStore(repo)
	prStore := &fakePRStore{}
	checkStore := newFakeCheckStore()
	reviewStore := newFakeReviewStore()
	accountStore := newFakeAccountStore(account)
	credStore := &fakeCredStore{}
	factory := &fakeFactory{adapter: adapter}

	s := New(repoStore, prStore, checkStore, reviewStore, accountStore, credStore, factory, Config{
		TickInterval:          time.Minute,
		WorkerPoolSize:        4,
		PerAccountConcurrency: 2,
	})
	return s, repoStore, prStore, checkStore, reviewStore
}

// --- tests ---------------------------------------------------------------

func TestPollRepo_UpsertsPullRequestChecksAndReviews(t *testing.T) {
	repo := model.Repository{ID: 1, UserID: 1, ProviderAccountID: 10, OwnerSlug: "acme", NameSlug: "widgets"}
	account := model.ProviderAccount{ID: 10, UserID: 1}

	adapter := &fakeAdapter{
		prs: []model.PullRequest{{Number: 1}, {Number: 2}},
		onGetPull: func(number int) (model.PullRequest, []model.CICheck, []model.Review, error) {
			return model.PullRequest{Number: number, State: model.PRStateOpen},
				[]model.CICheck{{Name: "build"}},
				[]model.Review{{ReviewerHandle: "alice", State: model.ReviewApproved}},
				nil
		},
	}

	s, repoStore, prStore, checkStore, reviewStore := newTestScheduler(repo, account, adapter)

	err := s.pollRepo(context.Background(), repo)
	require.NoError(t, err)

	assert.Len(t, prStore.upserted, 2)
	assert.Len(t, checkStore.replaced, 2)
	assert.Len(t, reviewStore.replaced, 2)

	repoStore.mu.Lock()
	defer repoStore.mu.Unlock()
	require.Len(t, repoStore.syncStateCalls, 1)
	assert.Empty(t, repoStore.syncStateCalls[0].errMsg)
}

func TestPollRepo_RateLimitReschedulesWithoutRecordingError(t *testing.T) {
	repo := model.Repository{ID: 1, UserID: 1, ProviderAccountID: 10, PollIntervalSeconds: 300}
	account := model.ProviderAccount{ID: 10, UserID: 1}

	resetAt := time.Now().Add(20 * time.Minute)
	adapter := &fakeAdapter{listErr: &driven.RateLimitError{ResetAt: resetAt}}

	s, repoStore, _, _, _ := newTestScheduler(repo, account, adapter)

	err := s.pollRepo(context.Background(), repo)
	require.NoError(t, err, "rate limiting must not surface as a poll error")

	repoStore.mu.Lock()
	defer repoStore.mu.Unlock()
	require.Len(t, repoStore.syncStateCalls, 1)
	assert.Empty(t, repoStore.syncStateCalls[0].errMsg)
	assert.WithinDuration(t, resetAt.Add(-5*time.Minute), repoStore.syncStateCalls[0].at, time.Second)
}

func TestPollRepo_InvalidCredentialsMarksNeedsReauth(t *testing.T) {
	repo := model.Repository{ID: 1, UserID: 1, ProviderAccountID: 10}
	account := model.ProviderAccount{ID: 10, UserID: 1}

	adapter := &fakeAdapter{listErr: fmt.Errorf("wrap: %w", driven.ErrInvalidCredentials)}

	s, repoStore, _, _, _ := newTestScheduler(repo, account, adapter)

	err := s.pollRepo(context.Background(), repo)
	require.Error(t, err)

	assert.True(t, repoStore.needsReauthSet[10])
}

func TestPollRepo_NotFoundUntracksAfterStrikeLimit(t *testing.T) {
	repo := model.Repository{ID: 1, UserID: 1, ProviderAccountID: 10}
	account := model.ProviderAccount{ID: 10, UserID: 1}

	adapter := &fakeAdapter{listErr: fmt.Errorf("wrap: %w", driven.ErrNotFound)}

	s, repoStore, _, _, _ := newTestScheduler(repo, account, adapter)
	s.cfg.NotFoundStrikeLimit = 3

	for i := 0; i < 2; i++ {
		err := s.pollRepo(context.Background(), repo)
		require.Error(t, err)
		repoStore.mu.Lock()
		_, stillTracked := repoStore.repos[1]
		repoStore.mu.Unlock()
		assert.True(t, stillTracked, "repo should survive strikes below the limit")
	}

	err := s.pollRepo(context.Background(), repo)
	require.Error(t, err)

	repoStore.mu.Lock()
	defer repoStore.mu.Unlock()
	assert.Contains(t, repoStore.removed, int64(1))
}

func TestPollRepo_NotFoundStrikesResetOnSuccess(t *testing.T) {
	repo := model.Repository{ID: 1, UserID: 1, ProviderAccountID: 10}
	account := model.ProviderAccount{ID: 10, UserID: 1}

	adapter := &fakeAdapter{listErr: fmt.Errorf("wrap: %w", driven.ErrNotFound)}
	s, repoStore, _, _, _ := newTestScheduler(repo, account, adapter)
	s.cfg.NotFoundStrikeLimit = 2

	require.Error(t, s.pollRepo(context.Background(), repo))

	adapter.listErr = nil
	require.NoError(t, s.pollRepo(context.Background(), repo))

	adapter.listErr = fmt.Errorf("wrap: %w", driven.ErrNotFound)
	require.Error(t, s.pollRepo(context.Background(), repo))

	repoStore.mu.Lock()
	defer repoStore.mu.Unlock()
	_, stillTracked := repoStore.repos[1]
	assert.True(t, stillTracked, "a successful poll should reset the strike counter")
}

func TestRunJob_AtMostOneInFlightPerRepository(t *testing.T) {
	repo := model.Repository{ID: 1, UserID: 1, ProviderAccountID: 10}
	account := model.ProviderAccount{ID: 10, UserID: 1}

	var inFlight int32
	var overlapDetected int32

	adapter := &fakeAdapter{
		onGetPull: func(number int) (model.PullRequest, []model.CICheck, []model.Review, error) {
			if atomic.AddInt32(&inFlight, 1) > 1 {
				atomic.StoreInt32(&overlapDetected, 1)
			}
			time.Sleep(10 * time.Millisecond)
			atomic.AddInt32(&inFlight, -1)
			return model.PullRequest{Number: number, State: model.PRStateOpen}, nil, nil, nil
		},
	}
	adapter.prs = []model.PullRequest{{Number: 1}}

	s, _, _, _, _ := newTestScheduler(repo, account, adapter)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.runJob(context.Background(), repo)
		}()
	}
	wg.Wait()

	assert.Zero(t, overlapDetected, "at most one poll per repository must run at a time")
}

func TestAccountSemaphore_CachesPerAccount(t *testing.T) {
	s := New(&fakeRepoStore{repos: map[int64]model.Repository{}}, &fakePRStore{}, newFakeCheckStore(),
		newFakeReviewStore(), &fakeAccountStore{accounts: map[int64]model.ProviderAccount{}},
		&fakeCredStore{}, &fakeFactory{}, Config{WorkerPoolSize: 1, PerAccountConcurrency: 1})

	a := s.accountSemaphore(1)
	b := s.accountSemaphore(1)
	c := s.accountSemaphore(2)

	assert.Same(t, a, b)
	assert.NotSame(t, a, c)
}
