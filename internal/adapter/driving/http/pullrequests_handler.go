package httphandler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/pacphi/ampel-sub003/internal/application/scheduler"
	"github.com/pacphi/ampel-sub003/internal/domain/model"
	"github.com/pacphi/ampel-sub003/internal/domain/port/driven"
)

// PullRequestsHandler implements the /pull-requests and
// /repositories/:repoId/pull-requests endpoints: reads, merge, manual
// refresh, and diff retrieval.
type PullRequestsHandler struct {
	repos    driven.RepositoryStore
	prs      driven.PullRequestStore
	accounts driven.ProviderAccountStore
	creds    driven.CredentialStore
	factory  driven.ProviderFactory
	sched    *scheduler.Scheduler
	logger   *slog.Logger
}

func NewPullRequestsHandler(
	repos driven.RepositoryStore,
	prs driven.PullRequestStore,
	accounts driven.ProviderAccountStore,
	creds driven.CredentialStore,
	factory driven.ProviderFactory,
	sched *scheduler.Scheduler,
	logger *slog.Logger,
) *PullRequestsHandler {
	return &PullRequestsHandler{repos: repos, prs: prs, accounts: accounts, creds: creds, factory: factory, sched: sched, logger: logger}
}

// ListAll returns every open pull request across the authenticated user's
// tracked repositories.
func (h *PullRequestsHandler) ListAll(w http.ResponseWriter, r *http.Request) {
	userID, _ := userIDFromContext(r.Context())

	prs, err := h.prs.ListOpenByUser(r.Context(), userID)
	if err != nil {
		h.logger.Error("list open pull requests failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	resp := make([]pullRequestResponse, 0, len(prs))
	for _, pr := range prs {
		resp = append(resp, toPullRequestResponse(pr))
	}
	writeData(w, http.StatusOK, paginate(r, resp))
}

// ListByRepository returns every pull request tracked for one repository.
// The repository lookup is itself scoped by userID, so a pull request
// belonging to another user's repository is indistinguishable from one that
// does not exist, per the cross-user NotFound policy.
func (h *PullRequestsHandler) ListByRepository(w http.ResponseWriter, r *http.Request) {
	repo, ok := h.resolveRepo(w, r)
	if !ok {
		return
	}

	prs, err := h.prs.GetByRepository(r.Context(), repo.ID)
	if err != nil {
		h.logger.Error("list pull requests failed", "repo", repo.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	resp := make([]pullRequestResponse, 0, len(prs))
	for _, pr := range prs {
		resp = append(resp, toPullRequestResponse(pr))
	}
	writeData(w, http.StatusOK, paginate(r, resp))
}

func (h *PullRequestsHandler) Get(w http.ResponseWriter, r *http.Request) {
	repo, ok := h.resolveRepo(w, r)
	if !ok {
		return
	}
	number, ok := h.pathNumber(w, r)
	if !ok {
		return
	}

	pr, err := h.prs.GetByNumber(r.Context(), repo.ID, number)
	if err != nil {
		h.logger.Error("get pull request failed", "repo", repo.ID, "number", number, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if pr == nil {
		writeError(w, http.StatusNotFound, "pull request not found")
		return
	}

	writeData(w, http.StatusOK, toPullRequestResponse(*pr))
}

// Merge merges a pull request using the provider's default merge strategy.
// A Red-status PR is refused locally without ever calling the provider,
// matching spec §8 scenario S6 (no state changes on refusal).
func (h *PullRequestsHandler) Merge(w http.ResponseWriter, r *http.Request) {
	repo, ok := h.resolveRepo(w, r)
	if !ok {
		return
	}
	number, ok := h.pathNumber(w, r)
	if !ok {
		return
	}

	pr, err := h.prs.GetByNumber(r.Context(), repo.ID, number)
	if err != nil {
		h.logger.Error("get pull request failed", "repo", repo.ID, "number", number, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if pr == nil {
		writeError(w, http.StatusNotFound, "pull request not found")
		return
	}

	if pr.AmpelStatus == model.StatusRed {
		writeData(w, http.StatusOK, mergeResponse{
			Merged:  false,
			Message: "pull request has failing checks or unresolved change requests",
		})
		return
	}

	_, cred, adapter, ok := h.resolveAdapter(w, r, repo)
	if !ok {
		return
	}

	if err := adapter.MergePullRequest(r.Context(), cred, repo.OwnerSlug, repo.NameSlug, number); err != nil {
		switch {
		case errors.Is(err, driven.ErrNotMergeable):
			writeData(w, http.StatusOK, mergeResponse{Merged: false, Message: "pull request is not mergeable"})
		case errors.Is(err, driven.ErrMergeConflict):
			writeData(w, http.StatusOK, mergeResponse{Merged: false, Message: "merge conflict with base branch"})
		default:
			h.logger.Error("merge pull request failed", "repo", repo.ID, "number", number, "error", err)
			writeError(w, http.StatusBadGateway, "provider is unavailable")
		}
		return
	}

	writeData(w, http.StatusOK, mergeResponse{Merged: true})
}

// Refresh triggers an immediate out-of-band poll of a single pull request.
func (h *PullRequestsHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	userID, _ := userIDFromContext(r.Context())
	repo, ok := h.resolveRepo(w, r)
	if !ok {
		return
	}
	number, ok := h.pathNumber(w, r)
	if !ok {
		return
	}

	if err := h.sched.RefreshPullRequest(r.Context(), userID, repo.ID, number); err != nil {
		h.logger.Error("refresh pull request failed", "repo", repo.ID, "number", number, "error", err)
		writeError(w, http.StatusBadGateway, "provider is unavailable")
		return
	}

	pr, err := h.prs.GetByNumber(r.Context(), repo.ID, number)
	if err != nil || pr == nil {
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeData(w, http.StatusOK, toPullRequestResponse(*pr))
}

func (h *PullRequestsHandler) Diff(w http.ResponseWriter, r *http.Request) {
	repo, ok := h.resolveRepo(w, r)
	if !ok {
		return
	}
	number, ok := h.pathNumber(w, r)
	if !ok {
		return
	}

	_, cred, adapter, ok := h.resolveAdapter(w, r, repo)
	if !ok {
		return
	}

	files, err := adapter.GetPullRequestDiff(r.Context(), cred, repo.OwnerSlug, repo.NameSlug, number)
	if err != nil {
		h.logger.Error("get diff failed", "repo", repo.ID, "number", number, "error", err)
		writeError(w, http.StatusBadGateway, "provider is unavailable")
		return
	}

	resp := make([]diffFileResponse, 0, len(files))
	for _, f := range files {
		resp = append(resp, diffFileResponse{
			Status:    string(f.Status),
			OldPath:   f.OldPath,
			NewPath:   f.NewPath,
			Patch:     f.Patch,
			Additions: f.Additions,
			Deletions: f.Deletions,
		})
	}
	writeData(w, http.StatusOK, resp)
}

func (h *PullRequestsHandler) resolveRepo(w http.ResponseWriter, r *http.Request) (model.Repository, bool) {
	userID, _ := userIDFromContext(r.Context())

	repoID, err := strconv.ParseInt(r.PathValue("repoId"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid repository id")
		return model.Repository{}, false
	}

	repo, err := h.repos.GetByID(r.Context(), userID, repoID)
	if err != nil {
		h.logger.Error("get repository failed", "repo", repoID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return model.Repository{}, false
	}
	if repo == nil {
		writeError(w, http.StatusNotFound, "repository not found")
		return model.Repository{}, false
	}

	return *repo, true
}

func (h *PullRequestsHandler) pathNumber(w http.ResponseWriter, r *http.Request) (int, bool) {
	number, err := strconv.Atoi(r.PathValue("number"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid pull request number")
		return 0, false
	}
	return number, true
}

func (h *PullRequestsHandler) resolveAdapter(w http.ResponseWriter, r *http.Request, repo model.Repository) (*model.ProviderAccount, model.Credential, driven.ProviderAdapter, bool) {
	userID, _ := userIDFromContext(r.Context())

	account, err := h.accounts.GetByID(r.Context(), userID, repo.ProviderAccountID)
	if err != nil || account == nil {
		h.logger.Error("get account failed", "account", repo.ProviderAccountID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return nil, model.Credential{}, nil, false
	}

	cred, err := h.creds.Get(r.Context(), account.ID)
	if err != nil {
		h.logger.Error("get credential failed", "account", account.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return nil, model.Credential{}, nil, false
	}

	adapter, err := h.factory.For(repo.Provider, account.InstanceURL)
	if err != nil {
		h.logger.Error("resolve adapter failed", "repo", repo.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return nil, model.Credential{}, nil, false
	}

	return account, cred, adapter, true
}
