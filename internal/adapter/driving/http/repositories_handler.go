package httphandler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/pacphi/ampel-sub003/internal/application/scheduler"
	"github.com/pacphi/ampel-sub003/internal/domain/port/driven"
)

// RepositoriesHandler implements the /repositories endpoints: tracking
// management plus discovery of a provider account's untracked repositories.
type RepositoriesHandler struct {
	repos               driven.RepositoryStore
	accounts            driven.ProviderAccountStore
	creds               driven.CredentialStore
	factory             driven.ProviderFactory
	sched               *scheduler.Scheduler
	minPollIntervalSecs int
	logger              *slog.Logger
}

func NewRepositoriesHandler(
	repos driven.RepositoryStore,
	accounts driven.ProviderAccountStore,
	creds driven.CredentialStore,
	factory driven.ProviderFactory,
	sched *scheduler.Scheduler,
	minPollIntervalSecs int,
	logger *slog.Logger,
) *RepositoriesHandler {
	return &RepositoriesHandler{
		repos:               repos,
		accounts:            accounts,
		creds:               creds,
		factory:             factory,
		sched:               sched,
		minPollIntervalSecs: minPollIntervalSecs,
		logger:              logger,
	}
}

func (h *RepositoriesHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, _ := userIDFromContext(r.Context())

	repos, err := h.repos.ListByUser(r.Context(), userID)
	if err != nil {
		h.logger.Error("list repositories failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	resp := make([]repositoryResponse, 0, len(repos))
	for _, repo := range repos {
		resp = append(resp, toRepositoryResponse(repo))
	}
	writeData(w, http.StatusOK, paginate(r, resp))
}

// Discover lists every repository visible to a provider account's
// credential that is not already tracked, for ?provider=&accountId=.
func (h *RepositoriesHandler) Discover(w http.ResponseWriter, r *http.Request) {
	userID, _ := userIDFromContext(r.Context())

	accountID, err := strconv.ParseInt(r.URL.Query().Get("accountId"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "accountId query parameter is required")
		return
	}

	account, err := h.accounts.GetByID(r.Context(), userID, accountID)
	if err != nil {
		h.logger.Error("get account failed", "account", accountID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if account == nil {
		writeError(w, http.StatusNotFound, "account not found")
		return
	}

	cred, err := h.creds.Get(r.Context(), account.ID)
	if err != nil {
		h.logger.Error("get credential failed", "account", accountID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	adapter, err := h.factory.For(account.Provider, account.InstanceURL)
	if err != nil {
		h.logger.Error("resolve adapter failed", "account", accountID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	candidates, err := adapter.ListRepositories(r.Context(), cred)
	if err != nil {
		h.logger.Error("discover repositories failed", "account", accountID, "error", err)
		writeError(w, http.StatusBadGateway, "provider is unavailable")
		return
	}

	tracked, err := h.repos.ListByUser(r.Context(), userID)
	if err != nil {
		h.logger.Error("list repositories failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	trackedFullNames := make(map[string]bool, len(tracked))
	for _, repo := range tracked {
		trackedFullNames[string(repo.Provider)+"/"+repo.FullName()] = true
	}

	resp := make([]repositoryResponse, 0, len(candidates))
	for _, repo := range candidates {
		if trackedFullNames[string(account.Provider)+"/"+repo.FullName()] {
			continue
		}
		resp = append(resp, toRepositoryResponse(repo))
	}

	writeData(w, http.StatusOK, paginate(r, resp))
}

type addRepositoryRequest struct {
	ProviderAccountID int    `json:"providerAccountId"`
	Owner             string `json:"owner"`
	Name              string `json:"name"`
	PollIntervalSeconds int  `json:"pollIntervalSeconds"`
}

func (h *RepositoriesHandler) Add(w http.ResponseWriter, r *http.Request) {
	userID, _ := userIDFromContext(r.Context())

	var req addRepositoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Owner == "" || req.Name == "" {
		writeError(w, http.StatusBadRequest, "owner and name are required")
		return
	}

	account, err := h.accounts.GetByID(r.Context(), userID, int64(req.ProviderAccountID))
	if err != nil {
		h.logger.Error("get account failed", "account", req.ProviderAccountID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if account == nil {
		writeError(w, http.StatusBadRequest, "provider account not found")
		return
	}

	cred, err := h.creds.Get(r.Context(), account.ID)
	if err != nil {
		h.logger.Error("get credential failed", "account", account.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	adapter, err := h.factory.For(account.Provider, account.InstanceURL)
	if err != nil {
		h.logger.Error("resolve adapter failed", "account", account.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	fetched, err := adapter.GetRepository(r.Context(), cred, req.Owner, req.Name)
	if err != nil {
		h.logger.Error("fetch repository failed", "owner", req.Owner, "name", req.Name, "error", err)
		writeError(w, http.StatusBadGateway, "provider is unavailable")
		return
	}

	fetched.UserID = userID
	fetched.ProviderAccountID = account.ID
	fetched.Provider = account.Provider
	if req.PollIntervalSeconds > 0 {
		fetched.PollIntervalSeconds = req.PollIntervalSeconds
	}

	repo, err := h.repos.Add(r.Context(), fetched)
	if err != nil {
		if errors.Is(err, driven.ErrRepoAlreadyExists) {
			writeError(w, http.StatusConflict, "repository is already tracked")
			return
		}
		h.logger.Error("add repository failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	writeData(w, http.StatusCreated, toRepositoryResponse(repo))
}

// Refresh triggers an immediate out-of-band poll of one repository, bypassing
// the scheduler's worker-pool queue via Scheduler.RefreshRepository.
func (h *RepositoriesHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	userID, _ := userIDFromContext(r.Context())

	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid repository id")
		return
	}

	if err := h.sched.RefreshRepository(r.Context(), userID, id); err != nil {
		if errors.Is(err, driven.ErrRepoNotFound) {
			writeError(w, http.StatusNotFound, "repository not found")
			return
		}
		h.logger.Error("refresh repository failed", "repo", id, "error", err)
		writeError(w, http.StatusBadGateway, "provider is unavailable")
		return
	}

	repo, err := h.repos.GetByID(r.Context(), userID, id)
	if err != nil || repo == nil {
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeData(w, http.StatusOK, toRepositoryResponse(*repo))
}

type updateRepositoryRequest struct {
	PollIntervalSeconds int `json:"pollIntervalSeconds"`
}

// Update changes a tracked repository's poll interval, floored at the
// configured minimum so a user can't starve the scheduler's worker pool.
func (h *RepositoriesHandler) Update(w http.ResponseWriter, r *http.Request) {
	userID, _ := userIDFromContext(r.Context())

	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid repository id")
		return
	}

	var req updateRepositoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.PollIntervalSeconds <= 0 {
		writeError(w, http.StatusBadRequest, "pollIntervalSeconds must be positive")
		return
	}
	if req.PollIntervalSeconds < h.minPollIntervalSecs {
		req.PollIntervalSeconds = h.minPollIntervalSecs
	}

	repo, err := h.repos.UpdatePollIntervalSeconds(r.Context(), userID, id, req.PollIntervalSeconds)
	if err != nil {
		if errors.Is(err, driven.ErrRepoNotFound) {
			writeError(w, http.StatusNotFound, "repository not found")
			return
		}
		h.logger.Error("update repository failed", "repo", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	writeData(w, http.StatusOK, toRepositoryResponse(repo))
}

func (h *RepositoriesHandler) Remove(w http.ResponseWriter, r *http.Request) {
	userID, _ := userIDFromContext(r.Context())

	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid repository id")
		return
	}

	if err := h.repos.Remove(r.Context(), userID, id); err != nil {
		if errors.Is(err, driven.ErrRepoNotFound) {
			writeError(w, http.StatusNotFound, "repository not found")
			return
		}
		h.logger.Error("remove repository failed", "repo", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	writeNoContent(w)
}
