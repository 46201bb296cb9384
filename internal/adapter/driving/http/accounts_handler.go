package httphandler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/pacphi/ampel-sub003/internal/domain/model"
	"github.com/pacphi/ampel-sub003/internal/domain/port/driven"
)

// AccountsHandler implements the /accounts endpoints: CRUD for
// ProviderAccount plus credential validation. Responses never include
// credential material; ProviderAccount itself carries none.
type AccountsHandler struct {
	accounts driven.ProviderAccountStore
	creds    driven.CredentialStore
	factory  driven.ProviderFactory
	logger   *slog.Logger
}

func NewAccountsHandler(accounts driven.ProviderAccountStore, creds driven.CredentialStore, factory driven.ProviderFactory, logger *slog.Logger) *AccountsHandler {
	return &AccountsHandler{accounts: accounts, creds: creds, factory: factory, logger: logger}
}

func (h *AccountsHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, _ := userIDFromContext(r.Context())

	accounts, err := h.accounts.ListByUser(r.Context(), userID)
	if err != nil {
		h.logger.Error("list accounts failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	resp := make([]accountResponse, 0, len(accounts))
	for _, a := range accounts {
		resp = append(resp, toAccountResponse(a))
	}
	writeData(w, http.StatusOK, paginate(r, resp))
}

type createAccountRequest struct {
	Provider      string `json:"provider"`
	InstanceURL   string `json:"instanceUrl"`
	AccountHandle string `json:"accountHandle"`
	IsDefault     bool   `json:"isDefault"`
	AccessToken   string `json:"accessToken"`
	RefreshToken  string `json:"refreshToken"`
}

func (h *AccountsHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID, _ := userIDFromContext(r.Context())

	var req createAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Provider == "" || req.AccountHandle == "" || req.AccessToken == "" {
		writeError(w, http.StatusBadRequest, "provider, accountHandle, and accessToken are required")
		return
	}

	account, err := h.accounts.Create(r.Context(), model.ProviderAccount{
		UserID:        userID,
		Provider:      model.Provider(req.Provider),
		InstanceURL:   req.InstanceURL,
		AccountHandle: req.AccountHandle,
		IsDefault:     req.IsDefault,
	})
	if err != nil {
		h.logger.Error("create account failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	if err := h.creds.Set(r.Context(), account.ID, req.AccessToken, req.RefreshToken, account.ExpiresAt); err != nil {
		h.logger.Error("store credential failed", "account", account.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	writeData(w, http.StatusCreated, toAccountResponse(account))
}

type patchAccountRequest struct {
	IsDefault bool `json:"isDefault"`
}

// Update sets an account as the user's default for its provider. Only the
// default-selection flag is patchable here; credential rotation goes
// through CredentialStore, not this endpoint.
func (h *AccountsHandler) Update(w http.ResponseWriter, r *http.Request) {
	userID, _ := userIDFromContext(r.Context())

	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid account id")
		return
	}

	var req patchAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !req.IsDefault {
		writeError(w, http.StatusBadRequest, "isDefault must be true; clearing a default happens by setting another account as default")
		return
	}

	if err := h.accounts.SetDefault(r.Context(), userID, id); err != nil {
		if errors.Is(err, driven.ErrProviderAccountNotFound) {
			writeError(w, http.StatusNotFound, "account not found")
			return
		}
		h.logger.Error("set default account failed", "account", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	account, err := h.accounts.GetByID(r.Context(), userID, id)
	if err != nil || account == nil {
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeData(w, http.StatusOK, toAccountResponse(*account))
}

func (h *AccountsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID, _ := userIDFromContext(r.Context())

	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid account id")
		return
	}

	if err := h.accounts.Delete(r.Context(), userID, id); err != nil {
		if errors.Is(err, driven.ErrProviderAccountNotFound) {
			writeError(w, http.StatusNotFound, "account not found")
			return
		}
		h.logger.Error("delete account failed", "account", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	writeNoContent(w)
}

// Validate invokes the adapter's Authenticate against the stored credential
// to confirm it is still usable, without waiting for the next poll cycle.
func (h *AccountsHandler) Validate(w http.ResponseWriter, r *http.Request) {
	userID, _ := userIDFromContext(r.Context())

	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid account id")
		return
	}

	account, err := h.accounts.GetByID(r.Context(), userID, id)
	if err != nil {
		h.logger.Error("get account failed", "account", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if account == nil {
		writeError(w, http.StatusNotFound, "account not found")
		return
	}

	cred, err := h.creds.Get(r.Context(), account.ID)
	if err != nil {
		h.logger.Error("get credential failed", "account", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	adapter, err := h.factory.For(account.Provider, account.InstanceURL)
	if err != nil {
		h.logger.Error("resolve adapter failed", "account", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	handle, err := adapter.Authenticate(r.Context(), cred)
	if err != nil {
		if errors.Is(err, driven.ErrInvalidCredentials) {
			_ = h.accounts.SetNeedsReauth(r.Context(), account.ID, true)
			writeError(w, http.StatusUnauthorized, "credential is no longer valid")
			return
		}
		h.logger.Error("validate account failed", "account", id, "error", err)
		writeError(w, http.StatusBadGateway, "provider is unavailable")
		return
	}

	_ = h.accounts.SetNeedsReauth(r.Context(), account.ID, false)
	writeData(w, http.StatusOK, map[string]string{"accountHandle": handle})
}
