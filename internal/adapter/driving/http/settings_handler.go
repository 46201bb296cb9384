package httphandler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/pacphi/ampel-sub003/internal/adapter/driven/notify"
	"github.com/pacphi/ampel-sub003/internal/domain/model"
	"github.com/pacphi/ampel-sub003/internal/domain/port/driven"
)

// SettingsHandler implements the /settings/behavior and
// /notifications/preferences endpoints, plus the Slack/email test-send
// probes.
type SettingsHandler struct {
	settings driven.SettingsStore
	slack    *notify.SlackNotifier
	email    *notify.EmailNotifier
	logger   *slog.Logger
}

func NewSettingsHandler(settings driven.SettingsStore, slack *notify.SlackNotifier, email *notify.EmailNotifier, logger *slog.Logger) *SettingsHandler {
	return &SettingsHandler{settings: settings, slack: slack, email: email, logger: logger}
}

func (h *SettingsHandler) GetBehavior(w http.ResponseWriter, r *http.Request) {
	userID, _ := userIDFromContext(r.Context())

	s, err := h.settings.GetUserSettings(r.Context(), userID)
	if err != nil {
		h.logger.Error("get user settings failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeData(w, http.StatusOK, toUserSettingsResponse(s))
}

type updateBehaviorRequest struct {
	ViewMode           string `json:"viewMode"`
	DefaultSort        string `json:"defaultSort"`
	AutoRefreshSeconds int    `json:"autoRefreshSeconds"`
}

func (h *SettingsHandler) PutBehavior(w http.ResponseWriter, r *http.Request) {
	userID, _ := userIDFromContext(r.Context())

	var req updateBehaviorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	settings := model.UserSettings{
		UserID:             userID,
		ViewMode:           model.ViewMode(req.ViewMode),
		DefaultSort:        model.SortOrder(req.DefaultSort),
		AutoRefreshSeconds: req.AutoRefreshSeconds,
	}
	if err := h.settings.SaveUserSettings(r.Context(), settings); err != nil {
		h.logger.Error("save user settings failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeData(w, http.StatusOK, toUserSettingsResponse(settings))
}

func (h *SettingsHandler) GetNotificationPreferences(w http.ResponseWriter, r *http.Request) {
	userID, _ := userIDFromContext(r.Context())

	p, err := h.settings.GetNotificationPreferences(r.Context(), userID)
	if err != nil {
		h.logger.Error("get notification preferences failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeData(w, http.StatusOK, toNotificationPreferencesResponse(p))
}

type updateNotificationPreferencesRequest struct {
	SlackEnabled    bool   `json:"slackEnabled"`
	SlackWebhookURL string `json:"slackWebhookUrl"`
	EmailEnabled    bool   `json:"emailEnabled"`
	EmailAddress    string `json:"emailAddress"`
}

func (h *SettingsHandler) PutNotificationPreferences(w http.ResponseWriter, r *http.Request) {
	userID, _ := userIDFromContext(r.Context())

	var req updateNotificationPreferencesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	prefs := model.NotificationPreferences{
		UserID:          userID,
		SlackEnabled:    req.SlackEnabled,
		SlackWebhookURL: req.SlackWebhookURL,
		EmailEnabled:    req.EmailEnabled,
		EmailAddress:    req.EmailAddress,
	}
	if err := h.settings.SaveNotificationPreferences(r.Context(), prefs); err != nil {
		h.logger.Error("save notification preferences failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeData(w, http.StatusOK, toNotificationPreferencesResponse(prefs))
}

func (h *SettingsHandler) TestSlack(w http.ResponseWriter, r *http.Request) {
	userID, _ := userIDFromContext(r.Context())

	prefs, err := h.settings.GetNotificationPreferences(r.Context(), userID)
	if err != nil {
		h.logger.Error("get notification preferences failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if prefs.SlackWebhookURL == "" {
		writeError(w, http.StatusBadRequest, "no slack webhook url is configured")
		return
	}

	if err := h.slack.Send(r.Context(), prefs.SlackWebhookURL, "This is a test notification from ampelhub."); err != nil {
		h.logger.Error("slack test notification failed", "error", err)
		writeError(w, http.StatusBadGateway, "failed to deliver test notification")
		return
	}
	writeData(w, http.StatusOK, map[string]bool{"sent": true})
}

func (h *SettingsHandler) TestEmail(w http.ResponseWriter, r *http.Request) {
	userID, _ := userIDFromContext(r.Context())

	if h.email == nil {
		writeError(w, http.StatusServiceUnavailable, "email notifications are not configured")
		return
	}

	prefs, err := h.settings.GetNotificationPreferences(r.Context(), userID)
	if err != nil {
		h.logger.Error("get notification preferences failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if prefs.EmailAddress == "" {
		writeError(w, http.StatusBadRequest, "no email address is configured")
		return
	}

	if err := h.email.Send(r.Context(), prefs.EmailAddress, "ampelhub test notification", "This is a test notification from ampelhub."); err != nil {
		h.logger.Error("email test notification failed", "error", err)
		writeError(w, http.StatusBadGateway, "failed to deliver test notification")
		return
	}
	writeData(w, http.StatusOK, map[string]bool{"sent": true})
}
