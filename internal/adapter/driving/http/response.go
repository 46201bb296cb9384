package httphandler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/pacphi/ampel-sub003/internal/application/aggregation"
	"github.com/pacphi/ampel-sub003/internal/domain/model"
)

// envelope is the wire-level success response shape pinned by spec §6:
// {"success": true, "data": ...}.
type envelope struct {
	Success bool `json:"success"`
	Data    any  `json:"data"`
}

// errEnvelope is the wire-level error response shape: {"success": false,
// "error": "..."}.
type errEnvelope struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// page is the pagination envelope returned by every list endpoint:
// {"items": [...], "total": N, "page": P, "perPage": PP}.
type page struct {
	Items   any `json:"items"`
	Total   int `json:"total"`
	Page    int `json:"page"`
	PerPage int `json:"perPage"`
}

const (
	defaultPerPage = 50
	maxPerPage     = 200
)

func writeData(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, envelope{Success: true, Data: data})
}

func writeNoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errEnvelope{Success: false, Error: message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"success":false,"error":"internal server error"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// paginate slices items into one page according to the request's page/
// perPage query parameters (1-indexed page, defaulting to page 1 and
// defaultPerPage items, capped at maxPerPage) and wraps the slice in a page
// envelope. total always reflects the full, unpaginated count.
func paginate[T any](r *http.Request, items []T) page {
	pageNum, perPage := parsePagination(r)

	total := len(items)
	start := (pageNum - 1) * perPage
	if start > total {
		start = total
	}
	end := start + perPage
	if end > total {
		end = total
	}

	windowed := items[start:end]
	if windowed == nil {
		windowed = []T{}
	}

	return page{Items: windowed, Total: total, Page: pageNum, PerPage: perPage}
}

func parsePagination(r *http.Request) (pageNum, perPage int) {
	pageNum = intQuery(r, "page", 1)
	if pageNum < 1 {
		pageNum = 1
	}
	perPage = intQuery(r, "perPage", defaultPerPage)
	if perPage < 1 {
		perPage = defaultPerPage
	}
	if perPage > maxPerPage {
		perPage = maxPerPage
	}
	return pageNum, perPage
}

func intQuery(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n := 0
	for _, ch := range raw {
		if ch < '0' || ch > '9' {
			return def
		}
		n = n*10 + int(ch-'0')
	}
	return n
}

func rfc3339(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

// userResponse is the JSON representation of an authenticated account.
// PasswordHash is deliberately never included.
type userResponse struct {
	ID          int64  `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
	Role        string `json:"role"`
	CreatedAt   string `json:"createdAt"`
}

func toUserResponse(u model.User) userResponse {
	return userResponse{
		ID:          u.ID,
		Email:       u.Email,
		DisplayName: u.DisplayName,
		Role:        string(u.Role),
		CreatedAt:   rfc3339(u.CreatedAt),
	}
}

// loginResponse wraps the access/refresh token pair issued on login or
// refresh. Callers fetch GET /auth/me for the user profile.
type loginResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// accountResponse is the JSON representation of a ProviderAccount. It never
// includes credential material — ProviderAccount itself carries none;
// secrets live only in CredentialStore, which this response never touches.
type accountResponse struct {
	ID            int64  `json:"id"`
	Provider      string `json:"provider"`
	InstanceURL   string `json:"instanceUrl"`
	AccountHandle string `json:"accountHandle"`
	IsDefault     bool   `json:"isDefault"`
	NeedsReauth   bool   `json:"needsReauth"`
	ExpiresAt     string `json:"expiresAt,omitempty"`
	CreatedAt     string `json:"createdAt"`
}

func toAccountResponse(a model.ProviderAccount) accountResponse {
	return accountResponse{
		ID:            a.ID,
		Provider:      string(a.Provider),
		InstanceURL:   a.InstanceURL,
		AccountHandle: a.AccountHandle,
		IsDefault:     a.IsDefault,
		NeedsReauth:   a.NeedsReauth,
		ExpiresAt:     rfc3339(a.ExpiresAt),
		CreatedAt:     rfc3339(a.CreatedAt),
	}
}

// repositoryResponse is the JSON representation of a tracked repository.
type repositoryResponse struct {
	ID                  int64  `json:"id"`
	ProviderAccountID   int64  `json:"providerAccountId"`
	Provider            string `json:"provider"`
	Owner               string `json:"owner"`
	Name                string `json:"name"`
	FullName            string `json:"fullName"`
	DefaultBranch       string `json:"defaultBranch"`
	IsPrivate           bool   `json:"isPrivate"`
	IsArchived          bool   `json:"isArchived"`
	VisibilityBucket    string `json:"visibilityBucket"`
	PollIntervalSeconds int    `json:"pollIntervalSeconds"`
	LastSyncedAt        string `json:"lastSyncedAt,omitempty"`
	LastError           string `json:"lastError,omitempty"`
	NeedsReauth         bool   `json:"needsReauth"`
	AddedAt             string `json:"addedAt"`
}

func toRepositoryResponse(r model.Repository) repositoryResponse {
	return repositoryResponse{
		ID:                  r.ID,
		ProviderAccountID:   r.ProviderAccountID,
		Provider:            string(r.Provider),
		Owner:               r.OwnerSlug,
		Name:                r.NameSlug,
		FullName:            r.FullName(),
		DefaultBranch:       r.DefaultBranch,
		IsPrivate:           r.IsPrivate,
		IsArchived:          r.IsArchived,
		VisibilityBucket:    r.VisibilityBucket(),
		PollIntervalSeconds: r.PollIntervalSeconds,
		LastSyncedAt:        rfc3339(r.LastSyncedAt),
		LastError:           r.LastError,
		NeedsReauth:         r.NeedsReauth,
		AddedAt:             rfc3339(r.AddedAt),
	}
}

// pullRequestResponse is the JSON representation of a pull request.
type pullRequestResponse struct {
	ID             int64  `json:"id"`
	RepositoryID   int64  `json:"repositoryId"`
	Number         int    `json:"number"`
	Title          string `json:"title"`
	Author         string `json:"author"`
	SourceBranch   string `json:"sourceBranch"`
	TargetBranch   string `json:"targetBranch"`
	State          string `json:"state"`
	IsDraft        bool   `json:"isDraft"`
	URL            string `json:"url"`
	Additions      int    `json:"additions"`
	Deletions      int    `json:"deletions"`
	ChangedFiles   int    `json:"changedFiles"`
	Mergeable      string `json:"mergeable"`
	AmpelStatus    string `json:"ampelStatus"`
	OpenedAt       string `json:"openedAt"`
	UpdatedAt      string `json:"updatedAt"`
	LastActivityAt string `json:"lastActivityAt"`
}

func toPullRequestResponse(pr model.PullRequest) pullRequestResponse {
	return pullRequestResponse{
		ID:             pr.ID,
		RepositoryID:   pr.RepositoryID,
		Number:         pr.Number,
		Title:          pr.Title,
		Author:         pr.Author,
		SourceBranch:   pr.SourceBranch,
		TargetBranch:   pr.TargetBranch,
		State:          string(pr.State),
		IsDraft:        pr.IsDraft,
		URL:            pr.URL,
		Additions:      pr.Additions,
		Deletions:      pr.Deletions,
		ChangedFiles:   pr.ChangedFiles,
		Mergeable:      string(pr.Mergeable),
		AmpelStatus:    string(pr.AmpelStatus),
		OpenedAt:       rfc3339(pr.OpenedAt),
		UpdatedAt:      rfc3339(pr.UpdatedAt),
		LastActivityAt: rfc3339(pr.LastActivityAt),
	}
}

// diffFileResponse is the JSON representation of one file's change.
type diffFileResponse struct {
	Status    string `json:"status"`
	OldPath   string `json:"oldPath,omitempty"`
	NewPath   string `json:"newPath,omitempty"`
	Patch     string `json:"patch"`
	Additions int    `json:"additions"`
	Deletions int    `json:"deletions"`
}

// mergeResponse is returned by the merge endpoint, success or refusal alike.
type mergeResponse struct {
	Merged  bool   `json:"merged"`
	Message string `json:"message,omitempty"`
}

// summaryResponse mirrors aggregation.Summary with the wire field names
// spec §8's scenario S1 names literally.
type summaryResponse struct {
	TotalRepositories       int                      `json:"totalRepositories"`
	TotalOpenPRs            int                      `json:"totalOpenPrs"`
	StatusCounts            statusCountsResponse     `json:"statusCounts"`
	ProviderCounts          providerCountsResponse   `json:"providerCounts"`
	RepositoryBreakdown     visibilityBreakdownResp  `json:"repositoryBreakdown"`
	OpenPRsBreakdown        visibilityBreakdownResp  `json:"openPrsBreakdown"`
	ReadyToMergeBreakdown   visibilityBreakdownResp  `json:"readyToMergeBreakdown"`
	NeedsAttentionBreakdown visibilityBreakdownResp  `json:"needsAttentionBreakdown"`
}

type statusCountsResponse struct {
	Green  int `json:"green"`
	Yellow int `json:"yellow"`
	Red    int `json:"red"`
}

type providerCountsResponse struct {
	GitHub    int `json:"github"`
	GitLab    int `json:"gitlab"`
	Bitbucket int `json:"bitbucket"`
}

type visibilityBreakdownResp struct {
	Public   int `json:"public"`
	Private  int `json:"private"`
	Archived int `json:"archived"`
}

func toSummaryResponse(s aggregation.Summary) summaryResponse {
	return summaryResponse{
		TotalRepositories: s.TotalRepositories,
		TotalOpenPRs:      s.TotalOpenPRs,
		StatusCounts: statusCountsResponse{
			Green: s.StatusCounts.Green, Yellow: s.StatusCounts.Yellow, Red: s.StatusCounts.Red,
		},
		ProviderCounts: providerCountsResponse{
			GitHub: s.ProviderCounts.GitHub, GitLab: s.ProviderCounts.GitLab, Bitbucket: s.ProviderCounts.Bitbucket,
		},
		RepositoryBreakdown:     toVisibilityResponse(s.RepositoryBreakdown),
		OpenPRsBreakdown:        toVisibilityResponse(s.OpenPRsBreakdown),
		ReadyToMergeBreakdown:   toVisibilityResponse(s.ReadyToMergeBreakdown),
		NeedsAttentionBreakdown: toVisibilityResponse(s.NeedsAttentionBreakdown),
	}
}

func toVisibilityResponse(v aggregation.VisibilityBreakdown) visibilityBreakdownResp {
	return visibilityBreakdownResp{Public: v.Public, Private: v.Private, Archived: v.Archived}
}

// gridRowResponse pairs a repository with its open pull requests.
type gridRowResponse struct {
	Repository   repositoryResponse    `json:"repository"`
	PullRequests []pullRequestResponse `json:"pullRequests"`
}

func toGridRowResponse(row aggregation.GridRow) gridRowResponse {
	prs := make([]pullRequestResponse, 0, len(row.PullRequests))
	for _, pr := range row.PullRequests {
		prs = append(prs, toPullRequestResponse(pr))
	}
	return gridRowResponse{Repository: toRepositoryResponse(row.Repository), PullRequests: prs}
}

// userSettingsResponse is the JSON representation of behavior settings.
type userSettingsResponse struct {
	ViewMode           string `json:"viewMode"`
	DefaultSort        string `json:"defaultSort"`
	AutoRefreshSeconds int    `json:"autoRefreshSeconds"`
}

func toUserSettingsResponse(s model.UserSettings) userSettingsResponse {
	return userSettingsResponse{
		ViewMode:           string(s.ViewMode),
		DefaultSort:        string(s.DefaultSort),
		AutoRefreshSeconds: s.AutoRefreshSeconds,
	}
}

// notificationPreferencesResponse is the JSON representation of a user's
// notification channel configuration. Webhook URLs are returned verbatim;
// they are destinations, not secrets, unlike provider credentials.
type notificationPreferencesResponse struct {
	SlackEnabled    bool   `json:"slackEnabled"`
	SlackWebhookURL string `json:"slackWebhookUrl,omitempty"`
	EmailEnabled    bool   `json:"emailEnabled"`
	EmailAddress    string `json:"emailAddress,omitempty"`
}

func toNotificationPreferencesResponse(p model.NotificationPreferences) notificationPreferencesResponse {
	return notificationPreferencesResponse{
		SlackEnabled:    p.SlackEnabled,
		SlackWebhookURL: p.SlackWebhookURL,
		EmailEnabled:    p.EmailEnabled,
		EmailAddress:    p.EmailAddress,
	}
}
