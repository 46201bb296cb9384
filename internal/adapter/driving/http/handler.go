// Package httphandler is the HTTP driving adapter: it translates inbound
// REST requests into calls against the application services and domain
// ports, and renders their results using the spec's success/error envelope.
package httphandler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/pacphi/ampel-sub003/internal/adapter/driven/notify"
	"github.com/pacphi/ampel-sub003/internal/application/aggregation"
	"github.com/pacphi/ampel-sub003/internal/application/auth"
	"github.com/pacphi/ampel-sub003/internal/application/scheduler"
	"github.com/pacphi/ampel-sub003/internal/domain/port/driven"
)

// Dependencies bundles every port and application service the HTTP adapter
// needs; NewServeMux wires each sub-handler from this one struct so main
// has a single call site to assemble.
type Dependencies struct {
	Auth        *auth.Service
	Scheduler   *scheduler.Scheduler
	Aggregator  *aggregation.Aggregator
	Repos       driven.RepositoryStore
	PRs         driven.PullRequestStore
	Accounts    driven.ProviderAccountStore
	Credentials driven.CredentialStore
	Factory     driven.ProviderFactory
	Settings    driven.SettingsStore
	Slack       *notify.SlackNotifier
	Email       *notify.EmailNotifier
	// MinPollIntervalSeconds floors a per-repository poll interval a user
	// sets via PUT /repositories/{id} (config.Config.MinPollIntervalSeconds).
	MinPollIntervalSeconds int
	Logger                 *slog.Logger
}

// NewServeMux creates an http.Handler with every route registered and
// wrapped in logging and recovery middleware; every route except health and
// the register/login/refresh/logout auth routes also sits behind bearer-auth
// middleware.
func NewServeMux(d Dependencies) http.Handler {
	authHandler := NewAuthHandler(d.Auth, d.Logger)
	accountsHandler := NewAccountsHandler(d.Accounts, d.Credentials, d.Factory, d.Logger)
	reposHandler := NewRepositoriesHandler(d.Repos, d.Accounts, d.Credentials, d.Factory, d.Scheduler, d.MinPollIntervalSeconds, d.Logger)
	prsHandler := NewPullRequestsHandler(d.Repos, d.PRs, d.Accounts, d.Credentials, d.Factory, d.Scheduler, d.Logger)
	dashboardHandler := NewDashboardHandler(d.Aggregator, d.Logger)
	settingsHandler := NewSettingsHandler(d.Settings, d.Slack, d.Email, d.Logger)

	public := http.NewServeMux()
	public.HandleFunc("GET /health", Health)
	public.HandleFunc("POST /auth/register", authHandler.Register)
	public.HandleFunc("POST /auth/login", authHandler.Login)
	public.HandleFunc("POST /auth/refresh", authHandler.Refresh)
	public.HandleFunc("POST /auth/logout", authHandler.Logout)

	protected := http.NewServeMux()
	protected.HandleFunc("GET /auth/me", authHandler.Me)
	protected.HandleFunc("PUT /auth/me", authHandler.UpdateMe)

	protected.HandleFunc("GET /accounts", accountsHandler.List)
	protected.HandleFunc("POST /accounts", accountsHandler.Create)
	protected.HandleFunc("PATCH /accounts/{id}", accountsHandler.Update)
	protected.HandleFunc("DELETE /accounts/{id}", accountsHandler.Delete)
	protected.HandleFunc("POST /accounts/{id}/validate", accountsHandler.Validate)

	protected.HandleFunc("GET /repositories", reposHandler.List)
	protected.HandleFunc("GET /repositories/discover", reposHandler.Discover)
	protected.HandleFunc("POST /repositories", reposHandler.Add)
	protected.HandleFunc("PUT /repositories/{id}", reposHandler.Update)
	protected.HandleFunc("DELETE /repositories/{id}", reposHandler.Remove)
	protected.HandleFunc("POST /repositories/{id}/refresh", reposHandler.Refresh)
	protected.HandleFunc("GET /repositories/{repoId}/pull-requests", prsHandler.ListByRepository)
	protected.HandleFunc("GET /repositories/{repoId}/pull-requests/{number}", prsHandler.Get)
	protected.HandleFunc("POST /repositories/{repoId}/pull-requests/{number}/merge", prsHandler.Merge)
	protected.HandleFunc("POST /repositories/{repoId}/pull-requests/{number}/refresh", prsHandler.Refresh)
	protected.HandleFunc("GET /repositories/{repoId}/pull-requests/{number}/diff", prsHandler.Diff)

	protected.HandleFunc("GET /pull-requests", prsHandler.ListAll)

	protected.HandleFunc("GET /dashboard/summary", dashboardHandler.Summary)
	protected.HandleFunc("GET /dashboard/grid", dashboardHandler.Grid)

	protected.HandleFunc("GET /settings/behavior", settingsHandler.GetBehavior)
	protected.HandleFunc("PUT /settings/behavior", settingsHandler.PutBehavior)
	protected.HandleFunc("GET /notifications/preferences", settingsHandler.GetNotificationPreferences)
	protected.HandleFunc("PUT /notifications/preferences", settingsHandler.PutNotificationPreferences)
	protected.HandleFunc("POST /notifications/test-slack", settingsHandler.TestSlack)
	protected.HandleFunc("POST /notifications/test-email", settingsHandler.TestEmail)

	mux := http.NewServeMux()
	mux.Handle("/", public)
	mux.Handle("/auth/me", authMiddleware(d.Auth, protected))
	mux.Handle("/accounts", authMiddleware(d.Auth, protected))
	mux.Handle("/accounts/", authMiddleware(d.Auth, protected))
	mux.Handle("/repositories", authMiddleware(d.Auth, protected))
	mux.Handle("/repositories/", authMiddleware(d.Auth, protected))
	mux.Handle("/pull-requests", authMiddleware(d.Auth, protected))
	mux.Handle("/dashboard/", authMiddleware(d.Auth, protected))
	mux.Handle("/settings/", authMiddleware(d.Auth, protected))
	mux.Handle("/notifications/", authMiddleware(d.Auth, protected))

	var handler http.Handler = mux
	handler = recoveryMiddleware(d.Logger, handler)
	handler = loggingMiddleware(d.Logger, handler)
	return handler
}

type healthResponse struct {
	Status string `json:"status"`
	Time   string `json:"time"`
}

// Health is unauthenticated; it reports process liveness only.
func Health(w http.ResponseWriter, _ *http.Request) {
	writeData(w, http.StatusOK, healthResponse{Status: "ok", Time: rfc3339(time.Now().UTC())})
}
