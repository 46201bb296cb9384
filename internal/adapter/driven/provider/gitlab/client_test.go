package gitlab_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pacphi/ampel-sub003/internal/adapter/driven/provider/gitlab"
	"github.com/pacphi/ampel-sub003/internal/domain/model"
	"github.com/pacphi/ampel-sub003/internal/domain/port/driven"
)

func newTestAdapter(t *testing.T, handler http.Handler) (*gitlab.Adapter, model.Credential) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	adapter := gitlab.NewAdapter(10, 0)
	cred := model.Credential{
		AccountID:   1,
		Provider:    model.ProviderGitLab,
		InstanceURL: server.URL,
		AccessToken: "glpat-test-token",
	}
	return adapter, cred
}

func TestListRepositories_MapsVisibilityAndPath(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode([]map[string]any{
			{
				"path_with_namespace": "acme/widgets",
				"path":                "widgets",
				"default_branch":      "main",
				"visibility":          "internal",
				"archived":            false,
			},
		})
	})

	adapter, cred := newTestAdapter(t, handler)
	repos, err := adapter.ListRepositories(context.Background(), cred)

	require.NoError(t, err)
	require.Len(t, repos, 1)
	assert.Equal(t, "acme", repos[0].OwnerSlug)
	assert.Equal(t, "widgets", repos[0].NameSlug)
	assert.True(t, repos[0].IsPrivate, "internal visibility must fold into private")
	assert.Equal(t, "internal", repos[0].RawVisibility)
}

func TestGetRepository_NotFound(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]string{"message": "404 Project Not Found"})
	})

	adapter, cred := newTestAdapter(t, handler)
	_, err := adapter.GetRepository(context.Background(), cred, "acme", "missing")

	require.Error(t, err)
	assert.ErrorIs(t, err, driven.ErrNotFound)
}

func TestListPullRequests_StateFilterAndMapping(t *testing.T) {
	var capturedState string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		capturedState = r.URL.Query().Get("state")
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode([]map[string]any{
			{
				"iid":              7,
				"title":            "Fix widget rendering",
				"author":           map[string]string{"username": "bob"},
				"state":            "opened",
				"draft":            false,
				"web_url":          "https://gitlab.example.com/acme/widgets/-/merge_requests/7",
				"source_branch":    "fix-render",
				"target_branch":    "main",
				"sha":              "abc123",
				"changes_count":    "3",
				"merge_status":     "can_be_merged",
				"created_at":       "2026-01-01T00:00:00Z",
				"updated_at":       "2026-01-02T00:00:00Z",
			},
		})
	})

	adapter, cred := newTestAdapter(t, handler)
	prs, err := adapter.ListPullRequests(context.Background(), cred, "acme", "widgets", model.PRStateOpen)

	require.NoError(t, err)
	assert.Equal(t, "opened", capturedState)
	require.Len(t, prs, 1)
	assert.Equal(t, 7, prs[0].Number)
	assert.Equal(t, "bob", prs[0].Author)
	assert.Equal(t, model.PRStateOpen, prs[0].State)
	assert.Equal(t, 3, prs[0].ChangedFiles)
	assert.Equal(t, model.MergeableTrue, prs[0].Mergeable)
}

func TestMergePullRequest_NotMergeable(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusMethodNotAllowed)
		_ = json.NewEncoder(w).Encode(map[string]string{"message": "405 Method Not Allowed"})
	})

	adapter, cred := newTestAdapter(t, handler)
	err := adapter.MergePullRequest(context.Background(), cred, "acme", "widgets", 7)

	require.Error(t, err)
	assert.ErrorIs(t, err, driven.ErrNotMergeable)
}

func TestAuthenticate_Forbidden(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_ = json.NewEncoder(w).Encode(map[string]string{"message": "403 Forbidden"})
	})

	adapter, cred := newTestAdapter(t, handler)
	_, err := adapter.Authenticate(context.Background(), cred)

	require.Error(t, err)
	assert.ErrorIs(t, err, driven.ErrForbidden)
}
