package bitbucket_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/pacphi/ampel-sub003/internal/adapter/driven/provider/bitbucket"
	"github.com/pacphi/ampel-sub003/internal/domain/model"
)

// These tests cover only the adapter's local RateLimitStatus estimate, the
// one behavior reachable without a live HTTP call: the go-bitbucket library
// offers no injectable base URL the way go-github/go-gitlab do, so
// network-level tests aren't practical here, and mapRepository/
// mapPullRequest/mapReviews/mapBuildStatus/mapDiffStatEntry are unexported,
// so these tests do not reach the mapping logic.

func TestRateLimitStatus_SeedsLocalEstimate(t *testing.T) {
	adapter := bitbucket.NewAdapter(10, 0)
	cred := model.Credential{AccountID: 1, Provider: model.ProviderBitbucket, AccessToken: "alice:app-password"}

	status, err := adapter.RateLimitStatus(context.Background(), cred)

	assert.NoError(t, err)
	assert.False(t, status.Unknown, "bitbucket adapter must always report a usable estimate, never Unknown")
	assert.Equal(t, 1000, status.Limit)
	assert.WithinDuration(t, time.Now().Add(time.Hour), status.ResetAt, 5*time.Second)
}

func TestRateLimitStatus_DistinctPerAccount(t *testing.T) {
	adapter := bitbucket.NewAdapter(10, 0)
	credA := model.Credential{AccountID: 1, AccessToken: "alice:pw"}
	credB := model.Credential{AccountID: 2, AccessToken: "bob:pw"}

	statusA, err := adapter.RateLimitStatus(context.Background(), credA)
	assert.NoError(t, err)
	statusB, err := adapter.RateLimitStatus(context.Background(), credB)
	assert.NoError(t, err)

	assert.Equal(t, statusA.Limit, statusB.Limit)
	assert.False(t, statusA.Unknown)
	assert.False(t, statusB.Unknown)
}
