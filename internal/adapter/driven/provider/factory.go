// Package provider resolves a driven.ProviderAdapter for a given
// (provider, instance URL) pair, the single entry point the application
// layer uses to reach any git-hosting provider.
package provider

import (
	"fmt"
	"sync"
	"time"

	"github.com/pacphi/ampel-sub003/internal/adapter/driven/provider/bitbucket"
	"github.com/pacphi/ampel-sub003/internal/adapter/driven/provider/github"
	"github.com/pacphi/ampel-sub003/internal/adapter/driven/provider/gitlab"
	"github.com/pacphi/ampel-sub003/internal/adapter/driven/provider/retry"
	"github.com/pacphi/ampel-sub003/internal/domain/model"
	"github.com/pacphi/ampel-sub003/internal/domain/port/driven"
)

var _ driven.ProviderFactory = (*Factory)(nil)

// Factory builds and caches one Adapter per (provider, instance URL) pair.
// Adapters are safe for concurrent use (see the GitHub adapter's
// bucketRegistry), so caching rather than rebuilding per call avoids
// losing each provider's in-memory rate-limit state on every poll.
type Factory struct {
	safetyMargin    int
	retryPolicy     retry.Policy
	requestTimeout  time.Duration
	defaultBaseURLs map[string]string

	mu    sync.Mutex
	cache map[cacheKey]driven.ProviderAdapter
}

type cacheKey struct {
	provider    model.Provider
	instanceURL string
}

// NewFactory creates a Factory. safetyMargin is the minimum remaining
// rate-limit budget (in requests) an adapter must have before it will
// issue another call; retryPolicy is handed to the GitHub adapter, which
// stores it but does not wrap its calls in retry.Do, so no adapter call is
// retried through it; requestTimeout bounds every outbound call an adapter
// makes; defaultBaseURLs (keyed by provider name: "github", "gitlab",
// "bitbucket") supplies the instance URL a ProviderAccount omits. Only the
// GitHub adapter is built with that URL: the GitLab adapter takes its base
// URL from each credential's InstanceURL, and the Bitbucket adapter always
// talks to Bitbucket Cloud.
func NewFactory(safetyMargin int, retryPolicy retry.Policy, requestTimeout time.Duration, defaultBaseURLs map[string]string) *Factory {
	return &Factory{
		safetyMargin:    safetyMargin,
		retryPolicy:     retryPolicy,
		requestTimeout:  requestTimeout,
		defaultBaseURLs: defaultBaseURLs,
		cache:           map[cacheKey]driven.ProviderAdapter{},
	}
}

// For resolves the adapter for the given provider and instance URL,
// building and caching one on first use. instanceURL is empty for a
// provider's public SaaS offering, in which case a configured default base
// URL for the provider (if any) is used instead.
func (f *Factory) For(p model.Provider, instanceURL string) (driven.ProviderAdapter, error) {
	if instanceURL == "" {
		instanceURL = f.defaultBaseURLs[string(p)]
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	key := cacheKey{provider: p, instanceURL: instanceURL}
	if adapter, ok := f.cache[key]; ok {
		return adapter, nil
	}

	adapter, err := f.build(p, instanceURL)
	if err != nil {
		return nil, err
	}

	f.cache[key] = adapter
	return adapter, nil
}

func (f *Factory) build(p model.Provider, instanceURL string) (driven.ProviderAdapter, error) {
	switch p {
	case model.ProviderGitHub:
		return github.NewAdapter(instanceURL, f.retryPolicy, f.safetyMargin, f.requestTimeout), nil
	case model.ProviderGitLab:
		return gitlab.NewAdapter(f.safetyMargin, f.requestTimeout), nil
	case model.ProviderBitbucket:
		return bitbucket.NewAdapter(f.safetyMargin, f.requestTimeout), nil
	default:
		return nil, fmt.Errorf("unsupported provider %q", p)
	}
}
