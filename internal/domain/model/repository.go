package model

import "time"

// Repository represents a provider repository tracked for polling by a User.
// Tracking is distinct from code ownership at the provider.
type Repository struct {
	ID                int64
	UserID            int64
	ProviderAccountID int64
	Provider          Provider
	OwnerSlug         string
	NameSlug          string
	DefaultBranch     string
	IsPrivate         bool
	IsArchived        bool
	// RawVisibility preserves the provider's own visibility string (e.g.
	// GitLab's "internal") for callers that want it verbatim; the stored
	// IsPrivate flag always folds "internal" into private per the roll-up
	// decision in SPEC_FULL.md §4.
	RawVisibility       string
	PollIntervalSeconds int
	LastSyncedAt        time.Time
	LastError           string
	NeedsReauth         bool
	AddedAt             time.Time
	UpdatedAt           time.Time
}

// FullName returns the "owner/name" form used in logs and provider API calls.
func (r Repository) FullName() string {
	return r.OwnerSlug + "/" + r.NameSlug
}

// VisibilityBucket classifies the repository into exactly one of the three
// mutually exclusive roll-up buckets, archived taking precedence over
// private taking precedence over public.
func (r Repository) VisibilityBucket() string {
	switch {
	case r.IsArchived:
		return "archived"
	case r.IsPrivate:
		return "private"
	default:
		return "public"
	}
}
