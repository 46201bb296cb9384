package model

import "time"

// ProviderAccount is a User's credential and identity on one git-hosting
// provider. Encrypted token material never lives on this struct once it
// leaves the Credential Store boundary; callers see AccountHandle and
// metadata only.
type ProviderAccount struct {
	ID          int64
	UserID      int64
	Provider    Provider
	InstanceURL string // non-empty for self-hosted GitLab/Bitbucket Server
	AccountHandle string
	IsDefault   bool
	NeedsReauth bool
	ExpiresAt   time.Time // zero value means the token does not expire
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Credential is the decrypted, in-memory-only view of a ProviderAccount's
// secret material. It is constructed by the Credential Store for the
// duration of a single adapter call and must never be logged, persisted
// verbatim, or serialized across an API boundary.
type Credential struct {
	AccountID    int64
	Provider     Provider
	InstanceURL  string
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}
