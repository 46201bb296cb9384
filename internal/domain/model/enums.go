// Package model holds the plain domain entities shared by every adapter and
// application service. Types here carry no persistence or transport concerns.
package model

// Provider identifies a git-hosting provider.
type Provider string

// Provider values.
const (
	ProviderGitHub    Provider = "github"
	ProviderGitLab    Provider = "gitlab"
	ProviderBitbucket Provider = "bitbucket"
)

// Visibility represents a repository's normalized visibility for storage.
type Visibility string

// Visibility values.
const (
	VisibilityPublic  Visibility = "public"
	VisibilityPrivate Visibility = "private"
)

// PRState represents the lifecycle state of a pull request.
type PRState string

// PRState values.
const (
	PRStateOpen   PRState = "open"
	PRStateClosed PRState = "closed"
	PRStateMerged PRState = "merged"
	PRStateDraft  PRState = "draft"
)

// MergeableState represents the provider's tri-state mergeability flag.
type MergeableState string

// MergeableState values.
const (
	MergeableTrue    MergeableState = "mergeable"
	MergeableFalse   MergeableState = "conflicted"
	MergeableUnknown MergeableState = "unknown"
)

// CheckConclusion represents the terminal outcome of a CI check.
type CheckConclusion string

// CheckConclusion values.
const (
	ConclusionSuccess        CheckConclusion = "success"
	ConclusionFailure        CheckConclusion = "failure"
	ConclusionNeutral        CheckConclusion = "neutral"
	ConclusionCancelled      CheckConclusion = "cancelled"
	ConclusionTimedOut       CheckConclusion = "timed_out"
	ConclusionActionRequired CheckConclusion = "action_required"
	ConclusionSkipped        CheckConclusion = "skipped"
	ConclusionPending        CheckConclusion = "pending"
	ConclusionNone           CheckConclusion = "none"
)

// CheckRunStatus represents the lifecycle status of a CI check.
type CheckRunStatus string

// CheckRunStatus values.
const (
	CheckQueued     CheckRunStatus = "queued"
	CheckInProgress CheckRunStatus = "in_progress"
	CheckCompleted  CheckRunStatus = "completed"
)

// ReviewState represents the state of a single review submission.
type ReviewState string

// ReviewState values.
const (
	ReviewApproved         ReviewState = "approved"
	ReviewChangesRequested ReviewState = "changes_requested"
	ReviewCommented        ReviewState = "commented"
	ReviewDismissed        ReviewState = "dismissed"
	ReviewPending          ReviewState = "pending"
)

// AmpelStatus is the traffic-light readiness status derived by the status engine.
type AmpelStatus string

// AmpelStatus values. Dominance order when more than one condition applies:
// Red > Green > Yellow.
const (
	StatusGreen  AmpelStatus = "green"
	StatusYellow AmpelStatus = "yellow"
	StatusRed    AmpelStatus = "red"
	StatusNone   AmpelStatus = "none"
)

// UserRole distinguishes administrative users from ordinary ones.
type UserRole string

// UserRole values.
const (
	RoleAdmin UserRole = "admin"
	RoleUser  UserRole = "user"
)
