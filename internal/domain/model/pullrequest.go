package model

import "time"

// PullRequest represents a pull or merge request tracked by ampelhub,
// normalized from whichever provider hosts it.
type PullRequest struct {
	ID              int64
	RepositoryID    int64
	Number          int // provider-native number/iid, unique within RepositoryID
	Title           string
	Author          string
	SourceBranch    string
	TargetBranch    string
	State           PRState
	IsDraft         bool
	URL             string
	HeadSHA         string
	Additions       int
	Deletions       int
	ChangedFiles    int
	Mergeable       MergeableState
	AmpelStatus     AmpelStatus // denormalized, written by the scheduler on every poll
	OpenedAt        time.Time
	UpdatedAt       time.Time
	LastActivityAt  time.Time
}

// DaysSinceOpened returns the number of whole days since the PR was opened.
func (pr PullRequest) DaysSinceOpened() int {
	return int(time.Since(pr.OpenedAt).Hours() / 24)
}
