package model

import "time"

// Review represents a single review submission on a pull request. Only the
// latest Review per (PullRequestID, ReviewerHandle) is authoritative for
// status derivation; the store keeps every row it is given, and the status
// engine reduces them to the latest per reviewer itself.
type Review struct {
	ID             int64
	PullRequestID  int64
	ReviewerHandle string
	State          ReviewState
	SubmittedAt    time.Time
}

// CICheck represents the result of a single named CI check on a pull request.
type CICheck struct {
	ID            int64
	PullRequestID int64
	Name          string
	ExternalID    string // provider-native check/job id, used for uniqueness with Name
	Status        CheckRunStatus
	Conclusion    CheckConclusion
	ExternalURL   string
	StartedAt     time.Time
	CompletedAt   time.Time
}
