// Package statusengine computes the traffic-light readiness status of a pull
// request. Evaluate is a pure function: given the same PullRequest, CICheck
// slice, and Review slice it always returns the same AmpelStatus, with no
// I/O and no dependence on wall-clock time.
package statusengine

import "github.com/pacphi/ampel-sub003/internal/domain/model"

var failingConclusions = map[model.CheckConclusion]bool{
	model.ConclusionFailure:        true,
	model.ConclusionCancelled:      true,
	model.ConclusionTimedOut:       true,
	model.ConclusionActionRequired: true,
}

var passingConclusions = map[model.CheckConclusion]bool{
	model.ConclusionSuccess: true,
	model.ConclusionNeutral: true,
	model.ConclusionSkipped: true,
}

// Evaluate derives the AmpelStatus for a pull request from its CI checks and
// reviews, per the dominance order Red > Green > Yellow; a PR that is not
// Open (Closed, Merged, or Draft) is always None.
func Evaluate(pr model.PullRequest, checks []model.CICheck, reviews []model.Review) model.AmpelStatus {
	if pr.State != model.PRStateOpen {
		return model.StatusNone
	}

	latest := latestReviewPerReviewer(reviews)

	if anyCheckFailing(checks) || hasActiveChangesRequested(latest) || pr.Mergeable == model.MergeableFalse {
		return model.StatusRed
	}

	if allChecksPassing(checks) && hasApproval(latest) && pr.Mergeable != model.MergeableFalse {
		return model.StatusGreen
	}

	return model.StatusYellow
}

// latestReviewPerReviewer reduces a review history to the most recent
// submission from each reviewer, which is the only one that counts for
// status derivation.
func latestReviewPerReviewer(reviews []model.Review) map[string]model.Review {
	latest := make(map[string]model.Review, len(reviews))
	for _, r := range reviews {
		cur, ok := latest[r.ReviewerHandle]
		if !ok || r.SubmittedAt.After(cur.SubmittedAt) {
			latest[r.ReviewerHandle] = r
		}
	}
	return latest
}

// anyCheckFailing reports whether any check present has a conclusion the
// spec classifies as a failure signal.
func anyCheckFailing(checks []model.CICheck) bool {
	for _, c := range checks {
		if failingConclusions[c.Conclusion] {
			return true
		}
	}
	return false
}

// allChecksPassing reports whether every check present (if any) has a
// conclusion the spec classifies as passing. An empty check set counts as
// passing; it is the absence of an Approved review that keeps such a PR out
// of Green.
func allChecksPassing(checks []model.CICheck) bool {
	for _, c := range checks {
		if !passingConclusions[c.Conclusion] {
			return false
		}
	}
	return true
}

// hasActiveChangesRequested reports whether any reviewer's latest review is
// ChangesRequested, i.e. not superseded by a later Approved from the same
// reviewer.
func hasActiveChangesRequested(latest map[string]model.Review) bool {
	for _, r := range latest {
		if r.State == model.ReviewChangesRequested {
			return true
		}
	}
	return false
}

// hasApproval reports whether at least one reviewer's latest review is Approved.
func hasApproval(latest map[string]model.Review) bool {
	for _, r := range latest {
		if r.State == model.ReviewApproved {
			return true
		}
	}
	return false
}
