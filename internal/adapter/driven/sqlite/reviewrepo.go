package sqlite

import (
	"context"
	"fmt"

	"github.com/pacphi/ampel-sub003/internal/domain/model"
	"github.com/pacphi/ampel-sub003/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.ReviewStore = (*ReviewRepo)(nil)

// ReviewRepo is the SQLite implementation of the ReviewStore port interface.
type ReviewRepo struct {
	db *DB
}

// NewReviewRepo creates a new ReviewRepo backed by the given DB.
func NewReviewRepo(db *DB) *ReviewRepo {
	return &ReviewRepo{db: db}
}

// ReplaceForPR atomically replaces all reviews for a PR. It deletes existing
// rows and inserts the provided reviews in a single transaction.
func (r *ReviewRepo) ReplaceForPR(ctx context.Context, prID int64, reviews []model.Review) error {
	tx, err := r.db.Writer.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // Rollback after commit is a no-op.

	const deleteQuery = `DELETE FROM reviews WHERE pull_request_id = ?`
	if _, err := tx.ExecContext(ctx, deleteQuery, prID); err != nil {
		return fmt.Errorf("delete reviews for PR %d: %w", prID, err)
	}

	const insertQuery = `
		INSERT INTO reviews (pull_request_id, reviewer_handle, state, submitted_at)
		VALUES (?, ?, ?, ?)
	`

	for _, review := range reviews {
		var submittedAt any
		if !review.SubmittedAt.IsZero() {
			submittedAt = review.SubmittedAt.UTC()
		}

		if _, err := tx.ExecContext(ctx, insertQuery,
			prID, review.ReviewerHandle, review.State, submittedAt,
		); err != nil {
			return fmt.Errorf("insert review by %q for PR %d: %w", review.ReviewerHandle, prID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit reviews for PR %d: %w", prID, err)
	}

	return nil
}

// GetByPR returns all reviews for the given PR, ordered by submission time.
func (r *ReviewRepo) GetByPR(ctx context.Context, prID int64) ([]model.Review, error) {
	const query = `
		SELECT id, pull_request_id, reviewer_handle, state, submitted_at
		FROM reviews
		WHERE pull_request_id = ?
		ORDER BY submitted_at
	`

	rows, err := r.db.Reader.QueryContext(ctx, query, prID)
	if err != nil {
		return nil, fmt.Errorf("query reviews for PR %d: %w", prID, err)
	}
	defer rows.Close()

	var reviews []model.Review
	for rows.Next() {
		review, err := scanReview(rows)
		if err != nil {
			return nil, fmt.Errorf("scan review: %w", err)
		}
		reviews = append(reviews, *review)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reviews: %w", err)
	}

	return reviews, nil
}

func scanReview(s scanner) (*model.Review, error) {
	var review model.Review
	var submittedAt string

	err := s.Scan(&review.ID, &review.PullRequestID, &review.ReviewerHandle, &review.State, &submittedAt)
	if err != nil {
		return nil, err
	}

	if submittedAt != "" {
		review.SubmittedAt, err = parseTime(submittedAt)
		if err != nil {
			return nil, fmt.Errorf("parse submitted_at: %w", err)
		}
	}

	return &review, nil
}
