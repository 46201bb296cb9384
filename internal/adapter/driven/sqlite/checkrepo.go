package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pacphi/ampel-sub003/internal/domain/model"
	"github.com/pacphi/ampel-sub003/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.CICheckStore = (*CheckRepo)(nil)

// CheckRepo is the SQLite implementation of the CICheckStore port interface.
type CheckRepo struct {
	db *DB
}

// NewCheckRepo creates a new CheckRepo backed by the given DB.
func NewCheckRepo(db *DB) *CheckRepo {
	return &CheckRepo{db: db}
}

// ReplaceForPR atomically replaces all checks for a PR. It deletes existing
// rows and inserts the provided checks in a single transaction.
func (r *CheckRepo) ReplaceForPR(ctx context.Context, prID int64, checks []model.CICheck) error {
	tx, err := r.db.Writer.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // Rollback after commit is a no-op.

	const deleteQuery = `DELETE FROM ci_checks WHERE pull_request_id = ?`
	if _, err := tx.ExecContext(ctx, deleteQuery, prID); err != nil {
		return fmt.Errorf("delete checks for PR %d: %w", prID, err)
	}

	const insertQuery = `
		INSERT INTO ci_checks (pull_request_id, name, external_id, status, conclusion, external_url, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	for _, check := range checks {
		var startedAt, completedAt any
		if !check.StartedAt.IsZero() {
			startedAt = check.StartedAt.UTC()
		}
		if !check.CompletedAt.IsZero() {
			completedAt = check.CompletedAt.UTC()
		}

		if _, err := tx.ExecContext(ctx, insertQuery,
			prID, check.Name, check.ExternalID, check.Status, check.Conclusion,
			check.ExternalURL, startedAt, completedAt,
		); err != nil {
			return fmt.Errorf("insert check %q for PR %d: %w", check.Name, prID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit checks for PR %d: %w", prID, err)
	}

	return nil
}

// GetByPR returns all checks for the given PR, ordered by name.
func (r *CheckRepo) GetByPR(ctx context.Context, prID int64) ([]model.CICheck, error) {
	const query = `
		SELECT id, pull_request_id, name, external_id, status, conclusion, external_url, started_at, completed_at
		FROM ci_checks
		WHERE pull_request_id = ?
		ORDER BY name
	`

	rows, err := r.db.Reader.QueryContext(ctx, query, prID)
	if err != nil {
		return nil, fmt.Errorf("query checks for PR %d: %w", prID, err)
	}
	defer rows.Close()

	var checks []model.CICheck
	for rows.Next() {
		check, err := scanCICheck(rows)
		if err != nil {
			return nil, fmt.Errorf("scan check: %w", err)
		}
		checks = append(checks, *check)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate checks: %w", err)
	}

	return checks, nil
}

func scanCICheck(s scanner) (*model.CICheck, error) {
	var check model.CICheck
	var startedAt, completedAt sql.NullString

	err := s.Scan(
		&check.ID, &check.PullRequestID, &check.Name, &check.ExternalID,
		&check.Status, &check.Conclusion, &check.ExternalURL, &startedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}

	if startedAt.Valid {
		check.StartedAt, err = parseTime(startedAt.String)
		if err != nil {
			return nil, fmt.Errorf("parse started_at: %w", err)
		}
	}

	if completedAt.Valid {
		check.CompletedAt, err = parseTime(completedAt.String)
		if err != nil {
			return nil, fmt.Errorf("parse completed_at: %w", err)
		}
	}

	return &check, nil
}
