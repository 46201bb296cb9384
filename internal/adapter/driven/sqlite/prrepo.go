package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/pacphi/ampel-sub003/internal/domain/model"
	"github.com/pacphi/ampel-sub003/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.PullRequestStore = (*PRRepo)(nil)

// PRRepo is the SQLite implementation of the PullRequestStore port interface.
type PRRepo struct {
	db *DB
}

// NewPRRepo creates a new PRRepo backed by the given DB.
func NewPRRepo(db *DB) *PRRepo {
	return &PRRepo{db: db}
}

// Upsert inserts or replaces a pull request, keyed on (repository_id, number).
func (r *PRRepo) Upsert(ctx context.Context, pr model.PullRequest) (model.PullRequest, error) {
	const query = `
		INSERT INTO pull_requests (
			repository_id, number, title, author, source_branch, target_branch,
			state, is_draft, url, head_sha, additions, deletions, changed_files,
			mergeable, ampel_status, opened_at, updated_at, last_activity_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(repository_id, number) DO UPDATE SET
			title = excluded.title,
			author = excluded.author,
			source_branch = excluded.source_branch,
			target_branch = excluded.target_branch,
			state = excluded.state,
			is_draft = excluded.is_draft,
			url = excluded.url,
			head_sha = excluded.head_sha,
			additions = excluded.additions,
			deletions = excluded.deletions,
			changed_files = excluded.changed_files,
			mergeable = excluded.mergeable,
			ampel_status = excluded.ampel_status,
			opened_at = excluded.opened_at,
			updated_at = excluded.updated_at,
			last_activity_at = excluded.last_activity_at
		RETURNING id
	`

	row := r.db.Writer.QueryRowContext(ctx, query,
		pr.RepositoryID, pr.Number, pr.Title, pr.Author, pr.SourceBranch, pr.TargetBranch,
		pr.State, pr.IsDraft, pr.URL, pr.HeadSHA, pr.Additions, pr.Deletions, pr.ChangedFiles,
		pr.Mergeable, pr.AmpelStatus, pr.OpenedAt.UTC(), pr.UpdatedAt.UTC(), pr.LastActivityAt.UTC(),
	)

	if err := row.Scan(&pr.ID); err != nil {
		return model.PullRequest{}, fmt.Errorf("upsert pull request %d#%d: %w", pr.RepositoryID, pr.Number, err)
	}

	return pr, nil
}

// GetByRepository returns all pull requests for the given repository, ordered by number.
func (r *PRRepo) GetByRepository(ctx context.Context, repoID int64) ([]model.PullRequest, error) {
	const query = pullRequestSelect + ` WHERE repository_id = ? ORDER BY number`
	return r.queryPRs(ctx, query, repoID)
}

// GetByNumber retrieves a single pull request by repository and number.
// Returns nil, nil if the pull request does not exist.
func (r *PRRepo) GetByNumber(ctx context.Context, repoID int64, number int) (*model.PullRequest, error) {
	const query = pullRequestSelect + ` WHERE repository_id = ? AND number = ?`

	pr, err := scanPR(r.db.Reader.QueryRowContext(ctx, query, repoID, number))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get PR %d#%d: %w", repoID, number, err)
	}

	return pr, nil
}

// ListOpenByUser returns every open (including draft) pull request across a
// user's tracked repositories, joined through repositories for ownership.
func (r *PRRepo) ListOpenByUser(ctx context.Context, userID int64) ([]model.PullRequest, error) {
	const query = `
		SELECT pr.id, pr.repository_id, pr.number, pr.title, pr.author,
		       pr.source_branch, pr.target_branch, pr.state, pr.is_draft, pr.url, pr.head_sha,
		       pr.additions, pr.deletions, pr.changed_files, pr.mergeable, pr.ampel_status,
		       pr.opened_at, pr.updated_at, pr.last_activity_at
		FROM pull_requests pr
		INNER JOIN repositories r ON r.id = pr.repository_id
		WHERE r.user_id = ? AND pr.state IN ('open', 'draft')
		ORDER BY pr.updated_at DESC
	`
	return r.queryPRs(ctx, query, userID)
}

// UpdateStatus updates only the denormalized ampel_status column, used by the
// scheduler after recomputing status via statusengine.Evaluate.
func (r *PRRepo) UpdateStatus(ctx context.Context, prID int64, status model.AmpelStatus) error {
	const query = `UPDATE pull_requests SET ampel_status = ? WHERE id = ?`

	_, err := r.db.Writer.ExecContext(ctx, query, status, prID)
	if err != nil {
		return fmt.Errorf("update status for PR %d: %w", prID, err)
	}
	return nil
}

// Delete removes a pull request by repository and number.
func (r *PRRepo) Delete(ctx context.Context, repoID int64, number int) error {
	const query = `DELETE FROM pull_requests WHERE repository_id = ? AND number = ?`

	result, err := r.db.Writer.ExecContext(ctx, query, repoID, number)
	if err != nil {
		return fmt.Errorf("delete PR %d#%d: %w", repoID, number, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("pull request %d#%d not found", repoID, number)
	}

	return nil
}

const pullRequestSelect = `
	SELECT id, repository_id, number, title, author, source_branch, target_branch,
		state, is_draft, url, head_sha, additions, deletions, changed_files,
		mergeable, ampel_status, opened_at, updated_at, last_activity_at
	FROM pull_requests`

func (r *PRRepo) queryPRs(ctx context.Context, query string, args ...any) ([]model.PullRequest, error) {
	rows, err := r.db.Reader.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query pull requests: %w", err)
	}
	defer rows.Close()

	var prs []model.PullRequest
	for rows.Next() {
		pr, err := scanPR(rows)
		if err != nil {
			return nil, fmt.Errorf("scan pull request: %w", err)
		}
		prs = append(prs, *pr)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pull requests: %w", err)
	}

	return prs, nil
}

func scanPR(s scanner) (*model.PullRequest, error) {
	var pr model.PullRequest
	var state, mergeable, ampelStatus string
	var isDraft int
	var openedAt, updatedAt, lastActivityAt sql.NullString

	err := s.Scan(
		&pr.ID, &pr.RepositoryID, &pr.Number, &pr.Title, &pr.Author,
		&pr.SourceBranch, &pr.TargetBranch, &state, &isDraft, &pr.URL, &pr.HeadSHA,
		&pr.Additions, &pr.Deletions, &pr.ChangedFiles, &mergeable, &ampelStatus,
		&openedAt, &updatedAt, &lastActivityAt,
	)
	if err != nil {
		return nil, err
	}

	pr.State = model.PRState(state)
	pr.IsDraft = isDraft != 0
	pr.Mergeable = model.MergeableState(mergeable)
	pr.AmpelStatus = model.AmpelStatus(ampelStatus)

	if openedAt.Valid {
		if pr.OpenedAt, err = parseTime(openedAt.String); err != nil {
			return nil, fmt.Errorf("parse opened_at: %w", err)
		}
	}
	if updatedAt.Valid {
		if pr.UpdatedAt, err = parseTime(updatedAt.String); err != nil {
			return nil, fmt.Errorf("parse updated_at: %w", err)
		}
	}
	if lastActivityAt.Valid {
		if pr.LastActivityAt, err = parseTime(lastActivityAt.String); err != nil {
			return nil, fmt.Errorf("parse last_activity_at: %w", err)
		}
	}

	return &pr, nil
}
