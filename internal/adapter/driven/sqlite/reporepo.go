package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pacphi/ampel-sub003/internal/domain/model"
	"github.com/pacphi/ampel-sub003/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.RepositoryStore = (*RepoRepo)(nil)

// RepoRepo is the SQLite implementation of the RepositoryStore port interface.
type RepoRepo struct {
	db *DB
}

// NewRepoRepo creates a new RepoRepo backed by the given DB.
func NewRepoRepo(db *DB) *RepoRepo {
	return &RepoRepo{db: db}
}

// Add inserts a new tracked repository. Returns ErrRepoAlreadyExists if the
// (user, provider, owner, name) tuple is already tracked, regardless of
// which provider account it is tracked through.
func (r *RepoRepo) Add(ctx context.Context, repo model.Repository) (model.Repository, error) {
	const query = `
		INSERT INTO repositories (
			user_id, provider_account_id, provider, owner_slug, name_slug,
			default_branch, is_private, is_archived, raw_visibility,
			poll_interval_seconds, added_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	now := time.Now().UTC()
	result, err := r.db.Writer.ExecContext(ctx, query,
		repo.UserID, repo.ProviderAccountID, repo.Provider, repo.OwnerSlug, repo.NameSlug,
		repo.DefaultBranch, repo.IsPrivate, repo.IsArchived, repo.RawVisibility,
		repo.PollIntervalSeconds, now, now,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return model.Repository{}, fmt.Errorf("add repository %s: %w", repo.FullName(), driven.ErrRepoAlreadyExists)
		}
		return model.Repository{}, fmt.Errorf("add repository %s: %w", repo.FullName(), err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return model.Repository{}, fmt.Errorf("last insert id: %w", err)
	}

	repo.ID = id
	repo.AddedAt = now
	repo.UpdatedAt = now
	return repo, nil
}

// Remove deletes a repository by id, scoped to the owning user. Returns
// ErrRepoNotFound if it does not exist. Due to foreign key cascade, all
// associated pull requests, checks, and reviews are also deleted.
func (r *RepoRepo) Remove(ctx context.Context, userID, repoID int64) error {
	const query = `DELETE FROM repositories WHERE id = ? AND user_id = ?`

	result, err := r.db.Writer.ExecContext(ctx, query, repoID, userID)
	if err != nil {
		return fmt.Errorf("remove repository %d: %w", repoID, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("remove repository %d: %w", repoID, driven.ErrRepoNotFound)
	}

	return nil
}

// GetByID retrieves a repository by id, scoped to the owning user. Returns
// nil, nil if it does not exist or is not owned by userID.
func (r *RepoRepo) GetByID(ctx context.Context, userID, repoID int64) (*model.Repository, error) {
	const query = repositorySelect + ` WHERE id = ? AND user_id = ?`

	repo, err := scanRepository(r.db.Reader.QueryRowContext(ctx, query, repoID, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get repository %d: %w", repoID, err)
	}

	return repo, nil
}

// ListByUser returns every repository tracked by the given user, ordered by
// owner then name.
func (r *RepoRepo) ListByUser(ctx context.Context, userID int64) ([]model.Repository, error) {
	const query = repositorySelect + ` WHERE user_id = ? ORDER BY owner_slug, name_slug`

	rows, err := r.db.Reader.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list repositories for user %d: %w", userID, err)
	}
	defer rows.Close()

	return scanRepositories(rows)
}

// ListDue returns every repository across all users whose poll interval has
// elapsed as of asOf, including repositories that have never been synced.
func (r *RepoRepo) ListDue(ctx context.Context, asOf time.Time) ([]model.Repository, error) {
	const query = repositorySelect + `
		WHERE needs_reauth = 0 AND (
			last_synced_at IS NULL
			OR datetime(last_synced_at, '+' || poll_interval_seconds || ' seconds') <= ?
		)
		ORDER BY last_synced_at IS NOT NULL, last_synced_at`

	rows, err := r.db.Reader.QueryContext(ctx, query, asOf.UTC())
	if err != nil {
		return nil, fmt.Errorf("list due repositories: %w", err)
	}
	defer rows.Close()

	return scanRepositories(rows)
}

// UpdateSyncState stamps a repository's last sync time and error message
// after a poll attempt. An empty lastError clears any previous error.
func (r *RepoRepo) UpdateSyncState(ctx context.Context, repoID int64, lastSyncedAt time.Time, lastError string) error {
	const query = `UPDATE repositories SET last_synced_at = ?, last_error = ?, updated_at = ? WHERE id = ?`

	_, err := r.db.Writer.ExecContext(ctx, query, lastSyncedAt.UTC(), lastError, time.Now().UTC(), repoID)
	if err != nil {
		return fmt.Errorf("update sync state for repository %d: %w", repoID, err)
	}
	return nil
}

// SetNeedsReauth marks every repository under a provider account as needing
// reauthentication, or clears the flag, halting or resuming their polling.
func (r *RepoRepo) SetNeedsReauth(ctx context.Context, providerAccountID int64, needsReauth bool) error {
	const query = `UPDATE repositories SET needs_reauth = ?, updated_at = ? WHERE provider_account_id = ?`

	_, err := r.db.Writer.ExecContext(ctx, query, needsReauth, time.Now().UTC(), providerAccountID)
	if err != nil {
		return fmt.Errorf("set needs_reauth for account %d: %w", providerAccountID, err)
	}
	return nil
}

// UpdatePollIntervalSeconds changes a tracked repository's polling
// interval, scoped to the owning user, and returns the updated row.
func (r *RepoRepo) UpdatePollIntervalSeconds(ctx context.Context, userID, repoID int64, pollIntervalSeconds int) (model.Repository, error) {
	const query = `UPDATE repositories SET poll_interval_seconds = ?, updated_at = ? WHERE id = ? AND user_id = ?`

	result, err := r.db.Writer.ExecContext(ctx, query, pollIntervalSeconds, time.Now().UTC(), repoID, userID)
	if err != nil {
		return model.Repository{}, fmt.Errorf("update poll interval for repository %d: %w", repoID, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return model.Repository{}, fmt.Errorf("check rows affected: %w", err)
	}
	if rows == 0 {
		return model.Repository{}, fmt.Errorf("update poll interval for repository %d: %w", repoID, driven.ErrRepoNotFound)
	}

	repo, err := r.GetByID(ctx, userID, repoID)
	if err != nil {
		return model.Repository{}, err
	}
	return *repo, nil
}

const repositorySelect = `
	SELECT id, user_id, provider_account_id, provider, owner_slug, name_slug,
		default_branch, is_private, is_archived, raw_visibility,
		poll_interval_seconds, last_synced_at, last_error, needs_reauth,
		added_at, updated_at
	FROM repositories`

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanRepository(s scanner) (*model.Repository, error) {
	var repo model.Repository
	var lastSyncedAt, addedAt, updatedAt sql.NullString

	err := s.Scan(
		&repo.ID, &repo.UserID, &repo.ProviderAccountID, &repo.Provider, &repo.OwnerSlug, &repo.NameSlug,
		&repo.DefaultBranch, &repo.IsPrivate, &repo.IsArchived, &repo.RawVisibility,
		&repo.PollIntervalSeconds, &lastSyncedAt, &repo.LastError, &repo.NeedsReauth,
		&addedAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if lastSyncedAt.Valid {
		repo.LastSyncedAt, err = parseTime(lastSyncedAt.String)
		if err != nil {
			return nil, fmt.Errorf("parse last_synced_at: %w", err)
		}
	}
	if repo.AddedAt, err = parseTime(addedAt.String); err != nil {
		return nil, fmt.Errorf("parse added_at: %w", err)
	}
	if repo.UpdatedAt, err = parseTime(updatedAt.String); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}

	return &repo, nil
}

func scanRepositories(rows *sql.Rows) ([]model.Repository, error) {
	var repos []model.Repository
	for rows.Next() {
		repo, err := scanRepository(rows)
		if err != nil {
			return nil, fmt.Errorf("scan repository: %w", err)
		}
		repos = append(repos, *repo)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate repositories: %w", err)
	}
	return repos, nil
}

// parseTime tries multiple SQLite datetime formats.
func parseTime(s string) (time.Time, error) {
	formats := []string{
		"2006-01-02T15:04:05Z",
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05.000",
		time.RFC3339,
		time.RFC3339Nano,
	}

	for _, format := range formats {
		if t, err := time.Parse(format, s); err == nil {
			return t, nil
		}
	}

	return time.Time{}, fmt.Errorf("unrecognized time format: %s", s)
}
