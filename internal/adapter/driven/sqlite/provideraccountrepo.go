package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/pacphi/ampel-sub003/internal/domain/model"
	"github.com/pacphi/ampel-sub003/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.ProviderAccountStore = (*ProviderAccountRepo)(nil)

// ProviderAccountRepo is the SQLite implementation of the
// ProviderAccountStore port interface.
type ProviderAccountRepo struct {
	db *DB
}

// NewProviderAccountRepo creates a new ProviderAccountRepo backed by the given DB.
func NewProviderAccountRepo(db *DB) *ProviderAccountRepo {
	return &ProviderAccountRepo{db: db}
}

// Create inserts a new provider account for a user.
func (r *ProviderAccountRepo) Create(ctx context.Context, account model.ProviderAccount) (model.ProviderAccount, error) {
	const query = `
		INSERT INTO provider_accounts (
			user_id, provider, instance_url, account_handle, is_default,
			needs_reauth, expires_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	now := time.Now().UTC()
	var expires any
	if !account.ExpiresAt.IsZero() {
		expires = account.ExpiresAt.UTC()
	}

	result, err := r.db.Writer.ExecContext(ctx, query,
		account.UserID, account.Provider, account.InstanceURL, account.AccountHandle,
		account.IsDefault, account.NeedsReauth, expires, now, now,
	)
	if err != nil {
		return model.ProviderAccount{}, fmt.Errorf("create provider account for user %d: %w", account.UserID, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return model.ProviderAccount{}, fmt.Errorf("last insert id: %w", err)
	}

	account.ID = id
	account.CreatedAt = now
	account.UpdatedAt = now
	return account, nil
}

// GetByID retrieves a provider account, scoped to the owning user.
func (r *ProviderAccountRepo) GetByID(ctx context.Context, userID, accountID int64) (*model.ProviderAccount, error) {
	const query = providerAccountSelect + ` WHERE id = ? AND user_id = ?`

	account, err := scanProviderAccount(r.db.Reader.QueryRowContext(ctx, query, accountID, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get provider account %d: %w", accountID, err)
	}
	return account, nil
}

// ListByUser returns every provider account belonging to a user.
func (r *ProviderAccountRepo) ListByUser(ctx context.Context, userID int64) ([]model.ProviderAccount, error) {
	const query = providerAccountSelect + ` WHERE user_id = ? ORDER BY provider, account_handle`

	rows, err := r.db.Reader.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list provider accounts for user %d: %w", userID, err)
	}
	defer rows.Close()

	var accounts []model.ProviderAccount
	for rows.Next() {
		account, err := scanProviderAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan provider account: %w", err)
		}
		accounts = append(accounts, *account)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate provider accounts: %w", err)
	}

	return accounts, nil
}

// SetNeedsReauth flags or clears an account's reauthentication requirement.
func (r *ProviderAccountRepo) SetNeedsReauth(ctx context.Context, accountID int64, needsReauth bool) error {
	const query = `UPDATE provider_accounts SET needs_reauth = ?, updated_at = ? WHERE id = ?`
	_, err := r.db.Writer.ExecContext(ctx, query, needsReauth, time.Now().UTC(), accountID)
	if err != nil {
		return fmt.Errorf("set needs_reauth for account %d: %w", accountID, err)
	}
	return nil
}

// SetDefault marks accountID as the default account for its provider and
// unmarks every other account of the same (user, provider) pair, in a
// single transaction so a caller never observes two defaults at once.
func (r *ProviderAccountRepo) SetDefault(ctx context.Context, userID, accountID int64) error {
	tx, err := r.db.Writer.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // Rollback after commit is a no-op.

	var provider string
	const selectQuery = `SELECT provider FROM provider_accounts WHERE id = ? AND user_id = ?`
	if err := tx.QueryRowContext(ctx, selectQuery, accountID, userID).Scan(&provider); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("set default account %d: %w", accountID, driven.ErrProviderAccountNotFound)
		}
		return fmt.Errorf("lookup provider for account %d: %w", accountID, err)
	}

	now := time.Now().UTC()
	const clearQuery = `UPDATE provider_accounts SET is_default = 0, updated_at = ? WHERE user_id = ? AND provider = ?`
	if _, err := tx.ExecContext(ctx, clearQuery, now, userID, provider); err != nil {
		return fmt.Errorf("clear default accounts for user %d provider %s: %w", userID, provider, err)
	}

	const setQuery = `UPDATE provider_accounts SET is_default = 1, updated_at = ? WHERE id = ?`
	if _, err := tx.ExecContext(ctx, setQuery, now, accountID); err != nil {
		return fmt.Errorf("set default account %d: %w", accountID, err)
	}

	return tx.Commit()
}

// Delete removes a provider account, scoped to the owning user. Cascades to
// its tracked repositories and stored credential.
func (r *ProviderAccountRepo) Delete(ctx context.Context, userID, accountID int64) error {
	const query = `DELETE FROM provider_accounts WHERE id = ? AND user_id = ?`

	result, err := r.db.Writer.ExecContext(ctx, query, accountID, userID)
	if err != nil {
		return fmt.Errorf("delete provider account %d: %w", accountID, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("delete provider account %d: %w", accountID, driven.ErrProviderAccountNotFound)
	}

	return nil
}

const providerAccountSelect = `
	SELECT id, user_id, provider, instance_url, account_handle, is_default,
		needs_reauth, expires_at, created_at, updated_at
	FROM provider_accounts`

func scanProviderAccount(s scanner) (*model.ProviderAccount, error) {
	var account model.ProviderAccount
	var expiresAt sql.NullString
	var createdAt, updatedAt string

	err := s.Scan(
		&account.ID, &account.UserID, &account.Provider, &account.InstanceURL, &account.AccountHandle,
		&account.IsDefault, &account.NeedsReauth, &expiresAt, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if expiresAt.Valid {
		if account.ExpiresAt, err = parseTime(expiresAt.String); err != nil {
			return nil, fmt.Errorf("parse expires_at: %w", err)
		}
	}
	if account.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if account.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}

	return &account, nil
}
