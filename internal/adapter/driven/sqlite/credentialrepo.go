package sqlite

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/pacphi/ampel-sub003/internal/domain/model"
	"github.com/pacphi/ampel-sub003/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.CredentialStore = (*CredentialRepo)(nil)

// CredentialRepo is the SQLite implementation of the CredentialStore port
// interface. Access and refresh tokens are encrypted with AES-256-GCM before
// write and decrypted after read.
type CredentialRepo struct {
	db  *DB
	key []byte // 32-byte AES-256 key; nil when encryption is disabled.
}

// NewCredentialRepo creates a new CredentialRepo. key must be 32 bytes for
// AES-256-GCM, or nil to disable credential storage (operations return
// ErrEncryptionKeyNotSet).
func NewCredentialRepo(db *DB, key []byte) *CredentialRepo {
	return &CredentialRepo{db: db, key: key}
}

// Set stores or replaces the token pair for a provider account.
func (r *CredentialRepo) Set(ctx context.Context, accountID int64, accessToken, refreshToken string, expiresAt time.Time) error {
	encAccess, err := r.encrypt(accessToken)
	if err != nil {
		return err
	}
	encRefresh, err := r.encrypt(refreshToken)
	if err != nil {
		return err
	}

	var expires any
	if !expiresAt.IsZero() {
		expires = expiresAt.UTC()
	}

	const query = `
		INSERT INTO credentials (account_id, access_token, refresh_token, expires_at, updated_at)
		VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(account_id) DO UPDATE SET
			access_token = excluded.access_token,
			refresh_token = excluded.refresh_token,
			expires_at = excluded.expires_at,
			updated_at = excluded.updated_at
	`
	_, err = r.db.Writer.ExecContext(ctx, query, accountID, encAccess, encRefresh, expires)
	if err != nil {
		return fmt.Errorf("set credential for account %d: %w", accountID, err)
	}
	return nil
}

// Get retrieves the decrypted Credential for a provider account.
func (r *CredentialRepo) Get(ctx context.Context, accountID int64) (model.Credential, error) {
	if r.key == nil {
		return model.Credential{}, driven.ErrEncryptionKeyNotSet
	}

	const query = `
		SELECT c.access_token, c.refresh_token, c.expires_at, a.provider, a.instance_url
		FROM credentials c JOIN provider_accounts a ON a.id = c.account_id
		WHERE c.account_id = ?`
	var encAccess, encRefresh string
	var expiresAt sql.NullString
	var provider model.Provider
	var instanceURL string

	err := r.db.Reader.QueryRowContext(ctx, query, accountID).Scan(&encAccess, &encRefresh, &expiresAt, &provider, &instanceURL)
	if err != nil {
		return model.Credential{}, fmt.Errorf("get credential for account %d: %w", accountID, err)
	}

	accessToken, err := r.decrypt(encAccess)
	if err != nil {
		return model.Credential{}, fmt.Errorf("decrypt access token for account %d: %w", accountID, err)
	}
	refreshToken, err := r.decrypt(encRefresh)
	if err != nil {
		return model.Credential{}, fmt.Errorf("decrypt refresh token for account %d: %w", accountID, err)
	}

	cred := model.Credential{
		AccountID:    accountID,
		Provider:     provider,
		InstanceURL:  instanceURL,
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
	}
	if expiresAt.Valid {
		cred.ExpiresAt, err = parseTime(expiresAt.String)
		if err != nil {
			return model.Credential{}, fmt.Errorf("parse expires_at for account %d: %w", accountID, err)
		}
	}

	return cred, nil
}

// Rotate replaces only the access token and expiry, leaving the refresh
// token untouched, e.g. after an OAuth access-token refresh.
func (r *CredentialRepo) Rotate(ctx context.Context, accountID int64, accessToken string, expiresAt time.Time) error {
	encAccess, err := r.encrypt(accessToken)
	if err != nil {
		return err
	}

	var expires any
	if !expiresAt.IsZero() {
		expires = expiresAt.UTC()
	}

	const query = `UPDATE credentials SET access_token = ?, expires_at = ?, updated_at = CURRENT_TIMESTAMP WHERE account_id = ?`
	result, err := r.db.Writer.ExecContext(ctx, query, encAccess, expires, accountID)
	if err != nil {
		return fmt.Errorf("rotate credential for account %d: %w", accountID, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("rotate credential for account %d: no credential on file", accountID)
	}

	return nil
}

// Delete removes the stored credential for a provider account. Returns
// ErrCredentialInUse if the account still has tracked repositories.
func (r *CredentialRepo) Delete(ctx context.Context, accountID int64) error {
	const countQuery = `SELECT COUNT(*) FROM repositories WHERE provider_account_id = ?`
	var count int
	if err := r.db.Reader.QueryRowContext(ctx, countQuery, accountID).Scan(&count); err != nil {
		return fmt.Errorf("count repositories for account %d: %w", accountID, err)
	}
	if count > 0 {
		return fmt.Errorf("delete credential for account %d: %w", accountID, driven.ErrCredentialInUse)
	}

	const query = `DELETE FROM credentials WHERE account_id = ?`
	_, err := r.db.Writer.ExecContext(ctx, query, accountID)
	if err != nil {
		return fmt.Errorf("delete credential for account %d: %w", accountID, err)
	}
	return nil
}

// RotateEncryptionKey re-encrypts every stored credential under newKey in a
// single transaction and, once committed, switches this CredentialRepo to
// use newKey for all further operations. The operator is responsible for
// then redeploying ampelhub with AMPELHUB_ENCRYPTION_KEY set to newKey; any
// other process still running with the old key can no longer decrypt what
// this call writes.
func (r *CredentialRepo) RotateEncryptionKey(ctx context.Context, newKey []byte) error {
	if r.key == nil {
		return driven.ErrEncryptionKeyNotSet
	}
	if len(newKey) != 32 {
		return errors.New("new encryption key must be 32 bytes")
	}

	tx, err := r.db.Writer.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // Rollback after commit is a no-op.

	rows, err := tx.QueryContext(ctx, `SELECT account_id, access_token, refresh_token FROM credentials`)
	if err != nil {
		return fmt.Errorf("list credentials: %w", err)
	}
	type encryptedPair struct {
		accountID                 int64
		accessToken, refreshToken string
	}
	var pairs []encryptedPair
	for rows.Next() {
		var p encryptedPair
		if err := rows.Scan(&p.accountID, &p.accessToken, &p.refreshToken); err != nil {
			rows.Close()
			return fmt.Errorf("scan credential: %w", err)
		}
		pairs = append(pairs, p)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return fmt.Errorf("iterate credentials: %w", err)
	}
	rows.Close()

	const update = `UPDATE credentials SET access_token = ?, refresh_token = ?, updated_at = CURRENT_TIMESTAMP WHERE account_id = ?`
	for _, p := range pairs {
		accessPlain, err := decryptWithKey(r.key, p.accessToken)
		if err != nil {
			return fmt.Errorf("decrypt access token for account %d: %w", p.accountID, err)
		}
		refreshPlain, err := decryptWithKey(r.key, p.refreshToken)
		if err != nil {
			return fmt.Errorf("decrypt refresh token for account %d: %w", p.accountID, err)
		}

		newAccess, err := encryptWithKey(newKey, accessPlain)
		if err != nil {
			return fmt.Errorf("encrypt access token for account %d: %w", p.accountID, err)
		}
		newRefresh, err := encryptWithKey(newKey, refreshPlain)
		if err != nil {
			return fmt.Errorf("encrypt refresh token for account %d: %w", p.accountID, err)
		}

		if _, err := tx.ExecContext(ctx, update, newAccess, newRefresh, p.accountID); err != nil {
			return fmt.Errorf("update credential for account %d: %w", p.accountID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit key rotation: %w", err)
	}

	r.key = newKey
	return nil
}

// encrypt encrypts plaintext using AES-256-GCM and returns a base64-encoded
// string containing the nonce (12 bytes) prepended to the ciphertext.
func (r *CredentialRepo) encrypt(plaintext string) (string, error) {
	if r.key == nil {
		return "", driven.ErrEncryptionKeyNotSet
	}
	return encryptWithKey(r.key, plaintext)
}

// decrypt decrypts a base64-encoded AES-256-GCM ciphertext.
func (r *CredentialRepo) decrypt(encoded string) (string, error) {
	return decryptWithKey(r.key, encoded)
}

func encryptWithKey(key []byte, plaintext string) (string, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("aes.NewCipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("cipher.NewGCM: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("rand nonce: %w", err)
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

func decryptWithKey(key []byte, encoded string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("base64 decode: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("aes.NewCipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("cipher.NewGCM: %w", err)
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return "", errors.New("ciphertext too short")
	}

	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("gcm.Open: %w", err)
	}

	return string(plaintext), nil
}
