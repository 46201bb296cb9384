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
var _ driven.SettingsStore = (*SettingsRepo)(nil)

// SettingsRepo is the SQLite implementation of the SettingsStore port
// interface. Both preference kinds are created lazily: a Get for a user with
// no saved row returns the model package's defaults rather than an error.
type SettingsRepo struct {
	db *DB
}

// NewSettingsRepo creates a new SettingsRepo backed by the given DB.
func NewSettingsRepo(db *DB) *SettingsRepo {
	return &SettingsRepo{db: db}
}

// GetUserSettings returns a user's saved settings, or the defaults if none
// have been saved yet.
func (r *SettingsRepo) GetUserSettings(ctx context.Context, userID int64) (model.UserSettings, error) {
	const query = `SELECT view_mode, default_sort, auto_refresh_seconds FROM user_settings WHERE user_id = ?`

	var settings model.UserSettings
	settings.UserID = userID

	err := r.db.Reader.QueryRowContext(ctx, query, userID).Scan(
		&settings.ViewMode, &settings.DefaultSort, &settings.AutoRefreshSeconds,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return model.DefaultUserSettings(userID), nil
	}
	if err != nil {
		return model.UserSettings{}, fmt.Errorf("get user settings for %d: %w", userID, err)
	}

	return settings, nil
}

// SaveUserSettings inserts or replaces a user's settings.
func (r *SettingsRepo) SaveUserSettings(ctx context.Context, settings model.UserSettings) error {
	const query = `
		INSERT INTO user_settings (user_id, view_mode, default_sort, auto_refresh_seconds)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			view_mode = excluded.view_mode,
			default_sort = excluded.default_sort,
			auto_refresh_seconds = excluded.auto_refresh_seconds
	`
	_, err := r.db.Writer.ExecContext(ctx, query,
		settings.UserID, settings.ViewMode, settings.DefaultSort, settings.AutoRefreshSeconds,
	)
	if err != nil {
		return fmt.Errorf("save user settings for %d: %w", settings.UserID, err)
	}
	return nil
}

// GetNotificationPreferences returns a user's saved notification
// preferences, or the all-disabled defaults if none have been saved yet.
func (r *SettingsRepo) GetNotificationPreferences(ctx context.Context, userID int64) (model.NotificationPreferences, error) {
	const query = `
		SELECT slack_enabled, slack_webhook_url, email_enabled, email_address
		FROM notification_preferences WHERE user_id = ?
	`

	var prefs model.NotificationPreferences
	prefs.UserID = userID

	err := r.db.Reader.QueryRowContext(ctx, query, userID).Scan(
		&prefs.SlackEnabled, &prefs.SlackWebhookURL, &prefs.EmailEnabled, &prefs.EmailAddress,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return model.DefaultNotificationPreferences(userID), nil
	}
	if err != nil {
		return model.NotificationPreferences{}, fmt.Errorf("get notification preferences for %d: %w", userID, err)
	}

	return prefs, nil
}

// SaveNotificationPreferences inserts or replaces a user's notification preferences.
func (r *SettingsRepo) SaveNotificationPreferences(ctx context.Context, prefs model.NotificationPreferences) error {
	const query = `
		INSERT INTO notification_preferences (user_id, slack_enabled, slack_webhook_url, email_enabled, email_address)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			slack_enabled = excluded.slack_enabled,
			slack_webhook_url = excluded.slack_webhook_url,
			email_enabled = excluded.email_enabled,
			email_address = excluded.email_address
	`
	_, err := r.db.Writer.ExecContext(ctx, query,
		prefs.UserID, prefs.SlackEnabled, prefs.SlackWebhookURL, prefs.EmailEnabled, prefs.EmailAddress,
	)
	if err != nil {
		return fmt.Errorf("save notification preferences for %d: %w", prefs.UserID, err)
	}
	return nil
}
