package driven

import (
	"context"

	"github.com/pacphi/ampel-sub003/internal/domain/model"
)

// SettingsStore defines the driven port for per-user preference persistence.
// Both Get methods return the model package's defaults, not an error, when a
// user has never saved a preference — settings are lazily created.
type SettingsStore interface {
	GetUserSettings(ctx context.Context, userID int64) (model.UserSettings, error)
	SaveUserSettings(ctx context.Context, settings model.UserSettings) error
	GetNotificationPreferences(ctx context.Context, userID int64) (model.NotificationPreferences, error)
	SaveNotificationPreferences(ctx context.Context, prefs model.NotificationPreferences) error
}
