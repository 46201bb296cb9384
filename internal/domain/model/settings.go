package model

// ViewMode is the dashboard's display mode preference.
type ViewMode string

// ViewMode values.
const (
	ViewModeList ViewMode = "list"
	ViewModeGrid ViewMode = "grid"
)

// SortOrder is the default pull request ordering preference.
type SortOrder string

// SortOrder values.
const (
	SortUpdatedDesc SortOrder = "updated_desc"
	SortOpenedDesc  SortOrder = "opened_desc"
	SortStatus      SortOrder = "status"
)

// UserSettings holds per-user dashboard behavior preferences. Created lazily
// on first read with the zero-value defaults below.
type UserSettings struct {
	UserID              int64
	ViewMode            ViewMode
	DefaultSort         SortOrder
	AutoRefreshSeconds  int
}

// DefaultUserSettings returns the settings applied when a user has never saved any.
func DefaultUserSettings(userID int64) UserSettings {
	return UserSettings{
		UserID:             userID,
		ViewMode:           ViewModeList,
		DefaultSort:        SortUpdatedDesc,
		AutoRefreshSeconds: 60,
	}
}

// NotificationPreferences holds per-user notification delivery configuration.
// Created lazily on first read, like UserSettings.
type NotificationPreferences struct {
	UserID          int64
	SlackEnabled    bool
	SlackWebhookURL string
	EmailEnabled    bool
	EmailAddress    string
}

// DefaultNotificationPreferences returns the all-disabled defaults for a new user.
func DefaultNotificationPreferences(userID int64) NotificationPreferences {
	return NotificationPreferences{UserID: userID}
}
