// Package appinfo provides application identity constants.
// These are used across packages for consistent naming.
package appinfo

const (
	// AppName is the display name of the application.
	AppName = "Activity Telemetry"

	// ServerName and CollectorName identify the binaries in logs and
	// User-Agent headers.
	ServerName    = "activityd"
	CollectorName = "trackctl"

	// DirName is the directory name used for storing application data.
	// Location: %LOCALAPPDATA%/activity-telemetry/ (Windows) or ~/.config/activity-telemetry/ (other)
	DirName = "activity-telemetry"

	// MutexPrefix prefixes the Windows mutex guarding one database file.
	// "Local\" scopes the mutex to the current user session.
	MutexPrefix = "Local\\activityd-"

	// LockSuffix is appended to the database path to name its lock file.
	LockSuffix = ".lock"

	// ConfigFileName is the configuration file name.
	ConfigFileName = "config.json"

	// SecretsFileName is the secrets file name.
	SecretsFileName = "secrets.json"

	// DatabaseFileName is the SQLite database file name.
	DatabaseFileName = "activity.sqlite"
)
