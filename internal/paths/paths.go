package paths

import (
	"os"
	"path/filepath"
)

// BaseDir returns ~/.bridged, or the override if non-empty.
func BaseDir(override string) string {
	if override != "" {
		return override
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".bridged")
}

// DBPath returns the sqlite database path.
func DBPath(base string) string {
	return filepath.Join(base, "bridged.db")
}

// AttachmentsDir returns the directory holding attachment payload files.
func AttachmentsDir(base string) string {
	return filepath.Join(base, "attachments")
}

// LogDir returns the log directory.
func LogDir(base string) string {
	return filepath.Join(base, "logs")
}

// LogPath returns the daemon log file path.
func LogPath(base string) string {
	return filepath.Join(LogDir(base), "bridged.log")
}

// FailedAttachmentsLogPath returns the failed-attachment audit log path.
func FailedAttachmentsLogPath(base string) string {
	return filepath.Join(LogDir(base), "failed_attachments.log")
}

// ConfigPath returns the config file path.
func ConfigPath(base string) string {
	return filepath.Join(base, "config.toml")
}

// EnsureDirs creates the data directory tree with owner-only permissions.
func EnsureDirs(base string) error {
	dirs := []string{
		base,
		AttachmentsDir(base),
		LogDir(base),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}
