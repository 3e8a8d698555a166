package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"
)

const (
	// MaxBackups bounds how many config backups are kept per file.
	MaxBackups = 3

	// BackupSuffix is appended, with a timestamp, to backup file names.
	BackupSuffix = ".bak"
)

// backupTimeFormat sorts lexically in chronological order, so backup
// file names double as their age ordering.
const backupTimeFormat = "20060102-150405"

// BackupConfigFile creates a timestamped backup of the given config file,
// used by `ragserver init --force` before overwriting. Returns the backup
// file path on success. If the file does not exist, returns empty string
// and nil error.
func BackupConfigFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil // Nothing to back up
		}
		return "", fmt.Errorf("failed to read config for backup: %w", err)
	}

	backupPath := fmt.Sprintf("%s%s.%s", path, BackupSuffix, time.Now().Format(backupTimeFormat))
	if err := os.WriteFile(backupPath, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write backup: %w", err)
	}

	// Prune old backups, best effort
	_ = cleanupOldBackups(path)

	return backupPath, nil
}

// ListConfigBackups returns all backup files for the given config file,
// newest first.
func ListConfigBackups(path string) ([]string, error) {
	backups, err := filepath.Glob(path + BackupSuffix + ".*")
	if err != nil {
		return nil, fmt.Errorf("failed to list config backups: %w", err)
	}

	// Timestamped names sort chronologically, so reverse-lexical is
	// newest first.
	sort.Sort(sort.Reverse(sort.StringSlice(backups)))
	return backups, nil
}

// cleanupOldBackups removes backups beyond MaxBackups, keeping the newest.
func cleanupOldBackups(path string) error {
	backups, err := ListConfigBackups(path)
	if err != nil {
		return err
	}

	for i := MaxBackups; i < len(backups); i++ {
		// Best effort, keep going past individual failures.
		_ = os.Remove(backups[i])
	}
	return nil
}
