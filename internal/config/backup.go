package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const (
	// MaxBackups is the number of config backups kept per project.
	MaxBackups = 3

	// BackupSuffix is the extension appended to backup files.
	BackupSuffix = ".bak"
)

// Backup creates a timestamped backup of the project config file and
// returns its path. When no config exists yet, it returns "" and nil.
func Backup(root string) (string, error) {
	configPath := Path(root)
	if !fileExists(configPath) {
		return "", nil
	}

	timestamp := time.Now().Format("20060102-150405")
	backupPath := fmt.Sprintf("%s%s.%s", configPath, BackupSuffix, timestamp)
	// A second backup within the same second gets a numeric suffix so it
	// never overwrites an existing one.
	for n := 1; fileExists(backupPath); n++ {
		backupPath = fmt.Sprintf("%s%s.%s-%d", configPath, BackupSuffix, timestamp, n)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return "", fmt.Errorf("read config for backup: %w", err)
	}
	if err := os.WriteFile(backupPath, data, 0o644); err != nil {
		return "", fmt.Errorf("write backup: %w", err)
	}

	// Best effort: a failed cleanup never fails the backup itself.
	_ = cleanupOldBackups(root)

	return backupPath, nil
}

// ListBackups returns the project's config backups, newest first.
func ListBackups(root string) ([]string, error) {
	configPath := Path(root)
	configDir := filepath.Dir(configPath)
	configBase := filepath.Base(configPath)

	entries, err := os.ReadDir(configDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list config directory: %w", err)
	}

	var backups []string
	prefix := configBase + BackupSuffix + "."
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if strings.HasPrefix(entry.Name(), prefix) {
			backups = append(backups, filepath.Join(configDir, entry.Name()))
		}
	}

	sort.Slice(backups, func(i, j int) bool {
		infoI, _ := os.Stat(backups[i])
		infoJ, _ := os.Stat(backups[j])
		if infoI == nil || infoJ == nil {
			return false
		}
		return infoI.ModTime().After(infoJ.ModTime())
	})

	return backups, nil
}

func cleanupOldBackups(root string) error {
	backups, err := ListBackups(root)
	if err != nil {
		return err
	}
	if len(backups) <= MaxBackups {
		return nil
	}
	for _, backup := range backups[MaxBackups:] {
		if err := os.Remove(backup); err != nil {
			continue
		}
	}
	return nil
}

// Restore replaces the project config with a backup, backing up the
// current config first.
func Restore(root, backupPath string) error {
	if _, err := os.Stat(backupPath); err != nil {
		return fmt.Errorf("backup file not found: %w", err)
	}

	if fileExists(Path(root)) {
		if _, err := Backup(root); err != nil {
			return fmt.Errorf("backup current config before restore: %w", err)
		}
	}

	data, err := os.ReadFile(backupPath)
	if err != nil {
		return fmt.Errorf("read backup: %w", err)
	}
	if err := os.MkdirAll(Dir(root), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if err := os.WriteFile(Path(root), data, 0o644); err != nil {
		return fmt.Errorf("write restored config: %w", err)
	}
	return nil
}
