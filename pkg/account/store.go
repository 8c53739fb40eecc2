package account

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

const accountsFileName = "accounts.json"

// Store persists the account map as <data_folder>/accounts.json, a JSON
// object keyed by org UUID. Writes are atomic: temp file, fsync, rename.
type Store struct {
	dataFolder       string
	noFilesystemMode bool
}

// NewStore creates a store. In no-filesystem mode both Save and Load are
// no-ops.
func NewStore(dataFolder string, noFilesystemMode bool) *Store {
	return &Store{
		dataFolder:       dataFolder,
		noFilesystemMode: noFilesystemMode,
	}
}

// Save writes all accounts atomically. On any error the temp file is
// removed and the previous accounts.json is left intact.
func (s *Store) Save(accounts map[string]*Account) error {
	if s.noFilesystemMode {
		slog.Debug("No-filesystem mode enabled, skipping account save")
		return nil
	}

	if err := os.MkdirAll(s.dataFolder, 0o755); err != nil {
		return fmt.Errorf("failed to create data folder: %w", err)
	}

	data, err := json.MarshalIndent(accounts, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal accounts: %w", err)
	}

	tmp, err := os.CreateTemp(s.dataFolder, "accounts-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write accounts: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to sync accounts: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	target := filepath.Join(s.dataFolder, accountsFileName)
	if err := os.Rename(tmpPath, target); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to replace %s: %w", target, err)
	}

	slog.Info("Saved accounts", "count", len(accounts), "path", target)
	return nil
}

// Load reads accounts.json. A missing file yields an empty map; a corrupt
// file is logged and yields an empty map, never an error that would block
// startup.
func (s *Store) Load() map[string]*Account {
	accounts := make(map[string]*Account)
	if s.noFilesystemMode {
		slog.Debug("No-filesystem mode enabled, skipping account load")
		return accounts
	}

	path := filepath.Join(s.dataFolder, accountsFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			slog.Info("No accounts file found", "path", path)
		} else {
			slog.Error("Failed to read accounts file", "path", path, "error", err)
		}
		return accounts
	}

	if err := json.Unmarshal(data, &accounts); err != nil {
		slog.Error("Failed to parse accounts file, starting empty", "path", path, "error", err)
		return make(map[string]*Account)
	}

	slog.Info("Loaded accounts", "count", len(accounts), "path", path)
	return accounts
}
