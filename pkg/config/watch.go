package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watch monitors the config file and invokes onChange with a freshly
// loaded Config whenever it is written or replaced. Events are debounced;
// a reload that fails to parse or validate is logged and skipped, keeping
// the previous config in effect. Watch blocks until ctx is cancelled.
func Watch(ctx context.Context, path string, onChange func(*Config)) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve config path: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create config watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory; editors and atomic writers replace the file,
	// which drops a direct file watch.
	configDir := filepath.Dir(absPath)
	configFile := filepath.Base(absPath)
	if err := watcher.Add(configDir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", configDir, err)
	}

	var debounce *time.Timer
	reload := func() {
		cfg, err := Load(absPath)
		if err != nil {
			slog.Warn("Config reload failed, keeping previous config", "error", err)
			return
		}
		slog.Info("Config reloaded", "path", absPath)
		onChange(cfg)
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != configFile {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(200*time.Millisecond, reload)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("Config watcher error", "error", err)
		}
	}
}
