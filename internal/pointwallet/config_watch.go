package pointwallet

import (
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// WatchConfigFile applies on-disk config edits live. Logging, auth and rate limits
// take effect immediately; everything else needs a restart.
func WatchConfigFile(path string, store *ConfigStore) (*fsnotify.Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	if err := watcher.Add(filepath.Dir(path)); err != nil {
		_ = watcher.Close()
		return nil, err
	}
	_ = watcher.Add(path)

	cleanPath := filepath.Clean(path)
	baseName := filepath.Base(cleanPath)

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != cleanPath && filepath.Base(event.Name) != baseName {
					continue
				}

				if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
					// Atomic saves replace the file; re-add the watch on the new inode.
					_ = watcher.Remove(path)
					_ = watcher.Add(path)
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
					continue
				}
				reloadConfig(path, store)

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Error("config watcher error", "path", path, "error", err)
			}
		}
	}()

	return watcher, nil
}

func reloadConfig(path string, store *ConfigStore) {
	cfg, err := LoadConfig(path)
	if err != nil {
		slog.Error("config reload failed", "path", path, "error", err)
		return
	}
	prev := store.Get()
	if err := store.Set(cfg); err != nil {
		slog.Warn("config reload rejected", "path", path, "error", err)
		return
	}
	if prev.Backend != cfg.Backend || prev.State != cfg.State || prev.Listen != cfg.Listen || prev.Transfer != cfg.Transfer {
		slog.Warn("backend, state, transfer or listen changes apply after restart", "path", path)
	}
	InitLogger(cfg.Logging)
	slog.Info("config reloaded from disk", "path", path)
}
