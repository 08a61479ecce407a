package pointwallet

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

type ConfigStore struct {
	mu   sync.RWMutex
	cfg  *Config
	path string
}

// NewConfigStore creates a threadsafe config holder that also knows its path.
func NewConfigStore(path string, cfg *Config) *ConfigStore {
	return &ConfigStore{
		path: path,
		cfg:  cfg.Clone(),
	}
}

// Get returns a clone so callers cannot mutate shared state.
func (s *ConfigStore) Get() *Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.Clone()
}

// Set validates and applies a config in memory only.
func (s *ConfigStore) Set(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	s.cfg = cfg.Clone()
	s.mu.Unlock()
	slog.Debug("config applied in memory", "path", s.path)
	return nil
}

// Update clones, mutates, validates and saves atomically, and only then
// swaps the in-memory pointer.
func (s *ConfigStore) Update(fn func(*Config) error) error {
	if fn == nil {
		return fmt.Errorf("update function is nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.cfg.Clone()
	if err := fn(next); err != nil {
		return err
	}
	next.Normalize()
	if err := next.Validate(); err != nil {
		return err
	}
	if err := SaveConfig(s.path, next); err != nil {
		return err
	}
	s.cfg = next
	slog.Info("config updated", "path", s.path)
	return nil
}

// saveConfigAtomic writes to a temp file in the same directory and renames it,
// so readers never observe partial writes and fsnotify sees a clean replace.
func saveConfigAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".pointwallet.config-*.yml")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	// The file may hold the auth secret.
	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
