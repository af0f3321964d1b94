package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// CouncilConfig is the runtime-editable council composition, stored
// as config.json next to the conversation files.
type CouncilConfig struct {
	Provider      string   `json:"provider"`
	CouncilModels []string `json:"council_models"`
	ChairmanModel string   `json:"chairman_model"`
}

// ConfigStore serves the council configuration with copy-on-read
// caching. Edits go through Set; external edits to the file are picked
// up by a filesystem watcher so a running server follows manual
// changes without a restart.
type ConfigStore struct {
	path     string
	defaults CouncilConfig

	mu      sync.RWMutex
	current CouncilConfig

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewConfigStore loads the file, writing the defaults first when it
// does not exist yet, and starts the watcher.
func NewConfigStore(path string, defaults CouncilConfig) (*ConfigStore, error) {
	s := &ConfigStore{
		path:     path,
		defaults: defaults,
		done:     make(chan struct{}),
	}

	if err := s.load(); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		s.current = defaults
		if err := s.persist(defaults); err != nil {
			return nil, err
		}
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create config watcher: %w", err)
	}
	// Watch the directory: editors and atomic writers replace the
	// file, which drops a watch registered on the file itself.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("failed to watch config directory: %w", err)
	}
	s.watcher = watcher
	go s.watch()

	return s, nil
}

func (s *ConfigStore) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return err
	}
	cfg := s.defaults
	if err := json.Unmarshal(data, &cfg); err != nil {
		return fmt.Errorf("failed to parse %s: %w", s.path, err)
	}
	s.mu.Lock()
	s.current = cfg
	s.mu.Unlock()
	return nil
}

func (s *ConfigStore) persist(cfg CouncilConfig) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

func (s *ConfigStore) watch() {
	for {
		select {
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(s.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if err := s.load(); err != nil {
				slog.Warn("Could not reload council config", "path", s.path, "error", err)
			} else {
				slog.Info("Council config reloaded", "path", s.path)
			}
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("Config watcher error", "error", err)
		case <-s.done:
			return
		}
	}
}

// Close stops the watcher.
func (s *ConfigStore) Close() error {
	close(s.done)
	return s.watcher.Close()
}

// Get returns the current configuration snapshot.
func (s *ConfigStore) Get() CouncilConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cfg := s.current
	cfg.CouncilModels = append([]string(nil), s.current.CouncilModels...)
	return cfg
}

// Set merges non-zero fields into the stored configuration and
// persists the result.
func (s *ConfigStore) Set(update CouncilConfig) (CouncilConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg := s.current
	if update.Provider != "" {
		cfg.Provider = update.Provider
	}
	if update.CouncilModels != nil {
		cfg.CouncilModels = append([]string(nil), update.CouncilModels...)
	}
	if update.ChairmanModel != "" {
		cfg.ChairmanModel = update.ChairmanModel
	}

	if err := s.persist(cfg); err != nil {
		return CouncilConfig{}, err
	}
	s.current = cfg
	return cfg, nil
}

// Provider implements council.Config.
func (s *ConfigStore) Provider() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.Provider
}

// CouncilModels implements council.Config.
func (s *ConfigStore) CouncilModels() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.current.CouncilModels...)
}

// ChairmanModel implements council.Config.
func (s *ConfigStore) ChairmanModel() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.ChairmanModel
}
