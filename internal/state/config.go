// SPDX-License-Identifier: MIT

package state

import (
	"path/filepath"
	"sync"

	"github.com/ManuGH/streamwarden/internal/model"
)

// ConfigStore holds the two runtime configuration blobs the engine consults
// on every cycle. Reads return copies; writes validate, persist, then swap.
type ConfigStore struct {
	mu  sync.RWMutex
	dir string

	automation model.AutomationConfig
	checker    model.StreamCheckerConfig
}

// OpenConfigStore loads both blobs from dir, falling back to defaults for
// missing files or missing keys.
func OpenConfigStore(dir string) (*ConfigStore, error) {
	s := &ConfigStore{
		dir:        dir,
		automation: model.DefaultAutomationConfig(),
		checker:    model.DefaultStreamCheckerConfig(),
	}
	if _, err := loadJSON(s.automationPath(), &s.automation); err != nil {
		return nil, err
	}
	if _, err := loadJSON(s.checkerPath(), &s.checker); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *ConfigStore) automationPath() string { return filepath.Join(s.dir, FileAutomationConfig) }
func (s *ConfigStore) checkerPath() string    { return filepath.Join(s.dir, FileStreamCheckerConfig) }

// Automation returns the current automation configuration.
func (s *ConfigStore) Automation() model.AutomationConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.automation
}

// SetAutomation validates, persists and applies a new automation config.
// On persistence failure the in-memory value is left untouched.
func (s *ConfigStore) SetAutomation(cfg model.AutomationConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := saveJSON(s.automationPath(), cfg); err != nil {
		return err
	}
	s.automation = cfg
	return nil
}

// UpdateAutomation applies an in-place mutation under the store lock.
func (s *ConfigStore) UpdateAutomation(mutate func(*model.AutomationConfig)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.automation
	mutate(&next)
	if err := next.Validate(); err != nil {
		return err
	}
	if err := saveJSON(s.automationPath(), next); err != nil {
		return err
	}
	s.automation = next
	return nil
}

// Checker returns the current stream-checker configuration.
func (s *ConfigStore) Checker() model.StreamCheckerConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.checker
}

// SetChecker validates, persists and applies a new checker config.
func (s *ConfigStore) SetChecker(cfg model.StreamCheckerConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := saveJSON(s.checkerPath(), cfg); err != nil {
		return err
	}
	s.checker = cfg
	return nil
}

// Reload re-reads both blobs from disk, used by the watcher after an
// external edit. Unparseable files keep the current in-memory value.
func (s *ConfigStore) Reload() error {
	automation := model.DefaultAutomationConfig()
	checker := model.DefaultStreamCheckerConfig()
	if _, err := loadJSON(s.automationPath(), &automation); err != nil {
		return err
	}
	if _, err := loadJSON(s.checkerPath(), &checker); err != nil {
		return err
	}
	if err := automation.Validate(); err != nil {
		return err
	}
	if err := checker.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.automation = automation
	s.checker = checker
	return nil
}
