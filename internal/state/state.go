// SPDX-License-Identifier: MIT

// Package state owns every JSON blob streamwarden persists: runtime
// configuration, regex rules, channel/group settings, trackers, the
// dead-stream set and the changelog. Each store keeps an in-memory copy
// behind its own mutex and persists with write-temp-then-rename; a mutation
// commits to memory only after the disk write succeeded.
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"
)

// Persisted file names, one per concern. External tools may edit these;
// the Watcher reloads them in place.
const (
	FileAutomationConfig    = "automation_config.json"
	FileStreamCheckerConfig = "stream_checker_config.json"
	FileChannelRegex        = "channel_regex_config.json"
	FileChannelSettings     = "channel_settings.json"
	FileGroupSettings       = "group_settings.json"
	FileProfileConfig       = "profile_config.json"
	FileChannelUpdates      = "channel_updates.json"
	FileDeadStreams         = "dead_streams.json"
	FileChangelog           = "changelog.json"
)

// Stores bundles every persistent store under one data directory.
type Stores struct {
	Config    *ConfigStore
	Regex     *RegexStore
	Settings  *Settings
	Profiles  *ProfileStore
	Updates   *UpdateTracker
	Dead      *DeadStreams
	Changelog *Changelog
}

// Open creates the data directory if needed and opens all stores. Missing
// files are not an error; each store starts from its defaults.
func Open(dir string) (*Stores, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	cfg, err := OpenConfigStore(dir)
	if err != nil {
		return nil, err
	}
	regex, err := OpenRegexStore(filepath.Join(dir, FileChannelRegex))
	if err != nil {
		return nil, err
	}
	settings, err := OpenSettings(filepath.Join(dir, FileChannelSettings), filepath.Join(dir, FileGroupSettings))
	if err != nil {
		return nil, err
	}
	profiles, err := OpenProfileStore(filepath.Join(dir, FileProfileConfig))
	if err != nil {
		return nil, err
	}
	updates, err := OpenUpdateTracker(filepath.Join(dir, FileChannelUpdates))
	if err != nil {
		return nil, err
	}
	dead, err := OpenDeadStreams(filepath.Join(dir, FileDeadStreams))
	if err != nil {
		return nil, err
	}
	changelog, err := OpenChangelog(filepath.Join(dir, FileChangelog), DefaultChangelogRetention)
	if err != nil {
		return nil, err
	}

	return &Stores{
		Config:    cfg,
		Regex:     regex,
		Settings:  settings,
		Profiles:  profiles,
		Updates:   updates,
		Dead:      dead,
		Changelog: changelog,
	}, nil
}

// loadJSON reads path into v. A missing file returns (false, nil) so callers
// fall back to defaults.
func loadJSON(path string, v any) (bool, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	return true, nil
}

// saveJSON atomically replaces path with the JSON encoding of v. renameio
// writes a temp file, fsyncs and renames, so readers never observe a torn
// file and power loss cannot corrupt existing state.
func saveJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}

	pending, err := renameio.NewPendingFile(path)
	if err != nil {
		return fmt.Errorf("create pending file for %s: %w", filepath.Base(path), err)
	}
	defer func() { _ = pending.Cleanup() }()

	if _, err := pending.Write(data); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("replace %s: %w", filepath.Base(path), err)
	}
	return nil
}
