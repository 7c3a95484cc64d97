// SPDX-License-Identifier: MIT

package state

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ManuGH/streamwarden/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestWatcherReloadAllPicksUpExternalEdits(t *testing.T) {
	dir := t.TempDir()
	stores, err := Open(dir)
	require.NoError(t, err)

	// simulate an edit from outside the process
	cfg := model.DefaultAutomationConfig()
	cfg.PlaylistUpdateIntervalMinutes = 25
	raw, err := json.Marshal(cfg)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileAutomationConfig), raw, 0o600))

	w := NewWatcher(dir, stores)
	var mu sync.Mutex
	var reloaded []string
	w.OnReload = func(file string) {
		mu.Lock()
		defer mu.Unlock()
		reloaded = append(reloaded, file)
	}
	w.ReloadAll()

	assert.Equal(t, 25, stores.Config.Automation().PlaylistUpdateIntervalMinutes)

	// one callback per distinct store, not per mapped file
	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, reloaded, 7)
}

func TestWatcherReloadKeepsStateOnCorruptFile(t *testing.T) {
	dir := t.TempDir()
	stores, err := Open(dir)
	require.NoError(t, err)

	cfg := model.DefaultAutomationConfig()
	cfg.PlaylistUpdateIntervalMinutes = 45
	require.NoError(t, stores.Config.SetAutomation(cfg))

	require.NoError(t, os.WriteFile(filepath.Join(dir, FileAutomationConfig), []byte("{not json"), 0o600))

	w := NewWatcher(dir, stores)
	w.ReloadAll()

	assert.Equal(t, 45, stores.Config.Automation().PlaylistUpdateIntervalMinutes)
}

func TestWatcherStartStopsWithContext(t *testing.T) {
	defer goleak.VerifyNone(t)

	dir := t.TempDir()
	stores, err := Open(dir)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	w := NewWatcher(dir, stores)
	require.NoError(t, w.Start(ctx))

	cancel()
	// the loop closes the fsnotify watcher on its way out
	assert.Eventually(t, func() bool {
		return w.watcher.WatchList() == nil
	}, 2*time.Second, 10*time.Millisecond)
}
