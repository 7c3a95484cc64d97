// SPDX-License-Identifier: MIT

package health

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/ManuGH/streamwarden/internal/config"
	"github.com/ManuGH/streamwarden/internal/log"
)

// PerformStartupChecks validates the environment before the daemon
// starts serving: the data directory must be writable, and the probe
// binary should be resolvable. A missing probe binary is reported but
// not fatal; every probe then fails individually while matching and
// the control surface keep working.
func PerformStartupChecks(cfg config.Config) error {
	logger := log.WithComponent("startup")

	if err := checkDataDir(cfg.DataDir); err != nil {
		return fmt.Errorf("data directory: %w", err)
	}
	logger.Info().
		Str("event", "startup.data_dir_ok").
		Str("dir", cfg.DataDir).
		Msg("data directory is writable")

	bin := config.ResolveFFprobeBin(cfg.Analyzer.FFprobeBin, cfg.Analyzer.FFmpegBin)
	if _, err := exec.LookPath(bin); err != nil {
		logger.Warn().
			Str("event", "startup.ffprobe_missing").
			Str("bin", bin).
			Msg("probe binary not found; stream checks will fail until it is installed")
	} else {
		logger.Info().
			Str("event", "startup.ffprobe_ok").
			Str("bin", bin).
			Msg("probe binary resolved")
	}
	return nil
}

func checkDataDir(dir string) error {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	probe := filepath.Join(dir, ".write-check")
	if err := os.WriteFile(probe, []byte("ok"), 0o600); err != nil {
		return fmt.Errorf("write to %s: %w", dir, err)
	}
	return os.Remove(probe)
}
