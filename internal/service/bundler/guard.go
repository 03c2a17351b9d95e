package bundler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/mitchellh/go-ps"

	"github.com/okuzmin/refbundler/internal/config"
	"github.com/okuzmin/refbundler/internal/logger"
)

const (
	// markerSuffix names the marker file placed next to the target archive
	// while a bundling operation is staging it.
	markerSuffix = ".bundling"

	// markerLifetime is the period after which a leftover marker is treated
	// as stale and eligible for recovery.
	markerLifetime = 5 * time.Minute
)

// errBundleInProgress indicates another bundling operation owns the target archive.
var errBundleInProgress = errors.New("another bundling operation is in progress for this archive")

// acquireMarker claims the per-archive marker file guarding against two
// bundling operations staging the same archive. A fresh marker fails the
// claim; a stale one is recovered when no other refbundler process is alive.
func acquireMarker(ctx context.Context, archivePath string) (func(), error) {
	markerPath := archivePath + markerSuffix

	info, err := os.Stat(markerPath)

	switch {
	case err == nil:
		if time.Since(info.ModTime()) <= markerLifetime {
			return nil, fmt.Errorf("%w: %s", errBundleInProgress, markerPath)
		}

		logger.InfoKV(ctx, "Found a stale bundling marker, attempting recovery", "marker", markerPath)

		if anotherBundlerAlive() {
			return nil, fmt.Errorf("%w: %s", errBundleInProgress, markerPath)
		}

		if err = os.Remove(markerPath); err != nil {
			return nil, fmt.Errorf("remove stale marker: %w", err)
		}
	case errors.Is(err, os.ErrNotExist):
		// Nothing to recover.
	default:
		return nil, fmt.Errorf("stat bundling marker: %w", err)
	}

	pid := []byte(strconv.Itoa(os.Getpid()))
	if err = os.WriteFile(markerPath, pid, config.DefaultFilePermissions); err != nil {
		return nil, fmt.Errorf("create bundling marker: %w", err)
	}

	release := func() {
		if err := os.Remove(markerPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			logger.WarnKV(ctx, "Unable to remove bundling marker", "marker", markerPath, "error", err)
		}
	}

	return release, nil
}

// anotherBundlerAlive reports whether a refbundler process other than this
// one is currently running.
func anotherBundlerAlive() bool {
	processes, err := ps.Processes()
	if err != nil {
		// Cannot tell; assume the marker owner is alive.
		return true
	}

	self, err := os.Executable()
	if err != nil {
		return true
	}

	name := filepath.Base(self)
	pid := os.Getpid()

	for _, process := range processes {
		if process.Pid() != pid && process.Executable() == name {
			return true
		}
	}

	return false
}
