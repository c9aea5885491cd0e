package syncer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/mitchellh/go-ps"

	"github.com/subalpine-circuits/firmware-sync/internal/logger"
)

// runLock is the marker file that keeps two syncs out of one asset directory.
type runLock struct {
	path string
}

// acquireLock creates the run marker in directory. A marker left behind by a
// process that is no longer running is removed and replaced.
func acquireLock(ctx context.Context, directory string) (*runLock, error) {
	if err := os.MkdirAll(directory, 0o755); err != nil {
		return nil, fmt.Errorf("create asset directory: %w", err)
	}

	markerPath := filepath.Join(directory, LockFilename)

	for range 2 {
		marker, err := os.OpenFile(markerPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, DefaultFileMode)
		if err == nil {
			_, err = marker.WriteString(strconv.Itoa(os.Getpid()))
			if closeErr := marker.Close(); err == nil {
				err = closeErr
			}

			if err != nil {
				_ = os.Remove(markerPath)

				return nil, fmt.Errorf("write run marker: %w", err)
			}

			return &runLock{path: markerPath}, nil
		}

		if !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("create run marker: %w", err)
		}

		if isLockHeld(markerPath) {
			return nil, errSyncAlreadyRunning
		}

		logger.InfoKV(ctx, "Removing stale run marker", "path", markerPath)

		if err = os.Remove(markerPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("remove stale run marker: %w", err)
		}
	}

	return nil, errSyncAlreadyRunning
}

// isLockHeld reports whether another live process is recorded in the marker.
// Markers with unparsable contents, or left by a previous process that had
// our PID, count as stale. A marker that exists but cannot be read counts as held.
func isLockHeld(markerPath string) bool {
	contents, err := os.ReadFile(filepath.Clean(markerPath))
	if err != nil {
		return !errors.Is(err, os.ErrNotExist)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(contents)))
	if err != nil || pid <= 0 || pid == os.Getpid() {
		return false
	}

	process, err := ps.FindProcess(pid)
	if err != nil {
		// The process table is unavailable; assume the holder is alive.
		return true
	}

	return process != nil
}

// release removes the run marker.
func (l *runLock) release() {
	if l == nil {
		return
	}

	_ = os.Remove(l.path)
}
