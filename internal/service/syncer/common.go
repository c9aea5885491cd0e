package syncer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/subalpine-circuits/firmware-sync/internal/config"
	"github.com/subalpine-circuits/firmware-sync/internal/logger"
	"github.com/subalpine-circuits/firmware-sync/internal/service/common"
)

const (
	// DefaultFileMode is the mode of installed firmware binaries.
	DefaultFileMode os.FileMode = 0o644

	// LockFilename is the run marker kept in the asset directory while a sync runs.
	LockFilename = ".firmware-sync.lock"

	// temporaryDirectoryPattern names the download staging directory.
	temporaryDirectoryPattern = "firmware-sync-"
)

var (
	// ErrPartialSync is returned when the manifest was written without some releases.
	ErrPartialSync = errors.New("some releases were not synced")

	errSyncAlreadyRunning = errors.New("another sync is running in this asset directory")
	errNoFirmwareAsset    = errors.New("release has no firmware asset")
	errUnsafeTag          = errors.New("tag cannot be used as a file name")
	errSizeMismatch       = errors.New("downloaded size does not match the asset size")
)

// releaseSource is the GitHub surface used by the sync.
type releaseSource interface {
	ListReleases(ctx context.Context, maxPages int) ([]*common.Release, error)
	GetRelease(ctx context.Context, id int64) (*common.Release, error)
	ResolveTagCommit(ctx context.Context, tag string) (string, error)
	DownloadAsset(ctx context.Context, assetID int64) (io.ReadCloser, error)
}

// selectAsset returns the first asset whose name matches pattern.
func selectAsset(assets []common.Asset, pattern string) (common.Asset, error) {
	for _, asset := range assets {
		matched, err := path.Match(pattern, asset.Name)
		if err != nil {
			return common.Asset{}, fmt.Errorf("match asset %q: %w", asset.Name, err)
		}

		if matched {
			return asset, nil
		}
	}

	return common.Asset{}, fmt.Errorf("%d assets, none matching %q: %w", len(assets), pattern, errNoFirmwareAsset)
}

// validateTag rejects tags that would escape the asset directory.
func validateTag(tag string) error {
	if tag == "" || tag == "." || tag == ".." ||
		strings.ContainsAny(tag, `/\`) || strings.ContainsRune(tag, 0) {
		return fmt.Errorf("%q: %w", tag, errUnsafeTag)
	}

	return nil
}

// applyLogLevel sets the global log level from override or the settings.
func applyLogLevel(ctx context.Context, cfg *config.Config, override string) {
	name := override
	if name == "" {
		name = cfg.LogLevel
	}

	if name == "" {
		return
	}

	level, ok := logger.ParseLogLevel(name)
	if !ok {
		logger.Warnf(ctx, "Unknown log level %q, keeping %s", name, logger.Level())
		return
	}

	logger.SetLevel(level)
}
