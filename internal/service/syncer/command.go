package syncer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"

	"golang.org/x/sync/errgroup"

	"github.com/subalpine-circuits/firmware-sync/internal/config"
	"github.com/subalpine-circuits/firmware-sync/internal/domain/release"
	"github.com/subalpine-circuits/firmware-sync/internal/logger"
	"github.com/subalpine-circuits/firmware-sync/internal/repository/manifest"
	"github.com/subalpine-circuits/firmware-sync/internal/service/common"
)

// Options are inputs accepted by the sync entry point.
type Options struct {
	// ConfigPath is the optional path to the settings YAML file.
	ConfigPath string
	// FailFast forces all-or-nothing mode regardless of the settings file.
	FailFast bool
	// LogLevel overrides the log_level setting when not empty.
	LogLevel string
}

// Summary reports the result of one sync.
type Summary struct {
	// Total is the number of releases returned by the listing.
	Total int
	// Synced is the number of records written to the manifest.
	Synced int
	// Failed maps release ids to the reason they were left out.
	Failed map[int64]error
}

// outcome is the result of one release, stored at its listing position.
type outcome struct {
	summary *common.Release
	record  *release.Record
	err     error
}

// runner holds the state of a single sync execution.
// It is unexported; callers use Run.
type runner struct {
	cfg        *config.Config
	source     releaseSource
	repository manifest.Repository
	downloader *downloader
	lock       *runLock
}

// Run executes the sync and is the public entry point for the CLI.
func Run(ctx context.Context, opts *Options) error {
	ctx = logger.WithName(ctx, "firmware-sync")

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return err
	}

	applyLogLevel(ctx, cfg, opts.LogLevel)

	if opts.FailFast {
		cfg.FailFast = true
	}

	token, err := cfg.Token()
	if err != nil {
		return err
	}

	source, err := common.NewClient(cfg.Owner, cfg.Repo, token,
		common.WithBaseURL(cfg.APIURL),
		common.WithCallTimeout(cfg.Timeout),
		common.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}),
		common.WithPageSize(cfg.PerPage),
	)
	if err != nil {
		return err
	}

	u, err := newRunner(ctx, cfg, source)
	if err != nil {
		return err
	}

	defer u.cleanup(ctx)

	summary, err := u.Run(ctx)
	if err != nil {
		logger.ErrorKV(ctx, "Sync failed", "error", err)
		return err
	}

	logger.InfoKV(ctx, "Sync completed", "synced", summary.Synced, "total", summary.Total)

	return nil
}

// newRunner takes the run marker and prepares the staging directory.
func newRunner(ctx context.Context, cfg *config.Config, source releaseSource) (*runner, error) {
	lock, err := acquireLock(ctx, cfg.AssetDir)
	if err != nil {
		return nil, err
	}

	temporaryDirectory, err := os.MkdirTemp("", temporaryDirectoryPattern)
	if err != nil {
		lock.release()

		return nil, fmt.Errorf("create staging directory: %w", err)
	}

	return &runner{
		cfg:        cfg,
		source:     source,
		repository: manifest.NewFileRepository(cfg.ManifestFile),
		downloader: &downloader{
			source:             source,
			assetDirectory:     cfg.AssetDir,
			temporaryDirectory: temporaryDirectory,
		},
		lock: lock,
	}, nil
}

// Run lists the releases, syncs each of them and writes the manifest.
// In fail-fast mode the first failure aborts the run before the manifest is
// written. Otherwise the manifest holds every synced release and the returned
// error wraps ErrPartialSync when some releases failed.
func (u *runner) Run(ctx context.Context) (*Summary, error) {
	logger.InfoKV(ctx, "Listing releases",
		"repository", u.cfg.Owner+"/"+u.cfg.Repo, "max_pages", u.cfg.MaxPages)

	summaries, err := u.source.ListReleases(ctx, u.cfg.MaxPages)
	if err != nil {
		return nil, fmt.Errorf("list releases: %w", err)
	}

	outcomes, err := u.syncAll(ctx, summaries)
	if err != nil {
		return nil, fmt.Errorf("sync aborted, manifest not written: %w", err)
	}

	// Releases cut short by cancellation are not failures; keep the old manifest.
	if err = ctx.Err(); err != nil {
		return nil, fmt.Errorf("sync interrupted, manifest not written: %w", err)
	}

	summary := &Summary{
		Total:  len(summaries),
		Failed: make(map[int64]error),
	}

	records := make([]*release.Record, 0, len(outcomes))
	failures := make([]error, 0)

	for _, o := range outcomes {
		if o.err != nil {
			summary.Failed[o.summary.ID] = o.err
			failures = append(failures, fmt.Errorf("release %d: %w", o.summary.ID, o.err))

			continue
		}

		records = append(records, o.record)
	}

	summary.Synced = len(records)

	if err = u.repository.Save(ctx, release.NewManifest(records)); err != nil {
		return summary, err
	}

	logger.InfoKV(ctx, "Manifest written",
		"path", u.cfg.ManifestFile, "synced", summary.Synced, "total", summary.Total)

	if len(failures) > 0 {
		return summary, fmt.Errorf("%w: synced %d of %d: %w",
			ErrPartialSync, summary.Synced, summary.Total, errors.Join(failures...))
	}

	return summary, nil
}

// syncAll processes every release on a bounded number of goroutines. Each
// goroutine only writes its own slot, so the result keeps the listing order.
func (u *runner) syncAll(ctx context.Context, summaries []*common.Release) ([]outcome, error) {
	var (
		outcomes = make([]outcome, len(summaries))
		group    *errgroup.Group
		groupCtx = ctx
	)

	if u.cfg.FailFast {
		group, groupCtx = errgroup.WithContext(ctx)
	} else {
		group = new(errgroup.Group)
	}

	group.SetLimit(u.cfg.Concurrency)

	for i, summary := range summaries {
		group.Go(func() error {
			releaseCtx := logger.WithKV(groupCtx, "release", summary.ID)

			record, err := u.syncRelease(releaseCtx, summary)
			outcomes[i] = outcome{summary: summary, record: record, err: err}

			if err != nil {
				if groupCtx.Err() == nil {
					logger.ErrorKV(releaseCtx, "Release not synced", "error", err)
				}

				if u.cfg.FailFast {
					return fmt.Errorf("release %d: %w", summary.ID, err)
				}
			}

			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return nil, err
	}

	return outcomes, nil
}

// syncRelease fetches the detail of one release, resolves its commit and
// installs its firmware. The record is only returned once the binary is on disk.
func (u *runner) syncRelease(ctx context.Context, summary *common.Release) (*release.Record, error) {
	detail, err := u.source.GetRelease(ctx, summary.ID)
	if err != nil {
		return nil, err
	}

	ctx = logger.WithKV(ctx, "tag", detail.Tag)

	if err = validateTag(detail.Tag); err != nil {
		return nil, err
	}

	commitSHA, err := u.source.ResolveTagCommit(ctx, detail.Tag)
	if err != nil {
		return nil, err
	}

	asset, err := selectAsset(detail.Assets, u.cfg.AssetPattern)
	if err != nil {
		return nil, err
	}

	filename := release.FirmwareFilename(u.cfg.Product, detail.Tag)

	checksum, err := u.downloader.fetch(ctx, asset, filename)
	if err != nil {
		return nil, err
	}

	record := &release.Record{
		ID:           detail.ID,
		Tag:          detail.Tag,
		Filename:     filename,
		ReleaseNotes: detail.Body,
		PublishDate:  detail.PublishedAt,
		Commit:       release.ShortCommit(commitSHA),
		SHA256:       checksum,
	}

	logger.InfoKV(ctx, "Release synced", "filename", filename, "commit", record.Commit)

	return record, nil
}

// cleanup removes the staging directory and the run marker.
func (u *runner) cleanup(ctx context.Context) {
	if u.downloader != nil && u.downloader.temporaryDirectory != "" {
		_ = os.RemoveAll(u.downloader.temporaryDirectory)
	}

	u.lock.release()

	logger.Debug(ctx, "Sync stopped")
}
