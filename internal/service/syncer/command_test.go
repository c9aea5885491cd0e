package syncer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/subalpine-circuits/firmware-sync/internal/config"
	"github.com/subalpine-circuits/firmware-sync/internal/domain/release"
	"github.com/subalpine-circuits/firmware-sync/internal/repository/manifest"
	"github.com/subalpine-circuits/firmware-sync/internal/service/common"
)

// twoReleases returns the fixture used by most tests.
func twoReleases() []fakeRelease {
	return []fakeRelease{
		{
			id:        2,
			tag:       "v1.1.0",
			body:      "Filter fixes",
			published: "2024-04-02T10:00:00Z",
			assets: []fakeAsset{
				{id: 21, name: "notes.txt", content: "not firmware"},
				{id: 22, name: "synth-engine.bin", content: "firmware-1.1.0"},
			},
		},
		{
			id:        1,
			tag:       "v1.0.0",
			body:      "First release",
			published: "2024-03-01T10:00:00Z",
			assets: []fakeAsset{
				{id: 11, name: "synth-engine.bin", content: "firmware-1.0.0"},
			},
		},
	}
}

// testConfig returns validated settings writing into a fresh directory.
func testConfig(t *testing.T, apiURL string) *config.Config {
	t.Helper()

	dir := t.TempDir()

	cfg := config.Default()
	cfg.Owner = testOwner
	cfg.Repo = testRepo
	cfg.APIURL = apiURL
	cfg.AssetDir = filepath.Join(dir, "firmware")
	cfg.ManifestFile = filepath.Join(dir, "firmware", "manifest.json")
	require.NoError(t, config.Validate(cfg))

	return cfg
}

// syncOnce runs one complete sync against cfg.
func syncOnce(t *testing.T, cfg *config.Config) (*Summary, error) {
	t.Helper()

	return syncWithContext(t, context.Background(), cfg)
}

// syncWithContext runs one sync against cfg whose release work is bound to ctx.
func syncWithContext(t *testing.T, ctx context.Context, cfg *config.Config) (*Summary, error) {
	t.Helper()

	client, err := common.NewClient(cfg.Owner, cfg.Repo, testToken,
		common.WithBaseURL(cfg.APIURL),
		common.WithPageSize(cfg.PerPage),
	)
	require.NoError(t, err)

	u, err := newRunner(context.Background(), cfg, client)
	require.NoError(t, err)

	defer u.cleanup(context.Background())

	return u.Run(ctx)
}

func loadManifest(t *testing.T, cfg *config.Config) *release.Manifest {
	t.Helper()

	m, err := manifest.NewFileRepository(cfg.ManifestFile).Load(context.Background())
	require.NoError(t, err)

	return m
}

func sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))

	return hex.EncodeToString(sum[:])
}

// TestRunner_SyncsAllReleases checks records, files and checksums for a clean run.
func TestRunner_SyncsAllReleases(t *testing.T) {
	t.Parallel()

	api := newFakeGitHub(twoReleases()...)
	cfg := testConfig(t, api.start(t))

	summary, err := syncOnce(t, cfg)
	require.NoError(t, err)
	require.Equal(t, 2, summary.Total)
	require.Equal(t, 2, summary.Synced)
	require.Empty(t, summary.Failed)

	m := loadManifest(t, cfg)
	require.Len(t, m.Releases, 2)

	type key struct {
		ID       int64
		Tag      string
		Filename string
		Notes    string
	}

	got := make([]key, 0, len(m.Releases))
	for _, r := range m.Releases {
		got = append(got, key{r.ID, r.Tag, r.Filename, r.ReleaseNotes})

		require.Len(t, r.Commit, release.ShortCommitLength)
		require.Equal(t, commitFor(r.Tag)[:release.ShortCommitLength], r.Commit)
		require.Equal(t, release.FirmwareFilename(config.DefaultProduct, r.Tag), r.Filename)
		require.Equal(t, "SA-01_"+r.Tag+".bin", r.Filename)

		data, readErr := os.ReadFile(filepath.Join(cfg.AssetDir, r.Filename))
		require.NoError(t, readErr)
		require.Equal(t, "firmware-"+r.Tag[1:], string(data))
		require.Equal(t, sha256Hex(string(data)), r.SHA256)
	}

	require.ElementsMatch(t, []key{
		{2, "v1.1.0", "SA-01_v1.1.0.bin", "Filter fixes"},
		{1, "v1.0.0", "SA-01_v1.0.0.bin", "First release"},
	}, got)

	// Newest first.
	require.Equal(t, "v1.1.0", m.Releases[0].Tag)

	// The run marker is gone.
	_, err = os.Stat(filepath.Join(cfg.AssetDir, LockFilename))
	require.ErrorIs(t, err, os.ErrNotExist)
}

// TestRunner_RerunOverwritesManifest verifies that a second run does not duplicate records.
func TestRunner_RerunOverwritesManifest(t *testing.T) {
	t.Parallel()

	api := newFakeGitHub(twoReleases()...)
	cfg := testConfig(t, api.start(t))

	_, err := syncOnce(t, cfg)
	require.NoError(t, err)

	first := loadManifest(t, cfg)

	_, err = syncOnce(t, cfg)
	require.NoError(t, err)

	second := loadManifest(t, cfg)
	require.Len(t, second.Releases, 2)
	require.Equal(t, first, second)
}

// TestRunner_CancelledKeepsManifest ensures an interrupted run leaves the previous manifest untouched.
func TestRunner_CancelledKeepsManifest(t *testing.T) {
	t.Parallel()

	api := newFakeGitHub(twoReleases()...)
	cfg := testConfig(t, api.start(t))

	_, err := syncOnce(t, cfg)
	require.NoError(t, err)

	before, err := os.ReadFile(cfg.ManifestFile)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	api.mu.Lock()
	api.onDetail = cancel
	api.mu.Unlock()

	summary, err := syncWithContext(t, ctx, cfg)
	require.ErrorIs(t, err, context.Canceled)
	require.NotErrorIs(t, err, ErrPartialSync)
	require.Nil(t, summary)

	after, err := os.ReadFile(cfg.ManifestFile)
	require.NoError(t, err)
	require.Equal(t, before, after)
}

// TestRunner_FailFast_DetailFailure leaves no manifest when one detail request fails.
func TestRunner_FailFast_DetailFailure(t *testing.T) {
	t.Parallel()

	api := newFakeGitHub(twoReleases()...)
	api.failDetail[1] = true

	cfg := testConfig(t, api.start(t))
	cfg.FailFast = true

	_, err := syncOnce(t, cfg)
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrPartialSync)

	_, err = os.Stat(cfg.ManifestFile)
	require.ErrorIs(t, err, os.ErrNotExist)
}

// TestRunner_FailFast_TagFailure keeps the previous manifest untouched.
func TestRunner_FailFast_TagFailure(t *testing.T) {
	t.Parallel()

	api := newFakeGitHub(twoReleases()...)
	cfg := testConfig(t, api.start(t))

	_, err := syncOnce(t, cfg)
	require.NoError(t, err)

	before, err := os.ReadFile(cfg.ManifestFile)
	require.NoError(t, err)

	api.mu.Lock()
	api.failTag["v1.1.0"] = true
	api.mu.Unlock()

	cfg.FailFast = true

	_, err = syncOnce(t, cfg)
	require.Error(t, err)

	after, err := os.ReadFile(cfg.ManifestFile)
	require.NoError(t, err)
	require.Equal(t, before, after)
}

// TestRunner_BestEffort_PartialFailure writes the successful releases and reports the rest.
func TestRunner_BestEffort_PartialFailure(t *testing.T) {
	t.Parallel()

	releases := append(twoReleases(), fakeRelease{
		id:        3,
		tag:       "v1.2.0",
		published: "2024-05-01T10:00:00Z",
		assets:    []fakeAsset{{id: 31, name: "synth-engine.bin", content: "firmware-1.2.0"}},
	})

	api := newFakeGitHub(releases...)
	api.failDetail[2] = true
	api.failTag["v1.2.0"] = true

	cfg := testConfig(t, api.start(t))

	summary, err := syncOnce(t, cfg)
	require.ErrorIs(t, err, ErrPartialSync)
	require.Equal(t, 3, summary.Total)
	require.Equal(t, 1, summary.Synced)
	require.Len(t, summary.Failed, 2)
	require.Contains(t, summary.Failed, int64(2))
	require.Contains(t, summary.Failed, int64(3))

	m := loadManifest(t, cfg)
	require.Len(t, m.Releases, 1)
	require.Equal(t, int64(1), m.Releases[0].ID)
}

// TestRunner_AssetDownloadFailure drops the record and writes no binary.
func TestRunner_AssetDownloadFailure(t *testing.T) {
	t.Parallel()

	releases := twoReleases()
	releases[0].assets[1].status = http.StatusNotFound

	api := newFakeGitHub(releases...)
	cfg := testConfig(t, api.start(t))

	summary, err := syncOnce(t, cfg)
	require.ErrorIs(t, err, ErrPartialSync)
	require.Contains(t, summary.Failed, int64(2))

	m := loadManifest(t, cfg)
	require.Len(t, m.Releases, 1)
	require.Equal(t, "v1.0.0", m.Releases[0].Tag)

	_, err = os.Stat(filepath.Join(cfg.AssetDir, "SA-01_v1.1.0.bin"))
	require.ErrorIs(t, err, os.ErrNotExist)

	for _, r := range m.Releases {
		_, err = os.Stat(filepath.Join(cfg.AssetDir, r.Filename))
		require.NoError(t, err)
	}
}

// TestRunner_NoMatchingAsset fails a release without a firmware binary explicitly.
func TestRunner_NoMatchingAsset(t *testing.T) {
	t.Parallel()

	api := newFakeGitHub(
		fakeRelease{id: 5, tag: "v0.9.0", assets: []fakeAsset{{id: 51, name: "readme.md", content: "x"}}},
		fakeRelease{id: 6, tag: "v0.8.0"},
	)
	cfg := testConfig(t, api.start(t))

	summary, err := syncOnce(t, cfg)
	require.ErrorIs(t, err, ErrPartialSync)
	require.ErrorIs(t, summary.Failed[5], errNoFirmwareAsset)
	require.ErrorIs(t, summary.Failed[6], errNoFirmwareAsset)

	m := loadManifest(t, cfg)
	require.Empty(t, m.Releases)
}

// TestRunner_ListFailure aborts before anything is written.
func TestRunner_ListFailure(t *testing.T) {
	t.Parallel()

	api := newFakeGitHub(twoReleases()...)
	api.failList = true

	cfg := testConfig(t, api.start(t))

	_, err := syncOnce(t, cfg)
	require.Error(t, err)

	_, err = os.Stat(cfg.ManifestFile)
	require.ErrorIs(t, err, os.ErrNotExist)
}

// TestRun_UsesSettingsAndToken drives the public entry point with a settings file.
func TestRun_UsesSettingsAndToken(t *testing.T) {
	api := newFakeGitHub(twoReleases()...)
	cfg := testConfig(t, api.start(t))
	cfg.TokenEnv = "FIRMWARE_SYNC_TEST_TOKEN"

	settingsPath := filepath.Join(t.TempDir(), config.DefaultConfigFilename)
	require.NoError(t, config.Save(settingsPath, cfg))

	// Missing token.
	t.Setenv(cfg.TokenEnv, "")

	err := Run(context.Background(), &Options{ConfigPath: settingsPath})
	require.Error(t, err)

	t.Setenv(cfg.TokenEnv, testToken)

	err = Run(context.Background(), &Options{ConfigPath: settingsPath})
	require.NoError(t, err)
	require.Len(t, loadManifest(t, cfg).Releases, 2)

	// Fail-fast override from the command line.
	api.mu.Lock()
	api.failDetail[1] = true
	api.mu.Unlock()

	require.NoError(t, os.Remove(cfg.ManifestFile))

	err = Run(context.Background(), &Options{ConfigPath: settingsPath, FailFast: true})
	require.Error(t, err)

	_, err = os.Stat(cfg.ManifestFile)
	require.ErrorIs(t, err, os.ErrNotExist)
}
