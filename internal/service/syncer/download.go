package syncer

import (
	"context"
	"crypto"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	goupdate "github.com/doitdistributed/go-update"

	"github.com/subalpine-circuits/firmware-sync/internal/logger"
	"github.com/subalpine-circuits/firmware-sync/internal/service/common"
)

// downloader stages release assets in a temporary directory and installs
// them into the asset directory once their checksum is known.
type downloader struct {
	source             releaseSource
	assetDirectory     string
	temporaryDirectory string
}

// fetch downloads asset and installs it as filename. It returns the hex SHA-256
// of the installed binary. Nothing is installed when any step fails.
func (d *downloader) fetch(ctx context.Context, asset common.Asset, filename string) (string, error) {
	stagedFile, checksum, err := d.stage(ctx, asset)
	if err != nil {
		return "", err
	}

	defer func() {
		_ = os.Remove(stagedFile)
	}()

	target := filepath.Join(d.assetDirectory, filename)

	if err = install(stagedFile, target, checksum); err != nil {
		return "", fmt.Errorf("install %s: %w", filename, err)
	}

	logger.DebugKV(ctx, "Installed firmware", "path", target, "asset", asset.Name)

	return hex.EncodeToString(checksum), nil
}

// stage streams the asset body into a temporary file while hashing it.
func (d *downloader) stage(ctx context.Context, asset common.Asset) (string, []byte, error) {
	body, err := d.source.DownloadAsset(ctx, asset.ID)
	if err != nil {
		return "", nil, err
	}

	defer func() {
		_ = body.Close()
	}()

	stagedFile, err := os.CreateTemp(d.temporaryDirectory, "asset-*.bin")
	if err != nil {
		return "", nil, err
	}

	var (
		hasher  = sha256.New()
		written int64
	)

	written, err = io.Copy(io.MultiWriter(stagedFile, hasher), body)
	if closeErr := stagedFile.Close(); err == nil {
		err = closeErr
	}

	if err == nil && asset.Size > 0 && written != int64(asset.Size) {
		err = fmt.Errorf("%s: got %d of %d bytes: %w", asset.Name, written, asset.Size, errSizeMismatch)
	}

	if err != nil {
		_ = os.Remove(stagedFile.Name())

		return "", nil, fmt.Errorf("stream asset %s: %w", asset.Name, err)
	}

	return stagedFile.Name(), hasher.Sum(nil), nil
}

// install replaces target with stagedFile using go-update, which verifies
// checksum and swaps the files with a rename.
func install(stagedFile, target string, checksum []byte) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}

	// go-update renames the current target out of the way, so it has to exist.
	createdPlaceholder := false

	if _, err := os.Stat(target); errors.Is(err, os.ErrNotExist) {
		placeholder, createErr := os.OpenFile(target, os.O_CREATE|os.O_WRONLY, DefaultFileMode)
		if createErr != nil {
			return createErr
		}

		_ = placeholder.Close()
		createdPlaceholder = true
	} else if err != nil {
		return err
	}

	data, err := os.Open(filepath.Clean(stagedFile))
	if err != nil {
		return err
	}

	defer func() {
		_ = data.Close()
	}()

	options := goupdate.Options{
		TargetPath: target,
		TargetMode: DefaultFileMode,
		Checksum:   checksum,
		Hash:       crypto.SHA256,
	}

	if err = goupdate.Apply(data, options); err != nil {
		if createdPlaceholder {
			_ = os.Remove(target)
		}

		return err
	}

	return nil
}
