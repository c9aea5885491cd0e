package manifest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/subalpine-circuits/firmware-sync/internal/domain/release"
)

// DefaultFilePermissions is the mode of the written manifest.
const DefaultFilePermissions = 0o644

// Repository defines persistence operations for the manifest.
type Repository interface {
	Load(ctx context.Context) (*release.Manifest, error)
	Save(ctx context.Context, manifest *release.Manifest) error
}

// FileRepository persists the manifest to a JSON file on disk.
type FileRepository struct {
	// path is the filesystem location of the manifest.
	path string
	// mu serializes access to the manifest file.
	mu sync.Mutex
}

var (
	// ErrNotFound is returned when the manifest file does not exist yet.
	ErrNotFound = errors.New("manifest not found")
	// errManifestIsNotSet is returned when Save receives nil.
	errManifestIsNotSet = errors.New("manifest is not set")
)

// NewFileRepository creates a repository that reads/writes JSON at the provided path.
func NewFileRepository(path string) *FileRepository {
	return &FileRepository{
		path: filepath.Clean(path),
	}
}

// Path returns the manifest location.
func (r *FileRepository) Path() string {
	return r.path
}

// Load reads the manifest from disk.
func (r *FileRepository) Load(_ context.Context) (*release.Manifest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	contents, err := os.ReadFile(r.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}

		return nil, fmt.Errorf("read manifest: %w", err)
	}

	var manifest release.Manifest
	if err = json.Unmarshal(contents, &manifest); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}

	return &manifest, nil
}

// Save replaces the manifest on disk with the compact JSON encoding of manifest.
func (r *FileRepository) Save(_ context.Context, manifest *release.Manifest) error {
	if manifest == nil {
		return errManifestIsNotSet
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	data, err := json.Marshal(manifest)
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}

	if err = writeFileAtomically(r.path, data); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}

	return nil
}

// writeFileAtomically writes data next to path and renames it into place.
func writeFileAtomically(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".manifest-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}

	tmpName := tmp.Name()

	// Removing after a successful rename is a no-op.
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	if _, err = tmp.Write(data); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}

	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("sync temp file: %w", err)
	}

	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}

	if err = os.Chmod(tmpName, DefaultFilePermissions); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}

	if err = os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}

	return nil
}
