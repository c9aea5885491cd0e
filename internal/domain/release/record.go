package release

import (
	"cmp"
	"slices"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
)

// ShortCommitLength is the length of the abbreviated commit SHA.
const ShortCommitLength = 7

// firmwareExtension is appended to every firmware filename.
const firmwareExtension = ".bin"

// Record describes one synced firmware release.
type Record struct {
	// ID is the GitHub release id.
	ID int64 `json:"id"`
	// Tag is the git tag of the release.
	Tag string `json:"tag"`
	// Filename is the firmware binary name inside the asset directory.
	Filename string `json:"filename"`
	// ReleaseNotes is the release body as written on GitHub.
	ReleaseNotes string `json:"releaseNotes"`
	// PublishDate is when the release was published.
	PublishDate time.Time `json:"publishDate"`
	// Commit is the abbreviated SHA of the tagged commit.
	Commit string `json:"commit"`
	// SHA256 is the hex digest of the firmware binary.
	SHA256 string `json:"sha256,omitempty"`
}

// Manifest is the document consumed by the front-end.
type Manifest struct {
	Releases []*Record `json:"releases"`
}

// NewManifest returns a manifest holding records in display order.
func NewManifest(records []*Record) *Manifest {
	sorted := slices.Clone(records)
	if sorted == nil {
		sorted = []*Record{}
	}

	SortRecords(sorted)

	return &Manifest{Releases: sorted}
}

// FirmwareFilename returns the binary name for a tag, e.g. SA-01_v1.2.0.bin.
func FirmwareFilename(product, tag string) string {
	return product + "_" + tag + firmwareExtension
}

// ShortCommit abbreviates a full commit SHA.
func ShortCommit(sha string) string {
	if len(sha) <= ShortCommitLength {
		return sha
	}

	return sha[:ShortCommitLength]
}

// SortRecords orders records newest first. Records published at the same
// time are ordered by descending tag version, then by tag text.
func SortRecords(records []*Record) {
	slices.SortStableFunc(records, func(a, b *Record) int {
		if c := b.PublishDate.Compare(a.PublishDate); c != 0 {
			return c
		}

		if c := compareTags(b.Tag, a.Tag); c != 0 {
			return c
		}

		return cmp.Compare(a.Tag, b.Tag)
	})
}

// compareTags compares two tags as semantic versions when both parse.
// Version-like tags sort above anything else.
func compareTags(a, b string) int {
	av, aErr := semver.NewVersion(strings.TrimSpace(a))
	bv, bErr := semver.NewVersion(strings.TrimSpace(b))

	switch {
	case aErr == nil && bErr == nil:
		return av.Compare(bv)
	case aErr == nil:
		return 1
	case bErr == nil:
		return -1
	default:
		return 0
	}
}
