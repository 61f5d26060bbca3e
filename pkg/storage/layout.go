package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Server directory layout, written by the store engine and mirrored over
// HTTP(S) for fetch clients:
//
//	<dir>/index                published version strings, one per line
//	<dir>/manifests/<version>  one signed manifest file per version
//	<dir>/blobs/<digest>       one content blob per distinct SHA-256 digest
//
// Manifest files are named by the raw version string and blob files by the
// lowercase hex digest, so a remote client can address both with nothing but
// the index and string concatenation. Blobs are shared: two versions with
// identical content reference the same blob file.
const (
	IndexName    = "index"
	ManifestsDir = "manifests"
	BlobsDir     = "blobs"
)

// ErrUnsafeVersionName is returned when a version string cannot be used as
// a manifest file name.
var ErrUnsafeVersionName = errors.New("version is not usable as a file name")

// Dir is a server directory rooted at a local path.
type Dir struct {
	root string
}

// NewDir returns the layout for the server directory at root. The directory
// does not have to exist yet; the store engine creates it on first publish.
func NewDir(root string) Dir {
	return Dir{root: root}
}

// Root returns the directory's root path.
func (d Dir) Root() string {
	return d.root
}

// ManifestPath returns the path of the manifest file for a version.
func (d Dir) ManifestPath(rawVersion string) string {
	return filepath.Join(d.root, ManifestsDir, rawVersion)
}

// BlobPath returns the path of the blob file for a hex digest.
func (d Dir) BlobPath(hexDigest string) string {
	return filepath.Join(d.root, BlobsDir, hexDigest)
}

// IndexPath returns the path of the index file.
func (d Dir) IndexPath() string {
	return filepath.Join(d.root, IndexName)
}

// ListVersions enumerates the published versions by reading the manifests
// directory. A missing directory means nothing has been published yet.
func (d Dir) ListVersions() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(d.root, ManifestsDir))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list manifests: %w", err)
	}

	var versions []string
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		versions = append(versions, e.Name())
	}
	return versions, nil
}

// WriteIndex atomically rewrites the index file with the given versions,
// sorted byte-wise for stable output. HTTP servers have no portable
// directory enumeration, so the index is what remote clients list.
func (d Dir) WriteIndex(versions []string) error {
	sorted := append([]string(nil), versions...)
	sort.Strings(sorted)

	var b strings.Builder
	for _, v := range sorted {
		b.WriteString(v)
		b.WriteByte('\n')
	}
	return AtomicWriteFile(d.IndexPath(), []byte(b.String()), 0o644)
}

// CheckVersionName validates that a raw version string is safe to use as a
// manifest file name. Parse accepts any non-empty string, but versions
// become file names on the server, so publish restricts them to
// [A-Za-z0-9._-] with no leading dot.
func CheckVersionName(raw string) error {
	if raw == "" || raw[0] == '.' {
		return fmt.Errorf("%w: %q", ErrUnsafeVersionName, raw)
	}
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		switch {
		case c >= '0' && c <= '9':
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		case c == '.' || c == '_' || c == '-':
		default:
			return fmt.Errorf("%w: %q contains %q", ErrUnsafeVersionName, raw, c)
		}
	}
	return nil
}
