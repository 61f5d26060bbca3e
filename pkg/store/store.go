// Package store implements the publish pipeline: it signs a new image
// version into a server directory without corrupting concurrent readers.
//
// Publishing computes the image's SHA-256 digest, refuses version
// collisions, signs a manifest over (version, digest), and writes blob,
// manifest, and index with atomic per-file writes. Re-publishing the exact
// same (version, digest) pair is an idempotent no-op; the same or a
// colliding version with a different digest is corruption and fails.
package store

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/tako-update/tako/pkg/crypto"
	"github.com/tako-update/tako/pkg/manifest"
	"github.com/tako-update/tako/pkg/storage"
	"github.com/tako-update/tako/pkg/version"
)

// DuplicateError reports a publish attempt that would redefine an existing
// version, either the same version string with different content or a
// version that differs from a published one only in separator punctuation.
type DuplicateError struct {
	// Version is the conflicting version as already present on the server.
	Version string
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("version %q is already published with different content or a colliding name", e.Version)
}

// Options are the inputs of one publish operation. The secret key is used
// for a single signing operation; the caller retains ownership and is
// responsible for wiping it.
type Options struct {
	// ImagePath is the local image file to publish.
	ImagePath string

	// Version is the raw version string to publish under.
	Version string

	// SecretKey signs the new manifest.
	SecretKey crypto.SecretKey

	// OutputDir is the server directory to publish into.
	OutputDir string

	// Logger receives progress output. Nil means silent.
	Logger *zap.Logger
}

// Store publishes one image version into the server directory.
func Store(opts Options) error {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	v, err := version.Parse(opts.Version)
	if err != nil {
		return err
	}
	if err := storage.CheckVersionName(opts.Version); err != nil {
		return err
	}

	digest, size, err := digestFile(opts.ImagePath)
	if err != nil {
		return err
	}
	logger.Info("computed image digest",
		zap.String("image", opts.ImagePath),
		zap.String("digest", digest.String()),
		zap.String("size", humanize.Bytes(uint64(size))),
	)

	dir := storage.NewDir(opts.OutputDir)
	existing, err := dir.ListVersions()
	if err != nil {
		return err
	}

	for _, raw := range existing {
		published, err := version.Parse(raw)
		if err != nil {
			// Cannot happen for non-empty file names; treat defensively
			// as a conflict rather than silently overwriting.
			return &DuplicateError{Version: raw}
		}
		switch {
		case raw == opts.Version:
			same, err := hasSameDigest(dir, raw, digest)
			if err != nil {
				return err
			}
			if same {
				// Identical (version, digest): idempotent success.
				logger.Info("version already published with identical content, nothing to do",
					zap.String("version", raw))
				return nil
			}
			return &DuplicateError{Version: raw}
		case published.Collides(v):
			return &DuplicateError{Version: raw}
		}
	}

	m := manifest.Sign(v, digest, opts.SecretKey)

	if storage.FileExists(dir.BlobPath(digest.String())) {
		logger.Info("blob already present, sharing content",
			zap.String("digest", digest.String()))
	} else if err := writeBlob(dir, digest, opts.ImagePath); err != nil {
		return err
	}

	if err := storage.AtomicWriteFile(dir.ManifestPath(opts.Version), m.Encode(), 0o644); err != nil {
		return err
	}

	if err := dir.WriteIndex(append(existing, opts.Version)); err != nil {
		return err
	}

	logger.Info("published version",
		zap.String("version", opts.Version),
		zap.String("digest", digest.String()),
		zap.String("dir", opts.OutputDir),
	)
	return nil
}

// hasSameDigest reports whether the already-published manifest for raw names
// the same content digest.
func hasSameDigest(dir storage.Dir, raw string, digest manifest.Digest) (bool, error) {
	data, err := os.ReadFile(dir.ManifestPath(raw))
	if err != nil {
		return false, fmt.Errorf("read existing manifest: %w", err)
	}
	m, err := manifest.Decode(data)
	if err != nil {
		return false, fmt.Errorf("existing manifest for %q: %w", raw, err)
	}
	return m.Digest == digest, nil
}

// digestFile computes the SHA-256 digest of a file without loading it into
// memory.
func digestFile(path string) (manifest.Digest, int64, error) {
	var digest manifest.Digest

	f, err := os.Open(path)
	if err != nil {
		return digest, 0, fmt.Errorf("open image: %w", err)
	}
	defer f.Close()

	h := sha256.New()
	size, err := io.Copy(h, f)
	if err != nil {
		return digest, 0, fmt.Errorf("read image: %w", err)
	}
	copy(digest[:], h.Sum(nil))
	return digest, size, nil
}

// writeBlob streams the image file into the blob store atomically.
func writeBlob(dir storage.Dir, digest manifest.Digest, imagePath string) error {
	src, err := os.Open(imagePath)
	if err != nil {
		return fmt.Errorf("open image: %w", err)
	}
	defer src.Close()

	dest := dir.BlobPath(digest.String())
	blobDir := filepath.Dir(dest)
	if err := storage.EnsureDir(blobDir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(blobDir, ".tmp-blob-")
	if err != nil {
		return fmt.Errorf("create temp blob: %w", err)
	}
	defer func() {
		if tmp != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	if _, err := io.Copy(tmp, src); err != nil {
		return fmt.Errorf("write blob: %w", err)
	}
	if err := storage.CommitFile(tmp, dest, 0o644); err != nil {
		return err
	}
	tmp = nil
	return nil
}

// IsDuplicate reports whether err is a publish-time version conflict and, if
// so, names the conflicting version.
func IsDuplicate(err error) (string, bool) {
	var dup *DuplicateError
	if errors.As(err, &dup) {
		return dup.Version, true
	}
	return "", false
}
