package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tako-update/tako/pkg/crypto"
	"github.com/tako-update/tako/pkg/manifest"
	"github.com/tako-update/tako/pkg/storage"
)

func writeImage(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "image")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func publish(t *testing.T, dir, image, version string, key crypto.SecretKey) error {
	t.Helper()
	return Store(Options{
		ImagePath: image,
		Version:   version,
		SecretKey: key,
		OutputDir: dir,
	})
}

func TestStoreWritesManifestBlobAndIndex(t *testing.T) {
	secret, public, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	out := t.TempDir()
	image := writeImage(t, "image content v1")

	require.NoError(t, publish(t, out, image, "1.0", secret))

	dir := storage.NewDir(out)
	data, err := os.ReadFile(dir.ManifestPath("1.0"))
	require.NoError(t, err)
	m, err := manifest.Decode(data)
	require.NoError(t, err)
	assert.NoError(t, m.Verify(public))
	assert.Equal(t, manifest.DigestOf([]byte("image content v1")), m.Digest)

	blob, err := os.ReadFile(dir.BlobPath(m.Digest.String()))
	require.NoError(t, err)
	assert.Equal(t, "image content v1", string(blob))

	index, err := os.ReadFile(dir.IndexPath())
	require.NoError(t, err)
	assert.Equal(t, "1.0\n", string(index))
}

func TestStoreSameVersionSameDigestIsIdempotent(t *testing.T) {
	secret, _, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	out := t.TempDir()
	image := writeImage(t, "stable content")

	require.NoError(t, publish(t, out, image, "1.0", secret))
	require.NoError(t, publish(t, out, image, "1.0", secret))

	versions, err := storage.NewDir(out).ListVersions()
	require.NoError(t, err)
	assert.Equal(t, []string{"1.0"}, versions)
}

func TestStoreSameVersionDifferentDigestFails(t *testing.T) {
	secret, _, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	out := t.TempDir()

	require.NoError(t, publish(t, out, writeImage(t, "content a"), "1.0", secret))

	err = publish(t, out, writeImage(t, "content b"), "1.0", secret)
	conflicting, ok := IsDuplicate(err)
	require.True(t, ok, "expected duplicate error, got %v", err)
	assert.Equal(t, "1.0", conflicting)

	// The original manifest and blob are untouched.
	dir := storage.NewDir(out)
	data, err := os.ReadFile(dir.ManifestPath("1.0"))
	require.NoError(t, err)
	m, err := manifest.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, manifest.DigestOf([]byte("content a")), m.Digest)
	blob, err := os.ReadFile(dir.BlobPath(m.Digest.String()))
	require.NoError(t, err)
	assert.Equal(t, "content a", string(blob))
}

func TestStoreRejectsCollidingVersionName(t *testing.T) {
	secret, _, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	out := t.TempDir()

	require.NoError(t, publish(t, out, writeImage(t, "content a"), "1.0", secret))

	// "1-0" differs from "1.0" only by separator, even with equal content.
	err = publish(t, out, writeImage(t, "content a"), "1-0", secret)
	conflicting, ok := IsDuplicate(err)
	require.True(t, ok, "expected duplicate error, got %v", err)
	assert.Equal(t, "1.0", conflicting)
}

func TestStoreSharesBlobsAcrossVersions(t *testing.T) {
	secret, _, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	out := t.TempDir()
	image := writeImage(t, "shared content")

	require.NoError(t, publish(t, out, image, "1.0", secret))
	require.NoError(t, publish(t, out, image, "1.1", secret))

	dir := storage.NewDir(out)
	blobs, err := os.ReadDir(filepath.Join(out, storage.BlobsDir))
	require.NoError(t, err)
	assert.Len(t, blobs, 1, "identical content must share one blob")

	index, err := os.ReadFile(dir.IndexPath())
	require.NoError(t, err)
	assert.Equal(t, "1.0\n1.1\n", string(index))
}

func TestStoreRejectsUnsafeVersionNames(t *testing.T) {
	secret, _, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	image := writeImage(t, "content")

	for _, bad := range []string{".hidden", "a/b"} {
		err := publish(t, t.TempDir(), image, bad, secret)
		assert.ErrorIs(t, err, storage.ErrUnsafeVersionName, "%q", bad)
	}
}

func TestStoreRejectsEmptyVersion(t *testing.T) {
	secret, _, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	err = publish(t, t.TempDir(), writeImage(t, "content"), "", secret)
	assert.Error(t, err)
}

func TestStoreMissingImageFails(t *testing.T) {
	secret, _, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	err = publish(t, t.TempDir(), "/nonexistent/image", "1.0", secret)
	assert.Error(t, err)
}
