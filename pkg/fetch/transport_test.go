package fetch

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tako-update/tako/pkg/manifest"
	"github.com/tako-update/tako/pkg/storage"
)

func serveOrigin(t *testing.T, dir string) *HTTPTransport {
	t.Helper()
	srv := httptest.NewServer(http.FileServer(http.Dir(dir)))
	t.Cleanup(srv.Close)
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	return NewHTTPTransport(u)
}

func TestHTTPTransportAgainstStaticFileServer(t *testing.T) {
	origin := newTestOrigin(t)
	origin.publish(t, "1.0", "http served content")
	transport := serveOrigin(t, origin.dir)
	ctx := context.Background()

	versions, err := transport.ListVersions(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"1.0"}, versions)

	data, err := transport.FetchManifest(ctx, "1.0")
	require.NoError(t, err)
	m, err := manifest.Decode(data)
	require.NoError(t, err)
	require.NoError(t, m.Verify(origin.public))

	body, err := transport.FetchBlob(ctx, m.Digest.String())
	require.NoError(t, err)
	defer body.Close()
	blob, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, "http served content", string(blob))
}

func TestHTTPTransportMissingIndexMeansEmptyOrigin(t *testing.T) {
	transport := serveOrigin(t, t.TempDir())

	versions, err := transport.ListVersions(context.Background())
	require.NoError(t, err)
	assert.Empty(t, versions)
}

func TestHTTPTransportMissingManifestIsDownloadError(t *testing.T) {
	transport := serveOrigin(t, t.TempDir())

	_, err := transport.FetchManifest(context.Background(), "9.9")
	var derr *DownloadError
	assert.ErrorAs(t, err, &derr)
}

func TestHTTPTransportServerErrorIsDownloadError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	transport := NewHTTPTransport(u)

	_, err = transport.ListVersions(context.Background())
	var derr *DownloadError
	require.ErrorAs(t, err, &derr)
	assert.Contains(t, derr.Error(), "500")
}

func TestHTTPTransportOriginWithSubPath(t *testing.T) {
	origin := newTestOrigin(t)
	origin.publish(t, "1.0", "nested content")

	// Serve the parent so the origin URI has a non-root path component.
	parent := filepath.Dir(origin.dir)
	srv := httptest.NewServer(http.FileServer(http.Dir(parent)))
	t.Cleanup(srv.Close)
	u, err := url.Parse(srv.URL + "/" + filepath.Base(origin.dir))
	require.NoError(t, err)
	transport := NewHTTPTransport(u)

	versions, err := transport.ListVersions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"1.0"}, versions)
}

func TestDirTransportFallsBackToManifestEnumeration(t *testing.T) {
	origin := newTestOrigin(t)
	origin.publish(t, "1.0", "content")
	origin.publish(t, "1.1", "content")
	require.NoError(t, os.Remove(storage.NewDir(origin.dir).IndexPath()))

	transport := NewDirTransport(origin.dir)
	versions, err := transport.ListVersions(context.Background())
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"1.0", "1.1"}, versions)
}

func TestDirTransportRejectsUnsafeNames(t *testing.T) {
	transport := NewDirTransport(t.TempDir())
	ctx := context.Background()

	_, err := transport.FetchManifest(ctx, "../escape")
	assert.Error(t, err)
	_, err = transport.FetchBlob(ctx, "../../etc/passwd")
	assert.Error(t, err)
}

func TestNewTransportSchemeSelection(t *testing.T) {
	httpURL, _ := url.Parse("https://images.example.com/app")
	tr, err := NewTransport(httpURL)
	require.NoError(t, err)
	assert.IsType(t, &HTTPTransport{}, tr)

	fileURL, _ := url.Parse("file:///srv/images/app")
	tr, err = NewTransport(fileURL)
	require.NoError(t, err)
	assert.IsType(t, &DirTransport{}, tr)

	ftpURL, _ := url.Parse("ftp://example.com/app")
	_, err = NewTransport(ftpURL)
	assert.Error(t, err)
}
