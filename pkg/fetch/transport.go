package fetch

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tako-update/tako/pkg/storage"
)

// Transport retrieves bytes from an origin server directory. It is the
// boundary between the fetch engine and the network: implementations own
// their timeouts and surface every fault as a DownloadError.
type Transport interface {
	// ListVersions enumerates the versions the origin claims to publish.
	// An origin with nothing published returns an empty list, not an
	// error.
	ListVersions(ctx context.Context) ([]string, error)

	// FetchManifest retrieves the manifest file for one listed version.
	FetchManifest(ctx context.Context, rawVersion string) ([]byte, error)

	// FetchBlob opens the content blob for a hex digest for streaming.
	// The caller must close the reader.
	FetchBlob(ctx context.Context, hexDigest string) (io.ReadCloser, error)
}

// DownloadError is a transport fault: connection failure, timeout, or an
// unexpected status from the origin.
type DownloadError struct {
	// URL is the resource that failed.
	URL string

	// Err is the underlying cause.
	Err error
}

func (e *DownloadError) Error() string {
	return fmt.Sprintf("download %s: %v", e.URL, e.Err)
}

func (e *DownloadError) Unwrap() error {
	return e.Err
}

// defaultHTTPTimeout bounds one request. Downloads stream, so this covers
// headers, not the whole body transfer.
const defaultHTTPTimeout = 30 * time.Second

// NewTransport selects a transport for an origin URI: http and https map to
// HTTPTransport, file to DirTransport.
func NewTransport(origin *url.URL) (Transport, error) {
	switch origin.Scheme {
	case "http", "https":
		return NewHTTPTransport(origin), nil
	case "file":
		return NewDirTransport(origin.Path), nil
	default:
		return nil, fmt.Errorf("unsupported origin scheme %q", origin.Scheme)
	}
}

// HTTPTransport fetches from a server directory exposed over HTTP(S) by any
// static file server.
type HTTPTransport struct {
	origin *url.URL
	client *http.Client
}

// NewHTTPTransport returns a transport for an http or https origin.
func NewHTTPTransport(origin *url.URL) *HTTPTransport {
	return &HTTPTransport{
		origin: origin,
		client: &http.Client{
			Transport: &http.Transport{
				ResponseHeaderTimeout: defaultHTTPTimeout,
			},
		},
	}
}

// ListVersions downloads and parses the origin's index file. A missing
// index (404) means nothing is published yet.
func (t *HTTPTransport) ListVersions(ctx context.Context) ([]string, error) {
	body, err := t.get(ctx, storage.IndexName)
	if err != nil {
		var derr *DownloadError
		if errors.As(err, &derr) && errors.Is(derr.Err, errNotFound) {
			return nil, nil
		}
		return nil, err
	}
	defer body.Close()
	return parseIndex(body)
}

// FetchManifest downloads the manifest file for one version.
func (t *HTTPTransport) FetchManifest(ctx context.Context, rawVersion string) ([]byte, error) {
	if err := checkRemoteName(rawVersion); err != nil {
		return nil, &DownloadError{URL: rawVersion, Err: err}
	}
	body, err := t.get(ctx, storage.ManifestsDir+"/"+rawVersion)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	data, err := io.ReadAll(io.LimitReader(body, maxManifestSize))
	if err != nil {
		return nil, &DownloadError{URL: t.resolve(storage.ManifestsDir + "/" + rawVersion), Err: err}
	}
	return data, nil
}

// FetchBlob opens the blob for a digest for streaming.
func (t *HTTPTransport) FetchBlob(ctx context.Context, hexDigest string) (io.ReadCloser, error) {
	if err := checkRemoteName(hexDigest); err != nil {
		return nil, &DownloadError{URL: hexDigest, Err: err}
	}
	return t.get(ctx, storage.BlobsDir+"/"+hexDigest)
}

// checkRemoteName refuses names from a remote listing that could address
// anything outside the expected directory.
func checkRemoteName(name string) error {
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return fmt.Errorf("unsafe name %q in remote listing", name)
	}
	return nil
}

// maxManifestSize bounds a manifest download. Manifests are four short
// lines; anything near this limit is garbage.
const maxManifestSize = 64 * 1024

var errNotFound = errors.New("not found")

func (t *HTTPTransport) resolve(rel string) string {
	u := *t.origin
	u.Path = strings.TrimSuffix(u.Path, "/") + "/" + rel
	return u.String()
}

func (t *HTTPTransport) get(ctx context.Context, rel string) (io.ReadCloser, error) {
	target := t.resolve(rel)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, &DownloadError{URL: target, Err: err}
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, &DownloadError{URL: target, Err: err}
	}
	switch {
	case resp.StatusCode == http.StatusOK:
		return resp.Body, nil
	case resp.StatusCode == http.StatusNotFound:
		resp.Body.Close()
		return nil, &DownloadError{URL: target, Err: errNotFound}
	default:
		resp.Body.Close()
		return nil, &DownloadError{URL: target, Err: fmt.Errorf("unexpected status %s", resp.Status)}
	}
}

// DirTransport reads a server directory on the local filesystem, for
// file:// origins and local mirrors.
type DirTransport struct {
	dir storage.Dir
}

// NewDirTransport returns a transport over a local server directory.
func NewDirTransport(root string) *DirTransport {
	return &DirTransport{dir: storage.NewDir(root)}
}

// ListVersions prefers the index file and falls back to enumerating the
// manifests directory, so a hand-maintained mirror without an index still
// works.
func (t *DirTransport) ListVersions(_ context.Context) ([]string, error) {
	f, err := os.Open(t.dir.IndexPath())
	if errors.Is(err, os.ErrNotExist) {
		return t.dir.ListVersions()
	}
	if err != nil {
		return nil, &DownloadError{URL: t.dir.IndexPath(), Err: err}
	}
	defer f.Close()
	return parseIndex(f)
}

// FetchManifest reads the manifest file for one version.
func (t *DirTransport) FetchManifest(_ context.Context, rawVersion string) ([]byte, error) {
	// Version strings come from the remote listing; refuse anything that
	// could escape the manifests directory.
	if rawVersion != filepath.Base(rawVersion) || strings.HasPrefix(rawVersion, ".") {
		return nil, &DownloadError{URL: rawVersion, Err: errors.New("unsafe version name in listing")}
	}
	data, err := os.ReadFile(t.dir.ManifestPath(rawVersion))
	if err != nil {
		return nil, &DownloadError{URL: t.dir.ManifestPath(rawVersion), Err: err}
	}
	return data, nil
}

// FetchBlob opens the blob file for a digest.
func (t *DirTransport) FetchBlob(_ context.Context, hexDigest string) (io.ReadCloser, error) {
	if hexDigest != filepath.Base(hexDigest) || strings.HasPrefix(hexDigest, ".") {
		return nil, &DownloadError{URL: hexDigest, Err: errors.New("unsafe digest name")}
	}
	f, err := os.Open(t.dir.BlobPath(hexDigest))
	if err != nil {
		return nil, &DownloadError{URL: t.dir.BlobPath(hexDigest), Err: err}
	}
	return f, nil
}

// parseIndex reads one version string per line, skipping blanks.
func parseIndex(r io.Reader) ([]string, error) {
	var versions []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			versions = append(versions, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, &DownloadError{URL: storage.IndexName, Err: err}
	}
	return versions, nil
}
