// Package fetch implements the client side of tako: it retrieves candidate
// manifests from an origin, verifies them against the pinned public key,
// selects the newest version, downloads and digest-checks the image blob,
// installs it atomically, and restarts dependent service units.
//
// The engine is an explicit state machine:
//
//	Idle → Listing → Selecting → NoCandidate
//	                           ↘ Downloading → VerifyingDigest →
//	                             Installing → RestartingUnits → Done
//
// Each transition is its own method, so pre- and post-conditions can be
// tested in isolation. One engine value drives one fetch invocation; it is
// not reusable.
package fetch

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/tako-update/tako/pkg/config"
	"github.com/tako-update/tako/pkg/manifest"
	"github.com/tako-update/tako/pkg/storage"
	"github.com/tako-update/tako/pkg/version"
)

// State names the engine's position in the fetch state machine.
type State int

const (
	StateIdle State = iota
	StateListing
	StateSelecting
	StateDownloading
	StateVerifyingDigest
	StateInstalling
	StateRestartingUnits

	// Terminal states.
	StateDone
	StateNoCandidate
)

var stateNames = map[State]string{
	StateIdle:            "idle",
	StateListing:         "listing",
	StateSelecting:       "selecting",
	StateDownloading:     "downloading",
	StateVerifyingDigest: "verifying-digest",
	StateInstalling:      "installing",
	StateRestartingUnits: "restarting-units",
	StateDone:            "done",
	StateNoCandidate:     "no-candidate",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

var (
	// ErrNoCandidate is the legitimate "nothing to do" outcome: no
	// verified candidate exceeds the installed version. Callers must
	// distinguish it from failure; it is not an error condition.
	ErrNoCandidate = errors.New("no candidate to fetch")

	// ErrDigestMismatch means the downloaded blob does not hash to the
	// digest its manifest committed to. The download is discarded and
	// never installed.
	ErrDigestMismatch = errors.New("downloaded image does not match manifest digest")
)

// Engine drives one fetch operation against one config.
type Engine struct {
	cfg       *config.Config
	transport Transport
	restarter Restarter
	logger    *zap.Logger

	state      State
	installed  *version.Version
	candidates []manifest.Manifest
	selected   manifest.Manifest

	tmpFile          *os.File
	downloadedSize   int64
	downloadedDigest manifest.Digest
}

// New creates an engine with explicit collaborators. Tests use this to
// substitute transports and restarters.
func New(cfg *config.Config, transport Transport, restarter Restarter, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		cfg:       cfg,
		transport: transport,
		restarter: restarter,
		logger:    logger,
		state:     StateIdle,
	}
}

// NewFromConfig creates an engine with the transport selected by the
// config's Origin scheme and the systemd restarter.
func NewFromConfig(cfg *config.Config, logger *zap.Logger) (*Engine, error) {
	transport, err := NewTransport(cfg.Origin)
	if err != nil {
		return nil, err
	}
	return New(cfg, transport, SystemdRestarter{}, logger), nil
}

// State returns the engine's current machine state.
func (e *Engine) State() State {
	return e.state
}

// Run executes one full fetch. It returns ErrNoCandidate when nothing
// qualifies for install, nil on a completed install, and any other error on
// failure. After a failure the previously installed content at Destination
// is untouched.
func (e *Engine) Run(ctx context.Context) error {
	defer e.discardDownload()

	e.loadInstalled()

	e.state = StateListing
	if err := e.listCandidates(ctx); err != nil {
		return err
	}

	e.state = StateSelecting
	if !e.selectCandidate() {
		e.state = StateNoCandidate
		return ErrNoCandidate
	}

	e.state = StateDownloading
	if err := e.download(ctx); err != nil {
		return err
	}

	e.state = StateVerifyingDigest
	if err := e.verifyDigest(); err != nil {
		return err
	}

	e.state = StateInstalling
	if err := e.install(); err != nil {
		return err
	}

	e.state = StateRestartingUnits
	restartErr := e.restartUnits(ctx)

	e.state = StateDone
	return restartErr
}

// RunInit is fetch --init: it downloads only when nothing is installed yet.
// An existing Destination short-circuits to NoCandidate without touching
// the network.
func (e *Engine) RunInit(ctx context.Context) error {
	if storage.FileExists(e.cfg.Destination) {
		e.logger.Info("destination already exists, nothing to do in init mode",
			zap.String("destination", e.cfg.Destination))
		e.state = StateNoCandidate
		return ErrNoCandidate
	}
	return e.Run(ctx)
}

// loadInstalled reads the install state next to Destination. Missing or
// unreadable state degrades to "nothing installed": the worst case is a
// re-download of content that was already present.
func (e *Engine) loadInstalled() {
	st, err := loadState(e.cfg.Destination)
	if err != nil {
		e.logger.Warn("ignoring unreadable install state", zap.Error(err))
		return
	}
	if st == nil {
		return
	}
	v, err := version.Parse(st.Version)
	if err != nil {
		e.logger.Warn("ignoring install state with malformed version",
			zap.String("version", st.Version))
		return
	}
	e.installed = &v
}

// listCandidates retrieves and verifies every manifest the origin lists.
// A candidate that cannot be parsed or fails signature verification is
// logged and skipped: one hostile or corrupt entry must not block updates
// through the valid ones. Only transport failures abort the listing.
func (e *Engine) listCandidates(ctx context.Context) error {
	listed, err := e.transport.ListVersions(ctx)
	if err != nil {
		return err
	}

	for _, raw := range listed {
		data, err := e.transport.FetchManifest(ctx, raw)
		if err != nil {
			e.logger.Warn("skipping candidate: manifest not retrievable",
				zap.String("version", raw), zap.Error(err))
			continue
		}
		m, err := manifest.Decode(data)
		if err != nil {
			e.logger.Warn("skipping candidate: malformed manifest",
				zap.String("version", raw), zap.Error(err))
			continue
		}
		if m.Version.String() != raw {
			e.logger.Warn("skipping candidate: manifest version does not match its listing name",
				zap.String("listed", raw), zap.String("manifest", m.Version.String()))
			continue
		}
		if err := m.Verify(e.cfg.PublicKey); err != nil {
			e.logger.Warn("skipping candidate: signature verification failed",
				zap.String("version", raw))
			continue
		}
		e.candidates = append(e.candidates, m)
	}

	e.logger.Debug("listed candidates",
		zap.Int("listed", len(listed)),
		zap.Int("verified", len(e.candidates)))
	return nil
}

// selectCandidate picks the maximum verified version and reports whether it
// actually exceeds the installed one.
func (e *Engine) selectCandidate() bool {
	var best *manifest.Manifest
	for i := range e.candidates {
		if best == nil || e.candidates[i].Version.Compare(best.Version) > 0 {
			best = &e.candidates[i]
		}
	}
	if best == nil {
		e.logger.Info("no verified candidates at origin")
		return false
	}
	if e.installed != nil && best.Version.Compare(*e.installed) <= 0 {
		e.logger.Info("installed version is up to date",
			zap.String("installed", e.installed.String()),
			zap.String("best_available", best.Version.String()))
		return false
	}
	e.selected = *best
	e.logger.Info("selected candidate",
		zap.String("version", e.selected.Version.String()),
		zap.String("digest", e.selected.Digest.String()))
	return true
}

// download streams the selected blob into a temporary file next to
// Destination, hashing incrementally so the content is never buffered in
// memory. The temporary file lives in Destination's directory because the
// final rename must not cross filesystems.
func (e *Engine) download(ctx context.Context) error {
	destDir := filepath.Dir(e.cfg.Destination)
	if err := storage.EnsureDir(destDir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(destDir, ".tako-download-")
	if err != nil {
		return fmt.Errorf("create download temp file: %w", err)
	}
	e.tmpFile = tmp

	body, err := e.transport.FetchBlob(ctx, e.selected.Digest.String())
	if err != nil {
		return err
	}
	defer body.Close()

	h := sha256.New()
	size, err := io.Copy(io.MultiWriter(tmp, h), body)
	if err != nil {
		return &DownloadError{URL: storage.BlobsDir + "/" + e.selected.Digest.String(), Err: err}
	}
	e.downloadedSize = size
	copy(e.downloadedDigest[:], h.Sum(nil))

	e.logger.Info("downloaded image",
		zap.String("version", e.selected.Version.String()),
		zap.String("size", humanize.Bytes(uint64(size))))
	return nil
}

// verifyDigest compares the downloaded content hash to the digest the
// signed manifest committed to. On mismatch the download is discarded.
func (e *Engine) verifyDigest() error {
	if e.downloadedDigest != e.selected.Digest {
		e.logger.Error("digest mismatch, discarding download",
			zap.String("expected", e.selected.Digest.String()),
			zap.String("actual", e.downloadedDigest.String()))
		return ErrDigestMismatch
	}
	return nil
}

// install atomically renames the verified download onto Destination and
// records the new install state. Readers of Destination see either the old
// or the new image, never a partial one.
func (e *Engine) install() error {
	if err := storage.CommitFile(e.tmpFile, e.cfg.Destination, 0o644); err != nil {
		os.Remove(e.tmpFile.Name())
		e.tmpFile = nil
		return err
	}
	e.tmpFile = nil

	st := InstallState{
		Version:     e.selected.Version.String(),
		Digest:      e.selected.Digest.String(),
		InstalledAt: time.Now().UTC(),
	}
	if err := saveState(e.cfg.Destination, st); err != nil {
		return err
	}

	e.logger.Info("installed image",
		zap.String("version", st.Version),
		zap.String("destination", e.cfg.Destination))
	return nil
}

// restartUnits restarts the configured units in config order. Failures are
// logged and aggregated but never undo the install: the image is valid and
// in place, and restarts can be retried externally.
func (e *Engine) restartUnits(ctx context.Context) error {
	var errs []error
	for _, unit := range e.cfg.RestartUnits {
		if err := e.restarter.Restart(ctx, unit); err != nil {
			e.logger.Error("restart failed", zap.String("unit", unit), zap.Error(err))
			errs = append(errs, err)
			continue
		}
		e.logger.Info("restarted unit", zap.String("unit", unit))
	}
	return errors.Join(errs...)
}

// discardDownload removes a temporary download that was not installed. An
// interrupted fetch leaves Destination exactly as it was.
func (e *Engine) discardDownload() {
	if e.tmpFile == nil {
		return
	}
	e.tmpFile.Close()
	os.Remove(e.tmpFile.Name())
	e.tmpFile = nil
}
