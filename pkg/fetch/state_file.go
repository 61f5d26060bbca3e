package fetch

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tako-update/tako/pkg/storage"
)

// InstallState records what is currently installed at a Destination. It
// lives next to the installed image as "<destination>.state" and is
// rewritten atomically after every successful install, so fetch can decide
// whether a remote candidate is actually newer.
type InstallState struct {
	// Version is the raw version string of the installed image.
	Version string `yaml:"version"`

	// Digest is the hex SHA-256 of the installed content.
	Digest string `yaml:"digest"`

	// InstalledAt is when the install completed.
	InstalledAt time.Time `yaml:"installed_at"`
}

// statePath returns the state file location for a destination.
func statePath(destination string) string {
	return destination + ".state"
}

// loadState reads the install state for a destination. A missing state file
// returns (nil, nil): nothing is installed as far as fetch is concerned.
func loadState(destination string) (*InstallState, error) {
	data, err := os.ReadFile(statePath(destination))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read install state: %w", err)
	}

	var st InstallState
	if err := yaml.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("parse install state: %w", err)
	}
	if st.Version == "" {
		return nil, fmt.Errorf("parse install state: missing version")
	}
	return &st, nil
}

// saveState atomically rewrites the install state for a destination.
func saveState(destination string, st InstallState) error {
	data, err := yaml.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode install state: %w", err)
	}
	return storage.AtomicWriteFile(statePath(destination), data, 0o644)
}
