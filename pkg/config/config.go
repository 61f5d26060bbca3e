// Package config parses the line-oriented fetch configuration file.
//
// A config file consists of Key=Value lines:
//
//	Origin=https://images.example.com/app-foo
//	PublicKey=8+r5DKNN/cwI+h0oHxMtgdyND3S/5xDLHQu0hFUmq+g=
//	Destination=/var/lib/images/app-foo
//	RestartUnit=app-foo.service
//
// Origin, PublicKey, and Destination are required and must each appear
// exactly once. RestartUnit may repeat; its order in the file is the order
// units are restarted after an install. Blank lines and lines starting with
// '#' are ignored. Anything else fails the whole load with the offending
// line number: a partially valid config never reaches the network or the
// filesystem.
package config

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"

	"github.com/tako-update/tako/pkg/crypto"
)

var (
	// ErrIncompleteConfig is returned when a required key is absent.
	ErrIncompleteConfig = errors.New("incomplete config")

	// ErrInvalidConfig is the base kind for structural problems; the
	// ParseError wrapper carries the line number.
	ErrInvalidConfig = errors.New("invalid config")
)

// ParseError describes a rejected config line.
type ParseError struct {
	// Line is the 1-based line number of the offending line.
	Line int

	// Reason is a human-readable description of the problem.
	Reason string

	// Err is an optional underlying cause.
	Err error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("config line %d: %s: %v", e.Line, e.Reason, e.Err)
	}
	return fmt.Sprintf("config line %d: %s", e.Line, e.Reason)
}

func (e *ParseError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return ErrInvalidConfig
}

// Config is the fully validated input of one fetch operation.
type Config struct {
	// Origin is the absolute URI of the server directory to fetch from.
	Origin *url.URL

	// PublicKey is the pinned Ed25519 key every candidate manifest must
	// verify against.
	PublicKey crypto.PublicKey

	// Destination is the local path the image is installed at.
	Destination string

	// RestartUnits are service identifiers restarted after a successful
	// install, in order.
	RestartUnits []string
}

// Load reads and parses the config file at path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	cfg, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse reads Key=Value lines from r and validates the result. All
// structural errors carry the 1-based line number.
func Parse(r io.Reader) (*Config, error) {
	var (
		origin       *url.URL
		publicKey    *crypto.PublicKey
		destination  string
		restartUnits []string
	)

	scanner := bufio.NewScanner(r)
	lineno := 0
	for scanner.Scan() {
		lineno++
		line := scanner.Text()

		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, found := strings.Cut(line, "=")
		if !found {
			return nil, &ParseError{Line: lineno, Reason: "line contains no '=', expected a 'Key=Value' pair"}
		}

		switch key {
		case "Origin":
			if origin != nil {
				return nil, &ParseError{Line: lineno, Reason: "duplicate Origin"}
			}
			u, err := url.Parse(value)
			if err != nil {
				return nil, &ParseError{Line: lineno, Reason: "invalid Origin URI", Err: err}
			}
			if !u.IsAbs() {
				return nil, &ParseError{Line: lineno, Reason: "Origin must be an absolute URI"}
			}
			origin = u
		case "PublicKey":
			if publicKey != nil {
				return nil, &ParseError{Line: lineno, Reason: "duplicate PublicKey"}
			}
			pk, err := crypto.DecodePublicKey(value)
			if err != nil {
				return nil, &ParseError{Line: lineno, Reason: "PublicKey must be base64 of 32 Ed25519 key bytes", Err: err}
			}
			publicKey = &pk
		case "Destination":
			if destination != "" {
				return nil, &ParseError{Line: lineno, Reason: "duplicate Destination"}
			}
			if value == "" {
				return nil, &ParseError{Line: lineno, Reason: "Destination must not be empty"}
			}
			destination = value
		case "RestartUnit":
			if value == "" {
				return nil, &ParseError{Line: lineno, Reason: "RestartUnit must not be empty"}
			}
			restartUnits = append(restartUnits, value)
		default:
			return nil, &ParseError{Line: lineno, Reason: fmt.Sprintf("unknown key %q, expected Origin, PublicKey, Destination, or RestartUnit", key)}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	if origin == nil {
		return nil, fmt.Errorf("%w: Origin not set, expected an 'Origin=' line", ErrIncompleteConfig)
	}
	if publicKey == nil {
		return nil, fmt.Errorf("%w: PublicKey not set, expected a 'PublicKey=' line", ErrIncompleteConfig)
	}
	if destination == "" {
		return nil, fmt.Errorf("%w: Destination not set, expected a 'Destination=' line", ErrIncompleteConfig)
	}

	return &Config{
		Origin:       origin,
		PublicKey:    *publicKey,
		Destination:  destination,
		RestartUnits: restartUnits,
	}, nil
}
