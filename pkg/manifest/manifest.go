// Package manifest defines the signed record that binds one published image
// version to the SHA-256 digest of its content.
//
// A manifest is the unit of trust in tako: clients install content only when
// it is named by a manifest whose Ed25519 signature verifies against the
// pinned public key from their config. Until Verify succeeds, a parsed
// manifest is merely a candidate.
//
// The wire format is line-oriented text, one manifest per file:
//
//	Tako Manifest Version=1
//	Version=1.2.3
//	Digest=<64 hex characters>
//	Signature=<base64, 64 bytes>
//
// The signature covers the raw version string bytes followed by the 32 raw
// digest bytes. The raw spelling is signed, not the normalized field form,
// so changing even a separator character invalidates the signature.
package manifest

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/tako-update/tako/pkg/crypto"
	"github.com/tako-update/tako/pkg/version"
)

// header identifies the manifest format and its version on the first line.
const header = "Tako Manifest Version=1"

// signatureSize is the fixed Ed25519 signature length.
const signatureSize = 64

var (
	// ErrInvalidManifest is returned by Decode for structurally broken
	// input. Structural checks run before any cryptography, so malformed
	// bytes never reach the signature verifier.
	ErrInvalidManifest = errors.New("invalid manifest")

	// ErrInvalidSignature is the single outcome for any verification
	// failure: wrong key, tampered version, tampered digest, or corrupted
	// signature bytes. The verifier never reveals which.
	ErrInvalidSignature = errors.New("invalid signature")
)

// Digest is the SHA-256 hash of an image blob. Blobs are stored and fetched
// under their digest, so equal content is shared across versions.
type Digest [sha256.Size]byte

// DigestOf computes the digest of an in-memory blob.
func DigestOf(data []byte) Digest {
	return Digest(sha256.Sum256(data))
}

// ParseDigest decodes the 64-character hex spelling of a digest.
func ParseDigest(s string) (Digest, error) {
	var d Digest
	if len(s) != hex.EncodedLen(sha256.Size) {
		return d, fmt.Errorf("digest must be %d hex characters, got %d", hex.EncodedLen(sha256.Size), len(s))
	}
	if _, err := hex.Decode(d[:], []byte(s)); err != nil {
		return d, fmt.Errorf("digest is not valid hex: %w", err)
	}
	return d, nil
}

// String returns the lowercase hex spelling used in manifests and as the
// blob file name.
func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

// Manifest binds a version to a content digest under an Ed25519 signature.
// Manifests are immutable once signed.
type Manifest struct {
	Version   version.Version
	Digest    Digest
	Signature [signatureSize]byte
}

// signingBytes is the canonical byte form the signature covers.
func signingBytes(v version.Version, d Digest) []byte {
	buf := make([]byte, 0, len(v.String())+len(d))
	buf = append(buf, v.String()...)
	buf = append(buf, d[:]...)
	return buf
}

// Sign builds a manifest for (version, digest) signed with the given secret
// key. Ed25519 signing is deterministic, so signing the same inputs with the
// same key reproduces the same manifest.
func Sign(v version.Version, d Digest, key crypto.SecretKey) Manifest {
	m := Manifest{Version: v, Digest: d}
	copy(m.Signature[:], key.Sign(signingBytes(v, d)))
	return m
}

// Verify checks the manifest's signature against the pinned public key.
// Any mismatch yields ErrInvalidSignature.
func (m Manifest) Verify(key crypto.PublicKey) error {
	if !key.Verify(signingBytes(m.Version, m.Digest), m.Signature[:]) {
		return ErrInvalidSignature
	}
	return nil
}

// Encode serializes the manifest to its canonical text form. Encode and
// Decode are lossless inverses.
func (m Manifest) Encode() []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%s\n", header)
	fmt.Fprintf(&buf, "Version=%s\n", m.Version)
	fmt.Fprintf(&buf, "Digest=%s\n", m.Digest)
	fmt.Fprintf(&buf, "Signature=%s\n", base64.StdEncoding.EncodeToString(m.Signature[:]))
	return buf.Bytes()
}

// Decode parses the canonical text form. It rejects any structural problem
// with ErrInvalidManifest before signature verification is attempted.
func Decode(data []byte) (Manifest, error) {
	var m Manifest

	text := strings.TrimSuffix(string(data), "\n")
	lines := strings.Split(text, "\n")
	if len(lines) != 4 {
		return m, fmt.Errorf("%w: expected 4 lines, got %d", ErrInvalidManifest, len(lines))
	}
	if lines[0] != header {
		return m, fmt.Errorf("%w: bad header line", ErrInvalidManifest)
	}

	rawVersion, err := fieldValue(lines[1], "Version")
	if err != nil {
		return m, err
	}
	v, err := version.Parse(rawVersion)
	if err != nil {
		return m, fmt.Errorf("%w: %v", ErrInvalidManifest, err)
	}

	rawDigest, err := fieldValue(lines[2], "Digest")
	if err != nil {
		return m, err
	}
	d, err := ParseDigest(rawDigest)
	if err != nil {
		return m, fmt.Errorf("%w: %v", ErrInvalidManifest, err)
	}

	rawSignature, err := fieldValue(lines[3], "Signature")
	if err != nil {
		return m, err
	}
	sig, err := base64.StdEncoding.DecodeString(rawSignature)
	if err != nil {
		return m, fmt.Errorf("%w: signature is not valid base64", ErrInvalidManifest)
	}
	if len(sig) != signatureSize {
		return m, fmt.Errorf("%w: signature must be %d bytes, got %d", ErrInvalidManifest, signatureSize, len(sig))
	}

	m.Version = v
	m.Digest = d
	copy(m.Signature[:], sig)
	return m, nil
}

// fieldValue extracts the value of a "Key=Value" line, enforcing the key.
func fieldValue(line, key string) (string, error) {
	value, ok := strings.CutPrefix(line, key+"=")
	if !ok {
		return "", fmt.Errorf("%w: expected '%s=' line", ErrInvalidManifest, key)
	}
	if value == "" {
		return "", fmt.Errorf("%w: empty %s", ErrInvalidManifest, key)
	}
	return value, nil
}
