// Package crypto provides the Ed25519 key material handling for tako:
// key-pair generation, and decoding of configured secret and public keys.
//
// Secret keys travel as base64-encoded PKCS#8 documents so they can live in
// config values, environment variables, and secret stores without escaping
// issues. Public keys are the raw 32 Ed25519 bytes, base64-encoded.
//
// Decoding errors are deliberately collapsed to a single kind per key type:
// a caller probing with bad base64, a truncated document, or a key of the
// wrong algorithm gets the same answer, so the error does not reveal which
// check rejected the input.
package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/base64"
	"errors"
	"fmt"
)

var (
	// ErrKeyGeneration is returned when the system randomness source fails.
	// This is fatal to the current operation and must not be retried
	// silently.
	ErrKeyGeneration = errors.New("key generation failed")

	// ErrInvalidSecretKeyData is the single error for any undecodable
	// secret key, regardless of whether the base64, the PKCS#8 structure,
	// or the key algorithm was at fault.
	ErrInvalidSecretKeyData = errors.New("invalid secret key data")

	// ErrInvalidPublicKeyData is the single error for any undecodable
	// public key.
	ErrInvalidPublicKeyData = errors.New("invalid public key data")
)

// PublicKey is a pinned Ed25519 verification key.
type PublicKey struct {
	key ed25519.PublicKey
}

// SecretKey is an Ed25519 signing key. It is meant to be short-lived:
// acquired just before a signing operation and wiped with Zero afterwards.
// SecretKey values must not be stored in long-lived structures.
type SecretKey struct {
	key ed25519.PrivateKey
}

// GenerateKeyPair draws a fresh Ed25519 key pair from the system's
// cryptographically secure randomness source.
func GenerateKeyPair() (SecretKey, PublicKey, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return SecretKey{}, PublicKey{}, fmt.Errorf("%w: %v", ErrKeyGeneration, err)
	}
	return SecretKey{key: priv}, PublicKey{key: pub}, nil
}

// DecodeSecretKey decodes a base64-encoded PKCS#8 Ed25519 secret key.
func DecodeSecretKey(encoded string) (SecretKey, error) {
	der, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return SecretKey{}, ErrInvalidSecretKeyData
	}
	parsed, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return SecretKey{}, ErrInvalidSecretKeyData
	}
	key, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return SecretKey{}, ErrInvalidSecretKeyData
	}
	return SecretKey{key: key}, nil
}

// DecodePublicKey decodes a base64-encoded raw 32-byte Ed25519 public key.
func DecodePublicKey(encoded string) (PublicKey, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return PublicKey{}, ErrInvalidPublicKeyData
	}
	if len(raw) != ed25519.PublicKeySize {
		return PublicKey{}, ErrInvalidPublicKeyData
	}
	return PublicKey{key: ed25519.PublicKey(raw)}, nil
}

// Sign produces the Ed25519 signature over message. Ed25519 signing is
// deterministic: the same key and message always produce the same bytes.
func (sk SecretKey) Sign(message []byte) []byte {
	return ed25519.Sign(sk.key, message)
}

// Public derives the verification key for this secret key.
func (sk SecretKey) Public() PublicKey {
	return PublicKey{key: sk.key.Public().(ed25519.PublicKey)}
}

// EncodePKCS8 returns the secret key as a base64-encoded PKCS#8 document,
// the form printed by gen-key and accepted by DecodeSecretKey.
func (sk SecretKey) EncodePKCS8() (string, error) {
	der, err := x509.MarshalPKCS8PrivateKey(sk.key)
	if err != nil {
		return "", fmt.Errorf("encode secret key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(der), nil
}

// Zero overwrites the secret key bytes. The key must not be used afterwards.
// Go cannot guarantee no copies remain, but wiping the primary buffer keeps
// the window in which key bytes sit in memory as small as the runtime
// allows.
func (sk *SecretKey) Zero() {
	for i := range sk.key {
		sk.key[i] = 0
	}
	sk.key = nil
}

// IsZero reports whether the key holds no material, either because it was
// never initialized or because Zero was called.
func (sk SecretKey) IsZero() bool {
	return len(sk.key) == 0
}

// Verify reports whether signature is a valid Ed25519 signature of message
// under this key.
func (pk PublicKey) Verify(message, signature []byte) bool {
	return ed25519.Verify(pk.key, message, signature)
}

// Encode returns the public key as base64 of the raw 32 key bytes.
func (pk PublicKey) Encode() string {
	return base64.StdEncoding.EncodeToString(pk.key)
}

// Equal reports whether two public keys hold the same key bytes.
func (pk PublicKey) Equal(other PublicKey) bool {
	return pk.key.Equal(other.key)
}
