// Package version implements parsing, total ordering, and collision
// detection for tako version identifiers.
//
// Versions are opaque, publisher-chosen strings such as "1.0", "2021-03-01",
// or "1.0-beta.2". A version is parsed into a sequence of fields by splitting
// on runs of non-alphanumeric bytes; each field is either numeric (digits
// only) or textual. The separator characters themselves carry no meaning,
// which is why "1.0" and "1-0" are considered colliding names: they parse to
// the same field sequence and must never coexist as distinct published
// versions.
//
// Ordering rules, pinned down by the test vectors in version_test.go:
//   - fields compare position by position, left to right
//   - numeric fields compare by integer magnitude ("10" > "9", "007" == "7")
//   - textual fields compare byte-lexically
//   - a numeric field sorts after a textual field at the same position, so
//     "1.0" > "1.0-beta" (release beats pre-release tag)
//   - a missing field ranks above textual and below numeric, so
//     "1.0" > "1.0-beta" also holds when the tag is a trailing field, while
//     "1.0" < "1.0.1"
package version

import (
	"errors"
	"strings"
)

// ErrMalformedVersion is returned by Parse for the empty string, the only
// input that cannot be parsed. Every non-empty string is a valid version.
var ErrMalformedVersion = errors.New("malformed version: empty string")

// field is one parsed component of a version identifier.
type field struct {
	// text is the field exactly as written, alphanumeric only.
	text string

	// numeric reports whether text consists solely of ASCII digits.
	numeric bool
}

// Version is an immutable parsed version identifier. The zero value is not
// valid; obtain instances through Parse.
type Version struct {
	raw    string
	fields []field
}

// Parse parses a raw version string. It fails only if raw is empty; field
// splitting is total, so every other string is accepted.
func Parse(raw string) (Version, error) {
	if raw == "" {
		return Version{}, ErrMalformedVersion
	}

	var fields []field
	start := -1
	for i := 0; i <= len(raw); i++ {
		if i < len(raw) && isAlnum(raw[i]) {
			if start < 0 {
				start = i
			}
			continue
		}
		if start >= 0 {
			text := raw[start:i]
			fields = append(fields, field{text: text, numeric: isNumeric(text)})
			start = -1
		}
	}

	return Version{raw: raw, fields: fields}, nil
}

// MustParse is Parse for static inputs known to be valid. It panics on error
// and exists for tests and literals.
func MustParse(raw string) Version {
	v, err := Parse(raw)
	if err != nil {
		panic(err)
	}
	return v
}

// String returns the raw version string the Version was parsed from.
func (v Version) String() string {
	return v.raw
}

// Compare returns -1, 0, or +1 as v orders before, equal to, or after other.
// The order is total: any two versions are comparable, and versions whose
// field sequences are equal compare as 0 even if their raw strings differ.
func (v Version) Compare(other Version) int {
	n := len(v.fields)
	if len(other.fields) > n {
		n = len(other.fields)
	}
	for i := 0; i < n; i++ {
		switch {
		case i >= len(v.fields):
			return -compareAbsent(other.fields[i])
		case i >= len(other.fields):
			return compareAbsent(v.fields[i])
		default:
			if c := compareField(v.fields[i], other.fields[i]); c != 0 {
				return c
			}
		}
	}
	return 0
}

// compareAbsent orders a present field against a missing one on the other
// side. The absent sentinel ranks between the textual and numeric classes:
// a trailing numeric field still makes a version newer ("1.0" < "1.0.1"),
// but a trailing textual field marks a pre-release of the shorter version
// ("1.0" > "1.0-beta").
func compareAbsent(present field) int {
	if present.numeric {
		return 1
	}
	return -1
}

// Collides reports whether v and other are distinct raw strings that parse
// to the same field sequence, differing only in separator punctuation.
// Colliding versions are ambiguous names and are rejected at publish time.
// Collision is independent of ordering: Compare may rank two colliding
// versions as equal while Collides flags them, and "1.00" vs "1.0" compare
// equal without colliding (different digits, not different separators).
func (v Version) Collides(other Version) bool {
	if v.raw == other.raw {
		return false
	}
	return v.key() == other.key()
}

// key is the canonical spelling of the field sequence: the fields exactly as
// written, joined by a single canonical separator. Fields are alphanumeric,
// so "." cannot occur inside one.
func (v Version) key() string {
	parts := make([]string, len(v.fields))
	for i, f := range v.fields {
		parts[i] = f.text
	}
	return strings.Join(parts, ".")
}

func compareField(a, b field) int {
	switch {
	case a.numeric && b.numeric:
		return compareNumeric(a.text, b.text)
	case a.numeric:
		// Numeric after textual: "1.0" > "1.0-beta".
		return 1
	case b.numeric:
		return -1
	default:
		return strings.Compare(a.text, b.text)
	}
}

// compareNumeric compares two digit strings by integer magnitude without
// converting, so arbitrarily long version numbers cannot overflow.
func compareNumeric(a, b string) int {
	a = strings.TrimLeft(a, "0")
	b = strings.TrimLeft(b, "0")
	if len(a) != len(b) {
		if len(a) < len(b) {
			return -1
		}
		return 1
	}
	return strings.Compare(a, b)
}

func isAlnum(c byte) bool {
	return c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
}

func isNumeric(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return len(s) > 0
}
