package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tako-update/tako/pkg/crypto"
)

func testPublicKeyLine(t *testing.T) string {
	t.Helper()
	_, public, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	return "PublicKey=" + public.Encode()
}

func TestParseCompleteConfig(t *testing.T) {
	input := strings.Join([]string{
		"# app-foo update config",
		"Origin=https://images.example.com/app-foo",
		testPublicKeyLine(t),
		"",
		"Destination=/var/lib/images/app-foo",
		"RestartUnit=app-foo.service",
		"RestartUnit=app-foo-sidecar.service",
	}, "\n")

	cfg, err := Parse(strings.NewReader(input))
	require.NoError(t, err)
	assert.Equal(t, "https://images.example.com/app-foo", cfg.Origin.String())
	assert.Equal(t, "/var/lib/images/app-foo", cfg.Destination)
	// Restart order is the file order.
	assert.Equal(t, []string{"app-foo.service", "app-foo-sidecar.service"}, cfg.RestartUnits)
}

func TestParseZeroRestartUnits(t *testing.T) {
	input := strings.Join([]string{
		"Origin=https://images.example.com/app-foo",
		testPublicKeyLine(t),
		"Destination=/var/lib/images/app-foo",
	}, "\n")

	cfg, err := Parse(strings.NewReader(input))
	require.NoError(t, err)
	assert.Empty(t, cfg.RestartUnits)
}

func TestParseReportsLineNumbers(t *testing.T) {
	cases := []struct {
		name     string
		lines    []string
		wantLine int
	}{
		{
			name:     "missing equals",
			lines:    []string{"Origin=https://example.com", "bogus line"},
			wantLine: 2,
		},
		{
			name:     "unknown key",
			lines:    []string{"Origin=https://example.com", "", "Color=red"},
			wantLine: 3,
		},
		{
			name:     "bad public key",
			lines:    []string{"PublicKey=not-base64!"},
			wantLine: 1,
		},
		{
			name:     "relative origin",
			lines:    []string{"", "Origin=images/app-foo"},
			wantLine: 2,
		},
		{
			name:     "duplicate origin",
			lines:    []string{"Origin=https://a.example.com", "Origin=https://b.example.com"},
			wantLine: 2,
		},
		{
			name:     "empty restart unit",
			lines:    []string{"Origin=https://example.com", "RestartUnit="},
			wantLine: 2,
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(strings.Join(c.lines, "\n")))
			var perr *ParseError
			require.ErrorAs(t, err, &perr)
			assert.Equal(t, c.wantLine, perr.Line)
		})
	}
}

func TestParseRequiresAllKeys(t *testing.T) {
	keyLine := testPublicKeyLine(t)
	complete := map[string]string{
		"Origin":      "Origin=https://images.example.com/app-foo",
		"PublicKey":   keyLine,
		"Destination": "Destination=/var/lib/images/app-foo",
	}

	for omitted := range complete {
		var lines []string
		for name, line := range complete {
			if name != omitted {
				lines = append(lines, line)
			}
		}
		_, err := Parse(strings.NewReader(strings.Join(lines, "\n")))
		assert.ErrorIs(t, err, ErrIncompleteConfig, "omitting %s", omitted)
		assert.Contains(t, err.Error(), omitted)
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app-foo.conf")
	content := strings.Join([]string{
		"Origin=https://images.example.com/app-foo",
		testPublicKeyLine(t),
		"Destination=/var/lib/images/app-foo",
	}, "\n") + "\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/images/app-foo", cfg.Destination)

	_, err = Load(filepath.Join(t.TempDir(), "missing.conf"))
	assert.Error(t, err)
}
