package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name      string
		level     string
		format    string
		wantError bool
	}{
		{name: "json debug", level: "debug", format: "json"},
		{name: "console info", level: "info", format: "console"},
		{name: "case insensitive", level: "WARN", format: "JSON"},
		{name: "invalid level", level: "loud", format: "json", wantError: true},
		{name: "invalid format", level: "info", format: "xml", wantError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := NewLogger(tt.level, tt.format)
			if tt.wantError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, logger)

			// Smoke test: none of these may panic.
			logger.Debug("debug message")
			logger.Info("info message")
			logger.Warn("warn message")
			logger.Error("error message")
		})
	}
}
