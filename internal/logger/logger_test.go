package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeRedactsSecrets(t *testing.T) {
	got := sanitizeKVs([]interface{}{"asset_id", "house-1", "X-Signature", "abc", "api_key", "k", "dangling"})
	assert.Equal(t, []interface{}{"asset_id", "house-1", "X-Signature", "[REDACTED]", "api_key", "[REDACTED]", "dangling"}, got)
}

func TestNewModes(t *testing.T) {
	for _, mode := range []string{"dev", "prod", ""} {
		l, err := New(mode)
		require.NoError(t, err)
		l.With("mode", mode).Debug("built")
	}
	Nop().Info("discarded", "k", "v")
}
