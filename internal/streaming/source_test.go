package streaming

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSourceUnknownType(t *testing.T) {
	_, err := NewSource(SourceConfig{Type: "carrier-pigeon"})
	require.Error(t, err)
}

func TestNewSourceFile(t *testing.T) {
	src, err := NewSource(SourceConfig{Type: "file", Path: "/nonexistent"})
	require.NoError(t, err)
	assert.False(t, src.IsConnected())
}

func TestNewSourceLSLUnavailable(t *testing.T) {
	src, err := NewSource(SourceConfig{Type: "lsl", StreamName: "EEG"})
	require.NoError(t, err)
	err = src.Connect(nil)
	assert.Error(t, err)
}

func TestParseSourceConfigTagged(t *testing.T) {
	cfg, err := ParseSourceConfig([]byte(`{"type":"tcp","host":"127.0.0.1","port":9000}`))
	require.NoError(t, err)
	assert.Equal(t, "tcp", cfg.Type)
	assert.Equal(t, 9000, cfg.Port)
}
