package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 33*time.Millisecond, cfg.CaptureInterval)
	assert.Equal(t, 10*1024*1024, cfg.MaxBufferSize)
	assert.Equal(t, 256, cfg.BackpressureThreshold)
	assert.Equal(t, 30*time.Second, cfg.SessionGracePeriod)
	assert.NoError(t, cfg.validate())
}

func TestLoadYAMLOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "webmux.yaml")
	require.NoError(t, os.WriteFile(path, []byte(
		"port: 9000\ncaptureInterval: 50ms\nmaxConcurrentCaptures: 4\n"), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.Port)
	assert.Equal(t, 50*time.Millisecond, cfg.CaptureInterval)
	assert.Equal(t, 4, cfg.MaxConcurrentCaptures)
	// Untouched fields keep their defaults.
	assert.Equal(t, 100, cfg.MaxInputBatch)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("WEBMUX_PORT", "7777")
	t.Setenv("WEBMUX_CAPTURE_INTERVAL", "100ms")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 7777, cfg.Port)
	assert.Equal(t, 100*time.Millisecond, cfg.CaptureInterval)
}

func TestLoadRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: -1\n"), 0644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/does/not/exist.yaml")
	assert.Error(t, err)
}
