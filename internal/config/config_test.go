package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/talkbridge/mediabridge/internal/config"
)

func writeToml(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadFromFile(t *testing.T) {
	path := writeToml(t, `
[controller]
base_url = "https://controller.example.com"
signaling_url = "wss://controller.example.com/signaling"

[media]
port_range_start = 30000
port_range_end = 30100
`)
	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.Equal(t, "https://controller.example.com", cfg.Controller.BaseURL)
	require.Equal(t, 30000, cfg.Media.PortRangeStart)
	require.Equal(t, 1920, cfg.Media.CanvasWidth) // default retained
}

func TestLoadEnvOverride(t *testing.T) {
	path := writeToml(t, `
[controller]
base_url = "https://controller.example.com"
signaling_url = "wss://controller.example.com/signaling"

[media]
port_range_start = 30000
port_range_end = 30100
`)
	t.Setenv("OPENTALK_OBLSK_MEDIA__PORT_RANGE_START", "40000")

	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.Equal(t, 40000, cfg.Media.PortRangeStart)
}

func TestLoadMissingRequiredFails(t *testing.T) {
	path := writeToml(t, `
[media]
port_range_start = 1
port_range_end = 2
`)
	_, err := config.Load(path)
	require.Error(t, err)
}
