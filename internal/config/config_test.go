package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "oxibridge.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const minimalConfig = `
telemetry:
  url: http://localhost:5050/api/data
`

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	require.NoError(t, err)

	assert.Equal(t, 250*time.Millisecond, cfg.PollInterval)
	assert.Equal(t, 10*time.Second, cfg.Link.ConnectTimeout)
	assert.Equal(t, -85, cfg.Link.MinConnectRSSI)
	assert.Equal(t, -95, cfg.Link.ForceDisconnectRSSI)
	assert.Equal(t, byte(0xF5), cfg.Link.StartCommand)
	assert.Equal(t, "49535343-1e4d-4bd9-ba61-23c647249616", cfg.Link.NotifyCharUUID)
	assert.Equal(t, -59, cfg.Quality.MeasuredPower)
	assert.Equal(t, 2.0, cfg.Quality.PathLossExponent)
	assert.Equal(t, -60, cfg.Quality.Thresholds.Excellent)
	assert.Equal(t, 3, cfg.Telemetry.MaxAttempts)
	assert.NotEmpty(t, cfg.NodeID, "node id should fall back to the hostname")

	// Name filters kick in when no address is pinned.
	assert.Equal(t, []string{"berry", "vinculo", "humans"}, cfg.Link.DeviceNameFilters)
}

func TestLoadOverrides(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
node_id: bridge-kitchen
poll_interval: 100ms
link:
  device_address: "AA:BB:CC:DD:EE:FF"
  min_connect_rssi: -80
telemetry:
  url: https://cloud.example.com/api/data
  api_key: sekrit
  max_attempts: 2
arbitration:
  status_url: http://coordinator:5050/api/bridge/status
`))
	require.NoError(t, err)

	assert.Equal(t, "bridge-kitchen", cfg.NodeID)
	assert.Equal(t, 100*time.Millisecond, cfg.PollInterval)
	assert.Equal(t, "AA:BB:CC:DD:EE:FF", cfg.Link.DeviceAddress)
	assert.Equal(t, -80, cfg.Link.MinConnectRSSI)
	assert.Empty(t, cfg.Link.DeviceNameFilters, "pinned address disables default name filters")
	assert.Equal(t, "sekrit", cfg.Telemetry.APIKey)
	assert.Equal(t, 2, cfg.Telemetry.MaxAttempts)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidateTelemetryURLRequired(t *testing.T) {
	_, err := Load(writeConfig(t, `node_id: x`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "telemetry.url")
}

func TestValidateThresholdOrdering(t *testing.T) {
	_, err := Load(writeConfig(t, minimalConfig+`
quality:
  thresholds:
    excellent: -70
    good: -70
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "strictly descending")
}

func TestValidateForceDisconnectBelowMinConnect(t *testing.T) {
	_, err := Load(writeConfig(t, minimalConfig+`
link:
  min_connect_rssi: -90
  force_disconnect_rssi: -85
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "force_disconnect_rssi")
}

func TestValidateNonPositiveDuration(t *testing.T) {
	_, err := Load(writeConfig(t, minimalConfig+`
link:
  data_timeout: 0s
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "data_timeout")
}
