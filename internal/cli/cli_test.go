package cli

// ============================================================================
// CLI Test File
// Purpose: Verify config loading, duration defaults and command wiring
// ============================================================================

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
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
protocol:
  deadline_ms: 3000
  bus_buffer: 128
  settle_wait_ms: 10000
  stop_wait_ms: 2000

workers:
  - id: machine-1
    capabilities_ms:
      A: 2000
      B: 5000
  - id: machine-2
    capabilities_ms:
      A: 3000
      C: 4000

jobs: [A, B, C]

metrics:
  enabled: true
  port: 9090

sensors:
  rooms:
    - name: kitchen
      measurements: [temperature, humidity]
      sensor_count: 2
  window_size: 10
  publish_period_ms: 5000
`)

	cfg, err := loadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 3*time.Second, cfg.Deadline())
	assert.Equal(t, 128, cfg.BusBuffer())
	assert.Equal(t, 10*time.Second, cfg.SettleWait())
	assert.Equal(t, 2*time.Second, cfg.StopWait())

	require.Len(t, cfg.Workers, 2)
	assert.Equal(t, "machine-1", cfg.Workers[0].ID)
	assert.Equal(t, int64(2000), cfg.Workers[0].Capabilities["A"])
	assert.Equal(t, int64(5000), cfg.Workers[0].Capabilities["B"])

	assert.Equal(t, []string{"A", "B", "C"}, cfg.Jobs)

	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, 9090, cfg.Metrics.Port)

	require.Len(t, cfg.Sensors.Rooms, 1)
	assert.Equal(t, "kitchen", cfg.Sensors.Rooms[0].Name)
	assert.Equal(t, 2, cfg.Sensors.Rooms[0].SensorCount)
}

func TestConfigDefaults(t *testing.T) {
	cfg, err := loadConfig(writeConfig(t, `workers: []`))
	require.NoError(t, err)

	assert.Equal(t, time.Second, cfg.Deadline())
	assert.Equal(t, 5*time.Second, cfg.SettleWait())
	assert.Equal(t, 5*time.Second, cfg.StopWait())
	assert.Equal(t, 64, cfg.BusBuffer())
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := loadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadConfigMalformedYAML(t *testing.T) {
	_, err := loadConfig(writeConfig(t, "workers: [unclosed"))
	assert.Error(t, err)
}

func TestBuildCLICommands(t *testing.T) {
	root := BuildCLI()
	assert.Equal(t, "contractnet", root.Use)

	names := make([]string, 0)
	for _, cmd := range root.Commands() {
		names = append(names, cmd.Name())
	}
	assert.Contains(t, names, "run")
	assert.Contains(t, names, "sensors")
	assert.Contains(t, names, "status")

	flag := root.PersistentFlags().Lookup("config")
	require.NotNil(t, flag)
	assert.Equal(t, "c", flag.Shorthand)
	assert.Equal(t, "configs/default.yaml", flag.DefValue)
}

func TestRunProtocolRejectsEmptyConfig(t *testing.T) {
	assert.Error(t, runProtocol(&Config{}))

	cfg := &Config{Workers: []WorkerConfig{{ID: "w1", Capabilities: map[string]int64{"A": 10}}}}
	assert.Error(t, runProtocol(cfg), "jobs are required")
}
