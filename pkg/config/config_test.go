package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withTempWorkdir(t *testing.T) string {
	t.Helper()
	tmpDir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(tmpDir, "configs"), 0755))

	cwd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(tmpDir))
	t.Cleanup(func() { os.Chdir(cwd) })

	return tmpDir
}

func writeEnvConfig(t *testing.T, tmpDir, env, content string) {
	t.Helper()
	path := filepath.Join(tmpDir, "configs", env+".yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

const validDevelopmentYAML = `
port_scan:
  host: "127.0.0.1"
  port_spec: "1-1024"
  timeout_seconds: 2
  pool_size: 50
  interval_seconds: 30

process_monitor:
  cpu_threshold: 70.0
  ram_threshold: 50.0
  min_seconds_for_alert: 2
  interval_seconds: 1

filesystem_monitor:
  change_threshold_percent: 10.0
  pool_width: 4
  interval_seconds: 5

dashboard:
  host: "0.0.0.0"
  port: 8090
  database:
    path: "./hostwatch.db"
    wal_mode: true
`

func TestLoadValidDevelopmentConfig(t *testing.T) {
	tmpDir := withTempWorkdir(t)
	writeEnvConfig(t, tmpDir, "development", validDevelopmentYAML)
	os.Setenv("HOSTWATCH_ENV", "development")
	defer os.Unsetenv("HOSTWATCH_ENV")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", cfg.PortScan.Host)
	assert.Equal(t, 8090, cfg.Dashboard.Port)
	assert.NotEmpty(t, cfg.Dashboard.JWT.Secret, "a secret must be auto-generated outside production")
}

func TestLoadMissingFileReturnsConfigError(t *testing.T) {
	withTempWorkdir(t)
	os.Setenv("HOSTWATCH_ENV", "nonexistent")
	defer os.Unsetenv("HOSTWATCH_ENV")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoadProductionRequiresJWTSecretAndOperator(t *testing.T) {
	tmpDir := withTempWorkdir(t)
	writeEnvConfig(t, tmpDir, "production", validDevelopmentYAML)
	os.Setenv("HOSTWATCH_ENV", "production")
	defer os.Unsetenv("HOSTWATCH_ENV")

	_, err := Load()
	assert.Error(t, err, "production must not auto-generate a secret or accept a blank operator")
}

func TestEnvOverridesApply(t *testing.T) {
	tmpDir := withTempWorkdir(t)
	writeEnvConfig(t, tmpDir, "development", validDevelopmentYAML)
	os.Setenv("HOSTWATCH_ENV", "development")
	os.Setenv("HOSTWATCH_PORTSCAN_HOST", "10.0.0.5")
	os.Setenv("HOSTWATCH_DASHBOARD_PORT", "9999")
	defer func() {
		os.Unsetenv("HOSTWATCH_ENV")
		os.Unsetenv("HOSTWATCH_PORTSCAN_HOST")
		os.Unsetenv("HOSTWATCH_DASHBOARD_PORT")
	}()

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.5", cfg.PortScan.Host)
	assert.Equal(t, 9999, cfg.Dashboard.Port)
}

func TestLoadProcessMonitorFileMissingReturnsDefaults(t *testing.T) {
	cfg, err := LoadProcessMonitorFile(filepath.Join(t.TempDir(), "absent.conf"))
	require.NoError(t, err)
	assert.Equal(t, 70.0, cfg.CPUThreshold)
	assert.Equal(t, 50.0, cfg.RAMThreshold)
	assert.Equal(t, 1, cfg.SampleIntervalSecs)
	assert.Equal(t, 2, cfg.MinSecondsForAlert)
}

func TestLoadProcessMonitorFileParsesKeyValuePairs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "monitor.conf")
	content := "# comentario\nCPU_THRESHOLD = 80.5\nRAM_THRESHOLD=60\n\nSAMPLE_INTERVAL = 3\nMIN_SECONDS_FOR_ALERT = 5\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := LoadProcessMonitorFile(path)
	require.NoError(t, err)
	assert.Equal(t, 80.5, cfg.CPUThreshold)
	assert.Equal(t, 60.0, cfg.RAMThreshold)
	assert.Equal(t, 3, cfg.SampleIntervalSecs)
	assert.Equal(t, 5, cfg.MinSecondsForAlert)
}

func TestLoadProcessMonitorFileIgnoresMalformedLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "monitor.conf")
	content := "CPU_THRESHOLD 80.5\nRAM_THRESHOLD=65\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := LoadProcessMonitorFile(path)
	require.NoError(t, err)
	assert.Equal(t, 70.0, cfg.CPUThreshold, "malformed line must be skipped, not fatal")
	assert.Equal(t, 65.0, cfg.RAMThreshold)
}
