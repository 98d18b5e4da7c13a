// Package config loads the toolkit's YAML configuration tree, plus the
// process monitor's separate line-oriented KEY = VALUE file. Grounded on the
// teacher's pkg/config Load/Get/overrideWithEnv/validate shape, narrowed
// from the multi-service infra-core tree down to the three probes plus the
// single-operator dashboard.
package config

import (
	"bufio"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/hostwatch/hostwatch/pkg/hosterr"
)

// Config is the global configuration tree.
type Config struct {
	PortScan          PortScanConfig          `yaml:"port_scan" json:"port_scan"`
	ProcessMonitor    ProcessMonitorConfig    `yaml:"process_monitor" json:"process_monitor"`
	FilesystemMonitor FilesystemMonitorConfig `yaml:"filesystem_monitor" json:"filesystem_monitor"`
	Dashboard         DashboardConfig         `yaml:"dashboard" json:"dashboard"`
	Logs              LogConfig               `yaml:"logs" json:"logs"`
}

// LogConfig controls the standard-library logger shared by every sampler.
type LogConfig struct {
	Level   string `yaml:"level" json:"level"`
	Console bool   `yaml:"console" json:"console"`
	File    string `yaml:"file" json:"file"`
}

// PortScanConfig configures the PortProbe sampler.
type PortScanConfig struct {
	Host            string `yaml:"host" json:"host"`
	PortSpec        string `yaml:"port_spec" json:"port_spec"`
	TimeoutSeconds  int    `yaml:"timeout_seconds" json:"timeout_seconds"`
	PoolSize        int    `yaml:"pool_size" json:"pool_size"`
	IntervalSeconds int    `yaml:"interval_seconds" json:"interval_seconds"`
}

// ProcessMonitorConfig configures the ProcessProbe sampler. ConfigFile, when
// set, points at the legacy KEY = VALUE file loaded by LoadProcessMonitorFile
// and replaces all four YAML threshold/interval fields below: keys absent
// from the file, or a missing file, take LoadProcessMonitorFile's defaults.
type ProcessMonitorConfig struct {
	CPUThreshold       float64 `yaml:"cpu_threshold" json:"cpu_threshold"`
	RAMThreshold       float64 `yaml:"ram_threshold" json:"ram_threshold"`
	MinSecondsForAlert int     `yaml:"min_seconds_for_alert" json:"min_seconds_for_alert"`
	IntervalSeconds    int     `yaml:"interval_seconds" json:"interval_seconds"`
	ConfigFile         string  `yaml:"config_file" json:"config_file"`
}

// FilesystemMonitorConfig configures the FilesystemProbe sampler and its
// device dispatcher.
type FilesystemMonitorConfig struct {
	ChangeThresholdPercent float64 `yaml:"change_threshold_percent" json:"change_threshold_percent"`
	PoolWidth              int     `yaml:"pool_width" json:"pool_width"`
	IntervalSeconds        int     `yaml:"interval_seconds" json:"interval_seconds"`
}

// DatabaseConfig configures the SQLite-backed persistence store.
type DatabaseConfig struct {
	Path    string `yaml:"path" json:"path"`
	WALMode bool   `yaml:"wal_mode" json:"wal_mode"`
}

// JWTConfig configures bearer-token issuance for the dashboard API.
type JWTConfig struct {
	Secret       string `yaml:"secret" json:"secret"`
	ExpiresHours int    `yaml:"expires_hours" json:"expires_hours"`
}

// OperatorConfig is the single static dashboard credential — this toolkit
// has one operator, not a multi-tenant user directory.
type OperatorConfig struct {
	Username     string `yaml:"username" json:"username"`
	PasswordHash string `yaml:"password_hash" json:"-"`
}

// ACMEConfig configures optional HTTPS certificate provisioning for the
// dashboard.
type ACMEConfig struct {
	DirectoryURL  string `yaml:"directory_url" json:"directory_url"`
	Email         string `yaml:"email" json:"email"`
	CacheDir      string `yaml:"cache_dir" json:"cache_dir"`
	ChallengeType string `yaml:"challenge_type" json:"challenge_type"`
	Enabled       bool   `yaml:"enabled" json:"enabled"`
}

// CORSConfig configures the dashboard's cross-origin policy.
type CORSConfig struct {
	Enabled bool     `yaml:"enabled" json:"enabled"`
	Origins []string `yaml:"origins" json:"origins"`
	Methods []string `yaml:"methods" json:"methods"`
	Headers []string `yaml:"headers" json:"headers"`
}

// DashboardConfig configures the read-only HTTP API.
type DashboardConfig struct {
	Host     string         `yaml:"host" json:"host"`
	Port     int            `yaml:"port" json:"port"`
	Database DatabaseConfig `yaml:"database" json:"database"`
	JWT      JWTConfig      `yaml:"jwt" json:"jwt"`
	Operator OperatorConfig `yaml:"operator" json:"operator"`
	ACME     ACMEConfig     `yaml:"acme" json:"acme"`
	CORS     CORSConfig     `yaml:"cors" json:"cors"`
}

var globalConfig *Config

// Load reads ./configs/<HOSTWATCH_ENV>.yaml (defaulting to "development"),
// applies environment-variable overrides, auto-generates a JWT secret
// outside production, validates the result, and caches it for Get.
func Load() (*Config, error) {
	environment := os.Getenv("HOSTWATCH_ENV")
	if environment == "" {
		environment = "development"
	}

	configPath := fmt.Sprintf("./configs/%s.yaml", environment)

	cfg := &Config{}
	if !fileExists(configPath) {
		return nil, &hosterr.ConfigError{Field: "configPath", Err: fmt.Errorf("config file not found: %s", configPath)}
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, &hosterr.ConfigError{Field: "configPath", Err: err}
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, &hosterr.ConfigError{Field: "configPath", Err: err}
	}

	overrideWithEnv(cfg)

	if cfg.Dashboard.JWT.Secret == "" && environment != "production" {
		secret, err := generateRandomSecret(32)
		if err != nil {
			return nil, &hosterr.ConfigError{Field: "dashboard.jwt.secret", Err: err}
		}
		cfg.Dashboard.JWT.Secret = secret
	}

	if err := validate(cfg, environment); err != nil {
		return nil, &hosterr.ConfigError{Field: "(validate)", Err: err}
	}

	globalConfig = cfg
	return cfg, nil
}

// Get returns the configuration cached by the last successful Load call.
func Get() *Config {
	if globalConfig == nil {
		panic("configuración no cargada: llame a Load() primero")
	}
	return globalConfig
}

func overrideWithEnv(cfg *Config) {
	if val := os.Getenv("HOSTWATCH_PORTSCAN_HOST"); val != "" {
		cfg.PortScan.Host = val
	}
	if val := os.Getenv("HOSTWATCH_PORTSCAN_SPEC"); val != "" {
		cfg.PortScan.PortSpec = val
	}
	if val := os.Getenv("HOSTWATCH_PROCMON_CPU_THRESHOLD"); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			cfg.ProcessMonitor.CPUThreshold = f
		}
	}
	if val := os.Getenv("HOSTWATCH_PROCMON_RAM_THRESHOLD"); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			cfg.ProcessMonitor.RAMThreshold = f
		}
	}
	if val := os.Getenv("HOSTWATCH_FSMON_CHANGE_THRESHOLD"); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			cfg.FilesystemMonitor.ChangeThresholdPercent = f
		}
	}
	if val := os.Getenv("HOSTWATCH_DASHBOARD_HOST"); val != "" {
		cfg.Dashboard.Host = val
	}
	if val := os.Getenv("HOSTWATCH_DASHBOARD_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			cfg.Dashboard.Port = port
		}
	}
	if val := os.Getenv("HOSTWATCH_JWT_SECRET"); val != "" {
		cfg.Dashboard.JWT.Secret = val
	}
	if val := os.Getenv("HOSTWATCH_DB_PATH"); val != "" {
		cfg.Dashboard.Database.Path = val
	}
	if val := os.Getenv("HOSTWATCH_ACME_EMAIL"); val != "" {
		cfg.Dashboard.ACME.Email = val
	}
	if val := os.Getenv("HOSTWATCH_ACME_ENABLED"); val != "" {
		cfg.Dashboard.ACME.Enabled = strings.EqualFold(val, "true")
	}
}

func validate(cfg *Config, environment string) error {
	if cfg.PortScan.Host == "" {
		return fmt.Errorf("port_scan.host cannot be empty")
	}
	if cfg.Dashboard.Host == "" {
		return fmt.Errorf("dashboard.host cannot be empty")
	}
	if cfg.Dashboard.Port <= 0 || cfg.Dashboard.Port > 65535 {
		return fmt.Errorf("invalid dashboard.port: %d", cfg.Dashboard.Port)
	}
	if cfg.Dashboard.Database.Path == "" {
		return fmt.Errorf("dashboard.database.path cannot be empty")
	}
	if environment == "production" && cfg.Dashboard.JWT.Secret == "" {
		return fmt.Errorf("dashboard.jwt.secret is required in the production environment")
	}
	if environment == "production" && cfg.Dashboard.Operator.PasswordHash == "" {
		return fmt.Errorf("dashboard.operator.password_hash is required in the production environment")
	}
	return nil
}

// generateRandomSecret returns a cryptographically random hex-encoded
// secret, length bytes of entropy before encoding.
func generateRandomSecret(length int) (string, error) {
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate random secret: %w", err)
	}
	return hex.EncodeToString(b), nil
}

func fileExists(filename string) bool {
	info, err := os.Stat(filename)
	if os.IsNotExist(err) {
		return false
	}
	return err == nil && !info.IsDir()
}

// ProcessMonitorFileConfig is the legacy line-oriented configuration surface
// the process monitor reads in addition to the YAML tree, matching
// process_monitor_daemon.c's load_configuration exactly: KEY = VALUE pairs,
// '#'-prefixed and blank lines ignored, malformed lines warned (not fatal).
type ProcessMonitorFileConfig struct {
	CPUThreshold       float64
	RAMThreshold       float64
	SampleIntervalSecs int
	MinSecondsForAlert int
}

// defaultProcessMonitorFileConfig mirrors load_configuration's hard-coded
// defaults (DEFAULT_CPU_THRESHOLD, DEFAULT_RAM_THRESHOLD, SAMPLE_INTERVAL,
// MIN_SECONDS_FOR_ALERT).
func defaultProcessMonitorFileConfig() ProcessMonitorFileConfig {
	return ProcessMonitorFileConfig{
		CPUThreshold:       70.0,
		RAMThreshold:       50.0,
		SampleIntervalSecs: 1,
		MinSecondsForAlert: 2,
	}
}

// LoadProcessMonitorFile reads path as a KEY = VALUE file. A missing file is
// not an error: the source's load_configuration silently falls back to its
// defaults when monitor_config.conf is absent, and this keeps that
// behaviour.
func LoadProcessMonitorFile(path string) (ProcessMonitorFileConfig, error) {
	cfg := defaultProcessMonitorFileConfig()

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, &hosterr.ConfigError{Field: path, Err: err}
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			log.Printf("Advertencia: Línea de configuración inválida en '%s': %s", path, line)
			continue
		}
		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		switch key {
		case "CPU_THRESHOLD":
			if f, err := strconv.ParseFloat(value, 64); err == nil {
				cfg.CPUThreshold = f
			}
		case "RAM_THRESHOLD":
			if f, err := strconv.ParseFloat(value, 64); err == nil {
				cfg.RAMThreshold = f
			}
		case "SAMPLE_INTERVAL":
			if i, err := strconv.Atoi(value); err == nil {
				cfg.SampleIntervalSecs = i
			}
		case "MIN_SECONDS_FOR_ALERT":
			if i, err := strconv.Atoi(value); err == nil {
				cfg.MinSecondsForAlert = i
			}
		default:
			log.Printf("Advertencia: clave de configuración desconocida en '%s': %s", path, key)
		}
	}
	if err := scanner.Err(); err != nil {
		return cfg, &hosterr.ConfigError{Field: path, Err: err}
	}

	return cfg, nil
}
