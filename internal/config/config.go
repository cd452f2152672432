// Package config handles configuration loading and validation for imbrokerd.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Version is the current configuration schema version.
const Version = 1

// Config holds the complete daemon configuration.
type Config struct {
	// Version is the configuration schema version.
	Version int `toml:"version" json:"version" yaml:"version"`

	// Bus configuration for the D-Bus service.
	Bus BusConfig `toml:"bus" json:"bus" yaml:"bus"`

	// Broker configuration for the context broker.
	Broker BrokerConfig `toml:"broker" json:"broker" yaml:"broker"`

	// Logging configuration.
	Logging LoggingConfig `toml:"logging" json:"logging" yaml:"logging"`

	// Metrics configuration for the metrics and health endpoints.
	Metrics MetricsConfig `toml:"metrics" json:"metrics" yaml:"metrics"`
}

// BusConfig holds D-Bus connection and naming configuration.
type BusConfig struct {
	// Address is "session", "system" or an explicit bus address.
	Address string `toml:"address" json:"address" yaml:"address"`

	// ServiceName is the well-known name the broker claims.
	ServiceName string `toml:"service_name" json:"service_name" yaml:"service_name"`

	// ObjectPath is where the broker object is exported.
	ObjectPath string `toml:"object_path" json:"object_path" yaml:"object_path"`

	// Interface is the interface clients call.
	Interface string `toml:"interface" json:"interface" yaml:"interface"`

	// ClientInterface is the interface of each client's input-context object.
	ClientInterface string `toml:"client_interface" json:"client_interface" yaml:"client_interface"`

	// SignalBackends re-emits every backend broadcast as a bus signal.
	SignalBackends bool `toml:"signal_backends" json:"signal_backends" yaml:"signal_backends"`
}

// BrokerConfig holds broker timing configuration.
type BrokerConfig struct {
	// QueryTimeoutMs bounds the preedit rectangle query.
	QueryTimeoutMs int `toml:"query_timeout_ms" json:"query_timeout_ms" yaml:"query_timeout_ms"`

	// PingTimeoutMs bounds one liveness sweep.
	PingTimeoutMs int `toml:"ping_timeout_ms" json:"ping_timeout_ms" yaml:"ping_timeout_ms"`

	// SweepIntervalSec is the liveness sweep period in seconds.
	// Set to 0 to disable sweeping.
	SweepIntervalSec int `toml:"sweep_interval_sec" json:"sweep_interval_sec" yaml:"sweep_interval_sec"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error.
	Level string `toml:"level" json:"level" yaml:"level"`

	// Format is the log format: text or json.
	Format string `toml:"format" json:"format" yaml:"format"`

	// Output is stdout, stderr, file or both.
	Output string `toml:"output" json:"output" yaml:"output"`

	// FilePath is the log file when Output is file or both.
	FilePath string `toml:"file_path" json:"file_path" yaml:"file_path"`

	// MaxSizeMB is the size at which the log file is rotated.
	MaxSizeMB int `toml:"max_size_mb" json:"max_size_mb" yaml:"max_size_mb"`

	// MaxBackups is the number of rotated files kept.
	MaxBackups int `toml:"max_backups" json:"max_backups" yaml:"max_backups"`

	// Compress gzips rotated files.
	Compress bool `toml:"compress" json:"compress" yaml:"compress"`
}

// MetricsConfig holds the metrics and health endpoint configuration.
type MetricsConfig struct {
	Enabled    bool   `toml:"enabled" json:"enabled" yaml:"enabled"`
	ListenAddr string `toml:"listen_addr" json:"listen_addr" yaml:"listen_addr"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Version: Version,
		Bus: BusConfig{
			Address:         "session",
			ServiceName:     "org.maemo.duiinputmethodserver1",
			ObjectPath:      "/org/maemo/duiinputmethodserver1",
			Interface:       "org.maemo.duiinputmethodserver1",
			ClientInterface: "org.maemo.duiinputcontext1",
			SignalBackends:  true,
		},
		Broker: BrokerConfig{
			QueryTimeoutMs:   2000,
			PingTimeoutMs:    1000,
			SweepIntervalSec: 30,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     "stderr",
			FilePath:   filepath.Join(StateDir(), "imbrokerd.log"),
			MaxSizeMB:  10,
			MaxBackups: 3,
			Compress:   true,
		},
		Metrics: MetricsConfig{
			Enabled:    false,
			ListenAddr: "127.0.0.1:9464",
		},
	}
}

// Load reads configuration from the specified path.
// If the file doesn't exist, returns default configuration.
// Supports TOML, JSON, and YAML formats based on file extension. The raw
// document is checked against the embedded schema before decoding.
func Load(path string) (*Config, error) {
	if path == "" {
		path = ConfigPath()
	}

	cfg, err := loadConfigFromFile(path)
	if err != nil {
		return nil, err
	}

	// Apply environment variable overrides
	cfg.ApplyEnvOverrides()

	return cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	return ValidateConfig(c)
}

// ApplyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables are prefixed with IMBROKER_ and use underscores.
// Malformed numeric values are ignored.
func (c *Config) ApplyEnvOverrides() {
	// Bus overrides
	if v := os.Getenv("IMBROKER_BUS_ADDRESS"); v != "" {
		c.Bus.Address = v
	}
	if v := os.Getenv("IMBROKER_SERVICE_NAME"); v != "" {
		c.Bus.ServiceName = v
	}

	// Broker overrides
	if n, ok := envInt("IMBROKER_QUERY_TIMEOUT_MS"); ok {
		c.Broker.QueryTimeoutMs = n
	}
	if n, ok := envInt("IMBROKER_SWEEP_INTERVAL_SEC"); ok {
		c.Broker.SweepIntervalSec = n
	}

	// Logging overrides
	if v := os.Getenv("IMBROKER_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("IMBROKER_LOG_PATH"); v != "" {
		c.Logging.FilePath = v
	}

	// Metrics overrides
	if v := os.Getenv("IMBROKER_METRICS_ADDR"); v != "" {
		c.Metrics.Enabled = true
		c.Metrics.ListenAddr = v
	}
}

func envInt(name string) (int, bool) {
	v := os.Getenv(name)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Clone returns a copy of the configuration.
func (c *Config) Clone() *Config {
	clone := *c
	return &clone
}

// QueryTimeout returns the preedit rectangle query bound.
func (c *Config) QueryTimeout() time.Duration {
	return time.Duration(c.Broker.QueryTimeoutMs) * time.Millisecond
}

// PingTimeout returns the liveness sweep bound.
func (c *Config) PingTimeout() time.Duration {
	return time.Duration(c.Broker.PingTimeoutMs) * time.Millisecond
}

// SweepInterval returns the liveness sweep period, zero when disabled.
func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.Broker.SweepIntervalSec) * time.Second
}

// SaveConfig writes cfg to path, choosing the encoding by extension.
func SaveConfig(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("create config file: %w", err)
	}
	defer f.Close()

	switch formatOf(path) {
	case formatJSON:
		data, err := marshalJSON(cfg)
		if err != nil {
			return err
		}
		_, err = f.Write(data)
		return err
	case formatYAML:
		enc := yaml.NewEncoder(f)
		enc.SetIndent(2)
		if err := enc.Encode(cfg); err != nil {
			return fmt.Errorf("encode YAML: %w", err)
		}
		return enc.Close()
	default:
		if err := toml.NewEncoder(f).Encode(cfg); err != nil {
			return fmt.Errorf("encode TOML: %w", err)
		}
		return nil
	}
}
