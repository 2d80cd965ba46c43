// Package config loads the zapfield configuration file and watches it
// for changes.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the full zapfield configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Store     StoreConfig     `yaml:"store"`
	Redis     RedisConfig     `yaml:"redis"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Log       LogConfig       `yaml:"log"`
}

// ServerConfig configures the fan-out HTTP listener.
type ServerConfig struct {
	Addr string `yaml:"addr"` // listen address, default ":8900"
}

// StoreConfig selects and configures the persistence backend.
type StoreConfig struct {
	// Mode is "pg" or "file". Default "file".
	Mode string `yaml:"mode"`
	// PostgresDSN is required in pg mode.
	PostgresDSN string `yaml:"postgres_dsn"`
	// DataDir holds the file-mode documents. Default "~/.zapfield".
	DataDir string `yaml:"data_dir"`
	// DeviceDB is the gateway device database path (file mode only; pg
	// mode keeps devices in Postgres). Default "<data_dir>/devices.db".
	DeviceDB string `yaml:"device_db"`
}

// RedisConfig configures the cross-node event bridge. Empty Addr
// disables the bridge and events stay node-local.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// TelemetryConfig configures trace export. Only honored by binaries
// built with the otel tag.
type TelemetryConfig struct {
	Enabled     bool              `yaml:"enabled"`
	Endpoint    string            `yaml:"endpoint"`
	Protocol    string            `yaml:"protocol"` // "grpc" or "http"
	Insecure    bool              `yaml:"insecure"`
	ServiceName string            `yaml:"service_name"`
	Headers     map[string]string `yaml:"headers"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // "text" or "json"
}

// DefaultPath returns the default config file location.
func DefaultPath() string {
	return ExpandHome("~/.zapfield/config.yaml")
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	return path
}

// Load reads and parses the config file. A missing file yields the
// defaults rather than an error, so a fresh install runs with zero
// configuration.
func Load(path string) (*Config, error) {
	cfg := defaults()

	data, err := os.ReadFile(ExpandHome(path))
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaults() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8900"
	}
	if c.Store.Mode == "" {
		c.Store.Mode = "file"
	}
	if c.Store.DataDir == "" {
		c.Store.DataDir = "~/.zapfield"
	}
	c.Store.DataDir = ExpandHome(c.Store.DataDir)
	if c.Store.DeviceDB == "" {
		c.Store.DeviceDB = filepath.Join(c.Store.DataDir, "devices.db")
	}
	c.Store.DeviceDB = ExpandHome(c.Store.DeviceDB)
	if c.Telemetry.Protocol == "" {
		c.Telemetry.Protocol = "grpc"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

func (c *Config) validate() error {
	switch c.Store.Mode {
	case "pg":
		if c.Store.PostgresDSN == "" {
			return fmt.Errorf("store.postgres_dsn is required when store.mode is pg")
		}
	case "file":
	default:
		return fmt.Errorf("unknown store.mode %q (want pg or file)", c.Store.Mode)
	}
	if c.Telemetry.Enabled && c.Telemetry.Endpoint == "" {
		return fmt.Errorf("telemetry.endpoint is required when telemetry is enabled")
	}
	return nil
}
