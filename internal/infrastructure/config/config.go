package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the root process configuration for the bridge.
//
// This is the operator-facing configuration (listen address, data
// directory, SQLite path, MQTT broker, logging). The entity document —
// boards, lights, shutters, thermostats, gateway endpoint, API token —
// is a separate JSON file managed over HTTP and is deliberately not
// represented here.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Data     DataConfig     `yaml:"data"`
	Database DatabaseConfig `yaml:"database"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig contains HTTP listener settings.
type ServerConfig struct {
	Host   string `yaml:"host"`
	Port   int    `yaml:"port"`
	WebDir string `yaml:"web_dir"`
}

// DataConfig locates the persisted JSON documents.
type DataConfig struct {
	// Dir is the directory holding config.json and state.json.
	// Created on startup if absent.
	Dir string `yaml:"dir"`
}

// DatabaseConfig contains SQLite settings for the command audit trail.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains the optional state publisher settings.
// The publisher is disabled unless Enabled is true.
type MQTTConfig struct {
	Enabled     bool           `yaml:"enabled"`
	Broker      BrokerConfig   `yaml:"broker"`
	Auth        MQTTAuthConfig `yaml:"auth"`
	QoS         int            `yaml:"qos"`
	TopicPrefix string         `yaml:"topic_prefix"`
}

// BrokerConfig contains MQTT broker connection details.
type BrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// HTTP listen port bounds.
const (
	minPort = 1
	maxPort = 65535
)

// Load reads the process configuration.
//
// Loading order:
//  1. Hardcoded defaults
//  2. YAML file values (if the file exists)
//  3. Environment variable overrides
//
// A missing file is not an error: the bridge must boot on a bare device
// with defaults only. Environment variables follow the pattern
// DOMOBRIDGE_SECTION_KEY (e.g. DOMOBRIDGE_DATA_DIR); PORT alone
// overrides the HTTP listen port and is clamped to [1, 65535].
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	case errors.Is(err, os.ErrNotExist):
		// Defaults only.
	default:
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with defaults suitable for a LAN device.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:   "0.0.0.0",
			Port:   8080,
			WebDir: "./web",
		},
		Data: DataConfig{
			Dir: "./data",
		},
		Database: DatabaseConfig{
			Path:        "./data/domobridge.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Enabled: false,
			Broker: BrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "domobridge",
			},
			QoS:         1,
			TopicPrefix: "domobridge",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides.
func applyEnvOverrides(cfg *Config) {
	// PORT is the conventional listener override on small devices.
	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = clampPort(port)
		}
	}

	if v := os.Getenv("DOMOBRIDGE_SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("DOMOBRIDGE_DATA_DIR"); v != "" {
		cfg.Data.Dir = v
	}
	if v := os.Getenv("DOMOBRIDGE_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("DOMOBRIDGE_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("DOMOBRIDGE_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("DOMOBRIDGE_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}
	if v := os.Getenv("DOMOBRIDGE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// clampPort confines a port number to the valid TCP range.
func clampPort(port int) int {
	if port < minPort {
		return minPort
	}
	if port > maxPort {
		return maxPort
	}
	return port
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Port < minPort || c.Server.Port > maxPort {
		errs = append(errs, "server.port must be between 1 and 65535")
	}
	if c.Data.Dir == "" {
		errs = append(errs, "data.dir is required")
	}
	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.Enabled && c.MQTT.TopicPrefix == "" {
		errs = append(errs, "mqtt.topic_prefix is required when mqtt is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}
	return nil
}
