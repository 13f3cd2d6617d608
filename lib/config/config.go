// Copyright 2026 The pskd Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// EnvironmentVariable names the file Load reads.
const EnvironmentVariable = "PSKD_CONFIG"

// Environment represents the deployment environment.
type Environment string

const (
	// Development is for local testing.
	Development Environment = "development"
	// Production is for deployed daemons.
	Production Environment = "production"
)

// Config is the pskd daemon configuration.
type Config struct {
	// Environment selects which override section applies.
	Environment Environment `yaml:"environment"`

	// Control configures the control socket.
	Control ControlConfig `yaml:"control"`

	// Keypair names the static key files loaded at startup. When both
	// are empty the daemon waits for supply_keypair instead.
	Keypair KeypairConfig `yaml:"keypair"`

	// Listen lists UDP addresses bound at startup, in addition to any
	// sockets handed over the control socket later.
	Listen []string `yaml:"listen"`

	// Broker configures the daemon's PSK broker clients.
	Broker BrokerConfig `yaml:"broker"`

	// Log configures the daemon logger.
	Log LogConfig `yaml:"log"`

	Development *ConfigOverrides `yaml:"development,omitempty"`
	Production  *ConfigOverrides `yaml:"production,omitempty"`
}

// ConfigOverrides contains fields that can be overridden per environment.
type ConfigOverrides struct {
	Control *ControlConfig `yaml:"control,omitempty"`
	Broker  *BrokerConfig  `yaml:"broker,omitempty"`
	Log     *LogConfig     `yaml:"log,omitempty"`
}

// ControlConfig configures the control socket.
type ControlConfig struct {
	// SocketPath is where the daemon listens for control connections.
	// Default: /run/pskd/control.sock
	SocketPath string `yaml:"socket_path"`

	// StreamFD is an inherited, already connected control stream. When
	// set (>= 0) the daemon serves that stream instead of listening on
	// SocketPath. Default: -1
	StreamFD int `yaml:"stream_fd"`
}

// KeypairConfig names the static key files.
type KeypairConfig struct {
	SecretKey string `yaml:"secret_key"`
	PublicKey string `yaml:"public_key"`
}

// BrokerConfig configures PSK broker clients.
type BrokerConfig struct {
	// RequestTimeout bounds one SetPsk round trip.
	// Default: 5s
	RequestTimeout string `yaml:"request_timeout"`
}

// LogConfig configures logging.
type LogConfig struct {
	// Level is one of debug, info, warn, error. Default: info
	Level string `yaml:"level"`

	// Format is text or json. Default: text (development), json
	// (production)
	Format string `yaml:"format"`
}

// Default returns the configuration used when no file is given, and the
// base that a loaded file is merged into.
func Default() *Config {
	return &Config{
		Environment: Development,
		Control: ControlConfig{
			SocketPath: "/run/pskd/control.sock",
			StreamFD:   -1,
		},
		Broker: BrokerConfig{
			RequestTimeout: "5s",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load loads configuration from the file named by PSKD_CONFIG.
func Load() (*Config, error) {
	configPath := os.Getenv(EnvironmentVariable)
	if configPath == "" {
		return nil, fmt.Errorf("%s environment variable not set; "+
			"set it to the path of your pskd.yaml config file, or use --config flag", EnvironmentVariable)
	}
	return LoadFile(configPath)
}

// LoadFile loads configuration from path, merged over Default.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	if err := cfg.loadFile(path); err != nil {
		return nil, err
	}
	cfg.applyEnvironmentOverrides()
	cfg.expandVariables()

	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		// JSON is YAML once comments and trailing commas are gone.
		data = jsonc.ToJSON(data)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing config %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnvironmentOverrides() {
	var overrides *ConfigOverrides

	switch c.Environment {
	case Development:
		overrides = c.Development
	case Production:
		overrides = c.Production
		if overrides == nil {
			overrides = &ConfigOverrides{
				Log: &LogConfig{Format: "json"},
			}
		}
	}

	if overrides == nil {
		return
	}

	if overrides.Control != nil {
		if overrides.Control.SocketPath != "" {
			c.Control.SocketPath = overrides.Control.SocketPath
		}
		// An absent stream_fd decodes as 0, so stdin cannot be selected
		// from an override section.
		if overrides.Control.StreamFD > 0 {
			c.Control.StreamFD = overrides.Control.StreamFD
		}
	}

	if overrides.Broker != nil && overrides.Broker.RequestTimeout != "" {
		c.Broker.RequestTimeout = overrides.Broker.RequestTimeout
	}

	if overrides.Log != nil {
		if overrides.Log.Level != "" {
			c.Log.Level = overrides.Log.Level
		}
		if overrides.Log.Format != "" {
			c.Log.Format = overrides.Log.Format
		}
	}
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in paths.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"HOME": os.Getenv("HOME"),
	}

	c.Control.SocketPath = expandVars(c.Control.SocketPath, vars)
	c.Keypair.SecretKey = expandVars(c.Keypair.SecretKey, vars)
	c.Keypair.PublicKey = expandVars(c.Keypair.PublicKey, vars)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}

		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Environment != Development && c.Environment != Production {
		errs = append(errs, fmt.Errorf("invalid environment: %s", c.Environment))
	}

	if c.Control.SocketPath == "" && c.Control.StreamFD < 0 {
		errs = append(errs, fmt.Errorf("control.socket_path or control.stream_fd is required"))
	}

	if (c.Keypair.SecretKey == "") != (c.Keypair.PublicKey == "") {
		errs = append(errs, fmt.Errorf("keypair.secret_key and keypair.public_key must be set together"))
	}

	for _, address := range c.Listen {
		if _, _, err := net.SplitHostPort(address); err != nil {
			errs = append(errs, fmt.Errorf("listen address %q: %w", address, err))
		}
	}

	if _, err := c.BrokerTimeout(); err != nil {
		errs = append(errs, err)
	}

	if _, err := c.LogLevel(); err != nil {
		errs = append(errs, err)
	}
	formats := []string{"text", "json"}
	if !slices.Contains(formats, c.Log.Format) {
		errs = append(errs, fmt.Errorf("log.format must be one of: %v", formats))
	}

	return errors.Join(errs...)
}

// HasKeypair reports whether the configuration names key files.
func (c *Config) HasKeypair() bool {
	return c.Keypair.SecretKey != "" && c.Keypair.PublicKey != ""
}

// BrokerTimeout parses Broker.RequestTimeout.
func (c *Config) BrokerTimeout() (time.Duration, error) {
	timeout, err := time.ParseDuration(c.Broker.RequestTimeout)
	if err != nil {
		return 0, fmt.Errorf("broker.request_timeout: %w", err)
	}
	if timeout <= 0 {
		return 0, fmt.Errorf("broker.request_timeout must be positive, got %s", timeout)
	}
	return timeout, nil
}

// LogLevel parses Log.Level.
func (c *Config) LogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return 0, fmt.Errorf("log.level: %w", err)
	}
	return level, nil
}
