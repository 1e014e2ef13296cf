// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"gopkg.in/yaml.v3"

	"github.com/go-core-stack/mcp-stdio-bridge/pkg/logx"
)

const (
	// EnvConfigFile names an optional YAML file read before the environment.
	EnvConfigFile = "MCP_BRIDGE_CONFIG"

	defaultServerURL    = "http://localhost:8000"
	defaultLogLevel     = "info"
	defaultLogFormat    = "console"
	defaultDrainTimeout = 10 * time.Second
	defaultMaxLineSize  = 16 << 20
)

// Config captures runtime settings for the bridge.
type Config struct {
	ServerURL          string        `yaml:"server_url" env:"PAYMCP_SERVER_URL"`
	LogLevel           string        `yaml:"log_level" env:"MCP_LOG_LEVEL"`
	LogFormat          string        `yaml:"log_format" env:"MCP_LOG_FORMAT"`
	RequestTimeout     time.Duration `yaml:"request_timeout" env:"MCP_REQUEST_TIMEOUT"`
	DrainTimeout       time.Duration `yaml:"drain_timeout" env:"MCP_DRAIN_TIMEOUT"`
	MaxInFlight        int           `yaml:"max_in_flight" env:"MCP_MAX_IN_FLIGHT"`
	MaxLineSize        int           `yaml:"max_line_size" env:"MCP_MAX_LINE_SIZE"`
	InsecureSkipVerify bool          `yaml:"upstream_insecure" env:"MCP_UPSTREAM_INSECURE"`
	BearerToken        string        `yaml:"bearer_token" env:"MCP_BEARER_TOKEN"`
	APIKey             string        `yaml:"api_key" env:"MCP_API_KEY"`
	APISecret          string        `yaml:"api_secret" env:"MCP_API_SECRET"`
	MetricsAddr        string        `yaml:"metrics_addr" env:"MCP_METRICS_ADDR"`
}

// Defaults returns the configuration used when nothing else is set.
func Defaults() Config {
	return Config{
		ServerURL:    defaultServerURL,
		LogLevel:     defaultLogLevel,
		LogFormat:    defaultLogFormat,
		DrainTimeout: defaultDrainTimeout,
		MaxLineSize:  defaultMaxLineSize,
	}
}

// Load layers the optional YAML file at path and then the environment over
// Defaults. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Defaults()

	if path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return Config{}, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return Config{}, fmt.Errorf("decode environment: %w", err)
	}

	cfg.normalize()
	return cfg, nil
}

// LoadFile populates the config from a YAML file. Keys absent from the file
// keep their current values.
func (c *Config) LoadFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(b, c)
}

func (c *Config) normalize() {
	c.ServerURL = strings.TrimSpace(c.ServerURL)
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	c.LogFormat = strings.ToLower(strings.TrimSpace(c.LogFormat))
	c.BearerToken = strings.TrimSpace(c.BearerToken)
	c.APIKey = strings.TrimSpace(c.APIKey)
	c.APISecret = strings.TrimSpace(c.APISecret)
	c.MetricsAddr = strings.TrimSpace(c.MetricsAddr)
}

// Validate rejects settings the bridge cannot start with.
func (c Config) Validate() error {
	if c.ServerURL == "" {
		return errors.New("PAYMCP_SERVER_URL must not be empty")
	}
	u, err := url.Parse(c.ServerURL)
	if err != nil {
		return fmt.Errorf("invalid PAYMCP_SERVER_URL: %w", err)
	}
	if !u.IsAbs() || u.Host == "" {
		return errors.New("PAYMCP_SERVER_URL must be absolute (scheme://host)")
	}

	if _, err := logx.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("MCP_LOG_LEVEL: %w", err)
	}

	switch c.LogFormat {
	case "", "console", "json":
	default:
		return fmt.Errorf("MCP_LOG_FORMAT must be console or json, got %q", c.LogFormat)
	}

	if c.RequestTimeout < 0 {
		return errors.New("MCP_REQUEST_TIMEOUT must not be negative")
	}
	if c.DrainTimeout < 0 {
		return errors.New("MCP_DRAIN_TIMEOUT must not be negative")
	}
	if c.MaxInFlight < 0 {
		return errors.New("MCP_MAX_IN_FLIGHT must not be negative")
	}
	if c.MaxLineSize <= 0 {
		return errors.New("MCP_MAX_LINE_SIZE must be positive")
	}
	if (c.APIKey == "") != (c.APISecret == "") {
		return errors.New("MCP_API_KEY and MCP_API_SECRET must be set together")
	}
	return nil
}
