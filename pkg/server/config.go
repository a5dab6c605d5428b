package server

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds relay server configuration.
type Config struct {
	Host         string        // bind address for both transports (e.g. "0.0.0.0")
	StreamPort   int           // TCP chat port
	DatagramPort int           // UDP chat port
	MetricsAddr  string        // HTTP bind address for /metrics and /status (empty = disabled)
	IdleTimeout  time.Duration // evict datagram bindings idle this long; 0 keeps them forever
	LogLevel     string        // "debug", "info", "warn", "error"
	LogFormat    string        // "text" or "json"
}

// DefaultConfig returns a config with the stock defaults: all
// interfaces, TCP 9090, UDP 9091, no datagram eviction.
func DefaultConfig() Config {
	return Config{
		Host:         "0.0.0.0",
		StreamPort:   9090,
		DatagramPort: 9091,
		MetricsAddr:  ":9092",
		LogLevel:     "info",
		LogFormat:    "text",
	}
}

// StreamAddr returns the TCP bind address.
func (c Config) StreamAddr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.StreamPort))
}

// DatagramAddr returns the UDP bind address.
func (c Config) DatagramAddr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.DatagramPort))
}

// fileConfig is the YAML shape of an operator config file.
type fileConfig struct {
	Host         string `yaml:"host"`
	StreamPort   int    `yaml:"stream_port"`
	DatagramPort int    `yaml:"datagram_port"`
	MetricsAddr  string `yaml:"metrics_addr"`
	IdleTimeout  string `yaml:"idle_timeout"` // Go duration string, e.g. "90s"
	Log          struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

// LoadConfig reads a YAML config file, applying its values over the
// defaults. Absent fields keep their default.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path) //nolint:gosec // path from user-provided CLI config
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}

	if fc.Host != "" {
		cfg.Host = fc.Host
	}
	if fc.StreamPort != 0 {
		cfg.StreamPort = fc.StreamPort
	}
	if fc.DatagramPort != 0 {
		cfg.DatagramPort = fc.DatagramPort
	}
	if fc.MetricsAddr != "" {
		cfg.MetricsAddr = fc.MetricsAddr
	}
	if fc.IdleTimeout != "" {
		d, err := time.ParseDuration(fc.IdleTimeout)
		if err != nil {
			return cfg, fmt.Errorf("parse config: idle_timeout: %w", err)
		}
		cfg.IdleTimeout = d
	}
	if fc.Log.Level != "" {
		cfg.LogLevel = fc.Log.Level
	}
	if fc.Log.Format != "" {
		cfg.LogFormat = fc.Log.Format
	}
	return cfg, nil
}
