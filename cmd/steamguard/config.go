package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jeremyhahn/go-steamguard/pkg/secret"
	"github.com/jeremyhahn/go-steamguard/pkg/steamguard"
)

// fileConfig is the optional YAML configuration file.
type fileConfig struct {
	Secret   string `yaml:"secret"`   // Encoded shared secret
	Encoding string `yaml:"encoding"` // hex, base32 or base64; empty guesses
	Endpoint string `yaml:"endpoint"` // Time endpoint override
	Timeout  string `yaml:"timeout"`  // Sync request timeout, e.g. "10s"
	Sync     string `yaml:"sync"`     // default, disabled or force
	Debug    bool   `yaml:"debug"`    // Enable debug logging
}

// settings is the merged result of the config file and flags.
type settings struct {
	secret   string
	encoding secret.Encoding
	endpoint string
	timeout  time.Duration
	sync     steamguard.SyncMode
	debug    bool
}

var syncModes = map[string]steamguard.SyncMode{
	"":         steamguard.SyncDefault,
	"default":  steamguard.SyncDefault,
	"disabled": steamguard.SyncDisabled,
	"force":    steamguard.SyncForce,
}

// loadConfig reads a YAML configuration file. An empty path yields the
// zero configuration.
func loadConfig(path string) (*fileConfig, error) {
	var cfg fileConfig
	if path == "" {
		return &cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	return &cfg, nil
}

// toSettings validates the file values.
func (c *fileConfig) toSettings() (*settings, error) {
	s := &settings{
		secret:   c.Secret,
		encoding: secret.Encoding(c.Encoding),
		endpoint: c.Endpoint,
		debug:    c.Debug,
	}

	if err := s.encoding.Validate(); err != nil {
		return nil, err
	}

	mode, ok := syncModes[c.Sync]
	if !ok {
		return nil, fmt.Errorf("invalid sync mode %q: expected default, disabled or force", c.Sync)
	}
	s.sync = mode

	if c.Timeout != "" {
		d, err := time.ParseDuration(c.Timeout)
		if err != nil {
			return nil, fmt.Errorf("invalid timeout %q: %w", c.Timeout, err)
		}
		s.timeout = d
	}
	return s, nil
}
