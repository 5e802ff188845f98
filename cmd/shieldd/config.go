// config.go - Configuration management for the shielded-pool daemon
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"shieldpool/internal/field"
	"shieldpool/internal/hashing"
	"shieldpool/internal/merkle"
)

// Config represents the application configuration
type Config struct {
	// Wallet settings
	DataDir string `json:"data_dir" toml:"data_dir" yaml:"data_dir"`
	KeyDir  string `json:"key_dir" toml:"key_dir" yaml:"key_dir"`
	Depth   int    `json:"depth" toml:"depth" yaml:"depth"`
	Hasher  string `json:"hasher" toml:"hasher" yaml:"hasher"`
	PoolID  string `json:"pool_id" toml:"pool_id" yaml:"pool_id"`

	// Pool service
	PoolAddress   string `json:"pool_address" toml:"pool_address" yaml:"pool_address"`
	ListenAddress string `json:"listen_address" toml:"listen_address" yaml:"listen_address"`
	PoolStatePath string `json:"pool_state_path" toml:"pool_state_path" yaml:"pool_state_path"`
	RootHistory   int    `json:"root_history" toml:"root_history" yaml:"root_history"`

	// Logging
	LogLevel string `json:"log_level" toml:"log_level" yaml:"log_level"`
	LogFile  string `json:"log_file" toml:"log_file" yaml:"log_file"`

	// Performance
	TimeoutSeconds int     `json:"timeout_seconds" toml:"timeout_seconds" yaml:"timeout_seconds"`
	RateLimit      float64 `json:"rate_limit" toml:"rate_limit" yaml:"rate_limit"`
	RateBurst      int     `json:"rate_burst" toml:"rate_burst" yaml:"rate_burst"`

	// Observability
	MetricsAddress string `json:"metrics_address" toml:"metrics_address" yaml:"metrics_address"`

	// Security
	EnableAudit  bool   `json:"enable_audit" toml:"enable_audit" yaml:"enable_audit"`
	AuditLogPath string `json:"audit_log_path" toml:"audit_log_path" yaml:"audit_log_path"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		DataDir:        "wallet",
		KeyDir:         "keys",
		Depth:          20,
		Hasher:         hashing.NameMiMC,
		PoolID:         "1",
		PoolAddress:    "127.0.0.1:8545",
		ListenAddress:  "127.0.0.1:8545",
		PoolStatePath:  "pool.json",
		RootHistory:    merkle.DefaultRootHistory,
		LogLevel:       "info",
		LogFile:        "shieldd.log",
		TimeoutSeconds: 120,
		RateLimit:      5,
		RateBurst:      10,
		MetricsAddress: "127.0.0.1:9464",
		EnableAudit:    true,
		AuditLogPath:   "audit.log",
	}
}

type format int

const (
	formatJSON format = iota
	formatTOML
	formatYAML
)

func formatOf(path string) format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		return formatTOML
	case ".yaml", ".yml":
		return formatYAML
	default:
		return formatJSON
	}
}

// LoadConfig loads configuration from file or creates default. The format
// follows the file extension: .toml, .yaml/.yml, anything else is JSON.
func LoadConfig(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if os.IsNotExist(err) {
		config := DefaultConfig()
		if err := SaveConfig(config, configPath); err != nil {
			return nil, fmt.Errorf("failed to save default config: %w", err)
		}
		return config, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// fields missing from the file keep their defaults
	config := DefaultConfig()
	switch formatOf(configPath) {
	case formatTOML:
		err = toml.Unmarshal(data, config)
	case formatYAML:
		err = yaml.Unmarshal(data, config)
	default:
		err = json.Unmarshal(data, config)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to decode config file: %w", err)
	}
	return config, nil
}

// SaveConfig saves configuration to file
func SaveConfig(config *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	var buf bytes.Buffer
	switch formatOf(configPath) {
	case formatTOML:
		if err := toml.NewEncoder(&buf).Encode(config); err != nil {
			return fmt.Errorf("failed to encode config: %w", err)
		}
	case formatYAML:
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(config); err != nil {
			return fmt.Errorf("failed to encode config: %w", err)
		}
		if err := enc.Close(); err != nil {
			return fmt.Errorf("failed to encode config: %w", err)
		}
	default:
		enc := json.NewEncoder(&buf)
		enc.SetIndent("", "  ")
		if err := enc.Encode(config); err != nil {
			return fmt.Errorf("failed to encode config: %w", err)
		}
	}

	if err := os.WriteFile(configPath, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir must be set")
	}
	if c.Depth < 1 || c.Depth > merkle.MaxDepth {
		return fmt.Errorf("depth must be in 1..%d", merkle.MaxDepth)
	}
	if _, err := hashing.ByName(c.Hasher); err != nil {
		return err
	}
	if _, err := c.PoolElement(); err != nil {
		return fmt.Errorf("pool_id: %w", err)
	}
	if c.RootHistory <= 0 {
		return fmt.Errorf("root_history must be positive")
	}
	if c.TimeoutSeconds <= 0 {
		return fmt.Errorf("timeout_seconds must be positive")
	}
	if c.RateLimit < 0 || c.RateBurst < 0 {
		return fmt.Errorf("rate_limit and rate_burst must not be negative")
	}
	if c.EnableAudit && c.AuditLogPath == "" {
		return fmt.Errorf("audit_log_path must be set when enable_audit is on")
	}
	return nil
}

// PoolElement parses PoolID.
func (c *Config) PoolElement() (field.Element, error) {
	return parseElement(c.PoolID)
}

// parseElement accepts 0x-prefixed hex or decimal.
func parseElement(s string) (field.Element, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		return field.FromHex(s)
	}
	return field.FromDecimal(s)
}
