// config.go - Configuration management for the zsad node
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config represents the application configuration
type Config struct {
	// File paths
	KeyDir     string `json:"key_dir"`
	LedgerPath string `json:"ledger_path"`
	WalletDir  string `json:"wallet_dir"`

	// Logging
	LogLevel string `json:"log_level"`
	LogFile  string `json:"log_file"`

	// Performance
	MaxConcurrency int `json:"max_concurrency"`
	TimeoutSeconds int `json:"timeout_seconds"`

	// Security
	EnableAudit  bool   `json:"enable_audit"`
	AuditLogPath string `json:"audit_log_path"`

	// Metrics are served on this address when set, e.g. ":9100".
	MetricsAddr string `json:"metrics_addr"`

	// Protocol
	ZSAEnabled bool `json:"zsa_enabled"`
	// SkipProofs builds bundles without Groth16 proofs and verifies signatures only.
	SkipProofs bool `json:"skip_proofs"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		KeyDir:         "keys",
		LedgerPath:     "ledger.db",
		WalletDir:      "wallets",
		LogLevel:       "info",
		LogFile:        "zsad.log",
		MaxConcurrency: 4,
		TimeoutSeconds: 300,
		EnableAudit:    true,
		AuditLogPath:   "audit.log",
		ZSAEnabled:     true,
	}
}

// LoadConfig loads configuration from file or creates default
func LoadConfig(configPath string) (*Config, error) {
	if _, err := os.Stat(configPath); err == nil {
		file, err := os.Open(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open config file: %w", err)
		}
		defer file.Close()

		config := DefaultConfig()
		if err := json.NewDecoder(file).Decode(config); err != nil {
			return nil, fmt.Errorf("failed to decode config file: %w", err)
		}
		return config, nil
	}

	config := DefaultConfig()
	if err := SaveConfig(config, configPath); err != nil {
		return nil, fmt.Errorf("failed to save default config: %w", err)
	}
	return config, nil
}

// SaveConfig saves configuration to file
func SaveConfig(config *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	file, err := os.Create(configPath)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(config); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.KeyDir == "" {
		return fmt.Errorf("key_dir must be set")
	}
	if c.LedgerPath == "" {
		return fmt.Errorf("ledger_path must be set")
	}
	if c.WalletDir == "" {
		return fmt.Errorf("wallet_dir must be set")
	}
	if c.MaxConcurrency <= 0 {
		return fmt.Errorf("max_concurrency must be positive")
	}
	if c.TimeoutSeconds <= 0 {
		return fmt.Errorf("timeout_seconds must be positive")
	}
	if c.EnableAudit && c.AuditLogPath == "" {
		return fmt.Errorf("audit_log_path must be set when auditing is enabled")
	}
	return nil
}

// Timeout is the deadline of one command.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// ProvingKeyPath is where the Groth16 proving key is kept.
func (c *Config) ProvingKeyPath() string { return filepath.Join(c.KeyDir, "action_pk.bin") }

// VerifyingKeyPath is where the Groth16 verifying key is kept.
func (c *Config) VerifyingKeyPath() string { return filepath.Join(c.KeyDir, "action_vk.bin") }

// WalletPath is the wallet file of a participant.
func (c *Config) WalletPath(name string) string {
	return filepath.Join(c.WalletDir, name+"_wallet.json")
}
