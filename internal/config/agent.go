package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigDir returns the default config directory (~/.strongbox).
func DefaultConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home directory: %w", err)
	}
	return filepath.Join(home, ".strongbox"), nil
}

// DefaultConfigPath returns the default config file path (~/.strongbox/config.yml).
func DefaultConfigPath() (string, error) {
	dir, err := DefaultConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yml"), nil
}

// EngineSettings tunes the local task execution engine. Zero values use the engine defaults.
type EngineSettings struct {
	MaxConcurrent   int           `yaml:"max_concurrent,omitempty"`
	MaxRetries      *int          `yaml:"max_retries,omitempty"`
	RetryBaseDelay  time.Duration `yaml:"retry_base_delay,omitempty"`
	RetryMaxDelay   time.Duration `yaml:"retry_max_delay,omitempty"`
	RetentionPeriod time.Duration `yaml:"retention_period,omitempty"`
}

// BackupSettings tunes how backups are packaged and uploaded.
type BackupSettings struct {
	TempDir        string `yaml:"temp_dir,omitempty"`
	ChunkThreshold int64  `yaml:"chunk_threshold,omitempty"`
}

// LinkSettings tunes the persistent connection to the server.
type LinkSettings struct {
	PingInterval time.Duration `yaml:"ping_interval,omitempty"`
	PongTimeout  time.Duration `yaml:"pong_timeout,omitempty"`
	MaxBackoff   time.Duration `yaml:"max_backoff,omitempty"`
}

// AgentConfig holds the agent's configuration.
type AgentConfig struct {
	ServerURL  string         `yaml:"server_url,omitempty"`
	APIKey     string         `yaml:"api_key,omitempty"`
	ClientID   string         `yaml:"client_id,omitempty"`
	ClientName string         `yaml:"client_name,omitempty"`
	Hostname   string         `yaml:"hostname,omitempty"`
	LogLevel   string         `yaml:"log_level,omitempty"`
	Engine     EngineSettings `yaml:"engine,omitempty"`
	Backup     BackupSettings `yaml:"backup,omitempty"`
	Link       LinkSettings   `yaml:"link,omitempty"`
}

// Validate checks that the configuration has required fields for operation.
func (c *AgentConfig) Validate() error {
	if c.ServerURL == "" {
		return errors.New("server_url is required")
	}
	if u, err := url.Parse(c.ServerURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("server_url %q must be an http or https URL", c.ServerURL)
	}
	if c.APIKey == "" {
		return errors.New("api_key is required")
	}
	if c.Engine.MaxConcurrent < 0 {
		return errors.New("engine.max_concurrent must not be negative")
	}
	if c.Engine.MaxRetries != nil && *c.Engine.MaxRetries < 0 {
		return errors.New("engine.max_retries must not be negative")
	}
	if c.Backup.ChunkThreshold < 0 {
		return errors.New("backup.chunk_threshold must not be negative")
	}
	return nil
}

// IsConfigured returns true if the agent has been registered with a server.
func (c *AgentConfig) IsConfigured() bool {
	return c.ServerURL != "" && c.APIKey != ""
}

// Load reads the configuration from the given path.
// If the file does not exist, an empty config is returned.
func Load(path string) (*AgentConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &AgentConfig{}, nil
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg AgentConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	return &cfg, nil
}

// Save writes the configuration to the given path, creating directories as needed.
func (c *AgentConfig) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	// The file holds the API key.
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}

	return nil
}
