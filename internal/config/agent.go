package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// AgentConfig configures the client license agent.
type AgentConfig struct {
	ServerURL          string        `yaml:"server_url"`
	APIKey             string        `yaml:"api_key"`
	HMACSecret         string        `yaml:"hmac_secret"`
	ServerPublicKey    string        `yaml:"server_public_key"`
	StateDir           string        `yaml:"state_dir"`
	Timeout            time.Duration `yaml:"timeout"`
	AllowInsecureRetry bool          `yaml:"allow_insecure_retry"`
	OfflineGracePeriod time.Duration `yaml:"offline_grace_period"`
	CACert             string        `yaml:"ca_cert"`
	ClientName         string        `yaml:"client_name"`
	Logging            LoggingConfig `yaml:"logging"`
}

func NewDefaultAgentConfig() AgentConfig {
	stateDir := ".keyward"
	if home, err := os.UserHomeDir(); err == nil {
		stateDir = filepath.Join(home, ".keyward")
	}
	return AgentConfig{
		ServerURL:          "http://localhost:8080",
		StateDir:           stateDir,
		Timeout:            10 * time.Second,
		OfflineGracePeriod: 30 * 24 * time.Hour,
		ClientName:         "agent",
		Logging: LoggingConfig{
			Level:  "warn",
			Format: "text",
		},
	}
}

func LoadAgentConfig(path string) (AgentConfig, error) {
	cfg := NewDefaultAgentConfig()
	if err := decodeFile(path, &cfg); err != nil {
		return cfg, err
	}
	cfg.LoadEnv()
	if cfg.ServerURL == "" {
		return cfg, fmt.Errorf("server_url is required")
	}
	if cfg.Timeout <= 0 {
		return cfg, fmt.Errorf("timeout must be positive, got %s", cfg.Timeout)
	}
	if cfg.OfflineGracePeriod < 0 {
		return cfg, fmt.Errorf("offline_grace_period must not be negative")
	}
	return cfg, nil
}

func (c *AgentConfig) LoadEnv() {
	if v := os.Getenv("KEYWARD_SERVER_URL"); v != "" {
		c.ServerURL = v
	}
	if v := os.Getenv("KEYWARD_API_KEY"); v != "" {
		c.APIKey = v
	}
	if v := os.Getenv("KEYWARD_HMAC_SECRET"); v != "" {
		c.HMACSecret = v
	}
	if v := os.Getenv("KEYWARD_SERVER_PUBLIC_KEY"); v != "" {
		c.ServerPublicKey = v
	}
	if v := os.Getenv("KEYWARD_STATE_DIR"); v != "" {
		c.StateDir = v
	}
}
