package config

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"keyward/internal/models"
	"keyward/internal/security"
)

type Config struct {
	Port                      string   `yaml:"port"`
	Debug                     bool     `yaml:"debug"`
	DatabaseURL               string   `yaml:"database_url"`
	MigrationsPath            string   `yaml:"migrations_path"`
	ResponseSigningPrivateKey string   `yaml:"response_signing_private_key"`
	ResponseSigningPublicKey  string   `yaml:"response_signing_public_key"`
	TrustedProxies            []string `yaml:"trusted_proxies"`

	Security       SecurityConfig  `yaml:"security"`
	Licensing      LicensingConfig `yaml:"licensing"`
	RateLimitAdmin RateLimitConfig `yaml:"rate_limit_admin"`
	RateLimitCheck RateLimitConfig `yaml:"rate_limit_check"`
	Logging        LoggingConfig   `yaml:"logging"`
}

type SecurityConfig struct {
	JWTSecret                     string        `yaml:"jwt_secret"`
	JWTExpiration                 time.Duration `yaml:"jwt_expiration"`
	HMACSecret                    string        `yaml:"hmac_secret"`
	APIKeyRequired                bool          `yaml:"api_key_required"`
	ValidAPIKeys                  []string      `yaml:"valid_api_keys"`
	RequireEncryptedCommunication bool          `yaml:"require_encrypted_communication"`
	AllowedIPs                    []string      `yaml:"allowed_ips"`
	BlockedIPs                    []string      `yaml:"blocked_ips"`
	IssueReceipts                 bool          `yaml:"issue_receipts"`

	// EphemeralJWTSecret is set when JWTSecret was generated at load time.
	EphemeralJWTSecret bool `yaml:"-"`
}

type LicensingConfig struct {
	KeyLength                int                  `yaml:"key_length"`
	KeysPerType              int                  `yaml:"keys_per_type"`
	DefaultValidityDays      int                  `yaml:"default_validity_days"`
	LicenseTypes             []models.LicenseType `yaml:"license_types"`
	AllowMultipleActivations bool                 `yaml:"allow_multiple_activations"`
	MaxActivationsPerKey     int                  `yaml:"max_activations_per_key"`
}

type RateLimitConfig struct {
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Burst             int           `yaml:"burst"`
	Enabled           bool          `yaml:"enabled"`
	CacheSize         int           `yaml:"cache_size"`
	CacheTTL          time.Duration `yaml:"cache_ttl"`
}

type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

func Load() (Config, error) {
	return LoadFromPath("config.yaml")
}

func LoadFromPath(path string) (Config, error) {
	cfg := NewDefaultConfig()

	if err := decodeFile(path, &cfg); err != nil {
		return cfg, err
	}

	cfg.LoadEnv()

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}

	if err := cfg.ensureKeys(); err != nil {
		return cfg, err
	}

	if err := cfg.ensureSecrets(); err != nil {
		return cfg, err
	}

	return cfg, nil
}

func decodeFile(path string, out any) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()

	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return nil
}

func NewDefaultConfig() Config {
	return Config{
		Port:           "8080",
		Debug:          false,
		DatabaseURL:    "sqlite://keyward.db",
		MigrationsPath: "migrations",
		Security: SecurityConfig{
			JWTExpiration:                 24 * time.Hour,
			APIKeyRequired:                true,
			RequireEncryptedCommunication: true,
			IssueReceipts:                 true,
		},
		Licensing: LicensingConfig{
			KeyLength:            16,
			KeysPerType:          100,
			DefaultValidityDays:  30,
			LicenseTypes:         []models.LicenseType{models.LicenseTypeBusiness, models.LicenseTypePro, models.LicenseTypeStudent},
			MaxActivationsPerKey: 1,
		},
		RateLimitAdmin: RateLimitConfig{
			RequestsPerSecond: 5,
			Burst:             10,
			Enabled:           true,
			CacheSize:         5000,
			CacheTTL:          1 * time.Hour,
		},
		RateLimitCheck: RateLimitConfig{
			RequestsPerSecond: 10,
			Burst:             20,
			Enabled:           true,
			CacheSize:         5000,
			CacheTTL:          1 * time.Hour,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			MaxSizeMB:  50,
			MaxBackups: 5,
			MaxAgeDays: 30,
		},
	}
}

func (c *Config) LoadEnv() {
	if envPort := os.Getenv("PORT"); envPort != "" {
		c.Port = envPort
	}
	if envDB := os.Getenv("DATABASE_URL"); envDB != "" {
		c.DatabaseURL = envDB
	}
	if envSecret := os.Getenv("JWT_SECRET"); envSecret != "" {
		c.Security.JWTSecret = envSecret
	}
	if envHMAC := os.Getenv("HMAC_SECRET"); envHMAC != "" {
		c.Security.HMACSecret = envHMAC
	}
	if envKeys := os.Getenv("API_KEYS"); envKeys != "" {
		c.Security.ValidAPIKeys = splitList(envKeys)
	}
	if envPrivKey := os.Getenv("RESPONSE_SIGNING_PRIVATE_KEY"); envPrivKey != "" {
		c.ResponseSigningPrivateKey = envPrivKey
	}
	if envPubKey := os.Getenv("RESPONSE_SIGNING_PUBLIC_KEY"); envPubKey != "" {
		c.ResponseSigningPublicKey = envPubKey
	}
	if envLevel := os.Getenv("LOG_LEVEL"); envLevel != "" {
		c.Logging.Level = envLevel
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (c *Config) Validate() error {
	if c.Licensing.KeyLength <= 3 {
		return fmt.Errorf("licensing.key_length must be greater than 3, got %d", c.Licensing.KeyLength)
	}
	if c.Licensing.MaxActivationsPerKey < 1 {
		return fmt.Errorf("licensing.max_activations_per_key must be at least 1")
	}
	if !c.Licensing.AllowMultipleActivations && c.Licensing.MaxActivationsPerKey > 1 {
		slog.Warn("max_activations_per_key is ignored while allow_multiple_activations is false",
			"max_activations_per_key", c.Licensing.MaxActivationsPerKey)
	}
	for _, t := range c.Licensing.LicenseTypes {
		if !t.IsValid() {
			return fmt.Errorf("unknown license type in licensing.license_types: %q", t)
		}
	}
	if c.Security.APIKeyRequired && len(c.Security.ValidAPIKeys) == 0 {
		slog.Warn("api_key_required is set but no valid_api_keys are configured, every request will be rejected")
	}
	return nil
}

// ensureKeys fills in the response signing key pair. A configured private key
// is authoritative: the public half is derived from it.
func (c *Config) ensureKeys() error {
	if c.ResponseSigningPrivateKey != "" {
		priv, err := security.ParsePrivateKey(c.ResponseSigningPrivateKey)
		if err != nil {
			return fmt.Errorf("invalid response_signing_private_key: %w", err)
		}
		derived := base64.StdEncoding.EncodeToString(priv.Public().(ed25519.PublicKey))
		if c.ResponseSigningPublicKey == "" {
			c.ResponseSigningPublicKey = derived
			return nil
		}
		if c.ResponseSigningPublicKey != derived {
			return fmt.Errorf("response_signing_public_key does not match response_signing_private_key")
		}
		return nil
	}

	slog.Warn("ResponseSigningPrivateKey not found, generating ephemeral key pair. THESE KEYS WILL BE LOST ON RESTART.")

	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		return fmt.Errorf("failed to generate keys: %w", err)
	}

	c.ResponseSigningPrivateKey = base64.StdEncoding.EncodeToString(priv)
	c.ResponseSigningPublicKey = base64.StdEncoding.EncodeToString(pub)

	return nil
}

func (c *Config) ensureSecrets() error {
	if c.Security.JWTSecret == "" {
		slog.Warn("JWT secret not found, generating a random ephemeral one. THIS SECRET WILL BE LOST ON RESTART.")
		secret, err := randomSecret()
		if err != nil {
			return fmt.Errorf("failed to generate jwt secret: %w", err)
		}
		c.Security.JWTSecret = secret
		c.Security.EphemeralJWTSecret = true
	}

	if c.Security.HMACSecret == "" {
		slog.Warn("HMAC secret not found, generating a random ephemeral one. Clients cannot sign requests until it is shared.")
		secret, err := randomSecret()
		if err != nil {
			return fmt.Errorf("failed to generate hmac secret: %w", err)
		}
		c.Security.HMACSecret = secret
	}

	return nil
}

func randomSecret() (string, error) {
	secretBytes := make([]byte, 32)
	if _, err := rand.Read(secretBytes); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(secretBytes), nil
}
