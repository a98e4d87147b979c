package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/menta2k/image-annotator/pkg/settings"
	"github.com/menta2k/image-annotator/pkg/types"
)

// EnvPrefix prefixes every environment override
const EnvPrefix = "ANNOTATOR_"

// Config holds the application configuration
type Config struct {
	Backend   BackendConfig   `json:"backend"`
	Settings  SettingsConfig  `json:"settings"`
	Discovery DiscoveryConfig `json:"discovery"`
	Session   SessionConfig   `json:"session"`
	Output    OutputConfig    `json:"output"`
}

// BackendConfig selects and configures the image analyzer
type BackendConfig struct {
	Kind           string `json:"kind"` // azure | ollama | llamacpp
	URL            string `json:"url"`
	Model          string `json:"model"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// SettingsConfig seeds the settings store. Redis is used when RedisAddr is set.
type SettingsConfig struct {
	APIKey        string `json:"api_key,omitempty"`
	APIEndpoint   string `json:"api_endpoint,omitempty"`
	Mode          string `json:"mode,omitempty"`
	RedisAddr     string `json:"redis_addr,omitempty"`
	RedisPassword string `json:"redis_password,omitempty"`
	RedisDB       int    `json:"redis_db,omitempty"`
	RedisPrefix   string `json:"redis_prefix,omitempty"`
}

// DiscoveryConfig controls which images get an affordance
type DiscoveryConfig struct {
	MinWidth     float64 `json:"min_width"`
	ProbeNatural bool    `json:"probe_natural"`
	AllowFiles   bool    `json:"allow_files"`
}

// SessionConfig controls analysis requests
type SessionConfig struct {
	LatestOnly bool `json:"latest_only"`
}

// OutputConfig holds configuration for output generation
type OutputConfig struct {
	SnapshotDir     string `json:"snapshot_dir"`
	SnapshotFormat  string `json:"snapshot_format"`
	SnapshotQuality int    `json:"snapshot_quality"`
	Lossless        bool   `json:"lossless"`
}

// Default returns a configuration with default values
func Default() *Config {
	return &Config{
		Backend: BackendConfig{
			Kind:           "azure",
			Model:          "openbmb/minicpm-v4.5:8b",
			TimeoutSeconds: 60,
		},
		Settings: SettingsConfig{
			RedisPrefix: "annotator:settings",
		},
		Discovery: DiscoveryConfig{
			MinWidth:     200,
			ProbeNatural: true,
		},
		Output: OutputConfig{
			SnapshotFormat:  "png",
			SnapshotQuality: 92,
		},
	}
}

// LoadFromFile loads configuration from a JSON file on top of the defaults
func LoadFromFile(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	if err := json.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// Load reads .env (if present), the config file (if present) and then the
// ANNOTATOR_* environment. Later sources win.
func Load(filename string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	config := Default()
	if filename != "" {
		loaded, err := LoadFromFile(filename)
		switch {
		case err == nil:
			config = loaded
		case errors.Is(err, fs.ErrNotExist):
		default:
			return nil, err
		}
	}
	if err := config.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return config, nil
}

// ApplyEnv overrides fields from environment variables
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok {
			*dst = v
		}
	}
	str("BACKEND", &c.Backend.Kind)
	str("BACKEND_URL", &c.Backend.URL)
	str("MODEL", &c.Backend.Model)
	str("API_KEY", &c.Settings.APIKey)
	str("API_ENDPOINT", &c.Settings.APIEndpoint)
	str("MODE", &c.Settings.Mode)
	str("REDIS_ADDR", &c.Settings.RedisAddr)
	str("REDIS_PASSWORD", &c.Settings.RedisPassword)
	str("REDIS_PREFIX", &c.Settings.RedisPrefix)
	str("SNAPSHOT_DIR", &c.Output.SnapshotDir)
	str("SNAPSHOT_FORMAT", &c.Output.SnapshotFormat)

	if v, ok := lookup(EnvPrefix + "REDIS_DB"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%sREDIS_DB: %w", EnvPrefix, err)
		}
		c.Settings.RedisDB = n
	}
	if v, ok := lookup(EnvPrefix + "MIN_WIDTH"); ok {
		n, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%sMIN_WIDTH: %w", EnvPrefix, err)
		}
		c.Discovery.MinWidth = n
	}
	if v, ok := lookup(EnvPrefix + "LATEST_ONLY"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%sLATEST_ONLY: %w", EnvPrefix, err)
		}
		c.Session.LatestOnly = b
	}
	return nil
}

// SaveToFile saves configuration to a JSON file
func (c *Config) SaveToFile(filename string) error {
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// may hold an API key
	if err := os.WriteFile(filename, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	switch strings.ToLower(c.Backend.Kind) {
	case "azure", "ollama", "llamacpp":
	default:
		return fmt.Errorf("backend.kind must be azure, ollama or llamacpp")
	}

	if c.Backend.TimeoutSeconds < 0 {
		return fmt.Errorf("backend.timeout_seconds must not be negative")
	}

	if c.Backend.Kind != "azure" && c.Backend.Model == "" {
		return fmt.Errorf("backend.model is required for %s", c.Backend.Kind)
	}

	if c.Settings.Mode != "" {
		if _, err := types.ParseMode(c.Settings.Mode); err != nil {
			return fmt.Errorf("settings.mode: %w", err)
		}
	}

	if c.Settings.APIEndpoint != "" {
		u, err := url.Parse(c.Settings.APIEndpoint)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("settings.api_endpoint must be an absolute URL")
		}
	}

	if c.Discovery.MinWidth < 0 {
		return fmt.Errorf("discovery.min_width must not be negative")
	}

	switch strings.ToLower(c.Output.SnapshotFormat) {
	case "png", "jpg", "jpeg", "webp":
	default:
		return fmt.Errorf("output.snapshot_format must be png, jpg or webp")
	}

	if c.Output.SnapshotQuality < 1 || c.Output.SnapshotQuality > 100 {
		return fmt.Errorf("output.snapshot_quality must be between 1 and 100")
	}

	return nil
}

// Timeout is the per-request analyzer timeout
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.Backend.TimeoutSeconds) * time.Second
}

// Seed returns the settings values to write into the store at startup.
// Only non-empty values are included so existing stored settings survive.
func (c *Config) Seed() map[string]string {
	seed := map[string]string{}
	if c.Settings.APIKey != "" {
		seed[settings.KeyAPIKey] = c.Settings.APIKey
	}
	if c.Settings.APIEndpoint != "" {
		seed[settings.KeyAPIEndpoint] = c.Settings.APIEndpoint
	}
	if c.Settings.Mode != "" {
		seed[settings.KeyMode] = c.Settings.Mode
	}
	return seed
}

// Redis returns the Redis store configuration, or false when none is configured
func (c *Config) Redis() (settings.RedisConfig, bool) {
	if c.Settings.RedisAddr == "" {
		return settings.RedisConfig{}, false
	}
	return settings.RedisConfig{
		Addr:     c.Settings.RedisAddr,
		Password: c.Settings.RedisPassword,
		DB:       c.Settings.RedisDB,
		Prefix:   c.Settings.RedisPrefix,
	}, true
}

// GetConfigPath returns the default configuration file path
func GetConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./config.json"
	}
	return filepath.Join(home, ".config", "image-annotator", "config.json")
}
