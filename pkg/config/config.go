// Package config loads and persists texgrep configuration from TOML.
package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed config.toml.sample
var configTemplate string

// Provider names accepted in the configuration.
const (
	ProviderOpenSearch = "opensearch"
	ProviderZoekt      = "zoekt"
	ProviderSQLite     = "sqlite"
	ProviderMemory     = "memory"
)

// Config is the top-level texgrep configuration.
type Config struct {
	// Provider selects the search backend: opensearch, zoekt, sqlite or
	// memory.
	Provider string `toml:"provider"`

	// SnippetLines is the number of context lines rendered on each side
	// of a match.
	SnippetLines int `toml:"snippet_lines"`

	// StorageDir holds the sqlite database and ingest scratch space.
	StorageDir string `toml:"storage_dir"`

	// ListenAddr is the HTTP API listen address for `texgrep serve`.
	ListenAddr string `toml:"listen_addr"`

	OpenSearch OpenSearchConfig `toml:"opensearch"`
	Zoekt      ZoektConfig      `toml:"zoekt"`
	RateLimit  RateLimitConfig  `toml:"ratelimit"`
}

// OpenSearchConfig configures the index-engine backend.
type OpenSearchConfig struct {
	Host    string   `toml:"host"`
	Index   string   `toml:"index"`
	Timeout Duration `toml:"timeout"`
}

// ZoektConfig configures the remote code-search daemon backend.
type ZoektConfig struct {
	URL     string   `toml:"url"`
	Timeout Duration `toml:"timeout"`
}

// RateLimitConfig bounds the search API request rate per client.
type RateLimitConfig struct {
	RPS   float64 `toml:"rps"`
	Burst int     `toml:"burst"`
}

// Duration wraps time.Duration with TOML text marshaling ("2s", "500ms").
type Duration struct {
	time.Duration
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// GetDefaultConfig returns a configuration with every field defaulted.
func GetDefaultConfig() (*Config, error) {
	storageDir, err := GetDefaultStorageDir()
	if err != nil {
		return nil, fmt.Errorf("getting default storage directory: %w", err)
	}
	cfg := &Config{StorageDir: storageDir}
	cfg.applyDefaults()
	return cfg, nil
}

// LoadConfig reads a TOML configuration file, filling defaults for missing
// fields. A missing file yields the default configuration.
func LoadConfig(configPath string) (*Config, error) {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return GetDefaultConfig()
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var config Config
	if err := toml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if config.StorageDir == "" {
		storageDir, err := GetDefaultStorageDir()
		if err != nil {
			return nil, fmt.Errorf("getting default storage directory: %w", err)
		}
		config.StorageDir = storageDir
	}
	config.applyDefaults()

	if err := config.validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.Provider == "" {
		c.Provider = ProviderSQLite
	}
	if c.SnippetLines <= 0 {
		c.SnippetLines = 8
	}
	if c.ListenAddr == "" {
		c.ListenAddr = ":8080"
	}
	if c.OpenSearch.Host == "" {
		c.OpenSearch.Host = "http://localhost:9200"
	}
	if c.OpenSearch.Index == "" {
		c.OpenSearch.Index = "texgrep"
	}
	if c.OpenSearch.Timeout.Duration == 0 {
		c.OpenSearch.Timeout = Duration{5 * time.Second}
	}
	if c.Zoekt.URL == "" {
		c.Zoekt.URL = "http://zoekt:6070"
	}
	if c.Zoekt.Timeout.Duration == 0 {
		c.Zoekt.Timeout = Duration{2 * time.Second}
	}
	if c.RateLimit.RPS <= 0 {
		c.RateLimit.RPS = 5
	}
	if c.RateLimit.Burst <= 0 {
		c.RateLimit.Burst = 10
	}
}

func (c *Config) validate() error {
	switch c.Provider {
	case ProviderOpenSearch, ProviderZoekt, ProviderSQLite, ProviderMemory:
		return nil
	default:
		return fmt.Errorf("unknown provider %q", c.Provider)
	}
}

// SaveConfig writes the configuration as TOML.
func (c *Config) SaveConfig(configPath string) error {
	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	data, err := toml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	return os.WriteFile(configPath, data, 0o644)
}

// SaveTemplateConfig writes the commented sample configuration, with the
// storage directory placeholder substituted.
func (c *Config) SaveTemplateConfig(configPath string) error {
	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	storageDir := c.StorageDir
	if storageDir == "" {
		var err error
		storageDir, err = GetDefaultStorageDir()
		if err != nil {
			return fmt.Errorf("getting default storage directory: %w", err)
		}
	}
	template := fmt.Sprintf(configTemplate, storageDir)
	return os.WriteFile(configPath, []byte(template), 0o644)
}

// GetDefaultStorageDir returns (and creates) the default data directory,
// honoring XDG_DATA_HOME.
func GetDefaultStorageDir() (string, error) {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("getting user home directory: %w", err)
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	dir := filepath.Join(dataDir, "texgrep")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating storage directory %s: %w", dir, err)
	}
	return dir, nil
}

// GetDefaultConfigPath returns the default configuration file path,
// honoring XDG_CONFIG_HOME.
func GetDefaultConfigPath() (string, error) {
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("getting user home directory: %w", err)
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	dir := filepath.Join(configDir, "texgrep")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating config directory %s: %w", dir, err)
	}
	return filepath.Join(dir, "config.toml"), nil
}
