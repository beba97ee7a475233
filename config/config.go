package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config captures the runtime settings for the risk-core daemon.
type Config struct {
	ListenAddress string        `yaml:"listen"`
	Store         StoreConfig   `yaml:"store"`
	Auth          AuthConfig    `yaml:"auth"`
	Oracle        OracleConfig  `yaml:"oracle"`
	Telemetry     OtelConfig    `yaml:"telemetry"`
	ParamsPath    string        `yaml:"params"`
	HoldPeriod    time.Duration `yaml:"hold_period"`
}

// StoreConfig locates the persistent position database.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// AuthConfig lists the bearer tokens accepted on admin methods.
type AuthConfig struct {
	APITokens []string `yaml:"api_tokens"`
}

// OracleConfig describes the external feed endpoints wired at startup.
type OracleConfig struct {
	Feeds  []FeedConfig  `yaml:"feeds"`
	MaxAge time.Duration `yaml:"max_age"`
}

// FeedConfig is one HTTP price endpoint. Symbols maps on-chain asset
// addresses (hex) to the endpoint's ticker symbols.
type FeedConfig struct {
	Name     string            `yaml:"name"`
	Endpoint string            `yaml:"endpoint"`
	APIKey   string            `yaml:"api_key"`
	InUSD    bool              `yaml:"in_usd"`
	Symbols  map[string]string `yaml:"symbols"`
}

// OtelConfig points the OTLP exporters at a collector. An empty endpoint
// disables export.
type OtelConfig struct {
	Endpoint string            `yaml:"endpoint"`
	Insecure bool              `yaml:"insecure"`
	Headers  map[string]string `yaml:"headers"`
}

// Load reads the YAML configuration from disk and validates the result.
func Load(path string) (Config, error) {
	cfg := Config{
		ListenAddress: ":8661",
		Store:         StoreConfig{Path: "riskcore.db"},
	}
	if path == "" {
		return cfg, fmt.Errorf("config path required")
	}
	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	if err := decoder.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (cfg *Config) normalize() {
	if cfg == nil {
		return
	}
	cfg.ListenAddress = strings.TrimSpace(cfg.ListenAddress)
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":8661"
	}
	cfg.Store.Path = strings.TrimSpace(cfg.Store.Path)
	if cfg.Store.Path == "" {
		cfg.Store.Path = "riskcore.db"
	}
	cfg.ParamsPath = strings.TrimSpace(cfg.ParamsPath)
	cfg.Auth.normalize()
	cfg.Oracle.normalize()
	cfg.Telemetry.Endpoint = strings.TrimSpace(cfg.Telemetry.Endpoint)
}

func (cfg *Config) validate() error {
	if cfg == nil {
		return fmt.Errorf("configuration is missing")
	}
	if err := cfg.Auth.validate(); err != nil {
		return fmt.Errorf("auth: %w", err)
	}
	if err := cfg.Oracle.validate(); err != nil {
		return fmt.Errorf("oracle: %w", err)
	}
	if cfg.HoldPeriod < 0 {
		return fmt.Errorf("hold_period must not be negative")
	}
	return nil
}

func (cfg *AuthConfig) normalize() {
	if cfg == nil {
		return
	}
	tokens := make([]string, 0, len(cfg.APITokens))
	for _, token := range cfg.APITokens {
		if trimmed := strings.TrimSpace(token); trimmed != "" {
			tokens = append(tokens, trimmed)
		}
	}
	cfg.APITokens = tokens
}

func (cfg AuthConfig) validate() error {
	if len(cfg.APITokens) == 0 {
		return fmt.Errorf("at least one api token must be configured")
	}
	return nil
}

func (cfg *OracleConfig) normalize() {
	if cfg == nil {
		return
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = 15 * time.Minute
	}
	feeds := cfg.Feeds[:0]
	for _, feed := range cfg.Feeds {
		feed.Name = strings.ToLower(strings.TrimSpace(feed.Name))
		feed.Endpoint = strings.TrimSpace(feed.Endpoint)
		feed.APIKey = strings.TrimSpace(feed.APIKey)
		if feed.Name == "" && feed.Endpoint == "" {
			continue
		}
		feeds = append(feeds, feed)
	}
	cfg.Feeds = feeds
}

func (cfg OracleConfig) validate() error {
	seen := make(map[string]struct{}, len(cfg.Feeds))
	for _, feed := range cfg.Feeds {
		if feed.Name == "" {
			return fmt.Errorf("feed name required")
		}
		if feed.Endpoint == "" {
			return fmt.Errorf("feed %s: endpoint required", feed.Name)
		}
		if _, dup := seen[feed.Name]; dup {
			return fmt.Errorf("feed %s: duplicate name", feed.Name)
		}
		seen[feed.Name] = struct{}{}
	}
	return nil
}
