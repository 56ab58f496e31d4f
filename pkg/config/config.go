// Package config holds tunable defaults and the YAML configuration file
// shape shared by the library and the demo binaries.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/chartfeed/chartfeed/pkg/logger"
)

// Cache and fetch defaults.
const (
	DefaultTTL             = 10 * time.Minute
	DefaultRetryAttempts   = 3
	DefaultRetryBackoff    = 250 * time.Millisecond
	DefaultJanitorInterval = time.Minute
	DefaultRequestTimeout  = 10 * time.Second
)

// Processing defaults.
const (
	DefaultDownsampleThreshold = 10000
)

// Demo server defaults.
const (
	DefaultPort       = "8080"
	DefaultSeedDays   = 90
	DefaultDataDir    = "./data/chartfeed"
	ServerReadTimeout = 15 * time.Second
)

// FeedConfig overrides one feed's endpoint and processing settings.
type FeedConfig struct {
	Endpoint            string        `yaml:"endpoint"`
	TTL                 time.Duration `yaml:"ttl"`
	DownsampleThreshold int           `yaml:"downsample_threshold"`
	ValueField          string        `yaml:"value_field"`
	RequiredFields      []string      `yaml:"required_fields"`
}

// Config is the on-disk configuration file.
type Config struct {
	BaseURL string        `yaml:"base_url"`
	APIKey  string        `yaml:"api_key"`
	TTL     time.Duration `yaml:"ttl"`

	// RateLimit caps outbound requests per second; 0 disables limiting.
	RateLimit float64 `yaml:"rate_limit"`

	Feeds map[string]FeedConfig `yaml:"feeds"`
	Log   logger.Config         `yaml:"log"`
}

// Load reads and parses a YAML config file, filling defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if cfg.TTL == 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:" + DefaultPort
	}
	return cfg, nil
}
