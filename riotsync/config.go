package riotsync

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/riotsync/riotsync/internal/feed"
)

// DefaultFeedURL is the public GreyNoise RIOT dataset.
const DefaultFeedURL = "https://viz.greynoise.io/riot"

// DefaultBatchSize is the batch size used by the riotsync binary. Library
// callers that leave Config.BatchSize at zero get pipeline's default instead.
const DefaultBatchSize = 500

// Config holds all riotsync configuration.
type Config struct {
	DBPath        string         `yaml:"db_path"`
	MetricsDBPath string         `yaml:"metrics_db_path"`
	Feed          feed.Config    `yaml:"feed"`
	BatchSize     int            `yaml:"batch_size"`
	Schedule      ScheduleConfig `yaml:"schedule"`
	HTTPAddr      string         `yaml:"http_addr"`
}

// ScheduleConfig controls periodic runs. A zero Interval disables the
// scheduler; runs then happen only on demand.
type ScheduleConfig struct {
	Interval time.Duration `yaml:"interval"`
}

// FeedConfig is the fetcher configuration embedded in Config.
type FeedConfig = feed.Config

func (c *Config) defaults() {
	if c.DBPath == "" {
		c.DBPath = "riot.db"
	}
	if c.Feed.URL == "" {
		c.Feed.URL = DefaultFeedURL
	}
	c.Feed.Defaults()
	if c.BatchSize < 0 {
		c.BatchSize = 0
	}
	if c.Schedule.Interval < 0 {
		c.Schedule.Interval = 0
	}
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() *Config {
	cfg := &Config{BatchSize: DefaultBatchSize}
	cfg.defaults()
	return cfg
}

// LoadConfigFile reads a YAML config file. Fields it leaves empty are filled
// with defaults.
func LoadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("riotsync: read config: %w", err)
	}
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("riotsync: parse config %s: %w", path, err)
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	cfg.defaults()
	return cfg, nil
}
