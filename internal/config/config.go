package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// Config holds the configuration settings for the application.
type Config struct {
	Server   *ServerConfig  `yaml:"server"`
	LogLevel string         `yaml:"log_level"`
	Store    *StoreConfig   `yaml:"store"`
	Feed     *FeedConfig    `yaml:"feed"`
	Indexer  *IndexerConfig `yaml:"indexer"`
	Mempool  *MempoolConfig `yaml:"mempool"`
	Stats    *StatsConfig   `yaml:"stats"`
}

// ServerConfig holds the configuration settings for the HTTP server.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// StoreConfig holds the configuration settings for the index store.
type StoreConfig struct {
	Name   string `yaml:"name"`
	Dir    string `yaml:"dir"`
	DBType string `yaml:"db_type"`
}

// FeedConfig holds the configuration settings for the node feed.
type FeedConfig struct {
	URL          string        `yaml:"url"`
	PollInterval time.Duration `yaml:"poll_interval"`
	RequestsPS   int           `yaml:"requests_per_second"`
}

// IndexerConfig tunes the ingestion pipeline.
type IndexerConfig struct {
	EventBuf       int           `yaml:"event_buf"`       // feed event channel buffer
	RetryBudget    int           `yaml:"retry_budget"`    // apply attempts per block before a fatal ingestion error
	DependencyWait time.Duration `yaml:"dependency_wait"` // max time a block may sit on a missing parent
	PruneInterval  time.Duration `yaml:"prune_interval"`  // journal pruning cadence, 0 disables
}

// MempoolConfig tunes the mempool tracker.
type MempoolConfig struct {
	TTL           time.Duration `yaml:"ttl"`            // eviction age for transactions that never confirm
	SweepInterval time.Duration `yaml:"sweep_interval"` // eviction sweep cadence
}

// StatsConfig tunes network stats sampling.
type StatsConfig struct {
	SampleInterval time.Duration `yaml:"sample_interval"`
}

// LoadConfig reads and parses the configuration file.
func LoadConfig(configPath string) (*Config, error) {
	config := &Config{}

	file, err := os.Open(configPath)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	if err := decoder.Decode(config); err != nil {
		return nil, err
	}

	if err := config.validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *Config) validate() error {
	if c.Store == nil || c.Store.Dir == "" {
		return fmt.Errorf("store.dir is required")
	}
	if c.Feed == nil || c.Feed.URL == "" {
		return fmt.Errorf("feed.url is required")
	}
	if c.Indexer == nil {
		c.Indexer = &IndexerConfig{}
	}
	if c.Indexer.EventBuf <= 0 {
		c.Indexer.EventBuf = 256
	}
	if c.Indexer.RetryBudget <= 0 {
		c.Indexer.RetryBudget = 10
	}
	if c.Indexer.DependencyWait <= 0 {
		c.Indexer.DependencyWait = 2 * time.Minute
	}
	if c.Mempool == nil {
		c.Mempool = &MempoolConfig{}
	}
	if c.Mempool.TTL <= 0 {
		c.Mempool.TTL = 24 * time.Hour
	}
	if c.Mempool.SweepInterval <= 0 {
		c.Mempool.SweepInterval = time.Minute
	}
	if c.Stats == nil {
		c.Stats = &StatsConfig{}
	}
	if c.Stats.SampleInterval <= 0 {
		c.Stats.SampleInterval = time.Minute
	}
	return nil
}
