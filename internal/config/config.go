package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dshills/nodequeue/internal/dimension"
)

// Queue backends
const (
	BackendSQLite = "sqlite"
	BackendNATS   = "nats"
)

// Defaults
const (
	DefaultConfigPath        = "nodequeue.yaml"
	DefaultDatabase          = "nodequeue.db"
	DefaultBatchSize         = 500
	DefaultBatchQueue        = "nodequeue.batch"
	DefaultLiveQueue         = "nodequeue.live"
	DefaultPollInterval      = 500 * time.Millisecond
	DefaultVisibilityTimeout = 5 * time.Minute
	DefaultMaxReleases       = 3
	DefaultCompressThreshold = 4096
	DefaultPrimaryDimension  = "language"
	DefaultMetricsAddress    = ":9090"
)

// Config is the complete runtime configuration
type Config struct {
	Database              string           `yaml:"database"`
	BatchSize             int              `yaml:"batchSize"`
	Queue                 QueueConfig      `yaml:"queue"`
	LiveAsyncIndexing     bool             `yaml:"liveAsyncIndexing"`
	IndexAllWorkspaces    bool             `yaml:"indexAllWorkspaces"`
	FulltextRootNodeTypes []string         `yaml:"fulltextRootNodeTypes"`
	Dimensions            DimensionsConfig `yaml:"dimensions"`
	Logging               LoggingConfig    `yaml:"logging"`
	Metrics               MetricsConfig    `yaml:"metrics"`
}

// QueueConfig selects and tunes the job queue backend
type QueueConfig struct {
	Backend           string        `yaml:"backend"`
	NATSURL           string        `yaml:"natsURL"`
	PollInterval      time.Duration `yaml:"pollInterval"`
	VisibilityTimeout time.Duration `yaml:"visibilityTimeout"`
	MaxReleases       int           `yaml:"maxReleases"`
	CompressThreshold int           `yaml:"compressThreshold"`
	BatchName         string        `yaml:"batchName"`
	LiveName          string        `yaml:"liveName"`
}

// DimensionsConfig lists the content dimensions
type DimensionsConfig struct {
	Primary string           `yaml:"primary"`
	Axes    []dimension.Axis `yaml:"axes"`
}

// LoggingConfig mirrors logging.Config
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig enables the Prometheus endpoint
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

// Default returns the configuration used when no file is present
func Default() *Config {
	return &Config{
		Database:  DefaultDatabase,
		BatchSize: DefaultBatchSize,
		Queue: QueueConfig{
			Backend:           BackendSQLite,
			PollInterval:      DefaultPollInterval,
			VisibilityTimeout: DefaultVisibilityTimeout,
			MaxReleases:       DefaultMaxReleases,
			CompressThreshold: DefaultCompressThreshold,
			BatchName:         DefaultBatchQueue,
			LiveName:          DefaultLiveQueue,
		},
		IndexAllWorkspaces:    true,
		FulltextRootNodeTypes: []string{"Neos.Neos:Document"},
		Dimensions: DimensionsConfig{
			Primary: DefaultPrimaryDimension,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Address: DefaultMetricsAddress,
		},
	}
}

// Load reads the YAML file at path on top of the defaults, then applies
// environment overrides. A missing file is not an error unless required is set.
func Load(path string, required bool) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && !required:
		// defaults only
	default:
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv applies NODEQUEUE_* overrides
func (c *Config) applyEnv() error {
	if v := os.Getenv("NODEQUEUE_DB_PATH"); v != "" {
		c.Database = v
	}
	if v := os.Getenv("NODEQUEUE_QUEUE_BACKEND"); v != "" {
		c.Queue.Backend = strings.ToLower(v)
	}
	if v := os.Getenv("NODEQUEUE_NATS_URL"); v != "" {
		c.Queue.NATSURL = v
	}
	if v := os.Getenv("NODEQUEUE_BATCH_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid NODEQUEUE_BATCH_SIZE %q: %w", v, err)
		}
		c.BatchSize = n
	}
	if v := os.Getenv("NODEQUEUE_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("NODEQUEUE_LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
	return nil
}

// Validate rejects configurations the pipeline cannot run with
func (c *Config) Validate() error {
	if c.Database == "" {
		return fmt.Errorf("database path is required")
	}
	if c.BatchSize < 1 {
		return fmt.Errorf("batchSize must be at least 1, got %d", c.BatchSize)
	}
	switch c.Queue.Backend {
	case BackendSQLite:
	case BackendNATS:
		if c.Queue.NATSURL == "" {
			return fmt.Errorf("queue.natsURL is required for the nats backend")
		}
	default:
		return fmt.Errorf("unknown queue backend %q", c.Queue.Backend)
	}
	if c.Queue.BatchName == "" || c.Queue.LiveName == "" {
		return fmt.Errorf("queue.batchName and queue.liveName must not be empty")
	}
	if c.Queue.BatchName == c.Queue.LiveName {
		return fmt.Errorf("batch and live queue must differ, both are %q", c.Queue.BatchName)
	}
	if c.Queue.MaxReleases < 0 {
		return fmt.Errorf("queue.maxReleases must not be negative")
	}
	if c.Queue.PollInterval <= 0 {
		return fmt.Errorf("queue.pollInterval must be positive")
	}
	for _, axis := range c.Dimensions.Axes {
		if len(axis.Presets) == 0 {
			return fmt.Errorf("dimension axis %q has no presets", axis.Name)
		}
	}
	return nil
}
