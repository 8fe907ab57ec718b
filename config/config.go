package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/web3tea/graphmirror/graph"
)

type Config struct {
	AppName  string `json:"app_name" yaml:"app_name" toml:"app_name"`
	LogLevel string `json:"log_level" yaml:"log_level" toml:"log_level"`

	Source SourceConfig      `json:"source" yaml:"source" toml:"source"`
	Graph  graph.Neo4jConfig `json:"graph" yaml:"graph" toml:"graph"`
	Sync   SyncConfig        `json:"sync" yaml:"sync" toml:"sync"`
}

// SourceConfig locates the relational system of record.
type SourceConfig struct {
	Host     string `json:"host" yaml:"host" toml:"host"`
	Port     uint16 `json:"port" yaml:"port" toml:"port"`
	Username string `json:"username" yaml:"username" toml:"username"`
	Password string `json:"password" yaml:"password" toml:"password"`
	Database string `json:"database" yaml:"database" toml:"database"`
}

// DSN renders the source as a key/value conninfo string, omitting unset
// fields so libpq-style defaults still apply.
func (c SourceConfig) DSN() string {
	parts := make([]string, 0, 5)
	add := func(key, value string) {
		if strings.TrimSpace(value) != "" {
			parts = append(parts, key+"="+value)
		}
	}
	add("host", c.Host)
	if c.Port != 0 {
		add("port", fmt.Sprintf("%d", c.Port))
	}
	add("user", c.Username)
	add("password", c.Password)
	add("dbname", c.Database)
	return strings.Join(parts, " ")
}

type SyncConfig struct {
	// Tables lists the watched source tables. Entries may be
	// schema-qualified ("public.customers").
	Tables []string `json:"tables" yaml:"tables" toml:"tables"`

	QueueTable   string `json:"queue_table" yaml:"queue_table" toml:"queue_table"`
	BatchSize    int    `json:"batch_size" yaml:"batch_size" toml:"batch_size"`
	PollInterval string `json:"poll_interval" yaml:"poll_interval" toml:"poll_interval"`
	MaxRetries   int    `json:"max_retries" yaml:"max_retries" toml:"max_retries"`
}

// PollIntervalDuration parses the configured poll interval, falling back to
// the default on empty input.
func (c SyncConfig) PollIntervalDuration() (time.Duration, error) {
	if c.PollInterval == "" {
		return time.Second, nil
	}
	d, err := time.ParseDuration(c.PollInterval)
	if err != nil {
		return 0, fmt.Errorf("invalid poll_interval %q: %w", c.PollInterval, err)
	}
	return d, nil
}

var DefaultConfig = Config{
	AppName:  "graphmirror",
	LogLevel: "info",
	Sync: SyncConfig{
		BatchSize:    100,
		PollInterval: "1s",
		MaxRetries:   5,
	},
}

func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig

	switch {
	case strings.HasSuffix(path, ".json"):
		if err := json.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	case strings.HasSuffix(path, ".toml"):
		if _, err := toml.Decode(string(data), &config); err != nil {
			return nil, fmt.Errorf("failed to parse TOML config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file format: %s", path)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func (c *Config) Validate() error {
	if c.Source.Host == "" {
		return fmt.Errorf("source.host is required")
	}
	if c.Source.Database == "" {
		return fmt.Errorf("source.database is required")
	}
	if c.Graph.URI == "" {
		return fmt.Errorf("graph.uri is required")
	}
	if _, err := c.Sync.PollIntervalDuration(); err != nil {
		return err
	}
	return nil
}
